package ai

import (
	"context"
	"errors"
	"strings"
	"time"

	"go-pos-ledger/internal/config"
	pkgerrors "go-pos-ledger/internal/errors"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

var ErrNoAPIKey = errors.New("gemini api key is not configured")

// GeminiSummarizer asks Gemini for a one-shot summary.
type GeminiSummarizer struct {
	apiKey  string
	model   string
	timeout time.Duration
}

func NewGeminiSummarizer(cfg config.GeminiConfig) (*GeminiSummarizer, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, ErrNoAPIKey
	}
	return &GeminiSummarizer{apiKey: cfg.APIKey, model: modelName(cfg), timeout: timeout(cfg)}, nil
}

func (g *GeminiSummarizer) Summarize(ctx context.Context, facts Facts) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	client, err := genai.NewClient(ctx, option.WithAPIKey(g.apiKey))
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeDependency, err, "connect to gemini")
	}
	defer client.Close()

	resp, err := client.GenerativeModel(g.model).GenerateContent(ctx, genai.Text(BuildPrompt(facts)))
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeDependency, err, "generate summary")
	}
	text := responseText(resp)
	if text == "" {
		return "", pkgerrors.New(pkgerrors.CodeDependency, "gemini returned an empty summary")
	}
	return text, nil
}

func modelName(cfg config.GeminiConfig) string {
	if cfg.Model == "" {
		return "gemini-2.0-flash-001"
	}
	return cfg.Model
}

func timeout(cfg config.GeminiConfig) time.Duration {
	if cfg.Timeout <= 0 {
		return 20 * time.Second
	}
	return cfg.Timeout
}

// responseText joins the text parts of the first candidate.
func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var parts []string
	for _, part := range resp.Candidates[0].Content.Parts {
		if txt, ok := part.(genai.Text); ok {
			parts = append(parts, string(txt))
		}
	}
	return strings.TrimSpace(strings.Join(parts, ""))
}

func functionCalls(resp *genai.GenerateContentResponse) []genai.FunctionCall {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return nil
	}
	var calls []genai.FunctionCall
	for _, part := range resp.Candidates[0].Content.Parts {
		switch call := part.(type) {
		case genai.FunctionCall:
			calls = append(calls, call)
		case *genai.FunctionCall:
			if call != nil {
				calls = append(calls, *call)
			}
		}
	}
	return calls
}
