package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go-pos-ledger/internal/analytics"
	"go-pos-ledger/internal/config"
	pkgerrors "go-pos-ledger/internal/errors"
	"go-pos-ledger/internal/logger"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

const maxToolRounds = 5

// Reports is the read-only view of the ledger the advisor may consult.
type Reports interface {
	Today() time.Time
	ParseDate(raw string) (time.Time, error)
	DefaultWithinDays() int
	DefaultTopN() int
	DailyFinancials(ctx context.Context, date time.Time) (*analytics.Financials, error)
	PeriodFinancials(ctx context.Context, from, to time.Time) (*analytics.Period, error)
	TopProfitMakers(ctx context.Context, date time.Time, limit int) ([]analytics.ProfitMaker, error)
	LowStockProducts(ctx context.Context) ([]analytics.LowStock, error)
	NearExpiryBatches(ctx context.Context, withinDays int) ([]analytics.ExpiringBatch, error)
}

type chat interface {
	SendMessage(ctx context.Context, parts ...genai.Part) (*genai.GenerateContentResponse, error)
}

// startChat opens a session and returns it with its cleanup.
type startChat func(ctx context.Context) (chat, func(), error)

// Advisor answers free-form questions by letting Gemini call report tools.
// The tools only read; stock and prices are never changed from here.
type Advisor struct {
	reports Reports
	log     *logger.Logger
	timeout time.Duration
	start   startChat
}

func NewAdvisor(cfg config.GeminiConfig, reports Reports, log *logger.Logger) (*Advisor, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, ErrNoAPIKey
	}
	model := modelName(cfg)
	start := func(ctx context.Context) (chat, func(), error) {
		client, err := genai.NewClient(ctx, option.WithAPIKey(cfg.APIKey))
		if err != nil {
			return nil, nil, err
		}
		m := client.GenerativeModel(model)
		m.Tools = []*genai.Tool{{FunctionDeclarations: toolDeclarations}}
		return m.StartChat(), func() { _ = client.Close() }, nil
	}
	return &Advisor{reports: reports, log: log, timeout: timeout(cfg), start: start}, nil
}

var toolDeclarations = []*genai.FunctionDeclaration{
	{
		Name:        "get_daily_financials",
		Description: "Revenue, cost of goods sold, profit and sale count for one day.",
		Parameters: &genai.Schema{
			Type: genai.TypeObject,
			Properties: map[string]*genai.Schema{
				"date": {Type: genai.TypeString, Description: "Day (YYYY-MM-DD), empty for today"},
			},
		},
	},
	{
		Name:        "get_sales_report",
		Description: "Revenue, cost of goods sold, profit and sale count for a date range.",
		Parameters: &genai.Schema{
			Type: genai.TypeObject,
			Properties: map[string]*genai.Schema{
				"start_date": {Type: genai.TypeString, Description: "Start date (YYYY-MM-DD)"},
				"end_date":   {Type: genai.TypeString, Description: "End date (YYYY-MM-DD)"},
			},
			Required: []string{"start_date", "end_date"},
		},
	},
	{
		Name:        "get_top_profit_makers",
		Description: "Products ranked by the profit they made on one day.",
		Parameters: &genai.Schema{
			Type: genai.TypeObject,
			Properties: map[string]*genai.Schema{
				"date":  {Type: genai.TypeString, Description: "Day (YYYY-MM-DD), empty for today"},
				"limit": {Type: genai.TypeInteger, Description: "How many products to return"},
			},
		},
	},
	{
		Name:        "get_low_stock",
		Description: "Products whose total stock is below their reorder level.",
	},
	{
		Name:        "get_near_expiry",
		Description: "Batches with stock left that expire within the given number of days, expired ones included.",
		Parameters: &genai.Schema{
			Type: genai.TypeObject,
			Properties: map[string]*genai.Schema{
				"days": {Type: genai.TypeInteger, Description: "Window in days"},
			},
		},
	},
}

// Ask runs the tool loop until the model answers in text.
func (a *Advisor) Ask(ctx context.Context, question string) (string, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return "", pkgerrors.New(pkgerrors.CodeInvalidInput, "message is required")
	}

	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	session, closeFn, err := a.start(ctx)
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeDependency, err, "connect to gemini")
	}
	defer closeFn()

	resp, err := session.SendMessage(ctx, genai.Text(a.systemPrompt(question)))
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeDependency, err, "ask gemini")
	}

	for round := 0; round < maxToolRounds; round++ {
		calls := functionCalls(resp)
		if len(calls) == 0 {
			if text := responseText(resp); text != "" {
				return text, nil
			}
			return "", pkgerrors.New(pkgerrors.CodeDependency, "gemini returned an empty answer")
		}

		replies := make([]genai.Part, 0, len(calls))
		for _, call := range calls {
			replies = append(replies, a.runTool(ctx, call))
		}
		resp, err = session.SendMessage(ctx, replies...)
		if err != nil {
			return "", pkgerrors.Wrap(pkgerrors.CodeDependency, err, "send tool results")
		}
	}
	return "", pkgerrors.Newf(pkgerrors.CodeDependency, "advisor gave up after %d tool rounds", maxToolRounds)
}

func (a *Advisor) systemPrompt(question string) string {
	return fmt.Sprintf(`SYSTEM: Today is %s. You are the shop's inventory and sales advisor.

RULES:
1. Never guess figures. Call a tool to read revenue, profit, stock or expiry data.
2. For money questions about a single day use 'get_daily_financials'; for a range use 'get_sales_report'.
3. For reordering use 'get_low_stock'; for waste use 'get_near_expiry'.
4. You cannot change prices or stock. Recommend actions instead.

USER: %s`, a.reports.Today().Format("2006-01-02"), question)
}

// runTool executes one call. Failures go back to the model as an error field
// so it can correct its arguments.
func (a *Advisor) runTool(ctx context.Context, call genai.FunctionCall) genai.FunctionResponse {
	result, err := a.dispatch(ctx, call)
	if err != nil {
		a.log.Warn(a.log.WithField(ctx, "tool", call.Name), "advisor tool failed", err)
		return genai.FunctionResponse{Name: call.Name, Response: map[string]any{"error": err.Error()}}
	}
	payload, err := json.Marshal(result)
	if err != nil {
		return genai.FunctionResponse{Name: call.Name, Response: map[string]any{"error": err.Error()}}
	}
	return genai.FunctionResponse{Name: call.Name, Response: map[string]any{"result": string(payload)}}
}

func (a *Advisor) dispatch(ctx context.Context, call genai.FunctionCall) (any, error) {
	switch call.Name {
	case "get_daily_financials":
		date, err := a.reports.ParseDate(stringArg(call.Args, "date"))
		if err != nil {
			return nil, err
		}
		return a.reports.DailyFinancials(ctx, date)
	case "get_sales_report":
		from, err := a.reports.ParseDate(stringArg(call.Args, "start_date"))
		if err != nil {
			return nil, err
		}
		to, err := a.reports.ParseDate(stringArg(call.Args, "end_date"))
		if err != nil {
			return nil, err
		}
		return a.reports.PeriodFinancials(ctx, from, to)
	case "get_top_profit_makers":
		date, err := a.reports.ParseDate(stringArg(call.Args, "date"))
		if err != nil {
			return nil, err
		}
		return a.reports.TopProfitMakers(ctx, date, intArg(call.Args, "limit", a.reports.DefaultTopN()))
	case "get_low_stock":
		return a.reports.LowStockProducts(ctx)
	case "get_near_expiry":
		return a.reports.NearExpiryBatches(ctx, intArg(call.Args, "days", a.reports.DefaultWithinDays()))
	default:
		return nil, fmt.Errorf("unknown tool %q", call.Name)
	}
}

func stringArg(args map[string]any, key string) string {
	s, _ := args[key].(string)
	return s
}

// intArg reads a JSON number argument; Gemini sends integers as float64.
func intArg(args map[string]any, key string, fallback int) int {
	switch v := args[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	default:
		return fallback
	}
}
