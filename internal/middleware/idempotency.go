package middleware

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go-pos-ledger/internal/cache"
	pkgerrors "go-pos-ledger/internal/errors"
	"go-pos-ledger/internal/logger"

	"github.com/gin-gonic/gin"
)

const HeaderIdempotencyKey = "Idempotency-Key"

const (
	recordPending  = "pending"
	recordComplete = "complete"
)

type idempotencyRecord struct {
	State       string            `json:"state"`
	Status      int               `json:"status,omitempty"`
	Body        string            `json:"body,omitempty"`
	Headers     map[string]string `json:"headers,omitempty"`
	RequestHash string            `json:"request_hash"`
}

// Idempotency replays the stored response when a request repeats an
// Idempotency-Key. The header is optional; without it, or without a store,
// the request runs normally. The key is claimed before the handler runs, so a
// repeat that arrives while the first request is in flight gets CONFLICT
// instead of running twice. Only 2xx responses are kept; any other outcome
// releases the key so a failed attempt can be retried with it.
func Idempotency(store cache.IdempotencyStore, ttl time.Duration, logg *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		idempotencyKey := strings.TrimSpace(c.GetHeader(HeaderIdempotencyKey))
		if store == nil || idempotencyKey == "" {
			c.Next()
			return
		}

		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			RespondError(c, logg, pkgerrors.Wrap(pkgerrors.CodeInvalidInput, err, "read request"))
			return
		}
		c.Request.Body = io.NopCloser(bytes.NewReader(body))

		ctx := c.Request.Context()
		requestHash := hashBody(body)
		key := store.IdempotencyKey(buildScope(c), idempotencyKey)

		// 1. Claim the key
		pending, err := json.Marshal(idempotencyRecord{State: recordPending, RequestHash: requestHash})
		if err != nil {
			RespondError(c, logg, err)
			return
		}
		claimed, err := store.SetNX(ctx, key, string(pending), ttl)
		if err != nil {
			RespondError(c, logg, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "claim idempotency key"))
			return
		}

		// 2. Someone holds it: replay, reject or ask to retry
		if !claimed {
			respondExisting(c, store, key, requestHash, logg)
			return
		}

		// 3. Run the handler, releasing the key if it panics
		// Cleanup must outlive a client that hung up.
		storeCtx := context.WithoutCancel(ctx)
		finished := false
		defer func() {
			if !finished {
				if err := store.Del(storeCtx, key); err != nil {
					logg.Error(storeCtx, "release idempotency key", err)
				}
			}
		}()

		rec := &responseCapture{ResponseWriter: c.Writer}
		c.Writer = rec
		c.Next()
		finished = true

		// 4. Keep successes, release everything else
		status := rec.Status()
		if status < 200 || status >= 300 {
			if err := store.Del(storeCtx, key); err != nil {
				logg.Error(storeCtx, "release idempotency key", err)
			}
			return
		}
		record := idempotencyRecord{
			State:       recordComplete,
			Status:      status,
			Body:        base64.StdEncoding.EncodeToString(rec.body.Bytes()),
			RequestHash: requestHash,
		}
		if ct := rec.Header().Get("Content-Type"); ct != "" {
			record.Headers = map[string]string{"Content-Type": ct}
		}
		payload, err := json.Marshal(record)
		if err != nil {
			logg.Error(storeCtx, "marshal idempotency record", err)
			return
		}
		if err := store.Set(storeCtx, key, string(payload), ttl); err != nil {
			logg.Error(storeCtx, "persist idempotency record", err)
		}
	}
}

func respondExisting(c *gin.Context, store cache.IdempotencyStore, key, requestHash string, logg *logger.Logger) {
	stored, err := store.Get(c.Request.Context(), key)
	if cache.IsMiss(err) {
		// released between the claim and the read
		RespondError(c, logg, pkgerrors.New(pkgerrors.CodeConflict, "request with this idempotency key is being retried, try again"))
		return
	}
	if err != nil {
		RespondError(c, logg, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check idempotency"))
		return
	}

	var record idempotencyRecord
	if err := json.Unmarshal([]byte(stored), &record); err != nil {
		RespondError(c, logg, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode idempotency record"))
		return
	}
	switch {
	case record.RequestHash != requestHash:
		RespondError(c, logg, pkgerrors.New(pkgerrors.CodeIdempotency, "idempotency key reused with a different request body"))
	case record.State != recordComplete:
		RespondError(c, logg, pkgerrors.New(pkgerrors.CodeConflict, "request with this idempotency key is still in progress"))
	default:
		writeStoredResponse(c, &record)
	}
}

func buildScope(c *gin.Context) string {
	user := "anonymous"
	if id, ok := UserID(c); ok {
		user = fmt.Sprint(id)
	}
	return strings.Join([]string{user, c.Request.Method, c.Request.URL.Path}, "|")
}

func writeStoredResponse(c *gin.Context, record *idempotencyRecord) {
	contentType := record.Headers["Content-Type"]
	if contentType == "" {
		contentType = "application/json; charset=utf-8"
	}
	decoded, err := base64.StdEncoding.DecodeString(record.Body)
	if err != nil {
		decoded = nil
	}
	c.Header("Idempotent-Replay", "true")
	c.Data(record.Status, contentType, decoded)
	c.Abort()
}

func hashBody(payload []byte) string {
	sum := sha256.Sum256(payload)
	return base64.StdEncoding.EncodeToString(sum[:])
}

type responseCapture struct {
	gin.ResponseWriter
	body bytes.Buffer
}

func (r *responseCapture) Write(b []byte) (int, error) {
	r.body.Write(b)
	return r.ResponseWriter.Write(b)
}

func (r *responseCapture) WriteString(s string) (int, error) {
	r.body.WriteString(s)
	return r.ResponseWriter.WriteString(s)
}

var _ http.ResponseWriter = (*responseCapture)(nil)
