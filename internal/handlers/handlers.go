// Package handlers exposes the ledger over JSON HTTP with gin.
package handlers

import (
	"errors"
	"io"
	"strconv"
	"strings"

	"go-pos-ledger/internal/ai"
	"go-pos-ledger/internal/alerts"
	"go-pos-ledger/internal/analytics"
	"go-pos-ledger/internal/auth"
	"go-pos-ledger/internal/database"
	pkgerrors "go-pos-ledger/internal/errors"
	"go-pos-ledger/internal/ledger"
	"go-pos-ledger/internal/logger"
	"go-pos-ledger/internal/middleware"
	"go-pos-ledger/internal/purchasing"
	"go-pos-ledger/internal/settlement"

	"github.com/gin-gonic/gin"
)

// Handlers holds every service the routes call into.
type Handlers struct {
	DB         *database.Client
	Store      *ledger.Store
	Engine     *settlement.Engine
	Analytics  *analytics.Aggregator
	Alerts     *alerts.Service
	Purchasing *purchasing.Service
	Auth       *auth.Service
	Summarizer ai.Summarizer
	Advisor    *ai.Advisor
	Log        *logger.Logger
	Pingers    map[string]Pinger
}

func (h *Handlers) fail(c *gin.Context, err error) {
	middleware.RespondError(c, h.Log, err)
}

// bindError turns a ShouldBindJSON failure into INVALID_INPUT. The router
// switches gin's decoder to strict mode, so unknown fields land here too.
func bindError(err error) error {
	if errors.Is(err, io.EOF) {
		return pkgerrors.New(pkgerrors.CodeInvalidInput, "request body is required")
	}
	return pkgerrors.Wrap(pkgerrors.CodeInvalidInput, err, "invalid JSON body: "+err.Error())
}

func idParam(c *gin.Context, name string) (uint, error) {
	raw := c.Param(name)
	id, err := strconv.ParseUint(raw, 10, 0)
	if err != nil || id == 0 {
		return 0, pkgerrors.Newf(pkgerrors.CodeInvalidInput, "invalid %s %q", name, raw)
	}
	return uint(id), nil
}

func intQuery(c *gin.Context, name string, fallback int) (int, error) {
	raw := strings.TrimSpace(c.Query(name))
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, pkgerrors.Newf(pkgerrors.CodeInvalidInput, "%s must be a whole number", name)
	}
	return v, nil
}

func operator(c *gin.Context) *uint {
	if id, ok := middleware.UserID(c); ok {
		return &id
	}
	return nil
}
