package middleware

import (
	"errors"
	"net/http"

	pkgerrors "go-pos-ledger/internal/errors"
	"go-pos-ledger/internal/logger"

	"github.com/gin-gonic/gin"
)

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// RespondError renders err as {"error": {code, message, details}} and aborts
// the chain. Messages of server-side failures are replaced by the public one.
func RespondError(c *gin.Context, logg *logger.Logger, err error) {
	if err == nil {
		err = errors.New("unknown error")
	}
	typed := pkgerrors.As(err)
	if typed == nil {
		typed = pkgerrors.Wrap(pkgerrors.CodeInternal, err, "unexpected error")
	}
	meta := pkgerrors.MetadataFor(typed.Code())

	msg := meta.PublicMessage
	if meta.HTTPStatus < http.StatusInternalServerError && typed.Message() != "" {
		msg = typed.Message()
	}
	payload := apiError{Code: string(typed.Code()), Message: msg}
	if meta.DetailsAllowed {
		payload.Details = typed.Details()
	}

	ctx := c.Request.Context()
	if meta.HTTPStatus >= http.StatusInternalServerError {
		logg.Error(ctx, "request failed", err)
	} else {
		logg.Debug(ctx, "request rejected: "+err.Error())
	}

	c.AbortWithStatusJSON(meta.HTTPStatus, gin.H{"error": payload})
}
