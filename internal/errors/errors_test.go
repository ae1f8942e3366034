package errors

import (
	stdErrors "errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetadataFor(t *testing.T) {
	cases := []struct {
		code   Code
		status int
	}{
		{CodeInvalidInput, http.StatusBadRequest},
		{CodeNotFound, http.StatusNotFound},
		{CodeInsufficientStock, http.StatusConflict},
		{CodeConflict, http.StatusConflict},
		{CodeStorageUnavailable, http.StatusServiceUnavailable},
		{Code("SOMETHING_ELSE"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.status, MetadataFor(tc.code).HTTPStatus, tc.code)
	}
	assert.True(t, MetadataFor(CodeConflict).Retryable)
	assert.False(t, MetadataFor(CodeStorageUnavailable).Retryable)
}

func TestAsFindsWrappedError(t *testing.T) {
	base := New(CodeNotFound, "product not found")
	wrapped := fmt.Errorf("lookup: %w", base)

	typed := As(wrapped)
	require.NotNil(t, typed)
	assert.Equal(t, CodeNotFound, typed.Code())
	assert.True(t, IsCode(wrapped, CodeNotFound))
	assert.Equal(t, CodeInternal, CodeOf(stdErrors.New("plain")))
	assert.Nil(t, As(nil))
}

func TestWrapKeepsCause(t *testing.T) {
	cause := stdErrors.New("connection refused")
	err := Wrap(CodeStorageUnavailable, cause, "load product")

	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "connection refused")
}

func TestInsufficientStockCarriesShortage(t *testing.T) {
	err := fmt.Errorf("settle: %w", InsufficientStock(5, 2))

	shortage, ok := ShortageOf(err)
	require.True(t, ok)
	assert.Equal(t, Shortage{Requested: 5, Available: 2}, shortage)

	_, ok = ShortageOf(New(CodeNotFound, "x"))
	assert.False(t, ok)
}
