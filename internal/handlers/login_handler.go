package handlers

import (
	"net/http"

	"go-pos-ledger/internal/auth"

	"github.com/gin-gonic/gin"
)

// --- POST /login ---
func (h *Handlers) Login(c *gin.Context) {
	var input auth.Credentials
	// 1. Validate Input JSON
	if err := c.ShouldBindJSON(&input); err != nil {
		h.fail(c, bindError(err))
		return
	}

	// 2. Check the password and issue a token
	session, err := h.Auth.Authenticate(c.Request.Context(), input)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, session)
}

// --- POST /register (only mounted when registration is enabled) ---
func (h *Handlers) Register(c *gin.Context) {
	var input auth.RegisterInput
	if err := c.ShouldBindJSON(&input); err != nil {
		h.fail(c, bindError(err))
		return
	}
	user, err := h.Auth.Register(c.Request.Context(), input)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, user)
}

// --- DELETE /api/users/:id: sales and products keep their history ---
func (h *Handlers) RemoveUser(c *gin.Context) {
	id, err := idParam(c, "id")
	if err != nil {
		h.fail(c, err)
		return
	}
	if err := h.Store.RemoveUser(c.Request.Context(), id); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
