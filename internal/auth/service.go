// Package auth issues staff tokens and manages terminal operators.
package auth

import (
	"context"
	"errors"
	"strings"
	"time"

	"go-pos-ledger/internal/database"
	pkgerrors "go-pos-ledger/internal/errors"
	"go-pos-ledger/internal/models"
	"go-pos-ledger/internal/validation"

	"gorm.io/gorm"
)

type Credentials struct {
	Username string `json:"username" validate:"required,max=50"`
	Password string `json:"password" validate:"required,min=6,max=72"`
}

type RegisterInput struct {
	Credentials
	Role string `json:"role" validate:"omitempty,oneof=admin cashier"`
}

// Session is what a successful login returns.
type Session struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	UserID    uint      `json:"user_id"`
	Username  string    `json:"username"`
	Role      string    `json:"role"`
}

type Service struct {
	db     *database.Client
	tokens *TokenIssuer
}

func NewService(db *database.Client, tokens *TokenIssuer) *Service {
	return &Service{db: db, tokens: tokens}
}

// Register creates a user. Roles default to cashier.
func (s *Service) Register(ctx context.Context, in RegisterInput) (*models.User, error) {
	in.Username = strings.TrimSpace(in.Username)
	if err := validation.Struct(in); err != nil {
		return nil, err
	}
	if in.Role == "" {
		in.Role = models.RoleCashier
	}

	hashed, err := HashPassword(in.Password)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "hash password")
	}
	user := models.User{Username: in.Username, PasswordHash: hashed, Role: in.Role}
	if err := s.db.WithContext(ctx).Create(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, pkgerrors.Newf(pkgerrors.CodeConflict, "username %s is taken", in.Username)
		}
		return nil, database.Classify(err, "create user")
	}
	return &user, nil
}

// Authenticate checks credentials and issues a token. Unknown users and wrong
// passwords fail the same way.
func (s *Service) Authenticate(ctx context.Context, in Credentials) (*Session, error) {
	if err := validation.Struct(in); err != nil {
		return nil, err
	}

	var user models.User
	err := s.db.WithContext(ctx).Where("username = ?", strings.TrimSpace(in.Username)).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "invalid credentials")
	}
	if err != nil {
		return nil, database.Classify(err, "find user")
	}
	if !CheckPassword(user.PasswordHash, in.Password) {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "invalid credentials")
	}

	token, expiresAt, err := s.tokens.Generate(user.ID, user.Role)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "sign token")
	}
	return &Session{Token: token, ExpiresAt: expiresAt, UserID: user.ID, Username: user.Username, Role: user.Role}, nil
}
