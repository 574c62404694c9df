package identity

import (
	"context"
	"fmt"
	"strings"
	"time"

	"ms-settlement/internal/apperr"
	"ms-settlement/internal/database"
	"ms-settlement/internal/models"
	"ms-settlement/internal/utils"

	"github.com/uptrace/bun"
)

type Store struct {
	Bun bun.IDB
}

func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// ResolveOrProvision returns the user registered under email, creating a
// guest account when none exists. Concurrent callers converge on one row.
func (s *Store) ResolveOrProvision(ctx context.Context, email string) (*models.User, error) {
	email = NormalizeEmail(email)
	if email == "" || !strings.Contains(email, "@") {
		return nil, apperr.Validation("a valid email is required")
	}

	user := &models.User{
		ID:        utils.NewID(),
		Email:     email,
		Guest:     true,
		CreatedAt: time.Now().UTC(),
	}
	_, err := s.Bun.NewInsert().Model(user).Exec(ctx)
	if err == nil {
		return user, nil
	}
	if !database.IsUniqueViolation(err) {
		return nil, fmt.Errorf("provision user %s: %w", email, err)
	}
	return s.ByEmail(ctx, email)
}

func (s *Store) ByEmail(ctx context.Context, email string) (*models.User, error) {
	var user models.User
	err := s.Bun.NewSelect().Model(&user).Where("email = ?", NormalizeEmail(email)).Limit(1).Scan(ctx)
	if database.IsNoRows(err) {
		return nil, apperr.NotFound("user_not_found", "user not found")
	}
	if err != nil {
		return nil, fmt.Errorf("get user by email: %w", err)
	}
	return &user, nil
}
