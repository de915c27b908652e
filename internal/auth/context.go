package auth

import (
	"context"

	"github.com/chartflow/chartflow/pkg/models"
)

type contextKey struct{}

// WithUser attaches an authenticated user to a request context.
func WithUser(ctx context.Context, user *models.User) context.Context {
	return context.WithValue(ctx, contextKey{}, user)
}

// UserFromContext returns the authenticated user, if any.
func UserFromContext(ctx context.Context) (*models.User, bool) {
	user, ok := ctx.Value(contextKey{}).(*models.User)
	return user, ok && user != nil
}
