package auth

import (
	"context"
	"fmt"
	"slices"

	"github.com/jredh-dev/goodwill/internal/database"
	"github.com/jredh-dev/goodwill/internal/lifecycle"
	"github.com/jredh-dev/goodwill/internal/token"
	"github.com/jredh-dev/goodwill/pkg/models"
)

// Guard resolves callers from session tokens and gates them by role. It is
// the only place identity is derived; everything downstream takes an Actor.
type Guard struct {
	tokens *token.Service
	db     *database.DB
}

// NewGuard creates a new guard.
func NewGuard(tokens *token.Service, db *database.DB) *Guard {
	return &Guard{tokens: tokens, db: db}
}

// Resolve verifies a raw session token and returns the actor it names. The
// user must still exist and hold the role the token was issued for. Any
// failure is Unauthenticated; lookups that fail for storage reasons surface
// as StorageError instead so the caller can retry.
func (g *Guard) Resolve(ctx context.Context, raw string) (models.Actor, error) {
	if raw == "" {
		return models.Actor{}, lifecycle.Unauthenticated(ErrMissingToken)
	}

	claims, err := g.tokens.Verify(raw)
	if err != nil {
		return models.Actor{}, lifecycle.Unauthenticated(err)
	}

	user, err := g.db.Store().GetUser(ctx, claims.UserID)
	if err != nil {
		return models.Actor{}, &lifecycle.Error{
			Kind:      lifecycle.KindStorage,
			Message:   "resolve user",
			Retryable: database.IsRetryable(err),
			Err:       err,
		}
	}
	if user == nil {
		return models.Actor{}, lifecycle.Unauthenticated(fmt.Errorf("%w: %s", ErrUserNotFound, claims.UserID))
	}
	if user.Role != claims.Role {
		return models.Actor{}, lifecycle.Unauthenticated(ErrRoleChanged)
	}

	return models.ActorFromUser(user), nil
}

// Require fails with Forbidden unless the actor's role is one of roles.
func (g *Guard) Require(actor models.Actor, roles ...models.Role) error {
	return RequireRole(actor, roles...)
}

// RequireRole is Require without a guard, for callers that already hold a
// resolved actor.
func RequireRole(actor models.Actor, roles ...models.Role) error {
	if slices.Contains(roles, actor.Role) {
		return nil
	}
	return lifecycle.Forbidden("role %s may not perform this action", actor.Role)
}
