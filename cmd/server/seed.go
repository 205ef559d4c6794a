package main

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jredh-dev/goodwill/internal/database"
	"github.com/jredh-dev/goodwill/internal/token"
	"github.com/jredh-dev/goodwill/pkg/models"
)

var demoUsers = []models.User{
	{Email: "donor@demo.goodwill", Role: models.RoleDonor, FirstName: "Demo", LastName: "Donor"},
	{Email: "recipient@demo.goodwill", Role: models.RoleRecipient, FirstName: "Demo", LastName: "Recipient"},
	{Email: "admin@demo.goodwill", Role: models.RoleAdmin, FirstName: "Demo", LastName: "Admin"},
}

// seedDemoUsers ensures one user per role exists and logs a bearer token for
// each. Registration lives outside this service, so this is the only way to
// obtain a token in development.
func seedDemoUsers(ctx context.Context, db *database.DB, tokens *token.Service, ttl time.Duration, logger *zap.Logger) error {
	s := db.Store()
	for _, demo := range demoUsers {
		u, err := s.GetUserByEmail(ctx, demo.Email)
		if err != nil {
			return fmt.Errorf("look up %s: %w", demo.Email, err)
		}
		if u == nil {
			now := time.Now().UTC()
			created := demo
			created.ID = uuid.New().String()
			created.CreatedAt = now
			created.UpdatedAt = now
			if err := s.CreateUser(ctx, &created); err != nil {
				return fmt.Errorf("create %s: %w", demo.Email, err)
			}
			u = &created
			logger.Info("seeded demo user", zap.String("email", u.Email), zap.String("id", u.ID))
		}

		tok, err := tokens.Issue(models.ActorFromUser(u), ttl)
		if err != nil {
			return fmt.Errorf("issue token for %s: %w", demo.Email, err)
		}
		logger.Info("demo token",
			zap.String("email", u.Email),
			zap.String("role", string(u.Role)),
			zap.String("token", tok),
		)
	}
	return nil
}
