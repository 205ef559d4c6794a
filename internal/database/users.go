package database

import (
	"context"
	"fmt"

	"github.com/jredh-dev/goodwill/pkg/models"
)

const userColumns = `id, email, role, first_name, last_name, organization_name, created_at, updated_at`

// CreateUser inserts a new user.
func (s *Store) CreateUser(ctx context.Context, u *models.User) error {
	const q = `INSERT INTO users (` + userColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := s.q.ExecContext(ctx, q,
		u.ID, u.Email, u.Role, u.FirstName, u.LastName, u.OrganizationName,
		u.CreatedAt, u.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("user %s: %w", u.Email, ErrDuplicate)
	}
	return err
}

// GetUser looks up a user by ID. Returns (nil, nil) if absent.
func (s *Store) GetUser(ctx context.Context, id string) (*models.User, error) {
	u := &models.User{}
	ok, err := s.get(ctx, u, `SELECT `+userColumns+` FROM users WHERE id = ?`, id)
	if !ok {
		return nil, err
	}
	return u, nil
}

// GetUserByEmail looks up a user by email. Returns (nil, nil) if absent.
func (s *Store) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	u := &models.User{}
	ok, err := s.get(ctx, u, `SELECT `+userColumns+` FROM users WHERE email = ?`, email)
	if !ok {
		return nil, err
	}
	return u, nil
}

// GetParty returns the public view of a user. Returns (nil, nil) if absent.
func (s *Store) GetParty(ctx context.Context, id string) (*models.Party, error) {
	p := &models.Party{}
	ok, err := s.get(ctx, p, `SELECT id, first_name, last_name, organization_name FROM users WHERE id = ?`, id)
	if !ok {
		return nil, err
	}
	return p, nil
}
