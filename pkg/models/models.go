package models

import (
	"fmt"
	"time"
)

// Role is the account type of a user. The set is closed: ParseRole rejects
// anything outside it.
type Role string

const (
	RoleDonor     Role = "DONOR"
	RoleRecipient Role = "RECIPIENT"
	RoleAdmin     Role = "ADMIN"
)

// ParseRole converts a raw string into a Role.
func ParseRole(s string) (Role, error) {
	switch r := Role(s); r {
	case RoleDonor, RoleRecipient, RoleAdmin:
		return r, nil
	default:
		return "", fmt.Errorf("unknown role %q", s)
	}
}

// User is a registered account. Registration itself happens elsewhere; this
// service only reads users to resolve actors and display names.
type User struct {
	ID               string    `db:"id" json:"id"`
	Email            string    `db:"email" json:"email"`
	Role             Role      `db:"role" json:"role"`
	FirstName        string    `db:"first_name" json:"firstName"`
	LastName         string    `db:"last_name" json:"lastName"`
	OrganizationName *string   `db:"organization_name" json:"organizationName,omitempty"`
	CreatedAt        time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt        time.Time `db:"updated_at" json:"updatedAt"`
}

// Actor is an already-authenticated caller. Every lifecycle operation takes
// one explicitly; nothing downstream of the auth guard reads identity from a
// request.
type Actor struct {
	ID        string `json:"id"`
	Role      Role   `json:"role"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
}

// FullName returns "First Last".
func (a Actor) FullName() string {
	return a.FirstName + " " + a.LastName
}

// IsAdmin reports whether the actor holds the admin role.
func (a Actor) IsAdmin() bool {
	return a.Role == RoleAdmin
}

// ActorFromUser builds the actor record for a stored user.
func ActorFromUser(u *User) Actor {
	return Actor{ID: u.ID, Role: u.Role, FirstName: u.FirstName, LastName: u.LastName}
}
