package auth

import "errors"

var (
	ErrMissingToken = errors.New("missing session token")
	ErrUserNotFound = errors.New("user not found")
	ErrRoleChanged  = errors.New("token role no longer matches user")
)
