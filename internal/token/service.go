package token

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v4"

	"github.com/jredh-dev/goodwill/pkg/models"
)

// ErrInvalid is returned for any token that fails parsing, signature or
// expiry checks.
var ErrInvalid = errors.New("invalid token")

// Service signs and verifies HS256 bearer tokens.
type Service struct {
	signingKey []byte
	issuer     string
	now        func() time.Time
}

// Claims carries the actor a token was issued to.
type Claims struct {
	UserID    string      `json:"uid"`
	Role      models.Role `json:"role"`
	FirstName string      `json:"given_name,omitempty"`
	LastName  string      `json:"family_name,omitempty"`
	jwt.RegisteredClaims
}

// Actor returns the identity recorded in the claims.
func (c *Claims) Actor() models.Actor {
	return models.Actor{ID: c.UserID, Role: c.Role, FirstName: c.FirstName, LastName: c.LastName}
}

// New creates a new token service
func New(signingKey string, issuer string) *Service {
	return &Service{
		signingKey: []byte(signingKey),
		issuer:     issuer,
		now:        time.Now,
	}
}

// GenerateSigningKey generates a secure random signing key
func GenerateSigningKey() (string, error) {
	bytes := make([]byte, 32)
	if _, err := rand.Read(bytes); err != nil {
		return "", fmt.Errorf("failed to generate signing key: %w", err)
	}
	return hex.EncodeToString(bytes), nil
}

// Issue creates a token for an actor that expires after ttl.
func (s *Service) Issue(actor models.Actor, ttl time.Duration) (string, error) {
	now := s.now()
	claims := Claims{
		UserID:    actor.ID,
		Role:      actor.Role,
		FirstName: actor.FirstName,
		LastName:  actor.LastName,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   actor.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.signingKey)
}

// Verify validates a token and returns its claims. Every failure wraps
// ErrInvalid.
func (s *Service) Verify(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.signingKey, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalid
	}
	if s.issuer != "" && !claims.VerifyIssuer(s.issuer, true) {
		return nil, fmt.Errorf("%w: issuer %q", ErrInvalid, claims.Issuer)
	}
	if claims.UserID == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrInvalid)
	}
	if _, err := models.ParseRole(string(claims.Role)); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return claims, nil
}
