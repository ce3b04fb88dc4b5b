package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Roles known to the platform.
const (
	RolePatient  = "patient"
	RoleDoctor   = "doctor"
	RolePharmacy = "pharmacy"
	RoleAdmin    = "admin"
)

// ErrInvalidToken is returned for any token that fails verification.
var ErrInvalidToken = errors.New("invalid token")

type Claims struct {
	jwt.RegisteredClaims
	Name  string   `json:"name,omitempty"`
	Role  string   `json:"role,omitempty"`
	Roles []string `json:"roles,omitempty"`
}

// AllRoles merges Role and Roles.
func (c *Claims) AllRoles() []string {
	if c.Role == "" {
		return c.Roles
	}
	for _, r := range c.Roles {
		if r == c.Role {
			return c.Roles
		}
	}
	return append([]string{c.Role}, c.Roles...)
}

// PrimaryRole returns Role, falling back to the first of Roles.
func (c *Claims) PrimaryRole() string {
	if c.Role != "" {
		return c.Role
	}
	if len(c.Roles) > 0 {
		return c.Roles[0]
	}
	return ""
}

type JWTConfig struct {
	Issuer   string
	Audience string
	// SigningKey is the shared HS256 secret tokens are signed with.
	SigningKey []byte
}

// TokenVerifier validates bearer tokens for both REST requests and the socket
// authenticate event.
type TokenVerifier struct {
	cfg JWTConfig
}

func NewTokenVerifier(cfg JWTConfig) *TokenVerifier {
	return &TokenVerifier{cfg: cfg}
}

// Verify parses tokenStr and returns its claims. Tokens without a subject are
// rejected.
func (v *TokenVerifier) Verify(tokenStr string) (*Claims, error) {
	if len(v.cfg.SigningKey) == 0 {
		return nil, fmt.Errorf("%w: no signing key configured", ErrInvalidToken)
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{"HS256"}),
	}
	if v.cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.cfg.Issuer))
	}
	if v.cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(v.cfg.Audience))
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(*jwt.Token) (interface{}, error) {
		return v.cfg.SigningKey, nil
	}, opts...)
	if err != nil || !token.Valid {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}
	return claims, nil
}

// Issue mints a token for userID. Used by the token CLI command and tests.
func (v *TokenVerifier) Issue(userID, role string, ttl time.Duration) (string, error) {
	if len(v.cfg.SigningKey) == 0 {
		return "", errors.New("no signing key configured")
	}
	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    v.cfg.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Role: role,
	}
	if v.cfg.Audience != "" {
		claims.Audience = jwt.ClaimStrings{v.cfg.Audience}
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.cfg.SigningKey)
}
