// Package auth authenticates operators for payroute's admin surface.
//
// Authentication model:
//   - Routing and read-only processor endpoints: no auth required
//   - Operator actions (freeze, restore, maintenance, audit export):
//     HS256 bearer token signed with ADMIN_JWT_SECRET
//   - Tokens are minted offline with `payroutectl token`
package auth

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Errors
var (
	ErrNoToken      = errors.New("operator token required")
	ErrInvalidToken = errors.New("invalid or expired operator token")
	ErrNoSecret     = errors.New("signing secret is not configured")
)

const (
	issuer     = "payroute"
	audience   = "payroute-admin"
	DefaultTTL = 12 * time.Hour
)

// Claims identify an authenticated operator.
type Claims struct {
	Operator  string    `json:"operator"`
	ExpiresAt time.Time `json:"expiresAt"`
}

type operatorClaims struct {
	jwt.RegisteredClaims
}

// Manager issues and verifies operator tokens. A Manager with an empty
// secret is open: every request is treated as the "dev" operator.
type Manager struct {
	secret []byte
	now    func() time.Time
}

// NewManager creates a manager for the given HMAC secret.
func NewManager(secret string) *Manager {
	return &Manager{secret: []byte(secret), now: time.Now}
}

// Open reports whether the manager skips verification.
func (m *Manager) Open() bool {
	return len(m.secret) == 0
}

// IssueToken signs a token for operator valid for ttl.
func (m *Manager) IssueToken(operator string, ttl time.Duration) (string, error) {
	if m.Open() {
		return "", ErrNoSecret
	}
	operator = strings.TrimSpace(operator)
	if operator == "" {
		return "", errors.New("operator name is required")
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	now := m.now()
	claims := operatorClaims{jwt.RegisteredClaims{
		Subject:   operator,
		Issuer:    issuer,
		Audience:  jwt.ClaimStrings{audience},
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
}

// Authenticate verifies a raw token (with or without the Bearer prefix).
func (m *Manager) Authenticate(raw string) (Claims, error) {
	raw = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(raw), "Bearer "))
	if raw == "" {
		return Claims{}, ErrNoToken
	}
	if m.Open() {
		return Claims{}, ErrNoSecret
	}

	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithAudience(audience),
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(m.now),
	)
	claims := &operatorClaims{}
	_, err := parser.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return m.secret, nil
	})
	if err != nil || claims.Subject == "" {
		return Claims{}, ErrInvalidToken
	}

	return Claims{
		Operator:  claims.Subject,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}
