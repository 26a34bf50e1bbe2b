package auth

import (
	"errors"
	"strings"
	"time"

	"racing-admin/internal/config"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var (
	ErrMissingBearer = errors.New("auth: missing bearer token")
	ErrSubjectEmpty  = errors.New("auth: subject missing")
)

const bearerPrefix = "Bearer "

type Manager struct {
	secret    []byte
	issuer    string
	audience  string
	accessTTL time.Duration

	// Now is used when verifying outside a request-scoped clock.
	Now func() time.Time
}

func NewManager(cfg config.AuthConfig) (*Manager, error) {
	if cfg.JWTSecret == "" {
		return nil, errors.New("JWT_SECRET is required")
	}
	ttl := cfg.AccessTokenTTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}

	return &Manager{
		secret:    []byte(cfg.JWTSecret),
		issuer:    cfg.JWTIssuer,
		audience:  cfg.JWTAudience,
		accessTTL: ttl,
		Now:       time.Now,
	}, nil
}

/* ===================== ISSUE TOKENS ===================== */

// Issue signs an access token for email with the given role claim.
func (m *Manager) Issue(now time.Time, email, role string) (string, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return "", ErrSubjectEmpty
	}
	if role == "" {
		role = "USER"
	}

	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   email,
			Issuer:    m.issuer,
			Audience:  audienceOrNil(m.audience),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.accessTTL)),
			ID:        uuid.NewString(),
		},
		Role: role,
	}

	t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return t.SignedString(m.secret)
}

/* ===================== VERIFY TOKEN ===================== */

func (m *Manager) Verify(tokenString string, now time.Time) (Claims, error) {
	var claims Claims

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(func() time.Time { return now }),
		jwt.WithLeeway(30 * time.Second), // clock skew tolerance
		jwt.WithIssuedAt(),
		jwt.WithExpirationRequired(),
	}
	if m.issuer != "" {
		opts = append(opts, jwt.WithIssuer(m.issuer))
	}
	if m.audience != "" {
		opts = append(opts, jwt.WithAudience(m.audience))
	}

	_, err := jwt.NewParser(opts...).ParseWithClaims(tokenString, &claims, func(token *jwt.Token) (any, error) {
		return m.secret, nil
	})
	if err != nil {
		return Claims{}, err
	}

	if strings.TrimSpace(claims.Subject) == "" {
		return Claims{}, ErrSubjectEmpty
	}
	return claims, nil
}

// VerifySubject returns the subject and role claim of a valid token.
// It satisfies audit.TokenVerifier.
func (m *Manager) VerifySubject(tokenString string) (string, string, error) {
	claims, err := m.Verify(tokenString, m.Now())
	if err != nil {
		return "", "", err
	}
	return claims.Subject, claims.Role, nil
}

// BearerToken extracts the credential from an Authorization header value.
func BearerToken(header string) (string, error) {
	raw := strings.TrimSpace(header)
	if !strings.HasPrefix(raw, bearerPrefix) {
		return "", ErrMissingBearer
	}
	tok := strings.TrimSpace(strings.TrimPrefix(raw, bearerPrefix))
	if tok == "" {
		return "", ErrMissingBearer
	}
	return tok, nil
}

func audienceOrNil(aud string) jwt.ClaimStrings {
	if aud == "" {
		return nil
	}
	return jwt.ClaimStrings{aud}
}
