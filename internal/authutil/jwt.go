package authutil

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// AdminScope is the only scope the directory accepts on admin routes.
const AdminScope = "admin"

var (
	ErrNoSecret     = errors.New("admin secret not configured")
	ErrEmptyToken   = errors.New("empty token")
	ErrInvalidScope = errors.New("token lacks admin scope")
)

// Signer issues and checks HS256 admin tokens.
type Signer struct {
	secret []byte
	now    func() time.Time
}

// NewSigner returns a Signer for secret. An empty secret yields a Signer that
// refuses every operation.
func NewSigner(secret string) *Signer {
	return &Signer{secret: []byte(secret), now: time.Now}
}

// Enabled reports whether a secret was configured.
func (s *Signer) Enabled() bool {
	return s != nil && len(s.secret) > 0
}

// Issue returns a signed admin token for subject valid for ttl.
func (s *Signer) Issue(subject string, ttl time.Duration) (string, error) {
	if !s.Enabled() {
		return "", ErrNoSecret
	}
	now := s.now()
	claims := jwt.MapClaims{
		"sub":   subject,
		"scope": AdminScope,
		"iat":   now.Unix(),
		"exp":   now.Add(ttl).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}

// Validate parses tokenStr, checks signature, expiry and scope, and returns the subject.
func (s *Signer) Validate(tokenStr string) (string, error) {
	if !s.Enabled() {
		return "", ErrNoSecret
	}
	if tokenStr == "" {
		return "", ErrEmptyToken
	}
	token, err := jwt.Parse(tokenStr, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return s.secret, nil
	}, jwt.WithTimeFunc(s.now))
	if err != nil {
		return "", err
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return "", errors.New("invalid token claims")
	}
	if scope, _ := claims["scope"].(string); scope != AdminScope {
		return "", ErrInvalidScope
	}
	subject, _ := claims["sub"].(string)
	return subject, nil
}

// BearerToken extracts the token from an "Authorization: Bearer ..." value.
func BearerToken(header string) string {
	scheme, token, ok := strings.Cut(header, " ")
	if ok && strings.EqualFold(scheme, "Bearer") {
		return strings.TrimSpace(token)
	}
	return ""
}
