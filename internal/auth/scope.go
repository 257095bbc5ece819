package auth

import (
	"crypto/rand"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	appLog "schedview/internal/log"
)

// ScopeCookie is the cookie carrying the signed scope token. Every tab of a
// browser sends the same cookie, so they all share one flag.
const ScopeCookie = "htn_scope"

const scopeTTL = 365 * 24 * time.Hour

// Scopes issues and verifies scope tokens.
type Scopes struct {
	secret []byte
	secure bool
}

// NewScopes creates a Scopes signer. An empty secret is replaced by a
// random one for the lifetime of the process.
func NewScopes(secret string, secureCookie bool) *Scopes {
	key := []byte(secret)
	if len(key) == 0 {
		key = make([]byte, 32)
		if _, err := rand.Read(key); err != nil {
			// crypto/rand does not fail on supported platforms
			panic(err)
		}
		appLog.Info("scope secret not configured; using ephemeral secret")
	}
	return &Scopes{secret: key, secure: secureCookie}
}

// Issue creates a new scope id and its signed token.
func (s *Scopes) Issue() (scope, token string, err error) {
	scope = uuid.NewString()
	now := time.Now()
	claims := jwt.RegisteredClaims{
		ID:        scope,
		Subject:   "scope",
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(scopeTTL)),
	}
	token, err = jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", "", fmt.Errorf("sign scope: %w", err)
	}
	return scope, token, nil
}

// Parse verifies token and returns its scope id.
func (s *Scopes) Parse(token string) (string, error) {
	var claims jwt.RegisteredClaims
	_, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return s.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return "", err
	}
	if claims.Subject != "scope" {
		return "", errors.New("not a scope token")
	}
	if _, err := uuid.Parse(claims.ID); err != nil {
		return "", fmt.Errorf("scope id: %w", err)
	}
	return claims.ID, nil
}

// FromRequest returns the caller's scope, issuing a new one (and setting
// the cookie on w) when the cookie is missing or invalid.
func (s *Scopes) FromRequest(w http.ResponseWriter, r *http.Request) (string, error) {
	if c, err := r.Cookie(ScopeCookie); err == nil && c.Value != "" {
		if scope, perr := s.Parse(c.Value); perr == nil {
			return scope, nil
		}
		appLog.Debug("invalid scope cookie; issuing new scope", "remote", r.RemoteAddr)
	}

	scope, token, err := s.Issue()
	if err != nil {
		return "", err
	}
	http.SetCookie(w, &http.Cookie{
		Name:     ScopeCookie,
		Value:    token,
		Path:     "/",
		MaxAge:   int(scopeTTL / time.Second),
		HttpOnly: true,
		Secure:   s.secure,
		SameSite: http.SameSiteLaxMode,
	})
	return scope, nil
}
