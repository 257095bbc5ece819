// Package auth holds the login gate and the per-scope "authenticated"
// display flag. The flag only decides whether private events are shown;
// it is not an identity and nothing server-side is enforced with it.
package auth

import (
	"crypto/subtle"
	"errors"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

var (
	ErrMissingCredentials = errors.New("Please enter both username and password")
	ErrInvalidCredentials = errors.New("Invalid username or password")
)

// Authenticator checks a single configured credential pair.
type Authenticator struct {
	username     string
	password     string
	passwordHash []byte
}

// NewAuthenticator builds an Authenticator. If passwordBcrypt is non-empty
// it is used instead of the plaintext password.
func NewAuthenticator(username, password, passwordBcrypt string) *Authenticator {
	a := &Authenticator{
		username: username,
		password: password,
	}
	if passwordBcrypt != "" {
		a.passwordHash = []byte(passwordBcrypt)
	}
	return a
}

// Check validates a login attempt. The username is trimmed; the password is
// compared as given.
func (a *Authenticator) Check(username, password string) error {
	username = strings.TrimSpace(username)
	if username == "" || strings.TrimSpace(password) == "" {
		return ErrMissingCredentials
	}

	userOK := secureCompare(username, a.username)

	var passOK bool
	if a.passwordHash != nil {
		passOK = bcrypt.CompareHashAndPassword(a.passwordHash, []byte(password)) == nil
	} else {
		passOK = secureCompare(password, a.password)
	}

	if !userOK || !passOK {
		return ErrInvalidCredentials
	}
	return nil
}

// secureCompare compares two strings in constant time.
func secureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
