// Package auth validates the shared secrets a node accepts: the join token a
// spoke presents when it opens a link, and the API token guarding actions.
//
// It avoids policy decisions and storage concerns.
package auth

import (
	"crypto/subtle"
	"errors"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

var ErrUnauthorized = errors.New("auth: unauthorized")

// Validator validates an authentication token.
type Validator interface {
	Validate(token string) error
}

// StaticToken is a validator for a single shared plaintext token.
type StaticToken struct {
	Token string
}

func (s StaticToken) Validate(token string) error {
	if s.Token == "" {
		return ErrUnauthorized
	}
	if subtle.ConstantTimeCompare([]byte(s.Token), []byte(token)) != 1 {
		return ErrUnauthorized
	}
	return nil
}

// BcryptToken validates against a bcrypt hash so the plaintext never has to
// sit in a config file.
type BcryptToken struct {
	Hash string
}

func (b BcryptToken) Validate(token string) error {
	if b.Hash == "" || token == "" {
		return ErrUnauthorized
	}
	if err := bcrypt.CompareHashAndPassword([]byte(b.Hash), []byte(token)); err != nil {
		return ErrUnauthorized
	}
	return nil
}

// HashToken returns the bcrypt hash to store for token.
func HashToken(token string) (string, error) {
	if token == "" {
		return "", ErrUnauthorized
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(token), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// AllowAll accepts every token. Used when a node runs without a secret.
type AllowAll struct{}

func (AllowAll) Validate(string) error {
	return nil
}

// FuncValidator adapts a function into a Validator.
type FuncValidator func(token string) error

func (f FuncValidator) Validate(token string) error {
	return f(token)
}

// New picks the validator for a configured secret: a bcrypt hash wins over
// a plaintext token, and neither means AllowAll.
func New(token, hash string) Validator {
	switch {
	case strings.TrimSpace(hash) != "":
		return BcryptToken{Hash: strings.TrimSpace(hash)}
	case token != "":
		return StaticToken{Token: token}
	default:
		return AllowAll{}
	}
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(header string) (string, bool) {
	const prefix = "bearer "
	header = strings.TrimSpace(header)
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", false
	}
	token := strings.TrimSpace(header[len(prefix):])
	return token, token != ""
}
