// Package auth provides minimal authentication helpers.
//
// It intentionally avoids policy decisions and storage concerns.
package auth

import (
	"crypto/subtle"
	"errors"
)

var ErrUnauthorized = errors.New("auth: unauthorized")

// Validator validates an API credential presented by a client.
type Validator interface {
	Validate(key string) error
}

// StaticKey is a simple validator for a single shared API key.
// It is intended only for bench setups and proofs of concept.
type StaticKey struct {
	Key string
}

func (s StaticKey) Validate(key string) error {
	if s.Key == "" {
		return ErrUnauthorized
	}
	if subtle.ConstantTimeCompare([]byte(s.Key), []byte(key)) != 1 {
		return ErrUnauthorized
	}
	return nil
}

// FuncValidator adapts a function into a Validator.
type FuncValidator func(key string) error

func (f FuncValidator) Validate(key string) error {
	return f(key)
}
