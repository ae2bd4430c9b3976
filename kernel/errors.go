// Package kernel holds the pieces shared by both validator variants: the
// enable-data byte layout consumed by the verifying wallet contract, the
// read-only chain queries (nonces, session state, execution config), the
// nonce tracker, the user-operation model, and the error taxonomy every
// public operation reports through.
package kernel

import (
	"errors"
	"fmt"
)

// ConfigError means a required input is missing or unsupported. It is
// surfaced immediately and never retried.
type ConfigError struct {
	Msg string
}

func (e *ConfigError) Error() string { return "config: " + e.Msg }

// Configf builds a ConfigError.
func Configf(format string, args ...interface{}) error {
	return &ConfigError{Msg: fmt.Sprintf(format, args...)}
}

// TransportError wraps a failed external read-only call. There is no
// internal retry policy; the cause is surfaced verbatim.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string { return "transport: " + e.Op + ": " + e.Err.Error() }
func (e *TransportError) Unwrap() error { return e.Err }

// SignerError wraps a failure of the external signing capability.
type SignerError struct {
	Err error
}

func (e *SignerError) Error() string { return "signer: " + e.Err.Error() }
func (e *SignerError) Unwrap() error { return e.Err }

// AuthorizationError means the candidate operation matches no configured
// rule. Sign paths fail hard with it; advisory status checks swallow it
// and degrade to false.
type AuthorizationError struct {
	Msg string
}

func (e *AuthorizationError) Error() string { return "authorization: " + e.Msg }

// Unauthorizedf builds an AuthorizationError.
func Unauthorizedf(format string, args ...interface{}) error {
	return &AuthorizationError{Msg: fmt.Sprintf(format, args...)}
}

// IsConfig reports whether err is a ConfigError.
func IsConfig(err error) bool {
	var e *ConfigError
	return errors.As(err, &e)
}

// IsTransport reports whether err is a TransportError.
func IsTransport(err error) bool {
	var e *TransportError
	return errors.As(err, &e)
}

// IsSigner reports whether err is a SignerError.
func IsSigner(err error) bool {
	var e *SignerError
	return errors.As(err, &e)
}

// IsAuthorization reports whether err is an AuthorizationError.
func IsAuthorization(err error) bool {
	var e *AuthorizationError
	return errors.As(err, &e)
}
