package client

import (
	"errors"
	"fmt"
	"net/http"
)

// Error kinds. Every error returned by Client wraps exactly one of these.
var (
	ErrValidation         = errors.New("validation failed")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrSessionExpired     = errors.New("session expired")
	ErrNetwork            = errors.New("network error")
	ErrUnauthorized       = errors.New("unauthorized")
	ErrForbidden          = errors.New("forbidden")
)

// APIError describes a failed call to the auth API
type APIError struct {
	Op      string // register, login, logout, refresh, me, request
	Status  int    // 0 when the request never got a response
	Message string // server-provided message, if any
	Kind    error
	Err     error // underlying transport or decode error
}

func (e *APIError) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Status != 0 {
		return fmt.Sprintf("%s failed (status %d): %s", e.Op, e.Status, msg)
	}
	return fmt.Sprintf("%s failed: %s", e.Op, msg)
}

func (e *APIError) Unwrap() []error {
	if e.Err != nil {
		return []error{e.Kind, e.Err}
	}
	return []error{e.Kind}
}

// IsAuthFailure reports whether err means the held credential is no longer accepted
func IsAuthFailure(err error) bool {
	return errors.Is(err, ErrUnauthorized) || errors.Is(err, ErrSessionExpired)
}

// classify maps an HTTP status to an error kind for the given operation
func classify(op string, status int) error {
	switch {
	case status == http.StatusUnauthorized:
		switch op {
		case opLogin:
			return ErrInvalidCredentials
		case opRefresh:
			return ErrSessionExpired
		}
		return ErrUnauthorized
	case status == http.StatusForbidden:
		if op == opRefresh {
			return ErrSessionExpired
		}
		return ErrForbidden
	case status == http.StatusTooManyRequests, status >= 500:
		return ErrNetwork
	case status >= 400:
		return ErrValidation
	}
	return nil
}

func networkError(op string, err error) *APIError {
	return &APIError{Op: op, Kind: ErrNetwork, Err: err}
}
