package server

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/npezzotti/go-teamchat/internal/database"
	"github.com/npezzotti/go-teamchat/internal/presence"
)

// Every error below is reported only to the connection whose event caused
// it. None of them closes the connection.
var (
	ErrAuthenticationFailure = errors.New("authentication failed")
	ErrUnauthenticated       = errors.New("not authenticated")
	ErrDenied                = errors.New("access denied")
	ErrNotFound              = errors.New("not found")
	ErrInvalidState          = errors.New("invalid state")
	ErrStorageFailure        = errors.New("storage failure")
	ErrInvalidMessage        = errors.New("invalid message format")
	ErrRateLimited           = errors.New("rate limit exceeded")
	ErrServiceUnavailable    = errors.New("service unavailable")
)

var statusCodes = []struct {
	err  error
	code int
}{
	{ErrAuthenticationFailure, http.StatusUnauthorized},
	{ErrUnauthenticated, http.StatusUnauthorized},
	{ErrDenied, http.StatusForbidden},
	{ErrNotFound, http.StatusNotFound},
	{ErrInvalidState, http.StatusConflict},
	{ErrInvalidMessage, http.StatusBadRequest},
	{ErrRateLimited, http.StatusTooManyRequests},
	{ErrServiceUnavailable, http.StatusServiceUnavailable},
	{ErrStorageFailure, http.StatusInternalServerError},
}

// classify maps err onto the sentinel it wraps. Anything unrecognised is a
// storage failure.
func classify(err error) (error, int) {
	for _, sc := range statusCodes {
		if errors.Is(err, sc.err) {
			return sc.err, sc.code
		}
	}
	return ErrStorageFailure, http.StatusInternalServerError
}

// StatusCode returns the response code reported for err.
func StatusCode(err error) int {
	_, code := classify(err)
	return code
}

// storeError translates a collaborator error into the taxonomy.
func storeError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, database.ErrNotFound):
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	default:
		return fmt.Errorf("%w: %w", ErrStorageFailure, err)
	}
}

func presenceError(err error) error {
	switch {
	case errors.Is(err, presence.ErrInvalidStatus):
		return fmt.Errorf("%w: %w", ErrInvalidMessage, err)
	case errors.Is(err, presence.ErrInvalidState):
		return fmt.Errorf("%w: %w", ErrInvalidState, err)
	default:
		return err
	}
}
