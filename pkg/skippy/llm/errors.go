// Package llm – errors.go classifies transport failures so the caller
// and the retry loop can tell transient from fatal.
package llm

import (
	"errors"
	"net"
	"strings"

	"github.com/ollama/ollama/api"
)

// Error kinds surfaced by the client. Callers match with errors.Is.
var (
	// ErrTimeout means the total wall-clock budget was exceeded.
	ErrTimeout = errors.New("llm: request timed out")

	// ErrStreamStalled means no chunk arrived within the inactivity window.
	ErrStreamStalled = errors.New("llm: stream stalled")

	// ErrUnauthorized is a 401/403, never retried.
	ErrUnauthorized = errors.New("llm: unauthorized")

	// ErrRateLimited is a 429, retried with backoff.
	ErrRateLimited = errors.New("llm: rate limited")

	// ErrServiceUnavailable is a 5xx, retried with backoff.
	ErrServiceUnavailable = errors.New("llm: service unavailable")

	// ErrNetwork covers connection resets, refusals and DNS failures.
	ErrNetwork = errors.New("llm: network error")
)

// classify wraps err in one of the error kinds above, or returns it
// unchanged when no kind applies.
func classify(err error) error {
	if err == nil {
		return nil
	}

	var status api.StatusError
	if errors.As(err, &status) {
		switch {
		case status.StatusCode == 401 || status.StatusCode == 403:
			return errors.Join(ErrUnauthorized, err)
		case status.StatusCode == 429:
			return errors.Join(ErrRateLimited, err)
		case status.StatusCode == 502 || status.StatusCode == 503 || status.StatusCode == 504:
			return errors.Join(ErrServiceUnavailable, err)
		}
		return err
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return errors.Join(ErrNetwork, err)
	}

	msg := strings.ToLower(err.Error())
	for _, pat := range []string{"connection refused", "connection reset", "no such host", "broken pipe", "eof"} {
		if strings.Contains(msg, pat) {
			return errors.Join(ErrNetwork, err)
		}
	}
	return err
}

// retryable reports whether err is worth another attempt.
func retryable(err error) bool {
	return errors.Is(err, ErrRateLimited) ||
		errors.Is(err, ErrServiceUnavailable) ||
		errors.Is(err, ErrNetwork)
}
