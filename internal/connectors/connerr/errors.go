// Package connerr defines the error taxonomy shared by every vendor connector.
package connerr

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"
)

var (
	// ErrCancelled is returned when the caller's context is cancelled while a
	// connector is waiting on a remote job.
	ErrCancelled = errors.New("cancelled")

	// ErrUnsupportedOperation marks programming errors such as an unknown HTTP verb.
	ErrUnsupportedOperation = errors.New("unsupported operation")
)

// ConfigurationError reports missing or malformed connection parameters. It is
// raised locally and never retried.
type ConfigurationError struct {
	Vendor  string
	Missing []string
	Invalid map[string]string
}

func (e *ConfigurationError) Error() string {
	var parts []string
	if len(e.Missing) > 0 {
		parts = append(parts, "missing required fields: "+strings.Join(e.Missing, ", "))
	}
	for _, field := range slices.Sorted(maps.Keys(e.Invalid)) {
		parts = append(parts, fmt.Sprintf("invalid %s: %s", field, e.Invalid[field]))
	}
	if len(parts) == 0 {
		parts = append(parts, "invalid configuration")
	}
	return fmt.Sprintf("%s configuration: %s", vendorName(e.Vendor), strings.Join(parts, "; "))
}

// Empty reports whether no field problems were recorded.
func (e *ConfigurationError) Empty() bool {
	return e == nil || (len(e.Missing) == 0 && len(e.Invalid) == 0)
}

// AuthenticationError reports a rejected credential or an unreachable auth endpoint.
type AuthenticationError struct {
	Vendor string
	Err    error
}

func (e *AuthenticationError) Error() string {
	if e.Err == nil {
		return vendorName(e.Vendor) + " authentication failed"
	}
	return fmt.Sprintf("%s authentication failed: %v", vendorName(e.Vendor), e.Err)
}

func (e *AuthenticationError) Unwrap() error { return e.Err }

// RemoteRequestError carries the diagnostic detail of a failed remote call.
// StatusCode is zero for transport failures and SDK errors without an HTTP status.
type RemoteRequestError struct {
	Vendor     string
	Target     string
	StatusCode int
	Body       string
	Err        error
}

func (e *RemoteRequestError) Error() string {
	var b strings.Builder
	b.WriteString(vendorName(e.Vendor))
	b.WriteString(" request failed")
	if e.Target != "" {
		b.WriteString(" (")
		b.WriteString(e.Target)
		b.WriteString(")")
	}
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, ": status %d", e.StatusCode)
	}
	if e.Body != "" {
		b.WriteString(": ")
		b.WriteString(e.Body)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *RemoteRequestError) Unwrap() error { return e.Err }

// UnsupportedOperationError names the operation that was rejected before any I/O.
type UnsupportedOperationError struct {
	Vendor    string
	Operation string
}

func (e *UnsupportedOperationError) Error() string {
	return fmt.Sprintf("%s: unsupported operation %q", vendorName(e.Vendor), e.Operation)
}

func (e *UnsupportedOperationError) Unwrap() error { return ErrUnsupportedOperation }

// PollingTimeoutError is the only terminal poller state that is raised instead
// of returned.
type PollingTimeoutError struct {
	Vendor     string
	ResourceID string
	Elapsed    time.Duration
	LastStatus string
}

func (e *PollingTimeoutError) Error() string {
	msg := fmt.Sprintf("%s: %s did not complete within %s", vendorName(e.Vendor), e.ResourceID, e.Elapsed.Round(time.Millisecond))
	if e.LastStatus != "" {
		msg += " (last status " + e.LastStatus + ")"
	}
	return msg
}

// Cancelled wraps a context error so callers can match either ErrCancelled or
// the original context error.
func Cancelled(resourceID string, cause error) error {
	if cause == nil {
		return fmt.Errorf("%s: %w", resourceID, ErrCancelled)
	}
	return fmt.Errorf("%s: %w: %w", resourceID, ErrCancelled, cause)
}

// IsAuthentication reports whether err is or wraps an AuthenticationError.
func IsAuthentication(err error) bool {
	var ae *AuthenticationError
	return errors.As(err, &ae)
}

// StatusCode extracts the remote HTTP status code from err, or zero.
func StatusCode(err error) int {
	var re *RemoteRequestError
	if errors.As(err, &re) {
		return re.StatusCode
	}
	return 0
}

// Outcome classifies the result of one remote call for metrics labels:
// success, cancelled, auth_error, unsupported, rate_limited or error.
func Outcome(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded), errors.Is(err, ErrCancelled):
		return "cancelled"
	case IsAuthentication(err):
		return "auth_error"
	case errors.Is(err, ErrUnsupportedOperation):
		return "unsupported"
	case StatusCode(err) == 429:
		return "rate_limited"
	default:
		return "error"
	}
}

func vendorName(v string) string {
	v = strings.TrimSpace(v)
	if v == "" {
		return "connector"
	}
	return v
}
