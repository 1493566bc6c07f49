package connerr

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOutcome(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, "success"},
		{"cancelled", fmt.Errorf("wait: %w", context.Canceled), "cancelled"},
		{"deadline", context.DeadlineExceeded, "cancelled"},
		{"wrapped cancel", Cancelled("run 7", nil), "cancelled"},
		{"auth", &AuthenticationError{Vendor: "aws", Err: errors.New("expired")}, "auth_error"},
		{"unsupported", &UnsupportedOperationError{Vendor: "aws", Operation: "PATCH s3://b/k"}, "unsupported"},
		{"rate limited", &RemoteRequestError{Vendor: "fivetran", StatusCode: 429}, "rate_limited"},
		{"remote", &RemoteRequestError{Vendor: "fivetran", StatusCode: 500}, "error"},
		{"config", &ConfigurationError{Vendor: "aws", Missing: []string{"region"}}, "error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Outcome(tt.err))
		})
	}
}
