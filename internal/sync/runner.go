// Package sync runs background passes over the opened connectors.
package sync

import (
	"context"
	"errors"
)

// Runner executes a single background pass.
type Runner interface {
	RunOnce(context.Context) error
}

var ErrNoConfiguredConnectors = errors.New("no connectors are configured")

// ErrAlreadyRunning is returned when a pass is requested while another one is
// still in progress.
var ErrAlreadyRunning = errors.New("pass is already running")

// isIdle reports errors that mean there was nothing to do this tick.
func isIdle(err error) bool {
	return errors.Is(err, ErrNoConfiguredConnectors) || errors.Is(err, ErrAlreadyRunning)
}
