package main

import "fmt"

const (
	exitCanceled = 130
	// exitRunFailed is returned when a waited-for run finished unsuccessfully.
	exitRunFailed = 2
	// exitWaitTimeout matches timeout(1).
	exitWaitTimeout = 124
)

type exitError struct {
	code   int
	err    error
	silent bool
}

func (e *exitError) Error() string {
	if e == nil {
		return ""
	}
	if e.err != nil {
		return e.err.Error()
	}
	return fmt.Sprintf("exit %d", e.code)
}

func (e *exitError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.err
}
