package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/open-sspm/opsdash/internal/connectors/registry"
)

type countingHandler struct {
	mu       sync.Mutex
	count    int
	messages []string
}

func (h *countingHandler) Enabled(context.Context, slog.Level) bool { return true }

func (h *countingHandler) Handle(_ context.Context, rec slog.Record) error {
	h.mu.Lock()
	h.count++
	h.messages = append(h.messages, rec.Message)
	h.mu.Unlock()
	return nil
}

func (h *countingHandler) WithAttrs([]slog.Attr) slog.Handler { return h }
func (h *countingHandler) WithGroup(string) slog.Handler      { return h }

func (h *countingHandler) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.count
}

func (h *countingHandler) Messages() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.messages...)
}

func TestLogReporterThrottlesProgress(t *testing.T) {
	t.Parallel()

	handler := &countingHandler{}
	reporter := &LogReporter{
		Logger:              slog.New(handler),
		ProgressInterval:    time.Hour,
		ProgressPercentStep: 5,
	}

	const total = 1000
	reporter.Report(registry.Event{Source: "fivetran", Stage: "wait", Current: 0, Total: total, Message: "waiting for sync"})
	for i := int64(1); i < total; i++ {
		reporter.Report(registry.Event{
			Source:  "fivetran",
			Stage:   "wait",
			Current: i,
			Total:   total,
			Message: fmt.Sprintf("polls %d/%d", i, total),
		})
	}
	reporter.Report(registry.Event{Source: "fivetran", Stage: "wait", Current: total, Total: total, Message: "sync complete"})

	step := reporter.ProgressPercentStep
	expected := 2 + int(int64(99)/step) // 0% + each step (excluding 100%) + 100%
	if got := handler.Count(); got != expected {
		t.Fatalf("expected %d logs, got %d", expected, got)
	}
}

func TestLogReporterAlwaysLogsErrors(t *testing.T) {
	t.Parallel()

	handler := &countingHandler{}
	reporter := &LogReporter{Logger: slog.New(handler)}
	reporter.Report(registry.Event{Source: "snowflake", Stage: "health", Err: errors.New("boom")})
	reporter.Report(registry.Event{Err: errors.New("boom")})

	got := handler.Messages()
	if len(got) != 2 || got[0] != "snowflake health failed" || got[1] != "failed" {
		t.Fatalf("unexpected messages %q", got)
	}
}

func TestLogReporterSkipsSilentEvents(t *testing.T) {
	t.Parallel()

	handler := &countingHandler{}
	reporter := &LogReporter{Logger: slog.New(handler)}
	reporter.Report(registry.Event{Source: "aws"})
	reporter.Report(registry.Event{Stage: "health", Done: true})

	got := handler.Messages()
	if len(got) != 1 || got[0] != "health complete" {
		t.Fatalf("unexpected messages %q", got)
	}
}
