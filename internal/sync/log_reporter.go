package sync

import (
	"log/slog"
	"sync"
	"time"

	"github.com/open-sspm/opsdash/internal/connectors/registry"
)

const (
	defaultProgressInterval    = 5 * time.Second
	defaultProgressPercentStep = int64(5)
)

type progressKey struct {
	source string
	stage  string
}

type progressMark struct {
	at      time.Time
	percent int64
}

// LogReporter writes background run events to slog. Progress events are
// throttled per source and stage; errors and completions always log.
type LogReporter struct {
	Logger              *slog.Logger
	ProgressInterval    time.Duration
	ProgressPercentStep int64

	mu    sync.Mutex
	marks map[progressKey]progressMark
}

func (r *LogReporter) Report(e registry.Event) {
	logger := r.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := e.At
	if now.IsZero() {
		now = time.Now()
	}

	attrs := []any{}
	if e.Source != "" {
		attrs = append(attrs, "connector", e.Source)
	}
	if e.Stage != "" {
		attrs = append(attrs, "stage", e.Stage)
	}
	if e.Total != 0 {
		attrs = append(attrs, "current", e.Current, "total", e.Total)
	}

	if e.Err != nil {
		message := e.Message
		if message == "" {
			message = joinNonEmpty(joinNonEmpty(e.Source, e.Stage), "failed")
		}
		logger.Error(message, append(attrs, "err", e.Err)...)
		return
	}

	message := e.Message
	if message == "" {
		if !e.Done {
			if e.Total == 0 {
				return
			}
			message = joinNonEmpty(e.Source, e.Stage) + " progress"
		} else {
			message = joinNonEmpty(e.Stage, "complete")
		}
	}
	if !r.shouldLog(now, e) {
		return
	}
	logger.Info(message, attrs...)
}

func (r *LogReporter) shouldLog(now time.Time, e registry.Event) bool {
	if e.Done || e.Total <= 1 {
		return true
	}
	interval := r.ProgressInterval
	if interval <= 0 {
		interval = defaultProgressInterval
	}
	step := r.ProgressPercentStep
	if step <= 0 {
		step = defaultProgressPercentStep
	}

	percent := progressPercent(e.Current, e.Total)
	bucket := (percent / step) * step
	edge := e.Current <= 0 || e.Current >= e.Total

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.marks == nil {
		r.marks = make(map[progressKey]progressMark)
	}
	key := progressKey{source: e.Source, stage: e.Stage}
	last, seen := r.marks[key]
	if !edge && seen && now.Sub(last.at) < interval && percent < last.percent+step {
		return false
	}
	r.marks[key] = progressMark{at: now, percent: bucket}
	return true
}

func progressPercent(current, total int64) int64 {
	switch {
	case total <= 0, current <= 0:
		return 0
	case current >= total:
		return 100
	}
	return (current * 100) / total
}

func joinNonEmpty(a, b string) string {
	switch {
	case a == "":
		return b
	case b == "":
		return a
	}
	return a + " " + b
}
