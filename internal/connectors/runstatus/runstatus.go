// Package runstatus projects vendor job, run and sync records onto a common
// completion model.
package runstatus

import (
	"log/slog"
	"strings"
	"time"

	"github.com/open-sspm/opsdash/internal/metrics"
)

// Outcome is the class a vendor status string maps to.
type Outcome int

const (
	Pending Outcome = iota
	Succeeded
	Failed
	Cancelled
)

func (o Outcome) String() string {
	switch o {
	case Succeeded:
		return "succeeded"
	case Failed:
		return "failed"
	case Cancelled:
		return "cancelled"
	default:
		return "pending"
	}
}

// RunStatus is a fresh projection of one vendor status read. It is never cached.
type RunStatus struct {
	ID           string     `json:"id"`
	RawStatus    string     `json:"raw_status"`
	IsComplete   bool       `json:"is_complete"`
	IsSuccess    bool       `json:"is_success"`
	IsError      bool       `json:"is_error"`
	IsCancelled  bool       `json:"is_cancelled"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
	ErrorMessage string     `json:"error_message,omitempty"`
}

// Outcome recovers the class from the booleans.
func (s RunStatus) Outcome() Outcome {
	switch {
	case !s.IsComplete:
		return Pending
	case s.IsSuccess:
		return Succeeded
	case s.IsCancelled:
		return Cancelled
	default:
		return Failed
	}
}

// Record is the vendor-neutral input to Normalize.
type Record struct {
	ID           string
	RawStatus    string
	StartedAt    *time.Time
	FinishedAt   *time.Time
	ErrorMessage string
}

// Table maps one vendor's status vocabulary onto outcomes.
type Table struct {
	vendor  string
	entries map[string]Outcome
}

// NewTable builds a case-insensitive table.
func NewTable(vendor string, entries map[string]Outcome) Table {
	folded := make(map[string]Outcome, len(entries))
	for k, v := range entries {
		folded[fold(k)] = v
	}
	return Table{vendor: vendor, entries: folded}
}

func (t Table) Vendor() string { return t.vendor }

// Lookup reports the outcome for raw and whether raw is a known status.
func (t Table) Lookup(raw string) (Outcome, bool) {
	o, ok := t.entries[fold(raw)]
	return o, ok
}

// Normalize projects rec. Unknown statuses are treated as still running and
// logged; they never raise.
func (t Table) Normalize(rec Record) RunStatus {
	outcome, ok := t.Lookup(rec.RawStatus)
	if !ok {
		metrics.UnknownStatusTotal.WithLabelValues(t.vendor).Inc()
		slog.Warn("unrecognized vendor status; treating as incomplete", "vendor", t.vendor, "id", rec.ID, "status", rec.RawStatus)
		outcome = Pending
	}
	return Project(rec, outcome)
}

// Project builds a RunStatus for an already-decided outcome.
func Project(rec Record, outcome Outcome) RunStatus {
	s := RunStatus{
		ID:         rec.ID,
		RawStatus:  rec.RawStatus,
		StartedAt:  rec.StartedAt,
		FinishedAt: rec.FinishedAt,
	}
	switch outcome {
	case Succeeded:
		s.IsComplete, s.IsSuccess = true, true
	case Failed:
		s.IsComplete, s.IsError = true, true
		s.ErrorMessage = strings.TrimSpace(rec.ErrorMessage)
	case Cancelled:
		s.IsComplete, s.IsCancelled = true, true
	}
	return s
}

func fold(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// Vendor tables. Every status the vendor documents has an entry.
var (
	// dbt Cloud numeric run status codes.
	DBTCloud = NewTable("dbt_cloud", map[string]Outcome{
		"1":  Pending, // queued
		"2":  Pending, // starting
		"3":  Pending, // running
		"10": Succeeded,
		"20": Failed,
		"30": Cancelled,
	})

	// Fivetran connector sync_state values. The fivetran package refines
	// scheduled using succeeded_at and failed_at, and reports a connector
	// that has never synced as pending.
	Fivetran = NewTable("fivetran", map[string]Outcome{
		"scheduled":   Succeeded,
		"syncing":     Pending,
		"rescheduled": Pending,
		"paused":      Cancelled,
	})

	// Fabric job instance statuses.
	Fabric = NewTable("fabric", map[string]Outcome{
		"NotStarted": Pending,
		"InProgress": Pending,
		"Completed":  Succeeded,
		"Failed":     Failed,
		"Cancelled":  Cancelled,
		"Deduped":    Cancelled,
	})

	// AWS Glue JobRunState values.
	Glue = NewTable("aws_glue", map[string]Outcome{
		"STARTING":  Pending,
		"RUNNING":   Pending,
		"STOPPING":  Pending,
		"WAITING":   Pending,
		"STOPPED":   Cancelled,
		"SUCCEEDED": Succeeded,
		"FAILED":    Failed,
		"TIMEOUT":   Failed,
		"ERROR":     Failed,
		"EXPIRED":   Failed,
	})

	// Snowflake QUERY_HISTORY execution_status values.
	Snowflake = NewTable("snowflake", map[string]Outcome{
		"RUNNING":                    Pending,
		"QUEUED":                     Pending,
		"RESUMING_WAREHOUSE":         Pending,
		"QUEUED_REPAIRING_WAREHOUSE": Pending,
		"BLOCKED":                    Pending,
		"RESTARTED":                  Pending,
		"NO_DATA":                    Pending,
		"SUCCESS":                    Succeeded,
		"FAILED_WITH_ERROR":          Failed,
		"FAILED_WITH_INCIDENT":       Failed,
		"ABORTING":                   Pending,
		"ABORTED":                    Cancelled,
		"DISCONNECTED":               Failed,
	})
)
