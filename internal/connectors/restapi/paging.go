package restapi

import (
	"context"
	"strings"
	"time"
)

// Page is one slice of a paginated listing. An empty Next ends the drain.
type Page[T any] struct {
	Items []T
	Next  string
}

// Drain fetches pages in vendor order until the listing ends or maxItems items
// are collected. maxItems <= 0 means no cap. The result carries no truncation
// marker.
func Drain[T any](ctx context.Context, maxItems int, fetch func(ctx context.Context, token string) (Page[T], error)) ([]T, error) {
	var (
		out   []T
		token string
		seen  = map[string]bool{}
	)
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		page, err := fetch(ctx, token)
		if err != nil {
			return nil, err
		}
		out = append(out, page.Items...)
		if maxItems > 0 && len(out) >= maxItems {
			return out[:maxItems], nil
		}
		if page.Next == "" || seen[page.Next] {
			return out, nil
		}
		seen[page.Next] = true
		token = page.Next
	}
}

// FormatTime renders t as an ISO-8601 UTC timestamp.
func FormatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

// FormatOptionalTime renders a nil time as "".
func FormatOptionalTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return ""
	}
	return FormatTime(*t)
}

var inboundLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999",
}

// ParseTime parses the timestamp shapes vendors emit. Blank or unparseable
// values yield nil.
func ParseTime(raw string) *time.Time {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	for _, layout := range inboundLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			t = t.UTC()
			return &t
		}
	}
	return nil
}
