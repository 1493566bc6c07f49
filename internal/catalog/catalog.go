// Package catalog lists the data pipelines shown on the connectors page.
package catalog

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

type Pipeline struct {
	Name       string `json:"name"`
	Type       string `json:"type"`
	Technology string `json:"technology"`
	Owner      string `json:"owner,omitempty"`
}

const (
	defaultType  = "ingestion"
	defaultOwner = "twks"
)

// Samples are served when the catalog file is missing, empty or unreadable.
var Samples = []Pipeline{
	{Name: "sample_pipeline1", Type: "ingestion", Technology: "Snowflake Airflow", Owner: "twks"},
	{Name: "sample_pipeline2", Type: "ingestion", Technology: "Snowflake Fivetran", Owner: "ind"},
	{Name: "sample_pipeline3", Type: "transformation", Technology: "Snowflake ADF", Owner: "zach"},
}

// Load reads path, falling back to Samples on any problem. It never fails.
func Load(path string) []Pipeline {
	pipelines, err := Read(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		slog.Info("connector catalog not found, serving samples", "path", path)
	case err != nil:
		slog.Warn("connector catalog unreadable, serving samples", "path", path, "err", err)
	case len(pipelines) == 0:
		slog.Info("connector catalog empty, serving samples", "path", path)
	default:
		return pipelines
	}
	out := make([]Pipeline, len(Samples))
	copy(out, Samples)
	return out
}

// Read parses a catalog CSV with a name,type,technology,owner header. name
// and technology are required; type and owner have defaults.
func Read(path string) ([]Pipeline, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return parse(f)
}

func parse(r io.Reader) ([]Pipeline, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read catalog header: %w", err)
	}
	idx := make(map[string]int, len(header))
	for i, h := range header {
		idx[strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))] = i
	}
	for _, required := range []string{"name", "technology"} {
		if _, ok := idx[required]; !ok {
			return nil, fmt.Errorf("catalog is missing column %q", required)
		}
	}

	field := func(rec []string, name, fallback string) string {
		i, ok := idx[name]
		if !ok || i >= len(rec) || strings.TrimSpace(rec[i]) == "" {
			return fallback
		}
		return strings.TrimSpace(rec[i])
	}

	var out []Pipeline
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read catalog line %d: %w", line, err)
		}
		p := Pipeline{
			Name:       field(rec, "name", ""),
			Type:       field(rec, "type", defaultType),
			Technology: field(rec, "technology", ""),
			Owner:      field(rec, "owner", defaultOwner),
		}
		if p.Name == "" || p.Technology == "" {
			return nil, fmt.Errorf("catalog line %d: name and technology are required", line)
		}
		out = append(out, p)
	}
	return out, nil
}
