// Package sop renders standard operating procedure documents for a set of
// data points (tables fed by a pipeline). Output is plain markdown grouped
// into titled sections so the frontend can render it directly.
package sop

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var ErrNoDataPoints = errors.New("sop: at least one data point must be provided")

const (
	TemplateDefault    = "default"
	TemplateDetailed   = "detailed"
	TemplateQuickstart = "quickstart"
)

const documentTitle = "Standard Operating Procedure: Data Pipeline Management"

type DataPoint struct {
	ID            string `json:"id" validate:"required"`
	Name          string `json:"name" validate:"required"`
	Table         string `json:"table" validate:"required"`
	RefreshRate   string `json:"refreshRate" validate:"required"`
	Source        string `json:"source" validate:"required"`
	LastRefreshed string `json:"lastRefreshed,omitempty"`
}

type Request struct {
	DataPoints []DataPoint `json:"dataPoints" validate:"required,min=1,dive"`
	Template   string      `json:"template" validate:"omitempty,oneof=default detailed quickstart"`
	Audience   string      `json:"audience"`
	Goals      string      `json:"goals"`
}

type Section struct {
	Title   string `json:"title"`
	Content string `json:"content"`
}

type Summary struct {
	TotalPoints int            `json:"totalPoints"`
	BySource    map[string]int `json:"bySource"`
}

type Document struct {
	Title             string    `json:"title"`
	Summary           string    `json:"summary"`
	Audience          string    `json:"audience"`
	Sections          []Section `json:"sections"`
	DataPointsSummary Summary   `json:"dataPointsSummary"`
}

// Generator builds documents. Now is used for relative refresh ages.
type Generator struct {
	Now func() time.Time
}

func New() *Generator {
	return &Generator{Now: time.Now}
}

func (g *Generator) Generate(req Request) (Document, error) {
	if len(req.DataPoints) == 0 {
		return Document{}, ErrNoDataPoints
	}
	points := req.DataPoints
	sources := sourceOrder(points)
	bySource := make(map[string]int, len(sources))
	for _, p := range points {
		bySource[p.Source]++
	}
	patterns := ClassifyRefresh(points)

	var sections []Section
	switch strings.ToLower(req.Template) {
	case TemplateDetailed:
		sections = g.detailed(points, patterns, req.Goals)
	case TemplateQuickstart:
		sections = g.quickstart(points, req.Goals)
	default:
		sections = g.standard(points, patterns, req.Goals)
	}

	return Document{
		Title:    documentTitle,
		Summary:  fmt.Sprintf("This SOP covers the management of %d data points across %s sources", len(points), strings.Join(sources, ", ")),
		Audience: AudienceDescription(req.Audience),
		Sections: sections,
		DataPointsSummary: Summary{
			TotalPoints: len(points),
			BySource:    bySource,
		},
	}, nil
}

var audiences = map[string]string{
	"technical": "This document is intended for data engineers and technical staff responsible for maintaining data pipelines.",
	"business":  "This document is intended for business users who rely on these data sources for analytics and reporting.",
	"executive": "This document provides a high-level overview for executive stakeholders on data pipeline operations.",
	"mixed":     "This document is intended for a diverse audience including both technical and business stakeholders.",
}

// AudienceDescription falls back to the mixed audience for unknown values.
func AudienceDescription(audience string) string {
	if d, ok := audiences[strings.ToLower(strings.TrimSpace(audience))]; ok {
		return d
	}
	return audiences["mixed"]
}

func (g *Generator) standard(points []DataPoint, patterns RefreshPatterns, goals string) []Section {
	overview := fmt.Sprintf("This SOP outlines the procedures for monitoring and maintaining data pipelines across %d critical data points. ", len(points))
	if goals != "" {
		overview += "Key business objectives: " + goals
	}
	return []Section{
		{Title: "Overview", Content: overview},
		{Title: "Data Sources", Content: dataSources(points)},
		{Title: "Monitoring Procedures", Content: monitoring(patterns)},
		{Title: "Troubleshooting Guide", Content: troubleshooting(points)},
		{Title: "Refresh Schedule", Content: refreshSchedule(patterns)},
	}
}

func (g *Generator) detailed(points []DataPoint, patterns RefreshPatterns, goals string) []Section {
	return append(g.standard(points, patterns, goals),
		Section{Title: "Data Lineage", Content: lineage(points)},
		Section{Title: "Quality Control Measures", Content: qualityControl(points)},
		Section{Title: "Escalation Procedures", Content: "Detailed steps for escalating issues based on severity and impact."},
		Section{Title: "Compliance and Governance", Content: "Guidelines for ensuring data handling complies with organizational policies and regulatory requirements."},
	)
}

func (g *Generator) quickstart(points []DataPoint, goals string) []Section {
	intro := fmt.Sprintf("Essential procedures for managing %d data points. ", len(points))
	if goals != "" {
		intro += "Key objectives: " + goals
	}
	now := g.now()
	lines := make([]string, 0, len(points))
	for _, p := range points {
		lines = append(lines, fmt.Sprintf("- **%s** (%s)\n  - Table: `%s`\n  - Refresh: %s\n  - Last updated: %s",
			p.Name, p.Source, p.Table, p.RefreshRate, RefreshAge(p.LastRefreshed, now)))
	}
	return []Section{
		{Title: "Quick Start", Content: intro},
		{Title: "Key Data Points", Content: strings.Join(lines, "\n")},
		{Title: "Common Issues", Content: "Concise troubleshooting steps for frequent issues."},
	}
}

func (g *Generator) now() time.Time {
	if g.Now == nil {
		return time.Now()
	}
	return g.Now()
}

// sourceOrder returns distinct sources in first-seen order.
func sourceOrder(points []DataPoint) []string {
	seen := make(map[string]bool, len(points))
	var out []string
	for _, p := range points {
		if seen[p.Source] {
			continue
		}
		seen[p.Source] = true
		out = append(out, p.Source)
	}
	return out
}

func bySource(points []DataPoint, source string) []DataPoint {
	var out []DataPoint
	for _, p := range points {
		if p.Source == source {
			out = append(out, p)
		}
	}
	return out
}

func hasSource(points []DataPoint, source string) bool {
	return len(bySource(points, source)) > 0
}

func displaySource(source string) string {
	if source == "" {
		return "Unknown"
	}
	return strings.ToUpper(source[:1]) + source[1:]
}
