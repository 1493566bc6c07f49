package sop

import (
	"fmt"
	"strings"
	"time"
)

type RefreshPatterns struct {
	Frequent []DataPoint
	Daily    []DataPoint
	Weekly   []DataPoint
	Other    []DataPoint
}

// ClassifyRefresh buckets points by their free-form refresh rate. Hours and
// minutes count as frequent and win over day or week mentions.
func ClassifyRefresh(points []DataPoint) RefreshPatterns {
	var p RefreshPatterns
	for _, point := range points {
		rate := strings.ToLower(point.RefreshRate)
		switch {
		case strings.Contains(rate, "hour"), strings.Contains(rate, "minute"):
			p.Frequent = append(p.Frequent, point)
		case strings.Contains(rate, "day"), strings.Contains(rate, "daily"):
			p.Daily = append(p.Daily, point)
		case strings.Contains(rate, "week"):
			p.Weekly = append(p.Weekly, point)
		default:
			p.Other = append(p.Other, point)
		}
	}
	return p
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// RefreshAge describes how long ago ts was relative to now. Timestamps
// without a zone are read as UTC.
func RefreshAge(ts string, now time.Time) string {
	ts = strings.TrimSpace(ts)
	if ts == "" {
		return "Unknown"
	}
	var at time.Time
	var err error
	for _, layout := range timestampLayouts {
		if at, err = time.Parse(layout, ts); err == nil {
			break
		}
	}
	if err != nil {
		return "Unknown format"
	}

	diff := now.Sub(at)
	days := int(diff / (24 * time.Hour))
	switch {
	case days > 7:
		return fmt.Sprintf("%d days ago", days)
	case days > 0:
		return fmt.Sprintf("%d day(s) ago", days)
	case diff > time.Hour:
		return fmt.Sprintf("%d hour(s) ago", int(diff/time.Hour))
	case diff > time.Minute:
		return fmt.Sprintf("%d minute(s) ago", int(diff/time.Minute))
	default:
		return "Just now"
	}
}

func dataSources(points []DataPoint) string {
	var b strings.Builder
	for i, source := range sourceOrder(points) {
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "## %s\n", displaySource(source))
		for _, p := range bySource(points, source) {
			fmt.Fprintf(&b, "\n- **%s** (`%s`): %s", p.Name, p.Table, p.RefreshRate)
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

var routineChecks = []string{
	"## Regular Monitoring Tasks\n",
	"1. **Daily Checks**:",
	"   - Verify completion of overnight batch processes",
	"   - Check data freshness indicators for daily refreshed sources",
	"   - Review any alerts generated in the last 24 hours",
	"",
	"2. **Weekly Checks**:",
	"   - Validate weekly data refreshes were completed successfully",
	"   - Review data quality metrics for all sources",
	"   - Check for any anomalies in data patterns or volumes",
	"",
	"3. **Monthly Checks**:",
	"   - Perform comprehensive audit of all data pipelines",
	"   - Review performance metrics and optimize as needed",
	"   - Update documentation for any changes to data sources or procedures",
}

func monitoring(patterns RefreshPatterns) string {
	lines := append([]string(nil), routineChecks...)
	if len(patterns.Frequent) > 0 {
		lines = append(lines,
			"\n## High-Frequency Data Points\n",
			"These data points update frequently and require more active monitoring:")
		for _, p := range patterns.Frequent {
			lines = append(lines, fmt.Sprintf("- **%s**: Check every %s", p.Name, strings.ToLower(p.RefreshRate)))
		}
	}
	return strings.Join(lines, "\n")
}

var commonIssues = []string{
	"## Common Issues and Solutions\n",
	"### Data Freshness Issues",
	"1. **Stale Data Detected**:",
	"   - Check source system connectivity",
	"   - Verify ETL job execution logs",
	"   - Check for upstream dependencies that may have failed",
	"",
	"### Data Quality Issues",
	"1. **Unexpected Null Values**:",
	"   - Verify source data integrity",
	"   - Check transformation logic for errors",
	"   - Review recent changes to data pipelines",
	"",
	"2. **Volume Anomalies**:",
	"   - Compare with historical patterns",
	"   - Check for changes in source systems",
	"   - Verify all data is being properly extracted",
}

// sourceIssues holds vendor-specific troubleshooting, keyed by source.
var sourceIssues = []struct {
	source string
	lines  []string
}{
	{"snowflake", []string{
		"\n### Snowflake-Specific Issues",
		"1. **Connection Issues**:",
		"   - Check network connectivity to Snowflake",
		"   - Verify credentials and access permissions",
		"   - Review warehouse suspension settings",
	}},
	{"fabric", []string{
		"\n### Fabric-Specific Issues",
		"1. **API Rate Limiting**:",
		"   - Check for throttling messages in logs",
		"   - Implement exponential backoff if needed",
		"   - Review API quota usage",
	}},
	{"dbt", []string{
		"\n### dbt Cloud-Specific Issues",
		"1. **Failed Job Runs**:",
		"   - Review the run's test failures in run_results.json",
		"   - Check for upstream model changes",
		"   - Re-trigger the job once the failing model is fixed",
	}},
	{"fivetran", []string{
		"\n### Fivetran-Specific Issues",
		"1. **Stalled Syncs**:",
		"   - Check whether the connector is paused or rescheduled",
		"   - Review the connector logs for source errors",
		"   - Verify the sync frequency matches the refresh expectation",
	}},
}

func troubleshooting(points []DataPoint) string {
	lines := append([]string(nil), commonIssues...)
	for _, s := range sourceIssues {
		if hasSource(points, s.source) {
			lines = append(lines, s.lines...)
		}
	}
	return strings.Join(lines, "\n")
}

func refreshSchedule(patterns RefreshPatterns) string {
	lines := []string{"## Refresh Schedule Summary\n"}
	groups := []struct {
		heading string
		points  []DataPoint
	}{
		{"### Hourly/Sub-hourly", patterns.Frequent},
		{"### Daily", patterns.Daily},
		{"### Weekly", patterns.Weekly},
		{"### Other Frequencies", patterns.Other},
	}
	first := true
	for _, g := range groups {
		if len(g.points) == 0 {
			continue
		}
		if first {
			lines = append(lines, g.heading)
			first = false
		} else {
			lines = append(lines, "\n"+g.heading)
		}
		for _, p := range g.points {
			lines = append(lines, fmt.Sprintf("- **%s** (%s): %s", p.Name, p.Source, p.RefreshRate))
		}
	}
	return strings.Join(lines, "\n")
}

// lineage chains up to three consecutive points as source and target tables.
func lineage(points []DataPoint) string {
	lines := []string{
		"## Data Lineage\n",
		"### Source Systems",
		"Data flows from these original sources through various transformations:",
	}
	for _, source := range sourceOrder(points) {
		lines = append(lines, fmt.Sprintf("\n**%s:**", displaySource(source)))
		for _, p := range bySource(points, source) {
			lines = append(lines, "- "+p.Table)
		}
	}
	lines = append(lines,
		"\n### Dependencies",
		"These data points have interdependencies that affect refresh scheduling and monitoring:")
	if len(points) > 1 {
		lines = append(lines, "\n```", "Source Tables → Transformation → Target Tables")
		for i := 0; i < min(3, len(points)-1); i++ {
			lines = append(lines, fmt.Sprintf("%s → Transform → %s", points[i].Table, points[(i+1)%len(points)].Table))
		}
		lines = append(lines, "```")
	}
	return strings.Join(lines, "\n")
}

var domainChecks = []struct {
	keyword string
	checks  []string
}{
	{"sales", []string{
		"- Validate sales totals against financial systems",
		"- Check for negative values in revenue fields",
		"- Verify no duplicate transaction IDs",
	}},
	{"customer", []string{
		"- Verify email format is valid where present",
		"- Check for duplicate customer records",
		"- Validate demographic data is within expected ranges",
	}},
	{"product", []string{
		"- Verify all products have valid categories",
		"- Check for negative inventory values",
		"- Validate pricing data is within expected ranges",
	}},
	{"traffic", []string{
		"- Verify page view counts are reasonable",
		"- Check for unusual traffic spikes",
		"- Validate referrer information",
	}},
}

var genericChecks = []string{
	"- Validate no unexpected null values in key fields",
	"- Check data volumes against historical averages",
	"- Verify data format consistency",
}

// QualityChecks picks checks by the first keyword found in the point's name
// or table.
func QualityChecks(p DataPoint) []string {
	name, table := strings.ToLower(p.Name), strings.ToLower(p.Table)
	for _, d := range domainChecks {
		if strings.Contains(name, d.keyword) || strings.Contains(table, d.keyword) {
			return d.checks
		}
	}
	return genericChecks
}

func qualityControl(points []DataPoint) string {
	lines := []string{
		"## Quality Control Measures\n",
		"### Automated Checks",
		"The following automated checks are implemented to ensure data quality:",
		"1. **Completeness**: Verify all expected records are present",
		"2. **Validity**: Check that values conform to expected formats and ranges",
		"3. **Consistency**: Ensure data is consistent across related tables",
		"4. **Timeliness**: Verify data is updated according to schedule",
		"\n### Data Point Specific Checks",
	}
	for _, p := range points {
		lines = append(lines, fmt.Sprintf("\n**%s**", p.Name))
		lines = append(lines, QualityChecks(p)...)
	}
	return strings.Join(lines, "\n")
}
