package sop

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var samplePoints = []DataPoint{
	{ID: "1", Name: "Sales Orders", Table: "ANALYTICS.SALES_ORDERS", RefreshRate: "Every hour", Source: "snowflake"},
	{ID: "2", Name: "Customer Profiles", Table: "crm.customers", RefreshRate: "Daily", Source: "fabric", LastRefreshed: "2026-10-15T12:00:00Z"},
	{ID: "3", Name: "Web Traffic", Table: "ANALYTICS.TRAFFIC", RefreshRate: "Weekly", Source: "snowflake"},
	{ID: "4", Name: "Inventory", Table: "ops.stock", RefreshRate: "On demand", Source: "fivetran"},
}

func fixedGenerator() *Generator {
	now := time.Date(2026, 10, 17, 12, 0, 0, 0, time.UTC)
	return &Generator{Now: func() time.Time { return now }}
}

func sectionTitles(doc Document) []string {
	titles := make([]string, 0, len(doc.Sections))
	for _, s := range doc.Sections {
		titles = append(titles, s.Title)
	}
	return titles
}

func TestGenerateRequiresDataPoints(t *testing.T) {
	_, err := fixedGenerator().Generate(Request{})
	require.ErrorIs(t, err, ErrNoDataPoints)
}

func TestGenerateTemplates(t *testing.T) {
	tests := []struct {
		template string
		want     []string
	}{
		{"", []string{"Overview", "Data Sources", "Monitoring Procedures", "Troubleshooting Guide", "Refresh Schedule"}},
		{"unknown", []string{"Overview", "Data Sources", "Monitoring Procedures", "Troubleshooting Guide", "Refresh Schedule"}},
		{"detailed", []string{
			"Overview", "Data Sources", "Monitoring Procedures", "Troubleshooting Guide", "Refresh Schedule",
			"Data Lineage", "Quality Control Measures", "Escalation Procedures", "Compliance and Governance",
		}},
		{"quickstart", []string{"Quick Start", "Key Data Points", "Common Issues"}},
	}
	for _, tt := range tests {
		t.Run(tt.template, func(t *testing.T) {
			doc, err := fixedGenerator().Generate(Request{DataPoints: samplePoints, Template: tt.template})
			require.NoError(t, err)
			assert.Equal(t, tt.want, sectionTitles(doc))
		})
	}
}

func TestGenerateSummary(t *testing.T) {
	doc, err := fixedGenerator().Generate(Request{DataPoints: samplePoints, Audience: "executive", Goals: "Fresh KPIs"})
	require.NoError(t, err)

	assert.Equal(t, documentTitle, doc.Title)
	assert.Equal(t, "This SOP covers the management of 4 data points across snowflake, fabric, fivetran sources", doc.Summary)
	assert.Equal(t, audiences["executive"], doc.Audience)
	assert.Equal(t, Summary{TotalPoints: 4, BySource: map[string]int{"snowflake": 2, "fabric": 1, "fivetran": 1}}, doc.DataPointsSummary)
	assert.Contains(t, doc.Sections[0].Content, "Key business objectives: Fresh KPIs")
	assert.Contains(t, doc.Sections[2].Content, "- **Sales Orders**: Check every every hour")
	assert.Contains(t, doc.Sections[3].Content, "Snowflake-Specific Issues")
	assert.Contains(t, doc.Sections[3].Content, "Fabric-Specific Issues")
	assert.NotContains(t, doc.Sections[3].Content, "dbt Cloud-Specific Issues")
}

func TestAudienceDescriptionFallsBackToMixed(t *testing.T) {
	assert.Equal(t, audiences["mixed"], AudienceDescription("board"))
	assert.Equal(t, audiences["technical"], AudienceDescription(" Technical "))
}

func TestClassifyRefresh(t *testing.T) {
	p := ClassifyRefresh([]DataPoint{
		{ID: "a", RefreshRate: "Every 15 minutes"},
		{ID: "b", RefreshRate: "hourly, once a day"},
		{ID: "c", RefreshRate: "Daily at 2am"},
		{ID: "d", RefreshRate: "every 2 days"},
		{ID: "e", RefreshRate: "Weekly"},
		{ID: "f", RefreshRate: "monthly"},
		{ID: "g"},
	})

	ids := func(points []DataPoint) []string {
		var out []string
		for _, p := range points {
			out = append(out, p.ID)
		}
		return out
	}
	assert.Equal(t, []string{"a", "b"}, ids(p.Frequent))
	assert.Equal(t, []string{"c", "d"}, ids(p.Daily))
	assert.Equal(t, []string{"e"}, ids(p.Weekly))
	assert.Equal(t, []string{"f", "g"}, ids(p.Other))
}

func TestRefreshAge(t *testing.T) {
	now := time.Date(2026, 10, 17, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		in   string
		want string
	}{
		{"", "Unknown"},
		{"yesterday-ish", "Unknown format"},
		{"2026-10-07T12:00:00Z", "10 days ago"},
		{"2026-10-14T11:00:00Z", "3 day(s) ago"},
		{"2026-10-17T09:30:00", "2 hour(s) ago"},
		{"2026-10-17 11:50:00", "10 minute(s) ago"},
		{"2026-10-17T11:59:30Z", "Just now"},
		{"2026-10-17T12:30:00+02:00", "1 hour(s) ago"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, RefreshAge(tt.in, now), tt.in)
	}
}

func TestQuickstartIncludesRefreshAge(t *testing.T) {
	doc, err := fixedGenerator().Generate(Request{DataPoints: samplePoints, Template: TemplateQuickstart})
	require.NoError(t, err)

	key := doc.Sections[1].Content
	assert.Contains(t, key, "- **Customer Profiles** (fabric)\n  - Table: `crm.customers`\n  - Refresh: Daily\n  - Last updated: 2 day(s) ago")
	assert.Contains(t, key, "- **Inventory** (fivetran)\n  - Table: `ops.stock`\n  - Refresh: On demand\n  - Last updated: Unknown")
}

func TestDetailedLineageAndQualityChecks(t *testing.T) {
	doc, err := fixedGenerator().Generate(Request{DataPoints: samplePoints, Template: TemplateDetailed})
	require.NoError(t, err)

	lineage := doc.Sections[5].Content
	assert.Contains(t, lineage, "**Snowflake:**\n- ANALYTICS.SALES_ORDERS\n- ANALYTICS.TRAFFIC")
	assert.Contains(t, lineage, "ANALYTICS.SALES_ORDERS → Transform → crm.customers")
	assert.Contains(t, lineage, "ANALYTICS.TRAFFIC → Transform → ops.stock")
	assert.Equal(t, 3, strings.Count(lineage, "→ Transform →"))

	qc := doc.Sections[6].Content
	assert.Contains(t, qc, "**Sales Orders**\n- Validate sales totals against financial systems")
	assert.Contains(t, qc, "**Customer Profiles**\n- Verify email format is valid where present")
	assert.Contains(t, qc, "**Inventory**\n- Validate no unexpected null values in key fields")
}

func TestLineageSinglePointHasNoChain(t *testing.T) {
	doc, err := fixedGenerator().Generate(Request{DataPoints: samplePoints[:1], Template: TemplateDetailed})
	require.NoError(t, err)
	assert.NotContains(t, doc.Sections[5].Content, "```")
}
