package csvstats

import (
	"time"

	"github.com/montanaflynn/stats"
)

type ColumnStats struct {
	Dtype          string  `json:"dtype"`
	Count          int     `json:"count"`
	NullCount      int     `json:"null_count"`
	NullPercentage float64 `json:"null_percentage"`
	UniqueValues   int     `json:"unique_values"`
	*NumericStats
}

// NumericStats is present only for numeric and boolean columns. A nil field
// means the statistic is undefined (no values, or one value for Std).
type NumericStats struct {
	Min    *float64 `json:"min"`
	Max    *float64 `json:"max"`
	Mean   *float64 `json:"mean"`
	Median *float64 `json:"median"`
	Std    *float64 `json:"std"`
}

type FileStats struct {
	TotalRows    int       `json:"total_rows"`
	TotalColumns int       `json:"total_columns"`
	MemoryUsage  int64     `json:"memory_usage"`
	FileSize     int       `json:"file_size"`
	AnalyzedAt   time.Time `json:"analyzed_at"`
}

type Analysis struct {
	FileStats   FileStats              `json:"file_stats"`
	ColumnStats map[string]ColumnStats `json:"column_stats"`
}

// Analyze computes per-column statistics for t. fileSize is the raw upload
// size in bytes.
func Analyze(t Table, fileSize int, now time.Time) Analysis {
	out := Analysis{
		FileStats: FileStats{
			TotalRows:    len(t.Rows),
			TotalColumns: len(t.Columns),
			MemoryUsage:  memoryUsage(t),
			FileSize:     fileSize,
			AnalyzedAt:   now,
		},
		ColumnStats: make(map[string]ColumnStats, len(t.Columns)),
	}
	for c, name := range t.Columns {
		out.ColumnStats[name] = column(t, c)
	}
	return out
}

func column(t Table, c int) ColumnStats {
	cs := ColumnStats{Dtype: t.Dtypes[c]}
	unique := make(map[any]struct{})
	var nums stats.Float64Data
	for _, row := range t.Rows {
		v := row[c]
		if v == nil {
			cs.NullCount++
			continue
		}
		cs.Count++
		unique[v] = struct{}{}
		switch x := v.(type) {
		case int64:
			nums = append(nums, float64(x))
		case float64:
			nums = append(nums, x)
		case bool:
			if x {
				nums = append(nums, 1)
			} else {
				nums = append(nums, 0)
			}
		}
	}
	cs.UniqueValues = len(unique)
	if total := len(t.Rows); total > 0 {
		cs.NullPercentage = float64(cs.NullCount) / float64(total) * 100
	}
	if cs.Dtype != DtypeObject {
		cs.NumericStats = numeric(nums)
	}
	return cs
}

func numeric(nums stats.Float64Data) *NumericStats {
	ns := &NumericStats{}
	if len(nums) == 0 {
		return ns
	}
	ns.Min = defined(stats.Min(nums))
	ns.Max = defined(stats.Max(nums))
	ns.Mean = defined(stats.Mean(nums))
	ns.Median = defined(stats.Median(nums))
	if len(nums) > 1 {
		ns.Std = defined(stats.StandardDeviationSample(nums))
	}
	return ns
}

func defined(v float64, err error) *float64 {
	if err != nil {
		return nil
	}
	return &v
}

// memoryUsage estimates the in-memory size of t: eight bytes per numeric
// cell, one per boolean, and the string bytes plus a header for text.
func memoryUsage(t Table) int64 {
	const stringHeader = 16
	var n int64
	for c, dtype := range t.Dtypes {
		for _, row := range t.Rows {
			switch dtype {
			case DtypeInt, DtypeFloat:
				n += 8
			case DtypeBool:
				n++
			default:
				n += stringHeader
				if s, ok := row[c].(string); ok {
					n += int64(len(s))
				}
			}
		}
	}
	return n
}
