package metrics

import (
	"fmt"
	"strconv"
	"strings"
)

// StatKind identifies a summary statistic of a trend.
type StatKind string

const (
	StatAvg        StatKind = "avg"
	StatMin        StatKind = "min"
	StatMax        StatKind = "max"
	StatCount      StatKind = "count"
	StatPercentile StatKind = "percentile"

	// StatRate is only valid in thresholds: the pass rate of checks, the
	// failure ratio of a failure counter, or a counter's per-second rate.
	StatRate StatKind = "rate"
)

// Stat is a parsed summary statistic such as "avg" or "p(95)".
type Stat struct {
	Kind     StatKind
	Quantile float64 // percent, only for StatPercentile
	Name     string  // the original spelling, used as a column header
}

// ParseStat parses a statistic name.
//
// Accepted forms: avg, mean, min, max, med, count, p(90), p(99.9), p95.
func ParseStat(s string) (Stat, error) {
	name := strings.TrimSpace(s)
	switch strings.ToLower(name) {
	case "avg", "mean":
		return Stat{Kind: StatAvg, Name: name}, nil
	case "min":
		return Stat{Kind: StatMin, Name: name}, nil
	case "max":
		return Stat{Kind: StatMax, Name: name}, nil
	case "count":
		return Stat{Kind: StatCount, Name: name}, nil
	case "med":
		return Stat{Kind: StatPercentile, Quantile: 50, Name: name}, nil
	}

	raw := strings.ToLower(name)
	if !strings.HasPrefix(raw, "p") {
		return Stat{}, fmt.Errorf("unknown statistic: %q", s)
	}
	raw = strings.TrimPrefix(raw, "p")
	if strings.HasPrefix(raw, "(") && strings.HasSuffix(raw, ")") {
		raw = raw[1 : len(raw)-1]
	}

	q, err := strconv.ParseFloat(raw, 64)
	if err != nil || q < 0 || q > 100 {
		return Stat{}, fmt.Errorf("invalid percentile: %q", s)
	}
	return Stat{Kind: StatPercentile, Quantile: q, Name: name}, nil
}

// ParseStats parses a list of statistic names.
func ParseStats(names []string) ([]Stat, error) {
	stats := make([]Stat, 0, len(names))
	for _, n := range names {
		st, err := ParseStat(n)
		if err != nil {
			return nil, err
		}
		stats = append(stats, st)
	}
	return stats, nil
}

// Quantiles returns the distinct percentiles requested by stats.
func Quantiles(stats []Stat) []float64 {
	seen := make(map[float64]bool)
	var qs []float64
	for _, st := range stats {
		if st.Kind == StatPercentile && !seen[st.Quantile] {
			seen[st.Quantile] = true
			qs = append(qs, st.Quantile)
		}
	}
	return qs
}

// Value returns the statistic from a trend summary.
func (s TrendSummary) Value(st Stat) (float64, bool) {
	switch st.Kind {
	case StatAvg:
		return s.Mean, true
	case StatMin:
		return s.Min, true
	case StatMax:
		return s.Max, true
	case StatCount:
		return float64(s.Count), true
	case StatPercentile:
		return s.Percentile(st.Quantile)
	}
	return 0, false
}
