package metrics

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Threshold is a pass/fail criterion on one statistic of a metric,
// e.g. "p(95) < 500" or "rate > 0.99".
type Threshold struct {
	Expression string  `json:"expression"`
	Stat       Stat    `json:"-"`
	Operator   string  `json:"operator"`
	Value      float64 `json:"value"`
}

var thresholdPattern = regexp.MustCompile(`^\s*([A-Za-z]+(?:\([0-9.]+\)|[0-9.]+)?)\s*(<=|>=|==|!=|<|>)\s*(\S+)\s*$`)

// ParseThreshold parses a threshold expression.
//
// Valid formats:
//   - "p(95) < 500"
//   - "p95 < 500ms"
//   - "avg <= 1s"
//   - "rate > 0.99"
//   - "count >= 100"
//
// Duration literals are converted to milliseconds.
func ParseThreshold(expr string) (*Threshold, error) {
	if strings.TrimSpace(expr) == "" {
		return nil, fmt.Errorf("threshold expression cannot be empty")
	}

	m := thresholdPattern.FindStringSubmatch(expr)
	if m == nil {
		return nil, fmt.Errorf("invalid threshold expression %q: expected '<stat> <op> <value>'", expr)
	}

	var st Stat
	if strings.EqualFold(m[1], "rate") {
		st = Stat{Kind: StatRate, Name: m[1]}
	} else {
		parsed, err := ParseStat(m[1])
		if err != nil {
			return nil, fmt.Errorf("invalid threshold expression %q: %w", expr, err)
		}
		st = parsed
	}

	value, err := parseThresholdValue(m[3])
	if err != nil {
		return nil, fmt.Errorf("invalid threshold expression %q: %w", expr, err)
	}

	return &Threshold{
		Expression: strings.TrimSpace(expr),
		Stat:       st,
		Operator:   m[2],
		Value:      value,
	}, nil
}

func parseThresholdValue(s string) (float64, error) {
	if v, err := strconv.ParseFloat(s, 64); err == nil {
		return v, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid value %q", s)
	}
	return float64(d) / float64(time.Millisecond), nil
}

// Passes reports whether actual satisfies the threshold.
func (t *Threshold) Passes(actual float64) bool {
	switch t.Operator {
	case "<":
		return actual < t.Value
	case "<=":
		return actual <= t.Value
	case ">":
		return actual > t.Value
	case ">=":
		return actual >= t.Value
	case "==":
		return actual == t.Value
	case "!=":
		return actual != t.Value
	}
	return false
}
