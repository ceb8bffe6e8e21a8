package engine

import (
	"fmt"
	"sort"
	"time"

	"github.com/wesleyorama2/loadpair/internal/loadgen/checks"
	"github.com/wesleyorama2/loadpair/internal/loadgen/executor"
	"github.com/wesleyorama2/loadpair/internal/loadgen/metrics"
)

// Metric names the engine derives from the run.
const (
	MetricChecks        = "checks"
	MetricHTTPReqs      = "http_reqs"
	MetricHTTPReqFailed = "http_req_failed"
)

// RunSummary is the result of a run.
type RunSummary struct {
	RunID     string        `json:"runId"`
	Name      string        `json:"name,omitempty"`
	StartTime time.Time     `json:"startTime"`
	EndTime   time.Time     `json:"endTime"`
	Duration  time.Duration `json:"duration"`

	// Stats are the trend columns selected by summaryTrendStats
	Stats []string `json:"summaryTrendStats"`

	// Metrics merged across every scenario
	Metrics metrics.Summary `json:"metrics"`

	// Checks merged across every scenario, sorted by name
	Checks      []checks.Result `json:"checks"`
	CheckTotals checks.Counts   `json:"checkTotals"`

	Scenarios map[string]*ScenarioSummary `json:"scenarios"`

	Thresholds []ThresholdResult `json:"thresholds,omitempty"`
	Passed     bool              `json:"passed"`
}

// ScenarioSummary is the result of one scenario.
type ScenarioSummary struct {
	Name     string          `json:"name"`
	Executor executor.Type   `json:"executor"`
	Exec     string          `json:"exec"`
	Stats    *executor.Stats `json:"stats"`
	PeakVUs  int             `json:"peakVUs"`
	Metrics  metrics.Summary `json:"metrics"`
	Checks   []checks.Result `json:"checks"`
}

// ThresholdResult is the outcome of one threshold expression.
type ThresholdResult struct {
	Metric     string  `json:"metric"`
	Expression string  `json:"expression"`
	Value      float64 `json:"value"`
	Passed     bool    `json:"passed"`
	Message    string  `json:"message,omitempty"`
}

// TrendStat returns the value of a summary statistic for a trend metric.
func (s *RunSummary) TrendStat(metric string, st metrics.Stat) (float64, bool) {
	trend, ok := s.Metrics.Trends[metric]
	if !ok {
		return 0, false
	}
	return trend.Value(st)
}

// summarize merges every scenario's shards and evaluates thresholds.
func (e *Engine) summarize(runID string, start, end time.Time) *RunSummary {
	quantiles := e.quantiles()

	total := metrics.NewRegistry()
	tally := checks.NewTally()

	s := &RunSummary{
		RunID:     runID,
		Name:      e.cfg.Name,
		StartTime: start,
		EndTime:   end,
		Duration:  end.Sub(start),
		Stats:     append([]string(nil), e.cfg.SummaryTrendStats...),
		Scenarios: make(map[string]*ScenarioSummary, len(e.names)),
	}

	for _, name := range e.names {
		sr := e.scenarios[name]
		reg, ck := sr.collect()

		stats := sr.executor.GetStats()
		if sr.config.Type == executor.TypeConstantArrivalRate {
			reg.Add(executor.MetricDroppedIterations, float64(stats.Dropped))
		}

		peak := 0
		if sr.pool != nil {
			peak = sr.pool.Peak()
		}

		s.Scenarios[name] = &ScenarioSummary{
			Name:     name,
			Executor: sr.config.Type,
			Exec:     sr.config.Exec,
			Stats:    stats,
			PeakVUs:  peak,
			Metrics:  reg.Summary(quantiles),
			Checks:   ck.Results(),
		}

		total.Merge(reg)
		tally.Merge(ck)
	}

	s.Metrics = total.Summary(quantiles)
	s.Checks = tally.Results()
	s.CheckTotals = tally.Totals()
	s.Thresholds = e.evaluateThresholds(s, tally)

	s.Passed = true
	for _, th := range s.Thresholds {
		if !th.Passed {
			s.Passed = false
			break
		}
	}
	return s
}

// quantiles returns the percentiles needed by the summary columns and the
// thresholds.
func (e *Engine) quantiles() []float64 {
	stats := append([]metrics.Stat(nil), e.stats...)
	for _, ths := range e.thresholds {
		for _, th := range ths {
			stats = append(stats, th.Stat)
		}
	}
	qs := metrics.Quantiles(stats)
	if qs == nil {
		qs = []float64{}
	}
	return qs
}

// evaluateThresholds evaluates all configured thresholds, sorted by metric.
func (e *Engine) evaluateThresholds(s *RunSummary, tally *checks.Tally) []ThresholdResult {
	names := make([]string, 0, len(e.thresholds))
	for name := range e.thresholds {
		names = append(names, name)
	}
	sort.Strings(names)

	var results []ThresholdResult
	for _, name := range names {
		for _, th := range e.thresholds[name] {
			results = append(results, evaluateThreshold(name, th, s, tally))
		}
	}
	return results
}

func evaluateThreshold(metric string, th *metrics.Threshold, s *RunSummary, tally *checks.Tally) ThresholdResult {
	result := ThresholdResult{Metric: metric, Expression: th.Expression}

	value, err := thresholdValue(metric, th.Stat, s, tally)
	if err != nil {
		result.Message = err.Error()
		return result
	}

	result.Value = value
	result.Passed = th.Passes(value)
	if !result.Passed {
		result.Message = fmt.Sprintf("%s is %.4g, threshold: %s %s %.4g", th.Stat.Name, value, th.Stat.Name, th.Operator, th.Value)
	}
	return result
}

func thresholdValue(metric string, st metrics.Stat, s *RunSummary, tally *checks.Tally) (float64, error) {
	if metric == MetricChecks {
		if st.Kind != metrics.StatRate {
			return 0, fmt.Errorf("checks only supports 'rate', got %q", st.Name)
		}
		if tally.Totals().Total() == 0 {
			return 0, fmt.Errorf("no checks were evaluated")
		}
		return tally.Rate(), nil
	}

	if trend, ok := s.Metrics.Trends[metric]; ok {
		if st.Kind == metrics.StatRate {
			return 0, fmt.Errorf("%s is a trend and does not support 'rate'", metric)
		}
		v, ok := trend.Value(st)
		if !ok || trend.Count == 0 {
			return 0, fmt.Errorf("%s has no samples", metric)
		}
		return v, nil
	}

	count := s.Metrics.Counters[metric]
	switch st.Kind {
	case metrics.StatCount:
		return count, nil
	case metrics.StatRate:
		if metric == MetricHTTPReqFailed {
			reqs := s.Metrics.Counters[MetricHTTPReqs]
			if reqs == 0 {
				return 0, nil
			}
			return count / reqs, nil
		}
		secs := s.Duration.Seconds()
		if secs <= 0 {
			return 0, nil
		}
		return count / secs, nil
	}
	return 0, fmt.Errorf("%s has no samples for %q", metric, st.Name)
}
