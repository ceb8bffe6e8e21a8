// Package output renders run summaries.
package output

import (
	"bufio"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/wesleyorama2/loadpair/internal/loadgen/engine"
	"github.com/wesleyorama2/loadpair/internal/loadgen/metrics"
)

const nameWidth = 40

// TextOptions configures WriteText.
type TextOptions struct {
	// NoColor disables ANSI colors
	NoColor bool
}

// WriteText writes the human readable summary of a run: thresholds,
// checks, the trend table with the configured columns, counters and a
// per-scenario breakdown.
func WriteText(w io.Writer, s *engine.RunSummary, opts TextOptions) error {
	scheme := DefaultColorScheme()
	if opts.NoColor {
		scheme = NoColorScheme()
	}

	bw := bufio.NewWriter(w)
	t := &textWriter{w: bw, c: scheme}
	t.write(s)
	return bw.Flush()
}

type textWriter struct {
	w *bufio.Writer
	c *ColorScheme
}

func (t *textWriter) line(format string, args ...interface{}) {
	fmt.Fprintf(t.w, format+"\n", args...)
}

func (t *textWriter) write(s *engine.RunSummary) {
	title := "loadpair summary"
	if s.Name != "" {
		title = s.Name
	}
	status := t.c.Pass.Sprint("PASSED")
	if !s.Passed {
		status = t.c.Fail.Sprint("FAILED")
	}
	rule := strings.Repeat("━", 60)

	t.line("%s", t.c.Title.Sprint(rule))
	t.line("%s - %s", t.c.Section.Sprint(title), status)
	t.line("%s", t.c.Title.Sprint(rule))
	t.line("run %s, duration %s", t.c.Dim.Sprint(s.RunID), t.c.Value.Sprint(s.Duration.Round(time.Millisecond)))
	t.line("")

	t.writeThresholds(s)
	t.writeChecks(s)
	t.writeMetrics(s)
	t.writeScenarios(s)
}

func (t *textWriter) mark(ok bool) string {
	if ok {
		return t.c.Pass.Sprint("✓")
	}
	return t.c.Fail.Sprint("✗")
}

func (t *textWriter) writeThresholds(s *engine.RunSummary) {
	if len(s.Thresholds) == 0 {
		return
	}
	t.line("%s", t.c.Section.Sprint("THRESHOLDS"))
	metric := ""
	for _, th := range s.Thresholds {
		if th.Metric != metric {
			metric = th.Metric
			t.line("  %s", t.c.Name.Sprint(metric))
		}
		detail := formatNumber(th.Value)
		if th.Message != "" && !th.Passed {
			detail = th.Message
		}
		t.line("  %s '%s' %s", t.mark(th.Passed), th.Expression, t.c.Dim.Sprint(detail))
	}
	t.line("")
}

func (t *textWriter) writeChecks(s *engine.RunSummary) {
	if len(s.Checks) == 0 {
		return
	}
	t.line("%s", t.c.Section.Sprint("CHECKS"))
	for _, ck := range s.Checks {
		rate := 0.0
		if total := ck.Total(); total > 0 {
			rate = float64(ck.Passes) / float64(total) * 100
		}
		t.line("  %s %s", t.mark(ck.Fails == 0), ck.Name)
		t.line("     %s %.0f%% %s %d / %s %d", t.c.Dim.Sprint("↳"), rate,
			t.c.Pass.Sprint("✓"), ck.Passes, t.c.Fail.Sprint("✗"), ck.Fails)
	}
	totals := s.CheckTotals
	rate := 0.0
	if totals.Total() > 0 {
		rate = float64(totals.Passes) / float64(totals.Total()) * 100
	}
	t.line("  %s %.2f%% %d out of %d", t.c.Name.Sprint(dots("checks")), rate, totals.Passes, totals.Total())
	t.line("")
}

func (t *textWriter) writeMetrics(s *engine.RunSummary) {
	stats, _ := metrics.ParseStats(s.Stats)

	t.line("%s", t.c.Section.Sprint("METRICS"))

	names := make([]string, 0, len(s.Metrics.Counters)+len(s.Metrics.Trends))
	for name := range s.Metrics.Counters {
		names = append(names, name)
	}
	for name := range s.Metrics.Trends {
		names = append(names, name)
	}
	sort.Strings(names)

	secs := s.Duration.Seconds()
	for _, name := range names {
		if trend, ok := s.Metrics.Trends[name]; ok {
			t.line("  %s %s", t.c.Name.Sprint(dots(name)), t.trendColumns(name, trend, stats))
			continue
		}
		count := s.Metrics.Counters[name]
		perSec := 0.0
		if secs > 0 {
			perSec = count / secs
		}
		t.line("  %s %s %s", t.c.Name.Sprint(dots(name)), t.c.Value.Sprint(formatNumber(count)),
			t.c.Dim.Sprintf("%s/s", formatNumber(perSec)))
	}
	t.line("")
}

func (t *textWriter) trendColumns(name string, trend metrics.TrendSummary, stats []metrics.Stat) string {
	cols := make([]string, 0, len(stats))
	for _, st := range stats {
		v, ok := trend.Value(st)
		if !ok {
			continue
		}
		var formatted string
		if st.Kind == metrics.StatCount {
			formatted = formatNumber(v)
		} else {
			formatted = formatValue(name, v)
		}
		cols = append(cols, fmt.Sprintf("%s=%s", st.Name, t.c.Value.Sprint(formatted)))
	}
	return strings.Join(cols, " ")
}

func (t *textWriter) writeScenarios(s *engine.RunSummary) {
	if len(s.Scenarios) == 0 {
		return
	}
	names := make([]string, 0, len(s.Scenarios))
	for name := range s.Scenarios {
		names = append(names, name)
	}
	sort.Strings(names)

	t.line("%s", t.c.Section.Sprint("SCENARIOS"))
	for _, name := range names {
		sc := s.Scenarios[name]
		st := sc.Stats
		t.line("  %s [%s] exec=%s", t.c.Name.Sprint(name), sc.Executor, sc.Exec)
		if st == nil {
			continue
		}
		t.line("    iterations=%d errors=%d timed_out=%d peak_vus=%d max_vus=%d",
			st.Iterations, st.IterationErrors, st.TimedOut, sc.PeakVUs, st.MaxVUs)
		if st.TicksAttempted > 0 || st.TargetRate > 0 {
			t.line("    rate=%s/s actual=%s/s dropped=%d late=%d",
				formatNumber(st.TargetRate), formatNumber(st.ActualRate), st.Dropped, st.LateTicks)
		}
		if st.Stages > 0 {
			t.line("    stage=%d/%d target_vus=%d", st.Stage, st.Stages, st.TargetVUs)
		}
	}
	t.line("")
}

// dots pads a metric name with dots, k6 style.
func dots(name string) string {
	if len(name) >= nameWidth-1 {
		return name + ":"
	}
	return name + strings.Repeat(".", nameWidth-1-len(name)) + ":"
}

// formatValue formats a trend value; durations are recorded in
// milliseconds. Every http_req_* trend is a duration.
func formatValue(metric string, v float64) string {
	if !isDurationMetric(metric) {
		return formatNumber(v)
	}
	return formatMillis(v)
}

func isDurationMetric(metric string) bool {
	return strings.HasSuffix(metric, "_duration") ||
		strings.HasPrefix(metric, "group_duration") ||
		strings.HasPrefix(metric, "http_req_")
}

func formatMillis(ms float64) string {
	switch {
	case ms < 1:
		return fmt.Sprintf("%.2fµs", ms*1000)
	case ms < 1000:
		return fmt.Sprintf("%.2fms", ms)
	default:
		return fmt.Sprintf("%.2fs", ms/1000)
	}
}

func formatNumber(v float64) string {
	if v == float64(int64(v)) {
		return fmt.Sprintf("%d", int64(v))
	}
	return fmt.Sprintf("%.2f", v)
}
