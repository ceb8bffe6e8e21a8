// Package metrics accumulates iteration samples into streaming summaries.
package metrics

import (
	"math"
	"sort"
	"sync"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
)

// Config contains configuration for trend histograms.
type Config struct {
	// Scale converts a recorded float value into the integer units stored
	// in the histogram (default: 1000, so milliseconds keep microsecond
	// resolution).
	Scale float64

	// HistogramMax is the maximum recordable value in stored units
	// (default: 3600000000, one hour of microseconds).
	HistogramMax int64

	// HistogramSigFigs is the number of significant figures (default: 3)
	HistogramSigFigs int
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		Scale:            1000,
		HistogramMax:     3600000000,
		HistogramSigFigs: 3,
	}
}

// DefaultPercentiles are the quantiles reported when none are configured.
var DefaultPercentiles = []float64{50, 90, 95, 99}

// Trend summarizes a stream of numeric samples in constant memory.
//
// Percentiles come from an HDR histogram and are approximate within the
// configured significant figures. Count, sum, min and max are exact. All
// values are stored as integers, so a summary does not depend on the order
// in which samples were recorded.
type Trend struct {
	mu    sync.Mutex
	cfg   Config
	hist  *hdrhistogram.Histogram
	count int64
	sum   int64
	min   int64
	max   int64
}

// NewTrend creates an empty trend.
func NewTrend(cfg Config) *Trend {
	return &Trend{
		cfg:  cfg,
		hist: hdrhistogram.New(1, cfg.HistogramMax, cfg.HistogramSigFigs),
	}
}

// maxUnits caps a single stored sample. 2^53 is exactly representable as
// a float64, so the conversion below cannot overflow.
const maxUnits = 1 << 53

// Record adds a sample. NaN is ignored, negative values are recorded as
// zero and values above maxUnits stored units are capped.
func (t *Trend) Record(value float64) {
	if math.IsNaN(value) {
		return
	}
	scaled := math.Round(value * t.cfg.Scale)
	if scaled < 0 {
		scaled = 0
	}
	if scaled > maxUnits {
		scaled = maxUnits
	}
	units := int64(scaled)

	// Clamp to the histogram range; min/max/sum keep the exact value.
	histValue := units
	if histValue > t.cfg.HistogramMax {
		histValue = t.cfg.HistogramMax
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	// histValue is within [0, HistogramMax], which RecordValue never rejects.
	_ = t.hist.RecordValue(histValue)
	if t.count == 0 || units < t.min {
		t.min = units
	}
	if t.count == 0 || units > t.max {
		t.max = units
	}
	t.count++
	t.sum += units
}

// Merge adds all samples of other into t.
func (t *Trend) Merge(other *Trend) {
	if other == nil || other == t {
		return
	}

	other.mu.Lock()
	snapshot := hdrhistogram.Import(other.hist.Export())
	count, sum, minV, maxV := other.count, other.sum, other.min, other.max
	other.mu.Unlock()

	if count == 0 {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.hist.Merge(snapshot)
	if t.count == 0 || minV < t.min {
		t.min = minV
	}
	if t.count == 0 || maxV > t.max {
		t.max = maxV
	}
	t.count += count
	t.sum += sum
}

// Count returns the number of recorded samples.
func (t *Trend) Count() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.count
}

// Summary computes the summary statistics for the given percentiles
// (expressed in percent, e.g. 95 for p95).
//
// Percentile values are clamped into [min, max], which keeps them
// monotonic in the quantile and never above the observed maximum.
func (t *Trend) Summary(percentiles []float64) TrendSummary {
	t.mu.Lock()
	defer t.mu.Unlock()

	s := TrendSummary{Count: t.count}
	if t.count == 0 {
		return s
	}

	s.Min = t.fromUnits(t.min)
	s.Max = t.fromUnits(t.max)
	s.Mean = float64(t.sum) / float64(t.count) / t.cfg.Scale

	sorted := append([]float64(nil), percentiles...)
	sort.Float64s(sorted)

	s.Percentiles = make([]Percentile, 0, len(sorted))
	for _, q := range sorted {
		v := t.hist.ValueAtQuantile(q)
		if v < t.min {
			v = t.min
		}
		if v > t.max {
			v = t.max
		}
		s.Percentiles = append(s.Percentiles, Percentile{Quantile: q, Value: t.fromUnits(v)})
	}
	return s
}

func (t *Trend) fromUnits(units int64) float64 {
	return float64(units) / t.cfg.Scale
}

// Counter is a monotonically accumulated sum.
type Counter struct {
	mu    sync.Mutex
	scale float64
	units int64
}

// Add increases the counter by delta.
func (c *Counter) Add(delta float64) {
	units := int64(math.Round(delta * c.scale))
	c.mu.Lock()
	c.units += units
	c.mu.Unlock()
}

// Value returns the current total.
func (c *Counter) Value() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return float64(c.units) / c.scale
}

// TrendSummary contains the summary statistics of one trend.
type TrendSummary struct {
	Count       int64        `json:"count"`
	Min         float64      `json:"min"`
	Max         float64      `json:"max"`
	Mean        float64      `json:"avg"`
	Percentiles []Percentile `json:"percentiles,omitempty"`
}

// Percentile is the value at a given quantile (in percent).
type Percentile struct {
	Quantile float64 `json:"p"`
	Value    float64 `json:"value"`
}

// Percentile returns the value for quantile q if it was computed.
func (s TrendSummary) Percentile(q float64) (float64, bool) {
	for _, p := range s.Percentiles {
		if p.Quantile == q {
			return p.Value, true
		}
	}
	return 0, false
}

// Summary is a point-in-time view of a registry.
type Summary struct {
	Trends   map[string]TrendSummary `json:"trends"`
	Counters map[string]float64      `json:"counters"`
}

// Registry holds the named trends and counters of one worker, scenario or
// run. Registries are merged bottom-up: per-VU shards into a scenario, and
// scenarios into the run.
type Registry struct {
	mu       sync.Mutex
	cfg      Config
	trends   map[string]*Trend
	counters map[string]*Counter
}

// NewRegistry creates a registry with the default configuration.
func NewRegistry() *Registry {
	return NewRegistryWithConfig(DefaultConfig())
}

// NewRegistryWithConfig creates a registry with a custom configuration.
func NewRegistryWithConfig(cfg Config) *Registry {
	return &Registry{
		cfg:      cfg,
		trends:   make(map[string]*Trend),
		counters: make(map[string]*Counter),
	}
}

// Trend returns the trend called name, creating it if needed.
func (r *Registry) Trend(name string) *Trend {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.trends[name]
	if !ok {
		t = NewTrend(r.cfg)
		r.trends[name] = t
	}
	return t
}

func (r *Registry) counter(name string) *Counter {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.counters[name]
	if !ok {
		c = &Counter{scale: r.cfg.Scale}
		r.counters[name] = c
	}
	return c
}

// Record adds a sample to the trend called name.
func (r *Registry) Record(name string, value float64) {
	r.Trend(name).Record(value)
}

// RecordDuration adds a duration sample, in milliseconds, to the trend
// called name.
func (r *Registry) RecordDuration(name string, d time.Duration) {
	r.Record(name, float64(d)/float64(time.Millisecond))
}

// Add increases the counter called name by delta.
func (r *Registry) Add(name string, delta float64) {
	r.counter(name).Add(delta)
}

// Counter returns the value of the counter called name (0 if unknown).
func (r *Registry) Counter(name string) float64 {
	r.mu.Lock()
	c, ok := r.counters[name]
	r.mu.Unlock()
	if !ok {
		return 0
	}
	return c.Value()
}

// Merge adds every trend and counter of other into r.
func (r *Registry) Merge(other *Registry) {
	if other == nil || other == r {
		return
	}

	other.mu.Lock()
	trends := make(map[string]*Trend, len(other.trends))
	for name, t := range other.trends {
		trends[name] = t
	}
	counters := make(map[string]*Counter, len(other.counters))
	for name, c := range other.counters {
		counters[name] = c
	}
	other.mu.Unlock()

	for name, t := range trends {
		r.Trend(name).Merge(t)
	}
	for name, c := range counters {
		r.Add(name, c.Value())
	}
}

// Summary summarizes every metric in the registry.
func (r *Registry) Summary(percentiles []float64) Summary {
	if percentiles == nil {
		percentiles = DefaultPercentiles
	}

	r.mu.Lock()
	trends := make(map[string]*Trend, len(r.trends))
	for name, t := range r.trends {
		trends[name] = t
	}
	counters := make(map[string]*Counter, len(r.counters))
	for name, c := range r.counters {
		counters[name] = c
	}
	r.mu.Unlock()

	s := Summary{
		Trends:   make(map[string]TrendSummary, len(trends)),
		Counters: make(map[string]float64, len(counters)),
	}
	for name, t := range trends {
		s.Trends[name] = t.Summary(percentiles)
	}
	for name, c := range counters {
		s.Counters[name] = c.Value()
	}
	return s
}
