// Package script contains the built-in iteration functions that exercise
// the target service.
package script

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/tidwall/gjson"

	"github.com/wesleyorama2/loadpair/internal/loadgen"
)

// Names of the built-in iteration functions.
const (
	ExecDefault   = "default"
	ExecRoot      = "root"
	ExecForecast  = "forecast"
	ExecFunction1 = "function1"
)

// Check names.
const (
	CheckStatus200     = "status was 200"
	CheckFiveForecasts = "five forecasts"
	CheckSchema        = "forecast matches schema"
)

// DefaultFunction1URL is requested by function1 unless the scenario sets URL.
const DefaultFunction1URL = "https://test-api.k6.io/public/crocodiles/"

// Options configures the built-in functions.
type Options struct {
	// BaseURL of the target service, without trailing slash
	BaseURL string

	// DiscardResponseBodies drains bodies that no check inspects
	DiscardResponseBodies bool
}

// Library holds the built-in iteration functions.
type Library struct {
	opts   Options
	client *Client
	schema *jsonschema.Schema
}

// NewLibrary compiles the forecast schema and prepares the functions.
func NewLibrary(opts Options) (*Library, error) {
	schema, err := compileSchema("forecast.json", forecastSchema)
	if err != nil {
		return nil, err
	}
	return &Library{
		opts:   opts,
		client: &Client{DiscardResponseBodies: opts.DiscardResponseBodies},
		schema: schema,
	}, nil
}

// Register adds every built-in function to reg.
func Register(reg *loadgen.Registry, opts Options) error {
	lib, err := NewLibrary(opts)
	if err != nil {
		return err
	}

	funcs := map[string]loadgen.IterationFunc{
		ExecDefault:   lib.Default,
		ExecRoot:      lib.Root,
		ExecForecast:  lib.Forecast,
		ExecFunction1: lib.Function1,
	}
	for name, fn := range funcs {
		if err := reg.Register(name, fn); err != nil {
			return err
		}
	}
	return nil
}

// Root requests GET {baseUrl}/.
func (l *Library) Root(ctx context.Context, it *loadgen.Iteration) error {
	res := l.client.Get(ctx, it, l.opts.BaseURL+"/", false)
	it.Check(CheckStatus200, res.StatusCode == http.StatusOK)
	return res.Error
}

// Forecast requests GET {baseUrl}/weatherforecast and checks its body.
func (l *Library) Forecast(ctx context.Context, it *loadgen.Iteration) error {
	res := l.client.Get(ctx, it, l.opts.BaseURL+"/weatherforecast", true)
	it.Check(CheckStatus200, res.StatusCode == http.StatusOK)
	if res.Error != nil {
		it.Check(CheckFiveForecasts, false)
		it.Check(CheckSchema, false)
		return res.Error
	}

	it.Check(CheckFiveForecasts, gjson.GetBytes(res.Body, "#").Int() == 5)
	it.Check(CheckSchema, matchesSchema(l.schema, res.Body))
	return nil
}

// Default runs root then forecast, each in its own group followed by a
// think time (env THINK_TIME, default 1s).
func (l *Library) Default(ctx context.Context, it *loadgen.Iteration) error {
	think, err := time.ParseDuration(it.Getenv("THINK_TIME", "1s"))
	if err != nil {
		return fmt.Errorf("invalid THINK_TIME: %w", err)
	}

	if err := it.Group("testing root", func() error {
		res := l.client.Get(ctx, it, l.opts.BaseURL+"/", false)
		it.Check(CheckStatus200, res.StatusCode == http.StatusOK)
		sleep(ctx, think)
		return res.Error
	}); err != nil {
		return err
	}

	return it.Group("testing weatherforecast", func() error {
		res := l.client.Get(ctx, it, l.opts.BaseURL+"/weatherforecast", false)
		it.Check(CheckStatus200, res.StatusCode == http.StatusOK)
		sleep(ctx, think)
		return res.Error
	})
}

// Function1 requests the scenario's URL (env URL).
func (l *Library) Function1(ctx context.Context, it *loadgen.Iteration) error {
	res := l.client.Get(ctx, it, it.Getenv("URL", DefaultFunction1URL), false)
	it.Check(CheckStatus200, res.StatusCode == http.StatusOK)
	return res.Error
}

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
