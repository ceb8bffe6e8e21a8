// Package target implements the HTTP service exercised by the load
// generator.
package target

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Config configures the target service.
type Config struct {
	// Addr to listen on (default ":8080")
	Addr string

	// MinDelay and MaxDelay bound the artificial latency of GET /
	MinDelay time.Duration
	MaxDelay time.Duration

	// ShutdownTimeout bounds graceful shutdown (default 10s)
	ShutdownTimeout time.Duration
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		Addr:            ":8080",
		MinDelay:        50 * time.Millisecond,
		MaxDelay:        200 * time.Millisecond,
		ShutdownTimeout: 10 * time.Second,
	}
}

var summaries = []string{
	"Freezing", "Bracing", "Chilly", "Cool", "Mild", "Warm", "Balmy", "Hot", "Sweltering", "Scorching",
}

// WeatherForecast is one entry of GET /weatherforecast.
type WeatherForecast struct {
	Date         string `json:"date"`
	TemperatureC int    `json:"temperatureC"`
	TemperatureF int    `json:"temperatureF"`
	Summary      string `json:"summary"`
}

// Server is the target service.
type Server struct {
	cfg     Config
	mux     *http.ServeMux
	metrics *serverMetrics
	log     *logrus.Entry

	rngMu sync.Mutex
	rng   *rand.Rand
	now   func() time.Time
}

// NewServer creates the service and registers its routes.
func NewServer(cfg Config) (*Server, error) {
	if cfg.MinDelay < 0 || cfg.MaxDelay < cfg.MinDelay {
		return nil, fmt.Errorf("invalid delay range [%s, %s)", cfg.MinDelay, cfg.MaxDelay)
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = DefaultConfig().ShutdownTimeout
	}

	s := &Server{
		cfg:     cfg,
		mux:     http.NewServeMux(),
		metrics: newServerMetrics(),
		log:     logrus.WithField("component", "target"),
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
		now:     time.Now,
	}
	s.routes()
	return s, nil
}

// ServeHTTP satisfies http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	w.Header().Set("X-Request-Id", uuid.NewString())
	s.mux.ServeHTTP(w, req)
}

func (s *Server) routes() {
	s.mux.Handle("GET /metrics", promhttp.HandlerFor(s.metrics.registry, promhttp.HandlerOpts{}))
	s.mux.HandleFunc("GET /weatherforecast", s.metrics.instrument("/weatherforecast", s.handleForecast))
	s.mux.HandleFunc("GET /{$}", s.metrics.instrument("/", s.handleRoot))
}

func (s *Server) handleRoot(w http.ResponseWriter, req *http.Request) {
	delay := s.randomDelay()
	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-timer.C:
	case <-req.Context().Done():
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("Hello World!"))
}

func (s *Server) handleForecast(w http.ResponseWriter, req *http.Request) {
	forecasts := s.Forecasts(5)

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	if err := json.NewEncoder(w).Encode(forecasts); err != nil {
		s.log.WithError(err).Error("failed to encode forecast")
	}
}

// Forecasts generates n forecasts starting tomorrow.
func (s *Server) Forecasts(n int) []WeatherForecast {
	today := s.now()

	s.rngMu.Lock()
	defer s.rngMu.Unlock()

	forecasts := make([]WeatherForecast, n)
	for i := range forecasts {
		tc := s.rng.Intn(75) - 20 // [-20, 55)
		forecasts[i] = WeatherForecast{
			Date:         today.AddDate(0, 0, i+1).Format("2006-01-02"),
			TemperatureC: tc,
			TemperatureF: FahrenheitFromCelsius(tc),
			Summary:      summaries[s.rng.Intn(len(summaries))],
		}
	}
	return forecasts
}

// FahrenheitFromCelsius converts with the same truncating formula as the
// reference service.
func FahrenheitFromCelsius(c int) int {
	return 32 + int(float64(c)/0.5556)
}

func (s *Server) randomDelay() time.Duration {
	span := s.cfg.MaxDelay - s.cfg.MinDelay
	if span <= 0 {
		return s.cfg.MinDelay
	}
	s.rngMu.Lock()
	defer s.rngMu.Unlock()
	return s.cfg.MinDelay + time.Duration(s.rng.Int63n(int64(span)))
}

// ListenAndServe serves on cfg.Addr until ctx is done, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.cfg.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is done.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.log.WithField("addr", ln.Addr().String()).Info("target listening")
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		s.log.Info("target stopped")
		return nil
	})
	return g.Wait()
}
