// Package control exposes the externally-controlled scenarios of a run over
// HTTP.
package control

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"

	"github.com/wesleyorama2/loadpair/internal/loadgen/engine"
	"github.com/wesleyorama2/loadpair/internal/loadgen/executor"
)

const maxBodySize = 1 << 16

// Controller is the part of the engine the API needs.
type Controller interface {
	Scenarios() []engine.ScenarioStatus
	Scenario(name string) (engine.ScenarioStatus, error)
	Controllable(name string) (executor.Controllable, error)
}

// Server serves the control API:
//
//	GET   /v1/scenarios          list scenarios
//	GET   /v1/scenarios/{name}   one scenario
//	PATCH /v1/scenarios/{name}   {"vus": n} sets the VU target
type Server struct {
	ctrl Controller
	mux  *http.ServeMux
	log  *logrus.Entry
}

// NewServer creates the API for ctrl.
func NewServer(ctrl Controller) *Server {
	s := &Server{
		ctrl: ctrl,
		mux:  http.NewServeMux(),
		log:  logrus.WithField("component", "control"),
	}
	s.mux.HandleFunc("GET /v1/scenarios", s.handleList)
	s.mux.HandleFunc("GET /v1/scenarios/{name}", s.handleGet)
	s.mux.HandleFunc("PATCH /v1/scenarios/{name}", s.handlePatch)
	return s
}

// ServeHTTP satisfies http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	s.mux.ServeHTTP(w, req)
}

func (s *Server) handleList(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{"scenarios": s.ctrl.Scenarios()})
}

func (s *Server) handleGet(w http.ResponseWriter, req *http.Request) {
	st, err := s.ctrl.Scenario(req.PathValue("name"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handlePatch(w http.ResponseWriter, req *http.Request) {
	name := req.PathValue("name")

	body, err := io.ReadAll(io.LimitReader(req.Body, maxBodySize))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(fmt.Sprintf("failed to read body: %v", err)))
		return
	}
	vus, err := parseVUs(body)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
		return
	}

	c, err := s.ctrl.Controllable(name)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := c.SetVUs(vus); err != nil {
		writeError(w, err)
		return
	}

	s.log.WithFields(logrus.Fields{"scenario": name, "vus": vus}).Info("scenario scaled")

	st, err := s.ctrl.Scenario(name)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// parseVUs extracts the integer "vus" field of a PATCH body.
func parseVUs(body []byte) (int, error) {
	if !gjson.ValidBytes(body) {
		return 0, errors.New("body must be a JSON object")
	}
	v := gjson.GetBytes(body, "vus")
	if !v.Exists() {
		return 0, errors.New(`missing field "vus"`)
	}
	if v.Type != gjson.Number || v.Float() != float64(v.Int()) {
		return 0, fmt.Errorf(`field "vus" must be an integer, got %s`, v.Raw)
	}
	return int(v.Int()), nil
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, engine.ErrUnknownScenario):
		return http.StatusNotFound
	case errors.Is(err, engine.ErrNotControllable), errors.Is(err, executor.ErrNotRunning):
		return http.StatusConflict
	case errors.Is(err, executor.ErrInvalidVUs):
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, statusFor(err), errorBody(err.Error()))
}

func errorBody(msg string) map[string]string {
	return map[string]string{"error": msg}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// ListenAndServe serves the API on addr until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves the API on ln until ctx is done.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.WithField("addr", ln.Addr().String()).Info("control API listening")
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}
	return nil
}
