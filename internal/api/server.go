package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"deltavm/internal/aggregator"
	"deltavm/internal/executor"
	"deltavm/internal/logger"
)

// ValueReader exposes durable aggregator values.
type ValueReader interface {
	Value(id aggregator.ID) (uint256.Int, bool, error)
}

// StatusProvider exposes executor totals for monitoring.
type StatusProvider interface {
	Stats() executor.Stats
}

// Server is the HTTP monitoring server of the simulator.
type Server struct {
	addr   string         // addr is the HTTP listen address
	values ValueReader    // values reads durable counters
	status StatusProvider // status provides executor totals
	server *http.Server   // server is the underlying HTTP server
}

// New creates a new HTTP server.
func New(addr string, values ValueReader, status StatusProvider) *Server {
	return &Server{
		addr:   addr,
		values: values,
		status: status,
	}
}

// Handler returns the routes served by the server.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /status", s.handleStatus)
	mux.HandleFunc("GET /counters/{handle}/{key}", s.handleCounter)
	mux.Handle("GET /metrics", promhttp.Handler())

	return mux
}

// Start starts the HTTP server in a goroutine.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         s.addr,
		Handler:      s.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("http server started", "addr", s.addr)

		if err := s.server.ListenAndServe(); err != http.ErrServerClosed {
			logger.Error("http server error", "error", err)
		}
	}()

	return nil
}

// Stop gracefully shuts down the HTTP server.
func (s *Server) Stop() error {
	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	return s.server.Shutdown(ctx)
}

// handleHealth handles GET /health requests.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
	})
}

// handleStatus handles GET /status requests.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if s.status == nil {
		writeError(w, http.StatusServiceUnavailable, "status not available")
		return
	}

	writeJSON(w, http.StatusOK, s.status.Stats())
}

// handleCounter handles GET /counters/{handle}/{key} requests.
// Handle and key are decimal, or hex with a 0x prefix.
func (s *Server) handleCounter(w http.ResponseWriter, r *http.Request) {
	handle, err := parseU128(r.PathValue("handle"))
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid handle: %v", err))
		return
	}

	key, err := parseU128(r.PathValue("key"))
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid key: %v", err))
		return
	}

	id := aggregator.NewID(handle, key)

	v, found, err := s.values.Value(id)
	if err != nil {
		logger.Error("read counter failed", "id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "read failed")
		return
	}

	if !found {
		writeError(w, http.StatusNotFound, "counter not found")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"handle": handle.Dec(),
		"key":    key.Hex(),
		"value":  v.Dec(),
	})
}

// parseU128 parses a decimal or 0x-prefixed hex number that must fit in 128 bits.
func parseU128(s string) (uint256.Int, error) {
	var (
		v   *uint256.Int
		err error
	)

	if strings.HasPrefix(s, "0x") {
		v, err = uint256.FromHex(s)
	} else {
		v, err = uint256.FromDecimal(s)
	}

	if err != nil {
		return uint256.Int{}, err
	}

	if !aggregator.FitsU128(v) {
		return uint256.Int{}, aggregator.ErrValueTooWide
	}

	return *v, nil
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeError writes an error response.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{
		"error": message,
	})
}
