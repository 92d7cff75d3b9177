// Package api exposes the dispatch engine over HTTP. Policy declines map to
// machine-readable codes with 4xx statuses; only transient infrastructure
// failures surface as 503 so miners know to retry.
package api

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mineproxy/gmp/internal/config"
	"github.com/mineproxy/gmp/internal/metrics"
	"github.com/mineproxy/gmp/internal/work"
	"github.com/mineproxy/gmp/pkg/log"
)

// Dispatcher is the engine surface the API depends on.
type Dispatcher interface {
	RequestWork(ctx context.Context, minerID string) (*work.Assignment, work.DeclineReason, error)
	SubmitSolution(ctx context.Context, sub *work.Submission) (*work.Outcome, error)
}

// Registrar records miner credentials for signature verification.
type Registrar interface {
	RegisterMiner(ctx context.Context, minerID string, pubKey []byte) error
}

// HealthChecker reports backing-store reachability.
type HealthChecker interface {
	Health(ctx context.Context) error
}

// Server is the HTTP front end of a dispatchd instance.
type Server struct {
	cfg       *config.Config
	logger    *log.Logger
	engine    Dispatcher
	registrar Registrar
	health    HealthChecker
	mux       *http.ServeMux
	httpSrv   *http.Server
}

// New creates the API server and registers its routes. registrar may be nil
// when signature verification is disabled.
func New(cfg *config.Config, logger *log.Logger, engine Dispatcher, registrar Registrar, health HealthChecker) *Server {
	s := &Server{
		cfg:       cfg,
		logger:    logger.WithComponent("api"),
		engine:    engine,
		registrar: registrar,
		health:    health,
		mux:       http.NewServeMux(),
	}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	base := s.cfg.APIBasePath
	s.mux.HandleFunc(base+"/work", s.instrument("/work", s.handleWork))
	s.mux.HandleFunc(base+"/submission", s.instrument("/submission", s.handleSubmission))
	s.mux.HandleFunc(base+"/miners", s.instrument("/miners", s.handleRegister))
	s.mux.HandleFunc("/healthz", s.handleHealth)
	s.mux.Handle("/metrics", promhttp.Handler())
}

// Handler returns the HTTP handler, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Start begins serving in the background and returns immediately.
func (s *Server) Start() {
	addr := fmt.Sprintf("%s:%d", s.cfg.APIHost, s.cfg.APIPort)
	s.httpSrv = &http.Server{
		Addr:         addr,
		Handler:      s.mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		s.logger.Info("api listening", "addr", addr)
		if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.WithError(err).Error("api server failed")
		}
	}()
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}

// statusWriter captures the response code for request metrics.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (s *Server) instrument(path string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next(sw, r)
		metrics.HTTPRequestsTotal.WithLabelValues(path, r.Method, strconv.Itoa(sw.status)).Inc()
	}
}

func (s *Server) handleWork(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "GET required")
		return
	}

	minerID := r.URL.Query().Get("miner")
	if minerID == "" {
		s.writeError(w, http.StatusBadRequest, "miner parameter required")
		return
	}

	assignment, reason, err := s.engine.RequestWork(r.Context(), minerID)
	if err != nil {
		s.logger.WithError(err).Warn("work request failed", "miner_id", minerID)
		s.writeError(w, http.StatusServiceUnavailable, "try_again")
		return
	}

	if assignment == nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(map[string]string{"decline": string(reason)})
		return
	}

	s.writeJSON(w, assignment)
}

func (s *Server) handleSubmission(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "POST required")
		return
	}

	var sub work.Submission
	if err := json.NewDecoder(r.Body).Decode(&sub); err != nil {
		s.writeError(w, http.StatusBadRequest, "malformed submission")
		return
	}
	if sub.WorkID == "" || sub.MinerID == "" {
		s.writeError(w, http.StatusBadRequest, "work_id and miner_id required")
		return
	}
	sub.ReceivedAt = time.Now()

	outcome, err := s.engine.SubmitSolution(r.Context(), &sub)
	if err != nil {
		s.logger.WithError(err).Warn("submission failed",
			"work_id", sub.WorkID, "miner_id", sub.MinerID)
		s.writeError(w, http.StatusServiceUnavailable, "try_again")
		return
	}

	s.writeJSON(w, outcome)
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "POST required")
		return
	}
	if s.registrar == nil {
		s.writeError(w, http.StatusNotImplemented, "signature verification disabled")
		return
	}

	var req struct {
		MinerID string `json:"miner_id"`
		PubKey  string `json:"pub_key"` // compressed secp256k1, hex
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "malformed registration")
		return
	}
	if req.MinerID == "" || req.PubKey == "" {
		s.writeError(w, http.StatusBadRequest, "miner_id and pub_key required")
		return
	}

	key, err := decodeHexKey(req.PubKey)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := s.registrar.RegisterMiner(r.Context(), req.MinerID, key); err != nil {
		s.logger.WithError(err).Warn("miner registration failed", "miner_id", req.MinerID)
		s.writeError(w, http.StatusServiceUnavailable, "try_again")
		return
	}

	s.writeJSON(w, map[string]string{"miner_id": req.MinerID, "status": "registered"})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if s.health != nil {
		if err := s.health.Health(ctx); err != nil {
			s.writeError(w, http.StatusServiceUnavailable, "store unreachable")
			return
		}
	}
	s.writeJSON(w, map[string]string{"status": "ok"})
}

// decodeHexKey decodes a compressed secp256k1 public key from hex.
func decodeHexKey(encoded string) ([]byte, error) {
	key, err := hex.DecodeString(encoded)
	if err != nil {
		return nil, errors.New("pub_key must be hex encoded")
	}
	if len(key) != 33 {
		return nil, errors.New("pub_key must be a 33-byte compressed key")
	}
	return key, nil
}

func (s *Server) writeJSON(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.WithError(err).Warn("failed to encode response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
