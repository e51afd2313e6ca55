/*
 * Copyright 2025 Carver Automation Corporation.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package api serves the monitor's state over HTTP and WebSocket.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	srHttp "github.com/carverauto/healthradar/pkg/http"
	"github.com/carverauto/healthradar/pkg/logger"
	"github.com/carverauto/healthradar/pkg/models"
	"github.com/carverauto/healthradar/pkg/poller"
	"github.com/carverauto/healthradar/pkg/store"
)

const (
	defaultReadTimeout = 10 * time.Second
	defaultIdleTimeout = 60 * time.Second
	maxPatchBytes      = 64 << 10
)

var errNoRefresher = errors.New("manual refresh is not available")

// APIServer exposes the status store.
type APIServer struct {
	router     *mux.Router
	handler    http.Handler
	store      StatusStore
	refresher  Refresher
	metrics    http.Handler
	corsConfig models.CORSConfig
	apiKey     string
	logger     logger.Logger
	upgrader   websocket.Upgrader
	pingEvery  time.Duration

	mu     sync.Mutex
	srv    *http.Server
	closed bool
}

// NewAPIServer creates a new API server instance over st.
func NewAPIServer(st StatusStore, options ...func(server *APIServer)) *APIServer {
	s := &APIServer{
		router:    mux.NewRouter(),
		store:     st,
		logger:    logger.Wrap(zerolog.Nop()),
		pingEvery: 30 * time.Second,
	}

	for _, o := range options {
		o(s)
	}

	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin:     s.checkWebSocketOrigin,
	}

	s.setupRoutes()

	// CORS wraps the router so preflight requests never hit method matching.
	s.handler = srHttp.CommonMiddleware(s.router, s.corsConfig, s.logger)

	return s
}

// WithRefresher enables POST /api/status/refresh.
func WithRefresher(r Refresher) func(server *APIServer) {
	return func(server *APIServer) {
		server.refresher = r
	}
}

// WithMetricsHandler mounts h on /metrics.
func WithMetricsHandler(h http.Handler) func(server *APIServer) {
	return func(server *APIServer) {
		server.metrics = h
	}
}

// WithCORS sets the allowed origins.
func WithCORS(c models.CORSConfig) func(server *APIServer) {
	return func(server *APIServer) {
		server.corsConfig = c
	}
}

// WithAPIKey protects /api with an API key.
func WithAPIKey(key string) func(server *APIServer) {
	return func(server *APIServer) {
		server.apiKey = key
	}
}

// WithLogger sets the server logger.
func WithLogger(l logger.Logger) func(server *APIServer) {
	return func(server *APIServer) {
		if l != nil {
			server.logger = l
		}
	}
}

// WithPingInterval overrides the WebSocket keepalive period.
func WithPingInterval(d time.Duration) func(server *APIServer) {
	return func(server *APIServer) {
		if d > 0 {
			server.pingEvery = d
		}
	}
}

func (s *APIServer) setupRoutes() {
	s.router.HandleFunc("/healthz", s.getHealthz).Methods(http.MethodGet)

	if s.metrics != nil {
		s.router.Handle("/metrics", s.metrics).Methods(http.MethodGet)
	}

	protected := s.router.PathPrefix("/api").Subrouter()
	protected.Use(srHttp.APIKeyMiddleware(s.apiKey, s.logger))

	protected.HandleFunc("/status", s.getStatus).Methods(http.MethodGet)
	protected.HandleFunc("/status/consolidated", s.getConsolidated).Methods(http.MethodGet)
	protected.HandleFunc("/status/stream", s.handleStream).Methods(http.MethodGet)
	protected.HandleFunc("/status/refresh", s.postRefresh).Methods(http.MethodPost)
	protected.HandleFunc("/status/{service}", s.getService).Methods(http.MethodGet)
	protected.HandleFunc("/status/{service}", s.patchService).Methods(http.MethodPatch)
}

// Handler returns the routed handler, for tests and embedding.
func (s *APIServer) Handler() http.Handler {
	return s.handler
}

// Start serves on addr until Shutdown is called.
func (s *APIServer) Start(addr string) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}

	// WriteTimeout stays unset so stream connections are not cut off.
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.handler,
		ReadTimeout:       defaultReadTimeout,
		ReadHeaderTimeout: defaultReadTimeout,
		IdleTimeout:       defaultIdleTimeout,
	}
	s.srv = srv
	s.mu.Unlock()

	s.logger.Info().Str("addr", addr).Msg("Starting API server")

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("api server: %w", err)
	}

	return nil
}

// Shutdown stops a server started with Start.
func (s *APIServer) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	srv := s.srv
	s.mu.Unlock()

	if srv == nil {
		return nil
	}

	return srv.Shutdown(ctx)
}

type healthzResponse struct {
	Status  string `json:"status"`
	Polling bool   `json:"polling"`
}

func (s *APIServer) getHealthz(w http.ResponseWriter, _ *http.Request) {
	resp := healthzResponse{Status: "ok"}
	if s.refresher != nil {
		resp.Polling = s.refresher.IsPolling()
	}

	s.writeJSON(w, http.StatusOK, resp)
}

func (s *APIServer) getStatus(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.store.Snapshot())
}

func (s *APIServer) getConsolidated(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.store.Consolidated())
}

func (s *APIServer) getService(w http.ResponseWriter, r *http.Request) {
	name := models.ServiceName(mux.Vars(r)["service"])

	svc, err := s.store.Service(name)
	if err != nil {
		s.writeError(w, name, err)
		return
	}

	s.writeJSON(w, http.StatusOK, svc)
}

func (s *APIServer) patchService(w http.ResponseWriter, r *http.Request) {
	name := models.ServiceName(mux.Vars(r)["service"])

	var patch store.Patch

	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxPatchBytes))
	dec.DisallowUnknownFields()

	if err := dec.Decode(&patch); err != nil {
		s.writeErrorMessage(w, name, fmt.Sprintf("invalid patch: %v", err), http.StatusBadRequest)
		return
	}

	if err := s.store.OptimisticPatch(name, patch); err != nil {
		s.writeError(w, name, err)
		return
	}

	svc, err := s.store.Service(name)
	if err != nil {
		s.writeError(w, name, err)
		return
	}

	s.writeJSON(w, http.StatusOK, svc)
}

type refreshResponse struct {
	Report   poller.BatchReport `json:"report"`
	Snapshot models.Snapshot    `json:"snapshot"`
}

func (s *APIServer) postRefresh(w http.ResponseWriter, r *http.Request) {
	if s.refresher == nil {
		s.writeErrorMessage(w, "", errNoRefresher.Error(), http.StatusServiceUnavailable)
		return
	}

	var names []models.ServiceName
	for _, v := range r.URL.Query()["service"] {
		names = append(names, models.ServiceName(v))
	}

	// The batch must finish even if the client goes away.
	report, err := s.refresher.Refresh(context.WithoutCancel(r.Context()), names...)
	if err != nil {
		s.writeError(w, "", err)
		return
	}

	s.writeJSON(w, http.StatusOK, refreshResponse{Report: report, Snapshot: s.store.Snapshot()})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, models.ErrUnknownService):
		return http.StatusNotFound
	case errors.Is(err, poller.ErrBatchInFlight), errors.Is(err, poller.ErrServiceDisabled):
		return http.StatusConflict
	case errors.Is(err, store.ErrPartialStatus), errors.Is(err, store.ErrEmptyPatch),
		errors.Is(err, store.ErrInvalidStatus):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (s *APIServer) writeError(w http.ResponseWriter, name models.ServiceName, err error) {
	s.writeErrorMessage(w, name, err.Error(), statusFor(err))
}

func (s *APIServer) writeErrorMessage(w http.ResponseWriter, name models.ServiceName, msg string, code int) {
	s.writeJSON(w, code, models.ErrorResponse{Error: msg, Service: string(name)})
}

func (s *APIServer) writeJSON(w http.ResponseWriter, code int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Error().Err(err).Msg("Error encoding response")
	}
}
