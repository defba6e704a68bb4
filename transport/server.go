package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	dapi "github.com/goliatone/go-dapi"
)

const maxRequestBytes = 4 << 20

// Server exposes a node's Handler over HTTP.
type Server struct {
	handler    Handler
	logger     dapi.Logger
	operations func() []dapi.OperationSpec
	local      func() dapi.Node
	metrics    http.Handler
	mounts     []func(chi.Router)
	router     *chi.Mux
	server     *http.Server
}

type ServerOption func(*Server)

// WithServerLogger sets the request logger.
func WithServerLogger(logger dapi.Logger) ServerOption {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithOperations publishes the operation catalog on OperationsPath.
func WithOperations(list func() []dapi.OperationSpec) ServerOption {
	return func(s *Server) {
		s.operations = list
	}
}

// WithLocalNode reports the node identity on HealthPath.
func WithLocalNode(local func() dapi.Node) ServerOption {
	return func(s *Server) {
		s.local = local
	}
}

// WithMetricsHandler serves h on MetricsPath.
func WithMetricsHandler(h http.Handler) ServerOption {
	return func(s *Server) {
		s.metrics = h
	}
}

// WithRoutes mounts extra routes, such as a REST facade over Dispatch,
// behind the server middleware.
func WithRoutes(mount func(r chi.Router)) ServerOption {
	return func(s *Server) {
		if mount != nil {
			s.mounts = append(s.mounts, mount)
		}
	}
}

func NewServer(handler Handler, opts ...ServerOption) *Server {
	s := &Server{
		handler: handler,
		logger:  dapi.NopLogger{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	s.router = s.setupRoutes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Start serves on addr until ctx is cancelled.
func (s *Server) Start(ctx context.Context, addr string) error {
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	s.logger.Info("node server listening on %s", addr)

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("node server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("node server shutdown failed: %w", err)
		}
		return nil
	case err := <-errCh:
		return fmt.Errorf("node server error: %w", err)
	}
}

func (s *Server) setupRoutes() *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)

	r.Post(ExecutePath, s.handleExecute)
	r.Post(DispatchPath, s.handleDispatch)
	r.Get(OperationsPath, s.handleOperations)
	r.Get(HealthPath, s.handleHealth)
	if s.metrics != nil {
		r.Method(http.MethodGet, MetricsPath, s.metrics)
	}
	for _, mount := range s.mounts {
		mount(r)
	}
	return r
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		dapi.WithLoggerFields(s.logger, map[string]any{
			"method":      r.Method,
			"path":        r.URL.Path,
			"status":      ww.Status(),
			"duration_ms": time.Since(start).Milliseconds(),
			"request_id":  middleware.GetReqID(r.Context()),
		}).Debug("node request")
	})
}

func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	req, err := decodeRequest(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, dapi.NodeFailure(dapi.Node{}, err))
		return
	}

	result := s.handler.ExecuteLocal(r.Context(), req)
	status := http.StatusOK
	if !result.OK && result.Error != nil {
		status = MapErrorCode(result.Error.Code).HTTPStatus
	}
	writeJSON(w, status, result)
}

func (s *Server) handleDispatch(w http.ResponseWriter, r *http.Request) {
	req, err := decodeRequest(r)
	if err != nil {
		env := dapi.NormalizeError(dapi.Request{}, err)
		writeJSON(w, http.StatusBadRequest, env)
		return
	}
	if pretty, perr := strconv.ParseBool(r.URL.Query().Get("pretty")); perr == nil {
		req.Pretty = pretty
	}

	env := s.handler.Dispatch(r.Context(), req)
	WriteEnvelope(w, env, StatusForEnvelope(env))
}

// WriteEnvelope renders env with the given status and echoes its request id.
func WriteEnvelope(w http.ResponseWriter, env dapi.Envelope, status int) {
	body, err := env.Render()
	if err != nil {
		env = dapi.Envelope{
			Status:    dapi.StatusError,
			Operation: env.Operation,
			RequestID: env.RequestID,
			Error: dapi.DetailFromError(dapi.NewError(dapi.ErrLocalExecution,
				"response could not be serialized", err, nil), dapi.ErrCodeLocalExecution),
		}
		status = http.StatusInternalServerError
		body, _ = env.Render()
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set(RequestIDHeader, env.RequestID)
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

func (s *Server) handleOperations(w http.ResponseWriter, _ *http.Request) {
	if s.operations == nil {
		writeJSON(w, http.StatusOK, []dapi.OperationSpec{})
		return
	}
	writeJSON(w, http.StatusOK, s.operations())
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	health := map[string]any{"status": "ok"}
	if s.local != nil {
		health["node"] = s.local()
	}
	writeJSON(w, http.StatusOK, health)
}

func decodeRequest(r *http.Request) (dapi.Request, error) {
	var req dapi.Request
	dec := json.NewDecoder(io.LimitReader(r.Body, maxRequestBytes))
	if err := dec.Decode(&req); err != nil {
		return dapi.Request{}, dapi.NewError(dapi.ErrInvalidArguments,
			"request body is not a valid dispatch request", err, nil)
	}
	if req.Operation == "" {
		return dapi.Request{}, dapi.NewError(dapi.ErrInvalidArguments,
			"request operation is required", nil, nil)
	}
	if req.ID == "" {
		req.ID = middleware.GetReqID(r.Context())
	}
	req.Args = dapi.PruneArgs(req.Args)
	return req, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
