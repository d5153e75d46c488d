package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/psantana5/taskmon/internal/handler"
	"github.com/psantana5/taskmon/internal/pipeline"
	"github.com/psantana5/taskmon/internal/report"
	"github.com/psantana5/taskmon/internal/task"
	"github.com/psantana5/taskmon/pkg/logging"
)

// InvocationPath is the route the Lambda runtime interface emulator exposes
const InvocationPath = "/2015-03-31/functions/function/invocations"

// Invoker handles one decoded event
type Invoker interface {
	Handle(ctx context.Context, ev handler.Event) (*pipeline.Response, error)
}

// Server exposes the handler over HTTP for local runs
type Server struct {
	invoker  Invoker
	metrics  *report.Metrics
	failures *report.FailureLog
	log      *logging.Logger

	// invocations run one at a time, like a single Lambda sandbox
	sem chan struct{}
}

// New creates a server. metrics and failures may be nil.
func New(invoker Invoker, metrics *report.Metrics, failures *report.FailureLog, log *logging.Logger) *Server {
	if log == nil {
		log = logging.Nop()
	}
	return &Server{
		invoker:  invoker,
		metrics:  metrics,
		failures: failures,
		log:      log,
		sem:      make(chan struct{}, 1),
	}
}

// RegisterRoutes registers all routes on r
func (s *Server) RegisterRoutes(r *mux.Router) {
	r.Use(RequestIDMiddleware(s.log))
	r.HandleFunc(InvocationPath, s.Invoke).Methods("POST")
	r.HandleFunc("/invoke", s.Invoke).Methods("POST")
	r.HandleFunc("/failures", s.Failures).Methods("GET")
	r.HandleFunc("/health", s.Health).Methods("GET")
	if s.metrics != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.metrics.Registry(), promhttp.HandlerOpts{})).Methods("GET")
	}
}

// Router returns a router with every route registered
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	s.RegisterRoutes(r)
	return r
}

// HTTPServer wraps the router with the usual timeouts. Invocations may
// run for minutes, so there is no write timeout.
func (s *Server) HTTPServer(addr string) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}

// Invoke decodes an event and runs it
func (s *Server) Invoke(w http.ResponseWriter, r *http.Request) {
	var ev handler.Event
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		writeError(w, http.StatusBadRequest, "InvalidRequestContent", err.Error())
		return
	}

	select {
	case s.sem <- struct{}{}:
	case <-r.Context().Done():
		return
	}
	defer func() { <-s.sem }()

	resp, err := s.invoker.Handle(r.Context(), ev)
	if err != nil {
		s.log.Error("invocation failed", map[string]interface{}{"error": err.Error()})
		// Same shape the Lambda runtime reports for a handler error
		writeError(w, http.StatusBadGateway, task.ErrorType(err), err.Error())
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// Failures lists recent failed invocations, newest first
func (s *Server) Failures(w http.ResponseWriter, r *http.Request) {
	samples := []report.FailureSample{}
	if s.failures != nil {
		n := 20
		if v := r.URL.Query().Get("limit"); v != "" {
			parsed, err := strconv.Atoi(v)
			if err != nil || parsed <= 0 {
				http.Error(w, "invalid limit", http.StatusBadRequest)
				return
			}
			n = parsed
		}
		samples = s.failures.Recent(n)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"failures": samples,
		"count":    len(samples),
	})
}

// Health reports that the server is up
func (s *Server) Health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "healthy"})
}

func writeError(w http.ResponseWriter, status int, errorType, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{
		"errorType":    errorType,
		"errorMessage": message,
	})
}
