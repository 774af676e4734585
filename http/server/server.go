package server

import (
	"context"
	"errors"
	"log"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gclaussn/go-external-task/engine"
	"github.com/gclaussn/go-external-task/http/common"
)

func New(e engine.Engine, customizers ...func(*Options)) (*Server, error) {
	options := NewOptions()
	for _, customizer := range customizers {
		customizer(&options)
	}

	if err := options.Validate(); err != nil {
		return nil, err
	}

	mux := http.NewServeMux()

	var handler http.Handler = mux

	var metrics *metricsHandler
	if options.MetricsEnabled {
		metrics = newMetricsHandler(handler)
		handler = metrics
	}

	if options.BasicAuthUsername != "" {
		handler = &basicAuthHandler{
			username: options.BasicAuthUsername,
			password: options.BasicAuthPassword,
			handler:  handler,
		}
	}

	handler = http.TimeoutHandler(handler, options.HandlerTimeout, "handler timed out")

	// server-wide context for incoming requests
	httpServerCtx, httpServerCancel := context.WithCancel(context.Background())

	httpServer := http.Server{
		Addr: options.BindAddress,
		BaseContext: func(_ net.Listener) context.Context {
			return httpServerCtx
		},
		Handler:      handler,
		IdleTimeout:  options.IdleTimeout,
		ReadTimeout:  options.ReadTimeout,
		WriteTimeout: options.WriteTimeout,
	}

	if options.Configure != nil {
		options.Configure(&httpServer)
	}

	server := Server{
		engine:           e,
		httpServer:       &httpServer,
		httpServerCtx:    httpServerCtx,
		httpServerCancel: httpServerCancel,
		options:          options,
	}

	// operations:start
	mux.HandleFunc("POST "+common.PathExternalTasks, server.queryExternalTasks)
	mux.HandleFunc("POST "+common.PathExternalTasksBpmnError, server.handleBpmnError)
	mux.HandleFunc("POST "+common.PathExternalTasksComplete, server.complete)
	mux.HandleFunc("POST "+common.PathExternalTasksCreate, server.createExternalTask)
	mux.HandleFunc("POST "+common.PathExternalTasksExtendLock, server.extendLock)
	mux.HandleFunc("POST "+common.PathExternalTasksFailure, server.handleFailure)
	mux.HandleFunc("POST "+common.PathExternalTasksFetchAndLock, server.fetchAndLock)
	mux.HandleFunc("POST "+common.PathExternalTasksUnlock, server.unlock)

	mux.HandleFunc("GET "+common.PathReadiness, server.checkReadiness)
	mux.HandleFunc("PATCH "+common.PathTime, server.setTime)
	// operations:end

	if metrics != nil {
		mux.Handle("GET "+common.PathMetrics, metrics.serveMetrics())
	}

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	return &server, nil
}

func NewOptions() Options {
	return Options{
		BindAddress: "127.0.0.1:8080",

		HandlerTimeout: 90 * time.Second,
		IdleTimeout:    120 * time.Second,
		ReadTimeout:    5 * time.Second,
		WriteTimeout:   95 * time.Second,

		ShutdownDelay:       5 * time.Second,
		ShutdownPeriod:      30 * time.Second,
		ShutdownForcePeriod: 5 * time.Second,
	}
}

type Options struct {
	BindAddress string // TCP address for the server to listen on.

	// Time limit for HTTP handler - when reached, the handler responds with HTTP 503.
	// Must be greater than the engine's max async response time, since fetch and lock requests can be long polling.
	HandlerTimeout time.Duration
	IdleTimeout    time.Duration // Maximum amount of time to wait for the next request, when keep-alives are enabled - see http.Server#IdleTimeout
	ReadTimeout    time.Duration // Maximum duration for reading the entire request - see http.Server#ReadTimeout
	WriteTimeout   time.Duration // Maximum duration before timing out writing the response - see http.Server#WriteTimeout

	ShutdownDelay       time.Duration // Delay between the shutdown signal and the actual shutdown, used to propagate readiness.
	ShutdownPeriod      time.Duration // Period for a graceful shutdown without interrupting ongoing requests.
	ShutdownForcePeriod time.Duration // Period for a forced shutdown, where ongoing requests are canceled.

	BasicAuthUsername string // Optional username for basic authentication. If empty, authentication is disabled.
	BasicAuthPassword string // Password for basic authentication - required, when a username is set.

	SetTimeEnabled bool // Determines if the set time operation is permitted.
	MetricsEnabled bool // Determines if HTTP request metrics are recorded and exposed in Prometheus format.

	Configure func(*http.Server) // Optional function, used to configure the underlying HTTP server if needed.
}

func (o Options) Validate() error {
	if (o.BasicAuthUsername == "") != (o.BasicAuthPassword == "") {
		return errors.New("basic auth username and password must be provided together")
	}
	if o.HandlerTimeout <= 0 {
		return errors.New("handler timeout must be greater than 0")
	}
	return nil
}

type Server struct {
	engine           engine.Engine
	httpServer       *http.Server
	httpServerCtx    context.Context    // server-wide base context for incoming requests
	httpServerCancel context.CancelFunc // invoked after server shutdown to cancel to ongoing requests
	isShuttingDown   atomic.Bool
	options          Options
}

// Handler returns the server's HTTP handler, including authentication and handler timeout.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

func (s *Server) ListenAndServe() {
	go func() {
		log.Printf("server listening on %s", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != http.ErrServerClosed {
			log.Fatalf("failed to listen and serve HTTP: %v", err)
		}
	}()
}

func (s *Server) Shutdown() {
	s.isShuttingDown.Store(true)
	log.Println("server is shutting down")

	time.Sleep(s.options.ShutdownDelay)
	log.Println("server is shutting down gracefully")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), s.options.ShutdownPeriod)
	defer shutdownCancel()

	err := s.httpServer.Shutdown(shutdownCtx)
	s.httpServerCancel()
	if err != nil {
		log.Printf("failed to shutdown HTTP server: %v", err)
		time.Sleep(s.options.ShutdownForcePeriod)
	}

	s.engine.Shutdown()
	log.Println("server shut down")
}

// command handler

func (s *Server) complete(w http.ResponseWriter, r *http.Request) {
	id, err := parseId(r)
	if err != nil {
		encodeJSONExceptionResponseBody(w, r, err)
		return
	}

	var cmd engine.CompleteCmd
	if err := decodeJSONRequestBody(w, r, &cmd); err != nil {
		encodeJSONExceptionResponseBody(w, r, err)
		return
	}

	cmd.Id = id

	if err := s.engine.Complete(r.Context(), cmd); err != nil {
		encodeJSONExceptionResponseBody(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) createExternalTask(w http.ResponseWriter, r *http.Request) {
	var cmd engine.CreateExternalTaskCmd
	if err := decodeJSONRequestBody(w, r, &cmd); err != nil {
		encodeJSONExceptionResponseBody(w, r, err)
		return
	}

	externalTask, err := s.engine.CreateExternalTask(r.Context(), cmd)
	if err != nil {
		encodeJSONExceptionResponseBody(w, r, err)
		return
	}

	encodeJSONResponseBody(w, r, externalTask, http.StatusCreated)
}

func (s *Server) extendLock(w http.ResponseWriter, r *http.Request) {
	id, err := parseId(r)
	if err != nil {
		encodeJSONExceptionResponseBody(w, r, err)
		return
	}

	var cmd engine.ExtendLockCmd
	if err := decodeJSONRequestBody(w, r, &cmd); err != nil {
		encodeJSONExceptionResponseBody(w, r, err)
		return
	}

	cmd.Id = id

	if err := s.engine.ExtendLock(r.Context(), cmd); err != nil {
		encodeJSONExceptionResponseBody(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) fetchAndLock(w http.ResponseWriter, r *http.Request) {
	var cmd engine.FetchAndLockCmd
	if err := decodeJSONRequestBody(w, r, &cmd); err != nil {
		encodeJSONExceptionResponseBody(w, r, err)
		return
	}

	externalTasks, err := s.engine.FetchAndLock(r.Context(), cmd)
	if err != nil {
		encodeJSONExceptionResponseBody(w, r, err)
		return
	}

	if externalTasks == nil {
		externalTasks = make([]engine.ExternalTask, 0)
	}

	encodeJSONResponseBody(w, r, externalTasks, http.StatusOK)
}

func (s *Server) handleBpmnError(w http.ResponseWriter, r *http.Request) {
	id, err := parseId(r)
	if err != nil {
		encodeJSONExceptionResponseBody(w, r, err)
		return
	}

	var cmd engine.HandleBpmnErrorCmd
	if err := decodeJSONRequestBody(w, r, &cmd); err != nil {
		encodeJSONExceptionResponseBody(w, r, err)
		return
	}

	cmd.Id = id

	if err := s.engine.HandleBpmnError(r.Context(), cmd); err != nil {
		encodeJSONExceptionResponseBody(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleFailure(w http.ResponseWriter, r *http.Request) {
	id, err := parseId(r)
	if err != nil {
		encodeJSONExceptionResponseBody(w, r, err)
		return
	}

	var cmd engine.HandleFailureCmd
	if err := decodeJSONRequestBody(w, r, &cmd); err != nil {
		encodeJSONExceptionResponseBody(w, r, err)
		return
	}

	cmd.Id = id

	if err := s.engine.HandleFailure(r.Context(), cmd); err != nil {
		encodeJSONExceptionResponseBody(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) setTime(w http.ResponseWriter, r *http.Request) {
	if !s.options.SetTimeEnabled {
		w.WriteHeader(http.StatusForbidden)
		return
	}

	var cmd engine.SetTimeCmd
	if err := decodeJSONRequestBody(w, r, &cmd); err != nil {
		encodeJSONExceptionResponseBody(w, r, err)
		return
	}

	if err := s.engine.SetTime(r.Context(), cmd); err != nil {
		encodeJSONExceptionResponseBody(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) unlock(w http.ResponseWriter, r *http.Request) {
	id, err := parseId(r)
	if err != nil {
		encodeJSONExceptionResponseBody(w, r, err)
		return
	}

	if err := s.engine.Unlock(r.Context(), engine.UnlockCmd{Id: id}); err != nil {
		encodeJSONExceptionResponseBody(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// query handler

func (s *Server) queryExternalTasks(w http.ResponseWriter, r *http.Request) {
	options, err := parseQueryOptions(r)
	if err != nil {
		encodeJSONExceptionResponseBody(w, r, err)
		return
	}

	var criteria engine.ExternalTaskCriteria
	if err := decodeJSONRequestBody(w, r, &criteria); err != nil {
		encodeJSONExceptionResponseBody(w, r, err)
		return
	}

	results, err := s.engine.QueryExternalTasks(r.Context(), criteria, options)
	if err != nil {
		encodeJSONExceptionResponseBody(w, r, err)
		return
	}

	if results == nil {
		results = make([]engine.ExternalTask, 0)
	}

	encodeJSONResponseBody(w, r, results, http.StatusOK)
}

// other handler

func (s *Server) checkReadiness(w http.ResponseWriter, r *http.Request) {
	if s.isShuttingDown.Load() {
		http.Error(w, "server is shutting down", http.StatusServiceUnavailable)
		return
	}
	w.Write([]byte("ready"))
}
