package exporter

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/julienschmidt/httprouter"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
)

// Stopper is implemented by sources that can end a run early.
type Stopper interface {
	Stop(ctx context.Context) error
}

// Route binds a handler to a method and path.
type Route struct {
	Name        string
	Method      string
	Path        string
	HandlerFunc httprouter.Handle
}

// Server serves /metrics, /status, /healthz and POST /stop.
type Server struct {
	addr     string
	src      Source
	registry *prometheus.Registry
	router   *httprouter.Router

	httpServer *http.Server
	listener   net.Listener
}

// NewServer creates a server for src listening on addr once started.
func NewServer(addr string, src Source) *Server {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		NewCollector(src),
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	s := &Server{
		addr:     addr,
		src:      src,
		registry: registry,
		router:   httprouter.New(),
	}
	for _, route := range s.routes() {
		s.router.Handle(route.Method, route.Path, route.HandlerFunc)
	}
	s.router.Handler(http.MethodGet, "/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	return s
}

func (s *Server) routes() []*Route {
	return []*Route{
		{"status", http.MethodGet, "/status", s.statusHandler},
		{"healthz", http.MethodGet, "/healthz", s.healthHandler},
		{"stop", http.MethodPost, "/stop", s.stopHandler},
	}
}

// Handler returns the router, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start listens on the configured address and serves in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	s.listener = ln
	s.httpServer = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Error("metrics server stopped")
		}
	}()
	log.WithField("addr", ln.Addr().String()).Info("serving /metrics and /status")
	return nil
}

// Addr is the address the server listens on, useful with port 0.
func (s *Server) Addr() string {
	if s.listener == nil {
		return s.addr
	}
	return s.listener.Addr().String()
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) statusHandler(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	s.jsonResponse(w, http.StatusOK, s.src.Status())
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	s.jsonResponse(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) stopHandler(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	stopper, ok := s.src.(Stopper)
	if !ok {
		s.jsonResponse(w, http.StatusNotImplemented, map[string]string{"error": "run cannot be stopped"})
		return
	}
	if err := stopper.Stop(r.Context()); err != nil {
		s.jsonResponse(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	log.Info("stop requested over HTTP")
	s.jsonResponse(w, http.StatusAccepted, s.src.Status())
}

func (s *Server) jsonResponse(w http.ResponseWriter, code int, content interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(content); err != nil {
		log.WithError(err).Debug("failed to write response")
	}
}
