// Package server exposes the hyperlapse service to browsers over websockets.
//
// Routes:
//
//	GET /rpc                  websocket RPC channel, one per browser tab
//	GET /progress-connection  progress posted back by remote compute jobs
//	GET /video/*              final videos rendered by the local backend
//	GET /metrics              Prometheus metrics
//	GET /healthz              liveness probe
package server

import (
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"hyperlapse/metrics"
	"hyperlapse/orchestrator"
	"hyperlapse/progress"
)

const (
	RPCPath      = "/rpc"
	ProgressPath = "/progress-connection"

	writeWait = 10 * time.Second

	// Build requests carry the whole uploaded route
	maxMessageSize = 32 << 20
)

// Options configures a Server
type Options struct {
	VideoDir string

	// Gatherer backs /metrics. Defaults to prometheus.DefaultGatherer.
	Gatherer prometheus.Gatherer
}

// Server serves the RPC and progress websockets.
type Server struct {
	service  *orchestrator.Service
	router   *progress.Router
	opts     Options
	upgrader websocket.Upgrader
	logger   *zap.Logger
	metrics  *metrics.Metrics

	mu      sync.Mutex
	sockets map[*websocket.Conn]struct{}
}

// New creates a server for service
func New(service *orchestrator.Service, router *progress.Router, opts Options, logger *zap.Logger, m *metrics.Metrics) *Server {
	if opts.Gatherer == nil {
		opts.Gatherer = prometheus.DefaultGatherer
	}

	return &Server{
		service: service,
		router:  router,
		opts:    opts,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Compute jobs connect back from outside the browser origin
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		logger:  logger,
		metrics: m,
		sockets: make(map[*websocket.Conn]struct{}),
	}
}

// Handler returns the HTTP handler for every route
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get(RPCPath, s.handleRPC)
	r.Get(ProgressPath, s.handleProgress)
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.HandlerFor(s.opts.Gatherer, promhttp.HandlerOpts{}))

	if s.opts.VideoDir != "" {
		r.Handle("/video/*", http.StripPrefix("/video/", http.FileServer(http.Dir(s.opts.VideoDir))))
	}

	return r
}

// CloseSockets closes every open websocket. http.Server.Shutdown does not
// touch hijacked connections, so this is called after it.
func (s *Server) CloseSockets() int {
	s.mu.Lock()
	sockets := make([]*websocket.Conn, 0, len(s.sockets))
	for ws := range s.sockets {
		sockets = append(sockets, ws)
	}
	s.mu.Unlock()

	for _, ws := range sockets {
		ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(writeWait))
		ws.Close()
	}
	return len(sockets)
}

// upgrade switches the request to a tracked websocket. The returned func
// stops tracking and closes it.
func (s *Server) upgrade(w http.ResponseWriter, r *http.Request) (*websocket.Conn, func(), error) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, nil, err
	}
	ws.SetReadLimit(maxMessageSize)

	s.mu.Lock()
	s.sockets[ws] = struct{}{}
	s.mu.Unlock()

	return ws, func() {
		s.mu.Lock()
		delete(s.sockets, ws)
		s.mu.Unlock()
		ws.Close()
	}, nil
}
