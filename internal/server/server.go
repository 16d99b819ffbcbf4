// Package server accepts station connections over websocket and hands
// each one to its own session goroutine. The only state shared across
// connections is the registry counter, the event sink, and the read-only
// scoring artifact.
package server

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"charge-telemetry-alerts/internal/alerting"
	"charge-telemetry-alerts/internal/metrics"
	"charge-telemetry-alerts/internal/rules"
	"charge-telemetry-alerts/internal/scoring"
	"charge-telemetry-alerts/internal/session"
	"charge-telemetry-alerts/internal/sink"
)

// Options configure the listener.
type Options struct {
	ListenAddr      string
	Path            string
	MetricsPath     string
	ShutdownTimeout time.Duration
}

// Server is the telemetry-ingestion endpoint.
type Server struct {
	opts     Options
	engine   *rules.Engine
	scorer   scoring.Scorer
	events   sink.Sink
	stats    *metrics.Stats
	notifier alerting.Notifier
	gatherer prometheus.Gatherer
	registry *Registry
	logger   zerolog.Logger
	upgrader websocket.Upgrader
}

// New wires the endpoint's shared collaborators.
func New(opts Options, engine *rules.Engine, scorer scoring.Scorer, events sink.Sink, stats *metrics.Stats, notifier alerting.Notifier, gatherer prometheus.Gatherer, logger zerolog.Logger) *Server {
	if opts.Path == "" {
		opts.Path = "/"
	}
	if opts.MetricsPath == "" {
		opts.MetricsPath = "/metrics"
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = 5 * time.Second
	}

	return &Server{
		opts:     opts,
		engine:   engine,
		scorer:   scorer,
		events:   events,
		stats:    stats,
		notifier: notifier,
		gatherer: gatherer,
		registry: NewRegistry(),
		logger:   logger.With().Str("component", "server").Logger(),
		upgrader: websocket.Upgrader{
			// Stations are programmatic clients, not browsers.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// Registry exposes the live-session registry.
func (s *Server) Registry() *Registry {
	return s.registry
}

// Run serves until the context is cancelled, then shuts the listener
// down. Session goroutines end on their own when their connections close.
func (s *Server) Run(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc(s.opts.Path, s.handleStation(ctx))
	if s.gatherer != nil {
		mux.Handle(s.opts.MetricsPath, promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}

	httpServer := &http.Server{Addr: s.opts.ListenAddr, Handler: mux}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", s.opts.ListenAddr).Str("path", s.opts.Path).Msg("listening for stations")
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.opts.ShutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return ctx.Err()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// Handler returns the websocket accept handler, for embedding the
// endpoint in an existing mux or a test server.
func (s *Server) Handler(ctx context.Context) http.HandlerFunc {
	return s.handleStation(ctx)
}

func (s *Server) handleStation(ctx context.Context) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ws, err := s.upgrader.Upgrade(w, r, nil)
		if err != nil {
			s.logger.Warn().Err(err).Str("peer", r.RemoteAddr).Msg("websocket upgrade failed")
			return
		}

		id := s.registry.NextID()
		sess := session.New(id, newWSConn(ws), s.engine, s.scorer, s.events, s.stats, s.notifier, s.logger)

		s.registry.Add(sess)
		s.stats.ConnectionOpened()
		defer func() {
			s.registry.Remove(id)
			s.stats.ConnectionClosed()
		}()

		sess.Run(ctx)
	}
}

// wsConn adapts a gorilla websocket connection to session.Conn. Writes
// are serialised because a websocket connection supports one concurrent
// writer.
type wsConn struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func newWSConn(conn *websocket.Conn) *wsConn {
	return &wsConn{conn: conn}
}

func (c *wsConn) Read() ([]byte, error) {
	_, data, err := c.conn.ReadMessage()
	return data, err
}

func (c *wsConn) Send(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteJSON(v)
}

func (c *wsConn) Close() error {
	return c.conn.Close()
}

func (c *wsConn) RemoteAddr() string {
	return c.conn.RemoteAddr().String()
}

var _ session.Conn = (*wsConn)(nil)
