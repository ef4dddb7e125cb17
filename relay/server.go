package relay

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// ServerConfig configures the HTTP server around the chat handler.
type ServerConfig struct {
	Addr           string
	AllowedOrigins []string
	Limiter        *RateLimiter // nil disables rate limiting
	Gatherer       prometheus.Gatherer
}

// Server is the relay's HTTP server.
type Server struct {
	cfg     ServerConfig
	handler http.Handler
	http    *http.Server
	log     zerolog.Logger
	started time.Time
}

// NewServer wires chat and the auxiliary endpoints into one server.
func NewServer(cfg ServerConfig, chat *Handler, log zerolog.Logger) *Server {
	s := &Server{cfg: cfg, log: log, started: time.Now()}

	mux := http.NewServeMux()
	mux.Handle("POST /api/chat", Chain(
		CORS(cfg.AllowedOrigins),
		RateLimit(cfg.Limiter),
	)(chat))
	mux.Handle("OPTIONS /api/chat", CORS(cfg.AllowedOrigins)(http.NotFoundHandler()))
	mux.HandleFunc("GET /health", s.handleHealth)
	if cfg.Gatherer != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{}))
	}

	s.handler = Chain(RequestLogging(log), Recovery(log))(mux)
	s.http = &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
		// WriteTimeout stays 0: chat replies stream for as long as the model talks.
	}
	return s
}

// Handler returns the full middleware-wrapped handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"uptime": time.Since(s.started).Round(time.Second).String(),
	})
}

// Start listens and serves until Shutdown. It returns nil after a clean
// shutdown.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

// Serve serves on ln.
func (s *Server) Serve(ln net.Listener) error {
	s.log.Info().Str("addr", ln.Addr().String()).Msg("intake relay listening")
	if err := s.http.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests and waits for in-flight streams.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("shutting down intake relay")
	return s.http.Shutdown(ctx)
}
