// Package serve hosts the web chat shell: the embedded page, the model list
// and the websocket session endpoints.
package serve

import (
	"bufio"
	"context"
	_ "embed"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/samsaffron/groq-chat/internal/catalog"
	"github.com/samsaffron/groq-chat/internal/serve/chat"
	"go.uber.org/zap"
)

//go:embed static/index.html
var indexHTML []byte

const shutdownTimeout = 5 * time.Second

// Options configures a Server.
type Options struct {
	Addr    string
	Manager *chat.SessionManager
	Catalog *catalog.Catalog
	Logger  *zap.Logger
}

// Server runs the web shell over HTTP.
type Server struct {
	opts   Options
	logger *zap.Logger

	mu       sync.Mutex
	server   *http.Server
	listener net.Listener
	stopGC   context.CancelFunc
}

// NewServer creates a Server. Nothing listens until Start.
func NewServer(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Catalog == nil {
		opts.Catalog = catalog.Default()
	}
	return &Server{opts: opts, logger: logger}
}

// Handler returns the full route table wrapped in request logging.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleIndex)
	mux.HandleFunc("/api/models", s.handleModels)
	mux.Handle("/chat/", s.opts.Manager.HTTPHandler())
	return s.loggingMiddleware(mux)
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(indexHTML)
}

type modelEntry struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Developer string `json:"developer"`
	MaxTokens int    `json:"max_tokens"`
	Provider  string `json:"provider"`
	Default   bool   `json:"default"`
}

func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	if !s.opts.Manager.Authorized(r) {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	def := s.opts.Catalog.Default().ID
	models := s.opts.Catalog.List()
	out := make([]modelEntry, 0, len(models))
	for _, m := range models {
		out = append(out, modelEntry{
			ID:        m.ID,
			Name:      m.Label(),
			Developer: m.Developer,
			MaxTokens: m.MaxTokens,
			Provider:  m.Provider,
			Default:   m.ID == def,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"models": out})
}

// Start binds the configured address and serves in the background. It
// returns the address actually bound, which differs from Addr for port 0.
func (s *Server) Start(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.server != nil {
		return "", fmt.Errorf("server already running")
	}

	listener, err := net.Listen("tcp", s.opts.Addr)
	if err != nil {
		return "", fmt.Errorf("bind to %s: %w", s.opts.Addr, err)
	}
	s.listener = listener
	s.server = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	gcCtx, cancel := context.WithCancel(ctx)
	s.stopGC = cancel
	go s.opts.Manager.StartGC(gcCtx)

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("web server stopped", zap.Error(err))
		}
	}()

	addr := listener.Addr().String()
	s.logger.Info("web server listening", zap.String("addr", addr))
	return addr, nil
}

// Stop gracefully shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.server == nil {
		return nil
	}
	if s.stopGC != nil {
		s.stopGC()
	}
	err := s.server.Shutdown(ctx)
	if err != nil {
		// Force close if shutdown fails
		_ = s.server.Close()
	}
	s.server = nil
	s.listener = nil
	return err
}

// Run starts the server and blocks until ctx is done.
func (s *Server) Run(ctx context.Context, ready func(addr string)) error {
	addr, err := s.Start(ctx)
	if err != nil {
		return err
	}
	if ready != nil {
		ready(addr)
	}
	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	return s.Stop(shutdownCtx)
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &responseLogger{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(wrapped, r)
		s.logger.Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", wrapped.status),
			zap.Duration("duration", time.Since(start)),
		)
	})
}

// responseLogger wraps http.ResponseWriter to capture the status code.
type responseLogger struct {
	http.ResponseWriter
	status int
}

func (r *responseLogger) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// Hijack passes through to the underlying writer for websocket upgrades.
func (r *responseLogger) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	r.status = http.StatusSwitchingProtocols
	return hj.Hijack()
}

func (r *responseLogger) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}
