// ABOUTME: Gateway orchestrator wiring the session, hub, dispatcher, and HTTP server
// ABOUTME: Manages listener setup, route registration, and graceful shutdown

package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/2389/zap-gateway/internal/config"
	"github.com/2389/zap-gateway/internal/dispatch"
	"github.com/2389/zap-gateway/internal/hub"
	"github.com/2389/zap-gateway/internal/ipfilter"
	"github.com/2389/zap-gateway/internal/session"
	"github.com/2389/zap-gateway/internal/wa"
)

// sessionControl is the slice of the session the HTTP surface needs.
type sessionControl interface {
	Snapshot() session.Snapshot
	ClientState(ctx context.Context) (string, error)
	Reset(ctx context.Context) error
	Wipe(ctx context.Context) error
}

// messageDispatcher drives outbound sends.
type messageDispatcher interface {
	Dispatch(ctx context.Context, req dispatch.Request) (dispatch.Outcome, error)
	SendSingle(ctx context.Context, recipient, message string) error
}

// Gateway exposes one messaging-account session to HTTP and WebSocket
// consumers.
type Gateway struct {
	config     *config.Config
	session    sessionControl
	dispatcher messageDispatcher
	hub        *hub.Hub
	gate       *ipfilter.Gate
	httpServer *http.Server
	logger     *slog.Logger

	// sess is the concrete session for lifecycle management; handlers only
	// see the sessionControl slice.
	sess *session.Session
}

// New creates a Gateway backed by the production messaging client.
func New(cfg *config.Config, logger *slog.Logger) (*Gateway, error) {
	factory := wa.NewMeowFactory(cfg.Session.DataDir, logger)
	return NewWithFactory(cfg, factory, logger)
}

// NewWithFactory creates a Gateway with an injected client factory.
func NewWithFactory(cfg *config.Config, factory wa.Factory, logger *slog.Logger) (*Gateway, error) {
	if logger == nil {
		logger = slog.Default()
	}

	gate, err := ipfilter.New(cfg.Access.AllowedIPs, logger)
	if err != nil {
		return nil, fmt.Errorf("building access gate: %w", err)
	}
	if gate.Open() {
		logger.Warn("allowlist is empty - every address is admitted")
	}

	h := hub.New(logger)
	sess := session.New(factory, h, session.Options{
		DataDir:    cfg.Session.DataDir,
		CacheDir:   cfg.Session.CacheDir,
		ReadyDelay: cfg.Dispatch.ReadyDelay,
	}, logger)
	h.SetQRSource(sess.CurrentQR)

	disp := dispatch.New(sess, dispatch.Options{
		Timeout: cfg.Dispatch.SendTimeout,
		Delay:   cfg.Dispatch.SendDelay,
	}, logger)

	g := &Gateway{
		config:     cfg,
		session:    sess,
		dispatcher: disp,
		hub:        h,
		gate:       gate,
		logger:     logger.With("component", "gateway"),
		sess:       sess,
	}

	mux := http.NewServeMux()
	g.registerRoutes(mux)

	g.httpServer = &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           gate.Middleware(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return g, nil
}

// registerRoutes wires the HTTP surface. The allowlist middleware wraps the
// whole mux, so every route here is already gated.
func (g *Gateway) registerRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/qr", g.handleQR)
	mux.HandleFunc("GET /api/status", g.handleStatus)
	mux.HandleFunc("POST /api/send", g.handleSend)
	mux.HandleFunc("GET /api/sendMessage/{recipient}/{message}", g.handleSendSingle)
	mux.HandleFunc("GET /api/disconnect", g.handleDisconnect)
	mux.HandleFunc("POST /api/clear-connections", g.handleClearConnections)
	mux.HandleFunc("GET /ws", g.handleWS)
	mux.HandleFunc("GET /health", g.handleHealth)
}

// Run starts the session and the HTTP server and blocks until the context is
// canceled. Returns nil on graceful shutdown, or an error if a component
// fails.
func (g *Gateway) Run(ctx context.Context) error {
	if err := g.sess.Start(ctx); err != nil {
		return fmt.Errorf("starting session: %w", err)
	}

	ln, err := net.Listen("tcp", g.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", g.httpServer.Addr, err)
	}

	errCh := make(chan error, 1)
	go func() {
		g.logger.Info("HTTP server listening", "addr", ln.Addr().String())
		if err := g.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	var serverErr error
	select {
	case <-ctx.Done():
		g.logger.Info("context canceled, initiating shutdown")
	case serverErr = <-errCh:
		g.logger.Error("server error", "error", serverErr)
	}

	shutdownErr := g.gracefulShutdown()
	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// gracefulShutdown performs shutdown with a fresh context and timeout.
// Uses context.Background() intentionally since the original context is
// already canceled.
func (g *Gateway) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return g.Shutdown(ctx)
}

// Shutdown stops the HTTP server, disconnects subscribers, and destroys the
// client.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.logger.Info("shutting down gateway")

	err := g.httpServer.Shutdown(ctx)
	g.hub.Close()

	if sessErr := g.sess.Shutdown(); sessErr != nil && err == nil {
		err = fmt.Errorf("session shutdown: %w", sessErr)
	}
	return err
}

// handleHealth returns 200 OK if the server is alive.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}
