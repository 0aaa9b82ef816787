// ABOUTME: Lifecycle tests driving a real session through the HTTP surface
// ABOUTME: Covers the disconnect-then-status sequence and construction wiring

package gateway

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/zap-gateway/internal/config"
	"github.com/2389/zap-gateway/internal/wa"
)

type lifecycleClient struct {
	mu        sync.Mutex
	destroyed bool
}

func (c *lifecycleClient) Initialize(ctx context.Context) error { return nil }
func (c *lifecycleClient) Logout(ctx context.Context) error     { return nil }

func (c *lifecycleClient) Destroy() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.destroyed = true
	return nil
}

func (c *lifecycleClient) State(ctx context.Context) (string, error) {
	return wa.StateConnected, nil
}

func (c *lifecycleClient) Chats(ctx context.Context) ([]wa.Chat, error) { return nil, nil }

func (c *lifecycleClient) SendText(ctx context.Context, chatID, text string) error { return nil }

func (c *lifecycleClient) SendMedia(ctx context.Context, chatID string, media wa.Media, caption string) error {
	return nil
}

func (c *lifecycleClient) RejectCall(ctx context.Context, callID, from string) error { return nil }

func (c *lifecycleClient) Number() string { return "551187654321" }

func lifecycleConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := &config.Config{}
	cfg.Server.Port = 8080
	cfg.Session.DataDir = filepath.Join(t.TempDir(), "session")
	cfg.Session.CacheDir = filepath.Join(t.TempDir(), "cache")
	cfg.Dispatch.SendTimeout = time.Second
	return cfg
}

func lifecycleFactory() wa.Factory {
	return func(ctx context.Context, handler wa.EventHandler) (wa.Client, error) {
		return &lifecycleClient{}, nil
	}
}

func get(t *testing.T, g *Gateway, path string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	mux := http.NewServeMux()
	g.registerRoutes(mux)
	w := do(mux, httptest.NewRequest(http.MethodGet, path, nil))
	if w.Header().Get("Content-Type") == "application/json" {
		return w, decodeJSON(t, w)
	}
	return w, nil
}

func TestDisconnectThenStatusSequence(t *testing.T) {
	g, err := NewWithFactory(lifecycleConfig(t), lifecycleFactory(), testLogger())
	require.NoError(t, err)

	require.NoError(t, g.sess.Start(context.Background()))

	// Fresh client, nothing scanned: status is disconnected.
	_, body := get(t, g, "/api/status")
	assert.Equal(t, "disconnected", body["status"])

	// Drive the session to connected.
	g.sess.HandleEvent(wa.ReadyEvent{})
	_, body = get(t, g, "/api/status")
	assert.Equal(t, "connected", body["status"])
	assert.Equal(t, "551187654321", body["number"])

	// User-initiated reset drops the authenticated state.
	w, _ := get(t, g, "/api/disconnect")
	require.Equal(t, http.StatusOK, w.Code)

	_, body = get(t, g, "/api/status")
	assert.Equal(t, "disconnected", body["status"])

	// A fresh QR from the replacement client is served as PNG.
	g.sess.HandleEvent(wa.QREvent{Code: "fresh-pairing"})
	w, _ = get(t, g, "/api/qr")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "image/png", w.Header().Get("Content-Type"))
}

func TestNewWithFactoryRejectsBadAllowlist(t *testing.T) {
	cfg := lifecycleConfig(t)
	cfg.Access.AllowedIPs = []string{"not-an-ip"}

	_, err := NewWithFactory(cfg, lifecycleFactory(), testLogger())
	require.Error(t, err)
}

func TestShutdownDestroysSessionClient(t *testing.T) {
	var created *lifecycleClient
	factory := func(ctx context.Context, handler wa.EventHandler) (wa.Client, error) {
		created = &lifecycleClient{}
		return created, nil
	}

	g, err := NewWithFactory(lifecycleConfig(t), factory, testLogger())
	require.NoError(t, err)
	require.NoError(t, g.sess.Start(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, g.Shutdown(ctx))

	require.NotNil(t, created)
	assert.True(t, created.destroyed)
}
