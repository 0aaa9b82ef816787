// ABOUTME: Tests for the session state machine using a fake client factory
// ABOUTME: Covers event transitions, ping/call handling, reset vs wipe policies, and stale handlers

package session

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/zap-gateway/internal/hub"
	"github.com/2389/zap-gateway/internal/wa"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeBroadcaster struct {
	mu   sync.Mutex
	envs []hub.Envelope
}

func (b *fakeBroadcaster) Broadcast(env hub.Envelope) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.envs = append(b.envs, env)
}

func (b *fakeBroadcaster) envelopes() []hub.Envelope {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]hub.Envelope, len(b.envs))
	copy(out, b.envs)
	return out
}

func (b *fakeBroadcaster) last() (hub.Envelope, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.envs) == 0 {
		return hub.Envelope{}, false
	}
	return b.envs[len(b.envs)-1], true
}

type sentText struct {
	chatID string
	text   string
}

type fakeClient struct {
	mu sync.Mutex

	initErr    error
	logoutErr  error
	destroyErr error
	state      string
	number     string

	initialized bool
	loggedOut   bool
	destroyed   bool
	texts       []sentText
	rejected    []string
}

func (c *fakeClient) Initialize(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.initialized = true
	return c.initErr
}

func (c *fakeClient) Logout(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.loggedOut = true
	return c.logoutErr
}

func (c *fakeClient) Destroy() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.destroyed = true
	return c.destroyErr
}

func (c *fakeClient) State(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state, nil
}

func (c *fakeClient) Chats(ctx context.Context) ([]wa.Chat, error) {
	return nil, nil
}

func (c *fakeClient) SendText(ctx context.Context, chatID, text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.texts = append(c.texts, sentText{chatID: chatID, text: text})
	return nil
}

func (c *fakeClient) SendMedia(ctx context.Context, chatID string, media wa.Media, caption string) error {
	return nil
}

func (c *fakeClient) RejectCall(ctx context.Context, callID, from string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rejected = append(c.rejected, callID)
	return nil
}

func (c *fakeClient) Number() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.number
}

func (c *fakeClient) sentTexts() []sentText {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]sentText, len(c.texts))
	copy(out, c.texts)
	return out
}

type fakeFactory struct {
	mu       sync.Mutex
	err      error
	clients  []*fakeClient
	handlers []wa.EventHandler
}

func (f *fakeFactory) new(ctx context.Context, handler wa.EventHandler) (wa.Client, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	client := &fakeClient{state: wa.StateConnected, number: "551187654321"}
	f.clients = append(f.clients, client)
	f.handlers = append(f.handlers, handler)
	return client, nil
}

func (f *fakeFactory) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.clients)
}

func (f *fakeFactory) client(i int) *fakeClient {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.clients[i]
}

func (f *fakeFactory) handler(i int) wa.EventHandler {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.handlers[i]
}

func newTestSession(t *testing.T) (*Session, *fakeFactory, *fakeBroadcaster) {
	t.Helper()
	factory := &fakeFactory{}
	b := &fakeBroadcaster{}
	opts := Options{
		DataDir:  filepath.Join(t.TempDir(), "session"),
		CacheDir: filepath.Join(t.TempDir(), "cache"),
	}
	sess := New(factory.new, b, opts, testLogger())
	return sess, factory, b
}

func startedSession(t *testing.T) (*Session, *fakeFactory, *fakeBroadcaster) {
	t.Helper()
	sess, factory, b := newTestSession(t)
	require.NoError(t, sess.Start(context.Background()))
	return sess, factory, b
}

func TestStartCreatesAndInitializesClient(t *testing.T) {
	sess, factory, _ := newTestSession(t)

	require.NoError(t, sess.Start(context.Background()))

	require.Equal(t, 1, factory.count())
	assert.True(t, factory.client(0).initialized)
	assert.Equal(t, StateUninitialized, sess.Snapshot().State)
}

func TestStartFactoryError(t *testing.T) {
	sess, factory, _ := newTestSession(t)
	factory.err = errors.New("no device")

	err := sess.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "creating client")
}

func TestQREventBroadcastsAndTransitions(t *testing.T) {
	sess, _, b := startedSession(t)

	sess.HandleEvent(wa.QREvent{Code: "pair-me"})

	snap := sess.Snapshot()
	assert.Equal(t, StateAwaitingScan, snap.State)
	assert.Equal(t, "pair-me", snap.QR)
	assert.False(t, snap.Authenticated)
	assert.Equal(t, "pair-me", sess.CurrentQR())

	env, ok := b.last()
	require.True(t, ok)
	assert.Equal(t, hub.TypeQR, env.Type)
	assert.Equal(t, "pair-me", env.Data)
}

func TestAuthenticatedEventTransitions(t *testing.T) {
	sess, _, b := startedSession(t)

	sess.HandleEvent(wa.AuthenticatedEvent{})

	assert.Equal(t, StateAuthenticating, sess.Snapshot().State)
	_, ok := b.last()
	assert.False(t, ok)
}

func TestReadyEventConnectsAndClearsQR(t *testing.T) {
	sess, _, b := startedSession(t)
	sess.HandleEvent(wa.QREvent{Code: "pair-me"})

	sess.HandleEvent(wa.ReadyEvent{})

	snap := sess.Snapshot()
	assert.Equal(t, StateConnected, snap.State)
	assert.True(t, snap.Authenticated)
	assert.Empty(t, snap.QR)
	assert.Equal(t, "551187654321", snap.Number)

	env, ok := b.last()
	require.True(t, ok)
	assert.Equal(t, hub.TypeAuthenticated, env.Type)
}

func TestDisconnectedEventClearsDerivedState(t *testing.T) {
	sess, _, b := startedSession(t)
	sess.HandleEvent(wa.ReadyEvent{})

	sess.HandleEvent(wa.DisconnectedEvent{Reason: "stream error"})

	snap := sess.Snapshot()
	assert.Equal(t, StateDisconnected, snap.State)
	assert.False(t, snap.Authenticated)
	assert.Empty(t, snap.QR)

	env, ok := b.last()
	require.True(t, ok)
	assert.Equal(t, hub.TypeDisconnected, env.Type)
}

func TestAuthFailureKeepsState(t *testing.T) {
	sess, _, _ := startedSession(t)
	sess.HandleEvent(wa.QREvent{Code: "pair-me"})

	sess.HandleEvent(wa.AuthFailureEvent{Message: "mismatch"})

	snap := sess.Snapshot()
	assert.Equal(t, StateAwaitingScan, snap.State)
	assert.Equal(t, "pair-me", snap.QR)
}

func TestPingAutoReply(t *testing.T) {
	sess, factory, _ := startedSession(t)

	sess.HandleEvent(wa.MessageEvent{ChatID: "someone@s.whatsapp.net", Body: "  !PiNg  "})

	texts := factory.client(0).sentTexts()
	require.Len(t, texts, 1)
	assert.Equal(t, "someone@s.whatsapp.net", texts[0].chatID)
	assert.Equal(t, "PONG", texts[0].text)
}

func TestNonPingMessageIgnored(t *testing.T) {
	sess, factory, _ := startedSession(t)

	sess.HandleEvent(wa.MessageEvent{ChatID: "someone@s.whatsapp.net", Body: "hello"})
	sess.HandleEvent(wa.MessageEvent{ChatID: "someone@s.whatsapp.net", Body: "!pingpong"})

	assert.Empty(t, factory.client(0).sentTexts())
}

func TestCallRejectedWithAutoReply(t *testing.T) {
	sess, factory, _ := startedSession(t)

	sess.HandleEvent(wa.CallEvent{CallID: "call-1", From: "caller@s.whatsapp.net"})

	client := factory.client(0)
	assert.Equal(t, []string{"call-1"}, client.rejected)

	texts := client.sentTexts()
	require.Len(t, texts, 1)
	assert.Equal(t, "caller@s.whatsapp.net", texts[0].chatID)
	assert.Contains(t, texts[0].text, "não aceita chamadas")
}

func TestWithClientRequiresConnected(t *testing.T) {
	sess, _, _ := startedSession(t)

	err := sess.WithClient(context.Background(), func(wa.Client) error { return nil })
	assert.ErrorIs(t, err, ErrClientNotReady)

	sess.HandleEvent(wa.ReadyEvent{})

	called := false
	err = sess.WithClient(context.Background(), func(client wa.Client) error {
		called = true
		require.NotNil(t, client)
		return nil
	})
	require.NoError(t, err)
	assert.True(t, called)
}

func TestClientStateWithoutClient(t *testing.T) {
	sess, _, _ := newTestSession(t)

	_, err := sess.ClientState(context.Background())
	assert.ErrorIs(t, err, ErrClientNotReady)
}

func TestResetTearsDownAndRecreates(t *testing.T) {
	sess, factory, _ := startedSession(t)
	sess.HandleEvent(wa.ReadyEvent{})

	require.NoError(t, os.MkdirAll(sess.opts.DataDir, 0o700))
	marker := filepath.Join(sess.opts.DataDir, "credentials.db")
	require.NoError(t, os.WriteFile(marker, []byte("x"), 0o600))

	require.NoError(t, sess.Reset(context.Background()))

	old := factory.client(0)
	assert.True(t, old.loggedOut)
	assert.True(t, old.destroyed)
	assert.NoFileExists(t, marker)
	require.Equal(t, 2, factory.count())
	assert.True(t, factory.client(1).initialized)

	snap := sess.Snapshot()
	assert.Equal(t, StateUninitialized, snap.State)
	assert.False(t, snap.Authenticated)
	assert.Empty(t, snap.QR)
}

func TestResetAbortsOnLogoutFailure(t *testing.T) {
	sess, factory, _ := startedSession(t)
	factory.client(0).logoutErr = errors.New("boom")

	require.NoError(t, os.MkdirAll(sess.opts.DataDir, 0o700))

	err := sess.Reset(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "logging out")

	assert.Equal(t, 1, factory.count())
	assert.DirExists(t, sess.opts.DataDir)
}

func TestWipeSwallowsTeardownFailures(t *testing.T) {
	sess, factory, _ := startedSession(t)
	client := factory.client(0)
	client.logoutErr = errors.New("boom")
	client.destroyErr = errors.New("boom")

	require.NoError(t, os.MkdirAll(sess.opts.DataDir, 0o700))
	require.NoError(t, os.MkdirAll(sess.opts.CacheDir, 0o700))

	require.NoError(t, sess.Wipe(context.Background()))

	assert.True(t, client.loggedOut)
	assert.True(t, client.destroyed)
	assert.NoDirExists(t, sess.opts.DataDir)
	assert.NoDirExists(t, sess.opts.CacheDir)
	require.Equal(t, 2, factory.count())
	assert.True(t, factory.client(1).initialized)
}

func TestResetWithoutClientStillRecreates(t *testing.T) {
	sess, factory, _ := newTestSession(t)

	require.NoError(t, sess.Reset(context.Background()))
	assert.Equal(t, 1, factory.count())
}

func TestStaleHandlerEventsIgnoredAfterReset(t *testing.T) {
	sess, factory, _ := startedSession(t)
	oldHandler := factory.handler(0)

	require.NoError(t, sess.Reset(context.Background()))

	oldHandler(wa.QREvent{Code: "stale"})
	assert.Empty(t, sess.CurrentQR())

	factory.handler(1)(wa.QREvent{Code: "fresh"})
	assert.Equal(t, "fresh", sess.CurrentQR())
}

func TestShutdownDestroysClient(t *testing.T) {
	sess, factory, _ := startedSession(t)

	require.NoError(t, sess.Shutdown())
	assert.True(t, factory.client(0).destroyed)

	// Second shutdown has nothing left to destroy.
	require.NoError(t, sess.Shutdown())
}
