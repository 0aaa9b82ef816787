// ABOUTME: Connection-lifecycle state machine owning the single messaging client
// ABOUTME: Translates collaborator events into state transitions, broadcasts, and reset flows

package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/2389/zap-gateway/internal/hub"
	"github.com/2389/zap-gateway/internal/wa"
)

// ErrClientNotReady means the session has no usable client: either none
// exists yet or the account is not authenticated.
var ErrClientNotReady = errors.New("client is not ready")

// Smoke-test echo facility and call handling, fixed by the deployment.
const (
	pingKeyword = "!ping"
	pingReply   = "PONG"

	callRejectText = "*Mensagem automática!*\n\nEste número não aceita chamadas de voz ou de vídeo."
)

// State is the gateway-side view of the session lifecycle.
type State int

const (
	StateUninitialized State = iota
	StateAwaitingScan
	StateAuthenticating
	StateConnected
	StateDisconnected
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateAwaitingScan:
		return "awaiting_scan"
	case StateAuthenticating:
		return "authenticating"
	case StateConnected:
		return "connected"
	case StateDisconnected:
		return "disconnected"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Broadcaster pushes lifecycle envelopes to subscribed sockets.
type Broadcaster interface {
	Broadcast(env hub.Envelope)
}

// Options configures a Session.
type Options struct {
	// DataDir holds the client's session credentials; deleted on reset.
	DataDir string
	// CacheDir is the client's secondary cache; deleted on wipe only.
	CacheDir string
	// ReadyDelay is the grace period between the ready event and the
	// connected state re-query.
	ReadyDelay time.Duration
}

// Session owns the single messaging client handle and its derived state.
// Exactly one live client exists at any time; replacement during reset is
// atomic from the caller's perspective.
type Session struct {
	factory wa.Factory
	hub     Broadcaster
	opts    Options
	logger  *slog.Logger

	// opMu is the single-writer lock around the client handle: Reset/Wipe
	// and dispatch batches (via WithClient) are mutually exclusive, and
	// dispatches serialize. A reset issued during a dispatch waits.
	opMu sync.Mutex

	// mu guards the fields below.
	mu            sync.Mutex
	client        wa.Client
	state         State
	qr            string
	authenticated bool
	number        string
	generation    uint64
}

// Snapshot is a consistent read of the session's derived state.
type Snapshot struct {
	State         State
	QR            string
	Authenticated bool
	Number        string
}

// New creates a Session. Start must be called before the session is useful.
func New(factory wa.Factory, b Broadcaster, opts Options, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	return &Session{
		factory: factory,
		hub:     b,
		opts:    opts,
		logger:  logger.With("component", "session"),
	}
}

// Start constructs the first client and begins its connection attempt.
func (s *Session) Start(ctx context.Context) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()
	return s.recreate(ctx)
}

// recreate builds a fresh client, registers the event handler, and
// initializes it. Callers must hold opMu. Post-state is Uninitialized with
// no QR payload until the new client emits its own events.
func (s *Session) recreate(ctx context.Context) error {
	s.mu.Lock()
	s.generation++
	gen := s.generation
	s.mu.Unlock()

	client, err := s.factory(ctx, s.handlerFor(gen))
	if err != nil {
		return fmt.Errorf("creating client: %w", err)
	}

	s.mu.Lock()
	s.client = client
	s.state = StateUninitialized
	s.qr = ""
	s.authenticated = false
	s.mu.Unlock()

	if err := client.Initialize(ctx); err != nil {
		return fmt.Errorf("initializing client: %w", err)
	}
	s.logger.Info("client initialized")
	return nil
}

// handlerFor binds an event handler to one client generation so a torn-down
// client cannot clobber the state of its replacement.
func (s *Session) handlerFor(gen uint64) wa.EventHandler {
	return func(evt any) {
		s.mu.Lock()
		stale := s.generation != gen
		s.mu.Unlock()
		if stale {
			return
		}
		s.HandleEvent(evt)
	}
}

// HandleEvent is the single state-transition function consuming every
// collaborator event.
func (s *Session) HandleEvent(evt any) {
	switch v := evt.(type) {
	case wa.QREvent:
		s.mu.Lock()
		s.qr = v.Code
		s.state = StateAwaitingScan
		s.mu.Unlock()
		s.logger.Info("QR code generated")
		s.hub.Broadcast(hub.Envelope{Type: hub.TypeQR, Data: v.Code})

	case wa.AuthenticatedEvent:
		s.mu.Lock()
		s.state = StateAuthenticating
		s.mu.Unlock()
		s.logger.Info("client authenticated")

	case wa.ReadyEvent:
		s.handleReady()

	case wa.DisconnectedEvent:
		s.mu.Lock()
		s.qr = ""
		s.authenticated = false
		s.state = StateDisconnected
		s.mu.Unlock()
		s.logger.Info("client disconnected", "reason", v.Reason)
		s.hub.Broadcast(hub.Envelope{Type: hub.TypeDisconnected})

	case wa.AuthFailureEvent:
		// No retry and no state change; a fresh QR or disconnect event
		// from the collaborator drives whatever happens next.
		s.logger.Error("authentication failure", "message", v.Message)

	case wa.MessageEvent:
		s.handleMessage(v)

	case wa.CallEvent:
		s.handleCall(v)
	}
}

// handleReady waits out the grace delay, re-queries the live state, and only
// then reports the session as connected.
func (s *Session) handleReady() {
	if s.opts.ReadyDelay > 0 {
		time.Sleep(s.opts.ReadyDelay)
	}

	s.mu.Lock()
	client := s.client
	s.mu.Unlock()

	number := ""
	if client != nil {
		state, err := client.State(context.Background())
		if err != nil {
			s.logger.Warn("state query after ready failed", "error", err)
		} else {
			s.logger.Info("client ready", "state", state)
		}
		number = client.Number()
	}

	s.mu.Lock()
	s.qr = ""
	s.authenticated = true
	s.state = StateConnected
	s.number = number
	s.mu.Unlock()

	s.hub.Broadcast(hub.Envelope{Type: hub.TypeAuthenticated})
}

// handleMessage implements the smoke-test echo: a trimmed, case-folded
// "!ping" body gets a fixed reply.
func (s *Session) handleMessage(msg wa.MessageEvent) {
	if strings.ToLower(strings.TrimSpace(msg.Body)) != pingKeyword {
		return
	}

	s.mu.Lock()
	client := s.client
	s.mu.Unlock()
	if client == nil {
		return
	}

	if err := client.SendText(context.Background(), msg.ChatID, pingReply); err != nil {
		s.logger.Error("ping auto-reply failed", "chat", msg.ChatID, "error", err)
		return
	}
	s.logger.Info("ping auto-reply sent", "chat", msg.ChatID)
}

// handleCall rejects every inbound call and explains why by message.
func (s *Session) handleCall(call wa.CallEvent) {
	s.mu.Lock()
	client := s.client
	s.mu.Unlock()
	if client == nil {
		return
	}

	ctx := context.Background()
	if err := client.RejectCall(ctx, call.CallID, call.From); err != nil {
		s.logger.Error("call rejection failed", "from", call.From, "error", err)
	} else {
		s.logger.Info("call rejected", "from", call.From)
	}

	if err := client.SendText(ctx, call.From, callRejectText); err != nil {
		s.logger.Error("call auto-reply failed", "from", call.From, "error", err)
	}
}

// Snapshot returns the current derived state.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		State:         s.state,
		QR:            s.qr,
		Authenticated: s.authenticated,
		Number:        s.number,
	}
}

// CurrentQR reports the active QR payload, or "". Wired into the hub's
// subscriber catch-up.
func (s *Session) CurrentQR() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.qr
}

// ClientState queries the live client's own connection state. It does not
// take the single-writer lock so status reads stay responsive during a
// dispatch batch.
func (s *Session) ClientState(ctx context.Context) (string, error) {
	s.mu.Lock()
	client := s.client
	s.mu.Unlock()

	if client == nil {
		return "", ErrClientNotReady
	}
	return client.State(ctx)
}

// WithClient runs fn against the live client under the single-writer lock.
// Returns ErrClientNotReady unless the session is connected and
// authenticated. Dispatch batches run entirely inside fn, so concurrent
// dispatches serialize and a reset waits for them.
func (s *Session) WithClient(ctx context.Context, fn func(client wa.Client) error) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.mu.Lock()
	client := s.client
	ready := s.authenticated && s.state == StateConnected
	s.mu.Unlock()

	if client == nil || !ready {
		return ErrClientNotReady
	}
	return fn(client)
}

// Reset is the user-initiated reset: logout and destroy must both succeed or
// the reset aborts without recreation. On success the credential storage is
// deleted and a fresh client is constructed and initialized.
func (s *Session) Reset(ctx context.Context) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.mu.Lock()
	client := s.client
	s.mu.Unlock()

	if client != nil {
		s.logger.Info("logging out")
		if err := client.Logout(ctx); err != nil {
			return fmt.Errorf("logging out: %w", err)
		}
		s.logger.Info("destroying client")
		if err := client.Destroy(); err != nil {
			return fmt.Errorf("destroying client: %w", err)
		}
	}

	s.clear()
	if err := os.RemoveAll(s.opts.DataDir); err != nil {
		return fmt.Errorf("removing session data: %w", err)
	}
	s.logger.Info("session credentials removed")

	return s.recreate(ctx)
}

// Wipe is the secret-gated administrative recovery: teardown failures are
// logged and swallowed so the wipe always proceeds to deleting both on-disk
// directories and recreating the client.
func (s *Session) Wipe(ctx context.Context) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.mu.Lock()
	client := s.client
	s.mu.Unlock()

	if client != nil {
		if err := client.Logout(ctx); err != nil {
			s.logger.Error("logout failed during wipe", "error", err)
		}
		if err := client.Destroy(); err != nil {
			s.logger.Error("destroy failed during wipe", "error", err)
		}
	}

	s.clear()
	for _, dir := range []string{s.opts.DataDir, s.opts.CacheDir} {
		if dir == "" {
			continue
		}
		if err := os.RemoveAll(dir); err != nil {
			s.logger.Error("removing directory failed during wipe", "dir", dir, "error", err)
		}
	}

	return s.recreate(ctx)
}

// clear drops the client handle and every derived field. Callers must hold
// opMu; mu is taken here.
func (s *Session) clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.client = nil
	s.state = StateUninitialized
	s.qr = ""
	s.authenticated = false
	s.number = ""
}

// Shutdown destroys the current client, if any.
func (s *Session) Shutdown() error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.mu.Lock()
	client := s.client
	s.client = nil
	s.mu.Unlock()

	if client == nil {
		return nil
	}
	return client.Destroy()
}
