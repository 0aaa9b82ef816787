// ABOUTME: Boundary contract for the external messaging client collaborator
// ABOUTME: Defines the Client interface, lifecycle events, and chat/media types

package wa

import (
	"context"
	"strings"
)

// StateConnected is the live-state string reported by a fully connected
// client, matching the collaborator's own vocabulary.
const StateConnected = "CONNECTED"

// DefaultUserServer is the domain suffix appended to a normalized phone
// number to form a direct-chat identifier.
const DefaultUserServer = "s.whatsapp.net"

// UserChatID forms a direct-chat identifier from a normalized phone number.
func UserChatID(number string) string {
	return number + "@" + DefaultUserServer
}

// Chat is one entry of the account's current chat list.
type Chat struct {
	ID      string
	Name    string
	IsGroup bool
}

// MediaKind selects how outbound media is presented to the recipient.
type MediaKind int

const (
	MediaImage MediaKind = iota
	MediaDocument
)

// Media is an outbound binary payload with its transport metadata.
type Media struct {
	Kind     MediaKind
	Data     []byte
	Mimetype string
	Filename string
}

// KindForMimetype classifies a payload: images are presented inline,
// everything else travels as a document.
func KindForMimetype(mimetype string) MediaKind {
	if strings.HasPrefix(mimetype, "image/") {
		return MediaImage
	}
	return MediaDocument
}

// Lifecycle and content events emitted by the client. Delivered to the
// EventHandler registered at construction; consumers type-switch on them.
type (
	// QREvent carries a fresh pairing payload to present out-of-band.
	QREvent struct{ Code string }

	// AuthenticatedEvent fires once the account link is accepted.
	AuthenticatedEvent struct{}

	// ReadyEvent fires when the client considers the session usable.
	ReadyEvent struct{}

	// DisconnectedEvent fires when the session drops, with the
	// collaborator's reason string when one is available.
	DisconnectedEvent struct{ Reason string }

	// AuthFailureEvent reports a failed authentication attempt.
	AuthFailureEvent struct{ Message string }

	// MessageEvent is an inbound chat message.
	MessageEvent struct {
		ChatID string
		Sender string
		Body   string
	}

	// CallEvent is an inbound voice or video call offer.
	CallEvent struct {
		CallID string
		From   string
	}
)

// EventHandler receives every event the client emits.
type EventHandler func(evt any)

// Client is the vendor-controlled messaging collaborator, reduced to the
// operations the gateway drives. Implementations must be safe for use from
// multiple goroutines.
type Client interface {
	// Initialize starts the collaborator's own connection attempt.
	// Lifecycle progress arrives through the registered EventHandler.
	Initialize(ctx context.Context) error

	// Logout unlinks the account session on the remote side.
	Logout(ctx context.Context) error

	// Destroy tears down the client and releases its resources.
	// The handle must not be used afterwards.
	Destroy() error

	// State returns the collaborator's live connection state string.
	State(ctx context.Context) (string, error)

	// Chats returns the account's current chat list.
	Chats(ctx context.Context) ([]Chat, error)

	// SendText sends a plain text message to the given chat.
	SendText(ctx context.Context, chatID, text string) error

	// SendMedia sends a media payload with a caption to the given chat.
	SendMedia(ctx context.Context, chatID string, media Media, caption string) error

	// RejectCall declines an inbound call offer.
	RejectCall(ctx context.Context, callID, from string) error

	// Number returns the account identifier once known, or "".
	Number() string
}

// Factory constructs a fresh Client with the given event handler registered.
// The session uses it at startup and again after every reset.
type Factory func(ctx context.Context, handler EventHandler) (Client, error)
