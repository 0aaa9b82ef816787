// ABOUTME: Production messaging client adapter backed by whatsmeow
// ABOUTME: Maps whatsmeow connection events and operations onto the Client contract

package wa

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	waLog "go.mau.fi/whatsmeow/util/log"
	"google.golang.org/protobuf/proto"
)

// credentialsFile is the sqlite device store inside the session data
// directory. The directory is deleted wholesale by the reset flows.
const credentialsFile = "credentials.db"

// meowClient adapts a whatsmeow client to the Client interface.
type meowClient struct {
	cli       *whatsmeow.Client
	container *sqlstore.Container
	handler   EventHandler
	logger    *slog.Logger
}

// NewMeowFactory returns a Factory producing whatsmeow-backed clients whose
// credential store lives under dataDir.
func NewMeowFactory(dataDir string, logger *slog.Logger) Factory {
	if logger == nil {
		logger = slog.Default()
	}
	log := logger.With("component", "wa")

	return func(ctx context.Context, handler EventHandler) (Client, error) {
		if err := os.MkdirAll(dataDir, 0o700); err != nil {
			return nil, fmt.Errorf("creating session data dir: %w", err)
		}

		dsn := fmt.Sprintf("file:%s?_foreign_keys=on", filepath.Join(dataDir, credentialsFile))
		container, err := sqlstore.New(ctx, "sqlite3", dsn, waLog.Noop)
		if err != nil {
			return nil, fmt.Errorf("opening credential store: %w", err)
		}

		device, err := container.GetFirstDevice(ctx)
		if err != nil {
			_ = container.Close()
			return nil, fmt.Errorf("loading device: %w", err)
		}

		m := &meowClient{
			cli:       whatsmeow.NewClient(device, waLog.Noop),
			container: container,
			handler:   handler,
			logger:    log,
		}
		m.cli.AddEventHandler(m.translate)
		return m, nil
	}
}

// Initialize starts the connection attempt. For an unpaired device the QR
// channel is consumed in the background and each refreshed code is surfaced
// as a QREvent, matching the collaborator's own refresh cadence.
func (m *meowClient) Initialize(ctx context.Context) error {
	if m.cli.Store.ID == nil {
		qrChan, err := m.cli.GetQRChannel(ctx)
		if err != nil {
			return fmt.Errorf("opening QR channel: %w", err)
		}
		go m.pumpQR(qrChan)
	}

	if err := m.cli.Connect(); err != nil {
		return fmt.Errorf("connecting client: %w", err)
	}
	return nil
}

func (m *meowClient) pumpQR(qrChan <-chan whatsmeow.QRChannelItem) {
	for item := range qrChan {
		switch item.Event {
		case "code":
			m.emit(QREvent{Code: item.Code})
		case "timeout":
			m.logger.Warn("QR pairing window expired")
		default:
			// "success" is followed by a PairSuccess event; nothing to do.
		}
	}
}

// translate maps whatsmeow events onto the boundary event union.
func (m *meowClient) translate(evt any) {
	switch v := evt.(type) {
	case *events.PairSuccess:
		m.emit(AuthenticatedEvent{})
	case *events.PairError:
		m.emit(AuthFailureEvent{Message: v.Error.Error()})
	case *events.Connected:
		m.emit(ReadyEvent{})
	case *events.Disconnected:
		m.emit(DisconnectedEvent{})
	case *events.LoggedOut:
		m.emit(DisconnectedEvent{Reason: "logged out"})
	case *events.Message:
		body := v.Message.GetConversation()
		if body == "" {
			body = v.Message.GetExtendedTextMessage().GetText()
		}
		m.emit(MessageEvent{
			ChatID: v.Info.Chat.String(),
			Sender: v.Info.Sender.String(),
			Body:   body,
		})
	case *events.CallOffer:
		m.emit(CallEvent{CallID: v.CallID, From: v.From.String()})
	}
}

func (m *meowClient) emit(evt any) {
	if m.handler != nil {
		m.handler(evt)
	}
}

func (m *meowClient) Logout(ctx context.Context) error {
	return m.cli.Logout(ctx)
}

func (m *meowClient) Destroy() error {
	m.cli.Disconnect()
	return m.container.Close()
}

func (m *meowClient) State(ctx context.Context) (string, error) {
	switch {
	case m.cli.IsConnected() && m.cli.IsLoggedIn():
		return StateConnected, nil
	case m.cli.IsConnected():
		return "OPENING", nil
	default:
		return "DISCONNECTED", nil
	}
}

// Chats returns the account's joined groups. Direct chats are addressed
// numerically and never resolved by name, so they are not listed.
func (m *meowClient) Chats(ctx context.Context) ([]Chat, error) {
	groups, err := m.cli.GetJoinedGroups(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetching joined groups: %w", err)
	}

	chats := make([]Chat, 0, len(groups))
	for _, g := range groups {
		chats = append(chats, Chat{
			ID:      g.JID.String(),
			Name:    g.Name,
			IsGroup: true,
		})
	}
	return chats, nil
}

func (m *meowClient) SendText(ctx context.Context, chatID, text string) error {
	jid, err := types.ParseJID(chatID)
	if err != nil {
		return fmt.Errorf("parsing chat id %q: %w", chatID, err)
	}

	_, err = m.cli.SendMessage(ctx, jid, &waE2E.Message{Conversation: proto.String(text)})
	if err != nil {
		return fmt.Errorf("sending text: %w", err)
	}
	return nil
}

func (m *meowClient) SendMedia(ctx context.Context, chatID string, media Media, caption string) error {
	jid, err := types.ParseJID(chatID)
	if err != nil {
		return fmt.Errorf("parsing chat id %q: %w", chatID, err)
	}

	uploadKind := whatsmeow.MediaDocument
	if media.Kind == MediaImage {
		uploadKind = whatsmeow.MediaImage
	}

	uploaded, err := m.cli.Upload(ctx, media.Data, uploadKind)
	if err != nil {
		return fmt.Errorf("uploading media: %w", err)
	}

	var msg *waE2E.Message
	if media.Kind == MediaImage {
		msg = &waE2E.Message{ImageMessage: &waE2E.ImageMessage{
			Caption:       proto.String(caption),
			Mimetype:      proto.String(media.Mimetype),
			URL:           proto.String(uploaded.URL),
			DirectPath:    proto.String(uploaded.DirectPath),
			MediaKey:      uploaded.MediaKey,
			FileEncSHA256: uploaded.FileEncSHA256,
			FileSHA256:    uploaded.FileSHA256,
			FileLength:    proto.Uint64(uploaded.FileLength),
		}}
	} else {
		msg = &waE2E.Message{DocumentMessage: &waE2E.DocumentMessage{
			Caption:       proto.String(caption),
			FileName:      proto.String(media.Filename),
			Mimetype:      proto.String(media.Mimetype),
			URL:           proto.String(uploaded.URL),
			DirectPath:    proto.String(uploaded.DirectPath),
			MediaKey:      uploaded.MediaKey,
			FileEncSHA256: uploaded.FileEncSHA256,
			FileSHA256:    uploaded.FileSHA256,
			FileLength:    proto.Uint64(uploaded.FileLength),
		}}
	}

	if _, err := m.cli.SendMessage(ctx, jid, msg); err != nil {
		return fmt.Errorf("sending media: %w", err)
	}
	return nil
}

func (m *meowClient) RejectCall(ctx context.Context, callID, from string) error {
	jid, err := types.ParseJID(from)
	if err != nil {
		return fmt.Errorf("parsing caller id %q: %w", from, err)
	}
	return m.cli.RejectCall(ctx, jid, callID)
}

func (m *meowClient) Number() string {
	if m.cli.Store.ID == nil {
		return ""
	}
	return m.cli.Store.ID.User
}
