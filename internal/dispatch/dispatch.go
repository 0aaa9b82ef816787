// ABOUTME: Outbound dispatch pipeline resolving recipients and classifying message content
// ABOUTME: Serializes sends under a reporting timeout and an inter-send throttle delay

package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/2389/zap-gateway/internal/wa"
)

// Dispatch errors.
var (
	// ErrClientNotConnected means the live client state is not CONNECTED.
	ErrClientNotConnected = errors.New("client is not connected")

	// ErrRecipientNotFound means a group name matched no group chat.
	ErrRecipientNotFound = errors.New("recipient not found")

	// ErrSendTimeout is a reporting deadline, not a cancellation: the
	// underlying send may still complete after it fires.
	ErrSendTimeout = errors.New("timeout ao enviar mensagem")

	// ErrMediaFetch means a media directive URL could not be retrieved.
	ErrMediaFetch = errors.New("media fetch failed")
)

var (
	// A numeric token with an optional leading plus is a phone number;
	// anything else is a group name.
	phonePattern = regexp.MustCompile(`^\+?\d+$`)

	imgDirective = regexp.MustCompile(`(?i)\[img\s*=\s*(https?://\S+)\]`)
	pdfDirective = regexp.MustCompile(`(?i)\[pdf\s*=\s*(https?://\S+)\]`)
)

// Request is one outbound batch. It lives for the duration of a single
// Dispatch call and is never persisted.
type Request struct {
	Recipients []string
	Message    string
	Attachment *Attachment
}

// Attachment is an uploaded file forwarded as media.
type Attachment struct {
	Filename string
	Data     []byte
}

// Outcome aggregates per-recipient failures. Sends that completed before a
// later recipient failed are not rolled back.
type Outcome struct {
	Failures []string
}

// OK reports overall success: no recorded failures.
func (o Outcome) OK() bool {
	return len(o.Failures) == 0
}

// ClientRunner runs a function against the live client under the session's
// single-writer lock.
type ClientRunner interface {
	WithClient(ctx context.Context, fn func(client wa.Client) error) error
}

// Options configures a Dispatcher.
type Options struct {
	// Timeout is the per-send reporting deadline.
	Timeout time.Duration
	// Delay is the throttle wait after each recipient, success or failure.
	Delay time.Duration
	// ScratchDir stages uploaded attachments; defaults to the OS temp dir.
	ScratchDir string
}

// Dispatcher drives one send per recipient through the session's client
// handle.
type Dispatcher struct {
	session ClientRunner
	http    *resty.Client
	opts    Options
	logger  *slog.Logger
}

// New creates a Dispatcher.
func New(session ClientRunner, opts Options, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.ScratchDir == "" {
		opts.ScratchDir = os.TempDir()
	}
	return &Dispatcher{
		session: session,
		http:    resty.New().SetTimeout(opts.Timeout),
		opts:    opts,
		logger:  logger.With("component", "dispatch"),
	}
}

// NormalizePhone strips all non-digit characters and applies the Brazilian
// mobile ninth-digit elision: a "55"-prefixed 13-digit number loses the digit
// at index 4. Already-12-digit numbers pass through unchanged.
func NormalizePhone(raw string) string {
	var b strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	number := b.String()

	if strings.HasPrefix(number, "55") && len(number) == 13 {
		number = number[:4] + number[5:]
	}
	return number
}

// findGroup resolves a group name by exact, case-sensitive match among
// group-type chats. Duplicate names are not disambiguated; first match wins.
func findGroup(chats []wa.Chat, name string) (string, bool) {
	for _, chat := range chats {
		if chat.IsGroup && chat.Name == name {
			return chat.ID, true
		}
	}
	return "", false
}

// Dispatch resolves and sends one batch, strictly in request order. Fails
// fast with ErrClientNotReady/ErrClientNotConnected before touching any
// recipient; per-recipient failures are accumulated in the Outcome and never
// abort the remaining recipients.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) (Outcome, error) {
	var outcome Outcome

	err := d.session.WithClient(ctx, func(client wa.Client) error {
		state, err := client.State(ctx)
		if err != nil {
			return fmt.Errorf("querying client state: %w", err)
		}
		if state != wa.StateConnected {
			return ErrClientNotConnected
		}

		// The chat list is fetched once per request, not per recipient,
		// and only when a group recipient exists. Staleness across
		// requests is acceptable.
		var chats []wa.Chat
		if hasGroupRecipient(req.Recipients) {
			chats, err = client.Chats(ctx)
			if err != nil {
				return fmt.Errorf("fetching chat list: %w", err)
			}
		}

		for _, recipient := range req.Recipients {
			trimmed := strings.TrimSpace(recipient)

			var chatID string
			if phonePattern.MatchString(trimmed) {
				chatID = wa.UserChatID(NormalizePhone(trimmed))
			} else {
				id, ok := findGroup(chats, trimmed)
				if !ok {
					d.logger.Error("group not found", "group", trimmed)
					outcome.Failures = append(outcome.Failures, fmt.Sprintf("Grupo %q não encontrado.", trimmed))
					if err := d.wait(ctx); err != nil {
						return err
					}
					continue
				}
				chatID = id
			}

			if err := d.sendWithTimeout(ctx, client, chatID, req.Message, req.Attachment); err != nil {
				d.logger.Error("send failed", "recipient", trimmed, "chat", chatID, "error", err)
				outcome.Failures = append(outcome.Failures, fmt.Sprintf("Falha ao enviar para %q: %v", trimmed, err))
			} else {
				d.logger.Info("message sent", "recipient", trimmed, "chat", chatID)
			}

			// Throttle after every recipient to avoid tripping abuse
			// detection on the underlying account.
			if err := d.wait(ctx); err != nil {
				return err
			}
		}
		return nil
	})

	return outcome, err
}

// SendSingle is the synchronous single-recipient path: same normalization
// and group resolution as Dispatch, plain text only.
func (d *Dispatcher) SendSingle(ctx context.Context, recipient, message string) error {
	return d.session.WithClient(ctx, func(client wa.Client) error {
		state, err := client.State(ctx)
		if err != nil {
			return fmt.Errorf("querying client state: %w", err)
		}
		if state != wa.StateConnected {
			return ErrClientNotConnected
		}

		trimmed := strings.TrimSpace(recipient)

		var chatID string
		if phonePattern.MatchString(trimmed) {
			chatID = wa.UserChatID(NormalizePhone(trimmed))
		} else {
			chats, err := client.Chats(ctx)
			if err != nil {
				return fmt.Errorf("fetching chat list: %w", err)
			}
			id, ok := findGroup(chats, trimmed)
			if !ok {
				return fmt.Errorf("%w: grupo %q", ErrRecipientNotFound, trimmed)
			}
			chatID = id
		}

		if err := client.SendText(ctx, chatID, message); err != nil {
			return err
		}
		d.logger.Info("message sent", "recipient", trimmed, "chat", chatID)
		return nil
	})
}

func hasGroupRecipient(recipients []string) bool {
	for _, r := range recipients {
		if !phonePattern.MatchString(strings.TrimSpace(r)) {
			return true
		}
	}
	return false
}

// wait sleeps out the throttle delay, honoring context cancellation.
func (d *Dispatcher) wait(ctx context.Context) error {
	if d.opts.Delay <= 0 {
		return nil
	}
	timer := time.NewTimer(d.opts.Delay)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// sendWithTimeout races one send against the reporting deadline. The
// underlying send is not cancelled when the deadline fires; its late result
// is logged and discarded.
func (d *Dispatcher) sendWithTimeout(ctx context.Context, client wa.Client, chatID, message string, att *Attachment) error {
	result := make(chan error, 1)
	go func() {
		result <- d.send(ctx, client, chatID, message, att)
	}()

	timer := time.NewTimer(d.opts.Timeout)
	defer timer.Stop()

	select {
	case err := <-result:
		return err
	case <-timer.C:
		go func() {
			if err := <-result; err != nil {
				d.logger.Warn("late send result after timeout", "chat", chatID, "error", err)
			}
		}()
		return ErrSendTimeout
	}
}

// send classifies the message content and performs one send. Priority:
// [img=...] directive, then [pdf=...], then an uploaded attachment, then
// plain text.
func (d *Dispatcher) send(ctx context.Context, client wa.Client, chatID, message string, att *Attachment) error {
	if m := imgDirective.FindStringSubmatch(message); m != nil {
		media, err := d.fetchMedia(ctx, m[1], wa.MediaImage)
		if err != nil {
			return err
		}
		return client.SendMedia(ctx, chatID, media, imgDirective.ReplaceAllString(message, ""))
	}

	if m := pdfDirective.FindStringSubmatch(message); m != nil {
		media, err := d.fetchMedia(ctx, m[1], wa.MediaDocument)
		if err != nil {
			return err
		}
		return client.SendMedia(ctx, chatID, media, pdfDirective.ReplaceAllString(message, ""))
	}

	if att != nil {
		return d.sendAttachment(ctx, client, chatID, message, att)
	}

	return client.SendText(ctx, chatID, message)
}

// fetchMedia retrieves a media directive URL and wraps it for sending.
func (d *Dispatcher) fetchMedia(ctx context.Context, rawURL string, kind wa.MediaKind) (wa.Media, error) {
	resp, err := d.http.R().SetContext(ctx).Get(rawURL)
	if err != nil {
		return wa.Media{}, fmt.Errorf("%w: %v", ErrMediaFetch, err)
	}
	if resp.IsError() {
		return wa.Media{}, fmt.Errorf("%w: status %d from %s", ErrMediaFetch, resp.StatusCode(), rawURL)
	}

	data := resp.Body()
	mimetype := resp.Header().Get("Content-Type")
	if i := strings.IndexByte(mimetype, ';'); i >= 0 {
		mimetype = strings.TrimSpace(mimetype[:i])
	}
	if mimetype == "" {
		mimetype = http.DetectContentType(data)
	}

	filename := "media"
	if parsed, err := url.Parse(rawURL); err == nil {
		if base := path.Base(parsed.Path); base != "" && base != "." && base != "/" {
			filename = base
		}
	}

	return wa.Media{Kind: kind, Data: data, Mimetype: mimetype, Filename: filename}, nil
}

// sendAttachment stages the upload in the scratch directory, sends it as
// media with the message as caption, and best-effort deletes the scratch
// file afterwards. A cleanup failure is logged, never surfaced.
func (d *Dispatcher) sendAttachment(ctx context.Context, client wa.Client, chatID, message string, att *Attachment) error {
	scratch := filepath.Join(d.opts.ScratchDir, filepath.Base(att.Filename))
	if err := os.WriteFile(scratch, att.Data, 0o600); err != nil {
		return fmt.Errorf("staging attachment: %w", err)
	}

	data, err := os.ReadFile(scratch)
	if err != nil {
		return fmt.Errorf("reading staged attachment: %w", err)
	}

	mimetype := mime.TypeByExtension(filepath.Ext(scratch))
	if mimetype == "" {
		mimetype = http.DetectContentType(data)
	}

	media := wa.Media{
		Kind:     wa.KindForMimetype(mimetype),
		Data:     data,
		Mimetype: mimetype,
		Filename: filepath.Base(att.Filename),
	}
	sendErr := client.SendMedia(ctx, chatID, media, message)

	if err := os.Remove(scratch); err != nil {
		d.logger.Error("removing staged attachment failed", "path", scratch, "error", err)
	}
	return sendErr
}
