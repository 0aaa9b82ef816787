// ABOUTME: HTTP API handlers for session status, QR rendering, sends, and resets
// ABOUTME: All responses are structured status/message payloads except QR bytes and disconnect text

package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	qrcode "github.com/skip2/go-qrcode"

	"github.com/2389/zap-gateway/internal/dispatch"
	"github.com/2389/zap-gateway/internal/ipfilter"
	"github.com/2389/zap-gateway/internal/session"
	"github.com/2389/zap-gateway/internal/wa"
)

// maxUploadBytes bounds in-memory multipart parsing for /api/send.
const maxUploadBytes = 32 << 20

// qrImageSize is the side length of the rendered QR PNG in pixels.
const qrImageSize = 512

// statusResponse is the common JSON payload shape.
type statusResponse struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
	Number  string `json:"number,omitempty"`
}

// sendFailureResponse carries the per-recipient failure list for a partially
// or fully failed batch. The "erros" field name is wire contract.
type sendFailureResponse struct {
	Status  string   `json:"status"`
	Message string   `json:"message"`
	Errors  []string `json:"erros"`
}

func (g *Gateway) sendJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		g.logger.Error("encoding response failed", "error", err)
	}
}

func (g *Gateway) sendJSONError(w http.ResponseWriter, status int, message string) {
	g.sendJSON(w, status, statusResponse{Status: "error", Message: message})
}

// handleQR handles GET /api/qr.
// Connected sessions report their status; an active QR payload is rendered
// as PNG bytes; otherwise the caller is told to retry shortly.
func (g *Gateway) handleQR(w http.ResponseWriter, r *http.Request) {
	snap := g.session.Snapshot()

	if snap.Authenticated {
		g.sendJSON(w, http.StatusOK, statusResponse{
			Status:  "connected",
			Message: "Cliente já está conectado",
		})
		return
	}

	if snap.QR == "" {
		g.sendJSON(w, http.StatusOK, statusResponse{
			Status:  "waiting",
			Message: "QR Code ainda não foi gerado, por favor tente novamente em alguns segundos",
		})
		return
	}

	png, err := qrcode.Encode(snap.QR, qrcode.Medium, qrImageSize)
	if err != nil {
		g.logger.Error("QR rendering failed", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "Erro ao gerar QR Code")
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Content-Length", strconv.Itoa(len(png)))
	_, _ = w.Write(png)
}

// handleStatus handles GET /api/status.
// The connected report requires both the gateway-side authenticated flag and
// the collaborator's own live state to agree.
func (g *Gateway) handleStatus(w http.ResponseWriter, r *http.Request) {
	snap := g.session.Snapshot()

	if !snap.Authenticated {
		g.sendJSON(w, http.StatusOK, statusResponse{Status: "disconnected"})
		return
	}

	state, err := g.session.ClientState(r.Context())
	if err != nil || state != wa.StateConnected {
		g.sendJSON(w, http.StatusOK, statusResponse{Status: "connecting"})
		return
	}

	g.sendJSON(w, http.StatusOK, statusResponse{Status: "connected", Number: snap.Number})
}

// handleSend handles POST /api/send: a bulk dispatch with comma-separated
// recipients, a message body, and an optional uploaded file.
func (g *Gateway) handleSend(w http.ResponseWriter, r *http.Request) {
	req, err := parseSendForm(r)
	if err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	outcome, err := g.dispatcher.Dispatch(r.Context(), req)
	if err != nil {
		g.respondDispatchError(w, err, "Erro ao processar o envio.")
		return
	}

	if !outcome.OK() {
		g.sendJSON(w, http.StatusBadRequest, sendFailureResponse{
			Status:  "error",
			Message: "Falha ao enviar para alguns destinatarios.",
			Errors:  outcome.Failures,
		})
		return
	}

	g.sendJSON(w, http.StatusOK, statusResponse{Status: "success", Message: "Mensagem enviada!"})
}

// handleSendSingle handles GET /api/sendMessage/{recipient}/{message}:
// a single plain-text send with URL-encoded path segments.
func (g *Gateway) handleSendSingle(w http.ResponseWriter, r *http.Request) {
	recipient := r.PathValue("recipient")
	message := r.PathValue("message")

	err := g.dispatcher.SendSingle(r.Context(), recipient, message)
	if err == nil {
		g.sendJSON(w, http.StatusOK, statusResponse{Status: "success", Message: "Mensagem enviada!"})
		return
	}

	if errors.Is(err, dispatch.ErrRecipientNotFound) {
		g.sendJSONError(w, http.StatusNotFound, fmt.Sprintf("Grupo %q não encontrado.", recipient))
		return
	}
	g.respondDispatchError(w, err, "Erro ao enviar mensagem.")
}

// respondDispatchError maps dispatch fail-fast errors onto the caller-facing
// payloads; anything unexpected gets the generic message.
func (g *Gateway) respondDispatchError(w http.ResponseWriter, err error, generic string) {
	switch {
	case errors.Is(err, session.ErrClientNotReady):
		g.sendJSONError(w, http.StatusInternalServerError, "Cliente não está pronto. Por favor, tente novamente mais tarde.")
	case errors.Is(err, dispatch.ErrClientNotConnected):
		g.sendJSONError(w, http.StatusInternalServerError, "Cliente não está conectado ao WhatsApp. Por favor, aguarde.")
	default:
		g.logger.Error("dispatch failed", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, generic)
	}
}

// handleDisconnect handles GET /api/disconnect: the user-initiated reset.
// A teardown failure aborts recreation and surfaces as a 500.
func (g *Gateway) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	if err := g.session.Reset(r.Context()); err != nil {
		g.logger.Error("reset failed", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "Erro ao desconectar.")
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("Desconectado com sucesso!"))
}

// handleClearConnections handles POST /api/clear-connections: the
// secret-gated administrative wipe.
func (g *Gateway) handleClearConnections(w http.ResponseWriter, r *http.Request) {
	supplied := wipeSecretFrom(r)

	switch err := authorizeWipe(supplied, g.config.Admin.WipeSecret); {
	case errors.Is(err, ErrWipeNotConfigured):
		g.sendJSONError(w, http.StatusInternalServerError, "Senha de limpeza não configurada.")
		return
	case errors.Is(err, ErrWipeUnauthorized):
		g.sendJSONError(w, http.StatusUnauthorized, "Senha invalida.")
		return
	}

	g.logger.Warn("connection wipe requested", "remote", ipfilter.ClientIP(r))

	if err := g.session.Wipe(r.Context()); err != nil {
		g.logger.Error("wipe failed", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "Erro ao limpar conexoes.")
		return
	}

	g.logger.Warn("connection wipe completed")
	g.sendJSON(w, http.StatusOK, statusResponse{Status: "success", Message: "Conexoes limpas com sucesso."})
}

// wipeSecretFrom reads the "senha" field from a JSON or form body.
func wipeSecretFrom(r *http.Request) string {
	if strings.Contains(r.Header.Get("Content-Type"), "application/json") {
		var body struct {
			Senha string `json:"senha"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err == nil {
			return body.Senha
		}
		return ""
	}

	if err := r.ParseForm(); err != nil {
		return ""
	}
	return r.FormValue("senha")
}

// parseSendForm decodes the /api/send body, multipart or urlencoded.
func parseSendForm(r *http.Request) (dispatch.Request, error) {
	var req dispatch.Request

	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/") {
		if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
			return req, fmt.Errorf("parsing multipart form: %w", err)
		}
	} else if err := r.ParseForm(); err != nil {
		return req, fmt.Errorf("parsing form: %w", err)
	}

	recipients := splitRecipients(r.FormValue("recipients"))
	if len(recipients) == 0 {
		return req, errors.New("recipients is required")
	}
	req.Recipients = recipients
	req.Message = r.FormValue("message")

	if r.MultipartForm != nil {
		file, header, err := r.FormFile("file")
		if err == nil {
			defer func() { _ = file.Close() }()
			data, readErr := io.ReadAll(file)
			if readErr != nil {
				return req, fmt.Errorf("reading uploaded file: %w", readErr)
			}
			req.Attachment = &dispatch.Attachment{Filename: header.Filename, Data: data}
		}
	}

	return req, nil
}

// splitRecipients splits the comma-separated recipient list, trimming
// whitespace and dropping empty tokens.
func splitRecipients(raw string) []string {
	var out []string
	for _, token := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(token); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
