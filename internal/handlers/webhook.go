package handlers

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/genbarescue/gateway/internal/audit"
	"github.com/genbarescue/gateway/internal/channel"
)

const lineSignatureHeader = "X-Line-Signature"

// TurnHandler processes one normalized turn to completion.
type TurnHandler interface {
	HandleTurn(ctx context.Context, turn channel.InboundTurn)
}

// ErrorRecorder persists webhook-boundary failures.
type ErrorRecorder interface {
	Error(ctx context.Context, entry audit.ErrorEntry)
}

// signatureVerifier is implemented by adapters that authenticate their
// webhook payloads.
type signatureVerifier interface {
	VerifySignature(body []byte, signature string) bool
}

// WebhookHandler is the single inbound entry point for both platforms.
// It always acknowledges with 200 regardless of internal outcome;
// anything else risks redelivery storms from the platforms.
type WebhookHandler struct {
	logger   *slog.Logger
	registry *channel.Registry
	turns    TurnHandler
	records  ErrorRecorder
}

func NewWebhookHandler(log *slog.Logger, registry *channel.Registry, turns TurnHandler, records ErrorRecorder) *WebhookHandler {
	if log == nil {
		log = slog.Default()
	}
	return &WebhookHandler{
		logger:   log.With(slog.String("handler", "webhook")),
		registry: registry,
		turns:    turns,
		records:  records,
	}
}

func (h *WebhookHandler) Register(e *echo.Echo) {
	e.POST("/webhook", h.Receive)
}

// Receive sniffs the platform from the body shape, normalizes the
// payload, and runs each turn synchronously. Turns from one delivery run
// in order; concurrency exists only across deliveries.
func (h *WebhookHandler) Receive(c echo.Context) error {
	ctx := c.Request().Context()
	log := h.logger.With(slog.String("delivery_id", uuid.NewString()))

	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		log.Error("read webhook body failed", slog.Any("error", err))
		return ack(c)
	}

	channelType, ok := sniffChannel(body)
	if !ok {
		log.Warn("unrecognized webhook payload", slog.Int("bytes", len(body)))
		return ack(c)
	}
	log = log.With(slog.String("channel", channelType.String()))

	adapter, ok := h.registry.Get(channelType)
	if !ok {
		log.Error("no adapter registered")
		return ack(c)
	}

	if verifier, ok := adapter.(signatureVerifier); ok {
		if !verifier.VerifySignature(body, c.Request().Header.Get(lineSignatureHeader)) {
			log.Warn("webhook signature mismatch, dropping delivery")
			return ack(c)
		}
	}

	normalizer, ok := adapter.(channel.Normalizer)
	if !ok {
		log.Error("adapter cannot normalize")
		return ack(c)
	}
	turns, err := normalizer.Normalize(ctx, body)
	if err != nil {
		h.records.Error(ctx, audit.ErrorEntry{
			Module:  "Webhook",
			Message: err.Error(),
		})
		return ack(c)
	}

	for _, turn := range turns {
		h.turns.HandleTurn(ctx, turn)
	}
	return ack(c)
}

func ack(c echo.Context) error {
	return c.String(http.StatusOK, "OK")
}

// sniffChannel decides the source platform from the body's envelope key.
// LINE wraps events in an "events" array; Chatwork nests a single
// "webhook_event" object.
func sniffChannel(body []byte) (channel.ChannelType, bool) {
	switch {
	case bytes.Contains(body, []byte(`"events"`)):
		return channel.TypeLINE, true
	case bytes.Contains(body, []byte(`"webhook_event"`)):
		return channel.TypeChatwork, true
	default:
		return "", false
	}
}
