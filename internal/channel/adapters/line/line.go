// Package line adapts LINE Messaging API webhooks and replies to the
// gateway's canonical channel model.
package line

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/genbarescue/gateway/internal/channel"
)

// Type is the LINE channel identifier.
const Type = channel.TypeLINE

const loadingSeconds = 20

// Adapter implements channel.Normalizer, channel.Sender,
// channel.Formatter, and channel.ProcessingNotifier for LINE.
type Adapter struct {
	logger        *slog.Logger
	httpClient    *http.Client
	apiBase       string
	accessToken   string
	channelSecret string
}

// NewAdapter creates a LINE adapter. channelSecret may be empty, which
// disables webhook signature verification.
func NewAdapter(log *slog.Logger, apiBase, accessToken, channelSecret string) *Adapter {
	if log == nil {
		log = slog.Default()
	}
	return &Adapter{
		logger:        log.With(slog.String("adapter", "line")),
		httpClient:    &http.Client{Timeout: 15 * time.Second},
		apiBase:       apiBase,
		accessToken:   accessToken,
		channelSecret: channelSecret,
	}
}

// Type returns the LINE channel type.
func (a *Adapter) Type() channel.ChannelType {
	return Type
}

// VerifySignature checks the X-Line-Signature header against the raw
// body. With no channel secret configured every payload is accepted.
func (a *Adapter) VerifySignature(body []byte, signature string) bool {
	if a.channelSecret == "" {
		return true
	}
	mac := hmac.New(sha256.New, []byte(a.channelSecret))
	mac.Write(body)
	expected := base64.StdEncoding.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}

// Send replies to one turn through the reply-token endpoint.
func (a *Adapter) Send(ctx context.Context, reply channel.ReplyContext, text string) error {
	if text == "" {
		// The reply API rejects empty message text.
		text = " "
	}
	body, err := json.Marshal(map[string]any{
		"replyToken": reply.ReplyToken,
		"messages": []map[string]string{
			{"type": "text", "text": text},
		},
	})
	if err != nil {
		return fmt.Errorf("marshal reply: %w", err)
	}
	return a.post(ctx, a.apiBase+"/bot/message/reply", body)
}

// NotifyProcessing shows the typing/loading indicator while the turn is
// handled. Best-effort: failures are logged and swallowed.
func (a *Adapter) NotifyProcessing(ctx context.Context, turn channel.InboundTurn) {
	body, err := json.Marshal(map[string]any{
		"chatId":         turn.UserID,
		"loadingSeconds": loadingSeconds,
	})
	if err != nil {
		return
	}
	if err := a.post(ctx, a.apiBase+"/bot/chat/loading/start", body); err != nil {
		a.logger.Warn("loading indicator failed", slog.Any("error", err))
	}
}

func (a *Adapter) post(ctx context.Context, url string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+a.accessToken)

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("call line api: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusBadRequest {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("line api status %d: %s", resp.StatusCode, raw)
	}
	return nil
}
