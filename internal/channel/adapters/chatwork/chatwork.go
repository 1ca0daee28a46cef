// Package chatwork adapts Chatwork webhooks and room messages to the
// gateway's canonical channel model.
package chatwork

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/genbarescue/gateway/internal/channel"
	"github.com/genbarescue/gateway/internal/store"
)

// Type is the Chatwork channel identifier.
const Type = channel.TypeChatwork

// botIDPropertyKey persists the discovered bot account id so later
// processes skip the identity lookup.
const botIDPropertyKey = "BOT_ACCOUNT_ID"

// Adapter implements channel.Normalizer, channel.Sender, and
// channel.Formatter for Chatwork.
type Adapter struct {
	logger     *slog.Logger
	httpClient *http.Client
	apiBase    string
	apiToken   string
	props      store.Properties
	botID      atomic.Int64
}

// NewAdapter creates a Chatwork adapter. configuredBotID may be zero;
// the adapter then resolves its own account id lazily via the identity
// endpoint and persists it.
func NewAdapter(log *slog.Logger, apiBase, apiToken string, configuredBotID int64, props store.Properties) *Adapter {
	if log == nil {
		log = slog.Default()
	}
	a := &Adapter{
		logger:     log.With(slog.String("adapter", "chatwork")),
		httpClient: &http.Client{Timeout: 15 * time.Second},
		apiBase:    apiBase,
		apiToken:   apiToken,
		props:      props,
	}
	a.botID.Store(configuredBotID)
	return a
}

// Type returns the Chatwork channel type.
func (a *Adapter) Type() channel.ChannelType {
	return Type
}

// Send posts one message to the turn's room, prefixed with a reply tag
// addressing the original sender.
func (a *Adapter) Send(ctx context.Context, reply channel.ReplyContext, text string) error {
	replyTag := fmt.Sprintf("[rp aid=%s to=%s-%s]", reply.AccountID, reply.RoomID, reply.MessageID)
	form := url.Values{"body": {replyTag + text}}

	endpoint := fmt.Sprintf("%s/rooms/%s/messages", a.apiBase, reply.RoomID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("build send request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("X-ChatWorkToken", a.apiToken)

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send message: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusBadRequest {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("chatwork api status %d: %s", resp.StatusCode, raw)
	}
	return nil
}

// resolveBotID returns the bot's own account id, discovering and
// persisting it on first use. Resolution order: in-memory cache,
// property store, identity endpoint. Concurrent double-resolution is
// tolerated; the writes are idempotent. A zero return means the id is
// unknown and the caller must fail closed.
func (a *Adapter) resolveBotID(ctx context.Context) int64 {
	if id := a.botID.Load(); id != 0 {
		return id
	}

	if value, ok, err := a.props.Get(ctx, botIDPropertyKey); err == nil && ok {
		if id, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64); err == nil && id != 0 {
			a.botID.Store(id)
			return id
		}
	}

	id, err := a.fetchOwnAccountID(ctx)
	if err != nil {
		a.logger.Error("bot identity lookup failed", slog.Any("error", err))
		return 0
	}
	a.botID.Store(id)
	if err := a.props.Set(ctx, botIDPropertyKey, strconv.FormatInt(id, 10)); err != nil {
		a.logger.Warn("persist bot identity failed", slog.Any("error", err))
	}
	a.logger.Info("bot identity discovered", slog.Int64("account_id", id))
	return id
}

func (a *Adapter) fetchOwnAccountID(ctx context.Context) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.apiBase+"/me", nil)
	if err != nil {
		return 0, fmt.Errorf("build identity request: %w", err)
	}
	req.Header.Set("X-ChatWorkToken", a.apiToken)

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("call identity endpoint: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("identity endpoint status %d", resp.StatusCode)
	}

	var me struct {
		AccountID int64 `json:"account_id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&me); err != nil {
		return 0, fmt.Errorf("decode identity response: %w", err)
	}
	if me.AccountID == 0 {
		return 0, fmt.Errorf("identity response without account_id")
	}
	return me.AccountID, nil
}

// downloadURL exchanges a file id for a short-lived authenticated
// download URL, the opaque locator handed to the extraction service.
func (a *Adapter) downloadURL(ctx context.Context, roomID, fileID string) (string, error) {
	endpoint := fmt.Sprintf("%s/rooms/%s/files/%s?create_download_url=1", a.apiBase, roomID, fileID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", fmt.Errorf("build file request: %w", err)
	}
	req.Header.Set("X-ChatWorkToken", a.apiToken)

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("call file endpoint: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("file endpoint status %d", resp.StatusCode)
	}

	var file struct {
		DownloadURL string `json:"download_url"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&file); err != nil {
		return "", fmt.Errorf("decode file response: %w", err)
	}
	if file.DownloadURL == "" {
		return "", fmt.Errorf("file response without download_url")
	}
	return file.DownloadURL, nil
}
