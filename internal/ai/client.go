// Package ai talks to the external chat completion backend and owns
// conversation continuity: it reads the stored conversation token, sends
// it with each request, and persists whatever token the backend returns.
// The backend is authoritative for session identity.
package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/genbarescue/gateway/internal/session"
)

// User-facing messages. Failures degrade to a short apology in the
// user's language; internals are never surfaced.
const (
	ResetAcknowledgment = "🗑️ 会話と画像の記憶をリセットしました。新しい作業について教えてください。"
	imagePlaceholder    = "画像を解析してください"
	msgParseFailure     = "⚠️ サーバーからの応答を解析できませんでした。"
	msgEmptyAnswer      = "⚠️ 有効な回答が得られませんでした。"
	msgSystemFailure    = "⚠️ システムエラーが発生しました。時間を置いて再度お試しください。"
)

var (
	errMalformedAnswer = errors.New("malformed backend response")
	errEmptyAnswer     = errors.New("backend returned empty answer")
)

var resetKeywords = map[string]struct{}{
	"リセット":   {},
	"クリア":    {},
	"clear":  {},
	"reset":  {},
	"終了":     {},
	"しゅうりょう": {},
}

// IsResetCommand reports whether the normalized text requests a
// conversation reset.
func IsResetCommand(text string) bool {
	normalized := strings.ToLower(strings.TrimSpace(text))
	if _, ok := resetKeywords[normalized]; ok {
		return true
	}
	return strings.Contains(normalized, "会話をリセット")
}

// PendingClearer drops a user's staged image during a reset.
type PendingClearer interface {
	ClearPending(ctx context.Context, userID string) error
}

// Result distinguishes a degraded-but-deliverable answer from a clean
// one, so call sites handle failure explicitly instead of relying on
// swallowed errors. Answer is always deliverable.
type Result struct {
	Answer string
	// ConversationToken is the token in effect after the exchange, for
	// transcript attribution.
	ConversationToken string
	Reset             bool
	Degraded          bool
	Err               error
}

type chatRequest struct {
	Key               string `json:"key"`
	AgentOrApp        string `json:"agentOrApp"`
	UserID            string `json:"userId"`
	Utterance         string `json:"utterance"`
	ConversationToken string `json:"conversationToken,omitempty"`
	ImageBase64       string `json:"imageBase64,omitempty"`
}

type chatResponse struct {
	AnswerText           string `json:"answerText"`
	NewConversationToken string `json:"newConversationToken"`
}

// Client invokes the external chat API.
type Client struct {
	logger     *slog.Logger
	httpClient *http.Client
	baseURL    string
	apiKey     string
	agentID    string
	sessions   *session.Store
	pending    PendingClearer
}

// NewClient creates a backend client.
func NewClient(log *slog.Logger, baseURL, apiKey, agentID string, timeout time.Duration, sessions *session.Store, pending PendingClearer) *Client {
	if log == nil {
		log = slog.Default()
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		logger:     log.With(slog.String("service", "ai")),
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		agentID:    agentID,
		sessions:   sessions,
		pending:    pending,
	}
}

// Converse sends one utterance for the user, carrying any staged image.
// Reset commands clear the session and staged image and return a canned
// acknowledgment without contacting the backend. All failures degrade to
// a user-facing warning; the conversation token is left untouched so no
// partial continuity is recorded.
func (c *Client) Converse(ctx context.Context, userID, text, imageBase64 string) Result {
	if IsResetCommand(text) {
		return c.reset(ctx, userID)
	}

	utterance := strings.TrimSpace(text)
	if utterance == "" {
		// The backend requires a non-empty utterance even for image-only
		// input.
		utterance = imagePlaceholder
	}

	token, err := c.sessions.Token(ctx, userID)
	if err != nil {
		c.logger.Error("read conversation token failed", slog.String("user_id", userID), slog.Any("error", err))
		return Result{Answer: msgSystemFailure, Degraded: true, Err: err}
	}

	answer, newToken, err := c.send(ctx, userID, utterance, token, imageBase64)
	if err != nil {
		c.logger.Error("backend call failed", slog.String("user_id", userID), slog.Any("error", err))
		return Result{Answer: degradedMessage(err), Degraded: true, Err: err}
	}

	if newToken != "" {
		if err := c.sessions.SaveToken(ctx, userID, newToken); err != nil {
			// The answer is already in hand; continuity loss is the lesser
			// failure.
			c.logger.Error("persist conversation token failed", slog.String("user_id", userID), slog.Any("error", err))
		}
		token = newToken
	} else if err := c.sessions.Touch(ctx, userID); err != nil {
		c.logger.Warn("touch session failed", slog.String("user_id", userID), slog.Any("error", err))
	}
	return Result{Answer: answer, ConversationToken: token}
}

func (c *Client) reset(ctx context.Context, userID string) Result {
	if err := c.sessions.Reset(ctx, userID); err != nil {
		c.logger.Error("session reset failed", slog.String("user_id", userID), slog.Any("error", err))
		return Result{Answer: msgSystemFailure, Reset: true, Degraded: true, Err: err}
	}
	if c.pending != nil {
		if err := c.pending.ClearPending(ctx, userID); err != nil {
			c.logger.Warn("clear staged image failed", slog.String("user_id", userID), slog.Any("error", err))
		}
	}
	c.logger.Info("conversation reset", slog.String("user_id", userID))
	return Result{Answer: ResetAcknowledgment, Reset: true}
}

type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("backend status %d: %s", e.code, e.body)
}

func degradedMessage(err error) string {
	var statusErr *statusError
	switch {
	case errors.As(err, &statusErr):
		return fmt.Sprintf("⚠️ エラーが発生しました (%d)。時間を置いて再試行するか、リセットしてください。", statusErr.code)
	case errors.Is(err, errMalformedAnswer):
		return msgParseFailure
	case errors.Is(err, errEmptyAnswer):
		return msgEmptyAnswer
	default:
		return msgSystemFailure
	}
}

func (c *Client) send(ctx context.Context, userID, utterance, token, imageBase64 string) (answer, newToken string, err error) {
	body, err := json.Marshal(chatRequest{
		Key:               c.apiKey,
		AgentOrApp:        c.agentID,
		UserID:            userID,
		Utterance:         utterance,
		ConversationToken: token,
		ImageBase64:       imageBase64,
	})
	if err != nil {
		return "", "", fmt.Errorf("marshal chat request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/agents/%s/chat", c.baseURL, c.agentID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", "", fmt.Errorf("build chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", "", fmt.Errorf("call backend: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", "", fmt.Errorf("read backend response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", "", &statusError{code: resp.StatusCode, body: string(raw)}
	}

	var parsed chatResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", "", fmt.Errorf("%w: %v", errMalformedAnswer, err)
	}
	if strings.TrimSpace(parsed.AnswerText) == "" {
		return "", "", errEmptyAnswer
	}
	return parsed.AnswerText, parsed.NewConversationToken, nil
}
