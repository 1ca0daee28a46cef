// Package vision correlates out-of-band image attachments with the text
// turn that follows them. Images are converted to base64 by the external
// extraction service, then staged per user with a short TTL until the
// next text turn consumes them.
package vision

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/genbarescue/gateway/internal/channel"
)

// PendingTTL bounds how long a staged image waits for its text turn.
const PendingTTL = 10 * time.Minute

// ErrImageFetchFailed reports that the extraction service could not
// produce a usable image. Callers degrade to a user-facing warning.
var ErrImageFetchFailed = errors.New("image extraction failed")

type extractRequest struct {
	UserID         string `json:"userId"`
	SourcePlatform string `json:"sourcePlatform"`
	Locator        string `json:"locator"`
	AuthToken      string `json:"authToken"`
}

type extractResponse struct {
	Status      string `json:"status"`
	Base64Image string `json:"base64Image"`
	Error       string `json:"error"`
}

// Service requests extraction and manages the per-user pending slot.
type Service struct {
	logger     *slog.Logger
	httpClient *http.Client
	endpoint   string
	authToken  string
	pending    PendingStore
	ttl        time.Duration
}

// NewService creates the image correlation service. The timeout bounds
// the extraction call; the platforms convert images slowly.
func NewService(log *slog.Logger, endpoint, authToken string, timeout time.Duration, pending PendingStore) *Service {
	if log == nil {
		log = slog.Default()
	}
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &Service{
		logger:     log.With(slog.String("service", "vision")),
		httpClient: &http.Client{Timeout: timeout},
		endpoint:   endpoint,
		authToken:  authToken,
		pending:    pending,
		ttl:        PendingTTL,
	}
}

// Stage asks the extraction service to fetch and decode the image behind
// the locator, then stages the result for the user's next text turn.
// Any prior pending image for the user is overwritten.
func (s *Service) Stage(ctx context.Context, userID string, platform channel.ChannelType, locator string) error {
	payload, err := s.extract(ctx, userID, platform, locator)
	if err != nil {
		s.logger.Error("image extraction failed",
			slog.String("user_id", userID),
			slog.String("platform", platform.String()),
			slog.Any("error", err))
		return ErrImageFetchFailed
	}
	if err := s.pending.Put(ctx, userID, payload, s.ttl); err != nil {
		s.logger.Error("stage pending image failed",
			slog.String("user_id", userID),
			slog.Any("error", err))
		return ErrImageFetchFailed
	}
	return nil
}

// TakePending returns and clears the user's staged image. An expired or
// absent image reads as no image at all; read errors degrade the same
// way rather than failing the turn.
func (s *Service) TakePending(ctx context.Context, userID string) (string, bool) {
	payload, ok, err := s.pending.Take(ctx, userID)
	if err != nil {
		s.logger.Error("take pending image failed",
			slog.String("user_id", userID),
			slog.Any("error", err))
		return "", false
	}
	return payload, ok
}

// ClearPending drops any staged image for the user.
func (s *Service) ClearPending(ctx context.Context, userID string) error {
	return s.pending.Clear(ctx, userID)
}

func (s *Service) extract(ctx context.Context, userID string, platform channel.ChannelType, locator string) (string, error) {
	body, err := json.Marshal(extractRequest{
		UserID:         userID,
		SourcePlatform: platform.String(),
		Locator:        locator,
		AuthToken:      s.authToken,
	})
	if err != nil {
		return "", fmt.Errorf("marshal extract request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build extract request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("call extractor: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read extractor response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("extractor status %d: %s", resp.StatusCode, raw)
	}

	var parsed extractResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", fmt.Errorf("decode extractor response: %w", err)
	}
	if parsed.Status != "success" || parsed.Base64Image == "" {
		return "", fmt.Errorf("extractor error: %s", parsed.Error)
	}
	return parsed.Base64Image, nil
}
