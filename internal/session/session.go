// Package session tracks per-user conversation continuity with the AI
// backend: the backend-issued conversation token and a last-access
// timestamp used by the maintenance sweep.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/genbarescue/gateway/internal/store"
)

const (
	tokenKeyPrefix      = "SESSION_"
	lastAccessKeyPrefix = "LAST_ACCESS_"
)

// DefaultStaleAfter is how long an idle session survives before the
// cleanup sweep removes it.
const DefaultStaleAfter = 30 * 24 * time.Hour

// Store persists sessions in the flat property map. There is no per-user
// locking: concurrent turns from the same user follow last-writer-wins.
type Store struct {
	props  store.Properties
	logger *slog.Logger
	now    func() time.Time
}

// NewStore creates a session store over the given property map.
func NewStore(log *slog.Logger, props store.Properties) *Store {
	if log == nil {
		log = slog.Default()
	}
	return &Store{
		props:  props,
		logger: log.With(slog.String("service", "session")),
		now:    time.Now,
	}
}

// Token returns the user's conversation token, empty when the next turn
// should start a new conversation.
func (s *Store) Token(ctx context.Context, userID string) (string, error) {
	token, _, err := s.props.Get(ctx, tokenKeyPrefix+userID)
	if err != nil {
		return "", fmt.Errorf("read session token: %w", err)
	}
	return token, nil
}

// SaveToken stores the token the backend returned and refreshes the
// last-access timestamp.
func (s *Store) SaveToken(ctx context.Context, userID, token string) error {
	if err := s.props.Set(ctx, tokenKeyPrefix+userID, token); err != nil {
		return fmt.Errorf("save session token: %w", err)
	}
	return s.Touch(ctx, userID)
}

// Touch records the user's last activity.
func (s *Store) Touch(ctx context.Context, userID string) error {
	millis := strconv.FormatInt(s.now().UnixMilli(), 10)
	if err := s.props.Set(ctx, lastAccessKeyPrefix+userID, millis); err != nil {
		return fmt.Errorf("touch session: %w", err)
	}
	return nil
}

// Reset erases the user's conversation state entirely. Subsequent turns
// start with an empty conversation token.
func (s *Store) Reset(ctx context.Context, userID string) error {
	if err := s.props.Delete(ctx, tokenKeyPrefix+userID); err != nil {
		return fmt.Errorf("reset session: %w", err)
	}
	if err := s.props.Delete(ctx, lastAccessKeyPrefix+userID); err != nil {
		return fmt.Errorf("reset session: %w", err)
	}
	s.logger.Info("session reset", slog.String("user_id", userID))
	return nil
}

// CleanupStale deletes sessions whose last access is older than maxAge.
// It enumerates the whole property map, so it is meant for the
// maintenance command, not the request path. Returns the number of
// sessions removed.
func (s *Store) CleanupStale(ctx context.Context, maxAge time.Duration) (int, error) {
	props, err := s.props.All(ctx)
	if err != nil {
		return 0, fmt.Errorf("enumerate properties: %w", err)
	}

	cutoff := s.now().Add(-maxAge).UnixMilli()
	removed := 0
	for key, value := range props {
		if !strings.HasPrefix(key, lastAccessKeyPrefix) {
			continue
		}
		lastAccess, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			s.logger.Warn("skip unparsable last-access entry", slog.String("key", key))
			continue
		}
		if lastAccess >= cutoff {
			continue
		}
		userID := strings.TrimPrefix(key, lastAccessKeyPrefix)
		if err := s.props.Delete(ctx, key); err != nil {
			return removed, fmt.Errorf("delete %s: %w", key, err)
		}
		if err := s.props.Delete(ctx, tokenKeyPrefix+userID); err != nil {
			return removed, fmt.Errorf("delete session for %s: %w", userID, err)
		}
		removed++
	}
	return removed, nil
}
