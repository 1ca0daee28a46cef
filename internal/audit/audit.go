// Package audit appends transcript and error records to the shared log
// stores. Writers are serialized by a bounded-wait mutual-exclusion lock
// per store; every failure here is swallowed so logging can never fail a
// turn that has already delivered its reply.
package audit

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/genbarescue/gateway/internal/masker"
	"github.com/genbarescue/gateway/internal/store"
)

// LockWait bounds how long a writer waits for the append lock before
// dropping its record.
const LockWait = 10 * time.Second

const imageAttachedFlag = "image_attached"

// TranscriptEntry is one conversation exchange. Query and Answer arrive
// unmasked; the logger masks them at write time so unmasked text is
// never stored.
type TranscriptEntry struct {
	Platform          string
	UserID            string
	ConversationToken string
	Query             string
	Answer            string
	ImageAttached     bool
}

// ErrorEntry is one system failure record.
type ErrorEntry struct {
	Module  string
	UserID  string
	Message string
	Trace   string
}

// Notifier alerts an administrator out-of-band about an error record.
type Notifier interface {
	NotifyError(ctx context.Context, entry ErrorEntry) error
}

// Logger guards the shared append-only stores.
type Logger struct {
	logger   *slog.Logger
	appender store.RowAppender
	notifier Notifier
	lockWait time.Duration
	now      func() time.Time

	mu    sync.Mutex
	locks map[string]chan struct{}
}

// NewLogger creates an audit logger. The notifier may be nil.
func NewLogger(log *slog.Logger, appender store.RowAppender, notifier Notifier) *Logger {
	if log == nil {
		log = slog.Default()
	}
	return &Logger{
		logger:   log.With(slog.String("service", "audit")),
		appender: appender,
		notifier: notifier,
		lockWait: LockWait,
		now:      time.Now,
		locks:    make(map[string]chan struct{}),
	}
}

// Transcript appends one conversation record, masking PII at write time.
func (l *Logger) Transcript(ctx context.Context, entry TranscriptEntry) {
	flag := ""
	if entry.ImageAttached {
		flag = imageAttachedFlag
	}
	l.append(ctx, store.StoreConversationLog, []string{
		l.now().UTC().Format(time.RFC3339),
		entry.Platform,
		entry.UserID,
		entry.ConversationToken,
		masker.Mask(entry.Query),
		masker.Mask(entry.Answer),
		flag,
	})
}

// Error appends one failure record and notifies the administrator.
// Notification failures are swallowed.
func (l *Logger) Error(ctx context.Context, entry ErrorEntry) {
	l.logger.Error("recorded error",
		slog.String("module", entry.Module),
		slog.String("user_id", entry.UserID),
		slog.String("message", entry.Message))

	l.append(ctx, store.StoreErrorLog, []string{
		l.now().UTC().Format(time.RFC3339),
		entry.Module,
		entry.UserID,
		entry.Message,
		entry.Trace,
	})

	if l.notifier == nil {
		return
	}
	if err := l.notifier.NotifyError(ctx, entry); err != nil {
		l.logger.Warn("admin notification failed", slog.Any("error", err))
	}
}

// append takes the store's lock with a bounded wait, writes one row, and
// releases on every exit path. Lock timeout drops the record with a
// local log only.
func (l *Logger) append(ctx context.Context, storeName string, fields []string) {
	lock := l.storeLock(storeName)

	timer := time.NewTimer(l.lockWait)
	defer timer.Stop()
	select {
	case lock <- struct{}{}:
	case <-timer.C:
		l.logger.Error("could not obtain log lock", slog.String("store", storeName))
		return
	case <-ctx.Done():
		l.logger.Error("log append canceled", slog.String("store", storeName))
		return
	}
	defer func() { <-lock }()

	if err := l.appender.AppendRow(ctx, storeName, fields); err != nil {
		l.logger.Error("log append failed",
			slog.String("store", storeName),
			slog.Any("error", err))
	}
}

func (l *Logger) storeLock(storeName string) chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	lock, ok := l.locks[storeName]
	if !ok {
		lock = make(chan struct{}, 1)
		l.locks[storeName] = lock
	}
	return lock
}
