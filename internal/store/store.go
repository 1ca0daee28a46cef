// Package store defines the gateway's persistence boundary: append-only
// tabular logs and a flat key-value property map, plus the Postgres and
// in-memory implementations.
package store

import "context"

// Log store names for the two append-only targets.
const (
	StoreConversationLog = "conversation_log"
	StoreErrorLog        = "system_error_log"
)

// RowAppender appends one ordered record to a named append-only store.
// Rows are immutable once written.
type RowAppender interface {
	AppendRow(ctx context.Context, storeName string, fields []string) error
}

// Properties is a flat string key-value map with whole-map enumeration
// for maintenance sweeps. It backs session tokens, pending bot identity,
// and last-access timestamps.
type Properties interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
	All(ctx context.Context) (map[string]string, error)
}
