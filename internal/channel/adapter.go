package channel

import (
	"context"
	"errors"
	"fmt"
)

// ErrMalformedPayload signals an inbound body that could not be parsed as
// the adapter's platform payload. The webhook boundary acks and drops it.
var ErrMalformedPayload = errors.New("malformed platform payload")

// Adapter is the base interface both platform adapters implement.
type Adapter interface {
	Type() ChannelType
}

// Normalizer converts a raw platform webhook payload into zero or more
// canonical turns. Events that fail loop-prevention or mention gating are
// silently dropped, not errored.
type Normalizer interface {
	Normalize(ctx context.Context, payload []byte) ([]InboundTurn, error)
}

// Sender delivers one reply back to the platform using the turn's reply
// context.
type Sender interface {
	Send(ctx context.Context, reply ReplyContext, text string) error
}

// Formatter rewrites backend markdown into the platform's native markup.
// Implementations are pure and total: they always return a string,
// possibly unchanged.
type Formatter interface {
	Format(text string) string
}

// ProcessingNotifier is an optional adapter interface for platforms that
// can surface a "working on it" indicator. Implementations are
// best-effort; failures must never affect the turn.
type ProcessingNotifier interface {
	NotifyProcessing(ctx context.Context, turn InboundTurn)
}

// Registry holds the closed set of platform adapters, selected once at
// the webhook boundary instead of string-keyed branching through the
// codebase.
type Registry struct {
	adapters map[ChannelType]Adapter
}

// NewRegistry creates an empty adapter registry.
func NewRegistry() *Registry {
	return &Registry{adapters: make(map[ChannelType]Adapter)}
}

// MustRegister adds an adapter, panicking on duplicates. Registration
// happens once at startup.
func (r *Registry) MustRegister(a Adapter) {
	if _, ok := r.adapters[a.Type()]; ok {
		panic(fmt.Sprintf("channel: adapter %q already registered", a.Type()))
	}
	r.adapters[a.Type()] = a
}

// Get returns the adapter for the given channel type.
func (r *Registry) Get(t ChannelType) (Adapter, bool) {
	a, ok := r.adapters[t]
	return a, ok
}

// Sender returns the adapter's sender for the given channel type.
func (r *Registry) Sender(t ChannelType) (Sender, bool) {
	a, ok := r.adapters[t]
	if !ok {
		return nil, false
	}
	s, ok := a.(Sender)
	return s, ok
}

// Formatter returns the adapter's formatter, or a pass-through when the
// adapter does not format.
func (r *Registry) Formatter(t ChannelType) Formatter {
	if a, ok := r.adapters[t]; ok {
		if f, ok := a.(Formatter); ok {
			return f
		}
	}
	return passthroughFormatter{}
}

type passthroughFormatter struct{}

func (passthroughFormatter) Format(text string) string { return text }
