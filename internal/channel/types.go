// Package channel provides a unified abstraction for the messaging
// platforms the gateway listens on. It defines the canonical inbound turn,
// the adapter interfaces, and a registry of the two platform adapters.
package channel

import "strings"

// ChannelType identifies a messaging platform ("line", "chatwork").
type ChannelType string

const (
	TypeLINE     ChannelType = "line"
	TypeChatwork ChannelType = "chatwork"
)

// String returns the channel type as a plain string.
func (c ChannelType) String() string {
	return string(c)
}

// TurnKind classifies the content of an inbound turn.
type TurnKind string

const (
	KindText  TurnKind = "text"
	KindImage TurnKind = "image"
	KindOther TurnKind = "other"
)

// ReplyContext carries whatever the platform needs to route the reply for
// one turn: a reply token for LINE, a room/message/account triple for
// Chatwork. It is ephemeral and never persisted.
type ReplyContext struct {
	ReplyToken string
	RoomID     string
	MessageID  string
	AccountID  string
}

// InboundTurn is the canonical, platform-agnostic representation of one
// inbound chat message after adapter normalization.
type InboundTurn struct {
	Channel  ChannelType
	UserID   string
	Kind     TurnKind
	Text     string
	ImageRef string
	Reply    ReplyContext
}

// HasImage reports whether the turn carries an image locator to stage.
func (t InboundTurn) HasImage() bool {
	return strings.TrimSpace(t.ImageRef) != ""
}

// CanonicalUserID normalizes a raw platform sender id into the gateway's
// user identity namespace. Chatwork accounts are prefixed so the two
// platforms can never collide; LINE ids are used as-is. Identical raw ids
// always resolve to the same identity.
func CanonicalUserID(platform ChannelType, raw string) string {
	id := strings.TrimSpace(raw)
	if id == "" {
		return ""
	}
	if platform == TypeChatwork {
		return "cw_" + id
	}
	return id
}
