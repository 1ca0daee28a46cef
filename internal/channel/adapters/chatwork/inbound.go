package chatwork

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"

	"github.com/genbarescue/gateway/internal/channel"
)

type webhookPayload struct {
	WebhookEvent webhookEvent `json:"webhook_event"`
}

type webhookEvent struct {
	MessageID     string `json:"message_id"`
	RoomID        int64  `json:"room_id"`
	AccountID     int64  `json:"account_id"`
	FromAccountID int64  `json:"from_account_id"`
	Body          string `json:"body"`
}

var (
	// tagPattern strips mention and reply tags together with the text
	// that follows them on the same line, which is usually the mentioned
	// user's display name.
	tagPattern      = regexp.MustCompile(`(?m)\[(?:rp|To).*?\][^\n]*\n?`)
	infoPattern     = regexp.MustCompile(`(?s)\[info\].*?\[/info\]`)
	downloadPattern = regexp.MustCompile(`\[download:(\d+)\]`)
)

// Normalize converts a Chatwork webhook body into canonical turns.
// Messages that do not mention the bot are dropped, as are the bot's own
// messages. When the bot's account id cannot be resolved the turn is
// dropped rather than answered without a mention check.
func (a *Adapter) Normalize(ctx context.Context, payload []byte) ([]channel.InboundTurn, error) {
	var parsed webhookPayload
	if err := json.Unmarshal(payload, &parsed); err != nil {
		return nil, fmt.Errorf("%w: %v", channel.ErrMalformedPayload, err)
	}
	event := parsed.WebhookEvent

	senderID := event.AccountID
	if senderID == 0 {
		senderID = event.FromAccountID
	}
	if senderID == 0 || event.Body == "" {
		return nil, nil
	}

	botID := a.resolveBotID(ctx)
	if botID == 0 {
		a.logger.Warn("dropping message, bot identity unknown", slog.String("message_id", event.MessageID))
		return nil, nil
	}
	if senderID == botID {
		return nil, nil
	}
	if !mentionsBot(event.Body, botID) {
		return nil, nil
	}

	roomID := strconv.FormatInt(event.RoomID, 10)
	turn := channel.InboundTurn{
		Channel: Type,
		UserID:  channel.CanonicalUserID(Type, strconv.FormatInt(senderID, 10)),
		Kind:    channel.KindText,
		Text:    cleanBody(event.Body),
		Reply: channel.ReplyContext{
			RoomID:    roomID,
			MessageID: event.MessageID,
			AccountID: strconv.FormatInt(senderID, 10),
		},
	}

	if match := downloadPattern.FindStringSubmatch(event.Body); match != nil {
		locator, err := a.downloadURL(ctx, roomID, match[1])
		if err != nil {
			// The turn still goes through as text only.
			a.logger.Warn("file download url failed",
				slog.String("file_id", match[1]), slog.Any("error", err))
		} else {
			turn.ImageRef = locator
		}
	}
	return []channel.InboundTurn{turn}, nil
}

func mentionsBot(body string, botID int64) bool {
	id := strconv.FormatInt(botID, 10)
	return strings.Contains(body, "[To:"+id+"]") || strings.Contains(body, "[rp aid="+id)
}

// cleanBody removes Chatwork markup so only the user's utterance reaches
// the backend.
func cleanBody(body string) string {
	cleaned := tagPattern.ReplaceAllString(body, "")
	cleaned = infoPattern.ReplaceAllString(cleaned, "")
	cleaned = downloadPattern.ReplaceAllString(cleaned, "")
	return strings.TrimSpace(cleaned)
}
