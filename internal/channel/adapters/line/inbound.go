package line

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/genbarescue/gateway/internal/channel"
)

type webhookPayload struct {
	Events []webhookEvent `json:"events"`
}

type webhookEvent struct {
	Type       string `json:"type"`
	ReplyToken string `json:"replyToken"`
	Source     struct {
		UserID string `json:"userId"`
	} `json:"source"`
	Message struct {
		ID   string `json:"id"`
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"message"`
}

// Normalize converts a LINE webhook body into canonical turns. Only
// message events produce turns; unsupported message subtypes surface as
// KindOther so the user still gets a response. Reset keywords are plain
// text turns here; interpreting them is the backend client's job.
func (a *Adapter) Normalize(_ context.Context, payload []byte) ([]channel.InboundTurn, error) {
	var parsed webhookPayload
	if err := json.Unmarshal(payload, &parsed); err != nil {
		return nil, fmt.Errorf("%w: %v", channel.ErrMalformedPayload, err)
	}

	turns := make([]channel.InboundTurn, 0, len(parsed.Events))
	for _, event := range parsed.Events {
		if event.Type != "message" {
			continue
		}
		userID := channel.CanonicalUserID(Type, event.Source.UserID)
		if userID == "" {
			a.logger.Warn("message event without sender", slog.String("message_id", event.Message.ID))
			continue
		}

		turn := channel.InboundTurn{
			Channel: Type,
			UserID:  userID,
			Reply:   channel.ReplyContext{ReplyToken: event.ReplyToken},
		}
		switch event.Message.Type {
		case "text":
			turn.Kind = channel.KindText
			turn.Text = event.Message.Text
		case "image":
			turn.Kind = channel.KindImage
			turn.ImageRef = event.Message.ID
		default:
			turn.Kind = channel.KindOther
		}
		turns = append(turns, turn)
	}
	return turns, nil
}
