// Package conversation orchestrates one inbound turn end to end: stage
// or consume an image, consult the backend, format for the platform,
// deliver, and record the transcript.
package conversation

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/genbarescue/gateway/internal/ai"
	"github.com/genbarescue/gateway/internal/audit"
	"github.com/genbarescue/gateway/internal/channel"
)

// User-facing messages for turns that never reach the backend.
const (
	msgUnsupported    = "すみません、テキストか写真以外は対応していません。"
	msgImageStaged    = "画像を読み込みました。\n続けて、どのようなトラブルか状況を教えてください。"
	msgImageFailed    = "⚠️ 画像の読み込みに失敗しました。もう一度試すか、テキストで詳しく説明してください。"
	msgImageAnalyzing = "[info]画像を読み込みました。解析を開始します...[/info]"
	msgPanicApology   = "⚠️ システムエラーが発生しました。\n時間を置いて再度お試しください。"
)

// Conversationalist produces the backend answer for one utterance.
type Conversationalist interface {
	Converse(ctx context.Context, userID, text, imageBase64 string) ai.Result
}

// ImageStager stages and consumes per-user pending images.
type ImageStager interface {
	Stage(ctx context.Context, userID string, platform channel.ChannelType, locator string) error
	TakePending(ctx context.Context, userID string) (string, bool)
}

// Recorder persists transcript and error records.
type Recorder interface {
	Transcript(ctx context.Context, entry audit.TranscriptEntry)
	Error(ctx context.Context, entry audit.ErrorEntry)
}

// Service handles normalized turns from any platform.
type Service struct {
	logger   *slog.Logger
	registry *channel.Registry
	backend  Conversationalist
	images   ImageStager
	records  Recorder
}

// NewService creates the turn orchestrator.
func NewService(log *slog.Logger, registry *channel.Registry, backend Conversationalist, images ImageStager, records Recorder) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		logger:   log.With(slog.String("service", "conversation")),
		registry: registry,
		backend:  backend,
		images:   images,
		records:  records,
	}
}

// HandleTurn processes one turn. It never returns an error and never
// panics outward: the webhook has already been acknowledged, so the only
// useful failure handling is an apology to the user and an error record.
func (s *Service) HandleTurn(ctx context.Context, turn channel.InboundTurn) {
	defer func() {
		if r := recover(); r != nil {
			s.records.Error(ctx, audit.ErrorEntry{
				Module:  "Conversation",
				UserID:  turn.UserID,
				Message: fmt.Sprintf("panic: %v", r),
				Trace:   string(debug.Stack()),
			})
			s.deliver(ctx, turn, msgPanicApology, false)
		}
	}()

	switch turn.Kind {
	case channel.KindText:
		s.handleText(ctx, turn)
	case channel.KindImage:
		s.handleImage(ctx, turn)
	default:
		s.deliver(ctx, turn, msgUnsupported, false)
	}
}

// handleImage stages an image-only turn for the user's next text turn.
// No transcript is written; the exchange is recorded when the image is
// consumed.
func (s *Service) handleImage(ctx context.Context, turn channel.InboundTurn) {
	if err := s.images.Stage(ctx, turn.UserID, turn.Channel, turn.ImageRef); err != nil {
		s.records.Error(ctx, audit.ErrorEntry{
			Module:  "Vision",
			UserID:  turn.UserID,
			Message: err.Error(),
		})
		s.deliver(ctx, turn, msgImageFailed, false)
		return
	}
	s.deliver(ctx, turn, msgImageStaged, false)
}

func (s *Service) handleText(ctx context.Context, turn channel.InboundTurn) {
	s.notifyProcessing(ctx, turn)

	// A text turn can carry its own attachment when the platform bundles
	// them. Stage it first so the regular pending path picks it up.
	if turn.HasImage() {
		if err := s.images.Stage(ctx, turn.UserID, turn.Channel, turn.ImageRef); err != nil {
			s.records.Error(ctx, audit.ErrorEntry{
				Module:  "Vision",
				UserID:  turn.UserID,
				Message: err.Error(),
			})
		} else {
			s.deliver(ctx, turn, msgImageAnalyzing, false)
		}
	}

	imageBase64, hasImage := s.images.TakePending(ctx, turn.UserID)

	res := s.backend.Converse(ctx, turn.UserID, turn.Text, imageBase64)
	if res.Degraded {
		message := res.Answer
		if res.Err != nil {
			message = res.Err.Error()
		}
		s.records.Error(ctx, audit.ErrorEntry{
			Module:  "AIBackend",
			UserID:  turn.UserID,
			Message: message,
		})
	}

	s.deliver(ctx, turn, res.Answer, true)

	if res.Reset {
		return
	}
	s.records.Transcript(ctx, audit.TranscriptEntry{
		Platform:          turn.Channel.String(),
		UserID:            turn.UserID,
		ConversationToken: res.ConversationToken,
		Query:             turn.Text,
		Answer:            res.Answer,
		ImageAttached:     hasImage,
	})
}

// deliver formats and sends one reply. Delivery failure is recorded but
// does not abort the turn; the transcript still reflects what the
// backend answered.
func (s *Service) deliver(ctx context.Context, turn channel.InboundTurn, text string, format bool) {
	sender, ok := s.registry.Sender(turn.Channel)
	if !ok {
		s.logger.Error("no sender for channel", slog.String("channel", turn.Channel.String()))
		return
	}
	if format {
		text = s.registry.Formatter(turn.Channel).Format(text)
	}
	if err := sender.Send(ctx, turn.Reply, text); err != nil {
		s.records.Error(ctx, audit.ErrorEntry{
			Module:  "Delivery",
			UserID:  turn.UserID,
			Message: err.Error(),
		})
	}
}

// notifyProcessing surfaces the platform's typing indicator when the
// adapter supports one. Reset commands resolve instantly and skip it.
func (s *Service) notifyProcessing(ctx context.Context, turn channel.InboundTurn) {
	if ai.IsResetCommand(turn.Text) {
		return
	}
	adapter, ok := s.registry.Get(turn.Channel)
	if !ok {
		return
	}
	if notifier, ok := adapter.(channel.ProcessingNotifier); ok {
		notifier.NotifyProcessing(ctx, turn)
	}
}
