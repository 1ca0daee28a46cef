package conversation

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/genbarescue/gateway/internal/ai"
	"github.com/genbarescue/gateway/internal/audit"
	"github.com/genbarescue/gateway/internal/channel"
)

type fakeAdapter struct {
	channelType channel.ChannelType
	sent        []string
	sendErr     error
	notified    int
}

func (f *fakeAdapter) Type() channel.ChannelType { return f.channelType }

func (f *fakeAdapter) Send(_ context.Context, _ channel.ReplyContext, text string) error {
	f.sent = append(f.sent, text)
	return f.sendErr
}

func (f *fakeAdapter) Format(text string) string { return "fmt:" + text }

func (f *fakeAdapter) NotifyProcessing(_ context.Context, _ channel.InboundTurn) {
	f.notified++
}

type fakeBackend struct {
	result    ai.Result
	gotText   string
	gotImage  string
	callCount int
}

func (f *fakeBackend) Converse(_ context.Context, _, text, imageBase64 string) ai.Result {
	f.callCount++
	f.gotText = text
	f.gotImage = imageBase64
	return f.result
}

type fakeStager struct {
	staged     map[string]string
	stageErr   error
	takeCalled int
}

func (f *fakeStager) Stage(_ context.Context, userID string, _ channel.ChannelType, locator string) error {
	if f.stageErr != nil {
		return f.stageErr
	}
	if f.staged == nil {
		f.staged = make(map[string]string)
	}
	f.staged[userID] = "b64:" + locator
	return nil
}

func (f *fakeStager) TakePending(_ context.Context, userID string) (string, bool) {
	f.takeCalled++
	payload, ok := f.staged[userID]
	delete(f.staged, userID)
	return payload, ok
}

type fakeRecorder struct {
	transcripts []audit.TranscriptEntry
	errs        []audit.ErrorEntry
}

func (f *fakeRecorder) Transcript(_ context.Context, entry audit.TranscriptEntry) {
	f.transcripts = append(f.transcripts, entry)
}

func (f *fakeRecorder) Error(_ context.Context, entry audit.ErrorEntry) {
	f.errs = append(f.errs, entry)
}

func newFixture(backend *fakeBackend, stager *fakeStager) (*Service, *fakeAdapter, *fakeRecorder) {
	adapter := &fakeAdapter{channelType: channel.TypeLINE}
	registry := channel.NewRegistry()
	registry.MustRegister(adapter)
	recorder := &fakeRecorder{}
	return NewService(nil, registry, backend, stager, recorder), adapter, recorder
}

func textTurn(text string) channel.InboundTurn {
	return channel.InboundTurn{
		Channel: channel.TypeLINE,
		UserID:  "U1",
		Kind:    channel.KindText,
		Text:    text,
		Reply:   channel.ReplyContext{ReplyToken: "rt"},
	}
}

func TestImageThenTextCorrelation(t *testing.T) {
	t.Parallel()

	backend := &fakeBackend{result: ai.Result{Answer: "ポンプを交換してください", ConversationToken: "tok-1"}}
	stager := &fakeStager{}
	svc, adapter, recorder := newFixture(backend, stager)

	imageTurn := channel.InboundTurn{
		Channel: channel.TypeLINE, UserID: "U1", Kind: channel.KindImage, ImageRef: "m2",
	}
	svc.HandleTurn(context.Background(), imageTurn)

	if len(adapter.sent) != 1 || adapter.sent[0] != msgImageStaged {
		t.Fatalf("expected staging ack, got %v", adapter.sent)
	}
	if backend.callCount != 0 {
		t.Fatal("image turn must not reach the backend")
	}
	if len(recorder.transcripts) != 0 {
		t.Fatal("image turn must not write a transcript")
	}

	svc.HandleTurn(context.Background(), textTurn("この状態はどうですか"))

	if backend.gotImage != "b64:m2" {
		t.Fatalf("staged image not forwarded: %q", backend.gotImage)
	}
	if len(recorder.transcripts) != 1 {
		t.Fatalf("expected 1 transcript, got %d", len(recorder.transcripts))
	}
	entry := recorder.transcripts[0]
	if !entry.ImageAttached || entry.ConversationToken != "tok-1" || entry.Platform != "line" {
		t.Fatalf("unexpected transcript: %+v", entry)
	}
	if adapter.sent[1] != "fmt:ポンプを交換してください" {
		t.Fatalf("answer not formatted before delivery: %q", adapter.sent[1])
	}
	if adapter.notified != 1 {
		t.Fatalf("processing indicator shown %d times, want 1", adapter.notified)
	}
}

func TestSecondTextTurnHasNoImage(t *testing.T) {
	t.Parallel()

	backend := &fakeBackend{result: ai.Result{Answer: "ok"}}
	stager := &fakeStager{}
	svc, _, _ := newFixture(backend, stager)

	svc.HandleTurn(context.Background(), channel.InboundTurn{
		Channel: channel.TypeLINE, UserID: "U1", Kind: channel.KindImage, ImageRef: "m2",
	})
	svc.HandleTurn(context.Background(), textTurn("一回目"))
	svc.HandleTurn(context.Background(), textTurn("二回目"))

	if backend.gotImage != "" {
		t.Fatalf("image must be consumed exactly once, second call got %q", backend.gotImage)
	}
}

func TestResetSkipsTranscriptAndIndicator(t *testing.T) {
	t.Parallel()

	backend := &fakeBackend{result: ai.Result{Answer: ai.ResetAcknowledgment, Reset: true}}
	stager := &fakeStager{}
	svc, adapter, recorder := newFixture(backend, stager)

	svc.HandleTurn(context.Background(), textTurn("リセット"))

	if len(recorder.transcripts) != 0 {
		t.Fatalf("reset must not write a transcript: %+v", recorder.transcripts)
	}
	if adapter.notified != 0 {
		t.Fatal("reset must not show the processing indicator")
	}
	if len(adapter.sent) != 1 || !strings.Contains(adapter.sent[0], ai.ResetAcknowledgment) {
		t.Fatalf("reset acknowledgment not delivered: %v", adapter.sent)
	}
}

func TestDegradedAnswerStillDeliveredAndLogged(t *testing.T) {
	t.Parallel()

	backendErr := errors.New("backend status 502")
	backend := &fakeBackend{result: ai.Result{Answer: "⚠️ エラーが発生しました", Degraded: true, Err: backendErr}}
	svc, adapter, recorder := newFixture(backend, &fakeStager{})

	svc.HandleTurn(context.Background(), textTurn("質問です"))

	if len(adapter.sent) != 1 {
		t.Fatalf("degraded answer must still be delivered: %v", adapter.sent)
	}
	if len(recorder.errs) != 1 || recorder.errs[0].Module != "AIBackend" {
		t.Fatalf("expected one backend error record, got %+v", recorder.errs)
	}
	if len(recorder.transcripts) != 1 {
		t.Fatal("degraded turn must still be transcribed")
	}
}

func TestUnsupportedKind(t *testing.T) {
	t.Parallel()

	backend := &fakeBackend{}
	svc, adapter, recorder := newFixture(backend, &fakeStager{})

	svc.HandleTurn(context.Background(), channel.InboundTurn{
		Channel: channel.TypeLINE, UserID: "U1", Kind: channel.KindOther,
	})

	if backend.callCount != 0 {
		t.Fatal("unsupported turn must not reach the backend")
	}
	if len(adapter.sent) != 1 || adapter.sent[0] != msgUnsupported {
		t.Fatalf("expected unsupported notice, got %v", adapter.sent)
	}
	if len(recorder.transcripts) != 0 {
		t.Fatal("unsupported turn must not write a transcript")
	}
}

func TestImageStagingFailure(t *testing.T) {
	t.Parallel()

	backend := &fakeBackend{}
	stager := &fakeStager{stageErr: errors.New("extraction failed")}
	svc, adapter, recorder := newFixture(backend, stager)

	svc.HandleTurn(context.Background(), channel.InboundTurn{
		Channel: channel.TypeLINE, UserID: "U1", Kind: channel.KindImage, ImageRef: "m2",
	})

	if len(adapter.sent) != 1 || adapter.sent[0] != msgImageFailed {
		t.Fatalf("expected failure notice, got %v", adapter.sent)
	}
	if len(recorder.errs) != 1 || recorder.errs[0].Module != "Vision" {
		t.Fatalf("expected vision error record, got %+v", recorder.errs)
	}
}

func TestCombinedImageAndTextTurn(t *testing.T) {
	t.Parallel()

	backend := &fakeBackend{result: ai.Result{Answer: "確認しました"}}
	stager := &fakeStager{}
	svc, adapter, _ := newFixture(backend, stager)

	turn := textTurn("この写真を見てください")
	turn.ImageRef = "https://files.example/555"
	svc.HandleTurn(context.Background(), turn)

	if len(adapter.sent) != 2 {
		t.Fatalf("expected staging ack plus answer, got %v", adapter.sent)
	}
	if adapter.sent[0] != msgImageAnalyzing {
		t.Fatalf("expected analyzing ack first, got %q", adapter.sent[0])
	}
	if backend.gotImage != "b64:https://files.example/555" {
		t.Fatalf("bundled image not forwarded: %q", backend.gotImage)
	}
}

func TestDeliveryFailureRecorded(t *testing.T) {
	t.Parallel()

	backend := &fakeBackend{result: ai.Result{Answer: "ok", ConversationToken: "tok"}}
	svc, adapter, recorder := newFixture(backend, &fakeStager{})
	adapter.sendErr = errors.New("reply token expired")

	svc.HandleTurn(context.Background(), textTurn("質問"))

	if len(recorder.errs) != 1 || recorder.errs[0].Module != "Delivery" {
		t.Fatalf("expected delivery error record, got %+v", recorder.errs)
	}
	if len(recorder.transcripts) != 1 {
		t.Fatal("transcript must be written even when delivery fails")
	}
}

func TestPanicRecovered(t *testing.T) {
	t.Parallel()

	svc, adapter, recorder := newFixture(&fakeBackend{}, &fakeStager{})
	svc.backend = panickingBackend{}

	svc.HandleTurn(context.Background(), textTurn("質問"))

	if len(recorder.errs) != 1 || recorder.errs[0].Module != "Conversation" {
		t.Fatalf("expected panic error record, got %+v", recorder.errs)
	}
	if recorder.errs[0].Trace == "" {
		t.Fatal("panic record must carry a stack trace")
	}
	if len(adapter.sent) == 0 || adapter.sent[len(adapter.sent)-1] != msgPanicApology {
		t.Fatalf("expected apology, got %v", adapter.sent)
	}
}

type panickingBackend struct{}

func (panickingBackend) Converse(context.Context, string, string, string) ai.Result {
	panic("boom")
}
