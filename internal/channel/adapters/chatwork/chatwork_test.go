package chatwork

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/genbarescue/gateway/internal/channel"
	"github.com/genbarescue/gateway/internal/store"
)

func webhookBody(body string, accountID int64) []byte {
	payload, _ := json.Marshal(map[string]any{
		"webhook_event": map[string]any{
			"message_id": "msg-1",
			"room_id":    42,
			"account_id": accountID,
			"body":       body,
		},
	})
	return payload
}

func TestNormalizeRequiresMention(t *testing.T) {
	t.Parallel()

	adapter := NewAdapter(nil, "https://api.chatwork.example", "token", 999, store.NewMemory())

	turns, err := adapter.Normalize(context.Background(), webhookBody("ポンプが動きません", 7))
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if len(turns) != 0 {
		t.Fatalf("message without mention must be dropped, got %+v", turns)
	}

	turns, err = adapter.Normalize(context.Background(), webhookBody("[To:999]Bot\nポンプが動きません", 7))
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if len(turns) != 1 {
		t.Fatalf("expected 1 turn, got %d", len(turns))
	}
	turn := turns[0]
	if turn.Kind != channel.KindText || turn.Text != "ポンプが動きません" {
		t.Fatalf("unexpected turn: %+v", turn)
	}
	if turn.UserID != "cw_7" {
		t.Fatalf("user id not canonicalized: %q", turn.UserID)
	}
	if turn.Reply.RoomID != "42" || turn.Reply.MessageID != "msg-1" || turn.Reply.AccountID != "7" {
		t.Fatalf("reply context lost: %+v", turn.Reply)
	}
}

func TestNormalizeAcceptsReplyTag(t *testing.T) {
	t.Parallel()

	adapter := NewAdapter(nil, "https://api.chatwork.example", "token", 999, store.NewMemory())
	turns, err := adapter.Normalize(context.Background(),
		webhookBody("[rp aid=999 to=42-old]Bot\n続きを教えて", 7))
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if len(turns) != 1 || turns[0].Text != "続きを教えて" {
		t.Fatalf("reply-tag mention not accepted: %+v", turns)
	}
}

func TestNormalizeDropsOwnMessages(t *testing.T) {
	t.Parallel()

	adapter := NewAdapter(nil, "https://api.chatwork.example", "token", 999, store.NewMemory())
	turns, err := adapter.Normalize(context.Background(), webhookBody("[To:999]自分の返信", 999))
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if len(turns) != 0 {
		t.Fatalf("bot's own message must be dropped, got %+v", turns)
	}
}

func TestNormalizeFailsClosedWithoutIdentity(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	adapter := NewAdapter(nil, srv.URL, "token", 0, store.NewMemory())
	turns, err := adapter.Normalize(context.Background(), webhookBody("[To:999]質問です", 7))
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if len(turns) != 0 {
		t.Fatalf("unknown bot identity must drop turns, got %+v", turns)
	}
}

func TestNormalizeDiscoversAndPersistsIdentity(t *testing.T) {
	t.Parallel()

	var identityCalls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/me" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		identityCalls++
		fmt.Fprint(w, `{"account_id": 999}`)
	}))
	defer srv.Close()

	props := store.NewMemory()
	adapter := NewAdapter(nil, srv.URL, "token", 0, props)

	for i := 0; i < 2; i++ {
		turns, err := adapter.Normalize(context.Background(), webhookBody("[To:999]質問です", 7))
		if err != nil {
			t.Fatalf("normalize: %v", err)
		}
		if len(turns) != 1 {
			t.Fatalf("expected 1 turn, got %d", len(turns))
		}
	}
	if identityCalls != 1 {
		t.Fatalf("identity endpoint called %d times, want 1", identityCalls)
	}
	if value, ok, _ := props.Get(context.Background(), botIDPropertyKey); !ok || value != "999" {
		t.Fatalf("bot id not persisted: %q %v", value, ok)
	}
}

func TestNormalizeResolvesDownloadURL(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/rooms/42/files/555" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.URL.Query().Get("create_download_url") != "1" {
			t.Errorf("missing create_download_url flag")
		}
		fmt.Fprint(w, `{"download_url": "https://files.example/555"}`)
	}))
	defer srv.Close()

	adapter := NewAdapter(nil, srv.URL, "token", 999, store.NewMemory())
	turns, err := adapter.Normalize(context.Background(),
		webhookBody("[To:999]Bot\nこの写真を見て[download:555]", 7))
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if len(turns) != 1 {
		t.Fatalf("expected 1 turn, got %d", len(turns))
	}
	if turns[0].ImageRef != "https://files.example/555" {
		t.Fatalf("download url not resolved: %q", turns[0].ImageRef)
	}
	if turns[0].Text != "この写真を見て" {
		t.Fatalf("download tag not stripped: %q", turns[0].Text)
	}
}

func TestNormalizeDownloadFailureDegradesToText(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	adapter := NewAdapter(nil, srv.URL, "token", 999, store.NewMemory())
	turns, err := adapter.Normalize(context.Background(),
		webhookBody("[To:999]Bot\n写真です[download:555]", 7))
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if len(turns) != 1 || turns[0].ImageRef != "" {
		t.Fatalf("download failure must degrade to text turn: %+v", turns)
	}
	if turns[0].Text != "写真です" {
		t.Fatalf("unexpected text: %q", turns[0].Text)
	}
}

func TestNormalizeStripsInfoBlocks(t *testing.T) {
	t.Parallel()

	adapter := NewAdapter(nil, "https://api.chatwork.example", "token", 999, store.NewMemory())
	turns, err := adapter.Normalize(context.Background(),
		webhookBody("[To:999]Bot\n[info]引用された古い通知[/info]新しい質問", 7))
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if len(turns) != 1 || turns[0].Text != "新しい質問" {
		t.Fatalf("info block not stripped: %+v", turns)
	}
}

func TestNormalizeMalformed(t *testing.T) {
	t.Parallel()

	adapter := NewAdapter(nil, "https://api.chatwork.example", "token", 999, store.NewMemory())
	if _, err := adapter.Normalize(context.Background(), []byte("not json")); err == nil {
		t.Fatal("expected malformed payload error")
	}
}

func TestSendPrefixesReplyTag(t *testing.T) {
	t.Parallel()

	var gotBody, gotToken string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/rooms/42/messages" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		gotToken = r.Header.Get("X-ChatWorkToken")
		if err := r.ParseForm(); err != nil {
			t.Errorf("parse form: %v", err)
		}
		gotBody = r.PostFormValue("body")
	}))
	defer srv.Close()

	adapter := NewAdapter(nil, srv.URL, "token", 999, store.NewMemory())
	reply := channel.ReplyContext{RoomID: "42", MessageID: "msg-1", AccountID: "7"}
	if err := adapter.Send(context.Background(), reply, "回答です"); err != nil {
		t.Fatalf("send: %v", err)
	}
	if gotToken != "token" {
		t.Fatalf("api token missing: %q", gotToken)
	}
	if gotBody != "[rp aid=7 to=42-msg-1]回答です" {
		t.Fatalf("unexpected body: %q", gotBody)
	}
}

func TestFormat(t *testing.T) {
	t.Parallel()

	adapter := NewAdapter(nil, "https://api.chatwork.example", "token", 999, store.NewMemory())

	t.Run("bold", func(t *testing.T) {
		t.Parallel()
		if got := adapter.Format("**必ず**電源を切る"); got != "[info]必ず[/info]電源を切る" {
			t.Fatalf("got %q", got)
		}
	})

	t.Run("headings", func(t *testing.T) {
		t.Parallel()
		got := adapter.Format("## 対処法\n### 手順")
		want := "[title]対処法[/title]\n[title]手順[/title]"
		if got != want {
			t.Fatalf("got %q want %q", got, want)
		}
	})

	t.Run("code fence", func(t *testing.T) {
		t.Parallel()
		got := adapter.Format("```\nrm -rf /tmp/cache\n```")
		want := "[code]rm -rf /tmp/cache\n[/code]"
		if got != want {
			t.Fatalf("got %q want %q", got, want)
		}
	})

	t.Run("empty", func(t *testing.T) {
		t.Parallel()
		if got := adapter.Format(""); got != "" {
			t.Fatalf("got %q", got)
		}
	})
}
