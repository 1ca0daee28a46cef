package vision

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/genbarescue/gateway/internal/channel"
)

func newExtractorServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv
}

func TestStageAndTakePending(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	var got extractRequest
	srv := newExtractorServer(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		json.NewEncoder(w).Encode(extractResponse{Status: "success", Base64Image: "aW1n"})
	})

	svc := NewService(nil, srv.URL, "secret-token", time.Minute, NewMemoryPending())
	require.NoError(t, svc.Stage(ctx, "U1", channel.TypeLINE, "msg-100"))

	assert.Equal(t, "U1", got.UserID)
	assert.Equal(t, "line", got.SourcePlatform)
	assert.Equal(t, "msg-100", got.Locator)
	assert.Equal(t, "secret-token", got.AuthToken)

	payload, ok := svc.TakePending(ctx, "U1")
	require.True(t, ok)
	assert.Equal(t, "aW1n", payload)

	_, ok = svc.TakePending(ctx, "U1")
	assert.False(t, ok, "take is read-once")
}

func TestStageOverwritesPrior(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	images := []string{"first", "second"}
	srv := newExtractorServer(t, func(w http.ResponseWriter, r *http.Request) {
		img := images[0]
		if len(images) > 1 {
			images = images[1:]
		}
		json.NewEncoder(w).Encode(extractResponse{Status: "success", Base64Image: img})
	})

	svc := NewService(nil, srv.URL, "tok", time.Minute, NewMemoryPending())
	require.NoError(t, svc.Stage(ctx, "U1", channel.TypeLINE, "a"))
	require.NoError(t, svc.Stage(ctx, "U1", channel.TypeLINE, "b"))

	payload, ok := svc.TakePending(ctx, "U1")
	require.True(t, ok)
	assert.Equal(t, "second", payload, "newer image wins")
}

func TestStageFailureModes(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("logic error", func(t *testing.T) {
		t.Parallel()
		srv := newExtractorServer(t, func(w http.ResponseWriter, r *http.Request) {
			json.NewEncoder(w).Encode(extractResponse{Status: "error", Error: "download failed"})
		})
		svc := NewService(nil, srv.URL, "tok", time.Minute, NewMemoryPending())
		assert.ErrorIs(t, svc.Stage(ctx, "U1", channel.TypeChatwork, "url"), ErrImageFetchFailed)
	})

	t.Run("http error", func(t *testing.T) {
		t.Parallel()
		srv := newExtractorServer(t, func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "boom", http.StatusBadGateway)
		})
		svc := NewService(nil, srv.URL, "tok", time.Minute, NewMemoryPending())
		assert.ErrorIs(t, svc.Stage(ctx, "U1", channel.TypeLINE, "id"), ErrImageFetchFailed)
	})

	t.Run("malformed body", func(t *testing.T) {
		t.Parallel()
		srv := newExtractorServer(t, func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte("not json"))
		})
		svc := NewService(nil, srv.URL, "tok", time.Minute, NewMemoryPending())
		assert.ErrorIs(t, svc.Stage(ctx, "U1", channel.TypeLINE, "id"), ErrImageFetchFailed)
	})
}

func TestExpiredPendingReadsAsAbsent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	pending := NewMemoryPending()
	base := time.Now()
	pending.now = func() time.Time { return base }
	require.NoError(t, pending.Put(ctx, "U1", "img", PendingTTL))

	pending.now = func() time.Time { return base.Add(PendingTTL + time.Second) }
	_, ok, err := pending.Take(ctx, "U1")
	require.NoError(t, err)
	assert.False(t, ok, "expired image behaves like no image")
}

func TestClearPending(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	pending := NewMemoryPending()
	require.NoError(t, pending.Put(ctx, "U1", "img", PendingTTL))

	svc := NewService(nil, "http://unused.invalid", "tok", time.Minute, pending)
	require.NoError(t, svc.ClearPending(ctx, "U1"))

	_, ok := svc.TakePending(ctx, "U1")
	assert.False(t, ok)
}
