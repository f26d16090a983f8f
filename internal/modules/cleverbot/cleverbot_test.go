package cleverbot

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) After(d time.Duration) <-chan time.Time {
	ch := make(chan time.Time, 1)
	ch <- c.Now().Add(d)
	return ch
}

func (c *manualClock) advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type request struct {
	text    string
	context []string
	emotion string
	auth    string
}

type fakeAPI struct {
	mu       sync.Mutex
	requests []request
	reply    string
}

func (f *fakeAPI) handler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		f.mu.Lock()
		f.requests = append(f.requests, request{
			text:    r.PostForm.Get("text"),
			context: r.PostForm["context"],
			emotion: r.PostForm.Get("emotion"),
			auth:    r.Header.Get("authorization"),
		})
		reply := f.reply
		f.mu.Unlock()
		_, _ = w.Write([]byte(reply))
	}
}

func (f *fakeAPI) setReply(reply string) {
	f.mu.Lock()
	f.reply = reply
	f.mu.Unlock()
}

func (f *fakeAPI) seen() []request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]request(nil), f.requests...)
}

func newService(t *testing.T, api *fakeAPI, key string) (*Service, *manualClock) {
	t.Helper()
	srv := httptest.NewServer(api.handler(t))
	t.Cleanup(srv.Close)
	clock := &manualClock{now: time.Unix(1000, 0)}
	svc := NewService(New(srv.URL, key, srv.Client()), zap.NewNop(), 5*time.Minute, 3*time.Second).WithClock(clock)
	return svc, clock
}

func TestAskCooldown(t *testing.T) {
	api := &fakeAPI{reply: `{"response":"Hello human","status":200}`}
	svc, clock := newService(t, api, "key")
	ctx := context.Background()

	answer, err := svc.Ask(ctx, "u1", "hi?")
	require.NoError(t, err)
	assert.Equal(t, "Hello human", answer)
	assert.Equal(t, request{text: "hi?", emotion: "neutral", auth: "key"}, api.seen()[0])

	_, err = svc.Ask(ctx, "u1", "again?")
	var cooldown *CooldownError
	require.True(t, errors.As(err, &cooldown))
	assert.Equal(t, 3*time.Second, cooldown.Remaining)

	_, err = svc.Ask(ctx, "u2", "other user")
	require.NoError(t, err)

	clock.advance(3 * time.Second)
	_, err = svc.Ask(ctx, "u1", "later")
	require.NoError(t, err)
}

func TestNotConfigured(t *testing.T) {
	svc, _ := newService(t, &fakeAPI{}, "")
	_, err := svc.Ask(context.Background(), "u1", "hi")
	assert.ErrorIs(t, err, ErrNotConfigured)
	_, err = svc.Start("c1", "u1")
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestAPIErrors(t *testing.T) {
	api := &fakeAPI{reply: `{"error":"Invalid authorization credentials"}`}
	svc, _ := newService(t, api, "bad")
	_, err := svc.client.Ask(context.Background(), "hi", nil, "")
	assert.ErrorIs(t, err, ErrInvalidKey)

	api.setReply(`{"response":"The server returned a malformed response or it is down.","status":502}`)
	_, err = svc.client.Ask(context.Background(), "hi", nil, "")
	assert.ErrorIs(t, err, ErrAPIDown)

	api.setReply(`<html>bad gateway</html>`)
	_, err = svc.client.Ask(context.Background(), "hi", nil, "")
	assert.ErrorIs(t, err, ErrAPIDown)
}

func TestConversation(t *testing.T) {
	api := &fakeAPI{reply: `{"response":"Sure","status":200}`}
	svc, _ := newService(t, api, "key")
	ctx := context.Background()

	started, err := svc.Start("c1", "u1")
	require.NoError(t, err)
	assert.True(t, started)
	started, err = svc.Start("c1", "u1")
	require.NoError(t, err)
	assert.False(t, started)

	_, handled := svc.Handle(ctx, "c2", "u1", "<@u1>", "wrong channel")
	assert.False(t, handled)
	_, handled = svc.Handle(ctx, "c1", "u2", "<@u2>", "someone else")
	assert.False(t, handled)

	for _, prompt := range []string{"one", "two", "three"} {
		reply, handled := svc.Handle(ctx, "c1", "u1", "<@u1>", prompt)
		require.True(t, handled)
		assert.Equal(t, "<@u1>, Sure", reply)
	}
	requests := api.seen()
	require.Len(t, requests, 3)
	assert.Empty(t, requests[0].context)
	assert.Empty(t, requests[1].context)
	assert.Equal(t, []string{"two", "three"}, requests[2].context)

	reply, handled := svc.Handle(ctx, "c1", "u1", "<@u1>", "Close")
	require.True(t, handled)
	assert.Equal(t, ClosedMessage, reply)
	assert.False(t, svc.Active("c1", "u1"))
}

func TestConversationClosesOnError(t *testing.T) {
	api := &fakeAPI{reply: `{"error":"Invalid authorization credentials"}`}
	svc, _ := newService(t, api, "key")
	_, err := svc.Start("c1", "u1")
	require.NoError(t, err)

	reply, handled := svc.Handle(context.Background(), "c1", "u1", "<@u1>", "hello")
	require.True(t, handled)
	assert.Contains(t, reply, "Session closed.")
	assert.False(t, svc.Active("c1", "u1"))
}

func TestSweepIdle(t *testing.T) {
	api := &fakeAPI{reply: `{"response":"ok","status":200}`}
	svc, clock := newService(t, api, "key")
	_, _ = svc.Start("c1", "u1")
	_, _ = svc.Start("c1", "u2")

	clock.advance(4 * time.Minute)
	_, handled := svc.Handle(context.Background(), "c1", "u2", "<@u2>", "still here")
	require.True(t, handled)

	clock.advance(time.Minute)
	expired := svc.Sweep()
	assert.Equal(t, []Expired{{ChannelID: "c1", UserID: "u1"}}, expired)
	assert.True(t, svc.Active("c1", "u2"))
	assert.Contains(t, timeoutMessages, TimeoutMessage())
}

func TestParseEmotion(t *testing.T) {
	emotion, ok := ParseEmotion("Happy")
	require.True(t, ok)
	assert.Equal(t, EmotionJoy, emotion)
	_, ok = ParseEmotion("bored")
	assert.False(t, ok)
}
