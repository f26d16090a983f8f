package utils

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func message(channelID, userID, content string) *discordgo.Message {
	return &discordgo.Message{ChannelID: channelID, Content: content, Author: &discordgo.User{ID: userID}}
}

func waitUntilPending(t *testing.T, w *Waiter, n int) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for w.Pending() != n {
		if time.Now().After(deadline) {
			t.Fatalf("expected %d pending waits, got %d", n, w.Pending())
		}
		time.Sleep(time.Millisecond)
	}
}

func TestWaiterDeliversMatchingMessage(t *testing.T) {
	w := NewWaiter()
	result := make(chan *discordgo.Message, 1)
	go func() {
		msg, err := w.WaitFor(context.Background(), time.Second, SameContext("c1", "u1"))
		if err == nil {
			result <- msg
		}
		close(result)
	}()
	waitUntilPending(t, w, 1)

	assert.Equal(t, 0, w.Dispatch(message("c1", "u2", "12345")))
	assert.Equal(t, 0, w.Dispatch(message("c2", "u1", "12345")))
	assert.Equal(t, 1, w.Dispatch(message("c1", "u1", "12345")))

	got := <-result
	require.NotNil(t, got)
	assert.Equal(t, "12345", got.Content)
	assert.Equal(t, 0, w.Pending())
}

func TestWaiterTimeout(t *testing.T) {
	w := NewWaiter()
	_, err := w.WaitFor(context.Background(), 10*time.Millisecond, SameContext("c1", "u1"))
	assert.True(t, errors.Is(err, ErrWaitTimeout))
	assert.Equal(t, 0, w.Pending())
}

func TestWaiterContextCancel(t *testing.T) {
	w := NewWaiter()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := w.WaitFor(ctx, time.Minute, SameContext("c1", "u1"))
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestWaiterResolvesConcurrentWaits(t *testing.T) {
	w := NewWaiter()
	done := make(chan string, 2)
	for _, user := range []string{"u1", "u2"} {
		user := user
		go func() {
			msg, err := w.WaitFor(context.Background(), time.Second, SameContext("c1", user))
			if err != nil {
				done <- "error"
				return
			}
			done <- msg.Content
		}()
	}
	waitUntilPending(t, w, 2)

	w.Dispatch(message("c1", "u2", "second"))
	w.Dispatch(message("c1", "u1", "first"))

	got := map[string]bool{<-done: true, <-done: true}
	assert.Equal(t, map[string]bool{"first": true, "second": true}, got)
}

func TestYesOrNo(t *testing.T) {
	filter := YesOrNo("c1", "u1")
	assert.True(t, filter(message("c1", "u1", "Y")))
	assert.True(t, filter(message("c1", "u1", " no ")))
	assert.False(t, filter(message("c1", "u1", "maybe")))
	assert.False(t, filter(message("c1", "u2", "yes")))

	value, ok := ParseYesNo("YES")
	assert.True(t, ok)
	assert.True(t, value)
}
