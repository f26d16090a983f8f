package utils

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
)

var ErrWaitTimeout = errors.New("timed out waiting for message")

type MessageFilter func(*discordgo.Message) bool

// Waiter hands incoming messages to goroutines blocked in WaitFor. Each wait resolves at
// most once; a message may resolve several waits.
type Waiter struct {
	mu      sync.Mutex
	nextID  uint64
	pending map[uint64]*pendingWait
}

type pendingWait struct {
	match MessageFilter
	ch    chan *discordgo.Message
}

func NewWaiter() *Waiter {
	return &Waiter{pending: make(map[uint64]*pendingWait)}
}

// Dispatch offers msg to every pending wait and returns how many it resolved.
func (w *Waiter) Dispatch(msg *discordgo.Message) int {
	if msg == nil {
		return 0
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	resolved := 0
	for id, wait := range w.pending {
		if !wait.match(msg) {
			continue
		}
		delete(w.pending, id)
		wait.ch <- msg
		resolved++
	}
	return resolved
}

// WaitFor blocks until a dispatched message satisfies match, the timeout elapses, or ctx
// ends. A zero timeout waits on ctx alone.
func (w *Waiter) WaitFor(ctx context.Context, timeout time.Duration, match MessageFilter) (*discordgo.Message, error) {
	id, wait := w.register(match)

	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}

	select {
	case msg := <-wait.ch:
		return msg, nil
	case <-expired:
		if msg, ok := w.cancel(id, wait); ok {
			return msg, nil
		}
		return nil, ErrWaitTimeout
	case <-ctx.Done():
		if msg, ok := w.cancel(id, wait); ok {
			return msg, nil
		}
		return nil, ctx.Err()
	}
}

func (w *Waiter) Pending() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.pending)
}

// Close drops every pending wait. Blocked callers run into their own deadline.
func (w *Waiter) Close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.pending = make(map[uint64]*pendingWait)
}

func (w *Waiter) register(match MessageFilter) (uint64, *pendingWait) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.nextID++
	wait := &pendingWait{match: match, ch: make(chan *discordgo.Message, 1)}
	w.pending[w.nextID] = wait
	return w.nextID, wait
}

// cancel removes the wait. If Dispatch already resolved it, the delivered message is
// returned instead.
func (w *Waiter) cancel(id uint64, wait *pendingWait) (*discordgo.Message, bool) {
	w.mu.Lock()
	_, stillPending := w.pending[id]
	delete(w.pending, id)
	w.mu.Unlock()
	if stillPending {
		return nil, false
	}
	select {
	case msg := <-wait.ch:
		return msg, true
	default:
		return nil, false
	}
}

func SameContext(channelID, userID string) MessageFilter {
	return func(msg *discordgo.Message) bool {
		return msg.ChannelID == channelID && msg.Author != nil && msg.Author.ID == userID
	}
}

func YesOrNo(channelID, userID string) MessageFilter {
	same := SameContext(channelID, userID)
	return func(msg *discordgo.Message) bool {
		if !same(msg) {
			return false
		}
		_, ok := ParseYesNo(msg.Content)
		return ok
	}
}

func ParseYesNo(content string) (bool, bool) {
	switch strings.ToLower(strings.TrimSpace(content)) {
	case "y", "yes":
		return true, true
	case "n", "no":
		return false, true
	default:
		return false, false
	}
}
