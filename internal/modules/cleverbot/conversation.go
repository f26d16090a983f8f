package cleverbot

import (
	"context"
	"fmt"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"github.com/stefmmm/Predeactor-Cogs/internal/utils"

	"go.uber.org/zap"
)

const (
	StartMessage  = "Starting a new Cleverbot session!\n\nSay `close` to stop the conversation with me !\n\nAfter 5 minutes without answer, I will automatically close your conversation."
	ClosedMessage = "Conversation closed."
	AlreadyActive = "You already have a conversation running in this channel."
)

var timeoutMessages = []string{
	"5 minutes without messages ? Sorry but I have to close your conversation.",
	"Sorry but after 5 minutes, I close your conversation.",
	"Conversation stopped.",
	"Since I'm lonely, I close our conversation.",
}

// TimeoutMessage picks one of the idle farewells.
func TimeoutMessage() string {
	return timeoutMessages[rand.IntN(len(timeoutMessages))]
}

type conversation struct {
	history  History
	lastSeen time.Time
}

// Expired identifies a conversation closed for inactivity.
type Expired struct {
	ChannelID string
	UserID    string
}

// Service owns the single question cooldown and the running conversations.
type Service struct {
	client *Client
	logger *zap.Logger
	clock  utils.Clock
	idle   time.Duration
	ask    *utils.SlidingWindow

	mu            sync.Mutex
	conversations map[string]*conversation
}

func NewService(client *Client, logger *zap.Logger, idle, askCooldown time.Duration) *Service {
	return &Service{
		client:        client,
		logger:        logger,
		clock:         utils.RealClock{},
		idle:          idle,
		ask:           utils.NewSlidingWindow(askCooldown, 1),
		conversations: make(map[string]*conversation),
	}
}

func (s *Service) WithClock(clock utils.Clock) *Service {
	s.clock = clock
	return s
}

func (s *Service) Configured() bool {
	return s.client.Configured()
}

func key(channelID, userID string) string {
	return channelID + ":" + userID
}

// Ask answers a single question, at most once per cooldown per user.
func (s *Service) Ask(ctx context.Context, userID, question string) (string, error) {
	if !s.client.Configured() {
		return "", ErrNotConfigured
	}
	if ok, wait := s.ask.Allow(userID, s.clock.Now()); !ok {
		return "", &CooldownError{Remaining: wait}
	}
	return s.client.Ask(ctx, question, nil, EmotionNeutral)
}

type CooldownError struct {
	Remaining time.Duration
}

func (e *CooldownError) Error() string {
	return fmt.Sprintf("on cooldown for %s", utils.HumanizeDuration(e.Remaining))
}

// Start opens a conversation for userID in channelID. It reports false when one is already running.
func (s *Service) Start(channelID, userID string) (bool, error) {
	if !s.client.Configured() {
		return false, ErrNotConfigured
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	k := key(channelID, userID)
	if _, ok := s.conversations[k]; ok {
		return false, nil
	}
	s.conversations[k] = &conversation{lastSeen: s.clock.Now()}
	return true, nil
}

func (s *Service) Active(channelID, userID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.conversations[key(channelID, userID)]
	return ok
}

func (s *Service) end(channelID, userID string) {
	s.mu.Lock()
	delete(s.conversations, key(channelID, userID))
	s.mu.Unlock()
}

// Handle answers a message posted by a user with a running conversation in that channel.
// handled is false when the message does not belong to a conversation.
func (s *Service) Handle(ctx context.Context, channelID, userID, mention, content string) (reply string, handled bool) {
	s.mu.Lock()
	conv, ok := s.conversations[key(channelID, userID)]
	if ok {
		conv.lastSeen = s.clock.Now()
	}
	s.mu.Unlock()
	if !ok {
		return "", false
	}

	if strings.EqualFold(strings.TrimSpace(content), "close") {
		s.end(channelID, userID)
		return ClosedMessage, true
	}

	answer, err := s.client.Ask(ctx, content, &conv.history, EmotionNeutral)
	if err != nil {
		s.logger.Warn("conversation ask failed", zap.String("channel_id", channelID), zap.String("user_id", userID), zap.Error(err))
		s.end(channelID, userID)
		return fmt.Sprintf("An error happened: %v. Please try again later. Session closed.", err), true
	}
	return mention + ", " + answer, true
}

// Sweep closes every conversation idle for longer than the idle timeout.
func (s *Service) Sweep() []Expired {
	now := s.clock.Now()
	s.mu.Lock()
	defer s.mu.Unlock()

	var expired []Expired
	for k, conv := range s.conversations {
		if now.Sub(conv.lastSeen) < s.idle {
			continue
		}
		channelID, userID, _ := strings.Cut(k, ":")
		expired = append(expired, Expired{ChannelID: channelID, UserID: userID})
		delete(s.conversations, k)
	}
	return expired
}

// Close drops every running conversation.
func (s *Service) Close() {
	s.mu.Lock()
	s.conversations = make(map[string]*conversation)
	s.mu.Unlock()
}
