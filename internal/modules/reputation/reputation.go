package reputation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/stefmmm/Predeactor-Cogs/internal/modules/audit"
	"github.com/stefmmm/Predeactor-Cogs/internal/storage"
	"github.com/stefmmm/Predeactor-Cogs/internal/utils"

	"github.com/bwmarrin/discordgo"
	"github.com/dustin/go-humanize"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

var (
	ErrSelfRep     = errors.New("cannot give reputation to yourself")
	ErrBotRep      = errors.New("bots cannot receive reputation")
	ErrOnCooldown  = errors.New("reputation is on cooldown")
	ErrEmptyBoard  = errors.New("leaderboard is empty")
	ErrInvalidPage = errors.New("invalid page number")
)

const (
	BotRefusal  = "We are the robots. Robot can't receive reputation points because they already are too popular!"
	SelfRefusal = "Uhm, I don't think I can allow you to give you reputation points to yourself... :)"
	EmptyBoard  = "The leaderboard is empty... Nobody's popular, for now."
)

// CooldownError carries how long the caller still has to wait.
type CooldownError struct {
	Remaining time.Duration
}

func (e *CooldownError) Error() string {
	return fmt.Sprintf("reputation is on cooldown for %s", utils.HumanizeDuration(e.Remaining))
}

func (e *CooldownError) Unwrap() error { return ErrOnCooldown }

type PageError struct {
	Pages int
}

func (e *PageError) Error() string {
	return fmt.Sprintf("**Please enter a valid page number! (1 - %d)**", e.Pages)
}

func (e *PageError) Unwrap() error { return ErrInvalidPage }

// UserResolver looks up user names for the leaderboard.
type UserResolver interface {
	User(userID string, options ...discordgo.RequestOption) (*discordgo.User, error)
}

type Config struct {
	Cooldown      time.Duration
	BoardCooldown time.Duration
	PageSize      int
}

type Module struct {
	store  *storage.Store
	audit  audit.Recorder
	logger *zap.Logger
	cfg    Config
	clock  utils.Clock

	mu     sync.Mutex
	givers map[string]*rate.Limiter
	boards map[string]*rate.Limiter
}

func New(store *storage.Store, auditLog audit.Recorder, logger *zap.Logger, cfg Config) *Module {
	if cfg.PageSize <= 0 {
		cfg.PageSize = 15
	}
	return &Module{
		store:  store,
		audit:  auditLog,
		logger: logger,
		cfg:    cfg,
		clock:  utils.RealClock{},
		givers: make(map[string]*rate.Limiter),
		boards: make(map[string]*rate.Limiter),
	}
}

func (m *Module) WithClock(clock utils.Clock) *Module {
	m.clock = clock
	return m
}

// take consumes one token from the limiter stored under key, or reports how long until one is free.
func (m *Module) take(limiters map[string]*rate.Limiter, key string, every time.Duration) (bool, time.Duration) {
	if every <= 0 {
		return true, 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	lim := limiters[key]
	if lim == nil {
		lim = rate.NewLimiter(rate.Every(every), 1)
		limiters[key] = lim
	}
	now := m.clock.Now()
	if lim.AllowN(now, 1) {
		return true, 0
	}
	r := lim.ReserveN(now, 1)
	wait := r.DelayFrom(now)
	r.CancelAt(now)
	return false, wait
}

type Gift struct {
	Receiver *discordgo.User
	Giver    *discordgo.User
	Points   int
	Mention  bool
}

// Message renders the channel announcement for the gift.
func (g Gift) Message() string {
	receiver := g.Receiver.Username
	if g.Mention {
		receiver = g.Receiver.Mention()
	}
	plural := ""
	if g.Points > 1 {
		plural = "s"
	}
	return fmt.Sprintf("**%s received a reputation point from %s!\nYou now have %s reputation point%s.**",
		receiver, g.Giver.Username, humanize.Comma(int64(g.Points)), plural)
}

// Give adds one point to receiver. Refused gifts do not start the giver's cooldown.
func (m *Module) Give(ctx context.Context, guildID string, giver, receiver *discordgo.User) (Gift, error) {
	if receiver.Bot {
		return Gift{}, ErrBotRep
	}
	if receiver.ID == giver.ID {
		return Gift{}, ErrSelfRep
	}
	if ok, wait := m.take(m.givers, giver.ID, m.cfg.Cooldown); !ok {
		return Gift{}, &CooldownError{Remaining: wait}
	}

	points, err := m.store.AddReputation(ctx, receiver.ID, 1)
	if err != nil {
		return Gift{}, fmt.Errorf("add reputation: %w", err)
	}
	mention, err := m.store.RepMention(ctx, receiver.ID)
	if err != nil {
		m.logger.Warn("reputation mention lookup", zap.String("user_id", receiver.ID), zap.Error(err))
	}
	m.audit.Log(ctx, audit.LevelInfo, guildID, giver.ID, audit.EventReputationGiven, "receiver="+receiver.ID)
	return Gift{Receiver: receiver, Giver: giver, Points: points, Mention: mention}, nil
}

func (m *Module) SetMention(ctx context.Context, userID string, mention bool) error {
	return m.store.SetRepMention(ctx, userID, mention)
}

type Board struct {
	Page   int
	Pages  int
	Body   string
	Footer string
}

var specialLabels = []string{"♔", "♕", "♖", "♗", "♘", "♙"}

// Leaderboard renders one page of the global ranking. Each channel may ask once per BoardCooldown.
func (m *Module) Leaderboard(ctx context.Context, resolver UserResolver, channelID, callerID string, page int) (Board, error) {
	if ok, wait := m.take(m.boards, channelID, m.cfg.BoardCooldown); !ok {
		return Board{}, &CooldownError{Remaining: wait}
	}

	entries, err := m.store.ListReputation(ctx)
	if err != nil {
		return Board{}, err
	}
	if len(entries) == 0 {
		return Board{}, ErrEmptyBoard
	}

	size := m.cfg.PageSize
	pages := (len(entries) + size - 1) / size
	if page < 1 || page > pages {
		return Board{}, &PageError{Pages: pages}
	}

	footer := "Your Rank: -"
	for i, entry := range entries {
		if entry.UserID == callerID {
			footer = fmt.Sprintf("Your Rank: %s      Rep: %s", humanize.Ordinal(i+1), humanize.Comma(int64(entry.Points)))
			break
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Rank     Name                   (Page %d/%d)\n\n", page, pages)
	start := (page - 1) * size
	end := min(start+size, len(entries))
	for i := start; i < end; i++ {
		rank := i + 1
		label := "  "
		if i < len(specialLabels) {
			label = specialLabels[i]
		}
		name := truncate(m.userName(resolver, entries[i].UserID), 15)
		fmt.Fprintf(&b, "%-3d%-2s➤ # %-15s      Rep: %d\n", rank, label, name, entries[i].Points)
	}
	b.WriteString("--------------------------------------------\n")
	b.WriteString(footer)

	return Board{Page: page, Pages: pages, Body: b.String(), Footer: footer}, nil
}

func (m *Module) userName(resolver UserResolver, userID string) string {
	if resolver == nil {
		return "Unknown User"
	}
	user, err := resolver.User(userID)
	if err != nil || user == nil {
		return "Unknown User"
	}
	return user.Username
}

func truncate(text string, limit int) string {
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	return string(runes[:limit-1]) + "…"
}
