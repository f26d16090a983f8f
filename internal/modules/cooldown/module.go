package cooldown

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
	"go.uber.org/zap"
)

const (
	DefaultChannelMessage  = "Sorry {member}, this channel is ratelimited! You'll be able to post again in {channel} in {time}."
	DefaultCategoryMessage = "Sorry {member}, this category is ratelimited! You'll be able to post again in {category} in {time}."
)

func ownerNotice(channelMention string) string {
	return fmt.Sprintf("Hello. I tried to delete a message in %s because this channel is registered as "+
		"cooldowned, but I was unable to delete the last message. I need the Manage messages permissions "+
		"to delete messages in this channel.\nThis message won't reappear until the next bot reboot or cog reload.",
		channelMention)
}

// Session is the part of the Discord session the gate needs.
type Session interface {
	ChannelMessageDelete(channelID, messageID string, options ...discordgo.RequestOption) error
	ChannelMessageSend(channelID, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
	UserChannelCreate(recipientID string, options ...discordgo.RequestOption) (*discordgo.Channel, error)
}

type Config struct {
	DefaultIgnoreBot bool
	DefaultSendDM    bool
}

// MessageContext carries what the gate needs to know about where a message was posted.
type MessageContext struct {
	Channel  *discordgo.Channel
	Category *discordgo.Channel
	OwnerID  string
}

type Verdict string

const (
	VerdictNone         Verdict = ""
	VerdictRecorded     Verdict = "recorded"
	VerdictAllowed      Verdict = "allowed"
	VerdictDeleted      Verdict = "deleted"
	VerdictDeleteFailed Verdict = "delete_failed"
	VerdictAlreadyGone  Verdict = "already_deleted"
)

type Result struct {
	Skipped  bool
	Channel  Verdict
	Category Verdict
}

// Deleted reports whether either gate removed the message.
func (r Result) Deleted() bool {
	return r.Channel == VerdictDeleted || r.Category == VerdictDeleted || r.Category == VerdictAlreadyGone
}

type Module struct {
	store  *storage.Store
	audit  audit.Recorder
	logger *zap.Logger
	cfg    Config
	clock  utils.Clock

	mu       sync.Mutex
	guilds   map[string]*sync.Mutex
	notified map[string]struct{}
}

func New(store *storage.Store, auditLog audit.Recorder, logger *zap.Logger, cfg Config) *Module {
	return &Module{
		store:    store,
		audit:    auditLog,
		logger:   logger,
		cfg:      cfg,
		clock:    utils.RealClock{},
		guilds:   make(map[string]*sync.Mutex),
		notified: make(map[string]struct{}),
	}
}

func (m *Module) WithClock(clock utils.Clock) *Module {
	m.clock = clock
	return m
}

func (m *Module) guildLock(guildID string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	lock := m.guilds[guildID]
	if lock == nil {
		lock = &sync.Mutex{}
		m.guilds[guildID] = lock
	}
	return lock
}

// lockGuild takes the guild's registry lock and returns its release.
func (m *Module) lockGuild(guildID string) func() {
	lock := m.guildLock(guildID)
	lock.Lock()
	return lock.Unlock
}

// HandleMessage runs the channel gate and the category gate for msg. The two gates are
// evaluated independently. Timestamps are read and written under the guild lock, deletions
// and DMs happen after it is released.
func (m *Module) HandleMessage(ctx context.Context, session Session, msg *discordgo.Message, mc MessageContext) Result {
	if msg == nil || msg.GuildID == "" || msg.Author == nil {
		return Result{Skipped: true}
	}
	p, ok := m.evaluate(ctx, msg, mc)
	if !ok {
		return Result{Skipped: true}
	}
	if p.channel != nil {
		p.result.Channel = m.enforce(ctx, session, msg, mc, p.settings, *p.channel, false)
	}
	if p.category != nil {
		p.result.Category = m.enforce(ctx, session, msg, mc, p.settings, *p.category, p.result.Channel == VerdictDeleted)
	}
	return p.result
}

// hit is a message sent while its author was still on cooldown.
type hit struct {
	scope   string
	entry   storage.CooldownEntry
	elapsed int64
}

type pending struct {
	settings storage.CooldownSettings
	result   Result
	channel  *hit
	category *hit
}

func (m *Module) evaluate(ctx context.Context, msg *discordgo.Message, mc MessageContext) (pending, bool) {
	defer m.lockGuild(msg.GuildID)()

	settings, err := m.Settings(ctx, msg.GuildID)
	if err != nil {
		m.logger.Warn("cooldown settings", zap.String("guild_id", msg.GuildID), zap.Error(err))
		return pending{}, false
	}
	exempt, err := m.exempt(ctx, settings, msg)
	if err != nil {
		m.logger.Warn("cooldown ignore lists", zap.String("guild_id", msg.GuildID), zap.Error(err))
		return pending{}, false
	}
	if exempt {
		return pending{}, false
	}

	p := pending{settings: settings}
	entry, ok, err := m.store.GetCooldownChannel(ctx, msg.GuildID, msg.ChannelID)
	if err != nil {
		m.logger.Warn("cooldown channel lookup", zap.String("guild_id", msg.GuildID), zap.Error(err))
	} else if ok {
		p.result.Channel, p.channel = m.check(ctx, msg, storage.ScopeChannel, entry)
	}

	if mc.Category != nil {
		entry, ok, err := m.store.GetCooldownCategory(ctx, msg.GuildID, mc.Category.ID)
		if err != nil {
			m.logger.Warn("cooldown category lookup", zap.String("guild_id", msg.GuildID), zap.Error(err))
		} else if ok && contains(entry.Channels, msg.ChannelID) {
			p.result.Category, p.category = m.check(ctx, msg, storage.ScopeCategory, entry)
		}
	}
	return p, true
}

func (m *Module) exempt(ctx context.Context, settings storage.CooldownSettings, msg *discordgo.Message) (bool, error) {
	if settings.IgnoreBot && msg.Author.Bot {
		return true, nil
	}
	users, err := m.store.ListIgnoredUsers(ctx, msg.GuildID)
	if err != nil {
		return false, err
	}
	if contains(users, msg.Author.ID) {
		return true, nil
	}
	if msg.Member == nil || len(msg.Member.Roles) == 0 {
		return false, nil
	}
	roles, err := m.store.ListIgnoredRoles(ctx, msg.GuildID)
	if err != nil {
		return false, err
	}
	for _, role := range msg.Member.Roles {
		if contains(roles, role) {
			return true, nil
		}
	}
	return false, nil
}

// check records the message when its author is out of cooldown and returns a hit otherwise.
func (m *Module) check(ctx context.Context, msg *discordgo.Message, scope string, entry storage.CooldownEntry) (Verdict, *hit) {
	now := m.clock.Now().Unix()
	userID := msg.Author.ID

	last, ok, err := m.store.GetCooldownTimestamp(ctx, msg.GuildID, scope, entry.TargetID, userID)
	if err != nil {
		m.logger.Warn("cooldown timestamp lookup", zap.String("guild_id", msg.GuildID), zap.Error(err))
		return VerdictNone, nil
	}
	if !ok {
		m.record(ctx, msg.GuildID, scope, entry.TargetID, userID, now)
		return VerdictRecorded, nil
	}

	elapsed := now - last.Unix()
	if elapsed > entry.Seconds {
		m.record(ctx, msg.GuildID, scope, entry.TargetID, userID, now)
		return VerdictAllowed, nil
	}
	return VerdictNone, &hit{scope: scope, entry: entry, elapsed: elapsed}
}

func (m *Module) enforce(ctx context.Context, session Session, msg *discordgo.Message, mc MessageContext, settings storage.CooldownSettings, h hit, alreadyDeleted bool) Verdict {
	userID := msg.Author.ID
	verdict := VerdictAlreadyGone
	if !alreadyDeleted {
		verdict = VerdictDeleted
		if err := session.ChannelMessageDelete(msg.ChannelID, msg.ID); err != nil {
			verdict = VerdictDeleteFailed
			m.logger.Warn("cooldown delete failed", zap.String("guild_id", msg.GuildID), zap.String("channel_id", msg.ChannelID), zap.Error(err))
		}
	}

	if settings.SendDM && !msg.Author.Bot {
		remaining := time.Duration(h.entry.Seconds-h.elapsed) * time.Second
		m.directMessage(session, userID, m.render(settings, h.scope, msg, mc, remaining))
	}
	if verdict == VerdictDeleteFailed {
		m.notifyOwner(session, mc.OwnerID, msg.ChannelID)
	} else {
		m.audit.Log(ctx, audit.LevelInfo, msg.GuildID, userID, audit.EventCooldownDeleted, fmt.Sprintf("scope=%s target=%s", h.scope, h.entry.TargetID))
	}
	return verdict
}

func (m *Module) record(ctx context.Context, guildID, scope, targetID, userID string, now int64) {
	if err := m.store.SetCooldownTimestamp(ctx, guildID, scope, targetID, userID, time.Unix(now, 0)); err != nil {
		m.logger.Warn("cooldown record failed", zap.String("guild_id", guildID), zap.String("scope", scope), zap.Error(err))
	}
}

func (m *Module) render(settings storage.CooldownSettings, scope string, msg *discordgo.Message, mc MessageContext, remaining time.Duration) string {
	template := ChannelMessage(settings)
	if scope == storage.ScopeCategory {
		template = CategoryMessage(settings)
	}
	channel := "<#" + msg.ChannelID + ">"
	category := "this category"
	if mc.Category != nil && mc.Category.Name != "" {
		category = mc.Category.Name
	}
	replacer := strings.NewReplacer(
		"{time}", utils.HumanizeDuration(remaining),
		"{channel}", channel,
		"{category}", category,
		"{member}", msg.Author.Username,
	)
	return replacer.Replace(template)
}

func ChannelMessage(settings storage.CooldownSettings) string {
	if settings.ChannelMessage == "" {
		return DefaultChannelMessage
	}
	return settings.ChannelMessage
}

func CategoryMessage(settings storage.CooldownSettings) string {
	if settings.CategoryMessage == "" {
		return DefaultCategoryMessage
	}
	return settings.CategoryMessage
}

func (m *Module) directMessage(session Session, userID, content string) {
	dm, err := session.UserChannelCreate(userID)
	if err != nil {
		return
	}
	if _, err := session.ChannelMessageSend(dm.ID, content); err != nil {
		m.logger.Debug("cooldown dm not delivered", zap.String("user_id", userID), zap.Error(err))
	}
}

// notifyOwner tells the guild owner once per process that deletions are failing.
func (m *Module) notifyOwner(session Session, ownerID, channelID string) {
	if ownerID == "" {
		return
	}
	m.mu.Lock()
	if _, done := m.notified[ownerID]; done {
		m.mu.Unlock()
		return
	}
	m.notified[ownerID] = struct{}{}
	m.mu.Unlock()

	m.directMessage(session, ownerID, ownerNotice("<#"+channelID+">"))
}

func (m *Module) forgetOwner(ownerID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.notified, ownerID)
}

// Close drops the in-process caches.
func (m *Module) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.notified = make(map[string]struct{})
	m.guilds = make(map[string]*sync.Mutex)
}

func contains(values []string, target string) bool {
	for _, value := range values {
		if value == target {
			return true
		}
	}
	return false
}

var (
	ErrZeroDuration      = errors.New("cooldown duration must be greater than zero")
	ErrAlreadyRegistered = errors.New("already registered")
	ErrNotRegistered     = errors.New("not registered")
	ErrNotOnCooldown     = errors.New("user is not on cooldown")
	ErrNotCategory       = errors.New("channel is not a category")
)
