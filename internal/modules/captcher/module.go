package captcher

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

var (
	ErrNoVerificationChannel = errors.New("no verification channel configured")
	ErrNoTempRole            = errors.New("no temporary role configured")
	ErrNoGiveRole            = errors.New("no role to give configured")
	ErrMissingPermissions    = errors.New("missing permissions")
	ErrBotMember             = errors.New("bots cannot be challenged")
	ErrAlreadyChallenged     = errors.New("member already has a running challenge")
	ErrUnknownMethod         = errors.New("unknown role method")
)

// Session is the part of the Discord session the verification flow uses.
type Session interface {
	ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelMessageDelete(channelID, messageID string, options ...discordgo.RequestOption) error
	GuildMemberRoleAdd(guildID, userID, roleID string, options ...discordgo.RequestOption) error
	GuildMemberRoleRemove(guildID, userID, roleID string, options ...discordgo.RequestOption) error
	GuildMemberDeleteWithReason(guildID, userID, reason string, options ...discordgo.RequestOption) error
	UserChannelCreate(recipientID string, options ...discordgo.RequestOption) (*discordgo.Channel, error)
	ChannelPermissionSet(channelID, targetID string, targetType discordgo.PermissionOverwriteType, allow, deny int64, options ...discordgo.RequestOption) error
	ChannelPermissionDelete(channelID, targetID string, options ...discordgo.RequestOption) error
	UserChannelPermissions(userID, channelID string, fetchOptions ...discordgo.RequestOption) (int64, error)
	Guild(guildID string, options ...discordgo.RequestOption) (*discordgo.Guild, error)
}

type Waiter interface {
	WaitFor(ctx context.Context, timeout time.Duration, match utils.MessageFilter) (*discordgo.Message, error)
}

type Config struct {
	Timeout      time.Duration
	ResultLinger time.Duration
	ImageWidth   int
	ImageHeight  int
}

// Method selects what happens to a member's roles on a manual re-challenge.
type Method string

const (
	MethodAll        Method = "all"
	MethodConfigured Method = "configured"
	MethodNone       Method = "none"
)

func ParseMethod(value string) (Method, error) {
	switch Method(strings.ToLower(strings.TrimSpace(value))) {
	case MethodAll, "1":
		return MethodAll, nil
	case MethodConfigured, "2":
		return MethodConfigured, nil
	case MethodNone, "3", "":
		return MethodNone, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownMethod, value)
}

type Module struct {
	store   *storage.Store
	audit   audit.Recorder
	waiter  Waiter
	logger  *zap.Logger
	cfg     Config
	clock   utils.Clock
	newCode func() (string, error)

	mu        sync.Mutex
	botUserID string
	logCache  map[string]string
	running   map[string]struct{}
}

func New(store *storage.Store, auditLog audit.Recorder, waiter Waiter, logger *zap.Logger, cfg Config) *Module {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Minute
	}
	if cfg.ImageWidth <= 0 {
		cfg.ImageWidth = 280
	}
	if cfg.ImageHeight <= 0 {
		cfg.ImageHeight = 90
	}
	return &Module{
		store:    store,
		audit:    auditLog,
		waiter:   waiter,
		logger:   logger,
		cfg:      cfg,
		clock:    utils.RealClock{},
		newCode:  GenerateCode,
		logCache: make(map[string]string),
		running:  make(map[string]struct{}),
	}
}

func (m *Module) WithClock(clock utils.Clock) *Module {
	m.clock = clock
	return m
}

// SetBotUser records the bot's own user id, used for permission checks and mod cases.
func (m *Module) SetBotUser(userID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.botUserID = userID
}

func (m *Module) botUser() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.botUserID
}

func (m *Module) Settings(ctx context.Context, guildID string) (storage.CaptcherSettings, error) {
	return m.store.GetCaptcherSettings(ctx, guildID)
}

func (m *Module) SetGiveRole(ctx context.Context, guildID, roleID string) (storage.CaptcherSettings, error) {
	return m.update(ctx, guildID, func(s *storage.CaptcherSettings) error {
		s.GiveRoleID = roleID
		return nil
	})
}

func (m *Module) SetTempRole(ctx context.Context, guildID, roleID string) (storage.CaptcherSettings, error) {
	return m.update(ctx, guildID, func(s *storage.CaptcherSettings) error {
		s.TempRoleID = roleID
		return nil
	})
}

// SetVerificationChannel stores the channel after a permission check. An empty id clears it.
func (m *Module) SetVerificationChannel(ctx context.Context, session Session, guildID, channelID string) (storage.CaptcherSettings, error) {
	if channelID != "" {
		if err := m.requirePermissions(ctx, session, guildID, channelID); err != nil {
			return storage.CaptcherSettings{}, err
		}
	}
	return m.update(ctx, guildID, func(s *storage.CaptcherSettings) error {
		s.VerificationChannelID = channelID
		return nil
	})
}

// SetLogsChannel stores the channel after a permission check. An empty id clears it.
func (m *Module) SetLogsChannel(ctx context.Context, session Session, guildID, channelID string) (storage.CaptcherSettings, error) {
	if channelID != "" {
		if err := m.requirePermissions(ctx, session, guildID, channelID); err != nil {
			return storage.CaptcherSettings{}, err
		}
	}
	settings, err := m.update(ctx, guildID, func(s *storage.CaptcherSettings) error {
		s.LogsChannelID = channelID
		return nil
	})
	if err == nil {
		m.forgetLogChannels(guildID)
	}
	return settings, err
}

// Activate turns the join flow on or off. Turning it on needs a verification channel the
// bot can work in and a temporary role.
func (m *Module) Activate(ctx context.Context, session Session, guildID string, enabled bool) (storage.CaptcherSettings, error) {
	if !enabled {
		return m.update(ctx, guildID, func(s *storage.CaptcherSettings) error {
			s.Active = false
			return nil
		})
	}

	settings, err := m.store.GetCaptcherSettings(ctx, guildID)
	if err != nil {
		return storage.CaptcherSettings{}, err
	}
	if settings.VerificationChannelID == "" {
		return settings, ErrNoVerificationChannel
	}
	if err := m.requirePermissions(ctx, session, guildID, settings.VerificationChannelID); err != nil {
		return settings, err
	}
	if settings.TempRoleID == "" {
		return settings, ErrNoTempRole
	}
	return m.update(ctx, guildID, func(s *storage.CaptcherSettings) error {
		s.Active = true
		return nil
	})
}

// CheckPermissions lists what the bot lacks in channelID. An empty list means it passed.
func (m *Module) CheckPermissions(session Session, channelID string) ([]string, error) {
	botID := m.botUser()
	if botID == "" {
		return nil, errors.New("bot user unknown")
	}
	perms, err := session.UserChannelPermissions(botID, channelID)
	if err != nil {
		return nil, fmt.Errorf("read permissions: %w", err)
	}
	if perms&discordgo.PermissionAdministrator != 0 {
		return nil, nil
	}
	var missing []string
	if perms&discordgo.PermissionViewChannel == 0 {
		missing = append(missing, fmt.Sprintf("I require the Read Messages permission in <#%s> to work.", channelID))
	}
	if perms&discordgo.PermissionManageMessages == 0 {
		missing = append(missing, fmt.Sprintf("I require the Manage Messages permission in <#%s> to work properly.", channelID))
	}
	if perms&discordgo.PermissionManageRoles == 0 {
		missing = append(missing, "I require the Manage Roles permission in this server to work properly.")
	}
	return missing, nil
}

// PermissionError carries the human readable list of missing permissions.
type PermissionError struct {
	Missing []string
}

func (e *PermissionError) Error() string {
	plural := ""
	if len(e.Missing) > 1 {
		plural = "s"
	}
	return fmt.Sprintf("**Missing permission%s:**\n%s", plural, strings.Join(e.Missing, "\n"))
}

func (e *PermissionError) Unwrap() error { return ErrMissingPermissions }

// requirePermissions fails with a PermissionError and switches the guild off when the bot
// lacks something in channelID.
func (m *Module) requirePermissions(ctx context.Context, session Session, guildID, channelID string) error {
	missing, err := m.CheckPermissions(session, channelID)
	if err != nil {
		return err
	}
	if len(missing) == 0 {
		return nil
	}
	if _, err := m.update(ctx, guildID, func(s *storage.CaptcherSettings) error {
		s.Active = false
		return nil
	}); err != nil {
		m.logger.Warn("captcher deactivate failed", zap.String("guild_id", guildID), zap.Error(err))
	}
	return &PermissionError{Missing: missing}
}

func (m *Module) update(ctx context.Context, guildID string, mutate func(*storage.CaptcherSettings) error) (storage.CaptcherSettings, error) {
	settings, err := m.store.GetCaptcherSettings(ctx, guildID)
	if err != nil {
		return storage.CaptcherSettings{}, err
	}
	if err := mutate(&settings); err != nil {
		return settings, err
	}
	settings.GuildID = guildID
	if err := m.store.UpsertCaptcherSettings(ctx, settings); err != nil {
		return settings, err
	}
	m.audit.Log(ctx, audit.LevelInfo, guildID, "", audit.EventCaptcherSettings, describeSettings(settings))
	return settings, nil
}

func describeSettings(s storage.CaptcherSettings) string {
	return fmt.Sprintf("give_role=%s temp_role=%s channel=%s logs=%s active=%t",
		s.GiveRoleID, s.TempRoleID, s.VerificationChannelID, s.LogsChannelID, s.Active)
}

// HandleJoin challenges a new member when the guild has the flow switched on.
func (m *Module) HandleJoin(ctx context.Context, session Session, member *discordgo.Member) {
	if member == nil || member.User == nil || member.User.Bot {
		return
	}
	settings, err := m.store.GetCaptcherSettings(ctx, member.GuildID)
	if err != nil {
		m.logger.Error("captcher settings", zap.String("guild_id", member.GuildID), zap.Error(err))
		return
	}
	if !settings.Active {
		return
	}
	if settings.VerificationChannelID == "" {
		m.logger.Error("no verification channel, captcher is aborting", zap.String("guild_id", member.GuildID))
		return
	}
	if _, err := m.Challenge(ctx, session, member, settings.VerificationChannelID, "Joined the server."); err != nil {
		m.logger.Warn("challenge ended with error",
			zap.String("guild_id", member.GuildID),
			zap.String("user_id", member.User.ID),
			zap.Error(err),
		)
	}
}

// Rechallenge makes an existing member pass the verification again.
func (m *Module) Rechallenge(ctx context.Context, session Session, member *discordgo.Member, method Method, actor string) (Outcome, error) {
	if member == nil || member.User == nil {
		return OutcomeAborted, errors.New("member required")
	}
	if member.User.Bot {
		return OutcomeAborted, ErrBotMember
	}
	settings, err := m.store.GetCaptcherSettings(ctx, member.GuildID)
	if err != nil {
		return OutcomeAborted, err
	}
	if settings.VerificationChannelID == "" {
		return OutcomeAborted, ErrNoVerificationChannel
	}

	if !m.claim(member) {
		return OutcomeAborted, ErrAlreadyChallenged
	}
	defer m.release(member)

	var removed []string
	switch method {
	case MethodAll:
		for _, roleID := range member.Roles {
			if err := session.GuildMemberRoleRemove(member.GuildID, member.User.ID, roleID); err != nil {
				m.report(ctx, session, member, levelError, fmt.Sprintf("Cannot remove role %s from %s: %v", roleID, memberName(member), err))
				continue
			}
			removed = append(removed, roleID)
		}
	case MethodConfigured:
		if settings.GiveRoleID == "" {
			return OutcomeAborted, ErrNoGiveRole
		}
		if err := session.GuildMemberRoleRemove(member.GuildID, member.User.ID, settings.GiveRoleID); err != nil {
			m.report(ctx, session, member, levelError, fmt.Sprintf("Cannot remove configured role from %s: %v", memberName(member), err))
		} else {
			removed = append(removed, settings.GiveRoleID)
		}
	case MethodNone:
	default:
		return OutcomeAborted, fmt.Errorf("%w: %q", ErrUnknownMethod, method)
	}

	reason := fmt.Sprintf("%s challenged manually by %s.", memberName(member), actor)
	outcome, err := m.run(ctx, session, member, settings.VerificationChannelID, reason)
	// A passed member gets the configured role from the session itself. An aborted session
	// gives back everything that was taken.
	if outcome == OutcomeAborted || (outcome == OutcomePassed && method == MethodAll) {
		m.restoreRoles(ctx, session, member, removed, settings.TempRoleID)
	}
	return outcome, err
}

func (m *Module) restoreRoles(ctx context.Context, session Session, member *discordgo.Member, roles []string, tempRoleID string) {
	for _, roleID := range roles {
		if roleID == tempRoleID {
			continue
		}
		if err := session.GuildMemberRoleAdd(member.GuildID, member.User.ID, roleID); err != nil {
			m.report(ctx, session, member, levelError, fmt.Sprintf("Cannot give back role %s to %s: %v", roleID, memberName(member), err))
		}
	}
}

func memberName(member *discordgo.Member) string {
	if member.User == nil {
		return "unknown member"
	}
	return member.User.String()
}

func memberKey(guildID, userID string) string {
	return guildID + ":" + userID
}

func (m *Module) claim(member *discordgo.Member) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := memberKey(member.GuildID, member.User.ID)
	if _, busy := m.running[key]; busy {
		return false
	}
	m.running[key] = struct{}{}
	return true
}

func (m *Module) release(member *discordgo.Member) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := memberKey(member.GuildID, member.User.ID)
	delete(m.running, key)
	delete(m.logCache, key)
}

func (m *Module) forgetLogChannels(guildID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	prefix := guildID + ":"
	for key := range m.logCache {
		if strings.HasPrefix(key, prefix) {
			delete(m.logCache, key)
		}
	}
}

// Running reports whether the member is in the middle of a challenge.
func (m *Module) Running(guildID, userID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.running[memberKey(guildID, userID)]
	return ok
}
