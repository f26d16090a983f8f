package cooldown

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/stefmmm/Predeactor-Cogs/internal/modules/audit"
	"github.com/stefmmm/Predeactor-Cogs/internal/storage"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

// ResetKeyword restores the default template when given to SetChannelMessage or SetCategoryMessage.
const ResetKeyword = "none"

func (m *Module) Settings(ctx context.Context, guildID string) (storage.CooldownSettings, error) {
	return m.store.GetCooldownSettings(ctx, guildID, storage.CooldownSettings{
		SendDM:    m.cfg.DefaultSendDM,
		IgnoreBot: m.cfg.DefaultIgnoreBot,
	})
}

func (m *Module) updateSettings(ctx context.Context, guildID, actorID string, apply func(*storage.CooldownSettings)) (storage.CooldownSettings, error) {
	defer m.lockGuild(guildID)()
	settings, err := m.Settings(ctx, guildID)
	if err != nil {
		return storage.CooldownSettings{}, err
	}
	apply(&settings)
	if err := m.store.UpsertCooldownSettings(ctx, settings); err != nil {
		return storage.CooldownSettings{}, err
	}
	m.audit.Log(ctx, audit.LevelInfo, guildID, actorID, audit.EventCooldownConfig,
		fmt.Sprintf("send_dm=%t ignore_bot=%t", settings.SendDM, settings.IgnoreBot))
	return settings, nil
}

func seconds(d time.Duration) (int64, error) {
	secs := int64(d / time.Second)
	if secs <= 0 {
		return 0, ErrZeroDuration
	}
	return secs, nil
}

func (m *Module) AddChannel(ctx context.Context, guildID, channelID string, d time.Duration) error {
	defer m.lockGuild(guildID)()
	secs, err := seconds(d)
	if err != nil {
		return err
	}
	_, ok, err := m.store.GetCooldownChannel(ctx, guildID, channelID)
	if err != nil {
		return err
	}
	if ok {
		return ErrAlreadyRegistered
	}
	if err := m.store.UpsertCooldownChannel(ctx, guildID, channelID, secs); err != nil {
		return err
	}
	m.logger.Info("cooldown channel added", zap.String("guild_id", guildID), zap.String("channel_id", channelID), zap.Int64("seconds", secs))
	return nil
}

// EditChannel changes the duration of a registered channel. Recorded timestamps are dropped.
func (m *Module) EditChannel(ctx context.Context, guildID, channelID string, d time.Duration) error {
	defer m.lockGuild(guildID)()
	secs, err := seconds(d)
	if err != nil {
		return err
	}
	_, ok, err := m.store.GetCooldownChannel(ctx, guildID, channelID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotRegistered
	}
	return m.store.UpsertCooldownChannel(ctx, guildID, channelID, secs)
}

func (m *Module) DeleteChannel(ctx context.Context, guildID, channelID string) error {
	defer m.lockGuild(guildID)()
	removed, err := m.store.DeleteCooldownChannel(ctx, guildID, channelID)
	if err != nil {
		return err
	}
	if !removed {
		return ErrNotRegistered
	}
	return nil
}

func (m *Module) ListChannels(ctx context.Context, guildID string) ([]storage.CooldownEntry, error) {
	return m.store.ListCooldownChannels(ctx, guildID)
}

// AddCategory registers a category with a snapshot of its current children. Channels
// created later are picked up by SyncChannel or UpdateCategory.
func (m *Module) AddCategory(ctx context.Context, guildID string, category *discordgo.Channel, children []string, d time.Duration) error {
	defer m.lockGuild(guildID)()
	if category == nil || category.Type != discordgo.ChannelTypeGuildCategory {
		return ErrNotCategory
	}
	secs, err := seconds(d)
	if err != nil {
		return err
	}
	_, ok, err := m.store.GetCooldownCategory(ctx, guildID, category.ID)
	if err != nil {
		return err
	}
	if ok {
		return ErrAlreadyRegistered
	}
	if err := m.store.UpsertCooldownCategory(ctx, guildID, category.ID, secs, children); err != nil {
		return err
	}
	m.logger.Info("cooldown category added",
		zap.String("guild_id", guildID),
		zap.String("category_id", category.ID),
		zap.Int("channels", len(children)),
		zap.Int64("seconds", secs),
	)
	return nil
}

// EditCategory changes the duration of a registered category, keeping its snapshot.
func (m *Module) EditCategory(ctx context.Context, guildID, categoryID string, d time.Duration) error {
	defer m.lockGuild(guildID)()
	secs, err := seconds(d)
	if err != nil {
		return err
	}
	entry, ok, err := m.store.GetCooldownCategory(ctx, guildID, categoryID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotRegistered
	}
	return m.store.UpsertCooldownCategory(ctx, guildID, categoryID, secs, entry.Channels)
}

// UpdateCategory replaces the channel snapshot of a registered category. Timestamps survive.
func (m *Module) UpdateCategory(ctx context.Context, guildID, categoryID string, children []string) error {
	defer m.lockGuild(guildID)()
	_, ok, err := m.store.GetCooldownCategory(ctx, guildID, categoryID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotRegistered
	}
	return m.store.SetCategoryChannels(ctx, guildID, categoryID, children)
}

func (m *Module) DeleteCategory(ctx context.Context, guildID, categoryID string) error {
	defer m.lockGuild(guildID)()
	removed, err := m.store.DeleteCooldownCategory(ctx, guildID, categoryID)
	if err != nil {
		return err
	}
	if !removed {
		return ErrNotRegistered
	}
	return nil
}

func (m *Module) ListCategories(ctx context.Context, guildID string) ([]storage.CooldownEntry, error) {
	return m.store.ListCooldownCategories(ctx, guildID)
}

// BypassChannel forgets the last message time of userID in a registered channel.
func (m *Module) BypassChannel(ctx context.Context, guildID, channelID, userID string) error {
	return m.bypass(ctx, guildID, storage.ScopeChannel, channelID, userID)
}

func (m *Module) BypassCategory(ctx context.Context, guildID, categoryID, userID string) error {
	return m.bypass(ctx, guildID, storage.ScopeCategory, categoryID, userID)
}

func (m *Module) bypass(ctx context.Context, guildID, scope, targetID, userID string) error {
	defer m.lockGuild(guildID)()
	var (
		ok  bool
		err error
	)
	if scope == storage.ScopeChannel {
		_, ok, err = m.store.GetCooldownChannel(ctx, guildID, targetID)
	} else {
		_, ok, err = m.store.GetCooldownCategory(ctx, guildID, targetID)
	}
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotRegistered
	}
	removed, err := m.store.DeleteCooldownTimestamp(ctx, guildID, scope, targetID, userID)
	if err != nil {
		return err
	}
	if !removed {
		return ErrNotOnCooldown
	}
	return nil
}

func (m *Module) SetSendDM(ctx context.Context, guildID, actorID string, enabled bool) error {
	_, err := m.updateSettings(ctx, guildID, actorID, func(s *storage.CooldownSettings) { s.SendDM = enabled })
	return err
}

func (m *Module) SetIgnoreBot(ctx context.Context, guildID, actorID string, enabled bool) error {
	_, err := m.updateSettings(ctx, guildID, actorID, func(s *storage.CooldownSettings) { s.IgnoreBot = enabled })
	return err
}

// SetChannelMessage replaces the DM template for channel gates. ResetKeyword restores the default.
func (m *Module) SetChannelMessage(ctx context.Context, guildID, actorID, template string) (bool, error) {
	reset := strings.EqualFold(strings.TrimSpace(template), ResetKeyword)
	_, err := m.updateSettings(ctx, guildID, actorID, func(s *storage.CooldownSettings) {
		s.ChannelMessage = template
		if reset {
			s.ChannelMessage = ""
		}
	})
	return reset, err
}

func (m *Module) SetCategoryMessage(ctx context.Context, guildID, actorID, template string) (bool, error) {
	reset := strings.EqualFold(strings.TrimSpace(template), ResetKeyword)
	_, err := m.updateSettings(ctx, guildID, actorID, func(s *storage.CooldownSettings) {
		s.CategoryMessage = template
		if reset {
			s.CategoryMessage = ""
		}
	})
	return reset, err
}

// IgnoreReport splits a batch of ignore list changes by outcome.
type IgnoreReport struct {
	Changed   []string
	Unchanged []string
	Bots      []string
}

// AddIgnoredUsers ignores every non-bot user in users.
func (m *Module) AddIgnoredUsers(ctx context.Context, guildID string, users []*discordgo.User) (IgnoreReport, error) {
	defer m.lockGuild(guildID)()
	var report IgnoreReport
	for _, user := range users {
		if user == nil {
			continue
		}
		if user.Bot {
			report.Bots = append(report.Bots, user.ID)
			continue
		}
		added, err := m.store.AddIgnoredUser(ctx, guildID, user.ID)
		if err != nil {
			return report, err
		}
		report.add(user.ID, added)
	}
	return report, nil
}

func (m *Module) RemoveIgnoredUsers(ctx context.Context, guildID string, userIDs []string) (IgnoreReport, error) {
	defer m.lockGuild(guildID)()
	return m.batch(userIDs, func(id string) (bool, error) { return m.store.RemoveIgnoredUser(ctx, guildID, id) })
}

func (m *Module) ListIgnoredUsers(ctx context.Context, guildID string) ([]string, error) {
	return m.store.ListIgnoredUsers(ctx, guildID)
}

func (m *Module) AddIgnoredRoles(ctx context.Context, guildID string, roleIDs []string) (IgnoreReport, error) {
	defer m.lockGuild(guildID)()
	return m.batch(roleIDs, func(id string) (bool, error) { return m.store.AddIgnoredRole(ctx, guildID, id) })
}

func (m *Module) RemoveIgnoredRoles(ctx context.Context, guildID string, roleIDs []string) (IgnoreReport, error) {
	defer m.lockGuild(guildID)()
	return m.batch(roleIDs, func(id string) (bool, error) { return m.store.RemoveIgnoredRole(ctx, guildID, id) })
}

func (m *Module) ListIgnoredRoles(ctx context.Context, guildID string) ([]string, error) {
	return m.store.ListIgnoredRoles(ctx, guildID)
}

func (m *Module) batch(ids []string, apply func(string) (bool, error)) (IgnoreReport, error) {
	var report IgnoreReport
	for _, id := range ids {
		changed, err := apply(id)
		if err != nil {
			return report, err
		}
		report.add(id, changed)
	}
	return report, nil
}

func (r *IgnoreReport) add(id string, changed bool) {
	if changed {
		r.Changed = append(r.Changed, id)
	} else {
		r.Unchanged = append(r.Unchanged, id)
	}
}

// ResetGuild wipes every cooldown record of the guild. The owner may be told about failing
// deletions again afterwards.
func (m *Module) ResetGuild(ctx context.Context, guildID, actorID, ownerID string) error {
	unlock := m.lockGuild(guildID)
	err := m.store.ResetCooldownGuild(ctx, guildID)
	unlock()
	if err != nil {
		return err
	}
	m.forgetOwner(ownerID)
	m.audit.Log(ctx, audit.LevelWarn, guildID, actorID, audit.EventCooldownConfig, "reset")
	return nil
}

// SyncChannel keeps registrations in line with channel create, update and delete events.
func (m *Module) SyncChannel(ctx context.Context, channel *discordgo.Channel, deleted bool) error {
	if channel == nil || channel.GuildID == "" {
		return nil
	}
	guildID := channel.GuildID
	defer m.lockGuild(guildID)()

	if channel.Type == discordgo.ChannelTypeGuildCategory {
		if deleted {
			_, err := m.store.DeleteCooldownCategory(ctx, guildID, channel.ID)
			return err
		}
		return nil
	}

	if deleted {
		if _, err := m.store.DeleteCooldownChannel(ctx, guildID, channel.ID); err != nil {
			return err
		}
		return m.store.RemoveChannelFromCategories(ctx, guildID, channel.ID, "")
	}

	// A moved channel leaves the snapshot of its former category.
	if err := m.store.RemoveChannelFromCategories(ctx, guildID, channel.ID, channel.ParentID); err != nil {
		return err
	}
	if channel.ParentID == "" {
		return nil
	}
	_, ok, err := m.store.GetCooldownCategory(ctx, guildID, channel.ParentID)
	if err != nil || !ok {
		return err
	}
	return m.store.AddCategoryChannel(ctx, guildID, channel.ParentID, channel.ID)
}
