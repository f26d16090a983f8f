package bot

import (
	"context"
	"strings"
	"time"

	"github.com/stefmmm/Predeactor-Cogs/internal/modules/audit"
	"github.com/stefmmm/Predeactor-Cogs/internal/storage"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

const colorWarn = 0xF1C40F

// notifyAudit posts warnings to the guild's captcher logs channel. Captcha events are skipped,
// the captcher narrates those itself.
func (b *Bot) notifyAudit(ctx context.Context, entry storage.AuditLog) {
	embed, ok := auditEmbed(entry)
	if !ok {
		return
	}
	settings, err := b.captcher.Settings(ctx, entry.GuildID)
	if err != nil {
		b.logger.Warn("audit notify settings", zap.String("guild_id", entry.GuildID), zap.Error(err))
		return
	}
	if settings.LogsChannelID == "" {
		return
	}
	if _, err := b.session.ChannelMessageSendEmbed(settings.LogsChannelID, embed); err != nil {
		b.logger.Warn("audit notify failed", zap.String("guild_id", entry.GuildID), zap.String("event", entry.Event), zap.Error(err))
	}
}

func auditEmbed(entry storage.AuditLog) (*discordgo.MessageEmbed, bool) {
	if entry.GuildID == "" || entry.Level == audit.LevelInfo || strings.HasPrefix(entry.Event, "captcha_") {
		return nil, false
	}
	color := colorWarn
	if entry.Level == audit.LevelCrit {
		color = colorError
	}
	fields := []*discordgo.MessageEmbedField{{Name: "Event", Value: entry.Event, Inline: true}}
	if entry.UserID != "" {
		fields = append(fields, &discordgo.MessageEmbedField{Name: "By", Value: "<@" + entry.UserID + ">", Inline: true})
	}
	details := entry.Details
	if details == "" {
		details = "-"
	}
	embed := commandEmbed(entry.Level, details, color, fields)
	embed.Timestamp = entry.CreatedAt.UTC().Format(time.RFC3339)
	return embed, true
}
