package audit

import (
	"context"

	"github.com/stefmmm/Predeactor-Cogs/internal/storage"
	"github.com/stefmmm/Predeactor-Cogs/internal/utils"

	"go.uber.org/zap"
)

const (
	LevelInfo = "INFO"
	LevelWarn = "WARN"
	LevelCrit = "CRIT"
)

const (
	EventCaptchaStarted   = "captcha_started"
	EventCaptchaPassed    = "captcha_passed"
	EventCaptchaFailed    = "captcha_failed"
	EventCaptchaError     = "captcha_error"
	EventCaptcherSettings = "captcher_settings"
	EventCooldownDeleted  = "cooldown_deleted"
	EventCooldownConfig   = "cooldown_config"
	EventReputationGiven  = "reputation_given"
)

// Recorder is what the cog modules need from the audit trail.
type Recorder interface {
	Log(ctx context.Context, level, guildID, userID, event, details string)
}

type Logger struct {
	store  *storage.Store
	logger *zap.Logger
	clock  utils.Clock
	notify func(context.Context, storage.AuditLog)
}

func NewLogger(store *storage.Store, logger *zap.Logger) *Logger {
	return &Logger{store: store, logger: logger, clock: utils.RealClock{}}
}

func (l *Logger) SetClock(clock utils.Clock) {
	l.clock = clock
}

func (l *Logger) SetNotifier(notify func(context.Context, storage.AuditLog)) {
	l.notify = notify
}

func (l *Logger) Log(ctx context.Context, level, guildID, userID, event, details string) {
	entry := storage.AuditLog{
		GuildID:   guildID,
		UserID:    userID,
		Level:     level,
		Event:     event,
		Details:   details,
		CreatedAt: l.clock.Now(),
	}
	if l.store != nil {
		if err := l.store.AddAuditLog(ctx, entry); err != nil {
			l.logger.Warn("audit store failed", zap.String("event", event), zap.Error(err))
		}
	}
	if l.notify != nil {
		l.notify(ctx, entry)
	}
	l.logger.Info("audit",
		zap.String("level", level),
		zap.String("guild_id", guildID),
		zap.String("user_id", userID),
		zap.String("event", event),
		zap.String("details", details),
	)
}
