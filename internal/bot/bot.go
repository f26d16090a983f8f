package bot

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/stefmmm/Predeactor-Cogs/internal/analytics"
	"github.com/stefmmm/Predeactor-Cogs/internal/config"
	"github.com/stefmmm/Predeactor-Cogs/internal/modules/audit"
	"github.com/stefmmm/Predeactor-Cogs/internal/modules/captcher"
	"github.com/stefmmm/Predeactor-Cogs/internal/modules/cleverbot"
	"github.com/stefmmm/Predeactor-Cogs/internal/modules/cooldown"
	"github.com/stefmmm/Predeactor-Cogs/internal/modules/coronavirus"
	"github.com/stefmmm/Predeactor-Cogs/internal/modules/counter"
	"github.com/stefmmm/Predeactor-Cogs/internal/modules/lyrics"
	"github.com/stefmmm/Predeactor-Cogs/internal/modules/reputation"
	"github.com/stefmmm/Predeactor-Cogs/internal/modules/shortener"
	"github.com/stefmmm/Predeactor-Cogs/internal/storage"
	"github.com/stefmmm/Predeactor-Cogs/internal/utils"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

const (
	askCooldown        = 3 * time.Second
	confirmTimeout     = 30 * time.Second
	conversationSweep  = 30 * time.Second
	retentionSweepTick = 24 * time.Hour
)

type Bot struct {
	cfg        config.Config
	logger     *zap.Logger
	store      *storage.Store
	audit      *audit.Logger
	analytics  *analytics.Service
	session    *discordgo.Session
	waiter     *utils.Waiter
	captcher   *captcher.Module
	cooldown   *cooldown.Module
	reputation *reputation.Module
	counter    *counter.Counter
	shortener  *shortener.Client
	lyrics     *lyrics.Client
	corona     *coronavirus.Client
	clever     *cleverbot.Service
	handlers   map[string]commandFunc

	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func New(cfg config.Config, logger *zap.Logger, store *storage.Store, auditLogger *audit.Logger, analyticsEngine *analytics.Service, commands *counter.Counter) (*Bot, error) {
	session, err := discordgo.New("Bot " + cfg.DiscordToken)
	if err != nil {
		return nil, err
	}

	session.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMessages |
		discordgo.IntentsGuildMembers |
		discordgo.IntentsDirectMessages |
		discordgo.IntentsMessageContent

	httpClient := &http.Client{Timeout: time.Duration(cfg.HTTPTimeoutSeconds) * time.Second}

	b := &Bot{
		cfg:       cfg,
		logger:    logger,
		store:     store,
		audit:     auditLogger,
		analytics: analyticsEngine,
		session:   session,
		waiter:    utils.NewWaiter(),
		counter:   commands,
		stop:      make(chan struct{}),
	}

	b.captcher = captcher.New(store, auditLogger, b.waiter, logger.Named("captcher"), captcher.Config{
		Timeout:      time.Duration(cfg.Captcher.TimeoutSeconds) * time.Second,
		ResultLinger: time.Duration(cfg.Captcher.ResultLingerSeconds) * time.Second,
		ImageWidth:   cfg.Captcher.ImageWidth,
		ImageHeight:  cfg.Captcher.ImageHeight,
	})
	b.cooldown = cooldown.New(store, auditLogger, logger.Named("cooldown"), cooldown.Config{
		DefaultIgnoreBot: cfg.Cooldown.DefaultIgnoreBot,
		DefaultSendDM:    cfg.Cooldown.DefaultSendDM,
	})
	b.reputation = reputation.New(store, auditLogger, logger.Named("reputation"), reputation.Config{
		Cooldown:      time.Duration(cfg.Reputation.CooldownHours) * time.Hour,
		BoardCooldown: time.Duration(cfg.Reputation.BoardCooldownSeconds) * time.Second,
		PageSize:      cfg.Reputation.PageSize,
	})
	b.shortener = shortener.New(cfg.Shortener.BaseURL, httpClient, logger.Named("shortener"))
	b.lyrics = lyrics.New(context.Background(), cfg.Lyrics.BaseURL, cfg.Lyrics.APIKey, httpClient, logger.Named("lyrics"))
	b.corona = coronavirus.New(cfg.Coronavirus.URL, httpClient)
	b.clever = cleverbot.NewService(
		cleverbot.New(cfg.Cleverbot.URL, cfg.Cleverbot.APIKey, httpClient),
		logger.Named("cleverbot"),
		time.Duration(cfg.Cleverbot.IdleTimeoutSeconds)*time.Second,
		askCooldown,
	)
	b.handlers = b.commandHandlers()
	if auditLogger != nil {
		auditLogger.SetNotifier(b.notifyAudit)
	}

	return b, nil
}

func (b *Bot) Start() error {
	b.session.AddHandler(b.onReady)
	b.session.AddHandler(b.onMessageCreate)
	b.session.AddHandler(b.onGuildMemberAdd)
	b.session.AddHandler(b.onChannelCreate)
	b.session.AddHandler(b.onChannelUpdate)
	b.session.AddHandler(b.onChannelDelete)
	b.session.AddHandler(b.onInteractionCreate)

	if err := b.session.Open(); err != nil {
		return err
	}

	if err := b.registerCommands(); err != nil {
		return err
	}

	b.startLoop("retention", retentionSweepTick, b.sweepAuditLogs)
	b.startLoop("conversations", conversationSweep, b.sweepConversations)

	return nil
}

func (b *Bot) Close(ctx context.Context) {
	b.stopOnce.Do(func() { close(b.stop) })

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
	}

	b.waiter.Close()
	b.clever.Close()
	b.cooldown.Close()
	if b.session != nil {
		_ = b.session.Close()
	}
}

func (b *Bot) startLoop(name string, every time.Duration, run func(context.Context)) {
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		ticker := time.NewTicker(every)
		defer ticker.Stop()
		for {
			select {
			case <-b.stop:
				b.logger.Debug("background loop stopped", zap.String("loop", name))
				return
			case <-ticker.C:
				run(context.Background())
			}
		}
	}()
}

func (b *Bot) sweepAuditLogs(ctx context.Context) {
	removed, err := b.store.CleanupAuditLogs(ctx, b.cfg.RetentionDays)
	if err != nil {
		b.logger.Warn("audit retention sweep failed", zap.Error(err))
		return
	}
	if removed > 0 {
		b.logger.Info("audit retention sweep", zap.Int64("removed", removed))
	}
}

func (b *Bot) sweepConversations(context.Context) {
	for _, expired := range b.clever.Sweep() {
		content := "<@" + expired.UserID + ">, " + cleverbot.TimeoutMessage()
		if _, err := b.session.ChannelMessageSend(expired.ChannelID, content); err != nil {
			b.logger.Debug("conversation timeout notice", zap.String("channel_id", expired.ChannelID), zap.Error(err))
		}
	}
}

func (b *Bot) onReady(session *discordgo.Session, event *discordgo.Ready) {
	b.captcher.SetBotUser(event.User.ID)
	b.logger.Info("discord ready", zap.String("user", event.User.Username), zap.Int("guilds", len(event.Guilds)))
}

func (b *Bot) onMessageCreate(session *discordgo.Session, event *discordgo.MessageCreate) {
	msg := event.Message
	if msg == nil || msg.Author == nil {
		return
	}
	if session.State.User != nil && msg.Author.ID == session.State.User.ID {
		return
	}
	ctx := context.Background()

	consumed := b.waiter.Dispatch(msg) > 0

	if msg.GuildID != "" {
		result := b.cooldown.HandleMessage(ctx, session, msg, b.messageContext(session, msg))
		if result.Deleted() {
			return
		}
	}

	if consumed || msg.Author.Bot {
		return
	}
	reply, handled := b.clever.Handle(ctx, msg.ChannelID, msg.Author.ID, msg.Author.Mention(), msg.Content)
	if !handled {
		return
	}
	if _, err := session.ChannelMessageSend(msg.ChannelID, reply); err != nil {
		b.logger.Warn("conversation reply failed", zap.String("channel_id", msg.ChannelID), zap.Error(err))
	}
}

// messageContext looks up the channel, its category and the guild owner in the state cache.
func (b *Bot) messageContext(session *discordgo.Session, msg *discordgo.Message) cooldown.MessageContext {
	var mc cooldown.MessageContext
	channel, err := session.State.Channel(msg.ChannelID)
	if err != nil {
		return mc
	}
	mc.Channel = channel
	if channel.ParentID != "" {
		if parent, err := session.State.Channel(channel.ParentID); err == nil && parent.Type == discordgo.ChannelTypeGuildCategory {
			mc.Category = parent
		}
	}
	if guild, err := session.State.Guild(msg.GuildID); err == nil {
		mc.OwnerID = guild.OwnerID
	}
	return mc
}

func (b *Bot) onGuildMemberAdd(session *discordgo.Session, event *discordgo.GuildMemberAdd) {
	if event.Member == nil {
		return
	}
	b.captcher.HandleJoin(context.Background(), session, event.Member)
}

func (b *Bot) onChannelCreate(session *discordgo.Session, event *discordgo.ChannelCreate) {
	b.syncChannel(event.Channel, false)
}

func (b *Bot) onChannelUpdate(session *discordgo.Session, event *discordgo.ChannelUpdate) {
	b.syncChannel(event.Channel, false)
}

func (b *Bot) onChannelDelete(session *discordgo.Session, event *discordgo.ChannelDelete) {
	b.syncChannel(event.Channel, true)
}

func (b *Bot) syncChannel(channel *discordgo.Channel, deleted bool) {
	if err := b.cooldown.SyncChannel(context.Background(), channel, deleted); err != nil {
		b.logger.Warn("cooldown channel sync failed", zap.String("channel_id", channel.ID), zap.Bool("deleted", deleted), zap.Error(err))
	}
}

// categoryChildren lists the non category channels whose parent is categoryID.
func categoryChildren(guild *discordgo.Guild, categoryID string) []string {
	if guild == nil {
		return nil
	}
	var children []string
	for _, channel := range guild.Channels {
		if channel == nil || channel.ParentID != categoryID || channel.Type == discordgo.ChannelTypeGuildCategory {
			continue
		}
		children = append(children, channel.ID)
	}
	return children
}
