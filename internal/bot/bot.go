// Package bot is the Discord side of the application: prefix commands, guild lifecycle events and
// the moderation notices published by the watchers.
package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"

	"rpan_bot/internal/config"
	"rpan_bot/internal/events"
	"rpan_bot/internal/index"
	"rpan_bot/internal/model"
	"rpan_bot/internal/reddit"
	"rpan_bot/internal/settings"
)

// WebhookName is the name given to the webhooks created for notification settings.
const WebhookName = "RPANBot Stream Notifications"

// ErrWebhookCreate means Discord refused to create the notification webhook on a channel.
var ErrWebhookCreate = errors.New("could not create webhook")

// Session is the part of discordgo.Session the bot talks to.
type Session interface {
	ChannelMessageSendEmbed(channelID string, embed *discordgo.MessageEmbed, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelMessageEditEmbed(channelID, messageID string, embed *discordgo.MessageEmbed, options ...discordgo.RequestOption) (*discordgo.Message, error)
	MessageReactionAdd(channelID, messageID, emojiID string, options ...discordgo.RequestOption) error
	Channel(channelID string, options ...discordgo.RequestOption) (*discordgo.Channel, error)
	WebhookCreate(channelID, name, avatar string, options ...discordgo.RequestOption) (*discordgo.Webhook, error)
	UserChannelPermissions(userID, channelID string, fetchOptions ...discordgo.RequestOption) (int64, error)
	GuildLeave(guildID string, options ...discordgo.RequestOption) error
}

// Broadcasts is the live broadcast metadata used by the stats commands.
type Broadcasts interface {
	Fetch(ctx context.Context, id string) (model.Broadcast, error)
	FetchWithRetry(ctx context.Context, id string) (model.Broadcast, error)
	TopActive(ctx context.Context, subreddit string) (model.Broadcast, error)
	ActiveByAuthor(ctx context.Context, username string) (model.Broadcast, error)
}

// Reddit is the reddit data used by the stats commands.
type Reddit interface {
	LastBroadcast(ctx context.Context, username string) (model.Submission, error)
	TopBroadcasts(ctx context.Context, period string) ([]reddit.TopBroadcast, string, error)
}

// AdminLog receives lifecycle events for the operators. It may be nil.
type AdminLog interface {
	Log(ctx context.Context, title, description string)
}

// Deps are the collaborators of a Bot.
type Deps struct {
	Settings   *settings.Service
	Index      *index.Index
	Broadcasts Broadcasts
	Reddit     Reddit
	Bus        *events.Bus
	Config     *config.Config
	Admin      AdminLog
}

// Bot is the Discord bot that handles guild commands and posts moderation notices.
type Bot struct {
	session    Session
	discord    *discordgo.Session
	settings   *settings.Service
	index      *index.Index
	broadcasts Broadcasts
	reddit     Reddit
	bus        *events.Bus
	cfg        *config.Config
	admin      AdminLog
	log        *slog.Logger

	confirm          *confirmations
	removeTimeout    time.Duration
	removeAllTimeout time.Duration

	mu     sync.RWMutex
	selfID string
	ready  bool
	guilds map[string]struct{}

	readyOnce sync.Once
	readyCh   chan struct{}
}

// New creates a Bot with the given Discord token.
func New(token string, deps Deps, log *slog.Logger) (*Bot, error) {
	dg, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("create discord session: %w", err)
	}
	dg.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMessages |
		discordgo.IntentsGuildMessageReactions |
		discordgo.IntentsMessageContent

	b := newBot(dg, deps, log)
	b.discord = dg
	return b, nil
}

func newBot(session Session, deps Deps, log *slog.Logger) *Bot {
	return &Bot{
		session:          session,
		settings:         deps.Settings,
		index:            deps.Index,
		broadcasts:       deps.Broadcasts,
		reddit:           deps.Reddit,
		bus:              deps.Bus,
		cfg:              deps.Config,
		admin:            deps.Admin,
		log:              log,
		confirm:          newConfirmations(),
		removeTimeout:    30 * time.Second,
		removeAllTimeout: 10 * time.Second,
		guilds:           make(map[string]struct{}),
		readyCh:          make(chan struct{}),
	}
}

// Session returns the underlying discordgo session, for presence updates.
func (b *Bot) Session() *discordgo.Session {
	return b.discord
}

// Run opens the gateway connection and posts moderation notices until ctx is cancelled.
func (b *Bot) Run(ctx context.Context) error {
	if b.discord != nil {
		b.discord.AddHandler(func(_ *discordgo.Session, r *discordgo.Ready) { b.onReady(r) })
		b.discord.AddHandler(func(_ *discordgo.Session, m *discordgo.MessageCreate) { b.onMessage(ctx, m) })
		b.discord.AddHandler(func(_ *discordgo.Session, g *discordgo.GuildCreate) { b.onGuildCreate(ctx, g) })
		b.discord.AddHandler(func(_ *discordgo.Session, g *discordgo.GuildDelete) { b.onGuildDelete(ctx, g) })
		b.discord.AddHandler(func(_ *discordgo.Session, r *discordgo.MessageReactionAdd) { b.onReaction(r) })

		if err := b.discord.Open(); err != nil {
			return fmt.Errorf("open discord session: %w", err)
		}
		defer func() { _ = b.discord.Close() }()
		b.log.Info("discord session opened")
	}

	notices, unsubscribe := b.bus.Subscribe(events.TopicModNotice)
	defer unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return nil
		case v, ok := <-notices:
			if !ok {
				return nil
			}
			if n, ok := v.(events.ModNotice); ok {
				b.postModNotice(n)
			}
		}
	}
}

// JoinedGuilds returns the guilds the session belongs to. ok is false before the session is ready.
func (b *Bot) JoinedGuilds() ([]string, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if !b.ready {
		return nil, false
	}
	ids := make([]string, 0, len(b.guilds))
	for id := range b.guilds {
		ids = append(ids, id)
	}
	return ids, true
}

// Ready is closed once the session received its first Ready event.
func (b *Bot) Ready() <-chan struct{} {
	return b.readyCh
}

// SetupNotifications provisions a webhook on channelID and stores a notification setting for it.
func (b *Bot) SetupNotifications(ctx context.Context, guildID, channelID, username string, isDev bool) (model.NotificationSetting, error) {
	if _, err := b.settings.CheckSetup(ctx, guildID, channelID, username, isDev); err != nil {
		return model.NotificationSetting{}, err
	}

	ch, err := b.session.Channel(channelID)
	if err != nil || ch.GuildID != guildID {
		return model.NotificationSetting{}, settings.ErrUnknownChannel
	}

	wh, err := b.session.WebhookCreate(channelID, WebhookName, "")
	if err != nil {
		return model.NotificationSetting{}, fmt.Errorf("%w: %w", ErrWebhookCreate, err)
	}

	setting, err := b.settings.Setup(ctx, guildID, channelID, discordgo.EndpointWebhookToken(wh.ID, wh.Token), username, isDev)
	if err != nil {
		return model.NotificationSetting{}, err
	}
	b.log.Info("notification setting created", "guild_id", guildID, "channel_id", channelID, "setting_id", setting.ID)
	return setting, nil
}

func (b *Bot) onReady(r *discordgo.Ready) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.selfID = r.User.ID
	for _, g := range r.Guilds {
		b.guilds[g.ID] = struct{}{}
	}
	b.ready = true
	b.readyOnce.Do(func() { close(b.readyCh) })
	b.log.Info("discord ready", "user", r.User.Username, "guilds", len(r.Guilds))
}

func (b *Bot) onGuildCreate(ctx context.Context, g *discordgo.GuildCreate) {
	excluded, err := b.settings.IsGuildExcluded(ctx, g.ID)
	if err != nil {
		b.log.Error("check guild exclusion", "guild_id", g.ID, "error", err)
	}
	if excluded {
		b.log.Info("leaving excluded guild", "guild_id", g.ID)
		if err := b.session.GuildLeave(g.ID); err != nil {
			b.log.Error("leave excluded guild", "guild_id", g.ID, "error", err)
		}
		return
	}

	b.mu.Lock()
	_, known := b.guilds[g.ID]
	b.guilds[g.ID] = struct{}{}
	ready := b.ready
	b.mu.Unlock()

	// Guild creates for known guilds arrive on every reconnect.
	if ready && !known {
		b.log.Info("joined guild", "guild_id", g.ID, "name", g.Name)
		b.adminLog(ctx, "Guild Joined", fmt.Sprintf("Joined **%s** (``%s``).", g.Name, g.ID))
	}
}

func (b *Bot) onGuildDelete(ctx context.Context, g *discordgo.GuildDelete) {
	// An unavailable guild is an outage, not a removal.
	if g.Unavailable {
		return
	}

	b.mu.Lock()
	delete(b.guilds, g.ID)
	b.mu.Unlock()

	if err := b.settings.EraseGuild(ctx, g.ID); err != nil {
		b.log.Error("erase guild", "guild_id", g.ID, "error", err)
	}
	b.adminLog(ctx, "Guild Left", fmt.Sprintf("Left guild ``%s`` and erased its data.", g.ID))
}

func (b *Bot) adminLog(ctx context.Context, title, description string) {
	if b.admin != nil {
		b.admin.Log(ctx, title, description)
	}
}

func (b *Bot) isJoined(guildID string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.guilds[guildID]
	return ok
}

func (b *Bot) self() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.selfID
}

func (b *Bot) postModNotice(n events.ModNotice) {
	if _, err := b.session.ChannelMessageSendEmbed(n.ChannelID, FormatModItem(n.Item)); err != nil {
		b.log.Error("post mod notice", "channel_id", n.ChannelID, "subreddit", n.Item.Subreddit, "error", err)
	}
}

func (b *Bot) send(channelID string, embed *discordgo.MessageEmbed) *discordgo.Message {
	msg, err := b.session.ChannelMessageSendEmbed(channelID, embed)
	if err != nil {
		b.log.Error("send message", "channel_id", channelID, "error", err)
		return nil
	}
	return msg
}

func (b *Bot) edit(channelID, messageID string, embed *discordgo.MessageEmbed) {
	if _, err := b.session.ChannelMessageEditEmbed(channelID, messageID, embed); err != nil {
		b.log.Error("edit message", "channel_id", channelID, "error", err)
	}
}
