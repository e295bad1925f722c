package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/bwmarrin/discordgo"

	"rpan_bot/internal/index"
	"rpan_bot/internal/model"
	"rpan_bot/internal/reddit"
	"rpan_bot/internal/rpan"
	"rpan_bot/internal/settings"
	"rpan_bot/internal/storage"
	"rpan_bot/internal/strapi"
	"rpan_bot/internal/telemetry"
)

// permManageGuild is the Manage Server permission bit.
const permManageGuild int64 = 1 << 5

const (
	titleNotifs    = "Stream Notifications"
	titleSelection = "Stream Notifications · Invalid Selection"
	titlePrefixes  = "Custom Prefixes"
	titleStats     = "Broadcast Statistics"
	titleExclude   = "Exclusions"
	titleDataset   = "Testing Dataset"
)

// commandNames maps every accepted name to its command.
var commandNames = map[string]string{
	"help":     "help",
	"commands": "help",

	"streamnotifs":    "streamnotifs",
	"bn":              "streamnotifs",
	"sn":              "streamnotifs",
	"notifications":   "streamnotifs",
	"broadcastnotifs": "streamnotifs",

	"prefix":       "prefix",
	"prefixes":     "prefix",
	"customprefix": "prefix",

	"streamstats":    "streamstats",
	"stream":         "streamstats",
	"s":              "streamstats",
	"broadcast":      "streamstats",
	"b":              "streamstats",
	"broadcaststats": "streamstats",

	"viewstream":    "viewstream",
	"viewbroadcast": "viewstream",
	"laststream":    "viewstream",
	"broadcaster":   "viewstream",
	"streamer":      "viewstream",

	"topstream":    "topstream",
	"ts":           "topstream",
	"topbroadcast": "topstream",
	"tb":           "topstream",

	"topstreams":    "topstreams",
	"topbroadcasts": "topstreams",

	"exclude":   "exclude",
	"unexclude": "unexclude",
	"dataset":   "dataset",
}

// request is one parsed command message.
type request struct {
	msg    *discordgo.MessageCreate
	args   string
	prefix string
	dev    bool
}

func (r *request) guildID() string { return r.msg.GuildID }

func (b *Bot) onMessage(ctx context.Context, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.Bot || m.Author.ID == b.self() {
		return
	}

	prefixes := b.settings.DefaultPrefixes()
	if m.GuildID != "" {
		p, err := b.settings.Prefixes(ctx, m.GuildID)
		if err != nil {
			b.log.Error("get guild prefixes", "guild_id", m.GuildID, "error", err)
		} else {
			prefixes = p
		}
	}

	inv, ok := ParseInvocation(m.Content, prefixes, b.self())
	if !ok {
		return
	}
	name, ok := commandNames[inv.Name]
	if !ok {
		return
	}

	excluded, err := b.settings.IsUserExcluded(ctx, m.Author.ID)
	if err != nil {
		b.log.Error("check user exclusion", "user_id", m.Author.ID, "error", err)
	}
	if excluded {
		return
	}

	r := &request{
		msg:    m,
		args:   inv.Args,
		prefix: displayPrefix(inv.Prefix, prefixes),
		dev:    b.cfg.IsDeveloper(m.Author.ID),
	}
	telemetry.IncVec(telemetry.Commands, name)
	b.log.Debug("command", "name", name, "guild_id", m.GuildID, "user_id", m.Author.ID)

	switch name {
	case "help":
		b.handleHelp(r)
	case "streamnotifs":
		if b.requireManager(r) {
			b.handleStreamNotifs(ctx, r)
		}
	case "prefix":
		if b.requireManager(r) {
			b.handlePrefix(ctx, r)
		}
	case "streamstats":
		b.handleStreamStats(ctx, r)
	case "viewstream":
		b.handleViewStream(ctx, r)
	case "topstream":
		b.handleTopStream(ctx, r)
	case "topstreams":
		b.handleTopStreams(ctx, r)
	case "exclude", "unexclude":
		if r.dev {
			b.handleExclude(ctx, r, name == "exclude")
		}
	case "dataset":
		if r.dev {
			b.handleDataset(ctx, r)
		}
	}
}

// displayPrefix is the prefix shown in usage hints. A mention is replaced by the guild's first prefix.
func displayPrefix(used string, prefixes []string) string {
	if strings.HasPrefix(used, "<@") && len(prefixes) > 0 {
		return prefixes[0]
	}
	return used
}

func (b *Bot) reply(r *request, embed *discordgo.MessageEmbed) *discordgo.Message {
	return b.send(r.msg.ChannelID, requestedBy(embed, r.msg.Author))
}

// replyOutcome answers with success when err is nil and explains err otherwise.
func (b *Bot) replyOutcome(r *request, title string, err error, success string) {
	if err == nil {
		b.reply(r, newEmbed(title, success))
		return
	}
	if !settings.IsRejected(err) {
		b.log.Error("command failed", "title", title, "guild_id", r.guildID(), "error", err)
	}
	b.reply(r, errorEmbed(title, RejectionText(err)))
}

func (b *Bot) requireManager(r *request) bool {
	if r.guildID() == "" {
		b.reply(r, errorEmbed("Guild Only", "This command can only be used in a guild."))
		return false
	}
	if r.dev {
		return true
	}
	perms, err := b.session.UserChannelPermissions(r.msg.Author.ID, r.msg.ChannelID)
	if err != nil {
		b.log.Error("get member permissions", "guild_id", r.guildID(), "user_id", r.msg.Author.ID, "error", err)
		b.reply(r, errorEmbed("Missing Permissions", RejectionText(err)))
		return false
	}
	if perms&discordgo.PermissionAdministrator != 0 || perms&permManageGuild != 0 {
		return true
	}
	b.reply(r, errorEmbed("Missing Permissions", "You need the Manage Server permission to use this command."))
	return false
}

func (b *Bot) handleHelp(r *request) {
	p := r.prefix
	e := newEmbed("RPANBot Help", fmt.Sprintf("The prefix here is ``%s``. You can also mention the bot.", p))
	e.Fields = []*discordgo.MessageEmbedField{
		field("Stream Notifications", fmt.Sprintf("``%ssn`` lists the notification sub-commands.\nRequires the Manage Server permission.", p), false),
		field("Custom Prefixes", fmt.Sprintf("``%sprefix [set|add|remove|reset] (prefix)``", p), false),
		field("Broadcast Statistics", fmt.Sprintf("``%sstreamstats (link or id)``", p), false),
		field("View Stream", fmt.Sprintf("``%sviewstream (username)``", p), false),
		field("Top Broadcast", fmt.Sprintf("``%stopstream [subreddit]``", p), false),
		field("Top Broadcasts", fmt.Sprintf("``%stopstreams [%s]``", p, strings.Join(reddit.Periods, "|")), false),
	}
	b.reply(r, e)
}

func streamNotifsHelp(p string) *discordgo.MessageEmbed {
	e := newEmbed(titleNotifs, "Sub-commands for managing the stream notification settings of this guild.")
	e.Fields = []*discordgo.MessageEmbedField{
		field("Settings", fmt.Sprintf("``%[1]ssn list``\n``%[1]ssn selected``\n``%[1]ssn select (number or #channel)``", p), false),
		field("Setup", fmt.Sprintf("``%ssn setup #channel [username]``", p), false),
		field("Filters", fmt.Sprintf("``%[1]ssn users [add|remove|clear] (username)``\n``%[1]ssn keywords [add|remove|clear] (keyword)``\n``%[1]ssn subreddits [add|remove|clear] (subreddit)``", p), false),
		field("Custom Text", fmt.Sprintf("``%ssn settext [text]``", p), false),
		field("Removal", fmt.Sprintf("``%[1]ssn remove [number or #channel]``\n``%[1]ssn removeall``", p), false),
	}
	return e
}

func (b *Bot) handleStreamNotifs(ctx context.Context, r *request) {
	sub, args := SplitArgs(r.args)
	switch strings.ToLower(sub) {
	case "list", "settings":
		b.handleSettingList(ctx, r)
	case "selected", "info", "current":
		b.handleSelected(ctx, r)
	case "setup":
		b.handleSetup(ctx, r, args)
	case "select":
		b.handleSelect(ctx, r, args)
	case "users", "usernames", "user", "username":
		b.handleValues(ctx, r, args, b.usernameList(r.dev))
	case "keywords", "keyword":
		b.handleValues(ctx, r, args, b.keywordList())
	case "subreddits", "subreddit", "sub", "subfilter":
		b.handleValues(ctx, r, args, b.subredditList())
	case "settext", "text":
		b.handleSetText(ctx, r, args)
	case "remove", "delete", "del":
		b.handleRemove(ctx, r, args)
	case "removeall", "wipe":
		b.handleRemoveAll(ctx, r)
	default:
		b.reply(r, streamNotifsHelp(r.prefix))
	}
}

func (b *Bot) noSettings(r *request) {
	b.reply(r, errorEmbed(titleSelection, fmt.Sprintf(
		"**No valid setting is currently selected.**\nThis guild has no stream notification settings. Create one with ``%ssn setup #channel``.", r.prefix)))
}

// currentSetting returns the selected setting of the guild, replying when there is none.
func (b *Bot) currentSetting(ctx context.Context, r *request) (model.NotificationSetting, int, bool) {
	setting, local, err := b.index.Current(ctx, r.guildID())
	if errors.Is(err, index.ErrNoSettings) {
		b.noSettings(r)
		return setting, 0, false
	}
	if err != nil {
		b.replyOutcome(r, titleNotifs, err, "")
		return setting, 0, false
	}
	return setting, local, true
}

func (b *Bot) handleSettingList(ctx context.Context, r *request) {
	list, err := b.index.SettingsForGuild(ctx, r.guildID())
	if err != nil {
		b.replyOutcome(r, titleNotifs, err, "")
		return
	}
	if len(list) == 0 {
		b.noSettings(r)
		return
	}
	_, selected, err := b.index.Current(ctx, r.guildID())
	if err != nil {
		b.log.Warn("resolve selection", "guild_id", r.guildID(), "error", err)
	}
	e := FormatSettingList(list, selected)
	e.Description = fmt.Sprintf("Use ``%ssn select (number)`` to change the selected setting.", r.prefix)
	b.reply(r, e)
}

func (b *Bot) handleSelected(ctx context.Context, r *request) {
	setting, local, ok := b.currentSetting(ctx, r)
	if !ok {
		return
	}
	b.reply(r, FormatSelected(setting, local, r.prefix))
}

func (b *Bot) handleSetup(ctx context.Context, r *request, args string) {
	const title = "Stream Notifications · Setup"
	ref, rest := SplitArgs(args)
	if ref == "" {
		b.reply(r, errorEmbed(title, fmt.Sprintf("Usage: ``%ssn setup #channel [username]``", r.prefix)))
		return
	}
	username, _ := SplitArgs(rest)

	setting, err := b.SetupNotifications(ctx, r.guildID(), ParseChannelRef(ref), username, r.dev)
	if err != nil {
		b.replyOutcome(r, title, err, "")
		return
	}

	_, local, err := b.index.Select(ctx, r.guildID(), setting.ChannelID)
	if err != nil {
		b.log.Warn("select new setting", "guild_id", r.guildID(), "channel_id", setting.ChannelID, "error", err)
	}
	e := newEmbed(title, fmt.Sprintf("Created setting **#%d** | <#%s> and selected it for editing.", local, setting.ChannelID))
	e.Fields = []*discordgo.MessageEmbedField{
		field("Usernames", codeList(setting.Usernames), false),
		field("Next", fmt.Sprintf("Add streamers with ``%ssn users add (username)``.", r.prefix), false),
	}
	b.reply(r, e)
}

func (b *Bot) handleSelect(ctx context.Context, r *request, args string) {
	const title = "Stream Notifications · Select"
	ref, _ := SplitArgs(args)
	if ref == "" {
		b.reply(r, errorEmbed(title, fmt.Sprintf("Usage: ``%ssn select (number or #channel)``", r.prefix)))
		return
	}
	setting, local, err := b.index.Select(ctx, r.guildID(), ref)
	if errors.Is(err, index.ErrNotFound) {
		b.reply(r, errorEmbed(title, fmt.Sprintf("That setting could not be found. Use ``%ssn list`` to see the settings of this guild.", r.prefix)))
		return
	}
	b.replyOutcome(r, title, err, fmt.Sprintf("Selected setting **#%d** | <#%s>.", local, setting.ChannelID))
}

// valueList is one of the value sets a setting carries.
type valueList struct {
	title   string
	command string
	noun    string
	// phrase keeps the whole argument instead of its first word.
	phrase bool
	values func(model.NotificationSetting) []string
	add    func(ctx context.Context, settingID int64, v string) (string, error)
	remove func(ctx context.Context, settingID int64, v string) (string, error)
	clear  func(ctx context.Context, settingID int64) error
}

func (b *Bot) usernameList(dev bool) valueList {
	return valueList{
		title:   "Stream Notifications · Usernames",
		command: "users",
		noun:    "username",
		values:  func(s model.NotificationSetting) []string { return s.Usernames },
		add: func(ctx context.Context, id int64, v string) (string, error) {
			return b.settings.AddUsername(ctx, id, v, dev)
		},
		remove: b.settings.RemoveUsername,
		clear:  b.settings.ClearUsernames,
	}
}

func (b *Bot) keywordList() valueList {
	return valueList{
		title:   "Stream Notifications · Keyword Filters",
		command: "keywords",
		noun:    "keyword",
		phrase:  true,
		values:  func(s model.NotificationSetting) []string { return s.KeywordFilters },
		add:     b.settings.AddKeyword,
		remove:  b.settings.RemoveKeyword,
		clear:   b.settings.ClearKeywords,
	}
}

func (b *Bot) subredditList() valueList {
	return valueList{
		title:   "Stream Notifications · Subreddit Filters",
		command: "subreddits",
		noun:    "subreddit",
		values:  func(s model.NotificationSetting) []string { return s.SubredditFilters },
		add:     b.settings.AddSubreddit,
		remove:  b.settings.RemoveSubreddit,
		clear:   b.settings.ClearSubreddits,
	}
}

func (b *Bot) handleValues(ctx context.Context, r *request, args string, list valueList) {
	setting, _, ok := b.currentSetting(ctx, r)
	if !ok {
		return
	}

	action, value := SplitArgs(args)
	if !list.phrase {
		value, _ = SplitArgs(value)
	}
	usage := errorEmbed(list.title, fmt.Sprintf("Usage: ``%ssn %s [add|remove|clear] (%s)``", r.prefix, list.command, list.noun))

	switch strings.ToLower(action) {
	case "":
		b.reply(r, FormatValues(list.title, setting, list.values(setting)))
	case "add":
		if value == "" {
			b.reply(r, usage)
			return
		}
		v, err := list.add(ctx, setting.ID, value)
		b.replyOutcome(r, list.title, err, fmt.Sprintf("Added %s to the %s list of <#%s>.", code(v), list.noun, setting.ChannelID))
	case "remove", "rem", "delete", "del":
		if value == "" {
			b.reply(r, usage)
			return
		}
		v, err := list.remove(ctx, setting.ID, value)
		b.replyOutcome(r, list.title, err, fmt.Sprintf("Removed %s from the %s list of <#%s>.", code(v), list.noun, setting.ChannelID))
	case "clear", "wipe":
		err := list.clear(ctx, setting.ID)
		b.replyOutcome(r, list.title, err, fmt.Sprintf("Cleared the %s list of <#%s>.", list.noun, setting.ChannelID))
	default:
		b.reply(r, usage)
	}
}

func (b *Bot) handleSetText(ctx context.Context, r *request, text string) {
	const title = "Stream Notifications · Custom Text"
	setting, _, ok := b.currentSetting(ctx, r)
	if !ok {
		return
	}
	err := b.settings.SetCustomText(ctx, setting.ID, text)
	if err != nil || text == "" {
		b.replyOutcome(r, title, err, fmt.Sprintf("Removed the custom text of <#%s>.", setting.ChannelID))
		return
	}
	e := newEmbed(title, fmt.Sprintf("Set the custom text of <#%s>.", setting.ChannelID))
	e.Fields = []*discordgo.MessageEmbedField{field("Text", text, false)}
	b.reply(r, e)
}

func (b *Bot) handleRemove(ctx context.Context, r *request, ref string) {
	const title = "Stream Notifications · Remove"

	var (
		setting model.NotificationSetting
		local   int
	)
	if ref == "" {
		var ok bool
		if setting, local, ok = b.currentSetting(ctx, r); !ok {
			return
		}
	} else {
		var err error
		setting, local, err = b.index.ByLocalOrChannelID(ctx, r.guildID(), ref)
		if errors.Is(err, index.ErrNotFound) {
			b.reply(r, errorEmbed(title, "The setting that you specified is not valid."))
			return
		}
		if err != nil {
			b.replyOutcome(r, title, err, "")
			return
		}
	}

	msg := b.reply(r, newEmbed(title, fmt.Sprintf(
		"Are you sure you want to delete setting **#%d** | <#%s>?\nReact with %s within %d seconds to confirm.",
		local, setting.ChannelID, ConfirmEmoji, int(b.removeTimeout.Seconds()))))
	if msg == nil {
		return
	}
	if !b.awaitConfirmation(ctx, msg, r.msg.Author.ID, b.removeTimeout) {
		b.edit(msg.ChannelID, msg.ID, errorEmbed(title, "No confirmation was given, nothing was deleted."))
		return
	}

	_, err := b.settings.Delete(ctx, r.guildID(), setting.ChannelID)
	switch {
	case errors.Is(err, settings.ErrNotFound):
		b.edit(msg.ChannelID, msg.ID, newEmbed(title, "That setting was already removed."))
	case err != nil:
		b.log.Error("delete setting", "guild_id", r.guildID(), "channel_id", setting.ChannelID, "error", err)
		b.edit(msg.ChannelID, msg.ID, errorEmbed(title, RejectionText(err)))
	default:
		b.edit(msg.ChannelID, msg.ID, newEmbed(title, fmt.Sprintf("Deleted setting **#%d** | <#%s>.", local, setting.ChannelID)))
	}
}

func (b *Bot) handleRemoveAll(ctx context.Context, r *request) {
	const title = "Stream Notifications · Remove All"
	count, err := b.index.SettingsCountForGuild(ctx, r.guildID())
	if err != nil {
		b.replyOutcome(r, title, err, "")
		return
	}
	if count == 0 {
		b.reply(r, errorEmbed(title, "This guild has no stream notification settings."))
		return
	}

	msg := b.reply(r, newEmbed(title, fmt.Sprintf(
		"Are you sure you want to delete all **%d** stream notification settings of this guild?\nReact with %s within %d seconds to confirm.",
		count, ConfirmEmoji, int(b.removeAllTimeout.Seconds()))))
	if msg == nil {
		return
	}
	if !b.awaitConfirmation(ctx, msg, r.msg.Author.ID, b.removeAllTimeout) {
		b.edit(msg.ChannelID, msg.ID, errorEmbed(title, "No confirmation was given, nothing was deleted."))
		return
	}

	deleted, err := b.settings.DeleteAll(ctx, r.guildID())
	if err != nil {
		b.log.Error("delete all settings", "guild_id", r.guildID(), "deleted", deleted, "error", err)
		b.edit(msg.ChannelID, msg.ID, errorEmbed(title, RejectionText(err)))
		return
	}
	b.edit(msg.ChannelID, msg.ID, newEmbed(title, fmt.Sprintf("Deleted %d stream notification settings.", deleted)))
}

func (b *Bot) handlePrefix(ctx context.Context, r *request) {
	action, value := SplitArgs(r.args)
	value, _ = SplitArgs(value)

	var (
		prefixes []string
		err      error
	)
	switch strings.ToLower(action) {
	case "":
		prefixes, err = b.settings.Prefixes(ctx, r.guildID())
		if err != nil {
			b.replyOutcome(r, titlePrefixes, err, "")
			return
		}
		e := newEmbed(titlePrefixes, "The prefixes of this guild are: "+codeList(prefixes))
		e.Fields = []*discordgo.MessageEmbedField{
			field("Usage", fmt.Sprintf("``%sprefix [set|add|remove|reset] (prefix)``", r.prefix), false),
		}
		b.reply(r, e)
		return
	case "reset", "default":
		if err = b.settings.ResetPrefixes(ctx, r.guildID()); err == nil {
			prefixes = b.settings.DefaultPrefixes()
		}
	case "set", "add", "remove", "rem", "delete", "del":
		if value == "" {
			b.reply(r, errorEmbed(titlePrefixes, fmt.Sprintf("Usage: ``%sprefix %s (prefix)``", r.prefix, strings.ToLower(action))))
			return
		}
		switch strings.ToLower(action) {
		case "set":
			prefixes, err = b.settings.SetPrefix(ctx, r.guildID(), value)
		case "add":
			prefixes, err = b.settings.AddPrefix(ctx, r.guildID(), value)
		default:
			prefixes, err = b.settings.RemovePrefix(ctx, r.guildID(), value)
		}
	default:
		b.reply(r, errorEmbed(titlePrefixes, fmt.Sprintf("Usage: ``%sprefix [set|add|remove|reset] (prefix)``", r.prefix)))
		return
	}
	b.replyOutcome(r, titlePrefixes, err, "The prefixes of this guild are now: "+codeList(prefixes))
}

func (b *Bot) handleStreamStats(ctx context.Context, r *request) {
	ref, _ := SplitArgs(r.args)
	if ref == "" {
		b.reply(r, errorEmbed(titleStats, fmt.Sprintf("Usage: ``%sstreamstats (broadcast link or id)``", r.prefix)))
		return
	}
	bc, err := b.broadcasts.FetchWithRetry(ctx, rpan.ParseLink(ref))
	if errors.Is(err, strapi.ErrNotFound) {
		b.reply(r, errorEmbed(titleStats, "No broadcast could be found with that link or id."))
		return
	}
	if err != nil {
		b.log.Warn("fetch broadcast", "ref", ref, "error", err)
		b.reply(r, upstreamEmbed(titleStats, "There was a problem with fetching that broadcast, please try again later."))
		return
	}
	b.reply(r, FormatBroadcastStats(bc))
}

func (b *Bot) handleViewStream(ctx context.Context, r *request) {
	const title = "View Stream"
	name, _ := SplitArgs(r.args)
	username := rpan.NormalizeUsername(name)
	if !rpan.ValidUsername(username) {
		b.reply(r, errorEmbed(title, fmt.Sprintf("Usage: ``%sviewstream (reddit username)``", r.prefix)))
		return
	}

	live, err := b.broadcasts.ActiveByAuthor(ctx, username)
	if err == nil {
		b.reply(r, FormatLiveBroadcast(fmt.Sprintf("u/%s's Current Broadcast (Live)", rpan.EscapeUsername(live.AuthorName)), live))
		return
	}
	if !errors.Is(err, strapi.ErrNotFound) {
		b.log.Warn("list active broadcasts", "error", err)
		b.reply(r, upstreamEmbed(title, "There was a problem with fetching the broadcasts, please try again later."))
		return
	}

	sub, err := b.reddit.LastBroadcast(ctx, username)
	if errors.Is(err, reddit.ErrNotFound) {
		b.reply(r, newEmbed(title, "No last broadcast was found for that user."))
		return
	}
	if err != nil {
		b.log.Warn("find last broadcast", "username", username, "error", err)
		b.reply(r, upstreamEmbed(title, "There was a problem with fetching that user's broadcasts, please try again later."))
		return
	}

	bc, err := b.broadcasts.Fetch(ctx, sub.ID)
	if err != nil {
		bc = rpan.BroadcastFromSubmission(sub)
		bc.IsLive = false
	}
	b.reply(r, FormatLastBroadcast(bc))
}

func (b *Bot) handleTopStream(ctx context.Context, r *request) {
	const title = "Top Broadcast"
	ref, _ := SplitArgs(r.args)
	subreddit := ""
	if ref != "" {
		s, ok := rpan.ResolveSubreddit(ref)
		if !ok {
			b.reply(r, errorEmbed(title, RejectionText(settings.ErrUnknownSubreddit)))
			return
		}
		subreddit = s
	}

	bc, err := b.broadcasts.TopActive(ctx, subreddit)
	if errors.Is(err, strapi.ErrNotFound) {
		b.reply(r, newEmbed(title, "There are no live broadcasts right now."))
		return
	}
	if err != nil {
		b.log.Warn("top active broadcast", "subreddit", subreddit, "error", err)
		b.reply(r, upstreamEmbed(title, "There was a problem with fetching the top broadcast, please try again later."))
		return
	}

	heading := "Current Top Broadcast"
	if subreddit != "" {
		heading += " (on r/" + subreddit + ")"
	}
	b.reply(r, FormatLiveBroadcast(heading, bc))
}

func (b *Bot) handleTopStreams(ctx context.Context, r *request) {
	period, _ := SplitArgs(r.args)
	top, used, err := b.reddit.TopBroadcasts(ctx, period)
	if err != nil {
		b.log.Warn("top broadcasts", "period", period, "error", err)
		b.reply(r, upstreamEmbed("Top Broadcasts", "There was a problem with fetching the top broadcasts, please try again later."))
		return
	}
	if len(top) == 0 {
		b.reply(r, newEmbed("Top Broadcasts", "No broadcasts were found for that period."))
		return
	}
	b.reply(r, FormatTopBroadcasts(top, used))
}

func (b *Bot) handleExclude(ctx context.Context, r *request, exclude bool) {
	kindArg, rest := SplitArgs(r.args)
	idArg, _ := SplitArgs(rest)
	id := ParseMentionID(idArg)

	var kind storage.ExclusionKind
	switch strings.ToLower(kindArg) {
	case "user", "u":
		kind = storage.ExcludedUser
	case "guild", "server", "g":
		kind = storage.ExcludedGuild
	}
	if kind == "" || id == "" {
		verb := "unexclude"
		if exclude {
			verb = "exclude"
		}
		b.reply(r, errorEmbed(titleExclude, fmt.Sprintf("Usage: ``%s%s [user|guild] (id)``", r.prefix, verb)))
		return
	}

	if !exclude {
		err := b.settings.Unexclude(ctx, kind, id)
		b.replyOutcome(r, titleExclude, err, fmt.Sprintf("Removed the %s %s from the exclusions.", kind, code(id)))
		return
	}

	err := b.settings.Exclude(ctx, kind, id)
	if err == nil && kind == storage.ExcludedGuild && b.isJoined(id) {
		if err := b.session.GuildLeave(id); err != nil {
			b.log.Error("leave excluded guild", "guild_id", id, "error", err)
		}
	}
	b.replyOutcome(r, titleExclude, err, fmt.Sprintf("Excluded the %s %s.", kind, code(id)))
}

func (b *Bot) handleDataset(ctx context.Context, r *request) {
	action, rest := SplitArgs(r.args)
	name, _ := SplitArgs(rest)

	var member bool
	switch strings.ToLower(action) {
	case "add":
		member = true
	case "remove", "rem", "delete", "del":
	default:
		b.reply(r, errorEmbed(titleDataset, fmt.Sprintf("Usage: ``%sdataset [add|remove] (username)``", r.prefix)))
		return
	}

	username, err := b.settings.SetDatasetUser(ctx, name, member)
	success := fmt.Sprintf("Removed u/%s from the testing dataset.", rpan.EscapeUsername(username))
	if member {
		success = fmt.Sprintf("Added u/%s to the testing dataset.", rpan.EscapeUsername(username))
	}
	b.replyOutcome(r, titleDataset, err, success)
}
