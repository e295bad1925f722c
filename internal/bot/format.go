package bot

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/bwmarrin/discordgo"

	"rpan_bot/internal/model"
	"rpan_bot/internal/reddit"
	"rpan_bot/internal/rpan"
	"rpan_bot/internal/settings"
)

// Embed colours.
const (
	ColorDefault  = 0x00688B
	ColorError    = 0x8B0000
	ColorUpstream = 0xD2D219
	ColorModQueue = 0x517185
	ColorModMail  = 0x7BBDBF
)

const fieldLimit = 1024

func newEmbed(title, description string) *discordgo.MessageEmbed {
	return &discordgo.MessageEmbed{Title: title, Description: description, Color: ColorDefault}
}

func errorEmbed(title, description string) *discordgo.MessageEmbed {
	e := newEmbed(title, description)
	e.Color = ColorError
	return e
}

func upstreamEmbed(title, description string) *discordgo.MessageEmbed {
	e := newEmbed(title, description)
	e.Color = ColorUpstream
	return e
}

func field(name, value string, inline bool) *discordgo.MessageEmbedField {
	if value == "" {
		value = "None"
	}
	if len([]rune(value)) > fieldLimit {
		value = string([]rune(value)[:fieldLimit-3]) + "..."
	}
	return &discordgo.MessageEmbedField{Name: name, Value: value, Inline: inline}
}

func requestedBy(e *discordgo.MessageEmbed, user *discordgo.User) *discordgo.MessageEmbed {
	if user != nil {
		e.Footer = &discordgo.MessageEmbedFooter{Text: "Requested by " + user.Username}
	}
	return e
}

func stat(n int) string {
	if n == model.Unknown {
		return "Unknown"
	}
	return strconv.Itoa(n)
}

func rank(b model.Broadcast) string {
	if b.GlobalRank == model.Unknown {
		return "Unknown"
	}
	return fmt.Sprintf("%s/%s", stat(b.GlobalRank), stat(b.TotalStreams))
}

func thumbnail(url string) *discordgo.MessageEmbedThumbnail {
	if url == "" {
		return nil
	}
	return &discordgo.MessageEmbedThumbnail{URL: url}
}

// FormatBroadcastStats renders the streamstats answer.
func FormatBroadcastStats(b model.Broadcast) *discordgo.MessageEmbed {
	e := newEmbed("Broadcast Statistics", "")
	e.URL = b.URL
	e.Thumbnail = thumbnail(b.Thumbnail)
	e.Fields = []*discordgo.MessageEmbedField{
		field("Title", b.Title, true),
		field("Author", "u/"+rpan.EscapeUsername(b.AuthorName), true),
		field("Subreddit", "r/"+b.SubredditName, true),
	}
	if b.IsLive {
		e.Fields = append(e.Fields,
			field("Status", "Live", true),
			field("Current Viewers", stat(b.ContinuousWatchers), true),
		)
	} else {
		e.Fields = append(e.Fields,
			field("Status", "Off Air", true),
			field("Broadcasted", rpan.FormatTimestamp(b.PublishedAt), true),
		)
	}
	e.Fields = append(e.Fields, field("Unique Viewers", stat(b.UniqueWatchers), true))
	return e
}

// FormatLiveBroadcast renders a broadcast that is on air right now.
func FormatLiveBroadcast(title string, b model.Broadcast) *discordgo.MessageEmbed {
	e := newEmbed(title, "")
	e.URL = b.URL
	e.Thumbnail = thumbnail(b.Thumbnail)
	e.Fields = []*discordgo.MessageEmbedField{
		field("Title", b.Title, true),
		field("Author", "u/"+rpan.EscapeUsername(b.AuthorName), true),
		field("Subreddit", "r/"+b.SubredditName, true),
		field("RPAN Rank", rank(b), true),
		field("Current Viewers", stat(b.ContinuousWatchers), true),
		field("Unique Viewers", stat(b.UniqueWatchers), true),
	}
	return e
}

// FormatLastBroadcast renders the most recent finished broadcast of a user.
func FormatLastBroadcast(b model.Broadcast) *discordgo.MessageEmbed {
	e := newEmbed(fmt.Sprintf("u/%s's Last Broadcast", rpan.EscapeUsername(b.AuthorName)), "")
	e.URL = b.URL
	e.Thumbnail = thumbnail(b.Thumbnail)
	e.Fields = []*discordgo.MessageEmbedField{
		field("Title", b.Title, true),
		field("Author", "u/"+rpan.EscapeUsername(b.AuthorName), true),
		field("Subreddit", "r/"+b.SubredditName, true),
		field("Status", "Off-Air", true),
		field("Broadcasted", rpan.FormatTimestamp(b.PublishedAt), true),
		field("Unique Viewers", stat(b.UniqueWatchers), true),
	}
	return e
}

// FormatTopBroadcasts renders the best broadcast of each RPAN subreddit.
func FormatTopBroadcasts(top []reddit.TopBroadcast, period string) *discordgo.MessageEmbed {
	e := newEmbed("Top Broadcasts", fmt.Sprintf("The top broadcast on each RPAN subreddit from within: %s.", period))
	for _, t := range top {
		e.Fields = append(e.Fields, field("r/"+t.Subreddit, fmt.Sprintf("[%s](%s)", t.Submission.Title, t.Submission.URL), false))
	}
	return e
}

// FormatSettingList lists the settings of a guild, marking the selected one.
func FormatSettingList(list []model.NotificationSetting, selected int) *discordgo.MessageEmbed {
	e := newEmbed("Stream Notifications · Settings List", "")
	for i, s := range list {
		name := fmt.Sprintf("#%d", i+1)
		if i+1 == selected {
			name += "\n(Currently Selected)"
		}
		e.Fields = append(e.Fields, field(name, "<#"+s.ChannelID+">", true))
	}
	return e
}

// FormatSelected describes the setting the guild is editing.
func FormatSelected(s model.NotificationSetting, local int, prefix string) *discordgo.MessageEmbed {
	e := newEmbed("Stream Notifications · Currently Selected",
		fmt.Sprintf("The currently selected setting is:\n**#%d** | <#%s>", local, s.ChannelID))
	text := s.CustomText
	if text == "" {
		text = fmt.Sprintf("None | Setup with ``%ssn settext (your text)``", prefix)
	}
	e.Fields = []*discordgo.MessageEmbedField{
		field("Usernames", codeList(s.Usernames), false),
		field("Keyword Filters", codeList(s.KeywordFilters), false),
		field("Subreddit Filters", codeList(s.SubredditFilters), false),
		field("Custom Text", text, false),
	}
	return e
}

// FormatValues shows one value set of a setting.
func FormatValues(title string, s model.NotificationSetting, values []string) *discordgo.MessageEmbed {
	e := newEmbed(title, "Setting for <#"+s.ChannelID+">")
	e.Fields = []*discordgo.MessageEmbedField{field("List", codeList(values), false)}
	return e
}

// FormatModItem renders a moderation queue item or a modmail message.
func FormatModItem(item model.ModItem) *discordgo.MessageEmbed {
	if item.Kind == model.ModMail {
		return &discordgo.MessageEmbed{
			Title: fmt.Sprintf("Mod Mail - New Message (r/%s)", item.Subreddit),
			URL:   item.Permalink,
			Color: ColorModMail,
			Fields: []*discordgo.MessageEmbedField{
				field("Conversation ID", code(item.ConversationID), false),
				field("Author", code("u/"+item.Author), false),
				field("Subject", code(item.Subject), false),
				field("Message", code(item.Body), false),
			},
		}
	}

	kind, contentName, content := "Submission", "Title", item.Title
	if item.Kind == model.ModComment {
		kind, contentName, content = "Comment", "Body", item.Body
	}
	return &discordgo.MessageEmbed{
		Title: fmt.Sprintf("Mod Queue - New Item (r/%s)", item.Subreddit),
		URL:   item.Permalink,
		Color: ColorModQueue,
		Fields: []*discordgo.MessageEmbedField{
			field("ID", code(item.ID), false),
			field("Type", kind, false),
			field("Author", code("u/"+item.Author), false),
			field(contentName, code(content), false),
		},
	}
}

func code(s string) string {
	return "``" + strings.ReplaceAll(s, "`", "'") + "``"
}

func codeList(values []string) string {
	if len(values) == 0 {
		return "None"
	}
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = code(v)
	}
	return strings.Join(parts, ", ")
}

// RejectionText explains a settings outcome to the operator.
func RejectionText(err error) string {
	switch {
	case errors.Is(err, settings.ErrChannelTaken):
		return "There is already a stream notification setting on that channel."
	case errors.Is(err, settings.ErrChannelLimit):
		return fmt.Sprintf("This guild has reached the limit of %d notification settings.", settings.MaxSettingsPerGuild)
	case errors.Is(err, settings.ErrUnknownChannel):
		return "That channel is not a valid channel on this guild."
	case errors.Is(err, settings.ErrInvalidUsername):
		return "That is not a valid reddit username."
	case errors.Is(err, settings.ErrDisallowedUsername):
		return "That username cannot be added."
	case errors.Is(err, settings.ErrAlreadyAdded):
		return "That has already been added."
	case errors.Is(err, settings.ErrLimitReached):
		return "The limit for that list has been reached."
	case errors.Is(err, settings.ErrInvalidKeyword):
		return fmt.Sprintf("Keywords must be between 1 and %d characters.", settings.MaxKeywordLength)
	case errors.Is(err, settings.ErrUnknownSubreddit):
		return "That is not an RPAN subreddit."
	case errors.Is(err, settings.ErrTextTooLong):
		return fmt.Sprintf("The input custom text is beyond the %d character limit.", settings.MaxCustomText)
	case errors.Is(err, settings.ErrInvalidPrefix):
		return fmt.Sprintf("Prefixes must be 1 to %d characters long and cannot contain backticks.", settings.MaxPrefixLength)
	case errors.Is(err, settings.ErrPrefixLimit):
		return fmt.Sprintf("A guild can have at most %d custom prefixes.", settings.MaxPrefixes)
	case errors.Is(err, settings.ErrPrefixConflict):
		return "That prefix overlaps with one of the existing prefixes."
	case errors.Is(err, settings.ErrNoCustomPrefixes):
		return "This guild has no custom prefixes."
	case errors.Is(err, settings.ErrNotFound):
		return "That could not be found."
	case errors.Is(err, ErrWebhookCreate):
		return "A webhook could not be created on that channel. Check that the bot has the Manage Webhooks permission there."
	}
	return "Something went wrong, please try again later."
}
