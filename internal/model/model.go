// Package model defines the domain types used across the application.
package model

import "time"

// Unknown marks a broadcast statistic the metadata source did not supply.
const Unknown = -1

// NotificationSetting is the per-channel configuration for stream notifications.
type NotificationSetting struct {
	ID               int64
	GuildID          string
	ChannelID        string
	WebhookURL       string
	Usernames        []string
	KeywordFilters   []string
	SubredditFilters []string
	CustomText       string
	CreatedAt        time.Time
}

// FilterKind identifies one of the value sets attached to a setting.
type FilterKind string

// Supported filter kinds.
const (
	FilterUsername  FilterKind = "username"
	FilterKeyword   FilterKind = "keyword"
	FilterSubreddit FilterKind = "subreddit"
)

// GuildPrefixes holds the custom command prefixes of a guild.
type GuildPrefixes struct {
	GuildID  string
	Prefixes []string
}

// BroadcastSource records where a Broadcast was resolved from.
type BroadcastSource string

// Broadcast sources.
const (
	SourceStrapi     BroadcastSource = "strapi"
	SourceSubmission BroadcastSource = "submission"
)

// Broadcast is a live stream resolved for a matched submission. It is never persisted.
type Broadcast struct {
	ID                 string
	Title              string
	AuthorName         string
	SubredditName      string
	URL                string
	Thumbnail          string
	PublishedAt        time.Time
	IsLive             bool
	ContinuousWatchers int
	UniqueWatchers     int
	GlobalRank         int
	TotalStreams       int
	Source             BroadcastSource
}

// Submission is a new post emitted by the submission feed.
type Submission struct {
	ID        string
	Author    string
	URL       string
	Title     string
	Subreddit string
	Permalink string
	CreatedAt time.Time
}

// ModItemKind distinguishes moderation events.
type ModItemKind string

// Moderation event kinds.
const (
	ModSubmission ModItemKind = "submission"
	ModComment    ModItemKind = "comment"
	ModMail       ModItemKind = "modmail"
)

// ModItem is an entry of a moderation queue or a modmail conversation update.
// For modmail, ID is the newest message and ConversationID its thread.
type ModItem struct {
	Kind           ModItemKind
	ID             string
	ConversationID string
	Subreddit      string
	Author         string
	Title          string
	Body           string
	Subject        string
	Permalink      string
}
