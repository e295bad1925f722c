package events

import (
	"time"

	"rpan_bot/internal/model"
)

// ModNotice asks the Discord session to post a moderation item into ChannelID.
type ModNotice struct {
	ChannelID string
	Item      model.ModItem
}

// Delivery reports the outcome of one notification.
type Delivery struct {
	SettingID   int64     `json:"setting_id"`
	GuildID     string    `json:"guild_id"`
	ChannelID   string    `json:"channel_id"`
	BroadcastID string    `json:"broadcast_id"`
	Author      string    `json:"author"`
	Result      string    `json:"result"`
	Timestamp   time.Time `json:"timestamp"`
}

// WatcherState reports a watcher state transition.
type WatcherState struct {
	Watcher   string    `json:"watcher"`
	State     string    `json:"state"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}
