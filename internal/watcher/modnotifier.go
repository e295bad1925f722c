package watcher

import (
	"context"
	"log/slog"

	"rpan_bot/internal/events"
	"rpan_bot/internal/model"
	"rpan_bot/internal/telemetry"
)

// ModNotifier forwards moderation items to the Discord channel mapped to their subreddit.
type ModNotifier struct {
	channels map[string]string
	bus      *events.Bus
	logger   *slog.Logger
}

// NewModNotifier creates a ModNotifier. channels maps lowercase subreddit names to channel ids.
func NewModNotifier(channels map[string]string, bus *events.Bus, logger *slog.Logger) *ModNotifier {
	return &ModNotifier{channels: channels, bus: bus, logger: logger}
}

// Handle publishes item for the Discord session.
func (m *ModNotifier) Handle(_ context.Context, item model.ModItem) {
	channelID, ok := m.channels[item.Subreddit]
	if !ok {
		m.logger.Debug("no channel mapped for subreddit", "subreddit", item.Subreddit, "kind", item.Kind)
		return
	}
	telemetry.IncVec(telemetry.ModNotices, string(item.Kind))
	m.logger.Info("moderation item detected", "subreddit", item.Subreddit, "kind", item.Kind, "id", item.ID)
	m.bus.Publish(events.TopicModNotice, events.ModNotice{ChannelID: channelID, Item: item})
}
