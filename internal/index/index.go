// Package index answers which notification settings want a given streamer, and keeps the
// per-guild selection operators edit through chat commands.
package index

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"rpan_bot/internal/model"
	"rpan_bot/internal/rpan"
	"rpan_bot/internal/storage"
)

// Errors returned by Index lookups.
var (
	ErrNoSettings = errors.New("guild has no notification settings")
	ErrNotFound   = errors.New("notification setting not found")
)

const cacheSize = 4096

// Index resolves settings by username through a bounded TTL cache over the store.
type Index struct {
	store storage.Storage
	cache *expirable.LRU[string, []model.NotificationSetting]

	mu       sync.Mutex
	gen      uint64
	selected map[string]string
}

// New creates an Index. A ttl of zero disables caching so every lookup reads the store.
func New(store storage.Storage, ttl time.Duration) *Index {
	ix := &Index{
		store:    store,
		selected: make(map[string]string),
	}
	if ttl > 0 {
		ix.cache = expirable.NewLRU[string, []model.NotificationSetting](cacheSize, nil, ttl)
	}
	return ix
}

// SettingsForUsername returns the settings that want notifications for username.
// Broadcasts by testing dataset users also reach the settings that list rpanbot.
func (ix *Index) SettingsForUsername(ctx context.Context, username string) ([]model.NotificationSetting, error) {
	username = strings.ToLower(username)
	if ix.cache != nil {
		if settings, ok := ix.cache.Get(username); ok {
			return settings, nil
		}
	}

	ix.mu.Lock()
	gen := ix.gen
	ix.mu.Unlock()

	settings, err := ix.store.ListSettingsForUsername(ctx, username)
	if err != nil {
		return nil, fmt.Errorf("list settings for %s: %w", username, err)
	}

	dataset, err := ix.store.IsDatasetUser(ctx, username)
	if err != nil {
		return nil, err
	}
	if dataset && username != rpan.DisallowedUsername {
		extra, err := ix.store.ListSettingsForUsername(ctx, rpan.DisallowedUsername)
		if err != nil {
			return nil, fmt.Errorf("list dataset settings: %w", err)
		}
		settings = mergeByID(settings, extra)
	}

	if ix.cache != nil {
		ix.mu.Lock()
		// A mutation committed while we were reading; the result may predate it.
		if ix.gen == gen {
			ix.cache.Add(username, settings)
		}
		ix.mu.Unlock()
	}
	return settings, nil
}

// Invalidate drops every cached lookup. Call it after each committed mutation.
func (ix *Index) Invalidate() {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.gen++
	if ix.cache != nil {
		ix.cache.Purge()
	}
}

// SettingsForGuild returns the settings of a guild in creation order.
func (ix *Index) SettingsForGuild(ctx context.Context, guildID string) ([]model.NotificationSetting, error) {
	return ix.store.ListGuildSettings(ctx, guildID)
}

// SettingsCountForGuild returns how many settings a guild has.
func (ix *Index) SettingsCountForGuild(ctx context.Context, guildID string) (int, error) {
	return ix.store.CountGuildSettings(ctx, guildID)
}

// LocalID returns the 1-based display number of channelID within settings, or 0.
func LocalID(settings []model.NotificationSetting, channelID string) int {
	for i, s := range settings {
		if s.ChannelID == channelID {
			return i + 1
		}
	}
	return 0
}

// ByLocalOrChannelID resolves ref as a local display number first and a channel id second.
// Channel mentions such as <#123> are accepted.
func (ix *Index) ByLocalOrChannelID(ctx context.Context, guildID, ref string) (model.NotificationSetting, int, error) {
	settings, err := ix.SettingsForGuild(ctx, guildID)
	if err != nil {
		return model.NotificationSetting{}, 0, err
	}
	return resolve(settings, ref)
}

func resolve(settings []model.NotificationSetting, ref string) (model.NotificationSetting, int, error) {
	ref = strings.TrimSuffix(strings.TrimPrefix(strings.TrimSpace(ref), "<#"), ">")
	if n, err := strconv.Atoi(ref); err == nil && n >= 1 && n <= len(settings) {
		return settings[n-1], n, nil
	}
	if local := LocalID(settings, ref); local > 0 {
		return settings[local-1], local, nil
	}
	return model.NotificationSetting{}, 0, ErrNotFound
}

// Select makes the setting identified by ref the current selection of a guild.
func (ix *Index) Select(ctx context.Context, guildID, ref string) (model.NotificationSetting, int, error) {
	setting, local, err := ix.ByLocalOrChannelID(ctx, guildID, ref)
	if err != nil {
		return setting, local, err
	}
	ix.mu.Lock()
	ix.selected[guildID] = setting.ChannelID
	ix.mu.Unlock()
	return setting, local, nil
}

// Current returns the setting a guild is editing. Without a valid selection it falls back
// to the guild's first setting by creation order. ErrNoSettings means there is nothing to edit.
func (ix *Index) Current(ctx context.Context, guildID string) (model.NotificationSetting, int, error) {
	settings, err := ix.SettingsForGuild(ctx, guildID)
	if err != nil {
		return model.NotificationSetting{}, 0, err
	}
	if len(settings) == 0 {
		ix.ForgetGuild(guildID)
		return model.NotificationSetting{}, 0, ErrNoSettings
	}

	ix.mu.Lock()
	channelID, ok := ix.selected[guildID]
	ix.mu.Unlock()

	if ok {
		if local := LocalID(settings, channelID); local > 0 {
			return settings[local-1], local, nil
		}
		ix.Forget(guildID, channelID)
	}
	return settings[0], 1, nil
}

// Forget clears the selection of a guild if it points at channelID.
func (ix *Index) Forget(guildID, channelID string) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if ix.selected[guildID] == channelID {
		delete(ix.selected, guildID)
	}
}

// ForgetGuild clears any selection of a guild.
func (ix *Index) ForgetGuild(guildID string) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	delete(ix.selected, guildID)
}

func mergeByID(a, b []model.NotificationSetting) []model.NotificationSetting {
	seen := make(map[int64]bool, len(a))
	for _, s := range a {
		seen[s.ID] = true
	}
	for _, s := range b {
		if !seen[s.ID] {
			a = append(a, s)
			seen[s.ID] = true
		}
	}
	return a
}
