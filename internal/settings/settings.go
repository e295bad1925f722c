// Package settings implements the validated operations behind the chat commands and the dashboard.
// Every operation returns data or one of the sentinel errors below; callers render them.
package settings

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"rpan_bot/internal/index"
	"rpan_bot/internal/model"
	"rpan_bot/internal/storage"
)

// Limits enforced by the service.
const (
	MaxSettingsPerGuild = 25
	MaxUsernames        = 50
	MaxKeywords         = 25
	MaxKeywordLength    = 100
	MaxCustomText       = 1000
	MaxPrefixes         = 4
	MaxPrefixLength     = 9
)

// Outcome errors. They describe operator mistakes, not system failures.
var (
	ErrChannelTaken       = errors.New("channel already has a notification setting")
	ErrChannelLimit       = errors.New("guild reached the notification setting limit")
	ErrInvalidUsername    = errors.New("invalid reddit username")
	ErrDisallowedUsername = errors.New("username is reserved")
	ErrAlreadyAdded       = errors.New("already added")
	ErrLimitReached       = errors.New("limit reached")
	ErrInvalidKeyword     = errors.New("invalid keyword")
	ErrNotFound           = errors.New("not found")
	ErrUnknownSubreddit   = errors.New("unknown RPAN subreddit")
	ErrTextTooLong        = errors.New("custom text too long")
	ErrInvalidPrefix      = errors.New("invalid prefix")
	ErrPrefixLimit        = errors.New("prefix limit reached")
	ErrPrefixConflict     = errors.New("prefix conflicts with an existing prefix")
	ErrNoCustomPrefixes   = errors.New("guild has no custom prefixes")
	ErrUnknownChannel     = errors.New("channel is not part of the guild")
)

var rejections = []error{
	ErrChannelTaken, ErrChannelLimit, ErrInvalidUsername, ErrDisallowedUsername,
	ErrAlreadyAdded, ErrLimitReached, ErrInvalidKeyword, ErrNotFound, ErrUnknownSubreddit,
	ErrTextTooLong, ErrInvalidPrefix, ErrPrefixLimit, ErrPrefixConflict, ErrNoCustomPrefixes,
	ErrUnknownChannel,
}

// IsRejected reports whether err is an outcome to show the operator rather than a system error.
func IsRejected(err error) bool {
	for _, r := range rejections {
		if errors.Is(err, r) {
			return true
		}
	}
	return false
}

// WebhookRemover deletes a webhook that a setting delivered through.
type WebhookRemover interface {
	Teardown(ctx context.Context, url string) error
}

// Service wraps the store with validation and keeps the index coherent with every write.
type Service struct {
	store    storage.Storage
	index    *index.Index
	hooks    WebhookRemover
	logger   *slog.Logger
	defaults []string
	prefixes *expirable.LRU[string, []string]
}

const prefixCacheTTL = 30 * time.Minute

// New creates a Service. defaultPrefixes are used by guilds without custom prefixes.
func New(store storage.Storage, ix *index.Index, hooks WebhookRemover, defaultPrefixes []string, logger *slog.Logger) *Service {
	return &Service{
		store:    store,
		index:    ix,
		hooks:    hooks,
		logger:   logger,
		defaults: defaultPrefixes,
		prefixes: expirable.NewLRU[string, []string](1024, nil, prefixCacheTTL),
	}
}

// Update is a full replacement of the editable parts of a setting.
type Update struct {
	Usernames  []string
	Keywords   []string
	Subreddits []string
	CustomText string
}

// CheckSetup validates a setup request before a webhook is provisioned for it.
// It returns the normalized username, which is empty when none was given.
func (s *Service) CheckSetup(ctx context.Context, guildID, channelID, username string, isDev bool) (string, error) {
	if username != "" {
		var err error
		if username, err = checkUsername(username, isDev); err != nil {
			return "", err
		}
	}

	if _, err := s.store.GetSettingByChannel(ctx, channelID); err == nil {
		return "", ErrChannelTaken
	} else if !errors.Is(err, storage.ErrNotFound) {
		return "", fmt.Errorf("get setting by channel: %w", err)
	}

	count, err := s.store.CountGuildSettings(ctx, guildID)
	if err != nil {
		return "", fmt.Errorf("count guild settings: %w", err)
	}
	if count >= MaxSettingsPerGuild {
		return "", ErrChannelLimit
	}
	return username, nil
}

// Setup creates a setting for channelID delivering through webhookURL. When the setting cannot be
// stored the webhook is torn down again.
func (s *Service) Setup(ctx context.Context, guildID, channelID, webhookURL, username string, isDev bool) (model.NotificationSetting, error) {
	setting, err := s.setup(ctx, guildID, channelID, webhookURL, username, isDev)
	if err != nil {
		s.teardown(ctx, webhookURL, "setup_failed")
		return model.NotificationSetting{}, err
	}
	s.index.Invalidate()
	return setting, nil
}

func (s *Service) setup(ctx context.Context, guildID, channelID, webhookURL, username string, isDev bool) (model.NotificationSetting, error) {
	username, err := s.CheckSetup(ctx, guildID, channelID, username, isDev)
	if err != nil {
		return model.NotificationSetting{}, err
	}

	setting := model.NotificationSetting{
		GuildID:    guildID,
		ChannelID:  channelID,
		WebhookURL: webhookURL,
	}
	if username != "" {
		setting.Usernames = []string{username}
	}

	err = s.store.CreateSetting(ctx, &setting, MaxSettingsPerGuild)
	switch {
	case errors.Is(err, storage.ErrChannelTaken):
		return model.NotificationSetting{}, ErrChannelTaken
	case errors.Is(err, storage.ErrLimitReached):
		return model.NotificationSetting{}, ErrChannelLimit
	case err != nil:
		return model.NotificationSetting{}, fmt.Errorf("create setting: %w", err)
	}
	return setting, nil
}

// AddUsername adds a streamer to a setting and returns the normalized name.
func (s *Service) AddUsername(ctx context.Context, settingID int64, username string, isDev bool) (string, error) {
	username, err := checkUsername(username, isDev)
	if err != nil {
		return "", err
	}
	return username, s.addValue(ctx, settingID, model.FilterUsername, username, MaxUsernames)
}

// RemoveUsername removes a streamer from a setting. The setting survives losing its last username.
func (s *Service) RemoveUsername(ctx context.Context, settingID int64, username string) (string, error) {
	username = normalizeUsername(username)
	return username, s.removeValue(ctx, settingID, model.FilterUsername, username)
}

// ClearUsernames removes every streamer from a setting.
func (s *Service) ClearUsernames(ctx context.Context, settingID int64) error {
	return s.clearValues(ctx, settingID, model.FilterUsername)
}

// AddKeyword adds a title keyword filter and returns the normalized keyword.
func (s *Service) AddKeyword(ctx context.Context, settingID int64, keyword string) (string, error) {
	keyword, err := checkKeyword(keyword)
	if err != nil {
		return "", err
	}
	return keyword, s.addValue(ctx, settingID, model.FilterKeyword, keyword, MaxKeywords)
}

// RemoveKeyword removes a title keyword filter.
func (s *Service) RemoveKeyword(ctx context.Context, settingID int64, keyword string) (string, error) {
	keyword = normalizeKeyword(keyword)
	return keyword, s.removeValue(ctx, settingID, model.FilterKeyword, keyword)
}

// ClearKeywords removes every keyword filter of a setting.
func (s *Service) ClearKeywords(ctx context.Context, settingID int64) error {
	return s.clearValues(ctx, settingID, model.FilterKeyword)
}

// AddSubreddit adds a subreddit filter. ref may be a name or an abbreviation.
func (s *Service) AddSubreddit(ctx context.Context, settingID int64, ref string) (string, error) {
	sub, err := checkSubreddit(ref)
	if err != nil {
		return "", err
	}
	return sub, s.addValue(ctx, settingID, model.FilterSubreddit, sub, 0)
}

// RemoveSubreddit removes a subreddit filter.
func (s *Service) RemoveSubreddit(ctx context.Context, settingID int64, ref string) (string, error) {
	sub, err := checkSubreddit(ref)
	if err != nil {
		return "", err
	}
	return sub, s.removeValue(ctx, settingID, model.FilterSubreddit, sub)
}

// ClearSubreddits removes every subreddit filter of a setting.
func (s *Service) ClearSubreddits(ctx context.Context, settingID int64) error {
	return s.clearValues(ctx, settingID, model.FilterSubreddit)
}

// SetCustomText sets the message posted above each notification. Empty text clears it.
func (s *Service) SetCustomText(ctx context.Context, settingID int64, text string) error {
	text, err := checkCustomText(text)
	if err != nil {
		return err
	}
	if err := s.store.SetCustomText(ctx, settingID, text); err != nil {
		return mapNotFound(err, "set custom text")
	}
	s.index.Invalidate()
	return nil
}

// Replace overwrites the value sets and custom text of the setting in channelID.
func (s *Service) Replace(ctx context.Context, guildID, channelID string, u Update, isDev bool) (model.NotificationSetting, error) {
	setting, err := s.settingInGuild(ctx, guildID, channelID)
	if err != nil {
		return model.NotificationSetting{}, err
	}

	values, text, err := checkUpdate(u, isDev)
	if err != nil {
		return model.NotificationSetting{}, err
	}
	if err := s.store.ReplaceValues(ctx, setting.ID, values, text); err != nil {
		return model.NotificationSetting{}, mapNotFound(err, "replace values")
	}
	s.index.Invalidate()

	updated, err := s.store.GetSetting(ctx, setting.ID)
	if err != nil {
		return model.NotificationSetting{}, mapNotFound(err, "get setting")
	}
	return *updated, nil
}

// Get returns the setting of channelID if it belongs to guildID.
func (s *Service) Get(ctx context.Context, guildID, channelID string) (model.NotificationSetting, error) {
	return s.settingInGuild(ctx, guildID, channelID)
}

// Delete removes the setting ref resolves to within a guild. The webhook is torn down first; a
// failed teardown never blocks the delete.
func (s *Service) Delete(ctx context.Context, guildID, ref string) (model.NotificationSetting, error) {
	setting, _, err := s.index.ByLocalOrChannelID(ctx, guildID, ref)
	if errors.Is(err, index.ErrNotFound) {
		return model.NotificationSetting{}, ErrNotFound
	}
	if err != nil {
		return model.NotificationSetting{}, fmt.Errorf("resolve setting: %w", err)
	}
	if err := s.delete(ctx, setting); err != nil {
		return model.NotificationSetting{}, err
	}
	s.index.Invalidate()
	return setting, nil
}

// DeleteByChannel removes the setting of channelID. Unlike Delete it never reads ref as a local id.
func (s *Service) DeleteByChannel(ctx context.Context, guildID, channelID string) (model.NotificationSetting, error) {
	setting, err := s.settingInGuild(ctx, guildID, channelID)
	if err != nil {
		return model.NotificationSetting{}, err
	}
	if err := s.delete(ctx, setting); err != nil {
		return model.NotificationSetting{}, err
	}
	s.index.Invalidate()
	return setting, nil
}

// DeleteAll removes every setting of a guild and returns how many were removed.
func (s *Service) DeleteAll(ctx context.Context, guildID string) (int, error) {
	settings, err := s.store.ListGuildSettings(ctx, guildID)
	if err != nil {
		return 0, fmt.Errorf("list guild settings: %w", err)
	}

	deleted := 0
	for _, setting := range settings {
		if err := s.delete(ctx, setting); err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			s.index.Invalidate()
			return deleted, err
		}
		deleted++
	}
	s.index.ForgetGuild(guildID)
	s.index.Invalidate()
	return deleted, nil
}

// EraseGuild removes everything stored for a guild the bot left.
func (s *Service) EraseGuild(ctx context.Context, guildID string) error {
	deleted, err := s.DeleteAll(ctx, guildID)
	if err != nil {
		return fmt.Errorf("delete guild settings: %w", err)
	}
	if _, err := s.store.DeletePrefixes(ctx, guildID); err != nil {
		return fmt.Errorf("delete guild prefixes: %w", err)
	}
	s.prefixes.Remove(guildID)

	s.logger.Info("erased guild data", "guild_id", guildID, "settings", deleted)
	return nil
}

// SetDatasetUser adds or removes a username from the testing dataset.
func (s *Service) SetDatasetUser(ctx context.Context, username string, member bool) (string, error) {
	username = normalizeUsername(username)
	if !validUsername(username) {
		return "", ErrInvalidUsername
	}
	changed, err := s.store.SetDatasetUser(ctx, username, member)
	if err != nil {
		return "", fmt.Errorf("set dataset user: %w", err)
	}
	if !changed {
		if member {
			return username, ErrAlreadyAdded
		}
		return username, ErrNotFound
	}
	s.index.Invalidate()
	return username, nil
}

// Exclude adds id to an exclusion list.
func (s *Service) Exclude(ctx context.Context, kind storage.ExclusionKind, id string) error {
	changed, err := s.store.SetExcluded(ctx, kind, id, true)
	if err != nil {
		return fmt.Errorf("exclude %s: %w", kind, err)
	}
	if !changed {
		return ErrAlreadyAdded
	}
	return nil
}

// Unexclude removes id from an exclusion list.
func (s *Service) Unexclude(ctx context.Context, kind storage.ExclusionKind, id string) error {
	changed, err := s.store.SetExcluded(ctx, kind, id, false)
	if err != nil {
		return fmt.Errorf("unexclude %s: %w", kind, err)
	}
	if !changed {
		return ErrNotFound
	}
	return nil
}

// IsUserExcluded reports whether the bot ignores a user.
func (s *Service) IsUserExcluded(ctx context.Context, userID string) (bool, error) {
	return s.store.IsExcluded(ctx, storage.ExcludedUser, userID)
}

// IsGuildExcluded reports whether the bot refuses to stay in a guild.
func (s *Service) IsGuildExcluded(ctx context.Context, guildID string) (bool, error) {
	return s.store.IsExcluded(ctx, storage.ExcludedGuild, guildID)
}

// GuildIDs lists every guild that has stored settings or prefixes.
func (s *Service) GuildIDs(ctx context.Context) ([]string, error) {
	return s.store.ListGuildIDs(ctx)
}

func (s *Service) delete(ctx context.Context, setting model.NotificationSetting) error {
	s.teardown(ctx, setting.WebhookURL, "delete")

	deleted, err := s.store.DeleteSetting(ctx, setting.ID)
	if err != nil {
		return fmt.Errorf("delete setting: %w", err)
	}
	s.index.Forget(setting.GuildID, setting.ChannelID)
	if !deleted {
		return ErrNotFound
	}
	s.logger.Info("deleted notification setting",
		"guild_id", setting.GuildID, "channel_id", setting.ChannelID, "setting_id", setting.ID)
	return nil
}

func (s *Service) teardown(ctx context.Context, url, reason string) {
	if s.hooks == nil || url == "" {
		return
	}
	if err := s.hooks.Teardown(ctx, url); err != nil {
		s.logger.Warn("webhook teardown failed", "reason", reason, "error", err)
	}
}

func (s *Service) settingInGuild(ctx context.Context, guildID, channelID string) (model.NotificationSetting, error) {
	setting, err := s.store.GetSettingByChannel(ctx, channelID)
	if err != nil {
		return model.NotificationSetting{}, mapNotFound(err, "get setting by channel")
	}
	if setting.GuildID != guildID {
		return model.NotificationSetting{}, ErrNotFound
	}
	return *setting, nil
}

func (s *Service) addValue(ctx context.Context, settingID int64, kind model.FilterKind, value string, limit int) error {
	added, err := s.store.AddValue(ctx, settingID, kind, value, limit)
	switch {
	case errors.Is(err, storage.ErrLimitReached):
		return ErrLimitReached
	case err != nil:
		return mapNotFound(err, "add "+string(kind))
	case !added:
		return ErrAlreadyAdded
	}
	s.index.Invalidate()
	return nil
}

func (s *Service) removeValue(ctx context.Context, settingID int64, kind model.FilterKind, value string) error {
	removed, err := s.store.RemoveValue(ctx, settingID, kind, value)
	if err != nil {
		return mapNotFound(err, "remove "+string(kind))
	}
	if !removed {
		return ErrNotFound
	}
	s.index.Invalidate()
	return nil
}

func (s *Service) clearValues(ctx context.Context, settingID int64, kind model.FilterKind) error {
	if err := s.store.ClearValues(ctx, settingID, kind); err != nil {
		return mapNotFound(err, "clear "+string(kind))
	}
	s.index.Invalidate()
	return nil
}

func mapNotFound(err error, op string) error {
	if errors.Is(err, storage.ErrNotFound) {
		return ErrNotFound
	}
	return fmt.Errorf("%s: %w", op, err)
}
