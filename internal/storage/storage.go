// Package storage defines the persistence interface and its implementations.
package storage

import (
	"context"
	"errors"

	"rpan_bot/internal/model"
)

// Errors returned by Storage implementations.
var (
	ErrNotFound     = errors.New("not found")
	ErrChannelTaken = errors.New("channel already has a notification setting")
	ErrLimitReached = errors.New("limit reached")
)

// ExclusionKind selects the exclusion list an id belongs to.
type ExclusionKind string

// Exclusion lists.
const (
	ExcludedUser  ExclusionKind = "user"
	ExcludedGuild ExclusionKind = "guild"
)

// Storage is the interface for all persistence operations.
type Storage interface {
	// CreateSetting inserts s and populates its ID and CreatedAt. It fails with ErrChannelTaken
	// when the channel already has a setting and with ErrLimitReached when the guild already
	// holds guildLimit settings (guildLimit <= 0 disables the check).
	CreateSetting(ctx context.Context, s *model.NotificationSetting, guildLimit int) error
	GetSetting(ctx context.Context, id int64) (*model.NotificationSetting, error)
	GetSettingByChannel(ctx context.Context, channelID string) (*model.NotificationSetting, error)
	ListGuildSettings(ctx context.Context, guildID string) ([]model.NotificationSetting, error)
	CountGuildSettings(ctx context.Context, guildID string) (int, error)
	ListSettingsForUsername(ctx context.Context, username string) ([]model.NotificationSetting, error)
	ListGuildIDs(ctx context.Context) ([]string, error)
	DeleteSetting(ctx context.Context, id int64) (bool, error)

	// AddValue adds value to one of the sets of a setting. It reports false when the value was
	// already present and fails with ErrLimitReached when the set holds limit values.
	AddValue(ctx context.Context, settingID int64, kind model.FilterKind, value string, limit int) (bool, error)
	RemoveValue(ctx context.Context, settingID int64, kind model.FilterKind, value string) (bool, error)
	ClearValues(ctx context.Context, settingID int64, kind model.FilterKind) error
	// ReplaceValues overwrites every set and the custom text of a setting in one transaction.
	ReplaceValues(ctx context.Context, settingID int64, values map[model.FilterKind][]string, customText string) error
	SetCustomText(ctx context.Context, settingID int64, text string) error

	IsDatasetUser(ctx context.Context, username string) (bool, error)
	SetDatasetUser(ctx context.Context, username string, member bool) (bool, error)

	GetPrefixes(ctx context.Context, guildID string) ([]string, error)
	SetPrefixes(ctx context.Context, guildID string, prefixes []string) error
	DeletePrefixes(ctx context.Context, guildID string) (bool, error)

	IsExcluded(ctx context.Context, kind ExclusionKind, id string) (bool, error)
	SetExcluded(ctx context.Context, kind ExclusionKind, id string, excluded bool) (bool, error)

	Close() error
}
