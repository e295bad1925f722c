package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // Postgres driver registration as "pgx".
	_ "modernc.org/sqlite"             // SQLite driver registration.

	"rpan_bot/internal/model"
	"rpan_bot/migrations"
)

const timeLayout = "2006-01-02T15:04:05Z"

// SQL implements Storage on database/sql for SQLite and Postgres.
type SQL struct {
	db      *sql.DB
	dialect migrations.Dialect
}

// Open picks the backend from url: postgres:// URLs use Postgres, anything else is a SQLite path.
func Open(url string) (*SQL, error) {
	if IsPostgresURL(url) {
		return NewPostgres(url)
	}
	return NewSQLite(url)
}

// IsPostgresURL reports whether url addresses a Postgres server.
func IsPostgresURL(url string) bool {
	return strings.HasPrefix(url, "postgres://") || strings.HasPrefix(url, "postgresql://")
}

// NewSQLite opens a SQLite database at dsn and runs pending migrations.
func NewSQLite(dsn string) (*SQL, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One connection keeps ":memory:" databases alive and serializes writers.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=OFF"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("disable foreign keys: %w", err)
	}

	if err := migrations.Run(db, migrations.SQLite); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQL{db: db, dialect: migrations.SQLite}, nil
}

// NewPostgres connects to a Postgres database and runs pending migrations.
func NewPostgres(dsn string) (*SQL, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	if err := migrations.Run(db, migrations.Postgres); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQL{db: db, dialect: migrations.Postgres}, nil
}

// Close closes the underlying database connection.
func (s *SQL) Close() error {
	return s.db.Close()
}

// q rewrites ? placeholders into $n for Postgres.
func (s *SQL) q(query string) string {
	if s.dialect != migrations.Postgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

const settingColumns = `s.id, s.guild_id, s.channel_id, s.webhook_url, s.custom_text, s.created_at`

// CreateSetting inserts a new setting with its initial value sets.
func (s *SQL) CreateSetting(ctx context.Context, setting *model.NotificationSetting, guildLimit int) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var taken int
	if err := tx.QueryRowContext(ctx, s.q(`SELECT COUNT(*) FROM bn_settings WHERE channel_id = ?`),
		setting.ChannelID).Scan(&taken); err != nil {
		return fmt.Errorf("check channel: %w", err)
	}
	if taken > 0 {
		return ErrChannelTaken
	}

	if guildLimit > 0 {
		var count int
		if err := tx.QueryRowContext(ctx, s.q(`SELECT COUNT(*) FROM bn_settings WHERE guild_id = ?`),
			setting.GuildID).Scan(&count); err != nil {
			return fmt.Errorf("count guild settings: %w", err)
		}
		if count >= guildLimit {
			return ErrLimitReached
		}
	}

	now := time.Now().UTC().Format(timeLayout)
	var id int64
	err = tx.QueryRowContext(ctx, s.q(
		`INSERT INTO bn_settings (guild_id, channel_id, webhook_url, custom_text, created_at)
		 VALUES (?, ?, ?, ?, ?) RETURNING id`),
		setting.GuildID, setting.ChannelID, setting.WebhookURL, setting.CustomText, now,
	).Scan(&id)
	if err != nil {
		return fmt.Errorf("insert setting: %w", err)
	}

	sets := map[model.FilterKind][]string{
		model.FilterUsername:  setting.Usernames,
		model.FilterKeyword:   setting.KeywordFilters,
		model.FilterSubreddit: setting.SubredditFilters,
	}
	for kind, values := range sets {
		for _, v := range values {
			if _, err := s.insertValue(ctx, tx, id, kind, v); err != nil {
				return err
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	setting.ID = id
	setting.CreatedAt, _ = time.Parse(timeLayout, now)
	return nil
}

// GetSetting returns a single setting by its ID.
func (s *SQL) GetSetting(ctx context.Context, id int64) (*model.NotificationSetting, error) {
	return s.getSetting(ctx, `SELECT `+settingColumns+` FROM bn_settings s WHERE s.id = ?`, id)
}

// GetSettingByChannel returns the setting attached to a channel.
func (s *SQL) GetSettingByChannel(ctx context.Context, channelID string) (*model.NotificationSetting, error) {
	return s.getSetting(ctx, `SELECT `+settingColumns+` FROM bn_settings s WHERE s.channel_id = ?`, channelID)
}

func (s *SQL) getSetting(ctx context.Context, query string, arg any) (*model.NotificationSetting, error) {
	setting, err := scanSetting(s.db.QueryRowContext(ctx, s.q(query), arg))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := s.loadValues(ctx, s.db, setting); err != nil {
		return nil, err
	}
	return setting, nil
}

// ListGuildSettings returns the settings of a guild in creation order.
func (s *SQL) ListGuildSettings(ctx context.Context, guildID string) ([]model.NotificationSetting, error) {
	return s.listSettings(ctx,
		`SELECT `+settingColumns+` FROM bn_settings s WHERE s.guild_id = ? ORDER BY s.id`, guildID)
}

// ListSettingsForUsername returns every setting whose usernames contain username.
func (s *SQL) ListSettingsForUsername(ctx context.Context, username string) ([]model.NotificationSetting, error) {
	return s.listSettings(ctx,
		`SELECT `+settingColumns+`
		 FROM bn_settings s
		 JOIN bn_mapped_users m ON m.setting_id = s.id
		 JOIN bn_users u ON u.id = m.user_id
		 WHERE u.username = ?
		 ORDER BY s.id`, username)
}

func (s *SQL) listSettings(ctx context.Context, query string, args ...any) ([]model.NotificationSetting, error) {
	rows, err := s.db.QueryContext(ctx, s.q(query), args...)
	if err != nil {
		return nil, fmt.Errorf("query settings: %w", err)
	}
	settings, err := scanSettings(rows)
	_ = rows.Close()
	if err != nil {
		return nil, err
	}

	// Value sets are loaded after the rows are closed; the SQLite pool has a single connection.
	for i := range settings {
		if err := s.loadValues(ctx, s.db, &settings[i]); err != nil {
			return nil, err
		}
	}
	return settings, nil
}

// CountGuildSettings returns the number of settings in a guild.
func (s *SQL) CountGuildSettings(ctx context.Context, guildID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, s.q(`SELECT COUNT(*) FROM bn_settings WHERE guild_id = ?`), guildID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count settings: %w", err)
	}
	return count, nil
}

// ListGuildIDs returns every guild that has settings or custom prefixes.
func (s *SQL) ListGuildIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT guild_id FROM bn_settings UNION SELECT guild_id FROM custom_prefixes ORDER BY 1`)
	if err != nil {
		return nil, fmt.Errorf("query guild ids: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return scanStrings(rows)
}

// DeleteSetting removes a setting and its value sets. It reports false if nothing was deleted.
func (s *SQL) DeleteSetting(ctx context.Context, id int64) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, table := range []string{"bn_mapped_users", "bn_keyword_filters", "bn_subreddit_filters"} {
		if _, err := tx.ExecContext(ctx, s.q(`DELETE FROM `+table+` WHERE setting_id = ?`), id); err != nil {
			return false, fmt.Errorf("delete %s: %w", table, err)
		}
	}
	res, err := tx.ExecContext(ctx, s.q(`DELETE FROM bn_settings WHERE id = ?`), id)
	if err != nil {
		return false, fmt.Errorf("delete setting: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit: %w", err)
	}
	return n > 0, nil
}

// AddValue adds value to the set identified by kind.
func (s *SQL) AddValue(ctx context.Context, settingID int64, kind model.FilterKind, value string, limit int) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var exists int
	if err := tx.QueryRowContext(ctx, s.q(`SELECT COUNT(*) FROM bn_settings WHERE id = ?`), settingID).Scan(&exists); err != nil {
		return false, fmt.Errorf("check setting: %w", err)
	}
	if exists == 0 {
		return false, ErrNotFound
	}

	values, err := s.values(ctx, tx, settingID, kind)
	if err != nil {
		return false, err
	}
	for _, v := range values {
		if v == value {
			return false, nil
		}
	}
	if limit > 0 && len(values) >= limit {
		return false, ErrLimitReached
	}

	added, err := s.insertValue(ctx, tx, settingID, kind, value)
	if err != nil {
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit: %w", err)
	}
	return added, nil
}

// RemoveValue removes value from the set identified by kind. It reports false if it was absent.
func (s *SQL) RemoveValue(ctx context.Context, settingID int64, kind model.FilterKind, value string) (bool, error) {
	var query string
	switch kind {
	case model.FilterUsername:
		query = `DELETE FROM bn_mapped_users
		         WHERE setting_id = ? AND user_id IN (SELECT id FROM bn_users WHERE username = ?)`
	default:
		table, column, err := valueTable(kind)
		if err != nil {
			return false, err
		}
		query = `DELETE FROM ` + table + ` WHERE setting_id = ? AND ` + column + ` = ?`
	}

	res, err := s.db.ExecContext(ctx, s.q(query), settingID, value)
	if err != nil {
		return false, fmt.Errorf("remove %s: %w", kind, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n > 0, nil
}

// ClearValues empties the set identified by kind.
func (s *SQL) ClearValues(ctx context.Context, settingID int64, kind model.FilterKind) error {
	return s.clearValues(ctx, s.db, settingID, kind)
}

// ReplaceValues overwrites the value sets and custom text of a setting.
func (s *SQL) ReplaceValues(ctx context.Context, settingID int64, values map[model.FilterKind][]string, customText string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, s.q(`UPDATE bn_settings SET custom_text = ? WHERE id = ?`), customText, settingID)
	if err != nil {
		return fmt.Errorf("update custom text: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return fmt.Errorf("rows affected: %w", err)
	} else if n == 0 {
		return ErrNotFound
	}

	for _, kind := range []model.FilterKind{model.FilterUsername, model.FilterKeyword, model.FilterSubreddit} {
		if err := s.clearValues(ctx, tx, settingID, kind); err != nil {
			return err
		}
		for _, v := range values[kind] {
			if _, err := s.insertValue(ctx, tx, settingID, kind, v); err != nil {
				return err
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// SetCustomText updates the text sent along with notifications.
func (s *SQL) SetCustomText(ctx context.Context, settingID int64, text string) error {
	res, err := s.db.ExecContext(ctx, s.q(`UPDATE bn_settings SET custom_text = ? WHERE id = ?`), text, settingID)
	if err != nil {
		return fmt.Errorf("update custom text: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// IsDatasetUser reports whether username belongs to the notification testing dataset.
func (s *SQL) IsDatasetUser(ctx context.Context, username string) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx, s.q(`SELECT COUNT(*) FROM bn_dataset_users WHERE username = ?`), username).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("check dataset user: %w", err)
	}
	return count > 0, nil
}

// SetDatasetUser adds or removes a testing dataset user. It reports whether anything changed.
func (s *SQL) SetDatasetUser(ctx context.Context, username string, member bool) (bool, error) {
	query := `DELETE FROM bn_dataset_users WHERE username = ?`
	if member {
		query = `INSERT INTO bn_dataset_users (username) VALUES (?) ON CONFLICT DO NOTHING`
	}
	return s.execChanged(ctx, query, username)
}

// GetPrefixes returns the custom prefixes of a guild in their configured order.
func (s *SQL) GetPrefixes(ctx context.Context, guildID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		s.q(`SELECT prefix FROM custom_prefixes WHERE guild_id = ? ORDER BY position`), guildID)
	if err != nil {
		return nil, fmt.Errorf("query prefixes: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return scanStrings(rows)
}

// SetPrefixes replaces the custom prefixes of a guild. An empty list removes them.
func (s *SQL) SetPrefixes(ctx context.Context, guildID string, prefixes []string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, s.q(`DELETE FROM custom_prefixes WHERE guild_id = ?`), guildID); err != nil {
		return fmt.Errorf("delete prefixes: %w", err)
	}
	for i, p := range prefixes {
		if _, err := tx.ExecContext(ctx,
			s.q(`INSERT INTO custom_prefixes (guild_id, position, prefix) VALUES (?, ?, ?)`),
			guildID, i, p,
		); err != nil {
			return fmt.Errorf("insert prefix: %w", err)
		}
	}
	return tx.Commit()
}

// DeletePrefixes removes every custom prefix of a guild. It reports false if there were none.
func (s *SQL) DeletePrefixes(ctx context.Context, guildID string) (bool, error) {
	return s.execChanged(ctx, `DELETE FROM custom_prefixes WHERE guild_id = ?`, guildID)
}

// IsExcluded reports whether id is on the given exclusion list.
func (s *SQL) IsExcluded(ctx context.Context, kind ExclusionKind, id string) (bool, error) {
	table, column, err := exclusionTable(kind)
	if err != nil {
		return false, err
	}
	var count int
	err = s.db.QueryRowContext(ctx, s.q(`SELECT COUNT(*) FROM `+table+` WHERE `+column+` = ?`), id).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("check exclusion: %w", err)
	}
	return count > 0, nil
}

// SetExcluded adds or removes id from an exclusion list. It reports whether anything changed.
func (s *SQL) SetExcluded(ctx context.Context, kind ExclusionKind, id string, excluded bool) (bool, error) {
	table, column, err := exclusionTable(kind)
	if err != nil {
		return false, err
	}
	if !excluded {
		return s.execChanged(ctx, `DELETE FROM `+table+` WHERE `+column+` = ?`, id)
	}
	now := time.Now().UTC().Format(timeLayout)
	return s.execChanged(ctx,
		`INSERT INTO `+table+` (`+column+`, created_at) VALUES (?, ?) ON CONFLICT DO NOTHING`, id, now)
}

func (s *SQL) execChanged(ctx context.Context, query string, args ...any) (bool, error) {
	res, err := s.db.ExecContext(ctx, s.q(query), args...)
	if err != nil {
		return false, fmt.Errorf("exec: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n > 0, nil
}

func (s *SQL) insertValue(ctx context.Context, q querier, settingID int64, kind model.FilterKind, value string) (bool, error) {
	if kind == model.FilterUsername {
		if _, err := q.ExecContext(ctx,
			s.q(`INSERT INTO bn_users (username) VALUES (?) ON CONFLICT DO NOTHING`), value); err != nil {
			return false, fmt.Errorf("insert user: %w", err)
		}
		var userID int64
		if err := q.QueryRowContext(ctx, s.q(`SELECT id FROM bn_users WHERE username = ?`), value).Scan(&userID); err != nil {
			return false, fmt.Errorf("select user: %w", err)
		}
		res, err := q.ExecContext(ctx,
			s.q(`INSERT INTO bn_mapped_users (setting_id, user_id) VALUES (?, ?) ON CONFLICT DO NOTHING`),
			settingID, userID)
		if err != nil {
			return false, fmt.Errorf("map user: %w", err)
		}
		n, err := res.RowsAffected()
		return n > 0, err
	}

	table, column, err := valueTable(kind)
	if err != nil {
		return false, err
	}
	res, err := q.ExecContext(ctx,
		s.q(`INSERT INTO `+table+` (setting_id, `+column+`) VALUES (?, ?) ON CONFLICT DO NOTHING`),
		settingID, value)
	if err != nil {
		return false, fmt.Errorf("insert %s: %w", kind, err)
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (s *SQL) clearValues(ctx context.Context, q querier, settingID int64, kind model.FilterKind) error {
	table := "bn_mapped_users"
	if kind != model.FilterUsername {
		var err error
		if table, _, err = valueTable(kind); err != nil {
			return err
		}
	}
	if _, err := q.ExecContext(ctx, s.q(`DELETE FROM `+table+` WHERE setting_id = ?`), settingID); err != nil {
		return fmt.Errorf("clear %s: %w", kind, err)
	}
	return nil
}

func (s *SQL) values(ctx context.Context, q querier, settingID int64, kind model.FilterKind) ([]string, error) {
	var query string
	switch kind {
	case model.FilterUsername:
		query = `SELECT u.username FROM bn_mapped_users m JOIN bn_users u ON u.id = m.user_id
		         WHERE m.setting_id = ? ORDER BY u.username`
	default:
		table, column, err := valueTable(kind)
		if err != nil {
			return nil, err
		}
		query = `SELECT ` + column + ` FROM ` + table + ` WHERE setting_id = ? ORDER BY ` + column
	}

	rows, err := q.QueryContext(ctx, s.q(query), settingID)
	if err != nil {
		return nil, fmt.Errorf("query %s values: %w", kind, err)
	}
	defer func() { _ = rows.Close() }()
	return scanStrings(rows)
}

func (s *SQL) loadValues(ctx context.Context, q querier, setting *model.NotificationSetting) error {
	var err error
	if setting.Usernames, err = s.values(ctx, q, setting.ID, model.FilterUsername); err != nil {
		return err
	}
	if setting.KeywordFilters, err = s.values(ctx, q, setting.ID, model.FilterKeyword); err != nil {
		return err
	}
	if setting.SubredditFilters, err = s.values(ctx, q, setting.ID, model.FilterSubreddit); err != nil {
		return err
	}
	return nil
}

func valueTable(kind model.FilterKind) (table, column string, err error) {
	switch kind {
	case model.FilterKeyword:
		return "bn_keyword_filters", "keyword", nil
	case model.FilterSubreddit:
		return "bn_subreddit_filters", "subreddit", nil
	}
	return "", "", fmt.Errorf("unknown filter kind %q", kind)
}

func exclusionTable(kind ExclusionKind) (table, column string, err error) {
	switch kind {
	case ExcludedUser:
		return "excluded_users", "user_id", nil
	case ExcludedGuild:
		return "excluded_guilds", "guild_id", nil
	}
	return "", "", fmt.Errorf("unknown exclusion kind %q", kind)
}

type scannable interface {
	Scan(dest ...any) error
}

func scanSetting(row scannable) (*model.NotificationSetting, error) {
	var s model.NotificationSetting
	var created string
	err := row.Scan(&s.ID, &s.GuildID, &s.ChannelID, &s.WebhookURL, &s.CustomText, &created)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan setting: %w", err)
	}
	s.CreatedAt, _ = time.Parse(timeLayout, created)
	return &s, nil
}

func scanSettings(rows *sql.Rows) ([]model.NotificationSetting, error) {
	var settings []model.NotificationSetting
	for rows.Next() {
		s, err := scanSetting(rows)
		if err != nil {
			return nil, err
		}
		settings = append(settings, *s)
	}
	return settings, rows.Err()
}

func scanStrings(rows *sql.Rows) ([]string, error) {
	var out []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("scan value: %w", err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}
