package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

const (
	ScopeChannel  = "channel"
	ScopeCategory = "category"
)

type CooldownSettings struct {
	GuildID         string
	SendDM          bool
	IgnoreBot       bool
	ChannelMessage  string
	CategoryMessage string
}

type CooldownEntry struct {
	GuildID  string
	TargetID string
	Seconds  int64
	Channels []string
}

func (s *Store) GetCooldownSettings(ctx context.Context, guildID string, defaults CooldownSettings) (CooldownSettings, error) {
	row := s.queryRow(ctx, `
		SELECT send_dm, ignore_bot, channel_message, category_message
		FROM cooldown_settings WHERE guild_id = ?`, guildID)

	result := defaults
	result.GuildID = guildID

	var sendDM, ignoreBot int
	err := row.Scan(&sendDM, &ignoreBot, &result.ChannelMessage, &result.CategoryMessage)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return result, nil
		}
		return CooldownSettings{}, err
	}
	result.SendDM = sendDM == 1
	result.IgnoreBot = ignoreBot == 1
	return result, nil
}

func (s *Store) UpsertCooldownSettings(ctx context.Context, settings CooldownSettings) error {
	_, err := s.exec(ctx, `
		INSERT INTO cooldown_settings (guild_id, send_dm, ignore_bot, channel_message, category_message)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (guild_id) DO UPDATE SET
			send_dm = excluded.send_dm,
			ignore_bot = excluded.ignore_bot,
			channel_message = excluded.channel_message,
			category_message = excluded.category_message
	`,
		settings.GuildID,
		boolToInt(settings.SendDM),
		boolToInt(settings.IgnoreBot),
		settings.ChannelMessage,
		settings.CategoryMessage,
	)
	return err
}

func (s *Store) GetCooldownChannel(ctx context.Context, guildID, channelID string) (CooldownEntry, bool, error) {
	entry := CooldownEntry{GuildID: guildID, TargetID: channelID}
	row := s.queryRow(ctx, `SELECT seconds FROM cooldown_channels WHERE guild_id = ? AND channel_id = ?`, guildID, channelID)
	if err := row.Scan(&entry.Seconds); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return CooldownEntry{}, false, nil
		}
		return CooldownEntry{}, false, err
	}
	return entry, true, nil
}

func (s *Store) ListCooldownChannels(ctx context.Context, guildID string) ([]CooldownEntry, error) {
	rows, err := s.query(ctx, `
		SELECT channel_id, seconds FROM cooldown_channels WHERE guild_id = ? ORDER BY channel_id
	`, guildID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []CooldownEntry
	for rows.Next() {
		entry := CooldownEntry{GuildID: guildID}
		if err := rows.Scan(&entry.TargetID, &entry.Seconds); err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// UpsertCooldownChannel sets the channel duration and forgets every recorded timestamp for it.
func (s *Store) UpsertCooldownChannel(ctx context.Context, guildID, channelID string, seconds int64) error {
	return s.withTx(ctx, func(tx *txHelper) error {
		if _, err := tx.exec(ctx, `
			INSERT INTO cooldown_channels (guild_id, channel_id, seconds) VALUES (?, ?, ?)
			ON CONFLICT (guild_id, channel_id) DO UPDATE SET seconds = excluded.seconds
		`, guildID, channelID, seconds); err != nil {
			return err
		}
		_, err := tx.exec(ctx, `
			DELETE FROM cooldown_timestamps WHERE guild_id = ? AND scope = ? AND target_id = ?
		`, guildID, ScopeChannel, channelID)
		return err
	})
}

func (s *Store) DeleteCooldownChannel(ctx context.Context, guildID, channelID string) (bool, error) {
	var removed bool
	err := s.withTx(ctx, func(tx *txHelper) error {
		res, err := tx.exec(ctx, `DELETE FROM cooldown_channels WHERE guild_id = ? AND channel_id = ?`, guildID, channelID)
		if err != nil {
			return err
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return err
		}
		removed = affected > 0
		_, err = tx.exec(ctx, `
			DELETE FROM cooldown_timestamps WHERE guild_id = ? AND scope = ? AND target_id = ?
		`, guildID, ScopeChannel, channelID)
		return err
	})
	return removed, err
}

func (s *Store) GetCooldownCategory(ctx context.Context, guildID, categoryID string) (CooldownEntry, bool, error) {
	entry := CooldownEntry{GuildID: guildID, TargetID: categoryID}
	row := s.queryRow(ctx, `SELECT seconds FROM cooldown_categories WHERE guild_id = ? AND category_id = ?`, guildID, categoryID)
	if err := row.Scan(&entry.Seconds); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return CooldownEntry{}, false, nil
		}
		return CooldownEntry{}, false, err
	}

	channels, err := s.categoryChannels(ctx, guildID, categoryID)
	if err != nil {
		return CooldownEntry{}, false, err
	}
	entry.Channels = channels
	return entry, true, nil
}

func (s *Store) ListCooldownCategories(ctx context.Context, guildID string) ([]CooldownEntry, error) {
	rows, err := s.query(ctx, `
		SELECT category_id, seconds FROM cooldown_categories WHERE guild_id = ? ORDER BY category_id
	`, guildID)
	if err != nil {
		return nil, err
	}

	var entries []CooldownEntry
	for rows.Next() {
		entry := CooldownEntry{GuildID: guildID}
		if err := rows.Scan(&entry.TargetID, &entry.Seconds); err != nil {
			rows.Close()
			return nil, err
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	for i := range entries {
		channels, err := s.categoryChannels(ctx, guildID, entries[i].TargetID)
		if err != nil {
			return nil, err
		}
		entries[i].Channels = channels
	}
	return entries, nil
}

// UpsertCooldownCategory sets the category duration, replaces its channel snapshot and
// forgets every recorded timestamp for it.
func (s *Store) UpsertCooldownCategory(ctx context.Context, guildID, categoryID string, seconds int64, channels []string) error {
	return s.withTx(ctx, func(tx *txHelper) error {
		if _, err := tx.exec(ctx, `
			INSERT INTO cooldown_categories (guild_id, category_id, seconds) VALUES (?, ?, ?)
			ON CONFLICT (guild_id, category_id) DO UPDATE SET seconds = excluded.seconds
		`, guildID, categoryID, seconds); err != nil {
			return err
		}
		if err := replaceCategoryChannels(ctx, tx, guildID, categoryID, channels); err != nil {
			return err
		}
		_, err := tx.exec(ctx, `
			DELETE FROM cooldown_timestamps WHERE guild_id = ? AND scope = ? AND target_id = ?
		`, guildID, ScopeCategory, categoryID)
		return err
	})
}

// SetCategoryChannels replaces the channel snapshot of a registered category, keeping timestamps.
func (s *Store) SetCategoryChannels(ctx context.Context, guildID, categoryID string, channels []string) error {
	return s.withTx(ctx, func(tx *txHelper) error {
		return replaceCategoryChannels(ctx, tx, guildID, categoryID, channels)
	})
}

func (s *Store) AddCategoryChannel(ctx context.Context, guildID, categoryID, channelID string) error {
	_, err := s.exec(ctx, `
		INSERT INTO cooldown_category_channels (guild_id, category_id, channel_id) VALUES (?, ?, ?)
		ON CONFLICT DO NOTHING
	`, guildID, categoryID, channelID)
	return err
}

// RemoveChannelFromCategories drops the channel from every category snapshot except keep.
func (s *Store) RemoveChannelFromCategories(ctx context.Context, guildID, channelID, keep string) error {
	_, err := s.exec(ctx, `
		DELETE FROM cooldown_category_channels WHERE guild_id = ? AND channel_id = ? AND category_id <> ?
	`, guildID, channelID, keep)
	return err
}

func (s *Store) DeleteCooldownCategory(ctx context.Context, guildID, categoryID string) (bool, error) {
	var removed bool
	err := s.withTx(ctx, func(tx *txHelper) error {
		res, err := tx.exec(ctx, `DELETE FROM cooldown_categories WHERE guild_id = ? AND category_id = ?`, guildID, categoryID)
		if err != nil {
			return err
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return err
		}
		removed = affected > 0
		if _, err := tx.exec(ctx, `
			DELETE FROM cooldown_category_channels WHERE guild_id = ? AND category_id = ?
		`, guildID, categoryID); err != nil {
			return err
		}
		_, err = tx.exec(ctx, `
			DELETE FROM cooldown_timestamps WHERE guild_id = ? AND scope = ? AND target_id = ?
		`, guildID, ScopeCategory, categoryID)
		return err
	})
	return removed, err
}

func (s *Store) GetCooldownTimestamp(ctx context.Context, guildID, scope, targetID, userID string) (time.Time, bool, error) {
	var last int64
	row := s.queryRow(ctx, `
		SELECT last_at FROM cooldown_timestamps
		WHERE guild_id = ? AND scope = ? AND target_id = ? AND user_id = ?
	`, guildID, scope, targetID, userID)
	if err := row.Scan(&last); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return time.Time{}, false, nil
		}
		return time.Time{}, false, err
	}
	return time.Unix(last, 0), true, nil
}

func (s *Store) SetCooldownTimestamp(ctx context.Context, guildID, scope, targetID, userID string, at time.Time) error {
	_, err := s.exec(ctx, `
		INSERT INTO cooldown_timestamps (guild_id, scope, target_id, user_id, last_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (guild_id, scope, target_id, user_id) DO UPDATE SET last_at = excluded.last_at
	`, guildID, scope, targetID, userID, at.Unix())
	return err
}

func (s *Store) DeleteCooldownTimestamp(ctx context.Context, guildID, scope, targetID, userID string) (bool, error) {
	res, err := s.exec(ctx, `
		DELETE FROM cooldown_timestamps
		WHERE guild_id = ? AND scope = ? AND target_id = ? AND user_id = ?
	`, guildID, scope, targetID, userID)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	return affected > 0, err
}

func (s *Store) AddIgnoredUser(ctx context.Context, guildID, userID string) (bool, error) {
	return s.execAffected(ctx, `
		INSERT INTO cooldown_ignored_users (guild_id, user_id) VALUES (?, ?) ON CONFLICT DO NOTHING
	`, guildID, userID)
}

func (s *Store) RemoveIgnoredUser(ctx context.Context, guildID, userID string) (bool, error) {
	return s.execAffected(ctx, `DELETE FROM cooldown_ignored_users WHERE guild_id = ? AND user_id = ?`, guildID, userID)
}

func (s *Store) ListIgnoredUsers(ctx context.Context, guildID string) ([]string, error) {
	return s.listIDs(ctx, `SELECT user_id FROM cooldown_ignored_users WHERE guild_id = ? ORDER BY user_id`, guildID)
}

func (s *Store) AddIgnoredRole(ctx context.Context, guildID, roleID string) (bool, error) {
	return s.execAffected(ctx, `
		INSERT INTO cooldown_ignored_roles (guild_id, role_id) VALUES (?, ?) ON CONFLICT DO NOTHING
	`, guildID, roleID)
}

func (s *Store) RemoveIgnoredRole(ctx context.Context, guildID, roleID string) (bool, error) {
	return s.execAffected(ctx, `DELETE FROM cooldown_ignored_roles WHERE guild_id = ? AND role_id = ?`, guildID, roleID)
}

func (s *Store) ListIgnoredRoles(ctx context.Context, guildID string) ([]string, error) {
	return s.listIDs(ctx, `SELECT role_id FROM cooldown_ignored_roles WHERE guild_id = ? ORDER BY role_id`, guildID)
}

func (s *Store) ResetCooldownGuild(ctx context.Context, guildID string) error {
	tables := []string{
		"cooldown_settings",
		"cooldown_channels",
		"cooldown_categories",
		"cooldown_category_channels",
		"cooldown_timestamps",
		"cooldown_ignored_users",
		"cooldown_ignored_roles",
	}
	return s.withTx(ctx, func(tx *txHelper) error {
		for _, table := range tables {
			if _, err := tx.exec(ctx, "DELETE FROM "+table+" WHERE guild_id = ?", guildID); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Store) categoryChannels(ctx context.Context, guildID, categoryID string) ([]string, error) {
	return s.listIDs(ctx, `
		SELECT channel_id FROM cooldown_category_channels
		WHERE guild_id = ? AND category_id = ? ORDER BY channel_id
	`, guildID, categoryID)
}

func (s *Store) execAffected(ctx context.Context, query string, args ...any) (bool, error) {
	res, err := s.exec(ctx, query, args...)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	return affected > 0, err
}

func (s *Store) listIDs(ctx context.Context, query string, args ...any) ([]string, error) {
	rows, err := s.query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func replaceCategoryChannels(ctx context.Context, tx *txHelper, guildID, categoryID string, channels []string) error {
	if _, err := tx.exec(ctx, `
		DELETE FROM cooldown_category_channels WHERE guild_id = ? AND category_id = ?
	`, guildID, categoryID); err != nil {
		return err
	}
	for _, channelID := range channels {
		if _, err := tx.exec(ctx, `
			INSERT INTO cooldown_category_channels (guild_id, category_id, channel_id) VALUES (?, ?, ?)
			ON CONFLICT DO NOTHING
		`, guildID, categoryID, channelID); err != nil {
			return err
		}
	}
	return nil
}
