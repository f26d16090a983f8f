package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

type CaptcherSettings struct {
	GuildID               string
	GiveRoleID            string
	TempRoleID            string
	VerificationChannelID string
	LogsChannelID         string
	Active                bool
}

type ChallengeRecord struct {
	ID         string
	GuildID    string
	UserID     string
	ChannelID  string
	Reason     string
	Outcome    string
	StartedAt  time.Time
	FinishedAt *time.Time
}

func (s *Store) GetCaptcherSettings(ctx context.Context, guildID string) (CaptcherSettings, error) {
	row := s.queryRow(ctx, `
		SELECT give_role_id, temp_role_id, verification_channel_id, logs_channel_id, active
		FROM captcher_settings WHERE guild_id = ?`, guildID)

	result := CaptcherSettings{GuildID: guildID}
	var active int
	err := row.Scan(
		&result.GiveRoleID,
		&result.TempRoleID,
		&result.VerificationChannelID,
		&result.LogsChannelID,
		&active,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return result, nil
		}
		return CaptcherSettings{}, err
	}
	result.Active = active == 1
	return result, nil
}

func (s *Store) UpsertCaptcherSettings(ctx context.Context, settings CaptcherSettings) error {
	_, err := s.exec(ctx, `
		INSERT INTO captcher_settings (
			guild_id, give_role_id, temp_role_id, verification_channel_id, logs_channel_id, active
		) VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (guild_id) DO UPDATE SET
			give_role_id = excluded.give_role_id,
			temp_role_id = excluded.temp_role_id,
			verification_channel_id = excluded.verification_channel_id,
			logs_channel_id = excluded.logs_channel_id,
			active = excluded.active
	`,
		settings.GuildID,
		settings.GiveRoleID,
		settings.TempRoleID,
		settings.VerificationChannelID,
		settings.LogsChannelID,
		boolToInt(settings.Active),
	)
	return err
}

func (s *Store) RecordChallenge(ctx context.Context, record ChallengeRecord) error {
	_, err := s.exec(ctx, `
		INSERT INTO captcher_sessions (id, guild_id, user_id, channel_id, reason, outcome, started_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, record.ID, record.GuildID, record.UserID, record.ChannelID, record.Reason, record.Outcome, record.StartedAt.Unix())
	return err
}

func (s *Store) FinishChallenge(ctx context.Context, id, outcome string, at time.Time) error {
	_, err := s.exec(ctx, `
		UPDATE captcher_sessions SET outcome = ?, finished_at = ? WHERE id = ?
	`, outcome, at.Unix(), id)
	return err
}

func (s *Store) ListChallenges(ctx context.Context, guildID string, since time.Time) ([]ChallengeRecord, error) {
	rows, err := s.query(ctx, `
		SELECT id, guild_id, user_id, channel_id, reason, outcome, started_at, finished_at
		FROM captcher_sessions
		WHERE guild_id = ? AND started_at >= ?
		ORDER BY started_at DESC
	`, guildID, since.Unix())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []ChallengeRecord
	for rows.Next() {
		var record ChallengeRecord
		var started int64
		var finished sql.NullInt64
		if err := rows.Scan(&record.ID, &record.GuildID, &record.UserID, &record.ChannelID, &record.Reason, &record.Outcome, &started, &finished); err != nil {
			return nil, err
		}
		record.StartedAt = time.Unix(started, 0)
		if finished.Valid {
			value := time.Unix(finished.Int64, 0)
			record.FinishedAt = &value
		}
		records = append(records, record)
	}
	return records, rows.Err()
}
