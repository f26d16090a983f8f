package storage

import (
	"context"
	"time"
)

type ModCase struct {
	ID          int64
	GuildID     string
	Number      int
	Action      string
	UserID      string
	ModeratorID string
	Reason      string
	CreatedAt   time.Time
}

// AddModCase stores the case and returns its guild-scoped case number.
func (s *Store) AddModCase(ctx context.Context, modCase ModCase) (int, error) {
	createdAt := modCase.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	var number int
	err := s.withTx(ctx, func(tx *txHelper) error {
		row := tx.queryRow(ctx, `
			SELECT COALESCE(MAX(case_number), 0) FROM mod_cases WHERE guild_id = ?
		`, modCase.GuildID)
		if err := row.Scan(&number); err != nil {
			return err
		}
		number++

		_, err := tx.exec(ctx, `
			INSERT INTO mod_cases (guild_id, case_number, action, user_id, moderator_id, reason, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, modCase.GuildID, number, modCase.Action, modCase.UserID, modCase.ModeratorID, modCase.Reason, createdAt.Unix())
		return err
	})
	if err != nil {
		return 0, err
	}
	return number, nil
}

func (s *Store) ListModCases(ctx context.Context, guildID string, since time.Time) ([]ModCase, error) {
	rows, err := s.query(ctx, `
		SELECT id, guild_id, case_number, action, user_id, moderator_id, reason, created_at
		FROM mod_cases
		WHERE guild_id = ? AND created_at >= ?
		ORDER BY case_number DESC
	`, guildID, since.Unix())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cases []ModCase
	for rows.Next() {
		var c ModCase
		var created int64
		if err := rows.Scan(&c.ID, &c.GuildID, &c.Number, &c.Action, &c.UserID, &c.ModeratorID, &c.Reason, &created); err != nil {
			return nil, err
		}
		c.CreatedAt = time.Unix(created, 0)
		cases = append(cases, c)
	}
	return cases, rows.Err()
}
