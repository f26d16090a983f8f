package storage

import (
	"context"
	"database/sql"
	"errors"
)

type RepEntry struct {
	UserID  string
	Points  int
	Mention bool
}

func (s *Store) AddReputation(ctx context.Context, userID string, delta int) (int, error) {
	var points int
	err := s.withTx(ctx, func(tx *txHelper) error {
		row := tx.queryRow(ctx, `SELECT points FROM reputation WHERE user_id = ?`, userID)
		scanErr := row.Scan(&points)
		if scanErr != nil && !errors.Is(scanErr, sql.ErrNoRows) {
			return scanErr
		}
		points += delta

		_, err := tx.exec(ctx, `
			INSERT INTO reputation (user_id, points) VALUES (?, ?)
			ON CONFLICT (user_id) DO UPDATE SET points = excluded.points
		`, userID, points)
		return err
	})
	if err != nil {
		return 0, err
	}
	return points, nil
}

func (s *Store) GetReputation(ctx context.Context, userID string) (RepEntry, error) {
	entry := RepEntry{UserID: userID, Mention: true}
	var mention int
	row := s.queryRow(ctx, `SELECT points, mention FROM reputation WHERE user_id = ?`, userID)
	if err := row.Scan(&entry.Points, &mention); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return entry, nil
		}
		return RepEntry{}, err
	}
	entry.Mention = mention == 1
	return entry, nil
}

// ListReputation returns users holding at least one point, best first.
func (s *Store) ListReputation(ctx context.Context) ([]RepEntry, error) {
	rows, err := s.query(ctx, `
		SELECT user_id, points, mention FROM reputation
		WHERE points > 0
		ORDER BY points DESC, user_id ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []RepEntry
	for rows.Next() {
		var entry RepEntry
		var mention int
		if err := rows.Scan(&entry.UserID, &entry.Points, &mention); err != nil {
			return nil, err
		}
		entry.Mention = mention == 1
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

func (s *Store) SetRepMention(ctx context.Context, userID string, mention bool) error {
	_, err := s.exec(ctx, `
		INSERT INTO reputation (user_id, points, mention) VALUES (?, 0, ?)
		ON CONFLICT (user_id) DO UPDATE SET mention = excluded.mention
	`, userID, boolToInt(mention))
	return err
}

func (s *Store) RepMention(ctx context.Context, userID string) (bool, error) {
	entry, err := s.GetReputation(ctx, userID)
	if err != nil {
		return false, err
	}
	return entry.Mention, nil
}
