package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/unblockd/unblockd/internal/model"
)

// SaveReport persists a completed check. Reports are immutable after
// creation.
func (s *Store) SaveReport(ctx context.Context, r model.Report) error {
	services, err := json.Marshal(r.Services)
	if err != nil {
		return fmt.Errorf("encoding report services: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO reports (id, user_id, host_id, ip, services, summary, blocked, unblocked, success, created_at, expires_at)
		 VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		r.ID, r.UserID, r.HostID, r.IP, string(services), r.Summary,
		r.Blocked, r.Unblocked, r.Success, r.CreatedAt, r.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("inserting report %s: %w", r.ID, err)
	}
	return nil
}

// FindReport returns a report by id. ErrNotFound for unknown ids,
// ErrExpired once created_at + TTL has elapsed - expired reports stay
// on disk until the purge sweep but are no longer accessible.
func (s *Store) FindReport(ctx context.Context, id string, now time.Time) (model.Report, error) {
	var r model.Report
	var services string
	row := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, host_id, ip, services, summary, blocked, unblocked, success, created_at, expires_at
		 FROM reports WHERE id=?`, id,
	)
	err := row.Scan(&r.ID, &r.UserID, &r.HostID, &r.IP, &services, &r.Summary,
		&r.Blocked, &r.Unblocked, &r.Success, &r.CreatedAt, &r.ExpiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return r, ErrNotFound
	}
	if err != nil {
		return r, err
	}
	if err := json.Unmarshal([]byte(services), &r.Services); err != nil {
		return r, fmt.Errorf("decoding report services: %w", err)
	}
	if r.Expired(now) {
		return r, ErrExpired
	}
	return r, nil
}

// PurgeExpiredReports deletes reports whose expiry lies before now.
// Returns the number of purged rows.
func (s *Store) PurgeExpiredReports(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM reports WHERE expires_at < ?`, now)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
