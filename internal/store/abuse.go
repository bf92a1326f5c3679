package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/unblockd/unblockd/internal/model"
)

// CreateIncident records an abuse incident and returns its id.
func (s *Store) CreateIncident(ctx context.Context, vector model.Vector, identifier, reason string) (string, error) {
	id := uuid.NewString()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO abuse_incidents (id, vector, identifier, reason, created_at) VALUES (?,?,?,?,?)`,
		id, string(vector), identifier, reason, time.Now().UTC(),
	)
	if err != nil {
		return "", err
	}
	return id, nil
}

// ResolveIncident marks an incident resolved. Resolving twice is not an
// error, resolving an unknown id is ErrNotFound.
func (s *Store) ResolveIncident(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE abuse_incidents SET resolved_at=COALESCE(resolved_at, ?) WHERE id=?`,
		time.Now().UTC(), id,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// OpenIncidents lists unresolved incidents, newest first.
func (s *Store) OpenIncidents(ctx context.Context) ([]model.AbuseIncident, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, vector, identifier, reason, created_at, resolved_at
		 FROM abuse_incidents WHERE resolved_at IS NULL ORDER BY created_at DESC`,
	)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = rows.Close()
	}()
	var incidents []model.AbuseIncident
	for rows.Next() {
		var inc model.AbuseIncident
		var vector string
		var resolved sql.NullTime
		if err := rows.Scan(&inc.ID, &vector, &inc.Identifier, &inc.Reason, &inc.CreatedAt, &resolved); err != nil {
			return nil, err
		}
		inc.Vector = model.Vector(vector)
		if resolved.Valid {
			t := resolved.Time
			inc.ResolvedAt = &t
		}
		incidents = append(incidents, inc)
	}
	return incidents, rows.Err()
}

// ReputationField selects which rolling counter to bump.
type ReputationField string

const (
	ReputationRequested ReputationField = "requested"
	ReputationVerified  ReputationField = "verified"
	ReputationFailed    ReputationField = "failed"
)

// BumpReputation atomically increments one rolling counter for the
// email address or IP. Counters accumulate and are never deleted.
func (s *Store) BumpReputation(ctx context.Context, identifier string, field ReputationField) error {
	var column string
	switch field {
	case ReputationRequested:
		column = "requested"
	case ReputationVerified:
		column = "verified"
	case ReputationFailed:
		column = "failed"
	default:
		return errors.New("unknown reputation field " + string(field))
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO reputation (identifier, `+column+`, updated_at) VALUES (?,1,?)
		 ON CONFLICT(identifier) DO UPDATE SET `+column+`=`+column+`+1, updated_at=excluded.updated_at`,
		identifier, time.Now().UTC(),
	)
	return err
}

func (s *Store) FindReputation(ctx context.Context, identifier string) (model.Reputation, error) {
	var r model.Reputation
	err := s.db.QueryRowContext(ctx,
		`SELECT identifier, requested, verified, failed, updated_at FROM reputation WHERE identifier=?`,
		identifier,
	).Scan(&r.Identifier, &r.Requested, &r.Verified, &r.Failed, &r.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return r, ErrNotFound
	}
	return r, err
}

// IncrementCounter atomically bumps the throttle counter of one vector
// and identifier inside the window starting at windowStart, returning
// the new count. Atomic increment in the store, not in the process -
// checks run across independent workers.
func (s *Store) IncrementCounter(ctx context.Context, vector model.Vector, identifier string, windowStart time.Time) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO counters (vector, identifier, window_start, count) VALUES (?,?,?,1)
		 ON CONFLICT(vector, identifier, window_start) DO UPDATE SET count=count+1
		 RETURNING count`,
		string(vector), identifier, windowStart,
	).Scan(&count)
	if err != nil {
		return 0, err
	}
	return count, nil
}

// PruneCounters drops counter windows that started before cutoff.
func (s *Store) PruneCounters(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM counters WHERE window_start < ?`, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
