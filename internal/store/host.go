package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/unblockd/unblockd/internal/model"
)

// SaveHost inserts a new host or updates an existing one (matched by id).
// Returns the host id.
func (s *Store) SaveHost(ctx context.Context, h model.Host) (int64, error) {
	if h.ID == 0 {
		res, err := s.db.ExecContext(ctx,
			`INSERT INTO hosts (fqdn, addr, port, user, panel) VALUES (?,?,?,?,?)`,
			h.FQDN, h.Addr, h.Port, h.User, string(h.Panel),
		)
		if err != nil {
			return 0, fmt.Errorf("inserting host %s: %w", h.FQDN, err)
		}
		return res.LastInsertId()
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE hosts SET fqdn=?, addr=?, port=?, user=?, panel=? WHERE id=?`,
		h.FQDN, h.Addr, h.Port, h.User, string(h.Panel), h.ID,
	)
	if err != nil {
		return 0, fmt.Errorf("updating host %d: %w", h.ID, err)
	}
	return h.ID, nil
}

func scanHost(row interface{ Scan(...any) error }) (model.Host, error) {
	var h model.Host
	var panel string
	var keyCreated sql.NullTime
	err := row.Scan(&h.ID, &h.FQDN, &h.Addr, &h.Port, &h.User, &panel, &h.PublicKey, &keyCreated, &h.HostKey)
	if errors.Is(err, sql.ErrNoRows) {
		return h, ErrNotFound
	}
	if err != nil {
		return h, err
	}
	h.Panel = model.Panel(panel)
	if keyCreated.Valid {
		t := keyCreated.Time
		h.KeyCreatedAt = &t
	}
	return h, nil
}

const hostColumns = `id, fqdn, addr, port, user, panel, public_key, key_created_at, host_key`

func (s *Store) FindHost(ctx context.Context, id int64) (model.Host, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+hostColumns+` FROM hosts WHERE id=?`, id)
	return scanHost(row)
}

func (s *Store) FindHostByFQDN(ctx context.Context, fqdn string) (model.Host, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+hostColumns+` FROM hosts WHERE fqdn=?`, fqdn)
	return scanHost(row)
}

func (s *Store) ListHosts(ctx context.Context) ([]model.Host, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+hostColumns+` FROM hosts ORDER BY fqdn`)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = rows.Close()
	}()
	var hosts []model.Host
	for rows.Next() {
		h, err := scanHost(rows)
		if err != nil {
			return nil, err
		}
		hosts = append(hosts, h)
	}
	return hosts, rows.Err()
}

// SetHostKey records the currently installed ephemeral public key.
// At most one active key pair per host at a time.
func (s *Store) SetHostKey(ctx context.Context, hostID int64, publicKey string, createdAt time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE hosts SET public_key=?, key_created_at=? WHERE id=?`,
		publicKey, createdAt, hostID,
	)
	return err
}

func (s *Store) ClearHostKey(ctx context.Context, hostID int64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE hosts SET public_key='', key_created_at=NULL WHERE id=?`, hostID,
	)
	return err
}

// PinHostKey records the sshd host key observed on the first connect.
// A pin is written once; replacing it after a legitimate host
// reinstall is a manual operator action.
func (s *Store) PinHostKey(ctx context.Context, hostID int64, hostKey string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE hosts SET host_key=? WHERE id=? AND host_key=''`,
		hostKey, hostID,
	)
	return err
}

// SaveUser upserts a user record.
func (s *Store) SaveUser(ctx context.Context, id, email string, admin bool) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (id, email, admin) VALUES (?,?,?)
		 ON CONFLICT(id) DO UPDATE SET email=excluded.email, admin=excluded.admin`,
		id, email, admin,
	)
	return err
}

func (s *Store) FindUser(ctx context.Context, id string) (model.User, error) {
	var u model.User
	err := s.db.QueryRowContext(ctx,
		`SELECT id, email, admin FROM users WHERE id=?`, id,
	).Scan(&u.ID, &u.Email, &u.Admin)
	if errors.Is(err, sql.ErrNoRows) {
		return u, ErrNotFound
	}
	return u, err
}

// Grant activates an access grant for userID on hostID.
func (s *Store) Grant(ctx context.Context, userID string, hostID int64) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO grants (user_id, host_id, active) VALUES (?,?,TRUE)
		 ON CONFLICT(user_id, host_id) DO UPDATE SET active=TRUE`,
		userID, hostID,
	)
	return err
}

func (s *Store) RevokeGrant(ctx context.Context, userID string, hostID int64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE grants SET active=FALSE WHERE user_id=? AND host_id=?`,
		userID, hostID,
	)
	return err
}

// CheckAccess reports whether userID may act on hostID: administrators
// always may, others need an explicit active grant.
func (s *Store) CheckAccess(ctx context.Context, userID string, hostID int64) (bool, error) {
	var admin bool
	err := s.db.QueryRowContext(ctx, `SELECT admin FROM users WHERE id=?`, userID).Scan(&admin)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if admin {
		return true, nil
	}
	var active bool
	err = s.db.QueryRowContext(ctx,
		`SELECT active FROM grants WHERE user_id=? AND host_id=?`, userID, hostID,
	).Scan(&active)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return active, nil
}
