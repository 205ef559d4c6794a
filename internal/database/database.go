package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

var (
	// ErrDuplicate is returned when an insert violates a uniqueness constraint.
	ErrDuplicate = errors.New("duplicate record")
)

// DB wraps a SQLite connection.
type DB struct {
	conn *sqlx.DB
}

// queryer is satisfied by both *sqlx.DB and *sqlx.Tx.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	GetContext(ctx context.Context, dest any, query string, args ...any) error
	SelectContext(ctx context.Context, dest any, query string, args ...any) error
}

// Store exposes the record operations. A Store obtained from InTx runs every
// call inside that transaction; one from DB.Store runs each call on its own.
type Store struct {
	q queryer
}

// Open opens (or creates) the SQLite database at path and applies the schema.
func Open(path string) (*DB, error) {
	conn, err := sqlx.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Single writer. Every lifecycle transaction holds the only connection,
	// so status compare-and-set plus its dependent writes are serialized.
	conn.SetMaxOpenConns(1)

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if _, err := conn.Exec(schema); err != nil {
		conn.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &DB{conn: conn}, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Ping checks the connection.
func (db *DB) Ping(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}

// Store returns a non-transactional store.
func (db *DB) Store() *Store {
	return &Store{q: db.conn}
}

// InTx runs fn inside a single transaction. The transaction commits only if
// fn returns nil; an error or panic rolls everything back.
func (db *DB) InTx(ctx context.Context, fn func(s *Store) error) (err error) {
	tx, err := db.conn.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = fn(&Store{q: tx}); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// IsRetryable reports whether err is a transient storage condition (busy or
// locked database, expired deadline) that a caller may retry.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var se *sqlite.Error
	if errors.As(err, &se) {
		switch se.Code() & 0xff {
		case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
			return true
		}
	}
	return strings.Contains(err.Error(), "database is locked")
}

func isUniqueViolation(err error) bool {
	var se *sqlite.Error
	if errors.As(err, &se) && se.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE {
		return true
	}
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// get wraps GetContext so that a missing row yields (false, nil).
func (s *Store) get(ctx context.Context, dest any, query string, args ...any) (bool, error) {
	err := s.q.GetContext(ctx, dest, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// exec runs a write and returns the number of affected rows.
func (s *Store) exec(ctx context.Context, query string, args ...any) (int64, error) {
	res, err := s.q.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

const schema = `
CREATE TABLE IF NOT EXISTS users (
	id                TEXT PRIMARY KEY,
	email             TEXT UNIQUE NOT NULL,
	role              TEXT NOT NULL CHECK (role IN ('DONOR', 'RECIPIENT', 'ADMIN')),
	first_name        TEXT NOT NULL DEFAULT '',
	last_name         TEXT NOT NULL DEFAULT '',
	organization_name TEXT,
	created_at        DATETIME NOT NULL,
	updated_at        DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS donations (
	id                  TEXT PRIMARY KEY,
	donor_id            TEXT NOT NULL REFERENCES users(id),
	title               TEXT NOT NULL,
	description         TEXT NOT NULL,
	category            TEXT NOT NULL,
	condition           TEXT NOT NULL,
	photos              TEXT NOT NULL DEFAULT '[]',
	location            TEXT NOT NULL DEFAULT '',
	city                TEXT NOT NULL DEFAULT '',
	state               TEXT NOT NULL DEFAULT '',
	zip_code            TEXT NOT NULL DEFAULT '',
	pickup_available    BOOLEAN NOT NULL DEFAULT 0,
	drop_off_available  BOOLEAN NOT NULL DEFAULT 0,
	pickup_notes        TEXT,
	drop_off_notes      TEXT,
	status              TEXT NOT NULL DEFAULT 'OFFERED'
	                    CHECK (status IN ('OFFERED', 'ACCEPTED', 'IN_TRANSIT', 'DELIVERED', 'CANCELLED')),
	accepted_request_id TEXT,
	created_at          DATETIME NOT NULL,
	updated_at          DATETIME NOT NULL,
	CHECK (status NOT IN ('ACCEPTED', 'IN_TRANSIT', 'DELIVERED') OR accepted_request_id IS NOT NULL),
	CHECK (status <> 'OFFERED' OR accepted_request_id IS NULL)
);

CREATE INDEX IF NOT EXISTS idx_donations_status ON donations(status);
CREATE INDEX IF NOT EXISTS idx_donations_donor_id ON donations(donor_id);

CREATE TABLE IF NOT EXISTS requests (
	id           TEXT PRIMARY KEY,
	donation_id  TEXT NOT NULL REFERENCES donations(id),
	recipient_id TEXT NOT NULL REFERENCES users(id),
	title        TEXT NOT NULL,
	description  TEXT NOT NULL DEFAULT '',
	category     TEXT NOT NULL,
	status       TEXT NOT NULL DEFAULT 'OFFERED' CHECK (status IN ('OFFERED', 'ACCEPTED')),
	created_at   DATETIME NOT NULL,
	updated_at   DATETIME NOT NULL,
	UNIQUE (recipient_id, donation_id)
);

CREATE INDEX IF NOT EXISTS idx_requests_donation_id ON requests(donation_id);

CREATE TABLE IF NOT EXISTS donation_status_history (
	seq        INTEGER PRIMARY KEY AUTOINCREMENT,
	id         TEXT UNIQUE NOT NULL,
	parent_id  TEXT NOT NULL REFERENCES donations(id),
	status     TEXT NOT NULL,
	notes      TEXT,
	changed_by TEXT NOT NULL,
	created_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_donation_history_parent ON donation_status_history(parent_id);

CREATE TABLE IF NOT EXISTS request_status_history (
	seq        INTEGER PRIMARY KEY AUTOINCREMENT,
	id         TEXT UNIQUE NOT NULL,
	parent_id  TEXT NOT NULL REFERENCES requests(id),
	status     TEXT NOT NULL,
	notes      TEXT,
	changed_by TEXT NOT NULL,
	created_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_request_history_parent ON request_status_history(parent_id);

CREATE TABLE IF NOT EXISTS notifications (
	id           TEXT PRIMARY KEY,
	user_id      TEXT NOT NULL,
	type         TEXT NOT NULL,
	title        TEXT NOT NULL,
	message      TEXT NOT NULL,
	link         TEXT,
	is_read      BOOLEAN NOT NULL DEFAULT 0,
	created_at   DATETIME NOT NULL,
	published_at DATETIME
);

CREATE INDEX IF NOT EXISTS idx_notifications_user_id ON notifications(user_id);
CREATE INDEX IF NOT EXISTS idx_notifications_unpublished ON notifications(published_at) WHERE published_at IS NULL;

CREATE TABLE IF NOT EXISTS audit_log (
	seq         INTEGER PRIMARY KEY AUTOINCREMENT,
	id          TEXT UNIQUE NOT NULL,
	actor_id    TEXT NOT NULL,
	action      TEXT NOT NULL,
	entity_type TEXT NOT NULL,
	entity_id   TEXT NOT NULL,
	details     TEXT,
	created_at  DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_audit_entity ON audit_log(entity_type, entity_id);

CREATE TABLE IF NOT EXISTS delivery_evidence (
	id            TEXT PRIMARY KEY,
	donation_id   TEXT UNIQUE NOT NULL REFERENCES donations(id),
	photo_refs    TEXT NOT NULL DEFAULT '[]',
	signature_ref TEXT,
	notes         TEXT,
	confirmed_by  TEXT NOT NULL,
	created_at    DATETIME NOT NULL
);
`
