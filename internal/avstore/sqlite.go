// Package avstore provides a SQLite-backed raf.AuthVectorStore, adapted
// from the donor's own database/sql + go-sqlite storage layer so RAF
// challenges survive a process restart when configured with
// -raf.av-store-path (SPEC_FULL §6, §11).
package avstore

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/glebarez/go-sqlite"

	"github.com/sipcore/proxy/internal/raf"
)

// Store is a SQLite-backed raf.AuthVectorStore.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the SQLite database at dataSourceName and
// ensures the challenges table exists.
func Open(dataSourceName string) (*Store, error) {
	db, err := sql.Open("sqlite", dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("avstore: could not open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("avstore: could not connect to database: %w", err)
	}
	if err := createTables(db); err != nil {
		return nil, fmt.Errorf("avstore: could not create tables: %w", err)
	}
	return &Store{db: db}, nil
}

func createTables(db *sql.DB) error {
	const schema = `
	CREATE TABLE IF NOT EXISTS challenges (
		impi TEXT NOT NULL,
		nonce TEXT NOT NULL,
		impu TEXT NOT NULL,
		opaque TEXT NOT NULL,
		realm TEXT NOT NULL,
		scheme INTEGER NOT NULL,
		ha1_or_xres TEXT NOT NULL,
		ck TEXT NOT NULL,
		ik TEXT NOT NULL,
		autn TEXT NOT NULL,
		expires_at INTEGER NOT NULL,
		PRIMARY KEY (impi, nonce)
	);
	`
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("avstore: could not create challenges table: %w", err)
	}
	return nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Put inserts or replaces the challenge keyed by (impi, nonce).
func (s *Store) Put(c *raf.AuthChallenge) error {
	stmt, err := s.db.Prepare(`
		INSERT INTO challenges (impi, nonce, impu, opaque, realm, scheme, ha1_or_xres, ck, ik, autn, expires_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(impi, nonce) DO UPDATE SET
			impu=excluded.impu, opaque=excluded.opaque, realm=excluded.realm,
			scheme=excluded.scheme, ha1_or_xres=excluded.ha1_or_xres,
			ck=excluded.ck, ik=excluded.ik, autn=excluded.autn, expires_at=excluded.expires_at
	`)
	if err != nil {
		return fmt.Errorf("avstore: could not prepare statement for put: %w", err)
	}
	defer stmt.Close()

	_, err = stmt.Exec(c.IMPI, c.Nonce, c.IMPU, c.Opaque, c.Realm, int(c.Scheme), c.HA1OrXRES, c.CK, c.IK, c.AUTN, c.ExpiresAt.Unix())
	if err != nil {
		return fmt.Errorf("avstore: could not execute statement for put: %w", err)
	}
	return nil
}

// Take returns and deletes the challenge for (impi, nonce). An expired row
// is deleted but still reported as not found.
func (s *Store) Take(impi, nonce string) (*raf.AuthChallenge, bool, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, false, fmt.Errorf("avstore: could not begin transaction: %w", err)
	}
	defer tx.Rollback()

	row := tx.QueryRow(`
		SELECT impu, opaque, realm, scheme, ha1_or_xres, ck, ik, autn, expires_at
		FROM challenges WHERE impi = ? AND nonce = ?`, impi, nonce)

	var (
		c            raf.AuthChallenge
		scheme       int
		expiresUnix  int64
	)
	c.IMPI, c.Nonce = impi, nonce
	if err := row.Scan(&c.IMPU, &c.Opaque, &c.Realm, &scheme, &c.HA1OrXRES, &c.CK, &c.IK, &c.AUTN, &expiresUnix); err != nil {
		if err == sql.ErrNoRows {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("avstore: could not query challenge: %w", err)
	}
	c.Scheme = raf.Scheme(scheme)
	c.ExpiresAt = time.Unix(expiresUnix, 0)

	if _, err := tx.Exec(`DELETE FROM challenges WHERE impi = ? AND nonce = ?`, impi, nonce); err != nil {
		return nil, false, fmt.Errorf("avstore: could not delete challenge: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, false, fmt.Errorf("avstore: could not commit transaction: %w", err)
	}

	if time.Now().After(c.ExpiresAt) {
		return nil, false, nil
	}
	return &c, true, nil
}
