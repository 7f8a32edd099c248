// SPDX-License-Identifier: MPL-2.0

// Package imagecache maps build-plan fingerprints to locally built image
// references, backed by a SQLite database under the state root. The Cache
// guarantees at most one concurrent build per fingerprint across both
// goroutines and processes.
package imagecache

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// Entry is one cached fingerprint -> image mapping.
type Entry struct {
	Fingerprint string
	ImageRef    string
	BuiltAt     time.Time
}

// Store persists cache entries.
type Store interface {
	Get(fingerprint string) (Entry, bool, error)
	Put(entry Entry) error
	Delete(fingerprint string) error
	List() ([]Entry, error)
	Close() error
}

// SQLiteStore implements Store on modernc.org/sqlite (pure Go, no cgo).
type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

// OpenStore opens or creates the cache database at path.
func OpenStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open image cache db: %w", err)
	}
	// WAL allows concurrent readers while a build transaction commits.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL: %w", err)
	}
	if _, err := db.Exec(`
	CREATE TABLE IF NOT EXISTS images (
		fingerprint TEXT PRIMARY KEY,
		image_ref   TEXT NOT NULL,
		built_at    DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create image cache schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Get(fingerprint string) (Entry, bool, error) {
	var e Entry
	row := s.db.QueryRow(
		`SELECT fingerprint, image_ref, built_at FROM images WHERE fingerprint = ?`,
		fingerprint,
	)
	if err := row.Scan(&e.Fingerprint, &e.ImageRef, &e.BuiltAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Entry{}, false, nil
		}
		return Entry{}, false, fmt.Errorf("query image cache: %w", err)
	}
	return e, true, nil
}

func (s *SQLiteStore) Put(e Entry) error {
	builtAt := e.BuiltAt
	if builtAt.IsZero() {
		builtAt = time.Now().UTC()
	}
	_, err := s.db.Exec(
		`INSERT INTO images (fingerprint, image_ref, built_at) VALUES (?, ?, ?)
		 ON CONFLICT(fingerprint) DO UPDATE SET image_ref = excluded.image_ref, built_at = excluded.built_at`,
		e.Fingerprint, e.ImageRef, builtAt,
	)
	if err != nil {
		return fmt.Errorf("record image cache entry: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Delete(fingerprint string) error {
	if _, err := s.db.Exec(`DELETE FROM images WHERE fingerprint = ?`, fingerprint); err != nil {
		return fmt.Errorf("delete image cache entry: %w", err)
	}
	return nil
}

func (s *SQLiteStore) List() ([]Entry, error) {
	rows, err := s.db.Query(`SELECT fingerprint, image_ref, built_at FROM images ORDER BY built_at`)
	if err != nil {
		return nil, fmt.Errorf("list image cache: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.Fingerprint, &e.ImageRef, &e.BuiltAt); err != nil {
			return nil, fmt.Errorf("scan image cache row: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
