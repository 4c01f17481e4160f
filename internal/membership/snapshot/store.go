// Package snapshot persists a local, non-authoritative cache of the
// last-known peer set per address, so a restarted node has something to
// route against before the first real membership sync completes.
// Mirrors internal/adapter/sqlite's store-per-concern shape from the
// teacher repo, swapped onto modernc.org/sqlite's database/sql driver.
package snapshot

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"clusterbus/internal/addr"
)

// Store is a SQLite-backed cache of Address -> []NodeAddress.
type Store struct {
	db *sql.DB
}

// Open opens (creating if necessary) the snapshot database at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open snapshot db: %w", err)
	}
	if _, err := db.Exec(`PRAGMA journal_mode = WAL`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set journal mode: %w", err)
	}
	if _, err := db.Exec(`PRAGMA busy_timeout = 5000`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}
	if _, err := db.Exec(`
CREATE TABLE IF NOT EXISTS peer_snapshot (
	address    TEXT NOT NULL,
	host       TEXT NOT NULL,
	port       INTEGER NOT NULL,
	updated_at TEXT NOT NULL,
	PRIMARY KEY (address, host, port)
)`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize snapshot schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Save overwrites the cached node set for address.
func (s *Store) Save(address string, nodes []addr.NodeAddress) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin snapshot save for %q: %w", address, err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM peer_snapshot WHERE address = ?`, address); err != nil {
		return fmt.Errorf("clear snapshot for %q: %w", address, err)
	}

	now := time.Now().UTC().Format(time.RFC3339)
	for _, n := range nodes {
		if _, err := tx.Exec(
			`INSERT INTO peer_snapshot (address, host, port, updated_at) VALUES (?, ?, ?, ?)`,
			address, n.Host, n.Port, now,
		); err != nil {
			return fmt.Errorf("save snapshot entry for %q: %w", address, err)
		}
	}
	return tx.Commit()
}

// Load returns the cached node set for address, possibly empty.
func (s *Store) Load(address string) ([]addr.NodeAddress, error) {
	rows, err := s.db.Query(`SELECT host, port FROM peer_snapshot WHERE address = ?`, address)
	if err != nil {
		return nil, fmt.Errorf("load snapshot for %q: %w", address, err)
	}
	defer rows.Close()

	var out []addr.NodeAddress
	for rows.Next() {
		var host string
		var port int
		if err := rows.Scan(&host, &port); err != nil {
			return nil, fmt.Errorf("scan snapshot row for %q: %w", address, err)
		}
		out = append(out, addr.NodeAddress{Host: host, Port: port})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate snapshot rows for %q: %w", address, err)
	}
	return out, nil
}
