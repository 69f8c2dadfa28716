// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package kv

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// =============================================================================
// SQLITE STORE
// =============================================================================

// SQLiteStore keeps documents in a single embedded SQLite table, one row
// per (namespace, key). Several namespaces can share one database file.
type SQLiteStore struct {
	db        *sql.DB
	namespace string
	ownsDB    bool
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS documents (
	namespace  TEXT NOT NULL,
	key        TEXT NOT NULL,
	data       BLOB NOT NULL,
	updated_at INTEGER NOT NULL,
	PRIMARY KEY (namespace, key)
);
`

// NewSQLiteStore opens (creating if needed) a document store at path,
// scoped to the given namespace.
func NewSQLiteStore(path, namespace string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("database ping failed: %w", err)
	}

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &SQLiteStore{db: db, namespace: namespace, ownsDB: true}, nil
}

// NewSQLiteStoreWithDB wraps an existing database handle. Close becomes a
// no-op; the caller owns the handle.
func NewSQLiteStoreWithDB(db *sql.DB, namespace string) (*SQLiteStore, error) {
	if _, err := db.Exec(sqliteSchema); err != nil {
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}
	return &SQLiteStore{db: db, namespace: namespace}, nil
}

// Exists reports whether a document is present under the key.
func (s *SQLiteStore) Exists(key string) (bool, error) {
	if err := ValidateKey(key); err != nil {
		return false, err
	}
	var one int
	err := s.db.QueryRow(
		"SELECT 1 FROM documents WHERE namespace = ? AND key = ?",
		s.namespace, key).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("exists query failed: %w", err)
	}
	return true, nil
}

// Get returns the raw JSON document stored under the key.
func (s *SQLiteStore) Get(key string) ([]byte, error) {
	if err := ValidateKey(key); err != nil {
		return nil, err
	}
	var data []byte
	err := s.db.QueryRow(
		"SELECT data FROM documents WHERE namespace = ? AND key = ?",
		s.namespace, key).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get query failed: %w", err)
	}
	return data, nil
}

// Put stores a JSON document under the key. SQLite's WAL journal makes the
// write durable when Put returns.
func (s *SQLiteStore) Put(key string, data []byte) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	_, err := s.db.Exec(`
		INSERT INTO documents (namespace, key, data, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (namespace, key) DO UPDATE SET
			data = excluded.data,
			updated_at = excluded.updated_at`,
		s.namespace, key, data, time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("put failed: %w", err)
	}
	return nil
}

// Delete removes the document under the key.
func (s *SQLiteStore) Delete(key string) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	if _, err := s.db.Exec(
		"DELETE FROM documents WHERE namespace = ? AND key = ?",
		s.namespace, key); err != nil {
		return fmt.Errorf("delete failed: %w", err)
	}
	return nil
}

// Keys lists all keys in the namespace.
func (s *SQLiteStore) Keys() ([]string, error) {
	rows, err := s.db.Query(
		"SELECT key FROM documents WHERE namespace = ?", s.namespace)
	if err != nil {
		return nil, fmt.Errorf("keys query failed: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("scan failed: %w", err)
		}
		keys = append(keys, key)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}
	if keys == nil {
		keys = []string{}
	}
	return keys, nil
}

// Close closes the database when this store owns it.
func (s *SQLiteStore) Close() error {
	if !s.ownsDB {
		return nil
	}
	return s.db.Close()
}
