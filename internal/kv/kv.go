// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package kv provides a directory-scoped key to JSON-document store.
//
// The session store is built entirely on the narrow Store interface, which
// makes the backend swappable: a plain directory of JSON files for simple
// deployments, or an embedded SQLite database where many small records
// would strain the filesystem.
package kv

import (
	"errors"
	"regexp"
)

// =============================================================================
// STORE INTERFACE
// =============================================================================

// Store is a key to JSON-document store within one namespace.
type Store interface {
	// Exists reports whether a document is present under the key.
	Exists(key string) (bool, error)

	// Get returns the raw JSON document stored under the key.
	// Returns ErrNotFound when the key is absent.
	Get(key string) ([]byte, error)

	// Put stores a JSON document under the key, replacing any previous
	// document. The write is durable when Put returns.
	Put(key string, data []byte) error

	// Delete removes the document under the key. Deleting an absent key
	// is not an error.
	Delete(key string) error

	// Keys lists all keys in the namespace, in unspecified order.
	Keys() ([]string, error)

	// Close releases backend resources.
	Close() error
}

// =============================================================================
// ERRORS
// =============================================================================

// ErrNotFound is returned by Get for an absent key.
var ErrNotFound = errors.New("document not found")

// ErrInvalidKey is returned for keys containing unsafe characters.
var ErrInvalidKey = errors.New("invalid document key")

// validKey restricts keys to filename- and SQL-safe characters.
var validKey = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

// ValidateKey checks that a key is safe for every backend.
func ValidateKey(key string) error {
	if !validKey.MatchString(key) {
		return ErrInvalidKey
	}
	return nil
}
