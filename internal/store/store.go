// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/jeranaias/docchat/internal/kv"
	"github.com/jeranaias/docchat/internal/model"
)

// =============================================================================
// KEYS AND ERRORS
// =============================================================================

const (
	// indexKey is the kv key of the index record.
	indexKey = "index"

	// itemKeyPrefix prefixes per-item record keys: "item-<itemID>".
	itemKeyPrefix = "item-"
)

// ErrSessionNotFound is returned when a session doesn't exist.
var ErrSessionNotFound = errors.New("session not found")

func itemKey(itemID int) string {
	return itemKeyPrefix + strconv.Itoa(itemID)
}

// =============================================================================
// SESSION STORE
// =============================================================================

// SessionStore persists sessions through a kv.Store and maintains the
// metadata index.
type SessionStore struct {
	mu sync.Mutex
	kv kv.Store
}

// NewSessionStore creates a store on top of a document store.
func NewSessionStore(backend kv.Store) *SessionStore {
	return &SessionStore{kv: backend}
}

// =============================================================================
// PER-ITEM RECORDS
// =============================================================================

// loadItem reads the DocumentSessions record for an item, returning an
// empty record when none exists yet.
func (s *SessionStore) loadItem(itemID int) (*model.DocumentSessions, error) {
	data, err := s.kv.Get(itemKey(itemID))
	if err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			return model.NewDocumentSessions(itemID), nil
		}
		return nil, err
	}

	var record model.DocumentSessions
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("corrupt record for item %d: %w", itemID, err)
	}
	return &record, nil
}

// saveItem writes the whole per-item record. A single-session update
// rewrites the record; that is the persistence granularity.
func (s *SessionStore) saveItem(record *model.DocumentSessions) error {
	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return err
	}
	return s.kv.Put(itemKey(record.ItemID), data)
}

// =============================================================================
// SAVE / LOAD
// =============================================================================

// Save persists a session and refreshes its index entry.
func (s *SessionStore) Save(session *model.ChatSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, err := s.loadItem(session.ItemID)
	if err != nil {
		return err
	}
	record.Upsert(session)
	if err := s.saveItem(record); err != nil {
		return err
	}

	return s.updateIndex(func(idx *sessionIndex) {
		idx.upsert(DeriveMeta(session))
	})
}

// Load retrieves one session.
func (s *SessionStore) Load(itemID int, sessionID string) (*model.ChatSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, err := s.loadItem(itemID)
	if err != nil {
		return nil, err
	}
	session := record.Find(sessionID)
	if session == nil {
		return nil, ErrSessionNotFound
	}
	return session, nil
}

// LoadItem retrieves the full per-item record.
func (s *SessionStore) LoadItem(itemID int) (*model.DocumentSessions, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadItem(itemID)
}

// CreateNew creates, activates, and persists an empty session for an item.
func (s *SessionStore) CreateNew(itemID int) (*model.ChatSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, err := s.loadItem(itemID)
	if err != nil {
		return nil, err
	}

	session := model.NewChatSession(itemID)
	record.Upsert(session)
	record.ActiveSessionID = session.ID
	if err := s.saveItem(record); err != nil {
		return nil, err
	}

	if err := s.updateIndex(func(idx *sessionIndex) {
		idx.upsert(DeriveMeta(session))
	}); err != nil {
		return nil, err
	}
	return session, nil
}

// =============================================================================
// ACTIVE SESSION
// =============================================================================

// GetActive returns the item's active session, or nil when the item has no
// sessions.
func (s *SessionStore) GetActive(itemID int) (*model.ChatSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, err := s.loadItem(itemID)
	if err != nil {
		return nil, err
	}
	return record.Active(), nil
}

// SetActive marks a session as the item's active one.
func (s *SessionStore) SetActive(itemID int, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, err := s.loadItem(itemID)
	if err != nil {
		return err
	}
	if record.Find(sessionID) == nil {
		return ErrSessionNotFound
	}
	record.ActiveSessionID = sessionID
	return s.saveItem(record)
}

// =============================================================================
// DELETE
// =============================================================================

// Delete removes one session. When the active session is deleted a
// replacement is selected; the per-item record is removed entirely once no
// sessions remain.
func (s *SessionStore) Delete(itemID int, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, err := s.loadItem(itemID)
	if err != nil {
		return err
	}
	if !record.Remove(sessionID) {
		return ErrSessionNotFound
	}

	if len(record.Sessions) == 0 {
		if err := s.kv.Delete(itemKey(itemID)); err != nil {
			return err
		}
	} else if err := s.saveItem(record); err != nil {
		return err
	}

	return s.updateIndex(func(idx *sessionIndex) {
		idx.remove(sessionID)
	})
}

// DeleteAllForItem removes every session of an item.
func (s *SessionStore) DeleteAllForItem(itemID int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, err := s.loadItem(itemID)
	if err != nil {
		return err
	}
	if err := s.kv.Delete(itemKey(itemID)); err != nil {
		return err
	}

	return s.updateIndex(func(idx *sessionIndex) {
		for _, session := range record.Sessions {
			idx.remove(session.ID)
		}
	})
}

// =============================================================================
// LISTING
// =============================================================================

// List answers listing queries from the index alone, without opening any
// per-item record. itemID < 0 lists sessions across all items. Sessions
// with zero non-empty messages are excluded unless includeEmpty is set.
func (s *SessionStore) List(itemID int, includeEmpty bool) ([]SessionMeta, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx, err := s.loadIndex()
	if err != nil {
		return nil, err
	}

	metas := make([]SessionMeta, 0, len(idx.Sessions))
	for _, meta := range idx.Sessions {
		if itemID >= 0 && meta.ItemID != itemID {
			continue
		}
		if meta.IsEmpty && !includeEmpty {
			continue
		}
		metas = append(metas, meta)
	}
	return metas, nil
}

// =============================================================================
// INDEX
// =============================================================================

// sessionIndex is the persisted index record: one SessionMeta per session
// across all items, sorted by recency.
type sessionIndex struct {
	Sessions []SessionMeta `json:"sessions"`
}

// sort orders entries newest-first with the session ID as a total
// tie-break, so that rebuilding yields byte-identical output.
func (idx *sessionIndex) sort() {
	sort.Slice(idx.Sessions, func(i, j int) bool {
		a, b := idx.Sessions[i], idx.Sessions[j]
		if !a.UpdatedAt.Equal(b.UpdatedAt) {
			return a.UpdatedAt.After(b.UpdatedAt)
		}
		return a.SessionID < b.SessionID
	})
}

func (idx *sessionIndex) upsert(meta SessionMeta) {
	for i, existing := range idx.Sessions {
		if existing.SessionID == meta.SessionID {
			idx.Sessions[i] = meta
			idx.sort()
			return
		}
	}
	idx.Sessions = append(idx.Sessions, meta)
	idx.sort()
}

func (idx *sessionIndex) remove(sessionID string) {
	for i, existing := range idx.Sessions {
		if existing.SessionID == sessionID {
			idx.Sessions = append(idx.Sessions[:i], idx.Sessions[i+1:]...)
			return
		}
	}
}

// loadIndex reads the index record, rebuilding it when missing or corrupt.
// SELF-HEALING: the index is derived state; a bad index is never fatal.
func (s *SessionStore) loadIndex() (*sessionIndex, error) {
	data, err := s.kv.Get(indexKey)
	if err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			return s.rebuildIndex()
		}
		return nil, err
	}

	var idx sessionIndex
	if err := json.Unmarshal(data, &idx); err != nil {
		log.Printf("session index corrupt, rebuilding: %v", err)
		return s.rebuildIndex()
	}
	return &idx, nil
}

// updateIndex applies a mutation to the index and persists it.
func (s *SessionStore) updateIndex(mutate func(*sessionIndex)) error {
	idx, err := s.loadIndex()
	if err != nil {
		return err
	}
	mutate(idx)
	return s.saveIndex(idx)
}

func (s *SessionStore) saveIndex(idx *sessionIndex) error {
	idx.sort()
	data, err := json.MarshalIndent(idx, "", "  ")
	if err != nil {
		return err
	}
	return s.kv.Put(indexKey, data)
}

// RebuildIndex re-derives the whole index from the per-item records and
// persists it. Rebuilding twice in a row yields identical index content.
func (s *SessionStore) RebuildIndex() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx, err := s.rebuildIndex()
	if err != nil {
		return err
	}
	return s.saveIndex(idx)
}

// rebuildIndex scans every per-item record in parallel and re-derives
// metadata for every session found. Records that fail to load are skipped:
// their sessions are omitted from the index, not fatal to the rebuild.
func (s *SessionStore) rebuildIndex() (*sessionIndex, error) {
	keys, err := s.kv.Keys()
	if err != nil {
		return nil, err
	}

	var (
		wg     sync.WaitGroup
		metaMu sync.Mutex
	)
	metas := make([]SessionMeta, 0, len(keys))

	for _, key := range keys {
		if !strings.HasPrefix(key, itemKeyPrefix) {
			continue
		}
		itemID, err := strconv.Atoi(strings.TrimPrefix(key, itemKeyPrefix))
		if err != nil {
			continue
		}

		wg.Add(1)
		go func(itemID int) {
			defer wg.Done()

			record, err := s.loadItem(itemID)
			if err != nil {
				log.Printf("index rebuild: skipping item %d: %v", itemID, err)
				return
			}

			derived := make([]SessionMeta, 0, len(record.Sessions))
			for _, session := range record.Sessions {
				derived = append(derived, DeriveMeta(session))
			}

			metaMu.Lock()
			metas = append(metas, derived...)
			metaMu.Unlock()
		}(itemID)
	}
	wg.Wait()

	idx := &sessionIndex{Sessions: metas}
	idx.sort()
	return idx, nil
}
