// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package item connects conversations to the documents they discuss.
//
// Resolver answers "what is this item called" and "what text does it
// carry"; SelectionTracker hands out the user's current text selection
// with read-once semantics. Both are collaborators of the conversation
// controller, which never touches the filesystem itself.
package item

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// =============================================================================
// RESOLVER
// =============================================================================

// ErrItemNotFound indicates the item id has no backing document.
var ErrItemNotFound = errors.New("item not found")

// Attachment is one file belonging to an item.
type Attachment struct {
	Name string
	Path string
	// IsPDF marks attachments whose text can be extracted for context.
	IsPDF bool
}

// Resolver answers identity and content questions about items. The
// controller consumes only "display name for id" and "text for id".
type Resolver interface {
	// DisplayName returns the item's human-readable title.
	DisplayName(itemID int) (string, error)
	// Attachments lists the item's files.
	Attachments(itemID int) ([]Attachment, error)
	// ExtractText returns the raw extractable text of the item's
	// PDF-type attachment, or "" when it has none.
	ExtractText(itemID int) (string, error)
}

// =============================================================================
// DIRECTORY RESOLVER
// =============================================================================

// DirResolver maps item ids to numbered subdirectories of a root
// directory ("<root>/<id>/"). Each subdirectory's files are the item's
// attachments; a "*.txt" file stands in for extracted PDF text. Used by
// the CLI and tests; a host application supplies its own Resolver.
type DirResolver struct {
	root string
}

// NewDirResolver creates a resolver over the given root directory.
func NewDirResolver(root string) *DirResolver {
	return &DirResolver{root: root}
}

func (r *DirResolver) itemDir(itemID int) (string, error) {
	dir := filepath.Join(r.root, fmt.Sprintf("%d", itemID))
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return "", fmt.Errorf("%w: %d", ErrItemNotFound, itemID)
	}
	return dir, nil
}

// DisplayName returns the contents of the item's "title" file, falling
// back to the first attachment's name.
func (r *DirResolver) DisplayName(itemID int) (string, error) {
	dir, err := r.itemDir(itemID)
	if err != nil {
		return "", err
	}

	if data, err := os.ReadFile(filepath.Join(dir, "title")); err == nil {
		if title := strings.TrimSpace(string(data)); title != "" {
			return title, nil
		}
	}

	atts, err := r.Attachments(itemID)
	if err != nil {
		return "", err
	}
	if len(atts) > 0 {
		return atts[0].Name, nil
	}
	return fmt.Sprintf("Item %d", itemID), nil
}

// Attachments lists the item's files in stable name order. The "title"
// metadata file is not an attachment.
func (r *DirResolver) Attachments(itemID int) ([]Attachment, error) {
	dir, err := r.itemDir(itemID)
	if err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read item %d: %w", itemID, err)
	}

	var atts []Attachment
	for _, e := range entries {
		if e.IsDir() || e.Name() == "title" {
			continue
		}
		ext := strings.ToLower(filepath.Ext(e.Name()))
		atts = append(atts, Attachment{
			Name:  e.Name(),
			Path:  filepath.Join(dir, e.Name()),
			IsPDF: ext == ".pdf" || ext == ".txt",
		})
	}
	sort.Slice(atts, func(i, j int) bool { return atts[i].Name < atts[j].Name })
	return atts, nil
}

// ExtractText returns the text of the first extractable attachment.
// Real PDF parsing is the host application's concern; here a .txt file
// carries the pre-extracted text.
func (r *DirResolver) ExtractText(itemID int) (string, error) {
	atts, err := r.Attachments(itemID)
	if err != nil {
		return "", err
	}
	for _, a := range atts {
		if !a.IsPDF || !strings.HasSuffix(strings.ToLower(a.Name), ".txt") {
			continue
		}
		data, err := os.ReadFile(a.Path)
		if err != nil {
			return "", fmt.Errorf("extract item %d: %w", itemID, err)
		}
		return string(data), nil
	}
	return "", nil
}

// =============================================================================
// SELECTION TRACKER
// =============================================================================

// dedupWindow suppresses the bursts of identical selection events UIs
// emit while the user is still dragging.
const dedupWindow = 500 * time.Millisecond

// SelectionTracker holds the user's current text selection. Reads
// consume: a second ConsumeSelection without an intervening Record
// returns nothing.
type SelectionTracker struct {
	mu       sync.Mutex
	text     string
	lastText string
	lastAt   time.Time
	now      func() time.Time
}

// NewSelectionTracker creates an empty tracker.
func NewSelectionTracker() *SelectionTracker {
	return &SelectionTracker{now: time.Now}
}

// Record stores a new selection. A selection identical to the previous
// one arriving within the dedup window is dropped so repeated UI events
// do not resurrect an already-consumed selection.
func (s *SelectionTracker) Record(text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if text == s.lastText && now.Sub(s.lastAt) < dedupWindow {
		s.lastAt = now
		return
	}
	s.text = text
	s.lastText = text
	s.lastAt = now
}

// ConsumeSelection returns the current selection and clears it.
func (s *SelectionTracker) ConsumeSelection() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.text == "" {
		return "", false
	}
	text := s.text
	s.text = ""
	return text, true
}

// Peek returns the current selection without consuming it.
func (s *SelectionTracker) Peek() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.text, s.text != ""
}
