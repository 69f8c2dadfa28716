// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jeranaias/docchat/internal/config"
	"github.com/jeranaias/docchat/internal/item"
	"github.com/jeranaias/docchat/internal/model"
	"github.com/jeranaias/docchat/internal/provider"
	"github.com/jeranaias/docchat/internal/store"
	"github.com/jeranaias/docchat/internal/stream"
)

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrMessageNotFound is returned when a message ID does not exist in
	// the target session.
	ErrMessageNotFound = errors.New("message not found in session")

	// ErrNotRegenerable is returned when Regenerate targets a message that
	// is neither an assistant nor an error message.
	ErrNotRegenerable = errors.New("message cannot be regenerated")
)

// notConfiguredText is shown in place of an assistant reply when no
// provider credentials are available. It is an ordinary assistant message,
// not an error: the user needs direction, not a stack trace.
const notConfiguredText = "No provider is configured. Add an API key with " +
	"`docchat providers` or set one in your provider registry, then try again."

// =============================================================================
// SETTINGS
// =============================================================================

// Settings holds the controller's tunable behavior. Zero values are
// normalized by NewController.
type Settings struct {
	// PersistInterval is the minimum wall-clock gap between mid-stream
	// session writes. Whichever of interval and chunk burst trips first
	// triggers a write.
	PersistInterval time.Duration

	// PersistChunkBurst forces a mid-stream write after this many chunks
	// regardless of elapsed time.
	PersistChunkBurst int

	// IncludePDFExcerpts opts in to folding the document's extracted text
	// into the first question of a session.
	IncludePDFExcerpts bool

	// MaxExcerptRunes bounds how much document text is sent per excerpt.
	// Zero means unlimited.
	MaxExcerptRunes int

	// AutoTitle enables lazy title generation after the first completed
	// turn of an untitled session.
	AutoTitle bool
}

// SettingsFromConfig maps the persisted chat preferences onto controller
// settings.
func SettingsFromConfig(c config.ChatConfig) Settings {
	return Settings{
		PersistInterval:    time.Duration(c.PersistIntervalMs) * time.Millisecond,
		PersistChunkBurst:  c.PersistChunkBurst,
		IncludePDFExcerpts: c.IncludePDFExcerpts,
		MaxExcerptRunes:    c.MaxExcerptRunes,
		AutoTitle:          c.AutoTitle,
	}
}

func (s *Settings) normalize() {
	if s.PersistInterval <= 0 {
		s.PersistInterval = 2 * time.Second
	}
	if s.PersistChunkBurst <= 0 {
		s.PersistChunkBurst = 25
	}
}

// =============================================================================
// EVENTS
// =============================================================================

// Events delivers in-memory notifications to the UI layer. Both callbacks
// are optional and are invoked synchronously on the streaming goroutine.
// OnChunk fires for every streamed chunk regardless of the save throttle.
type Events struct {
	OnChunk func(itemID int, msg *model.ChatMessage)
	OnState func(itemID int, session *model.ChatSession)
}

func (e *Events) chunk(itemID int, msg *model.ChatMessage) {
	if e.OnChunk != nil {
		e.OnChunk(itemID, msg)
	}
}

func (e *Events) state(itemID int, session *model.ChatSession) {
	if e.OnState != nil {
		e.OnState(itemID, session)
	}
}

// =============================================================================
// SAVE THROTTLE
// =============================================================================

// saveThrottle bounds mid-stream persistence: a write happens when either
// the wall-clock interval has elapsed since the last write or the chunk
// count reaches the burst threshold, never on every chunk.
type saveThrottle struct {
	interval time.Duration
	burst    int
	lastSave time.Time
	chunks   int
	now      func() time.Time
}

func newSaveThrottle(interval time.Duration, burst int) *saveThrottle {
	t := &saveThrottle{interval: interval, burst: burst, now: time.Now}
	t.lastSave = t.now()
	return t
}

// note records one chunk and reports whether a write is due. When it
// returns true the caller is expected to write; the throttle resets.
func (t *saveThrottle) note() bool {
	t.chunks++
	if t.chunks < t.burst && t.now().Sub(t.lastSave) < t.interval {
		return false
	}
	t.chunks = 0
	t.lastSave = t.now()
	return true
}

// =============================================================================
// CONTROLLER
// =============================================================================

// Controller coordinates one conversation scope at a time against the
// active provider. It owns the in-memory copy of each item's active
// session; the store's copy is a trailing snapshot.
type Controller struct {
	store      *store.SessionStore
	registry   *provider.Registry
	items      item.Resolver
	selections *item.SelectionTracker
	settings   Settings
	events     Events

	mu       sync.Mutex
	sessions map[int]*model.ChatSession
	pending  map[int][]int // document IDs dropped since the last send
	cancel   context.CancelFunc
	gen      uint64 // identifies which operation owns the token
}

// NewController wires the controller's collaborators. items and selections
// may be nil for scopes that never attach documents or selections.
func NewController(st *store.SessionStore, reg *provider.Registry, items item.Resolver, selections *item.SelectionTracker, settings Settings, events Events) *Controller {
	settings.normalize()
	return &Controller{
		store:      st,
		registry:   reg,
		items:      items,
		selections: selections,
		settings:   settings,
		events:     events,
		sessions:   make(map[int]*model.ChatSession),
		pending:    make(map[int][]int),
	}
}

// Close neutralizes any held cancellation token. It does not abort an
// in-flight stream; callers wanting that call Abort first.
func (c *Controller) Close() {
	c.mu.Lock()
	c.cancel = nil
	c.mu.Unlock()
}

// =============================================================================
// SESSION ACCESS
// =============================================================================

// Session returns the item's active session, creating one when the item
// has none. The returned pointer is the controller's live copy.
func (c *Controller) Session(itemID int) (*model.ChatSession, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionLocked(itemID)
}

func (c *Controller) sessionLocked(itemID int) (*model.ChatSession, error) {
	if s, ok := c.sessions[itemID]; ok {
		return s, nil
	}
	s, err := c.store.GetActive(itemID)
	if err != nil {
		return nil, err
	}
	if s == nil {
		s, err = c.store.CreateNew(itemID)
		if err != nil {
			return nil, err
		}
	}
	c.sessions[itemID] = s
	return s, nil
}

// NewSession starts a fresh session for the item and makes it active.
func (c *Controller) NewSession(itemID int) (*model.ChatSession, error) {
	s, err := c.store.CreateNew(itemID)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.sessions[itemID] = s
	c.mu.Unlock()
	c.events.state(itemID, s)
	return s, nil
}

// SelectSession switches the item's active session.
func (c *Controller) SelectSession(itemID int, sessionID string) (*model.ChatSession, error) {
	if err := c.store.SetActive(itemID, sessionID); err != nil {
		return nil, err
	}
	s, err := c.store.Load(itemID, sessionID)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.sessions[itemID] = s
	c.mu.Unlock()
	c.events.state(itemID, s)
	return s, nil
}

// RecordSelection feeds selected text into the tracker; it will be quoted
// into the next question. No-op when no tracker is configured.
func (c *Controller) RecordSelection(text string) {
	if c.selections != nil {
		c.selections.Record(text)
	}
}

// AttachDocument queues a document to be excerpted into the item's next
// question.
func (c *Controller) AttachDocument(itemID, docID int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, id := range c.pending[itemID] {
		if id == docID {
			return
		}
	}
	c.pending[itemID] = append(c.pending[itemID], docID)
}

// =============================================================================
// SEND
// =============================================================================

// Send assembles a user message from queued document excerpts, any pending
// selection, and the literal question, then streams the assistant reply.
// It blocks until the turn completes, aborts, or fails. Aborts are not
// errors: the partial reply is preserved and Send returns nil.
func (c *Controller) Send(ctx context.Context, itemID int, question string) error {
	question = strings.TrimSpace(question)
	if question == "" {
		return errors.New("empty question")
	}

	c.mu.Lock()
	session, err := c.sessionLocked(itemID)
	if err != nil {
		c.mu.Unlock()
		return err
	}

	// A previous abort may have left a message flagged incomplete. A new
	// turn supersedes it; the partial content stays.
	for _, m := range session.Messages {
		if m.WasAborted() {
			m.ClearCompletion()
		}
	}

	content := c.assembleLocked(session, itemID, question)
	c.mu.Unlock()

	session.Append(model.NewUserMessage(content))
	placeholder := model.NewAssistantPlaceholder()
	session.Append(placeholder)
	c.events.state(itemID, session)

	history := session.Messages[:len(session.Messages)-1]
	return c.run(ctx, itemID, session, placeholder, history, false)
}

// assembleLocked builds the marked-up user content in fixed order:
// dropped-document excerpts, then the primary document's text (once per
// session, opt-in), then the quoted selection, then the question.
func (c *Controller) assembleLocked(session *model.ChatSession, itemID int, question string) string {
	var b strings.Builder

	if c.items != nil {
		for _, docID := range c.pending[itemID] {
			name, err := c.items.DisplayName(docID)
			if err != nil {
				continue
			}
			text, err := c.items.ExtractText(docID)
			if err != nil || text == "" {
				continue
			}
			fmt.Fprintf(&b, "[Document: %s]\n%s\n\n", name, c.clip(text))
			if !session.SharesDocument(docID) {
				session.DocumentIDs = append(session.DocumentIDs, docID)
			}
		}
		delete(c.pending, itemID)

		if itemID != model.GlobalItemID && c.settings.IncludePDFExcerpts && !session.PDFAttached {
			if text, err := c.items.ExtractText(itemID); err == nil && text != "" {
				fmt.Fprintf(&b, "%s\n%s\n\n", model.MarkerPDFContent, c.clip(text))
				session.PDFAttached = true
			}
		}
	}

	if c.selections != nil {
		if sel, ok := c.selections.ConsumeSelection(); ok {
			fmt.Fprintf(&b, "[Selected Text]\n%s\n\n", sel)
		}
	}

	b.WriteString(model.MarkerQuestion + "\n" + question)
	return b.String()
}

func (c *Controller) clip(text string) string {
	if c.settings.MaxExcerptRunes <= 0 {
		return text
	}
	runes := []rune(text)
	if len(runes) <= c.settings.MaxExcerptRunes {
		return text
	}
	return string(runes[:c.settings.MaxExcerptRunes])
}

// =============================================================================
// REGENERATE
// =============================================================================

// Regenerate replays the conversation up to (not including) the target
// message and streams a replacement reply. An assistant message's current
// content is pushed onto its version history first; an error message is
// converted in place to an assistant message with a fresh history.
func (c *Controller) Regenerate(ctx context.Context, itemID int, messageID string) error {
	c.mu.Lock()
	session, err := c.sessionLocked(itemID)
	if err != nil {
		c.mu.Unlock()
		return err
	}
	c.mu.Unlock()

	msg, idx := session.FindMessage(messageID)
	if msg == nil {
		return ErrMessageNotFound
	}

	switch msg.Role {
	case model.RoleError:
		msg.Role = model.RoleAssistant
		msg.Content = ""
		msg.ReasoningContent = ""
		msg.ContentVersions = nil
		msg.CurrentVersionIndex = 0
	case model.RoleAssistant:
		msg.PushVersion()
		msg.Content = ""
		msg.ReasoningContent = ""
	default:
		return ErrNotRegenerable
	}
	msg.ClearCompletion()
	c.events.state(itemID, session)

	history := session.Messages[:idx]
	return c.run(ctx, itemID, session, msg, history, true)
}

// =============================================================================
// VERSION SWITCH
// =============================================================================

// SwitchVersion points a message at version k of its history and persists
// the session. Pure state change: no adapter is contacted.
func (c *Controller) SwitchVersion(itemID int, messageID string, k int) error {
	c.mu.Lock()
	session, err := c.sessionLocked(itemID)
	c.mu.Unlock()
	if err != nil {
		return err
	}

	msg, _ := session.FindMessage(messageID)
	if msg == nil {
		return ErrMessageNotFound
	}
	if err := msg.SwitchVersion(k); err != nil {
		return err
	}
	session.UpdatedAt = time.Now()
	if err := c.store.Save(session); err != nil {
		return err
	}
	c.events.state(itemID, session)
	return nil
}

// =============================================================================
// STREAMING CORE
// =============================================================================

// begin installs a fresh cancellation token, displacing any previous one
// without firing it. The displaced operation keeps streaming but can no
// longer be aborted through this controller.
func (c *Controller) begin(ctx context.Context) (context.Context, context.CancelFunc, uint64) {
	runCtx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	c.gen++
	gen := c.gen
	c.cancel = cancel
	c.mu.Unlock()
	return runCtx, cancel, gen
}

// release detaches the token, but only if the finishing operation still
// owns it. A newer send may already have installed its own.
func (c *Controller) release(gen uint64) {
	c.mu.Lock()
	if c.gen == gen {
		c.cancel = nil
	}
	c.mu.Unlock()
}

// Abort cancels the current operation, if any. Safe to call at any time
// and idempotent: the token is detached before it fires, so a second call
// finds nothing to cancel.
func (c *Controller) Abort() {
	c.mu.Lock()
	cancel := c.cancel
	c.cancel = nil
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (c *Controller) run(ctx context.Context, itemID int, session *model.ChatSession, target *model.ChatMessage, history []*model.ChatMessage, regen bool) error {
	adapter, err := c.registry.ActiveAdapter()
	if err == nil && !adapter.IsReady() {
		err = fmt.Errorf("%s: %w", adapter.Config().ID, provider.ErrNotConfigured)
	}
	if err != nil {
		return c.finish(itemID, session, target, regen, err)
	}

	runCtx, cancel, gen := c.begin(ctx)
	defer func() {
		cancel()
		c.release(gen)
	}()

	throttle := newSaveThrottle(c.settings.PersistInterval, c.settings.PersistChunkBurst)
	cb := stream.Callbacks{
		OnText: func(text string) error {
			target.Content += text
			if throttle.note() {
				if err := c.store.Save(session); err != nil {
					return err
				}
			}
			c.events.chunk(itemID, target)
			return nil
		},
		OnReasoning: func(text string) error {
			target.ReasoningContent += text
			if throttle.note() {
				if err := c.store.Save(session); err != nil {
					return err
				}
			}
			c.events.chunk(itemID, target)
			return nil
		},
	}

	streamErr := adapter.StreamComplete(runCtx, history, cb)
	var cbErr *stream.CallbackError
	if errors.As(streamErr, &cbErr) {
		streamErr = cbErr.Err
	}
	return c.finish(itemID, session, target, regen, streamErr)
}

// finish resolves a turn: completion, abort, missing configuration, or
// failure. Abort and missing configuration are terminal but not errors.
func (c *Controller) finish(itemID int, session *model.ChatSession, target *model.ChatMessage, regen bool, err error) error {
	switch {
	case err == nil:
		target.MarkComplete()
		if regen {
			target.PushVersion()
		}
		session.UpdatedAt = time.Now()
		if saveErr := c.store.Save(session); saveErr != nil {
			return saveErr
		}
		c.events.state(itemID, session)
		c.maybeGenerateTitle(session)
		return nil

	case errors.Is(err, stream.ErrAborted):
		target.MarkAborted()
		session.UpdatedAt = time.Now()
		if saveErr := c.store.Save(session); saveErr != nil {
			return saveErr
		}
		c.events.state(itemID, session)
		return nil

	case errors.Is(err, provider.ErrNotConfigured):
		target.Content = notConfiguredText
		target.MarkComplete()
		if saveErr := c.store.Save(session); saveErr != nil {
			return saveErr
		}
		c.events.state(itemID, session)
		return nil

	default:
		if regen {
			target.Role = model.RoleError
			target.Content = err.Error()
			target.ClearCompletion()
		} else {
			session.RemoveMessage(target.ID)
			session.Append(model.NewErrorMessage(err.Error()))
		}
		session.UpdatedAt = time.Now()
		if saveErr := c.store.Save(session); saveErr != nil {
			return saveErr
		}
		c.events.state(itemID, session)
		return err
	}
}
