// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"context"
	"strings"
	"time"

	"github.com/jeranaias/docchat/internal/model"
	"github.com/jeranaias/docchat/internal/util"
)

// =============================================================================
// SESSION TITLES
// =============================================================================

// titleSystemPrompt steers the buffered title completion. The reply is
// used verbatim after cleanup, so the prompt forbids decoration.
const titleSystemPrompt = "You write titles for conversations. Reply with " +
	"a single concise title of at most six words. No quotes, no ending " +
	"punctuation, no preamble."

// titleTimeout bounds the title request so a slow provider cannot hold a
// finished turn hostage.
const titleTimeout = 15 * time.Second

// titleFallbackRunes is the length the question is truncated to when
// generation fails.
const titleFallbackRunes = 48

// maybeGenerateTitle sets the session title after its first completed
// turn. Failures are swallowed: the truncated question becomes the title
// and the turn that triggered generation is unaffected.
func (c *Controller) maybeGenerateTitle(session *model.ChatSession) {
	if !c.settings.AutoTitle || session.Title != "" {
		return
	}
	first := session.FirstUserMessage()
	if first == nil {
		return
	}
	question := model.StripContextMarkers(first.QuestionText())
	if question == "" {
		return
	}

	session.Title = c.generateTitle(question)
	if session.Title == "" {
		return
	}
	// Best effort; the turn itself is already persisted.
	_ = c.store.Save(session)
	c.events.state(session.ItemID, session)
}

func (c *Controller) generateTitle(question string) string {
	fallback := util.TruncateRunes(util.CollapseWhitespace(question), titleFallbackRunes)

	adapter, err := c.registry.ActiveAdapter()
	if err != nil || !adapter.IsReady() {
		return fallback
	}

	ctx, cancel := context.WithTimeout(context.Background(), titleTimeout)
	defer cancel()

	raw, err := adapter.ChatComplete(ctx, []*model.ChatMessage{
		model.NewSystemMessage(titleSystemPrompt),
		model.NewUserMessage(question),
	})
	if err != nil {
		return fallback
	}
	title := cleanTitle(raw)
	if title == "" {
		return fallback
	}
	return title
}

// cleanTitle collapses a model reply to one plain line.
func cleanTitle(raw string) string {
	title := strings.TrimSpace(raw)
	if i := strings.IndexByte(title, '\n'); i >= 0 {
		title = title[:i]
	}
	title = strings.Trim(title, "\"'` ")
	title = strings.TrimRight(title, ".!")
	return util.TruncateRunes(strings.TrimSpace(title), 80)
}
