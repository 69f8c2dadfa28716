// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package stream

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// =============================================================================
// FORMATS
// =============================================================================

// Format identifies the JSON event shape a backend streams.
type Format string

const (
	FormatDelta      Format = "delta"
	FormatBlocks     Format = "blocks"
	FormatCandidates Format = "candidates"
)

// Terminator is the literal token some delta-format backends send instead
// of a finish reason.
const Terminator = "[DONE]"

// MaxLineSize is the maximum allowed size for a single stream record (64KB).
const MaxLineSize = 64 * 1024

// =============================================================================
// ERRORS
// =============================================================================

// ErrAborted reports that cancellation was observed at a read boundary.
// It is distinct from end-of-stream: an aborted decode never completed.
var ErrAborted = errors.New("stream aborted")

// CallbackError wraps an error raised by a consumer callback. Parse
// failures of individual records are never CallbackErrors; they are
// swallowed and retried on the next read.
type CallbackError struct {
	Err error
}

// Error implements the error interface.
func (e *CallbackError) Error() string {
	return fmt.Sprintf("stream callback failed: %v", e.Err)
}

// Unwrap returns the underlying error.
func (e *CallbackError) Unwrap() error {
	return e.Err
}

// =============================================================================
// CALLBACKS
// =============================================================================

// Callbacks receives decoded events. OnText and OnReasoning may return an
// error to stop the stream. OnReasoning and OnError are optional.
type Callbacks struct {
	OnText      func(text string) error
	OnReasoning func(text string) error
	OnDone      func()
	OnError     func(err error)
}

func (c *Callbacks) text(s string) error {
	if c.OnText == nil || s == "" {
		return nil
	}
	if err := c.OnText(s); err != nil {
		return &CallbackError{Err: err}
	}
	return nil
}

func (c *Callbacks) reasoning(s string) error {
	if c.OnReasoning == nil || s == "" {
		return nil
	}
	if err := c.OnReasoning(s); err != nil {
		return &CallbackError{Err: err}
	}
	return nil
}

// =============================================================================
// DECODER
// =============================================================================

// Decoder turns one response body into a sequence of callback invocations.
type Decoder struct {
	format Format
	cb     Callbacks
}

// NewDecoder creates a decoder for the given wire format.
func NewDecoder(format Format, cb Callbacks) *Decoder {
	return &Decoder{format: format, cb: cb}
}

// Decode reads the stream until completion, end of stream, cancellation, or
// a callback failure. OnDone fires exactly once on success. A non-nil
// return is also delivered to OnError when set.
func (d *Decoder) Decode(ctx context.Context, r io.Reader) error {
	err := d.decode(ctx, r)
	if err != nil && d.cb.OnError != nil {
		d.cb.OnError(err)
	}
	return err
}

func (d *Decoder) decode(ctx context.Context, r io.Reader) error {
	reader := bufio.NewReader(r)

	for {
		// Cancellation is observed at read boundaries only; a record
		// already being processed is still delivered.
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %v", ErrAborted, ctx.Err())
		default:
		}

		line, readErr := reader.ReadBytes('\n')
		if len(line) > MaxLineSize {
			return fmt.Errorf("stream record too large: %d bytes", len(line))
		}

		if len(bytes.TrimSpace(line)) > 0 {
			done, err := d.handleLine(bytes.TrimSpace(line))
			if err != nil {
				return err
			}
			if done {
				d.finish()
				return nil
			}
		}

		if readErr != nil {
			if readErr == io.EOF {
				if ctx.Err() != nil {
					return fmt.Errorf("%w: %v", ErrAborted, ctx.Err())
				}
				// Clean end of stream without an explicit terminator.
				d.finish()
				return nil
			}
			// A cancelled context surfaces as a read error on the
			// HTTP body; report it as an abort, never as success.
			if ctx.Err() != nil || errors.Is(readErr, context.Canceled) {
				return fmt.Errorf("%w: %v", ErrAborted, readErr)
			}
			return fmt.Errorf("stream read failed: %w", readErr)
		}
	}
}

func (d *Decoder) finish() {
	if d.cb.OnDone != nil {
		d.cb.OnDone()
	}
}

// handleLine dispatches one trimmed, non-empty line to the format parser.
func (d *Decoder) handleLine(line []byte) (done bool, err error) {
	switch d.format {
	case FormatBlocks:
		return d.handleBlocksLine(line)
	case FormatCandidates:
		return d.handleCandidatesLine(line)
	default:
		return d.handleDeltaLine(line)
	}
}

// =============================================================================
// DELTA FORMAT
// =============================================================================

// deltaChunk is one record of the delta-per-chunk format.
//
// Reasoning is a *string so that JSON null (no reasoning for this chunk)
// is distinguishable from an empty string.
type deltaChunk struct {
	Choices []struct {
		Delta struct {
			Content   string  `json:"content"`
			Reasoning *string `json:"reasoning_content"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}

func (d *Decoder) handleDeltaLine(line []byte) (bool, error) {
	data, ok := sseData(line)
	if !ok {
		// Non-data SSE fields (event:, id:, retry:, comments) are ignored.
		return false, nil
	}

	if bytes.Equal(data, []byte(Terminator)) {
		return true, nil
	}

	var chunk deltaChunk
	if err := json.Unmarshal(data, &chunk); err != nil {
		// Malformed record, likely split across chunks. Skip it.
		return false, nil
	}
	if len(chunk.Choices) == 0 {
		return false, nil
	}

	choice := chunk.Choices[0]
	if err := d.cb.text(choice.Delta.Content); err != nil {
		return false, err
	}
	if choice.Delta.Reasoning != nil {
		if err := d.cb.reasoning(*choice.Delta.Reasoning); err != nil {
			return false, err
		}
	}

	return choice.FinishReason != "", nil
}

// =============================================================================
// CONTENT-BLOCK FORMAT
// =============================================================================

// blockEvent is one record of the content-block event format. Events carry
// a type discriminant; only a few types are interesting, the rest are
// silently ignored.
type blockEvent struct {
	Type  string `json:"type"`
	Delta struct {
		Type     string `json:"type"`
		Text     string `json:"text"`
		Thinking string `json:"thinking"`
	} `json:"delta"`
}

func (d *Decoder) handleBlocksLine(line []byte) (bool, error) {
	data, ok := sseData(line)
	if !ok {
		return false, nil
	}

	var event blockEvent
	if err := json.Unmarshal(data, &event); err != nil {
		return false, nil
	}

	switch event.Type {
	case "content_block_delta":
		if event.Delta.Type == "thinking_delta" {
			return false, d.cb.reasoning(event.Delta.Thinking)
		}
		return false, d.cb.text(event.Delta.Text)
	case "message_stop":
		return true, nil
	default:
		// message_start, content_block_start, ping, ... are not errors.
		return false, nil
	}
}

// =============================================================================
// CANDIDATE-ARRAY FORMAT
// =============================================================================

// candidateChunk is one record of the candidate-array format. Each raw line
// is itself a complete JSON document, with no SSE prefix.
type candidateChunk struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				Text string `json:"text"`
			} `json:"parts"`
		} `json:"content"`
		FinishReason string `json:"finishReason"`
	} `json:"candidates"`
}

func (d *Decoder) handleCandidatesLine(line []byte) (bool, error) {
	var chunk candidateChunk
	if err := json.Unmarshal(line, &chunk); err != nil {
		return false, nil
	}
	if len(chunk.Candidates) == 0 {
		return false, nil
	}

	first := chunk.Candidates[0]
	if len(first.Content.Parts) > 0 {
		if err := d.cb.text(first.Content.Parts[0].Text); err != nil {
			return false, err
		}
	}

	return first.FinishReason != "", nil
}

// =============================================================================
// SSE HELPERS
// =============================================================================

// sseData extracts the payload of a "data:" line. Lines carrying other SSE
// fields return ok=false.
func sseData(line []byte) ([]byte, bool) {
	if !bytes.HasPrefix(line, []byte("data:")) {
		return nil, false
	}
	return bytes.TrimSpace(line[5:]), true
}
