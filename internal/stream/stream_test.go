// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package stream

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
)

// chunkedReader yields at most n bytes per Read, exercising arbitrary
// chunk boundaries including mid-JSON-token splits.
type chunkedReader struct {
	data []byte
	n    int
	pos  int
}

func (r *chunkedReader) Read(p []byte) (int, error) {
	if r.pos >= len(r.data) {
		return 0, io.EOF
	}
	end := r.pos + r.n
	if end > len(r.data) {
		end = len(r.data)
	}
	if end-r.pos > len(p) {
		end = r.pos + len(p)
	}
	n := copy(p, r.data[r.pos:end])
	r.pos += n
	return n, nil
}

// collect runs a decoder over the input and returns accumulated text,
// reasoning, done count, and error.
func collect(t *testing.T, format Format, input string, chunkSize int) (string, string, int, error) {
	t.Helper()

	var text, reasoning strings.Builder
	doneCount := 0

	dec := NewDecoder(format, Callbacks{
		OnText:      func(s string) error { text.WriteString(s); return nil },
		OnReasoning: func(s string) error { reasoning.WriteString(s); return nil },
		OnDone:      func() { doneCount++ },
	})

	err := dec.Decode(context.Background(), &chunkedReader{data: []byte(input), n: chunkSize})
	return text.String(), reasoning.String(), doneCount, err
}

// =============================================================================
// DELTA FORMAT TESTS
// =============================================================================

const deltaStream = `data: {"choices":[{"delta":{"content":"Hel","reasoning_content":null},"finish_reason":""}]}

data: {"choices":[{"delta":{"content":"lo ","reasoning_content":"hmm"},"finish_reason":""}]}

data: {"choices":[{"delta":{"content":"world","reasoning_content":" ok"},"finish_reason":""}]}

data: {"choices":[{"delta":{"content":""},"finish_reason":"stop"}]}

data: [DONE]
`

func TestDelta_Accumulation(t *testing.T) {
	text, reasoning, done, err := collect(t, FormatDelta, deltaStream, len(deltaStream))
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if text != "Hello world" {
		t.Errorf("text = %q", text)
	}
	if reasoning != "hmm ok" {
		t.Errorf("reasoning = %q", reasoning)
	}
	if done != 1 {
		t.Errorf("OnDone fired %d times, want 1", done)
	}
}

func TestDelta_ChunkBoundaryIndependence(t *testing.T) {
	want, wantReasoning, _, err := collect(t, FormatDelta, deltaStream, len(deltaStream))
	if err != nil {
		t.Fatalf("unchunked decode failed: %v", err)
	}

	for _, size := range []int{1, 2, 3, 7, 16, 64} {
		text, reasoning, done, err := collect(t, FormatDelta, deltaStream, size)
		if err != nil {
			t.Fatalf("chunk size %d: %v", size, err)
		}
		if text != want {
			t.Errorf("chunk size %d: text = %q, want %q", size, text, want)
		}
		if reasoning != wantReasoning {
			t.Errorf("chunk size %d: reasoning = %q, want %q", size, reasoning, wantReasoning)
		}
		if done != 1 {
			t.Errorf("chunk size %d: done = %d", size, done)
		}
	}
}

func TestDelta_TerminatorOnly(t *testing.T) {
	input := "data: {\"choices\":[{\"delta\":{\"content\":\"x\"},\"finish_reason\":\"\"}]}\n\ndata: [DONE]\n"
	text, _, done, err := collect(t, FormatDelta, input, 5)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if text != "x" || done != 1 {
		t.Errorf("text = %q, done = %d", text, done)
	}
}

func TestDelta_MalformedRecordSwallowed(t *testing.T) {
	input := "data: {not json at all\ndata: {\"choices\":[{\"delta\":{\"content\":\"ok\"},\"finish_reason\":\"stop\"}]}\n"
	text, _, _, err := collect(t, FormatDelta, input, len(input))
	if err != nil {
		t.Fatalf("malformed record should be skipped, got %v", err)
	}
	if text != "ok" {
		t.Errorf("text = %q", text)
	}
}

func TestDelta_NullReasoningIsNotEndOfReasoning(t *testing.T) {
	// reasoning arrives, then a null chunk, then more reasoning
	input := `data: {"choices":[{"delta":{"content":"","reasoning_content":"a"},"finish_reason":""}]}
data: {"choices":[{"delta":{"content":"x","reasoning_content":null},"finish_reason":""}]}
data: {"choices":[{"delta":{"content":"","reasoning_content":"b"},"finish_reason":"stop"}]}
`
	text, reasoning, _, err := collect(t, FormatDelta, input, len(input))
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if reasoning != "ab" {
		t.Errorf("reasoning = %q, want %q", reasoning, "ab")
	}
	if text != "x" {
		t.Errorf("text = %q", text)
	}
}

// =============================================================================
// CONTENT-BLOCK FORMAT TESTS
// =============================================================================

const blocksStream = `data: {"type":"message_start","message":{"id":"m1"}}

data: {"type":"content_block_start","index":0}

data: {"type":"content_block_delta","delta":{"type":"thinking_delta","thinking":"let me see"}}

data: {"type":"content_block_delta","delta":{"type":"text_delta","text":"Hi"}}

data: {"type":"ping"}

data: {"type":"content_block_delta","delta":{"type":"text_delta","text":" there"}}

data: {"type":"content_block_stop","index":0}

data: {"type":"message_stop"}
`

func TestBlocks_Accumulation(t *testing.T) {
	text, reasoning, done, err := collect(t, FormatBlocks, blocksStream, len(blocksStream))
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if text != "Hi there" {
		t.Errorf("text = %q", text)
	}
	if reasoning != "let me see" {
		t.Errorf("reasoning = %q", reasoning)
	}
	if done != 1 {
		t.Errorf("done = %d", done)
	}
}

func TestBlocks_ChunkBoundaryIndependence(t *testing.T) {
	for _, size := range []int{1, 3, 11, 128} {
		text, reasoning, done, err := collect(t, FormatBlocks, blocksStream, size)
		if err != nil {
			t.Fatalf("chunk size %d: %v", size, err)
		}
		if text != "Hi there" || reasoning != "let me see" || done != 1 {
			t.Errorf("chunk size %d: text=%q reasoning=%q done=%d", size, text, reasoning, done)
		}
	}
}

func TestBlocks_UnknownEventTypesIgnored(t *testing.T) {
	input := "data: {\"type\":\"mystery_event\"}\ndata: {\"type\":\"message_stop\"}\n"
	_, _, done, err := collect(t, FormatBlocks, input, len(input))
	if err != nil {
		t.Fatalf("unknown event types must not be errors: %v", err)
	}
	if done != 1 {
		t.Errorf("done = %d", done)
	}
}

// =============================================================================
// CANDIDATE-ARRAY FORMAT TESTS
// =============================================================================

const candidatesStream = `{"candidates":[{"content":{"parts":[{"text":"The answer"}]},"finishReason":""}]}
{"candidates":[{"content":{"parts":[{"text":" is 42."}]},"finishReason":"STOP"}]}
`

func TestCandidates_Accumulation(t *testing.T) {
	text, _, done, err := collect(t, FormatCandidates, candidatesStream, len(candidatesStream))
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if text != "The answer is 42." {
		t.Errorf("text = %q", text)
	}
	if done != 1 {
		t.Errorf("done = %d", done)
	}
}

func TestCandidates_ChunkBoundaryIndependence(t *testing.T) {
	for _, size := range []int{1, 2, 5, 33} {
		text, _, done, err := collect(t, FormatCandidates, candidatesStream, size)
		if err != nil {
			t.Fatalf("chunk size %d: %v", size, err)
		}
		if text != "The answer is 42." || done != 1 {
			t.Errorf("chunk size %d: text=%q done=%d", size, text, done)
		}
	}
}

// =============================================================================
// ERROR PROPAGATION TESTS
// =============================================================================

func TestCallbackErrorStopsStream(t *testing.T) {
	boom := errors.New("boom")
	calls := 0

	dec := NewDecoder(FormatDelta, Callbacks{
		OnText: func(s string) error {
			calls++
			return boom
		},
	})

	err := dec.Decode(context.Background(), strings.NewReader(deltaStream))
	if err == nil {
		t.Fatal("expected error")
	}
	var cbErr *CallbackError
	if !errors.As(err, &cbErr) {
		t.Fatalf("expected CallbackError, got %T: %v", err, err)
	}
	if !errors.Is(err, boom) {
		t.Error("CallbackError should unwrap to the original error")
	}
	if calls != 1 {
		t.Errorf("stream should stop after first callback failure, calls = %d", calls)
	}
}

func TestOnErrorReceivesFailure(t *testing.T) {
	var seen error
	dec := NewDecoder(FormatDelta, Callbacks{
		OnText:  func(s string) error { return errors.New("nope") },
		OnError: func(err error) { seen = err },
	})

	err := dec.Decode(context.Background(), strings.NewReader(deltaStream))
	if err == nil || seen == nil {
		t.Fatal("OnError should observe the failure")
	}
	if seen.Error() != err.Error() {
		t.Error("OnError should receive the returned error")
	}
}

// =============================================================================
// CANCELLATION TESTS
// =============================================================================

func TestCancellationAtReadBoundary(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	var text strings.Builder
	doneFired := false

	delivered := make(chan struct{})
	pr, pw := io.Pipe()
	go func() {
		pw.Write([]byte("data: {\"choices\":[{\"delta\":{\"content\":\"partial\"},\"finish_reason\":\"\"}]}\n"))
		<-delivered
		cancel()
		// End of stream after cancellation must still report abort,
		// never success.
		pw.Close()
	}()

	dec := NewDecoder(FormatDelta, Callbacks{
		OnText: func(s string) error {
			text.WriteString(s)
			close(delivered)
			return nil
		},
		OnDone: func() { doneFired = true },
	})

	err := dec.Decode(ctx, pr)
	if !errors.Is(err, ErrAborted) {
		t.Fatalf("expected ErrAborted, got %v", err)
	}
	if doneFired {
		t.Error("OnDone must not fire after an observed cancellation")
	}
	if text.String() != "partial" {
		t.Errorf("text = %q, want only the pre-cancel chunk", text.String())
	}
}

func TestCancelledBodyReadIsAbort(t *testing.T) {
	pr, pw := io.Pipe()
	go func() {
		pw.Write([]byte("data: {\"choices\":[{\"delta\":{\"content\":\"x\"},\"finish_reason\":\"\"}]}\n"))
		// An HTTP body read fails like this when the request context
		// is cancelled mid-read.
		pw.CloseWithError(context.Canceled)
	}()

	dec := NewDecoder(FormatDelta, Callbacks{})
	err := dec.Decode(context.Background(), pr)
	if !errors.Is(err, ErrAborted) {
		t.Fatalf("expected ErrAborted for cancelled body read, got %v", err)
	}
}

func TestCleanEOFCompletes(t *testing.T) {
	input := "data: {\"choices\":[{\"delta\":{\"content\":\"tail\"},\"finish_reason\":\"\"}]}\n"
	text, _, done, err := collect(t, FormatDelta, input, len(input))
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if text != "tail" || done != 1 {
		t.Errorf("text=%q done=%d", text, done)
	}
}

// Trailing record without a final newline must still be processed at EOF.
func TestTrailingLineWithoutNewline(t *testing.T) {
	input := `{"candidates":[{"content":{"parts":[{"text":"no newline"}]},"finishReason":"STOP"}]}`
	text, _, _, err := collect(t, FormatCandidates, input, 7)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if text != "no newline" {
		t.Errorf("text = %q", text)
	}
}
