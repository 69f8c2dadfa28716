// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package stream decodes provider byte streams into text events.
//
// Backends disagree on how a streamed completion looks on the wire. This
// package normalizes the three shapes we speak:
//
//   - FormatDelta: SSE records ("data: {...}") carrying a nested delta
//     object per chunk, terminated by a finish reason or a literal [DONE].
//   - FormatBlocks: SSE records with a type discriminant; only
//     content_block_delta events carry text, message_stop terminates.
//   - FormatCandidates: one bare JSON document per line; text lives in the
//     first candidate's first part.
//
// All three produce the same Callbacks contract, including a separate
// channel for model reasoning tokens. The decoder buffers partial lines
// across reads, swallows records split mid-JSON, and observes context
// cancellation at every read boundary.
package stream
