// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package chat drives conversation turns: it assembles user messages from
// document excerpts and selections, streams assistant replies through the
// active provider adapter, and keeps the session store current with a
// throttled mid-stream save policy.
//
// One Controller tracks at most one abortable operation at a time. Starting
// a new send or regeneration neutralizes the previous cancellation token,
// so Abort only ever affects the most recent operation.
package chat
