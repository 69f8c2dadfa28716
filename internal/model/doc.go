// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model contains the data structures shared across the docchat
// core: chat messages with streaming and version state, sessions scoped to
// documents, and provider configuration.
//
// The types here are plain data. Persistence lives in internal/store and
// internal/kv; lifecycle orchestration lives in internal/chat.
package model
