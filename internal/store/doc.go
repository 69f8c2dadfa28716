// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package store provides durable session persistence plus a queryable
// metadata index.
//
// Persistence granularity is one record per item holding all of that
// item's sessions. A separate index record holds one SessionMeta per
// session across all items, sorted by recency, so listing queries never
// open a per-item record. The index is a cache, never a source of truth:
// if it is missing or fails to parse it is rebuilt by scanning every
// per-item record, and the rebuild is idempotent.
package store
