// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package provider talks to LLM backends.
//
// Provider differences are captured in a data-driven wire strategy table
// (endpoint paths, auth headers, body shape, stream format, response
// parsing) rather than a type hierarchy. Adapter executes requests for
// one provider; Registry owns configuration, the active selection, and
// change notification.
package provider
