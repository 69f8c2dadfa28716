// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides configuration loading and management for docchat.
//
// Preferences live in a TOML file with sensible defaults, environment
// variable overrides, and validation. The provider registry, which holds
// credentials, is persisted separately as JSON. Both files are written
// atomically with 0600 permissions.
//
// # Configuration Precedence
//
// Configuration is loaded from (in order of precedence):
//   - Environment variables (DOCCHAT_*)
//   - $DOCCHAT_CONFIG_DIR or ~/.docchat/config.toml
//   - Built-in defaults
package config
