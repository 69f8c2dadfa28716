// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/jeranaias/docchat/internal/model"
	"github.com/jeranaias/docchat/internal/provider"
	"github.com/jeranaias/docchat/internal/util"
)

// =============================================================================
// PROVIDER REGISTRY PERSISTENCE
// =============================================================================

// registryFile is the on-disk shape of the provider registry. Kept apart
// from the TOML preferences because it holds credentials and is rewritten
// on every registry change.
type registryFile struct {
	ActiveProvider string                  `json:"active_provider"`
	Providers      []*model.ProviderConfig `json:"providers"`
}

// SaveRegistry persists a registry snapshot next to the config file.
// SECURITY: The file carries API keys; written 0600, atomically.
func SaveRegistry(cfg *Config, snap provider.Snapshot) error {
	path, err := cfg.RegistryFilePath()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(registryFile{
		ActiveProvider: snap.ActiveID,
		Providers:      snap.Providers,
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode provider registry: %w", err)
	}
	if err := util.AtomicWriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write provider registry: %w", err)
	}
	return nil
}

// LoadRegistry restores registry state from disk into reg. A missing file
// is not an error; the registry keeps its seeded builtins.
func LoadRegistry(cfg *Config, reg *provider.Registry) error {
	path, err := cfg.RegistryFilePath()
	if err != nil {
		return err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read provider registry: %w", err)
	}

	var file registryFile
	if err := json.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("failed to decode provider registry: %w", err)
	}

	reg.Restore(provider.Snapshot{
		ActiveID:  file.ActiveProvider,
		Providers: file.Providers,
	})
	return nil
}
