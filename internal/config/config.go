// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"sync"

	"github.com/BurntSushi/toml"

	"github.com/jeranaias/docchat/internal/util"
)

// =============================================================================
// CONFIG STRUCTURES
// =============================================================================

// Config represents the complete docchat configuration.
type Config struct {
	Version string `toml:"version" json:"version"`

	// Chat behavior
	Chat ChatConfig `toml:"chat" json:"chat"`

	// Provider selection. The full provider registry lives in a separate
	// JSON file; only the pointers into it are kept here.
	Providers ProvidersConfig `toml:"providers" json:"providers"`

	// Session storage
	Storage StorageConfig `toml:"storage" json:"storage"`

	// Terminal output
	UI UIConfig `toml:"ui" json:"ui"`
}

// ChatConfig contains conversation behavior settings.
type ChatConfig struct {
	// PersistIntervalMs is the wall-clock interval between mid-stream
	// session writes. Whichever of interval and chunk burst trips first
	// triggers a write.
	PersistIntervalMs int `toml:"persist_interval_ms" json:"persist_interval_ms"`
	// PersistChunkBurst is the number of streamed chunks that forces a
	// mid-stream write regardless of elapsed time.
	PersistChunkBurst int `toml:"persist_chunk_burst" json:"persist_chunk_burst"`
	// IncludePDFExcerpts opts in to sending extracted PDF text with the
	// first question of a session.
	IncludePDFExcerpts bool `toml:"include_pdf_excerpts" json:"include_pdf_excerpts"`
	// MaxExcerptRunes bounds how much document text is sent per excerpt.
	MaxExcerptRunes int `toml:"max_excerpt_runes" json:"max_excerpt_runes"`
	// AutoTitle enables one-shot session title generation after the
	// first completed turn.
	AutoTitle bool `toml:"auto_title" json:"auto_title"`
}

// ProvidersConfig contains provider selection settings.
type ProvidersConfig struct {
	// Selected is the id of the active provider.
	Selected string `toml:"selected" json:"selected"`
	// SelectedModel is the model id used for new conversations.
	SelectedModel string `toml:"selected_model" json:"selected_model"`
	// RegistryPath overrides the provider registry file location
	// (empty = <config dir>/providers.json).
	RegistryPath string `toml:"registry_path" json:"registry_path"`
}

// StorageConfig contains session storage settings.
type StorageConfig struct {
	// Backend selects the persistence backend: "file" or "sqlite".
	Backend string `toml:"backend" json:"backend"`
	// Path overrides the storage location (empty = <config dir>/sessions).
	Path string `toml:"path" json:"path"`
}

// UIConfig contains terminal output settings.
type UIConfig struct {
	// Theme is the output theme: "dark", "light", "plain"
	Theme string `toml:"theme" json:"theme"`
	// ShowReasoning renders the model's reasoning side channel when the
	// backend provides one.
	ShowReasoning bool `toml:"show_reasoning" json:"show_reasoning"`
	// CompactMode trims blank lines between turns.
	CompactMode bool `toml:"compact_mode" json:"compact_mode"`
}

// =============================================================================
// DEFAULT CONFIGURATION
// =============================================================================

// Default returns a Config with sensible default values.
func Default() *Config {
	return &Config{
		Version: "1.0.0",

		Chat: ChatConfig{
			PersistIntervalMs:  2000,
			PersistChunkBurst:  25,
			IncludePDFExcerpts: true,
			MaxExcerptRunes:    12000,
			AutoTitle:          true,
		},

		Providers: ProvidersConfig{
			Selected: "openrouter",
		},

		Storage: StorageConfig{
			Backend: "file",
		},

		UI: UIConfig{
			Theme:         "dark",
			ShowReasoning: false,
			CompactMode:   false,
		},
	}
}

// =============================================================================
// CONFIG PATH HELPERS
// =============================================================================

// ConfigDir returns the docchat configuration directory path.
func ConfigDir() (string, error) {
	if dir := os.Getenv("DOCCHAT_CONFIG_DIR"); dir != "" {
		return dir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine home directory: %w", err)
	}
	return filepath.Join(home, ".docchat"), nil
}

// ConfigPath returns the path to the TOML config file.
func ConfigPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// RegistryPath returns the path to the provider registry file.
func (c *Config) RegistryFilePath() (string, error) {
	if c.Providers.RegistryPath != "" {
		return c.Providers.RegistryPath, nil
	}
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "providers.json"), nil
}

// StoragePath returns the session storage location.
func (c *Config) StoragePath() (string, error) {
	if c.Storage.Path != "" {
		return c.Storage.Path, nil
	}
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	if c.Storage.Backend == "sqlite" {
		return filepath.Join(dir, "sessions.db"), nil
	}
	return filepath.Join(dir, "sessions"), nil
}

// EnsureConfigDir ensures the config directory exists.
func EnsureConfigDir() error {
	dir, err := ConfigDir()
	if err != nil {
		return err
	}
	return os.MkdirAll(dir, 0755)
}

// ensureSecurePermissions checks and fixes permissions on config files.
// SECURITY: Config files hold API keys; keep them 0600.
func ensureSecurePermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if info.Mode().Perm() != 0600 {
		if err := os.Chmod(path, 0600); err != nil {
			return fmt.Errorf("failed to fix insecure permissions: %w", err)
		}
	}
	return nil
}

// =============================================================================
// LOAD / SAVE
// =============================================================================

// Load loads configuration from the config file, falling back to defaults
// when the file does not exist. Environment overrides are applied last.
func Load() (*Config, error) {
	cfg := Default()

	path, err := ConfigPath()
	if err == nil {
		if _, statErr := os.Stat(path); statErr == nil {
			if err := LoadFile(cfg, path); err != nil {
				return nil, fmt.Errorf("failed to load config: %w", err)
			}
		}
	}

	cfg.ApplyEnvOverrides()
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// LoadFile loads configuration from a TOML file into cfg.
// SECURITY: Checks and fixes file permissions on load.
func LoadFile(cfg *Config, path string) error {
	if err := ensureSecurePermissions(path); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not ensure secure permissions on %s: %v\n", path, err)
	}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return fmt.Errorf("failed to decode TOML file: %w", err)
	}
	return nil
}

// Save saves the configuration to the default TOML file.
func Save(cfg *Config) error {
	path, err := ConfigPath()
	if err != nil {
		return err
	}
	return SaveFile(cfg, path)
}

// SaveFile saves the configuration to a TOML file.
// RELIABILITY: Atomic write with fsync prevents data loss on crash.
// SECURITY: 0600 permissions, owner read/write only.
func SaveFile(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	var sb strings.Builder
	sb.WriteString("# docchat configuration file\n")
	sb.WriteString("# Generated by docchat - edit with care\n")
	sb.WriteString("\n")
	if err := toml.NewEncoder(&sb).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	if err := util.AtomicWriteFile(path, []byte(sb.String()), 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// =============================================================================
// VALIDATION
// =============================================================================

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidateErrors is a collection of validation errors.
type ValidateErrors []ValidationError

func (e ValidateErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	var msgs []string
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// Validate validates the configuration and returns any errors.
func (c *Config) Validate() error {
	var errs ValidateErrors

	if c.Chat.PersistIntervalMs < 100 {
		errs = append(errs, ValidationError{
			Field:   "chat.persist_interval_ms",
			Message: fmt.Sprintf("must be at least 100, got %d", c.Chat.PersistIntervalMs),
		})
	}
	if c.Chat.PersistChunkBurst < 1 {
		errs = append(errs, ValidationError{
			Field:   "chat.persist_chunk_burst",
			Message: fmt.Sprintf("must be at least 1, got %d", c.Chat.PersistChunkBurst),
		})
	}
	if c.Chat.MaxExcerptRunes < 0 {
		errs = append(errs, ValidationError{
			Field:   "chat.max_excerpt_runes",
			Message: "must be non-negative",
		})
	}

	validBackends := map[string]bool{"file": true, "sqlite": true}
	if !validBackends[strings.ToLower(c.Storage.Backend)] {
		errs = append(errs, ValidationError{
			Field:   "storage.backend",
			Message: fmt.Sprintf("invalid backend '%s', must be one of: file, sqlite", c.Storage.Backend),
		})
	}

	validThemes := map[string]bool{"dark": true, "light": true, "plain": true}
	if !validThemes[strings.ToLower(c.UI.Theme)] {
		errs = append(errs, ValidationError{
			Field:   "ui.theme",
			Message: fmt.Sprintf("invalid theme '%s', must be one of: dark, light, plain", c.UI.Theme),
		})
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// SetDefaults sets default values for any missing configuration fields.
func (c *Config) SetDefaults() {
	defaults := Default()

	if c.Version == "" {
		c.Version = defaults.Version
	}
	if c.Chat.PersistIntervalMs == 0 {
		c.Chat.PersistIntervalMs = defaults.Chat.PersistIntervalMs
	}
	if c.Chat.PersistChunkBurst == 0 {
		c.Chat.PersistChunkBurst = defaults.Chat.PersistChunkBurst
	}
	if c.Chat.MaxExcerptRunes == 0 {
		c.Chat.MaxExcerptRunes = defaults.Chat.MaxExcerptRunes
	}
	if c.Providers.Selected == "" {
		c.Providers.Selected = defaults.Providers.Selected
	}
	if c.Storage.Backend == "" {
		c.Storage.Backend = defaults.Storage.Backend
	}
	if c.UI.Theme == "" {
		c.UI.Theme = defaults.UI.Theme
	}
}

// =============================================================================
// ENVIRONMENT OVERRIDES
// =============================================================================

// ApplyEnvOverrides applies environment variable overrides to the config.
//
// Supported environment variables:
//   - DOCCHAT_PROVIDER: overrides providers.selected
//   - DOCCHAT_MODEL: overrides providers.selected_model
//   - DOCCHAT_STORAGE_BACKEND: overrides storage.backend
//   - DOCCHAT_THEME: overrides ui.theme
func (c *Config) ApplyEnvOverrides() {
	if p := os.Getenv("DOCCHAT_PROVIDER"); p != "" {
		c.Providers.Selected = p
	}
	if m := os.Getenv("DOCCHAT_MODEL"); m != "" {
		c.Providers.SelectedModel = m
	}
	if b := os.Getenv("DOCCHAT_STORAGE_BACKEND"); b != "" {
		c.Storage.Backend = b
	}
	if t := os.Getenv("DOCCHAT_THEME"); t != "" {
		c.UI.Theme = t
	}
}

// =============================================================================
// GET/SET HELPERS (DOT NOTATION)
// =============================================================================

// Get retrieves a configuration value using dot notation
// (e.g., "storage.backend").
func (c *Config) Get(key string) (interface{}, error) {
	parts := strings.Split(key, ".")
	if len(parts) == 0 {
		return nil, errors.New("empty key")
	}

	v := reflect.ValueOf(c).Elem()
	for i, part := range parts {
		fieldName := normalizeFieldName(part)
		field := v.FieldByNameFunc(func(name string) bool {
			return strings.EqualFold(name, fieldName)
		})
		if !field.IsValid() {
			return nil, fmt.Errorf("unknown field: %s", strings.Join(parts[:i+1], "."))
		}

		if i == len(parts)-1 {
			return field.Interface(), nil
		}
		if field.Kind() == reflect.Struct {
			v = field
		} else {
			return nil, fmt.Errorf("field '%s' is not a struct", strings.Join(parts[:i+1], "."))
		}
	}
	return nil, fmt.Errorf("invalid key: %s", key)
}

// Set sets a configuration value using dot notation
// (e.g., "ui.theme").
func (c *Config) Set(key string, value interface{}) error {
	parts := strings.Split(key, ".")
	if len(parts) == 0 {
		return errors.New("empty key")
	}

	v := reflect.ValueOf(c).Elem()
	for i, part := range parts {
		fieldName := normalizeFieldName(part)
		field := v.FieldByNameFunc(func(name string) bool {
			return strings.EqualFold(name, fieldName)
		})
		if !field.IsValid() {
			return fmt.Errorf("unknown field: %s", strings.Join(parts[:i+1], "."))
		}

		if i == len(parts)-1 {
			if !field.CanSet() {
				return fmt.Errorf("cannot set field: %s", key)
			}
			return setFieldValue(field, value)
		}
		if field.Kind() == reflect.Struct {
			v = field
		} else {
			return fmt.Errorf("field '%s' is not a struct", strings.Join(parts[:i+1], "."))
		}
	}
	return fmt.Errorf("invalid key: %s", key)
}

// normalizeFieldName converts a snake_case or kebab-case name to its Go
// field equivalent.
func normalizeFieldName(name string) string {
	parts := strings.FieldsFunc(name, func(r rune) bool {
		return r == '_' || r == '-'
	})

	var result strings.Builder
	for _, part := range parts {
		if len(part) > 0 {
			result.WriteString(strings.ToUpper(string(part[0])))
			result.WriteString(strings.ToLower(part[1:]))
		}
	}
	return result.String()
}

// setFieldValue sets a reflect.Value from an interface{} value with type
// conversion. String inputs are parsed to the field's kind so CLI "set"
// commands can pass raw argument text.
func setFieldValue(field reflect.Value, value interface{}) error {
	if strVal, ok := value.(string); ok {
		switch field.Kind() {
		case reflect.String:
			field.SetString(strVal)
			return nil
		case reflect.Int, reflect.Int64:
			intVal, err := strconv.ParseInt(strVal, 10, 64)
			if err != nil {
				return fmt.Errorf("invalid integer value: %v", err)
			}
			field.SetInt(intVal)
			return nil
		case reflect.Float64:
			floatVal, err := strconv.ParseFloat(strVal, 64)
			if err != nil {
				return fmt.Errorf("invalid float value: %v", err)
			}
			field.SetFloat(floatVal)
			return nil
		case reflect.Bool:
			boolVal := strVal == "1" || strings.EqualFold(strVal, "true") || strings.EqualFold(strVal, "yes")
			field.SetBool(boolVal)
			return nil
		}
	}

	val := reflect.ValueOf(value)
	if val.Type().AssignableTo(field.Type()) {
		field.Set(val)
		return nil
	}
	if val.Type().ConvertibleTo(field.Type()) {
		field.Set(val.Convert(field.Type()))
		return nil
	}
	return fmt.Errorf("cannot assign %T to %s", value, field.Type())
}

// GetAllKeys returns all configuration keys in dot notation.
func GetAllKeys() []string {
	return []string{
		"version",
		"chat.persist_interval_ms",
		"chat.persist_chunk_burst",
		"chat.include_pdf_excerpts",
		"chat.max_excerpt_runes",
		"chat.auto_title",
		"providers.selected",
		"providers.selected_model",
		"providers.registry_path",
		"storage.backend",
		"storage.path",
		"ui.theme",
		"ui.show_reasoning",
		"ui.compact_mode",
	}
}

// Clone creates a deep copy of the configuration.
func (c *Config) Clone() *Config {
	clone := *c
	return &clone
}

// String returns a string representation of the config for debugging.
func (c *Config) String() string {
	data, _ := json.MarshalIndent(c, "", "  ")
	return string(data)
}

// =============================================================================
// SINGLETON PATTERN (THREAD-SAFE)
// =============================================================================

var (
	globalConfig     *Config
	globalConfigOnce sync.Once
	globalConfigMu   sync.RWMutex
)

// Global returns the global configuration instance, loading it on first
// access. Thread-safe.
func Global() *Config {
	globalConfigOnce.Do(func() {
		cfg, err := Load()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Warning: %v (using defaults)\n", err)
			cfg = Default()
		}
		globalConfig = cfg
	})

	globalConfigMu.RLock()
	defer globalConfigMu.RUnlock()
	return globalConfig
}

// ReloadGlobal reloads the global configuration from disk. Thread-safe.
func ReloadGlobal() error {
	cfg, err := Load()
	if err != nil {
		return err
	}
	globalConfigMu.Lock()
	defer globalConfigMu.Unlock()
	globalConfig = cfg
	return nil
}

// SetGlobal sets the global configuration instance. Thread-safe.
func SetGlobal(cfg *Config) {
	globalConfigMu.Lock()
	defer globalConfigMu.Unlock()
	globalConfig = cfg
}

// ResetGlobalForTesting resets the global config state between tests.
func ResetGlobalForTesting() {
	globalConfigMu.Lock()
	defer globalConfigMu.Unlock()
	globalConfig = nil
	globalConfigOnce = sync.Once{}
}
