// docchat - chat with your documents from the terminal.
//
// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/jeranaias/docchat/internal/chat"
	"github.com/jeranaias/docchat/internal/config"
	"github.com/jeranaias/docchat/internal/item"
	"github.com/jeranaias/docchat/internal/kv"
	"github.com/jeranaias/docchat/internal/provider"
	"github.com/jeranaias/docchat/internal/store"
)

// Version information (set at build time)
var (
	Version   = "0.1.0"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

var rootCmd = &cobra.Command{
	Use:   "docchat",
	Short: "Chat with LLM providers about your documents",
	Long: `docchat streams LLM conversations scoped to documents: attach a
document's text to a question, keep per-document session history with
regeneration and version switching, and move between providers
(OpenRouter, OpenAI, Anthropic, Gemini) without losing anything.

Quick start:
  docchat providers set-key openrouter sk-or-...   Configure a provider
  docchat chat                                     Start a global chat
  docchat chat --item 42 --docs ~/papers           Chat about document 42
  docchat sessions list                            Browse past sessions`,
	Version:       fmt.Sprintf("%s (commit: %s, built: %s)", Version, GitCommit, BuildDate),
	SilenceUsage:  true,
	SilenceErrors: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, errorStyle.Render("Error: ")+err.Error())
		os.Exit(1)
	}
}

// =============================================================================
// APPLICATION WIRING
// =============================================================================

// app is the composition point: every collaborator is constructed here and
// injected explicitly, nothing hangs off package globals.
type app struct {
	cfg      *config.Config
	backend  kv.Store
	store    *store.SessionStore
	registry *provider.Registry
}

func newApp() (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	path, err := cfg.StoragePath()
	if err != nil {
		return nil, err
	}

	var backend kv.Store
	switch cfg.Storage.Backend {
	case "sqlite":
		backend, err = kv.NewSQLiteStore(path, "sessions")
	default:
		backend, err = kv.NewFileStore(path)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open session storage: %w", err)
	}

	reg := provider.NewRegistry()
	if err := config.LoadRegistry(cfg, reg); err != nil {
		backend.Close()
		return nil, fmt.Errorf("failed to load provider registry: %w", err)
	}
	if cfg.Providers.Selected != "" {
		// Config-level selection is a fallback; the registry file wins.
		_ = reg.SetActive(cfg.Providers.Selected)
	}

	return &app{
		cfg:      cfg,
		backend:  backend,
		store:    store.NewSessionStore(backend),
		registry: reg,
	}, nil
}

func (a *app) close() {
	a.backend.Close()
}

// saveRegistry persists the registry after a mutating provider command.
func (a *app) saveRegistry() error {
	return config.SaveRegistry(a.cfg, a.registry.Serialize())
}

// controller builds a conversation controller over the app's collaborators.
func (a *app) controller(docsRoot string, events chat.Events) *chat.Controller {
	var resolver item.Resolver
	if docsRoot != "" {
		resolver = item.NewDirResolver(docsRoot)
	}
	return chat.NewController(
		a.store,
		a.registry,
		resolver,
		item.NewSelectionTracker(),
		chat.SettingsFromConfig(a.cfg.Chat),
		events,
	)
}
