// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// providers.go - Provider registry subcommands.
//
// Commands:
//   providers list                        Show all providers
//   providers select ID                   Make a provider active
//   providers set-key ID KEY              Set the API key for a provider
//   providers set-url ID URL              Point a provider at another base URL
//   providers rotate-key ID               Advance to the next stored key
//   providers effort ID LEVEL             Set reasoning effort (low/medium/high/off)
//   providers models ID                   Fetch the provider's model list
//   providers test ID                     Check credentials with a live call
//   providers create NAME TYPE URL        Add a custom provider
//   providers remove ID                   Delete a custom provider
//
// SECURITY: Keys are never echoed; only SHA-256 fingerprints are shown.

package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/jeranaias/docchat/internal/model"
)

// providerCallTimeout bounds live calls made by `models` and `test`.
const providerCallTimeout = 30 * time.Second

var providersCmd = &cobra.Command{
	Use:   "providers",
	Short: "Manage LLM providers",
}

var providersListCmd = &cobra.Command{
	Use:   "list",
	Short: "Show all providers",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.close()

		fmt.Printf("%s  %s  %s  %s  %s\n",
			titleStyle.Render(pad("ID", 18)),
			titleStyle.Render(pad("TYPE", 10)),
			titleStyle.Render(pad("KEY", 10)),
			titleStyle.Render(pad("MODEL", 28)),
			titleStyle.Render("STATUS"))

		for _, p := range a.registry.List() {
			id := p.ID
			if id == a.registry.ActiveID() {
				id = "* " + id
			} else {
				id = "  " + id
			}
			fingerprint := "none"
			if ep := p.CurrentEndpoint(); ep != nil {
				fingerprint = ep.CurrentKey().Fingerprint()
			}
			status := successStyle.Render("ready")
			if !p.IsReady() {
				status = warningStyle.Render("not configured")
			}
			fmt.Printf("%s  %s  %s  %s  %s\n",
				pad(id, 18),
				pad(string(p.Type), 10),
				idStyle.Render(pad(fingerprint, 10)),
				pad(clipCell(p.ModelOrDefault(), 28), 28),
				status)
		}
		return nil
	},
}

var providersSelectCmd = &cobra.Command{
	Use:   "select ID",
	Short: "Make a provider active",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.close()

		if err := a.registry.SetActive(args[0]); err != nil {
			return err
		}
		if err := a.saveRegistry(); err != nil {
			return err
		}
		fmt.Println(successStyle.Render("active provider: " + args[0]))
		return nil
	},
}

var keyName string

var providersSetKeyCmd = &cobra.Command{
	Use:   "set-key ID KEY",
	Short: "Set the API key for a provider",
	Long: `Store an API key on the provider's current endpoint and enable the
provider. The key is written to the registry file with owner-only
permissions; it is never printed back.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.close()

		cfg, err := a.registry.Get(args[0])
		if err != nil {
			return err
		}
		endpoints := cfg.Endpoints
		if len(endpoints) == 0 {
			endpoints = []model.Endpoint{{}}
		}
		i := cfg.CurrentEndpointIndex
		if i < 0 || i >= len(endpoints) {
			i = 0
		}
		endpoints[i].APIKeys = append(endpoints[i].APIKeys, model.APIKey{Name: keyName, Key: args[1]})
		endpoints[i].CurrentKeyIndex = len(endpoints[i].APIKeys) - 1

		enabled := true
		if err := a.registry.Update(args[0], model.ProviderUpdate{
			Enabled:   &enabled,
			Endpoints: &endpoints,
		}); err != nil {
			return err
		}
		if err := a.saveRegistry(); err != nil {
			return err
		}
		key := model.APIKey{Key: args[1]}
		fmt.Println(successStyle.Render("key stored ") + idStyle.Render("(fingerprint "+key.Fingerprint()+")"))
		return nil
	},
}

var providersSetURLCmd = &cobra.Command{
	Use:   "set-url ID URL",
	Short: "Point a provider at another base URL",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.close()

		cfg, err := a.registry.Get(args[0])
		if err != nil {
			return err
		}
		endpoints := cfg.Endpoints
		if len(endpoints) == 0 {
			endpoints = []model.Endpoint{{}}
		}
		i := cfg.CurrentEndpointIndex
		if i < 0 || i >= len(endpoints) {
			i = 0
		}
		endpoints[i].BaseURL = args[1]

		if err := a.registry.Update(args[0], model.ProviderUpdate{Endpoints: &endpoints}); err != nil {
			return err
		}
		if err := a.saveRegistry(); err != nil {
			return err
		}
		fmt.Println(successStyle.Render("base URL updated"))
		return nil
	},
}

var providersRotateKeyCmd = &cobra.Command{
	Use:   "rotate-key ID",
	Short: "Advance to the next stored key",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.close()

		if err := a.registry.RotateKey(args[0]); err != nil {
			return err
		}
		if err := a.saveRegistry(); err != nil {
			return err
		}
		cfg, err := a.registry.Get(args[0])
		if err != nil {
			return err
		}
		fingerprint := "none"
		if ep := cfg.CurrentEndpoint(); ep != nil {
			fingerprint = ep.CurrentKey().Fingerprint()
		}
		fmt.Println(successStyle.Render("rotated ") + idStyle.Render("(fingerprint "+fingerprint+")"))
		return nil
	},
}

var providersEffortCmd = &cobra.Command{
	Use:   "effort ID LEVEL",
	Short: "Set reasoning effort (low, medium, high, or off)",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		level := args[1]
		switch level {
		case "low", "medium", "high":
		case "off":
			level = ""
		default:
			return fmt.Errorf("effort must be low, medium, high, or off")
		}

		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.close()

		if err := a.registry.Update(args[0], model.ProviderUpdate{ReasoningEffort: &level}); err != nil {
			return err
		}
		if err := a.saveRegistry(); err != nil {
			return err
		}
		fmt.Println(successStyle.Render("reasoning effort updated"))
		return nil
	},
}

var providersModelsCmd = &cobra.Command{
	Use:   "models ID",
	Short: "Fetch the provider's model list",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.close()

		adapter, err := a.registry.AdapterFor(args[0])
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(context.Background(), providerCallTimeout)
		defer cancel()

		models, err := adapter.ListModels(ctx)
		if err != nil {
			return err
		}
		for _, m := range models {
			line := m.ID
			if m.Name != "" && m.Name != m.ID {
				line += "  " + infoStyle.Render(m.Name)
			}
			if m.ContextSize > 0 {
				line += "  " + idStyle.Render(fmt.Sprintf("%dk ctx", m.ContextSize/1024))
			}
			fmt.Println(line)
		}
		return nil
	},
}

var providersTestCmd = &cobra.Command{
	Use:   "test ID",
	Short: "Check credentials with a live call",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.close()

		adapter, err := a.registry.AdapterFor(args[0])
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(context.Background(), providerCallTimeout)
		defer cancel()

		if err := adapter.TestConnection(ctx); err != nil {
			return fmt.Errorf("connection test failed: %w", err)
		}
		fmt.Println(successStyle.Render("connection OK"))
		return nil
	},
}

var providersCreateCmd = &cobra.Command{
	Use:   "create NAME TYPE URL",
	Short: "Add a custom provider",
	Long: `Add a custom provider speaking one of the known wire protocols
(openai, anthropic, gemini, openrouter) against the given base URL. Useful
for self-hosted gateways and OpenAI-compatible servers.`,
	Args: cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		t := model.ProviderType(args[1])
		switch t {
		case model.ProviderOpenAI, model.ProviderAnthropic, model.ProviderGemini, model.ProviderOpenRouter:
		default:
			return fmt.Errorf("unknown provider type %q", args[1])
		}

		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.close()

		id, err := a.registry.CreateCustom(args[0], t, args[2])
		if err != nil {
			return err
		}
		if err := a.saveRegistry(); err != nil {
			return err
		}
		fmt.Println(successStyle.Render("created ") + idStyle.Render(id))
		return nil
	},
}

var providersRemoveCmd = &cobra.Command{
	Use:   "remove ID",
	Short: "Delete a custom provider",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.close()

		if err := a.registry.Delete(args[0]); err != nil {
			return err
		}
		if err := a.saveRegistry(); err != nil {
			return err
		}
		fmt.Println(successStyle.Render("removed " + args[0]))
		return nil
	},
}

func init() {
	providersSetKeyCmd.Flags().StringVar(&keyName, "name", "default", "label for the stored key")

	providersCmd.AddCommand(providersListCmd)
	providersCmd.AddCommand(providersSelectCmd)
	providersCmd.AddCommand(providersSetKeyCmd)
	providersCmd.AddCommand(providersSetURLCmd)
	providersCmd.AddCommand(providersRotateKeyCmd)
	providersCmd.AddCommand(providersEffortCmd)
	providersCmd.AddCommand(providersModelsCmd)
	providersCmd.AddCommand(providersTestCmd)
	providersCmd.AddCommand(providersCreateCmd)
	providersCmd.AddCommand(providersRemoveCmd)
	rootCmd.AddCommand(providersCmd)
}
