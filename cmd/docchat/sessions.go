// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// sessions.go - Session management subcommands.
//
// Commands:
//   sessions list [--item N] [--all]      List sessions from the index
//   sessions show ID [--item N]           Print one session
//   sessions delete ID [--item N]         Delete one session
//   sessions purge --item N               Delete all sessions for an item
//   sessions export ID [--format yaml]    Export a session
//   sessions import FILE                  Import a previously exported session
//   sessions reindex                      Rebuild the metadata index

package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/mattn/go-runewidth"
	"github.com/spf13/cobra"

	"github.com/jeranaias/docchat/internal/model"
	"github.com/jeranaias/docchat/internal/store"
)

var (
	sessionsItemID int
	sessionsAll    bool
	exportFormat   string
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "Manage stored chat sessions",
}

// listAllItems in List means "across every item".
const listAllItems = -1

var sessionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List sessions",
	Long: `List sessions from the metadata index. By default sessions with no
messages are hidden; --all includes them. Without --item, sessions across
every document are listed.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.close()

		itemID := listAllItems
		if cmd.Flags().Changed("item") {
			itemID = sessionsItemID
		}
		metas, err := a.store.List(itemID, sessionsAll)
		if err != nil {
			return err
		}
		if len(metas) == 0 {
			fmt.Println(infoStyle.Render("no sessions"))
			return nil
		}
		printSessionTable(metas)
		return nil
	},
}

// printSessionTable renders the index as fixed-width columns. Widths are
// calculated with runewidth so CJK titles and previews line up.
func printSessionTable(metas []store.SessionMeta) {
	const (
		nameWidth    = 32
		previewWidth = 44
	)

	fmt.Printf("%s  %s  %s  %s  %s\n",
		titleStyle.Render(pad("ID", 8)),
		titleStyle.Render(pad("ITEM", 5)),
		titleStyle.Render(pad("TITLE", nameWidth)),
		titleStyle.Render(pad("PREVIEW", previewWidth)),
		titleStyle.Render("UPDATED"))

	for _, m := range metas {
		name := m.DisplayName
		if name == "" {
			name = "(untitled)"
		}
		fmt.Printf("%s  %s  %s  %s  %s\n",
			idStyle.Render(pad(shortID(m.SessionID), 8)),
			pad(fmt.Sprintf("%d", m.ItemID), 5),
			pad(clipCell(name, nameWidth), nameWidth),
			infoStyle.Render(pad(clipCell(m.Preview, previewWidth), previewWidth)),
			m.UpdatedAt.Format("2006-01-02 15:04"))
	}
}

func clipCell(s string, width int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	return runewidth.Truncate(s, width, "…")
}

func pad(s string, width int) string {
	return runewidth.FillRight(s, width)
}

var sessionsShowCmd = &cobra.Command{
	Use:   "show ID",
	Short: "Print one session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.close()

		itemID, sessionID, err := findSession(a, args[0])
		if err != nil {
			return err
		}
		session, err := a.store.Load(itemID, sessionID)
		if err != nil {
			return err
		}

		title := session.Title
		if title == "" {
			title = "(untitled)"
		}
		fmt.Println(titleStyle.Render(title) + "  " + idStyle.Render(session.ID))
		fmt.Println(infoStyle.Render(fmt.Sprintf("item %d, created %s", session.ItemID, session.CreatedAt.Format("2006-01-02 15:04"))))
		fmt.Println()
		for _, m := range session.Messages {
			if m.IsEmpty() {
				continue
			}
			switch m.Role {
			case model.RoleUser:
				fmt.Println(promptStyle.Render(m.Role.DisplayName()+":") + " " + m.QuestionText())
			case model.RoleError:
				fmt.Println(errorStyle.Render(m.Role.DisplayName()+":") + " " + m.Content)
			default:
				fmt.Println(titleStyle.Render(m.Role.DisplayName()+":") + " " + m.Content)
			}
			if len(m.ContentVersions) > 1 {
				fmt.Println(infoStyle.Render(fmt.Sprintf("  (version %d of %d)", m.CurrentVersionIndex+1, len(m.ContentVersions))))
			}
			fmt.Println()
		}
		return nil
	},
}

var sessionsDeleteCmd = &cobra.Command{
	Use:   "delete ID",
	Short: "Delete one session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.close()

		itemID, sessionID, err := findSession(a, args[0])
		if err != nil {
			return err
		}
		if err := a.store.Delete(itemID, sessionID); err != nil {
			return err
		}
		fmt.Println(successStyle.Render("deleted ") + idStyle.Render(sessionID))
		return nil
	},
}

var sessionsPurgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Delete all sessions for an item",
	RunE: func(cmd *cobra.Command, args []string) error {
		if !cmd.Flags().Changed("item") {
			return fmt.Errorf("purge requires --item")
		}
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.close()

		if err := a.store.DeleteAllForItem(sessionsItemID); err != nil {
			return err
		}
		fmt.Println(successStyle.Render(fmt.Sprintf("deleted all sessions for item %d", sessionsItemID)))
		return nil
	},
}

var sessionsExportCmd = &cobra.Command{
	Use:   "export ID",
	Short: "Export a session to stdout",
	Long: `Export a session as JSON (default) or YAML. Messages with empty
content are filtered out of the export.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.close()

		itemID, sessionID, err := findSession(a, args[0])
		if err != nil {
			return err
		}
		data, err := a.store.Export(itemID, sessionID, store.ExportFormat(exportFormat))
		if err != nil {
			return err
		}
		os.Stdout.Write(data)
		fmt.Println()
		return nil
	},
}

var sessionsImportCmd = &cobra.Command{
	Use:   "import FILE",
	Short: "Import a previously exported session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.close()

		data, err := os.ReadFile(args[0])
		if err != nil {
			return err
		}
		format := store.ExportJSON
		if strings.HasSuffix(args[0], ".yaml") || strings.HasSuffix(args[0], ".yml") {
			format = store.ExportYAML
		}
		session, err := a.store.Import(data, format)
		if err != nil {
			return err
		}
		fmt.Println(successStyle.Render("imported ") + idStyle.Render(session.ID))
		return nil
	},
}

var sessionsReindexCmd = &cobra.Command{
	Use:   "reindex",
	Short: "Rebuild the session metadata index",
	Long: `Scan every per-item record and rebuild the metadata index from
scratch. Use this when the index is suspected to be stale or corrupt; the
rebuild is idempotent.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.close()

		if err := a.store.RebuildIndex(); err != nil {
			return err
		}
		fmt.Println(successStyle.Render("index rebuilt"))
		return nil
	},
}

// findSession resolves a session ID or unambiguous prefix to its item and
// full ID, honoring --item when given.
func findSession(a *app, prefix string) (int, string, error) {
	itemID := listAllItems
	if sessionsItemID != listAllItems {
		itemID = sessionsItemID
	}
	metas, err := a.store.List(itemID, true)
	if err != nil {
		return 0, "", err
	}
	var found *store.SessionMeta
	for i, m := range metas {
		if m.SessionID == prefix {
			return m.ItemID, m.SessionID, nil
		}
		if strings.HasPrefix(m.SessionID, prefix) {
			if found != nil {
				return 0, "", fmt.Errorf("session prefix %q is ambiguous", prefix)
			}
			found = &metas[i]
		}
	}
	if found == nil {
		return 0, "", fmt.Errorf("no session matches %q", prefix)
	}
	return found.ItemID, found.SessionID, nil
}

func init() {
	sessionsCmd.PersistentFlags().IntVar(&sessionsItemID, "item", listAllItems, "restrict to one document item ID")
	sessionsListCmd.Flags().BoolVar(&sessionsAll, "all", false, "include empty sessions")
	sessionsExportCmd.Flags().StringVarP(&exportFormat, "format", "f", "json", "export format: json or yaml")

	sessionsCmd.AddCommand(sessionsListCmd)
	sessionsCmd.AddCommand(sessionsShowCmd)
	sessionsCmd.AddCommand(sessionsDeleteCmd)
	sessionsCmd.AddCommand(sessionsPurgeCmd)
	sessionsCmd.AddCommand(sessionsExportCmd)
	sessionsCmd.AddCommand(sessionsImportCmd)
	sessionsCmd.AddCommand(sessionsReindexCmd)
	rootCmd.AddCommand(sessionsCmd)
}
