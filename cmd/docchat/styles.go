// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// styles.go - Shared lipgloss styles for all docchat commands.
//
// Colors are resolved through lipgloss's color profile detection, which
// respects NO_COLOR and downgrades cleanly when output is piped.

package main

import "github.com/charmbracelet/lipgloss"

var (
	// titleStyle is used for command titles and table headers.
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("39")) // Cyan

	// promptStyle renders the REPL input prompt.
	promptStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("39"))

	// assistantStyle renders streamed assistant text.
	assistantStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("252"))

	// reasoningStyle dims the model's thinking side channel.
	reasoningStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240")).
			Italic(true)

	// infoStyle is used for secondary hints and metadata.
	infoStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245"))

	// successStyle marks completed operations.
	successStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("42"))

	// warningStyle marks degraded but non-fatal conditions.
	warningStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("214"))

	// errorStyle marks failures.
	errorStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("196"))

	// idStyle renders session and provider identifiers.
	idStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("240")).
		Italic(true)
)
