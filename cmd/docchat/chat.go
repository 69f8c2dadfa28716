// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// chat.go - Interactive chat REPL.
//
// Command: chat
// Short:   Start an interactive chat session
//
// Examples:
//   docchat chat                          Global chat (no document scope)
//   docchat chat --item 42 --docs ~/docs  Chat scoped to document 42
//   docchat chat --model gpt-4o           Override the selected model
//
// Interactive commands (during chat):
//   /help               Show available commands
//   /new                Start a fresh session
//   /sessions           List this scope's sessions
//   /switch ID          Switch to another session
//   /regen              Regenerate the last assistant reply
//   /version K          Switch the last reply to version K
//   /doc ID             Attach document ID to the next question
//   /quote TEXT         Quote TEXT into the next question
//   /provider [ID]      Show or switch the active provider
//   /model [ID]         Show or switch the selected model
//   /history            Print the conversation so far
//   /quit               Exit
//   Ctrl+C              Abort the current generation
//   Ctrl+D              Exit

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"

	"github.com/peterh/liner"
	"github.com/spf13/cobra"

	"github.com/jeranaias/docchat/internal/chat"
	"github.com/jeranaias/docchat/internal/config"
	"github.com/jeranaias/docchat/internal/model"
)

var (
	chatItemID   int
	chatDocsRoot string
	chatModel    string
	chatProvider string
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Start an interactive chat session",
	Long: `Start an interactive REPL that streams replies from the active
provider. With --item the conversation is scoped to that document and its
text can be folded into the first question; without it the chat is global.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.close()
		return runChat(a)
	},
}

func init() {
	chatCmd.Flags().IntVar(&chatItemID, "item", model.GlobalItemID, "document item ID to scope the chat to")
	chatCmd.Flags().StringVar(&chatDocsRoot, "docs", "", "directory holding document folders (enables --item and /doc)")
	chatCmd.Flags().StringVarP(&chatModel, "model", "m", "", "override the selected model for this run")
	chatCmd.Flags().StringVarP(&chatProvider, "provider", "p", "", "override the active provider for this run")
	rootCmd.AddCommand(chatCmd)
}

// =============================================================================
// INPUT HISTORY
// =============================================================================

// replInput wraps liner with persistent history in the config directory.
type replInput struct {
	line        *liner.State
	historyFile string
}

func newReplInput() *replInput {
	line := liner.NewLiner()
	line.SetCtrlCAborts(true)

	dir, err := config.ConfigDir()
	if err != nil {
		dir = os.TempDir()
	}
	in := &replInput{line: line, historyFile: filepath.Join(dir, "chat_history")}

	if f, err := os.Open(in.historyFile); err == nil {
		in.line.ReadHistory(f)
		f.Close()
	}
	return in
}

func (in *replInput) read(prompt string) (string, error) {
	input, err := in.line.Prompt(prompt)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(input) != "" {
		in.line.AppendHistory(input)
	}
	return input, nil
}

func (in *replInput) close() {
	// History file gets the same permissions as the rest of the config dir
	// contents: owner-only.
	if f, err := os.OpenFile(in.historyFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600); err == nil {
		in.line.WriteHistory(f)
		f.Close()
	}
	in.line.Close()
}

// =============================================================================
// REPL
// =============================================================================

// repl holds the interactive session state.
type repl struct {
	app  *app
	ctrl *chat.Controller
	in   *replInput

	itemID int

	// printed tracks how much of each streaming message has already been
	// written, so accumulated content can be printed as deltas.
	mu       sync.Mutex
	printed  map[string]int
	reasoned map[string]int
}

func runChat(a *app) error {
	if err := applyRunOverrides(a); err != nil {
		return err
	}

	r := &repl{
		app:      a,
		itemID:   chatItemID,
		printed:  make(map[string]int),
		reasoned: make(map[string]int),
	}
	r.ctrl = a.controller(chatDocsRoot, chat.Events{OnChunk: r.onChunk})
	r.in = newReplInput()
	defer r.in.close()

	// Reload preferences when the config file changes, so theme and
	// reasoning-display edits apply without restarting the REPL.
	watchCtx, stopWatch := context.WithCancel(context.Background())
	defer stopWatch()
	if path, err := config.ConfigPath(); err == nil {
		_ = config.Watch(watchCtx, path, func() {
			if cfg, err := config.Load(); err == nil {
				a.cfg = cfg
			}
		})
	}

	// SIGINT during generation aborts the stream; at the prompt liner
	// handles it as an aborted read.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		for range sigCh {
			r.ctrl.Abort()
		}
	}()

	r.printWelcome()
	return r.loop()
}

// applyRunOverrides applies --provider and --model for this process only;
// nothing is persisted.
func applyRunOverrides(a *app) error {
	if chatProvider != "" {
		if err := a.registry.SetActive(chatProvider); err != nil {
			return err
		}
	}
	if chatModel != "" {
		id := a.registry.ActiveID()
		return a.registry.Update(id, model.ProviderUpdate{SelectedModel: &chatModel})
	}
	return nil
}

func (r *repl) printWelcome() {
	fmt.Println(titleStyle.Render("docchat"))
	active := r.app.registry.Active()
	if active != nil && active.IsReady() {
		fmt.Println(infoStyle.Render(fmt.Sprintf("provider: %s  model: %s", active.ID, active.ModelOrDefault())))
	} else {
		fmt.Println(warningStyle.Render("no provider configured - see: docchat providers set-key"))
	}
	if r.itemID != model.GlobalItemID {
		fmt.Println(infoStyle.Render(fmt.Sprintf("scope: item %d", r.itemID)))
	}
	fmt.Println(infoStyle.Render("type /help for commands, Ctrl+D to exit"))
	fmt.Println()
}

func (r *repl) loop() error {
	for {
		input, err := r.in.read(promptStyle.Render("> "))
		if err == liner.ErrPromptAborted {
			continue
		}
		if err != nil { // io.EOF on Ctrl+D
			fmt.Println()
			return nil
		}

		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}
		if strings.HasPrefix(input, "/") {
			if quit := r.handleCommand(input); quit {
				return nil
			}
			continue
		}
		r.send(input)
	}
}

// =============================================================================
// STREAMING OUTPUT
// =============================================================================

// onChunk prints the unprinted tail of the message. Reasoning is shown
// dimmed, before answer text, when the UI config enables it.
func (r *repl) onChunk(itemID int, msg *model.ChatMessage) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.app.cfg.UI.ShowReasoning {
		if n := r.reasoned[msg.ID]; len(msg.ReasoningContent) > n {
			fmt.Print(reasoningStyle.Render(msg.ReasoningContent[n:]))
			r.reasoned[msg.ID] = len(msg.ReasoningContent)
		}
	}
	if n := r.printed[msg.ID]; len(msg.Content) > n {
		fmt.Print(assistantStyle.Render(msg.Content[n:]))
		r.printed[msg.ID] = len(msg.Content)
	}
}

func (r *repl) send(question string) {
	err := r.ctrl.Send(context.Background(), r.itemID, question)

	r.mu.Lock()
	r.printed = make(map[string]int)
	r.reasoned = make(map[string]int)
	r.mu.Unlock()

	fmt.Println()
	if err != nil {
		fmt.Println(errorStyle.Render("Error: ") + err.Error())
		fmt.Println(infoStyle.Render("use /regen to retry"))
	}
	fmt.Println()
}

// =============================================================================
// SLASH COMMANDS
// =============================================================================

func (r *repl) handleCommand(input string) (quit bool) {
	fields := strings.Fields(input)
	cmd, args := fields[0], fields[1:]

	switch cmd {
	case "/quit", "/q", "/exit":
		return true
	case "/help", "/h":
		r.cmdHelp()
	case "/new":
		r.cmdNew()
	case "/sessions", "/s":
		r.cmdSessions()
	case "/switch":
		r.cmdSwitch(args)
	case "/regen", "/r":
		r.cmdRegen()
	case "/version", "/v":
		r.cmdVersion(args)
	case "/doc":
		r.cmdDoc(args)
	case "/quote":
		r.cmdQuote(input)
	case "/provider":
		r.cmdProvider(args)
	case "/model":
		r.cmdModel(args)
	case "/history":
		r.cmdHistory()
	default:
		fmt.Println(warningStyle.Render("unknown command " + cmd + " - try /help"))
	}
	return false
}

func (r *repl) cmdHelp() {
	rows := [][2]string{
		{"/new", "start a fresh session"},
		{"/sessions", "list this scope's sessions"},
		{"/switch ID", "switch to another session"},
		{"/regen", "regenerate the last assistant reply"},
		{"/version K", "switch the last reply to version K"},
		{"/doc ID", "attach document ID to the next question"},
		{"/quote TEXT", "quote TEXT into the next question"},
		{"/provider [ID]", "show or switch the active provider"},
		{"/model [ID]", "show or switch the selected model"},
		{"/history", "print the conversation so far"},
		{"/quit", "exit"},
	}
	for _, row := range rows {
		fmt.Printf("  %-16s %s\n", successStyle.Render(row[0]), infoStyle.Render(row[1]))
	}
}

func (r *repl) cmdNew() {
	session, err := r.ctrl.NewSession(r.itemID)
	if err != nil {
		fmt.Println(errorStyle.Render("Error: ") + err.Error())
		return
	}
	fmt.Println(successStyle.Render("new session ") + idStyle.Render(session.ID))
}

func (r *repl) cmdSessions() {
	metas, err := r.app.store.List(r.itemID, false)
	if err != nil {
		fmt.Println(errorStyle.Render("Error: ") + err.Error())
		return
	}
	if len(metas) == 0 {
		fmt.Println(infoStyle.Render("no sessions yet"))
		return
	}
	for _, m := range metas {
		fmt.Printf("  %s  %s  %s\n",
			idStyle.Render(shortID(m.SessionID)),
			m.DisplayName,
			infoStyle.Render(m.UpdatedAt.Format("2006-01-02 15:04")))
	}
}

func (r *repl) cmdSwitch(args []string) {
	if len(args) != 1 {
		fmt.Println(warningStyle.Render("usage: /switch SESSION-ID"))
		return
	}
	id, err := r.resolveSessionID(args[0])
	if err != nil {
		fmt.Println(errorStyle.Render("Error: ") + err.Error())
		return
	}
	session, err := r.ctrl.SelectSession(r.itemID, id)
	if err != nil {
		fmt.Println(errorStyle.Render("Error: ") + err.Error())
		return
	}
	fmt.Println(successStyle.Render("switched to ") + idStyle.Render(session.ID))
}

// resolveSessionID accepts a full session ID or an unambiguous prefix.
func (r *repl) resolveSessionID(prefix string) (string, error) {
	metas, err := r.app.store.List(r.itemID, true)
	if err != nil {
		return "", err
	}
	var match string
	for _, m := range metas {
		if m.SessionID == prefix {
			return prefix, nil
		}
		if strings.HasPrefix(m.SessionID, prefix) {
			if match != "" {
				return "", fmt.Errorf("session prefix %q is ambiguous", prefix)
			}
			match = m.SessionID
		}
	}
	if match == "" {
		return "", fmt.Errorf("no session matches %q", prefix)
	}
	return match, nil
}

// lastAssistant returns the most recent assistant or error message.
func (r *repl) lastAssistant() *model.ChatMessage {
	session, err := r.ctrl.Session(r.itemID)
	if err != nil {
		return nil
	}
	for i := len(session.Messages) - 1; i >= 0; i-- {
		role := session.Messages[i].Role
		if role == model.RoleAssistant || role == model.RoleError {
			return session.Messages[i]
		}
	}
	return nil
}

func (r *repl) cmdRegen() {
	target := r.lastAssistant()
	if target == nil {
		fmt.Println(warningStyle.Render("nothing to regenerate"))
		return
	}
	err := r.ctrl.Regenerate(context.Background(), r.itemID, target.ID)

	r.mu.Lock()
	r.printed = make(map[string]int)
	r.reasoned = make(map[string]int)
	r.mu.Unlock()

	fmt.Println()
	if err != nil {
		fmt.Println(errorStyle.Render("Error: ") + err.Error())
	}
	fmt.Println()
}

func (r *repl) cmdVersion(args []string) {
	target := r.lastAssistant()
	if target == nil || len(target.ContentVersions) == 0 {
		fmt.Println(warningStyle.Render("no versions to switch between"))
		return
	}
	if len(args) != 1 {
		fmt.Printf("%s %d/%d\n", infoStyle.Render("version"), target.CurrentVersionIndex+1, len(target.ContentVersions))
		return
	}
	k, err := strconv.Atoi(args[0])
	if err != nil {
		fmt.Println(warningStyle.Render("usage: /version K (1-based)"))
		return
	}
	if err := r.ctrl.SwitchVersion(r.itemID, target.ID, k-1); err != nil {
		fmt.Println(errorStyle.Render("Error: ") + err.Error())
		return
	}
	fmt.Println(assistantStyle.Render(target.Content))
	fmt.Println()
}

func (r *repl) cmdDoc(args []string) {
	if chatDocsRoot == "" {
		fmt.Println(warningStyle.Render("no document root configured - start with --docs DIR"))
		return
	}
	if len(args) != 1 {
		fmt.Println(warningStyle.Render("usage: /doc ITEM-ID"))
		return
	}
	docID, err := strconv.Atoi(args[0])
	if err != nil {
		fmt.Println(warningStyle.Render("usage: /doc ITEM-ID"))
		return
	}
	r.ctrl.AttachDocument(r.itemID, docID)
	fmt.Println(successStyle.Render(fmt.Sprintf("document %d will be attached to your next question", docID)))
}

func (r *repl) cmdQuote(input string) {
	text := strings.TrimSpace(strings.TrimPrefix(input, "/quote"))
	if text == "" {
		fmt.Println(warningStyle.Render("usage: /quote TEXT"))
		return
	}
	r.ctrl.RecordSelection(text)
	fmt.Println(successStyle.Render("quoted for your next question"))
}

func (r *repl) cmdProvider(args []string) {
	if len(args) == 0 {
		for _, p := range r.app.registry.List() {
			marker := "  "
			if p.ID == r.app.registry.ActiveID() {
				marker = successStyle.Render("* ")
			}
			ready := ""
			if !p.IsReady() {
				ready = warningStyle.Render("  (not configured)")
			}
			fmt.Printf("%s%s%s\n", marker, p.ID, ready)
		}
		return
	}
	if err := r.app.registry.SetActive(args[0]); err != nil {
		fmt.Println(errorStyle.Render("Error: ") + err.Error())
		return
	}
	if err := r.app.saveRegistry(); err != nil {
		fmt.Println(warningStyle.Render("warning: could not persist provider selection: " + err.Error()))
	}
	fmt.Println(successStyle.Render("active provider: " + args[0]))
}

func (r *repl) cmdModel(args []string) {
	active := r.app.registry.Active()
	if active == nil {
		fmt.Println(warningStyle.Render("no active provider"))
		return
	}
	if len(args) == 0 {
		fmt.Println(infoStyle.Render("model: ") + active.ModelOrDefault())
		return
	}
	if err := r.app.registry.Update(active.ID, model.ProviderUpdate{SelectedModel: &args[0]}); err != nil {
		fmt.Println(errorStyle.Render("Error: ") + err.Error())
		return
	}
	if err := r.app.saveRegistry(); err != nil {
		fmt.Println(warningStyle.Render("warning: could not persist model selection: " + err.Error()))
	}
	fmt.Println(successStyle.Render("model: " + args[0]))
}

func (r *repl) cmdHistory() {
	session, err := r.ctrl.Session(r.itemID)
	if err != nil {
		fmt.Println(errorStyle.Render("Error: ") + err.Error())
		return
	}
	for _, m := range session.Messages {
		if m.IsHidden || m.IsEmpty() {
			continue
		}
		label := m.Role.DisplayName()
		switch m.Role {
		case model.RoleUser:
			fmt.Println(promptStyle.Render(label+":") + " " + m.QuestionText())
		case model.RoleError:
			fmt.Println(errorStyle.Render(label+":") + " " + m.Content)
		default:
			fmt.Println(titleStyle.Render(label+":") + " " + m.Content)
		}
		fmt.Println()
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
