package repl

import (
	"context"
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/pixelflare/pixelflare/internal/library"
	"github.com/pixelflare/pixelflare/pkg/models"
)

type Command interface {
	Name() string
	Aliases() []string
	Description() string
	Usage() string
	Execute(ctx context.Context, r *REPL, args []string) error
}

func (r *REPL) registerCommands() {
	commands := []Command{
		&GenerateCommand{},
		&RefineCommand{},
		&StyleCommand{},
		&NewCommand{},
		&SessionsCommand{},
		&OpenCommand{},
		&RenameCommand{},
		&DeleteCommand{},
		&HistoryCommand{},
		&SaveCommand{},
		&LibraryCommand{},
		&SearchCommand{},
		&UnsaveCommand{},
		&ExportCommand{},
		&HelpCommand{},
		&QuitCommand{},
	}

	for _, cmd := range commands {
		r.commands[cmd.Name()] = cmd
		for _, alias := range cmd.Aliases() {
			r.commands[alias] = cmd
		}
	}
}

// activeSession returns the active session id, creating a fresh session
// when none exists yet.
func (r *REPL) activeSession(ctx context.Context) (string, error) {
	if id, ok := r.studio.ActiveSession(); ok {
		return id, nil
	}
	sess, err := r.studio.CreateSession(ctx, r.userID)
	if err != nil {
		return "", fmt.Errorf("creating session: %w", err)
	}
	fmt.Fprintf(r.out, "Started session %s\n", shortID(sess.ID))
	return sess.ID, nil
}

// resolveSession matches ref against session id prefixes and display
// names.
func (r *REPL) resolveSession(ctx context.Context, ref string) (*models.Session, error) {
	sessions, err := r.studio.Sessions(ctx, r.userID)
	if err != nil {
		return nil, err
	}
	for _, sess := range sessions {
		if strings.HasPrefix(sess.ID, ref) || sess.DisplayName == ref {
			return sess, nil
		}
	}
	return nil, fmt.Errorf("no session matching %q", ref)
}

// latestImage returns the newest image message in the session, if any.
func (r *REPL) latestImage(ctx context.Context, sessionID string) (*models.Message, error) {
	messages, err := r.studio.Messages(ctx, r.userID, sessionID)
	if err != nil {
		return nil, err
	}
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].IsImage() {
			return messages[i], nil
		}
	}
	return nil, fmt.Errorf("no generated image in this session yet")
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// GenerateCommand sends a prompt through the studio workflow.
type GenerateCommand struct{}

func (c *GenerateCommand) Name() string        { return "generate" }
func (c *GenerateCommand) Aliases() []string   { return []string{"gen", "g"} }
func (c *GenerateCommand) Description() string { return "Generate an image from a prompt" }
func (c *GenerateCommand) Usage() string       { return "generate <prompt>" }

func (c *GenerateCommand) Execute(ctx context.Context, r *REPL, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: %s", c.Usage())
	}

	sessionID, err := r.activeSession(ctx)
	if err != nil {
		return err
	}

	prompt := strings.Join(args, " ")
	fmt.Fprintln(r.out, "Generating...")

	if err := r.studio.SendPrompt(ctx, r.userID, sessionID, prompt, r.styleID); err != nil {
		return err
	}

	messages, err := r.studio.Messages(ctx, r.userID, sessionID)
	if err != nil {
		return err
	}
	if len(messages) == 0 {
		return nil
	}

	last := messages[len(messages)-1]
	if last.IsImage() {
		fmt.Fprintf(r.out, "Image: %s\n", last.Body)
	} else if last.Role == models.RoleAssistant {
		fmt.Fprintln(r.out, last.Body)
	}
	return nil
}

// RefineCommand rewrites a rough idea into a polished prompt.
type RefineCommand struct{}

func (c *RefineCommand) Name() string        { return "refine" }
func (c *RefineCommand) Aliases() []string   { return []string{"r"} }
func (c *RefineCommand) Description() string { return "Rewrite a rough idea into a detailed prompt" }
func (c *RefineCommand) Usage() string       { return "refine <idea>" }

func (c *RefineCommand) Execute(ctx context.Context, r *REPL, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: %s", c.Usage())
	}
	refined := r.studio.RefinePrompt(ctx, strings.Join(args, " "))
	fmt.Fprintln(r.out, refined)
	return nil
}

// StyleCommand lists style presets or selects the current one.
type StyleCommand struct{}

func (c *StyleCommand) Name() string        { return "style" }
func (c *StyleCommand) Aliases() []string   { return []string{"s"} }
func (c *StyleCommand) Description() string { return "List style presets or pick one" }
func (c *StyleCommand) Usage() string       { return "style [<id>|none]" }

func (c *StyleCommand) Execute(_ context.Context, r *REPL, args []string) error {
	presets := r.studio.Presets()

	if len(args) == 0 {
		for _, p := range presets.List() {
			marker := " "
			if p.ID == r.styleID {
				marker = "*"
			}
			fmt.Fprintf(r.out, "%s %-12s %s\n", marker, p.ID, p.Label)
		}
		return nil
	}

	id := strings.ToLower(args[0])
	if id == "none" {
		r.styleID = ""
		fmt.Fprintln(r.out, "Style cleared")
		return nil
	}
	if _, ok := presets.Get(id); !ok {
		return fmt.Errorf("unknown style %q (try 'style' to list)", id)
	}
	r.styleID = id
	fmt.Fprintf(r.out, "Style set to %s\n", id)
	return nil
}

// NewCommand starts a fresh session.
type NewCommand struct{}

func (c *NewCommand) Name() string        { return "new" }
func (c *NewCommand) Aliases() []string   { return []string{"n"} }
func (c *NewCommand) Description() string { return "Start a new session" }
func (c *NewCommand) Usage() string       { return "new" }

func (c *NewCommand) Execute(ctx context.Context, r *REPL, _ []string) error {
	sess, err := r.studio.CreateSession(ctx, r.userID)
	if err != nil {
		return err
	}
	fmt.Fprintf(r.out, "Started session %s\n", shortID(sess.ID))
	return nil
}

// SessionsCommand lists the user's sessions.
type SessionsCommand struct{}

func (c *SessionsCommand) Name() string        { return "sessions" }
func (c *SessionsCommand) Aliases() []string   { return []string{"ls"} }
func (c *SessionsCommand) Description() string { return "List sessions, newest first" }
func (c *SessionsCommand) Usage() string       { return "sessions" }

func (c *SessionsCommand) Execute(ctx context.Context, r *REPL, _ []string) error {
	sessions, err := r.studio.Sessions(ctx, r.userID)
	if err != nil {
		return err
	}
	if len(sessions) == 0 {
		fmt.Fprintln(r.out, "No sessions yet. Use 'new' to start one.")
		return nil
	}

	activeID, _ := r.studio.ActiveSession()
	for _, sess := range sessions {
		marker := " "
		if sess.ID == activeID {
			marker = "*"
		}
		fmt.Fprintf(r.out, "%s %s  %-24s %s\n",
			marker, shortID(sess.ID), sess.DisplayName, humanize.Time(sess.CreatedAt))
	}
	return nil
}

// OpenCommand switches the active session.
type OpenCommand struct{}

func (c *OpenCommand) Name() string        { return "open" }
func (c *OpenCommand) Aliases() []string   { return []string{"o"} }
func (c *OpenCommand) Description() string { return "Switch to another session" }
func (c *OpenCommand) Usage() string       { return "open <id|name>" }

func (c *OpenCommand) Execute(ctx context.Context, r *REPL, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: %s", c.Usage())
	}
	sess, err := r.resolveSession(ctx, strings.Join(args, " "))
	if err != nil {
		return err
	}
	r.studio.SetActiveSession(sess.ID)
	fmt.Fprintf(r.out, "Opened %s (%s)\n", sess.DisplayName, shortID(sess.ID))
	return nil
}

// RenameCommand renames the active session.
type RenameCommand struct{}

func (c *RenameCommand) Name() string        { return "rename" }
func (c *RenameCommand) Aliases() []string   { return nil }
func (c *RenameCommand) Description() string { return "Rename the active session" }
func (c *RenameCommand) Usage() string       { return "rename <name>" }

func (c *RenameCommand) Execute(ctx context.Context, r *REPL, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: %s", c.Usage())
	}
	sessionID, ok := r.studio.ActiveSession()
	if !ok {
		return fmt.Errorf("no active session")
	}
	name := strings.Join(args, " ")
	if err := r.studio.RenameSession(ctx, r.userID, sessionID, name); err != nil {
		return err
	}
	fmt.Fprintf(r.out, "Renamed to %s\n", name)
	return nil
}

// DeleteCommand deletes a session and its messages.
type DeleteCommand struct{}

func (c *DeleteCommand) Name() string        { return "delete" }
func (c *DeleteCommand) Aliases() []string   { return []string{"rm"} }
func (c *DeleteCommand) Description() string { return "Delete a session and its messages" }
func (c *DeleteCommand) Usage() string       { return "delete [id|name]" }

func (c *DeleteCommand) Execute(ctx context.Context, r *REPL, args []string) error {
	var sessionID string
	if len(args) == 0 {
		id, ok := r.studio.ActiveSession()
		if !ok {
			return fmt.Errorf("no active session (usage: %s)", c.Usage())
		}
		sessionID = id
	} else {
		sess, err := r.resolveSession(ctx, strings.Join(args, " "))
		if err != nil {
			return err
		}
		sessionID = sess.ID
	}

	if err := r.studio.DeleteSession(ctx, r.userID, sessionID); err != nil {
		return err
	}
	fmt.Fprintf(r.out, "Deleted %s\n", shortID(sessionID))
	return nil
}

// HistoryCommand prints the active session transcript.
type HistoryCommand struct{}

func (c *HistoryCommand) Name() string        { return "history" }
func (c *HistoryCommand) Aliases() []string   { return []string{"h"} }
func (c *HistoryCommand) Description() string { return "Show the active session transcript" }
func (c *HistoryCommand) Usage() string       { return "history" }

func (c *HistoryCommand) Execute(ctx context.Context, r *REPL, _ []string) error {
	sessionID, ok := r.studio.ActiveSession()
	if !ok {
		return fmt.Errorf("no active session")
	}

	messages, err := r.studio.Messages(ctx, r.userID, sessionID)
	if err != nil {
		return err
	}
	if len(messages) == 0 {
		fmt.Fprintln(r.out, "No messages yet.")
		return nil
	}

	for _, msg := range messages {
		label := "you"
		if msg.Role == models.RoleAssistant {
			label = "studio"
		}
		if msg.IsImage() {
			fmt.Fprintf(r.out, "[%s] image: %s\n", label, msg.Body)
		} else {
			fmt.Fprintf(r.out, "[%s] %s\n", label, msg.Body)
		}
	}
	return nil
}

// SaveCommand saves the newest image in the session to the library.
type SaveCommand struct{}

func (c *SaveCommand) Name() string        { return "save" }
func (c *SaveCommand) Aliases() []string   { return nil }
func (c *SaveCommand) Description() string { return "Save the latest generated image to the library" }
func (c *SaveCommand) Usage() string       { return "save" }

func (c *SaveCommand) Execute(ctx context.Context, r *REPL, _ []string) error {
	sessionID, ok := r.studio.ActiveSession()
	if !ok {
		return fmt.Errorf("no active session")
	}
	msg, err := r.latestImage(ctx, sessionID)
	if err != nil {
		return err
	}
	art, err := r.library.Save(ctx, r.userID, msg)
	if err != nil {
		return err
	}
	fmt.Fprintf(r.out, "Saved %q to library (%s)\n", art.Title, shortID(art.ID))
	return nil
}

// LibraryCommand lists saved artifacts.
type LibraryCommand struct{}

func (c *LibraryCommand) Name() string        { return "library" }
func (c *LibraryCommand) Aliases() []string   { return []string{"lib"} }
func (c *LibraryCommand) Description() string { return "List saved artifacts, newest first" }
func (c *LibraryCommand) Usage() string       { return "library" }

func (c *LibraryCommand) Execute(ctx context.Context, r *REPL, _ []string) error {
	artifacts, err := r.library.List(ctx, r.userID)
	if err != nil {
		return err
	}
	printArtifacts(r, artifacts)
	return nil
}

// SearchCommand filters the library by text and the current style.
type SearchCommand struct{}

func (c *SearchCommand) Name() string        { return "search" }
func (c *SearchCommand) Aliases() []string   { return nil }
func (c *SearchCommand) Description() string { return "Search saved artifacts by title or prompt" }
func (c *SearchCommand) Usage() string       { return "search <query>" }

func (c *SearchCommand) Execute(ctx context.Context, r *REPL, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: %s", c.Usage())
	}
	artifacts, err := r.library.List(ctx, r.userID)
	if err != nil {
		return err
	}
	printArtifacts(r, library.Search(artifacts, strings.Join(args, " "), ""))
	return nil
}

// UnsaveCommand removes an artifact from the library.
type UnsaveCommand struct{}

func (c *UnsaveCommand) Name() string        { return "unsave" }
func (c *UnsaveCommand) Aliases() []string   { return nil }
func (c *UnsaveCommand) Description() string { return "Remove an artifact from the library" }
func (c *UnsaveCommand) Usage() string       { return "unsave <id>" }

func (c *UnsaveCommand) Execute(ctx context.Context, r *REPL, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: %s", c.Usage())
	}

	artifacts, err := r.library.List(ctx, r.userID)
	if err != nil {
		return err
	}
	for _, art := range artifacts {
		if strings.HasPrefix(art.ID, args[0]) {
			if err := r.library.Delete(ctx, r.userID, art.ID); err != nil {
				return err
			}
			fmt.Fprintf(r.out, "Removed %q\n", art.Title)
			return nil
		}
	}
	return fmt.Errorf("no artifact matching %q", args[0])
}

func printArtifacts(r *REPL, artifacts []*models.Artifact) {
	if len(artifacts) == 0 {
		fmt.Fprintln(r.out, "No saved artifacts.")
		return
	}
	for _, art := range artifacts {
		style := art.StyleID
		if style == "" {
			style = "-"
		}
		fmt.Fprintf(r.out, "%s  %-32s %-12s %s\n",
			shortID(art.ID), art.Title, style, humanize.Time(art.SavedAt))
	}
}

// ExportCommand downloads a saved artifact to a local file.
type ExportCommand struct{}

func (c *ExportCommand) Name() string        { return "export" }
func (c *ExportCommand) Aliases() []string   { return nil }
func (c *ExportCommand) Description() string { return "Download a saved artifact to a file" }
func (c *ExportCommand) Usage() string       { return "export <id> [path]" }

func (c *ExportCommand) Execute(ctx context.Context, r *REPL, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: %s", c.Usage())
	}
	if r.exporter == nil {
		return fmt.Errorf("exporting is not available")
	}

	artifacts, err := r.library.List(ctx, r.userID)
	if err != nil {
		return err
	}
	for _, art := range artifacts {
		if !strings.HasPrefix(art.ID, args[0]) {
			continue
		}
		path := ""
		if len(args) > 1 {
			path = args[1]
		}
		written, err := r.exporter.Export(ctx, art, path)
		if err != nil {
			return err
		}
		fmt.Fprintf(r.out, "Exported %q to %s\n", art.Title, written)
		return nil
	}
	return fmt.Errorf("no artifact matching %q", args[0])
}

// HelpCommand prints the command listing.
type HelpCommand struct{}

func (c *HelpCommand) Name() string        { return "help" }
func (c *HelpCommand) Aliases() []string   { return []string{"?"} }
func (c *HelpCommand) Description() string { return "Show this help" }
func (c *HelpCommand) Usage() string       { return "help" }

func (c *HelpCommand) Execute(_ context.Context, r *REPL, _ []string) error {
	seen := make(map[string]bool)
	fmt.Fprintln(r.out, "Commands:")
	for _, cmd := range r.commandList() {
		if seen[cmd.Name()] {
			continue
		}
		seen[cmd.Name()] = true
		aliases := ""
		if len(cmd.Aliases()) > 0 {
			aliases = " (" + strings.Join(cmd.Aliases(), ", ") + ")"
		}
		fmt.Fprintf(r.out, "  %-28s %s%s\n", cmd.Usage(), cmd.Description(), aliases)
	}
	return nil
}

// commandList returns commands in registration order for help output.
func (r *REPL) commandList() []Command {
	return []Command{
		&GenerateCommand{},
		&RefineCommand{},
		&StyleCommand{},
		&NewCommand{},
		&SessionsCommand{},
		&OpenCommand{},
		&RenameCommand{},
		&DeleteCommand{},
		&HistoryCommand{},
		&SaveCommand{},
		&LibraryCommand{},
		&SearchCommand{},
		&UnsaveCommand{},
		&ExportCommand{},
		&HelpCommand{},
		&QuitCommand{},
	}
}

// QuitCommand exits the shell.
type QuitCommand struct{}

func (c *QuitCommand) Name() string        { return "quit" }
func (c *QuitCommand) Aliases() []string   { return []string{"exit", "q"} }
func (c *QuitCommand) Description() string { return "Exit the studio" }
func (c *QuitCommand) Usage() string       { return "quit" }

func (c *QuitCommand) Execute(_ context.Context, r *REPL, _ []string) error {
	r.Stop()
	fmt.Fprintln(r.out, "Goodbye!")
	return nil
}
