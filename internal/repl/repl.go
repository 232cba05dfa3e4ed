// Package repl implements the interactive studio shell: a line-based
// loop over the session manager and artifact library.
package repl

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/pixelflare/pixelflare/internal/export"
	"github.com/pixelflare/pixelflare/internal/library"
	"github.com/pixelflare/pixelflare/internal/studio"
)

type REPL struct {
	in       io.Reader
	out      io.Writer
	err      io.Writer
	studio   *studio.Manager
	library  *library.Library
	exporter *export.Exporter
	userID   string
	styleID  string
	commands map[string]Command
	running  bool
}

type Config struct {
	In       io.Reader
	Out      io.Writer
	Err      io.Writer
	Studio   *studio.Manager
	Library  *library.Library
	Exporter *export.Exporter
	UserID   string
	StyleID  string
}

func New(cfg *Config) *REPL {
	r := &REPL{
		in:       cfg.In,
		out:      cfg.Out,
		err:      cfg.Err,
		studio:   cfg.Studio,
		library:  cfg.Library,
		exporter: cfg.Exporter,
		userID:   cfg.UserID,
		styleID:  cfg.StyleID,
		commands: make(map[string]Command),
	}
	r.registerCommands()
	return r
}

func (r *REPL) Run(ctx context.Context) error {
	r.running = true
	r.printWelcome()

	scanner := bufio.NewScanner(r.in)
	for r.running {
		r.printPrompt()
		if !scanner.Scan() {
			break
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		if err := r.execute(ctx, line); err != nil {
			fmt.Fprintf(r.err, "Error: %v\n", err)
		}
	}

	return scanner.Err()
}

func (r *REPL) execute(ctx context.Context, line string) error {
	parts := parseCommand(line)
	if len(parts) == 0 {
		return nil
	}

	cmdName := strings.ToLower(parts[0])
	args := parts[1:]

	cmd, ok := r.commands[cmdName]
	if !ok {
		return fmt.Errorf("unknown command: %s (type 'help' for available commands)", cmdName)
	}

	return cmd.Execute(ctx, r, args)
}

func (r *REPL) Stop() {
	r.running = false
}

func (r *REPL) printWelcome() {
	fmt.Fprintln(r.out, "pixelflare studio")
	fmt.Fprintln(r.out, "Type 'help' for available commands, 'quit' to exit.")
	fmt.Fprintln(r.out)
}

func (r *REPL) printPrompt() {
	style := r.styleID
	if style == "" {
		style = "none"
	}
	if _, ok := r.studio.ActiveSession(); ok {
		fmt.Fprintf(r.out, "pixelflare [%s]> ", style)
	} else {
		fmt.Fprintf(r.out, "pixelflare [%s] (no session)> ", style)
	}
}

func parseCommand(line string) []string {
	var parts []string
	var current strings.Builder
	inQuotes := false
	quoteChar := rune(0)

	for _, ch := range line {
		switch {
		case ch == '"' || ch == '\'':
			if inQuotes && ch == quoteChar {
				inQuotes = false
				quoteChar = 0
			} else if !inQuotes {
				inQuotes = true
				quoteChar = ch
			} else {
				current.WriteRune(ch)
			}
		case ch == ' ' && !inQuotes:
			if current.Len() > 0 {
				parts = append(parts, current.String())
				current.Reset()
			}
		default:
			current.WriteRune(ch)
		}
	}

	if current.Len() > 0 {
		parts = append(parts, current.String())
	}

	return parts
}
