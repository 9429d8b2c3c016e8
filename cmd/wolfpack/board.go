package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/basket/wolfpack/internal/config"
	"github.com/basket/wolfpack/internal/persistence"
	"github.com/basket/wolfpack/internal/ui"
)

// runBoardCommand renders a member's board straight from the SQLite store.
// The in-memory driver has no state outside the running server.
func runBoardCommand(ctx context.Context, args []string, out io.Writer) int {
	fs := flag.NewFlagSet("board", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	email := fs.String("email", "", "member email")
	events := fs.Int("events", 5, "recent activity entries to show")
	plain := fs.Bool("plain", false, "disable colors")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if strings.TrimSpace(*email) == "" || fs.NArg() != 0 {
		fmt.Fprintln(os.Stderr, "usage: wolfpack board -email <addr> [-events n] [-plain]")
		return 2
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load: %v\n", err)
		return 1
	}
	if cfg.Storage.Driver != config.DriverSQLite {
		fmt.Fprintf(os.Stderr, "board reads the sqlite store; storage.driver is %q\n", cfg.Storage.Driver)
		return 1
	}
	if _, err := os.Stat(cfg.DBPath()); err != nil {
		fmt.Fprintf(os.Stderr, "database %s: %v\n", cfg.DBPath(), err)
		return 1
	}

	store, err := persistence.OpenSQLite(cfg.DBPath())
	if err != nil {
		fmt.Fprintf(os.Stderr, "open store: %v\n", err)
		return 1
	}
	defer store.Close()

	u, err := store.GetByEmail(ctx, *email)
	if errors.Is(err, persistence.ErrNotFound) {
		fmt.Fprintf(os.Stderr, "no member with email %q\n", persistence.NormalizeEmail(*email))
		return 1
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "lookup: %v\n", err)
		return 1
	}

	fmt.Fprint(out, ui.RenderBoard(u, ui.Options{
		Color:  !*plain && ui.IsTerminal(out),
		Events: *events,
		Now:    time.Now(),
	}))
	return 0
}
