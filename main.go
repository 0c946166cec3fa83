package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	tea "charm.land/bubbletea/v2"
	"go.uber.org/zap"

	"github.com/go-authgate/triply-cli/tui"
)

// isTTY reports whether stderr is a character device (interactive terminal).
// We check stderr because the TUI renders to stderr, allowing stdout to be piped.
func isTTY() bool {
	fi, err := os.Stderr.Stat()
	if err != nil {
		return false
	}
	return (fi.Mode() & os.ModeCharDevice) != 0
}

func main() {
	cfg, acts, err := loadConfig(os.Args[1:], os.Stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(2)
	}

	for _, u := range cfg.plaintextServices() {
		fmt.Fprintf(os.Stderr, "⚠️  WARNING: %s uses HTTP. Tokens will be transmitted in plaintext!\n", u)
	}

	log, err := newLogger(cfg.Environment, cfg.LogFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to open log file: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	if isTTY() {
		// Run TUI program on stderr so stdout pipes are not corrupted
		m := tui.NewModel()
		// WithInput(nil): Ctrl+C is handled by signal.NotifyContext.
		p := tea.NewProgram(m, tea.WithOutput(os.Stderr), tea.WithInput(nil))

		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := p.Run(); err != nil {
				fmt.Fprintf(os.Stderr, "TUI error: %v\n", err)
			}
		}()

		runErr := run(tui.NewProgramDisplayer(p), cfg, acts, log)
		p.Quit()
		wg.Wait()
		if runErr != nil {
			_ = log.Sync()
			os.Exit(1)
		}
		return
	}

	if err := run(tui.NewPlainDisplayer(os.Stderr), cfg, acts, log); err != nil {
		_ = log.Sync()
		os.Exit(1)
	}
}

func run(d tui.Displayer, cfg *Config, acts *Actions, log *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	d.Banner()

	a, closeStore, err := newApp(ctx, cfg, d, log)
	if err != nil {
		d.Fatal(err)
		return err
	}
	defer func() {
		if err := closeStore(); err != nil {
			log.Warn("failed to close store", zap.Error(err))
		}
	}()

	err = a.run(ctx, acts)
	a.showNetwork()

	switch {
	case err == nil:
		d.Done()
	case errors.Is(err, errLoginRequired), errors.Is(err, errSessionEnded):
		// the login prompt is already on screen
		log.Info("run ended without a session", zap.Error(err))
		d.Done()
	default:
		log.Error("run failed", zap.Error(err))
		d.Fatal(err)
	}
	return err
}
