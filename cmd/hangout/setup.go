package main

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/jaakkos/hangout/internal/avatar"
	"github.com/jaakkos/hangout/internal/bus"
	"github.com/jaakkos/hangout/internal/overlay"
	"github.com/jaakkos/hangout/internal/policy"
	"github.com/jaakkos/hangout/internal/repository"
	"github.com/jaakkos/hangout/internal/repository/sqlite"
)

// setupLogger creates a logger that writes to a log file and optionally stderr.
// When stderr is a terminal, logs go to both stderr and the file. With
// stderr redirected they go only to the file; stdout carries the MCP stream
// and is never logged to.
func setupLogger(logFilePath string) *log.Logger {
	var writers []io.Writer

	stderrIsTerminal := false
	if info, err := os.Stderr.Stat(); err == nil {
		stderrIsTerminal = (info.Mode() & os.ModeCharDevice) != 0
	}

	hasLogFile := false
	lower := strings.ToLower(logFilePath)
	if lower != "none" && lower != "off" && logFilePath != "" {
		if err := os.MkdirAll(filepath.Dir(logFilePath), 0o755); err == nil {
			f, err := os.OpenFile(logFilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
			if err == nil {
				writers = append(writers, f)
				hasLogFile = true
			} else {
				fmt.Fprintf(os.Stderr, "[hangout] Warning: cannot open log file %s: %v\n", logFilePath, err)
			}
		} else {
			fmt.Fprintf(os.Stderr, "[hangout] Warning: cannot create log dir %s: %v\n", filepath.Dir(logFilePath), err)
		}
	}

	if stderrIsTerminal || !hasLogFile {
		writers = append(writers, os.Stderr)
	}

	return log.New(io.MultiWriter(writers...), "[hangout] ", log.LstdFlags|log.Lshortfile)
}

// loadConfig loads the config at path, or defaults when path is empty. A
// config that fails to load is reported and replaced by defaults.
func loadConfig(path string, logger *log.Logger) *policy.Config {
	if path == "" {
		return policy.DefaultConfig()
	}
	cfg, err := policy.LoadConfig(path)
	if err != nil {
		logger.Printf("Warning: failed to load config %s: %v, using defaults", path, err)
		return policy.DefaultConfig()
	}
	return cfg
}

// openStore opens the session store and its change notifier. The caller
// starts the notifier when it needs change signals from other processes.
func openStore(pol *policy.Policy, logger *log.Logger) (*sqlite.Store, *sqlite.Notifier, error) {
	store, notifier, err := repository.NewSessionStore(pol.StateFile(), pol.SignalDir(), logger, nil,
		sqlite.WithDebounce(pol.NotifyDebounce()),
		sqlite.WithPollInterval(pol.NotifyPollInterval()))
	if err != nil {
		return nil, nil, fmt.Errorf("session store: %w", err)
	}
	return store, notifier, nil
}

// newController builds the overlay controller from config. Surfaces are
// headless: visual state is tracked and logged, not drawn.
func newController(pol *policy.Policy, hub bus.Bus, commit overlay.CommitFunc, logger *log.Logger, onVisual func(avatar.VisualState)) (*overlay.Controller, error) {
	capture, err := overlay.ParseCapturePolicy(pol.CapturePolicy())
	if err != nil {
		return nil, err
	}
	return overlay.NewController(overlay.Config{
		Platform:            overlay.NewHeadlessPlatform(pol.UsableArea()),
		Bus:                 hub,
		Commit:              commit,
		Policy:              capture,
		HoverRelease:        pol.HoverRelease(),
		AvatarSize:          pol.AvatarSize(),
		GestureDuration:     pol.GestureDuration(),
		RemoteSettle:        pol.RemoteSettle(),
		PersistencePresence: pol.PersistencePresence(),
		Logger:              logger,
		OnVisual:            onVisual,
	}), nil
}
