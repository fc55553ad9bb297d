package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jaakkos/hangout/internal/avatar"
	"github.com/jaakkos/hangout/internal/bridge"
	"github.com/jaakkos/hangout/internal/bus"
	"github.com/jaakkos/hangout/internal/policy"
)

func newOverlayCmd(configPath *string) *cobra.Command {
	var (
		socket  string
		verbose bool
	)
	cmd := &cobra.Command{
		Use:   "overlay",
		Short: "Host the overlay surface in its own process",
		Long:  "overlay connects to `hangout serve --external-overlay` over the bridge socket and hosts the surface. Drag releases are committed straight to the session store.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runOverlay(cmd.Context(), *configPath, socket, verbose)
		},
	}
	cmd.Flags().StringVar(&socket, "socket", "", "bridge socket path (default from config)")
	cmd.Flags().BoolVar(&verbose, "verbose", false, "log every avatar visual change")
	return cmd
}

func runOverlay(ctx context.Context, configPath, socket string, verbose bool) error {
	tmpLogger := log.New(os.Stderr, "[hangout] ", log.LstdFlags|log.Lshortfile)
	pol := policy.New(loadConfig(configPath, tmpLogger))
	logger := setupLogger(pol.LogFile())
	if socket == "" {
		socket = pol.BridgeSocket()
	}

	// The notifier is not started: this process only writes, and each write
	// still stamps the signal file other processes watch.
	store, _, err := openStore(pol, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	hub := bus.New(bus.WithBuffer(pol.BusBuffer()))
	defer hub.Close()
	var onVisual func(avatar.VisualState)
	if verbose {
		onVisual = func(v avatar.VisualState) {
			logger.Printf("Overlay: %s at (%g, %g) %s", v.Participant, v.Position.X, v.Position.Y, v.State)
		}
	}
	ctrl, err := newController(pol, hub, store.Update, logger, onVisual)
	if err != nil {
		return err
	}
	defer ctrl.CloseSurface()

	stream, err := bridge.Dial(socket)
	if err != nil {
		return fmt.Errorf("connect to hangout serve: %w", err)
	}
	e := bridge.NewEndpoint("overlay", stream, logger)
	bridge.BindOverlay(e, ctrl)
	ctrl.Attach(e)
	e.Start()
	defer e.Close()
	logger.Printf("Overlay: connected to %s", socket)

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	select {
	case <-ctx.Done():
		logger.Println("Overlay: shutting down")
	case <-e.Done():
		logger.Println("Overlay: primary hung up")
	}
	return nil
}
