package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/jaakkos/hangout/internal/app"
	"github.com/jaakkos/hangout/internal/bridge"
	"github.com/jaakkos/hangout/internal/bus"
	"github.com/jaakkos/hangout/internal/domain"
	"github.com/jaakkos/hangout/internal/overlay"
	"github.com/jaakkos/hangout/internal/policy"
	tools "github.com/jaakkos/hangout/internal/tools/hangout"
)

const leaveTimeout = 5 * time.Second

func newServeCmd(configPath *string) *cobra.Command {
	var (
		external    bool
		participant string
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the hangout MCP tools over stdio",
		Long:  "serve runs the presence session manager and exposes it as MCP tools on stdin/stdout. The overlay surface is hosted in-process unless --external-overlay is set, in which case `hangout overlay` connects over the bridge socket.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), *configPath, participant, external)
		},
	}
	cmd.Flags().BoolVar(&external, "external-overlay", false, "host the overlay in a separate `hangout overlay` process")
	cmd.Flags().StringVar(&participant, "participant", "", "participant id (overrides config)")
	return cmd
}

func runServe(ctx context.Context, configPath, participant string, external bool) error {
	tmpLogger := log.New(os.Stderr, "[hangout] ", log.LstdFlags|log.Lshortfile)
	pol := policy.New(loadConfig(configPath, tmpLogger))
	if participant != "" {
		pol.SetParticipant(domain.ParticipantID(participant))
	}

	logger := setupLogger(pol.LogFile())
	logger.Println("Starting hangout server...")
	logger.Printf("State file: %s, participant: %s", pol.StateFile(), pol.Participant())

	store, notifier, err := openStore(pol, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	signal.Ignore(syscall.SIGHUP)
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	go notifier.Start(ctx)
	defer notifier.Stop()

	presence := app.NewPresenceManager(store, store, pol, logger)
	defer presence.Close()

	deps := tools.Deps{
		Presence:  presence,
		Store:     store,
		Directory: store,
		Policy:    pol,
		Enabled:   pol.IsToolEnabled,
	}
	var closeOverlay func()
	if external {
		closeOverlay, err = serveExternalOverlay(pol.BridgeSocket(), presence, logger)
	} else {
		var ctrl *overlay.Controller
		ctrl, closeOverlay, err = startInProcessOverlay(pol, presence, logger)
		deps.Surface = ctrl
	}
	if err != nil {
		return err
	}
	defer closeOverlay()

	registry := app.NewSessionRegistry()
	pruner := app.NewPruner(store, presence, pol.MembershipTTL(), logger, app.WithActivity(registry))
	go pruner.Start(ctx)
	defer pruner.Stop()

	hooks := &server.Hooks{}
	hooks.AddAfterCallTool(func(ctx context.Context, id any, message *mcp.CallToolRequest, result *mcp.CallToolResult) {
		if message != nil {
			logger.Printf("Calling tool: %s", message.Params.Name)
		}
	})
	hooks.AddOnUnregisterSession(func(ctx context.Context, session server.ClientSession) {
		sid := session.SessionID()
		if p := registry.RemoveSession(sid); p != "" {
			logger.Printf("Client session unregistered: %s (participant=%s, %d bound)", sid, p, registry.Count())
		} else {
			logger.Printf("Client session unregistered: %s", sid)
		}
	})

	mcpServer := server.NewMCPServer(
		"hangout",
		Version,
		server.WithInstructions(tools.InstructionsText()),
		server.WithToolHandlerMiddleware(tools.ActivityMiddleware(deps, registry)),
		server.WithHooks(hooks),
		server.WithResourceCapabilities(false, true),
	)
	tools.Register(mcpServer, deps, logger, registry)

	logger.Println("Stdio ready")
	stdioSrv := server.NewStdioServer(mcpServer)
	if err := stdioSrv.Listen(ctx, os.Stdin, os.Stdout); err != nil {
		logger.Printf("Stdio server stopped: %v", err)
	}

	// Client gone: leave so the others see the avatar go without waiting
	// for the pruner.
	if info, ok := presence.Session(); ok {
		leaveCtx, cancelLeave := context.WithTimeout(context.Background(), leaveTimeout)
		if err := presence.Leave(leaveCtx, info.Space, info.Participant); err != nil {
			logger.Printf("Leave on shutdown: %v", err)
		}
		cancelLeave()
	}
	logger.Println("hangout server stopped")
	return nil
}

// startInProcessOverlay hosts the overlay controller in this process and
// connects it to presence over an in-memory bridge.
func startInProcessOverlay(pol *policy.Policy, presence *app.PresenceManager, logger *log.Logger) (*overlay.Controller, func(), error) {
	hub := bus.New(bus.WithBuffer(pol.BusBuffer()))
	ctrl, err := newController(pol, hub, presence.CommitPosition, logger, nil)
	if err != nil {
		hub.Close()
		return nil, nil, err
	}

	ta, tb := bridge.Pipe()
	primary := bridge.NewEndpoint("primary", ta, logger)
	surface := bridge.NewEndpoint("overlay", tb, logger)
	bridge.BindPrimary(primary, presence)
	bridge.BindOverlay(surface, ctrl)
	presence.SetLink(primary)
	ctrl.Attach(surface)
	primary.Start()
	surface.Start()

	return ctrl, func() {
		presence.SetLink(nil)
		_ = primary.Close()
		_ = surface.Close()
		ctrl.CloseSurface()
		hub.Close()
	}, nil
}

// serveExternalOverlay accepts overlay processes on the bridge socket. The
// newest connection wins; on connect it is sent the active session's surface.
func serveExternalOverlay(path string, presence *app.PresenceManager, logger *log.Logger) (func(), error) {
	ln, err := bridge.Listen(path)
	if err != nil {
		return nil, err
	}
	logger.Printf("Bridge: waiting for overlay on %s", path)

	var (
		mu      sync.Mutex
		current *bridge.Endpoint
		wg      sync.WaitGroup
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			e := bridge.NewEndpoint("primary", bridge.NewStream(conn), logger)
			bridge.BindPrimary(e, presence)

			mu.Lock()
			prev := current
			current = e
			presence.SetLink(e)
			mu.Unlock()
			if prev != nil {
				_ = prev.Close()
			}
			e.Start()
			logger.Println("Bridge: overlay connected")
			if info, ok := presence.Session(); ok {
				e.OpenSurface(info.Space, presence.Roster())
			}

			wg.Add(1)
			go func() {
				defer wg.Done()
				<-e.Done()
				mu.Lock()
				if current == e {
					current = nil
					presence.SetLink(nil)
					logger.Println("Bridge: overlay disconnected")
				}
				mu.Unlock()
				_ = e.Close()
			}()
		}
	}()

	return func() {
		_ = ln.Close()
		mu.Lock()
		e := current
		current = nil
		mu.Unlock()
		if e != nil {
			presence.SetLink(nil)
			_ = e.Close()
		}
		wg.Wait()
		_ = os.Remove(path)
	}, nil
}
