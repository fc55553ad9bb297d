// Package hangout exposes the presence engine as MCP tools: joining and
// leaving spaces, reading rosters and driving the local avatar.
package hangout

import (
	"io"
	"log"

	"github.com/mark3labs/mcp-go/server"

	"github.com/jaakkos/hangout/internal/app"
	"github.com/jaakkos/hangout/internal/overlay"
)

// StageSource returns the stage of the surface currently up, or nil.
// Implemented by *overlay.Controller.
type StageSource interface {
	Stage() *overlay.Stage
}

// Deps are the components the tools act on.
type Deps struct {
	Presence  *app.PresenceManager
	Store     app.SessionStore
	Directory app.DisplayDirectory
	Policy    app.Policy
	// Surface is nil when the overlay runs in another process; avatar tools
	// then report the surface as unavailable.
	Surface StageSource
	// Enabled filters tools by name (policy enabled_tools). Nil enables all.
	Enabled func(name string) bool
}

// Register registers the hangout tools and resources with the mcp-go server.
func Register(s *server.MCPServer, deps Deps, logger *log.Logger, registry *app.SessionRegistry) {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}

	tools := []struct {
		name     string
		register func()
	}{
		// Presence tools (3)
		{"join_space", func() { registerJoinSpace(s, deps, logger, registry) }},
		{"leave_space", func() { registerLeaveSpace(s, deps, logger, registry) }},
		{"get_roster", func() { registerGetRoster(s, deps, logger) }},

		// Avatar tools (3)
		{"move_avatar", func() { registerMoveAvatar(s, deps, logger) }},
		{"send_gesture", func() { registerSendGesture(s, deps, logger) }},
		{"hover_avatar", func() { registerHoverAvatar(s, deps, logger) }},
	}
	for _, t := range tools {
		if deps.Enabled != nil && !deps.Enabled(t.name) {
			logger.Printf("Tool %s disabled by config", t.name)
			continue
		}
		t.register()
	}

	registerResources(s, deps, logger)
}
