package hangout

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/jaakkos/hangout/internal/app"
)

// ActivityMiddleware records session activity on every tool call and, once
// a call succeeded, refreshes the local membership's last_seen so an active
// client is never pruned.
func ActivityMiddleware(deps Deps, registry *app.SessionRegistry) server.ToolHandlerMiddleware {
	return func(next server.ToolHandlerFunc) server.ToolHandlerFunc {
		return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			if session := server.ClientSessionFromContext(ctx); session != nil && registry != nil {
				registry.TouchSession(session.SessionID())
			}
			result, err := next(ctx, req)
			if err == nil && deps.Presence != nil {
				_ = deps.Presence.Heartbeat(ctx)
			}
			return result, err
		}
	}
}
