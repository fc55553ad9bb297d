package hangout

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/jaakkos/hangout/internal/app"
	"github.com/jaakkos/hangout/internal/domain"
)

// registerJoinSpace registers the join_space tool.
func registerJoinSpace(s *server.MCPServer, deps Deps, logger *log.Logger, registry *app.SessionRegistry) {
	s.AddTool(
		mcp.NewTool("join_space",
			mcp.WithDescription("Join a hangout space. Your avatar appears on the shared overlay of everyone in the space. Joining another space leaves the current one."),
			mcp.WithString("space", mcp.Required(), mcp.Description("Space identifier, usually the conversation id")),
			mcp.WithString("participant", mcp.Description("Participant to join as (default: the configured participant)")),
			mcp.WithNumber("x", mcp.Description("Initial avatar x position (default: 0)")),
			mcp.WithNumber("y", mcp.Description("Initial avatar y position (default: 0)")),
			mcp.WithString("avatar_kind", mcp.Description("Avatar artwork to use (default from config)")),
			mcp.WithString("display_name", mcp.Description("Name shown next to the avatar")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			args := req.GetArguments()
			space, err := requireString(args, "space")
			if err != nil {
				return nil, err
			}
			participant := participantFor(ctx, args, deps, registry)
			if participant == "" {
				return nil, fmt.Errorf("participant is required")
			}
			pos := domain.Position{X: optionalFloat64(args, "x", 0), Y: optionalFloat64(args, "y", 0)}

			var opts []app.JoinOption
			if kind, _ := args["avatar_kind"].(string); kind != "" {
				opts = append(opts, app.WithAvatarKind(domain.AvatarKind(kind)))
			}
			if name, _ := args["display_name"].(string); name != "" {
				opts = append(opts, app.WithDisplayName(name))
			}

			info, err := deps.Presence.Join(ctx, domain.SpaceID(space), participant, pos, opts...)
			if err != nil {
				return nil, err
			}
			if session := server.ClientSessionFromContext(ctx); session != nil && registry != nil {
				registry.Bind(session.SessionID(), participant)
			}

			roster := deps.Presence.Roster()
			logger.Printf("Tool: %s joined %s", participant, space)
			return mcp.NewToolResultText(fmt.Sprintf("Joined %s as %s (session %s) at (%g, %g). %d participant(s) present.",
				info.Space, info.Participant, info.ID, info.Position.X, info.Position.Y, roster.Len())), nil
		},
	)
}

// registerLeaveSpace registers the leave_space tool.
func registerLeaveSpace(s *server.MCPServer, deps Deps, logger *log.Logger, registry *app.SessionRegistry) {
	s.AddTool(
		mcp.NewTool("leave_space",
			mcp.WithDescription("Leave a hangout space. Leaving as the local participant closes the overlay."),
			mcp.WithString("space", mcp.Description("Space to leave (default: the joined space)")),
			mcp.WithString("participant", mcp.Description("Participant leaving (default: you)")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			args := req.GetArguments()
			space, _ := args["space"].(string)
			info, active := deps.Presence.Session()
			if space == "" {
				if !active {
					return nil, domain.ErrNoSession
				}
				space = string(info.Space)
			}
			participant := info.Participant
			if explicit, _ := args["participant"].(string); explicit != "" || !active {
				participant = participantFor(ctx, args, deps, registry)
			}
			if participant == "" {
				return nil, fmt.Errorf("participant is required")
			}

			if err := deps.Presence.Leave(ctx, domain.SpaceID(space), participant); err != nil {
				return nil, err
			}
			logger.Printf("Tool: %s left %s", participant, space)
			return mcp.NewToolResultText(fmt.Sprintf("%s left %s", participant, space)), nil
		},
	)
}

// registerGetRoster registers the get_roster tool.
func registerGetRoster(s *server.MCPServer, deps Deps, logger *log.Logger) {
	s.AddTool(
		mcp.NewTool("get_roster",
			mcp.WithDescription("List the participants of a space with their avatar positions."),
			mcp.WithString("space", mcp.Description("Space to list (default: the joined space)")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			args := req.GetArguments()
			space, _ := args["space"].(string)

			roster, err := rosterFor(ctx, deps, domain.SpaceID(space))
			if err != nil {
				return nil, err
			}
			return mcp.NewToolResultText(FormatRoster(roster)), nil
		},
	)
}

// rosterFor returns the live roster of the joined space, or a durable read
// for any other space.
func rosterFor(ctx context.Context, deps Deps, space domain.SpaceID) (domain.Roster, error) {
	info, active := deps.Presence.Session()
	if space == "" || (active && space == info.Space) {
		if !active {
			return domain.Roster{}, domain.ErrNoSession
		}
		return deps.Presence.Roster(), nil
	}
	if deps.Store == nil {
		return domain.Roster{}, fmt.Errorf("no session store for %s", space)
	}
	return app.ReadRoster(ctx, deps.Store, deps.Directory, space)
}

// FormatRoster renders a roster as one line per participant.
func FormatRoster(r domain.Roster) string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "Space %s: %d participant(s)\n", r.SpaceID, r.Len())
	for _, m := range r.Members {
		fmt.Fprintf(&buf, "  %s", m.ParticipantID)
		if m.Display.Name != "" {
			fmt.Fprintf(&buf, " (%s)", m.Display.Name)
		}
		fmt.Fprintf(&buf, " at (%g, %g) [%s]", m.Position.X, m.Position.Y, m.AvatarKind)
		if m.ParticipantID == r.Local {
			buf.WriteString(" (you)")
		}
		buf.WriteByte('\n')
	}
	return buf.String()
}
