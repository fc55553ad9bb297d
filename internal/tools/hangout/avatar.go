package hangout

import (
	"context"
	"fmt"
	"log"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/jaakkos/hangout/internal/domain"
	"github.com/jaakkos/hangout/internal/overlay"
)

// localStage returns the stage showing the joined space and the local
// participant.
func localStage(deps Deps) (*overlay.Stage, domain.ParticipantID, error) {
	info, ok := deps.Presence.Session()
	if !ok {
		return nil, "", domain.ErrNoSession
	}
	if deps.Surface == nil {
		return nil, "", fmt.Errorf("%w: overlay runs in another process", domain.ErrSurfaceUnavailable)
	}
	stage := deps.Surface.Stage()
	if stage == nil || stage.Space() != info.Space {
		return nil, "", domain.ErrSurfaceUnavailable
	}
	return stage, info.Participant, nil
}

// registerMoveAvatar registers the move_avatar tool. The move is played as a
// drag of the local avatar, so peers see it live and the release commits it.
func registerMoveAvatar(s *server.MCPServer, deps Deps, logger *log.Logger) {
	s.AddTool(
		mcp.NewTool("move_avatar",
			mcp.WithDescription("Move your avatar to a new position. Other participants see it move and the position is saved when it lands."),
			mcp.WithNumber("x", mcp.Required(), mcp.Description("Target x position")),
			mcp.WithNumber("y", mcp.Required(), mcp.Description("Target y position")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			args := req.GetArguments()
			x, err := requireFloat64(args, "x")
			if err != nil {
				return nil, err
			}
			y, err := requireFloat64(args, "y")
			if err != nil {
				return nil, err
			}
			stage, local, err := localStage(deps)
			if err != nil {
				return nil, err
			}
			v, ok := stage.Visual(local)
			if !ok {
				return nil, domain.ErrNotInRoster
			}

			if err := stage.PointerDown(local, v.Position); err != nil {
				return nil, err
			}
			stage.PointerMove(local, domain.Position{X: x, Y: y})
			pos, ok := stage.PointerUp(local)
			if !ok {
				return nil, fmt.Errorf("move of %s was interrupted", local)
			}
			stage.WaitCommits()

			logger.Printf("Tool: %s moved to (%g, %g)", local, pos.X, pos.Y)
			return mcp.NewToolResultText(fmt.Sprintf("Moved %s to (%g, %g)", local, pos.X, pos.Y)), nil
		},
	)
}

// registerSendGesture registers the send_gesture tool.
func registerSendGesture(s *server.MCPServer, deps Deps, logger *log.Logger) {
	s.AddTool(
		mcp.NewTool("send_gesture",
			mcp.WithDescription("Play a short gesture animation on your avatar, optionally aimed at another participant."),
			mcp.WithString("action", mcp.Required(), mcp.Description("Gesture: wave, jump, dance or heart")),
			mcp.WithString("target", mcp.Description("Participant the gesture is aimed at")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			args := req.GetArguments()
			action, err := requireString(args, "action")
			if err != nil {
				return nil, err
			}
			g, err := domain.ParseGesture(action)
			if err != nil {
				return nil, err
			}
			target, _ := args["target"].(string)

			stage, local, err := localStage(deps)
			if err != nil {
				return nil, err
			}
			if err := stage.SendGesture(g, domain.ParticipantID(target)); err != nil {
				return nil, err
			}
			logger.Printf("Tool: %s sent %s", local, g)
			msg := fmt.Sprintf("%s sent %s", local, g)
			if target != "" {
				msg += " to " + target
			}
			return mcp.NewToolResultText(msg), nil
		},
	)
}

// registerHoverAvatar registers the hover_avatar tool.
func registerHoverAvatar(s *server.MCPServer, deps Deps, logger *log.Logger) {
	s.AddTool(
		mcp.NewTool("hover_avatar",
			mcp.WithDescription("Move the pointer onto or off an avatar. While hovered the overlay captures the pointer."),
			mcp.WithString("participant", mcp.Required(), mcp.Description("Participant whose avatar is hovered")),
			mcp.WithBoolean("hovering", mcp.Description("true to enter, false to leave (default: true)")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			args := req.GetArguments()
			participant, err := requireString(args, "participant")
			if err != nil {
				return nil, err
			}
			hovering := optionalBool(args, "hovering", true)

			stage, _, err := localStage(deps)
			if err != nil {
				return nil, err
			}
			id := domain.ParticipantID(participant)
			if hovering {
				err = stage.HoverEnter(id)
			} else {
				err = stage.HoverLeave(id)
			}
			if err != nil {
				return nil, err
			}
			logger.Printf("Tool: hover %s=%v", participant, hovering)
			if hovering {
				return mcp.NewToolResultText(fmt.Sprintf("Hovering %s", participant)), nil
			}
			return mcp.NewToolResultText(fmt.Sprintf("Left %s", participant)), nil
		},
	)
}
