package hangout

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/jaakkos/hangout/internal/domain"
)

const rosterURI = "hangout://roster"

// registerResources exposes the joined space's roster as a JSON resource and
// any space's durable roster through a resource template.
func registerResources(s *server.MCPServer, deps Deps, logger *log.Logger) {
	s.AddResource(
		mcp.NewResource(
			rosterURI,
			"Current roster",
			mcp.WithResourceDescription("Participants and avatar positions of the joined space."),
			mcp.WithMIMEType("application/json"),
		),
		func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
			return rosterResource(ctx, deps, req.Params.URI, "")
		},
	)

	s.AddResourceTemplate(
		mcp.NewResourceTemplate(
			rosterURI+"/{space}",
			"Roster of a space",
			mcp.WithTemplateDescription("Participants and saved avatar positions of any space."),
			mcp.WithTemplateMIMEType("application/json"),
		),
		func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
			space := spaceFromURI(req.Params.URI)
			if space == "" {
				return nil, domain.ErrInvalidSpace
			}
			logger.Printf("Resource read: roster/%s", space)
			return rosterResource(ctx, deps, req.Params.URI, space)
		},
	)
}

func rosterResource(ctx context.Context, deps Deps, uri string, space domain.SpaceID) ([]mcp.ResourceContents, error) {
	roster, err := rosterFor(ctx, deps, space)
	if err != nil {
		return nil, err
	}
	data, err := json.MarshalIndent(roster, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode roster: %w", err)
	}
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      uri,
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}

func spaceFromURI(uri string) domain.SpaceID {
	space, ok := strings.CutPrefix(uri, rosterURI+"/")
	if !ok {
		return ""
	}
	return domain.SpaceID(space)
}
