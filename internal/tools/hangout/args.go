package hangout

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/server"

	"github.com/jaakkos/hangout/internal/app"
	"github.com/jaakkos/hangout/internal/domain"
)

// requireFloat64 extracts a float64 from args by key, distinguishing
// "missing" from "wrong type".
func requireFloat64(args map[string]any, key string) (float64, error) {
	v, exists := args[key]
	if !exists || v == nil {
		return 0, fmt.Errorf("%s is required", key)
	}
	f, ok := v.(float64)
	if !ok {
		return 0, fmt.Errorf("%s must be a number, got %T", key, v)
	}
	return f, nil
}

// requireString extracts a non-empty string from args by key.
func requireString(args map[string]any, key string) (string, error) {
	v, _ := args[key].(string)
	if v == "" {
		return "", fmt.Errorf("%s is required", key)
	}
	return v, nil
}

func optionalFloat64(args map[string]any, key string, fallback float64) float64 {
	if v, ok := args[key].(float64); ok {
		return v
	}
	return fallback
}

func optionalBool(args map[string]any, key string, fallback bool) bool {
	if v, ok := args[key].(bool); ok {
		return v
	}
	return fallback
}

// participantFor resolves who a call acts as: an explicit "participant"
// argument, then the participant bound to the MCP session, then the
// configured local participant.
func participantFor(ctx context.Context, args map[string]any, deps Deps, registry *app.SessionRegistry) domain.ParticipantID {
	if v, _ := args["participant"].(string); v != "" {
		return domain.ParticipantID(v)
	}
	if registry != nil {
		if session := server.ClientSessionFromContext(ctx); session != nil {
			if p := registry.Participant(session.SessionID()); p != "" {
				return p
			}
		}
	}
	if deps.Policy != nil {
		return deps.Policy.Participant()
	}
	return ""
}
