package hangout

import (
	"context"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jaakkos/hangout/internal/app"
	"github.com/jaakkos/hangout/internal/domain"
)

func TestRequireFloat64(t *testing.T) {
	tests := []struct {
		name    string
		args    map[string]any
		key     string
		want    float64
		wantErr string
	}{
		{"valid", map[string]any{"x": float64(42)}, "x", 42, ""},
		{"zero", map[string]any{"x": float64(0)}, "x", 0, ""},
		{"missing key", map[string]any{}, "x", 0, "x is required"},
		{"nil value", map[string]any{"x": nil}, "x", 0, "x is required"},
		{"wrong type", map[string]any{"x": "abc"}, "x", 0, "must be a number"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := requireFloat64(tt.args, tt.key)
			if tt.wantErr != "" {
				require.ErrorContains(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRequireString(t *testing.T) {
	_, err := requireString(map[string]any{"space": ""}, "space")
	assert.Error(t, err, "empty string")
	_, err = requireString(map[string]any{"space": 3.0}, "space")
	assert.Error(t, err, "non-string")
	got, err := requireString(map[string]any{"space": "s1"}, "space")
	require.NoError(t, err)
	assert.Equal(t, "s1", got)
}

func TestOptionalArgs(t *testing.T) {
	args := map[string]any{"x": float64(3), "hovering": false}
	assert.Equal(t, float64(3), optionalFloat64(args, "x", 9))
	assert.Equal(t, float64(9), optionalFloat64(args, "y", 9), "fallback")
	assert.False(t, optionalBool(args, "hovering", true), "the given false wins")
	assert.True(t, optionalBool(args, "missing", true), "fallback")
}

type fixedPolicy domain.ParticipantID

func (p fixedPolicy) Participant() domain.ParticipantID { return domain.ParticipantID(p) }
func (fixedPolicy) DisplayName() string                 { return "" }
func (fixedPolicy) AvatarKind() domain.AvatarKind       { return domain.DefaultAvatarKind }
func (fixedPolicy) MembershipTTL() time.Duration        { return 0 }

func TestParticipantFor(t *testing.T) {
	ctx := context.Background()
	registry := app.NewSessionRegistry()
	deps := Deps{Policy: fixedPolicy("me")}

	assert.Equal(t, domain.ParticipantID("bob"), participantFor(ctx, map[string]any{"participant": "bob"}, deps, registry))
	assert.Equal(t, domain.ParticipantID("me"), participantFor(ctx, map[string]any{}, deps, registry))
	assert.Empty(t, participantFor(ctx, map[string]any{}, Deps{}, nil))
}

func TestRegister_DisabledTools(t *testing.T) {
	env := newTestEnv(t, true)
	srv := server.NewMCPServer("test", "1.0.0")
	Register(srv, Deps{
		Presence: env.mgr,
		Enabled:  func(name string) bool { return name == "get_roster" },
	}, nil, nil)

	_, err := callTool(t, srv, "join_space", map[string]any{"space": "s1"})
	assert.Error(t, err, "join_space should not be registered")
	_, err = callTool(t, srv, "get_roster", map[string]any{})
	assert.ErrorContains(t, err, domain.ErrNoSession.Error(), "get_roster is registered and reports no session")
}
