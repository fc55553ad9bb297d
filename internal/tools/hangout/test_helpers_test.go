package hangout

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/stretchr/testify/require"

	"github.com/jaakkos/hangout/internal/app"
	"github.com/jaakkos/hangout/internal/bridge"
	"github.com/jaakkos/hangout/internal/bus"
	"github.com/jaakkos/hangout/internal/domain"
	"github.com/jaakkos/hangout/internal/overlay"
	"github.com/jaakkos/hangout/internal/repository"
	"github.com/jaakkos/hangout/internal/repository/sqlite"
)

type testEnv struct {
	srv   *server.MCPServer
	mgr   *app.PresenceManager
	store *sqlite.Store
	ctrl  *overlay.Controller
}

// newTestEnv wires a sqlite store, a presence manager and an in-process
// overlay over a bridge pipe, the way `hangout serve` does.
func newTestEnv(t *testing.T, withSurface bool) *testEnv {
	t.Helper()
	dir := t.TempDir()
	store, _, err := repository.NewSessionStore(
		filepath.Join(dir, "hangout.sqlite"), filepath.Join(dir, "signals"), nil, nil,
		sqlite.WithDebounce(0))
	require.NoError(t, err)
	pol := fixedPolicy("alice")
	mgr := app.NewPresenceManager(store, store, pol, nil)
	hub := bus.New()
	ctrl := overlay.NewController(overlay.Config{
		Platform: overlay.NewHeadlessPlatform(domain.Bounds{Width: 1280, Height: 800}),
		Bus:      hub,
		Commit:   mgr.CommitPosition,
	})

	ta, tb := bridge.Pipe()
	primary := bridge.NewEndpoint("primary", ta, nil)
	overlayEnd := bridge.NewEndpoint("overlay", tb, nil)
	bridge.BindPrimary(primary, mgr)
	bridge.BindOverlay(overlayEnd, ctrl)
	mgr.SetLink(primary)
	ctrl.Attach(overlayEnd)
	primary.Start()
	overlayEnd.Start()

	t.Cleanup(func() {
		mgr.Close()
		_ = primary.Close()
		_ = overlayEnd.Close()
		ctrl.CloseSurface()
		hub.Close()
		_ = store.Close()
	})

	deps := Deps{Presence: mgr, Store: store, Directory: store, Policy: pol}
	if withSurface {
		deps.Surface = ctrl
	}
	srv := server.NewMCPServer("test", "1.0.0", server.WithToolHandlerMiddleware(ActivityMiddleware(deps, nil)))
	Register(srv, deps, nil, app.NewSessionRegistry())
	return &testEnv{srv: srv, mgr: mgr, store: store, ctrl: ctrl}
}

// joined joins space as alice and waits for the overlay to show the avatar.
func (e *testEnv) joined(t *testing.T, space string) {
	t.Helper()
	_, err := callTool(t, e.srv, "join_space", map[string]any{"space": space, "x": float64(100), "y": float64(100)})
	require.NoError(t, err, "join_space")
	waitFor(t, "the overlay to show alice", func() bool {
		stage := e.ctrl.Stage()
		if stage == nil || stage.Space() != domain.SpaceID(space) {
			return false
		}
		_, ok := stage.Visual("alice")
		return ok
	})
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	require.Eventually(t, cond, 2*time.Second, 5*time.Millisecond, "timed out waiting for %s", what)
}

// callTool calls a registered tool via the MCPServer's HandleMessage.
func callTool(t *testing.T, s *server.MCPServer, name string, args map[string]any) (*mcp.CallToolResult, error) {
	t.Helper()
	var result mcp.CallToolResult
	if err := rpc(t, s, "tools/call", map[string]any{"name": name, "arguments": args}, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// readResource reads a resource and returns its text contents.
func readResource(t *testing.T, s *server.MCPServer, uri string) (string, error) {
	t.Helper()
	var result struct {
		Contents []struct {
			URI  string `json:"uri"`
			Text string `json:"text"`
		} `json:"contents"`
	}
	if err := rpc(t, s, "resources/read", map[string]any{"uri": uri}, &result); err != nil {
		return "", err
	}
	require.NotEmpty(t, result.Contents, "resource contents")
	return result.Contents[0].Text, nil
}

func rpc(t *testing.T, s *server.MCPServer, method string, params map[string]any, out any) error {
	t.Helper()
	reqJSON, err := json.Marshal(map[string]any{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  method,
		"params":  params,
	})
	require.NoError(t, err)

	respBytes, err := json.Marshal(s.HandleMessage(context.Background(), reqJSON))
	require.NoError(t, err)

	var resp struct {
		Result json.RawMessage `json:"result"`
		Error  *struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(respBytes, &resp))
	if resp.Error != nil {
		return fmt.Errorf("RPC error %d: %s", resp.Error.Code, resp.Error.Message)
	}
	require.NoError(t, json.Unmarshal(resp.Result, out))
	return nil
}

// resultText extracts the first text content from a CallToolResult.
func resultText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	require.NotNil(t, result)
	for _, c := range result.Content {
		if tc, ok := c.(mcp.TextContent); ok {
			return tc.Text
		}
	}
	require.Fail(t, "no text content in result")
	return ""
}
