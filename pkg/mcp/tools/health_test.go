package tools

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/mark3labs/mcp-go/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// callTool invokes a tool through the server's JSON-RPC handler and returns
// the raw result JSON.
func callTool(t *testing.T, s *server.MCPServer, request string) []byte {
	t.Helper()
	result := s.HandleMessage(context.Background(), []byte(request))
	b, err := json.Marshal(result)
	require.NoError(t, err)
	return b
}

// toolResponse is the JSON-RPC envelope of a tools/call response.
type toolResponse struct {
	Result struct {
		IsError bool `json:"isError"`
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
	} `json:"result"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func decodeToolResponse(t *testing.T, raw []byte) toolResponse {
	t.Helper()
	var resp toolResponse
	require.NoError(t, json.Unmarshal(raw, &resp))
	return resp
}

func (r toolResponse) text(t *testing.T) string {
	t.Helper()
	require.NotEmpty(t, r.Result.Content, "expected content in response")
	return r.Result.Content[0].Text
}

func TestRegisterHealthTool(t *testing.T) {
	mcpServer := server.NewMCPServer("test", "1.0.0", server.WithToolCapabilities(true))
	RegisterHealthTool(mcpServer, "test-version", nil)

	raw := callTool(t, mcpServer, `{"jsonrpc":"2.0","method":"tools/list","id":1}`)

	var response struct {
		Result struct {
			Tools []struct {
				Name        string `json:"name"`
				Description string `json:"description"`
			} `json:"tools"`
		} `json:"result"`
	}
	require.NoError(t, json.Unmarshal(raw, &response))

	require.Len(t, response.Result.Tools, 1)
	assert.Equal(t, "health", response.Result.Tools[0].Name)
}

func TestHealthTool_Execute(t *testing.T) {
	mcpServer := server.NewMCPServer("test", "1.0.0", server.WithToolCapabilities(true))
	RegisterHealthTool(mcpServer, "1.2.3", nil)

	resp := decodeToolResponse(t, callTool(t, mcpServer,
		`{"jsonrpc":"2.0","method":"tools/call","params":{"name":"health"},"id":1}`))

	var health healthResult
	require.NoError(t, json.Unmarshal([]byte(resp.text(t)), &health))
	assert.Equal(t, "ok", health.Status)
	assert.Equal(t, "1.2.3", health.Version)
	assert.Nil(t, health.Checks)
}

func TestHealthTool_DependencyChecks(t *testing.T) {
	mcpServer := server.NewMCPServer("test", "1.0.0", server.WithToolCapabilities(true))
	RegisterHealthTool(mcpServer, "1.2.3", map[string]HealthCheck{
		"database": func(context.Context) error { return nil },
		"redis":    func(context.Context) error { return errors.New("connection refused") },
	})

	resp := decodeToolResponse(t, callTool(t, mcpServer,
		`{"jsonrpc":"2.0","method":"tools/call","params":{"name":"health"},"id":1}`))

	var health healthResult
	require.NoError(t, json.Unmarshal([]byte(resp.text(t)), &health))
	assert.Equal(t, "degraded", health.Status)
	assert.Equal(t, map[string]string{"database": "ok", "redis": "unavailable"}, health.Checks)
}

func TestHealthTool_VersionWithSpecialChars(t *testing.T) {
	mcpServer := server.NewMCPServer("test", "1.0.0", server.WithToolCapabilities(true))
	versionWithQuotes := `1.0.0-beta"test`
	RegisterHealthTool(mcpServer, versionWithQuotes, nil)

	resp := decodeToolResponse(t, callTool(t, mcpServer,
		`{"jsonrpc":"2.0","method":"tools/call","params":{"name":"health"},"id":1}`))

	var health healthResult
	require.NoError(t, json.Unmarshal([]byte(resp.text(t)), &health))
	assert.Equal(t, versionWithQuotes, health.Version)
}
