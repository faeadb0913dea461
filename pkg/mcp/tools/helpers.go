package tools

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
)

// trimString removes leading and trailing whitespace from a string.
func trimString(s string) string {
	return strings.TrimSpace(s)
}

// jsonResult marshals v into a text tool result.
func jsonResult(v any) (*mcp.CallToolResult, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal tool result: %w", err)
	}
	return mcp.NewToolResultText(string(b)), nil
}

// intArgument reads an optional numeric argument clamped to [1, max].
// JSON numbers arrive as float64.
func intArgument(req mcp.CallToolRequest, name string, def, max int) int {
	v := int(req.GetFloat(name, float64(def)))
	if v < 1 {
		return def
	}
	return min(v, max)
}
