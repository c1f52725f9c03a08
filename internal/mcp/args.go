package mcp

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
)

// textArg returns the trimmed string argument key, or "".
func textArg(request mcp.CallToolRequest, key string) string {
	return strings.TrimSpace(request.GetString(key, ""))
}

// requiredText is textArg for arguments the tool cannot run without.
func requiredText(request mcp.CallToolRequest, key string) (string, error) {
	v := textArg(request, key)
	if v == "" {
		return "", fmt.Errorf("%q is required", key)
	}
	return v, nil
}

// listArg returns the non-blank entries of an array argument.
func listArg(request mcp.CallToolRequest, key string) []string {
	var out []string
	for _, v := range request.GetStringSlice(key, nil) {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

// limitArg reads "limit". An absent argument yields def; anything else is
// bounded to [1, max].
func limitArg(request mcp.CallToolRequest, def, max int) int {
	n := request.GetInt("limit", def)
	if n == def {
		return def
	}
	return bound(n, 1, max)
}

func bound(n, lo, hi int) int {
	return min(max(n, lo), hi)
}

// objectArg decodes the object argument key into dst. An absent argument
// leaves dst untouched.
func objectArg(request mcp.CallToolRequest, key string, dst interface{}) error {
	raw, ok := request.GetArguments()[key]
	if !ok || raw == nil {
		return nil
	}
	obj, ok := raw.(map[string]interface{})
	if !ok {
		return fmt.Errorf("%q must be an object", key)
	}
	data, err := json.Marshal(obj)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, dst)
}

// jsonResult returns v as an indented JSON text result.
func jsonResult(v interface{}) (*mcp.CallToolResult, error) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal result: %w", err)
	}
	return mcp.NewToolResultText(string(b)), nil
}

// errorResult reports a failure to the agent as tool output, so it can
// correct the call; the session stays open.
func errorResult(format string, args ...interface{}) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultError(fmt.Sprintf(format, args...)), nil
}
