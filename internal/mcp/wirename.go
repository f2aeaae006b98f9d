package mcp

import "strings"

// Wire names are the provider-visible tool identifiers:
//
//	<server_name> "-" <sanitized_tool>
//
// matching ^[A-Za-z0-9][A-Za-z0-9_-]*$. The mapping wire name → (server,
// original tool name) is a bijection maintained by the Manager; collisions
// are resolved with a deterministic numeric suffix at registration time.

// SanitizeToolName replaces every character outside [A-Za-z0-9_-] with '_'
// and guarantees a non-empty result with a leading alphanumeric.
func SanitizeToolName(name string) string {
	var sb strings.Builder
	for _, r := range name {
		if isWireRune(r) {
			sb.WriteRune(r)
		} else {
			sb.WriteByte('_')
		}
	}
	out := sb.String()
	if out == "" {
		return "tool"
	}
	if !isAlnum(rune(out[0])) {
		out = "t" + out
	}
	return out
}

// WireName builds the provider-visible name for a server-local tool name.
// Server names are validated at config load; tool names are sanitized here.
func WireName(server, tool string) string {
	return server + "-" + SanitizeToolName(tool)
}

func isWireRune(r rune) bool {
	return isAlnum(r) || r == '_' || r == '-'
}

func isAlnum(r rune) bool {
	return (r >= 'A' && r <= 'Z') || (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9')
}
