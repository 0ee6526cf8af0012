package adminsock

import "encoding/json"

// CommandRequest carries one admin command invocation.
type CommandRequest struct {
	Command string            `json:"command"`
	Args    map[string]string `json:"args,omitempty"`
	Format  string            `json:"format,omitempty"`
}

// CommandResponse returns the command's structured result, encoded in the
// requested format.
type CommandResponse struct {
	Result json.RawMessage `json:"result"`
}

// CommandInfo describes one registered command for the help listing.
type CommandInfo struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// MarshalResult encodes a structured result per the output-format selector.
// Unknown formats fall back to pretty JSON, matching the daemon's default.
func MarshalResult(v any, format string) ([]byte, error) {
	switch format {
	case "json":
		return json.Marshal(v)
	default:
		return json.MarshalIndent(v, "", "  ")
	}
}
