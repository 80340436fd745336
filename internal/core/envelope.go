package core

// ErrorEnvelope is the only error shape that crosses the protocol boundary.
// Used by both the JSON-RPC transport and the tool result text.
type ErrorEnvelope struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}
