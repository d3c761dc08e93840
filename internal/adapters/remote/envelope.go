package remote

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// envelope is the {success, data, error} wrapper some endpoints use.
type envelope struct {
	Success *bool           `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
}

// envelopeKeys are the only keys a wrapper may carry. A record that merely
// has a "data" field (a culto's date) is a bare value.
var envelopeKeys = map[string]bool{"success": true, "data": true, "error": true}

// unwrap normalizes a 2xx body to its payload. Bodies may be a bare value,
// {data: value} or {success, data, error}.
// PRE: body is the raw response body of a 2xx response
// POST: Returns the payload, or rejected=true with the server message
func unwrap(body []byte) (payload json.RawMessage, rejected bool, message string, err error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil, false, "", nil
	}
	if trimmed[0] != '{' {
		return trimmed, false, "", nil
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &fields); err != nil {
		return nil, false, "", fmt.Errorf("decode response: %w", err)
	}
	if !isEnvelope(fields) {
		return trimmed, false, "", nil
	}

	var env envelope
	if err := json.Unmarshal(trimmed, &env); err != nil {
		return nil, false, "", fmt.Errorf("decode envelope: %w", err)
	}
	if env.Success != nil && !*env.Success {
		return nil, true, env.Error, nil
	}
	return env.Data, false, "", nil
}

// isEnvelope reports whether fields form a wrapper: a "success" flag, or a
// non-empty set of keys drawn only from success, data and error.
func isEnvelope(fields map[string]json.RawMessage) bool {
	if _, ok := fields["success"]; ok {
		return true
	}
	if _, ok := fields["data"]; !ok {
		return false
	}
	for k := range fields {
		if !envelopeKeys[k] {
			return false
		}
	}
	return true
}

// errorMessage extracts {error: "..."} from a failure body, if present.
func errorMessage(body []byte) string {
	var env envelope
	if err := json.Unmarshal(body, &env); err == nil && env.Error != "" {
		return env.Error
	}
	return ""
}
