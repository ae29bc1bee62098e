package toolregistry

import "encoding/json"

// String renders a Result as the text a session-log tool message carries.
// Successful values are JSON-encoded; error values are the bare message —
// mirroring the provider adapter's contract that handlers always hand back
// something the model can read as plain text.
func (r Result) String() string {
	if r.IsError {
		return r.Error
	}
	if s, ok := r.Value.(string); ok {
		return s
	}
	data, err := json.Marshal(r.Value)
	if err != nil {
		return ""
	}
	return string(data)
}
