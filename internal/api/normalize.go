package api

import (
	"bytes"
	"encoding/json"
)

// Extract pulls the record object out of a backend response body. The
// backend is not consistent about envelopes: depending on the endpoint and
// version it returns `{"<key>": {...}}`, `{"data": {...}}` or the bare
// object. Extraction order is fixed: the named key first, then "data", then
// the body itself. Anything that is not a JSON object at all is rejected.
func Extract(raw json.RawMessage, key string) (json.RawMessage, error) {
	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(raw, &envelope); err != nil || envelope == nil {
		return nil, &FetchError{Message: "unrecognized response shape"}
	}

	if v, ok := envelope[key]; ok && isObject(v) {
		return v, nil
	}
	if v, ok := envelope["data"]; ok && isObject(v) {
		return v, nil
	}
	return raw, nil
}

func isObject(raw json.RawMessage) bool {
	trimmed := bytes.TrimLeft(raw, " \t\r\n")
	return len(trimmed) > 0 && trimmed[0] == '{'
}
