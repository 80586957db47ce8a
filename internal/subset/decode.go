package subset

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
)

// Payload is one decoded JSON response body.
type Payload map[string]any

// DecodePayload decodes a JSON object body. Anything other than exactly one JSON object is
// reported as ErrDecode.
func DecodePayload(body []byte) (Payload, error) {
	dec := json.NewDecoder(bytes.NewReader(body))

	var p Payload
	if err := dec.Decode(&p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	if p == nil {
		return nil, fmt.Errorf("%w: body is not a JSON object", ErrDecode)
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, fmt.Errorf("%w: trailing data after JSON object", ErrDecode)
	}
	return p, nil
}

// describeErrorBody renders an error body for ServerError, indenting it when it is JSON.
func describeErrorBody(body []byte) string {
	var buf bytes.Buffer
	if err := json.Indent(&buf, body, "", "    "); err != nil {
		return string(bytes.TrimSpace(body))
	}
	return buf.String()
}
