package signature

import (
	"bytes"
	"encoding/json"
	"errors"
)

var ErrInvalidPayload = errors.New("invalid_payload")

// Canonicalize re-encodes a JSON object with keys sorted lexicographically,
// no insignificant whitespace and no HTML escaping. Signature verification
// compares digests bit for bit, so both sides must produce this exact form.
// Numbers keep their original literal representation.
func Canonicalize(raw []byte) ([]byte, error) {
	var payload map[string]any
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&payload); err != nil {
		return nil, ErrInvalidPayload
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(payload); err != nil {
		return nil, ErrInvalidPayload
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}
