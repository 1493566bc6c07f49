package restapi

import (
	"bytes"
	"encoding/json"
	"errors"
)

type DecodedKind int

const (
	KindText DecodedKind = iota
	KindJSON
)

func (k DecodedKind) String() string {
	if k == KindJSON {
		return "json"
	}
	return "text"
}

// Decoded is a response body that was either valid JSON or plain text.
type Decoded struct {
	kind DecodedKind
	raw  []byte
}

// Decode classifies body without ever failing.
func Decode(body []byte) Decoded {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) > 0 && json.Valid(trimmed) {
		return Decoded{kind: KindJSON, raw: trimmed}
	}
	return Decoded{kind: KindText, raw: body}
}

// JSONValue wraps an already-structured value.
func JSONValue(v any) (Decoded, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return Decoded{}, err
	}
	return Decoded{kind: KindJSON, raw: raw}, nil
}

func (d Decoded) Kind() DecodedKind { return d.kind }

// JSON returns the raw JSON document and whether the body was JSON.
func (d Decoded) JSON() (json.RawMessage, bool) {
	if d.kind != KindJSON {
		return nil, false
	}
	return json.RawMessage(d.raw), true
}

// Text returns the body as a string regardless of kind.
func (d Decoded) Text() string { return string(d.raw) }

// Into unmarshals a JSON body into v.
func (d Decoded) Into(v any) error {
	if d.kind != KindJSON {
		return errors.New("response body is not JSON")
	}
	return json.Unmarshal(d.raw, v)
}

// Value returns the generic JSON value, or the text as a string.
func (d Decoded) Value() any {
	if d.kind != KindJSON {
		return string(d.raw)
	}
	var v any
	if err := json.Unmarshal(d.raw, &v); err != nil {
		return string(d.raw)
	}
	return v
}

func (d Decoded) MarshalJSON() ([]byte, error) {
	if d.kind == KindJSON {
		return d.raw, nil
	}
	return json.Marshal(string(d.raw))
}
