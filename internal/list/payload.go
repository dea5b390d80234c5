package list

import (
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/systemshift/memex-log/internal/dag"
)

// Payload is the application data of an entry, held as compact JSON.
// The bytes are hashed as-is, so a payload read back from the wire keeps
// its key order. The zero value is JSON null.
type Payload struct {
	raw json.RawMessage
}

// NewPayload converts v into a Payload.
//
// Strings become JSON strings, []byte becomes a base64 string,
// json.RawMessage is validated and compacted, and any other value is
// marshaled by encoding/json (map keys sorted, HTML left unescaped).
// Strings are written as JSON.stringify writes them. Values that cannot be
// encoded, including strings that are not valid UTF-8, yield ErrEncoding.
func NewPayload(v interface{}) (Payload, error) {
	var (
		raw []byte
		err error
	)
	switch val := v.(type) {
	case Payload:
		return val, nil
	case string:
		raw, err = dag.CompactJSON(val)
	case json.RawMessage:
		raw, err = compactRaw(val)
	default:
		raw, err = dag.CompactJSON(val)
	}
	if err != nil {
		return Payload{}, fmt.Errorf("%w: payload: %v", ErrEncoding, err)
	}
	return Payload{raw: raw}, nil
}

// StringPayload wraps s; it cannot fail. Invalid UTF-8 sequences in s are
// replaced by U+FFFD; use NewPayload to reject them instead.
func StringPayload(s string) Payload {
	raw, _ := dag.CompactJSON(strings.ToValidUTF8(s, "\uFFFD"))
	return Payload{raw: raw}
}

// Raw returns the canonical JSON bytes.
func (p Payload) Raw() json.RawMessage {
	if len(p.raw) == 0 {
		return json.RawMessage("null")
	}
	return p.raw
}

// AsString returns the payload as a Go string when it is a JSON string.
func (p Payload) AsString() (string, bool) {
	var s string
	if err := json.Unmarshal(p.Raw(), &s); err != nil {
		return "", false
	}
	return s, true
}

// Decode unmarshals the payload into v.
func (p Payload) Decode(v interface{}) error {
	return json.Unmarshal(p.Raw(), v)
}

// Equal reports whether both payloads have the same encoding.
func (p Payload) Equal(o Payload) bool {
	return string(p.Raw()) == string(o.Raw())
}

// String renders string payloads verbatim and anything else as JSON.
func (p Payload) String() string {
	if s, ok := p.AsString(); ok {
		return s
	}
	return string(p.Raw())
}

// MarshalJSON implements json.Marshaler.
func (p Payload) MarshalJSON() ([]byte, error) {
	return p.Raw(), nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (p *Payload) UnmarshalJSON(data []byte) error {
	raw, err := compactRaw(data)
	if err != nil {
		return fmt.Errorf("%w: payload: %v", ErrEncoding, err)
	}
	p.raw = raw
	return nil
}

func compactRaw(data []byte) ([]byte, error) {
	if !json.Valid(data) {
		return nil, fmt.Errorf("invalid JSON")
	}
	if !utf8.Valid(data) {
		return nil, dag.ErrInvalidUTF8
	}
	return dag.CompactJSON(json.RawMessage(data))
}
