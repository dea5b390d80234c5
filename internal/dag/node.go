package dag

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"google.golang.org/protobuf/encoding/protowire"
)

// dag-pb PBNode field numbers.
const (
	pbNodeData  protowire.Number = 1
	pbNodeLinks protowire.Number = 2
)

// EncodeNode wraps data in a link-less dag-pb PBNode. The result is what
// IPFS `object put` stores for {Data: data, Links: []}.
func EncodeNode(data []byte) []byte {
	b := make([]byte, 0, len(data)+protowire.SizeVarint(uint64(len(data)))+1)
	b = protowire.AppendTag(b, pbNodeData, protowire.BytesType)
	return protowire.AppendBytes(b, data)
}

// DecodeNode extracts the Data field of a dag-pb PBNode. Links are skipped.
func DecodeNode(block []byte) ([]byte, error) {
	var data []byte
	for len(block) > 0 {
		num, typ, n := protowire.ConsumeTag(block)
		if n < 0 {
			return nil, fmt.Errorf("dag-pb tag: %w", protowire.ParseError(n))
		}
		block = block[n:]
		if num == pbNodeData && typ == protowire.BytesType {
			v, m := protowire.ConsumeBytes(block)
			if m < 0 {
				return nil, fmt.Errorf("dag-pb data: %w", protowire.ParseError(m))
			}
			data = append([]byte(nil), v...)
			block = block[m:]
			continue
		}
		if num != pbNodeLinks {
			return nil, fmt.Errorf("dag-pb: unexpected field %d", num)
		}
		m := protowire.ConsumeFieldValue(num, typ, block)
		if m < 0 {
			return nil, fmt.Errorf("dag-pb links: %w", protowire.ParseError(m))
		}
		block = block[m:]
	}
	if data == nil {
		data = []byte{}
	}
	return data, nil
}

// ErrInvalidUTF8 is returned when a string to be encoded is not valid UTF-8.
var ErrInvalidUTF8 = errors.New("string is not valid UTF-8")

// CompactJSON encodes v without HTML escaping and without a trailing newline,
// matching JavaScript's JSON.stringify for the same value. U+2028 and U+2029
// are written raw. Strings holding invalid UTF-8 yield ErrInvalidUTF8.
func CompactJSON(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return stringifyEscapes(bytes.TrimRight(buf.Bytes(), "\n"))
}

// stringifyEscapes rewrites the escapes where encoding/json and
// JSON.stringify differ. encoding/json emits \u2028 and \u2029 escaped and
// replaces invalid UTF-8 with \ufffd; JSON.stringify emits neither escape.
func stringifyEscapes(data []byte) ([]byte, error) {
	if bytes.IndexByte(data, '\\') < 0 {
		return data, nil
	}
	out := make([]byte, 0, len(data))
	for i := 0; i < len(data); i++ {
		c := data[i]
		if c != '\\' || i+1 >= len(data) {
			out = append(out, c)
			continue
		}
		if data[i+1] == 'u' && i+6 <= len(data) {
			switch strings.ToLower(string(data[i+2 : i+6])) {
			case "2028":
				out = append(out, "\u2028"...)
				i += 5
				continue
			case "2029":
				out = append(out, "\u2029"...)
				i += 5
				continue
			case "fffd":
				return nil, ErrInvalidUTF8
			}
		}
		// Copy the escape as a pair so an escaped backslash is never read
		// as the start of another escape.
		out = append(out, c, data[i+1])
		i++
	}
	return out, nil
}

// CanonicalJSON produces a deterministic JSON encoding with sorted keys.
// Numbers are carried through verbatim.
func CanonicalJSON(v interface{}) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return Canonicalize(data)
}

// Canonicalize re-encodes a JSON document with sorted object keys.
func Canonicalize(data []byte) ([]byte, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw interface{}
	if err := dec.Decode(&raw); err != nil {
		return nil, err
	}
	if dec.More() {
		return nil, fmt.Errorf("trailing data after JSON value")
	}
	return canonicalEncode(raw)
}

func canonicalEncode(v interface{}) ([]byte, error) {
	switch val := v.(type) {
	case map[string]interface{}:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		buf := []byte{'{'}
		for i, k := range keys {
			if i > 0 {
				buf = append(buf, ',')
			}
			keyBytes, err := CompactJSON(k)
			if err != nil {
				return nil, err
			}
			buf = append(buf, keyBytes...)
			buf = append(buf, ':')
			valBytes, err := canonicalEncode(val[k])
			if err != nil {
				return nil, err
			}
			buf = append(buf, valBytes...)
		}
		return append(buf, '}'), nil

	case []interface{}:
		buf := []byte{'['}
		for i, item := range val {
			if i > 0 {
				buf = append(buf, ',')
			}
			itemBytes, err := canonicalEncode(item)
			if err != nil {
				return nil, err
			}
			buf = append(buf, itemBytes...)
		}
		return append(buf, ']'), nil

	default:
		return CompactJSON(v)
	}
}
