package list

import (
	"fmt"
	"strconv"
	"strings"

	gocid "github.com/ipfs/go-cid"

	"github.com/systemshift/memex-log/internal/dag"
)

// CompactRef identifies one entry: "writerId.epoch.version.contentAddress".
type CompactRef string

// ParseCompactRef splits a ref into its parts. The writer id may itself
// contain dots; the last three fields never do.
func ParseCompactRef(s string) (writer string, epoch, version uint64, addr gocid.Cid, err error) {
	parts := strings.Split(s, ".")
	if len(parts) < 4 {
		return "", 0, 0, gocid.Undef, fmt.Errorf("malformed ref %q", s)
	}
	n := len(parts)
	writer = strings.Join(parts[:n-3], ".")
	if epoch, err = strconv.ParseUint(parts[n-3], 10, 64); err != nil {
		return "", 0, 0, gocid.Undef, fmt.Errorf("ref %q: epoch: %w", s, err)
	}
	if version, err = strconv.ParseUint(parts[n-2], 10, 64); err != nil {
		return "", 0, 0, gocid.Undef, fmt.Errorf("ref %q: version: %w", s, err)
	}
	if addr, err = dag.ParseCID(parts[n-1]); err != nil {
		return "", 0, 0, gocid.Undef, fmt.Errorf("ref %q: %w", s, err)
	}
	return writer, epoch, version, addr, nil
}

// Entry is one immutable log record. Its address and ref are computed once
// at construction from the other fields.
type Entry struct {
	writerID     string
	epoch        uint64
	version      uint64
	payload      Payload
	predecessors []CompactRef

	address gocid.Cid
	ref     CompactRef
}

// NewEntry builds an entry and derives its content address. Predecessors
// must already be final; their order is preserved.
func NewEntry(writerID string, epoch, version uint64, payload Payload, predecessors []CompactRef) (*Entry, error) {
	e := &Entry{
		writerID:     writerID,
		epoch:        epoch,
		version:      version,
		payload:      payload,
		predecessors: append([]CompactRef{}, predecessors...),
	}
	addr, err := ContentAddress(e)
	if err != nil {
		return nil, err
	}
	e.address = addr
	e.ref = CompactRef(fmt.Sprintf("%s.%d.%d.%s", writerID, epoch, version, addr))
	return e, nil
}

// Accessors. An Entry is never mutated after NewEntry.

func (e *Entry) WriterID() string { return e.writerID }
func (e *Entry) Epoch() uint64 { return e.epoch }
func (e *Entry) Version() uint64 { return e.version }
func (e *Entry) Payload() Payload { return e.payload }
func (e *Entry) Address() gocid.Cid { return e.address }
func (e *Entry) Ref() CompactRef { return e.ref }
func (e *Entry) String() string { return string(e.ref) }

// Predecessors returns a copy of the entry's predecessor refs.
func (e *Entry) Predecessors() []CompactRef {
	return append([]CompactRef{}, e.predecessors...)
}

// PlainItem is the wire and hashing form of an entry. Field order is part
// of the address and must not change. The entry's own ref is derived, so
// it is not carried.
type PlainItem struct {
	ID   string       `json:"id"`
	Seq  uint64       `json:"seq"`
	Ver  uint64       `json:"ver"`
	Data Payload      `json:"data"`
	Next []CompactRef `json:"next"`
}

// Plain returns the wire form of e.
func (e *Entry) Plain() PlainItem {
	return PlainItem{
		ID:   e.writerID,
		Seq:  e.epoch,
		Ver:  e.version,
		Data: e.payload,
		Next: e.Predecessors(),
	}
}

// Encode returns the canonical bytes of e.
func Encode(e *Entry) ([]byte, error) {
	data, err := dag.CompactJSON(e.Plain())
	if err != nil {
		return nil, fmt.Errorf("%w: entry %s.%d.%d: %v", ErrEncoding, e.writerID, e.epoch, e.version, err)
	}
	return data, nil
}

// ContentAddress derives e's address: the CIDv0 of its canonical bytes
// wrapped in a dag-pb node. It is the address a ContentStore returns when
// the same bytes are put, but needs no store.
func ContentAddress(e *Entry) (gocid.Cid, error) {
	data, err := Encode(e)
	if err != nil {
		return gocid.Undef, err
	}
	return dag.AddressOf(data)
}
