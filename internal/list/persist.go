package list

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	gocid "github.com/ipfs/go-cid"

	"github.com/systemshift/memex-log/internal/dag"
)

//go:generate mockgen -destination=mock_store_test.go -package=list github.com/systemshift/memex-log/internal/dag ContentStore

// Plain is the JSON-compatible form of a list. Items are the logical
// items, committed then pending.
type Plain struct {
	ID    string      `json:"id"`
	Seq   uint64      `json:"seq"`
	Ver   uint64      `json:"ver"`
	Items []PlainItem `json:"items"`
}

// ToPlain returns the wire form of l.
func (l *List) ToPlain() Plain {
	items := l.Items()
	p := Plain{ID: l.id, Seq: l.epoch, Ver: l.version, Items: make([]PlainItem, len(items))}
	for i, e := range items {
		p.Items[i] = e.Plain()
	}
	return p
}

// ToJSON encodes l exactly as its root object is stored.
func (l *List) ToJSON() ([]byte, error) {
	data, err := dag.CompactJSON(l.ToPlain())
	if err != nil {
		return nil, fmt.Errorf("%w: list %s: %v", ErrEncoding, l.id, err)
	}
	return data, nil
}

// FromPlain rebuilds a list from its wire form. No store access happens
// here; store is kept for later persistence. The last Ver items form the
// pending batch and must belong to writer ID at epoch Seq.
func FromPlain(store dag.ContentStore, p Plain, opts ...Option) (*List, error) {
	if p.ID == "" {
		return nil, invariantf("list has no id")
	}
	if p.Ver > uint64(len(p.Items)) {
		return nil, invariantf("list %s: ver %d exceeds %d items", p.ID, p.Ver, len(p.Items))
	}

	l := New(p.ID, store, opts...)
	l.epoch = p.Seq
	l.version = p.Ver

	entries := make([]*Entry, 0, len(p.Items))
	known := make(map[CompactRef]bool, len(p.Items))
	for i, item := range p.Items {
		for _, ref := range item.Next {
			if !known[ref] {
				return nil, invariantf("item %d (%s.%d.%d) references %s before it appears", i, item.ID, item.Seq, item.Ver, ref)
			}
		}
		e, err := NewEntry(item.ID, item.Seq, item.Ver, item.Data, item.Next)
		if err != nil {
			return nil, err
		}
		if known[e.ref] {
			return nil, invariantf("duplicate item %s", e.ref)
		}
		known[e.ref] = true
		entries = append(entries, e)
	}

	split := len(entries) - int(p.Ver)
	for _, e := range entries[split:] {
		if e.writerID != p.ID || e.epoch != p.Seq {
			return nil, invariantf("pending item %s does not belong to %s epoch %d", e.ref, p.ID, p.Seq)
		}
	}
	l.committed = entries[:split:split]
	l.pending = append([]*Entry(nil), entries[split:]...)
	l.headsValid = false
	return l, nil
}

// FromJSON decodes a list from the output of ToJSON.
func FromJSON(store dag.ContentStore, data []byte, opts ...Option) (*List, error) {
	var p Plain
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("%w: decode list: %v", ErrEncoding, err)
	}
	return FromPlain(store, p, opts...)
}

// ToStore persists every entry not yet known to be stored, then the root
// object, and returns the root address. A failed put leaves l unchanged and
// may simply be retried.
func (l *List) ToStore(ctx context.Context) (gocid.Cid, error) {
	if l.store == nil {
		return gocid.Undef, fmt.Errorf("list %s: no content store", l.id)
	}
	for _, e := range l.Items() {
		if l.stored[e.address] {
			continue
		}
		data, err := Encode(e)
		if err != nil {
			return gocid.Undef, err
		}
		c, err := l.put(ctx, data, e.address)
		if err != nil {
			return gocid.Undef, err
		}
		if !c.Equals(e.address) {
			return gocid.Undef, &StoreError{Op: "put", Addr: e.address, Err: fmt.Errorf("store returned address %s", c)}
		}
		l.stored[c] = true
	}

	root, err := l.ToJSON()
	if err != nil {
		return gocid.Undef, err
	}
	want, err := dag.AddressOf(root)
	if err != nil {
		return gocid.Undef, err
	}
	return l.put(ctx, root, want)
}

// Address is the list's content address; it persists l as a side effect.
func (l *List) Address(ctx context.Context) (gocid.Cid, error) {
	return l.ToStore(ctx)
}

func (l *List) put(ctx context.Context, data []byte, want gocid.Cid) (gocid.Cid, error) {
	var err error
	for attempt := 0; attempt < l.putAttempts; attempt++ {
		var c gocid.Cid
		c, err = l.store.Put(ctx, data)
		if err == nil {
			return c, nil
		}
		if ctx.Err() != nil || errors.Is(err, ErrNotFound) {
			break
		}
	}
	return gocid.Undef, storeErr("put", want, err)
}

// FromStore fetches the root at c and every item it lists, and rebuilds the
// list. An item missing from store yields ErrNotFound; an item whose stored
// bytes differ from what the root describes yields ErrInvariant.
func FromStore(ctx context.Context, store dag.ContentStore, c gocid.Cid, opts ...Option) (*List, error) {
	data, err := store.Get(ctx, c)
	if err != nil {
		return nil, storeErr("get", c, err)
	}
	l, err := FromJSON(store, data, opts...)
	if err != nil {
		return nil, fmt.Errorf("root %s: %w", c, err)
	}

	for _, e := range l.Items() {
		got, err := store.Get(ctx, e.address)
		if err != nil {
			return nil, storeErr("get", e.address, err)
		}
		want, err := Encode(e)
		if err != nil {
			return nil, err
		}
		if string(got) != string(want) {
			return nil, invariantf("stored item %s does not match root %s", e.ref, c)
		}
		l.stored[e.address] = true
	}
	return l, nil
}

// String renders a header line followed by one JSON line per item.
func (l *List) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "id: %s, seq: %d, ver: %d, items:", l.id, l.epoch, l.version)
	for _, e := range l.Items() {
		data, err := Encode(e)
		if err != nil {
			data = []byte(e.ref)
		}
		b.WriteByte('\n')
		b.Write(data)
	}
	return b.String()
}
