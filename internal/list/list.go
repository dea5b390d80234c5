// Package list implements a per-writer, content-addressed, append-only log
// that can be joined with the logs of other writers without coordination.
//
// Entries reference the heads of the log at the time they were appended,
// forming a Merkle DAG. Each entry's address is the CIDv0 of its canonical
// JSON wrapped in a dag-pb node, so addresses are computed offline and
// match what IPFS reports for the same object.
//
// A List is not safe for concurrent mutation; callers serialize Append and
// Join on one instance.
package list

import (
	gocid "github.com/ipfs/go-cid"

	"github.com/systemshift/memex-log/internal/dag"
)

// DefaultBatchSize is the number of appends that seal an epoch.
const DefaultBatchSize = 200

// Option configures a List.
type Option func(*List)

// WithBatchSize sets the number of pending entries that triggers a commit.
// Values below 1 are ignored.
func WithBatchSize(n int) Option {
	return func(l *List) {
		if n > 0 {
			l.batchSize = n
		}
	}
}

// WithPutAttempts sets how many times a failing store put is tried before
// ToStore gives up. Values below 1 are ignored.
func WithPutAttempts(n int) Option {
	return func(l *List) {
		if n > 0 {
			l.putAttempts = n
		}
	}
}

// List is one writer's view of the joined log.
type List struct {
	id      string
	store   dag.ContentStore
	epoch   uint64
	version uint64

	committed []*Entry // sealed epochs, own and joined
	pending   []*Entry // current epoch, not yet sealed

	heads      []*Entry // cached; nil with headsValid=false after a join
	headsValid bool

	batchSize   int
	putAttempts int
	stored      map[gocid.Cid]bool // addresses known to be in store
}

// New creates an empty list for writer id backed by store.
func New(id string, store dag.ContentStore, opts ...Option) *List {
	l := &List{
		id:          id,
		store:       store,
		batchSize:   DefaultBatchSize,
		putAttempts: 1,
		headsValid:  true,
		stored:      make(map[gocid.Cid]bool),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// ID returns the writer id.
func (l *List) ID() string { return l.id }

// Epoch returns the sequence counter ("seq").
func (l *List) Epoch() uint64 { return l.epoch }

// Version returns the in-epoch counter ("ver").
func (l *List) Version() uint64 { return l.version }

// BatchSize returns the commit threshold.
func (l *List) BatchSize() int { return l.batchSize }

// Store returns the content store the list persists to.
func (l *List) Store() dag.ContentStore { return l.store }

// Len returns the number of items.
func (l *List) Len() int { return len(l.committed) + len(l.pending) }

// Items returns committed entries followed by pending ones. The slice is a
// copy; the entries are shared and immutable.
func (l *List) Items() []*Entry {
	items := make([]*Entry, 0, l.Len())
	items = append(items, l.committed...)
	return append(items, l.pending...)
}

// Clone returns an independent copy of l sharing its immutable entries.
// Mutating the copy leaves l untouched.
func (l *List) Clone() *List {
	c := *l
	c.committed = append([]*Entry(nil), l.committed...)
	c.pending = append([]*Entry(nil), l.pending...)
	c.heads = append([]*Entry(nil), l.heads...)
	c.stored = make(map[gocid.Cid]bool, len(l.stored))
	for k, v := range l.stored {
		c.stored[k] = v
	}
	return &c
}

// Committed returns a copy of the sealed entries.
func (l *List) Committed() []*Entry { return append([]*Entry{}, l.committed...) }

// Pending returns a copy of the current batch.
func (l *List) Pending() []*Entry { return append([]*Entry{}, l.pending...) }

// Heads returns the current DAG tips.
func (l *List) Heads() ([]*Entry, error) {
	if !l.headsValid {
		heads, err := FindHeads(l.Items())
		if err != nil {
			return nil, err
		}
		l.heads = heads
		l.headsValid = true
	}
	return append([]*Entry{}, l.heads...), nil
}

// Append adds payload as a new entry whose predecessors are the current
// heads, and seals the batch once it reaches the batch size. data is
// converted with NewPayload.
func (l *List) Append(data interface{}) (*Entry, error) {
	payload, err := NewPayload(data)
	if err != nil {
		return nil, err
	}
	heads, err := l.Heads()
	if err != nil {
		return nil, err
	}
	e, err := NewEntry(l.id, l.epoch, l.version, payload, refsOf(heads))
	if err != nil {
		return nil, err
	}

	l.pending = append(l.pending, e)
	l.version++
	l.heads = []*Entry{e}
	l.headsValid = true

	if len(l.pending) >= l.batchSize {
		l.commit()
	}
	return e, nil
}

// commit seals the pending batch and opens the next epoch.
func (l *List) commit() {
	l.committed = append(l.committed, l.pending...)
	l.pending = nil
	l.epoch++
	l.version = 0
}

// Join merges other's entries into l. The merged items are l's items
// followed by other's items that l does not already hold, in other's
// order; the result is sealed as one unit. The epoch becomes
// max(l.epoch, other.epoch)+1 even when nothing new arrived.
func (l *List) Join(other *List) {
	mine := l.Items()
	var theirs []*Entry
	otherEpoch := l.epoch
	if other != nil {
		theirs = other.Items()
		otherEpoch = other.epoch
	}

	seen := make(map[CompactRef]bool, len(mine)+len(theirs))
	merged := make([]*Entry, 0, len(mine)+len(theirs))
	for _, set := range [][]*Entry{mine, theirs} {
		for _, e := range set {
			if seen[e.ref] {
				continue
			}
			seen[e.ref] = true
			merged = append(merged, e)
		}
	}

	l.committed = merged
	l.pending = nil
	l.epoch = max(l.epoch, otherEpoch) + 1
	l.version = 0
	l.heads = nil
	l.headsValid = false
}
