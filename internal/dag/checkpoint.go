package dag

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	gocid "github.com/ipfs/go-cid"
)

// Checkpoint records one saved root of a writer's log. Checkpoints form a
// parent chain per writer; the newest is referenced from the RefStore.
type Checkpoint struct {
	V         int       `json:"v"`
	Parent    string    `json:"parent,omitempty"` // CID of previous checkpoint
	Writer    string    `json:"writer"`
	Root      string    `json:"root"` // CID of the log root
	Seq       uint64    `json:"seq"`
	Ver       uint64    `json:"ver"`
	Items     int       `json:"items"`
	Timestamp time.Time `json:"timestamp"`
	Message   string    `json:"message,omitempty"`
}

// RootCID parses the checkpoint's root address.
func (cp *Checkpoint) RootCID() (gocid.Cid, error) {
	return ParseCID(cp.Root)
}

// CheckpointLog manages per-writer checkpoint chains.
type CheckpointLog struct {
	store ContentStore
	refs  *RefStore
	now   func() time.Time
}

// NewCheckpointLog creates a CheckpointLog storing objects in store and
// heads in refs.
func NewCheckpointLog(store ContentStore, refs *RefStore) *CheckpointLog {
	return &CheckpointLog{store: store, refs: refs, now: time.Now}
}

// Head returns the CID of the writer's newest checkpoint, or gocid.Undef if none.
func (cl *CheckpointLog) Head(writer string) (gocid.Cid, error) {
	c, err := cl.refs.Get(writer)
	if errors.Is(err, ErrNotFound) {
		return gocid.Undef, nil
	}
	return c, err
}

// Record appends cp to the writer's chain and moves the head to it.
func (cl *CheckpointLog) Record(ctx context.Context, cp Checkpoint) (gocid.Cid, error) {
	head, err := cl.Head(cp.Writer)
	if err != nil {
		return gocid.Undef, err
	}
	cp.V = 1
	cp.Parent = ""
	if head.Defined() {
		cp.Parent = head.String()
	}
	if cp.Timestamp.IsZero() {
		cp.Timestamp = cl.now().UTC()
	}

	data, err := CanonicalJSON(&cp)
	if err != nil {
		return gocid.Undef, fmt.Errorf("serialize checkpoint: %w", err)
	}
	c, err := cl.store.Put(ctx, data)
	if err != nil {
		return gocid.Undef, fmt.Errorf("store checkpoint: %w", err)
	}
	if err := cl.refs.Set(cp.Writer, c); err != nil {
		return gocid.Undef, fmt.Errorf("update ref: %w", err)
	}
	return c, nil
}

// Get reads and unmarshals a checkpoint by CID.
func (cl *CheckpointLog) Get(ctx context.Context, c gocid.Cid) (*Checkpoint, error) {
	data, err := cl.store.Get(ctx, c)
	if err != nil {
		return nil, err
	}
	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, fmt.Errorf("unmarshal checkpoint: %w", err)
	}
	return &cp, nil
}

// Latest returns the writer's newest checkpoint, or nil if none exists.
func (cl *CheckpointLog) Latest(ctx context.Context, writer string) (*Checkpoint, error) {
	head, err := cl.Head(writer)
	if err != nil || !head.Defined() {
		return nil, err
	}
	return cl.Get(ctx, head)
}

// Log walks the writer's chain from its head, returning up to n
// checkpoints (newest first).
func (cl *CheckpointLog) Log(ctx context.Context, writer string, n int) ([]Checkpoint, error) {
	current, err := cl.Head(writer)
	if err != nil {
		return nil, err
	}

	var out []Checkpoint
	for i := 0; i < n && current.Defined(); i++ {
		cp, err := cl.Get(ctx, current)
		if err != nil {
			return out, err
		}
		out = append(out, *cp)
		if cp.Parent == "" {
			break
		}
		if current, err = ParseCID(cp.Parent); err != nil {
			return out, err
		}
	}
	return out, nil
}
