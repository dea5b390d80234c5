// Package replica keeps the logs of one node: each writer's list is loaded
// from its newest checkpoint, mutated under a lock, and saved back as a new
// root plus checkpoint. Remote logs are pulled from any dag.ContentStore and
// joined in.
package replica

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	gocid "github.com/ipfs/go-cid"

	"github.com/systemshift/memex-log/internal/dag"
	"github.com/systemshift/memex-log/internal/list"
)

// Metrics is the subset of *metrics.Prometheus used by the replica.
type Metrics interface {
	IncAppend(writer string)
	IncJoin(writer string)
	IncSave(writer, result string)
	SetLogState(writer string, items int, epoch uint64)
	IncPull(peer, result string)
}

type noopMetrics struct{}

func (noopMetrics) IncAppend(string) {}
func (noopMetrics) IncJoin(string) {}
func (noopMetrics) IncSave(string, string) {}
func (noopMetrics) SetLogState(string, int, uint64) {}
func (noopMetrics) IncPull(string, string) {}

// Option configures a Replica.
type Option func(*Replica)

// WithListOptions applies opts to every list the replica opens.
func WithListOptions(opts ...list.Option) Option {
	return func(r *Replica) { r.listOpts = append(r.listOpts, opts...) }
}

// WithMetrics records replica activity in m.
func WithMetrics(m Metrics) Option {
	return func(r *Replica) {
		if m != nil {
			r.metrics = m
		}
	}
}

// Replica serializes access to the lists stored in one repository.
type Replica struct {
	repo     *dag.Repository
	listOpts []list.Option
	metrics  Metrics

	mu    sync.Mutex
	lists map[string]*cachedList
}

// New creates a replica over repo. Blocks go to repo.Store.
func New(repo *dag.Repository, opts ...Option) *Replica {
	r := &Replica{
		repo:    repo,
		metrics: noopMetrics{},
		lists:   make(map[string]*cachedList),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Repository returns the underlying repository.
func (r *Replica) Repository() *dag.Repository { return r.repo }

// Put stores data in the replica's content store.
func (r *Replica) Put(ctx context.Context, data []byte) (gocid.Cid, error) {
	return r.repo.Store.Put(ctx, data)
}

// Get reads data from the replica's content store.
func (r *Replica) Get(ctx context.Context, c gocid.Cid) ([]byte, error) {
	return r.repo.Store.Get(ctx, c)
}

// Head returns the root of writer's newest checkpoint. Writers that never
// saved yield dag.ErrNotFound.
func (r *Replica) Head(ctx context.Context, writer string) (gocid.Cid, error) {
	cp, err := r.repo.Checkpoints.Latest(ctx, writer)
	if err != nil {
		return gocid.Undef, err
	}
	if cp == nil {
		return gocid.Undef, fmt.Errorf("%w: no saved log for %s", dag.ErrNotFound, writer)
	}
	return cp.RootCID()
}

// Writers lists every writer with a saved checkpoint.
func (r *Replica) Writers() ([]string, error) {
	ids, err := r.repo.Refs.List()
	if err != nil {
		return nil, err
	}
	sort.Strings(ids)
	return ids, nil
}

// History returns up to n checkpoints of writer, newest first.
func (r *Replica) History(ctx context.Context, writer string, n int) ([]dag.Checkpoint, error) {
	return r.repo.Checkpoints.Log(ctx, writer, n)
}

// View calls fn with writer's list while holding the replica lock. fn must
// not retain or modify l.
func (r *Replica) View(ctx context.Context, writer string, fn func(l *list.List) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, err := r.open(ctx, writer)
	if err != nil {
		return err
	}
	return fn(c.list)
}

// Append adds data to writer's list. The change is in memory until Save.
func (r *Replica) Append(ctx context.Context, writer string, data interface{}) (*list.Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, err := r.open(ctx, writer)
	if err != nil {
		return nil, err
	}
	e, err := c.list.Append(data)
	if err != nil {
		return nil, err
	}
	c.dirty = true
	r.metrics.IncAppend(writer)
	r.metrics.SetLogState(writer, c.list.Len(), c.list.Epoch())
	return e, nil
}

// Save persists writer's list and records a checkpoint for the new root.
// Saving an unchanged list returns the existing root without a new
// checkpoint. If another process saved the writer since the list was
// loaded, its checkpoint is joined with the unsaved entries first.
func (r *Replica) Save(ctx context.Context, writer, message string) (gocid.Cid, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	unlock, err := r.repo.Lock()
	if err != nil {
		return gocid.Undef, err
	}
	defer unlock()

	c, err := r.open(ctx, writer)
	if err != nil {
		return gocid.Undef, err
	}
	return r.save(ctx, c, message)
}

// save persists c.list and moves c to the new checkpoint. The caller holds
// r.mu and the repository lock.
func (r *Replica) save(ctx context.Context, c *cachedList, message string) (gocid.Cid, error) {
	l := c.list
	root, err := l.ToStore(ctx)
	if err != nil {
		r.metrics.IncSave(l.ID(), "error")
		return gocid.Undef, err
	}
	latest, err := r.repo.Checkpoints.Latest(ctx, l.ID())
	if err != nil {
		r.metrics.IncSave(l.ID(), "error")
		return gocid.Undef, err
	}
	if latest != nil && latest.Root == root.String() {
		c.dirty = false
		r.metrics.IncSave(l.ID(), "unchanged")
		return root, nil
	}

	cp, err := r.repo.Checkpoints.Record(ctx, dag.Checkpoint{
		Writer:  l.ID(),
		Root:    root.String(),
		Seq:     l.Epoch(),
		Ver:     l.Version(),
		Items:   l.Len(),
		Message: message,
	})
	if err != nil {
		r.metrics.IncSave(l.ID(), "error")
		return gocid.Undef, err
	}
	c.checkpoint = cp
	c.dirty = false
	r.metrics.IncSave(l.ID(), "ok")
	return root, nil
}

// Pull loads the log rooted at root from remote, copies its blocks into the
// local store, joins it into writer's list and saves the result. peer names
// the source in the pull journal; a root already joined from peer is
// skipped and Pull reports false. On error writer's list is left as it
// was, so a retry joins once.
func (r *Replica) Pull(ctx context.Context, writer, peer string, remote dag.ContentStore, root gocid.Cid) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	unlock, err := r.repo.Lock()
	if err != nil {
		return false, err
	}
	defer unlock()

	if r.repo.Pulls.LastRoot(writer, peer) == root.String() {
		return false, nil
	}
	c, err := r.open(ctx, writer)
	if err != nil {
		return false, err
	}

	fetched, err := list.FromStore(ctx, remote, root, r.listOpts...)
	if err != nil {
		return false, fmt.Errorf("fetch %s from %s: %w", root, peer, err)
	}
	local, err := list.FromPlain(r.repo.Store, fetched.ToPlain(), r.listOpts...)
	if err != nil {
		return false, err
	}
	if _, err := local.ToStore(ctx); err != nil {
		return false, fmt.Errorf("copy %s locally: %w", root, err)
	}

	next := &cachedList{list: c.list.Clone(), checkpoint: c.checkpoint, dirty: true}
	next.list.Join(fetched)
	if _, err := r.save(ctx, next, "join "+peer+" "+root.String()); err != nil {
		return false, err
	}
	r.lists[writer] = next
	r.metrics.IncJoin(writer)
	r.metrics.SetLogState(writer, next.list.Len(), next.list.Epoch())

	if err := r.repo.Pulls.Add(dag.PullRecord{Writer: writer, Peer: peer, Root: root.String()}); err != nil {
		return true, err
	}
	return true, nil
}

// cachedList is a writer's list together with the checkpoint it was loaded
// from or last saved as.
type cachedList struct {
	list       *list.List
	checkpoint gocid.Cid
	dirty      bool // holds entries not yet saved
}

// open returns writer's list, reloading it when another process moved the
// writer's checkpoint since it was cached. Unsaved entries of a stale list
// are joined into the reloaded one. The caller holds r.mu.
func (r *Replica) open(ctx context.Context, writer string) (*cachedList, error) {
	if writer == "" {
		return nil, errors.New("replica: writer id is required")
	}
	head, err := r.repo.Checkpoints.Head(writer)
	if err != nil {
		return nil, err
	}
	cached, ok := r.lists[writer]
	if ok && cached.checkpoint.Equals(head) {
		return cached, nil
	}

	l, err := r.load(ctx, writer, head)
	if err != nil {
		return nil, err
	}
	c := &cachedList{list: l, checkpoint: head}
	if ok && cached.dirty {
		l.Join(cached.list)
		c.dirty = true
	}
	r.lists[writer] = c
	r.metrics.SetLogState(writer, l.Len(), l.Epoch())
	return c, nil
}

// load reads writer's list from the checkpoint head, or returns an empty
// list when head is undefined.
func (r *Replica) load(ctx context.Context, writer string, head gocid.Cid) (*list.List, error) {
	if !head.Defined() {
		return list.New(writer, r.repo.Store, r.listOpts...), nil
	}
	cp, err := r.repo.Checkpoints.Get(ctx, head)
	if err != nil {
		return nil, err
	}
	root, err := cp.RootCID()
	if err != nil {
		return nil, err
	}
	l, err := list.FromStore(ctx, r.repo.Store, root, r.listOpts...)
	if err != nil {
		return nil, fmt.Errorf("load %s at %s: %w", writer, root, err)
	}
	if l.ID() != writer {
		return nil, fmt.Errorf("%w: checkpoint of %s points at the log of %s", list.ErrInvariant, writer, l.ID())
	}
	return l, nil
}
