package replica

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	gocid "github.com/ipfs/go-cid"

	"github.com/systemshift/memex-log/internal/dag"
)

// Peer is a remote node: its content store plus the newest saved root of
// each writer it holds. *blocksgrpc.Client satisfies this interface.
type Peer interface {
	dag.ContentStore
	Head(ctx context.Context, writer string) (gocid.Cid, error)
}

// Syncer periodically pulls each peer's own log into a local writer's log.
type Syncer struct {
	replica  *Replica
	writer   string
	peers    map[string]Peer // keyed by the peer's writer id
	interval time.Duration
	timeout  time.Duration
	logger   *slog.Logger

	cancel context.CancelFunc
	doneCh chan struct{}
}

// NewSyncer creates a syncer that joins every peer's log into writer's log
// once per interval.
func NewSyncer(r *Replica, writer string, peers map[string]Peer, interval time.Duration, logger *slog.Logger) *Syncer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Syncer{
		replica:  r,
		writer:   writer,
		peers:    peers,
		interval: interval,
		timeout:  interval,
		logger:   logger,
	}
}

// Start launches the background polling goroutine. It stops when ctx is
// canceled or Stop is called.
func (s *Syncer) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.doneCh = make(chan struct{})
	go func() {
		defer close(s.doneCh)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				roundCtx, cancel := context.WithTimeout(ctx, s.timeout)
				joined, err := s.SyncOnce(roundCtx)
				cancel()
				if err != nil {
					s.logger.Warn("sync round failed", "writer", s.writer, "error", err)
				} else if joined > 0 {
					s.logger.Info("sync round joined peers", "writer", s.writer, "joined", joined)
				}
			}
		}
	}()
}

// Stop signals the syncer to stop and waits for it to finish.
func (s *Syncer) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.doneCh
}

// SyncOnce pulls every peer once, in peer id order, and returns how many
// peers contributed a new root. A failing peer does not stop the round;
// all failures are returned together.
func (s *Syncer) SyncOnce(ctx context.Context) (int, error) {
	ids := make([]string, 0, len(s.peers))
	for id := range s.peers {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	joined := 0
	var errs []error
	for _, id := range ids {
		ok, err := s.pull(ctx, id, s.peers[id])
		if err != nil {
			errs = append(errs, fmt.Errorf("peer %s: %w", id, err))
			continue
		}
		if ok {
			joined++
		}
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}
	}
	return joined, errors.Join(errs...)
}

func (s *Syncer) pull(ctx context.Context, id string, peer Peer) (bool, error) {
	metrics := s.replica.metrics
	root, err := peer.Head(ctx, id)
	if errors.Is(err, dag.ErrNotFound) {
		metrics.IncPull(id, "not_found")
		s.logger.Debug("peer has no saved log yet", "peer", id)
		return false, nil
	}
	if err != nil {
		metrics.IncPull(id, "error")
		return false, err
	}

	joined, err := s.replica.Pull(ctx, s.writer, id, peer, root)
	switch {
	case err != nil:
		metrics.IncPull(id, "error")
		return joined, err
	case joined:
		metrics.IncPull(id, "joined")
		s.logger.Debug("joined peer log", "peer", id, "root", root.String())
	default:
		metrics.IncPull(id, "unchanged")
	}
	return joined, nil
}
