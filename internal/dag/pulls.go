package dag

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"
)

// PullRecord is a single line in the pull journal: writer joined the log
// root that peer advertised.
type PullRecord struct {
	Writer string    `json:"writer"`
	Peer   string    `json:"peer"`
	Root   string    `json:"root"`
	At     time.Time `json:"at"`
}

// PullIndex maintains an append-only JSONL journal of joined remote roots
// and an in-memory map of the newest root per (writer, peer).
type PullIndex struct {
	mu     sync.RWMutex
	path   string
	latest map[string]PullRecord // writer|peer -> newest record
}

// NewPullIndex creates a PullIndex, loading existing records from the journal file.
func NewPullIndex(path string) (*PullIndex, error) {
	idx := &PullIndex{
		path:   path,
		latest: make(map[string]PullRecord),
	}
	if err := idx.load(); err != nil {
		return nil, err
	}
	return idx, nil
}

func pullKey(writer, peer string) string { return writer + "|" + peer }

func (idx *PullIndex) load() error {
	f, err := os.Open(idx.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("open pull journal: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var rec PullRecord
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			continue // torn final line after a crash
		}
		idx.latest[pullKey(rec.Writer, rec.Peer)] = rec
	}
	return scanner.Err()
}

// Add journals rec unless it repeats the newest root for its writer and peer.
func (idx *PullIndex) Add(rec PullRecord) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	key := pullKey(rec.Writer, rec.Peer)
	if prev, ok := idx.latest[key]; ok && prev.Root == rec.Root {
		return nil
	}
	if rec.At.IsZero() {
		rec.At = time.Now().UTC()
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode pull record: %w", err)
	}
	if err := SafeAppend(idx.path, append(data, '\n')); err != nil {
		return fmt.Errorf("write pull record: %w", err)
	}
	idx.latest[key] = rec
	return nil
}

// LastRoot returns the newest root writer joined from peer, or "" if none.
func (idx *PullIndex) LastRoot(writer, peer string) string {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.latest[pullKey(writer, peer)].Root
}

// Records returns the newest record per peer for writer, sorted by peer.
func (idx *PullIndex) Records(writer string) []PullRecord {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	var out []PullRecord
	for _, rec := range idx.latest {
		if rec.Writer == writer {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Peer < out[j].Peer })
	return out
}
