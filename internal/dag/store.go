package dag

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	gocid "github.com/ipfs/go-cid"
	"github.com/multiformats/go-multibase"
	"github.com/multiformats/go-multihash"
)

// ErrNotFound is returned when an address is absent from a store.
var ErrNotFound = errors.New("dag: object not found")

// ContentStore is a content-addressed put/get service. Put wraps data in a
// dag-pb node and returns the node's address; identical data always yields
// the identical address. Get returns the data of a previously stored node
// and fails with ErrNotFound when the address is unknown.
type ContentStore interface {
	Put(ctx context.Context, data []byte) (gocid.Cid, error)
	Get(ctx context.Context, c gocid.Cid) ([]byte, error)
}

// ComputeCID computes a CIDv0 (dag-pb, SHA2-256) for an encoded dag-pb block.
func ComputeCID(block []byte) (gocid.Cid, error) {
	mh, err := multihash.Sum(block, multihash.SHA2_256, -1)
	if err != nil {
		return gocid.Undef, fmt.Errorf("multihash: %w", err)
	}
	return gocid.NewCidV0(mh), nil
}

// AddressOf returns the address data would be stored under, without I/O.
func AddressOf(data []byte) (gocid.Cid, error) {
	return ComputeCID(EncodeNode(data))
}

// ParseCID decodes the textual form of an address ("Qm..." or multibase CIDv1).
func ParseCID(s string) (gocid.Cid, error) {
	c, err := gocid.Decode(s)
	if err != nil {
		return gocid.Undef, fmt.Errorf("decode cid %q: %w", s, err)
	}
	return c, nil
}

// CIDToFilename returns the base32lower encoding of a CID for use as a filename.
func CIDToFilename(c gocid.Cid) string {
	encoded, _ := multibase.Encode(multibase.Base32, c.Bytes())
	return encoded
}

// ObjectStore keeps dag-pb blocks as files named by their CID.
type ObjectStore struct {
	dir string // path to objects/ directory
}

// NewObjectStore creates an ObjectStore at the given directory.
func NewObjectStore(dir string) (*ObjectStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create objects dir: %w", err)
	}
	return &ObjectStore{dir: dir}, nil
}

func (s *ObjectStore) path(c gocid.Cid) string {
	return filepath.Join(s.dir, CIDToFilename(c))
}

// Put stores data as a dag-pb block, returning its CID.
// If the block already exists, this is a no-op.
func (s *ObjectStore) Put(ctx context.Context, data []byte) (gocid.Cid, error) {
	if err := ctx.Err(); err != nil {
		return gocid.Undef, err
	}
	block := EncodeNode(data)
	c, err := ComputeCID(block)
	if err != nil {
		return gocid.Undef, err
	}
	if s.Has(c) {
		return c, nil
	}
	if err := SafeWrite(s.path(c), block, 0644); err != nil {
		return gocid.Undef, fmt.Errorf("write object: %w", err)
	}
	return c, nil
}

// Get reads a block by CID and returns its data.
func (s *ObjectStore) Get(ctx context.Context, c gocid.Cid) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	block, err := os.ReadFile(s.path(c))
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, c)
	}
	if err != nil {
		return nil, fmt.Errorf("read object %s: %w", c, err)
	}
	got, err := ComputeCID(block)
	if err != nil {
		return nil, err
	}
	if !got.Equals(c) {
		return nil, fmt.Errorf("object %s is corrupt (hashes to %s)", c, got)
	}
	return DecodeNode(block)
}

// Has checks if an object exists.
func (s *ObjectStore) Has(c gocid.Cid) bool {
	_, err := os.Stat(s.path(c))
	return err == nil
}

// MemoryStore is an in-process ContentStore, safe for concurrent use.
type MemoryStore struct {
	mu     sync.RWMutex
	blocks map[string][]byte
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{blocks: make(map[string][]byte)}
}

// Put stores data and returns its CID.
func (s *MemoryStore) Put(ctx context.Context, data []byte) (gocid.Cid, error) {
	if err := ctx.Err(); err != nil {
		return gocid.Undef, err
	}
	block := EncodeNode(data)
	c, err := ComputeCID(block)
	if err != nil {
		return gocid.Undef, err
	}
	s.mu.Lock()
	s.blocks[c.KeyString()] = block
	s.mu.Unlock()
	return c, nil
}

// Get returns the data stored under c.
func (s *MemoryStore) Get(ctx context.Context, c gocid.Cid) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	block, ok := s.blocks[c.KeyString()]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, c)
	}
	return DecodeNode(block)
}

// Len reports the number of stored blocks.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.blocks)
}
