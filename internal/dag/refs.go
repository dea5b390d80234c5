package dag

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	gocid "github.com/ipfs/go-cid"
	"github.com/multiformats/go-multibase"
)

// RefStore maps writer ids to the CID of their latest checkpoint.
// Each ref is a file in the refs/ directory whose content is the CID string.
// Filenames use URL-safe encoding: colons become double underscores.
type RefStore struct {
	dir string
}

// NewRefStore creates a RefStore at the given directory.
func NewRefStore(dir string) (*RefStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create refs dir: %w", err)
	}
	return &RefStore{dir: dir}, nil
}

func refFilename(id string) string {
	return strings.ReplaceAll(id, ":", "__")
}

func refIDFromFilename(name string) string {
	return strings.ReplaceAll(name, "__", ":")
}

// Set points a ref at c.
func (r *RefStore) Set(id string, c gocid.Cid) error {
	if id == "" || strings.ContainsAny(id, `/\`) {
		return fmt.Errorf("invalid ref name %q", id)
	}
	encoded, err := multibase.Encode(multibase.Base32, c.Bytes())
	if err != nil {
		return fmt.Errorf("encode ref CID: %w", err)
	}
	return SafeWrite(filepath.Join(r.dir, refFilename(id)), []byte(encoded+"\n"), 0644)
}

// Get resolves a ref to a CID. Unknown refs yield ErrNotFound.
func (r *RefStore) Get(id string) (gocid.Cid, error) {
	data, err := os.ReadFile(filepath.Join(r.dir, refFilename(id)))
	if os.IsNotExist(err) {
		return gocid.Undef, fmt.Errorf("%w: ref %s", ErrNotFound, id)
	}
	if err != nil {
		return gocid.Undef, fmt.Errorf("read ref %s: %w", id, err)
	}
	_, cidBytes, err := multibase.Decode(strings.TrimSpace(string(data)))
	if err != nil {
		return gocid.Undef, fmt.Errorf("decode ref CID: %w", err)
	}
	return gocid.Cast(cidBytes)
}

// Has checks if a ref exists.
func (r *RefStore) Has(id string) bool {
	_, err := os.Stat(filepath.Join(r.dir, refFilename(id)))
	return err == nil
}

// List returns all ref names.
func (r *RefStore) List() ([]string, error) {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		return nil, fmt.Errorf("list refs: %w", err)
	}
	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".tmp-") {
			continue
		}
		ids = append(ids, refIDFromFilename(e.Name()))
	}
	return ids, nil
}
