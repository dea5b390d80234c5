package dag

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Repository is the top-level facade for the on-disk `.mx/` layout.
type Repository struct {
	root        string
	Objects     *ObjectStore
	Store       ContentStore // Objects unless replaced via OpenRepositoryWithStore
	Refs        *RefStore
	Checkpoints *CheckpointLog
	Pulls       *PullIndex
}

// OpenRepository opens or creates a repository at the given path, storing
// blocks in its local object directory.
func OpenRepository(root string) (*Repository, error) {
	return OpenRepositoryWithStore(root, nil)
}

// OpenRepositoryWithStore opens a repository whose blocks live in store.
// A nil store selects the local object directory.
func OpenRepositoryWithStore(root string, store ContentStore) (*Repository, error) {
	mxDir := filepath.Join(root, ".mx")

	for _, dir := range []string{
		mxDir,
		filepath.Join(mxDir, "objects"),
		filepath.Join(mxDir, "refs"),
	} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create dir %s: %w", dir, err)
		}
	}

	metaPath := filepath.Join(mxDir, "meta.json")
	if _, err := os.Stat(metaPath); os.IsNotExist(err) {
		meta := map[string]interface{}{
			"version": 1,
			"created": time.Now().UTC().Format(time.RFC3339),
		}
		data, _ := json.MarshalIndent(meta, "", "  ")
		if err := SafeWrite(metaPath, data, 0644); err != nil {
			return nil, fmt.Errorf("write meta: %w", err)
		}
	}

	objects, err := NewObjectStore(filepath.Join(mxDir, "objects"))
	if err != nil {
		return nil, err
	}
	if store == nil {
		store = objects
	}

	refs, err := NewRefStore(filepath.Join(mxDir, "refs"))
	if err != nil {
		return nil, err
	}

	pulls, err := NewPullIndex(filepath.Join(mxDir, "pulls.jsonl"))
	if err != nil {
		return nil, err
	}

	return &Repository{
		root:        root,
		Objects:     objects,
		Store:       store,
		Refs:        refs,
		Checkpoints: NewCheckpointLog(store, refs),
		Pulls:       pulls,
	}, nil
}

// MxDir returns the path to the .mx/ data directory.
func (r *Repository) MxDir() string {
	return filepath.Join(r.root, ".mx")
}
