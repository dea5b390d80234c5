package list

import (
	"errors"
	"fmt"

	gocid "github.com/ipfs/go-cid"

	"github.com/systemshift/memex-log/internal/dag"
)

var (
	// ErrEncoding reports a payload or entry that cannot be canonically serialized.
	ErrEncoding = errors.New("list: encoding error")

	// ErrNotFound reports an address that the content store does not hold.
	ErrNotFound = dag.ErrNotFound

	// ErrInvariant reports a corrupted or incompletely fetched log, such as
	// a predecessor reference that does not resolve within the entry set.
	ErrInvariant = errors.New("list: invariant violation")
)

// StoreError wraps a content store failure other than not-found.
// Puts are always safe to retry; the content is addressed by its hash.
type StoreError struct {
	Op   string    // "put" or "get"
	Addr gocid.Cid // address involved, if known
	Err  error
}

func (e *StoreError) Error() string {
	if e.Addr.Defined() {
		return fmt.Sprintf("list: store %s %s: %v", e.Op, e.Addr, e.Err)
	}
	return fmt.Sprintf("list: store %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// storeErr classifies err from a store call: not-found passes through
// unchanged, everything else becomes a *StoreError.
func storeErr(op string, addr gocid.Cid, err error) error {
	if err == nil || errors.Is(err, ErrNotFound) {
		return err
	}
	return &StoreError{Op: op, Addr: addr, Err: err}
}

func invariantf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvariant, fmt.Sprintf(format, args...))
}
