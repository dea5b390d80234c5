package list

// chainIndex maps refs to positions in an entry slice so predecessor edges
// can be walked without pointer chasing.
type chainIndex struct {
	entries []*Entry
	pos     map[CompactRef]int
}

func newChainIndex(entries []*Entry) *chainIndex {
	idx := &chainIndex{
		entries: entries,
		pos:     make(map[CompactRef]int, len(entries)),
	}
	for i, e := range entries {
		if _, dup := idx.pos[e.ref]; !dup {
			idx.pos[e.ref] = i
		}
	}
	return idx
}

// markAncestors sets reached[i] for every entry reachable by following
// predecessor edges from start (start itself excluded). Already-reached
// entries are not walked again, so repeated calls sharing reached are
// linear in the total number of edges.
func (idx *chainIndex) markAncestors(start int, reached []bool) error {
	stack := []int{start}
	for len(stack) > 0 {
		i := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, ref := range idx.entries[i].predecessors {
			j, ok := idx.pos[ref]
			if !ok {
				return invariantf("%s references unknown entry %s", idx.entries[i].ref, ref)
			}
			if reached[j] {
				continue
			}
			reached[j] = true
			stack = append(stack, j)
		}
	}
	return nil
}

// FindHeads returns the entries that no other entry in entries reaches
// through its predecessor chain, in their order of appearance. A
// predecessor that does not resolve within entries yields ErrInvariant.
func FindHeads(entries []*Entry) ([]*Entry, error) {
	if len(entries) == 0 {
		return nil, nil
	}
	idx := newChainIndex(entries)
	reached := make([]bool, len(entries))
	for i := range entries {
		if err := idx.markAncestors(i, reached); err != nil {
			return nil, err
		}
	}

	var heads []*Entry
	seen := make(map[CompactRef]bool, 1)
	for i, e := range entries {
		if reached[i] || seen[e.ref] {
			continue
		}
		seen[e.ref] = true
		heads = append(heads, e)
	}
	return heads, nil
}

// IsReferencedInChain reports whether any entry in entries lists
// candidate as a predecessor, directly or through other entries'
// predecessor chains.
func IsReferencedInChain(candidate *Entry, entries []*Entry) (bool, error) {
	idx := newChainIndex(entries)
	if _, ok := idx.pos[candidate.ref]; !ok {
		idx = newChainIndex(append(append([]*Entry{}, entries...), candidate))
	}
	reached := make([]bool, len(idx.entries))
	for i, e := range entries {
		if e.ref == candidate.ref {
			continue
		}
		if err := idx.markAncestors(i, reached); err != nil {
			return false, err
		}
		if j, ok := idx.pos[candidate.ref]; ok && reached[j] {
			return true, nil
		}
	}
	return false, nil
}

func refsOf(entries []*Entry) []CompactRef {
	refs := make([]CompactRef, len(entries))
	for i, e := range entries {
		refs[i] = e.ref
	}
	return refs
}
