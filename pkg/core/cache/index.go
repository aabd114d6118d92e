// Package cache holds the persistent transaction caches: the market-wide
// global cache and the per-entity caches, both deduplicated by accession
// number through a shared AccessionIndex.
package cache

import (
	"encoding/json"
	"sort"
)

// AccessionIndex is the set of filing accession numbers a cache has already
// consumed. It serializes as a sorted string slice so persisted state is
// byte-for-byte deterministic.
type AccessionIndex map[string]struct{}

// NewAccessionIndex builds an index from the given accession numbers.
func NewAccessionIndex(accessions ...string) AccessionIndex {
	idx := make(AccessionIndex, len(accessions))
	for _, a := range accessions {
		idx[a] = struct{}{}
	}
	return idx
}

// Contains reports whether an accession has been seen.
func (idx AccessionIndex) Contains(accession string) bool {
	_, ok := idx[accession]
	return ok
}

// Add records an accession. Adding twice is a no-op.
func (idx AccessionIndex) Add(accession string) {
	idx[accession] = struct{}{}
}

// Len returns the number of known accessions.
func (idx AccessionIndex) Len() int { return len(idx) }

// Clone returns an independent copy of the index.
func (idx AccessionIndex) Clone() AccessionIndex {
	out := make(AccessionIndex, len(idx))
	for a := range idx {
		out[a] = struct{}{}
	}
	return out
}

func (idx AccessionIndex) MarshalJSON() ([]byte, error) {
	accs := make([]string, 0, len(idx))
	for a := range idx {
		accs = append(accs, a)
	}
	sort.Strings(accs)
	return json.Marshal(accs)
}

func (idx *AccessionIndex) UnmarshalJSON(data []byte) error {
	var accs []string
	if err := json.Unmarshal(data, &accs); err != nil {
		return err
	}
	*idx = NewAccessionIndex(accs...)
	return nil
}
