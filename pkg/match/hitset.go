package match

import (
	"slices"

	"github.com/Tributary-ai-services/fsmatcher/pkg/types"
)

// HitSet is a set of matched rules keyed by (id, code, level).
type HitSet map[types.FileSecurity]struct{}

// Add inserts s.
func (h HitSet) Add(s types.FileSecurity) {
	h[s] = struct{}{}
}

// Merge inserts every entry of o.
func (h HitSet) Merge(o HitSet) {
	for s := range o {
		h[s] = struct{}{}
	}
}

// Sorted returns the entries ordered by id, code, then level.
func (h HitSet) Sorted() []types.FileSecurity {
	out := make([]types.FileSecurity, 0, len(h))
	for s := range h {
		out = append(out, s)
	}
	slices.SortFunc(out, types.FileSecurity.Compare)
	return out
}
