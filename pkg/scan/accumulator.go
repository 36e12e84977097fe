package scan

import (
	"strconv"

	"github.com/Tributary-ai-services/fsmatcher/pkg/expr"
	"github.com/Tributary-ai-services/fsmatcher/pkg/rules"
)

// Accumulator converts repeated weak dictionary hits within one finding into
// a single bucket signal. An Accumulator is used for one finding only.
//
// The first contribution to a bucket only seeds its total; the threshold is
// checked from the second contribution on, so a single item whose value
// already meets the threshold does not fire the bucket.
type Accumulator struct {
	dict   map[int32]rules.DictionaryEntry
	totals map[string]int32
	fired  map[string]struct{}
}

// NewAccumulator returns an accumulator over dict.
func NewAccumulator(dict map[int32]rules.DictionaryEntry) *Accumulator {
	return &Accumulator{
		dict:   dict,
		totals: map[string]int32{},
		fired:  map[string]struct{}{},
	}
}

// Add processes one item, binding variables into ctx. The bucket key
// location+target_id is bound to 1 once its total reaches the threshold,
// and location+id is always bound to the item's length.
func (a *Accumulator) Add(ctx *expr.Context, it Item) {
	if entry, ok := a.dict[it.ID]; ok {
		key := it.Location + strconv.Itoa(int(entry.TargetID))
		if _, done := a.fired[key]; !done {
			if cur, seen := a.totals[key]; seen {
				total := cur + entry.Value
				if total >= entry.TargetThreshold {
					a.fired[key] = struct{}{}
					ctx.SetValue(key, int64(1))
				} else {
					a.totals[key] = total
				}
			} else {
				a.totals[key] = entry.Value
			}
		}
	}

	ctx.SetValue(it.Location+strconv.Itoa(int(it.ID)), int64(it.Length))
}
