// Package transcript merges self-correcting recognition fragments into one stable text.
package transcript

import (
	"sort"
	"strings"
)

// Fragment is one unit of recognition output placed at its global position.
type Fragment struct {
	GlobalIndex int
	Text        string
	Confirmed   bool
}

// Reconciler tracks the fragments of a single recording turn.
//
// The recognizer numbers fragments locally and restarts that numbering at 0
// after it evicts confirmed sentences from its buffer. Every final fragment
// reported at local index 0 therefore advances the offset, so that
//
//	globalIndex = offset + localIndex
//
// keeps distinct sentences in distinct slots.
//
// Not safe for concurrent use; the owning session serializes all calls.
type Reconciler struct {
	offset      int
	confirmed   map[int]string
	unconfirmed map[int]string
	order       []int // insertion order of unconfirmed keys
}

// New creates an empty reconciler.
func New() *Reconciler {
	r := &Reconciler{}
	r.Reset()
	return r
}

// Observe applies one fragment update received from the recognizer.
func (r *Reconciler) Observe(localIndex int, text string, isFinal bool) {
	global := r.offset + localIndex

	if !isFinal {
		if _, ok := r.unconfirmed[global]; !ok {
			r.order = append(r.order, global)
		}
		r.unconfirmed[global] = text
		return
	}

	r.confirmed[global] = text
	r.removeUnconfirmed(global)
	if localIndex == 0 {
		r.offset++
	}
}

// Text returns the current transcript snapshot: confirmed fragments by
// global index followed by unconfirmed fragments in insertion order.
func (r *Reconciler) Text() string {
	var b strings.Builder
	for _, idx := range r.confirmedIndexes() {
		b.WriteString(r.confirmed[idx])
	}
	for _, idx := range r.order {
		b.WriteString(r.unconfirmed[idx])
	}
	return b.String()
}

// Finalize promotes every non-blank unconfirmed fragment to confirmed and
// returns the resulting snapshot. Slots that were already confirmed keep
// their confirmed text.
func (r *Reconciler) Finalize() string {
	for _, idx := range r.order {
		text := r.unconfirmed[idx]
		if strings.TrimSpace(text) == "" {
			continue
		}
		if _, ok := r.confirmed[idx]; !ok {
			r.confirmed[idx] = text
		}
	}
	r.unconfirmed = make(map[int]string)
	r.order = r.order[:0]
	return r.Text()
}

// Reset clears all fragments and sets the offset back to 0.
func (r *Reconciler) Reset() {
	r.offset = 0
	r.confirmed = make(map[int]string)
	r.unconfirmed = make(map[int]string)
	r.order = nil
}

// Offset returns the current index offset.
func (r *Reconciler) Offset() int {
	return r.offset
}

// Fragments returns a copy of all fragments, confirmed first.
func (r *Reconciler) Fragments() []Fragment {
	out := make([]Fragment, 0, len(r.confirmed)+len(r.order))
	for _, idx := range r.confirmedIndexes() {
		out = append(out, Fragment{GlobalIndex: idx, Text: r.confirmed[idx], Confirmed: true})
	}
	for _, idx := range r.order {
		out = append(out, Fragment{GlobalIndex: idx, Text: r.unconfirmed[idx]})
	}
	return out
}

func (r *Reconciler) confirmedIndexes() []int {
	idx := make([]int, 0, len(r.confirmed))
	for k := range r.confirmed {
		idx = append(idx, k)
	}
	sort.Ints(idx)
	return idx
}

func (r *Reconciler) removeUnconfirmed(global int) {
	if _, ok := r.unconfirmed[global]; !ok {
		return
	}
	delete(r.unconfirmed, global)
	for i, idx := range r.order {
		if idx == global {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}
