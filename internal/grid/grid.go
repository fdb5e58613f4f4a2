package grid

import (
	"fmt"

	"github.com/your-org/gnb-scheduler/internal/ran"
)

// slotAllocator is one ring slot's mutable state: the DL/UL used-PRB
// bitmaps and the assembled PDU lists for that slot.
type slotAllocator struct {
	slotTx                ran.SlotPoint
	initialised           bool
	dlUsedPRBs            ran.PRBBitmap
	ulUsedPRBs            ran.PRBBitmap
	interleavedDisabledDL bool
	interleavedDisabledUL bool
	result                SchedResult
}

// Ring is the per-cell ring of slot allocators. The ring size must exceed
// the largest PDSCH->HARQ-ACK (k1) plus PUSCH (k2) plus cell offset
// (ntn_cs_koffset) so that no allocation ever targets a slot that has
// already fallen off the back of the ring.
type Ring struct {
	nofPRB  uint32
	size    uint32
	slots   []slotAllocator
	head    ran.SlotPoint
	headSet bool
}

// NewRing allocates a ring of the given size for a cell with nofPRB
// resource blocks.
func NewRing(size, nofPRB uint32) *Ring {
	if size == 0 {
		panic("grid: ring size must be > 0")
	}
	r := &Ring{nofPRB: nofPRB, size: size, slots: make([]slotAllocator, size)}
	for i := range r.slots {
		r.slots[i].dlUsedPRBs = ran.NewPRBBitmap(nofPRB)
		r.slots[i].ulUsedPRBs = ran.NewPRBBitmap(nofPRB)
	}
	return r
}

func (r *Ring) index(sp ran.SlotPoint) uint32 { return sp.Count % r.size }

// SlotIndication advances the ring head to slotTx, zeroing the slot that
// falls out of the ring's trailing edge. Callers must advance one slot at
// a time under jitter (fast-forwarding), matching the cell scheduler's
// ring-invariant contract.
func (r *Ring) SlotIndication(slotTx ran.SlotPoint) {
	r.head = slotTx
	r.headSet = true
	a := &r.slots[r.index(slotTx)]
	a.slotTx = slotTx
	a.initialised = true
	a.dlUsedPRBs.Reset()
	a.ulUsedPRBs.Reset()
	a.interleavedDisabledDL = false
	a.interleavedDisabledUL = false
	a.result.reset(slotTx)
}

// inRing reports whether sp is within the ring's current window, i.e. its
// ring index currently holds state stamped with exactly this slot.
func (r *Ring) inRing(sp ran.SlotPoint) bool {
	a := &r.slots[r.index(sp)]
	return a.initialised && a.slotTx.Equal(sp)
}

// Allocator returns the slot allocator for sp, rejecting slots that have
// fallen out of the ring.
func (r *Ring) allocator(sp ran.SlotPoint) (*slotAllocator, error) {
	if !r.inRing(sp) {
		return nil, fmt.Errorf("grid: slot %s is not in the ring (head %s)", sp, r.head)
	}
	return &r.slots[r.index(sp)], nil
}

// DLUsedPRBs returns the DL used-PRB bitmap for sp.
func (r *Ring) DLUsedPRBs(sp ran.SlotPoint) (*ran.PRBBitmap, error) {
	a, err := r.allocator(sp)
	if err != nil {
		return nil, err
	}
	return &a.dlUsedPRBs, nil
}

// ULUsedPRBs returns the UL used-PRB bitmap for sp.
func (r *Ring) ULUsedPRBs(sp ran.SlotPoint) (*ran.PRBBitmap, error) {
	a, err := r.allocator(sp)
	if err != nil {
		return nil, err
	}
	return &a.ulUsedPRBs, nil
}

// Result returns the mutable slot result for sp, for sub-schedulers to
// append PDUs into.
func (r *Ring) Result(sp ran.SlotPoint) (*SchedResult, error) {
	a, err := r.allocator(sp)
	if err != nil {
		return nil, err
	}
	return &a.result, nil
}

// DisableInterleaving marks the slot's DL (or UL) grants as non-interleaved
// for the remainder of the slot: once one non-interleaved PDSCH grant has
// been allocated, interleaved mapping is disallowed for the whole slot.
func (r *Ring) DisableInterleaving(sp ran.SlotPoint, dl bool) error {
	a, err := r.allocator(sp)
	if err != nil {
		return err
	}
	if dl {
		a.interleavedDisabledDL = true
	} else {
		a.interleavedDisabledUL = true
	}
	return nil
}

func (r *Ring) InterleavingDisabled(sp ran.SlotPoint, dl bool) bool {
	a, err := r.allocator(sp)
	if err != nil {
		return false
	}
	if dl {
		return a.interleavedDisabledDL
	}
	return a.interleavedDisabledUL
}

func (r *Ring) NofPRB() uint32 { return r.nofPRB }
func (r *Ring) Size() uint32   { return r.size }
func (r *Ring) Head() ran.SlotPoint { return r.head }
