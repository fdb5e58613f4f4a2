// Package interslice implements the inter-slice scheduler
// two priority queues (DL/UL) of slice candidates, built from the
// bitwise-concatenated six-field priority function and consumed by the
// cell scheduler one candidate at a time.
//
// Ported from
// _examples/original_source/lib/scheduler/slicing/inter_slice_scheduler.{h,cpp}.
package interslice

import (
	"math"
	"sort"

	"github.com/your-org/gnb-scheduler/internal/ran"
	"github.com/your-org/gnb-scheduler/internal/slice"
)

// priorityType mirrors the original's uint32_t priority_type.
type priorityType = uint32

// skipPriority is the reserved "do not schedule" priority value.
const skipPriority priorityType = 0

const (
	sliceDistBitsize       = 7
	sliceDistBitmask       = (priorityType(1) << sliceDistBitsize) - 1
	sliceMinRBPrioBitsize  = 1
	slicePrioBitsize       = 8
	slicePrioBitmask       = (priorityType(1) << slicePrioBitsize) - 1
	delayPrioBitsize       = 8
	delayPrioBitmask       = (priorityType(1) << delayPrioBitsize) - 1
	rrBitsize              = 7
	rrBitmask              = (priorityType(1) << rrBitsize) - 1
)

// PUSCHTimeDomainResource is one valid PUSCH time-domain allocation for a
// slot, carrying the PDCCH->PUSCH delay k2 (plus any NTN cell offset
// already folded in by the caller).
type PUSCHTimeDomainResource struct {
	K2 uint32
}

// Candidate is one slice candidate for PDSCH or PUSCH: a slice id, an RB
// range [lo, hi) and the PXSCH slot it targets.
type Candidate struct {
	SliceID   uint32
	RBLims    ran.Interval
	PXSCHSlot ran.SlotPoint
}

type queuedCandidate struct {
	Candidate
	priority  priorityType
	minRBGate bool
}

// Scheduler holds the per-cell inter-slice scheduling state: the slice
// set, the current slot, and the DL/UL priority queues rebuilt each slot.
type Scheduler struct {
	slices         *slice.Set
	cellMaxRBs     uint32
	enableCSIRSMux bool

	currentSlot ran.SlotPoint

	// dedicated-RB ring: one entry per slot in a bounded window, tracking
	// how many dedicated RBs have already been committed for that slot
	// across all minRB-gated slices, so the inter-slice scheduler never
	// over-commits when multiple dedicated slices coexist.
	dlDedicatedRing [dedicatedRingSize]uint32
	ulDedicatedRing [dedicatedRingSize]uint32

	dlQueue []queuedCandidate
	ulQueue []queuedCandidate
}

const dedicatedRingSize = 64

// NewScheduler builds an inter-slice scheduler over the given slice set.
func NewScheduler(slices *slice.Set, cellMaxRBs uint32, enableCSIRSMux bool) *Scheduler {
	return &Scheduler{slices: slices, cellMaxRBs: cellMaxRBs, enableCSIRSMux: enableCSIRSMux}
}

// SlotIndication advances the scheduler to pdcchSlot and (re)builds the DL
// and UL priority queues. dlEnabled reflects whether pdcchSlot itself
// carries DL symbols, which gates both DL candidates and UL candidates
// alike (a PDCCH, whether scheduling a PDSCH or a PUSCH, is only ever
// transmitted on a DL-capable slot); csiRSPresent further gates DL
// candidates when enableCSIRSMux is false. puschTDList lists the PUSCH k2
// resources valid for this PDCCH slot, already narrowed by the caller to
// those whose resulting PUSCH slot (pdcchSlot+k2) is itself UL-capable —
// an empty list here means no UL candidates are pushed.
func (s *Scheduler) SlotIndication(pdcchSlot ran.SlotPoint, dlEnabled, csiRSPresent bool, puschTDList []PUSCHTimeDomainResource) {
	s.currentSlot = pdcchSlot
	s.dlDedicatedRing[pdcchSlot.Count%dedicatedRingSize] = 0
	s.ulDedicatedRing[pdcchSlot.Count%dedicatedRingSize] = 0

	s.dlQueue = s.dlQueue[:0]
	s.ulQueue = s.ulQueue[:0]

	if dlEnabled && (s.enableCSIRSMux || !csiRSPresent) {
		for _, inst := range s.slices.All() {
			inst.SlotIndication(pdcchSlot)
			s.pushDLCandidates(inst, pdcchSlot)
		}
	}

	if dlEnabled {
		for _, td := range puschTDList {
			puschSlot := pdcchSlot.Add(int(td.K2))
			for _, inst := range s.slices.All() {
				s.pushULCandidates(inst, pdcchSlot, puschSlot)
			}
		}
	}

	sortDescending(s.dlQueue)
	sortDescending(s.ulQueue)
}

func sortDescending(q []queuedCandidate) {
	sort.SliceStable(q, func(i, j int) bool { return q[i].priority > q[j].priority })
}

func (s *Scheduler) pushDLCandidates(inst *slice.Instance, pxschSlot ran.SlotPoint) {
	if !inst.Active() || inst.PDSCHRBCount() >= inst.Cfg.MaxRB {
		return
	}
	currentRBs := inst.PDSCHRBCount()
	s.emitCandidates(inst, true, pxschSlot, pxschSlot, currentRBs, &s.dlQueue)
}

func (s *Scheduler) pushULCandidates(inst *slice.Instance, pdcchSlot, puschSlot ran.SlotPoint) {
	if !inst.Active() {
		return
	}
	currentRBs := inst.NofPUSCHRBsAllocated(puschSlot)
	if currentRBs >= inst.Cfg.MaxRB {
		return
	}
	s.emitCandidates(inst, false, pdcchSlot, puschSlot, currentRBs, &s.ulQueue)
}

func (s *Scheduler) emitCandidates(inst *slice.Instance, isDL bool, pdcchSlot, pxschSlot ran.SlotPoint, currentRBs uint32, queue *[]queuedCandidate) {
	minRB, maxRB := inst.Cfg.MinRB, inst.Cfg.MaxRB
	if currentRBs < minRB && minRB < maxRB && inst.Cfg.Dedicated > 0 {
		gated := Candidate{SliceID: inst.ID, RBLims: ran.NewInterval(currentRBs, minRB), PXSCHSlot: pxschSlot}
		s.push(queue, gated, priority(inst, isDL, pdcchSlot, pxschSlot, true))

		rest := Candidate{SliceID: inst.ID, RBLims: ran.NewInterval(minRB, maxRB), PXSCHSlot: pxschSlot}
		s.push(queue, rest, priority(inst, isDL, pdcchSlot, pxschSlot, false))
		return
	}
	one := Candidate{SliceID: inst.ID, RBLims: ran.NewInterval(currentRBs, maxRB), PXSCHSlot: pxschSlot}
	s.push(queue, one, priority(inst, isDL, pdcchSlot, pxschSlot, false))
}

// push silently drops skip_prio entries, matching slice_prio_queue::push.
func (s *Scheduler) push(queue *[]queuedCandidate, c Candidate, prio priorityType) {
	if prio == skipPriority {
		return
	}
	*queue = append(*queue, queuedCandidate{Candidate: c, priority: prio, minRBGate: false})
}

// priority computes the bitwise-concatenated six-field priority value.
// Direct port of ran_slice_sched_context::get_prio.
func priority(inst *slice.Instance, isDL bool, pdcchSlot, pxschSlot ran.SlotPoint, minRBGate bool) priorityType {
	if !inst.Active() {
		return skipPriority
	}

	dist := pxschSlot.Sub(pdcchSlot)
	if dist < 0 {
		dist = 0
	}
	slotDist := sliceDistBitmask - minU32(priorityType(dist), sliceDistBitmask)
	prio := slotDist

	var minRBPrio priorityType
	if minRBGate {
		minRBPrio = 1
	}
	prio = (prio << sliceMinRBPrioBitsize) + minRBPrio

	slicePrio := inst.Cfg.Priority
	if slicePrio > slicePrioBitmask {
		slicePrio = slicePrioBitmask
	}
	prio = (prio << slicePrioBitsize) + slicePrio

	var delay priorityType
	if isDL {
		delay = inst.NofSlotsSinceLastPDSCH(pxschSlot)
	} else {
		delay = inst.NofSlotsSinceLastPUSCH(pxschSlot)
	}
	if delay > delayPrioBitmask {
		delay = delayPrioBitmask
	}
	prio = (prio << delayPrioBitsize) + delay

	var avg float64
	if isDL {
		avg = inst.AveragePDSCHRBsPerSlot()
	} else {
		avg = inst.AveragePUSCHRBsPerSlot()
	}
	rrVal := priorityType(math.Round(avg))
	if rrVal > rrBitmask {
		rrVal = rrBitmask
	}
	rrPrio := rrBitmask - rrVal
	prio = (prio << rrBitsize) + rrPrio

	return (prio << 1) + 1
}

func minU32(a, b priorityType) priorityType {
	if a < b {
		return a
	}
	return b
}

// GetNextDLCandidate pops the highest-priority DL candidate, merging a
// following candidate for the same slice/slot, consulting and updating
// the per-slot dedicated-RB counter. Returns false once no positive
// priority candidate remains.
func (s *Scheduler) GetNextDLCandidate() (Candidate, bool) {
	return s.getNext(&s.dlQueue, &s.dlDedicatedRing, true)
}

// GetNextULCandidate is the UL analogue of GetNextDLCandidate.
func (s *Scheduler) GetNextULCandidate() (Candidate, bool) {
	return s.getNext(&s.ulQueue, &s.ulDedicatedRing, false)
}

func (s *Scheduler) getNext(queue *[]queuedCandidate, ring *[dedicatedRingSize]uint32, isDL bool) (Candidate, bool) {
	for len(*queue) > 0 {
		top := (*queue)[0]
		*queue = (*queue)[1:]

		for len(*queue) > 0 && (*queue)[0].SliceID == top.SliceID && (*queue)[0].PXSCHSlot.Equal(top.PXSCHSlot) {
			merged := (*queue)[0]
			*queue = (*queue)[1:]
			top.RBLims = top.RBLims.Union(merged.RBLims)
		}

		inst, ok := s.slices.Get(top.SliceID)
		if !ok {
			continue
		}

		ringIdx := top.PXSCHSlot.Count % dedicatedRingSize
		countRBs := ring[ringIdx]
		remRBs := uint32(0)
		if s.cellMaxRBs > countRBs {
			remRBs = s.cellMaxRBs - countRBs
		}
		maxRBsCandidate := top.RBLims.Stop
		if remRBs < maxRBsCandidate {
			maxRBsCandidate = remRBs
		}

		if top.RBLims.Start < inst.Cfg.MinRB {
			ring[ringIdx] = countRBs + inst.Cfg.Dedicated
		}

		if maxRBsCandidate == 0 {
			continue
		}

		var sliceRBs uint32
		if isDL {
			sliceRBs = inst.PDSCHRBCount()
		} else {
			sliceRBs = inst.NofPUSCHRBsAllocated(top.PXSCHSlot)
		}
		// A minRB candidate that was only partially filled leaves the
		// slice's already-allocated RB count outside this candidate's
		// limits; skip it rather than re-offering a stale range.
		if sliceRBs < top.RBLims.Start || sliceRBs >= top.RBLims.Stop {
			continue
		}

		top.RBLims.Stop = maxRBsCandidate
		return top.Candidate, true
	}
	return Candidate{}, false
}
