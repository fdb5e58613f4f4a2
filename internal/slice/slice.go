// Package slice implements the RAN slice data model and per-slice UE
// repository for a RAN slice: the reserved SRB/default-DRB
// slice ids, the RRM contract, per-slot PRB counters and the moving
// averages feeding the inter-slice priority function's round-robin
// tie-break.
//
// Ported from _examples/original_source/lib/scheduler/slicing/
// ran_slice_instance.{h,cpp} and the slice-construction contract in
// inter_slice_scheduler.cpp's constructor.
package slice

import (
	"github.com/your-org/gnb-scheduler/internal/cellcfg"
	"github.com/your-org/gnb-scheduler/internal/ran"
	"github.com/your-org/gnb-scheduler/internal/ue"
)

// Reserved slice ids.
const (
	SRBRANSliceID        uint32 = 0
	DefaultDRBRANSliceID uint32 = 1
	firstConfiguredID    uint32 = 2
)

// MaxPriority is the clamp ceiling for a configured slice priority (8
// bits, per the inter-slice priority function).
const MaxPriority uint32 = 0xFF

// maxSlotsSinceLastPXSCH bounds the delay-priority field and the "never
// allocated" sentinel distance.
const maxSlotsSinceLastPXSCH = 256

// pusRingSize is the ring length for the per-slot PUSCH RB counter; sized
// generously over the largest expected k2 + offset window.
const pusRingSize = 64

// RRMContract is the slice's RB budget: minimum guaranteed RBs, maximum
// ceiling, a dedicated-RB reservation consulted by the per-slot cell
// budget, and a configured scheduling priority.
type RRMContract struct {
	MinRB     uint32
	MaxRB     uint32
	Dedicated uint32
	Priority  uint32
}

// Instance is one RAN slice's live scheduling state.
type Instance struct {
	ID  uint32
	Cfg RRMContract

	UEs *UERepository

	pdschRBCount           uint32
	pusRBCountRing         [pusRingSize]uint32
	lastPDSCHAllocSlot     ran.SlotPoint
	lastPUSCHAllocSlot     ran.SlotPoint
	avgPDSCHRBsPerSlot     float64
	avgPUSCHRBsPerSlot     float64
}

// ewmaDecay sets the EWMA's effective averaging window. Chosen as the
// open-question resolution for "exponential moving average of scheduled
// RBs per slot": a fixed decay rather than a windowed average, matching
// the ring-buffer-free style of the rest of the slice instance.
const ewmaDecay = 0.1

func newInstance(id uint32, cfg RRMContract) *Instance {
	return &Instance{
		ID:                 id,
		Cfg:                cfg,
		UEs:                newUERepository(),
		lastPDSCHAllocSlot: ran.InvalidSlotPoint(),
		lastPUSCHAllocSlot: ran.InvalidSlotPoint(),
	}
}

// Active reports whether the slice currently has any UEs, per
// ran_slice_instance::active().
func (s *Instance) Active() bool { return !s.UEs.Empty() }

// SlotIndication resets the PDSCH RB counter for the new slot; the PUSCH
// RB ring and the moving averages are left unchanged. Called by the
// inter-slice scheduler before DL candidate generation, on slots where DL
// candidates are generated.
func (s *Instance) SlotIndication(slotTx ran.SlotPoint) {
	s.pdschRBCount = 0
}

// StorePDSCHGrant records nof RBs granted at pdschSlot, updating the
// moving average and last-allocation timestamp.
func (s *Instance) StorePDSCHGrant(crbs uint32, pdschSlot ran.SlotPoint) {
	s.pdschRBCount += crbs
	s.lastPDSCHAllocSlot = pdschSlot
	s.avgPDSCHRBsPerSlot = s.avgPDSCHRBsPerSlot*(1-ewmaDecay) + float64(crbs)*ewmaDecay
}

// StorePUSCHGrant records nof RBs granted at puschSlot into the ring.
func (s *Instance) StorePUSCHGrant(crbs uint32, puschSlot ran.SlotPoint) {
	s.pusRBCountRing[puschSlot.Count%pusRingSize] = crbs
	s.lastPUSCHAllocSlot = puschSlot
	s.avgPUSCHRBsPerSlot = s.avgPUSCHRBsPerSlot*(1-ewmaDecay) + float64(crbs)*ewmaDecay
}

// NofPUSCHRBsAllocated returns the RB count recorded for puschSlot.
func (s *Instance) NofPUSCHRBsAllocated(puschSlot ran.SlotPoint) uint32 {
	return s.pusRBCountRing[puschSlot.Count%pusRingSize]
}

// PDSCHRBCount and PUSCHRBCount(slot) back invariant 6: pdsch_rb_count(S,
// T) <= maxRB(S).
func (s *Instance) PDSCHRBCount() uint32 { return s.pdschRBCount }

// NofSlotsSinceLastPDSCH returns maxSlotsSinceLastPXSCH if the slice has never
// received a PDSCH, else the modular distance (clamped to 0 if negative).
func (s *Instance) NofSlotsSinceLastPDSCH(pdschSlot ran.SlotPoint) uint32 {
	return nofSlotsSince(s.lastPDSCHAllocSlot, pdschSlot)
}

func (s *Instance) NofSlotsSinceLastPUSCH(puschSlot ran.SlotPoint) uint32 {
	return nofSlotsSince(s.lastPUSCHAllocSlot, puschSlot)
}

func nofSlotsSince(last, now ran.SlotPoint) uint32 {
	if !last.Valid() {
		return maxSlotsSinceLastPXSCH
	}
	d := now.Sub(last)
	if d < 0 {
		return 0
	}
	if uint32(d) >= maxSlotsSinceLastPXSCH {
		return maxSlotsSinceLastPXSCH
	}
	return uint32(d)
}

func (s *Instance) AveragePDSCHRBsPerSlot() float64 { return s.avgPDSCHRBsPerSlot }
func (s *Instance) AveragePUSCHRBsPerSlot() float64 { return s.avgPUSCHRBsPerSlot }

// UERepository is the per-slice view of UEs, keyed by UE index only,
// backing ran_slice_candidate's is_candidate/contains checks; per-LCID
// slice binding is kept on ue.Context, not here.
type UERepository struct {
	ues map[ue.Index]*ue.Context
}

func newUERepository() *UERepository {
	return &UERepository{ues: make(map[ue.Index]*ue.Context)}
}

func (r *UERepository) Empty() bool { return len(r.ues) == 0 }

func (r *UERepository) Add(u *ue.Context) {
	r.ues[u.Index] = u
}

func (r *UERepository) Remove(idx ue.Index) {
	delete(r.ues, idx)
}

func (r *UERepository) Contains(idx ue.Index) bool {
	_, ok := r.ues[idx]
	return ok
}

func (r *UERepository) All() []*ue.Context {
	out := make([]*ue.Context, 0, len(r.ues))
	for _, u := range r.ues {
		out = append(out, u)
	}
	return out
}

// Set is the full set of slices configured for one cell: the two
// reserved slices plus one per RRM policy member, constructed exactly per
// inter_slice_scheduler.cpp's constructor (clamped RB limits and
// priority; SRB gets {cellMax, cellMax} and max priority).
type Set struct {
	slices []*Instance
	byID   map[uint32]*Instance
}

// NewSet builds the slice set for a cell, clamping configured RRM members'
// minRB/maxRB to the cell's PRB count and priority to MaxPriority.
func NewSet(cell *cellcfg.Cell) *Set {
	cellMax := cell.NofPRBs

	s := &Set{byID: make(map[uint32]*Instance)}
	srb := newInstance(SRBRANSliceID, RRMContract{MinRB: cellMax, MaxRB: cellMax, Priority: MaxPriority})
	def := newInstance(DefaultDRBRANSliceID, RRMContract{MinRB: 0, MaxRB: cellMax})
	s.add(srb)
	s.add(def)

	nextID := firstConfiguredID
	for _, m := range cell.RRMPolicyMembers {
		minRB, maxRB := m.MinRB, m.MaxRB
		if maxRB > cellMax {
			maxRB = cellMax
		}
		if minRB > cellMax {
			minRB = cellMax
		}
		prio := m.Priority
		if prio > MaxPriority {
			prio = MaxPriority
		}
		inst := newInstance(nextID, RRMContract{MinRB: minRB, MaxRB: maxRB, Dedicated: m.Dedicated, Priority: prio})
		s.add(inst)
		nextID++
	}
	return s
}

func (s *Set) add(inst *Instance) {
	s.slices = append(s.slices, inst)
	s.byID[inst.ID] = inst
}

func (s *Set) Get(id uint32) (*Instance, bool) {
	inst, ok := s.byID[id]
	return inst, ok
}

func (s *Set) All() []*Instance { return s.slices }

// ResolveLCID maps an LCID to its slice: SRBs (lcid < ue.LCIDMinDRB) to
// SRBRANSliceID; DRBs to the RRM-member slice whose RRC identity matches,
// or DefaultDRBRANSliceID otherwise.
func (s *Set) ResolveLCID(lcid ue.LCID, plmn string, snssai uint32, members []cellcfg.RRMPolicyMember) uint32 {
	if uint8(lcid) < ue.LCIDMinDRB {
		return SRBRANSliceID
	}
	id := firstConfiguredID
	for _, m := range members {
		if m.PLMN == plmn && m.SNSSAI == snssai {
			if _, ok := s.byID[id]; ok {
				return id
			}
		}
		id++
	}
	return DefaultDRBRANSliceID
}

// HandleReconfigurationRequest updates a configured slice's RB budget in
// place, matching handle_slice_reconfiguration_request. Returns false if
// no slice matches plmn/snssai.
func (s *Set) HandleReconfigurationRequest(plmn string, snssai uint32, members []cellcfg.RRMPolicyMember, newRBs RRMContract) bool {
	id := firstConfiguredID
	for _, m := range members {
		if m.PLMN == plmn && m.SNSSAI == snssai {
			if inst, ok := s.byID[id]; ok {
				inst.Cfg.MinRB = newRBs.MinRB
				inst.Cfg.MaxRB = newRBs.MaxRB
				return true
			}
		}
		id++
	}
	return false
}
