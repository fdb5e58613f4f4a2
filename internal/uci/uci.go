// Package uci implements the UCI/SRS scheduler: a
// periodic slot wheel for SR/CSI/SRS resources plus on-demand HARQ-ACK
// PUCCH allocation with its two tie-breaks.
package uci

import (
	"fmt"

	"github.com/your-org/gnb-scheduler/internal/cellcfg"
	"github.com/your-org/gnb-scheduler/internal/ran"
)

// WheelSize is the maximum supported periodic-resource period in slots.
const WheelSize = 2560

// wheelEntry is one periodic resource registered in a wheel slot.
type wheelEntry struct {
	kind   cellcfg.PeriodicResourceKind
	period uint32
	offset uint32
	rntiOf uint32
}

// Scheduler places periodic SR/CSI/SRS resources on the grid and
// allocates on-demand HARQ-ACK PUCCH resources.
type Scheduler struct {
	wheel [WheelSize][]wheelEntry

	// positioning tracks RNTIs with an active positioning measurement
	// request: every SRS PDU for that RNTI gets the "report requested"
	// flag until the matching stop request.
	positioning map[uint32]bool

	// occupiedPUCCH tracks, per ack slot, which PUCCH resource indicators
	// are already in use for a UE, to drive the "prefer the resource
	// already carrying other UCI" tie-break.
	occupiedPUCCH map[ran.SlotPoint]map[uint32]uint16
}

// NewScheduler builds a UCI/SRS scheduler from the cell's periodic
// resource templates.
func NewScheduler(templates []cellcfg.PeriodicResourceTemplate) *Scheduler {
	s := &Scheduler{
		positioning:   make(map[uint32]bool),
		occupiedPUCCH: make(map[ran.SlotPoint]map[uint32]uint16),
	}
	for _, t := range templates {
		s.Register(t)
	}
	return s
}

// Register installs a periodic resource in every wheel slot w where
// w ≡ offset (mod period).
func (s *Scheduler) Register(t cellcfg.PeriodicResourceTemplate) error {
	if t.PeriodSlots == 0 || t.PeriodSlots > WheelSize {
		return fmt.Errorf("uci: invalid period %d (must be in (0, %d])", t.PeriodSlots, WheelSize)
	}
	for w := t.OffsetSlots % t.PeriodSlots; w < WheelSize; w += t.PeriodSlots {
		s.wheel[w] = append(s.wheel[w], wheelEntry{kind: t.Kind, period: t.PeriodSlots, offset: t.OffsetSlots, rntiOf: t.RNTI})
	}
	return nil
}

// PeriodicResourcesDue returns the resources registered for slotTx's
// wheel position.
func (s *Scheduler) PeriodicResourcesDue(slotTx ran.SlotPoint) []cellcfg.PeriodicResourceTemplate {
	entries := s.wheel[slotTx.Count%WheelSize]
	out := make([]cellcfg.PeriodicResourceTemplate, 0, len(entries))
	for _, e := range entries {
		out = append(out, cellcfg.PeriodicResourceTemplate{Kind: e.kind, PeriodSlots: e.period, OffsetSlots: e.offset, RNTI: e.rntiOf})
	}
	return out
}

// AllocHARQACKPUCCH chooses a PUCCH resource indicator for rnti's
// HARQ-ACK at ackSlot. If the UE already has a PUSCH scheduled in ackSlot
// (hasPUSCHInAckSlot), UCI is multiplexed on PUSCH instead and no PUCCH
// resource is consumed. Otherwise it prefers a resource already carrying
// other UCI for this UE in the same slot (merging bits) before assigning
// the first entry of candidateResourceIDs that no other UE holds in that
// slot; ok is false when every candidate is taken.
func (s *Scheduler) AllocHARQACKPUCCH(ackSlot ran.SlotPoint, rnti uint32, hasPUSCHInAckSlot bool, candidateResourceIDs []uint16) (resourceID uint16, multiplexedOnPUSCH bool, ok bool) {
	if hasPUSCHInAckSlot {
		return 0, true, true
	}
	bySlot, exists := s.occupiedPUCCH[ackSlot]
	if exists {
		if existing, already := bySlot[rnti]; already {
			return existing, false, true
		}
	} else {
		bySlot = make(map[uint32]uint16)
		s.occupiedPUCCH[ackSlot] = bySlot
	}
	if len(candidateResourceIDs) == 0 {
		return 0, false, false
	}
	inUse := make(map[uint16]bool, len(bySlot))
	for _, id := range bySlot {
		inUse[id] = true
	}
	for _, id := range candidateResourceIDs {
		if !inUse[id] {
			bySlot[rnti] = id
			return id, false, true
		}
	}
	return 0, false, false
}

// ReleaseSlot drops the PUCCH-occupancy bookkeeping for a slot once it has
// left the resource-grid ring, keeping the map bounded.
func (s *Scheduler) ReleaseSlot(slot ran.SlotPoint) {
	delete(s.occupiedPUCCH, slot)
}

// StartPositioning installs a positioning measurement request for rnti
// (which may not be a connected UE of this cell).
func (s *Scheduler) StartPositioning(rnti uint32) {
	s.positioning[rnti] = true
}

// StopPositioning clears the positioning flag for rnti.
func (s *Scheduler) StopPositioning(rnti uint32) {
	delete(s.positioning, rnti)
}

// PositioningRequested reports whether SRS PDUs for rnti should carry the
// "positioning report requested" flag.
func (s *Scheduler) PositioningRequested(rnti uint32) bool {
	return s.positioning[rnti]
}
