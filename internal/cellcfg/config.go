// Package cellcfg holds the immutable per-cell configuration consumed by
// every other scheduler package: bandwidth, numerology, TDD pattern,
// search-space/CORESET tables, periodic resource templates, RRM policy
// members and HARQ operating mode.
package cellcfg

import (
	"fmt"

	"github.com/your-org/gnb-scheduler/internal/ran"
)

// HARQMode records the cell's HARQ operating mode (A or B). harq.Manager
// stores it, but retransmission timers behave the same in both modes:
// mode B's interaction with the PUCCH counter is left as a configurable
// knob rather than an invented policy.
type HARQMode uint8

const (
	HARQModeA HARQMode = iota
	HARQModeB
)

func (m HARQMode) String() string {
	if m == HARQModeB {
		return "B"
	}
	return "A"
}

// Duplex identifies FDD vs TDD operation for a cell.
type Duplex uint8

const (
	DuplexFDD Duplex = iota
	DuplexTDD
)

// TDDSlotKind classifies one slot's direction in a TDD pattern period.
type TDDSlotKind uint8

const (
	TDDSlotDL TDDSlotKind = iota
	TDDSlotUL
	TDDSlotSpecial
)

// TDDPattern describes one periodic TDD configuration, e.g. a DDDSU
// pattern.
type TDDPattern struct {
	// Slots lists the kind of each slot in the pattern period, in order.
	Slots []TDDSlotKind
	// SpecialDLSymbols/SpecialULSymbols give the symbol split of a
	// TDDSlotSpecial entry; unused for full DL/UL slots.
	SpecialDLSymbols uint8
	SpecialULSymbols uint8
}

func (p *TDDPattern) Period() uint32 { return uint32(len(p.Slots)) }

// KindAt returns the slot kind for a cell-absolute slot count.
func (p *TDDPattern) KindAt(slotCount uint32) TDDSlotKind {
	if len(p.Slots) == 0 {
		return TDDSlotDL
	}
	return p.Slots[slotCount%uint32(len(p.Slots))]
}

// SearchSpace and CORESET tables are modeled minimally: the scheduler core
// only needs enough of the PDCCH candidate-space shape to drive allocator
// admission decisions, not a full RRC IE mirror.
type CORESET struct {
	ID               uint8
	StartPRB         uint32
	DurationPRB      uint32
	DurationSymbols  uint8
	Interleaved      bool
	PrecoderGranularity uint8
}

type SearchSpace struct {
	ID               uint8
	CoresetID        uint8
	PeriodSlots      uint32
	OffsetSlots      uint32
	DurationSlots    uint32
	AggregationLevels [5]uint8
	NofCandidates     [5]uint8
}

// PeriodicResourceTemplate describes one SR/CSI/SRS periodic resource
// registered on the UCI/SRS scheduler's slot wheel.
type PeriodicResourceTemplate struct {
	Kind        PeriodicResourceKind
	PeriodSlots uint32
	OffsetSlots uint32
	RNTI        uint32
}

type PeriodicResourceKind uint8

const (
	PeriodicResourceSR PeriodicResourceKind = iota
	PeriodicResourceCSI
	PeriodicResourceSRS
)

// PUSCHTimeDomainResource is one entry of the cell's configured PUSCH
// time-domain allocation table (pusch-TimeDomainAllocationList): the k2
// slot offset from a PDCCH's slot to the PUSCH slot it schedules.
type PUSCHTimeDomainResource struct {
	K2 uint32
}

// RRMPolicyMember is one configured slice contract: an RB budget bound to
// an RRC member identity (PLMN + S-NSSAI), per the cell's RRM policy
// configuration.
type RRMPolicyMember struct {
	PLMN     string
	SNSSAI   uint32
	MinRB    uint32
	MaxRB    uint32
	Dedicated uint32
	Priority uint32
}

// Cell is the immutable per-cell configuration. Constructed once at
// cell-add time and never mutated afterwards; reconfiguration replaces the
// whole value rather than editing fields in place, avoiding torn reads by
// the slot task.
type Cell struct {
	CellIndex  uint32
	NofPRBs    uint32
	Numerology uint8
	Duplex     Duplex
	TDD        *TDDPattern // nil for FDD

	CORESETs     []CORESET
	SearchSpaces []SearchSpace

	PeriodicResources []PeriodicResourceTemplate

	RRMPolicyMembers []RRMPolicyMember

	HARQMode HARQMode

	EnableCSIRSPDSCHMultiplexing bool

	// PUSCHTimeDomainResources is the cell's PUSCH time-domain allocation
	// table; PUSCHTimeDomainResourcesFor filters it per PDCCH slot.
	PUSCHTimeDomainResources []PUSCHTimeDomainResource

	// MinK1 is the minimum configured PDSCH-to-HARQ-ACK timing value
	// across the cell's dl-DataToUL-ACK list, used the same way the
	// original bounds the k2 candidates admitted for FDD and DL-heavy TDD.
	MinK1 uint32
}

// IsDLEnabled reports whether slotCount carries any downlink symbols under
// this cell's duplex configuration.
func (c *Cell) IsDLEnabled(slotCount uint32) bool {
	if c.Duplex == DuplexFDD {
		return true
	}
	switch c.TDD.KindAt(slotCount) {
	case TDDSlotDL, TDDSlotSpecial:
		return c.TDD.KindAt(slotCount) == TDDSlotDL || c.TDD.SpecialDLSymbols > 0
	default:
		return false
	}
}

// IsULEnabled reports whether slotCount carries any uplink symbols under
// this cell's duplex configuration.
func (c *Cell) IsULEnabled(slotCount uint32) bool {
	if c.Duplex == DuplexFDD {
		return true
	}
	switch c.TDD.KindAt(slotCount) {
	case TDDSlotUL:
		return true
	case TDDSlotSpecial:
		return c.TDD.SpecialULSymbols > 0
	default:
		return false
	}
}

// PUSCHTimeDomainResourcesFor returns the PUSCH time-domain resources
// valid for a PDCCH scheduled at pdcchSlot, mirroring
// get_pusch_td_resource_indices: for FDD every table entry with k2 <=
// MinK1 is valid; for TDD an entry is valid only if pdcchSlot+k2 lands on
// an UL-capable slot, and on a DL-heavy pattern the result also drops
// entries with k2 > MinK1 and keeps only the run of entries sharing the
// first surviving k2 in table order (the smallest k2 when the table is
// sorted by k2), while an UL-heavy pattern keeps every valid k2 to allow
// several UL PDCCH allocations per slot.
func (c *Cell) PUSCHTimeDomainResourcesFor(pdcchSlot ran.SlotPoint) []PUSCHTimeDomainResource {
	if c.Duplex == DuplexFDD {
		var out []PUSCHTimeDomainResource
		for _, r := range c.PUSCHTimeDomainResources {
			if r.K2 <= c.MinK1 {
				out = append(out, r)
			}
		}
		return out
	}

	dlHeavy := c.isDLHeavy()
	var out []PUSCHTimeDomainResource
	for _, r := range c.PUSCHTimeDomainResources {
		puschSlot := pdcchSlot.Add(int(r.K2))
		if !c.IsULEnabled(puschSlot.Count) {
			continue
		}
		if dlHeavy && r.K2 > c.MinK1 {
			continue
		}
		if dlHeavy && len(out) > 0 && out[0].K2 != r.K2 {
			break
		}
		out = append(out, r)
	}
	return out
}

// isDLHeavy reports whether the cell's TDD pattern carries at least as
// many DL slots as UL slots per period, matching nof_full_dl_slots >=
// nof_full_ul_slots in the original.
func (c *Cell) isDLHeavy() bool {
	if c.TDD == nil {
		return true
	}
	var dl, ul uint32
	for _, k := range c.TDD.Slots {
		switch k {
		case TDDSlotDL:
			dl++
		case TDDSlotUL:
			ul++
		}
	}
	return dl >= ul
}

// Validate checks internal consistency the way a cell-add-time config
// manager would, ahead of the scheduler ever touching this value — mirrors
// the rejected-synchronously-at-the-boundary contract for configuration
// errors.
func (c *Cell) Validate() error {
	if c.NofPRBs == 0 || c.NofPRBs > 275 {
		return fmt.Errorf("cellcfg: invalid nof_prbs %d", c.NofPRBs)
	}
	if c.Duplex == DuplexTDD && (c.TDD == nil || len(c.TDD.Slots) == 0) {
		return fmt.Errorf("cellcfg: TDD duplex requires a non-empty pattern")
	}
	for _, m := range c.RRMPolicyMembers {
		if m.MinRB > m.MaxRB {
			return fmt.Errorf("cellcfg: rrm policy member %s/%d has minRB %d > maxRB %d", m.PLMN, m.SNSSAI, m.MinRB, m.MaxRB)
		}
	}
	return nil
}
