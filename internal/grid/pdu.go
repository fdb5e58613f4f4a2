// Package grid implements the per-cell resource grid: a ring of slot
// allocators tracking used PRBs per direction and the assembled slot
// result delivered to the scheduler's caller.
package grid

import "github.com/your-org/gnb-scheduler/internal/ran"

// FreqAllocType distinguishes the two 3GPP TS 38.214 frequency-domain
// resource allocation encodings a PDU may carry.
type FreqAllocType uint8

const (
	FreqAllocType0RBGBitmap FreqAllocType = iota // type-0: RBG bitmap
	FreqAllocType1RIV                             // type-1: start+length RIV
)

// PDCCH describes one scheduled PDCCH candidate carrying a DCI for a DL or
// UL grant.
type PDCCH struct {
	RNTI              uint32
	CoresetID         uint8
	SearchSpaceID     uint8
	AggregationLevel  uint8
	CCEIndex          uint16
	IsUL              bool
	DCIPayload        []byte
}

// PDSCH describes one scheduled downlink data grant.
type PDSCH struct {
	RNTI        uint32
	HARQID      uint8
	NDI         bool
	RV          uint8
	PRBs        ran.Interval
	Symbols     ran.Interval
	FreqAlloc   FreqAllocType
	MCS         uint8
	TBS         uint32
	Layers      uint8
	Interleaved bool
}

// PUSCH describes one scheduled uplink data grant.
type PUSCH struct {
	RNTI      uint32
	HARQID    uint8
	NDI       bool
	RV        uint8
	PRBs      ran.Interval
	Symbols   ran.Interval
	FreqAlloc FreqAllocType
	MCS       uint8
	TBS       uint32
	Layers    uint8
	// UCIMultiplexed is set when HARQ-ACK/SR/CSI bits ride on this PUSCH
	// instead of a separate PUCCH occasion.
	UCIMultiplexed bool
}

// PUCCH describes one scheduled uplink control resource.
type PUCCH struct {
	RNTI           uint32
	ResourceID     uint16
	Format         uint8
	HARQBitIndex   uint8
	CarriesSR      bool
	CarriesCSI     bool
	Symbols        ran.Interval
	PRBs           ran.Interval
}

// SRS describes one scheduled sounding reference signal resource.
type SRS struct {
	RNTI                    uint32
	ResourceID              uint16
	Symbols                 ran.Interval
	PositioningReportNeeded bool
}

// PRACH describes a configured random-access occasion (placement only; the
// RA sub-scheduler that consumes RACH indications is an injected
// collaborator.
type PRACH struct {
	Symbols     ran.Interval
	FreqIndex   uint32
	OccasionIdx uint32
}

// RAR describes a scheduled random-access response PDU.
type RAR struct {
	RAPID   uint8
	TCRNTI  uint32
	Msg3PRBs ran.Interval
}

// CSIRS describes a placed CSI-RS resource on the grid.
type CSIRS struct {
	Symbols ran.Interval
	PRBs    ran.Interval
}

// SchedResult collects every PDU list produced for one cell's slot. Owned
// by the resource grid; valid only until the next SlotIndication for the
// same cell.
type SchedResult struct {
	SlotTx ran.SlotPoint

	PDCCHs []PDCCH
	PDSCHs []PDSCH
	PUSCHs []PUSCH
	PUCCHs []PUCCH
	SRSs   []SRS
	PRACHs []PRACH
	RARs   []RAR
	CSIRSs []CSIRS

	// PDSCHBroadcast and PDSCHPaging cover SIB1/paging PDUs; the common
	// sub-schedulers that populate them are injected collaborators.
	PDSCHBroadcast []PDSCH
	PDSCHPaging    []PDSCH
}

func (r *SchedResult) reset(slotTx ran.SlotPoint) {
	r.SlotTx = slotTx
	r.PDCCHs = r.PDCCHs[:0]
	r.PDSCHs = r.PDSCHs[:0]
	r.PUSCHs = r.PUSCHs[:0]
	r.PUCCHs = r.PUCCHs[:0]
	r.SRSs = r.SRSs[:0]
	r.PRACHs = r.PRACHs[:0]
	r.RARs = r.RARs[:0]
	r.CSIRSs = r.CSIRSs[:0]
	r.PDSCHBroadcast = r.PDSCHBroadcast[:0]
	r.PDSCHPaging = r.PDSCHPaging[:0]
}
