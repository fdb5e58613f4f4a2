package policy

import (
	"github.com/your-org/gnb-scheduler/internal/ran"
	"github.com/your-org/gnb-scheduler/internal/ue"
)

// RoundRobin is the time_rr strategy: grants are ordered only by a
// rotating UE-index pointer, so repeated slots don't always favour the
// same low-index UE. Ported from scheduler_time_rr.h.
type RoundRobin struct {
	nextDLUEIndex ue.Index
	nextULUEIndex ue.Index
	maxUEIndex    ue.Index
}

// NewRoundRobin builds a round-robin policy over a UE-index space bounded
// by maxUEIndex (the sentinel value meaning "no rotation yet").
func NewRoundRobin(maxUEIndex ue.Index) *RoundRobin {
	return &RoundRobin{nextDLUEIndex: maxUEIndex, nextULUEIndex: maxUEIndex, maxUEIndex: maxUEIndex}
}

func (p *RoundRobin) computePriorities(next *ue.Index, candidates []NewTxCandidate) []float64 {
	out := make([]float64, len(candidates))
	if len(candidates) == 0 {
		return out
	}
	start := 0
	if *next != p.maxUEIndex {
		for i, c := range candidates {
			if c.UEIndex >= *next {
				start = i
				break
			}
		}
	}
	for i := range candidates {
		rank := (i - start + len(candidates)) % len(candidates)
		out[(start+rank)%len(candidates)] = float64(len(candidates) - rank)
	}
	return out
}

func (p *RoundRobin) ComputeDLPriorities(pdcchSlot, pdschSlot ran.SlotPoint, candidates []NewTxCandidate) []float64 {
	return p.computePriorities(&p.nextDLUEIndex, candidates)
}

func (p *RoundRobin) ComputeULPriorities(pdcchSlot, puschSlot ran.SlotPoint, candidates []NewTxCandidate) []float64 {
	return p.computePriorities(&p.nextULUEIndex, candidates)
}

// SaveDLNewTxGrants advances the DL round-robin pointer past the last UE
// granted this slot, so the next slot's walk starts after it.
func (p *RoundRobin) SaveDLNewTxGrants(grants []Grant) {
	if len(grants) == 0 {
		return
	}
	p.nextDLUEIndex = grants[len(grants)-1].UEIndex + 1
}

func (p *RoundRobin) SaveULNewTxGrants(grants []Grant) {
	if len(grants) == 0 {
		return
	}
	p.nextULUEIndex = grants[len(grants)-1].UEIndex + 1
}
