package interslice

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/your-org/gnb-scheduler/internal/cellcfg"
	"github.com/your-org/gnb-scheduler/internal/ran"
	"github.com/your-org/gnb-scheduler/internal/slice"
	"github.com/your-org/gnb-scheduler/internal/ue"
)

func twoSliceCell() *cellcfg.Cell {
	return &cellcfg.Cell{
		NofPRBs: 106,
		Duplex:  cellcfg.DuplexFDD,
		RRMPolicyMembers: []cellcfg.RRMPolicyMember{
			{PLMN: "00101", SNSSAI: 1, MinRB: 10, MaxRB: 106, Dedicated: 10, Priority: 1},
			{PLMN: "00101", SNSSAI: 2, MinRB: 0, MaxRB: 106, Priority: 1},
		},
	}
}

func activate(set *slice.Set, id uint32) {
	inst, _ := set.Get(id)
	inst.UEs.Add(ue.NewContext(ue.Index(id), 0x4601, cellcfg.HARQModeA, 8, 8))
}

func TestSlotIndication_EmitsSplitCandidateWhenMinRBUnmet(t *testing.T) {
	cell := twoSliceCell()
	set := slice.NewSet(cell)
	const sliceAID uint32 = 2 // firstConfiguredID
	activate(set, sliceAID)

	sched := NewScheduler(set, cell.NofPRBs, true)
	slotTx := ran.NewSlotPoint(1, 100)
	sched.SlotIndication(slotTx, true, false, nil)

	require.Len(t, sched.dlQueue, 2, "slice A emits a minRB-gated half and an ungated half")
	assert.Equal(t, sliceAID, sched.dlQueue[0].SliceID)
	assert.Equal(t, ran.NewInterval(0, 10), sched.dlQueue[0].RBLims, "minRB-gated half must cap at minRB")
	assert.Equal(t, ran.NewInterval(10, 106), sched.dlQueue[1].RBLims)
	assert.Greater(t, sched.dlQueue[0].priority, sched.dlQueue[1].priority, "the gated half is queued first")

	var candidates []Candidate
	for {
		c, ok := sched.GetNextDLCandidate()
		if !ok {
			break
		}
		candidates = append(candidates, c)
	}
	require.NotEmpty(t, candidates)
	first := candidates[0]
	assert.Equal(t, sliceAID, first.SliceID)
	assert.Equal(t, uint32(0), first.RBLims.Start)
	assert.Equal(t, uint32(106), first.RBLims.Stop, "both halves share slice and slot, so retrieval merges them")
}

func TestSlotIndication_InactiveSlicesProduceNoCandidates(t *testing.T) {
	cell := twoSliceCell()
	set := slice.NewSet(cell)
	sched := NewScheduler(set, cell.NofPRBs, true)

	sched.SlotIndication(ran.NewSlotPoint(1, 0), true, false, nil)
	_, ok := sched.GetNextDLCandidate()
	assert.False(t, ok, "no active UEs in any slice beyond SRB/default, which also have none here")
}

func TestPriority_SkipsInactiveSlice(t *testing.T) {
	inst := sliceInstanceFixture(t)
	got := priority(inst, true, ran.NewSlotPoint(1, 0), ran.NewSlotPoint(1, 0), false)
	assert.Equal(t, skipPriority, got)
}

func TestPriority_CloserPXSCHWinsOverFartherOne(t *testing.T) {
	inst := sliceInstanceFixture(t)
	inst.UEs.Add(ue.NewContext(1, 0x4601, cellcfg.HARQModeA, 8, 8))

	pdcch := ran.NewSlotPoint(1, 100)
	near := priority(inst, true, pdcch, pdcch.Add(1), false)
	far := priority(inst, true, pdcch, pdcch.Add(10), false)
	assert.Greater(t, near, far)
}

func TestPriority_MinRBGateRaisesPriority(t *testing.T) {
	inst := sliceInstanceFixture(t)
	inst.UEs.Add(ue.NewContext(1, 0x4601, cellcfg.HARQModeA, 8, 8))

	pdcch := ran.NewSlotPoint(1, 100)
	gated := priority(inst, true, pdcch, pdcch, true)
	ungated := priority(inst, true, pdcch, pdcch, false)
	assert.Greater(t, gated, ungated)
}

func TestPriority_NonZeroMarkerBitAlwaysSet(t *testing.T) {
	inst := sliceInstanceFixture(t)
	inst.UEs.Add(ue.NewContext(1, 0x4601, cellcfg.HARQModeA, 8, 8))
	got := priority(inst, true, ran.NewSlotPoint(1, 0), ran.NewSlotPoint(1, 0), false)
	assert.Equal(t, priorityType(1), got&1)
}

func sliceInstanceFixture(t *testing.T) *slice.Instance {
	t.Helper()
	cell := &cellcfg.Cell{NofPRBs: 106, Duplex: cellcfg.DuplexFDD}
	set := slice.NewSet(cell)
	inst, ok := set.Get(slice.DefaultDRBRANSliceID)
	require.True(t, ok)
	return inst
}
