package slice

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/your-org/gnb-scheduler/internal/cellcfg"
	"github.com/your-org/gnb-scheduler/internal/ran"
	"github.com/your-org/gnb-scheduler/internal/ue"
)

func testCell() *cellcfg.Cell {
	return &cellcfg.Cell{
		NofPRBs: 106,
		Duplex:  cellcfg.DuplexFDD,
		RRMPolicyMembers: []cellcfg.RRMPolicyMember{
			{PLMN: "00101", SNSSAI: 1, MinRB: 10, MaxRB: 106, Priority: 300},
		},
	}
}

func TestNewSet_ReservedSlicesConstructedPerContract(t *testing.T) {
	set := NewSet(testCell())

	srb, ok := set.Get(SRBRANSliceID)
	require.True(t, ok)
	assert.Equal(t, uint32(106), srb.Cfg.MinRB)
	assert.Equal(t, uint32(106), srb.Cfg.MaxRB)
	assert.Equal(t, MaxPriority, srb.Cfg.Priority)

	def, ok := set.Get(DefaultDRBRANSliceID)
	require.True(t, ok)
	assert.Equal(t, uint32(0), def.Cfg.MinRB)
	assert.Equal(t, uint32(106), def.Cfg.MaxRB)

	configured, ok := set.Get(firstConfiguredID)
	require.True(t, ok)
	assert.Equal(t, uint32(10), configured.Cfg.MinRB)
	assert.Equal(t, MaxPriority, configured.Cfg.Priority, "priority 300 must clamp to 0xFF")
}

func TestResolveLCID_SRBGoesToReservedSlice(t *testing.T) {
	set := NewSet(testCell())
	got := set.ResolveLCID(1, "00101", 1, testCell().RRMPolicyMembers)
	assert.Equal(t, SRBRANSliceID, got)
}

func TestResolveLCID_MatchedDRBGoesToConfiguredSlice(t *testing.T) {
	cell := testCell()
	set := NewSet(cell)
	got := set.ResolveLCID(ue.LCIDMinDRB, "00101", 1, cell.RRMPolicyMembers)
	assert.Equal(t, firstConfiguredID, got)
}

func TestResolveLCID_UnmatchedDRBGoesToDefault(t *testing.T) {
	cell := testCell()
	set := NewSet(cell)
	got := set.ResolveLCID(ue.LCIDMinDRB, "99999", 7, cell.RRMPolicyMembers)
	assert.Equal(t, DefaultDRBRANSliceID, got)
}

func TestInstance_NofSlotsSinceLastPDSCH_NeverAllocated(t *testing.T) {
	inst := newInstance(5, RRMContract{MaxRB: 106})
	now := ran.NewSlotPoint(1, 1000)
	assert.Equal(t, uint32(maxSlotsSinceLastPXSCH), inst.NofSlotsSinceLastPDSCH(now))
}

func TestInstance_StorePDSCHGrantUpdatesDelayAndAverage(t *testing.T) {
	inst := newInstance(5, RRMContract{MaxRB: 106})
	slot := ran.NewSlotPoint(1, 100)
	inst.StorePDSCHGrant(20, slot)

	assert.Equal(t, uint32(0), inst.NofSlotsSinceLastPDSCH(slot))
	assert.Equal(t, uint32(4), inst.NofSlotsSinceLastPDSCH(slot.Add(4)))
	assert.InDelta(t, 20*ewmaDecay, inst.AveragePDSCHRBsPerSlot(), 1e-9)
}

func TestInstance_ActiveReflectsUERepository(t *testing.T) {
	inst := newInstance(5, RRMContract{MaxRB: 106})
	assert.False(t, inst.Active())
	inst.UEs.Add(ue.NewContext(1, 0x4601, cellcfg.HARQModeA, 8, 8))
	assert.True(t, inst.Active())
}

func TestHandleReconfigurationRequest(t *testing.T) {
	cell := testCell()
	set := NewSet(cell)
	ok := set.HandleReconfigurationRequest("00101", 1, cell.RRMPolicyMembers, RRMContract{MinRB: 40, MaxRB: 80})
	require.True(t, ok)
	inst, _ := set.Get(firstConfiguredID)
	assert.Equal(t, uint32(40), inst.Cfg.MinRB)
	assert.Equal(t, uint32(80), inst.Cfg.MaxRB)

	ok = set.HandleReconfigurationRequest("nope", 99, cell.RRMPolicyMembers, RRMContract{})
	assert.False(t, ok)
}
