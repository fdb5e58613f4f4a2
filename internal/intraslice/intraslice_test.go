package intraslice

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/your-org/gnb-scheduler/internal/cellcfg"
	"github.com/your-org/gnb-scheduler/internal/grid"
	"github.com/your-org/gnb-scheduler/internal/harq"
	"github.com/your-org/gnb-scheduler/internal/policy"
	"github.com/your-org/gnb-scheduler/internal/ran"
	"github.com/your-org/gnb-scheduler/internal/slice"
	"github.com/your-org/gnb-scheduler/internal/ue"
)

// newFixture builds a scheduler plus one candidate's own HARQ manager, for
// single-candidate tests; multi-candidate tests build an extra manager per
// extra UE directly, since every UE owns its own HARQ process arrays.
func newFixture(t *testing.T, caps Caps) (*Scheduler, *harq.Manager, *slice.Instance, *grid.Ring, ran.SlotPoint) {
	t.Helper()
	h := harq.NewManager(cellcfg.HARQModeA, 8, 8)
	rr := policy.NewRoundRobin(1 << 20)
	s := NewScheduler(rr, caps)

	cell := &cellcfg.Cell{CellIndex: 0, NofPRBs: 51, Duplex: cellcfg.DuplexFDD}
	set := slice.NewSet(cell)
	inst, ok := set.Get(slice.DefaultDRBRANSliceID)
	require.True(t, ok)

	ring := grid.NewRing(64, 51)
	slotTx := ran.NewSlotPoint(0, 100)
	ring.SlotIndication(slotTx)

	return s, h, inst, ring, slotTx
}

func defaultCaps() Caps {
	return Caps{
		MaxPDSCHsPerSlot:             8,
		MaxPUSCHsPerSlot:             8,
		MaxPUCCHsPerSlot:             8,
		MaxPDCCHAllocAttemptsPerSlot: 16,
		PrePolicyRRUEGroupSize:       4,
	}
}

func TestScheduleDL_GrantsSingleCandidate(t *testing.T) {
	s, h, inst, ring, slotTx := newFixture(t, defaultCaps())
	ackSlot := slotTx.Add(4)

	candidates := []UECandidateInfo{
		{Index: 1, RNTI: 0x4601, PendingBytes: 500, PDCCHSlotUsable: true, PXSCHSlotUsable: true, HARQ: h},
	}

	res, status := s.ScheduleDL(inst, candidates, ring, slotTx, slotTx, ackSlot, ran.NewInterval(0, 51), 1)
	require.Equal(t, AllocSuccess, status)
	require.Len(t, res.Grants, 1)
	assert.False(t, res.Grants[0].IsRetx)
	assert.Greater(t, res.Grants[0].PRBs.Length(), uint32(0))
	assert.Equal(t, ue.Index(1), res.Grants[0].UEIndex)
}

func TestScheduleDL_NoCandidatesWithoutPendingBytes(t *testing.T) {
	s, h, inst, ring, slotTx := newFixture(t, defaultCaps())
	ackSlot := slotTx.Add(4)

	candidates := []UECandidateInfo{
		{Index: 1, RNTI: 0x4601, PendingBytes: 0, PDCCHSlotUsable: true, PXSCHSlotUsable: true, HARQ: h},
	}

	res, status := s.ScheduleDL(inst, candidates, ring, slotTx, slotTx, ackSlot, ran.NewInterval(0, 51), 1)
	require.Equal(t, AllocSuccess, status)
	assert.Empty(t, res.Grants)
}

func TestScheduleDL_FallbackUEExcludedFromNewTx(t *testing.T) {
	s, h, inst, ring, slotTx := newFixture(t, defaultCaps())
	ackSlot := slotTx.Add(4)

	candidates := []UECandidateInfo{
		{Index: 1, RNTI: 0x4601, PendingBytes: 500, Fallback: true, PDCCHSlotUsable: true, PXSCHSlotUsable: true, HARQ: h},
	}

	res, status := s.ScheduleDL(inst, candidates, ring, slotTx, slotTx, ackSlot, ran.NewInterval(0, 51), 1)
	require.Equal(t, AllocSuccess, status)
	assert.Empty(t, res.Grants)
}

func TestScheduleDL_SplitsRBBudgetAcrossMultipleCandidates(t *testing.T) {
	s, h1, inst, ring, slotTx := newFixture(t, defaultCaps())
	h2 := harq.NewManager(cellcfg.HARQModeA, 8, 8)
	ackSlot := slotTx.Add(4)

	candidates := []UECandidateInfo{
		{Index: 1, RNTI: 0x4601, PendingBytes: 2000, PDCCHSlotUsable: true, PXSCHSlotUsable: true, HARQ: h1},
		{Index: 2, RNTI: 0x4602, PendingBytes: 2000, PDCCHSlotUsable: true, PXSCHSlotUsable: true, HARQ: h2},
	}

	res, status := s.ScheduleDL(inst, candidates, ring, slotTx, slotTx, ackSlot, ran.NewInterval(0, 51), 1)
	require.Equal(t, AllocSuccess, status)
	require.Len(t, res.Grants, 2)

	total := uint32(0)
	for _, g := range res.Grants {
		total += g.PRBs.Length()
	}
	assert.LessOrEqual(t, total, uint32(51))
}

func TestScheduleDL_RetransmissionPreservesTBS(t *testing.T) {
	s, h, inst, ring, slotTx := newFixture(t, defaultCaps())
	ackSlot := slotTx.Add(4)

	p, err := h.AllocDLHARQ(slotTx, ackSlot, inst.ID, 1000, ran.NewInterval(0, 10), 1)
	require.NoError(t, err)
	_, err = h.DLAckInfo(ackSlot, p.HARQID, false)
	require.NoError(t, err)
	require.Equal(t, harq.StatePendingRetx, h.DLProcess(p.HARQID).State)

	nextSlot := slotTx.Add(8)
	ring.SlotIndication(nextSlot)
	nextAck := nextSlot.Add(4)

	candidates := []UECandidateInfo{
		{Index: 1, RNTI: 0x4601, PDCCHSlotUsable: true, PXSCHSlotUsable: true, HARQ: h},
	}

	res, status := s.ScheduleDL(inst, candidates, ring, nextSlot, nextSlot, nextAck, ran.NewInterval(0, 51), 1)
	require.Equal(t, AllocSuccess, status)
	require.Len(t, res.Grants, 1)
	assert.True(t, res.Grants[0].IsRetx)
	assert.Equal(t, uint32(1000), res.Grants[0].TBS)
	assert.Equal(t, uint32(10), res.Grants[0].PRBs.Length())
	assert.Equal(t, ue.Index(1), res.Grants[0].UEIndex)
	assert.Equal(t, harq.StateWaitingACK, h.DLProcess(p.HARQID).State)
}

func TestScheduleDL_RespectsMaxPDSCHsPerSlotCap(t *testing.T) {
	caps := defaultCaps()
	caps.MaxPDSCHsPerSlot = 1
	s, h1, inst, ring, slotTx := newFixture(t, caps)
	h2 := harq.NewManager(cellcfg.HARQModeA, 8, 8)
	ackSlot := slotTx.Add(4)

	candidates := []UECandidateInfo{
		{Index: 1, RNTI: 0x4601, PendingBytes: 500, PDCCHSlotUsable: true, PXSCHSlotUsable: true, HARQ: h1},
		{Index: 2, RNTI: 0x4602, PendingBytes: 500, PDCCHSlotUsable: true, PXSCHSlotUsable: true, HARQ: h2},
	}

	res, status := s.ScheduleDL(inst, candidates, ring, slotTx, slotTx, ackSlot, ran.NewInterval(0, 51), 1)
	require.Equal(t, AllocSuccess, status)
	assert.LessOrEqual(t, len(res.Grants), 1)
}

func TestScheduleUL_GrantsSingleCandidate(t *testing.T) {
	s, h, inst, ring, slotTx := newFixture(t, defaultCaps())

	candidates := []UECandidateInfo{
		{Index: 1, RNTI: 0x4601, PendingBytes: 500, PDCCHSlotUsable: true, PXSCHSlotUsable: true, HARQ: h},
	}

	res, status := s.ScheduleUL(inst, candidates, ring, slotTx, slotTx, ran.NewInterval(0, 51))
	require.Equal(t, AllocSuccess, status)
	require.Len(t, res.Grants, 1)
	assert.Greater(t, res.Grants[0].PRBs.Length(), uint32(0))
}

func TestScheduleDL_SkipsSlotOutsideRing(t *testing.T) {
	s, _, inst, ring, slotTx := newFixture(t, defaultCaps())
	staleSlot := slotTx.Add(-100)
	ackSlot := staleSlot.Add(4)

	res, status := s.ScheduleDL(inst, nil, ring, staleSlot, staleSlot, ackSlot, ran.NewInterval(0, 51), 1)
	assert.Equal(t, AllocSkipSlot, status)
	assert.Empty(t, res.Grants)
}
