package uci

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/your-org/gnb-scheduler/internal/cellcfg"
	"github.com/your-org/gnb-scheduler/internal/ran"
)

func TestRegister_RepeatsAcrossWheelAtPeriod(t *testing.T) {
	s := NewScheduler(nil)
	require.NoError(t, s.Register(cellcfg.PeriodicResourceTemplate{Kind: cellcfg.PeriodicResourceSR, PeriodSlots: 20, OffsetSlots: 5}))

	assert.Len(t, s.PeriodicResourcesDue(ran.NewSlotPoint(1, 5)), 1)
	assert.Len(t, s.PeriodicResourcesDue(ran.NewSlotPoint(1, 25)), 1)
	assert.Len(t, s.PeriodicResourcesDue(ran.NewSlotPoint(1, 6)), 0)
}

func TestAllocHARQACKPUCCH_MultiplexesOnPUSCHWhenPresent(t *testing.T) {
	s := NewScheduler(nil)
	_, mux, ok := s.AllocHARQACKPUCCH(ran.NewSlotPoint(1, 10), 0x4601, true, []uint16{1, 2})
	require.True(t, ok)
	assert.True(t, mux)
}

func TestAllocHARQACKPUCCH_ReusesExistingResourceForSameUE(t *testing.T) {
	s := NewScheduler(nil)
	ackSlot := ran.NewSlotPoint(1, 10)
	first, _, ok := s.AllocHARQACKPUCCH(ackSlot, 0x4601, false, []uint16{1, 2})
	require.True(t, ok)

	second, mux, ok := s.AllocHARQACKPUCCH(ackSlot, 0x4601, false, []uint16{3, 4})
	require.True(t, ok)
	assert.False(t, mux)
	assert.Equal(t, first, second, "second request for the same (UE, slot) must merge onto the existing resource")
}

func TestAllocHARQACKPUCCH_NoCandidatesFails(t *testing.T) {
	s := NewScheduler(nil)
	_, _, ok := s.AllocHARQACKPUCCH(ran.NewSlotPoint(1, 1), 0x4601, false, nil)
	assert.False(t, ok)
}

func TestPositioning_FlagLifecycle(t *testing.T) {
	s := NewScheduler(nil)
	const rnti = 0x9001
	assert.False(t, s.PositioningRequested(rnti))
	s.StartPositioning(rnti)
	assert.True(t, s.PositioningRequested(rnti))
	s.StopPositioning(rnti)
	assert.False(t, s.PositioningRequested(rnti))
}
