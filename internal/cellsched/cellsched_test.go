package cellsched

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/your-org/gnb-scheduler/internal/cellcfg"
	"github.com/your-org/gnb-scheduler/internal/event"
	"github.com/your-org/gnb-scheduler/internal/grid"
	"github.com/your-org/gnb-scheduler/internal/interslice"
	"github.com/your-org/gnb-scheduler/internal/intraslice"
	"github.com/your-org/gnb-scheduler/internal/metrics"
	"github.com/your-org/gnb-scheduler/internal/policy"
	"github.com/your-org/gnb-scheduler/internal/ran"
	"github.com/your-org/gnb-scheduler/internal/slice"
	"github.com/your-org/gnb-scheduler/internal/uci"
	"github.com/your-org/gnb-scheduler/internal/ue"
)

func newFixtureCell() *cellcfg.Cell {
	return &cellcfg.Cell{
		CellIndex:  0,
		NofPRBs:    51,
		Numerology: 1,
		Duplex:     cellcfg.DuplexFDD,
	}
}

func newFixtureScheduler(t *testing.T) (*Scheduler, *slice.Set, *ue.Manager) {
	t.Helper()

	cell := newFixtureCell()
	require.NoError(t, cell.Validate())

	slices := slice.NewSet(cell)
	ring := grid.NewRing(64, cell.NofPRBs)
	interSlice := interslice.NewScheduler(slices, cell.NofPRBs, cell.EnableCSIRSPDSCHMultiplexing)
	intraSlice := intraslice.NewScheduler(policy.NewRoundRobin(1024), intraslice.Caps{
		MaxPDSCHsPerSlot:             16,
		MaxPUSCHsPerSlot:             16,
		MaxPUCCHsPerSlot:             32,
		MaxPDCCHAllocAttemptsPerSlot: 24,
		PrePolicyRRUEGroupSize:       4,
	})
	uciSched := uci.NewScheduler(nil)
	events := event.NewManager(256)
	events.RegisterCell(cell.CellIndex, 256)
	ues := ue.NewManager(cell.HARQMode, 8, 8, 0)
	logger := zap.NewNop()
	metricsHandler := metrics.NewHandler(logger, nil)

	deps := Deps{
		Cell:       cell,
		Ring:       ring,
		Slices:     slices,
		InterSlice: interSlice,
		IntraSlice: intraSlice,
		UCI:        uciSched,
		Events:     events,
		UEs:        ues,
		Metrics:    metricsHandler,
		Caps: intraslice.Caps{
			MaxPDSCHsPerSlot:             16,
			MaxPUSCHsPerSlot:             16,
			MaxPUCCHsPerSlot:             32,
			MaxPDCCHAllocAttemptsPerSlot: 24,
			PrePolicyRRUEGroupSize:       4,
		},
	}

	sched := NewScheduler(cell.CellIndex, "test-cell", deps, logger)
	return sched, slices, ues
}

func TestRunSlot_InactiveCellOnlyAdvancesGrid(t *testing.T) {
	sched, _, _ := newFixtureScheduler(t)
	ctx := context.Background()

	result, err := sched.RunSlot(ctx, ran.NewSlotPoint(1, 0))
	require.NoError(t, err)
	require.NotNil(t, result)
	require.Empty(t, result.PDSCHs)
	require.False(t, sched.Active())
}

func TestRunSlot_RequestStartActivatesCellNextSlot(t *testing.T) {
	sched, _, _ := newFixtureScheduler(t)
	ctx := context.Background()

	sched.RequestStart()
	_, err := sched.RunSlot(ctx, ran.NewSlotPoint(1, 0))
	require.NoError(t, err)
	require.True(t, sched.Active())
}

func TestRunSlot_RequestStopDeactivatesCell(t *testing.T) {
	sched, _, _ := newFixtureScheduler(t)
	ctx := context.Background()

	sched.RequestStart()
	_, err := sched.RunSlot(ctx, ran.NewSlotPoint(1, 0))
	require.NoError(t, err)
	require.True(t, sched.Active())

	sched.RequestStop()
	_, err = sched.RunSlot(ctx, ran.NewSlotPoint(1, 1))
	require.NoError(t, err)
	require.False(t, sched.Active())
}

func TestRunSlot_GrantsPDSCHForUEWithPendingBytes(t *testing.T) {
	sched, slices, ues := newFixtureScheduler(t)
	ctx := context.Background()

	ctx2 := ues.Create(1, 0x4601)
	ctx2.ApplyConfig()
	ctx2.BindDLChannel(4, slice.DefaultDRBRANSliceID)
	ctx2.UpdateDLBufferOccupancy(4, 5000, ran.NewSlotPoint(1, 0))
	inst, ok := slices.Get(slice.DefaultDRBRANSliceID)
	require.True(t, ok)
	inst.UEs.Add(ctx2)

	sched.RequestStart()
	slot := ran.NewSlotPoint(1, 0)
	result, err := sched.RunSlot(ctx, slot)
	require.NoError(t, err)
	require.True(t, sched.Active())
	require.NotEmpty(t, result.PDSCHs)
	require.Equal(t, uint32(0x4601), result.PDSCHs[0].RNTI)
}

func TestRunSlot_FastForwardsRingOverSkippedSlots(t *testing.T) {
	sched, _, _ := newFixtureScheduler(t)
	ctx := context.Background()

	sched.RequestStart()
	_, err := sched.RunSlot(ctx, ran.NewSlotPoint(1, 0))
	require.NoError(t, err)

	// Skip ahead several slots; the cell scheduler must not error even
	// though intermediate slots were never indicated.
	result, err := sched.RunSlot(ctx, ran.NewSlotPoint(1, 5))
	require.NoError(t, err)
	require.NotNil(t, result)
}

func TestHandleDLAck_DoesNotPanicOnUnknownSlot(t *testing.T) {
	sched, _, _ := newFixtureScheduler(t)
	sched.HandleDLAck(1, ran.NewSlotPoint(1, 40), 0, true)
}

func TestHandleErrorIndication_NoUEsDoesNotPanic(t *testing.T) {
	sched, _, _ := newFixtureScheduler(t)
	sched.HandleErrorIndication(ran.NewSlotPoint(1, 10))
}
