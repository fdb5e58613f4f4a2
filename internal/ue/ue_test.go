package ue

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/your-org/gnb-scheduler/internal/cellcfg"
	"github.com/your-org/gnb-scheduler/internal/ran"
)

func TestNewContext_StartsInFallback(t *testing.T) {
	ctx := NewContext(1, 0x4601, cellcfg.HARQModeA, 8, 8)
	assert.True(t, ctx.IsFallback())
}

func TestApplyConfig_ExitsFallbackAndIsIdempotent(t *testing.T) {
	ctx := NewContext(1, 0x4601, cellcfg.HARQModeA, 8, 8)
	ctx.ApplyConfig()
	assert.False(t, ctx.IsFallback())
	ctx.ApplyConfig()
	assert.False(t, ctx.IsFallback())
}

func TestReconfigure_ReEntersFallback(t *testing.T) {
	ctx := NewContext(1, 0x4601, cellcfg.HARQModeA, 8, 8)
	ctx.ApplyConfig()
	require.False(t, ctx.IsFallback())
	ctx.Reconfigure()
	assert.True(t, ctx.IsFallback())
}

func TestDLBufferOccupancy_LastReportWins(t *testing.T) {
	ctx := NewContext(1, 0x4601, cellcfg.HARQModeA, 8, 8)
	ctx.BindDLChannel(4, 2)

	t0 := ran.NewSlotPoint(1, 100)
	ctx.UpdateDLBufferOccupancy(4, 1000, t0)
	ctx.UpdateDLBufferOccupancy(4, 500, t0)
	ctx.UpdateDLBufferOccupancy(4, 2000, t0.Add(1))

	channels := ctx.DLChannelsForSlice(2)
	require.Len(t, channels, 1)
	assert.Equal(t, uint32(2000), channels[0].PendingBytes)
}

func TestHasPendingDLBytes(t *testing.T) {
	ctx := NewContext(1, 0x4601, cellcfg.HARQModeA, 8, 8)
	ctx.BindDLChannel(5, 3)
	assert.False(t, ctx.HasPendingDLBytes(3))
	ctx.UpdateDLBufferOccupancy(5, 100, ran.NewSlotPoint(1, 0))
	assert.True(t, ctx.HasPendingDLBytes(3))
}

func TestSafeToDestroy(t *testing.T) {
	ctx := NewContext(1, 0x4601, cellcfg.HARQModeA, 8, 8)
	safeAfter := ran.NewSlotPoint(1, 100)
	ctx.MarkForRemoval(safeAfter)

	assert.False(t, ctx.SafeToDestroy(safeAfter))
	assert.True(t, ctx.SafeToDestroy(safeAfter.Add(1)))
}

func TestManager_CreateGetRemove(t *testing.T) {
	m := NewManager(cellcfg.HARQModeA, 8, 8, 0)
	m.Create(1, 0x4601)
	ctx, ok := m.Get(1)
	require.True(t, ok)
	assert.Equal(t, Index(1), ctx.Index)
	assert.Equal(t, 1, m.Count())

	m.Remove(1)
	_, ok = m.Get(1)
	assert.False(t, ok)
}

func TestManager_DrainSafeRemovals(t *testing.T) {
	m := NewManager(cellcfg.HARQModeA, 8, 8, 0)
	ctx := m.Create(1, 0x4601)
	safeAfter := ran.NewSlotPoint(1, 10)
	ctx.MarkForRemoval(safeAfter)

	removed := m.DrainSafeRemovals(safeAfter)
	assert.Empty(t, removed)
	assert.Equal(t, 1, m.Count())

	removed = m.DrainSafeRemovals(safeAfter.Add(1))
	assert.Equal(t, []Index{1}, removed)
	assert.Equal(t, 0, m.Count())
}
