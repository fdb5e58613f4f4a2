package harq

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/your-org/gnb-scheduler/internal/cellcfg"
	"github.com/your-org/gnb-scheduler/internal/ran"
)

func TestAllocDLHARQ_MovesToWaitingAck(t *testing.T) {
	m := NewManager(cellcfg.HARQModeA, 64, 64)
	pdsch := ran.NewSlotPoint(1, 100)
	ack := pdsch.Add(4)

	p, err := m.AllocDLHARQ(pdsch, ack, 2, 1500, ran.NewInterval(0, 20), 1)
	require.NoError(t, err)
	assert.Equal(t, StateWaitingACK, p.State)
	assert.Equal(t, 1, p.PUCCHCounter)
	assert.Equal(t, uint32(2), p.SliceID)
}

func TestAllocDLHARQ_NoEmptyProcess(t *testing.T) {
	m := NewManager(cellcfg.HARQModeA, 64, 64)
	pdsch := ran.NewSlotPoint(1, 0)
	for i := 0; i < MaxNofHARQs; i++ {
		_, err := m.AllocDLHARQ(pdsch, pdsch.Add(4), 0, 1000, ran.Interval{}, 1)
		require.NoError(t, err)
	}
	_, err := m.AllocDLHARQ(pdsch, pdsch.Add(4), 0, 1000, ran.Interval{}, 1)
	assert.Error(t, err)
}

func TestDLAckInfo_AckedTransitionsToEmpty(t *testing.T) {
	m := NewManager(cellcfg.HARQModeA, 64, 64)
	pdsch := ran.NewSlotPoint(1, 100)
	ack := pdsch.Add(4)
	p, _ := m.AllocDLHARQ(pdsch, ack, 0, 1000, ran.Interval{}, 1)

	tag, err := m.DLAckInfo(ack, p.HARQID, true)
	require.NoError(t, err)
	assert.Equal(t, AckAcked, tag)
	assert.Equal(t, StateEmpty, m.DLProcess(p.HARQID).State)
}

func TestDLAckInfo_PUCCHCounterReachesZeroOnNack(t *testing.T) {
	m := NewManager(cellcfg.HARQModeA, 64, 64)
	pdsch := ran.NewSlotPoint(1, 100)
	ack := pdsch.Add(4)
	p, _ := m.AllocDLHARQ(pdsch, ack, 0, 1000, ran.Interval{}, 2)

	tag, err := m.DLAckInfo(ack, p.HARQID, false)
	require.NoError(t, err)
	assert.Equal(t, AckStillWaiting, tag)
	assert.Equal(t, StateWaitingACK, m.DLProcess(p.HARQID).State)

	tag, err = m.DLAckInfo(ack, p.HARQID, false)
	require.NoError(t, err)
	assert.Equal(t, AckNacked, tag)
	assert.Equal(t, StatePendingRetx, m.DLProcess(p.HARQID).State)
}

func TestUCISchedFailed_MarksBoundProcessesNack(t *testing.T) {
	m := NewManager(cellcfg.HARQModeA, 64, 64)
	pdsch := ran.NewSlotPoint(1, 100)
	ack := pdsch.Add(4)
	p, _ := m.AllocDLHARQ(pdsch, ack, 0, 1000, ran.Interval{}, 1)

	m.UCISchedFailed(ack)
	assert.Equal(t, StatePendingRetx, m.DLProcess(p.HARQID).State)
}

func TestExpireTimers_RetxTimeout(t *testing.T) {
	m := NewManager(cellcfg.HARQModeA, 4, 4)
	pdsch := ran.NewSlotPoint(1, 0)
	p, _ := m.AllocDLHARQ(pdsch, pdsch.Add(100), 0, 1000, ran.Interval{}, 1)

	m.ExpireTimers(pdsch.Add(4))
	assert.Equal(t, StatePendingRetx, m.DLProcess(p.HARQID).State)
}

func TestExpireTimers_ACKTimeout(t *testing.T) {
	m := NewManager(cellcfg.HARQModeA, 1000, 1000)
	m.SetACKTimeoutSlots(240)
	pdsch := ran.NewSlotPoint(1, 0)
	p, _ := m.AllocDLHARQ(pdsch, pdsch.Add(4), 0, 1000, ran.Interval{}, 1)

	timedOut := m.ExpireTimers(pdsch.Add(240))
	require.Len(t, timedOut, 1)
	assert.Equal(t, p.HARQID, timedOut[0])
}

func TestDiscardPUSCHAndPUCCH(t *testing.T) {
	m := NewManager(cellcfg.HARQModeA, 64, 64)
	pusch := ran.NewSlotPoint(1, 50)
	_, err := m.AllocULHARQ(pusch, 1, 512, ran.NewInterval(0, 10))
	require.NoError(t, err)
	pdsch := ran.NewSlotPoint(1, 46)
	ack := pusch
	dlp, err := m.AllocDLHARQ(pdsch, ack, 1, 800, ran.Interval{}, 1)
	require.NoError(t, err)

	m.DiscardPUSCHAndPUCCH(pusch)

	assert.Equal(t, StateEmpty, m.ULProcess(0).State)
	assert.Equal(t, StatePendingRetx, m.DLProcess(dlp.HARQID).State)
}
