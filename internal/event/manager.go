package event

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/your-org/gnb-scheduler/internal/ran"
	"github.com/your-org/gnb-scheduler/internal/ue"
)

// DefaultQueueSize is the default per-queue capacity; must stay a power
// of two.
const DefaultQueueSize = 1024

// dlBOKey identifies one (UE, LCID) DL buffer-occupancy table entry.
type dlBOKey struct {
	ue   ue.Index
	lcid ue.LCID
}

type dlBOEntry struct {
	pendingBytes uint32
	holArrival   ran.SlotPoint
}

// Manager merges external PHY/config events into one or more cell
// pipelines: one cell-agnostic queue for UE lifecycle events, one
// per-cell queue for feedback (CRC, UCI, SRS, BSR, PHR, MAC-CE,
// error-indication, positioning). DL buffer-occupancy reports bypass
// those queues: they are coalesced in a per-(UE, LCID) table with its
// own work-item queue, drained by DrainDLBufferOccupancy. Payloads travel
// inside each Record's Apply closure; Manager keeps no payload pools
// (Pool is a separate type that Manager does not use).
type Manager struct {
	common *Queue
	cells  map[uint32]*Queue

	mu    sync.Mutex
	dlBO  map[dlBOKey]dlBOEntry
	dlBOQ *Queue

	OverflowCount uint64
}

// NewManager builds an event manager with the given per-queue capacity.
func NewManager(queueSize uint64) *Manager {
	if queueSize == 0 {
		queueSize = DefaultQueueSize
	}
	return &Manager{
		common: NewQueue(queueSize),
		cells:  make(map[uint32]*Queue),
		dlBO:   make(map[dlBOKey]dlBOEntry),
		dlBOQ:  NewQueue(queueSize),
	}
}

// RegisterCell installs a per-cell queue; must be called before any
// per-cell event is enqueued for that cell.
func (m *Manager) RegisterCell(cellIndex uint32, queueSize uint64) {
	if queueSize == 0 {
		queueSize = DefaultQueueSize
	}
	m.cells[cellIndex] = NewQueue(queueSize)
}

// StopCell drains and removes a cell's queue, refusing new enqueues for
// it, matching the "stopping a cell drains its queue" cancellation
// contract.
func (m *Manager) StopCell(cellIndex uint32) {
	if q, ok := m.cells[cellIndex]; ok {
		q.Drain(func(Record) {})
		delete(m.cells, cellIndex)
	}
}

// EnqueueCommon pushes a cell-agnostic (UE lifecycle) event. Logs a drop
// via the returned ok=false rather than blocking the producer.
func (m *Manager) EnqueueCommon(r Record) (ok bool) {
	if r.CorrelationID == "" {
		r.CorrelationID = uuid.NewString()
	}
	ok = m.common.Push(r)
	if !ok {
		atomic.AddUint64(&m.OverflowCount, 1)
	}
	return ok
}

// EnqueueCell pushes a per-cell feedback event. Returns false (no-op) if
// the cell has been stopped or its queue is full.
func (m *Manager) EnqueueCell(cellIndex uint32, r Record) (ok bool) {
	q, exists := m.cells[cellIndex]
	if !exists {
		return false
	}
	if r.CorrelationID == "" {
		r.CorrelationID = uuid.NewString()
	}
	ok = q.Push(r)
	if !ok {
		atomic.AddUint64(&m.OverflowCount, 1)
	}
	return ok
}

// ReportDLBufferOccupancy coalesces multiple reports for the same (UE,
// LCID) between slots into the latest value: the first report since the
// last drain pushes a work item, subsequent ones before the next drain
// just overwrite the table entry.
func (m *Manager) ReportDLBufferOccupancy(ueIdx ue.Index, lcid ue.LCID, pendingBytes uint32, holArrival ran.SlotPoint) {
	key := dlBOKey{ue: ueIdx, lcid: lcid}

	m.mu.Lock()
	_, alreadyPending := m.dlBO[key]
	m.dlBO[key] = dlBOEntry{pendingBytes: pendingBytes, holArrival: holArrival}
	m.mu.Unlock()

	if !alreadyPending {
		m.dlBOQ.Push(Record{UEIndex: uint32(ueIdx), LCID: uint8(lcid), Name: "dl_buffer_occupancy"})
	}
}

// DrainCommon delivers every queued cell-agnostic event in FIFO order.
func (m *Manager) DrainCommon() int {
	return m.common.Drain(func(r Record) {
		if r.Apply != nil {
			r.Apply()
		}
	})
}

// DrainCell delivers every queued per-cell event for cellIndex in FIFO
// order, after common events have been delivered — the CRC/UCI/SRS
// feedback path runs second in delivery order.
func (m *Manager) DrainCell(cellIndex uint32) int {
	q, exists := m.cells[cellIndex]
	if !exists {
		return 0
	}
	return q.Drain(func(r Record) {
		if r.Apply != nil {
			r.Apply()
		}
	})
}

// DrainDLBufferOccupancy drains the coalesced-event queue, reading each
// table entry once (atomically removing it so a report arriving during
// drain re-arms a fresh work item) and invoking apply with the current
// value.
func (m *Manager) DrainDLBufferOccupancy(apply func(ue.Index, ue.LCID, uint32, ran.SlotPoint)) int {
	return m.dlBOQ.Drain(func(r Record) {
		key := dlBOKey{ue: ue.Index(r.UEIndex), lcid: ue.LCID(r.LCID)}

		m.mu.Lock()
		entry, ok := m.dlBO[key]
		delete(m.dlBO, key)
		m.mu.Unlock()

		if ok {
			apply(key.ue, key.lcid, entry.pendingBytes, entry.holArrival)
		}
	})
}
