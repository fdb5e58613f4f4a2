// Package harq implements the per-UE-cell HARQ process state machine: a
// fixed-size array of DL/UL processes owned by exactly one UE-cell, its
// retransmission timers and ACK-timeout handling. Every UE-cell gets its
// own Manager; nothing in this package is shared across UEs.
package harq

import (
	"fmt"

	"github.com/your-org/gnb-scheduler/internal/cellcfg"
	"github.com/your-org/gnb-scheduler/internal/ran"
)

// MaxNofHARQs bounds the per-direction HARQ process array size.
const MaxNofHARQs = 16

// DefaultACKTimeoutSlots is the grace window after which a still
// waiting-ack process is force-expired and reported as timeout.
const DefaultACKTimeoutSlots = 240

// State is one HARQ process's lifecycle state.
type State uint8

const (
	StateEmpty State = iota
	StateWaitingACK
	StatePendingRetx
)

func (s State) String() string {
	switch s {
	case StateWaitingACK:
		return "waiting-ack"
	case StatePendingRetx:
		return "pending-retx"
	default:
		return "empty"
	}
}

// AckTag is the terminal/non-terminal outcome of DLAckInfo.
type AckTag uint8

const (
	AckStillWaiting AckTag = iota
	AckAcked
	AckNacked
)

// Process is one HARQ process, DL or UL symmetrically: state, NDI, RV,
// TBS, originating slice, expected ACK slot and PUCCH bookkeeping.
type Process struct {
	HARQID        uint8
	State         State
	NDI           bool
	RV            uint8
	TBS           uint32
	SliceID       uint32
	PRBs          ran.Interval
	AckSlot       ran.SlotPoint
	PUCCHCounter  int
	RetxTimeoutAt ran.SlotPoint
	allocatedAt   ran.SlotPoint
}

func newProcess(id uint8) Process {
	return Process{HARQID: id, State: StateEmpty, AckSlot: ran.InvalidSlotPoint(), RetxTimeoutAt: ran.InvalidSlotPoint()}
}

// AllocatedAt returns the slot the process was last (re)allocated in, for
// comparing pending-retx age across several UEs' managers.
func (p *Process) AllocatedAt() ran.SlotPoint { return p.allocatedAt }

// Manager owns one UE-cell's DL and UL HARQ process arrays (<=
// MaxNofHARQs each). A cell with N active UEs therefore runs N Managers,
// not one shared pool.
type Manager struct {
	mode             cellcfg.HARQMode
	dlRetxTimeout    uint32
	ulRetxTimeout    uint32
	ackTimeoutSlots  uint32
	dl               [MaxNofHARQs]Process
	ul               [MaxNofHARQs]Process
}

// NewManager builds a HARQ manager with the given mode and retx timeouts
// (in slots).
func NewManager(mode cellcfg.HARQMode, dlRetxTimeoutSlots, ulRetxTimeoutSlots uint32) *Manager {
	m := &Manager{mode: mode, dlRetxTimeout: dlRetxTimeoutSlots, ulRetxTimeout: ulRetxTimeoutSlots, ackTimeoutSlots: DefaultACKTimeoutSlots}
	for i := range m.dl {
		m.dl[i] = newProcess(uint8(i))
		m.ul[i] = newProcess(uint8(i))
	}
	return m
}

// SetACKTimeoutSlots overrides the default ACK grace window.
func (m *Manager) SetACKTimeoutSlots(n uint32) { m.ackTimeoutSlots = n }

// findEmptyDL returns the index of an empty DL process, or -1.
func (m *Manager) findEmptyDL() int {
	for i := range m.dl {
		if m.dl[i].State == StateEmpty {
			return i
		}
	}
	return -1
}

func (m *Manager) findEmptyUL() int {
	for i := range m.ul {
		if m.ul[i].State == StateEmpty {
			return i
		}
	}
	return -1
}

// HasEmptyDL/HasEmptyUL let the intra-slice scheduler check HARQ
// availability before building a newTx candidate.
func (m *Manager) HasEmptyDL() bool { return m.findEmptyDL() >= 0 }
func (m *Manager) HasEmptyUL() bool { return m.findEmptyUL() >= 0 }

// NextPendingRetxDL/NextPendingRetxUL return the oldest pending-retx
// process for the given slice, if any, for Stage 0 retransmission
// scheduling ("oldest first"). The returned pointer aliases the manager's
// internal state; RetxDLHARQ/RetxULHARQ transition it once the caller
// commits a grant.
func (m *Manager) NextPendingRetxDL(sliceID uint32) (*Process, bool) {
	return oldestPendingRetx(m.dl[:], sliceID)
}

func (m *Manager) NextPendingRetxUL(sliceID uint32) (*Process, bool) {
	return oldestPendingRetx(m.ul[:], sliceID)
}

func oldestPendingRetx(procs []Process, sliceID uint32) (*Process, bool) {
	best := -1
	for i := range procs {
		if procs[i].State != StatePendingRetx || procs[i].SliceID != sliceID {
			continue
		}
		if best == -1 || procs[i].allocatedAt.Before(procs[best].allocatedAt) {
			best = i
		}
	}
	if best == -1 {
		return nil, false
	}
	return &procs[best], true
}

// AllocDLHARQ returns an empty DL process and moves it to waiting-ack,
// initialising pucch_counter to the number of PUCCH resources expected to
// carry its ACK bit.
func (m *Manager) AllocDLHARQ(pdschSlot, ackSlot ran.SlotPoint, sliceID uint32, tbs uint32, prbs ran.Interval, pucchOccasions int) (*Process, error) {
	idx := m.findEmptyDL()
	if idx < 0 {
		return nil, fmt.Errorf("harq: no empty DL process available")
	}
	p := &m.dl[idx]
	p.State = StateWaitingACK
	p.SliceID = sliceID
	p.TBS = tbs
	p.PRBs = prbs
	p.AckSlot = ackSlot
	p.PUCCHCounter = pucchOccasions
	p.allocatedAt = pdschSlot
	p.RetxTimeoutAt = pdschSlot.Add(int(m.dlRetxTimeout))
	p.NDI = !p.NDI
	p.RV = 0
	return p, nil
}

// AllocULHARQ is the UL analogue of AllocDLHARQ: PUSCH grants have no
// PUCCH counter, their completion is driven by the CRC indication instead.
func (m *Manager) AllocULHARQ(puschSlot ran.SlotPoint, sliceID uint32, tbs uint32, prbs ran.Interval) (*Process, error) {
	idx := m.findEmptyUL()
	if idx < 0 {
		return nil, fmt.Errorf("harq: no empty UL process available")
	}
	p := &m.ul[idx]
	p.State = StateWaitingACK
	p.SliceID = sliceID
	p.TBS = tbs
	p.PRBs = prbs
	p.allocatedAt = puschSlot
	p.RetxTimeoutAt = puschSlot.Add(int(m.ulRetxTimeout))
	p.NDI = !p.NDI
	p.RV = 0
	return p, nil
}

// RetxDLHARQ transitions a pending-retx DL process back to waiting-ack
// for a retransmission, preserving its original TBS/PRBs/slice binding
// (the HARQ retains its original TBS and RB count, modulo Ncb) and
// rebinding it to the new PDSCH/ack slots.
func (m *Manager) RetxDLHARQ(harqID uint8, pdschSlot, ackSlot ran.SlotPoint, pucchOccasions int) (*Process, error) {
	p := &m.dl[harqID]
	if p.State != StatePendingRetx {
		return nil, fmt.Errorf("harq: dl process %d is not pending-retx", harqID)
	}
	p.State = StateWaitingACK
	p.AckSlot = ackSlot
	p.PUCCHCounter = pucchOccasions
	p.allocatedAt = pdschSlot
	p.RetxTimeoutAt = pdschSlot.Add(int(m.dlRetxTimeout))
	p.RV = nextRV(p.RV)
	return p, nil
}

// RetxULHARQ is the UL analogue of RetxDLHARQ.
func (m *Manager) RetxULHARQ(harqID uint8, puschSlot ran.SlotPoint) (*Process, error) {
	p := &m.ul[harqID]
	if p.State != StatePendingRetx {
		return nil, fmt.Errorf("harq: ul process %d is not pending-retx", harqID)
	}
	p.State = StateWaitingACK
	p.allocatedAt = puschSlot
	p.RetxTimeoutAt = puschSlot.Add(int(m.ulRetxTimeout))
	p.RV = nextRV(p.RV)
	return p, nil
}

// nextRV cycles the redundancy version through the standard {0, 2, 3, 1}
// sequence used by the 3GPP rate-matching scheme.
func nextRV(cur uint8) uint8 {
	seq := [4]uint8{0, 2, 3, 1}
	for i, v := range seq {
		if v == cur {
			return seq[(i+1)%len(seq)]
		}
	}
	return 2
}

// DLAckInfo finds the waiting-ack DL process bound to (ackSlot,
// harqBitIndex), decrements its PUCCH counter and records the ACK/NACK.
// Only the terminal tags (Acked/Nacked) should propagate to metrics and
// link adaptation.
func (m *Manager) DLAckInfo(ackSlot ran.SlotPoint, harqBitIndex uint8, acked bool) (AckTag, error) {
	idx := int(harqBitIndex)
	if idx < 0 || idx >= len(m.dl) {
		return AckStillWaiting, fmt.Errorf("harq: harq bit index %d out of range", harqBitIndex)
	}
	p := &m.dl[idx]
	if p.State != StateWaitingACK || !p.AckSlot.Equal(ackSlot) {
		return AckStillWaiting, fmt.Errorf("harq: no waiting-ack DL process bound to ack slot %s, harq-id %d", ackSlot, harqBitIndex)
	}
	if acked {
		p.State = StateEmpty
		return AckAcked, nil
	}
	p.PUCCHCounter--
	if p.PUCCHCounter <= 0 {
		p.State = StatePendingRetx
		return AckNacked, nil
	}
	return AckStillWaiting, nil
}

// UCISchedFailed marks every DL process bound to ackSlot as NACK without
// updating link adaptation, used by error-indication recovery.
func (m *Manager) UCISchedFailed(ackSlot ran.SlotPoint) {
	for i := range m.dl {
		if m.dl[i].State == StateWaitingACK && m.dl[i].AckSlot.Equal(ackSlot) {
			m.dl[i].State = StatePendingRetx
		}
	}
}

// ExpireTimers advances retx timers and the ACK-timeout grace window at
// the given current slot. Returns the HARQ-ids that force-expired via
// ACK-timeout for metrics/logging.
func (m *Manager) ExpireTimers(now ran.SlotPoint) (timedOut []uint8) {
	for i := range m.dl {
		p := &m.dl[i]
		if p.State == StateWaitingACK && p.RetxTimeoutAt.Valid() && !now.Before(p.RetxTimeoutAt) {
			p.State = StatePendingRetx
			continue
		}
		if p.State == StateWaitingACK && now.Sub(p.allocatedAt) >= int(m.ackTimeoutSlotsFor(true)) {
			p.State = StatePendingRetx
			timedOut = append(timedOut, p.HARQID)
		}
	}
	for i := range m.ul {
		p := &m.ul[i]
		if p.State == StateWaitingACK && p.RetxTimeoutAt.Valid() && !now.Before(p.RetxTimeoutAt) {
			p.State = StatePendingRetx
		}
	}
	return timedOut
}

func (m *Manager) ackTimeoutSlotsFor(dl bool) uint32 {
	return m.ackTimeoutSlots
}

// ResetDL/ResetUL forces a process back to empty explicitly (UE removal,
// reconfiguration fallback).
func (m *Manager) ResetDL(harqID uint8) { m.dl[harqID] = newProcess(harqID) }
func (m *Manager) ResetUL(harqID uint8) { m.ul[harqID] = newProcess(harqID) }

// DLProcess/ULProcess expose a process by id for read-only inspection
// (tests, metrics).
func (m *Manager) DLProcess(harqID uint8) *Process { return &m.dl[harqID] }
func (m *Manager) ULProcess(harqID uint8) *Process { return &m.ul[harqID] }

// DiscardPUSCHAndPUCCH implements the error-indication recovery contract
// for `pusch_and_pucch_discarded` at slot S: every UL HARQ scheduled in S
// with zero retxs is reset; with retxs is marked NACK (pending-retx).
// Every DL HARQ whose ACK was due in S is marked NACK. No link-adaptation
// update is performed.
func (m *Manager) DiscardPUSCHAndPUCCH(slot ran.SlotPoint) {
	for i := range m.ul {
		p := &m.ul[i]
		if p.State == StateWaitingACK && p.allocatedAt.Equal(slot) {
			if p.RV == 0 {
				m.ResetUL(p.HARQID)
			} else {
				p.State = StatePendingRetx
			}
		}
	}
	m.UCISchedFailed(slot)
}
