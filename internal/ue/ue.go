// Package ue implements the UE context model: C-RNTI,
// UE-cells, DL logical-channel manager, UL logical-channel-group manager,
// pending SR flag and the fallback->non-fallback lifecycle gated on an
// explicit config_applied event.
package ue

import (
	"sync"

	"github.com/your-org/gnb-scheduler/internal/cellcfg"
	"github.com/your-org/gnb-scheduler/internal/harq"
	"github.com/your-org/gnb-scheduler/internal/ran"
)

// Index identifies a UE within the scheduler, stable for the UE's
// lifetime (distinct from the radio C-RNTI, which can be reused).
type Index uint32

// LCID is a MAC logical-channel identifier; SRBs occupy ids below
// LCIDMinDRB.
type LCID uint8

// LCIDMinDRB is the first LCID reserved for DRBs; ids below this are SRBs
// and always bind to the reserved SRB slice.
const LCIDMinDRB = 4

// LCG is a logical-channel-group identifier used for UL BSR reporting.
type LCG uint8

// DLChannel holds one DL logical channel's scheduler-relevant state:
// pending bytes, the RAN slice it currently binds to, and the
// head-of-line arrival timestamp used for delay-priority computation and
// metrics.
type DLChannel struct {
	LCID           LCID
	SliceID        uint32
	PendingBytes   uint32
	HOLArrival     ran.SlotPoint
}

// ULGroup holds one UL logical-channel-group's pending-bytes estimate
// from the last BSR report, plus its slice binding.
type ULGroup struct {
	LCG          LCG
	SliceID      uint32
	PendingBytes uint32
}

// Cell is one UE-cell's HARQ-relevant binding (PCell or an SCell).
type Cell struct {
	CellIndex uint32
}

// Context is one UE's full scheduler-visible state. Mutex-guarded:
// readers take RLock, the owning cell-group task takes Lock for
// mutation.
type Context struct {
	mu sync.RWMutex

	Index  Index
	CRNTI  uint32
	Cells  []Cell

	dlChannels map[LCID]*DLChannel
	ulGroups   map[LCG]*ULGroup

	pendingSR bool
	fallback  bool

	// safeAfter is the slot after which this UE may be destroyed, to
	// avoid PUCCH collisions with a freshly allocated UE reusing the same
	// C-RNTI.
	safeAfter      ran.SlotPoint
	removalPending bool

	// HARQ is this UE-cell's own HARQ process array: every UE owns its
	// full complement of up to harq.MaxNofHARQs DL and UL processes, not
	// a slice of a cell-wide pool.
	HARQ *harq.Manager
}

// NewContext creates a UE context in fallback mode: a UE starts in
// fallback and transitions to non-fallback only after an explicit
// config_applied event. harqMode/dlRetxTimeoutSlots/ulRetxTimeoutSlots
// configure the UE's own HARQ manager, built fresh per UE-cell rather
// than shared across the cell.
func NewContext(idx Index, crnti uint32, harqMode cellcfg.HARQMode, dlRetxTimeoutSlots, ulRetxTimeoutSlots uint32) *Context {
	return &Context{
		Index:      idx,
		CRNTI:      crnti,
		Cells:      []Cell{{CellIndex: 0}},
		dlChannels: make(map[LCID]*DLChannel),
		ulGroups:   make(map[LCG]*ULGroup),
		fallback:   true,
		HARQ:       harq.NewManager(harqMode, dlRetxTimeoutSlots, ulRetxTimeoutSlots),
	}
}

func (c *Context) IsFallback() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.fallback
}

// ApplyConfig transitions the UE out of fallback. A second call is a
// no-op: config_applied is idempotent.
func (c *Context) ApplyConfig() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fallback = false
}

// Reconfigure puts the UE back into fallback, matching the original
// scheduler's rem_ue-on-reconfig behaviour (the UE re-enters fallback
// until the next config_applied).
func (c *Context) Reconfigure() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fallback = true
}

// BindDLChannel creates or rebinds a DL logical channel to a slice.
func (c *Context) BindDLChannel(lcid LCID, sliceID uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch, ok := c.dlChannels[lcid]
	if !ok {
		ch = &DLChannel{LCID: lcid}
		c.dlChannels[lcid] = ch
	}
	ch.SliceID = sliceID
}

// BindULGroup creates or rebinds an UL logical-channel-group to a slice.
func (c *Context) BindULGroup(lcg LCG, sliceID uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	g, ok := c.ulGroups[lcg]
	if !ok {
		g = &ULGroup{LCG: lcg}
		c.ulGroups[lcg] = g
	}
	g.SliceID = sliceID
}

// UpdateDLBufferOccupancy applies the "last wins" coalescing contract:
// multiple reports between slots collapse into the latest pending-bytes
// value and head-of-line timestamp.
func (c *Context) UpdateDLBufferOccupancy(lcid LCID, pendingBytes uint32, holArrival ran.SlotPoint) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch, ok := c.dlChannels[lcid]
	if !ok {
		ch = &DLChannel{LCID: lcid}
		c.dlChannels[lcid] = ch
	}
	ch.PendingBytes = pendingBytes
	ch.HOLArrival = holArrival
}

// ApplyBSR applies a per-LCG reported byte count from a BSR MAC-CE.
func (c *Context) ApplyBSR(lcg LCG, pendingBytes uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	g, ok := c.ulGroups[lcg]
	if !ok {
		g = &ULGroup{LCG: lcg}
		c.ulGroups[lcg] = g
	}
	g.PendingBytes = pendingBytes
}

// DLChannelsForSlice returns the DL channels currently bound to sliceID,
// for slice-candidate's is_candidate checks.
func (c *Context) DLChannelsForSlice(sliceID uint32) []DLChannel {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []DLChannel
	for _, ch := range c.dlChannels {
		if ch.SliceID == sliceID && ch.PendingBytes > 0 {
			out = append(out, *ch)
		}
	}
	return out
}

// ULGroupsForSlice returns the UL groups currently bound to sliceID.
func (c *Context) ULGroupsForSlice(sliceID uint32) []ULGroup {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []ULGroup
	for _, g := range c.ulGroups {
		if g.SliceID == sliceID && g.PendingBytes > 0 {
			out = append(out, *g)
		}
	}
	return out
}

// HasPendingDLBytes reports whether any DL channel bound to sliceID has
// pending bytes.
func (c *Context) HasPendingDLBytes(sliceID uint32) bool {
	return len(c.DLChannelsForSlice(sliceID)) > 0
}

// HasPendingULBytes reports whether any UL group bound to sliceID has
// pending bytes.
func (c *Context) HasPendingULBytes(sliceID uint32) bool {
	return len(c.ULGroupsForSlice(sliceID)) > 0
}

func (c *Context) SetPendingSR(v bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pendingSR = v
}

func (c *Context) PendingSR() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.pendingSR
}

// MarkForRemoval records the slot after which this UE may safely be
// destroyed.
func (c *Context) MarkForRemoval(safeAfter ran.SlotPoint) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.removalPending = true
	c.safeAfter = safeAfter
}

// SafeToDestroy reports whether now is past the UE's safe-after slot.
func (c *Context) SafeToDestroy(now ran.SlotPoint) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.removalPending && now.After(c.safeAfter)
}

// Manager is the per-cell-group UE repository: create/get/remove plus
// lazy destruction so pending events for a removed UE become no-ops. It
// also carries the cell's HARQ configuration, since every UE created
// through it builds its own HARQ manager at that cell's settings.
type Manager struct {
	mu  sync.RWMutex
	ues map[Index]*Context

	harqMode            cellcfg.HARQMode
	dlHARQRetxTimeout   uint32
	ulHARQRetxTimeout   uint32
	harqACKTimeoutSlots uint32
}

// NewManager builds a UE repository for a cell with the given HARQ mode,
// DL/UL retransmission timeouts and ACK-timeout grace window (all in
// slots); these are applied to every UE's own HARQ manager at Create.
func NewManager(harqMode cellcfg.HARQMode, dlHARQRetxTimeoutSlots, ulHARQRetxTimeoutSlots, harqACKTimeoutSlots uint32) *Manager {
	return &Manager{
		ues:                 make(map[Index]*Context),
		harqMode:            harqMode,
		dlHARQRetxTimeout:   dlHARQRetxTimeoutSlots,
		ulHARQRetxTimeout:   ulHARQRetxTimeoutSlots,
		harqACKTimeoutSlots: harqACKTimeoutSlots,
	}
}

func (m *Manager) Create(idx Index, crnti uint32) *Context {
	m.mu.Lock()
	defer m.mu.Unlock()
	ctx := NewContext(idx, crnti, m.harqMode, m.dlHARQRetxTimeout, m.ulHARQRetxTimeout)
	if m.harqACKTimeoutSlots != 0 {
		ctx.HARQ.SetACKTimeoutSlots(m.harqACKTimeoutSlots)
	}
	m.ues[idx] = ctx
	return ctx
}

func (m *Manager) Get(idx Index) (*Context, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ctx, ok := m.ues[idx]
	return ctx, ok
}

// Remove deletes the UE immediately (used once SafeToDestroy holds).
func (m *Manager) Remove(idx Index) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.ues, idx)
}

// DrainSafeRemovals removes every UE marked for removal whose safe-after
// slot has passed, as of now.
func (m *Manager) DrainSafeRemovals(now ran.SlotPoint) []Index {
	m.mu.Lock()
	defer m.mu.Unlock()
	var removed []Index
	for idx, ctx := range m.ues {
		if ctx.SafeToDestroy(now) {
			delete(m.ues, idx)
			removed = append(removed, idx)
		}
	}
	return removed
}

func (m *Manager) All() []*Context {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Context, 0, len(m.ues))
	for _, ctx := range m.ues {
		out = append(out, ctx)
	}
	return out
}

func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.ues)
}
