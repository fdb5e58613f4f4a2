// Package cellsched implements the per-cell slot pipeline: a single
// run_slot(sl_tx) entry point that fast-forwards the resource grid under
// jitter, applies start/stop commands, runs the fixed sub-scheduler
// order, invokes the inter-slice and intra-slice schedulers for the UE
// scheduler step, and pushes the slot result and decision latency into
// the metrics handler.
//
// A config+dependency struct, otel spans around RunSlot and its UE
// scheduler step, zap structured logging and atomic flags for the
// handful of fields mutated outside the single-threaded slot task (the
// start/stop commands).
package cellsched

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/your-org/gnb-scheduler/internal/cellcfg"
	"github.com/your-org/gnb-scheduler/internal/collab"
	"github.com/your-org/gnb-scheduler/internal/event"
	"github.com/your-org/gnb-scheduler/internal/grid"
	"github.com/your-org/gnb-scheduler/internal/interslice"
	"github.com/your-org/gnb-scheduler/internal/intraslice"
	"github.com/your-org/gnb-scheduler/internal/metrics"
	"github.com/your-org/gnb-scheduler/internal/ran"
	"github.com/your-org/gnb-scheduler/internal/slice"
	"github.com/your-org/gnb-scheduler/internal/uci"
	"github.com/your-org/gnb-scheduler/internal/ue"
)

// DefaultAckOffsetSlots is the PDSCH->HARQ-ACK delay (k1) used for every
// DL grant when Deps.AckOffsetSlots is zero. The source selects k1 per-DCI
// from a configured table; this core uses a single cell-wide value,
// exposed as the Deps.AckOffsetSlots knob rather than an invented per-UE
// negotiation.
const DefaultAckOffsetSlots = 4

// DefaultPUCCHCandidatePool is the set of PUCCH resource indicators offered
// to uci.Scheduler.AllocHARQACKPUCCH when no UE-specific resource set has
// been configured.
var DefaultPUCCHCandidatePool = []uint16{0, 1, 2, 3, 4, 5, 6, 7}

// Deps bundles the per-cell collaborators the cell scheduler orchestrates.
// All fields except CommonChannels/Fallback/Bearer are required;
// AckOffsetSlots and PUCCHCandidates fall back to DefaultAckOffsetSlots
// and DefaultPUCCHCandidatePool when left unset.
type Deps struct {
	Cell       *cellcfg.Cell
	Ring       *grid.Ring
	Slices     *slice.Set
	InterSlice *interslice.Scheduler
	IntraSlice *intraslice.Scheduler
	UCI        *uci.Scheduler
	Events     *event.Manager
	UEs        *ue.Manager
	Metrics    *metrics.Handler

	// CommonChannels runs in the fixed order given, before the UE
	// scheduler step.
	CommonChannels []collab.CommonChannelScheduler
	Fallback       collab.FallbackScheduler
	Bearer         collab.BearerNotifier

	Caps           intraslice.Caps
	AckOffsetSlots uint32
	PUCCHCandidates []uint16
}

// Scheduler is one cell's slot pipeline. Invoked from exactly one thread
// at a time for a given cell group.
type Scheduler struct {
	cellIndex uint32
	cellName  string
	deps      Deps

	logger *zap.Logger
	tracer trace.Tracer

	// pendingStart/pendingStop are exchanged atomically by the owning
	// process (e.g. an admin RPC) and consumed once per slot, per step 4
	// of the algorithm ("apply pending start/stop commands").
	pendingStart atomic.Bool
	pendingStop  atomic.Bool
	active       atomic.Bool

	haveLastSlot bool
	lastSlot     ran.SlotPoint
}

// NewScheduler builds a cell scheduler. The cell starts inactive; call
// RequestStart to activate it.
func NewScheduler(cellIndex uint32, cellName string, deps Deps, logger *zap.Logger) *Scheduler {
	if deps.AckOffsetSlots == 0 {
		deps.AckOffsetSlots = DefaultAckOffsetSlots
	}
	if deps.PUCCHCandidates == nil {
		deps.PUCCHCandidates = DefaultPUCCHCandidatePool
	}
	return &Scheduler{
		cellIndex: cellIndex,
		cellName:  cellName,
		deps:      deps,
		logger:    logger,
		tracer:    otel.Tracer("cellsched"),
	}
}

// RequestStart/RequestStop set the pending command flags consumed at the
// top of the next RunSlot call, matching the source's std::atomic exchange
// contract for start_cmd/stop_cmd.
func (s *Scheduler) RequestStart() { s.pendingStart.Store(true) }
func (s *Scheduler) RequestStop()  { s.pendingStop.Store(true) }

func (s *Scheduler) Active() bool { return s.active.Load() }

// RunSlot executes the full per-slot algorithm and returns
// a view of the slot result valid until the next RunSlot call for this
// cell.
func (s *Scheduler) RunSlot(ctx context.Context, slTx ran.SlotPoint) (*grid.SchedResult, error) {
	ctx, span := s.tracer.Start(ctx, "Scheduler.RunSlot")
	defer span.End()
	span.SetAttributes(attribute.Int("cell_index", int(s.cellIndex)), attribute.Int64("slot_count", int64(slTx.Count)))

	start := time.Now()

	// Step 1: inactive cells only advance the grid head.
	if !s.active.Load() && !s.pendingStart.Load() {
		s.deps.Ring.SlotIndication(slTx)
		s.haveLastSlot = true
		s.lastSlot = slTx
		return s.deps.Ring.Result(slTx)
	}

	// Step 2: fast-forward under transient jitter, one slot at a time.
	if s.haveLastSlot {
		expected := s.lastSlot.Add(1)
		for !expected.Equal(slTx) && expected.Before(slTx) {
			s.logger.Warn("fast-forwarding resource grid over skipped slot",
				zap.Uint32("cell_index", s.cellIndex), zap.String("skipped_slot", expected.String()))
			s.deps.Ring.SlotIndication(expected)
			s.deps.UCI.ReleaseSlot(expected)
			expected = expected.Add(1)
		}
	}

	// Step 3: clear the new head slot's grid state.
	s.deps.Ring.SlotIndication(slTx)
	s.deps.UCI.ReleaseSlot(slTx)
	s.haveLastSlot = true
	s.lastSlot = slTx

	// Step 4: apply pending start/stop commands.
	if s.pendingStop.Swap(false) {
		s.active.Store(false)
		s.deps.Metrics.SetCellActive(s.cellName, false)
		s.logger.Info("cell deactivated", zap.Uint32("cell_index", s.cellIndex))
		return s.deps.Ring.Result(slTx)
	}
	if s.pendingStart.Swap(false) {
		s.active.Store(true)
		s.deps.Metrics.SetCellActive(s.cellName, true)
		s.logger.Info("cell activated", zap.Uint32("cell_index", s.cellIndex))
	}
	if !s.active.Load() {
		return s.deps.Ring.Result(slTx)
	}

	result, err := s.deps.Ring.Result(slTx)
	if err != nil {
		return nil, fmt.Errorf("cellsched: %w", err)
	}

	// Event ingress: drain common events, then this cell's feedback queue.
	s.deps.Events.DrainCommon()
	s.deps.Events.DrainCell(s.cellIndex)
	overflow := s.deps.Events.OverflowCount
	if overflow > 0 {
		s.deps.Metrics.RecordEventOverflow(s.cellName)
	}

	// UE repository ages out safely-removable UEs; each UE's own HARQ
	// manager expires its timed-out processes.
	s.deps.UEs.DrainSafeRemovals(slTx)
	var timedOut []uint8
	for _, ueCtx := range s.deps.UEs.All() {
		timedOut = append(timedOut, ueCtx.HARQ.ExpireTimers(slTx)...)
	}

	// Periodic UCI/SRS placement for this slot.
	s.placePeriodicResources(slTx, result)

	// Fallback (pre-RRC-setup) scheduler, if configured.
	if s.deps.Fallback != nil {
		if err := s.deps.Fallback.RunSlot(ctx, slTx.Count); err != nil {
			s.logger.Warn("fallback scheduler error", zap.Error(err))
		}
	}

	// Fixed common-channel sub-scheduler order: SSB -> CSI-RS -> SIB1 ->
	// PUCCH guardbands -> PRACH -> RA -> paging. Order is a contract since
	// later sub-schedulers (including the UE scheduler below) read the
	// used-PRB bitmap these populate.
	pdcchBudget := s.deps.Caps.MaxPDCCHAllocAttemptsPerSlot
	for _, cc := range s.deps.CommonChannels {
		consumed, err := cc.RunSlot(ctx, slTx.Count, pdcchBudget)
		if err != nil {
			s.logger.Warn("common-channel sub-scheduler error", zap.String("sub_scheduler", cc.Name()), zap.Error(err))
			continue
		}
		if consumed > pdcchBudget {
			consumed = pdcchBudget
		}
		pdcchBudget -= consumed
	}

	dlGrants, ulGrants, ueSchedStatus := s.runUEScheduler(ctx, slTx, pdcchBudget, result)

	// Post-processing: PUCCH/HARQ counters and grant structures are
	// finalised as grants are built in runUEScheduler; nothing further to
	// reconcile here beyond the already-updated ring bitmaps.

	report := metrics.SlotReport{
		CellName:        s.cellName,
		DecisionLatency: time.Since(start),
		PDSCHGrants:     dlGrants,
		PUSCHGrants:     ulGrants,
		HARQTimeouts:    uint32(len(timedOut)),
		UCIAllocFailed:  ueSchedStatus,
	}
	s.deps.Metrics.Push(ctx, report)

	return result, nil
}

// placePeriodicResources converts this slot's wheel entries into grid
// PUCCH/SRS/CSI-RS PDUs.
func (s *Scheduler) placePeriodicResources(slTx ran.SlotPoint, result *grid.SchedResult) {
	due := s.deps.UCI.PeriodicResourcesDue(slTx)
	for _, t := range due {
		switch t.Kind {
		case cellcfg.PeriodicResourceSR:
			result.PUCCHs = append(result.PUCCHs, grid.PUCCH{RNTI: t.RNTI, CarriesSR: true})
		case cellcfg.PeriodicResourceCSI:
			result.PUCCHs = append(result.PUCCHs, grid.PUCCH{RNTI: t.RNTI, CarriesCSI: true})
		case cellcfg.PeriodicResourceSRS:
			result.SRSs = append(result.SRSs, grid.SRS{
				RNTI:                    t.RNTI,
				PositioningReportNeeded: s.deps.UCI.PositioningRequested(t.RNTI),
			})
		}
	}
}

// runUEScheduler is the final sub-scheduler in the per-slot pipeline: the
// inter-slice scheduler picks slice candidates, the intra-slice scheduler
// fills grants within each, and this method materialises PDCCH/PDSCH/PUSCH/
// PUCCH PDUs from the resulting grants. Returns per-slice DL/UL RB-grant
// counts for metrics and whether any slice hit uci_alloc_failed this slot.
func (s *Scheduler) runUEScheduler(ctx context.Context, slTx ran.SlotPoint, pdcchBudget uint32, result *grid.SchedResult) (map[uint32]uint32, map[uint32]uint32, bool) {
	_, span := s.tracer.Start(ctx, "Scheduler.runUEScheduler")
	defer span.End()

	dlEnabled := s.deps.Cell.IsDLEnabled(slTx.Count)
	csiRSPresent := len(result.CSIRSs) > 0

	// PUSCH time-domain (k2) candidates are derived from the cell's TDD
	// pattern/numerology for this PDCCH slot; an UL PDCCH (like a DL one)
	// is only ever sent on a DL-capable slot, so dlEnabled gates both
	// queues, while each k2 value is itself already narrowed to land on
	// an UL-capable PUSCH slot.
	var puschTD []interslice.PUSCHTimeDomainResource
	if dlEnabled {
		for _, r := range s.deps.Cell.PUSCHTimeDomainResourcesFor(slTx) {
			puschTD = append(puschTD, interslice.PUSCHTimeDomainResource{K2: r.K2})
		}
	}
	s.deps.InterSlice.SlotIndication(slTx, dlEnabled, csiRSPresent, puschTD)

	ackSlot := slTx.Add(int(s.deps.AckOffsetSlots))

	dlCounts := make(map[uint32]uint32)
	ulCounts := make(map[uint32]uint32)
	uciAllocFailed := false

	for {
		cand, ok := s.deps.InterSlice.GetNextDLCandidate()
		if !ok {
			break
		}
		inst, ok := s.deps.Slices.Get(cand.SliceID)
		if !ok {
			continue
		}
		candidates := s.buildDLCandidates(inst, slTx, ackSlot)
		res, status := s.deps.IntraSlice.ScheduleDL(inst, candidates, s.deps.Ring, slTx, slTx, ackSlot, cand.RBLims, 1)
		if status != intraslice.AllocSuccess {
			continue
		}
		pdcchBudget = s.drainPDCCHBudget(pdcchBudget, res.PDCCHAttempts)
		s.materialiseDLGrants(slTx, ackSlot, cand.SliceID, res, result)
		dlCounts[cand.SliceID] += uint32(len(res.Grants))
		if res.UCIAllocFailed {
			uciAllocFailed = true
		}
		if pdcchBudget == 0 {
			break
		}
	}

	for {
		cand, ok := s.deps.InterSlice.GetNextULCandidate()
		if !ok {
			break
		}
		inst, ok := s.deps.Slices.Get(cand.SliceID)
		if !ok {
			continue
		}
		candidates := s.buildULCandidates(inst, cand.PXSCHSlot, slTx)
		res, status := s.deps.IntraSlice.ScheduleUL(inst, candidates, s.deps.Ring, slTx, cand.PXSCHSlot, cand.RBLims)
		if status != intraslice.AllocSuccess {
			continue
		}
		pdcchBudget = s.drainPDCCHBudget(pdcchBudget, res.PDCCHAttempts)
		s.materialiseULGrants(cand.PXSCHSlot, cand.SliceID, res, result)
		ulCounts[cand.SliceID] += uint32(len(res.Grants))
		if pdcchBudget == 0 {
			break
		}
	}

	return dlCounts, ulCounts, uciAllocFailed
}

func (s *Scheduler) drainPDCCHBudget(budget, consumed uint32) uint32 {
	if consumed >= budget {
		return 0
	}
	return budget - consumed
}

// buildDLCandidates gathers the slice's UEs into the intra-slice
// scheduler's newTx candidate shape: non-fallback status, summed pending
// DL bytes for the slice's logical channels, earliest head-of-line
// arrival, and (simplified) always-usable PDCCH/PDSCH slots, since this
// core does not model per-search-space slot occasions in detail.
func (s *Scheduler) buildDLCandidates(inst *slice.Instance, pdschSlot, ackSlot ran.SlotPoint) []intraslice.UECandidateInfo {
	var out []intraslice.UECandidateInfo
	for _, ctx := range inst.UEs.All() {
		channels := ctx.DLChannelsForSlice(inst.ID)
		_, hasPendingRetx := ctx.HARQ.NextPendingRetxDL(inst.ID)
		if len(channels) == 0 && !hasPendingRetx {
			continue
		}
		var pending uint32
		hol := ran.InvalidSlotPoint()
		for _, ch := range channels {
			pending += ch.PendingBytes
			if !hol.Valid() || (ch.HOLArrival.Valid() && ch.HOLArrival.Before(hol)) {
				hol = ch.HOLArrival
			}
		}
		out = append(out, intraslice.UECandidateInfo{
			Index:           ctx.Index,
			RNTI:            ctx.CRNTI,
			Fallback:        ctx.IsFallback(),
			PendingBytes:    pending,
			HOLArrival:      hol,
			PDCCHSlotUsable: true,
			PXSCHSlotUsable: true,
			HARQ:            ctx.HARQ,
		})
	}
	return out
}

// buildULCandidates is the UL analogue of buildDLCandidates.
func (s *Scheduler) buildULCandidates(inst *slice.Instance, puschSlot, pdcchSlot ran.SlotPoint) []intraslice.UECandidateInfo {
	var out []intraslice.UECandidateInfo
	for _, ctx := range inst.UEs.All() {
		groups := ctx.ULGroupsForSlice(inst.ID)
		_, hasPendingRetx := ctx.HARQ.NextPendingRetxUL(inst.ID)
		if len(groups) == 0 && !hasPendingRetx {
			continue
		}
		var pending uint32
		for _, g := range groups {
			pending += g.PendingBytes
		}
		out = append(out, intraslice.UECandidateInfo{
			Index:           ctx.Index,
			RNTI:            ctx.CRNTI,
			Fallback:        ctx.IsFallback(),
			PendingBytes:    pending,
			PDCCHSlotUsable: true,
			PXSCHSlotUsable: true,
			HARQ:            ctx.HARQ,
		})
	}
	return out
}

// materialiseDLGrants turns intra-slice DL grants into PDCCH/PDSCH/PUCCH
// PDUs: HARQ NDI/RV/ack-binding are read back from the granted UE's own
// HARQ manager (which AllocDLHARQ/RetxDLHARQ already updated), and a
// PUCCH HARQ-ACK resource is requested from the UCI scheduler for each
// grant.
func (s *Scheduler) materialiseDLGrants(pdschSlot, ackSlot ran.SlotPoint, sliceID uint32, res intraslice.Result, result *grid.SchedResult) {
	for _, g := range res.Grants {
		if g.PRBs.Empty() {
			continue
		}
		ueCtx, ok := s.deps.UEs.Get(g.UEIndex)
		if !ok {
			continue
		}
		proc := ueCtx.HARQ.DLProcess(g.HARQID)

		resourceID, multiplexed, ok := s.deps.UCI.AllocHARQACKPUCCH(ackSlot, g.RNTI, false, s.deps.PUCCHCandidates)

		result.PDCCHs = append(result.PDCCHs, grid.PDCCH{RNTI: g.RNTI, IsUL: false})
		result.PDSCHs = append(result.PDSCHs, grid.PDSCH{
			RNTI:        g.RNTI,
			HARQID:      g.HARQID,
			NDI:         proc.NDI,
			RV:          proc.RV,
			PRBs:        g.PRBs,
			FreqAlloc:   grid.FreqAllocType1RIV,
			MCS:         estimateMCS(g.TBS, g.PRBs.Length()),
			TBS:         g.TBS,
			Layers:      1,
			Interleaved: !s.deps.Ring.InterleavingDisabled(pdschSlot, true),
		})
		if !multiplexed && ok {
			result.PUCCHs = append(result.PUCCHs, grid.PUCCH{
				RNTI:         g.RNTI,
				ResourceID:   resourceID,
				Format:       1,
				HARQBitIndex: g.HARQID,
			})
		}
	}
}

func (s *Scheduler) materialiseULGrants(puschSlot ran.SlotPoint, sliceID uint32, res intraslice.Result, result *grid.SchedResult) {
	for _, g := range res.Grants {
		if g.PRBs.Empty() {
			continue
		}
		ueCtx, ok := s.deps.UEs.Get(g.UEIndex)
		if !ok {
			continue
		}
		proc := ueCtx.HARQ.ULProcess(g.HARQID)
		result.PDCCHs = append(result.PDCCHs, grid.PDCCH{RNTI: g.RNTI, IsUL: true})
		result.PUSCHs = append(result.PUSCHs, grid.PUSCH{
			RNTI:      g.RNTI,
			HARQID:    g.HARQID,
			NDI:       proc.NDI,
			RV:        proc.RV,
			PRBs:      g.PRBs,
			FreqAlloc: grid.FreqAllocType1RIV,
			MCS:       estimateMCS(g.TBS, g.PRBs.Length()),
			TBS:       g.TBS,
			Layers:    1,
		})
	}
}

// estimateMCS is a coarse code-rate-proportional placeholder: this core
// does not implement the 3GPP MCS/CQI link-adaptation tables (out of
// scope (no channel coding or modulation).
func estimateMCS(tbs, nofPRB uint32) uint8 {
	if nofPRB == 0 {
		return 0
	}
	bytesPerPRB := tbs / nofPRB
	mcs := bytesPerPRB / 4
	if mcs > 27 {
		mcs = 27
	}
	return uint8(mcs)
}

// HandleDLAck/HandleErrorIndication below expose the HARQ-state
// transitions event payloads (drained by DrainCell/DrainCommon via their
// Apply closures) need to call back into the owning UE's harq manager.

// HandleDLAck applies a DL HARQ-ACK/NACK report for ueIndex on this cell.
// A HARQ-ACK report is UE-specific PHY feedback, so it resolves to that
// UE's own HARQ manager rather than any cell-wide state.
func (s *Scheduler) HandleDLAck(ueIndex ue.Index, ackSlot ran.SlotPoint, harqBitIndex uint8, acked bool) {
	ueCtx, ok := s.deps.UEs.Get(ueIndex)
	if !ok {
		return
	}
	if _, err := ueCtx.HARQ.DLAckInfo(ackSlot, harqBitIndex, acked); err != nil {
		s.logger.Debug("dl ack info rejected", zap.Error(err), zap.String("ack_slot", ackSlot.String()))
	}
}

// HandleErrorIndication implements the pusch_and_pucch_discarded recovery
// contract for a past slot. Unlike HandleDLAck this is cell-and-slot
// scoped rather than UE-specific, so it sweeps every UE's HARQ manager for
// processes bound to that slot.
func (s *Scheduler) HandleErrorIndication(slot ran.SlotPoint) {
	for _, ueCtx := range s.deps.UEs.All() {
		ueCtx.HARQ.DiscardPUSCHAndPUCCH(slot)
	}
}
