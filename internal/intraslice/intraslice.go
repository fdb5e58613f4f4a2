// Package intraslice implements the intra-slice scheduler
// given a slice candidate from the inter-slice scheduler, fill the
// slot's PDSCH or PUSCH grants for the slice's UEs across the five
// stages (retx, newTx candidate selection, grant pre-allocation, RB/MCS
// materialisation, policy notification).
//
// Ported from the stage 1/2 newTx algorithm in
// _examples/original_source/lib/scheduler/ue_scheduling/intra_slice_scheduler.cpp.
package intraslice

import (
	"sort"

	"github.com/your-org/gnb-scheduler/internal/grid"
	"github.com/your-org/gnb-scheduler/internal/harq"
	"github.com/your-org/gnb-scheduler/internal/policy"
	"github.com/your-org/gnb-scheduler/internal/ran"
	"github.com/your-org/gnb-scheduler/internal/slice"
	"github.com/your-org/gnb-scheduler/internal/ue"
)

// AllocStatus is the allocator failure taxonomy.
type AllocStatus uint8

const (
	AllocSuccess AllocStatus = iota
	AllocSkipUE
	AllocSkipSlot
	AllocInvalidParams
	AllocUCIFailed
)

// Caps bounds the per-slot control/data-plane budget, from
// internal/config's SchedulerConfig.
type Caps struct {
	MaxPDSCHsPerSlot             uint32
	MaxPUSCHsPerSlot             uint32
	MaxPUCCHsPerSlot             uint32
	MaxPDCCHAllocAttemptsPerSlot uint32
	PrePolicyRRUEGroupSize       uint32
}

// Grant is one finalised PDSCH or PUSCH grant produced by the scheduler.
type Grant struct {
	UEIndex ue.Index
	RNTI    uint32
	HARQID  uint8
	PRBs    ran.Interval
	TBS     uint32
	IsRetx  bool
}

// Result collects the DL or UL grants produced for one slice candidate,
// plus the number of PDCCH allocation attempts consumed (Stage 2's
// max_pdcch_alloc_attempts_per_slot budget is shared across slices within
// the slot, so the caller accumulates this across calls).
type Result struct {
	Grants         []Grant
	PDCCHAttempts  uint32
	UCIAllocFailed bool
}

// Scheduler implements the per-slice DL/UL grant allocator. It holds no
// HARQ state of its own: every candidate brings its own UE-cell's HARQ
// manager (UECandidateInfo.HARQ), since each UE owns its own fixed-size
// DL/UL process arrays rather than sharing one cell-wide pool.
type Scheduler struct {
	pol  policy.Policy
	caps Caps

	// rrGroupOffset rotates the Stage 1 UE walk start point. It changes
	// only through AdvanceRRGroupOffset, which nothing in this module
	// calls, so the walk starts from candidate 0 every slot.
	rrGroupOffset uint32
}

// NewScheduler builds an intra-slice scheduler bound to the slice's
// configured policy.
func NewScheduler(pol policy.Policy, caps Caps) *Scheduler {
	return &Scheduler{pol: pol, caps: caps}
}

// AdvanceRRGroupOffset rotates the round-robin starting offset; call once
// per SFN boundary (slotCount % slotsPerSFN == 0).
func (s *Scheduler) AdvanceRRGroupOffset(groupCount uint32) {
	if groupCount == 0 {
		return
	}
	s.rrGroupOffset = (s.rrGroupOffset + 1) % groupCount
}

// ueCandidateInfo is what the scheduler needs per UE to run Stages 1-3;
// callers (the cell scheduler) resolve this from the UE repository and
// resource grid before calling ScheduleDL/ScheduleUL.
type UECandidateInfo struct {
	Index           ue.Index
	RNTI            uint32
	Fallback        bool
	PendingBytes    uint32
	HOLArrival      ran.SlotPoint
	PDCCHSlotUsable bool
	PXSCHSlotUsable bool
	PUCCHInAckSlot  bool // DL only: already has a PUCCH or PUSCH in the ack slot

	// HARQ is this UE-cell's own HARQ manager, owning its own <=
	// harq.MaxNofHARQs DL and UL processes.
	HARQ *harq.Manager
}

// findOldestPendingRetxDL scans every candidate's own HARQ manager for a
// pending-retx DL process bound to sliceID and returns whichever was
// allocated longest ago, mirroring the "oldest first" Stage 0 contract
// across several per-UE managers rather than one shared pool.
func findOldestPendingRetxDL(candidates []UECandidateInfo, sliceID uint32) (int, *harq.Process, bool) {
	best := -1
	var bestProc *harq.Process
	for i, c := range candidates {
		if c.HARQ == nil {
			continue
		}
		p, ok := c.HARQ.NextPendingRetxDL(sliceID)
		if !ok {
			continue
		}
		if best == -1 || p.AllocatedAt().Before(bestProc.AllocatedAt()) {
			best, bestProc = i, p
		}
	}
	return best, bestProc, best != -1
}

func findOldestPendingRetxUL(candidates []UECandidateInfo, sliceID uint32) (int, *harq.Process, bool) {
	best := -1
	var bestProc *harq.Process
	for i, c := range candidates {
		if c.HARQ == nil {
			continue
		}
		p, ok := c.HARQ.NextPendingRetxUL(sliceID)
		if !ok {
			continue
		}
		if best == -1 || p.AllocatedAt().Before(bestProc.AllocatedAt()) {
			best, bestProc = i, p
		}
	}
	return best, bestProc, best != -1
}

// ScheduleDL runs all five stages for one DL slice candidate, writing
// materialised PDSCH grants into ring's DL bitmap for pdschSlot.
func (s *Scheduler) ScheduleDL(
	inst *slice.Instance,
	candidates []UECandidateInfo,
	ring *grid.Ring,
	pdcchSlot, pdschSlot, ackSlot ran.SlotPoint,
	rbLims ran.Interval,
	pucchOccasionsPerGrant int,
) (Result, AllocStatus) {
	var res Result

	usedVRBs, err := ring.DLUsedPRBs(pdschSlot)
	if err != nil {
		return res, AllocSkipSlot
	}

	// Stage 0 - retransmissions, oldest first.
	for {
		if uint32(len(res.Grants)) >= s.caps.MaxPDSCHsPerSlot {
			break
		}
		if res.PDCCHAttempts >= s.caps.MaxPDCCHAllocAttemptsPerSlot {
			break
		}
		ci, p, ok := findOldestPendingRetxDL(candidates, inst.ID)
		if !ok {
			break
		}
		res.PDCCHAttempts++
		interval, ok := usedVRBs.FindContiguous(rbLims.Start, p.PRBs.Length())
		if !ok {
			break
		}
		c := candidates[ci]
		harqID, tbs := p.HARQID, p.TBS
		if _, err := c.HARQ.RetxDLHARQ(harqID, pdschSlot, ackSlot, pucchOccasionsPerGrant); err != nil {
			break
		}
		usedVRBs.Fill(interval.Start, interval.Stop)
		inst.StorePDSCHGrant(interval.Length(), pdschSlot)
		res.Grants = append(res.Grants, Grant{UEIndex: c.Index, RNTI: c.RNTI, HARQID: harqID, PRBs: interval, TBS: tbs, IsRetx: true})
	}

	// Stage 1 - newTx candidate selection.
	newtx := s.selectNewTxCandidates(candidates, true)
	if len(newtx) == 0 {
		return res, AllocSuccess
	}

	priorities := s.pol.ComputeDLPriorities(pdcchSlot, pdschSlot, toPolicyCandidates(newtx))
	sortByPriorityDesc(newtx, priorities)

	// Stage 2 - grant pre-allocation (PDCCH + PUCCH).
	type preAlloc struct {
		info        UECandidateInfo
		expectedRBs uint32
	}
	var pending []preAlloc
	rbBudget := rbLims.Length()
	rbCount := uint32(0)
	pucchExhausted := false

	for _, c := range newtx {
		if uint32(len(res.Grants))+uint32(len(pending)) >= s.caps.MaxPDSCHsPerSlot {
			break
		}
		if pucchExhausted && !c.PUCCHInAckSlot {
			continue
		}
		if res.PDCCHAttempts >= s.caps.MaxPDCCHAllocAttemptsPerSlot {
			break
		}
		res.PDCCHAttempts++
		if !c.PDCCHSlotUsable || !c.PXSCHSlotUsable {
			continue
		}
		expected := expectedRBsForBytes(c.PendingBytes)
		pending = append(pending, preAlloc{info: c, expectedRBs: expected})
		rbCount += minU32(expected, rbBudget)
		if uint32(len(pending)) >= s.caps.MaxPUCCHsPerSlot {
			pucchExhausted = true
			break
		}
		if rbCount >= rbBudget {
			break
		}
	}
	if len(pending) == 0 {
		return res, AllocSuccess
	}

	// Stage 3 - RB/MCS materialisation with rbs_missing carry.
	maxRBsPerGrant := rbBudget / uint32(len(pending))
	rbsMissing := 0
	allocated := uint32(0)
	for i, p := range pending {
		var maxGrantSize uint32
		if i == len(pending)-1 {
			if rbBudget > allocated {
				maxGrantSize = rbBudget - allocated
			}
		} else {
			maxGrantSize = addSignedClamp(maxRBsPerGrant, rbsMissing)
		}

		interval, ok := usedVRBs.FindContiguous(rbLims.Start, maxGrantSize)
		if !ok || maxGrantSize == 0 {
			// Zero-RB grant kept in the result with no PRBs, skipped
			// downstream, to avoid HARQ state drift.
			res.Grants = append(res.Grants, Grant{UEIndex: p.info.Index, RNTI: p.info.RNTI})
			rbsMissing = int(maxGrantSize)
			continue
		}

		usedVRBs.Fill(interval.Start, interval.Stop)
		inst.StorePDSCHGrant(interval.Length(), pdschSlot)
		allocated += interval.Length()
		rbsMissing = int(maxGrantSize) - int(interval.Length())

		hp, err := p.info.HARQ.AllocDLHARQ(pdschSlot, ackSlot, inst.ID, tbsForRBs(interval.Length()), interval, pucchOccasionsPerGrant)
		if err != nil {
			continue
		}
		res.Grants = append(res.Grants, Grant{UEIndex: p.info.Index, RNTI: p.info.RNTI, HARQID: hp.HARQID, PRBs: interval, TBS: hp.TBS})
	}

	// Stage 4 - post.
	s.pol.SaveDLNewTxGrants(toPolicyGrants(res.Grants))

	if pucchExhausted {
		res.UCIAllocFailed = true
	}
	return res, AllocSuccess
}

// ScheduleUL is the UL analogue of ScheduleDL: no PUCCH-exhaustion
// heuristic (UL has no PUCCH-occasion budget to exhaust the same way).
func (s *Scheduler) ScheduleUL(
	inst *slice.Instance,
	candidates []UECandidateInfo,
	ring *grid.Ring,
	pdcchSlot, puschSlot ran.SlotPoint,
	rbLims ran.Interval,
) (Result, AllocStatus) {
	var res Result

	usedVRBs, err := ring.ULUsedPRBs(puschSlot)
	if err != nil {
		return res, AllocSkipSlot
	}

	for {
		if uint32(len(res.Grants)) >= s.caps.MaxPUSCHsPerSlot {
			break
		}
		if res.PDCCHAttempts >= s.caps.MaxPDCCHAllocAttemptsPerSlot {
			break
		}
		ci, p, ok := findOldestPendingRetxUL(candidates, inst.ID)
		if !ok {
			break
		}
		res.PDCCHAttempts++
		interval, ok := usedVRBs.FindContiguous(rbLims.Start, p.PRBs.Length())
		if !ok {
			break
		}
		c := candidates[ci]
		harqID, tbs := p.HARQID, p.TBS
		if _, err := c.HARQ.RetxULHARQ(harqID, puschSlot); err != nil {
			break
		}
		usedVRBs.Fill(interval.Start, interval.Stop)
		inst.StorePUSCHGrant(interval.Length(), puschSlot)
		res.Grants = append(res.Grants, Grant{UEIndex: c.Index, RNTI: c.RNTI, HARQID: harqID, PRBs: interval, TBS: tbs, IsRetx: true})
	}

	newtx := s.selectNewTxCandidates(candidates, false)
	if len(newtx) == 0 {
		return res, AllocSuccess
	}
	priorities := s.pol.ComputeULPriorities(pdcchSlot, puschSlot, toPolicyCandidates(newtx))
	sortByPriorityDesc(newtx, priorities)

	type preAlloc struct {
		info        UECandidateInfo
		expectedRBs uint32
	}
	var pending []preAlloc
	rbBudget := rbLims.Length()
	rbCount := uint32(0)
	for _, c := range newtx {
		if uint32(len(res.Grants))+uint32(len(pending)) >= s.caps.MaxPUSCHsPerSlot {
			break
		}
		if res.PDCCHAttempts >= s.caps.MaxPDCCHAllocAttemptsPerSlot {
			break
		}
		res.PDCCHAttempts++
		if !c.PDCCHSlotUsable || !c.PXSCHSlotUsable {
			continue
		}
		expected := expectedRBsForBytes(c.PendingBytes)
		pending = append(pending, preAlloc{info: c, expectedRBs: expected})
		rbCount += minU32(expected, rbBudget)
		if rbCount >= rbBudget {
			break
		}
	}
	if len(pending) == 0 {
		return res, AllocSuccess
	}

	maxRBsPerGrant := rbBudget / uint32(len(pending))
	rbsMissing := 0
	allocated := uint32(0)
	for i, p := range pending {
		var maxGrantSize uint32
		if i == len(pending)-1 {
			if rbBudget > allocated {
				maxGrantSize = rbBudget - allocated
			}
		} else {
			maxGrantSize = addSignedClamp(maxRBsPerGrant, rbsMissing)
		}

		interval, ok := usedVRBs.FindContiguous(rbLims.Start, maxGrantSize)
		if !ok || maxGrantSize == 0 {
			res.Grants = append(res.Grants, Grant{UEIndex: p.info.Index, RNTI: p.info.RNTI})
			rbsMissing = int(maxGrantSize)
			continue
		}

		usedVRBs.Fill(interval.Start, interval.Stop)
		inst.StorePUSCHGrant(interval.Length(), puschSlot)
		allocated += interval.Length()
		rbsMissing = int(maxGrantSize) - int(interval.Length())

		hp, err := p.info.HARQ.AllocULHARQ(puschSlot, inst.ID, tbsForRBs(interval.Length()), interval)
		if err != nil {
			continue
		}
		res.Grants = append(res.Grants, Grant{UEIndex: p.info.Index, RNTI: p.info.RNTI, HARQID: hp.HARQID, PRBs: interval, TBS: hp.TBS})
	}

	s.pol.SaveULNewTxGrants(toPolicyGrants(res.Grants))
	return res, AllocSuccess
}

// selectNewTxCandidates builds the Stage 1 candidate list: round-robin
// walk starting from rrGroupOffset, filtered to non-fallback UEs with
// pending bytes and usable PDCCH/PXSCH slots and at least one empty HARQ
// in the scheduled direction.
func (s *Scheduler) selectNewTxCandidates(candidates []UECandidateInfo, dl bool) []UECandidateInfo {
	if len(candidates) == 0 {
		return nil
	}
	offset := int(s.rrGroupOffset) % len(candidates)
	rotated := make([]UECandidateInfo, 0, len(candidates))
	rotated = append(rotated, candidates[offset:]...)
	rotated = append(rotated, candidates[:offset]...)

	out := rotated[:0]
	for _, c := range rotated {
		if c.Fallback || c.PendingBytes == 0 || !c.PDCCHSlotUsable || !c.PXSCHSlotUsable || c.HARQ == nil {
			continue
		}
		hasEmpty := c.HARQ.HasEmptyDL()
		if !dl {
			hasEmpty = c.HARQ.HasEmptyUL()
		}
		if !hasEmpty {
			// UEs without an empty HARQ are skipped here; nothing
			// logs them or counts them as late HARQ.
			continue
		}
		out = append(out, c)
	}
	return out
}

func toPolicyCandidates(cs []UECandidateInfo) []policy.NewTxCandidate {
	out := make([]policy.NewTxCandidate, len(cs))
	for i, c := range cs {
		out[i] = policy.NewTxCandidate{UEIndex: c.Index, PendingBytes: c.PendingBytes, HOLArrival: c.HOLArrival}
	}
	return out
}

func toPolicyGrants(gs []Grant) []policy.Grant {
	out := make([]policy.Grant, 0, len(gs))
	for _, g := range gs {
		if g.PRBs.Empty() {
			continue
		}
		out = append(out, policy.Grant{UEIndex: g.UEIndex, NofRBs: g.PRBs.Length(), TBS: g.TBS})
	}
	return out
}

func sortByPriorityDesc(candidates []UECandidateInfo, priorities []float64) {
	idx := make([]int, len(candidates))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(i, j int) bool { return priorities[idx[i]] > priorities[idx[j]] })
	sorted := make([]UECandidateInfo, len(candidates))
	for i, id := range idx {
		sorted[i] = candidates[id]
	}
	copy(candidates, sorted)
}

// expectedRBsForBytes is a coarse TBS->RB estimator used only to size
// Stage 2's pre-allocation budget; Stage 3 re-derives the real grant from
// the RB budget actually available.
func expectedRBsForBytes(bytes uint32) uint32 {
	const bytesPerRB = 100
	rbs := bytes / bytesPerRB
	if rbs == 0 {
		rbs = 1
	}
	return rbs
}

// tbsForRBs is the DL/UL TBS estimate used once RBs are known, the
// inverse of expectedRBsForBytes.
func tbsForRBs(rbs uint32) uint32 {
	const bytesPerRB = 100
	return rbs * bytesPerRB
}

func minU32(a, b uint32) uint32 {
	if a < b {
		return a
	}
	return b
}

func addSignedClamp(base uint32, delta int) uint32 {
	v := int(base) + delta
	if v < 0 {
		return 0
	}
	return uint32(v)
}
