// Package policy implements the intra-slice scheduling policies of
// ("strategy_cfg = {time_rr | time_qos}"): given a
// slice's newTx UE candidates, assign each a scalar priority the
// intra-slice scheduler sorts on.
package policy

import (
	"github.com/your-org/gnb-scheduler/internal/ran"
	"github.com/your-org/gnb-scheduler/internal/ue"
)

// ForbidSchedPriority means "do not schedule this candidate this slot".
const ForbidSchedPriority = -1

// NewTxCandidate is one UE competing for a newTx grant within a slice.
type NewTxCandidate struct {
	UEIndex      ue.Index
	PendingBytes uint32
	HOLArrival   ran.SlotPoint
}

// Grant summarises one finalised newTx grant, fed back to the policy in
// Stage 4 ("Post") so it can update its internal accounting.
type Grant struct {
	UEIndex  ue.Index
	NofRBs   uint32
	TBS      uint32
}

// Policy computes per-UE priorities for a slice's newTx candidates and is
// notified of the grants that were finally made.
type Policy interface {
	ComputeDLPriorities(pdcchSlot, pdschSlot ran.SlotPoint, candidates []NewTxCandidate) []float64
	ComputeULPriorities(pdcchSlot, puschSlot ran.SlotPoint, candidates []NewTxCandidate) []float64
	SaveDLNewTxGrants(grants []Grant)
	SaveULNewTxGrants(grants []Grant)
}
