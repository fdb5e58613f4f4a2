package policy

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/your-org/gnb-scheduler/internal/ran"
	"github.com/your-org/gnb-scheduler/internal/ue"
)

const maxUEIdx = ue.Index(1 << 20)

func TestRoundRobin_ComputeDLPrioritiesStartsAtPointer(t *testing.T) {
	rr := NewRoundRobin(maxUEIdx)
	candidates := []NewTxCandidate{{UEIndex: 0}, {UEIndex: 1}, {UEIndex: 2}}

	prios := rr.ComputeDLPriorities(ran.SlotPoint{}, ran.SlotPoint{}, candidates)
	assert.Len(t, prios, 3)
	// With no prior grants, UE 0 should rank highest.
	assert.Greater(t, prios[0], prios[1])
	assert.Greater(t, prios[1], prios[2])
}

func TestRoundRobin_SaveGrantsAdvancesPointer(t *testing.T) {
	rr := NewRoundRobin(maxUEIdx)
	rr.SaveDLNewTxGrants([]Grant{{UEIndex: 1}})

	candidates := []NewTxCandidate{{UEIndex: 0}, {UEIndex: 1}, {UEIndex: 2}}
	prios := rr.ComputeDLPriorities(ran.SlotPoint{}, ran.SlotPoint{}, candidates)
	// Rotation should now favour UE index 2 (the one right after the
	// last granted index).
	assert.Greater(t, prios[2], prios[0])
}

func TestTimeQoS_HigherDelayIncreasesPriority(t *testing.T) {
	q := NewTimeQoS(1, 1, 0)
	now := ran.NewSlotPoint(1, 1000)

	stale := NewTxCandidate{UEIndex: 1, HOLArrival: ran.NewSlotPoint(1, 900)}
	fresh := NewTxCandidate{UEIndex: 2, HOLArrival: ran.NewSlotPoint(1, 999)}

	pStale := q.priority(stale, now)
	pFresh := q.priority(fresh, now)
	assert.Greater(t, pStale, pFresh)
}

func TestTimeQoS_SaveGrantsLowersFuturePriority(t *testing.T) {
	q := NewTimeQoS(1, 1, 0)
	now := ran.NewSlotPoint(1, 100)
	cand := NewTxCandidate{UEIndex: 1, HOLArrival: now}

	before := q.priority(cand, now.Add(10))
	q.saveGrants([]Grant{{UEIndex: 1, TBS: 100000}})
	after := q.priority(cand, now.Add(10))
	assert.Less(t, after, before, "a UE that just got a large grant should rank lower next time")
}
