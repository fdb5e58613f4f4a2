package policy

import (
	"math"

	"github.com/your-org/gnb-scheduler/internal/ran"
	"github.com/your-org/gnb-scheduler/internal/ue"
)

// TimeQoS is the time_qos strategy: priority trades off head-of-line
// delay against a per-UE exponentially averaged throughput, the classic
// {alpha, beta, gamma} proportional-fair family.
type TimeQoS struct {
	Alpha, Beta, Gamma float64

	avgThroughput map[ue.Index]float64
}

// NewTimeQoS builds a time_qos policy with the given shaping exponents.
func NewTimeQoS(alpha, beta, gamma float64) *TimeQoS {
	return &TimeQoS{Alpha: alpha, Beta: beta, Gamma: gamma, avgThroughput: make(map[ue.Index]float64)}
}

func (p *TimeQoS) priority(c NewTxCandidate, pxschSlot ran.SlotPoint) float64 {
	delay := 1.0
	if c.HOLArrival.Valid() {
		d := pxschSlot.Sub(c.HOLArrival)
		if d > 0 {
			delay = float64(d)
		}
	}
	avg := p.avgThroughput[c.UEIndex]
	if avg <= 0 {
		avg = 1
	}
	return math.Pow(delay, p.Alpha) / math.Pow(avg, p.Beta) * math.Pow(float64(c.PendingBytes)+1, p.Gamma)
}

func (p *TimeQoS) ComputeDLPriorities(pdcchSlot, pdschSlot ran.SlotPoint, candidates []NewTxCandidate) []float64 {
	out := make([]float64, len(candidates))
	for i, c := range candidates {
		out[i] = p.priority(c, pdschSlot)
	}
	return out
}

func (p *TimeQoS) ComputeULPriorities(pdcchSlot, puschSlot ran.SlotPoint, candidates []NewTxCandidate) []float64 {
	out := make([]float64, len(candidates))
	for i, c := range candidates {
		out[i] = p.priority(c, puschSlot)
	}
	return out
}

// ewmaDecay sets the throughput average's responsiveness to new grants.
const ewmaDecay = 0.2

func (p *TimeQoS) saveGrants(grants []Grant) {
	for _, g := range grants {
		avg := p.avgThroughput[g.UEIndex]
		p.avgThroughput[g.UEIndex] = avg*(1-ewmaDecay) + float64(g.TBS)*ewmaDecay
	}
}

func (p *TimeQoS) SaveDLNewTxGrants(grants []Grant) { p.saveGrants(grants) }
func (p *TimeQoS) SaveULNewTxGrants(grants []Grant) { p.saveGrants(grants) }
