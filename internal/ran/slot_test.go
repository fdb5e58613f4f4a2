package ran

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignedModularDifference(t *testing.T) {
	const n = 1024
	assert.Equal(t, 4, SignedModularDifference(104, 100, n))
	assert.Equal(t, -4, SignedModularDifference(100, 104, n))
	// Wrap-around: 2 is "after" 1022 by distance 4 under modulus 1024.
	assert.Equal(t, 4, SignedModularDifference(2, 1022, n))
	assert.Equal(t, -4, SignedModularDifference(1022, 2, n))
}

func TestSlotPointAddWrapsAtHyperframe(t *testing.T) {
	mod := SlotsPerHyperframe(0)
	sp := NewSlotPoint(0, mod-1)
	next := sp.Add(1)
	assert.Equal(t, uint32(0), next.Count)
}

func TestSlotPointOrdering(t *testing.T) {
	a := NewSlotPoint(1, 100)
	b := NewSlotPoint(1, 104)
	assert.True(t, a.Before(b))
	assert.Equal(t, 4, b.Sub(a))
	assert.True(t, b.After(a))
}

func TestInvalidSlotPoint(t *testing.T) {
	sp := InvalidSlotPoint()
	assert.False(t, sp.Valid())
	assert.Equal(t, "invalid", sp.String())
}

func TestRIVRoundTrip(t *testing.T) {
	const numPRBs = 51
	for start := uint32(0); start < numPRBs; start++ {
		for length := uint32(1); length <= numPRBs-start; length++ {
			riv := RIV(numPRBs, start, length)
			gotStart, gotLength := RIVDecode(numPRBs, riv)
			require.Equal(t, start, gotStart, "start mismatch for (%d,%d)", start, length)
			require.Equal(t, length, gotLength, "length mismatch for (%d,%d)", start, length)
		}
	}
}

func TestIntervalUnion(t *testing.T) {
	a := NewInterval(5, 10)
	b := NewInterval(8, 20)
	u := a.Union(b)
	assert.Equal(t, NewInterval(5, 20), u)

	empty := Interval{}
	assert.Equal(t, a, a.Union(empty))
}
