// Package ran holds small, dependency-free primitives shared across the
// scheduler: slot arithmetic, PRB interval/bitmap helpers and RIV codec.
package ran

import "fmt"

// SubframesPerFrame and FramesPerHyperframe define the hyperframe window:
// at 15kHz SCS (one slot per subframe) it spans 10*1024 = 10240 slots.
// Higher numerologies multiply the slots-per-subframe count; the
// hyperframe period in slots is derived per-numerology via
// SlotsPerHyperframe.
const (
	SubframesPerFrame   = 10
	FramesPerHyperframe = 1024
)

// SlotsPerHyperframe returns the modulus used for slot arithmetic at a given
// numerology (0 = 15kHz, 1 = 30kHz, ... doubling per step).
func SlotsPerHyperframe(numerology uint8) uint32 {
	return uint32(SubframesPerFrame*FramesPerHyperframe) << numerology
}

// SlotPoint identifies a slot within the rolling hyperframe window for a
// given numerology. Comparisons and arithmetic are only meaningful between
// points of the same numerology and within a bounded distance of each other
// (see SignedModularDifference); callers outside that window get undefined
// ordering.
type SlotPoint struct {
	Numerology uint8
	Count      uint32
}

// NewSlotPoint builds a slot point, reducing count modulo the hyperframe
// period for the given numerology.
func NewSlotPoint(numerology uint8, count uint32) SlotPoint {
	mod := SlotsPerHyperframe(numerology)
	return SlotPoint{Numerology: numerology, Count: count % mod}
}

// Valid reports whether the slot point was ever initialised. The zero value
// with Count==0 is indistinguishable from a real slot 0, so code that needs
// an "unset" sentinel should use InvalidSlotPoint instead of the zero value.
const invalidCount uint32 = 0xFFFFFFFF

// InvalidSlotPoint returns a sentinel slot point understood by Valid() to
// mean "not yet set" (e.g. a HARQ process that has never been allocated).
func InvalidSlotPoint() SlotPoint {
	return SlotPoint{Count: invalidCount}
}

func (s SlotPoint) Valid() bool { return s.Count != invalidCount }

// Add returns the slot point n slots into the future (n may be negative to
// go into the past), wrapping around the hyperframe modulus.
func (s SlotPoint) Add(n int) SlotPoint {
	mod := int64(SlotsPerHyperframe(s.Numerology))
	c := (int64(s.Count) + int64(n)) % mod
	if c < 0 {
		c += mod
	}
	return SlotPoint{Numerology: s.Numerology, Count: uint32(c)}
}

// Sub returns the signed modular distance lhs - rhs, in the range
// [-mod/2, mod/2). Ported from srsRAN's signed_modular_difference: the
// result represents the shortest direction around the hyperframe circle.
func (s SlotPoint) Sub(rhs SlotPoint) int {
	return SignedModularDifference(s.Count, rhs.Count, SlotsPerHyperframe(s.Numerology))
}

func (s SlotPoint) Before(rhs SlotPoint) bool { return s.Sub(rhs) < 0 }
func (s SlotPoint) After(rhs SlotPoint) bool  { return s.Sub(rhs) > 0 }
func (s SlotPoint) Equal(rhs SlotPoint) bool  { return s.Numerology == rhs.Numerology && s.Count == rhs.Count }

func (s SlotPoint) String() string {
	if !s.Valid() {
		return "invalid"
	}
	return fmt.Sprintf("%d.%d", s.Numerology, s.Count)
}

// SignedModularDifference computes the signed modular difference between
// two unsigned counters under modulus N, in the range [-N/2, N/2).
// Direct port of srsRAN's support/math/mod_math_utils.h.
func SignedModularDifference(lhs, rhs, n uint32) int {
	if n == 0 {
		return int(lhs) - int(rhs)
	}
	d := (int64(lhs) - int64(rhs) + int64(n) + int64(n/2)) % int64(n)
	return int(d - int64(n/2))
}

// ModularMin returns whichever of lhs, rhs is "earlier" under modular
// distance semantics.
func ModularMin(lhs, rhs, n uint32) uint32 {
	if SignedModularDifference(lhs, rhs, n) < 0 {
		return lhs
	}
	return rhs
}

// ModularMax returns whichever of lhs, rhs is "later" under modular distance
// semantics.
func ModularMax(lhs, rhs, n uint32) uint32 {
	if SignedModularDifference(lhs, rhs, n) > 0 {
		return lhs
	}
	return rhs
}
