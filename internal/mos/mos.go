// Package mos computes Moment-of-Symmetry scale structure from a small set
// of tuning parameters delivered over OSC: period/generator components,
// step counts, and EDO-compatibility. The real PitchGrid plugin computes
// this via an external scale-math library; here it is reimplemented as a
// continued-fraction convergent walk over the generator/period ratio, which
// is the same number-theoretic structure MOS scales are built from (every
// MOS generator/period pair is a convergent of the generator's continued
// fraction expansion).
package mos

import "fmt"

// Derived is the scale structure computed from a State's primitive
// parameters: period components (A, B), the generator vector in (large,
// small) step-count space, and the resulting step counts.
type Derived struct {
	A, B       int
	GenX, GenY int
	NL, NS, N  int
}

// EnharmonicVector is the vector by which two notationally distinct scale
// degrees differ when the tuning is EDO-compatible.
type EnharmonicVector struct {
	X, Y int
}

// State holds the current MOS tuning parameters and the scale structure
// derived from them. It is replaced wholesale on each OSC tuning frame —
// never mutated field-by-field from outside Update.
type State struct {
	Depth      int
	Mode       int
	RootFreq   float64
	Stretch    float64
	Skew       float64
	ModeOffset int
	Steps      int

	Mos Derived

	IsEDOCompatible  bool
	EDOMos           *Derived
	EnharmonicVector *EnharmonicVector
}

// NewState returns the default tuning: 12 steps, depth 1, mode 0, root
// A440. At depth 1 the derived MOS is the single-note structure
// (A = B = 1, N = 1), and 12 steps is not EDO-compatible with it.
func NewState() *State {
	s := &State{
		Depth:    1,
		Mode:     0,
		RootFreq: 440.0,
		Stretch:  1.0,
		Skew:     0.0,
		Steps:    12,
	}
	s.recalculate()
	return s
}

// Update applies a new tuning frame (as received from the OSC
// `/pitchgrid/plugin/tuning` message) and recomputes the derived MOS
// structure and EDO-compatibility vector.
func (s *State) Update(depth, mode int, rootFreq, stretch, skew float64, modeOffset, steps int) {
	if depth < 1 {
		depth = 1
	}
	if steps < 1 {
		steps = 1
	}
	s.Depth = depth
	s.Mode = mode
	s.RootFreq = rootFreq
	s.Stretch = stretch
	s.Skew = skew
	s.ModeOffset = modeOffset
	s.Steps = steps
	s.recalculate()
}

func (s *State) recalculate() {
	s.Mos = computeMOS(s.Depth, s.Mode)
	s.calculateEDOCompatibility()
}

// maxEDOSearchDepth bounds the EDO-compatibility search, mirroring the
// original implementation's fixed look-ahead window.
const maxEDOSearchDepth = 20

func (s *State) calculateEDOCompatibility() {
	s.IsEDOCompatible = false
	s.EDOMos = nil
	s.EnharmonicVector = nil

	for searchDepth := s.Depth; searchDepth <= s.Depth+maxEDOSearchDepth; searchDepth++ {
		edoMos := computeMOS(searchDepth, s.Mode)
		if edoMos.N == s.Steps {
			s.IsEDOCompatible = true
			s.EDOMos = &edoMos
			s.EnharmonicVector = enharmonicVector(s.Mos, edoMos)
			return
		}
		if edoMos.N > s.Steps {
			return
		}
	}
}

// enharmonicVector follows the original formula: scale the tuning's
// generator vector by the EDO-compatible MOS's note count, scale the
// tuning's period components by the EDO MOS's generator-step total, and
// take the difference.
func enharmonicVector(tuning, edo Derived) *EnharmonicVector {
	edoGenSteps := edo.GenX + edo.GenY
	genScaledX := tuning.GenX * edo.N
	genScaledY := tuning.GenY * edo.N
	periodScaledX := tuning.A * edoGenSteps
	periodScaledY := tuning.B * edoGenSteps
	return &EnharmonicVector{X: genScaledX - periodScaledX, Y: genScaledY - periodScaledY}
}

// computeMOS walks `depth` levels of the continued-fraction expansion of a
// generator selected by `mode` (coefficients drawn deterministically from
// mode so that distinct modes explore distinct branches of the
// Stern-Brocot tree), and returns the resulting period/generator
// continuant pair along with the two-step-size counts at that depth.
func computeMOS(depth, mode int) Derived {
	if depth < 1 {
		depth = 1
	}

	// Continuant recursion: h[i] = c_i*h[i-1] + h[i-2], seeded so that
	// h[-1]/k[-1] = 1/0 and h[0]/k[0] = 0/1 are the trivial convergents.
	h0, h1 := 1, 0
	k0, k1 := 0, 1

	for i := 0; i < depth; i++ {
		c := 1 + ((mode + i) % 4)
		if c < 1 {
			c = 1
		}
		h2 := c*h1 + h0
		k2 := c*k1 + k0
		h0, h1 = h1, h2
		k0, k1 = k1, k2
	}

	a, b := h1, k1
	nL := h0
	nS := a - nL
	if nS < 0 {
		nS = 0
	}

	return Derived{
		A: a, B: b,
		GenX: k0, GenY: k1 - k0,
		NL: nL, NS: nS, N: nL + nS,
	}
}

// ScaleIndexAt computes the scale-degree index occupying natural
// coordinate (nx, ny), normalized into [0, N). ok is false when the
// current MOS has no notes (N == 0).
func (s *State) ScaleIndexAt(nx, ny int) (int, bool) {
	if s.Mos.N <= 0 {
		return 0, false
	}
	d := nx*s.Mos.B - ny*s.Mos.A + s.Mode
	idx := d % s.Mos.N
	if idx < 0 {
		idx += s.Mos.N
	}
	return idx, true
}

// ScaleSystemLabel renders the human-readable "5L 2s" style summary used in
// status snapshots.
func (s *State) ScaleSystemLabel() string {
	if s.Mos.N > 0 {
		return fmt.Sprintf("%dL %ds", s.Mos.NL, s.Mos.NS)
	}
	return fmt.Sprintf("%d EDO", s.Steps)
}
