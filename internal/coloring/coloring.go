// Package coloring computes pad colors for the status snapshot's pad
// array. It mirrors the original's ColoringScheme/ScaleColoringScheme
// split (spec.md §9): a small variant interface so a future coloring
// strategy (e.g. a fixed per-pad palette) can be swapped in without
// touching the coordinator, with the scale-aware scheme as the only
// variant implemented here.
package coloring

import "pitchgrid-bridge/internal/mos"

// Scheme is the variant interface a pad-coloring strategy implements.
// Only compute_color has a Go-side analogue here; compute_mapping is the
// layout package's concern (forward/reverse table construction), not the
// coloring scheme's.
type Scheme interface {
	Color(nx, ny int, s *mos.State) int
}

// scale is the default scheme: a pad is root when its natural coordinate
// lands on scale-degree 0 of the current mode, on-scale for every other
// degree the current MOS projects it to, and off-scale only when the
// tuning has no scale structure at all (N == 0, a degenerate MOS; the
// default state from mos.NewState has N == 1).
//
// This collapses the original's sparse 2D node-membership test (is this
// coordinate one of the finitely many points `scalatrix`'s
// MOS.base_scale.getNodes() enumerates) into a single modular reduction,
// because this reimplementation's note-assignment projection
// (nx*B - ny*A + Mode, see internal/layout.Build) is total: every
// coordinate in the plane reduces to a valid scale degree by
// construction, unlike the original's denser chromatic grid overlaid on
// a sparser scale. There is consequently no coordinate this scheme can
// call off-scale once a real MOS is in effect — see DESIGN.md for the
// tradeoff this records.
type scale struct {
	Root, OnScale, OffScale int
}

// NewScaleScheme returns the default root/on-scale/off-scale scheme, with
// colors chosen to keep the same three-way role distinction as the
// original's hsl(300,70%,60%) / hsl(180,70%,50%) / hsl(0,0%,40%) trio
// (magenta root, cyan on-scale, gray off-scale) in this package's packed
// 0xRRGGBB representation (descriptor.Colors uses the same encoding).
func NewScaleScheme() Scheme {
	return scale{Root: 0xD633DB, OnScale: 0x33C7CC, OffScale: 0x666666}
}

func (c scale) Color(nx, ny int, s *mos.State) int {
	idx, ok := s.ScaleIndexAt(nx, ny)
	if !ok {
		return c.OffScale
	}
	if idx == 0 {
		return c.Root
	}
	return c.OnScale
}
