// Package layout computes the forward and reverse remap tables: forward
// maps a pad's logical coordinate to an output MIDI note derived from the
// current MOS scale; reverse maps a controller-native (channel, note) pair
// back to the logical coordinate that produced it.
package layout

import "pitchgrid-bridge/internal/descriptor"

// TransformKind names one cumulative lattice transformation a LayoutConfig
// can be advanced by.
type TransformKind int

const (
	TransformRotateCW TransformKind = iota
	TransformRotateCCW
	TransformSkewPositive
	TransformSkewNegative
	TransformTranslate
	TransformReset
)

// Config holds the per-session layout parameters: an optional root
// coordinate override and a cumulative integer lattice transform (skew,
// rotation, translation). Transformations accumulate — Apply always
// advances the current matrix/offset by a delta; only TransformReset
// restores the identity.
type Config struct {
	Root *descriptor.Coord

	m      [2][2]int
	tx, ty int
}

// NewConfig returns an identity layout configuration.
func NewConfig() *Config {
	return &Config{m: [2][2]int{{1, 0}, {0, 1}}}
}

// SetRoot overrides the root coordinate used by Build. A nil root restores
// descriptor/zero fallback behavior.
func (c *Config) SetRoot(root *descriptor.Coord) {
	c.Root = root
}

// Apply advances the configuration's cumulative transform by one step. For
// TransformTranslate, dx/dy are the translation delta; they are ignored by
// the other kinds except where noted.
func (c *Config) Apply(kind TransformKind, dx, dy int) {
	switch kind {
	case TransformRotateCW:
		c.m = matMul([2][2]int{{0, 1}, {-1, 0}}, c.m)
	case TransformRotateCCW:
		c.m = matMul([2][2]int{{0, -1}, {1, 0}}, c.m)
	case TransformSkewPositive:
		c.m = matMul([2][2]int{{1, 1}, {0, 1}}, c.m)
	case TransformSkewNegative:
		c.m = matMul([2][2]int{{1, -1}, {0, 1}}, c.m)
	case TransformTranslate:
		c.tx += dx
		c.ty += dy
	case TransformReset:
		c.m = [2][2]int{{1, 0}, {0, 1}}
		c.tx, c.ty = 0, 0
	}
}

func matMul(a, b [2][2]int) [2][2]int {
	var out [2][2]int
	for i := 0; i < 2; i++ {
		for j := 0; j < 2; j++ {
			out[i][j] = a[i][0]*b[0][j] + a[i][1]*b[1][j]
		}
	}
	return out
}

// Transform applies the cumulative matrix and translation to a
// root-relative coordinate, producing a natural coordinate.
func (c *Config) Transform(x, y int) (int, int) {
	nx := c.m[0][0]*x + c.m[0][1]*y + c.tx
	ny := c.m[1][0]*x + c.m[1][1]*y + c.ty
	return nx, ny
}
