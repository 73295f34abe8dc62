package layout

import (
	"fmt"

	"pitchgrid-bridge/internal/descriptor"
	"pitchgrid-bridge/internal/mos"
)

// DefaultRootNote is the MIDI note assigned to the layout root coordinate
// before any MOS degree offset is applied. A descriptor's
// DefaultRootCoordinate only fixes where root sits in logical-coordinate
// space; this is the note number root maps to.
const DefaultRootNote = 60

// ReverseKey identifies a controller-native (channel, note) pair.
type ReverseKey struct {
	Channel int
	Note    int
}

// NaturalCoord is a pad's coordinate after the layout's root-relative
// transform — the space the MOS projection and the coloring scheme both
// operate in.
type NaturalCoord struct {
	X, Y int
}

// Tables is the atomically-swapped pair of forward and reverse remap
// tables produced by Build, plus each pad's natural coordinate and any
// collision descriptions observed while building them (duplicates are
// permitted but must be surfaced for logging).
type Tables struct {
	Forward    map[descriptor.Coord]int
	Reverse    map[ReverseKey]descriptor.Coord
	Natural    map[descriptor.Coord]NaturalCoord
	Collisions []string
}

// Build computes the forward/reverse remap table pair for one
// (Descriptor, MOS, Config) snapshot, per the Isomorphic layout algorithm.
func Build(desc *descriptor.Descriptor, state *mos.State, cfg *Config) *Tables {
	root := resolveRoot(desc, cfg)

	t := &Tables{
		Forward: make(map[descriptor.Coord]int, len(desc.Pads)),
		Reverse: make(map[ReverseKey]descriptor.Coord, len(desc.Pads)),
		Natural: make(map[descriptor.Coord]NaturalCoord, len(desc.Pads)),
	}

	seenNatural := make(map[[2]int]descriptor.Coord, len(desc.Pads))

	for _, pad := range desc.Pads {
		coord := descriptor.Coord{X: pad.LX, Y: pad.LY}
		nx, ny := cfg.Transform(pad.LX-root.X, pad.LY-root.Y)
		t.Natural[coord] = NaturalCoord{X: nx, Y: ny}

		if prior, ok := seenNatural[[2]int{nx, ny}]; ok {
			t.Collisions = append(t.Collisions, fmt.Sprintf(
				"natural coordinate (%d,%d) shared by pad %v and pad %v; first wins for tie-break purposes",
				nx, ny, prior, coord))
		} else {
			seenNatural[[2]int{nx, ny}] = coord
		}

		d := nx*state.Mos.B - ny*state.Mos.A + state.Mode
		note := DefaultRootNote + d
		if note >= 0 && note <= 127 {
			t.Forward[coord] = note
		}

		ctlNote, okNote := desc.NoteAssign(pad.LX, pad.LY)
		ch, okCh := desc.ChannelAssign(pad.LX, pad.LY)
		if !okNote || !okCh {
			continue
		}
		if ctlNote < 0 || ctlNote > 127 {
			continue
		}
		key := ReverseKey{Channel: ch, Note: ctlNote}
		if prior, exists := t.Reverse[key]; exists {
			t.Collisions = append(t.Collisions, fmt.Sprintf(
				"reverse key (chan=%d, note=%d) already mapped to pad %v; pad %v dropped",
				ch, ctlNote, prior, coord))
			continue
		}
		t.Reverse[key] = coord
	}

	return t
}

func resolveRoot(desc *descriptor.Descriptor, cfg *Config) descriptor.Coord {
	if cfg != nil && cfg.Root != nil {
		return *cfg.Root
	}
	if desc.DefaultRootCoordinate != nil {
		return *desc.DefaultRootCoordinate
	}
	return descriptor.Coord{}
}
