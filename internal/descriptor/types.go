// Package descriptor holds the immutable per-device Controller Descriptor:
// grid geometry, logical/physical pad coordinates, the note/channel
// assignment arithmetic, and optional SysEx programming templates. A
// Descriptor never mutates after Load — it is read freely, without
// synchronization, by every other component.
package descriptor

import (
	"pitchgrid-bridge/internal/expr"
)

// Coord is a logical pad coordinate, independent of the device's native
// note numbering.
type Coord struct {
	X, Y int
}

// Pad is one physical key/pad of a controller.
type Pad struct {
	LX, LY           int
	PhysX, PhysY     float64
}

// ResponseAction is the driver behavior for a given ACK status byte value.
type ResponseAction struct {
	Kind    ResponseActionKind
	DelayMs int // only meaningful when Kind == ActionDelay
}

type ResponseActionKind int

const (
	ActionNext ResponseActionKind = iota
	ActionAbort
	ActionDelay
)

// AckConfig describes a device's ACK-gated SysEx protocol.
type AckConfig struct {
	TimeoutMs          int
	StatusBytePosition int
	ResponseTable      map[int]ResponseAction
}

// Action looks up the action for an observed status byte value. The second
// return value is false for an unrecognized status code (AckUnknownStatus).
func (a *AckConfig) Action(value int) (ResponseAction, bool) {
	act, ok := a.ResponseTable[value]
	return act, ok
}

// SysexTemplates holds the byte-level programming templates a descriptor
// may supply, plus the matching response templates used to auto-detect the
// ACK status byte position.
type SysexTemplates struct {
	SetPadNoteAndChannel  *Template
	SetPadColor           *Template
	SetPadNotesBulk       *Template
	SetPadColorsBulk      *Template

	SetPadNoteAndChannelResponse *Template
	SetPadColorResponse          *Template
	SetPadNotesBulkResponse      *Template
	SetPadColorsBulkResponse     *Template
}

// Descriptor is the immutable, pure-data description of one controller
// model. It is loaded once (see Load) and never mutated afterward.
type Descriptor struct {
	DeviceName            string
	SourcePath            string // path this descriptor was loaded from, as passed to Load; used to resolve fsnotify remove/rename events back to a catalog entry
	InputPortSubstring    string // empty means no MIDI input (e.g. computer-keyboard controllers)
	OutputPortSubstring   string // empty means no MIDI output for programming
	VirtualMIDIDeviceName string // empty means use the process-wide default

	IsMPE              bool
	HasGlobalPitchBend bool

	DefaultRootCoordinate *Coord

	Pads []Pad

	noteToCoordX expr.Expr
	noteToCoordY expr.Expr
	noteAssign   expr.Expr
	channelAssign expr.Expr
	helpers      map[string]*expr.Helper

	MessageDelayMs float64

	SysexTemplates *SysexTemplates
	AckConfig      *AckConfig

	Colors map[string]int
}

// NoteToCoord converts a controller-native MIDI note number to a logical
// coordinate using the descriptor's noteToCoordX/noteToCoordY expressions.
// Returns ok=false when the descriptor lacks either expression.
func (d *Descriptor) NoteToCoord(note int) (Coord, bool) {
	if d.noteToCoordX == nil || d.noteToCoordY == nil {
		return Coord{}, false
	}
	env := &expr.Env{Vars: map[string]int{"noteNumber": note}, Helpers: d.helpers}
	x, errX := d.noteToCoordX.Eval(env)
	y, errY := d.noteToCoordY.Eval(env)
	if errX != nil || errY != nil {
		return Coord{}, false
	}
	return Coord{X: x, Y: y}, true
}

// RenderPadTemplate renders t against vars using this descriptor's compiled
// helper set, letting the coordinator build programming messages without
// reaching into unexported fields.
func (d *Descriptor) RenderPadTemplate(t *Template, vars map[string]int) ([]byte, error) {
	return t.Render(vars, d.helpers)
}

// NoteAssign computes the controller-native MIDI note for a logical
// coordinate. Falls back to the coordinator's x + 16*y convention when the
// descriptor supplies no noteAssign expression (open question §9: a
// descriptor-provided noteAssign always takes precedence over the
// fallback).
func (d *Descriptor) NoteAssign(lx, ly int) (int, bool) {
	if d.noteAssign == nil {
		return lx + 16*ly, true
	}
	env := &expr.Env{Vars: map[string]int{"x": lx, "y": ly}, Helpers: d.helpers}
	v, err := d.noteAssign.Eval(env)
	if err != nil {
		return 0, false
	}
	return v, true
}

// ChannelAssign computes the controller-native MIDI channel for a logical
// coordinate. Defaults to channel 0 when the descriptor supplies no
// channelAssign expression.
func (d *Descriptor) ChannelAssign(lx, ly int) (int, bool) {
	if d.channelAssign == nil {
		return 0, true
	}
	env := &expr.Env{Vars: map[string]int{"x": lx, "y": ly}, Helpers: d.helpers}
	v, err := d.channelAssign.Eval(env)
	if err != nil {
		return 0, false
	}
	return v, true
}
