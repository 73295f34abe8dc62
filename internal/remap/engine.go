// Package remap implements the MIDI I/O & Remap Engine: the hot thread
// that rewrites note messages using the layout calculator's tables, tracks
// currently-sounding notes, and silences them cleanly across a layout
// change.
package remap

import (
	"sync"
	"sync/atomic"

	"pitchgrid-bridge/internal/descriptor"
	"pitchgrid-bridge/internal/layout"
	"pitchgrid-bridge/internal/midiport"
	"pitchgrid-bridge/internal/telemetry"
)

const (
	statusNoteOff = 0x80
	statusNoteOn  = 0x90
	statusSysEx   = 0xF0

	inboundQueueCapacity = 1024
	ackQueueCapacity     = 16
)

// playingEntry is one live note tracked in the Playing-Notes Registry P.
type playingEntry struct {
	coord   descriptor.Coord
	channel int
}

// Engine owns the hot MIDI thread: it reads from a controller input port,
// remaps note messages through the current layout tables, and writes to a
// virtual output port. A second, optional port carries SysEx programming
// traffic to the controller.
type Engine struct {
	output      midiport.Port
	input       midiport.Port
	programming midiport.Port

	useChannelLookup bool

	tables atomic.Pointer[layout.Tables]

	queue chan []byte

	ackWaiting atomic.Bool
	ackQueue   chan []byte

	mu      sync.Mutex
	playing map[int]playingEntry

	overflowCount atomic.Int64

	logger *telemetry.Logger

	shutdown chan struct{}
	done     chan struct{}
}

// New constructs an Engine. useChannelLookup should be the inverse of the
// descriptor's IsMPE flag: MPE controllers look up the reverse table under
// channel 0 regardless of the incoming channel.
func New(output, input, programming midiport.Port, useChannelLookup bool, logger *telemetry.Logger) *Engine {
	e := &Engine{
		output:           output,
		input:            input,
		programming:      programming,
		useChannelLookup: useChannelLookup,
		queue:            make(chan []byte, inboundQueueCapacity),
		ackQueue:         make(chan []byte, ackQueueCapacity),
		playing:          make(map[int]playingEntry),
		logger:           logger,
		shutdown:         make(chan struct{}),
		done:             make(chan struct{}),
	}
	e.tables.Store(emptyTables())
	return e
}

func emptyTables() *layout.Tables {
	return &layout.Tables{
		Forward: make(map[descriptor.Coord]int),
		Reverse: make(map[layout.ReverseKey]descriptor.Coord),
	}
}

// AckQueue exposes the channel the SysEx driver waits on for ACK responses.
func (e *Engine) AckQueue() <-chan []byte { return e.ackQueue }

// SetAckWaiting toggles whether inbound SysEx is routed to the ACK queue
// (true) or logged as unsolicited (false). Owned by the SysEx driver.
func (e *Engine) SetAckWaiting(waiting bool) { e.ackWaiting.Store(waiting) }

// OverflowCount returns the number of inbound messages dropped because the
// internal queue was full.
func (e *Engine) OverflowCount() int64 { return e.overflowCount.Load() }

// Start launches the listener goroutine (draining the input port into the
// bounded internal queue) and the hot processing thread. Both stop when
// Stop is called.
func (e *Engine) Start() {
	go e.listen()
	go e.run()
}

// Stop signals both goroutines to exit and waits for the hot thread to
// finish its current iteration.
func (e *Engine) Stop() {
	close(e.shutdown)
	<-e.done
}

func (e *Engine) listen() {
	if e.input == nil {
		return
	}
	for {
		select {
		case <-e.shutdown:
			return
		case msg, ok := <-e.input.Receive():
			if !ok {
				return
			}
			e.enqueue(msg)
		}
	}
}

// enqueue attempts a non-blocking send onto the bounded inbound queue,
// dropping the newest message and counting the overflow when it's full.
func (e *Engine) enqueue(msg []byte) {
	select {
	case e.queue <- msg:
	default:
		e.overflowCount.Add(1)
		if e.logger != nil {
			e.logger.LogMIDI(telemetry.LogLevelWarning, "inbound queue overflow, dropping message", nil)
		}
	}
}

func (e *Engine) run() {
	defer close(e.done)
	for {
		select {
		case <-e.shutdown:
			return
		case msg := <-e.queue:
			e.handle(msg)
		}
	}
}

func (e *Engine) handle(msg []byte) {
	if len(msg) == 0 {
		return
	}
	status := msg[0] & 0xF0

	if msg[0] == statusSysEx {
		if e.ackWaiting.Load() {
			select {
			case e.ackQueue <- msg:
			default:
				if e.logger != nil {
					e.logger.LogMIDI(telemetry.LogLevelError, "ACK response queue full, dropping response", nil)
				}
			}
		} else if e.logger != nil {
			e.logger.LogMIDI(telemetry.LogLevelDebug, "SysEx received, not awaiting ACK", nil)
		}
		return
	}

	if len(msg) >= 3 && (status == statusNoteOn || status == statusNoteOff) {
		e.handleNote(msg, status)
		return
	}

	if e.output != nil {
		_ = e.output.Send(msg)
	}
}

func (e *Engine) handleNote(msg []byte, status byte) {
	channel := int(msg[0] & 0x0F)
	controllerNote := int(msg[1])
	velocity := msg[2]

	lookupChannel := 0
	if e.useChannelLookup {
		lookupChannel = channel
	}

	tables := e.tables.Load()
	coord, ok := tables.Reverse[layout.ReverseKey{Channel: lookupChannel, Note: controllerNote}]
	if !ok {
		return
	}
	mappedNote, ok := tables.Forward[coord]
	if !ok {
		return
	}

	isNoteOn := status == statusNoteOn && velocity > 0

	e.mu.Lock()
	if isNoteOn {
		e.playing[mappedNote] = playingEntry{coord: coord, channel: channel}
	} else {
		// A Note-Off for an output note the registry no longer holds (it
		// was already silenced by a layout swap) is dropped.
		if _, held := e.playing[mappedNote]; !held {
			e.mu.Unlock()
			return
		}
		delete(e.playing, mappedNote)
	}
	e.mu.Unlock()

	out := []byte{msg[0], byte(mappedNote), velocity}
	if e.output != nil {
		if err := e.output.Send(out); err != nil && e.logger != nil {
			e.logger.LogMIDI(telemetry.LogLevelError, "send to virtual output failed: "+err.Error(), nil)
		}
	}
}

// SwapTables installs a new (Forward, Reverse) pair. Before the new tables
// take effect, it diffs the Playing-Notes Registry against the new forward
// table: any note whose logical coordinate no longer maps to the same
// output note gets an explicit Note-Off on its originating channel, per
// the layout-swap protocol (MPE-correct: the off goes out on the channel
// the note-on actually arrived on, not whatever channel the new layout
// would assign).
func (e *Engine) SwapTables(tables *layout.Tables) {
	e.mu.Lock()
	var offs [][]byte
	for note, entry := range e.playing {
		if mapped, ok := tables.Forward[entry.coord]; !ok || mapped != note {
			offs = append(offs, []byte{byte(statusNoteOff | entry.channel), byte(note), 0})
			delete(e.playing, note)
		}
	}
	e.mu.Unlock()

	for _, off := range offs {
		if e.output != nil {
			_ = e.output.Send(off)
		}
	}

	e.tables.Store(tables)
}

// Disconnect silences every currently-playing note and clears the
// registry, as required before closing ports.
func (e *Engine) Disconnect() {
	e.mu.Lock()
	var offs [][]byte
	for note, entry := range e.playing {
		offs = append(offs, []byte{byte(statusNoteOff | entry.channel), byte(note), 0})
	}
	e.playing = make(map[int]playingEntry)
	e.mu.Unlock()

	for _, off := range offs {
		if e.output != nil {
			_ = e.output.Send(off)
		}
	}
}

// PlayingCount reports how many notes the registry currently tracks.
func (e *Engine) PlayingCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.playing)
}
