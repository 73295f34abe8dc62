package remap

import (
	"testing"
	"time"

	"pitchgrid-bridge/internal/descriptor"
	"pitchgrid-bridge/internal/layout"
	"pitchgrid-bridge/internal/midiport"
)

// tablesS1 builds the forward/reverse pair from spec scenario S1: pad
// (3,2) on a LinnStrument-like descriptor (noteAssign = x+16y, channel 0)
// maps to output note 57 under the (a,b)=(12,7), mode=0 MOS.
func tablesS1() *layout.Tables {
	coord := descriptor.Coord{X: 3, Y: 2}
	return &layout.Tables{
		Forward: map[descriptor.Coord]int{coord: 57},
		Reverse: map[layout.ReverseKey]descriptor.Coord{
			{Channel: 0, Note: 35}: coord,
		},
	}
}

func waitMsg(t *testing.T, ch <-chan []byte) []byte {
	t.Helper()
	select {
	case msg := <-ch:
		return msg
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for message")
		return nil
	}
}

// TestNoteOnRemapAndRegistry covers scenario S2: a Note-On on channel 0,
// note 35 comes in at velocity 100 and must go out as channel 0, note 57,
// velocity 100, with the Playing-Notes Registry recording it.
func TestNoteOnRemapAndRegistry(t *testing.T) {
	ctrl := midiport.NewHeadless("controller")
	engineIn := midiport.NewHeadless("engine-in")
	midiport.Pipe(ctrl, engineIn)

	out := midiport.NewHeadless("virtual-out")
	engineOut := midiport.NewHeadless("engine-out")
	midiport.Pipe(engineOut, out)

	e := New(engineOut, engineIn, nil, false, nil)
	e.SwapTables(tablesS1())
	e.Start()
	defer e.Stop()

	if err := ctrl.Send([]byte{0x90, 35, 100}); err != nil {
		t.Fatalf("Send: %v", err)
	}

	got := waitMsg(t, out.Receive())
	want := []byte{0x90, 57, 100}
	if len(got) != 3 || got[0] != want[0] || got[1] != want[1] || got[2] != want[2] {
		t.Errorf("got %v, want %v", got, want)
	}

	deadline := time.Now().Add(time.Second)
	for e.PlayingCount() != 1 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if e.PlayingCount() != 1 {
		t.Fatalf("PlayingCount = %d, want 1", e.PlayingCount())
	}
}

// TestLayoutSwapSilencesMovedNote covers scenario S3: while a note is
// held, the layout shifts so the pad's output note changes. The swap must
// emit a Note-Off for the old output note on the originating channel, and
// a subsequent physical Note-Off for the same pad under the new table
// must find no entry (the pad note changed) and be dropped silently.
func TestLayoutSwapSilencesMovedNote(t *testing.T) {
	ctrl := midiport.NewHeadless("controller")
	engineIn := midiport.NewHeadless("engine-in")
	midiport.Pipe(ctrl, engineIn)

	out := midiport.NewHeadless("virtual-out")
	engineOut := midiport.NewHeadless("engine-out")
	midiport.Pipe(engineOut, out)

	e := New(engineOut, engineIn, nil, false, nil)
	e.SwapTables(tablesS1())
	e.Start()
	defer e.Stop()

	if err := ctrl.Send([]byte{0x90, 35, 100}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	waitMsg(t, out.Receive())

	deadline := time.Now().Add(time.Second)
	for e.PlayingCount() != 1 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}

	coord := descriptor.Coord{X: 3, Y: 2}
	shifted := &layout.Tables{
		Forward: map[descriptor.Coord]int{coord: 58},
		Reverse: map[layout.ReverseKey]descriptor.Coord{
			{Channel: 0, Note: 35}: coord,
		},
	}
	e.SwapTables(shifted)

	off := waitMsg(t, out.Receive())
	if off[0] != 0x80 || off[1] != 57 {
		t.Errorf("swap Note-Off = %v, want status 0x80 note 57", off)
	}
	if e.PlayingCount() != 0 {
		t.Errorf("PlayingCount after swap = %d, want 0", e.PlayingCount())
	}

	if err := ctrl.Send([]byte{0x80, 35, 0}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	select {
	case msg := <-out.Receive():
		t.Fatalf("expected no output for stale Note-Off, got %v", msg)
	case <-time.After(100 * time.Millisecond):
	}
}

// TestMPENoteOffUsesOriginatingChannel covers scenario S4: an MPE Note-On
// on channel 4 is remapped to channel 4; the subsequent Note-Off must go
// out on channel 4 as well, independent of whatever channel a later
// layout would assign.
func TestMPENoteOffUsesOriginatingChannel(t *testing.T) {
	ctrl := midiport.NewHeadless("controller")
	engineIn := midiport.NewHeadless("engine-in")
	midiport.Pipe(ctrl, engineIn)

	out := midiport.NewHeadless("virtual-out")
	engineOut := midiport.NewHeadless("engine-out")
	midiport.Pipe(engineOut, out)

	coord := descriptor.Coord{X: 3, Y: 2}
	tables := &layout.Tables{
		Forward: map[descriptor.Coord]int{coord: 57},
		Reverse: map[layout.ReverseKey]descriptor.Coord{
			{Channel: 0, Note: 35}: coord,
		},
	}

	e := New(engineOut, engineIn, nil, false, nil)
	e.SwapTables(tables)
	e.Start()
	defer e.Stop()

	if err := ctrl.Send([]byte{0x94, 35, 100}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	got := waitMsg(t, out.Receive())
	if got[0] != 0x94 || got[1] != 57 {
		t.Fatalf("Note-On remap = %v, want channel 4 note 57", got)
	}

	if err := ctrl.Send([]byte{0x84, 35, 0}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	off := waitMsg(t, out.Receive())
	if off[0] != 0x84 || off[1] != 57 {
		t.Errorf("Note-Off = %v, want channel 4 note 57", off)
	}
}

// TestDisconnectSilencesAllPlayingNotes exercises the stuck-note-freedom
// property from the testable-properties section: every note the registry
// tracks gets an explicit Note-Off when the controller disconnects.
func TestDisconnectSilencesAllPlayingNotes(t *testing.T) {
	engineOut := midiport.NewHeadless("engine-out")
	out := midiport.NewHeadless("virtual-out")
	midiport.Pipe(engineOut, out)

	e := New(engineOut, nil, nil, false, nil)
	e.SwapTables(tablesS1())

	e.mu.Lock()
	e.playing[57] = playingEntry{coord: descriptor.Coord{X: 3, Y: 2}, channel: 2}
	e.playing[64] = playingEntry{coord: descriptor.Coord{X: 5, Y: 1}, channel: 0}
	e.mu.Unlock()

	e.Disconnect()

	seen := map[int]byte{}
	for i := 0; i < 2; i++ {
		msg := waitMsg(t, out.Receive())
		seen[int(msg[1])] = msg[0] & 0xF0
	}
	if seen[57] != 0x80 || seen[64] != 0x80 {
		t.Errorf("Disconnect offs = %v, want Note-Off for both 57 and 64", seen)
	}
	if e.PlayingCount() != 0 {
		t.Errorf("PlayingCount after Disconnect = %d, want 0", e.PlayingCount())
	}
}

// TestLayoutSwapIdempotentWhenTablesUnchanged exercises the layout-swap
// idempotence property: swapping in a table identical to the current one
// must not silence any held note.
func TestLayoutSwapIdempotentWhenTablesUnchanged(t *testing.T) {
	engineOut := midiport.NewHeadless("engine-out")
	out := midiport.NewHeadless("virtual-out")
	midiport.Pipe(engineOut, out)

	e := New(engineOut, nil, nil, false, nil)
	tables := tablesS1()
	e.SwapTables(tables)

	e.mu.Lock()
	e.playing[57] = playingEntry{coord: descriptor.Coord{X: 3, Y: 2}, channel: 0}
	e.mu.Unlock()

	e.SwapTables(tablesS1())

	select {
	case msg := <-out.Receive():
		t.Fatalf("expected no Note-Off on idempotent swap, got %v", msg)
	case <-time.After(100 * time.Millisecond):
	}
	if e.PlayingCount() != 1 {
		t.Errorf("PlayingCount after idempotent swap = %d, want 1", e.PlayingCount())
	}
}

// TestInboundOverflowDropsNewest exercises the bounded-queue drop-newest
// overflow semantics: once the internal queue is saturated, further
// inbound messages are counted as overflow rather than applied.
func TestInboundOverflowDropsNewest(t *testing.T) {
	e := New(nil, nil, nil, false, nil)
	for i := 0; i < inboundQueueCapacity; i++ {
		e.queue <- []byte{0x90, byte(i % 128), 1}
	}
	e.enqueue([]byte{0x90, 99, 1})
	if e.OverflowCount() != 1 {
		t.Errorf("OverflowCount = %d, want 1", e.OverflowCount())
	}
}
