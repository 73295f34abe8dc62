package sysex

import (
	"testing"
	"time"

	"pitchgrid-bridge/internal/descriptor"
	"pitchgrid-bridge/internal/midiport"
)

func testAckConfig() *descriptor.AckConfig {
	return &descriptor.AckConfig{
		TimeoutMs:          1000,
		StatusBytePosition: 1,
		ResponseTable: map[int]descriptor.ResponseAction{
			0x01: {Kind: descriptor.ActionNext},
			0x02: {Kind: descriptor.ActionAbort},
			0x7F: {Kind: descriptor.ActionDelay, DelayMs: 20},
		},
	}
}

// respond starts a goroutine that answers every message the device
// receives with the next canned response in order, pushing it onto ackCh.
func respond(t *testing.T, device *midiport.Headless, ackCh chan []byte, responses [][]byte) {
	t.Helper()
	go func() {
		for range responses {
			msg, ok := <-device.Receive()
			if !ok {
				return
			}
			_ = msg
			resp := responses[0]
			responses = responses[1:]
			ackCh <- resp
		}
	}()
}

// TestSendWithAckRetriesOnBusy covers scenario S5: three messages, with
// the second answered BUSY once before succeeding. The test checks that
// the whole stream completes without error.
func TestSendWithAckRetriesOnBusy(t *testing.T) {
	output := midiport.NewHeadless("programming-out")
	device := midiport.NewHeadless("device")
	midiport.Pipe(output, device)

	ackCh := make(chan []byte, 4)
	responses := [][]byte{
		{0xF0, 0x01, 0xF7}, // M1 -> NEXT
		{0xF0, 0x7F, 0xF7}, // M2 attempt 1 -> BUSY(20ms)
		{0xF0, 0x01, 0xF7}, // M2 attempt 2 -> NEXT
		{0xF0, 0x01, 0xF7}, // M3 -> NEXT
	}
	respond(t, device, ackCh, responses)

	waiting := false
	driver := New(output, ackCh, func(w bool) { waiting = w }, nil)

	data := []byte{
		0xF0, 0x10, 0xF7,
		0xF0, 0x20, 0xF7,
		0xF0, 0x30, 0xF7,
	}

	done := make(chan error, 1)
	go func() { done <- driver.Send(data, testAckConfig(), 1.5, nil) }()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Send returned error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Send did not complete in time")
	}
	_ = waiting
}

// TestSendWithAckCancelledMidStream covers scenario S6: the generation
// check flips false after M2's NEXT, so M3 is never sent and no error is
// reported.
func TestSendWithAckCancelledMidStream(t *testing.T) {
	output := midiport.NewHeadless("programming-out")
	device := midiport.NewHeadless("device")
	midiport.Pipe(output, device)

	ackCh := make(chan []byte, 2)
	responses := [][]byte{
		{0xF0, 0x01, 0xF7}, // M1 -> NEXT
		{0xF0, 0x01, 0xF7}, // M2 -> NEXT
	}
	respond(t, device, ackCh, responses)

	driver := New(output, ackCh, nil, nil)

	// stillCurrent is checked before every top-level message: it reports
	// true for M1 and M2 and false from the third check on, as if the
	// generation were bumped after M2's NEXT, so M3 is never sent.
	checks := 0
	stillCurrent := func() bool {
		checks++
		return checks <= 2
	}

	data := []byte{
		0xF0, 0x10, 0xF7,
		0xF0, 0x20, 0xF7,
		0xF0, 0x30, 0xF7,
	}

	err := driver.Send(data, testAckConfig(), 1.5, stillCurrent)
	if err != nil {
		t.Fatalf("cancelled send returned error %v, want nil", err)
	}
}

// TestSendAbortStopsStream verifies an ActionAbort response halts the
// ACK-gated stream; Send then falls back to delay-based sending, so the
// call as a whole returns no error.
func TestSendAbortStopsStream(t *testing.T) {
	output := midiport.NewHeadless("programming-out")
	device := midiport.NewHeadless("device")
	midiport.Pipe(output, device)

	ackCh := make(chan []byte, 1)
	respond(t, device, ackCh, [][]byte{{0xF0, 0x02, 0xF7}})

	driver := New(output, ackCh, nil, nil)
	data := []byte{0xF0, 0x10, 0xF7}

	err := driver.Send(data, testAckConfig(), 1.5, nil)
	if err != nil {
		t.Fatalf("abort should fall back to delay-based send without error, got %v", err)
	}
}

// TestSendFallsBackToDelayBasedOnTimeout exercises the ACK-failure
// fallback: with no responder at all, the ACK attempt times out and the
// driver retries via delay-based sending, which always succeeds for a
// Headless peer.
func TestSendFallsBackToDelayBasedOnTimeout(t *testing.T) {
	output := midiport.NewHeadless("programming-out")
	device := midiport.NewHeadless("device")
	midiport.Pipe(output, device)

	ackCh := make(chan []byte)
	driver := New(output, ackCh, nil, nil)

	cfg := testAckConfig()
	cfg.TimeoutMs = 10

	data := []byte{0xF0, 0x10, 0xF7}

	drain := make(chan struct{})
	go func() {
		<-device.Receive() // ACK attempt
		<-device.Receive() // delay-based fallback resend
		close(drain)
	}()

	if err := driver.Send(data, cfg, 1.5, nil); err != nil {
		t.Fatalf("Send = %v, want nil (fallback should succeed)", err)
	}
	select {
	case <-drain:
	case <-time.After(time.Second):
		t.Fatal("expected both the ACK attempt and the fallback resend")
	}
}
