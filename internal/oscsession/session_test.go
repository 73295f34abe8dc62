package oscsession

import (
	"net"
	"testing"
	"time"
)

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP("127.0.0.1")})
	if err != nil {
		t.Fatalf("find free port: %v", err)
	}
	defer l.Close()
	return l.LocalAddr().(*net.UDPAddr).Port
}

func TestSessionReceivesTuningFrame(t *testing.T) {
	listenPort := freePort(t)
	sess, err := New("127.0.0.1", listenPort, freePort(t), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer sess.Stop()

	got := make(chan TuningFrame, 1)
	sess.OnTuning(func(f TuningFrame) { got <- f })
	sess.Start()

	sender, err := net.DialUDP("udp", nil, &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: listenPort})
	if err != nil {
		t.Fatalf("DialUDP: %v", err)
	}
	defer sender.Close()

	pkt, err := Encode(Message{
		Address: "/pitchgrid/plugin/tuning",
		Args: []interface{}{
			int32(1), int32(0), float32(440.0), float32(1.0), float32(0.0), int32(0), int32(12),
		},
	})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if _, err := sender.Write(pkt); err != nil {
		t.Fatalf("Write: %v", err)
	}

	select {
	case frame := <-got:
		if frame.Steps != 12 || frame.RootFreq != 440.0 {
			t.Errorf("frame = %+v, want Steps=12 RootFreq=440", frame)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for tuning frame")
	}
}

func TestPresenceTransitionsOnAckAndTimeout(t *testing.T) {
	listenPort := freePort(t)
	sess, err := New("127.0.0.1", listenPort, freePort(t), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer sess.Stop()

	// Start the fake clock at a nonzero instant: a lastAck of 0 means "no
	// ACK received yet" to the presence check.
	fakeNow := int64(time.Second)
	nowUnixNano = func() int64 { return fakeNow }
	defer func() { nowUnixNano = func() int64 { return time.Now().UnixNano() } }()

	transitions := make(chan bool, 4)
	sess.OnPresenceChanged(func(connected bool) { transitions <- connected })

	sess.touchAck() // simulate a fresh ACK at fakeNow=1s

	// Directly exercise one monitor tick's logic without waiting on the
	// real 500ms ticker: replicate what monitorLoop does at a single
	// instant, since the ticker interval itself is not the property under
	// test here.
	recent := sess.lastAck.Load() != 0 && time.Duration(nowUnixNano()-sess.lastAck.Load()) <= presenceTimeout
	if !recent {
		t.Fatal("expected presence to read as recent immediately after touchAck")
	}

	fakeNow += int64(3 * time.Second)
	recent = sess.lastAck.Load() != 0 && time.Duration(nowUnixNano()-sess.lastAck.Load()) <= presenceTimeout
	if recent {
		t.Fatal("expected presence to read as stale after the timeout elapses")
	}
}
