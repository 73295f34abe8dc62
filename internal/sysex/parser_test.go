package sysex

import "testing"

func TestSplitSysExMessage(t *testing.T) {
	data := []byte{0xF0, 0x00, 0x01, 0x02, 0xF7}
	got := Split(data)
	if len(got) != 1 || len(got[0]) != 5 || got[0][0] != 0xF0 || got[0][4] != 0xF7 {
		t.Fatalf("Split(%v) = %v, want one 5-byte SysEx message", data, got)
	}
}

func TestSplitChannelMessages(t *testing.T) {
	data := []byte{0x90, 60, 100, 0x80, 60, 0}
	got := Split(data)
	if len(got) != 2 {
		t.Fatalf("Split = %d messages, want 2", len(got))
	}
	if len(got[0]) != 3 || got[0][0] != 0x90 {
		t.Errorf("first message = %v, want Note-On 3 bytes", got[0])
	}
	if len(got[1]) != 3 || got[1][0] != 0x80 {
		t.Errorf("second message = %v, want Note-Off 3 bytes", got[1])
	}
}

func TestSplitProgramChangeIsTwoBytes(t *testing.T) {
	data := []byte{0xC0, 5, 0xD0, 64}
	got := Split(data)
	if len(got) != 2 || len(got[0]) != 2 || len(got[1]) != 2 {
		t.Fatalf("Split(%v) = %v, want two 2-byte messages", data, got)
	}
}

func TestSplitSystemCommonMessages(t *testing.T) {
	data := []byte{0xF1, 0x10, 0xF2, 0x01, 0x02, 0xF6}
	got := Split(data)
	if len(got) != 3 {
		t.Fatalf("Split = %d messages, want 3", len(got))
	}
	if len(got[0]) != 2 || len(got[1]) != 3 || len(got[2]) != 1 {
		t.Errorf("lengths = %d,%d,%d, want 2,3,1", len(got[0]), len(got[1]), len(got[2]))
	}
}

func TestSplitRealTimeMessagesAreSingleByte(t *testing.T) {
	data := []byte{0xF8, 0xFA, 0xFC}
	got := Split(data)
	if len(got) != 3 {
		t.Fatalf("Split = %d messages, want 3", len(got))
	}
	for _, m := range got {
		if len(m) != 1 {
			t.Errorf("message %v, want length 1", m)
		}
	}
}

func TestSplitSkipsUnknownStatusByte(t *testing.T) {
	// 0x00-0x7F is never a valid leading status byte on its own.
	data := []byte{0x00, 0x90, 60, 100}
	got := Split(data)
	if len(got) != 1 || got[0][0] != 0x90 {
		t.Fatalf("Split(%v) = %v, want the unknown byte skipped and one Note-On", data, got)
	}
}

func TestSplitUnterminatedSysExConsumesRemainder(t *testing.T) {
	data := []byte{0xF0, 0x01, 0x02}
	got := Split(data)
	if len(got) != 1 || len(got[0]) != 3 {
		t.Fatalf("Split(%v) = %v, want one 3-byte message covering the rest of the stream", data, got)
	}
}
