// Package midiport defines the MIDI transport boundary the remap engine
// and SysEx driver send and receive through. No CGo MIDI driver binding
// (CoreMIDI, ALSA, WinMM) ships in this tree; Headless is the default
// backend, wiring two controllers together entirely in memory so the rest
// of the bridge is exercised and testable without OS MIDI hardware. A real
// deployment supplies its own Port implementation bound to a platform
// driver at the same interface.
package midiport

import (
	"errors"
	"sync"
)

// ErrClosed is returned by Send/Receive operations on a closed port.
var ErrClosed = errors.New("midiport: port is closed")

// ErrPeerBufferFull is returned by Send when the receiving peer's inbox is
// saturated — the peer is not draining fast enough.
var ErrPeerBufferFull = errors.New("midiport: peer receive buffer full")

// Port is the transport boundary for one MIDI direction. Receive returns a
// channel of raw byte messages that is closed when the port is closed.
type Port interface {
	Name() string
	Send(msg []byte) error
	Receive() <-chan []byte
	Close() error
}

// Headless is an in-memory Port. Two Headless ports can be wired together
// with Pipe to form a loopback, or used standalone as a software sink/
// source in tests and in deployments with no physical controller.
type Headless struct {
	name string

	mu     sync.Mutex
	closed bool
	peer   *Headless

	inbox chan []byte
}

// NewHeadless creates a standalone headless port. Messages sent to it are
// discarded unless it is later wired to a peer via Pipe.
func NewHeadless(name string) *Headless {
	return &Headless{name: name, inbox: make(chan []byte, 256)}
}

// Pipe wires two headless ports so that messages sent to one arrive on the
// other's Receive channel, modeling a virtual MIDI cable.
func Pipe(a, b *Headless) {
	a.mu.Lock()
	a.peer = b
	a.mu.Unlock()
	b.mu.Lock()
	b.peer = a
	b.mu.Unlock()
}

func (h *Headless) Name() string { return h.name }

func (h *Headless) Send(msg []byte) error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return ErrClosed
	}
	peer := h.peer
	h.mu.Unlock()

	if peer == nil {
		return nil
	}

	cp := make([]byte, len(msg))
	copy(cp, msg)

	peer.mu.Lock()
	defer peer.mu.Unlock()
	if peer.closed {
		return ErrClosed
	}
	select {
	case peer.inbox <- cp:
		return nil
	default:
		return ErrPeerBufferFull
	}
}

func (h *Headless) Receive() <-chan []byte {
	return h.inbox
}

func (h *Headless) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	h.closed = true
	h.peer = nil
	close(h.inbox)
	return nil
}
