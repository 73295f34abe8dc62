package coordinator

import (
	"strings"

	"pitchgrid-bridge/internal/midiport"
)

// Backend abstracts MIDI port discovery and acquisition so the
// coordinator never depends on a platform driver directly. A headless
// backend (HeadlessBackend) is the default, wiring in-memory loopbacks;
// a CoreMIDI/ALSA/WinMM implementation satisfies the same interface as a
// drop-in replacement.
type Backend interface {
	// OpenVirtualOutput creates (or finds a pre-existing) virtual output
	// port with the given name. Failure here is the one process-fatal
	// condition in the bridge's error model.
	OpenVirtualOutput(name string) (midiport.Port, error)

	// DiscoverPorts lists the names of currently visible MIDI ports.
	DiscoverPorts() []string

	// OpenInput opens the shortest discoverable port whose name contains
	// substring. ok is false when no port matches.
	OpenInput(substring string) (midiport.Port, bool)

	// OpenOutput opens the shortest discoverable port whose name
	// contains substring, for SysEx programming traffic.
	OpenOutput(substring string) (midiport.Port, bool)
}

// HeadlessBackend is an in-memory Backend: a fixed registry of named
// peers stands in for "discoverable" hardware ports, and the virtual
// output is always a fresh Headless. It is the default per spec.md §4.2's
// note that no native MIDI driver binding ships in this dependency set.
type HeadlessBackend struct {
	peers map[string]*midiport.Headless
}

// NewHeadlessBackend builds a backend whose discoverable ports are the
// given named peers — each representing a physical controller's input
// (and, if present under the same name, its programming output).
func NewHeadlessBackend(peers map[string]*midiport.Headless) *HeadlessBackend {
	return &HeadlessBackend{peers: peers}
}

func (b *HeadlessBackend) OpenVirtualOutput(name string) (midiport.Port, error) {
	return midiport.NewHeadless(name), nil
}

func (b *HeadlessBackend) DiscoverPorts() []string {
	names := make([]string, 0, len(b.peers))
	for name := range b.peers {
		names = append(names, name)
	}
	return names
}

func (b *HeadlessBackend) OpenInput(substring string) (midiport.Port, bool) {
	return b.findShortest(substring)
}

func (b *HeadlessBackend) OpenOutput(substring string) (midiport.Port, bool) {
	return b.findShortest(substring)
}

func (b *HeadlessBackend) findShortest(substring string) (midiport.Port, bool) {
	if substring == "" {
		return nil, false
	}
	var best string
	found := false
	for name := range b.peers {
		if !strings.Contains(name, substring) {
			continue
		}
		if !found || len(name) < len(best) {
			best = name
			found = true
		}
	}
	if !found {
		return nil, false
	}
	return b.peers[best], true
}
