// Package coordinator implements the Coordinator (C7): the single writer
// of current controller, current layout, and tuning state. It arbitrates
// connect/disconnect, layout rebuilds, and transformation application,
// and owns the generation counter every SysEx programming stream is
// tagged with.
package coordinator

import (
	"strings"
	"sync"
	"sync/atomic"

	"pitchgrid-bridge/internal/bridgeerr"
	"pitchgrid-bridge/internal/coloring"
	"pitchgrid-bridge/internal/config"
	"pitchgrid-bridge/internal/descriptor"
	"pitchgrid-bridge/internal/layout"
	"pitchgrid-bridge/internal/mos"
	"pitchgrid-bridge/internal/oscsession"
	"pitchgrid-bridge/internal/remap"
	"pitchgrid-bridge/internal/sysex"
	"pitchgrid-bridge/internal/telemetry"
)

// Pad is one entry of the status snapshot's pad array.
type Pad struct {
	LX, LY        int
	PhysX, PhysY  float64
	OutputNote    *int
	Color         *int
	NaturalCoordX *int
	NaturalCoordY *int
}

// TuningSummary mirrors the status snapshot's current-tuning shape.
type TuningSummary struct {
	Depth             int
	Mode              int
	RootFreq          float64
	Stretch           float64
	Skew              float64
	ModeOffset        int
	Steps             int
	ScaleSystemLabel  string
	EnharmonicVectorX *int
	EnharmonicVectorY *int
}

// Status is the snapshot exposed to the outer UI layer.
type Status struct {
	ConnectedController string
	LayoutType           string
	VirtualPortReady     bool
	KnownDescriptors     []string
	LiveDescriptors      []string
	Pads                 []Pad
	OSCPresent           bool
	Tuning               TuningSummary
	RecentActivity       []string
}

// recentActivityDepth bounds the status snapshot's recent-activity view —
// a glance at what the logger's circular buffer has most recently seen,
// not a substitute for retrieving the full buffer via the logger itself.
const recentActivityDepth = 20

// Coordinator is the single writer of {current controller, current
// layout, tuning state}. All exported methods are safe for concurrent
// use; internally they serialize through mu.
type Coordinator struct {
	store   *config.Store
	backend Backend
	logger  *telemetry.Logger
	osc     *oscsession.Session

	colors coloring.Scheme

	mu               sync.Mutex
	connectedName    string
	descriptor       *descriptor.Descriptor
	layoutCfg        *layout.Config
	mosState         *mos.State
	engine           *remap.Engine
	driver           *sysex.Driver
	virtualOutput    bool
	programmingPort  bool

	generation atomic.Int64
}

// New constructs a Coordinator. osc may be nil (no tuning sidechannel
// wired up, e.g. in tests that drive tuning updates directly).
func New(store *config.Store, backend Backend, logger *telemetry.Logger, osc *oscsession.Session) *Coordinator {
	c := &Coordinator{
		store:     store,
		backend:   backend,
		logger:    logger,
		osc:       osc,
		layoutCfg: layout.NewConfig(),
		mosState:  mos.NewState(),
		colors:    coloring.NewScaleScheme(),
	}
	if osc != nil {
		osc.OnTuning(c.handleTuning)
		osc.OnPresenceChanged(func(bool) {})
	}
	return c
}

// currentGeneration returns the live generation counter, for SysEx driver
// cancellation checks.
func (c *Coordinator) currentGeneration() int64 { return c.generation.Load() }

func (c *Coordinator) bumpGeneration() int64 { return c.generation.Add(1) }

// Connect looks up a descriptor by device name, opens its MIDI ports
// through the backend, builds the initial remap tables, and — if the
// descriptor carries SysEx templates — issues a pad-programming stream
// under a freshly bumped generation.
func (c *Coordinator) Connect(deviceName string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	desc, ok := c.store.Get(deviceName)
	if !ok {
		return bridgeerr.New(bridgeerr.KindDescriptorInvalid, "unknown controller: "+deviceName)
	}

	if c.engine != nil {
		c.disconnectLocked()
	}

	virtualOut, err := c.backend.OpenVirtualOutput(virtualPortName(desc))
	if err != nil {
		return bridgeerr.Wrap(bridgeerr.KindPortUnavailable, "open virtual output", err)
	}

	var inPort = virtualOut // placeholder overwritten below if a real input exists
	if desc.InputPortSubstring != "" {
		if p, ok := c.backend.OpenInput(desc.InputPortSubstring); ok {
			inPort = p
		} else if c.logger != nil {
			c.logger.LogCoordinator(telemetry.LogLevelWarning, "controller input port not found: "+desc.InputPortSubstring, nil)
		}
	}

	var progPort = virtualOut
	hasProgramming := false
	if desc.OutputPortSubstring != "" {
		if p, ok := c.backend.OpenOutput(desc.OutputPortSubstring); ok {
			progPort = p
			hasProgramming = true
		}
	}

	c.descriptor = desc
	c.layoutCfg = layout.NewConfig()
	c.mosState = mos.NewState()
	c.engine = remap.New(virtualOut, inPort, progPort, !desc.IsMPE, c.logger)
	c.engine.Start()
	c.connectedName = deviceName
	c.virtualOutput = true
	c.programmingPort = hasProgramming

	c.rebuildLocked()

	if hasProgramming && desc.SysexTemplates != nil && desc.SysexTemplates.SetPadNoteAndChannel != nil {
		c.driver = sysex.New(progPort, c.engine.AckQueue(), c.engine.SetAckWaiting, c.logger)
		gen := c.bumpGeneration()
		go c.issueProgrammingStream(desc, gen)
	}

	return nil
}

// issueProgrammingStream builds one SysEx message per pad from the
// descriptor's SetPadNoteAndChannel template (a color message is appended
// per pad when the descriptor also carries SetPadColor and a "default"
// color) and sends the whole stream through the driver under the given
// generation snapshot. This is the short-lived programming thread (T6): a
// later Connect that issues its own stream bumps the generation, and this
// goroutine's stillCurrent check makes it abort silently rather than race
// the newer stream. UpdateLayout and ApplyTransformation do not bump it.
func (c *Coordinator) issueProgrammingStream(desc *descriptor.Descriptor, gen int64) {
	c.mu.Lock()
	driver := c.driver
	ack := desc.AckConfig
	delayMs := desc.MessageDelayMs
	c.mu.Unlock()

	if driver == nil || desc.SysexTemplates == nil || desc.SysexTemplates.SetPadNoteAndChannel == nil {
		return
	}

	var stream []byte
	for _, pad := range desc.Pads {
		note, ok := desc.NoteAssign(pad.LX, pad.LY)
		if !ok {
			continue
		}
		channel, ok := desc.ChannelAssign(pad.LX, pad.LY)
		if !ok {
			continue
		}
		vars := map[string]int{"lx": pad.LX, "ly": pad.LY, "note": note, "channel": channel}

		msg, err := desc.RenderPadTemplate(desc.SysexTemplates.SetPadNoteAndChannel, vars)
		if err != nil {
			if c.logger != nil {
				c.logger.LogCoordinatorf(telemetry.LogLevelError, "render pad program for (%d,%d): %v", pad.LX, pad.LY, err)
			}
			continue
		}
		stream = append(stream, msg...)

		if desc.SysexTemplates.SetPadColor != nil {
			if color, ok := desc.Colors["default"]; ok {
				colorVars := map[string]int{"lx": pad.LX, "ly": pad.LY, "color": color}
				if colorMsg, err := desc.RenderPadTemplate(desc.SysexTemplates.SetPadColor, colorVars); err == nil {
					stream = append(stream, colorMsg...)
				}
			}
		}
	}

	stillCurrent := func() bool { return c.currentGeneration() == gen }
	if err := driver.Send(stream, ack, delayMs, stillCurrent); err != nil && c.logger != nil {
		c.logger.LogCoordinatorf(telemetry.LogLevelError, "pad programming stream failed: %v", err)
	}
}

// Disconnect closes ports and stops all playing notes.
func (c *Coordinator) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disconnectLocked()
}

func (c *Coordinator) disconnectLocked() {
	if c.engine == nil {
		return
	}
	c.engine.Disconnect()
	c.engine.Stop()
	c.engine = nil
	c.driver = nil
	c.connectedName = ""
	c.virtualOutput = false
	c.programmingPort = false
}

// UpdateLayout installs a new layout configuration wholesale and
// rebuilds the remap tables, diffing playing notes against the result.
func (c *Coordinator) UpdateLayout(cfg *layout.Config) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.layoutCfg = cfg
	c.rebuildLocked()
}

// ApplyTransformation advances the current LayoutConfig by one
// cumulative transformation and rebuilds.
func (c *Coordinator) ApplyTransformation(kind layout.TransformKind, dx, dy int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.layoutCfg.Apply(kind, dx, dy)
	c.rebuildLocked()
}

// handleTuning is the OSC session's tuning callback: it updates the MOS
// state and rebuilds tables under the coordinator lock.
func (c *Coordinator) handleTuning(frame oscsession.TuningFrame) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.mosState.Update(frame.Depth, frame.Mode, frame.RootFreq, frame.Stretch, frame.Skew, frame.ModeOffset, frame.Steps)
	c.rebuildLocked()
}

// UpdateTuning applies a tuning frame directly — the same path
// handleTuning takes, exposed for callers (tests, or a non-OSC tuning
// source) that don't go through an oscsession.Session.
func (c *Coordinator) UpdateTuning(frame oscsession.TuningFrame) {
	c.handleTuning(frame)
}

func (c *Coordinator) rebuildLocked() {
	if c.descriptor == nil || c.engine == nil {
		return
	}
	tables := layout.Build(c.descriptor, c.mosState, c.layoutCfg)
	for _, msg := range tables.Collisions {
		if c.logger != nil {
			c.logger.LogLayout(telemetry.LogLevelWarning, msg, nil)
		}
	}
	c.engine.SwapTables(tables)
}

// Status returns a snapshot of the coordinator's current state for the
// outer UI layer.
func (c *Coordinator) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	known := make([]string, 0)
	live := make([]string, 0)
	ports := map[string]bool{}
	if c.backend != nil {
		for _, p := range c.backend.DiscoverPorts() {
			ports[p] = true
		}
	}
	for name, d := range c.store.All() {
		known = append(known, name)
		if d.InputPortSubstring != "" {
			for p := range ports {
				if strings.Contains(p, d.InputPortSubstring) {
					live = append(live, name)
					break
				}
			}
		}
	}

	st := Status{
		ConnectedController: c.connectedName,
		LayoutType:           "isomorphic",
		VirtualPortReady:     c.virtualOutput,
		KnownDescriptors:     known,
		LiveDescriptors:      live,
		OSCPresent:           c.osc != nil && c.osc.Connected(),
		Tuning:               summarizeTuning(c.mosState),
	}

	if c.logger != nil {
		for _, e := range c.logger.GetRecentEntries(recentActivityDepth) {
			entry := e
			st.RecentActivity = append(st.RecentActivity, entry.Format())
		}
	}

	if c.descriptor != nil && c.engine != nil {
		tables := layout.Build(c.descriptor, c.mosState, c.layoutCfg)
		for _, pad := range c.descriptor.Pads {
			coord := descriptor.Coord{X: pad.LX, Y: pad.LY}
			p := Pad{LX: pad.LX, LY: pad.LY, PhysX: pad.PhysX, PhysY: pad.PhysY}
			if note, ok := tables.Forward[coord]; ok {
				n := note
				p.OutputNote = &n
			}
			if nat, ok := tables.Natural[coord]; ok {
				nx, ny := nat.X, nat.Y
				p.NaturalCoordX = &nx
				p.NaturalCoordY = &ny
				if c.colors != nil {
					col := c.colors.Color(nx, ny, c.mosState)
					p.Color = &col
				}
			}
			st.Pads = append(st.Pads, p)
		}
	}

	return st
}

func summarizeTuning(s *mos.State) TuningSummary {
	sum := TuningSummary{
		Depth:            s.Depth,
		Mode:             s.Mode,
		RootFreq:         s.RootFreq,
		Stretch:          s.Stretch,
		Skew:             s.Skew,
		ModeOffset:       s.ModeOffset,
		Steps:            s.Steps,
		ScaleSystemLabel: s.ScaleSystemLabel(),
	}
	if s.EnharmonicVector != nil {
		x, y := s.EnharmonicVector.X, s.EnharmonicVector.Y
		sum.EnharmonicVectorX = &x
		sum.EnharmonicVectorY = &y
	}
	return sum
}

func virtualPortName(desc *descriptor.Descriptor) string {
	if desc.VirtualMIDIDeviceName != "" {
		return desc.VirtualMIDIDeviceName
	}
	return "PitchGrid Mapper"
}
