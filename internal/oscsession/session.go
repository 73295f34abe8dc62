package oscsession

import (
	"net"
	"sync"
	"sync/atomic"
	"time"

	"pitchgrid-bridge/internal/telemetry"
)

const (
	addrTuning       = "/pitchgrid/plugin/tuning"
	addrHeartbeatAck = "/pitchgrid/heartbeat/ack"
	addrScale        = "/pitchgrid/scale"
	addrNotes        = "/pitchgrid/notes"
	addrPlaying      = "/pitchgrid/playing"
	addrHeartbeatOut = "/pitchgrid/heartbeat"

	heartbeatInterval = time.Second
	monitorInterval   = 500 * time.Millisecond
	presenceTimeout   = 2 * time.Second

	recvBufferSize = 2048
)

// TuningFrame is the parsed payload of a /pitchgrid/plugin/tuning
// message: the seven numeric parameters that drive a MOS State.Update.
type TuningFrame struct {
	Depth      int
	Mode       int
	RootFreq   float64
	Stretch    float64
	Skew       float64
	ModeOffset int
	Steps      int
}

// Session is the OSC Tuning Session (C6): a UDP listener/sender pair that
// receives live scale updates and maintains peer-presence state by
// heartbeat-ACK recency.
type Session struct {
	conn     *net.UDPConn
	peerAddr *net.UDPAddr
	logger   *telemetry.Logger

	onTuning        func(TuningFrame)
	onPresenceCheck func(bool)

	lastAck atomic.Int64 // unix nano

	connected atomic.Bool

	shutdown chan struct{}
	done     sync.WaitGroup
}

// New binds a UDP listener on listenPort and prepares a sender to
// peerPort on the same host. Callbacks are registered separately with
// OnTuning and OnPresenceChanged; the tuning callback runs synchronously
// on the listener goroutine for every recognized tuning frame.
func New(host string, listenPort, peerPort int, logger *telemetry.Logger) (*Session, error) {
	laddr := &net.UDPAddr{IP: net.ParseIP(host), Port: listenPort}
	conn, err := net.ListenUDP("udp", laddr)
	if err != nil {
		return nil, err
	}
	peer := &net.UDPAddr{IP: net.ParseIP(host), Port: peerPort}

	return &Session{
		conn:     conn,
		peerAddr: peer,
		logger:   logger,
		shutdown: make(chan struct{}),
	}, nil
}

// OnTuning registers the callback invoked for a parsed tuning frame.
func (s *Session) OnTuning(fn func(TuningFrame)) { s.onTuning = fn }

// OnPresenceChanged registers the callback invoked whenever the presence
// state transitions between connected and disconnected.
func (s *Session) OnPresenceChanged(fn func(bool)) { s.onPresenceCheck = fn }

// Connected reports the current presence state.
func (s *Session) Connected() bool { return s.connected.Load() }

// Start launches the listener, heartbeat, and presence-monitor threads.
func (s *Session) Start() {
	s.done.Add(3)
	go s.listenLoop()
	go s.heartbeatLoop()
	go s.monitorLoop()
}

// Stop closes the UDP socket and waits for all three threads to exit.
func (s *Session) Stop() {
	close(s.shutdown)
	s.conn.Close()
	s.done.Wait()
}

func (s *Session) listenLoop() {
	defer s.done.Done()
	buf := make([]byte, recvBufferSize)
	for {
		select {
		case <-s.shutdown:
			return
		default:
		}

		n, _, err := s.conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-s.shutdown:
				return
			default:
			}
			continue
		}

		msg, err := Decode(buf[:n])
		if err != nil {
			if s.logger != nil {
				s.logger.LogOSC(telemetry.LogLevelWarning, "malformed OSC packet", nil)
			}
			continue
		}
		s.handle(msg)
	}
}

func (s *Session) handle(msg Message) {
	switch msg.Address {
	case addrHeartbeatAck:
		s.touchAck()
	case addrTuning:
		s.touchAck()
		s.handleTuning(msg)
	case addrScale, addrNotes, addrPlaying:
		s.touchAck()
	default:
		if s.logger != nil {
			s.logger.LogOSC(telemetry.LogLevelDebug, "unmapped OSC address: "+msg.Address, nil)
		}
	}
}

func (s *Session) touchAck() {
	s.lastAck.Store(nowUnixNano())
}

func (s *Session) handleTuning(msg Message) {
	args := Float64Args(msg)
	if len(args) != 7 {
		if s.logger != nil {
			s.logger.LogOSC(telemetry.LogLevelError, "tuning frame expects 7 arguments", nil)
		}
		return
	}
	frame := TuningFrame{
		Depth:      int(args[0]),
		Mode:       int(args[1]),
		RootFreq:   args[2],
		Stretch:    args[3],
		Skew:       args[4],
		ModeOffset: int(args[5]),
		Steps:      int(args[6]),
	}
	if s.onTuning != nil {
		s.onTuning(frame)
	}
}

func (s *Session) heartbeatLoop() {
	defer s.done.Done()
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.shutdown:
			return
		case <-ticker.C:
			pkt, err := Encode(Message{Address: addrHeartbeatOut, Args: []interface{}{int32(1)}})
			if err != nil {
				continue
			}
			if _, err := s.conn.WriteToUDP(pkt, s.peerAddr); err != nil && s.logger != nil {
				s.logger.LogOSC(telemetry.LogLevelError, "heartbeat send failed: "+err.Error(), nil)
			}
		}
	}
}

func (s *Session) monitorLoop() {
	defer s.done.Done()
	ticker := time.NewTicker(monitorInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.shutdown:
			return
		case <-ticker.C:
			last := s.lastAck.Load()
			recent := last != 0 && time.Duration(nowUnixNano()-last) <= presenceTimeout
			was := s.connected.Load()
			if recent != was {
				s.connected.Store(recent)
				if s.logger != nil {
					s.logger.LogOSC(telemetry.LogLevelInfo, "OSC presence changed", map[string]interface{}{"connected": recent})
				}
				if s.onPresenceCheck != nil {
					s.onPresenceCheck(recent)
				}
			}
		}
	}
}

// nowUnixNano is a small indirection so presence timing is exercised
// deterministically in tests without sleeping for the full 2s timeout.
var nowUnixNano = func() int64 { return time.Now().UnixNano() }
