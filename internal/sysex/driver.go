package sysex

import (
	"errors"
	"time"

	"pitchgrid-bridge/internal/descriptor"
	"pitchgrid-bridge/internal/midiport"
	"pitchgrid-bridge/internal/telemetry"
)

// maxRetries bounds the number of BUSY/delay retries a single SysEx
// message gets before the send is abandoned as failed.
const maxRetries = 10

// ErrAborted is returned when a device's response explicitly requests
// abort (a configured AckAbort action).
var ErrAborted = errors.New("sysex: device aborted the programming stream")

// ErrNoResponse is returned when a SysEx message receives no ACK response
// within its configured timeout (a timeout is not retried), or when it is
// still answered with a delay action after maxRetries retries.
var ErrNoResponse = errors.New("sysex: no ACK response")

// ErrUnknownResponse is returned when a response's status byte has no
// entry in the descriptor's response table.
var ErrUnknownResponse = errors.New("sysex: unrecognized ACK response value")

// Driver programs a controller over a SysEx stream, optionally gated by
// the device's ACK protocol. It owns no state of its own beyond what's
// passed in: the generation counter and "still current" check are owned
// by the coordinator, and the ACK response channel and waiting-flag are
// owned by the remap engine that demultiplexes inbound SysEx.
type Driver struct {
	output       midiport.Port
	ackResponses <-chan []byte
	setWaiting   func(bool)
	logger       *telemetry.Logger
}

// New constructs a Driver. ackResponses and setWaiting are normally
// remap.Engine.AckQueue and remap.Engine.SetAckWaiting.
func New(output midiport.Port, ackResponses <-chan []byte, setWaiting func(bool), logger *telemetry.Logger) *Driver {
	return &Driver{output: output, ackResponses: ackResponses, setWaiting: setWaiting, logger: logger}
}

// Send programs a controller with the given raw SysEx/MIDI byte stream.
// When ack is non-nil, each SysEx message in the stream is sent with
// ACK-gated flow control; on any failure it falls back to delay-based
// sending of the whole stream, matching the original driver's degraded-
// mode behavior. stillCurrent is polled before every top-level message;
// once it returns false the send stops silently (a newer operation has
// superseded this one — not a failure).
func (d *Driver) Send(data []byte, ack *descriptor.AckConfig, delayMs float64, stillCurrent func() bool) error {
	if len(data) == 0 {
		return nil
	}

	if ack != nil {
		err := d.sendWithAck(data, ack, stillCurrent)
		if err == nil {
			return nil
		}
		if d.logger != nil {
			d.logger.LogSysEx(telemetry.LogLevelWarning, "ACK-based send failed, falling back to delay-based sending", map[string]interface{}{"error": err.Error()})
		}
	}

	return d.sendDelayBased(data, delayMs, stillCurrent)
}

func (d *Driver) sendWithAck(data []byte, ack *descriptor.AckConfig, stillCurrent func() bool) error {
	messages := Split(data)
	for _, msg := range messages {
		if stillCurrent != nil && !stillCurrent() {
			if d.logger != nil {
				d.logger.LogSysEx(telemetry.LogLevelDebug, "ACK send cancelled by newer generation", nil)
			}
			return nil
		}

		if len(msg) == 0 || msg[0] != 0xF0 {
			if d.output != nil {
				if err := d.output.Send(msg); err != nil {
					return err
				}
			}
			continue
		}

		if err := d.sendSingleWithAck(msg, ack); err != nil {
			return err
		}
	}
	return nil
}

func (d *Driver) sendSingleWithAck(msg []byte, ack *descriptor.AckConfig) error {
	timeout := time.Duration(ack.TimeoutMs) * time.Millisecond

	for retries := 0; retries <= maxRetries; retries++ {
		if d.setWaiting != nil {
			d.setWaiting(true)
		}

		if d.output != nil {
			if err := d.output.Send(msg); err != nil {
				if d.setWaiting != nil {
					d.setWaiting(false)
				}
				return err
			}
		}

		resp, err := d.waitResponse(timeout)

		if d.setWaiting != nil {
			d.setWaiting(false)
		}

		if err != nil {
			if d.logger != nil {
				d.logger.LogSysEx(telemetry.LogLevelError, "ACK timeout, no response", nil)
			}
			return ErrNoResponse
		}

		pos := ack.StatusBytePosition
		if pos >= len(resp) {
			if d.logger != nil {
				d.logger.LogSysEx(telemetry.LogLevelError, "ACK response too short for configured status position", nil)
			}
			return ErrUnknownResponse
		}

		action, ok := ack.Action(int(resp[pos]))
		if !ok {
			if d.logger != nil {
				d.logger.LogSysEx(telemetry.LogLevelError, "unrecognized ACK response value", nil)
			}
			return ErrUnknownResponse
		}

		switch action.Kind {
		case descriptor.ActionNext:
			return nil
		case descriptor.ActionAbort:
			return ErrAborted
		case descriptor.ActionDelay:
			time.Sleep(time.Duration(action.DelayMs) * time.Millisecond)
			continue
		}
	}

	return ErrNoResponse
}

// waitResponse blocks for a single ACK response, draining any stale
// response left over from a previous message first.
func (d *Driver) waitResponse(timeout time.Duration) ([]byte, error) {
	for {
		select {
		case <-d.ackResponses:
			continue
		default:
		}
		break
	}

	select {
	case resp := <-d.ackResponses:
		return resp, nil
	case <-time.After(timeout):
		return nil, ErrNoResponse
	}
}

func (d *Driver) sendDelayBased(data []byte, delayMs float64, stillCurrent func() bool) error {
	messages := Split(data)
	delay := time.Duration(delayMs * float64(time.Millisecond))

	for i, msg := range messages {
		if stillCurrent != nil && !stillCurrent() {
			if d.logger != nil {
				d.logger.LogSysEx(telemetry.LogLevelDebug, "delay-based send cancelled by newer generation", nil)
			}
			return nil
		}

		if d.output != nil {
			if err := d.output.Send(msg); err != nil {
				return err
			}
		}

		if i < len(messages)-1 {
			time.Sleep(delay)
		}
	}
	return nil
}
