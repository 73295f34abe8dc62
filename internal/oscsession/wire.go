// Package oscsession implements the OSC 1.0 wire format and the Tuning
// Session (heartbeat/presence/scale-update sidechannel) used to receive
// live MOS scale updates from an external tuning editor. No OSC client or
// server library ships in this module's dependency set, so the wire
// format is encoded/decoded directly against the OSC 1.0 spec (see
// DESIGN.md for why this is a justified standard-library component).
package oscsession

import (
	"encoding/binary"
	"errors"
	"math"
)

// ErrMalformed is returned by Decode when a packet doesn't parse as a
// valid OSC message (bad alignment, truncated argument data, or an
// unsupported type tag).
var ErrMalformed = errors.New("oscsession: malformed OSC packet")

// Message is one OSC message: an address pattern plus its typed
// arguments. Only int32 and float32 arguments are supported — the only
// types the recognized addresses ever carry.
type Message struct {
	Address string
	Args    []interface{} // each element is int32 or float32
}

// oscString pads raw with 1-4 NUL bytes so the result's length is the
// smallest multiple of 4 that leaves room for at least one terminator,
// per the OSC string encoding rule.
func oscString(raw []byte) []byte {
	total := (len(raw)/4 + 1) * 4
	out := make([]byte, total)
	copy(out, raw)
	return out
}

// Encode serializes a Message into an OSC 1.0 packet.
func Encode(msg Message) ([]byte, error) {
	out := oscString([]byte(msg.Address))

	tags := []byte{','}
	var argBytes []byte
	for _, a := range msg.Args {
		switch v := a.(type) {
		case int32:
			tags = append(tags, 'i')
			var buf [4]byte
			binary.BigEndian.PutUint32(buf[:], uint32(v))
			argBytes = append(argBytes, buf[:]...)
		case int:
			tags = append(tags, 'i')
			var buf [4]byte
			binary.BigEndian.PutUint32(buf[:], uint32(int32(v)))
			argBytes = append(argBytes, buf[:]...)
		case float32:
			tags = append(tags, 'f')
			var buf [4]byte
			binary.BigEndian.PutUint32(buf[:], math.Float32bits(v))
			argBytes = append(argBytes, buf[:]...)
		case float64:
			tags = append(tags, 'f')
			var buf [4]byte
			binary.BigEndian.PutUint32(buf[:], math.Float32bits(float32(v)))
			argBytes = append(argBytes, buf[:]...)
		default:
			return nil, ErrMalformed
		}
	}

	out = append(out, oscString(tags)...)
	out = append(out, argBytes...)
	return out, nil
}

// Decode parses an OSC 1.0 packet into a Message. Bundles (#bundle
// prefix) are not supported — the addresses this session recognizes are
// only ever sent as bare messages.
func Decode(data []byte) (Message, error) {
	addr, rest, err := readString(data)
	if err != nil {
		return Message{}, err
	}
	if addr == "" || addr[0] != '/' {
		return Message{}, ErrMalformed
	}

	tagStr, rest, err := readString(rest)
	if err != nil {
		return Message{}, err
	}
	if len(tagStr) == 0 || tagStr[0] != ',' {
		// No type tag string: a valid but argument-less message.
		return Message{Address: addr}, nil
	}

	msg := Message{Address: addr}
	for _, tag := range tagStr[1:] {
		if len(rest) < 4 {
			return Message{}, ErrMalformed
		}
		word := binary.BigEndian.Uint32(rest[:4])
		rest = rest[4:]
		switch tag {
		case 'i':
			msg.Args = append(msg.Args, int32(word))
		case 'f':
			msg.Args = append(msg.Args, math.Float32frombits(word))
		default:
			return Message{}, ErrMalformed
		}
	}
	return msg, nil
}

// readString reads a NUL-terminated, 4-byte-aligned OSC string from the
// front of data and returns it along with the remaining bytes.
func readString(data []byte) (string, []byte, error) {
	end := -1
	for i, b := range data {
		if b == 0 {
			end = i
			break
		}
	}
	if end < 0 {
		return "", nil, ErrMalformed
	}
	total := end + (4 - end%4)
	if total > len(data) {
		return "", nil, ErrMalformed
	}
	return string(data[:end]), data[total:], nil
}

// Float64Args converts a Message's numeric arguments to float64,
// discarding the int32/float32 distinction — used by the tuning handler,
// which accepts either representation for each of its seven parameters.
func Float64Args(msg Message) []float64 {
	out := make([]float64, 0, len(msg.Args))
	for _, a := range msg.Args {
		switch v := a.(type) {
		case int32:
			out = append(out, float64(v))
		case float32:
			out = append(out, float64(v))
		}
	}
	return out
}
