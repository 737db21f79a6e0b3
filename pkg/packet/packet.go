// Package packet builds and verifies framed device packets. The explicit
// frame shape is
//
//   SOM, length, command, payload..., checksum, EOM
//
// where length counts command+payload and checksum is the running XOR of
// command+payload. Devices with implicit framing (fixed-size replies,
// terminator sequences) plug in their own Verifier; the generic Reader owns
// buffering and resynchronization for both shapes.
package packet

import (
    "fmt"

    "tactiled/pkg/transport"
)

// Explicit frame overhead: SOM, length, checksum, EOM.
const frameOverhead = 4

// MaxPayload is the largest payload an explicit frame can carry: the length
// byte covers the command byte too.
const MaxPayload = 0xFF - 1

// Frame is one decoded explicit-framing packet.
type Frame struct {
    Command byte
    Payload []byte
}

// Checksum computes the XOR checksum over command+payload.
func Checksum(command byte, payload []byte) byte {
    sum := command
    for _, b := range payload { sum ^= b }
    return sum
}

// Encode produces the framed wire bytes.
func (f *Frame) Encode(som, eom byte) ([]byte, error) {
    if len(f.Payload) > MaxPayload {
        return nil, fmt.Errorf("payload too large: %d", len(f.Payload))
    }
    out := make([]byte, 0, len(f.Payload)+frameOverhead+1)
    out = append(out, som, byte(1+len(f.Payload)), f.Command)
    out = append(out, f.Payload...)
    out = append(out, Checksum(f.Command, f.Payload), eom)
    return out, nil
}

// Decode parses raw as one structurally complete explicit frame and checks
// its checksum, reporting transport.ErrChecksum on mismatch.
func Decode(raw []byte) (Frame, error) {
    if len(raw) < frameOverhead+1 {
        return Frame{}, fmt.Errorf("truncated frame: %d bytes", len(raw))
    }
    length := int(raw[1])
    if len(raw) != length+frameOverhead {
        return Frame{}, fmt.Errorf("frame length mismatch: %d != %d", len(raw), length+frameOverhead)
    }
    command := raw[2]
    payload := append([]byte(nil), raw[3:2+length]...)
    if Checksum(command, payload) != raw[2+length] {
        return Frame{}, fmt.Errorf("command %02X: %w", command, transport.ErrChecksum)
    }
    return Frame{Command: command, Payload: payload}, nil
}

// WriteFrame encodes and sends one framed command on h.
func WriteFrame(h transport.Handle, som, eom, command byte, payload []byte) error {
    f := Frame{Command: command, Payload: payload}
    raw, err := f.Encode(som, eom)
    if err != nil { return err }
    _, err = h.Write(raw)
    return err
}
