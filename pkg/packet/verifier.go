package packet

import (
    "bytes"
)

// Result is the per-byte completion decision of a Verifier.
type Result int

const (
    // Continue: the candidate is a plausible prefix; keep accumulating.
    Continue Result = iota
    // Accept: the candidate is one structurally complete packet.
    Accept
    // Reject: the candidate cannot become a packet; resynchronize.
    Reject
)

// Verifier decides, after each received byte, whether the accumulated
// candidate is complete. Verify sees the whole candidate so far; the last
// byte is the one just received.
type Verifier interface {
    Verify(candidate []byte) Result
}

// ChecksumVerifier is implemented by verifiers whose frames carry a
// checksum. The Reader consults it after a structural Accept and reports
// transport.ErrChecksum separately from a Reject.
type ChecksumVerifier interface {
    Checksum(frame []byte) error
}

// Explicit verifies the SOM/length/command/payload/checksum/EOM shape.
type Explicit struct {
    SOM byte
    EOM byte
}

func (e Explicit) Verify(candidate []byte) Result {
    n := len(candidate)
    last := candidate[n-1]

    switch n {
    case 1:
        if last != e.SOM { return Reject }
        return Continue
    case 2:
        if last == 0 { return Reject } // length must cover the command byte
        return Continue
    }

    total := int(candidate[1]) + frameOverhead
    switch {
    case n < total:
        return Continue
    case n == total:
        if last != e.EOM { return Reject }
        return Accept
    default:
        return Reject
    }
}

func (e Explicit) Checksum(frame []byte) error {
    _, err := Decode(frame)
    return err
}

// FixedLength accepts any candidate exactly n bytes long; devices with
// fixed-size acknowledgements use it.
type FixedLength int

func (n FixedLength) Verify(candidate []byte) Result {
    if len(candidate) < int(n) { return Continue }
    return Accept
}

// Terminated accepts once the candidate ends with the terminator sequence.
type Terminated []byte

func (t Terminated) Verify(candidate []byte) Result {
    if len(candidate) >= len(t) && bytes.HasSuffix(candidate, t) { return Accept }
    return Continue
}
