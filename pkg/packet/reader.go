package packet

import (
    "time"

    "go.uber.org/zap"

    "tactiled/pkg/transport"
)

// Reader assembles discrete packets out of a device byte stream. It owns
// the buffering and resynchronization; the completion decision per byte is
// delegated to the Verifier. One Reader per handle; not safe for concurrent
// use, matching the one-outstanding-exchange rule.
type Reader struct {
    handle    transport.Handle
    log       *zap.Logger
    candidate []byte
}

func NewReader(h transport.Handle) *Reader {
    return &Reader{handle: h, log: zap.L().Named("packet")}
}

// ReadPacket reads one packet into out. It waits up to initial for the
// first byte and up to subsequent between bytes. A zero count means the
// link stayed quiet within the timeout; the caller retries. A structurally
// accepted packet with a bad checksum is returned together with
// transport.ErrChecksum so the caller owns the retry policy.
func (r *Reader) ReadPacket(out []byte, v Verifier, initial, subsequent time.Duration) (int, error) {
    var one [1]byte

    for {
        timeout := subsequent
        if len(r.candidate) == 0 { timeout = initial }

        n, err := r.handle.Read(one[:], timeout, timeout)
        if err != nil {
            return 0, err
        }
        if n == 0 {
            if len(r.candidate) > 0 {
                r.log.Debug("partial packet discarded on timeout",
                    zap.String("device", r.handle.String()), zap.Int("bytes", len(r.candidate)))
                r.candidate = r.candidate[:0]
            }
            return 0, nil
        }

        r.candidate = append(r.candidate, one[0])

        result := v.Verify(r.candidate)
        if result == Continue && len(r.candidate) >= len(out) {
            // capacity exhausted before completion
            result = Reject
        }

        switch result {
        case Continue:

        case Accept:
            if n, err := r.accept(out, v); n > 0 || err != nil {
                return n, err
            }

        case Reject:
            r.log.Debug("input discarded",
                zap.String("device", r.handle.String()), zap.Int("bytes", len(r.candidate)))
            if n, err := r.resync(out, v); n > 0 || err != nil {
                return n, err
            }
        }
    }
}

func (r *Reader) accept(out []byte, v Verifier) (int, error) {
    n := copy(out, r.candidate)
    r.candidate = r.candidate[:0]
    if cv, ok := v.(ChecksumVerifier); ok {
        if err := cv.Checksum(out[:n]); err != nil {
            return n, err
        }
    }
    return n, nil
}

// resync drops leading bytes until the remainder is again a plausible
// packet prefix, scanning forward to the next start marker. The retained
// bytes may even complete a packet on their own.
func (r *Reader) resync(out []byte, v Verifier) (int, error) {
    for len(r.candidate) > 0 {
        r.candidate = r.candidate[1:]

        plausible := true
        for i := 1; i <= len(r.candidate); i++ {
            switch v.Verify(r.candidate[:i]) {
            case Reject:
                plausible = false
            case Accept:
                if i == len(r.candidate) {
                    return r.accept(out, v)
                }
                // complete packet with trailing garbage: unreachable with
                // byte-at-a-time reads, treat as noise
                plausible = false
            }
            if !plausible { break }
        }
        if plausible {
            return 0, nil
        }
    }
    return 0, nil
}
