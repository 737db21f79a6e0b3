// Package probe runs the identify handshake that confirms a device is
// present and responsive before normal operation starts. The packet layout,
// the identify request and the response classifier are supplied by the
// driver; this package owns only the retry/timeout mechanics.
package probe

import (
    "errors"
    "fmt"
    "time"

    "go.uber.org/zap"

    "tactiled/pkg/transport"
)

// Response is the driver classification of one received packet.
type Response int

const (
    // Accepted: this is the identity response; probing succeeded.
    Accepted Response = iota
    // Unexpected: a well-formed packet that is not ours. Link noise, not
    // failure: keep waiting on the same deadline without spending a retry.
    Unexpected
    // Rejected: a malformed response. Counts as a failed attempt.
    Rejected
)

// Options configures one identify exchange.
type Options struct {
    // WriteRequest sends the identify request.
    WriteRequest func() error

    // ReadResponse reads one packet, waiting at most timeout for it to
    // start. A zero count reports a quiet link.
    ReadResponse func(buf []byte, timeout time.Duration) (int, error)

    // Classify labels a received packet.
    Classify func(response []byte) Response

    // Timeout bounds each attempt; RetryLimit is the number of fresh
    // attempts after the first one.
    Timeout    time.Duration
    RetryLimit int

    // BufferSize caps the expected identity response (default 64).
    BufferSize int
}

// Identify drives Sending -> AwaitingResponse until the classifier accepts
// a response or the retry budget runs out, in which case it returns
// transport.ErrProbeFailed. The caller still owns the handle and must close
// it when Identify fails.
func Identify(opts Options) ([]byte, error) {
    size := opts.BufferSize
    if size <= 0 { size = 64 }
    buf := make([]byte, size)
    log := zap.L().Named("probe")

    for attempt := 0; attempt <= opts.RetryLimit; attempt++ {
        if attempt > 0 {
            log.Debug("identify retry", zap.Int("attempt", attempt))
        }
        if err := opts.WriteRequest(); err != nil {
            return nil, fmt.Errorf("identify request: %w", err)
        }

        response, err := opts.awaitResponse(buf, log)
        if err != nil { return nil, err }
        if response != nil { return response, nil }
        // timed out or rejected: spend a retry
    }

    return nil, transport.ErrProbeFailed
}

// awaitResponse reads packets until one is accepted, the attempt deadline
// expires, or a response is rejected as malformed. A nil response with nil
// error means the attempt failed and the caller may retry.
func (opts *Options) awaitResponse(buf []byte, log *zap.Logger) ([]byte, error) {
    deadline := time.Now().Add(opts.Timeout)

    for {
        remaining := time.Until(deadline)
        if remaining <= 0 {
            return nil, nil
        }

        n, err := opts.ReadResponse(buf, remaining)
        if err != nil {
            if n > 0 && errors.Is(err, transport.ErrChecksum) {
                log.Debug("identify response rejected", zap.Error(err))
                return nil, nil
            }
            return nil, err
        }
        if n == 0 {
            continue // quiet link; the deadline decides
        }

        switch opts.Classify(buf[:n]) {
        case Accepted:
            return append([]byte(nil), buf[:n]...), nil
        case Unexpected:
            // noise resets neither the deadline nor the attempt counter
            log.Debug("unexpected response ignored", zap.Int("bytes", n))
        case Rejected:
            log.Debug("identify response rejected", zap.Int("bytes", n))
            return nil, nil
        }
    }
}
