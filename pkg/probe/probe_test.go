package probe

import (
    "bytes"
    "errors"
    "fmt"
    "testing"
    "time"

    "tactiled/pkg/transport"
)

// scriptedLink replays a canned response per read and counts requests.
type scriptedLink struct {
    writes    int
    responses [][]byte
    errs      []error
}

func (s *scriptedLink) options(classify func([]byte) Response) Options {
    return Options{
        WriteRequest: func() error { s.writes++; return nil },
        ReadResponse: func(buf []byte, timeout time.Duration) (int, error) {
            if len(s.responses) == 0 {
                time.Sleep(timeout)
                return 0, nil // quiet link
            }
            resp := s.responses[0]
            s.responses = s.responses[1:]
            var err error
            if len(s.errs) > 0 {
                err = s.errs[0]
                s.errs = s.errs[1:]
            }
            return copy(buf, resp), err
        },
        Classify:   classify,
        Timeout:    50 * time.Millisecond,
        RetryLimit: 2,
    }
}

func acceptAll([]byte) Response { return Accepted }

func TestIdentify(t *testing.T) {
    link := &scriptedLink{responses: [][]byte{{0x01, 0x02}}}
    got, err := Identify(link.options(acceptAll))
    if err != nil { t.Fatalf("identify: %v", err) }
    if !bytes.Equal(got, []byte{0x01, 0x02}) {
        t.Fatalf("identity: got % X", got)
    }
    if link.writes != 1 {
        t.Fatalf("requests sent: got %d want 1", link.writes)
    }
}

func TestIdentifySilentDevice(t *testing.T) {
    link := &scriptedLink{}
    opts := link.options(acceptAll)

    start := time.Now()
    _, err := Identify(opts)
    if !errors.Is(err, transport.ErrProbeFailed) {
        t.Fatalf("expected ErrProbeFailed, got %v", err)
    }
    // one initial attempt plus two retries
    if link.writes != 3 {
        t.Fatalf("requests sent: got %d want 3", link.writes)
    }
    if elapsed := time.Since(start); elapsed > time.Second {
        t.Fatalf("silent probe took %v", elapsed)
    }
}

func TestIdentifyIgnoresUnexpected(t *testing.T) {
    link := &scriptedLink{responses: [][]byte{{0xEE}, {0x42}}}
    opts := link.options(func(resp []byte) Response {
        if resp[0] == 0x42 { return Accepted }
        return Unexpected
    })

    got, err := Identify(opts)
    if err != nil { t.Fatalf("identify: %v", err) }
    if got[0] != 0x42 { t.Fatalf("identity: got % X", got) }
    // the unexpected packet must not have cost a retry
    if link.writes != 1 {
        t.Fatalf("requests sent: got %d want 1", link.writes)
    }
}

func TestIdentifyRejectedSpendsRetry(t *testing.T) {
    link := &scriptedLink{responses: [][]byte{{0xEE}, {0x42}}}
    opts := link.options(func(resp []byte) Response {
        if resp[0] == 0x42 { return Accepted }
        return Rejected
    })

    got, err := Identify(opts)
    if err != nil { t.Fatalf("identify: %v", err) }
    if got[0] != 0x42 { t.Fatalf("identity: got % X", got) }
    if link.writes != 2 {
        t.Fatalf("requests sent: got %d want 2", link.writes)
    }
}

func TestIdentifyChecksumSpendsRetry(t *testing.T) {
    link := &scriptedLink{
        responses: [][]byte{{0xEE}, {0x42}},
        errs:      []error{fmt.Errorf("damaged: %w", transport.ErrChecksum)},
    }
    got, err := Identify(link.options(acceptAll))
    if err != nil { t.Fatalf("identify: %v", err) }
    if got[0] != 0x42 { t.Fatalf("identity: got % X", got) }
    if link.writes != 2 {
        t.Fatalf("requests sent: got %d want 2", link.writes)
    }
}

func TestIdentifyReadErrorPropagates(t *testing.T) {
    boom := fmt.Errorf("link gone: %w", transport.ErrIO)
    opts := Options{
        WriteRequest: func() error { return nil },
        ReadResponse: func([]byte, time.Duration) (int, error) { return 0, boom },
        Classify:     acceptAll,
        Timeout:      50 * time.Millisecond,
        RetryLimit:   2,
    }
    if _, err := Identify(opts); !errors.Is(err, transport.ErrIO) {
        t.Fatalf("expected ErrIO, got %v", err)
    }
}
