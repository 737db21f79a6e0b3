// Package hidport implements the HID transport: input/output reports over
// the host hidapi stack. Reports arrive whole, so one timed read returns at
// least one full report when the device is talking.
package hidport

import (
    "fmt"
    "sync"
    "time"

    hid "github.com/sstallion/go-hid"

    "tactiled/pkg/transport"
)

type Transport struct {
    initOnce sync.Once
    initErr  error
}

func New() *Transport { return &Transport{} }

func (t *Transport) Kind() transport.Kind { return transport.KindHID }

func (t *Transport) Open(desc transport.Descriptor) (transport.Handle, error) {
    t.initOnce.Do(func() { t.initErr = hid.Init() })
    if t.initErr != nil {
        return nil, fmt.Errorf("hid stack: %v: %w", t.initErr, transport.ErrNoDevice)
    }

    p := desc.HID
    name := fmt.Sprintf("hid:%04X:%04X", p.VendorID, p.ProductID)

    var dev *hid.Device
    var err error
    if p.SerialNumber != "" {
        dev, err = hid.Open(p.VendorID, p.ProductID, p.SerialNumber)
    } else {
        dev, err = hid.OpenFirst(p.VendorID, p.ProductID)
    }
    if err != nil {
        return nil, fmt.Errorf("%s: %v: %w", name, err, transport.ErrNoDevice)
    }
    return &handle{dev: dev, name: name}, nil
}

type handle struct {
    mu     sync.Mutex
    dev    *hid.Device
    name   string
    closed bool

    pushback []byte
}

func (h *handle) Kind() transport.Kind { return transport.KindHID }
func (h *handle) String() string       { return h.name }

func (h *handle) Read(buf []byte, initial, subsequent time.Duration) (int, error) {
    h.mu.Lock()
    defer h.mu.Unlock()
    if h.closed {
        return 0, fmt.Errorf("%s closed: %w", h.name, transport.ErrIO)
    }

    total := copy(buf, h.pushback)
    h.pushback = h.pushback[total:]

    timeout := initial
    if total > 0 { timeout = subsequent }

    for total < len(buf) {
        n, err := h.dev.ReadWithTimeout(buf[total:], timeout)
        if err != nil {
            return total, fmt.Errorf("%s: read: %v: %w", h.name, err, transport.ErrIO)
        }
        if n == 0 {
            return total, nil // timeout
        }
        total += n
        timeout = subsequent
    }
    return total, nil
}

func (h *handle) Write(b []byte) (int, error) {
    h.mu.Lock()
    defer h.mu.Unlock()
    if h.closed {
        return 0, fmt.Errorf("%s closed: %w", h.name, transport.ErrIO)
    }

    n, err := h.dev.Write(b)
    if err != nil {
        return n, fmt.Errorf("%s: write: %v: %w", h.name, err, transport.ErrIO)
    }
    if n < len(b) {
        return n, transport.ShortWriteError(n, len(b))
    }
    return n, nil
}

func (h *handle) AwaitInput(timeout time.Duration) (bool, error) {
    h.mu.Lock()
    defer h.mu.Unlock()
    if h.closed {
        return false, fmt.Errorf("%s closed: %w", h.name, transport.ErrIO)
    }
    if len(h.pushback) > 0 { return true, nil }

    report := make([]byte, 64)
    n, err := h.dev.ReadWithTimeout(report, timeout)
    if err != nil {
        return false, fmt.Errorf("%s: read: %v: %w", h.name, err, transport.ErrIO)
    }
    if n == 0 { return false, nil }
    h.pushback = append(h.pushback, report[:n]...)
    return true, nil
}

func (h *handle) Close() error {
    h.mu.Lock()
    defer h.mu.Unlock()
    if h.closed { return nil }
    h.closed = true
    return h.dev.Close()
}
