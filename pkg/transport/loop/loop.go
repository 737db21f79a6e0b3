// Package loop is an in-process transport: a scripted device on the far
// end of a byte channel. It stands in for real hardware in tests and
// exercises the same timed-read, atomic-write contract as the real media.
package loop

import (
    "fmt"
    "sync"
    "time"

    "tactiled/pkg/transport"
)

// Transport hosts named simulated devices.
type Transport struct {
    mu      sync.Mutex
    devices map[string]*Device
}

func New() *Transport { return &Transport{devices: make(map[string]*Device)} }

func (t *Transport) Kind() transport.Kind { return transport.KindLoop }

// Add creates a simulated device reachable as loop:name.
func (t *Transport) Add(name string) *Device {
    d := &Device{name: name, in: make(chan byte, 4096)}
    t.mu.Lock()
    t.devices[name] = d
    t.mu.Unlock()
    return d
}

func (t *Transport) Open(desc transport.Descriptor) (transport.Handle, error) {
    t.mu.Lock()
    d := t.devices[desc.Device]
    t.mu.Unlock()
    if d == nil {
        return nil, fmt.Errorf("loop:%s: %w", desc.Device, transport.ErrNoDevice)
    }

    d.mu.Lock()
    defer d.mu.Unlock()
    if d.opened {
        return nil, fmt.Errorf("loop:%s: %w", desc.Device, transport.ErrBusy)
    }
    d.opened = true
    return &handle{device: d}, nil
}

// Device is the scripted far end. Tests feed it input and observe writes.
type Device struct {
    name string

    mu      sync.Mutex
    opened  bool
    writes  [][]byte
    respond func(write []byte)

    in chan byte
}

// Feed queues bytes for the host to read.
func (d *Device) Feed(b []byte) {
    for _, c := range b { d.in <- c }
}

// OnWrite installs a responder invoked synchronously for every host write.
// The responder may Feed a reply.
func (d *Device) OnWrite(fn func(write []byte)) {
    d.mu.Lock()
    d.respond = fn
    d.mu.Unlock()
}

// Writes returns a copy of everything the host has written so far.
func (d *Device) Writes() [][]byte {
    d.mu.Lock()
    defer d.mu.Unlock()
    out := make([][]byte, len(d.writes))
    copy(out, d.writes)
    return out
}

type handle struct {
    device *Device

    mu       sync.Mutex
    closed   bool
    pushback []byte // byte consumed by AwaitInput, returned by next Read
}

func (h *handle) Kind() transport.Kind { return transport.KindLoop }
func (h *handle) String() string       { return "loop:" + h.device.name }

func (h *handle) Read(buf []byte, initial, subsequent time.Duration) (int, error) {
    h.mu.Lock()
    if h.closed {
        h.mu.Unlock()
        return 0, fmt.Errorf("loop:%s closed: %w", h.device.name, transport.ErrIO)
    }
    total := copy(buf, h.pushback)
    h.pushback = h.pushback[total:]
    h.mu.Unlock()

    timeout := initial
    if total > 0 { timeout = subsequent }

    timer := time.NewTimer(timeout)
    defer timer.Stop()
    for total < len(buf) {
        select {
        case b := <-h.device.in:
            buf[total] = b
            total++
            if !timer.Stop() {
                select { case <-timer.C: default: }
            }
            timer.Reset(subsequent)
        case <-timer.C:
            return total, nil
        }
    }
    return total, nil
}

func (h *handle) Write(b []byte) (int, error) {
    h.mu.Lock()
    closed := h.closed
    h.mu.Unlock()
    if closed {
        return 0, fmt.Errorf("loop:%s closed: %w", h.device.name, transport.ErrIO)
    }

    d := h.device
    d.mu.Lock()
    d.writes = append(d.writes, append([]byte(nil), b...))
    respond := d.respond
    d.mu.Unlock()
    if respond != nil { respond(b) }
    return len(b), nil
}

func (h *handle) AwaitInput(timeout time.Duration) (bool, error) {
    h.mu.Lock()
    if h.closed {
        h.mu.Unlock()
        return false, fmt.Errorf("loop:%s closed: %w", h.device.name, transport.ErrIO)
    }
    if len(h.pushback) > 0 {
        h.mu.Unlock()
        return true, nil
    }
    h.mu.Unlock()

    timer := time.NewTimer(timeout)
    defer timer.Stop()
    select {
    case b := <-h.device.in:
        h.mu.Lock()
        h.pushback = append(h.pushback, b)
        h.mu.Unlock()
        return true, nil
    case <-timer.C:
        return false, nil
    }
}

func (h *handle) Close() error {
    h.mu.Lock()
    alreadyClosed := h.closed
    h.closed = true
    h.mu.Unlock()
    if alreadyClosed { return nil }

    h.device.mu.Lock()
    h.device.opened = false
    h.device.mu.Unlock()
    return nil
}
