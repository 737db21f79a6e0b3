// Package serialport implements the serial transport on top of the host
// serial stack. Open applies the descriptor's line settings; reads follow
// the initial/subsequent timeout contract.
package serialport

import (
    "errors"
    "fmt"
    "sync"
    "time"

    "go.bug.st/serial"

    "tactiled/pkg/transport"
)

type Transport struct{}

func New() *Transport { return &Transport{} }

func (t *Transport) Kind() transport.Kind { return transport.KindSerial }

func (t *Transport) Open(desc transport.Descriptor) (transport.Handle, error) {
    mode, err := modeFor(desc.Serial)
    if err != nil { return nil, err }

    port, err := serial.Open(desc.Device, mode)
    if err != nil {
        return nil, mapOpenError(desc.Device, err)
    }
    // stale bytes from before open would confuse the framer
    _ = port.ResetInputBuffer()
    return &handle{port: port, device: desc.Device}, nil
}

func modeFor(p transport.SerialParameters) (*serial.Mode, error) {
    mode := &serial.Mode{BaudRate: p.BaudRate, DataBits: p.DataBits}

    switch p.StopBits {
    case transport.Stop1:
        mode.StopBits = serial.OneStopBit
    case transport.Stop2:
        mode.StopBits = serial.TwoStopBits
    default:
        return nil, fmt.Errorf("stop bits %d: %w", int(p.StopBits), transport.ErrUnsupportedSetting)
    }

    switch p.Parity {
    case transport.ParityNone:
        mode.Parity = serial.NoParity
    case transport.ParityOdd:
        mode.Parity = serial.OddParity
    case transport.ParityEven:
        mode.Parity = serial.EvenParity
    case transport.ParityMark:
        mode.Parity = serial.MarkParity
    case transport.ParitySpace:
        mode.Parity = serial.SpaceParity
    default:
        return nil, fmt.Errorf("parity %s: %w", p.Parity, transport.ErrUnsupportedSetting)
    }

    return mode, nil
}

func mapOpenError(device string, err error) error {
    var portErr *serial.PortError
    if errors.As(err, &portErr) {
        switch portErr.Code() {
        case serial.PortNotFound:
            return fmt.Errorf("serial:%s: %w", device, transport.ErrNoDevice)
        case serial.PermissionDenied:
            return fmt.Errorf("serial:%s: %w", device, transport.ErrPermission)
        case serial.PortBusy:
            return fmt.Errorf("serial:%s: %w", device, transport.ErrBusy)
        }
    }
    return fmt.Errorf("serial:%s: %v: %w", device, err, transport.ErrNoDevice)
}

type handle struct {
    mu     sync.Mutex
    port   serial.Port
    device string

    pushback []byte
}

func (h *handle) Kind() transport.Kind { return transport.KindSerial }
func (h *handle) String() string       { return "serial:" + h.device }

func (h *handle) Read(buf []byte, initial, subsequent time.Duration) (int, error) {
    h.mu.Lock()
    defer h.mu.Unlock()
    if h.port == nil {
        return 0, fmt.Errorf("%s closed: %w", h.String(), transport.ErrIO)
    }

    total := copy(buf, h.pushback)
    h.pushback = h.pushback[total:]

    timeout := initial
    if total > 0 { timeout = subsequent }

    for total < len(buf) {
        if err := h.port.SetReadTimeout(timeout); err != nil {
            return total, fmt.Errorf("%s: %v: %w", h.String(), err, transport.ErrIO)
        }
        n, err := h.port.Read(buf[total:])
        total += n
        if err != nil {
            return total, fmt.Errorf("%s: %v: %w", h.String(), err, transport.ErrIO)
        }
        if n == 0 {
            return total, nil // timeout: the link stayed quiet
        }
        timeout = subsequent
    }
    return total, nil
}

func (h *handle) Write(b []byte) (int, error) {
    h.mu.Lock()
    defer h.mu.Unlock()
    if h.port == nil {
        return 0, fmt.Errorf("%s closed: %w", h.String(), transport.ErrIO)
    }
    n, err := h.port.Write(b)
    if err != nil {
        return n, fmt.Errorf("%s: %v: %w", h.String(), err, transport.ErrIO)
    }
    if n < len(b) {
        return n, transport.ShortWriteError(n, len(b))
    }
    if err := h.port.Drain(); err != nil {
        return n, fmt.Errorf("%s: %v: %w", h.String(), err, transport.ErrIO)
    }
    return n, nil
}

func (h *handle) AwaitInput(timeout time.Duration) (bool, error) {
    h.mu.Lock()
    defer h.mu.Unlock()
    if h.port == nil {
        return false, fmt.Errorf("%s closed: %w", h.String(), transport.ErrIO)
    }
    if len(h.pushback) > 0 { return true, nil }

    if err := h.port.SetReadTimeout(timeout); err != nil {
        return false, fmt.Errorf("%s: %v: %w", h.String(), err, transport.ErrIO)
    }
    var one [1]byte
    n, err := h.port.Read(one[:])
    if err != nil {
        return false, fmt.Errorf("%s: %v: %w", h.String(), err, transport.ErrIO)
    }
    if n == 0 { return false, nil }
    h.pushback = append(h.pushback, one[0])
    return true, nil
}

func (h *handle) Close() error {
    h.mu.Lock()
    defer h.mu.Unlock()
    if h.port == nil { return nil }
    err := h.port.Close()
    h.port = nil
    return err
}
