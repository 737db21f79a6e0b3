// Package usbdev implements the USB transport: it claims the matching
// interface, resolves the bulk/interrupt endpoint pair, and attaches the
// usb-serial bridge adapter (when the device carries one) so the line
// settings in the descriptor can be programmed during open.
package usbdev

import (
    "context"
    "errors"
    "fmt"
    "strings"
    "sync"
    "time"

    "github.com/google/gousb"
    "go.uber.org/zap"

    "tactiled/pkg/transport"
    "tactiled/pkg/usbserial"
)

type Transport struct {
    ctx      *gousb.Context
    adapters *usbserial.AdapterTable
}

// New owns a libusb context until Close. adapters may be nil when no
// bridge programming is wanted.
func New(adapters *usbserial.AdapterTable) *Transport {
    return &Transport{ctx: gousb.NewContext(), adapters: adapters}
}

func (t *Transport) Kind() transport.Kind { return transport.KindUSB }

func (t *Transport) Close() error { return t.ctx.Close() }

func (t *Transport) Open(desc transport.Descriptor) (transport.Handle, error) {
    ch := desc.USB
    name := fmt.Sprintf("usb:%04X:%04X", ch.VendorID, ch.ProductID)

    dev, err := t.ctx.OpenDeviceWithVIDPID(gousb.ID(ch.VendorID), gousb.ID(ch.ProductID))
    if err != nil {
        return nil, mapOpenError(name, err)
    }
    if dev == nil {
        return nil, fmt.Errorf("%s: %w", name, transport.ErrNoDevice)
    }

    h, err := t.claim(name, dev, ch)
    if err != nil {
        _ = dev.Close()
        return nil, err
    }
    return h, nil
}

func (t *Transport) claim(name string, dev *gousb.Device, ch transport.USBChannel) (transport.Handle, error) {
    // the kernel serial driver usually owns bridge chips
    if err := dev.SetAutoDetach(true); err != nil {
        zap.L().Debug("auto-detach not available", zap.String("device", name), zap.Error(err))
    }

    cfg, err := dev.Config(1)
    if err != nil {
        return nil, fmt.Errorf("%s: claim config: %v: %w", name, err, transport.ErrBusy)
    }
    intf, err := cfg.Interface(ch.Interface, 0)
    if err != nil {
        _ = cfg.Close()
        return nil, fmt.Errorf("%s: claim interface %d: %v: %w", name, ch.Interface, err, transport.ErrBusy)
    }

    in, out, err := resolveEndpoints(intf, ch)
    if err != nil {
        intf.Close()
        _ = cfg.Close()
        return nil, fmt.Errorf("%s: %w", name, err)
    }

    h := &handle{name: name, dev: dev, cfg: cfg, intf: intf, in: in, out: out}

    if t.adapters != nil {
        if factory := t.adapters.Lookup(ch.VendorID, ch.ProductID); factory != nil {
            adapter := factory(h)
            if err := h.enableBridge(adapter, ch.Serial); err != nil {
                _ = h.Close()
                return nil, err
            }
        }
    }
    return h, nil
}

func resolveEndpoints(intf *gousb.Interface, ch transport.USBChannel) (*gousb.InEndpoint, *gousb.OutEndpoint, error) {
    inNum, outNum := ch.InEndpoint, ch.OutEndpoint
    if inNum == 0 || outNum == 0 {
        for _, ep := range intf.Setting.Endpoints {
            if ep.TransferType != gousb.TransferTypeBulk && ep.TransferType != gousb.TransferTypeInterrupt {
                continue
            }
            if ep.Direction == gousb.EndpointDirectionIn && inNum == 0 {
                inNum = ep.Number
            }
            if ep.Direction == gousb.EndpointDirectionOut && outNum == 0 {
                outNum = ep.Number
            }
        }
    }
    if inNum == 0 || outNum == 0 {
        return nil, nil, fmt.Errorf("no usable endpoint pair: %w", transport.ErrNoDevice)
    }

    in, err := intf.InEndpoint(inNum)
    if err != nil {
        return nil, nil, fmt.Errorf("in endpoint %d: %v: %w", inNum, err, transport.ErrNoDevice)
    }
    out, err := intf.OutEndpoint(outNum)
    if err != nil {
        return nil, nil, fmt.Errorf("out endpoint %d: %v: %w", outNum, err, transport.ErrNoDevice)
    }
    return in, out, nil
}

func mapOpenError(name string, err error) error {
    if errors.Is(err, gousb.ErrorAccess) || strings.Contains(err.Error(), "access") {
        return fmt.Errorf("%s: %w", name, transport.ErrPermission)
    }
    if errors.Is(err, gousb.ErrorBusy) {
        return fmt.Errorf("%s: %w", name, transport.ErrBusy)
    }
    return fmt.Errorf("%s: %v: %w", name, err, transport.ErrNoDevice)
}

type handle struct {
    name string
    dev  *gousb.Device
    cfg  *gousb.Config
    intf *gousb.Interface
    in   *gousb.InEndpoint
    out  *gousb.OutEndpoint

    bridge usbserial.Adapter

    mu       sync.Mutex
    closed   bool
    pushback []byte
}

func (h *handle) enableBridge(adapter usbserial.Adapter, params *transport.SerialParameters) error {
    if err := adapter.EnableAdapter(); err != nil {
        return fmt.Errorf("%s: enable %s: %w", h.name, adapter.Name(), err)
    }
    h.bridge = adapter
    zap.L().Info("usb-serial bridge enabled",
        zap.String("device", h.name), zap.String("chip", adapter.Name()))

    if params == nil { return nil }
    if err := adapter.SetBaud(params.BaudRate); err != nil {
        return fmt.Errorf("%s: baud %d: %w", h.name, params.BaudRate, err)
    }
    if err := adapter.SetDataFormat(params.DataBits, params.StopBits, params.Parity); err != nil {
        // partial line-format failure: the caller may proceed degraded
        zap.L().Warn("line format partially applied", zap.String("device", h.name), zap.Error(err))
    }
    return nil
}

// Bridge exposes the attached usb-serial adapter, or nil.
func (h *handle) Bridge() usbserial.Adapter { return h.bridge }

func (h *handle) Kind() transport.Kind { return transport.KindUSB }
func (h *handle) String() string       { return h.name }

// ControlRead and ControlWrite implement usbserial.ControlPort with vendor
// device-level control transfers.
func (h *handle) ControlRead(request uint8, value, index uint16, buf []byte) error {
    n, err := h.dev.Control(
        gousb.ControlVendor|gousb.ControlDevice|gousb.ControlIn,
        request, value, index, buf,
    )
    if err != nil {
        return fmt.Errorf("%s: control read %02X: %v: %w", h.name, request, err, transport.ErrIO)
    }
    if n != len(buf) {
        return fmt.Errorf("%s: short control response: %d < %d: %w", h.name, n, len(buf), transport.ErrIO)
    }
    return nil
}

func (h *handle) ControlWrite(request uint8, value, index uint16) error {
    _, err := h.dev.Control(
        gousb.ControlVendor|gousb.ControlDevice|gousb.ControlOut,
        request, value, index, nil,
    )
    if err != nil {
        return fmt.Errorf("%s: control write %02X: %v: %w", h.name, request, err, transport.ErrIO)
    }
    return nil
}

func (h *handle) Read(buf []byte, initial, subsequent time.Duration) (int, error) {
    h.mu.Lock()
    if h.closed {
        h.mu.Unlock()
        return 0, fmt.Errorf("%s closed: %w", h.name, transport.ErrIO)
    }
    total := copy(buf, h.pushback)
    h.pushback = h.pushback[total:]
    h.mu.Unlock()

    timeout := initial
    if total > 0 { timeout = subsequent }

    for total < len(buf) {
        n, err := h.readChunk(buf[total:], timeout)
        total += n
        if err != nil { return total, err }
        if n == 0 { return total, nil }
        timeout = subsequent
    }
    return total, nil
}

func (h *handle) readChunk(buf []byte, timeout time.Duration) (int, error) {
    ctx, cancel := context.WithTimeout(context.Background(), timeout)
    defer cancel()
    n, err := h.in.ReadContext(ctx, buf)
    if err != nil {
        if errors.Is(err, context.DeadlineExceeded) {
            return n, nil
        }
        return n, fmt.Errorf("%s: read: %v: %w", h.name, err, transport.ErrIO)
    }
    return n, nil
}

func (h *handle) Write(b []byte) (int, error) {
    n, err := h.out.Write(b)
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
    if len(h.pushback) > 0 {
        h.mu.Unlock()
        return true, nil
    }
    h.mu.Unlock()

    var one [1]byte
    n, err := h.readChunk(one[:], timeout)
    if err != nil { return false, err }
    if n == 0 { return false, nil }

    h.mu.Lock()
    h.pushback = append(h.pushback, one[0])
    h.mu.Unlock()
    return true, nil
}

func (h *handle) Close() error {
    h.mu.Lock()
    if h.closed {
        h.mu.Unlock()
        return nil
    }
    h.closed = true
    h.mu.Unlock()

    h.intf.Close()
    _ = h.cfg.Close()
    return h.dev.Close()
}
