//go:build linux

// Package btcomm implements the Bluetooth transport over RFCOMM sockets.
package btcomm

import (
    "fmt"
    "strconv"
    "strings"
    "sync"
    "time"

    "golang.org/x/sys/unix"

    "tactiled/pkg/transport"
)

type Transport struct{}

func New() *Transport { return &Transport{} }

func (t *Transport) Kind() transport.Kind { return transport.KindBluetooth }

func (t *Transport) Open(desc transport.Descriptor) (transport.Handle, error) {
    bt := desc.Bluetooth
    name := "bluetooth:" + bt.Address

    addr, err := parseAddress(bt.Address)
    if err != nil { return nil, err }

    channel := bt.Channel
    if channel == 0 { channel = 1 }

    fd, err := unix.Socket(unix.AF_BLUETOOTH, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, unix.BTPROTO_RFCOMM)
    if err != nil {
        return nil, fmt.Errorf("%s: socket: %v: %w", name, err, transport.ErrNoDevice)
    }

    sa := &unix.SockaddrRFCOMM{Addr: addr, Channel: channel}
    if err := unix.Connect(fd, sa); err != nil {
        _ = unix.Close(fd)
        return nil, mapConnectError(name, err)
    }
    return &handle{fd: fd, name: name}, nil
}

// parseAddress converts AA:BB:CC:DD:EE:FF into the kernel's byte order
// (least significant octet first).
func parseAddress(s string) ([6]byte, error) {
    var addr [6]byte
    octets := strings.Split(s, ":")
    if len(octets) != 6 {
        return addr, fmt.Errorf("malformed bluetooth address: %q", s)
    }
    for i, o := range octets {
        v, err := strconv.ParseUint(o, 16, 8)
        if err != nil {
            return addr, fmt.Errorf("malformed bluetooth address: %q", s)
        }
        addr[5-i] = byte(v)
    }
    return addr, nil
}

func mapConnectError(name string, err error) error {
    switch err {
    case unix.EACCES, unix.EPERM:
        return fmt.Errorf("%s: %w", name, transport.ErrPermission)
    case unix.EBUSY, unix.EADDRINUSE:
        return fmt.Errorf("%s: %w", name, transport.ErrBusy)
    default:
        return fmt.Errorf("%s: connect: %v: %w", name, err, transport.ErrNoDevice)
    }
}

type handle struct {
    mu     sync.Mutex
    fd     int
    name   string
    closed bool
}

func (h *handle) Kind() transport.Kind { return transport.KindBluetooth }
func (h *handle) String() string       { return h.name }

func (h *handle) poll(timeout time.Duration) (bool, error) {
    fds := []unix.PollFd{{Fd: int32(h.fd), Events: unix.POLLIN}}
    ms := int(timeout / time.Millisecond)
    for {
        n, err := unix.Poll(fds, ms)
        if err == unix.EINTR { continue }
        if err != nil {
            return false, fmt.Errorf("%s: poll: %v: %w", h.name, err, transport.ErrIO)
        }
        if n == 0 { return false, nil }
        if fds[0].Revents&(unix.POLLERR|unix.POLLHUP|unix.POLLNVAL) != 0 {
            return false, fmt.Errorf("%s: link lost: %w", h.name, transport.ErrIO)
        }
        return true, nil
    }
}

func (h *handle) Read(buf []byte, initial, subsequent time.Duration) (int, error) {
    h.mu.Lock()
    defer h.mu.Unlock()
    if h.closed {
        return 0, fmt.Errorf("%s closed: %w", h.name, transport.ErrIO)
    }

    total := 0
    timeout := initial
    for total < len(buf) {
        ready, err := h.poll(timeout)
        if err != nil { return total, err }
        if !ready { return total, nil }

        n, err := unix.Read(h.fd, buf[total:])
        if err != nil {
            return total, fmt.Errorf("%s: read: %v: %w", h.name, err, transport.ErrIO)
        }
        if n == 0 {
            return total, fmt.Errorf("%s: link closed by device: %w", h.name, transport.ErrIO)
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

    total := 0
    for total < len(b) {
        n, err := unix.Write(h.fd, b[total:])
        if err == unix.EINTR { continue }
        if err != nil {
            return total, fmt.Errorf("%s: write: %v: %w", h.name, err, transport.ErrIO)
        }
        if n == 0 {
            return total, transport.ShortWriteError(total, len(b))
        }
        total += n
    }
    return total, nil
}

func (h *handle) AwaitInput(timeout time.Duration) (bool, error) {
    h.mu.Lock()
    defer h.mu.Unlock()
    if h.closed {
        return false, fmt.Errorf("%s closed: %w", h.name, transport.ErrIO)
    }
    return h.poll(timeout)
}

func (h *handle) Close() error {
    h.mu.Lock()
    defer h.mu.Unlock()
    if h.closed { return nil }
    h.closed = true
    return unix.Close(h.fd)
}
