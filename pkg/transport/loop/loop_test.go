package loop

import (
    "bytes"
    "errors"
    "testing"
    "time"

    "tactiled/pkg/transport"
)

func open(t *testing.T) (*Device, transport.Handle) {
    t.Helper()
    lt := New()
    dev := lt.Add("dev")
    h, err := lt.Open(transport.Descriptor{Kind: transport.KindLoop, Device: "dev"})
    if err != nil { t.Fatalf("open: %v", err) }
    return dev, h
}

func TestReadStopsAtInterByteTimeout(t *testing.T) {
    dev, h := open(t)
    defer h.Close()

    dev.Feed([]byte{1, 2, 3})
    buf := make([]byte, 8)
    n, err := h.Read(buf, time.Second, 50*time.Millisecond)
    if err != nil { t.Fatalf("read: %v", err) }
    if n != 3 || !bytes.Equal(buf[:3], []byte{1, 2, 3}) {
        t.Fatalf("read: got %d bytes % X", n, buf[:n])
    }
}

func TestReadQuietLink(t *testing.T) {
    _, h := open(t)
    defer h.Close()

    n, err := h.Read(make([]byte, 4), 50*time.Millisecond, 20*time.Millisecond)
    if err != nil { t.Fatalf("read: %v", err) }
    if n != 0 { t.Fatalf("quiet link returned %d bytes", n) }
}

func TestAwaitInputPushback(t *testing.T) {
    dev, h := open(t)
    defer h.Close()

    ready, err := h.AwaitInput(20 * time.Millisecond)
    if err != nil { t.Fatalf("await: %v", err) }
    if ready { t.Fatalf("ready on quiet link") }

    dev.Feed([]byte{0x42})
    ready, err = h.AwaitInput(time.Second)
    if err != nil { t.Fatalf("await: %v", err) }
    if !ready { t.Fatalf("not ready after feed") }

    // the byte consumed by AwaitInput comes back on the next read
    buf := make([]byte, 1)
    n, err := h.Read(buf, 50*time.Millisecond, 50*time.Millisecond)
    if err != nil { t.Fatalf("read: %v", err) }
    if n != 1 || buf[0] != 0x42 {
        t.Fatalf("pushback: got %d bytes % X", n, buf[:n])
    }
}

func TestOpenBusyAndReopen(t *testing.T) {
    lt := New()
    lt.Add("dev")
    desc := transport.Descriptor{Kind: transport.KindLoop, Device: "dev"}

    h, err := lt.Open(desc)
    if err != nil { t.Fatalf("open: %v", err) }
    if _, err := lt.Open(desc); !errors.Is(err, transport.ErrBusy) {
        t.Fatalf("double open: expected ErrBusy, got %v", err)
    }
    if err := h.Close(); err != nil { t.Fatalf("close: %v", err) }
    if err := h.Close(); err != nil { t.Fatalf("second close: %v", err) }

    if _, err := lt.Open(desc); err != nil {
        t.Fatalf("reopen after close: %v", err)
    }
}

func TestOpenMissing(t *testing.T) {
    lt := New()
    _, err := lt.Open(transport.Descriptor{Kind: transport.KindLoop, Device: "nope"})
    if !errors.Is(err, transport.ErrNoDevice) {
        t.Fatalf("expected ErrNoDevice, got %v", err)
    }
}

func TestWriteRecordedAndAnswered(t *testing.T) {
    dev, h := open(t)
    defer h.Close()

    dev.OnWrite(func(write []byte) { dev.Feed([]byte{write[0] + 1}) })
    if _, err := h.Write([]byte{0x10, 0x20}); err != nil {
        t.Fatalf("write: %v", err)
    }
    writes := dev.Writes()
    if len(writes) != 1 || !bytes.Equal(writes[0], []byte{0x10, 0x20}) {
        t.Fatalf("writes: %v", writes)
    }

    buf := make([]byte, 1)
    n, err := h.Read(buf, time.Second, 50*time.Millisecond)
    if err != nil { t.Fatalf("read: %v", err) }
    if n != 1 || buf[0] != 0x11 {
        t.Fatalf("response: got %d bytes % X", n, buf[:n])
    }
}

func TestAwaitInputAfterClose(t *testing.T) {
    _, h := open(t)
    if err := h.Close(); err != nil { t.Fatalf("close: %v", err) }
    if _, err := h.AwaitInput(time.Second); !errors.Is(err, transport.ErrIO) {
        t.Fatalf("await on closed handle: expected ErrIO, got %v", err)
    }
}
