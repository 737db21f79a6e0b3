package devices

import (
    "bytes"
    "os"
    "path/filepath"
    "testing"
)

func TestStoreRoundTrip(t *testing.T) {
    dir := t.TempDir()

    s, err := Open(dir)
    if err != nil { t.Fatalf("open: %v", err) }
    rec := Record{
        Identifier: "serial:/dev/ttyUSB0",
        Driver:     "tacrow",
        Identity:   []byte{0x01, 0x28, 0x02, 0x00},
        Cells:      40,
        BaudRate:   9600,
    }
    if err := s.Remember(rec); err != nil { t.Fatalf("remember: %v", err) }

    // a fresh store sees the persisted record
    s2, err := Open(dir)
    if err != nil { t.Fatalf("reopen: %v", err) }
    got, ok := s2.Lookup("serial:/dev/ttyUSB0")
    if !ok { t.Fatalf("record not persisted") }
    if got.Driver != "tacrow" || got.Cells != 40 || got.BaudRate != 9600 {
        t.Fatalf("record mismatch: %#v", got)
    }
    if !bytes.Equal(got.Identity, rec.Identity) {
        t.Fatalf("identity mismatch: % X", got.Identity)
    }
    if got.LastSeenUnixMs == 0 {
        t.Fatalf("last seen not stamped")
    }
}

func TestStoreForget(t *testing.T) {
    s, err := Open(t.TempDir())
    if err != nil { t.Fatalf("open: %v", err) }
    if err := s.Remember(Record{Identifier: "loop:x", Driver: "tacrow"}); err != nil {
        t.Fatalf("remember: %v", err)
    }
    if err := s.Forget("loop:x"); err != nil { t.Fatalf("forget: %v", err) }
    if _, ok := s.Lookup("loop:x"); ok {
        t.Fatalf("record still present")
    }
    // forgetting twice is fine
    if err := s.Forget("loop:x"); err != nil { t.Fatalf("forget again: %v", err) }
}

func TestStoreAllSorted(t *testing.T) {
    s, err := Open(t.TempDir())
    if err != nil { t.Fatalf("open: %v", err) }
    for _, id := range []string{"usb:1A86:7523", "loop:a", "serial:/dev/ttyS0"} {
        if err := s.Remember(Record{Identifier: id, Driver: "tacrow"}); err != nil {
            t.Fatalf("remember %s: %v", id, err)
        }
    }
    all := s.All()
    if len(all) != 3 {
        t.Fatalf("records: got %d want 3", len(all))
    }
    for i := 1; i < len(all); i++ {
        if all[i-1].Identifier >= all[i].Identifier {
            t.Fatalf("not sorted: %q >= %q", all[i-1].Identifier, all[i].Identifier)
        }
    }
}

func TestStoreCorruptFile(t *testing.T) {
    dir := t.TempDir()
    if err := os.WriteFile(filepath.Join(dir, "devices.cbor"), []byte("not cbor"), 0o644); err != nil {
        t.Fatalf("write: %v", err)
    }
    s, err := Open(dir)
    if err != nil { t.Fatalf("open with corrupt cache: %v", err) }
    if got := s.All(); len(got) != 0 {
        t.Fatalf("corrupt cache produced records: %v", got)
    }
}

func TestStoreRejectsEmptyIdentifier(t *testing.T) {
    s, err := Open(t.TempDir())
    if err != nil { t.Fatalf("open: %v", err) }
    if err := s.Remember(Record{Driver: "tacrow"}); err == nil {
        t.Fatalf("expected error for empty identifier")
    }
}
