package packet

import (
    "bytes"
    "errors"
    "testing"

    "tactiled/pkg/transport"
)

func TestChecksum(t *testing.T) {
    if got := Checksum(0x10, []byte{0x01, 0x02, 0x03}); got != 0x10 {
        t.Fatalf("checksum: got %02X want 10", got)
    }
    if got := Checksum(0x00, nil); got != 0x00 {
        t.Fatalf("empty checksum: got %02X want 00", got)
    }
}

func TestEncode(t *testing.T) {
    f := Frame{Command: 0x10, Payload: []byte{0x01, 0x02, 0x03}}
    raw, err := f.Encode(0x02, 0x03)
    if err != nil { t.Fatalf("encode: %v", err) }
    want := []byte{0x02, 0x04, 0x10, 0x01, 0x02, 0x03, 0x10, 0x03}
    if !bytes.Equal(raw, want) {
        t.Fatalf("encode: got % X want % X", raw, want)
    }
}

func TestEncodePayloadTooLarge(t *testing.T) {
    f := Frame{Command: 0x01, Payload: make([]byte, MaxPayload+1)}
    if _, err := f.Encode(0x02, 0x03); err == nil {
        t.Fatalf("expected error for oversized payload")
    }
}

func TestDecode(t *testing.T) {
    f := Frame{Command: 0x10, Payload: []byte{0xAA, 0xBB}}
    raw, err := f.Encode(0x02, 0x03)
    if err != nil { t.Fatalf("encode: %v", err) }
    got, err := Decode(raw)
    if err != nil { t.Fatalf("decode: %v", err) }
    if got.Command != 0x10 || !bytes.Equal(got.Payload, []byte{0xAA, 0xBB}) {
        t.Fatalf("decode mismatch: %#v", got)
    }
}

func TestDecodeChecksumMismatch(t *testing.T) {
    f := Frame{Command: 0x10, Payload: []byte{0x01, 0x02, 0x03}}
    raw, err := f.Encode(0x02, 0x03)
    if err != nil { t.Fatalf("encode: %v", err) }
    raw[4] ^= 0x40 // flip a payload bit, keep the old checksum
    if _, err := Decode(raw); !errors.Is(err, transport.ErrChecksum) {
        t.Fatalf("expected ErrChecksum, got %v", err)
    }
}

func TestDecodeTruncated(t *testing.T) {
    if _, err := Decode([]byte{0x02, 0x01}); err == nil {
        t.Fatalf("expected error for truncated frame")
    }
}

func TestExplicitVerify(t *testing.T) {
    v := Explicit{SOM: 0x02, EOM: 0x03}

    if got := v.Verify([]byte{0xFF}); got != Reject {
        t.Fatalf("bad SOM: got %v want Reject", got)
    }
    if got := v.Verify([]byte{0x02, 0x00}); got != Reject {
        t.Fatalf("zero length: got %v want Reject", got)
    }

    raw := []byte{0x02, 0x04, 0x10, 0x01, 0x02, 0x03, 0x10, 0x03}
    for i := 1; i < len(raw); i++ {
        if got := v.Verify(raw[:i]); got != Continue {
            t.Fatalf("prefix %d: got %v want Continue", i, got)
        }
    }
    if got := v.Verify(raw); got != Accept {
        t.Fatalf("complete frame: got %v want Accept", got)
    }

    // complete length but wrong end marker
    bad := append([]byte(nil), raw...)
    bad[len(bad)-1] = 0x7F
    if got := v.Verify(bad); got != Reject {
        t.Fatalf("wrong EOM: got %v want Reject", got)
    }
}

func TestFixedLengthVerify(t *testing.T) {
    v := FixedLength(3)
    if got := v.Verify([]byte{1, 2}); got != Continue {
        t.Fatalf("short: got %v want Continue", got)
    }
    if got := v.Verify([]byte{1, 2, 3}); got != Accept {
        t.Fatalf("exact: got %v want Accept", got)
    }
}

func TestTerminatedVerify(t *testing.T) {
    v := Terminated([]byte{0x0D, 0x0A})
    if got := v.Verify([]byte("ok\r")); got != Continue {
        t.Fatalf("partial terminator: got %v want Continue", got)
    }
    if got := v.Verify([]byte("ok\r\n")); got != Accept {
        t.Fatalf("terminated: got %v want Accept", got)
    }
}
