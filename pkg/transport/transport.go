package transport

import (
    "time"
)

// Kind identifies the physical medium a device is reached over.
type Kind int

const (
    KindUnknown Kind = iota
    KindSerial
    KindUSB
    KindBluetooth
    KindHID
    KindLoop
)

func (k Kind) String() string {
    switch k {
    case KindSerial:
        return "serial"
    case KindUSB:
        return "usb"
    case KindBluetooth:
        return "bluetooth"
    case KindHID:
        return "hid"
    case KindLoop:
        return "loop"
    default:
        return "unknown"
    }
}

// StopBits selects the number of serial stop bits.
type StopBits int

const (
    Stop1 StopBits = iota
    Stop2
)

// Parity selects the serial parity discipline.
type Parity int

const (
    ParityNone Parity = iota
    ParityOdd
    ParityEven
    ParitySpace
    ParityMark
)

func (p Parity) String() string {
    switch p {
    case ParityNone:
        return "none"
    case ParityOdd:
        return "odd"
    case ParityEven:
        return "even"
    case ParitySpace:
        return "space"
    case ParityMark:
        return "mark"
    default:
        return "invalid"
    }
}

// SerialParameters holds the line settings applied when a serial (or
// serial-over-USB) channel is opened.
type SerialParameters struct {
    BaudRate int
    DataBits int
    StopBits StopBits
    Parity   Parity
}

// DefaultSerialParameters matches the common device bring-up line format.
func DefaultSerialParameters() SerialParameters {
    return SerialParameters{BaudRate: 9600, DataBits: 8, StopBits: Stop1, Parity: ParityNone}
}

// USBChannel selects one USB device interface and its endpoints.
type USBChannel struct {
    VendorID     uint16
    ProductID    uint16
    Interface    int
    InEndpoint   int
    OutEndpoint  int
    // Serial requests the attached usb-serial bridge (if any) to be
    // programmed with these line settings during open.
    Serial *SerialParameters
}

// BluetoothParams addresses an RFCOMM channel on a remote device.
type BluetoothParams struct {
    Address     string // AA:BB:CC:DD:EE:FF
    Channel     uint8
    NamePattern string // optional prefix match on the advertised name
}

// HIDParams selects a HID report channel.
type HIDParams struct {
    VendorID     uint16
    ProductID    uint16
    SerialNumber string
}

// Descriptor is the read-only configuration value handed to Open. Exactly
// the fields for the descriptor's Kind are consulted; the rest are ignored.
type Descriptor struct {
    Kind      Kind
    Device    string // medium-specific path or address (serial port, loop name)
    Serial    SerialParameters
    USB       USBChannel
    Bluetooth BluetoothParams
    HID       HIDParams
}

// Handle is one open, exclusively owned device connection. Concurrent
// read/write against the same handle is not allowed; the wire protocols
// layered above permit only one outstanding exchange at a time.
type Handle interface {
    Kind() Kind

    // String returns the identifier the handle was opened with.
    String() string

    // Read fills buf with up to len(buf) bytes of one logical read. It
    // waits up to initial for the first byte and up to subsequent between
    // consecutive bytes. A zero count means the link stayed quiet; callers
    // retry rather than treat it as failure.
    Read(buf []byte, initial, subsequent time.Duration) (int, error)

    // Write sends b atomically. A short write is reported as ErrIO because
    // framed protocols above assume whole-packet delivery.
    Write(b []byte) (int, error)

    // AwaitInput reports whether input becomes readable within timeout.
    AwaitInput(timeout time.Duration) (bool, error)

    // Close releases the underlying resource. Safe to call more than once
    // and safe even when the connect sequence never completed.
    Close() error
}

// Transport opens device handles for one medium kind.
type Transport interface {
    Kind() Kind
    Open(desc Descriptor) (Handle, error)
}
