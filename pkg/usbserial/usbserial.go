// Package usbserial programs UART-over-USB bridge chips: baud-rate register
// derivation and line-format control for devices whose serial side hides
// behind a USB interface. Each chip family implements Adapter; the USB
// transport looks the right family up by vendor/product at open time.
package usbserial

import (
    "tactiled/pkg/transport"
)

// ControlPort is register-level access to a bridge chip through vendor
// control transfers. Satisfied by the USB transport's handles.
type ControlPort interface {
    ControlRead(request uint8, value, index uint16, buf []byte) error
    ControlWrite(request uint8, value, index uint16) error
}

// Adapter programs one usb-serial bridge chip family.
type Adapter interface {
    Name() string

    // EnableAdapter runs the chip bring-up sequence after the USB
    // interface has been claimed.
    EnableAdapter() error

    // SetBaud derives and applies the register pair for rate. Applying the
    // pair already in effect issues no register writes.
    SetBaud(rate int) error

    // SetDataFormat applies the line format. An unsupported sub-setting is
    // logged and skipped while the others still take effect; the returned
    // error then reports the partial failure.
    SetDataFormat(dataBits int, stopBits transport.StopBits, parity transport.Parity) error
}

// Factory binds an adapter implementation to a control port.
type Factory func(port ControlPort) Adapter

// AdapterTable maps vendor/product pairs to bridge factories. An explicit
// object owned by whoever wires the transports together.
type AdapterTable struct {
    factories map[uint32]Factory
}

// NewAdapterTable returns a table preloaded with the known bridge chips.
func NewAdapterTable() *AdapterTable {
    t := &AdapterTable{factories: make(map[uint32]Factory)}
    for _, id := range ch341DeviceIDs {
        t.Register(id[0], id[1], func(port ControlPort) Adapter { return NewCH341(port) })
    }
    return t
}

func (t *AdapterTable) Register(vendor, product uint16, f Factory) {
    t.factories[uint32(vendor)<<16|uint32(product)] = f
}

// Lookup returns the factory for vendor/product, or nil when the device
// has no known bridge chip.
func (t *AdapterTable) Lookup(vendor, product uint16) Factory {
    return t.factories[uint32(vendor)<<16|uint32(product)]
}
