package transport

import (
    "fmt"
    "strconv"
    "strings"
)

// ParseIdentifier turns a device identifier string into a Descriptor.
// Supported forms:
//
//   serial:/dev/ttyUSB0
//   usb:1A86:7523
//   bluetooth:AA:BB:CC:DD:EE:FF
//   hid:0403:6001
//   loop:name
//
// Serial line settings and USB endpoint numbers come from configuration,
// not from the identifier; the parsed descriptor carries defaults.
func ParseIdentifier(identifier string) (Descriptor, error) {
    qualifier, rest, ok := strings.Cut(identifier, ":")
    if !ok || rest == "" {
        return Descriptor{}, fmt.Errorf("malformed device identifier: %q", identifier)
    }

    switch strings.ToLower(qualifier) {
    case "serial":
        return Descriptor{Kind: KindSerial, Device: rest, Serial: DefaultSerialParameters()}, nil

    case "usb":
        vendor, product, err := parseVendorProduct(rest)
        if err != nil { return Descriptor{}, err }
        return Descriptor{
            Kind: KindUSB,
            USB:  USBChannel{VendorID: vendor, ProductID: product},
        }, nil

    case "bluetooth", "bt":
        if !isBluetoothAddress(rest) {
            return Descriptor{}, fmt.Errorf("malformed bluetooth address: %q", rest)
        }
        return Descriptor{
            Kind:      KindBluetooth,
            Bluetooth: BluetoothParams{Address: strings.ToUpper(rest), Channel: 1},
        }, nil

    case "hid":
        vendor, product, err := parseVendorProduct(rest)
        if err != nil { return Descriptor{}, err }
        return Descriptor{
            Kind: KindHID,
            HID:  HIDParams{VendorID: vendor, ProductID: product},
        }, nil

    case "loop":
        return Descriptor{Kind: KindLoop, Device: rest}, nil

    default:
        return Descriptor{}, fmt.Errorf("unknown device qualifier: %q", qualifier)
    }
}

func parseVendorProduct(s string) (uint16, uint16, error) {
    v, p, ok := strings.Cut(s, ":")
    if !ok {
        return 0, 0, fmt.Errorf("malformed vendor:product pair: %q", s)
    }
    vendor, err := strconv.ParseUint(v, 16, 16)
    if err != nil {
        return 0, 0, fmt.Errorf("malformed vendor identifier: %q", v)
    }
    product, err := strconv.ParseUint(p, 16, 16)
    if err != nil {
        return 0, 0, fmt.Errorf("malformed product identifier: %q", p)
    }
    return uint16(vendor), uint16(product), nil
}

func isBluetoothAddress(s string) bool {
    octets := strings.Split(s, ":")
    if len(octets) != 6 { return false }
    for _, o := range octets {
        if len(o) != 2 { return false }
        if _, err := strconv.ParseUint(o, 16, 8); err != nil { return false }
    }
    return true
}
