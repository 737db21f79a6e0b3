package transport

import "testing"

func TestParseIdentifier(t *testing.T) {
    d, err := ParseIdentifier("serial:/dev/ttyUSB0")
    if err != nil { t.Fatalf("serial: %v", err) }
    if d.Kind != KindSerial || d.Device != "/dev/ttyUSB0" {
        t.Fatalf("serial: %#v", d)
    }
    if d.Serial.BaudRate != 9600 || d.Serial.DataBits != 8 {
        t.Fatalf("serial defaults: %#v", d.Serial)
    }

    d, err = ParseIdentifier("usb:1A86:7523")
    if err != nil { t.Fatalf("usb: %v", err) }
    if d.Kind != KindUSB || d.USB.VendorID != 0x1A86 || d.USB.ProductID != 0x7523 {
        t.Fatalf("usb: %#v", d)
    }

    d, err = ParseIdentifier("bt:aa:bb:cc:dd:ee:ff")
    if err != nil { t.Fatalf("bluetooth: %v", err) }
    if d.Kind != KindBluetooth || d.Bluetooth.Address != "AA:BB:CC:DD:EE:FF" || d.Bluetooth.Channel != 1 {
        t.Fatalf("bluetooth: %#v", d)
    }

    d, err = ParseIdentifier("hid:0403:6001")
    if err != nil { t.Fatalf("hid: %v", err) }
    if d.Kind != KindHID || d.HID.VendorID != 0x0403 {
        t.Fatalf("hid: %#v", d)
    }

    d, err = ParseIdentifier("loop:probe-target")
    if err != nil { t.Fatalf("loop: %v", err) }
    if d.Kind != KindLoop || d.Device != "probe-target" {
        t.Fatalf("loop: %#v", d)
    }
}

func TestParseIdentifierErrors(t *testing.T) {
    bad := []string{
        "",
        "serial",
        "serial:",
        "floppy:/dev/fd0",
        "usb:7523",
        "usb:zzzz:7523",
        "bluetooth:AA:BB:CC",
        "bluetooth:AA:BB:CC:DD:EE:GG",
    }
    for _, id := range bad {
        if _, err := ParseIdentifier(id); err == nil {
            t.Fatalf("identifier %q: expected error", id)
        }
    }
}
