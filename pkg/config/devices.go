package config

import (
    "fmt"
    "strings"

    "tactiled/pkg/transport"
)

// DeviceConfig describes one piece of hardware the daemon connects at
// startup.
type DeviceConfig struct {
    // Name logical name used in logs, unique among configured devices
    Name string `mapstructure:"name"`
    // Identifier transport identifier, e.g. serial:/dev/ttyUSB0,
    // usb:1A86:7523, bluetooth:AA:BB:CC:DD:EE:FF, hid:0403:6001
    Identifier string `mapstructure:"identifier"`
    // Driver name of the device protocol driver, e.g. tacrow
    Driver string `mapstructure:"driver"`

    // Serial line settings; zero values fall back to the driver defaults
    BaudRate int    `mapstructure:"baud_rate"`
    DataBits int    `mapstructure:"data_bits"`
    StopBits int    `mapstructure:"stop_bits"`
    Parity   string `mapstructure:"parity"`

    // Probe overrides the daemon-wide probe settings when non-zero
    Probe ProbeConfig `mapstructure:"probe"`

    // ReconnectDelayMS initial delay before a reconnect attempt; the
    // daemon doubles it on repeated failures
    ReconnectDelayMS int `mapstructure:"reconnect_delay_ms"`
}

func (d *DeviceConfig) validate() error {
    if d.Name == "" {
        return fmt.Errorf("name is required")
    }
    if d.Driver == "" {
        return fmt.Errorf("driver is required")
    }
    if _, err := transport.ParseIdentifier(d.Identifier); err != nil {
        return err
    }
    if _, err := d.parity(); err != nil {
        return err
    }
    if _, err := d.stopBits(); err != nil {
        return err
    }
    if d.ReconnectDelayMS < 0 {
        return fmt.Errorf("reconnect_delay_ms must not be negative")
    }
    return nil
}

func (d *DeviceConfig) parity() (transport.Parity, error) {
    switch strings.ToLower(d.Parity) {
    case "", "none":
        return transport.ParityNone, nil
    case "odd":
        return transport.ParityOdd, nil
    case "even":
        return transport.ParityEven, nil
    case "space":
        return transport.ParitySpace, nil
    case "mark":
        return transport.ParityMark, nil
    default:
        return transport.ParityNone, fmt.Errorf("invalid parity: %q", d.Parity)
    }
}

func (d *DeviceConfig) stopBits() (transport.StopBits, error) {
    switch d.StopBits {
    case 0, 1:
        return transport.Stop1, nil
    case 2:
        return transport.Stop2, nil
    default:
        return transport.Stop1, fmt.Errorf("invalid stop_bits: %d", d.StopBits)
    }
}

// SerialParameters builds the line settings for this device on top of
// the provided defaults. The config must have passed validation.
func (d *DeviceConfig) SerialParameters(defaults transport.SerialParameters) transport.SerialParameters {
    p := defaults
    if d.BaudRate > 0 {
        p.BaudRate = d.BaudRate
    }
    if d.DataBits > 0 {
        p.DataBits = d.DataBits
    }
    if sb, err := d.stopBits(); err == nil && d.StopBits != 0 {
        p.StopBits = sb
    }
    if par, err := d.parity(); err == nil && d.Parity != "" {
        p.Parity = par
    }
    return p
}
