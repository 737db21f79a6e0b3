package config

import (
    "os"
    "path/filepath"
    "testing"

    "tactiled/pkg/transport"
)

func writeConfig(t *testing.T, yaml string) string {
    t.Helper()
    path := filepath.Join(t.TempDir(), "tactiled.yaml")
    if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
        t.Fatalf("write config: %v", err)
    }
    return path
}

func TestLoadDefaults(t *testing.T) {
    cfg, err := Load(writeConfig(t, "app_name: test\n"))
    if err != nil { t.Fatalf("load: %v", err) }
    if cfg.AppName != "test" { t.Fatalf("app name: %q", cfg.AppName) }
    if cfg.Log.Level != "info" { t.Fatalf("default level: %q", cfg.Log.Level) }
    if cfg.Probe.TimeoutMS != 1000 || cfg.Probe.RetryLimit != 2 {
        t.Fatalf("default probe: %#v", cfg.Probe)
    }
}

func TestLoadDevices(t *testing.T) {
    cfg, err := Load(writeConfig(t, `
data_dir: /var/lib/tactiled
devices:
  - name: desk
    identifier: serial:/dev/ttyUSB0
    driver: tacrow
    baud_rate: 19200
    stop_bits: 2
    parity: even
  - name: travel
    identifier: bt:AA:BB:CC:DD:EE:FF
    driver: tacrow
    probe:
      timeout_ms: 2500
`))
    if err != nil { t.Fatalf("load: %v", err) }
    if len(cfg.Devices) != 2 { t.Fatalf("devices: %d", len(cfg.Devices)) }

    desk := cfg.Devices[0]
    p := desk.SerialParameters(transport.DefaultSerialParameters())
    if p.BaudRate != 19200 || p.DataBits != 8 || p.StopBits != transport.Stop2 || p.Parity != transport.ParityEven {
        t.Fatalf("desk line settings: %#v", p)
    }

    if cfg.Devices[1].Probe.TimeoutMS != 2500 {
        t.Fatalf("travel probe override: %#v", cfg.Devices[1].Probe)
    }
}

func TestLoadRejectsBadDevice(t *testing.T) {
    bad := []string{
        "devices:\n  - identifier: serial:/dev/ttyUSB0\n    driver: tacrow\n",        // no name
        "devices:\n  - name: x\n    identifier: serial:/dev/ttyUSB0\n",              // no driver
        "devices:\n  - name: x\n    identifier: tape:/dev/nst0\n    driver: tacrow\n", // bad identifier
        "devices:\n  - name: x\n    identifier: serial:/dev/ttyUSB0\n    driver: tacrow\n    parity: strong\n",
        "devices:\n  - name: x\n    identifier: serial:/dev/ttyUSB0\n    driver: tacrow\n    stop_bits: 3\n",
    }
    for _, yaml := range bad {
        if _, err := Load(writeConfig(t, yaml)); err == nil {
            t.Fatalf("expected error for config:\n%s", yaml)
        }
    }
}

func TestLoadRejectsDuplicateDeviceName(t *testing.T) {
    _, err := Load(writeConfig(t, `
devices:
  - name: desk
    identifier: serial:/dev/ttyUSB0
    driver: tacrow
  - name: desk
    identifier: serial:/dev/ttyUSB1
    driver: tacrow
`))
    if err == nil {
        t.Fatalf("expected error for duplicate device name")
    }
}

func TestLoadRejectsBadLevel(t *testing.T) {
    if _, err := Load(writeConfig(t, "log:\n  level: loud\n")); err == nil {
        t.Fatalf("expected error for bad log level")
    }
}

func TestEnvOverride(t *testing.T) {
    t.Setenv("TACTILED_LOG_LEVEL", "debug")
    cfg, err := Load(writeConfig(t, "app_name: test\n"))
    if err != nil { t.Fatalf("load: %v", err) }
    if cfg.Log.Level != "debug" {
        t.Fatalf("env override ignored: %q", cfg.Log.Level)
    }
}
