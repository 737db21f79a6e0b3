// Package driver defines the device protocol driver contract and a registry
// of available drivers.
package driver

import (
    "fmt"
    "sort"
    "sync"
    "time"

    "tactiled/pkg/transport"
)

// Settings carries per-connection tuning resolved by the caller from its
// configuration. Zero values mean "driver default".
type Settings struct {
    // Serial line parameters for serial-class transports
    Serial transport.SerialParameters

    // ProbeTimeout bounds one identify attempt
    ProbeTimeout time.Duration
    // ProbeRetryLimit is the number of identify retries after the first
    // attempt
    ProbeRetryLimit int
}

// Device is an identified, connected piece of hardware.
type Device interface {
    // Identity returns the raw identification response.
    Identity() []byte
    // Cells returns the device's reported cell count, zero when unknown.
    Cells() int
    // WriteCells refreshes the output row. Unchanged content is not
    // re-sent.
    WriteCells(cells []byte) error
    // HandleInput drains and dispatches pending input from the device.
    // It returns nil when the link was merely quiet.
    HandleInput() error
    // Close releases the underlying handle.
    Close() error
}

// Driver speaks one device protocol family.
type Driver interface {
    // Name is the registry key, e.g. "tacrow".
    Name() string
    // DefaultSerial returns the line settings the hardware family ships
    // with.
    DefaultSerial() transport.SerialParameters
    // Connect identifies the device behind an open handle. On error the
    // handle is left open; ownership stays with the caller.
    Connect(h transport.Handle, st Settings) (Device, error)
}

// Table maps driver names to drivers.
type Table struct {
    mu      sync.RWMutex
    drivers map[string]Driver
}

func NewTable() *Table { return &Table{drivers: make(map[string]Driver)} }

func (t *Table) Register(d Driver) error {
    t.mu.Lock(); defer t.mu.Unlock()
    name := d.Name()
    if _, dup := t.drivers[name]; dup {
        return fmt.Errorf("driver %q already registered", name)
    }
    t.drivers[name] = d
    return nil
}

func (t *Table) Lookup(name string) (Driver, bool) {
    t.mu.RLock(); defer t.mu.RUnlock()
    d, ok := t.drivers[name]
    return d, ok
}

// Names returns the registered driver names, sorted.
func (t *Table) Names() []string {
    t.mu.RLock(); defer t.mu.RUnlock()
    out := make([]string, 0, len(t.drivers))
    for name := range t.drivers { out = append(out, name) }
    sort.Strings(out)
    return out
}
