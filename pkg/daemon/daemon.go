// Package daemon wires configuration, transports, drivers and the alarm
// reactor into the running service. Connection state is owned by the
// reactor goroutine; external entry points post work onto it.
package daemon

import (
    "fmt"
    "time"

    "go.uber.org/zap"

    "tactiled/pkg/async"
    "tactiled/pkg/config"
    "tactiled/pkg/devices"
    "tactiled/pkg/driver"
    "tactiled/pkg/transport"
)

const (
    defaultReconnectDelay = 5 * time.Second
    maxReconnectDelay     = time.Minute
)

// Daemon connects the configured devices and keeps them connected.
type Daemon struct {
    cfg      *config.Config
    reactor  *async.Reactor
    registry *transport.Registry
    drivers  *driver.Table
    store    *devices.Store
    log      *zap.Logger

    // reactor-goroutine state
    links map[string]*link
}

// link is the per-device connection state machine.
type link struct {
    cfg    config.DeviceConfig
    handle transport.Handle
    device driver.Device
    watch  *transport.Watch
    retry  *async.Alarm
    delay  time.Duration
}

// New builds a daemon around an already-populated registry and driver
// table. The store may be nil to disable the device cache.
func New(cfg *config.Config, registry *transport.Registry, drivers *driver.Table, store *devices.Store) *Daemon {
    return &Daemon{
        cfg:      cfg,
        reactor:  async.NewReactor(),
        registry: registry,
        drivers:  drivers,
        store:    store,
        log:      zap.L().Named("daemon"),
        links:    make(map[string]*link),
    }
}

// Reactor exposes the alarm reactor for callers that schedule their own
// periodic work.
func (d *Daemon) Reactor() *async.Reactor { return d.reactor }

// Start schedules a connect attempt for every configured device. It does
// not wait for the connects to finish.
func (d *Daemon) Start() error {
    for _, dc := range d.cfg.Devices {
        if _, ok := d.drivers.Lookup(dc.Driver); !ok {
            return fmt.Errorf("device %s: unknown driver %q", dc.Name, dc.Driver)
        }
    }
    for _, dc := range d.cfg.Devices {
        dc := dc
        d.reactor.Post(func() { d.connect(&link{cfg: dc}) })
    }
    return nil
}

// Close tears down every connection and stops the reactor. Safe to call
// once after Start.
func (d *Daemon) Close() {
    done := make(chan struct{})
    d.reactor.Post(func() {
        defer close(done)
        for _, l := range d.links { d.disconnect(l) }
    })
    <-done
    d.reactor.Close()
    d.registry.CloseAll()
}

// connect runs on the reactor goroutine. On failure it schedules the next
// attempt with doubled delay.
func (d *Daemon) connect(l *link) {
    log := d.log.With(zap.String("name", l.cfg.Name), zap.String("device", l.cfg.Identifier))

    if err := d.tryConnect(l); err != nil {
        delay := d.nextDelay(l)
        log.Warn("connect failed", zap.Error(err), zap.Duration("retry_in", delay))
        l.retry = d.reactor.SetAlarmIn(delay, func(any) { d.connect(l) }, nil)
        d.links[l.cfg.Name] = l
        return
    }

    l.delay = 0
    l.retry = nil
    d.links[l.cfg.Name] = l
    log.Info("device connected", zap.Int("cells", l.device.Cells()))

    l.watch = transport.Monitor(d.reactor, l.handle, func() {
        if err := l.device.HandleInput(); err != nil {
            log.Warn("device input failed, reconnecting", zap.Error(err))
            d.disconnect(l)
            d.connect(&link{cfg: l.cfg, delay: l.delay})
        }
    }, func(err error) {
        // the wait itself failed: the link is gone (unplug, handle closed)
        log.Warn("device link lost, reconnecting", zap.Error(err))
        d.disconnect(l)
        d.connect(&link{cfg: l.cfg, delay: l.delay})
    })

    if d.store != nil {
        rec := devices.Record{
            Identifier: l.cfg.Identifier,
            Driver:     l.cfg.Driver,
            Identity:   l.device.Identity(),
            Cells:      l.device.Cells(),
        }
        if l.handle.Kind() == transport.KindSerial || l.handle.Kind() == transport.KindUSB {
            drv, _ := d.drivers.Lookup(l.cfg.Driver)
            rec.BaudRate = l.cfg.SerialParameters(drv.DefaultSerial()).BaudRate
        }
        if err := d.store.Remember(rec); err != nil {
            log.Warn("device cache update failed", zap.Error(err))
        }
    }
}

func (d *Daemon) tryConnect(l *link) error {
    drv, _ := d.drivers.Lookup(l.cfg.Driver)

    desc, err := transport.ParseIdentifier(l.cfg.Identifier)
    if err != nil { return err }

    serial := l.cfg.SerialParameters(drv.DefaultSerial())
    switch desc.Kind {
    case transport.KindSerial, transport.KindLoop:
        desc.Serial = serial
    case transport.KindUSB:
        desc.USB.Serial = &serial
    }

    h, err := d.registry.Open(l.cfg.Identifier, desc)
    if err != nil { return err }

    st := driver.Settings{Serial: serial}
    if p := d.probeConfig(l.cfg); p.TimeoutMS > 0 {
        st.ProbeTimeout = time.Duration(p.TimeoutMS) * time.Millisecond
        st.ProbeRetryLimit = p.RetryLimit
    }

    dev, err := drv.Connect(h, st)
    if err != nil {
        // the handle must be gone before the failure propagates
        _ = h.Close()
        return err
    }

    l.handle = h
    l.device = dev
    return nil
}

func (d *Daemon) probeConfig(dc config.DeviceConfig) config.ProbeConfig {
    p := d.cfg.Probe
    if dc.Probe.TimeoutMS > 0 { p.TimeoutMS = dc.Probe.TimeoutMS }
    if dc.Probe.RetryLimit > 0 { p.RetryLimit = dc.Probe.RetryLimit }
    return p
}

func (d *Daemon) nextDelay(l *link) time.Duration {
    if l.delay == 0 {
        l.delay = defaultReconnectDelay
        if l.cfg.ReconnectDelayMS > 0 {
            l.delay = time.Duration(l.cfg.ReconnectDelayMS) * time.Millisecond
        }
        return l.delay
    }
    l.delay *= 2
    if l.delay > maxReconnectDelay { l.delay = maxReconnectDelay }
    return l.delay
}

// disconnect runs on the reactor goroutine.
func (d *Daemon) disconnect(l *link) {
    if l.watch != nil { l.watch.Cancel(); l.watch = nil }
    if l.retry != nil { l.retry.Cancel(); l.retry = nil }
    if l.device != nil {
        _ = l.device.Close()
        l.device = nil
        l.handle = nil
    } else if l.handle != nil {
        _ = l.handle.Close()
        l.handle = nil
    }
    delete(d.links, l.cfg.Name)
}

// WriteCells refreshes the output row of a connected device by name. After
// Close it fails instead of waiting on a reactor that no longer runs.
func (d *Daemon) WriteCells(name string, cells []byte) error {
    errCh := make(chan error, 1)
    d.reactor.Post(func() {
        l, ok := d.links[name]
        if !ok || l.device == nil {
            errCh <- fmt.Errorf("device %s not connected: %w", name, transport.ErrNoDevice)
            return
        }
        errCh <- l.device.WriteCells(cells)
    })
    select {
    case err := <-errCh:
        return err
    case <-d.reactor.Done():
        // the posted closure may still have run before the stop
        select {
        case err := <-errCh:
            return err
        default:
            return fmt.Errorf("daemon stopped: %w", transport.ErrIO)
        }
    }
}

// Connected returns whether the named device is currently identified and
// usable. False once the daemon has been closed.
func (d *Daemon) Connected(name string) bool {
    ch := make(chan bool, 1)
    d.reactor.Post(func() {
        l, ok := d.links[name]
        ch <- ok && l.device != nil
    })
    select {
    case connected := <-ch:
        return connected
    case <-d.reactor.Done():
        select {
        case connected := <-ch:
            return connected
        default:
            return false
        }
    }
}
