package main

import (
    "os"
    "os/signal"
    "syscall"

    "go.uber.org/zap"

    "tactiled/pkg/config"
    "tactiled/pkg/daemon"
    "tactiled/pkg/devices"
    "tactiled/pkg/driver"
    "tactiled/pkg/driver/tacrow"
    "tactiled/pkg/observability"
    "tactiled/pkg/transport"
    "tactiled/pkg/transport/btcomm"
    "tactiled/pkg/transport/hidport"
    "tactiled/pkg/transport/serialport"
    "tactiled/pkg/transport/usbdev"
    "tactiled/pkg/usbserial"
)

// run is the main entry point after CLI parsing.
func run(opts Options) int {
    cfg, err := config.Load(opts.ConfigPath)
    if err != nil {
        _, _ = os.Stderr.WriteString("failed to load config: " + err.Error() + "\n")
        return 1
    }

    logger, err := observability.SetupLogger(cfg.Log)
    if err != nil {
        _, _ = os.Stderr.WriteString("failed to setup logger: " + err.Error() + "\n")
        return 1
    }
    defer func() { _ = logger.Sync() }()

    zap.L().Info("tactiled started", zap.String("app", cfg.AppName))
    zap.L().Info("effective configuration", zap.Any("config", cfg))

    registry := transport.NewRegistry()
    registry.Register(serialport.New())
    usb := usbdev.New(usbserial.NewAdapterTable())
    defer func() { _ = usb.Close() }()
    registry.Register(usb)
    registry.Register(btcomm.New())
    registry.Register(hidport.New())

    drivers := driver.NewTable()
    if err := drivers.Register(tacrow.New()); err != nil {
        zap.L().Error("driver registration failed", zap.Error(err))
        return 1
    }

    store, err := devices.Open(cfg.DataDir)
    if err != nil {
        zap.L().Error("device cache unavailable", zap.Error(err))
        return 1
    }

    d := daemon.New(cfg, registry, drivers, store)
    if err := d.Start(); err != nil {
        zap.L().Error("failed to start daemon", zap.Error(err))
        return 1
    }
    defer d.Close()

    zap.L().Info("daemon is running; press Ctrl+C to exit",
        zap.Int("devices", len(cfg.Devices)), zap.Strings("drivers", drivers.Names()))

    sigCh := make(chan os.Signal, 1)
    signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
    sig := <-sigCh
    zap.L().Info("shutting down", zap.String("signal", sig.String()))
    return 0
}
