// Package observability contains logging setup for the daemon.
package observability

import (
    "os"
    "path/filepath"
    "strings"

    "go.uber.org/zap"
    "go.uber.org/zap/zapcore"
    "gopkg.in/natefinch/lumberjack.v2"

    "tactiled/pkg/config"
)

// SetupLogger builds a zap.Logger from the provided configuration, sets it
// as the global logger, and redirects the stdlib log package. The caller
// should defer logger.Sync().
func SetupLogger(c config.LogConfig) (*zap.Logger, error) {
    level := zap.NewAtomicLevel()
    switch strings.ToLower(c.Level) {
    case "debug":
        level.SetLevel(zap.DebugLevel)
    case "warn", "warning":
        level.SetLevel(zap.WarnLevel)
    case "error":
        level.SetLevel(zap.ErrorLevel)
    default:
        level.SetLevel(zap.InfoLevel)
    }

    encCfg := zap.NewProductionEncoderConfig()
    if c.Development {
        encCfg = zap.NewDevelopmentEncoderConfig()
        encCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
    }
    var encoder zapcore.Encoder
    if strings.ToLower(c.Format) == "json" {
        encoder = zapcore.NewJSONEncoder(encCfg)
    } else {
        encoder = zapcore.NewConsoleEncoder(encCfg)
    }

    var cores []zapcore.Core
    for _, out := range c.Outputs {
        cores = append(cores, zapcore.NewCore(encoder, sinkFor(out, c), level))
    }

    opts := []zap.Option{
        zap.AddCaller(),
        zap.AddStacktrace(zap.ErrorLevel),
    }
    if c.Development {
        opts = append(opts, zap.Development())
    }

    logger := zap.New(zapcore.NewTee(cores...), opts...)
    zap.ReplaceGlobals(logger)
    _, _ = zap.RedirectStdLogAt(logger, zap.InfoLevel)
    return logger, nil
}

func sinkFor(out string, c config.LogConfig) zapcore.WriteSyncer {
    switch strings.ToLower(out) {
    case "stdout":
        return zapcore.AddSync(os.Stdout)
    case "stderr":
        return zapcore.AddSync(os.Stderr)
    }

    if c.Rotation.Enable {
        name := out
        if strings.TrimSpace(c.Rotation.Filename) != "" {
            name = c.Rotation.Filename
        }
        return zapcore.AddSync(&lumberjack.Logger{
            Filename:   name,
            MaxSize:    atLeast(c.Rotation.MaxSizeMB, 10),
            MaxBackups: atLeast(c.Rotation.MaxBackups, 1),
            MaxAge:     atLeast(c.Rotation.MaxAgeDays, 7),
            Compress:   c.Rotation.Compress,
        })
    }

    if dir := filepath.Dir(out); dir != "." && dir != "" {
        _ = os.MkdirAll(dir, 0o755)
    }
    f, err := os.OpenFile(out, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
    if err != nil {
        // fallback to stderr on failure
        return zapcore.AddSync(os.Stderr)
    }
    return zapcore.AddSync(f)
}

func atLeast(v, floor int) int {
    if v < floor {
        return floor
    }
    return v
}
