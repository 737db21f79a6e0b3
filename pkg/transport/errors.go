package transport

import (
    "errors"
    "fmt"
)

// Connect-time failures. Open implementations wrap one of these so callers
// can tell "nothing matched" from "matched but unusable".
var (
    ErrNoDevice   = errors.New("no matching device")
    ErrPermission = errors.New("device access denied")
    ErrBusy       = errors.New("device already claimed")
)

// Steady-state failures.
var (
    // ErrIO marks a fatal read/write failure, distinct from a timeout.
    // Partial acceptance of a write is reported as ErrIO.
    ErrIO = errors.New("device i/o failure")

    // ErrChecksum marks a structurally complete packet whose checksum does
    // not match. Retry policy is left to the caller.
    ErrChecksum = errors.New("packet checksum mismatch")

    // ErrProbeFailed is returned once every identify attempt is exhausted.
    ErrProbeFailed = errors.New("device identification failed")

    // ErrUnsupportedSetting marks a line-format or baud value the medium
    // cannot represent.
    ErrUnsupportedSetting = errors.New("unsupported line setting")
)

// ShortWriteError builds the canonical ErrIO wrap for a partial write.
func ShortWriteError(wrote, want int) error {
    return fmt.Errorf("short write: %d < %d: %w", wrote, want, ErrIO)
}
