// Package transport defines the canonical device I/O interfaces for tactiled
// and provides a registry that enforces exclusive ownership of every opened
// device, plus input monitoring bridged onto the alarm reactor.
//
// Key concepts:
// - Transport: opens a Handle for devices of a specific Kind (serial/USB/etc.)
// - Descriptor: read-only per-medium connection parameters supplied at open
// - Handle: one exclusively owned connection; timed reads, atomic writes
// - Registry: maps kinds to transports and rejects double claims of a device
package transport
