// Package devices persists a cache of identified devices so the daemon can
// recognize hardware it has seen before.
package devices

import (
    "fmt"
    "os"
    "path/filepath"
    "sort"
    "sync"
    "time"

    "github.com/fxamacker/cbor/v2"
    "go.uber.org/zap"
)

// Record describes one identified device.
type Record struct {
    // Identifier transport identifier the device was found at
    Identifier string `cbor:"identifier"`
    // Driver the protocol driver that claimed it
    Driver string `cbor:"driver"`
    // Identity raw identification response from the device
    Identity []byte `cbor:"identity,omitempty"`
    // Cells reported cell count, zero when unknown
    Cells int `cbor:"cells,omitempty"`
    // BaudRate the line speed that worked, zero when not serial
    BaudRate int `cbor:"baud_rate,omitempty"`
    // LastSeenUnixMs wall-clock time of the last successful identify
    LastSeenUnixMs int64 `cbor:"last_seen_unix_ms"`
}

type storeDoc struct {
    Version int      `cbor:"version"`
    Records []Record `cbor:"records"`
}

const docVersion = 1

// Store is the on-disk device cache. All methods are safe for concurrent
// use; mutations are flushed to disk immediately.
type Store struct {
    path string

    mu      sync.Mutex
    records map[string]Record
}

// Open loads the cache at dir/devices.cbor, creating the directory when
// missing. A corrupt or unreadable cache file is discarded, not fatal.
func Open(dir string) (*Store, error) {
    if err := os.MkdirAll(dir, 0o755); err != nil {
        return nil, fmt.Errorf("device cache dir: %w", err)
    }
    s := &Store{
        path:    filepath.Join(dir, "devices.cbor"),
        records: make(map[string]Record),
    }

    raw, err := os.ReadFile(s.path)
    if os.IsNotExist(err) { return s, nil }
    if err != nil { return nil, fmt.Errorf("device cache: %w", err) }

    var doc storeDoc
    if err := cbor.Unmarshal(raw, &doc); err != nil {
        zap.L().Warn("device cache unreadable, starting fresh", zap.String("path", s.path), zap.Error(err))
        return s, nil
    }
    for _, r := range doc.Records {
        if r.Identifier != "" { s.records[r.Identifier] = r }
    }
    return s, nil
}

// Remember upserts a record keyed by its identifier and flushes.
func (s *Store) Remember(rec Record) error {
    if rec.Identifier == "" { return fmt.Errorf("record without identifier") }
    if rec.LastSeenUnixMs == 0 { rec.LastSeenUnixMs = time.Now().UnixMilli() }

    s.mu.Lock(); defer s.mu.Unlock()
    s.records[rec.Identifier] = rec
    return s.flushLocked()
}

// Lookup returns the cached record for an identifier.
func (s *Store) Lookup(identifier string) (Record, bool) {
    s.mu.Lock(); defer s.mu.Unlock()
    r, ok := s.records[identifier]
    return r, ok
}

// Forget removes a record; unknown identifiers are a no-op.
func (s *Store) Forget(identifier string) error {
    s.mu.Lock(); defer s.mu.Unlock()
    if _, ok := s.records[identifier]; !ok { return nil }
    delete(s.records, identifier)
    return s.flushLocked()
}

// All returns a snapshot sorted by identifier.
func (s *Store) All() []Record {
    s.mu.Lock(); defer s.mu.Unlock()
    out := make([]Record, 0, len(s.records))
    for _, r := range s.records { out = append(out, r) }
    sort.Slice(out, func(i, j int) bool { return out[i].Identifier < out[j].Identifier })
    return out
}

// flushLocked writes the whole document through a temp file rename so a
// crash mid-write cannot truncate the cache.
func (s *Store) flushLocked() error {
    doc := storeDoc{Version: docVersion, Records: make([]Record, 0, len(s.records))}
    for _, r := range s.records { doc.Records = append(doc.Records, r) }
    sort.Slice(doc.Records, func(i, j int) bool { return doc.Records[i].Identifier < doc.Records[j].Identifier })

    raw, err := cbor.Marshal(doc)
    if err != nil { return fmt.Errorf("encode device cache: %w", err) }

    tmp := s.path + ".tmp"
    if err := os.WriteFile(tmp, raw, 0o644); err != nil {
        return fmt.Errorf("write device cache: %w", err)
    }
    if err := os.Rename(tmp, s.path); err != nil {
        return fmt.Errorf("write device cache: %w", err)
    }
    return nil
}
