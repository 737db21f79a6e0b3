package transport

import (
    "fmt"
    "sort"
    "sync"

    "go.uber.org/zap"
)

// Registry maps medium kinds to their transports and keeps at most one open
// handle per device identifier. It is an explicit object owned by the
// daemon; nothing in this package holds process-wide mutable state.
type Registry struct {
    mu         sync.Mutex
    transports map[Kind]Transport
    claimed    map[string]Handle
}

func NewRegistry() *Registry {
    return &Registry{
        transports: make(map[Kind]Transport),
        claimed:    make(map[string]Handle),
    }
}

// Register adds a transport for its kind, replacing any previous one.
func (r *Registry) Register(t Transport) {
    r.mu.Lock()
    r.transports[t.Kind()] = t
    r.mu.Unlock()
}

// Open claims identifier and opens it through the transport registered for
// the descriptor's kind. A second open of the same identifier fails with
// ErrBusy until the first handle is released.
func (r *Registry) Open(identifier string, desc Descriptor) (Handle, error) {
    r.mu.Lock()
    t := r.transports[desc.Kind]
    if t == nil {
        r.mu.Unlock()
        return nil, fmt.Errorf("no transport for kind %s: %w", desc.Kind, ErrNoDevice)
    }
    if _, taken := r.claimed[identifier]; taken {
        r.mu.Unlock()
        return nil, fmt.Errorf("%s: %w", identifier, ErrBusy)
    }
    // reserve while opening so concurrent opens of the same device lose
    r.claimed[identifier] = nil
    r.mu.Unlock()

    h, err := t.Open(desc)
    r.mu.Lock()
    if err != nil {
        delete(r.claimed, identifier)
        r.mu.Unlock()
        return nil, err
    }
    r.claimed[identifier] = h
    r.mu.Unlock()

    zap.L().Info("device claimed", zap.String("device", identifier), zap.String("kind", desc.Kind.String()))
    return &claimedHandle{Handle: h, registry: r, identifier: identifier}, nil
}

// Release closes the handle claimed for identifier, if any.
func (r *Registry) Release(identifier string) {
    r.mu.Lock()
    h := r.claimed[identifier]
    delete(r.claimed, identifier)
    r.mu.Unlock()
    if h != nil { _ = h.Close() }
}

// Claimed returns the identifiers currently claimed, sorted.
func (r *Registry) Claimed() []string {
    r.mu.Lock()
    out := make([]string, 0, len(r.claimed))
    for id := range r.claimed { out = append(out, id) }
    r.mu.Unlock()
    sort.Strings(out)
    return out
}

// CloseAll releases every claimed handle. Used during daemon shutdown.
func (r *Registry) CloseAll() {
    r.mu.Lock()
    handles := make([]Handle, 0, len(r.claimed))
    for id, h := range r.claimed {
        if h != nil { handles = append(handles, h) }
        delete(r.claimed, id)
    }
    r.mu.Unlock()
    for _, h := range handles { _ = h.Close() }
}

// claimedHandle releases the registry claim on close. Close stays
// idempotent: only the first close drops the claim.
type claimedHandle struct {
    Handle
    registry   *Registry
    identifier string
    once       sync.Once
}

func (c *claimedHandle) Close() error {
    var err error
    c.once.Do(func() {
        c.registry.mu.Lock()
        delete(c.registry.claimed, c.identifier)
        c.registry.mu.Unlock()
        err = c.Handle.Close()
        zap.L().Info("device released", zap.String("device", c.identifier))
    })
    return err
}
