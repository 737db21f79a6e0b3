//go:build !linux

package btcomm

import (
    "fmt"

    "tactiled/pkg/transport"
)

type Transport struct{}

func New() *Transport { return &Transport{} }

func (t *Transport) Kind() transport.Kind { return transport.KindBluetooth }

func (t *Transport) Open(desc transport.Descriptor) (transport.Handle, error) {
    return nil, fmt.Errorf("bluetooth rfcomm is linux-only: %w", transport.ErrNoDevice)
}
