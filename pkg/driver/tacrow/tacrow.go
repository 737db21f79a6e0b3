// Package tacrow implements the driver for the TacRow family of
// single-row refreshable cell displays. The protocol uses explicit
// framing: STX, length, command, payload, XOR checksum, ETX.
package tacrow

import (
    "bytes"
    "fmt"
    "time"

    "go.uber.org/zap"

    "tactiled/pkg/driver"
    "tactiled/pkg/packet"
    "tactiled/pkg/probe"
    "tactiled/pkg/transport"
)

const (
    som = 0x02
    eom = 0x03

    cmdDescribe = 0x00 // request/response: device identification
    cmdActuate  = 0x10 // host -> device: refresh the cell row
    cmdAck      = 0x11 // device -> host: actuation done
    cmdKeys     = 0x20 // device -> host: key state report

    // describe response payload: model, cells, fw major, fw minor
    describeLen = 4

    maxPacket = 64

    defaultProbeTimeout = time.Second
    defaultRetryLimit   = 2

    // first-byte and inter-byte timeouts while draining input
    inputTimeout = 100 * time.Millisecond
    byteTimeout  = 50 * time.Millisecond
)

type Driver struct{}

func New() *Driver { return &Driver{} }

func (*Driver) Name() string { return "tacrow" }

// The hardware family ships at 9600 8N1.
func (*Driver) DefaultSerial() transport.SerialParameters {
    return transport.DefaultSerialParameters()
}

// Connect runs the identify handshake on the open handle. The handle is
// not closed on failure; the caller owns it until Connect succeeds.
func (d *Driver) Connect(h transport.Handle, st driver.Settings) (driver.Device, error) {
    timeout := st.ProbeTimeout
    if timeout <= 0 { timeout = defaultProbeTimeout }
    retries := st.ProbeRetryLimit
    if retries == 0 { retries = defaultRetryLimit }
    if retries < 0 { retries = 0 }

    reader := packet.NewReader(h)
    verifier := packet.Explicit{SOM: som, EOM: eom}

    identity, err := probe.Identify(probe.Options{
        WriteRequest: func() error {
            return packet.WriteFrame(h, som, eom, cmdDescribe, nil)
        },
        ReadResponse: func(buf []byte, timeout time.Duration) (int, error) {
            return reader.ReadPacket(buf, verifier, timeout, byteTimeout)
        },
        Classify: func(response []byte) probe.Response {
            f, err := packet.Decode(response)
            if err != nil { return probe.Rejected }
            if f.Command != cmdDescribe { return probe.Unexpected }
            if len(f.Payload) < describeLen { return probe.Rejected }
            return probe.Accepted
        },
        Timeout:    timeout,
        RetryLimit: retries,
        BufferSize: maxPacket,
    })
    if err != nil {
        return nil, fmt.Errorf("tacrow on %s: %w", h.String(), err)
    }

    f, err := packet.Decode(identity)
    if err != nil { return nil, err }

    dev := &device{
        handle:   h,
        reader:   reader,
        verifier: verifier,
        identity: identity,
        model:    f.Payload[0],
        cells:    int(f.Payload[1]),
        log:      zap.L().Named("tacrow").With(zap.String("device", h.String())),
    }
    dev.log.Info("device identified",
        zap.Uint8("model", dev.model), zap.Int("cells", dev.cells),
        zap.String("firmware", fmt.Sprintf("%d.%d", f.Payload[2], f.Payload[3])))
    return dev, nil
}

type device struct {
    handle   transport.Handle
    reader   *packet.Reader
    verifier packet.Explicit
    log      *zap.Logger

    identity []byte
    model    uint8
    cells    int

    // last row sent, to suppress redundant refreshes
    row []byte
}

func (d *device) Identity() []byte { return d.identity }
func (d *device) Cells() int       { return d.cells }

// WriteCells refreshes the row. Content identical to the last refresh is
// not re-sent; the display state is already correct.
func (d *device) WriteCells(cells []byte) error {
    if len(cells) > d.cells {
        return fmt.Errorf("tacrow: %d cells exceeds device width %d", len(cells), d.cells)
    }
    if d.row != nil && bytes.Equal(cells, d.row) {
        return nil
    }
    if err := packet.WriteFrame(d.handle, som, eom, cmdActuate, cells); err != nil {
        return err
    }
    d.row = append(d.row[:0], cells...)
    return nil
}

// HandleInput drains one batch of pending packets. Key reports are logged;
// acks confirm the last actuation. A quiet link is not an error.
func (d *device) HandleInput() error {
    buf := make([]byte, maxPacket)
    for {
        n, err := d.reader.ReadPacket(buf, d.verifier, inputTimeout, byteTimeout)
        if err != nil {
            if n > 0 {
                // damaged packet; resynchronization already happened
                d.log.Debug("input packet dropped", zap.Error(err))
                continue
            }
            return err
        }
        if n == 0 { return nil }

        f, err := packet.Decode(buf[:n])
        if err != nil {
            d.log.Debug("input packet dropped", zap.Error(err))
            continue
        }
        switch f.Command {
        case cmdAck:
            d.log.Debug("actuation acknowledged")
        case cmdKeys:
            d.log.Info("key report", zap.Binary("keys", f.Payload))
        default:
            d.log.Debug("unhandled packet", zap.Uint8("command", f.Command))
        }
    }
}

func (d *device) Close() error { return d.handle.Close() }
