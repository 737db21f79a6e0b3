package usbserial

import (
    "fmt"

    "go.uber.org/zap"

    "tactiled/pkg/transport"
)

// CH341-class bridge. The chip derives its baud rate in two stages: the
// 12 MHz reference clock is divided by one of eight prescaler factors (each
// a combination of independently bypassable 2x/8x/64x stages), then by an
// 8-bit divisor register holding MINUEND-divisor.
const (
    ch341Frequency = 12000000

    ch341DivisorMinuend = 0x100
    ch341DivisorMinimum = 2
    ch341DivisorMaximum = ch341DivisorMinuend - ch341DivisorMinimum

    // the factor-1 tier additionally requires a divisor of at least 9
    ch341DivisorMinimumFactor1 = 9

    ch341BaudMinimum = 46
    ch341BaudMaximum = ch341Frequency / ch341DivisorMinimumFactor1
)

// Vendor control requests.
const (
    ch341ReqReadVersion      = 0x5F
    ch341ReqReadRegisters    = 0x95
    ch341ReqWriteRegisters   = 0x9A
    ch341ReqInitializeSerial = 0xA1
    ch341ReqWriteMCR         = 0xA4
)

// Registers.
const (
    ch341RegMSR       = 0x06
    ch341RegLSR       = 0x07
    ch341RegPrescaler = 0x12
    ch341RegDivisor   = 0x13
    ch341RegLCR1      = 0x18
    ch341RegLCR2      = 0x25
)

// Prescaler register bits: each flag bypasses one division stage.
const (
    ch341PSFBypass8x  = 0x01
    ch341PSFBypass64x = 0x02
    ch341PSFBypass2x  = 0x04
    ch341PSFNoWait    = 0x80
)

// LCR1 bits.
const (
    ch341LCR1DataBitsMask = 0x03
    ch341LCR1DataBits5    = 0x00
    ch341LCR1DataBits6    = 0x01
    ch341LCR1DataBits7    = 0x02
    ch341LCR1DataBits8    = 0x03

    ch341LCR1StopBitsMask = 0x04
    ch341LCR1StopBits1    = 0x00
    ch341LCR1StopBits2    = 0x04

    ch341LCR1ParityMask      = 0x38
    ch341LCR1ParityEnable    = 0x08
    ch341LCR1ParityEven      = 0x10
    ch341LCR1ParityMarkSpace = 0x20

    ch341LCR1TransmitEnable = 0x40
    ch341LCR1ReceiveEnable  = 0x80
)

// prescalerEntry maps a clock-scaling factor to the bypass flags selecting
// it. Immutable; safe to read from any goroutine.
type prescalerEntry struct {
    factor uint16
    flags  uint8
}

var ch341PrescalerTable = [...]prescalerEntry{
    {factor: 1, flags: ch341PSFBypass2x | ch341PSFBypass8x | ch341PSFBypass64x},
    {factor: 2, flags: ch341PSFBypass8x | ch341PSFBypass64x},
    {factor: 8, flags: ch341PSFBypass2x | ch341PSFBypass64x},
    {factor: 16, flags: ch341PSFBypass64x},
    {factor: 64, flags: ch341PSFBypass2x | ch341PSFBypass8x},
    {factor: 128, flags: ch341PSFBypass8x},
    {factor: 512, flags: ch341PSFBypass2x},
    {factor: 1024, flags: 0},
}

// ch341DeviceIDs are the vendor/product pairs this bridge answers to.
var ch341DeviceIDs = [][2]uint16{
    {0x1A86, 0x7523},
    {0x1A86, 0x5523},
    {0x4348, 0x5523},
}

// ch341Transform computes, with rounding, FREQUENCY/(factor*value). The
// same expression maps a wanted baud to its divisor and a divisor back to
// the achievable baud.
func ch341Transform(factor uint16, value uint64) uint64 {
    return ((2*ch341Frequency)/(uint64(factor)*value) + 1) / 2
}

// ch341BaudParameters finds the {prescaler flags, divisor register} pair
// whose achievable rate deviates least from wanted. Tiers are examined in
// ascending factor order; on an exact deviation tie the later (larger
// factor) tier wins because the comparison below is <=. The chip's timing
// differs per tier, so this tie-break is kept exactly as shipped.
func ch341BaudParameters(wanted int) (actual int, prescaler, divisor uint8, ok bool) {
    for _, ps := range ch341PrescalerTable {
        psDivisor := ch341Transform(ps.factor, uint64(wanted))

        minimum := uint64(ch341DivisorMinimum)
        if ps.factor == 1 { minimum = ch341DivisorMinimumFactor1 }
        if psDivisor < minimum {
            break // divisors only shrink from here on
        }
        if psDivisor > ch341DivisorMaximum {
            continue
        }

        baud := int(ch341Transform(ps.factor, psDivisor))
        delta := baud - wanted
        if delta < 0 { delta = -delta }

        if !ok || delta <= actualDelta(actual, wanted) {
            actual = baud
            prescaler = ps.flags
            divisor = uint8(ch341DivisorMinuend - psDivisor)
            ok = true
        }
    }
    return
}

func actualDelta(actual, wanted int) int {
    d := actual - wanted
    if d < 0 { d = -d }
    return d
}

// CH341 holds the cached register state for one bridge. Not safe for
// concurrent use; the handle owner serializes configuration calls.
type CH341 struct {
    port ControlPort
    log  *zap.Logger

    version [2]byte

    baud struct {
        prescaler uint8
        divisor   uint8
        valid     bool
    }

    control struct {
        lcr1 uint8
        lcr2 uint8
        mcr  uint8
    }

    status struct {
        msr uint8
        lsr uint8
    }
}

func NewCH341(port ControlPort) *CH341 {
    c := &CH341{port: port, log: zap.L().Named("ch341")}
    c.control.lcr1 = ch341LCR1DataBits8 | ch341LCR1TransmitEnable | ch341LCR1ReceiveEnable
    return c
}

func (c *CH341) Name() string { return "CH341" }

func (c *CH341) controlRead(request uint8, value, index uint16, buf []byte) error {
    c.log.Debug("control read",
        zap.Uint8("request", request), zap.Uint16("value", value), zap.Uint16("index", index))
    return c.port.ControlRead(request, value, index, buf)
}

func (c *CH341) controlWrite(request uint8, value, index uint16) error {
    c.log.Debug("control write",
        zap.Uint8("request", request), zap.Uint16("value", value), zap.Uint16("index", index))
    return c.port.ControlWrite(request, value, index)
}

func (c *CH341) readRegisters(register1, register2 uint8) (uint8, uint8, error) {
    var buf [2]byte
    err := c.controlRead(
        ch341ReqReadRegisters,
        uint16(register2)<<8|uint16(register1),
        0, buf[:],
    )
    if err != nil { return 0, 0, err }
    return buf[0], buf[1], nil
}

func (c *CH341) writeRegisters(register1, value1, register2, value2 uint8) error {
    return c.controlWrite(
        ch341ReqWriteRegisters,
        uint16(register2)<<8|uint16(register1),
        uint16(value2)<<8|uint16(value1),
    )
}

func (c *CH341) readVersion() error {
    var buf [2]byte
    if err := c.controlRead(ch341ReqReadVersion, 0, 0, buf[:]); err != nil {
        return err
    }
    copy(c.version[:], buf[:])
    c.log.Debug("version", zap.Uint8("major", c.version[0]), zap.Uint8("minor", c.version[1]))
    return nil
}

func (c *CH341) initializeSerial() error {
    return c.controlWrite(ch341ReqInitializeSerial, 0, 0)
}

func (c *CH341) readBaud() error {
    prescaler, divisor, err := c.readRegisters(ch341RegPrescaler, ch341RegDivisor)
    if err != nil { return err }
    c.baud.prescaler = prescaler
    c.baud.divisor = divisor
    c.baud.valid = true
    c.log.Debug("baud registers",
        zap.Uint8("prescaler", prescaler), zap.Uint8("divisor", divisor))
    return nil
}

func (c *CH341) writeLCRs() error {
    return c.writeRegisters(ch341RegLCR1, c.control.lcr1, ch341RegLCR2, c.control.lcr2)
}

func (c *CH341) writeMCR() error {
    return c.controlWrite(ch341ReqWriteMCR, uint16(^c.control.mcr), 0)
}

func (c *CH341) readStatus() error {
    msr, lsr, err := c.readRegisters(ch341RegMSR, ch341RegLSR)
    if err != nil { return err }
    // the chip reports these inverted
    c.status.msr = msr ^ 0xFF
    c.status.lsr = lsr ^ 0xFF
    c.log.Debug("status", zap.Uint8("msr", c.status.msr), zap.Uint8("lsr", c.status.lsr))
    return nil
}

// EnableAdapter runs the bring-up sequence. The version read is best
// effort; everything after it must succeed.
func (c *CH341) EnableAdapter() error {
    if err := c.readVersion(); err != nil {
        c.log.Warn("version read failed", zap.Error(err))
    }

    steps := []struct {
        name string
        run  func() error
    }{
        {"initialize serial", c.initializeSerial},
        {"read baud", c.readBaud},
        {"write line control", c.writeLCRs},
        {"write modem control", c.writeMCR},
        {"read status", c.readStatus},
    }
    for _, step := range steps {
        if err := step.run(); err != nil {
            return fmt.Errorf("%s: %w", step.name, err)
        }
    }
    return nil
}

// SetBaud derives the nearest register pair for rate and applies it with a
// single paired register write. When the derived pair equals the cached
// last-applied pair the writes are skipped entirely.
func (c *CH341) SetBaud(rate int) error {
    if rate < ch341BaudMinimum || rate > ch341BaudMaximum {
        return fmt.Errorf("baud %d out of range: %w", rate, transport.ErrUnsupportedSetting)
    }

    actual, prescaler, divisor, ok := ch341BaudParameters(rate)
    if !ok {
        return fmt.Errorf("baud %d has no divisor: %w", rate, transport.ErrUnsupportedSetting)
    }

    if c.baud.valid && prescaler == c.baud.prescaler && divisor == c.baud.divisor {
        return nil
    }

    c.log.Debug("changing baud", zap.Int("wanted", rate), zap.Int("actual", actual))
    err := c.writeRegisters(
        ch341RegPrescaler, prescaler|ch341PSFNoWait,
        ch341RegDivisor, divisor,
    )
    if err != nil { return err }

    c.baud.prescaler = prescaler
    c.baud.divisor = divisor
    c.baud.valid = true
    return nil
}

// updateByte merges value into the masked bits of *b and reports whether
// anything changed.
func updateByte(b *uint8, mask, value uint8) bool {
    if next := (*b &^ mask) | value; next != *b {
        *b = next
        return true
    }
    return false
}

func (c *CH341) updateDataBits(dataBits int) (bool, error) {
    var value uint8
    switch dataBits {
    case 5:
        value = ch341LCR1DataBits5
    case 6:
        value = ch341LCR1DataBits6
    case 7:
        value = ch341LCR1DataBits7
    case 8:
        value = ch341LCR1DataBits8
    default:
        c.log.Warn("unsupported data bits", zap.Int("dataBits", dataBits))
        return false, fmt.Errorf("data bits %d: %w", dataBits, transport.ErrUnsupportedSetting)
    }
    return updateByte(&c.control.lcr1, ch341LCR1DataBitsMask, value), nil
}

func (c *CH341) updateStopBits(stopBits transport.StopBits) (bool, error) {
    var value uint8
    switch stopBits {
    case transport.Stop1:
        value = ch341LCR1StopBits1
    case transport.Stop2:
        value = ch341LCR1StopBits2
    default:
        c.log.Warn("unsupported stop bits", zap.Int("stopBits", int(stopBits)))
        return false, fmt.Errorf("stop bits %d: %w", int(stopBits), transport.ErrUnsupportedSetting)
    }
    return updateByte(&c.control.lcr1, ch341LCR1StopBitsMask, value), nil
}

func (c *CH341) updateParity(parity transport.Parity) (bool, error) {
    var value uint8
    switch parity {
    case transport.ParityNone:
    case transport.ParityOdd:
        value = ch341LCR1ParityEnable
    case transport.ParityEven:
        value = ch341LCR1ParityEnable | ch341LCR1ParityEven
    case transport.ParityMark:
        value = ch341LCR1ParityEnable | ch341LCR1ParityMarkSpace
    case transport.ParitySpace:
        value = ch341LCR1ParityEnable | ch341LCR1ParityMarkSpace | ch341LCR1ParityEven
    default:
        c.log.Warn("unsupported parity", zap.String("parity", parity.String()))
        return false, fmt.Errorf("parity %s: %w", parity, transport.ErrUnsupportedSetting)
    }
    return updateByte(&c.control.lcr1, ch341LCR1ParityMask, value), nil
}

// SetDataFormat applies the three line-format sub-settings. Each may fail
// as unsupported independently without aborting the others; if any of them
// changed the register image, both LCR bytes are rewritten together since
// the chip has no narrower write.
func (c *CH341) SetDataFormat(dataBits int, stopBits transport.StopBits, parity transport.Parity) error {
    changedData, errData := c.updateDataBits(dataBits)
    changedStop, errStop := c.updateStopBits(stopBits)
    changedParity, errParity := c.updateParity(parity)

    if changedData || changedStop || changedParity {
        if err := c.writeLCRs(); err != nil {
            return err
        }
    }

    if errData != nil || errStop != nil || errParity != nil {
        return fmt.Errorf("line format partially applied: %w",
            firstError(errData, errStop, errParity))
    }
    return nil
}

func firstError(errs ...error) error {
    for _, err := range errs {
        if err != nil { return err }
    }
    return nil
}
