// Package sx126x provides a driver for SX126x LoRa transceivers that
// implements link.Radio.
//
// Datasheet:
// https://www.semtech.com/products/wireless-rf/lora-connect/sx1262
//
// The SX126x is driven by commands rather than registers, and every command
// must wait for the BUSY pin to go low. All interrupts are routed to DIO1:
// wire its rising edge to HandleDIO1. The interrupt status, which tells a
// detection from the end of a scan, is read later by PollIRQ from the
// goroutine that owns the device.
//
// SF6 uses an implicit header so that an SX127x can be on the other end.
package sx126x

import (
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/ofauchon/lorabridge/link"
)

// SPI is a full duplex SPI connection. The periph.io spi.Conn satisfies it.
type SPI interface {
	Tx(w, r []byte) error
}

// PinOutput sets the level of an output pin, high when true.
type PinOutput func(level bool)

// PinInput reads the level of an input pin, high when true.
type PinInput func() bool

var (
	ErrNotDetected = errors.New("sx126x not detected")
	ErrParams      = errors.New("unsupported radio parameters")
	ErrCRC         = errors.New("crc error")
	ErrNoPacket    = errors.New("no packet received")
	ErrPacketSize  = errors.New("bad packet size")
	ErrBusy        = errors.New("sx126x stuck busy")
)

// Interrupts routed to DIO1. CadDetected always comes with CadDone.
const dio1IRQs = SX126X_IRQ_TX_DONE | SX126X_IRQ_RX_DONE | SX126X_IRQ_CAD_DONE | SX126X_IRQ_TIMEOUT

var bandwidths = [...]struct {
	hz   int32
	code uint8
}{
	{7800, SX126X_LORA_BW_7_8},
	{10400, SX126X_LORA_BW_10_4},
	{15600, SX126X_LORA_BW_15_6},
	{20800, SX126X_LORA_BW_20_8},
	{31250, SX126X_LORA_BW_31_25},
	{41700, SX126X_LORA_BW_41_7},
	{62500, SX126X_LORA_BW_62_5},
	{125000, SX126X_LORA_BW_125_0},
	{250000, SX126X_LORA_BW_250_0},
	{500000, SX126X_LORA_BW_500_0},
}

// DIO3 output voltages able to power a TCXO, in millivolts, by code.
var tcxoVoltages = [...]uint16{1600, 1700, 1800, 2200, 2400, 2700, 3000, 3300}

// Config holds the board specific settings.
type Config struct {
	// TCXOMillivolts powers the TCXO from DIO3. Zero for a crystal.
	TCXOMillivolts uint16
	// DIO2RFSwitch lets the chip drive the antenna switch through DIO2.
	DIO2RFSwitch bool
	// DCDC selects the DC-DC regulator instead of the LDO.
	DCDC bool
	// ImplicitLength is the fixed packet length used with SF6. Shorter
	// packets are padded with zeros. Defaults to MAX_PKT_LENGTH.
	ImplicitLength uint8
	// KeepCorrupted makes ReadData return packets that failed the payload
	// CRC instead of ErrCRC, for a link.Codec to repair.
	KeepCorrupted bool
	// ResetDelay is held on each side of the reset pulse. Defaults to 10ms.
	ResetDelay time.Duration
	// BusyTimeout bounds the wait for BUSY before each command. Defaults to
	// 100ms.
	BusyTimeout time.Duration
}

// Device wraps an SPI connection to a SX126x device.
type Device struct {
	spi     SPI
	csPin   PinOutput
	rstPin  PinOutput
	busyPin PinInput
	cnf     Config
	params  link.Params

	implicitHeader bool
	preamble       uint16
	notifier       atomic.Pointer[link.Notifier]
	// irqPending is set by HandleDIO1 and consumed by PollIRQ.
	irqPending atomic.Bool

	// err holds the first SPI failure since the last call to Err.
	err   error
	sleep func(time.Duration)
}

// New creates a new SX126x connection. The SPI bus must already be
// configured. cs may be nil when the bus drives chip select itself, busy nil
// when the pin is not wired (commands are then sent without waiting). New
// does no I/O.
func New(spi SPI, cs, rst PinOutput, busy PinInput, cfg Config) *Device {
	if cfg.ImplicitLength == 0 {
		cfg.ImplicitLength = MAX_PKT_LENGTH
	}
	if cfg.ResetDelay == 0 {
		cfg.ResetDelay = 10 * time.Millisecond
	}
	if cfg.BusyTimeout == 0 {
		cfg.BusyTimeout = 100 * time.Millisecond
	}
	return &Device{
		spi:     spi,
		csPin:   cs,
		rstPin:  rst,
		busyPin: busy,
		cnf:     cfg,
		sleep:   time.Sleep,
	}
}

// SetNotifier registers the receiver of the DIO1 events.
func (d *Device) SetNotifier(n link.Notifier) { d.notifier.Store(&n) }

// HandleDIO1 is the DIO1 rising edge handler. It only records the edge, see
// PollIRQ.
func (d *Device) HandleDIO1() { d.irqPending.Store(true) }

// PollIRQ reads the interrupt status after a DIO1 edge, without clearing it,
// and reports a channel activity before the end of the operation. When the
// status cannot be read both are reported, so a detection is never lost.
// It does nothing when no edge was seen since the last call, and edges seen
// before SetNotifier are dropped.
func (d *Device) PollIRQ() error {
	if !d.irqPending.Swap(false) {
		return nil
	}
	n := d.notifier.Load()
	if n == nil {
		return nil
	}
	irq := d.GetIrqStatus()
	if err := d.result("read irq"); err != nil {
		(*n).RaiseActivityDetected()
		(*n).RaiseOperationDone()
		return err
	}
	if irq&SX126X_IRQ_CAD_DETECTED != 0 {
		(*n).RaiseActivityDetected()
	}
	if irq&dio1IRQs != 0 {
		(*n).RaiseOperationDone()
	}
	return nil
}

// startOp clears the interrupts of the previous operation, latched or not.
func (d *Device) startOp() {
	d.ClearIrqStatus(SX126X_IRQ_ALL)
	d.irqPending.Store(false)
}

// Params returns the parameters applied by the last successful Begin.
func (d *Device) Params() link.Params { return d.params }

// Begin resets the module, checks it is there and configures the LoRa modem.
func (d *Device) Begin(p link.Params) error {
	bw, err := validate(p)
	if err != nil {
		return err
	}
	tcxo := -1
	if d.cnf.TCXOMillivolts != 0 {
		for i, v := range tcxoVoltages {
			if v == d.cnf.TCXOMillivolts {
				tcxo = i
			}
		}
		if tcxo < 0 {
			return fmt.Errorf("tcxo %d mV: %w", d.cnf.TCXOMillivolts, ErrParams)
		}
	}

	if d.csPin != nil {
		d.csPin(true)
	}
	d.Reset()

	d.SetStandby(SX126X_STANDBY_RC)
	status := d.GetStatus()
	if err := d.Err(); err != nil {
		return fmt.Errorf("reading status: %w", err)
	}
	if m := status & SX126X_STATUS_MODE_MASK; m != SX126X_STATUS_MODE_STDBY_RC && m != SX126X_STATUS_MODE_STDBY_XOSC {
		return fmt.Errorf("status %#02x: %w", status, ErrNotDetected)
	}

	if tcxo >= 0 {
		// 5ms start up, in steps of 15.625us
		d.SetDIO3AsTCXOCtrl(uint8(tcxo), 320)
		d.Calibrate(0x7F)
	}
	if d.cnf.DIO2RFSwitch {
		d.ExecSetCommand(SX126X_CMD_SET_DIO2_AS_RF_SWITCH, []uint8{0x01})
	}
	if d.cnf.DCDC {
		d.ExecSetCommand(SX126X_CMD_SET_REGULATOR_MODE, []uint8{SX126X_REGULATOR_DCDC})
	} else {
		d.ExecSetCommand(SX126X_CMD_SET_REGULATOR_MODE, []uint8{SX126X_REGULATOR_LDO})
	}

	d.configureLoraModem(p, bw)
	if err := d.Err(); err != nil {
		return fmt.Errorf("configuring modem: %w", err)
	}
	d.params = p
	return nil
}

func validate(p link.Params) (uint8, error) {
	switch {
	case p.Frequency == 0:
		return 0, fmt.Errorf("frequency not set: %w", ErrParams)
	case p.SpreadingFactor < 6 || p.SpreadingFactor > 12:
		return 0, fmt.Errorf("spreading factor %d: %w", p.SpreadingFactor, ErrParams)
	case p.CodingRate < 5 || p.CodingRate > 8:
		return 0, fmt.Errorf("coding rate 4/%d: %w", p.CodingRate, ErrParams)
	case p.PreambleLength < 6:
		return 0, fmt.Errorf("preamble length %d: %w", p.PreambleLength, ErrParams)
	}
	for _, b := range bandwidths {
		if b.hz == p.Bandwidth {
			return b.code, nil
		}
	}
	return 0, fmt.Errorf("bandwidth %d Hz: %w", p.Bandwidth, ErrParams)
}

func (d *Device) configureLoraModem(p link.Params, bw uint8) {
	d.SetPacketType(SX126X_PACKET_TYPE_LORA)
	d.CalibrateImage(p.Frequency)
	d.SetRfFrequency(p.Frequency)

	var ldro uint8
	if symbolDuration(p.Bandwidth, p.SpreadingFactor) > 16*time.Millisecond {
		ldro = 1
	}
	d.SetModulationParams(p.SpreadingFactor, bw, p.CodingRate-4, ldro)

	d.implicitHeader = p.SpreadingFactor == 6
	d.preamble = p.PreambleLength
	d.setPacketLength(MAX_PKT_LENGTH)
	d.SetInvertedIQ(false)
	d.SetSyncWord(p.SyncWord)

	// SX1262 high power PA, up to +22 dBm
	d.SetPaConfig(0x04, 0x07, 0x00, 0x01)
	d.SetTxParams(p.TxPower, SX126X_PA_RAMP_200U)
	d.SetOCP(140)

	d.SetBufferBaseAddress(0, 0)
	d.SetDioIrqParams(SX126X_IRQ_ALL, dio1IRQs, 0, 0)
	d.SetCadParams(SX126X_CAD_ON_2_SYMB, p.SpreadingFactor+13, 10, SX126X_CAD_GOTO_STDBY, 0)
	d.ClearIrqStatus(SX126X_IRQ_ALL)
}

// setPacketLength sets the packet params for a payload of n bytes, or of
// the implicit length when the header is implicit.
func (d *Device) setPacketLength(n uint8) {
	header := uint8(SX126X_LORA_HEADER_EXPLICIT)
	if d.implicitHeader {
		header = SX126X_LORA_HEADER_IMPLICIT
		n = d.cnf.ImplicitLength
	}
	d.SetPacketParam(d.preamble, SX126X_LORA_CRC_ON, n, header, SX126X_LORA_IQ_STANDARD)
}

func symbolDuration(bw int32, sf uint8) time.Duration {
	return time.Duration(int64(1)<<sf) * time.Second / time.Duration(bw)
}

// StartChannelScan starts a channel activity detection.
func (d *Device) StartChannelScan() error {
	d.SetStandby(SX126X_STANDBY_RC)
	d.startOp()
	d.ExecSetCommand(SX126X_CMD_SET_CAD, nil)
	return d.result("channel scan")
}

// StartReceive waits for a single packet.
func (d *Device) StartReceive() error {
	d.SetStandby(SX126X_STANDBY_RC)
	d.setPacketLength(MAX_PKT_LENGTH)
	d.startOp()
	d.SetRx(SX126X_TIMEOUT_NONE)
	return d.result("receive")
}

// StartTransmit copies data to the buffer and starts sending it.
func (d *Device) StartTransmit(data []byte) error {
	n := len(data)
	if d.implicitHeader {
		n = int(d.cnf.ImplicitLength)
	}
	if len(data) == 0 || len(data) > n || n > MAX_PKT_LENGTH {
		return fmt.Errorf("transmitting %d bytes: %w", len(data), ErrPacketSize)
	}

	d.SetStandby(SX126X_STANDBY_RC)
	d.setPacketLength(uint8(n))
	d.SetBufferBaseAddress(0, 0)
	buf := make([]byte, n)
	copy(buf, data)
	d.WriteBuffer(buf)
	d.startOp()
	d.SetTx(SX126X_TIMEOUT_NONE)
	return d.result("transmit")
}

// FinishTransmit returns the radio to standby after a transmission.
func (d *Device) FinishTransmit() error {
	d.ClearIrqStatus(SX126X_IRQ_ALL)
	d.SetStandby(SX126X_STANDBY_RC)
	return d.result("finish transmit")
}

// Standby aborts whatever operation is running.
func (d *Device) Standby() error {
	d.SetStandby(SX126X_STANDBY_RC)
	d.ClearIrqStatus(SX126X_IRQ_ALL)
	return d.result("standby")
}

// PacketLength returns the length of the received packet, 0 if it cannot
// be read.
func (d *Device) PacketLength() int {
	if d.implicitHeader {
		return int(d.cnf.ImplicitLength)
	}
	n, _ := d.GetRxBufferStatus()
	if d.Err() != nil {
		return 0
	}
	return int(n)
}

// ReadData reads the received packet, n bytes of it.
func (d *Device) ReadData(n int) ([]byte, error) {
	if n <= 0 || n > MAX_PKT_LENGTH {
		return nil, fmt.Errorf("reading %d bytes: %w", n, ErrPacketSize)
	}

	irq := d.GetIrqStatus()
	d.ClearIrqStatus(SX126X_IRQ_ALL)
	if err := d.result("read irq"); err != nil {
		return nil, err
	}
	if irq&SX126X_IRQ_RX_DONE == 0 {
		return nil, ErrNoPacket
	}
	if irq&(SX126X_IRQ_CRC_ERR|SX126X_IRQ_HEADER_ERR) != 0 && !d.cnf.KeepCorrupted {
		return nil, ErrCRC
	}

	_, start := d.GetRxBufferStatus()
	data := d.ReadBuffer(start, n)
	d.SetStandby(SX126X_STANDBY_RC)
	if err := d.result("read buffer"); err != nil {
		return nil, err
	}
	return data, nil
}

// --------------------------------------------------
// Radio-specific functions
// --------------------------------------------------

// Reset pulses the reset pin. It does nothing when no pin was given.
func (d *Device) Reset() {
	if d.rstPin == nil {
		return
	}
	d.rstPin(false)
	d.sleep(d.cnf.ResetDelay)
	d.rstPin(true)
	d.sleep(d.cnf.ResetDelay)
}

// GetStatus returns radio status
func (d *Device) GetStatus() uint8 {
	r := make([]byte, 2)
	d.tx([]byte{SX126X_CMD_GET_STATUS, SX126X_CMD_NOP}, r)
	return r[1]
}

// GetPacketType returns the active packet type
func (d *Device) GetPacketType() uint8 {
	return d.ExecGetCommand(SX126X_CMD_GET_PACKET_TYPE, 1)[0]
}

// GetIrqStatus returns the pending interrupt flags
func (d *Device) GetIrqStatus() uint16 {
	r := d.ExecGetCommand(SX126X_CMD_GET_IRQ_STATUS, 2)
	return uint16(r[0])<<8 | uint16(r[1])
}

// GetRxBufferStatus returns the length of the last packet and where it
// starts in the buffer.
func (d *Device) GetRxBufferStatus() (length, start uint8) {
	r := d.ExecGetCommand(SX126X_CMD_GET_RX_BUFFER_STATUS, 2)
	return r[0], r[1]
}

// SetTx enable Tx Mode with Tx Timeout, in steps of 15.625us
func (d *Device) SetTx(t uint32) {
	d.ExecSetCommand(SX126X_CMD_SET_TX, []uint8{uint8(t >> 16), uint8(t >> 8), uint8(t)})
}

// SetRx enable Rx Mode with Rx Timeout, in steps of 15.625us
func (d *Device) SetRx(t uint32) {
	d.ExecSetCommand(SX126X_CMD_SET_RX, []uint8{uint8(t >> 16), uint8(t >> 8), uint8(t)})
}

// Sleep switch device to sleep mode. The next command wakes it up.
func (d *Device) Sleep() {
	d.ExecSetCommand(SX126X_CMD_SET_SLEEP, []uint8{SX126X_SLEEP_START_WARM | SX126X_SLEEP_RTC_OFF})
}

// SetStandby switch device to RC or XOSC standby mode
func (d *Device) SetStandby(mode uint8) {
	d.ExecSetCommand(SX126X_CMD_SET_STANDBY, []uint8{mode})
}

// SetPacketType sets the packet type
func (d *Device) SetPacketType(packetType uint8) {
	d.ExecSetCommand(SX126X_CMD_SET_PACKET_TYPE, []uint8{packetType})
}

// SetSyncWord sets the LoRa sync word from its one byte SX127x form: 0x12
// becomes 0x1424 and 0x34 becomes 0x3444.
func (d *Device) SetSyncWord(syncWord uint8) {
	d.WriteRegister(SX126X_REG_LORA_SYNC_WORD_MSB, []uint8{
		syncWord&0xF0 | 0x04,
		syncWord<<4 | 0x04,
	})
}

// SetInvertedIQ sets the IQ polarity register, with the fix of datasheet
// section 15.4 for standard IQ.
func (d *Device) SetInvertedIQ(invert bool) {
	r := d.ReadRegister(SX126X_REG_IQ_POLARITY, 1)[0]
	if invert {
		r &^= 0x04
	} else {
		r |= 0x04
	}
	d.WriteRegister(SX126X_REG_IQ_POLARITY, []uint8{r})
}

// SetPacketParam sets various packet-related params
func (d *Device) SetPacketParam(preambleLength uint16, crcType, payloadLength, headerType, invertIQ uint8) {
	var p [6]uint8
	p[0] = uint8((preambleLength >> 8) & 0xFF)
	p[1] = uint8(preambleLength & 0xFF)
	p[2] = headerType
	p[3] = payloadLength
	p[4] = crcType
	p[5] = invertIQ
	d.ExecSetCommand(SX126X_CMD_SET_PACKET_PARAMS, p[:])
}

// SetBufferBaseAddress sets base address for buffer
func (d *Device) SetBufferBaseAddress(txBaseAddress, rxBaseAddress uint8) {
	d.ExecSetCommand(SX126X_CMD_SET_BUFFER_BASE_ADDRESS, []uint8{txBaseAddress, rxBaseAddress})
}

// SetRfFrequency sets the radio frequency
func (d *Device) SetRfFrequency(frequency uint32) {
	frf := uint32((uint64(frequency) << 25) / FXOSC) // Convert to PLL Steps
	d.ExecSetCommand(SX126X_CMD_SET_RF_FREQUENCY, []uint8{
		uint8(frf >> 24), uint8(frf >> 16), uint8(frf >> 8), uint8(frf),
	})
}

// CalibrateImage calibrates the image rejection for the band of freq.
func (d *Device) CalibrateImage(freq uint32) {
	var calFreq [2]uint8

	if freq > 900000000 {
		calFreq[0] = 0xE1
		calFreq[1] = 0xE9
	} else if freq > 850000000 {
		calFreq[0] = 0xD7
		calFreq[1] = 0xD8
	} else if freq > 770000000 {
		calFreq[0] = 0xC1
		calFreq[1] = 0xC5
	} else if freq > 460000000 {
		calFreq[0] = 0x75
		calFreq[1] = 0x81
	} else {
		calFreq[0] = 0x6B
		calFreq[1] = 0x6F
	}
	d.ExecSetCommand(SX126X_CMD_CALIBRATE_IMAGE, calFreq[:])
}

// Calibrate runs the calibration of the blocks selected by mask.
func (d *Device) Calibrate(mask uint8) {
	d.ExecSetCommand(SX126X_CMD_CALIBRATE, []uint8{mask})
}

// SetDIO3AsTCXOCtrl powers the TCXO from DIO3. delay is in steps of 15.625us.
func (d *Device) SetDIO3AsTCXOCtrl(voltage uint8, delay uint32) {
	d.ExecSetCommand(SX126X_CMD_SET_DIO3_AS_TCXO_CTRL, []uint8{
		voltage, uint8(delay >> 16), uint8(delay >> 8), uint8(delay),
	})
}

// SetPaConfig sets the Power Amplifier configuration
func (d *Device) SetPaConfig(paDutyCycle, hpMax, deviceSel, paLut uint8) {
	var p [4]uint8
	p[0] = paDutyCycle
	p[1] = hpMax
	p[2] = deviceSel
	p[3] = paLut
	d.ExecSetCommand(SX126X_CMD_SET_PA_CONFIG, p[:])
}

// SetTxParams sets power and rampup time. Power is clamped to the -9..22
// dBm of the high power PA.
func (d *Device) SetTxParams(power int8, rampTime uint8) {
	if power < -9 {
		power = -9
	} else if power > 22 {
		power = 22
	}
	d.ExecSetCommand(SX126X_CMD_SET_TX_PARAMS, []uint8{uint8(power), rampTime})
}

// SetOCP defines Overload Current Protection, in steps of 2.5mA
func (d *Device) SetOCP(mA uint8) {
	d.WriteRegister(SX126X_REG_OCP, []uint8{uint8(uint16(mA) * 2 / 5)})
}

// SetModulationParams sets the Lora modulation parameters
func (d *Device) SetModulationParams(spreadingFactor, bandwidth, codingRate, lowDataRateOptimize uint8) {
	var p [4]uint8
	p[0] = spreadingFactor
	p[1] = bandwidth
	p[2] = codingRate
	p[3] = lowDataRateOptimize
	d.ExecSetCommand(SX126X_CMD_SET_MODULATION_PARAMS, p[:])
}

// SetCadParams sets how channel activity detection is run
func (d *Device) SetCadParams(symbolNum, detPeak, detMin, exitMode uint8, timeout uint32) {
	d.ExecSetCommand(SX126X_CMD_SET_CAD_PARAMS, []uint8{
		symbolNum, detPeak, detMin, exitMode,
		uint8(timeout >> 16), uint8(timeout >> 8), uint8(timeout),
	})
}

// SetDioIrqParams enables the interrupts of irqMask and routes them to the
// DIO pins
func (d *Device) SetDioIrqParams(irqMask, dio1Mask, dio2Mask, dio3Mask uint16) {
	d.ExecSetCommand(SX126X_CMD_SET_DIO_IRQ_PARAMS, []uint8{
		uint8(irqMask >> 8), uint8(irqMask),
		uint8(dio1Mask >> 8), uint8(dio1Mask),
		uint8(dio2Mask >> 8), uint8(dio2Mask),
		uint8(dio3Mask >> 8), uint8(dio3Mask),
	})
}

// ClearIrqStatus clears IRQ flags
func (d *Device) ClearIrqStatus(clearIrqParams uint16) {
	var p [2]uint8
	p[0] = uint8((clearIrqParams >> 8) & 0xFF)
	p[1] = uint8(clearIrqParams & 0xFF)
	d.ExecSetCommand(SX126X_CMD_CLEAR_IRQ_STATUS, p[:])
}

// ***************
// BUFFERS
// **************

// WriteBuffer writes data at the start of the buffer
func (d *Device) WriteBuffer(data []uint8) {
	p := []uint8{0} // Zero offset
	p = append(p, data...)
	d.ExecSetCommand(SX126X_CMD_WRITE_BUFFER, p)
}

// ReadBuffer reads n bytes of the buffer from offset
func (d *Device) ReadBuffer(offset uint8, n int) []uint8 {
	w := make([]byte, n+3)
	w[0] = SX126X_CMD_READ_BUFFER
	w[1] = offset
	r := make([]byte, len(w))
	d.tx(w, r)
	return r[3:]
}

// --------------------------------------------------
// Internal functions
// --------------------------------------------------

// ReadRegister reads size bytes from addr on. It returns zeros on an SPI
// failure, see Err.
func (d *Device) ReadRegister(addr, size uint16) []uint8 {
	w := make([]byte, 4+int(size))
	w[0] = SX126X_CMD_READ_REGISTER
	w[1] = uint8(addr >> 8)
	w[2] = uint8(addr)
	r := make([]byte, len(w))
	d.tx(w, r) // Sec. 13.2.2
	return r[4:]
}

// WriteRegister writes data to the registers from reg on
func (d *Device) WriteRegister(reg uint16, data []uint8) {
	w := append([]byte{SX126X_CMD_WRITE_REGISTER, uint8(reg >> 8), uint8(reg)}, data...)
	d.tx(w, make([]byte, len(w)))
}

// ExecSetCommand send a command to configure the peripheral
func (d *Device) ExecSetCommand(cmd uint8, buf []uint8) {
	w := append([]byte{cmd}, buf...)
	d.tx(w, make([]byte, len(w)))
}

// ExecGetCommand queries the peripheral, dropping the status byte
func (d *Device) ExecGetCommand(cmd uint8, size int) []uint8 {
	w := make([]byte, size+2)
	w[0] = cmd
	r := make([]byte, len(w))
	d.tx(w, r)
	return r[2:]
}

// WaitBusy sleeps until the BUSY pin clears, at most BusyTimeout.
func (d *Device) WaitBusy() error {
	if d.busyPin == nil {
		return nil
	}
	deadline := time.Now().Add(d.cnf.BusyTimeout)
	for d.busyPin() {
		if time.Now().After(deadline) {
			return ErrBusy
		}
		d.sleep(10 * time.Microsecond)
	}
	return nil
}

// Err returns the first SPI failure since the previous call and forgets it.
// Once a transfer failed, the following ones are skipped.
func (d *Device) Err() error {
	err := d.err
	d.err = nil
	return err
}

func (d *Device) result(op string) error {
	if err := d.Err(); err != nil {
		return fmt.Errorf("sx126x %s: %w", op, err)
	}
	return nil
}

func (d *Device) tx(w, r []byte) {
	if d.err != nil {
		return
	}
	if err := d.transfer(w, r); err != nil {
		d.err = err
	}
}

func (d *Device) transfer(w, r []byte) error {
	if err := d.WaitBusy(); err != nil {
		return err
	}
	if d.csPin != nil {
		d.csPin(false)
	}
	err := d.spi.Tx(w, r)
	if d.csPin != nil {
		d.csPin(true)
	}
	return err
}
