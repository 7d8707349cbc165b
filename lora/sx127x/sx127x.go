// Package sx127x provides a driver for SX127x LoRa transceivers that
// implements link.Radio.
//
// Datasheet:
// https://www.semtech.com/uploads/documents/DS_SX1276-7-8-9_W_APP_V6.pdf
//
// LoRa Configuration Parameters:
//
// Frequency: is the frequency the tranceiver uses. Valid frequencies depend on
// the type of LoRa module, typically around 433MHz or 866MHz. It has
// a granularity of about 61Hz.
//
// Bandwidth: is the bandwidth used for tranmissions, ranging from 7k8 to 500k.
// A higher bandwidth gives faster transmissions, lower gives greater range.
//
// SpreadingFactor: is how a transmission is spread over the spectrum. It ranges
// from 6 to 12, a higher value gives greater range but slower transmissions.
// SF6 only works with implicit headers: both ends must agree on the packet
// length, see Config.ImplicitLength.
//
// CodingRate: is the cyclic error coding used to improve the robustness of the
// transmission. It ranges from 5 to 8, a higher value gives greater
// reliability but slower transmissions.
//
// TxPower: is the power used for the transmission, ranging from 2 to 20 on
// PA_BOOST. Regulations in your country likely limit the maximum power
// permited.
//
// The driver never blocks on the radio. Operations are started by the link
// layer and their completion is reported through the DIO0 and DIO1 pins: wire
// their rising edges to HandleDIO0 and HandleDIO1.
package sx127x

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

var (
	ErrNotDetected = errors.New("sx127x not detected")
	ErrParams      = errors.New("unsupported radio parameters")
	ErrCRC         = errors.New("crc error")
	ErrNoPacket    = errors.New("no packet received")
	ErrPacketSize  = errors.New("bad packet size")
)

var bandwidths = [...]int32{7800, 10400, 15600, 20800, 31250, 41700, 62500, 125000, 250000, 500000}

// Config holds the board specific settings.
type Config struct {
	// RFOutput selects the RFO pin instead of PA_BOOST.
	RFOutput bool
	// ImplicitLength is the fixed packet length used with SF6. Shorter
	// packets are padded with zeros. Defaults to MAX_PKT_LENGTH.
	ImplicitLength uint8
	// ResetDelay is held on each side of the reset pulse. Defaults to 10ms.
	ResetDelay time.Duration
	// KeepCorrupted makes ReadData return packets that failed the payload
	// CRC instead of ErrCRC, for a link.Codec to repair.
	KeepCorrupted bool
}

// Device wraps an SPI connection to a SX127x device.
type Device struct {
	spi    SPI
	csPin  PinOutput
	rstPin PinOutput
	cnf    Config
	params link.Params

	implicitHeader bool
	notifier       atomic.Pointer[link.Notifier]

	// err holds the first SPI failure since the last call to Err.
	err   error
	sleep func(time.Duration)
}

// New creates a new SX127x connection. The SPI bus must already be configured.
// cs may be nil when the bus drives chip select itself. New does no I/O.
func New(spi SPI, cs, rst PinOutput, cfg Config) *Device {
	if cfg.ImplicitLength == 0 {
		cfg.ImplicitLength = MAX_PKT_LENGTH
	}
	if cfg.ResetDelay == 0 {
		cfg.ResetDelay = 10 * time.Millisecond
	}
	return &Device{
		spi:    spi,
		csPin:  cs,
		rstPin: rst,
		cnf:    cfg,
		sleep:  time.Sleep,
	}
}

// SetNotifier registers the receiver of the DIO events. Edges seen before
// are dropped.
func (d *Device) SetNotifier(n link.Notifier) { d.notifier.Store(&n) }

// HandleDIO0 is the DIO0 rising edge handler: CadDone, RxDone or TxDone
// depending on the operation in flight. It does no SPI I/O.
func (d *Device) HandleDIO0() {
	if n := d.notifier.Load(); n != nil {
		(*n).RaiseOperationDone()
	}
}

// HandleDIO1 is the DIO1 rising edge handler. Only CadDetected is mapped to
// DIO1.
func (d *Device) HandleDIO1() {
	if n := d.notifier.Load(); n != nil {
		(*n).RaiseActivityDetected()
	}
}

// Params returns the parameters applied by the last successful Begin.
func (d *Device) Params() link.Params { return d.params }

// Begin resets the module, checks it is there and configures the LoRa modem.
func (d *Device) Begin(p link.Params) error {
	if err := validate(p); err != nil {
		return err
	}

	if d.csPin != nil {
		d.csPin(true)
	}
	d.Reset()

	if v := d.GetVersion(); v != CHIP_VERSION {
		if err := d.Err(); err != nil {
			return fmt.Errorf("reading version: %w", err)
		}
		return fmt.Errorf("version %#02x: %w", v, ErrNotDetected)
	}

	d.configureLoraModem(p)
	if err := d.Err(); err != nil {
		return fmt.Errorf("configuring modem: %w", err)
	}
	d.params = p
	return nil
}

func validate(p link.Params) error {
	switch {
	case p.Frequency == 0:
		return fmt.Errorf("frequency not set: %w", ErrParams)
	case p.SpreadingFactor < 6 || p.SpreadingFactor > 12:
		return fmt.Errorf("spreading factor %d: %w", p.SpreadingFactor, ErrParams)
	case p.CodingRate < 5 || p.CodingRate > 8:
		return fmt.Errorf("coding rate 4/%d: %w", p.CodingRate, ErrParams)
	case p.PreambleLength < 6:
		return fmt.Errorf("preamble length %d: %w", p.PreambleLength, ErrParams)
	case bandwidthIndex(p.Bandwidth) < 0:
		return fmt.Errorf("bandwidth %d Hz: %w", p.Bandwidth, ErrParams)
	}
	return nil
}

func bandwidthIndex(bw int32) int {
	for i, v := range bandwidths {
		if v == bw {
			return i
		}
	}
	return -1
}

// configureLoraModem prepares for LORA communications
func (d *Device) configureLoraModem(p link.Params) {
	// Sleep mode required to go LoRa
	d.SetOpMode(OPMODE_SLEEP)
	d.OpModeLora(p.Frequency)
	d.SetOpMode(OPMODE_STANDBY)

	d.ConfigureChannel(p.Frequency)
	d.SetBandwidth(p.Bandwidth)
	d.SetCodingRate(p.CodingRate)
	d.SetSpreadingFactor(p.SpreadingFactor)
	d.SetImplicitHeaderModeOn(p.SpreadingFactor == 6)
	d.SetInvertedIQ(false)
	d.SetRxPayloadCrcOn(true)
	d.SetAgcAutoOn(true)
	d.SetLowDataRateOptimOn(symbolDuration(p.Bandwidth, p.SpreadingFactor) > 16*time.Millisecond)
	d.SetSymbolTimeout(0x3ff)
	d.SetSyncWord(p.SyncWord)

	// set PA ramp-up time 50 uSec
	d.WriteRegister(REG_PA_RAMP, (d.ReadRegister(REG_PA_RAMP)&0xF0)|0x08)
	d.SetTxPower(p.TxPower, !d.cnf.RFOutput)

	d.WriteRegister(REG_PREAMBLE_MSB, uint8(p.PreambleLength>>8))
	d.WriteRegister(REG_PREAMBLE_LSB, uint8(p.PreambleLength))

	d.WriteRegister(REG_MAX_PAYLOAD_LENGTH, MAX_PKT_LENGTH)
	d.WriteRegister(REG_FIFO_TX_BASE_ADDR, 0)
	d.WriteRegister(REG_FIFO_RX_BASE_ADDR, 0)
	d.clearIRQ()
}

// symbolDuration is 2^SF / BW (section 4.1.1.6).
func symbolDuration(bw int32, sf uint8) time.Duration {
	return time.Duration(int64(1)<<sf) * time.Second / time.Duration(bw)
}

// StartChannelScan starts a channel activity detection. DIO0 rises when the
// scan is over, DIO1 before it if a preamble was seen.
func (d *Device) StartChannelScan() error {
	d.SetOpMode(OPMODE_STANDBY)
	d.WriteRegister(REG_DIO_MAPPING_1, DIO_MAPPING_CAD)
	d.clearIRQ()
	d.WriteRegister(REG_IRQ_FLAGS_MASK, ^(IRQ_CAD_DONE_MASK | IRQ_CAD_DETECTED_MASK))
	d.SetOpMode(OPMODE_CAD)
	return d.result("channel scan")
}

// StartReceive waits for a single packet. DIO0 rises once it is in the FIFO.
func (d *Device) StartReceive() error {
	d.SetOpMode(OPMODE_STANDBY)
	d.WriteRegister(REG_DIO_MAPPING_1, DIO_MAPPING_RX)
	d.clearIRQ()
	d.WriteRegister(REG_IRQ_FLAGS_MASK, ^(IRQ_RX_DONE_MASK | IRQ_PAYLOAD_CRC_ERROR_MASK))
	d.WriteRegister(REG_FIFO_ADDR_PTR, 0)
	if d.implicitHeader {
		d.WriteRegister(REG_PAYLOAD_LENGTH, d.cnf.ImplicitLength)
	}
	d.SetOpMode(OPMODE_RX_SINGLE)
	return d.result("receive")
}

// StartTransmit copies data to the FIFO and starts sending it. DIO0 rises
// once the packet is out.
func (d *Device) StartTransmit(data []byte) error {
	n := len(data)
	if d.implicitHeader {
		n = int(d.cnf.ImplicitLength)
	}
	if len(data) == 0 || len(data) > n || n > MAX_PKT_LENGTH {
		return fmt.Errorf("transmitting %d bytes: %w", len(data), ErrPacketSize)
	}

	d.SetOpMode(OPMODE_STANDBY)
	d.WriteRegister(REG_DIO_MAPPING_1, DIO_MAPPING_TX)
	d.clearIRQ()
	d.WriteRegister(REG_IRQ_FLAGS_MASK, ^IRQ_TX_DONE_MASK)

	// initialize the payload size and address pointers
	d.WriteRegister(REG_FIFO_TX_BASE_ADDR, 0)
	d.WriteRegister(REG_FIFO_ADDR_PTR, 0)
	d.WriteRegister(REG_PAYLOAD_LENGTH, uint8(n))

	buf := make([]byte, n)
	copy(buf, data)
	d.writeFIFO(buf)

	d.SetOpMode(OPMODE_TX)
	return d.result("transmit")
}

// FinishTransmit returns the radio to standby after a transmission.
func (d *Device) FinishTransmit() error {
	d.clearIRQ()
	d.SetOpMode(OPMODE_STANDBY)
	return d.result("finish transmit")
}

// Standby aborts whatever operation is running.
func (d *Device) Standby() error {
	d.SetOpMode(OPMODE_STANDBY)
	d.clearIRQ()
	return d.result("standby")
}

// PacketLength returns the length of the packet waiting in the FIFO. It
// returns 0 if the length cannot be read.
func (d *Device) PacketLength() int {
	if d.implicitHeader {
		return int(d.cnf.ImplicitLength)
	}
	n := d.ReadRegister(REG_RX_NB_BYTES)
	if d.Err() != nil {
		return 0
	}
	return int(n)
}

// ReadData reads the received packet, n bytes of it. Packets with a bad CRC
// are reported with ErrCRC unless Config.KeepCorrupted is set.
func (d *Device) ReadData(n int) ([]byte, error) {
	if n <= 0 || n > MAX_PKT_LENGTH {
		return nil, fmt.Errorf("reading %d bytes: %w", n, ErrPacketSize)
	}

	irq := d.ReadRegister(REG_IRQ_FLAGS)
	d.clearIRQ()
	if err := d.result("read irq"); err != nil {
		return nil, err
	}
	if irq&IRQ_RX_DONE_MASK == 0 {
		return nil, ErrNoPacket
	}
	if irq&IRQ_PAYLOAD_CRC_ERROR_MASK != 0 && !d.cnf.KeepCorrupted {
		return nil, ErrCRC
	}

	// Reset the fifo read ptr to the beginning of the packet
	d.WriteRegister(REG_FIFO_ADDR_PTR, d.ReadRegister(REG_FIFO_RX_CURRENT_ADDR))
	data := d.readFIFO(n)
	d.SetOpMode(OPMODE_STANDBY)
	if err := d.result("read fifo"); err != nil {
		return nil, err
	}
	return data, nil
}

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

// GetVersion returns hardware version of sx1276 chipset
func (d *Device) GetVersion() uint8 {
	return d.ReadRegister(REG_VERSION)
}

// SetOpMode changes sx127x modes (RX/TX/IDLE...), but not LORA/FSK
func (d *Device) SetOpMode(mode uint8) {
	r := d.ReadRegister(REG_OP_MODE)
	d.WriteRegister(REG_OP_MODE, (r&^OPMODE_MASK)|mode)
}

// OpModeLora switch radio to Lora mode. It only works from sleep.
func (d *Device) OpModeLora(frequency uint32) {
	r := OPMODE_LORA
	if frequency < 525000000 {
		r |= OPMODE_LOW_FREQ
	}
	d.WriteRegister(REG_OP_MODE, r)
}

// GetFrequency returns the frequency the LoRa module is using
func (d *Device) GetFrequency() uint32 {
	f := uint64(d.ReadRegister(REG_FRF_LSB))
	f += uint64(d.ReadRegister(REG_FRF_MID)) << 8
	f += uint64(d.ReadRegister(REG_FRF_MSB)) << 16
	f = (f * FXOSC) >> 19 //FSTEP = FXOSC/2^19
	return uint32(f)
}

// ConfigureChannel updates the frequency the LoRa module is using
func (d *Device) ConfigureChannel(frequency uint32) {
	var frf = (uint64(frequency) << 19) / FXOSC
	d.WriteRegister(REG_FRF_MSB, uint8(frf>>16))
	d.WriteRegister(REG_FRF_MID, uint8(frf>>8))
	// only taken into account once the LSB is written
	d.WriteRegister(REG_FRF_LSB, uint8(frf>>0))
}

// GetSpreadingFactor returns the spreading factor the LoRa module is using
func (d *Device) GetSpreadingFactor() uint8 {
	return d.ReadRegister(REG_MODEM_CONFIG_2) >> 4
}

// GetBandwidth returns the bandwidth the LoRa module is using
func (d *Device) GetBandwidth() int32 {
	bw := int(d.ReadRegister(REG_MODEM_CONFIG_1) >> 4)
	if bw >= len(bandwidths) {
		return -1
	}
	return bandwidths[bw]
}

// SetSyncWord defines sync word
func (d *Device) SetSyncWord(syncWord uint8) {
	d.WriteRegister(REG_SYNC_WORD, syncWord)
}

// SetInvertedIQ sets the IQ polarity of both RX and TX.
func (d *Device) SetInvertedIQ(invert bool) {
	if invert {
		d.WriteRegister(REG_INVERTIQ, 0x67)
		d.WriteRegister(REG_INVERTIQ2, 0x19)
	} else {
		d.WriteRegister(REG_INVERTIQ, 0x27)
		d.WriteRegister(REG_INVERTIQ2, 0x1D)
	}
}

// SetTxPower sets the transmitter output power
func (d *Device) SetTxPower(txPower int8, paBoost bool) {
	if !paBoost {
		// RFO
		if txPower < 0 {
			txPower = 0
		} else if txPower > 14 {
			txPower = 14
		}
		d.WriteRegister(REG_PA_CONFIG, uint8(0x70)|uint8(txPower))
		return
	}

	if txPower > 17 {
		if txPower > 20 {
			txPower = 20
		}
		txPower -= 3
		// High Power +20 dBm Operation (Semtech SX1276/77/78/79 5.4.3.)
		d.WriteRegister(REG_PA_DAC, 0x87)
		d.SetOCP(140)
	} else {
		if txPower < 2 {
			txPower = 2
		}
		d.WriteRegister(REG_PA_DAC, 0x84)
		d.SetOCP(100)
	}
	d.WriteRegister(REG_PA_CONFIG, uint8(PA_BOOST)|uint8(txPower-2))
}

// SetOCP defines Overload Current Protection configuration
func (d *Device) SetOCP(mA uint8) {
	ocpTrim := uint8(27)

	if mA < 45 {
		mA = 45
	}
	if mA <= 120 {
		ocpTrim = (mA - 45) / 5
	} else if mA <= 240 {
		ocpTrim = (mA + 30) / 10
	}

	d.WriteRegister(REG_OCP, 0x20|(0x1F&ocpTrim))
}

// ---------------
// RegModemConfig1
// ---------------

// SetBandwidth updates the bandwidth. Values between the supported ones are
// rounded up.
func (d *Device) SetBandwidth(sbw int32) {
	bw := uint8(len(bandwidths) - 1)
	for i, v := range bandwidths {
		if sbw <= v {
			bw = uint8(i)
			break
		}
	}
	d.WriteRegister(REG_MODEM_CONFIG_1, (d.ReadRegister(REG_MODEM_CONFIG_1)&0x0f)|(bw<<4))
}

// SetCodingRate updates the coding rate the LoRa module is using
func (d *Device) SetCodingRate(denominator uint8) {
	if denominator < 5 {
		denominator = 5
	} else if denominator > 8 {
		denominator = 8
	}
	var cr = denominator - 4
	d.WriteRegister(REG_MODEM_CONFIG_1, (d.ReadRegister(REG_MODEM_CONFIG_1)&0xf1)|(cr<<1))
}

// SetImplicitHeaderModeOn Enables implicit header mode
func (d *Device) SetImplicitHeaderModeOn(val bool) {
	if val {
		d.WriteRegister(REG_MODEM_CONFIG_1, d.ReadRegister(REG_MODEM_CONFIG_1)|0x01)
	} else {
		d.WriteRegister(REG_MODEM_CONFIG_1, d.ReadRegister(REG_MODEM_CONFIG_1)&0xfe)
	}
	d.implicitHeader = val
}

// ---------------
// RegModemConfig2
// ---------------

// SetSpreadingFactor updates the spreading factor and the detection settings
// that go with it.
func (d *Device) SetSpreadingFactor(spreadingFactor uint8) {
	if spreadingFactor < 6 {
		spreadingFactor = 6
	} else if spreadingFactor > 12 {
		spreadingFactor = 12
	}

	if spreadingFactor == 6 {
		d.WriteRegister(REG_DETECTION_OPTIMIZE, 0xc5)
		d.WriteRegister(REG_DETECTION_THRESHOLD, 0x0c)
	} else {
		d.WriteRegister(REG_DETECTION_OPTIMIZE, 0xc3)
		d.WriteRegister(REG_DETECTION_THRESHOLD, 0x0a)
	}

	var newValue = (d.ReadRegister(REG_MODEM_CONFIG_2) & 0x0f) | ((spreadingFactor << 4) & 0xf0)
	d.WriteRegister(REG_MODEM_CONFIG_2, newValue)
}

// SetRxPayloadCrcOn Enable CRC generation and check on payload
func (d *Device) SetRxPayloadCrcOn(val bool) {
	if val {
		d.WriteRegister(REG_MODEM_CONFIG_2, d.ReadRegister(REG_MODEM_CONFIG_2)|0x04)
	} else {
		d.WriteRegister(REG_MODEM_CONFIG_2, d.ReadRegister(REG_MODEM_CONFIG_2)&0xfb)
	}
}

// SetSymbolTimeout sets the single receive timeout, in symbols (10 bits).
func (d *Device) SetSymbolTimeout(symbols uint16) {
	d.WriteRegister(REG_MODEM_CONFIG_2, (d.ReadRegister(REG_MODEM_CONFIG_2)&0xfc)|uint8(symbols>>8)&0x03)
	d.WriteRegister(REG_SYMB_TIMEOUT_LSB, uint8(symbols))
}

// ---------------
// RegModemConfig3
// ---------------

// SetAgcAutoOn enables Automatic Gain Control
func (d *Device) SetAgcAutoOn(val bool) {
	if val {
		d.WriteRegister(REG_MODEM_CONFIG_3, d.ReadRegister(REG_MODEM_CONFIG_3)|0x04)
	} else {
		d.WriteRegister(REG_MODEM_CONFIG_3, d.ReadRegister(REG_MODEM_CONFIG_3)&0xfb)
	}
}

// SetLowDataRateOptimOn enables Low Data Rate Optimization, mandated when a
// symbol lasts more than 16ms.
func (d *Device) SetLowDataRateOptimOn(val bool) {
	if val {
		d.WriteRegister(REG_MODEM_CONFIG_3, d.ReadRegister(REG_MODEM_CONFIG_3)|0x08)
	} else {
		d.WriteRegister(REG_MODEM_CONFIG_3, d.ReadRegister(REG_MODEM_CONFIG_3)&0xf7)
	}
}

// -------------------
// Read/Write SPI Regs
// -------------------

// ReadRegister returns register value. It returns 0 on an SPI failure, see
// Err.
func (d *Device) ReadRegister(reg uint8) uint8 {
	var r [2]byte
	d.tx([]byte{reg & 0x7f, 0}, r[:])
	return r[1]
}

// WriteRegister sets a value to register
func (d *Device) WriteRegister(reg uint8, value uint8) {
	var r [2]byte
	d.tx([]byte{reg | 0x80, value}, r[:])
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
		return fmt.Errorf("sx127x %s: %w", op, err)
	}
	return nil
}

func (d *Device) clearIRQ() {
	d.WriteRegister(REG_IRQ_FLAGS, 0xff)
}

func (d *Device) writeFIFO(data []byte) {
	w := make([]byte, len(data)+1)
	w[0] = REG_FIFO | 0x80
	copy(w[1:], data)
	d.tx(w, make([]byte, len(w)))
}

func (d *Device) readFIFO(n int) []byte {
	w := make([]byte, n+1)
	w[0] = REG_FIFO
	r := make([]byte, n+1)
	d.tx(w, r)
	return r[1:]
}

func (d *Device) tx(w, r []byte) {
	if d.err != nil {
		return
	}
	if d.csPin != nil {
		d.csPin(false)
	}
	err := d.spi.Tx(w, r)
	if d.csPin != nil {
		d.csPin(true)
	}
	if err != nil {
		d.err = err
	}
}
