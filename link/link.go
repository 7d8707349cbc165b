// Package link drives a half-duplex LoRa radio on behalf of a host byte
// stream.
//
// A Machine is polled through Tick. On every tick it looks at the host stream,
// at the notifications latched from the radio and at the timeout of the
// operation in flight, then decides whether to scan the channel for activity,
// receive a packet and forward it to the host, or take a frame from the host
// and transmit it. Frames addressed to the mode change apid switch the radio
// between the Safe and Fast parameter sets once their transmission is done.
//
// The radio is only ever running one of scan, receive or transmit at a time.
package link

// Params holds everything Radio.Begin needs to (re)configure the modem.
type Params struct {
	Frequency       uint32 // Hz
	Bandwidth       int32  // Hz
	SpreadingFactor uint8
	CodingRate      uint8 // denominator of 4/CR, 5 to 8
	SyncWord        uint8
	PreambleLength  uint16
	TxPower         int8 // dBm
}

// Notifier receives the asynchronous radio events. Implementations must be
// safe to call from an interrupt handler or another goroutine.
type Notifier interface {
	RaiseOperationDone()
	RaiseActivityDetected()
}

// Radio is the transceiver as seen by the link layer.
type Radio interface {
	Begin(p Params) error
	StartChannelScan() error
	StartReceive() error
	StartTransmit(data []byte) error
	FinishTransmit() error
	Standby() error
	ReadData(n int) ([]byte, error)
	PacketLength() int
	SetNotifier(n Notifier)
}

// IRQPoller is implemented by radios whose interrupt causes must be read over
// the bus. Their edge handler only records the edge; the machine calls
// PollIRQ at the start of every tick, so the bus is used from the tick loop
// alone. PollIRQ reports to the Notifier.
type IRQPoller interface {
	PollIRQ() error
}

// HostStream is the buffered byte stream on the host side, usually a serial
// port.
type HostStream interface {
	Available() int
	ReadByte() (byte, error)
	Write(p []byte) (int, error)
}

// Codec transforms packets on their way to and from the air. The fec
// package provides one.
type Codec interface {
	Encode(data []byte) ([]byte, error)
	Decode(pkt []byte) ([]byte, error)
	// Capacity is the largest input Encode accepts.
	Capacity() int
}

// Mirror observes traffic crossing the bridge. Calls are made from the tick
// loop and must not block.
type Mirror interface {
	Forwarded(data []byte)
	Transmitted(data []byte)
	ModeChanged(m ModeDescriptor)
}
