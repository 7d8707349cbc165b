package link

import "fmt"

// State is the position of the link state machine.
type State uint8

const (
	Idle State = iota
	Detecting
	Decoding
	Transmitting
	Adapting
	Receiving
	Forwarding
)

var stateNames = [...]string{
	Idle:         "idle",
	Detecting:    "detecting",
	Decoding:     "decoding",
	Transmitting: "transmitting",
	Adapting:     "adapting",
	Receiving:    "receiving",
	Forwarding:   "forwarding",
}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("state(%d)", uint8(s))
}
