// Copyright 2022 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package uart

// EventKind classifies what a Receiver saw during one tick.
type EventKind uint8

const (
	EventNone  EventKind = iota
	EventBit             // a data bit was sampled
	EventByte            // a complete, valid frame was received
	EventError           // a frame was received with a bad start or stop bit
)

func (k EventKind) String() string {
	switch k {
	case EventNone:
		return "none"
	case EventBit:
		return "bit"
	case EventByte:
		return "byte"
	case EventError:
		return "error"
	}
	return "unknown"
}

// Event is the outcome of one Receiver tick.
type Event struct {
	Kind  EventKind
	Bit   uint8 // sampled data bit (EventBit)
	Index int   // data bit index, 0 is the LSB (EventBit)
	Byte  byte  // received byte (EventByte, EventError)
	Err   error // *DecodeError (EventError)
}

type rxState uint8

const (
	rxIdle rxState = iota
	rxStart
	rxData
	rxStop
	rxBreak // framing error, waiting for the line to go back high
)

// Receiver samples a serial line once per device clock tick and
// reassembles frames.
//
// The falling edge of the start bit arms the receiver. The start bit is
// checked at Timing.SampleOffset ticks after the edge and every following
// bit is sampled one bit period later. A start bit that went back high
// before its sample point is dropped as a glitch. After the stop bit is
// sampled the receiver goes back to idle and waits for the next falling
// edge. After a framing error the line must first return high, so a held
// low line (a break) does not produce spurious frames.
type Receiver struct {
	t     Timing
	state rxState
	wait  int // ticks until the next sample point
	idx   int // next data bit
	frame Frame
}

// NewReceiver returns a receiver sampling a line with the given timing.
func NewReceiver(t Timing) *Receiver {
	return &Receiver{t: t}
}

// Reset drops any partially received frame.
func (rx *Receiver) Reset() {
	rx.state = rxIdle
	rx.wait = 0
	rx.idx = 0
}

// Busy reports whether a frame is being received.
func (rx *Receiver) Busy() bool { return rx.state != rxIdle }

// Tick samples the line level for one clock tick.
func (rx *Receiver) Tick(line uint8) Event {
	line = level(line)

	switch rx.state {
	case rxIdle:
		if line != startBit {
			return Event{}
		}
		rx.state = rxStart
		rx.wait = rx.t.SampleOffset()
		rx.idx = 0
	case rxBreak:
		if line == stopBit {
			rx.state = rxIdle
		}
		return Event{}
	default:
		rx.wait--
	}

	if rx.wait > 0 {
		return Event{}
	}

	switch rx.state {
	case rxStart:
		if line != startBit {
			rx.state = rxIdle
			return Event{}
		}
		rx.frame[0] = line
		rx.state = rxData
		rx.wait = rx.t.BitPeriod()

	case rxData:
		i := rx.idx
		rx.frame[1+i] = line
		rx.idx++
		rx.wait = rx.t.BitPeriod()
		if rx.idx == DataBits {
			rx.state = rxStop
		}
		return Event{Kind: EventBit, Bit: line, Index: i}

	case rxStop:
		rx.frame[FrameBits-1] = line
		rx.state = rxIdle
		v, err := Decode(rx.frame[:])
		if err != nil {
			if line != stopBit {
				rx.state = rxBreak
			}
			return Event{Kind: EventError, Byte: v, Err: err}
		}
		return Event{Kind: EventByte, Byte: v}
	}

	return Event{}
}
