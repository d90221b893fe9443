package store

import "time"

// Frame is one journaled inbound frame.
type Frame struct {
	Seq  uint64    `json:"seq"`
	At   time.Time `json:"at"`
	Text string    `json:"text"`
}
