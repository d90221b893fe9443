package store

import "errors"

// ErrNotFound is returned when a requested entity does not exist in the store.
var ErrNotFound = errors.New("not found")

// FrameLog is an append-only record of inbound frames.
type FrameLog interface {
	Append(text string) (uint64, error)
	Get(seq uint64) (*Frame, error)

	// Each walks frames in arrival order. Returning an error from fn stops
	// the walk and is passed through.
	Each(fn func(Frame) error) error
	Len() (int, error)

	// Trim deletes the oldest frames so at most keep remain. It returns the
	// number deleted.
	Trim(keep int) (int, error)

	Close() error
}
