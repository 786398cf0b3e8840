package driver

import (
	"context"
	"sync/atomic"
)

// NullDriver validates and discards every frame.
type NullDriver struct {
	frames atomic.Uint64
}

// NewNullDriver returns a driver with no output.
func NewNullDriver() *NullDriver {
	return &NullDriver{}
}

func (d *NullDriver) Open(context.Context) error { return nil }

func (d *NullDriver) Close() error { return nil }

func (d *NullDriver) SendSingleValue(channel int, _ byte) (int, error) {
	if err := checkRange(channel, 1); err != nil {
		return 0, err
	}
	d.frames.Add(1)
	return 1, nil
}

func (d *NullDriver) SendMultiValue(start int, values []byte) (int, error) {
	if err := checkRange(start, len(values)); err != nil {
		return 0, err
	}
	d.frames.Add(1)
	return len(values), nil
}

// Frames returns how many sends were accepted.
func (d *NullDriver) Frames() uint64 {
	return d.frames.Load()
}
