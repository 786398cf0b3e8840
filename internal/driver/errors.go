package driver

import "errors"

var (
	// ErrUnavailable is returned when the output interface cannot be reached.
	ErrUnavailable = errors.New("driver: interface unavailable")

	// ErrInvalidChannel is returned for channels outside 1-512 or a run of
	// values that would pass channel 512.
	ErrInvalidChannel = errors.New("driver: invalid channel")

	// ErrUnknownDriver is returned by New for an unrecognised driver type.
	ErrUnknownDriver = errors.New("driver: unknown driver type")

	// ErrClosed is returned by sends after Close.
	ErrClosed = errors.New("driver: closed")
)
