package driver

import (
	"context"
	"encoding/binary"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"
)

const (
	defaultEmulatorHost    = "localhost"
	defaultEmulatorPort    = 5555
	defaultEmulatorTimeout = 5 * time.Second

	// frameHeaderSize is the 4-byte big-endian frame length prefix.
	frameHeaderSize = 4
)

// EmulatorDriver streams frames to a DMX emulator over TCP.
//
// Every send transmits the whole touched prefix of the universe as
// [len uint32 BE][len bytes]. A broken connection is dropped and redialled
// on the next send, so the CPU's retry loop doubles as reconnect logic.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
type EmulatorDriver struct {
	addr    string
	timeout time.Duration
	logger  Logger

	mu     sync.Mutex
	conn   net.Conn
	buf    frameBuffer
	closed bool
	dialer net.Dialer
}

// NewEmulatorDriver returns an unopened emulator client. Zero values fall
// back to localhost:5555 with a five second timeout.
func NewEmulatorDriver(host string, port int, timeout time.Duration) *EmulatorDriver {
	if host == "" {
		host = defaultEmulatorHost
	}
	if port == 0 {
		port = defaultEmulatorPort
	}
	if timeout <= 0 {
		timeout = defaultEmulatorTimeout
	}
	return &EmulatorDriver{
		addr:    net.JoinHostPort(host, strconv.Itoa(port)),
		timeout: timeout,
		logger:  noopLogger{},
		dialer:  net.Dialer{Timeout: timeout},
	}
}

// SetLogger sets the logger for connect and disconnect events.
func (d *EmulatorDriver) SetLogger(logger Logger) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if logger == nil {
		logger = noopLogger{}
	}
	d.logger = logger
}

// Addr returns the emulator address.
func (d *EmulatorDriver) Addr() string {
	return d.addr
}

// Open dials the emulator and clears the frame buffer.
func (d *EmulatorDriver) Open(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.closed = false
	d.buf.reset()
	if d.conn != nil {
		return nil
	}
	return d.dial(ctx)
}

// dial connects. Caller holds d.mu.
func (d *EmulatorDriver) dial(ctx context.Context) error {
	conn, err := d.dialer.DialContext(ctx, "tcp", d.addr)
	if err != nil {
		return fmt.Errorf("%w: dialing emulator %s: %w", ErrUnavailable, d.addr, err)
	}
	d.conn = conn
	d.logger.Info("DMX emulator connected", "addr", d.addr)
	return nil
}

// Close disconnects. Safe to call repeatedly or before Open.
func (d *EmulatorDriver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.closed = true
	if d.conn == nil {
		return nil
	}
	err := d.conn.Close()
	d.conn = nil
	if err != nil {
		return fmt.Errorf("closing emulator connection: %w", err)
	}
	return nil
}

func (d *EmulatorDriver) SendSingleValue(channel int, value byte) (int, error) {
	if err := d.send(channel, []byte{value}); err != nil {
		return 0, err
	}
	return 1, nil
}

func (d *EmulatorDriver) SendMultiValue(start int, values []byte) (int, error) {
	if err := d.send(start, values); err != nil {
		return 0, err
	}
	return len(values), nil
}

func (d *EmulatorDriver) send(start int, values []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return ErrClosed
	}
	frame, err := d.buf.apply(start, values)
	if err != nil {
		return err
	}

	if d.conn == nil {
		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		err := d.dial(ctx)
		cancel()
		if err != nil {
			return err
		}
	}

	if err := d.writeFrame(frame); err != nil {
		d.conn.Close() //nolint:errcheck // connection is already broken
		d.conn = nil
		d.logger.Warn("DMX emulator connection dropped", "addr", d.addr, "error", err)
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return nil
}

// writeFrame writes one length-prefixed frame. Caller holds d.mu.
func (d *EmulatorDriver) writeFrame(frame []byte) error {
	msg := make([]byte, frameHeaderSize+len(frame))
	binary.BigEndian.PutUint32(msg, uint32(len(frame))) //nolint:gosec // at most 512
	copy(msg[frameHeaderSize:], frame)

	if err := d.conn.SetWriteDeadline(time.Now().Add(d.timeout)); err != nil {
		return err
	}
	_, err := d.conn.Write(msg)
	return err
}
