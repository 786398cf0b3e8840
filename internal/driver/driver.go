package driver

import (
	"context"
	"fmt"
	"strings"

	"github.com/nerrad567/gray-logic-dmx/internal/infrastructure/config"
)

// Universe is the number of channels in one DMX universe.
const Universe = 512

// Driver is an open-able DMX output.
//
// Channels are 1-based. Send methods return the number of channel values
// accepted.
type Driver interface {
	// Open connects to the interface. Drivers that reconnect lazily may
	// return nil even when the interface is not yet reachable.
	Open(ctx context.Context) error

	// Close releases the interface. Safe to call when not opened.
	Close() error

	SendSingleValue(channel int, value byte) (int, error)
	SendMultiValue(start int, values []byte) (int, error)
}

// Logger is the logging surface drivers use.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Info(string, ...any) {}
func (noopLogger) Warn(string, ...any) {}

// Publisher sends a payload to an MQTT topic. Satisfied by *mqtt.Client.
type Publisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
}

// New builds the driver named by cfg.Type.
//
// Parameters:
//   - cfg: Driver section of config.yaml
//   - pub: MQTT publisher, required only for type "mqtt" (may be nil otherwise)
//
// Returns:
//   - Driver: Unopened driver
//   - error: ErrUnknownDriver, or ErrUnavailable for "mqtt" without a publisher
func New(cfg config.DriverConfig, pub Publisher) (Driver, error) {
	switch strings.ToLower(cfg.Type) {
	case "", "null", "dummy":
		return NewNullDriver(), nil
	case "emulator", "dmx-emulator":
		return NewEmulatorDriver(cfg.Emulator.Host, cfg.Emulator.Port, cfg.GetEmulatorTimeout()), nil
	case "mqtt":
		if pub == nil {
			return nil, fmt.Errorf("%w: mqtt driver requires an MQTT connection", ErrUnavailable)
		}
		return NewMQTTDriver(pub, cfg.MQTT.Topic, cfg.MQTT.Encoding)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, cfg.Type)
	}
}

// frameBuffer is the last frame sent and its high-water mark (1-512).
type frameBuffer struct {
	values [Universe]byte
	hi     int
}

// apply writes values from channel start and returns a copy of the
// touched prefix.
func (f *frameBuffer) apply(start int, values []byte) ([]byte, error) {
	if err := checkRange(start, len(values)); err != nil {
		return nil, err
	}
	copy(f.values[start-1:], values)
	if end := start + len(values) - 1; end > f.hi {
		f.hi = end
	}
	frame := make([]byte, f.hi)
	copy(frame, f.values[:f.hi])
	return frame, nil
}

func (f *frameBuffer) reset() {
	f.values = [Universe]byte{}
	f.hi = 0
}

func checkRange(start, n int) error {
	if start < 1 || start > Universe {
		return fmt.Errorf("%w: %d", ErrInvalidChannel, start)
	}
	if start+n-1 > Universe {
		return fmt.Errorf("%w: %d values from channel %d run past %d", ErrInvalidChannel, n, start, Universe)
	}
	return nil
}
