package driver

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/nerrad567/gray-logic-dmx/internal/infrastructure/config"
)

// ─── Factory ────────────────────────────────────────────────────────

func TestNew(t *testing.T) {
	pub := &mockPublisher{}

	tests := []struct {
		name    string
		cfg     config.DriverConfig
		pub     Publisher
		want    string
		wantErr error
	}{
		{"null", config.DriverConfig{Type: "null"}, nil, "*driver.NullDriver", nil},
		{"dummy alias", config.DriverConfig{Type: "Dummy"}, nil, "*driver.NullDriver", nil},
		{"empty type", config.DriverConfig{}, nil, "*driver.NullDriver", nil},
		{"emulator", config.DriverConfig{Type: "emulator"}, nil, "*driver.EmulatorDriver", nil},
		{"dmx-emulator alias", config.DriverConfig{Type: "dmx-emulator"}, nil, "*driver.EmulatorDriver", nil},
		{"mqtt", config.DriverConfig{Type: "mqtt"}, pub, "*driver.MQTTDriver", nil},
		{"mqtt without publisher", config.DriverConfig{Type: "mqtt"}, nil, "", ErrUnavailable},
		{"udmx not supported", config.DriverConfig{Type: "udmx"}, nil, "", ErrUnknownDriver},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := New(tt.cfg, tt.pub)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("New() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("New() error = %v", err)
			}
			if got := typeName(d); got != tt.want {
				t.Errorf("New() = %s, want %s", got, tt.want)
			}
		})
	}
}

func typeName(d Driver) string {
	switch d.(type) {
	case *NullDriver:
		return "*driver.NullDriver"
	case *EmulatorDriver:
		return "*driver.EmulatorDriver"
	case *MQTTDriver:
		return "*driver.MQTTDriver"
	default:
		return "unknown"
	}
}

func TestNew_EmulatorAddress(t *testing.T) {
	d, err := New(config.DriverConfig{
		Type:     "emulator",
		Emulator: config.EmulatorDriverConfig{Host: "10.0.0.7", Port: 6000},
	}, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if got := d.(*EmulatorDriver).Addr(); got != "10.0.0.7:6000" {
		t.Errorf("Addr() = %q, want 10.0.0.7:6000", got)
	}
}

// ─── Frame buffer ───────────────────────────────────────────────────

func TestFrameBuffer(t *testing.T) {
	var f frameBuffer

	frame, err := f.apply(3, []byte{30, 40})
	if err != nil {
		t.Fatalf("apply() error = %v", err)
	}
	if !bytes.Equal(frame, []byte{0, 0, 30, 40}) {
		t.Errorf("frame = %v, want [0 0 30 40]", frame)
	}

	// A write below the high-water mark keeps the longer prefix.
	frame, _ = f.apply(1, []byte{10})
	if !bytes.Equal(frame, []byte{10, 0, 30, 40}) {
		t.Errorf("frame = %v, want [10 0 30 40]", frame)
	}

	frame[0] = 99
	again, _ := f.apply(2, []byte{20})
	if again[0] != 10 {
		t.Error("apply() returned a slice aliasing the buffer")
	}

	f.reset()
	frame, _ = f.apply(1, []byte{1})
	if len(frame) != 1 {
		t.Errorf("after reset len = %d, want 1", len(frame))
	}
}

func TestFrameBuffer_Range(t *testing.T) {
	tests := []struct {
		name  string
		start int
		n     int
		ok    bool
	}{
		{"first channel", 1, 1, true},
		{"full universe", 1, Universe, true},
		{"last channel", Universe, 1, true},
		{"channel zero", 0, 1, false},
		{"past universe", Universe + 1, 1, false},
		{"run past end", 510, 4, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var f frameBuffer
			_, err := f.apply(tt.start, make([]byte, tt.n))
			if tt.ok && err != nil {
				t.Errorf("apply(%d, %d values) error = %v", tt.start, tt.n, err)
			}
			if !tt.ok && !errors.Is(err, ErrInvalidChannel) {
				t.Errorf("apply(%d, %d values) error = %v, want ErrInvalidChannel", tt.start, tt.n, err)
			}
		})
	}
}

// ─── Null driver ────────────────────────────────────────────────────

func TestNullDriver(t *testing.T) {
	d := NewNullDriver()
	if err := d.Open(context.Background()); err != nil {
		t.Fatalf("Open() error = %v", err)
	}

	if n, err := d.SendSingleValue(7, 255); n != 1 || err != nil {
		t.Errorf("SendSingleValue() = %d, %v", n, err)
	}
	if n, err := d.SendMultiValue(1, make([]byte, Universe)); n != Universe || err != nil {
		t.Errorf("SendMultiValue() = %d, %v", n, err)
	}
	if _, err := d.SendSingleValue(513, 1); !errors.Is(err, ErrInvalidChannel) {
		t.Errorf("SendSingleValue(513) error = %v, want ErrInvalidChannel", err)
	}
	if d.Frames() != 2 {
		t.Errorf("Frames() = %d, want 2", d.Frames())
	}
	if err := d.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}
