package driver

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/nerrad567/gray-logic-dmx/internal/infrastructure/mqtt"
)

// Frame payload encodings.
const (
	EncodingJSON = "json"
	EncodingCBOR = "cbor"
)

// frameQoS is fire-and-forget: a lost frame is superseded by the next one.
const frameQoS = 0

// FrameMessage is one frame as published by MQTTDriver.
//
// In JSON, values is an array of numbers. In CBOR it is a byte string,
// which keeps a full universe near 520 bytes on the wire.
type FrameMessage struct {
	Seq       uint64 `json:"seq" cbor:"seq"`
	Timestamp int64  `json:"ts" cbor:"ts"` // unix milliseconds
	Values    []byte `json:"-" cbor:"values"`
}

type jsonFrame struct {
	Seq       uint64 `json:"seq"`
	Timestamp int64  `json:"ts"`
	Values    []int  `json:"values"`
}

// MQTTDriver publishes frames to a remote DMX bridge.
type MQTTDriver struct {
	pub      Publisher
	topic    string
	encoding string
	em       cbor.EncMode

	mu     sync.Mutex
	buf    frameBuffer
	seq    uint64
	closed bool
}

// NewMQTTDriver returns a driver publishing on topic (default
// mqtt.Topics{}.Frame()) with the given encoding ("json" or "cbor").
func NewMQTTDriver(pub Publisher, topic, encoding string) (*MQTTDriver, error) {
	if topic == "" {
		topic = mqtt.Topics{}.Frame()
	}
	encoding = strings.ToLower(encoding)
	if encoding == "" {
		encoding = EncodingJSON
	}
	if encoding != EncodingJSON && encoding != EncodingCBOR {
		return nil, fmt.Errorf("driver: unsupported frame encoding %q", encoding)
	}

	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		return nil, fmt.Errorf("driver: cbor encoder: %w", err)
	}
	return &MQTTDriver{pub: pub, topic: topic, encoding: encoding, em: em}, nil
}

// Topic returns the publish topic.
func (d *MQTTDriver) Topic() string {
	return d.topic
}

func (d *MQTTDriver) Open(context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = false
	d.buf.reset()
	return nil
}

func (d *MQTTDriver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return nil
}

func (d *MQTTDriver) SendSingleValue(channel int, value byte) (int, error) {
	if err := d.send(channel, []byte{value}); err != nil {
		return 0, err
	}
	return 1, nil
}

func (d *MQTTDriver) SendMultiValue(start int, values []byte) (int, error) {
	if err := d.send(start, values); err != nil {
		return 0, err
	}
	return len(values), nil
}

func (d *MQTTDriver) send(start int, values []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return ErrClosed
	}
	frame, err := d.buf.apply(start, values)
	if err != nil {
		return err
	}

	d.seq++
	payload, err := d.encode(FrameMessage{
		Seq:       d.seq,
		Timestamp: time.Now().UnixMilli(),
		Values:    frame,
	})
	if err != nil {
		return err
	}

	if err := d.pub.Publish(d.topic, payload, frameQoS, false); err != nil {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return nil
}

func (d *MQTTDriver) encode(msg FrameMessage) ([]byte, error) {
	if d.encoding == EncodingCBOR {
		data, err := d.em.Marshal(msg)
		if err != nil {
			return nil, fmt.Errorf("driver: encoding frame: %w", err)
		}
		return data, nil
	}

	values := make([]int, len(msg.Values))
	for i, v := range msg.Values {
		values[i] = int(v)
	}
	data, err := json.Marshal(jsonFrame{Seq: msg.Seq, Timestamp: msg.Timestamp, Values: values})
	if err != nil {
		return nil, fmt.Errorf("driver: encoding frame: %w", err)
	}
	return data, nil
}

// DecodeFrame parses a payload produced by MQTTDriver in either encoding.
// JSON payloads start with '{'; anything else is treated as CBOR.
func DecodeFrame(payload []byte) (FrameMessage, error) {
	if len(payload) > 0 && payload[0] == '{' {
		var jf jsonFrame
		if err := json.Unmarshal(payload, &jf); err != nil {
			return FrameMessage{}, fmt.Errorf("driver: decoding json frame: %w", err)
		}
		msg := FrameMessage{Seq: jf.Seq, Timestamp: jf.Timestamp, Values: make([]byte, len(jf.Values))}
		for i, v := range jf.Values {
			if v < 0 || v > 255 {
				return FrameMessage{}, fmt.Errorf("driver: frame value %d out of range", v)
			}
			msg.Values[i] = byte(v)
		}
		return msg, nil
	}

	var msg FrameMessage
	if err := cbor.Unmarshal(payload, &msg); err != nil {
		return FrameMessage{}, fmt.Errorf("driver: decoding cbor frame: %w", err)
	}
	return msg, nil
}
