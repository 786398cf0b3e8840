// Package driver delivers DMX frames to an output interface.
//
// Every interface implements Driver. The script CPU only ever calls
// SendMultiValue starting at channel 1 with the touched prefix of the
// universe; SendSingleValue exists for manual control and diagnostics.
//
// Implementations:
//   - NullDriver: accepts and discards frames (types "null" and "dummy")
//   - EmulatorDriver: streams frames over TCP to a DMX emulator app,
//     each prefixed with a 4-byte big-endian length (types "emulator"
//     and "dmx-emulator")
//   - MQTTDriver: publishes frames to a remote bridge over MQTT as JSON
//     or CBOR (type "mqtt")
//
// Drivers that transmit whole frames keep their own copy of the last
// frame and its high-water mark, so a single-value update still sends
// every channel written so far.
package driver
