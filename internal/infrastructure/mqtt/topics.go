package mqtt

import "fmt"

// Topic prefixes.
//
// Engine-owned topics live under graylogic/dmx. Frames for an external
// DMX bridge use the shared flat bridge scheme
// graylogic/{category}/{protocol}/{address} so any Gray Logic bridge can
// pick them up.
const (
	TopicPrefix       = "graylogic"
	TopicPrefixDMX    = "graylogic/dmx"
	TopicPrefixSystem = "graylogic/dmx/system"

	// ProtocolDMX is the protocol segment used in bridge topics.
	ProtocolDMX = "dmx"
)

// Topics builds MQTT topic strings.
//
//	topic := mqtt.Topics{}.EngineStatus()
//	// "graylogic/dmx/engine/status"
type Topics struct{}

// SystemStatus is the retained online/offline topic, also used for the LWT.
func (Topics) SystemStatus() string {
	return TopicPrefixSystem + "/status"
}

// EngineStatus carries the engine's running state (retained).
func (Topics) EngineStatus() string {
	return TopicPrefixDMX + "/engine/status"
}

// EngineCommand receives start/stop requests for the engine.
func (Topics) EngineCommand() string {
	return TopicPrefixDMX + "/engine/command"
}

// EngineRun carries one record per finished script run.
func (Topics) EngineRun() string {
	return TopicPrefixDMX + "/engine/run"
}

// BridgeCommand returns the command topic for a bridge address.
//
// Example: graylogic/command/dmx/frame
func (Topics) BridgeCommand(protocol, address string) string {
	return fmt.Sprintf("%s/command/%s/%s", TopicPrefix, protocol, address)
}

// Frame is the default topic the MQTT driver publishes DMX frames on.
func (t Topics) Frame() string {
	return t.BridgeCommand(ProtocolDMX, "frame")
}

// AllDMX matches every engine-owned topic.
func (Topics) AllDMX() string {
	return TopicPrefixDMX + "/#"
}
