// Package mqtt connects the DMX engine to the Gray Logic MQTT bus.
//
// The engine uses the bus for three things:
//   - announcing itself (retained online/offline status with an LWT)
//   - publishing engine status and run records for dashboards
//   - shipping DMX frames to a remote bridge when driver.type is "mqtt"
//
// Engine start/stop commands are received on Topics{}.EngineCommand().
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.Publish(mqtt.Topics{}.Frame(), frame, 0, false)
//
// Broker-backed tests live behind the "integration" build tag and expect
// Mosquitto on 127.0.0.1:1883.
package mqtt
