package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// Command is a remote control message received on the engine command topic.
//
//	{"command":"start","script":"evening.dmx"}
//	{"command":"stop"}
type Command struct {
	Command string `json:"command"`
	Script  string `json:"script,omitempty"`
}

// HandleCommand executes a Command payload. It has the signature of an
// mqtt.MessageHandler so it can be subscribed directly.
func (e *Engine) HandleCommand(topic string, payload []byte) error {
	var cmd Command
	if err := json.Unmarshal(payload, &cmd); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidCommand, err)
	}

	switch strings.ToLower(cmd.Command) {
	case "start":
		if cmd.Script == "" {
			return fmt.Errorf("%w: start requires a script", ErrInvalidCommand)
		}
		e.logger.Info("remote start requested", "script", cmd.Script, "topic", topic)
		return e.Start(context.Background(), cmd.Script, Trigger{Type: TriggerMQTT, Source: topic})
	case "stop":
		e.logger.Info("remote stop requested", "topic", topic)
		return e.Stop()
	default:
		return fmt.Errorf("%w: unknown command %q", ErrInvalidCommand, cmd.Command)
	}
}
