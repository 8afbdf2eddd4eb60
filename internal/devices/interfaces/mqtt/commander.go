package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"
)

// Commander publishes relay commands to equipment/{id}/command. Smart plugs
// acknowledge by reporting the new relay state on their state topic.
type Commander struct {
	client paho.Client
	logger zerolog.Logger
}

// NewCommander constructs a commander around an existing client.
func NewCommander(client paho.Client, logger zerolog.Logger) (*Commander, error) {
	if client == nil {
		return nil, errors.New("mqtt: nil client")
	}
	return &Commander{client: client, logger: logger}, nil
}

// SwitchOff asks one plug to open its relay.
func (c *Commander) SwitchOff(_ context.Context, deviceID string) error {
	if deviceID == "" {
		return errors.New("mqtt: empty device id")
	}
	payload, err := json.Marshal(map[string]any{"relay_on": false})
	if err != nil {
		return err
	}
	topic := fmt.Sprintf("equipment/%s/command", deviceID)
	if token := c.client.Publish(topic, 1, false, payload); token.Wait() && token.Error() != nil {
		return fmt.Errorf("mqtt: publish %s: %w", topic, token.Error())
	}
	c.logger.Info().Str("device_id", deviceID).Msg("relay switch-off published")
	return nil
}
