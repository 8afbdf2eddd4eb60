package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"

	devsync "plugwatch/internal/devices/application"
	devices "plugwatch/internal/devices/domain"
	"plugwatch/internal/observability/metrics"
)

// ErrBadTopic is returned for topics that do not carry a device id.
var ErrBadTopic = errors.New("mqtt: topic missing device id")

// statePayload is the wire shape smart plugs publish on equipment/{id}/state.
type statePayload struct {
	DeviceID    string    `json:"device_id,omitempty"`
	Status      string    `json:"status,omitempty"`
	RelayOn     bool      `json:"relay_on"`
	PowerW      float64   `json:"power_w"`
	Voltage     *float64  `json:"voltage,omitempty"`
	Temperature *float64  `json:"temperature,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// ParseMessage converts one MQTT message into a typed device event. The
// device id comes from the topic's second segment; an explicit device_id in
// the payload wins when present.
func ParseMessage(topic string, payload []byte) (devices.Event, error) {
	var body statePayload
	if err := json.Unmarshal(payload, &body); err != nil {
		return nil, fmt.Errorf("mqtt: decode state payload: %w", err)
	}
	deviceID := body.DeviceID
	if deviceID == "" {
		segments := strings.Split(topic, "/")
		if len(segments) < 2 || segments[1] == "" || segments[1] == "+" {
			return nil, ErrBadTopic
		}
		deviceID = segments[1]
	}
	at := body.Timestamp
	if at.IsZero() {
		at = time.Now().UTC()
	}
	if strings.EqualFold(body.Status, "offline") {
		return devices.WentOffline{DeviceID: deviceID, Reason: "reported offline", Timestamp: at}, nil
	}
	return devices.PowerSample{
		DeviceID:    deviceID,
		RelayOn:     body.RelayOn,
		PowerW:      body.PowerW,
		Voltage:     body.Voltage,
		Temperature: body.Temperature,
		Timestamp:   at,
	}, nil
}

// Consumer subscribes to the plug state topic and feeds the synchronizer.
type Consumer struct {
	client paho.Client
	topic  string
	sync   *devsync.Synchronizer
	logger zerolog.Logger
}

// NewConsumer constructs a consumer around an existing client.
func NewConsumer(client paho.Client, topic string, sync *devsync.Synchronizer, logger zerolog.Logger) (*Consumer, error) {
	if client == nil {
		return nil, errors.New("mqtt: nil client")
	}
	if topic == "" {
		return nil, errors.New("mqtt: empty topic")
	}
	if sync == nil {
		return nil, errors.New("mqtt: nil synchronizer")
	}
	return &Consumer{client: client, topic: topic, sync: sync, logger: logger}, nil
}

// Connect dials the broker and subscribes. The paho client reconnects and
// resubscribes on its own once connected.
func (c *Consumer) Connect(ctx context.Context) error {
	if token := c.client.Connect(); token.Wait() && token.Error() != nil {
		return fmt.Errorf("mqtt: connect: %w", token.Error())
	}
	handler := func(_ paho.Client, msg paho.Message) {
		c.handle(ctx, msg.Topic(), msg.Payload())
	}
	if token := c.client.Subscribe(c.topic, 1, handler); token.Wait() && token.Error() != nil {
		return fmt.Errorf("mqtt: subscribe %s: %w", c.topic, token.Error())
	}
	c.logger.Info().Str("topic", c.topic).Msg("mqtt consumer subscribed")
	return nil
}

// Close disconnects from the broker.
func (c *Consumer) Close() {
	c.client.Disconnect(250)
}

func (c *Consumer) handle(ctx context.Context, topic string, payload []byte) {
	start := time.Now()
	event, err := ParseMessage(topic, payload)
	if err != nil {
		metrics.ObserveIngest("decode_error", time.Since(start))
		c.logger.Warn().Err(err).Str("topic", topic).Msg("dropping undecodable state message")
		return
	}
	if err := c.sync.Apply(ctx, event); err != nil {
		metrics.ObserveIngest("apply_error", time.Since(start))
		c.logger.Error().Err(err).Str("device_id", event.Device()).Msg("apply state event failed")
		return
	}
	metrics.ObserveIngest("success", time.Since(start))
}
