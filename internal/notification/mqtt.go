package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/smartsafety/safetyvision/internal/conf"
	"github.com/smartsafety/safetyvision/internal/errors"
	"github.com/smartsafety/safetyvision/internal/logger"
)

const (
	mqttConnectTimeout = 30 * time.Second
	mqttQoS            = 1
	mqttDisconnectWait = 250 // milliseconds
)

// MQTTProvider publishes notifications as JSON to an MQTT topic.
type MQTTProvider struct {
	client mqtt.Client
	topic  string
	log    logger.Logger
}

// NewMQTTProvider connects to the configured broker.
func NewMQTTProvider(ctx context.Context, s *conf.MQTTSettings, log logger.Logger) (*MQTTProvider, error) {
	p := &MQTTProvider{topic: s.Topic, log: log.Module("mqtt")}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(s.Broker)
	opts.SetClientID(s.ClientID)
	opts.SetUsername(s.Username)
	opts.SetPassword(s.Password)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(false)
	opts.SetOnConnectHandler(func(mqtt.Client) {
		p.log.Info("connected to MQTT broker", logger.String("broker", s.Broker))
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		p.log.Warn("connection to MQTT broker lost", logger.String("broker", s.Broker), logger.Error(err))
	})

	client := mqtt.NewClient(opts)
	if err := waitToken(ctx, client.Connect(), mqttConnectTimeout); err != nil {
		return nil, errors.New(fmt.Errorf("failed to connect to MQTT broker %s: %w", s.Broker, err)).
			Component("notification").
			Category(errors.CategoryNetwork).
			Context("provider", "mqtt").
			Build()
	}
	p.client = client
	return p, nil
}

// newMQTTProviderWithClient wraps an existing client.
func newMQTTProviderWithClient(client mqtt.Client, topic string, log logger.Logger) *MQTTProvider {
	return &MQTTProvider{client: client, topic: topic, log: log.Module("mqtt")}
}

func (p *MQTTProvider) Name() string { return "mqtt" }

// Send publishes n to the topic and waits for the broker acknowledgement.
func (p *MQTTProvider) Send(ctx context.Context, n *Notification) error {
	if !p.client.IsConnected() {
		return errors.Newf("not connected to MQTT broker").
			Component("notification").
			Category(errors.CategoryNetwork).
			Context("provider", p.Name()).
			Build()
	}
	payload, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("failed to encode notification: %w", err)
	}
	if err := waitToken(ctx, p.client.Publish(p.topic, mqttQoS, false, payload), 0); err != nil {
		return errors.New(fmt.Errorf("failed to publish to %s: %w", p.topic, err)).
			Component("notification").
			Category(errors.CategoryNetwork).
			Context("provider", p.Name()).
			Build()
	}
	return nil
}

// Close disconnects from the broker.
func (p *MQTTProvider) Close() error {
	if p.client != nil && p.client.IsConnected() {
		p.client.Disconnect(mqttDisconnectWait)
	}
	return nil
}

// waitToken waits for token to complete, for ctx to end or for timeout to
// pass. A zero timeout waits on ctx alone.
func waitToken(ctx context.Context, token mqtt.Token, timeout time.Duration) error {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}
