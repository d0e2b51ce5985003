package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"portal-consent/internal/consent"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

// Config for the consent event publisher. Disabled by default; downstream
// services (reporting, reminder scheduling) subscribe to the topic.
type Config struct {
	Enabled  bool
	Broker   string // e.g. "tcp://localhost:1883"
	ClientID string
	Username string
	Password string
	Topic    string // e.g. "portal/consent-events"
}

// Publisher emits consent lifecycle events to an MQTT topic. Publishing
// is fire-and-forget: a broker outage is logged, never surfaced to the
// lifecycle caller.
type Publisher struct {
	client pahomqtt.Client
	topic  string
	logger *zap.Logger
}

var _ consent.EventSink = (*Publisher)(nil)

// NewPublisher connects to the broker and returns a publisher.
func NewPublisher(cfg Config, logger *zap.Logger) (*Publisher, error) {
	opts := pahomqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectTimeout(10 * time.Second)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	client := pahomqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(10*time.Second) || token.Error() != nil {
		return nil, fmt.Errorf("failed to connect to mqtt broker %s: %w", cfg.Broker, token.Error())
	}

	return &Publisher{
		client: client,
		topic:  cfg.Topic,
		logger: logger,
	}, nil
}

// ConsentChanged publishes the event at QoS 1.
func (p *Publisher) ConsentChanged(ctx context.Context, ev consent.ChangeEvent) {
	payload, err := json.Marshal(ev)
	if err != nil {
		p.logger.Error("failed to marshal consent event", zap.Error(err))
		return
	}

	token := p.client.Publish(p.topic, 1, false, payload)
	go func() {
		if token.Wait() && token.Error() != nil {
			p.logger.Warn("failed to publish consent event",
				zap.String("topic", p.topic),
				zap.String("action", ev.Action),
				zap.Error(token.Error()))
		}
	}()
}

// Close disconnects from the broker.
func (p *Publisher) Close() {
	p.client.Disconnect(250)
}
