package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/michiel-rondelez/challenge-azure/internal/config"
	"github.com/michiel-rondelez/challenge-azure/internal/ingest"
	"github.com/michiel-rondelez/challenge-azure/internal/logging"
)

const publishTimeout = 5 * time.Second

// publisher is the part of mqtt.Client used here.
type publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// Publisher sends finished ingestion runs to an MQTT topic with QoS 1.
type Publisher struct {
	client mqtt.Client
	pub    publisher
	topic  string
	logger *slog.Logger
}

// NewPublisher configures a client for cfg's broker. Call Connect before use.
func NewPublisher(cfg *config.Config, logger *slog.Logger) *Publisher {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s:%d", cfg.MQTTBroker, cfg.MQTTPort))
	opts.SetClientID(cfg.MQTTClientID)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetMaxReconnectInterval(60 * time.Second)
	opts.SetKeepAlive(30 * time.Second)
	opts.SetPingTimeout(10 * time.Second)

	opts.SetOnConnectHandler(func(_ mqtt.Client) {
		logger.Info("mqtt connected", "broker", cfg.MQTTBroker, "port", cfg.MQTTPort)
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		logger.Warn("mqtt connection lost", "error", err)
	})

	client := mqtt.NewClient(opts)
	return &Publisher{
		client: client,
		pub:    client,
		topic:  cfg.MQTTTopic,
		logger: logger,
	}
}

// Connect waits for the broker connection or ctx.
func (p *Publisher) Connect(ctx context.Context) error {
	if p.client.IsConnected() {
		return nil
	}

	token := p.client.Connect()
	const poll = 200 * time.Millisecond
	for !token.WaitTimeout(poll) {
		select {
		case <-ctx.Done():
			p.client.Disconnect(0)
			return ctx.Err()
		default:
		}
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt connect: %w", err)
	}
	return nil
}

// Notify publishes res. Failures are logged and never returned.
func (p *Publisher) Notify(ctx context.Context, res ingest.Result) {
	payload, err := json.Marshal(res)
	if err != nil {
		logging.LogError(p.logger, "failed to encode run notification", err)
		return
	}

	token := p.pub.Publish(p.topic, 1, false, payload)
	select {
	case <-token.Done():
		if err := token.Error(); err != nil {
			logging.LogError(p.logger, "failed to publish run notification", err,
				slog.String("topic", p.topic), slog.String("run_id", res.RunID.String()))
			return
		}
	case <-time.After(publishTimeout):
		p.logger.Warn("run notification publish timed out", "topic", p.topic, "run_id", res.RunID.String())
		return
	case <-ctx.Done():
		return
	}
	p.logger.Debug("published run notification", "topic", p.topic, "run_id", res.RunID.String(), "status", res.Status)
}

// Close disconnects from the broker.
func (p *Publisher) Close() {
	if p.client != nil && p.client.IsConnected() {
		p.client.Disconnect(250)
	}
}

// Nop discards notifications.
type Nop struct{}

// Notify implements ingest.Notifier.
func (Nop) Notify(context.Context, ingest.Result) {}

// FromConfig returns an MQTT publisher when a broker is configured and
// reachable, otherwise Nop. The returned func releases the connection.
func FromConfig(ctx context.Context, cfg *config.Config, logger *slog.Logger) (ingest.Notifier, func()) {
	if cfg.MQTTBroker == "" {
		return Nop{}, func() {}
	}

	p := NewPublisher(cfg, logger)
	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := p.Connect(connectCtx); err != nil {
		logging.LogError(logger, "mqtt unavailable, run notifications disabled", err,
			slog.String("broker", cfg.MQTTBroker))
		return Nop{}, func() {}
	}
	return p, p.Close
}
