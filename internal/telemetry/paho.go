package telemetry

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"
)

const (
	connectTimeout = 5 * time.Second
	publishTimeout = 2 * time.Second
)

// PahoPublisher publishes over a paho MQTT client with automatic reconnect.
type PahoPublisher struct {
	client    mqtt.Client
	broker    string
	connected atomic.Bool
	logger    zerolog.Logger
}

// Dial connects to broker ("host:port" or a full URL) and returns once the
// first connection succeeded or failed.
func Dial(ctx context.Context, broker, clientID string, logger zerolog.Logger) (*PahoPublisher, error) {
	p := &PahoPublisher{
		broker: broker,
		logger: logger.With().Str("component", "telemetry").Logger(),
	}

	if !strings.Contains(broker, "://") {
		broker = "tcp://" + broker
	}
	opts := mqtt.NewClientOptions()
	opts.AddBroker(broker)
	opts.SetClientID(clientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)

	opts.OnConnect = func(mqtt.Client) {
		p.connected.Store(true)
		p.logger.Info().Str("broker", p.broker).Str("client_id", clientID).Msg("telemetry: mqtt connection established")
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		p.connected.Store(false)
		p.logger.Warn().Err(err).Str("broker", p.broker).Msg("telemetry: mqtt connection lost, will auto-reconnect")
	}

	p.client = mqtt.NewClient(opts)
	p.logger.Info().Str("broker", p.broker).Msg("telemetry: connecting to mqtt broker")

	token := p.client.Connect()
	select {
	case <-token.Done():
	case <-time.After(connectTimeout):
		return nil, fmt.Errorf("mqtt connection timeout")
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connection failed: %w", err)
	}
	p.connected.Store(true)
	return p, nil
}

// Publish sends payload and waits for the broker acknowledgement.
func (p *PahoPublisher) Publish(topic string, qos byte, retained bool, payload []byte) error {
	if !p.connected.Load() {
		return ErrNotConnected
	}
	token := p.client.Publish(topic, qos, retained, payload)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("publish timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish failed: %w", err)
	}
	return nil
}

// IsConnected reports the broker connection state.
func (p *PahoPublisher) IsConnected() bool {
	return p.connected.Load()
}

// Close disconnects with a 250 ms grace period.
func (p *PahoPublisher) Close() {
	if p.client != nil && p.client.IsConnected() {
		p.client.Disconnect(250)
		p.logger.Info().Msg("telemetry: mqtt disconnected")
	}
	p.connected.Store(false)
}
