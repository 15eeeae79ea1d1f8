// Package mqtt publishes the panel state to an MQTT broker.
package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/tempod/internal/config"
	"github.com/dokzlo13/tempod/internal/tempo"
)

// Client is the subset of paho.Client the publisher needs
type Client interface {
	Connect() paho.Token
	Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token
	Disconnect(quiesce uint)
}

// Publisher sends retained state messages
type Publisher struct {
	client  Client
	topic   string
	timeout time.Duration
}

func createOptions(cfg config.MQTTConfig) (*paho.ClientOptions, error) {
	broker := cfg.Broker
	if !strings.Contains(broker, "://") {
		broker = "tcp://" + broker
	}
	uri, err := url.Parse(broker)
	if err != nil {
		return nil, fmt.Errorf("invalid mqtt broker %q: %w", cfg.Broker, err)
	}

	opts := paho.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("%s://%s", uri.Scheme, uri.Host))
	opts.SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	} else if uri.User != nil {
		opts.SetUsername(uri.User.Username())
		password, _ := uri.User.Password()
		opts.SetPassword(password)
	}
	opts.SetKeepAlive(30 * time.Second)
	opts.SetPingTimeout(5 * time.Second)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectionLostHandler(func(_ paho.Client, err error) {
		log.Warn().Err(err).Msg("MQTT connection lost")
	})
	opts.SetOnConnectHandler(func(_ paho.Client) {
		log.Info().Str("broker", uri.Host).Msg("MQTT connected")
	})
	return opts, nil
}

// New builds a publisher for the configured broker. The connection is
// established in the background; publishing before it is up waits for it.
func New(cfg config.MQTTConfig) (*Publisher, error) {
	opts, err := createOptions(cfg)
	if err != nil {
		return nil, err
	}
	client := paho.NewClient(opts)
	client.Connect()
	return NewWithClient(client, cfg.Topic), nil
}

// NewWithClient wraps an existing client
func NewWithClient(client Client, topic string) *Publisher {
	return &Publisher{
		client:  client,
		topic:   strings.TrimSuffix(topic, "/"),
		timeout: 5 * time.Second,
	}
}

// StateTopic returns the topic state messages are published to
func (p *Publisher) StateTopic() string {
	return p.topic + "/state"
}

// Publish sends r as a retained JSON message
func (p *Publisher) Publish(ctx context.Context, r tempo.Reading) error {
	payload, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}

	token := p.client.Publish(p.StateTopic(), 1, true, payload)

	timeout := p.timeout
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
	}
	if !token.WaitTimeout(timeout) {
		return fmt.Errorf("publish to %s timed out after %s", p.StateTopic(), timeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish to %s failed: %w", p.StateTopic(), err)
	}
	return nil
}

// Close disconnects from the broker
func (p *Publisher) Close() {
	p.client.Disconnect(250)
}
