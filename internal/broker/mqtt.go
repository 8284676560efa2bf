package broker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"trafficmonitor/internal/config"
	"trafficmonitor/internal/logger"
)

// ErrConnection is returned when the broker cannot be reached at startup.
var ErrConnection = errors.New("mqtt connection failed")

// ErrNotConnected is returned by Publish while the client has no connection.
var ErrNotConnected = errors.New("mqtt not connected")

// Client publishes text payloads to an MQTT broker.
type Client struct {
	client         mqtt.Client
	broker         string
	qos            byte
	connectTimeout time.Duration
	publishTimeout time.Duration
	logger         *logger.Logger

	mu        sync.RWMutex
	published map[string]uint64 // count per topic
	errors    uint64
	connected bool
}

// Stats contains client statistics.
type Stats struct {
	Connected bool              `json:"connected"`
	Published map[string]uint64 `json:"published"`
	Errors    uint64            `json:"errors"`
}

// NewClient creates a client configured from cfg. It does not connect.
func NewClient(cfg *config.Config, logger *logger.Logger) *Client {
	c := newClient(nil, cfg, logger)
	c.client = mqtt.NewClient(c.options(cfg))
	return c
}

func newClient(client mqtt.Client, cfg *config.Config, logger *logger.Logger) *Client {
	return &Client{
		client:         client,
		broker:         cfg.BrokerURL(),
		qos:            byte(cfg.QoS),
		connectTimeout: cfg.ConnectTimeout,
		publishTimeout: cfg.PublishTimeout,
		logger:         logger,
		published:      make(map[string]uint64),
	}
}

func (c *Client) options(cfg *config.Config) *mqtt.ClientOptions {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(c.broker)
	opts.SetClientID(cfg.ClientID)
	opts.SetKeepAlive(cfg.KeepAlive)
	opts.SetConnectTimeout(cfg.ConnectTimeout)
	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(30 * time.Second)

	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	opts.OnConnect = func(mqtt.Client) {
		c.setConnected(true)
		c.logger.Info("MQTT connection established (%s, client %s)", c.broker, cfg.ClientID)
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		c.setConnected(false)
		c.logger.Warning("MQTT connection lost, will auto-reconnect: %v", err)
	}
	return opts
}

// Connect establishes the broker connection, waiting at most the configured
// connect timeout or until ctx is done.
func (c *Client) Connect(ctx context.Context) error {
	c.logger.Info("Connecting to MQTT broker %s", c.broker)

	token := c.client.Connect()

	timeout := time.NewTimer(c.connectTimeout)
	defer timeout.Stop()

	select {
	case <-token.Done():
	case <-timeout.C:
		return fmt.Errorf("%w: %s: timeout after %v", ErrConnection, c.broker, c.connectTimeout)
	case <-ctx.Done():
		return fmt.Errorf("%w: %s: %v", ErrConnection, c.broker, ctx.Err())
	}

	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrConnection, c.broker, err)
	}

	c.setConnected(true)
	c.logger.Info("Connected to MQTT broker %s", c.broker)
	return nil
}

// Publish sends payload to topic and waits at most the publish timeout.
func (c *Client) Publish(topic, payload string) error {
	if !c.IsConnected() {
		c.countError()
		return ErrNotConnected
	}

	token := c.client.Publish(topic, c.qos, false, payload)
	if !token.WaitTimeout(c.publishTimeout) {
		c.countError()
		return fmt.Errorf("publish to %s timed out after %v", topic, c.publishTimeout)
	}
	if err := token.Error(); err != nil {
		c.countError()
		return fmt.Errorf("publish to %s failed: %w", topic, err)
	}

	c.mu.Lock()
	c.published[topic]++
	c.mu.Unlock()
	return nil
}

// Disconnect closes the connection with a 250ms quiesce period.
func (c *Client) Disconnect() {
	if c.client != nil && c.client.IsConnected() {
		c.client.Disconnect(250)
		c.logger.Info("MQTT disconnected")
	}
	c.setConnected(false)
}

// IsConnected reports the last known connection state.
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

// Stats returns a copy of the client statistics.
func (c *Client) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	published := make(map[string]uint64, len(c.published))
	for k, v := range c.published {
		published[k] = v
	}
	return Stats{
		Connected: c.connected,
		Published: published,
		Errors:    c.errors,
	}
}

func (c *Client) setConnected(connected bool) {
	c.mu.Lock()
	c.connected = connected
	c.mu.Unlock()
}

func (c *Client) countError() {
	c.mu.Lock()
	c.errors++
	c.mu.Unlock()
}
