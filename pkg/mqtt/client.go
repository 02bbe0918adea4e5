package mqtt

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/url"
	"sync/atomic"
	"time"

	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"

	"github.com/autopeer-io/boardfarm/pkg/log"
)

type pahoClient struct {
	cfg       *ClientConfig
	cm        *autopaho.ConnectionManager
	connected atomic.Bool
	logger    log.Logger
}

// NewClient validates cfg and returns an unstarted Client.
func NewClient(cfg *ClientConfig) (Client, error) {
	if cfg == nil {
		return nil, fmt.Errorf("mqtt config is required")
	}

	setDefaultConfig(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid mqtt config: %w", err)
	}

	return &pahoClient{cfg: cfg, logger: log.WithName("mqtt")}, nil
}

func (c *pahoClient) Start(ctx context.Context) error {
	brokerURL, _ := url.Parse(c.cfg.BrokerURL) // validated in NewClient

	pahoCfg := autopaho.ClientConfig{
		ServerUrls:                    []*url.URL{brokerURL},
		KeepAlive:                     c.cfg.KeepAlive,
		CleanStartOnInitialConnection: c.cfg.CleanStart,
		SessionExpiryInterval:         c.cfg.SessionExpiry,
		ReconnectBackoff:              autopaho.NewConstantBackoff(3 * time.Second),
		ConnectTimeout:                c.cfg.ConnectTimeout,
		ConnectUsername:               c.cfg.Username,
		ConnectPassword:               []byte(c.cfg.Password),
		TlsCfg: &tls.Config{
			InsecureSkipVerify: c.cfg.InsecureSkipVerify,
		},
		WillMessage: c.willMessage(),
		ClientConfig: paho.ClientConfig{
			ClientID:           c.cfg.ClientID,
			OnClientError:      c.onClientError,
			OnServerDisconnect: c.onServerDisconnect,
		},
		OnConnectionUp: c.onConnectionUp,
		OnConnectError: c.onConnectError,
	}

	c.logger.Info("Starting MQTT client", "broker", c.cfg.BrokerURL, "clientID", c.cfg.ClientID)

	cm, err := autopaho.NewConnection(ctx, pahoCfg)
	if err != nil {
		return err
	}
	c.cm = cm
	return nil
}

func (c *pahoClient) Disconnect(ctx context.Context) {
	if c.cm == nil {
		return
	}
	if c.cfg.StatusTopic != "" && c.connected.Load() {
		if err := c.Publish(ctx, c.cfg.StatusTopic, 1, true, []byte(StatusOffline)); err != nil {
			c.logger.Warn("Publishing offline status failed", "error", err)
		}
	}
	_ = c.cm.Disconnect(ctx)
	c.connected.Store(false)
	c.logger.Info("MQTT client disconnected")
}

func (c *pahoClient) Publish(ctx context.Context, topic string, qos int, retain bool, payload []byte) error {
	if c.cm == nil {
		return fmt.Errorf("client not started")
	}
	_, err := c.cm.Publish(ctx, &paho.Publish{
		Topic:   topic,
		QoS:     byte(qos),
		Retain:  retain,
		Payload: payload,
	})
	return err
}

func (c *pahoClient) AwaitConnection(ctx context.Context) error {
	if c.cm == nil {
		return fmt.Errorf("client not started")
	}
	return c.cm.AwaitConnection(ctx)
}

func (c *pahoClient) IsConnected() bool {
	return c.connected.Load()
}

func (c *pahoClient) onConnectionUp(cm *autopaho.ConnectionManager, _ *paho.Connack) {
	c.connected.Store(true)
	c.logger.Info("MQTT connection established")

	if c.cfg.StatusTopic == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.ConnectTimeout)
	defer cancel()
	if _, err := cm.Publish(ctx, &paho.Publish{
		Topic:   c.cfg.StatusTopic,
		QoS:     1,
		Retain:  true,
		Payload: []byte(StatusOnline),
	}); err != nil {
		c.logger.Error(err, "Publishing online status failed", "topic", c.cfg.StatusTopic)
	}
}

func (c *pahoClient) onConnectError(err error) {
	c.connected.Store(false)
	c.logger.Error(err, "MQTT connection failed, retrying")
}

func (c *pahoClient) onClientError(err error) {
	c.connected.Store(false)
	c.logger.Error(err, "MQTT client error")
}

func (c *pahoClient) onServerDisconnect(d *paho.Disconnect) {
	c.connected.Store(false)
	reason := ""
	if d.Properties != nil {
		reason = d.Properties.ReasonString
	}
	c.logger.Warn("MQTT server requested disconnect", "reason", reason)
}

func (c *pahoClient) willMessage() *paho.WillMessage {
	if c.cfg.StatusTopic == "" {
		return nil
	}
	return &paho.WillMessage{
		Topic:   c.cfg.StatusTopic,
		Payload: []byte(StatusOffline),
		QoS:     1,
		Retain:  true,
	}
}
