package mqtt

import (
	"errors"
	"fmt"
	"net/url"
	"time"
)

// ClientConfig configures a Client.
type ClientConfig struct {
	BrokerURL string
	ClientID  string
	Username  string
	Password  string

	// KeepAlive in seconds. Default is 60.
	KeepAlive uint16

	// ConnectTimeout for each connection attempt. Default is 5s.
	ConnectTimeout time.Duration

	SessionExpiry uint32
	CleanStart    bool

	InsecureSkipVerify bool

	// StatusTopic, when set, carries a retained "online" message while
	// connected and is the broker-published will ("offline") otherwise.
	StatusTopic string
}

const (
	StatusOnline  = "online"
	StatusOffline = "offline"
)

func setDefaultConfig(cfg *ClientConfig) {
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = 5 * time.Second
	}
	if cfg.KeepAlive == 0 {
		cfg.KeepAlive = 60
	}
}

func (c *ClientConfig) Validate() error {
	if c.BrokerURL == "" {
		return errors.New("broker url is required")
	}
	u, err := url.Parse(c.BrokerURL)
	if err != nil {
		return err
	}
	switch u.Scheme {
	case "tcp", "mqtt", "ssl", "tls", "mqtts", "ws", "wss":
	default:
		return fmt.Errorf("unsupported broker scheme %q", u.Scheme)
	}
	return nil
}
