package options

import (
	"time"

	"github.com/spf13/pflag"

	"github.com/autopeer-io/boardfarm/pkg/mqtt"
	"github.com/autopeer-io/boardfarm/pkg/mqtt/topic"
)

var _ IOptions = (*MqttOptions)(nil)

// MqttOptions configures the job event publisher. An empty broker disables it.
type MqttOptions struct {
	Broker   string `json:"broker" mapstructure:"broker"`
	Username string `json:"username" mapstructure:"username"`
	Password string `json:"password" mapstructure:"password"`
	ClientID string `json:"client-id" mapstructure:"client-id"`

	KeepAlive      time.Duration `json:"keep-alive" mapstructure:"keep-alive"`
	ConnectTimeout time.Duration `json:"connect-timeout" mapstructure:"connect-timeout"`
	SessionExpiry  uint32        `json:"session-expiry" mapstructure:"session-expiry"`
	CleanStart     bool          `json:"clean-start" mapstructure:"clean-start"`

	// InsecureSkipVerify accepts any broker certificate. Lab use only.
	InsecureSkipVerify bool `json:"insecure-skip-verify" mapstructure:"insecure-skip-verify"`

	// TopicRoot prefixes every topic: {TopicRoot}/job/finished/...
	TopicRoot string `json:"topic-root" mapstructure:"topic-root"`
}

func NewMqttOptions() *MqttOptions {
	return &MqttOptions{
		ClientID:       "boardfarm-server",
		KeepAlive:      60 * time.Second,
		ConnectTimeout: 5 * time.Second,
		SessionExpiry:  60,
		CleanStart:     true,
		TopicRoot:      "boardfarm/v1",
	}
}

func (o *MqttOptions) Enabled() bool {
	return o != nil && o.Broker != ""
}

func (o *MqttOptions) Validate() []error {
	if !o.Enabled() {
		return nil
	}

	errs := []error{}
	if err := o.ToClientConfig().Validate(); err != nil {
		errs = append(errs, err)
	}
	return errs
}

func (o *MqttOptions) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	fs.StringVar(&o.Broker, "mqtt.broker", o.Broker, "MQTT broker URL for job events, e.g. tcp://broker:1883. Empty disables events.")
	fs.StringVar(&o.Username, "mqtt.username", o.Username, "The username for MQTT authentication.")
	fs.StringVar(&o.Password, "mqtt.password", o.Password, "The password for MQTT authentication.")
	fs.StringVar(&o.ClientID, "mqtt.client-id", o.ClientID, "MQTT client ID.")

	fs.DurationVar(&o.KeepAlive, "mqtt.keep-alive", o.KeepAlive, "MQTT keep alive interval.")
	fs.DurationVar(&o.ConnectTimeout, "mqtt.connect-timeout", o.ConnectTimeout, "Timeout for establishing the MQTT connection.")
	fs.Uint32Var(&o.SessionExpiry, "mqtt.session-expiry", o.SessionExpiry, "MQTT session expiry interval in seconds.")
	fs.BoolVar(&o.InsecureSkipVerify, "mqtt.insecure-skip-verify", o.InsecureSkipVerify, "Skip TLS certificate verification.")
	fs.StringVar(&o.TopicRoot, "mqtt.topic-root", o.TopicRoot, "Prefix of every published topic.")
}

func (o *MqttOptions) ToClientConfig() *mqtt.ClientConfig {
	return &mqtt.ClientConfig{
		BrokerURL:          o.Broker,
		Username:           o.Username,
		Password:           o.Password,
		ClientID:           o.ClientID,
		KeepAlive:          uint16(o.KeepAlive.Seconds()),
		SessionExpiry:      o.SessionExpiry,
		ConnectTimeout:     o.ConnectTimeout,
		CleanStart:         o.CleanStart,
		InsecureSkipVerify: o.InsecureSkipVerify,
		StatusTopic:        topic.NewBuilder(o.TopicRoot).ServerStatus(),
	}
}
