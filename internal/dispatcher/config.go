package dispatcher

import (
	"fmt"
	"os"
	"time"

	"github.com/autopeer-io/boardfarm/internal/archive"
	"github.com/autopeer-io/boardfarm/internal/notifier"
	"github.com/autopeer-io/boardfarm/internal/pool"
	"github.com/autopeer-io/boardfarm/internal/power"
	"github.com/autopeer-io/boardfarm/internal/server"
	httpserver "github.com/autopeer-io/boardfarm/internal/server/http"
	"github.com/autopeer-io/boardfarm/pkg/log"
	"github.com/autopeer-io/boardfarm/pkg/mqtt"
	"github.com/autopeer-io/boardfarm/pkg/mqtt/topic"
	"github.com/autopeer-io/boardfarm/pkg/options"
)

type Config struct {
	HttpOptions *options.HttpOptions
	MqttOptions *options.MqttOptions
	S3Options   *options.S3Options
	FarmOptions *FarmOptions
}

// NewServer builds the whole dispatcher: switches, pools, the optional event
// notifier and console archive, and the ingress.
func (cfg *Config) NewServer() (*Server, error) {
	logger := log.WithName("dispatcher")

	// 1. Infrastructure: event notifier
	var (
		events     notifier.Notifier = notifier.Nop{}
		mqttClient mqtt.Client
	)
	if cfg.MqttOptions.Enabled() {
		client, err := InitializeMQTTClient(cfg.MqttOptions)
		if err != nil {
			return nil, fmt.Errorf("failed to init notifier: %w", err)
		}
		mqttClient = client
		events = notifier.NewMQTTNotifier(client, topic.NewBuilder(cfg.MqttOptions.TopicRoot), log.WithName("notifier"))
	}

	// 2. Infrastructure: console archive
	var store *archive.MinIO
	if cfg.S3Options.Active() {
		m, err := archive.NewMinIO(cfg.S3Options)
		if err != nil {
			return nil, err
		}
		store = m
	}

	// 3. Power strips
	switches, err := newSwitches(cfg.FarmOptions.Switches, events)
	if err != nil {
		return nil, err
	}
	byName := make(map[string]pool.PowerSwitch, len(switches))
	for _, sw := range switches {
		byName[sw.Name()] = sw
	}

	// 4. Board pools
	pools, err := pool.Build(cfg.FarmOptions.Boards, byName, cfg.FarmOptions.WorkDir, log.WithName("pool"))
	if err != nil {
		closeSwitches(switches, logger)
		return nil, fmt.Errorf("failed to build board pools: %w", err)
	}

	// 5. Core service
	var archiver archive.Archiver
	if store != nil {
		archiver = store
	}
	svc := NewService(pools, events, archiver, log.WithName("service"))
	pools.SetObserver(svc)

	// 6. Ingress
	manager := server.NewManager(httpserver.NewServer(cfg.HttpOptions, svc))

	for _, p := range pools.Pools() {
		logger.Info("Pool ready", "pool", p.Key().String(), "boards", len(p.Boards()))
	}

	return &Server{
		service:  svc,
		pools:    pools,
		switches: switches,
		manager:  manager,
		mqtt:     mqttClient,
		store:    store,
		logger:   logger,
	}, nil
}

func newSwitches(cfgs []power.Config, events notifier.Notifier) ([]power.Switch, error) {
	onFault := func(switchName string, port int, err error) {
		events.PowerFault(notifier.PowerFaultEvent{
			Switch: switchName,
			Port:   port,
			Error:  err.Error(),
			Time:   time.Now().UTC(),
		})
	}

	switches := make([]power.Switch, 0, len(cfgs))
	for _, c := range cfgs {
		sw, err := power.New(c, power.WithLogger(log.WithName("power")), power.WithFaultHook(onFault))
		if err != nil {
			closeSwitches(switches, log.WithName("dispatcher"))
			return nil, fmt.Errorf("failed to init switch %q: %w", c.Name, err)
		}
		switches = append(switches, sw)
	}
	return switches, nil
}

func closeSwitches(switches []power.Switch, logger log.Logger) {
	for _, sw := range switches {
		if err := sw.Close(); err != nil {
			logger.Error(err, "Closing switch", "switch", sw.Name())
		}
	}
}

// InitializeMQTTClient builds an unstarted event client.
func InitializeMQTTClient(opts *options.MqttOptions) (mqtt.Client, error) {
	cfg := opts.ToClientConfig()

	if cfg.ClientID == "" {
		hostname, _ := os.Hostname()
		cfg.ClientID = fmt.Sprintf("boardfarm-server-%s", hostname)
	}

	client, err := mqtt.NewClient(cfg)
	if err != nil {
		log.Error(err, "failed to new mqtt client")
		return nil, err
	}
	return client, nil
}
