// Package notifier publishes job and power events to MQTT.
package notifier

import (
	"context"
	"encoding/json"
	"time"

	"github.com/autopeer-io/boardfarm/pkg/log"
	pkgmqtt "github.com/autopeer-io/boardfarm/pkg/mqtt"
	"github.com/autopeer-io/boardfarm/pkg/mqtt/topic"
)

// JobEvent is the payload of job/started and job/finished.
type JobEvent struct {
	JobID      string    `json:"jobID"`
	Pool       string    `json:"pool"`
	Board      string    `json:"board,omitempty"`
	Slot       int       `json:"slot"`
	Result     string    `json:"result,omitempty"`
	Retries    int       `json:"retries"`
	DurationMs int64     `json:"durationMs"`
	Time       time.Time `json:"time"`
}

// PowerFaultEvent is the payload of power/fault.
type PowerFaultEvent struct {
	Switch string    `json:"switch"`
	Port   int       `json:"port"`
	Error  string    `json:"error"`
	Time   time.Time `json:"time"`
}

// Notifier reports farm events. Implementations never block the caller for
// longer than their publish timeout and never fail a job.
type Notifier interface {
	JobStarted(ev JobEvent)
	JobFinished(ev JobEvent)
	PowerFault(ev PowerFaultEvent)
}

// Nop discards every event.
type Nop struct{}

func (Nop) JobStarted(JobEvent)        {}
func (Nop) JobFinished(JobEvent)       {}
func (Nop) PowerFault(PowerFaultEvent) {}

const (
	qosAtLeastOnce = 1

	defaultPublishTimeout = 2 * time.Second
)

// MQTTNotifier publishes events as JSON with QoS 1, not retained.
type MQTTNotifier struct {
	client  pkgmqtt.Client
	topics  *topic.Builder
	timeout time.Duration
	logger  log.Logger
}

func NewMQTTNotifier(client pkgmqtt.Client, topics *topic.Builder, logger log.Logger) *MQTTNotifier {
	if logger == nil {
		logger = log.WithName("notifier")
	}
	return &MQTTNotifier{
		client:  client,
		topics:  topics,
		timeout: defaultPublishTimeout,
		logger:  logger,
	}
}

func (n *MQTTNotifier) JobStarted(ev JobEvent) {
	n.publish(n.topics.JobStarted(ev.Pool), ev)
}

func (n *MQTTNotifier) JobFinished(ev JobEvent) {
	n.publish(n.topics.JobFinished(ev.Pool), ev)
}

func (n *MQTTNotifier) PowerFault(ev PowerFaultEvent) {
	n.publish(n.topics.PowerFault(ev.Switch), ev)
}

func (n *MQTTNotifier) publish(topicName string, ev any) {
	payload, err := json.Marshal(ev)
	if err != nil {
		n.logger.Error(err, "Encoding event failed", "topic", topicName)
		return
	}

	if !n.client.IsConnected() {
		n.logger.Debug("Broker not connected, dropping event", "topic", topicName)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), n.timeout)
	defer cancel()
	if err := n.client.Publish(ctx, topicName, qosAtLeastOnce, false, payload); err != nil {
		n.logger.Warn("Publishing event failed", "topic", topicName, "error", err)
	}
}
