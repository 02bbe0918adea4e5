package notifier

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/autopeer-io/boardfarm/pkg/log"
	"github.com/autopeer-io/boardfarm/pkg/mqtt/topic"
)

type published struct {
	topic   string
	qos     int
	retain  bool
	payload []byte
}

type fakeClient struct {
	mu        sync.Mutex
	connected bool
	err       error
	msgs      []published
}

func (c *fakeClient) Start(context.Context) error           { return nil }
func (c *fakeClient) Disconnect(context.Context)            {}
func (c *fakeClient) AwaitConnection(context.Context) error { return nil }
func (c *fakeClient) IsConnected() bool                     { return c.connected }

func (c *fakeClient) Publish(ctx context.Context, t string, qos int, retain bool, payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := ctx.Deadline(); !ok {
		return errors.New("publish without deadline")
	}
	c.msgs = append(c.msgs, published{t, qos, retain, payload})
	return c.err
}

func TestJobEventsArePublished(t *testing.T) {
	client := &fakeClient{connected: true}
	n := NewMQTTNotifier(client, topic.NewBuilder("farm/v1"), log.NewNopLogger())
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	n.JobStarted(JobEvent{JobID: "j1", Pool: "arm/tqma7d", Board: "tqma7d-0", Slot: 0, Time: at})
	n.JobFinished(JobEvent{JobID: "j1", Pool: "arm/tqma7d", Board: "tqma7d-0", Result: "success", Retries: 1, DurationMs: 1500, Time: at})

	require.Len(t, client.msgs, 2)
	require.Equal(t, "farm/v1/job/started/arm/tqma7d", client.msgs[0].topic)
	require.Equal(t, "farm/v1/job/finished/arm/tqma7d", client.msgs[1].topic)
	for _, m := range client.msgs {
		require.Equal(t, 1, m.qos)
		require.False(t, m.retain)
	}

	var got map[string]any
	require.NoError(t, json.Unmarshal(client.msgs[1].payload, &got))
	require.Equal(t, "j1", got["jobID"])
	require.Equal(t, "success", got["result"])
	require.EqualValues(t, 1500, got["durationMs"])
	require.EqualValues(t, 1, got["retries"])
	require.Equal(t, "2026-03-01T12:00:00Z", got["time"])
}

func TestPowerFaultTopic(t *testing.T) {
	client := &fakeClient{connected: true}
	n := NewMQTTNotifier(client, topic.NewBuilder("farm/v1/"), log.NewNopLogger())

	n.PowerFault(PowerFaultEvent{Switch: "netio-1", Port: 2, Error: "too many restarts"})

	require.Len(t, client.msgs, 1)
	require.Equal(t, "farm/v1/power/fault/netio-1", client.msgs[0].topic)
	require.Contains(t, string(client.msgs[0].payload), `"port":2`)
}

func TestEventsDroppedWhileDisconnected(t *testing.T) {
	client := &fakeClient{}
	n := NewMQTTNotifier(client, topic.NewBuilder("farm"), log.NewNopLogger())

	n.JobFinished(JobEvent{JobID: "j1", Pool: "arm/x"})
	require.Empty(t, client.msgs)
}

func TestPublishErrorDoesNotPanic(t *testing.T) {
	client := &fakeClient{connected: true, err: errors.New("broker gone")}
	n := NewMQTTNotifier(client, topic.NewBuilder("farm"), log.NewNopLogger())

	require.NotPanics(t, func() { n.JobStarted(JobEvent{JobID: "j1", Pool: "arm/x"}) })
	require.Len(t, client.msgs, 1)
}

func TestNop(t *testing.T) {
	var n Notifier = Nop{}
	n.JobStarted(JobEvent{})
	n.JobFinished(JobEvent{})
	n.PowerFault(PowerFaultEvent{})
}
