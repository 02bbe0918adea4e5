package mqtt

import (
	"context"
)

// Client is a publish-only MQTT client that reconnects on its own.
type Client interface {
	// Start begins connecting in the background and returns immediately.
	Start(ctx context.Context) error

	// Disconnect publishes the offline status, if configured, and closes the
	// connection.
	Disconnect(ctx context.Context)

	Publish(ctx context.Context, topic string, qos int, retain bool, payload []byte) error

	// AwaitConnection blocks until connected or ctx is done.
	AwaitConnection(ctx context.Context) error

	IsConnected() bool
}
