package dispatcher

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/autopeer-io/boardfarm/internal/core/model"
	"github.com/autopeer-io/boardfarm/internal/pkg/faults"
	"github.com/autopeer-io/boardfarm/internal/power"
	"github.com/autopeer-io/boardfarm/internal/target"
	"github.com/autopeer-io/boardfarm/pkg/options"
)

func dummyFarm(t *testing.T, powerPort int) *Config {
	t.Helper()

	httpOpts := options.NewHttpOptions()
	httpOpts.Addr = "127.0.0.1:0"
	httpOpts.ShutdownTimeout = time.Second

	return &Config{
		HttpOptions: httpOpts,
		MqttOptions: options.NewMqttOptions(),
		S3Options:   options.NewS3Options(),
		FarmOptions: &FarmOptions{
			WorkDir: t.TempDir(),
			Switches: []power.Config{
				{Name: "sim", Driver: power.DriverDummy, Outlets: 4},
			},
			Boards: []model.BoardConfig{
				{
					Name:         "svc-0",
					Architecture: "arm",
					Board:        "svc",
					Handler:      target.HandlerDummy,
					Switch:       "sim",
					PowerPort:    powerPort,
				},
			},
		},
	}
}

func startServer(t *testing.T, cfg *Config) (*Server, context.CancelFunc, <-chan error) {
	t.Helper()
	srv, err := cfg.NewServer()
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Run(ctx) }()
	t.Cleanup(cancel)
	return srv, cancel, done
}

func TestServerRunsDummyFarm(t *testing.T) {
	srv, cancel, done := startServer(t, dummyFarm(t, 1))

	res := srv.Service().Execute(context.Background(), request())
	require.Empty(t, res.Fault)
	require.Equal(t, "success", res.Text)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}

func TestServerStopsOnFatalFault(t *testing.T) {
	// Port 9 does not exist on a four-outlet strip.
	srv, _, done := startServer(t, dummyFarm(t, 9))

	res := srv.Service().Execute(context.Background(), request())
	require.Equal(t, string(faults.KindFatal), res.Fault)
	require.Contains(t, res.Text, "Fatal Exception\nSwitching off device\nDisable server")

	select {
	case err := <-done:
		require.Error(t, err)
		require.True(t, faults.IsFatal(err))
	case <-time.After(5 * time.Second):
		t.Fatal("server kept running after a fatal fault")
	}
	require.False(t, srv.Service().Ready())
}

func TestNewServerRejectsUnknownSwitchDriver(t *testing.T) {
	cfg := dummyFarm(t, 1)
	cfg.FarmOptions.Switches[0].Driver = "apc"

	_, err := cfg.NewServer()
	require.ErrorContains(t, err, `unknown driver "apc"`)
}

func TestFarmOptionsValidate(t *testing.T) {
	opts := &FarmOptions{
		Switches: []power.Config{
			{Name: "sim", Driver: power.DriverDummy},
			{Name: "sim", Driver: power.DriverDummy},
		},
		Boards: []model.BoardConfig{
			{Name: "a", Switch: "sim", PowerPort: 1},
			{Name: "a", Switch: "sim", PowerPort: 1},
			{Name: "b", Switch: "missing", PowerPort: 2},
		},
	}

	var msgs []string
	for _, err := range opts.Validate() {
		msgs = append(msgs, err.Error())
	}
	require.Contains(t, msgs, `farm: switch "sim" declared twice`)
	require.Contains(t, msgs, `farm: board "a" declared twice`)
	require.Contains(t, msgs, `farm: boards "a" and "a" share port 1 of switch "sim"`)
	require.Contains(t, msgs, `farm: board "b" uses undeclared switch "missing"`)

	require.NotEmpty(t, (&FarmOptions{}).Validate())
}
