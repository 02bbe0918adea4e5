package power

import (
	"context"

	"github.com/autopeer-io/boardfarm/pkg/log"
)

// DriverDummy simulates a strip. Every call is logged instead of sent.
const DriverDummy = "dummy"

func init() {
	Register(DriverDummy, func(cfg Config, logger log.Logger) (Outlet, error) {
		return &dummyOutlet{logger: logger.WithName("dummy")}, nil
	})
}

type dummyOutlet struct {
	logger log.Logger
}

func (d *dummyOutlet) Set(_ context.Context, port int, on bool) error {
	if on {
		d.logger.Info("Switch on", "port", port)
	} else {
		d.logger.Info("Switch off", "port", port)
	}
	return nil
}

func (d *dummyOutlet) Close() error {
	d.logger.Debug("Closed")
	return nil
}
