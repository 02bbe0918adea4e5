// Package dispatcher composes the board farm: power strips, board pools,
// the job service and its ingress. It also owns the fatal-fault policy:
// once a job reports a fatal fault the farm stops admitting jobs, powers
// every outlet off and the process exits with an error.
package dispatcher

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"
	utilerrors "k8s.io/apimachinery/pkg/util/errors"

	"github.com/autopeer-io/boardfarm/internal/archive"
	"github.com/autopeer-io/boardfarm/internal/pool"
	"github.com/autopeer-io/boardfarm/internal/power"
	"github.com/autopeer-io/boardfarm/internal/server"
	"github.com/autopeer-io/boardfarm/pkg/log"
	"github.com/autopeer-io/boardfarm/pkg/mqtt"
)

const shutdownTimeout = 30 * time.Second

type Server struct {
	service  *Service
	pools    *pool.Dispatcher
	switches []power.Switch
	manager  *server.Manager
	mqtt     mqtt.Client
	store    *archive.MinIO
	logger   log.Logger
}

func (s *Server) Service() *Service {
	return s.service
}

// Run serves until ctx is done or a fatal fault occurs. The farm is powered
// down on the way out. A fatal fault is returned as an error.
func (s *Server) Run(ctx context.Context) error {
	if s.store != nil {
		if err := s.store.CheckBucket(ctx); err != nil {
			return fmt.Errorf("failed to connect to object storage: %w", err)
		}
		s.logger.Info("Object Storage Connected")
	}
	if s.mqtt != nil {
		if err := s.mqtt.Start(ctx); err != nil {
			return fmt.Errorf("failed to start mqtt client: %w", err)
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return s.manager.Start(gctx)
	})
	g.Go(func() error {
		select {
		case err := <-s.service.Fatal():
			s.logger.Error(err, "Fatal fault, switching off devices and disabling the server")
			return fmt.Errorf("fatal fault: %w", err)
		case <-gctx.Done():
			return nil
		}
	})
	runErr := g.Wait()

	if err := s.shutdown(); err != nil {
		s.logger.Error(err, "Shutdown incomplete")
		if runErr == nil {
			runErr = err
		}
	}
	return runErr
}

// shutdown powers every outlet off and releases sessions and drivers.
func (s *Server) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	var errs []error
	for _, sw := range s.switches {
		if err := sw.PowerDownAll(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if err := s.pools.Close(); err != nil {
		errs = append(errs, err)
	}
	for _, sw := range s.switches {
		if err := sw.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close switch %q: %w", sw.Name(), err))
		}
	}
	if s.mqtt != nil {
		s.mqtt.Disconnect(ctx)
	}
	s.logger.Info("Farm powered down")
	return utilerrors.NewAggregate(errs)
}
