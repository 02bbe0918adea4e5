package power

import (
	"context"
	"fmt"
	"sync"
	"time"

	utilerrors "k8s.io/apimachinery/pkg/util/errors"
	"k8s.io/utils/clock"

	"github.com/autopeer-io/boardfarm/internal/pkg/faults"
	"github.com/autopeer-io/boardfarm/internal/pkg/metrics"
	"github.com/autopeer-io/boardfarm/pkg/log"
)

var _ Switch = (*Controller)(nil)

// FaultHook is called when a restart is refused by the restart guard.
type FaultHook func(switchName string, port int, err error)

// Controller implements Switch on top of an Outlet driver. It owns the
// per-port restart history and idle timers.
type Controller struct {
	outlet  Outlet
	clock   clock.WithDelayedExecution
	logger  log.Logger
	onFault FaultHook

	mu  sync.RWMutex
	cfg Config

	ports []*portState
}

type portState struct {
	mu       sync.Mutex
	restarts []time.Time
	timer    clock.Timer
	// gen invalidates callbacks of timers that were stopped after firing.
	gen    uint64
	closed bool
}

// Option customizes a Controller.
type Option func(*Controller)

// WithClock replaces the wall clock, mostly for tests.
func WithClock(c clock.WithDelayedExecution) Option {
	return func(ctrl *Controller) { ctrl.clock = c }
}

func WithLogger(l log.Logger) Option {
	return func(ctrl *Controller) { ctrl.logger = l }
}

// WithOutlet bypasses the driver registry.
func WithOutlet(o Outlet) Option {
	return func(ctrl *Controller) { ctrl.outlet = o }
}

func WithFaultHook(h FaultHook) Option {
	return func(ctrl *Controller) { ctrl.onFault = h }
}

// New builds a Controller for cfg using the registered driver cfg.Driver.
func New(cfg Config, opts ...Option) (*Controller, error) {
	cfg.Default()

	c := &Controller{
		clock:  clock.RealClock{},
		logger: log.WithName("power"),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.WithValues("switch", cfg.Name)

	if c.outlet == nil {
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
		factory, _ := lookupDriver(cfg.Driver)
		outlet, err := factory(cfg, c.logger)
		if err != nil {
			return nil, fmt.Errorf("switch %q: %w", cfg.Name, err)
		}
		c.outlet = outlet
	}

	c.cfg = cfg
	c.ports = make([]*portState, cfg.Outlets)
	for i := range c.ports {
		c.ports[i] = &portState{}
	}
	return c, nil
}

func (c *Controller) Name() string {
	return c.config().Name
}

func (c *Controller) Configure(cfg Config) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	cfg.Default()
	if cfg.Name == "" {
		cfg.Name = c.cfg.Name
	}
	if cfg.Driver == "" {
		cfg.Driver = c.cfg.Driver
	}
	if cfg.Driver != c.cfg.Driver || cfg.Outlets != c.cfg.Outlets {
		return fmt.Errorf("switch %q: driver and outlet count cannot be reconfigured", c.cfg.Name)
	}
	if cfg.RestartWindow < 0 || cfg.SettleTime < 0 || cfg.IdleTimeout < 0 {
		return fmt.Errorf("switch %q: durations must not be negative", c.cfg.Name)
	}
	c.cfg = cfg
	return nil
}

func (c *Controller) config() Config {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cfg
}

func (c *Controller) port(port int) (*portState, error) {
	if port < 1 || port > len(c.ports) {
		return nil, faults.Fatalf("switch %q: port %d does not exist (outlets 1..%d)", c.Name(), port, len(c.ports))
	}
	return c.ports[port-1], nil
}

func (c *Controller) SwitchOn(ctx context.Context, port int) error {
	return c.set(ctx, port, true)
}

func (c *Controller) SwitchOff(ctx context.Context, port int) error {
	return c.set(ctx, port, false)
}

func (c *Controller) set(ctx context.Context, port int, on bool) error {
	ps, err := c.port(port)
	if err != nil {
		return err
	}

	ps.mu.Lock()
	defer ps.mu.Unlock()
	return c.outlet.Set(ctx, port, on)
}

func (c *Controller) Restart(ctx context.Context, port int) error {
	ps, err := c.port(port)
	if err != nil {
		return err
	}
	cfg := c.config()

	ps.mu.Lock()
	defer ps.mu.Unlock()

	now := c.clock.Now()
	ps.prune(now, cfg.RestartWindow)

	if cfg.MaxRestarts > 0 && len(ps.restarts) >= cfg.MaxRestarts {
		metrics.PowerRestartsTotal.WithLabelValues(cfg.Name, "refused").Inc()
		err := faults.Fatalf("switch %q: cannot restart port %d, %d restarts within %s might damage the device",
			cfg.Name, port, len(ps.restarts), cfg.RestartWindow)
		c.logger.Error(err, "Restart refused", "port", port)
		if c.onFault != nil {
			c.onFault(cfg.Name, port, err)
		}
		return err
	}

	c.logger.Info("Power-cycling port", "port", port, "settle", cfg.SettleTime, "history", len(ps.restarts))

	if err := c.outlet.Set(ctx, port, false); err != nil {
		return fmt.Errorf("restart port %d: %w", port, err)
	}
	// The port is off from here on, so an interrupted cycle counts too.
	ps.restarts = append(ps.restarts, now)

	if cfg.SettleTime > 0 {
		select {
		case <-c.clock.After(cfg.SettleTime):
		case <-ctx.Done():
			return fmt.Errorf("restart port %d: %w", port, ctx.Err())
		}
	}
	if err := c.outlet.Set(ctx, port, true); err != nil {
		return fmt.Errorf("restart port %d: %w", port, err)
	}

	metrics.PowerRestartsTotal.WithLabelValues(cfg.Name, "ok").Inc()
	return nil
}

// prune drops restarts that happened before now-window.
func (ps *portState) prune(now time.Time, window time.Duration) {
	kept := ps.restarts[:0]
	for _, t := range ps.restarts {
		if !t.Add(window).Before(now) {
			kept = append(kept, t)
		}
	}
	ps.restarts = kept
}

func (c *Controller) StartTimer(port int) error {
	ps, err := c.port(port)
	if err != nil {
		return err
	}
	idle := c.config().IdleTimeout

	ps.mu.Lock()
	defer ps.mu.Unlock()

	if ps.closed || ps.timer != nil || idle <= 0 {
		return nil
	}

	ps.gen++
	gen := ps.gen
	// The fake clock runs callbacks under its own lock, so leave it first.
	ps.timer = c.clock.AfterFunc(idle, func() { go c.idleExpired(port, gen) })
	return nil
}

func (c *Controller) StopTimer(port int) error {
	ps, err := c.port(port)
	if err != nil {
		return err
	}

	ps.mu.Lock()
	defer ps.mu.Unlock()
	ps.stopTimer()
	return nil
}

// stopTimer must be called with ps.mu held.
func (ps *portState) stopTimer() {
	if ps.timer == nil {
		return
	}
	ps.timer.Stop()
	ps.timer = nil
	ps.gen++
}

func (c *Controller) idleExpired(port int, gen uint64) {
	ps := c.ports[port-1]

	ps.mu.Lock()
	defer ps.mu.Unlock()

	if ps.gen != gen || ps.timer == nil {
		return
	}
	ps.timer = nil

	ctx, cancel := context.WithTimeout(context.Background(), c.config().DialTimeout+5*time.Second)
	defer cancel()

	if err := c.outlet.Set(ctx, port, false); err != nil {
		c.logger.Error(err, "Idle power-off failed", "port", port)
		return
	}
	c.logger.Info("Port idle, switched off", "port", port)
}

// HasTimer reports whether an idle timer is armed for port.
func (c *Controller) HasTimer(port int) bool {
	ps, err := c.port(port)
	if err != nil {
		return false
	}
	ps.mu.Lock()
	defer ps.mu.Unlock()
	return ps.timer != nil
}

func (c *Controller) PowerDownAll(ctx context.Context) error {
	var errs []error
	for i, ps := range c.ports {
		port := i + 1

		ps.mu.Lock()
		ps.stopTimer()
		err := c.outlet.Set(ctx, port, false)
		ps.mu.Unlock()

		if err != nil {
			errs = append(errs, fmt.Errorf("port %d: %w", port, err))
		}
	}
	if err := utilerrors.NewAggregate(errs); err != nil {
		return fmt.Errorf("switch %q power-down: %w", c.Name(), err)
	}
	return nil
}

// Close disarms all timers and releases the driver.
func (c *Controller) Close() error {
	for _, ps := range c.ports {
		ps.mu.Lock()
		ps.stopTimer()
		ps.closed = true
		ps.mu.Unlock()
	}
	return c.outlet.Close()
}
