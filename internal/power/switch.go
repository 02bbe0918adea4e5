// Package power drives networked power strips that feed the boards.
//
// A Switch exposes per-outlet on/off, a rate-limited restart (power-cycle)
// that refuses to run once a port has been cycled too often within a rolling
// window, and an idle timer that powers a port off after a period without
// jobs. Concrete strips plug in as Outlet drivers selected by name.
package power

import (
	"context"
	"fmt"
	"time"

	utilerrors "k8s.io/apimachinery/pkg/util/errors"
)

// Switch is the capability a board pool and a job state machine use to
// control power. Ports are numbered from 1.
type Switch interface {
	Name() string

	// Configure replaces the tunable limits of the switch. The driver and
	// outlet count cannot change.
	Configure(cfg Config) error

	SwitchOn(ctx context.Context, port int) error
	SwitchOff(ctx context.Context, port int) error

	// Restart power-cycles port. It returns a fatal fault when the port has
	// already been restarted MaxRestarts times within RestartWindow.
	Restart(ctx context.Context, port int) error

	// StartTimer arms the idle auto-off timer for port unless one is already
	// running. StopTimer disarms it; stopping an idle port is a no-op.
	StartTimer(port int) error
	StopTimer(port int) error

	// PowerDownAll stops every timer and switches every outlet off.
	PowerDownAll(ctx context.Context) error

	Close() error
}

// Config describes one power strip.
type Config struct {
	Name     string `json:"name" mapstructure:"name"`
	Driver   string `json:"driver" mapstructure:"driver"`
	Address  string `json:"address,omitempty" mapstructure:"address"`
	Port     int    `json:"port,omitempty" mapstructure:"port"`
	Username string `json:"username,omitempty" mapstructure:"username"`
	Password string `json:"password,omitempty" mapstructure:"password"`

	// Outlets is the number of switchable ports on the strip.
	Outlets int `json:"outlets,omitempty" mapstructure:"outlets"`

	// MaxRestarts bounds restarts per port within RestartWindow. Zero or less
	// disables the limit.
	MaxRestarts   int           `json:"maxRestarts,omitempty" mapstructure:"maxRestarts"`
	RestartWindow time.Duration `json:"restartWindow,omitempty" mapstructure:"restartWindow"`

	// SettleTime is how long a port stays off during a restart.
	SettleTime time.Duration `json:"settleTime,omitempty" mapstructure:"settleTime"`

	// IdleTimeout powers a port off after this long without a job. Zero
	// disables the idle timer.
	IdleTimeout time.Duration `json:"idleTimeout,omitempty" mapstructure:"idleTimeout"`

	DialTimeout time.Duration `json:"dialTimeout,omitempty" mapstructure:"dialTimeout"`
}

const (
	DefaultOutlets       = 4
	DefaultRestartWindow = time.Hour
	DefaultDialTimeout   = 5 * time.Second
)

// Default fills unset fields.
func (c *Config) Default() {
	if c.Outlets == 0 {
		c.Outlets = DefaultOutlets
	}
	if c.RestartWindow == 0 {
		c.RestartWindow = DefaultRestartWindow
	}
	if c.DialTimeout == 0 {
		c.DialTimeout = DefaultDialTimeout
	}
}

// Validate checks the driver-independent fields.
func (c *Config) Validate() error {
	var errs []error
	if c.Name == "" {
		errs = append(errs, fmt.Errorf("switch name must not be empty"))
	}
	if _, ok := lookupDriver(c.Driver); !ok {
		errs = append(errs, fmt.Errorf("switch %q: unknown driver %q (registered: %v)", c.Name, c.Driver, Drivers()))
	}
	if c.Outlets < 1 {
		errs = append(errs, fmt.Errorf("switch %q: outlets must be at least 1", c.Name))
	}
	if c.RestartWindow < 0 || c.SettleTime < 0 || c.IdleTimeout < 0 {
		errs = append(errs, fmt.Errorf("switch %q: durations must not be negative", c.Name))
	}
	return utilerrors.NewAggregate(errs)
}
