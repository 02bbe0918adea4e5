package power

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/autopeer-io/boardfarm/pkg/log"
)

// Outlet is the hardware side of a Switch: it flips a single port.
type Outlet interface {
	Set(ctx context.Context, port int, on bool) error
	Close() error
}

// DriverFactory builds an Outlet for a defaulted, validated Config.
type DriverFactory func(cfg Config, logger log.Logger) (Outlet, error)

var (
	driversMu sync.RWMutex
	drivers   = map[string]DriverFactory{}
)

// Register makes a driver available by name. It panics on duplicates.
func Register(name string, factory DriverFactory) {
	driversMu.Lock()
	defer driversMu.Unlock()

	if factory == nil {
		panic("power: Register factory is nil")
	}
	if _, dup := drivers[name]; dup {
		panic(fmt.Sprintf("power: Register called twice for driver %q", name))
	}
	drivers[name] = factory
}

// Drivers returns the sorted names of registered drivers.
func Drivers() []string {
	driversMu.RLock()
	defer driversMu.RUnlock()

	names := make([]string, 0, len(drivers))
	for name := range drivers {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

func lookupDriver(name string) (DriverFactory, bool) {
	driversMu.RLock()
	defer driversMu.RUnlock()
	f, ok := drivers[name]
	return f, ok
}
