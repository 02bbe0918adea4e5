package pool

import (
	"context"
	"fmt"

	utilerrors "k8s.io/apimachinery/pkg/util/errors"

	"github.com/autopeer-io/boardfarm/internal/core/model"
	"github.com/autopeer-io/boardfarm/internal/pkg/faults"
	"github.com/autopeer-io/boardfarm/internal/target"
	"github.com/autopeer-io/boardfarm/pkg/log"
)

// Dispatcher routes jobs to the pool matching their target.
type Dispatcher struct {
	pools map[model.PoolKey]*Pool
	order []*Pool
}

func NewDispatcher(pools ...*Pool) *Dispatcher {
	d := &Dispatcher{pools: make(map[model.PoolKey]*Pool, len(pools))}
	for _, p := range pools {
		d.pools[p.key] = p
		d.order = append(d.order, p)
	}
	return d
}

// Build groups boards into pools in declaration order. switches maps a
// switch name to its controller.
func Build(boards []model.BoardConfig, switches map[string]PowerSwitch, workDir string, logger log.Logger) (*Dispatcher, error) {
	if logger == nil {
		logger = log.WithName("pool")
	}

	var (
		errs    []error
		keys    []model.PoolKey
		grouped = map[model.PoolKey][]*Board{}
		targets = map[model.PoolKey]string{}
	)

	for i := range boards {
		b := boards[i]
		key := b.PoolKey()

		tgt, ok := target.Lookup(b.Handler)
		if !ok {
			errs = append(errs, fmt.Errorf("board %q: unknown handler %q (registered: %v)", b.Name, b.Handler, target.Names()))
			continue
		}
		if err := tgt.Validate(&b); err != nil {
			errs = append(errs, err)
			continue
		}
		sw, ok := switches[b.Switch]
		if !ok {
			errs = append(errs, fmt.Errorf("board %q: unknown switch %q", b.Name, b.Switch))
			continue
		}
		if b.PowerPort < 1 {
			errs = append(errs, fmt.Errorf("board %q: powerPort must be at least 1", b.Name))
			continue
		}
		if prev, seen := targets[key]; seen && prev != b.Handler {
			errs = append(errs, fmt.Errorf("board %q: pool %s mixes handlers %q and %q", b.Name, key, prev, b.Handler))
			continue
		}

		if _, seen := grouped[key]; !seen {
			keys = append(keys, key)
			targets[key] = b.Handler
		}
		grouped[key] = append(grouped[key], &Board{Slot: len(grouped[key]), Config: b, Switch: sw})
	}
	if len(errs) > 0 {
		return nil, utilerrors.NewAggregate(errs)
	}

	pools := make([]*Pool, 0, len(keys))
	for _, key := range keys {
		tgt, _ := target.Lookup(targets[key])
		p, err := New(key, tgt, grouped[key], workDir, logger)
		if err != nil {
			return nil, err
		}
		pools = append(pools, p)
	}
	return NewDispatcher(pools...), nil
}

// Dispatch runs job on its pool. An unknown target is a request fault.
func (d *Dispatcher) Dispatch(ctx context.Context, job *model.Job) (*Result, error) {
	p, ok := d.pools[job.PoolKey()]
	if !ok {
		return nil, faults.Requestf("no matching board pool for (%s, %s)", job.Config.Architecture, job.Config.Board)
	}
	return p.Dispatch(ctx, job)
}

// SetObserver installs o on every pool.
func (d *Dispatcher) SetObserver(o Observer) {
	for _, p := range d.order {
		p.SetObserver(o)
	}
}

// Pools returns the pools in declaration order.
func (d *Dispatcher) Pools() []*Pool {
	return d.order
}

func (d *Dispatcher) Close() error {
	var errs []error
	for _, p := range d.order {
		if err := p.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return utilerrors.NewAggregate(errs)
}
