// Package target knows how each kind of board is driven: how its session
// transports are opened and how a job's binary becomes console output.
package target

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/autopeer-io/boardfarm/internal/core/model"
	"github.com/autopeer-io/boardfarm/internal/session"
	"github.com/autopeer-io/boardfarm/pkg/log"
)

// Handler runs one job on one board. A job state machine calls ProcessFile
// once, Run once per attempt, HandleTimeout after every attempt without
// output, and Exit once at the end.
type Handler interface {
	ProcessFile(ctx context.Context) error
	// Run returns ok=false when the device produced no output in time.
	Run(ctx context.Context) (output string, ok bool, err error)
	HandleTimeout(ctx context.Context)
	Exit(ctx context.Context) error
}

// Deps is what a Handler gets from the pool.
type Deps struct {
	Board   model.BoardConfig
	Slot    int
	Session *session.Session
	WorkDir string
	Logger  log.Logger
}

// Target is a kind of board.
type Target interface {
	// Validate checks the handler specific fields of a board.
	Validate(board *model.BoardConfig) error
	// NewSession opens the transports of the board in slot. It is called
	// once per slot for the lifetime of the process.
	NewSession(board model.BoardConfig, slot int, logger log.Logger) (*session.Session, error)
	NewHandler(deps Deps, job *model.Job) (Handler, error)
}

var (
	mu      sync.RWMutex
	targets = map[string]Target{}
)

// Register makes a Target available under name. It panics on duplicates.
func Register(name string, t Target) {
	mu.Lock()
	defer mu.Unlock()
	if _, dup := targets[name]; dup {
		panic(fmt.Sprintf("target: Register called twice for %q", name))
	}
	targets[name] = t
}

func Lookup(name string) (Target, bool) {
	mu.RLock()
	defer mu.RUnlock()
	t, ok := targets[name]
	return t, ok
}

// Names returns the registered handler names, sorted.
func Names() []string {
	mu.RLock()
	defer mu.RUnlock()
	names := make([]string, 0, len(targets))
	for n := range targets {
		names = append(names, n)
	}
	slices.Sort(names)
	return names
}
