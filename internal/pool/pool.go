// Package pool assigns jobs to the physical boards of a pool.
//
// A pool admits at most as many jobs as it has boards. An admitted job takes
// the lowest free board, runs its state machine there and gives the board
// back, whatever the outcome.
package pool

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/autopeer-io/boardfarm/internal/core/model"
	"github.com/autopeer-io/boardfarm/internal/jobfsm"
	"github.com/autopeer-io/boardfarm/internal/pkg/faults"
	"github.com/autopeer-io/boardfarm/internal/pkg/metrics"
	"github.com/autopeer-io/boardfarm/internal/session"
	"github.com/autopeer-io/boardfarm/internal/target"
	"github.com/autopeer-io/boardfarm/pkg/log"
)

// TimedOutTooOften is the result text of a job whose board never answered.
const TimedOutTooOften = "The test timed out too often"

// PowerSwitch is the part of power.Switch a pool needs.
type PowerSwitch interface {
	Name() string
	SwitchOn(ctx context.Context, port int) error
	Restart(ctx context.Context, port int) error
	StartTimer(port int) error
	StopTimer(port int) error
}

// Board is one physical board of a pool.
type Board struct {
	Slot   int
	Config model.BoardConfig
	Switch PowerSwitch

	mu   sync.Mutex
	busy atomic.Bool
}

// Busy reports whether a job holds the board right now.
func (b *Board) Busy() bool {
	return b.busy.Load()
}

// Observer is told when a job has taken a board. It must not block.
type Observer interface {
	BoardAssigned(job *model.Job, pool model.PoolKey, board *Board)
}

// Result is the outcome of a dispatched job.
type Result struct {
	Text      string
	Succeeded bool
	Pool      string
	Board     string
	Slot      int
	Retries   int
	Duration  time.Duration
}

// Pool is the set of boards sharing an (architecture, board) identity.
type Pool struct {
	key      model.PoolKey
	target   target.Target
	boards   []*Board
	sem      *semaphore.Weighted
	sessions *session.Registry
	workDir  string
	logger   log.Logger
	observer Observer

	// claimMu makes board selection and session creation one step, so that
	// sessions are created in slot order.
	claimMu sync.Mutex
}

// New builds a pool. Board slots must be 0..len(boards)-1 in order.
func New(key model.PoolKey, tgt target.Target, boards []*Board, workDir string, logger log.Logger) (*Pool, error) {
	if len(boards) == 0 {
		return nil, fmt.Errorf("pool %s has no boards", key)
	}
	for i, b := range boards {
		if b.Slot != i {
			return nil, fmt.Errorf("pool %s: board %q has slot %d, want %d", key, b.Config.Name, b.Slot, i)
		}
	}
	if logger == nil {
		logger = log.WithName("pool")
	}
	return &Pool{
		key:      key,
		target:   tgt,
		boards:   boards,
		sem:      semaphore.NewWeighted(int64(len(boards))),
		sessions: session.NewRegistry(),
		workDir:  workDir,
		logger:   logger.WithValues("pool", key.String()),
	}, nil
}

func (p *Pool) Key() model.PoolKey { return p.key }

func (p *Pool) Boards() []*Board { return p.boards }

// SetObserver must be called before the first Dispatch.
func (p *Pool) SetObserver(o Observer) { p.observer = o }

// Dispatch runs job on a free board, waiting for one if all are busy.
func (p *Pool) Dispatch(ctx context.Context, job *model.Job) (*Result, error) {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	started := time.Now()

	board, sess, err := p.claim()
	if err != nil {
		p.sem.Release(1)
		return nil, err
	}
	defer p.release(board)

	logger := p.logger.WithValues("job", job.ID, "board", board.Config.Name, "slot", board.Slot)
	logger.Info("Board assigned")
	if p.observer != nil {
		p.observer.BoardAssigned(job, p.key, board)
	}

	handler, err := p.target.NewHandler(target.Deps{
		Board:   board.Config,
		Slot:    board.Slot,
		Session: sess,
		WorkDir: p.workDir,
		Logger:  logger,
	}, job)
	if err != nil {
		return nil, err
	}

	machine := jobfsm.New(jobfsm.Config{
		JobID:        job.ID,
		Pool:         p.key.String(),
		Handler:      handler,
		Power:        board.Switch,
		Port:         board.Config.PowerPort,
		RetryMaximum: job.Config.RetryMaximum,
		Logger:       logger,
	})

	port := board.Config.PowerPort
	if err := board.Switch.StopTimer(port); err != nil {
		return nil, err
	}
	if err := board.Switch.SwitchOn(ctx, port); err != nil {
		return nil, err
	}

	out, ok, err := machine.Run(ctx)
	if err != nil {
		return nil, err
	}

	res := &Result{
		Text:      out,
		Succeeded: ok,
		Pool:      p.key.String(),
		Board:     board.Config.Name,
		Slot:      board.Slot,
		Retries:   machine.Retries(),
		Duration:  time.Since(started),
	}
	if !ok {
		res.Text = TimedOutTooOften
	}
	logger.Info("Job finished", "succeeded", ok, "retries", res.Retries, "duration", res.Duration)
	return res, nil
}

// claim takes the lowest free board and makes sure its session exists.
func (p *Pool) claim() (*Board, *session.Session, error) {
	p.claimMu.Lock()
	defer p.claimMu.Unlock()

	for _, b := range p.boards {
		if !b.mu.TryLock() {
			continue
		}
		sess, err := p.sessions.GetOrCreate(b.Slot, func() (*session.Session, error) {
			return p.target.NewSession(b.Config, b.Slot, p.logger.WithValues("board", b.Config.Name))
		})
		if err != nil {
			b.mu.Unlock()
			return nil, nil, fmt.Errorf("board %q: %w", b.Config.Name, err)
		}
		b.busy.Store(true)
		metrics.BoardsBusy.WithLabelValues(p.key.String()).Inc()
		return b, sess, nil
	}
	return nil, nil, faults.Fatalf("pool %s: admitted a job but no board is free", p.key)
}

func (p *Pool) release(b *Board) {
	metrics.BoardsBusy.WithLabelValues(p.key.String()).Dec()
	b.busy.Store(false)
	b.mu.Unlock()
	p.sem.Release(1)

	if err := b.Switch.StartTimer(b.Config.PowerPort); err != nil {
		p.logger.Error(err, "Restarting idle timer", "board", b.Config.Name)
	}
}

// Close stops the sessions of all boards.
func (p *Pool) Close() error {
	p.logger.Info("Closing board sessions", "open", p.sessions.Len())
	return p.sessions.Close()
}
