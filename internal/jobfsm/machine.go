// Package jobfsm drives one job through a board: process the file, run it,
// power-cycle and retry a board that does not answer, and finish.
package jobfsm

import (
	"context"
	"fmt"

	"github.com/looplab/fsm"

	"github.com/autopeer-io/boardfarm/internal/pkg/faults"
	"github.com/autopeer-io/boardfarm/internal/pkg/metrics"
	fsmutil "github.com/autopeer-io/boardfarm/internal/pkg/util/fsm"
	"github.com/autopeer-io/boardfarm/pkg/log"
)

const (
	StateIdle                = "idle"
	StateReceivedFile        = "received_file"
	StateDeviceSelected      = "device_selected"
	StateFileProcessed       = "file_processed"
	StateTestRunning         = "test_running"
	StateOutputReceived      = "output_received"
	StateDeviceNotResponding = "device_not_responding"
	StateFinished            = "finished"
	StateReconfigureDevice   = "reconfigure_device"
	StateErrorState          = "error_state"
)

const (
	EventProcessFile = "process_file"
	EventOutput      = "output"
	EventNoResponse  = "no_response"
	EventRetry       = "retry"
	EventGiveUp      = "give_up"
	EventComplete    = "complete"
	// EventSeal moves a finished machine into error_state so that any
	// further step is detected.
	EventSeal = "seal"
)

// DeviceHandler is the board specific part of a job.
type DeviceHandler interface {
	ProcessFile(ctx context.Context) error
	Run(ctx context.Context) (output string, ok bool, err error)
	HandleTimeout(ctx context.Context)
	Exit(ctx context.Context) error
}

// PowerCycler restarts the outlet feeding the board.
type PowerCycler interface {
	Restart(ctx context.Context, port int) error
}

// Config binds a Machine to a board.
type Config struct {
	JobID        string
	Pool         string
	Handler      DeviceHandler
	Power        PowerCycler
	Port         int
	RetryMaximum int
	Logger       log.Logger
}

// Machine is the state machine of a single job. It is not safe for
// concurrent use.
type Machine struct {
	fsm *fsm.FSM

	handler      DeviceHandler
	power        PowerCycler
	port         int
	retryMaximum int
	pool         string
	logger       log.Logger

	retries   int
	output    string
	succeeded bool
	terminal  bool
	exited    bool
	visits    map[string]int
}

func New(cfg Config) *Machine {
	logger := cfg.Logger
	if logger == nil {
		logger = log.WithName("jobfsm")
	}

	m := &Machine{
		handler:      cfg.Handler,
		power:        cfg.Power,
		port:         cfg.Port,
		retryMaximum: cfg.RetryMaximum,
		pool:         cfg.Pool,
		logger:       logger.WithValues("job", cfg.JobID),
		visits:       map[string]int{StateDeviceSelected: 1},
	}

	events := fsm.Events{
		{Name: EventProcessFile, Src: []string{StateDeviceSelected}, Dst: StateFileProcessed},
		{Name: EventOutput, Src: []string{StateFileProcessed}, Dst: StateOutputReceived},
		{Name: EventNoResponse, Src: []string{StateFileProcessed}, Dst: StateDeviceNotResponding},
		{Name: EventRetry, Src: []string{StateDeviceNotResponding}, Dst: StateFileProcessed},
		{Name: EventGiveUp, Src: []string{StateDeviceNotResponding}, Dst: StateFinished},
		{Name: EventComplete, Src: []string{StateOutputReceived}, Dst: StateFinished},
		{Name: EventSeal, Src: []string{StateFinished}, Dst: StateErrorState},
	}

	callbacks := fsm.Callbacks{
		"before_" + EventRetry: fsmutil.Guard(m.guardRetry),
		"enter_state":          fsmutil.WrapEvent(m.onEnterState),
	}

	m.fsm = fsm.NewFSM(StateDeviceSelected, events, callbacks)
	return m
}

func (m *Machine) Current() string { return m.fsm.Current() }

// Retries is the number of attempts that ended without output.
func (m *Machine) Retries() int { return m.retries }

// Visits reports how often state has been entered.
func (m *Machine) Visits(state string) int { return m.visits[state] }

// Run steps the machine until it is terminal. It returns the console output,
// or ok=false when the device never answered within the retry budget.
// Faults from collaborators are returned unchanged.
func (m *Machine) Run(ctx context.Context) (output string, ok bool, err error) {
	if m.terminal {
		return "", false, faults.StateMachinef("job state machine already finished")
	}

	for !m.terminal {
		if err := m.HandleState(ctx); err != nil {
			m.exit(ctx)
			return "", false, err
		}
	}

	if !m.succeeded {
		return "", false, nil
	}
	return m.output, true, nil
}

// HandleState performs the work of the current state and fires the event
// that leaves it.
func (m *Machine) HandleState(ctx context.Context) error {
	switch state := m.fsm.Current(); state {
	case StateDeviceSelected:
		if err := m.handler.ProcessFile(ctx); err != nil {
			return err
		}
		return m.fire(ctx, EventProcessFile)

	case StateFileProcessed:
		out, ok, err := m.handler.Run(ctx)
		if err != nil {
			return err
		}
		if !ok {
			return m.fire(ctx, EventNoResponse)
		}
		m.output = out
		return m.fire(ctx, EventOutput)

	case StateDeviceNotResponding:
		m.retries++
		metrics.DeviceTimeouts.WithLabelValues(m.pool).Inc()

		if m.retries > m.retryMaximum {
			m.succeeded = false
			m.logger.Info("Device did not respond, giving up", "retries", m.retries, "max", m.retryMaximum)
			m.handler.HandleTimeout(ctx)
			if err := m.power.Restart(ctx, m.port); err != nil {
				return err
			}
			return m.fire(ctx, EventGiveUp)
		}

		m.logger.Info("Device did not respond, power-cycling", "retry", m.retries, "max", m.retryMaximum, "port", m.port)
		if err := m.power.Restart(ctx, m.port); err != nil {
			return err
		}
		m.handler.HandleTimeout(ctx)
		return m.fire(ctx, EventRetry)

	case StateOutputReceived:
		m.succeeded = true
		return m.fire(ctx, EventComplete)

	case StateFinished:
		m.exit(ctx)
		m.terminal = true
		return m.fire(ctx, EventSeal)

	default:
		return faults.StateMachinef("job state machine entered illegal state %q", state)
	}
}

func (m *Machine) fire(ctx context.Context, event string) error {
	from := m.fsm.Current()
	if err := m.fsm.Event(ctx, event); err != nil {
		return faults.StateMachinef("event %s from %s: %w", event, from, err)
	}
	return nil
}

// exit runs the handler's Exit hook at most once. Its error is logged only:
// the job result is already decided.
func (m *Machine) exit(ctx context.Context) {
	if m.exited {
		return
	}
	m.exited = true
	if err := m.handler.Exit(ctx); err != nil {
		m.logger.Error(err, "Device handler cleanup failed")
	}
}

func (m *Machine) guardRetry(_ context.Context, _ *fsm.Event) error {
	if m.retries > m.retryMaximum {
		return fmt.Errorf("retry %d exceeds maximum %d", m.retries, m.retryMaximum)
	}
	return nil
}

func (m *Machine) onEnterState(_ context.Context, e *fsm.Event) error {
	m.visits[e.Dst]++
	if e.Dst == StateFinished && m.visits[e.Dst] > 1 {
		return fmt.Errorf("finished entered twice")
	}
	m.logger.Debug("State changed", "from", e.Src, "to", e.Dst, "event", e.Event)
	return nil
}
