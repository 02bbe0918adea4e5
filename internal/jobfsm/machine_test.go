package jobfsm

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/autopeer-io/boardfarm/internal/pkg/faults"
	"github.com/autopeer-io/boardfarm/pkg/log"
)

type runResult struct {
	out string
	ok  bool
	err error
}

// script records every collaborator call in order.
type script struct {
	calls      []string
	runs       []runResult
	processErr error
	restartErr error
}

func (s *script) ProcessFile(context.Context) error {
	s.calls = append(s.calls, "process")
	return s.processErr
}

func (s *script) Run(context.Context) (string, bool, error) {
	s.calls = append(s.calls, "run")
	r := s.runs[0]
	s.runs = s.runs[1:]
	return r.out, r.ok, r.err
}

func (s *script) HandleTimeout(context.Context) { s.calls = append(s.calls, "timeout") }

func (s *script) Exit(context.Context) error {
	s.calls = append(s.calls, "exit")
	return nil
}

func (s *script) Restart(_ context.Context, port int) error {
	s.calls = append(s.calls, "restart")
	return s.restartErr
}

func newMachine(s *script, retryMaximum int) *Machine {
	return New(Config{
		JobID:        "job-1",
		Pool:         "arm/test",
		Handler:      s,
		Power:        s,
		Port:         2,
		RetryMaximum: retryMaximum,
		Logger:       log.NewNopLogger(),
	})
}

func TestRunSucceedsFirstTime(t *testing.T) {
	s := &script{runs: []runResult{{out: "*** END OF TEST ***", ok: true}}}
	m := newMachine(s, 1)

	out, ok, err := m.Run(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "*** END OF TEST ***", out)
	require.Equal(t, []string{"process", "run", "exit"}, s.calls)
	require.Equal(t, StateErrorState, m.Current())
	require.Equal(t, 1, m.Visits(StateFinished))
}

func TestRetryExhausted(t *testing.T) {
	s := &script{runs: []runResult{{}, {}}}
	m := newMachine(s, 1)

	out, ok, err := m.Run(context.Background())
	require.NoError(t, err)
	require.False(t, ok)
	require.Empty(t, out)
	require.Equal(t, 2, m.Retries())
	require.Equal(t, []string{
		"process",
		"run", "restart", "timeout",
		"run", "timeout", "restart",
		"exit",
	}, s.calls)
	require.Equal(t, 1, m.Visits(StateFinished))
}

func TestRetryThenOutput(t *testing.T) {
	s := &script{runs: []runResult{{}, {}, {out: "ok", ok: true}}}
	m := newMachine(s, 2)

	out, ok, err := m.Run(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "ok", out)
	require.Equal(t, 2, m.Retries())
	require.Equal(t, 3, m.Visits(StateFileProcessed))
}

func TestZeroRetriesStillPowerCycles(t *testing.T) {
	s := &script{runs: []runResult{{}}}
	m := newMachine(s, 0)

	_, ok, err := m.Run(context.Background())
	require.NoError(t, err)
	require.False(t, ok)
	require.Equal(t, []string{"process", "run", "timeout", "restart", "exit"}, s.calls)
}

func TestFatalRestartPropagates(t *testing.T) {
	s := &script{runs: []runResult{{}}, restartErr: faults.Fatalf("restart limit")}
	m := newMachine(s, 3)

	_, _, err := m.Run(context.Background())
	require.True(t, faults.IsFatal(err))
	require.Equal(t, []string{"process", "run", "restart", "exit"}, s.calls)
}

func TestProcessFileErrorPropagates(t *testing.T) {
	boom := errors.New("objcopy: invalid ELF")
	s := &script{processErr: boom}
	m := newMachine(s, 1)

	_, _, err := m.Run(context.Background())
	require.ErrorIs(t, err, boom)
	require.Equal(t, []string{"process", "exit"}, s.calls)
}

func TestIllegalStates(t *testing.T) {
	for _, state := range []string{StateIdle, StateReceivedFile, StateTestRunning, StateReconfigureDevice, StateErrorState} {
		t.Run(state, func(t *testing.T) {
			s := &script{}
			m := newMachine(s, 1)
			m.fsm.SetState(state)

			err := m.HandleState(context.Background())
			require.True(t, faults.IsStateMachine(err))
			require.Empty(t, s.calls)
		})
	}
}

func TestReentryIsDetected(t *testing.T) {
	s := &script{runs: []runResult{{out: "done", ok: true}}}
	m := newMachine(s, 0)

	_, _, err := m.Run(context.Background())
	require.NoError(t, err)

	_, _, err = m.Run(context.Background())
	require.True(t, faults.IsStateMachine(err))

	err = m.HandleState(context.Background())
	require.True(t, faults.IsStateMachine(err))
	require.Equal(t, []string{"process", "run", "exit"}, s.calls, "exit runs once")
}
