package faults_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/autopeer-io/boardfarm/internal/pkg/faults"
)

func TestKindOf(t *testing.T) {
	cause := errors.New("telnet: connection reset")

	tests := []struct {
		name string
		err  error
		want faults.Kind
	}{
		{"nil", nil, ""},
		{"plain", cause, faults.KindUnknown},
		{"fatal", faults.Fatalf("port %d does not exist", 7), faults.KindFatal},
		{"wrapped fatal", fmt.Errorf("restart board: %w", faults.Fatalf("limit hit")), faults.KindFatal},
		{"state machine", faults.StateMachinef("handleState(%s)", "idle"), faults.KindStateMachine},
		{"request", faults.Requestf("no matching board pool"), faults.KindRequest},
		{"fatal around request", faults.Fatalf("outer: %w", faults.Requestf("inner")), faults.KindFatal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, faults.KindOf(tt.err))
		})
	}
}

func TestFaultUnwrapKeepsCause(t *testing.T) {
	cause := errors.New("dial tcp: refused")
	err := faults.Fatalf("switch on port 2: %w", cause)

	require.ErrorIs(t, err, cause)
	require.True(t, faults.IsFatal(err))
	require.False(t, faults.IsRequest(err))
	require.Equal(t, "switch on port 2: dial tcp: refused", err.Error())
}

func TestResponseText(t *testing.T) {
	require.Equal(t,
		"RequestError\nno matching board pool for (arm, x)\nrequest terminated",
		faults.ResponseText(faults.Requestf("no matching board pool for (%s, %s)", "arm", "x")))
	require.Equal(t,
		"StateMachineError\nfinished entered twice\n\n\nStatemachine failed",
		faults.ResponseText(faults.StateMachinef("finished entered twice")))
	require.Equal(t,
		"FatalError\nport 9 does not exist\n\nFatal Exception\nSwitching off device\nDisable server",
		faults.ResponseText(faults.Fatalf("port 9 does not exist")))
	require.Equal(t,
		"Error\ncontext canceled\nrequest terminated",
		faults.ResponseText(errors.New("context canceled")))
}
