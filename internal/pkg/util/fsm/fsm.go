// Package fsm holds helpers for looplab/fsm callbacks.
package fsm

import (
	"context"

	"github.com/looplab/fsm"
)

// WrapEvent adapts a fallible side-effect callback. A returned error is
// stored in event.Err and surfaces from FSM.Event.
func WrapEvent(fn func(ctx context.Context, event *fsm.Event) error) fsm.Callback {
	return func(ctx context.Context, event *fsm.Event) {
		if err := fn(ctx, event); err != nil {
			event.Err = err
		}
	}
}

// Guard adapts a before_<event> check. A returned error cancels the
// transition; FSM.Event then returns fsm.CanceledError wrapping it.
func Guard(fn func(ctx context.Context, event *fsm.Event) error) fsm.Callback {
	return func(ctx context.Context, event *fsm.Event) {
		if err := fn(ctx, event); err != nil {
			event.Cancel(err)
		}
	}
}
