package model

import (
	"fmt"
	"time"
)

// PoolKey identifies a board pool.
type PoolKey struct {
	Architecture string
	Board        string
}

func (k PoolKey) String() string {
	return k.Architecture + "/" + k.Board
}

// MaxJobTimeout bounds the run and serial timeouts of a job.
const MaxJobTimeout = 7 * 24 * time.Hour

// JobConfig is the structured part of an execution request.
type JobConfig struct {
	// Architecture and Board select the pool.
	Architecture string
	Board        string

	// RetryMaximum is how many times a device that does not answer is
	// power-cycled and retried before the job fails.
	RetryMaximum int

	// Timeout bounds a single device run, from image hand-off to end marker.
	Timeout time.Duration

	// EndMarker is literal console text that ends a test.
	EndMarker string

	// SerialTimeout is the read timeout applied to the console.
	SerialTimeout time.Duration
}

// Job is an immutable unit of work: a binary plus how to run it.
type Job struct {
	ID      string
	Payload []byte
	Config  JobConfig

	// ReceivedAt is set when the request was fully decoded.
	ReceivedAt time.Time
}

func (j *Job) PoolKey() PoolKey {
	return PoolKey{Architecture: j.Config.Architecture, Board: j.Config.Board}
}

// Validate rejects requests that cannot possibly run.
func (c JobConfig) Validate() error {
	switch {
	case c.Architecture == "" || c.Board == "":
		return fmt.Errorf("target architecture and board are required")
	case c.RetryMaximum < 0:
		return fmt.Errorf("retry maximum must not be negative, got %d", c.RetryMaximum)
	case c.Timeout <= 0 || c.Timeout > MaxJobTimeout:
		return fmt.Errorf("timeout must be within (0, %s], got %s", MaxJobTimeout, c.Timeout)
	case c.EndMarker == "":
		return fmt.Errorf("end marker must not be empty")
	case c.SerialTimeout < 0 || c.SerialTimeout > MaxJobTimeout:
		return fmt.Errorf("serial timeout must be within [0, %s], got %s", MaxJobTimeout, c.SerialTimeout)
	}
	return nil
}
