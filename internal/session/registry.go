package session

import (
	"sync"

	utilerrors "k8s.io/apimachinery/pkg/util/errors"

	"github.com/autopeer-io/boardfarm/internal/pkg/faults"
)

// Registry holds the sessions of one pool, indexed by board slot. Sessions
// are created on first use and live until Close.
type Registry struct {
	mu       sync.Mutex
	sessions []*Session
}

func NewRegistry() *Registry {
	return &Registry{}
}

// GetOrCreate returns the session of slot, creating it with newFn when slot
// is the next unregistered index. Registering past the next index is a fatal
// bookkeeping fault.
func (r *Registry) GetOrCreate(slot int, newFn func() (*Session, error)) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch {
	case slot < 0:
		return nil, faults.Fatalf("session slot %d is negative", slot)
	case slot < len(r.sessions):
		return r.sessions[slot], nil
	case slot > len(r.sessions):
		return nil, faults.Fatalf("session slot %d registered before slot %d", slot, len(r.sessions))
	}

	s, err := newFn()
	if err != nil {
		return nil, err
	}
	r.sessions = append(r.sessions, s)
	return s, nil
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Close stops every session.
func (r *Registry) Close() error {
	r.mu.Lock()
	sessions := r.sessions
	r.mu.Unlock()

	var errs []error
	for _, s := range sessions {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return utilerrors.NewAggregate(errs)
}
