package relay

import (
	"sync"

	"github.com/bbockelm/StashCache/pkg/errors"
)

// Relay carries one classified failure from the heartbeat monitor to the
// supervisor's main loop. The failure slot holds a single value; the
// wake channel is what breaks the main loop out of its signal wait, so a
// wake is only ever raised after the deposit has completed.
type Relay struct {
	failure chan *errors.DomainError
	wake    chan struct{}
	once    sync.Once
}

func New() *Relay {
	return &Relay{
		failure: make(chan *errors.DomainError, 1),
		wake:    make(chan struct{}, 1),
	}
}

// Deposit places the failure in the slot and raises the wake. Only the
// first call has any effect; the monitor terminates itself right after
// depositing, so a second producer call is a programming error we
// tolerate silently.
func (r *Relay) Deposit(failure *errors.DomainError) {
	r.once.Do(func() {
		r.failure <- failure
		r.wake <- struct{}{}
	})
}

// Consume blocks until a failure is available and returns the exact
// value deposited. Called at most once, and only after Wake fired.
func (r *Relay) Consume() *errors.DomainError {
	return <-r.failure
}

// Wake is selected on by the supervisor's main loop alongside OS
// signals.
func (r *Relay) Wake() <-chan struct{} {
	return r.wake
}
