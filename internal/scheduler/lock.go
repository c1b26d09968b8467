package scheduler

import (
	"github.com/gofrs/flock"
	"github.com/rotisserie/eris"
)

// ErrAlreadyRunning is returned when another process holds the instance lock.
var ErrAlreadyRunning = eris.New("scheduler: another instance is already running")

// InstanceLock keeps a second daemon from driving the same ledger from
// this host.
type InstanceLock struct {
	fl *flock.Flock
}

// AcquireInstanceLock takes an exclusive, non-blocking lock on path.
func AcquireInstanceLock(path string) (*InstanceLock, error) {
	fl := flock.New(path)
	ok, err := fl.TryLock()
	if err != nil {
		return nil, eris.Wrapf(err, "scheduler: lock %s", path)
	}
	if !ok {
		return nil, ErrAlreadyRunning
	}
	return &InstanceLock{fl: fl}, nil
}

// Release unlocks the lock file.
func (l *InstanceLock) Release() error {
	return eris.Wrap(l.fl.Unlock(), "scheduler: unlock")
}

// Path is the lock file path.
func (l *InstanceLock) Path() string {
	return l.fl.Path()
}
