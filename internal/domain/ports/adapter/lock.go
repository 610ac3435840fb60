package adapter

import "context"

// Locker serialises checkpoint runs by name. Acquire returns domain.ErrLockHeld when
// another run holds the lock; release is safe to call more than once.
type Locker interface {
	Acquire(ctx context.Context, name string) (release func(), err error)
	Locked(ctx context.Context, name string) (bool, error)
}
