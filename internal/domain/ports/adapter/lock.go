package adapter

import "context"

// Locker provides mutual exclusion per key. The returned unlock must be
// called exactly once.
type Locker interface {
	Lock(ctx context.Context, key string) (unlock func(), err error)
}
