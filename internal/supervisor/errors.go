package supervisor

import "errors"

// ErrStopped is returned by operations on a supervisor that has quit.
var ErrStopped = errors.New("supervisor is stopped")
