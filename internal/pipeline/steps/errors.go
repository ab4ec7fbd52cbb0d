package steps

import (
	"context"
	"errors"
	"sync"
)

// ErrInterrupted is returned when the caller cancelled a run before it finished. The job
// row is left non-terminal so another worker can resume it.
var ErrInterrupted = errors.New("run interrupted")

// PermanentError marks a failure that retrying cannot fix.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }

func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent wraps err so the executor skips the remaining attempts.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// IsPermanent reports whether err carries a PermanentError.
func IsPermanent(err error) bool {
	var p *PermanentError
	return errors.As(err, &p)
}

// Scope collects cleanup functions and runs them once, last registered first.
type Scope struct {
	mu     sync.Mutex
	fns    []func(ctx context.Context)
	closed bool
}

// Defer registers fn. Functions registered after Close run immediately.
func (s *Scope) Defer(fn func(ctx context.Context)) {
	s.mu.Lock()
	if !s.closed {
		s.fns = append(s.fns, fn)
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()
	fn(context.Background())
}

// Close runs the registered functions. Later calls are no-ops.
func (s *Scope) Close(ctx context.Context) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	fns := s.fns
	s.fns = nil
	s.mu.Unlock()

	for i := len(fns) - 1; i >= 0; i-- {
		fns[i](ctx)
	}
}
