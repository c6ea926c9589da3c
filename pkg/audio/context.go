package audio

import (
	"errors"
	"io"
	"sync"
	"sync/atomic"
)

var liveContexts atomic.Int64

// LiveContexts returns the number of [Context] values created and not yet
// closed in this process. Tests use it as a leak check.
func LiveContexts() int64 {
	return liveContexts.Load()
}

// Context is an audio-processing context: the scope that owns every stream,
// analyser and meter of one capture or playback session. Closing it releases
// everything it owns in reverse order of registration and makes [Context.Done]
// fire, which in turn ends any [Meter] loop attached to it.
type Context struct {
	mu      sync.Mutex
	owned   []io.Closer
	done    chan struct{}
	closeMu sync.Once
	err     error
}

// NewContext returns a running context.
func NewContext() *Context {
	liveContexts.Add(1)
	return &Context{done: make(chan struct{})}
}

// Own registers c to be closed when the context closes. If the context is
// already closed, c is closed immediately and its error returned.
func (a *Context) Own(c io.Closer) error {
	a.mu.Lock()
	select {
	case <-a.done:
		a.mu.Unlock()
		return c.Close()
	default:
	}
	a.owned = append(a.owned, c)
	a.mu.Unlock()
	return nil
}

// Done is closed once the context has been closed.
func (a *Context) Done() <-chan struct{} {
	return a.done
}

// Closed reports whether Close has been called.
func (a *Context) Closed() bool {
	select {
	case <-a.done:
		return true
	default:
		return false
	}
}

// Close closes every owned resource in reverse order and joins their errors.
// Subsequent calls return the first result.
func (a *Context) Close() error {
	a.closeMu.Do(func() {
		a.mu.Lock()
		close(a.done)
		owned := a.owned
		a.owned = nil
		a.mu.Unlock()

		var errs []error
		for i := len(owned) - 1; i >= 0; i-- {
			if err := owned[i].Close(); err != nil {
				errs = append(errs, err)
			}
		}
		a.err = errors.Join(errs...)
		liveContexts.Add(-1)
	})
	return a.err
}

// CloserFunc adapts a plain function to [io.Closer].
type CloserFunc func() error

// Close calls f.
func (f CloserFunc) Close() error { return f() }
