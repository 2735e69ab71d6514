package correlator

import "sync/atomic"

// Completion is a single-use completion handle. The first Fulfill wins; any
// later attempt is a counted no-op. Any number of goroutines may wait on
// Done.
type Completion struct {
	fired      atomic.Bool
	done       chan struct{}
	result     Result
	suppressed func()
}

func newCompletion(onSuppressed func()) *Completion {
	return &Completion{done: make(chan struct{}), suppressed: onSuppressed}
}

// Fulfill completes the handle with r. It reports whether this call won.
func (c *Completion) Fulfill(r Result) bool {
	if !c.fired.CompareAndSwap(false, true) {
		if c.suppressed != nil {
			c.suppressed()
		}
		return false
	}
	c.result = r
	close(c.done)
	return true
}

// Done is closed once the handle has been fulfilled.
func (c *Completion) Done() <-chan struct{} {
	return c.done
}

// Settled reports whether the handle has been fulfilled.
func (c *Completion) Settled() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// Result blocks until the handle is fulfilled and returns its result.
func (c *Completion) Result() Result {
	<-c.done
	return c.result
}
