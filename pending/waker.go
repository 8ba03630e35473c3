package pending

// Waker tells the host loop that new work or a new completion exists.
// Signals coalesce: any number of Wake calls before the loop looks at C
// produce one wakeup, and a Wake is never lost.
type Waker struct {
	ch chan struct{}
}

// NewWaker creates a waker with no pending signal.
func NewWaker() *Waker {
	return &Waker{ch: make(chan struct{}, 1)}
}

// Wake signals the loop without blocking.
func (w *Waker) Wake() {
	select {
	case w.ch <- struct{}{}:
	default:
	}
}

// C returns the channel the loop waits on.
func (w *Waker) C() <-chan struct{} {
	return w.ch
}
