package future

// AfterBoth returns a future that runs fn on exec once both inputs have
// completed successfully. The wait is a continuation: a watcher goroutine
// parks on the input channels and only hands fn to the executor after both
// inputs are ready, so no executor worker is occupied during the wait.
//
// If either input fails, the returned future fails with that input's error as
// soon as the failure is observed, and fn is never submitted.
func AfterBoth[A, B, T any](exec Executor, fa *Future[A], fb *Future[B], fn func(A, B) (T, error)) *Future[T] {
	out := New[T]()

	submit := func() {
		exec.Submit(func() {
			out.Complete(fn(fa.value, fb.value))
		})
	}

	// Inputs that are already settled need no watcher. This also keeps the
	// direct execution context fully deterministic: the submission happens
	// on the calling goroutine, in registration order.
	if fa.settled() && fb.settled() {
		var zero T
		if fa.err != nil {
			out.Complete(zero, fa.err)
		} else if fb.err != nil {
			out.Complete(zero, fb.err)
		} else {
			submit()
		}
		return out
	}

	go func() {
		var zero T
		ad, bd := fa.Done(), fb.Done()
		for ad != nil || bd != nil {
			select {
			case <-ad:
				ad = nil
				if fa.err != nil {
					out.Complete(zero, fa.err)
					return
				}
			case <-bd:
				bd = nil
				if fb.err != nil {
					out.Complete(zero, fb.err)
					return
				}
			}
		}
		submit()
	}()
	return out
}
