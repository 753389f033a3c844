package async

import (
	"context"
	"errors"
)

// Future is the eventual result of a call started by Async.
type Future[U any] struct {
	result U
	err    error
	done   chan struct{}
}

// Await blocks until the call returns.
func (f *Future[U]) Await() (U, error) {
	<-f.done
	return f.result, f.err
}

// AwaitContext waits for the call or for ctx, whichever ends first. Giving up
// does not stop the call itself.
func (f *Future[U]) AwaitContext(ctx context.Context) (U, error) {
	select {
	case <-f.done:
		return f.result, f.err
	case <-ctx.Done():
		var zero U
		return zero, errors.Join(ErrAbandoned, ctx.Err())
	}
}

// Done is closed once the call has returned.
func (f *Future[U]) Done() <-chan struct{} {
	return f.done
}

// Async runs fn(ctx, param) in its own goroutine. A context that is already
// canceled completes the future with ctx.Err() without calling fn.
func Async[T, U any](ctx context.Context, param T, fn func(context.Context, T) (U, error)) *Future[U] {
	f := &Future[U]{done: make(chan struct{})}

	go func() {
		defer close(f.done)
		if err := ctx.Err(); err != nil {
			f.err = err
			return
		}
		f.result, f.err = fn(ctx, param)
	}()

	return f
}

// Completed returns a future that already holds a result.
func Completed[U any](result U, err error) *Future[U] {
	f := &Future[U]{result: result, err: err, done: make(chan struct{})}
	close(f.done)
	return f
}

// WaitAll waits for every future and joins their errors. Results keep the
// order of the arguments; a failed future contributes its zero value.
func WaitAll[U any](futures ...*Future[U]) ([]U, error) {
	results := make([]U, len(futures))
	var errs []error
	for i, f := range futures {
		res, err := f.Await()
		results[i] = res
		if err != nil {
			errs = append(errs, err)
		}
	}
	return results, errors.Join(errs...)
}
