package future

import "context"

// Realize awaits every future in order and returns their values in the same
// order. The first failure encountered is returned immediately and the
// remaining futures are abandoned: they are not cancelled, simply never
// awaited again by this call.
func Realize[T any](ctx context.Context, futures []*Future[T]) ([]T, error) {
	values := make([]T, 0, len(futures))
	for _, f := range futures {
		v, err := f.Get(ctx)
		if err != nil {
			return nil, err
		}
		values = append(values, v)
	}
	return values, nil
}
