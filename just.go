package weave

import "context"

// Just publishes values, in order, when the set is run. Closing the run
// releases them last-created-first.
func Just[T any](values ...T) DynamicSet[T] {
	return JustFunc(func() []T { return values })
}

// JustFunc publishes the values returned by supply, calling it once per run.
func JustFunc[T any](supply func() []T) DynamicSet[T] {
	return DynamicSet[T]{
		run: func(ctx context.Context, x *execution, sink Sink[T]) (Handle, error) {
			values := supply()
			handles := make([]Handle, 0, len(values))
			for _, v := range values {
				h, err := sink.Publish(ctx, v)
				if err != nil {
					closeAll(ctx, x, handles)
					return nil, err
				}
				handles = append(handles, h)
			}
			return handleList(x, handles), nil
		},
	}
}

// Nothing publishes no instances.
func Nothing[T any]() DynamicSet[T] {
	return DynamicSet[T]{}
}
