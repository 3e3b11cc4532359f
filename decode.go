package weave

import (
	"context"
	"fmt"

	"github.com/zoobzio/capitan"
	"github.com/zoobzio/pipz"
)

// Validator is implemented by decoded values that check themselves.
type Validator interface {
	Validate() error
}

var (
	decodeID    = pipz.NewIdentity("weave:decode", "Decode entry into a value")
	unmarshalID = pipz.NewIdentity("weave:unmarshal", "Unmarshal entry bytes with the configured codec")
	validateID  = pipz.NewIdentity("weave:validate", "Validate decoded value")
	processID   = pipz.NewIdentity("weave:process", "Run value middleware")
)

// decoding carries one entry through the decode pipeline.
type decoding[T any] struct {
	entry Entry
	value T
}

// DecodeOption configures Decode.
type DecodeOption[T any] func(*decoder[T])

// WithCodec sets the codec used to read entry bytes. Default is JSONCodec.
func WithCodec[T any](codec Codec) DecodeOption[T] {
	return func(d *decoder[T]) {
		d.codec = codec
	}
}

// WithMiddleware runs processors over every decoded and validated value,
// in order. A failing processor rejects the entry.
func WithMiddleware[T any](processors ...pipz.Chainable[T]) DecodeOption[T] {
	return func(d *decoder[T]) {
		d.middleware = append(d.middleware, processors...)
	}
}

type decoder[T any] struct {
	codec      Codec
	middleware []pipz.Chainable[T]
	wrappers   []func(pipz.Chainable[T]) pipz.Chainable[T]
	pipeline   pipz.Chainable[*decoding[T]]
}

func newDecoder[T any](opts ...DecodeOption[T]) *decoder[T] {
	d := &decoder[T]{codec: JSONCodec{}}
	for _, opt := range opts {
		opt(d)
	}

	stages := []pipz.Chainable[*decoding[T]]{
		pipz.Apply(unmarshalID, func(_ context.Context, in *decoding[T]) (*decoding[T], error) {
			if err := d.codec.Unmarshal(in.entry.Value, &in.value); err != nil {
				return in, fmt.Errorf("unmarshal %s as %s: %w", in.entry.Key, d.codec.ContentType(), err)
			}
			return in, nil
		}),
		pipz.Apply(validateID, func(_ context.Context, in *decoding[T]) (*decoding[T], error) {
			v, ok := any(in.value).(Validator)
			if !ok {
				v, ok = any(&in.value).(Validator)
			}
			if !ok {
				return in, nil
			}
			if err := v.Validate(); err != nil {
				return in, fmt.Errorf("validate %s: %w", in.entry.Key, err)
			}
			return in, nil
		}),
	}
	if len(d.middleware) > 0 {
		var chain pipz.Chainable[T] = pipz.NewSequence(processID, d.middleware...)
		for _, w := range d.wrappers {
			chain = w(chain)
		}
		stages = append(stages, pipz.Apply(processID, func(ctx context.Context, in *decoding[T]) (*decoding[T], error) {
			v, err := chain.Process(ctx, in.value)
			if err != nil {
				return in, err
			}
			in.value = v
			return in, nil
		}))
	}

	d.pipeline = pipz.NewSequence(decodeID, stages...)
	return d
}

func (d *decoder[T]) decode(ctx context.Context, e Entry) (T, error) {
	out, err := d.pipeline.Process(ctx, &decoding[T]{entry: e})
	if err != nil {
		var zero T
		return zero, err
	}
	return out.value, nil
}

// Decode publishes the value decoded from every entry of s. An entry that
// does not decode or validate fails to publish and is reported as
// weave.decode.failed.
func Decode[T any](s DynamicSet[Entry], opts ...DecodeOption[T]) DynamicSet[T] {
	d := newDecoder(opts...)

	return DynamicSet[T]{
		run: func(ctx context.Context, x *execution, sink Sink[T]) (Handle, error) {
			return s.start(ctx, x, wrap(sink, func(ctx context.Context, e Entry) (Handle, error) {
				v, err := d.decode(ctx, e)
				if err != nil {
					capitan.Emit(ctx, DecodeFailed,
						KeyRunID.Field(x.id),
						KeyResource.Field(e.Key),
						KeyError.Field(err.Error()),
					)
					return nil, publishError(e.Key, err)
				}
				return sink.Publish(ctx, v)
			}))
		},
	}
}
