package handlers

import (
	"context"
	"fmt"
	"reflect"

	errspkg "github.com/drblury/apibridge/internal/runtime/errors"
	"github.com/drblury/apibridge/internal/runtime/jsoncodec"
)

// JSONMethodHandler receives the request params decoded into T. Returning
// a nil O sends no callback.
type JSONMethodHandler[T any, O any] func(ctx context.Context, req *Request, params T) (O, error)

// BuildJSONMethod converts a typed handler into a MethodHandler. T must be
// a pointer type.
func BuildJSONMethod[T any, O any](handler JSONMethodHandler[T, O]) (MethodHandler, error) {
	if handler == nil {
		return nil, errspkg.ErrHandlerRequired
	}

	prototypeFactory, err := jsonPrototypeFactory[T]()
	if err != nil {
		return nil, err
	}

	return MethodHandlerFunc(func(ctx context.Context, req *Request) (any, error) {
		raw, err := jsoncodec.Marshal(req.Params)
		if err != nil {
			return nil, fmt.Errorf("failed to encode params of %s: %w", req.Method, err)
		}
		typed := prototypeFactory()
		if err := jsoncodec.Unmarshal(raw, typed); err != nil {
			return nil, fmt.Errorf("failed to decode params of %s: %w", req.Method, err)
		}

		out, err := handler(ctx, req, typed)
		if err != nil {
			return nil, err
		}
		if isNilValue(out) {
			return nil, nil
		}
		return out, nil
	}), nil
}

func jsonPrototypeFactory[T any]() (func() T, error) {
	var zero T
	typ := reflect.TypeOf(zero)
	if typ == nil {
		return nil, errspkg.ErrPrototypeRequired
	}
	if typ.Kind() != reflect.Ptr {
		return nil, errspkg.ErrPrototypePointer
	}
	elem := typ.Elem()
	return func() T {
		return reflect.New(elem).Interface().(T)
	}, nil
}

func isNilValue(v any) bool {
	if v == nil {
		return true
	}
	val := reflect.ValueOf(v)
	switch val.Kind() {
	case reflect.Interface, reflect.Ptr, reflect.Slice, reflect.Map, reflect.Func, reflect.Chan:
		return val.IsNil()
	default:
		return false
	}
}

// JSONCallbackHandler receives the callback response decoded into T.
type JSONCallbackHandler[T any] func(ctx context.Context, cb *Callback, response T) error

// BuildJSONCallback converts a typed callback handler into a CallbackHandler.
// Error callbacks are decoded like any other response; check cb.Err first.
func BuildJSONCallback[T any](handler JSONCallbackHandler[T]) (CallbackHandler, error) {
	if handler == nil {
		return nil, errspkg.ErrHandlerRequired
	}

	prototypeFactory, err := jsonPrototypeFactory[T]()
	if err != nil {
		return nil, err
	}

	return CallbackHandlerFunc(func(ctx context.Context, cb *Callback) error {
		typed := prototypeFactory()
		if cb.Response != nil {
			raw, err := jsoncodec.Marshal(cb.Response)
			if err != nil {
				return fmt.Errorf("failed to encode response of %s: %w", cb.Method, err)
			}
			if err := jsoncodec.Unmarshal(raw, typed); err != nil {
				return fmt.Errorf("failed to decode response of %s: %w", cb.Method, err)
			}
		}
		return handler(ctx, cb, typed)
	}), nil
}
