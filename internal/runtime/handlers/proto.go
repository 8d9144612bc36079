package handlers

import (
	"context"
	"fmt"
	"reflect"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"

	errspkg "github.com/drblury/apibridge/internal/runtime/errors"
	"github.com/drblury/apibridge/internal/runtime/jsoncodec"
)

var (
	protoParamsUnmarshal = protojson.UnmarshalOptions{DiscardUnknown: true}
	protoResultMarshal   = protojson.MarshalOptions{UseProtoNames: true}
)

// ProtoMethodHandler receives the request params decoded into a T message.
// A nil O sends no callback.
type ProtoMethodHandler[T proto.Message, O proto.Message] func(ctx context.Context, req *Request, params T) (O, error)

// BuildProtoMethod converts a typed protobuf handler into a MethodHandler.
// Params are read with protojson; the result is sent as a JSON object.
func BuildProtoMethod[T proto.Message, O proto.Message](handler ProtoMethodHandler[T, O]) (MethodHandler, error) {
	if handler == nil {
		return nil, errspkg.ErrHandlerRequired
	}
	var zero T
	prototype, err := EnsureProtoPrototype(zero)
	if err != nil {
		return nil, err
	}

	return MethodHandlerFunc(func(ctx context.Context, req *Request) (any, error) {
		raw, err := jsoncodec.Marshal(req.Params)
		if err != nil {
			return nil, fmt.Errorf("failed to encode params of %s: %w", req.Method, err)
		}
		typed, err := clonePrototype(prototype)
		if err != nil {
			return nil, err
		}
		if err := protoParamsUnmarshal.Unmarshal(raw, typed); err != nil {
			return nil, fmt.Errorf("failed to unmarshal %T params: %w", prototype, err)
		}

		out, err := handler(ctx, req, typed)
		if err != nil {
			return nil, err
		}
		if isNilProto(out) {
			return nil, nil
		}
		return ProtoToValue(out)
	}), nil
}

// ProtoToValue renders msg as the JSON value sent in a callback response.
// Well-known wrapper types become scalars, everything else an object.
func ProtoToValue(msg proto.Message) (any, error) {
	payload, err := protoResultMarshal.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %T result: %w", msg, err)
	}
	var v any
	if err := jsoncodec.Unmarshal(payload, &v); err != nil {
		return nil, err
	}
	return v, nil
}

// EnsureProtoPrototype returns a non-nil instance for a proto message type.
func EnsureProtoPrototype[T proto.Message](prototype T) (T, error) {
	if !isNilProto(prototype) {
		return prototype, nil
	}
	return instantiateProto(prototype)
}

func clonePrototype[T proto.Message](prototype T) (T, error) {
	var zero T
	if isNilProto(prototype) {
		return zero, errspkg.ErrPrototypeRequired
	}
	typed, ok := prototype.ProtoReflect().New().Interface().(T)
	if !ok {
		return zero, fmt.Errorf("unexpected prototype type %T", prototype)
	}
	return typed, nil
}

func instantiateProto[T proto.Message](candidate T) (T, error) {
	var zero T
	typ := reflect.TypeOf(candidate)
	if typ == nil {
		return zero, errspkg.ErrPrototypeRequired
	}
	if typ.Kind() != reflect.Ptr {
		return zero, errspkg.ErrPrototypePointer
	}
	typed, ok := reflect.New(typ.Elem()).Interface().(T)
	if !ok {
		return zero, fmt.Errorf("unexpected prototype type %s", typ)
	}
	return typed, nil
}

func isNilProto[T proto.Message](msg T) bool {
	m := proto.Message(msg)
	if m == nil {
		return true
	}
	val := reflect.ValueOf(m)
	switch val.Kind() {
	case reflect.Interface, reflect.Ptr, reflect.Slice, reflect.Map, reflect.Func:
		return val.IsNil()
	default:
		return false
	}
}
