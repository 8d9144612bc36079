package runtime

import (
	apierrors "github.com/drblury/apibridge/internal/runtime/errors"
	handlerpkg "github.com/drblury/apibridge/internal/runtime/handlers"
)

// RegisterJSONMethod registers a method whose params are decoded into T.
func RegisterJSONMethod[T any, O any](svc *Service, name string, fn handlerpkg.JSONMethodHandler[T, O]) error {
	if svc == nil {
		return apierrors.ErrServiceRequired
	}

	wrapped, err := handlerpkg.BuildJSONMethod(fn)
	if err != nil {
		return err
	}
	return svc.RegisterMethod(name, wrapped)
}

// RegisterJSONCallback registers a callback whose response is decoded into T.
func RegisterJSONCallback[T any](svc *Service, name string, fn handlerpkg.JSONCallbackHandler[T]) error {
	if svc == nil {
		return apierrors.ErrServiceRequired
	}

	wrapped, err := handlerpkg.BuildJSONCallback(fn)
	if err != nil {
		return err
	}
	return svc.RegisterCallback(name, wrapped)
}
