package runtime

import (
	"google.golang.org/protobuf/proto"

	apierrors "github.com/drblury/apibridge/internal/runtime/errors"
	handlerpkg "github.com/drblury/apibridge/internal/runtime/handlers"
)

// RegisterProtoMethod registers a method whose params are read into a T
// message with protojson. The returned O is sent as the callback response.
func RegisterProtoMethod[T proto.Message, O proto.Message](svc *Service, name string, fn handlerpkg.ProtoMethodHandler[T, O]) error {
	if svc == nil {
		return apierrors.ErrServiceRequired
	}

	wrapped, err := handlerpkg.BuildProtoMethod(fn)
	if err != nil {
		return err
	}
	return svc.RegisterMethod(name, wrapped)
}
