package errors

import (
	sterrors "errors"
	"fmt"
	"strings"
	"time"
)

// Kind is the closed set of error classes surfaced by the exchange engine.
type Kind int

const (
	KindUnknown Kind = iota
	KindNotFound
	KindValidation
	KindWrongType
	KindWrongSize
	KindRequiredMissing
	KindUnauthorized
	KindTimeout
	KindTransport
	KindHandler
)

var kindNames = map[Kind]string{
	KindUnknown:         "unknown",
	KindNotFound:        "not_found",
	KindValidation:      "validation",
	KindWrongType:       "wrong_type",
	KindWrongSize:       "wrong_size",
	KindRequiredMissing: "required_missing",
	KindUnauthorized:    "unauthorized",
	KindTimeout:         "timeout",
	KindTransport:       "transport",
	KindHandler:         "handler",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Resolution, validation, authorization and runtime sentinels. Match them with errors.Is.
var (
	ErrServiceNotFound             = sterrors.New("apibridge: service not found")
	ErrMethodNotFound              = sterrors.New("apibridge: method not found")
	ErrParamNotFound               = sterrors.New("apibridge: param not found")
	ErrRequireParamNotSet          = sterrors.New("apibridge: required param not set")
	ErrWrongTypeParam              = sterrors.New("apibridge: wrong param type")
	ErrWrongSizeParam              = sterrors.New("apibridge: wrong param size")
	ErrParamValidateFail           = sterrors.New("apibridge: param validation failed")
	ErrServiceMethodNotAllowed     = sterrors.New("apibridge: service method not allowed")
	ErrAllServiceMethodsNotAllowed = sterrors.New("apibridge: all service methods not allowed")
	ErrTimeout                     = sterrors.New("apibridge: timeout")
	ErrTransport                   = sterrors.New("apibridge: transport failure")
	ErrMethodNotSet                = sterrors.New("apibridge: method handler not set")
	ErrHandlerFailed               = sterrors.New("apibridge: handler failed")
	ErrDuplicateCorrelation        = sterrors.New("apibridge: correlation id already fulfilled")
)

// Wiring sentinels returned while building or registering on a Service.
var (
	ErrServiceRequired     = sterrors.New("apibridge: service is required")
	ErrHandlerRequired     = sterrors.New("apibridge: handler function is required")
	ErrMethodNameRequired  = sterrors.New("apibridge: method name is required")
	ErrPublisherRequired   = sterrors.New("apibridge: publisher is required")
	ErrSubscriberRequired  = sterrors.New("apibridge: subscriber is required")
	ErrTopicRequired       = sterrors.New("apibridge: topic is required")
	ErrConfigRequired      = sterrors.New("apibridge: configuration is required")
	ErrLoggerRequired      = sterrors.New("apibridge: logger is required")
	ErrSchemaRequired      = sterrors.New("apibridge: schema is required")
	ErrStoreRequired       = sterrors.New("apibridge: correlation store is required")
	ErrServiceNameRequired = sterrors.New("apibridge: service name is required")
	ErrPrototypeRequired   = sterrors.New("apibridge: message prototype is required")
	ErrPrototypePointer    = sterrors.New("apibridge: message prototype must be a pointer")
	ErrServiceClosed       = sterrors.New("apibridge: service is closed")
	ErrNotListening        = sterrors.New("apibridge: service is not listening for callbacks")
)

var sentinelKinds = []struct {
	err  error
	kind Kind
}{
	{ErrServiceNotFound, KindNotFound},
	{ErrMethodNotFound, KindNotFound},
	{ErrMethodNotSet, KindNotFound},
	{ErrParamNotFound, KindValidation},
	{ErrParamValidateFail, KindValidation},
	{ErrRequireParamNotSet, KindRequiredMissing},
	{ErrWrongTypeParam, KindWrongType},
	{ErrWrongSizeParam, KindWrongSize},
	{ErrServiceMethodNotAllowed, KindUnauthorized},
	{ErrAllServiceMethodsNotAllowed, KindUnauthorized},
	{ErrTimeout, KindTimeout},
	{ErrTransport, KindTransport},
	{ErrHandlerFailed, KindHandler},
}

// Error carries structured context for a failed engine operation.
type Error struct {
	Kind     Kind
	Op       string
	Service  string
	Method   string
	Param    string
	Expected string
	Actual   any
	// Sentinel is one of the package level Err* values.
	Sentinel error
	Cause    error
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Sentinel != nil {
		b.WriteString(e.Sentinel.Error())
	} else {
		b.WriteString("apibridge: " + e.Kind.String())
	}
	if e.Op != "" {
		b.WriteString(" during " + e.Op)
	}
	var ctx []string
	if e.Service != "" {
		ctx = append(ctx, "service="+e.Service)
	}
	if e.Method != "" {
		ctx = append(ctx, "method="+e.Method)
	}
	if e.Param != "" {
		ctx = append(ctx, "param="+e.Param)
	}
	if len(ctx) > 0 {
		b.WriteString(" (" + strings.Join(ctx, " ") + ")")
	}
	if e.Expected != "" {
		fmt.Fprintf(&b, ": expected %s, got %v", e.Expected, e.Actual)
	}
	if e.Cause != nil {
		b.WriteString(": " + e.Cause.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() []error {
	errs := make([]error, 0, 2)
	if e.Sentinel != nil {
		errs = append(errs, e.Sentinel)
	}
	if e.Cause != nil {
		errs = append(errs, e.Cause)
	}
	return errs
}

// KindOf reports the Kind of err, looking through wrapped errors.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	var e *Error
	if sterrors.As(err, &e) && e.Kind != KindUnknown {
		return e.Kind
	}
	for _, sk := range sentinelKinds {
		if sterrors.Is(err, sk.err) {
			return sk.kind
		}
	}
	return KindUnknown
}

func ServiceNotFound(service string) error {
	return &Error{Kind: KindNotFound, Op: "resolve", Service: service, Sentinel: ErrServiceNotFound}
}

func MethodNotFound(service, method string) error {
	return &Error{Kind: KindNotFound, Op: "resolve", Service: service, Method: method, Sentinel: ErrMethodNotFound}
}

func MethodNotSet(service, method string) error {
	return &Error{Kind: KindNotFound, Op: "register", Service: service, Method: method, Sentinel: ErrMethodNotSet}
}

func ParamNotFound(method, param string) error {
	return &Error{Kind: KindValidation, Op: "validate", Method: method, Param: param, Sentinel: ErrParamNotFound}
}

func RequireParamNotSet(method, param string) error {
	return &Error{Kind: KindRequiredMissing, Op: "validate", Method: method, Param: param, Sentinel: ErrRequireParamNotSet}
}

func WrongType(param, expected string, actual any) error {
	return &Error{Kind: KindWrongType, Op: "validate", Param: param, Expected: expected, Actual: actual, Sentinel: ErrWrongTypeParam}
}

func WrongSize(param, expected string, actual any) error {
	return &Error{Kind: KindWrongSize, Op: "validate", Param: param, Expected: expected, Actual: actual, Sentinel: ErrWrongSizeParam}
}

// ParamValidateFail marks a param that failed a check which is neither a type nor a size mismatch.
func ParamValidateFail(param string, cause error) error {
	return &Error{Kind: KindValidation, Op: "validate", Param: param, Sentinel: ErrParamValidateFail, Cause: cause}
}

func ServiceMethodNotAllowed(to, method, from string) error {
	return &Error{
		Kind:     KindUnauthorized,
		Op:       "authorize",
		Service:  to,
		Method:   method,
		Sentinel: ErrServiceMethodNotAllowed,
		Cause:    fmt.Errorf("method %s of service %s is not available from service %s", method, to, from),
	}
}

func AllServiceMethodsNotAllowed(to, from string) error {
	return &Error{
		Kind:     KindUnauthorized,
		Op:       "authorize",
		Service:  to,
		Sentinel: ErrAllServiceMethodsNotAllowed,
		Cause:    fmt.Errorf("methods of service %s are not available from service %s", to, from),
	}
}

func Timeout(op, correlationID string, after time.Duration) error {
	return &Error{
		Kind:     KindTimeout,
		Op:       op,
		Sentinel: ErrTimeout,
		Cause:    fmt.Errorf("no callback for %s after %s", correlationID, after),
	}
}

func Transport(op string, cause error) error {
	return &Error{Kind: KindTransport, Op: op, Sentinel: ErrTransport, Cause: cause}
}

func HandlerFailed(method string, cause error) error {
	return &Error{Kind: KindHandler, Op: "handle", Method: method, Sentinel: ErrHandlerFailed, Cause: cause}
}
