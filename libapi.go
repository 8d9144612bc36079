package apibridge

import (
	"google.golang.org/protobuf/proto"

	runtimepkg "github.com/drblury/apibridge/internal/runtime"
	configpkg "github.com/drblury/apibridge/internal/runtime/config"
	correlationpkg "github.com/drblury/apibridge/internal/runtime/correlation"
	envelopepkg "github.com/drblury/apibridge/internal/runtime/envelope"
	errspkg "github.com/drblury/apibridge/internal/runtime/errors"
	handlerpkg "github.com/drblury/apibridge/internal/runtime/handlers"
	idspkg "github.com/drblury/apibridge/internal/runtime/ids"
	jsoncodec "github.com/drblury/apibridge/internal/runtime/jsoncodec"
	loggingpkg "github.com/drblury/apibridge/internal/runtime/logging"
	metadatapkg "github.com/drblury/apibridge/internal/runtime/metadata"
	schemapkg "github.com/drblury/apibridge/internal/runtime/schema"
	transportpkg "github.com/drblury/apibridge/internal/runtime/transport"
	brokers "github.com/drblury/apibridge/transport"
)

type (
	Config              = configpkg.Config
	Service             = runtimepkg.Service
	ServiceDependencies = runtimepkg.ServiceDependencies
	SendOptions         = runtimepkg.SendOptions
	Reply               = runtimepkg.Reply

	Transport        = transportpkg.Transport
	TransportFactory = transportpkg.Factory
	TransportBuilder = brokers.Builder
	Capabilities     = brokers.Capabilities

	Schema          = schemapkg.Schema
	ServiceSchema   = schemapkg.ServiceSchema
	ProtocolSection = schemapkg.ProtocolSection
	ProtocolConfig  = schemapkg.ProtocolConfig
	SchemaBuilder   = schemapkg.Builder
	SchemaProvider  = schemapkg.Provider
	SchemaFunc      = schemapkg.ProviderFunc
	// StaticSchemaProvider serves a schema built in code.
	StaticSchemaProvider  = schemapkg.StaticProvider
	CachingSchemaProvider = schemapkg.CachingProvider
	HTTPSchemaProvider    = schemapkg.HTTPProvider
	Protocol              = schemapkg.Protocol
	Direction             = schemapkg.Direction
	ParamType             = schemapkg.ParamType
	ParamSpec             = schemapkg.ParamSpec
	InputParam            = schemapkg.InputParam

	Envelope         = envelopepkg.Envelope
	CallbackEnvelope = envelopepkg.CallbackEnvelope

	Request             = handlerpkg.Request
	Callback            = handlerpkg.Callback
	MethodHandler       = handlerpkg.MethodHandler
	MethodHandlerFunc   = handlerpkg.MethodHandlerFunc
	CallbackHandler     = handlerpkg.CallbackHandler
	CallbackHandlerFunc = handlerpkg.CallbackHandlerFunc

	JSONMethodHandler[T any, O any]                      = handlerpkg.JSONMethodHandler[T, O]
	JSONCallbackHandler[T any]                           = handlerpkg.JSONCallbackHandler[T]
	ProtoMethodHandler[T proto.Message, O proto.Message] = handlerpkg.ProtoMethodHandler[T, O]

	CorrelationStore = correlationpkg.Store
	MemoryStore      = correlationpkg.MemoryStore
	RedisStore       = correlationpkg.RedisStore

	MiddlewareBuilder      = runtimepkg.MiddlewareBuilder
	MiddlewareRegistration = runtimepkg.MiddlewareRegistration
	RetryMiddlewareConfig  = runtimepkg.RetryMiddlewareConfig

	JobContext = runtimepkg.JobContext
	JobHooks   = runtimepkg.JobHooks

	HandlerInfo             = runtimepkg.HandlerInfo
	HandlerStats            = runtimepkg.HandlerStats
	DispatchMetrics         = runtimepkg.DispatchMetrics
	DispatchMetricsSnapshot = runtimepkg.DispatchMetricsSnapshot
	ErrorClassifier         = runtimepkg.ErrorClassifier
	ErrorCategory           = runtimepkg.ErrorCategory
	RejectedEnvelopeError   = runtimepkg.RejectedEnvelopeError

	Metadata      = metadatapkg.Metadata
	LogFields     = loggingpkg.LogFields
	ServiceLogger = loggingpkg.ServiceLogger

	// Error is the structured failure carried by every exchange error.
	Error     = errspkg.Error
	ErrorKind = errspkg.Kind
)

var (
	NewService     = runtimepkg.NewService
	TryNewService  = runtimepkg.TryNewService
	LoadConfig     = configpkg.Load
	ParseConfig    = configpkg.Parse
	ValidateConfig = configpkg.ValidateConfig

	NewSchemaBuilder      = schemapkg.NewBuilder
	ParseSchema           = schemapkg.Parse
	NewHTTPSchemaProvider = schemapkg.NewHTTPProvider
	Param                 = schemapkg.Param
	InputsFromMap         = schemapkg.InputsFromMap

	NewEnvelope = envelopepkg.New

	NewMemoryStore   = correlationpkg.NewMemoryStore
	NewRedisStore    = correlationpkg.NewRedisStore
	DialRedisStore   = correlationpkg.DialRedisStore
	ErrNotCorrelated = correlationpkg.ErrNotFound

	DefaultMiddlewares      = runtimepkg.DefaultMiddlewares
	CorrelationIDMiddleware = runtimepkg.CorrelationIDMiddleware
	LogMessagesMiddleware   = runtimepkg.LogMessagesMiddleware
	TracerMiddleware        = runtimepkg.TracerMiddleware
	MetricsMiddleware       = runtimepkg.MetricsMiddleware
	RetryMiddleware         = runtimepkg.RetryMiddleware
	PoisonQueueMiddleware   = runtimepkg.PoisonQueueMiddleware
	RecovererMiddleware     = runtimepkg.RecovererMiddleware

	JobHooksMiddleware = runtimepkg.JobHooksMiddleware
	LoggingHooks       = runtimepkg.LoggingHooks
	MetricsHooks       = runtimepkg.MetricsHooks
	AlertingHooks      = runtimepkg.AlertingHooks

	NewDispatchMetrics = runtimepkg.NewDispatchMetrics

	RegisterTransport = brokers.Register
	GetCapabilities   = brokers.GetCapabilities
	StaticTransport   = transportpkg.Static

	Marshal       = jsoncodec.Marshal
	MarshalIndent = jsoncodec.MarshalIndent
	Unmarshal     = jsoncodec.Unmarshal

	NewSlogServiceLogger = loggingpkg.NewSlogServiceLogger
	NewNopServiceLogger  = loggingpkg.NewNopServiceLogger

	NewMetadata = metadatapkg.New
	CreateULID  = idspkg.CreateULID

	KindOf = errspkg.KindOf

	// Exchange failures.
	ErrServiceNotFound             = errspkg.ErrServiceNotFound
	ErrMethodNotFound              = errspkg.ErrMethodNotFound
	ErrParamNotFound               = errspkg.ErrParamNotFound
	ErrRequireParamNotSet          = errspkg.ErrRequireParamNotSet
	ErrWrongTypeParam              = errspkg.ErrWrongTypeParam
	ErrWrongSizeParam              = errspkg.ErrWrongSizeParam
	ErrParamValidateFail           = errspkg.ErrParamValidateFail
	ErrServiceMethodNotAllowed     = errspkg.ErrServiceMethodNotAllowed
	ErrAllServiceMethodsNotAllowed = errspkg.ErrAllServiceMethodsNotAllowed
	ErrTimeout                     = errspkg.ErrTimeout
	ErrTransport                   = errspkg.ErrTransport
	ErrMethodNotSet                = errspkg.ErrMethodNotSet
	ErrHandlerFailed               = errspkg.ErrHandlerFailed
	ErrDuplicateCorrelation        = errspkg.ErrDuplicateCorrelation

	// Setup failures.
	ErrServiceRequired     = errspkg.ErrServiceRequired
	ErrHandlerRequired     = errspkg.ErrHandlerRequired
	ErrMethodNameRequired  = errspkg.ErrMethodNameRequired
	ErrPublisherRequired   = errspkg.ErrPublisherRequired
	ErrSubscriberRequired  = errspkg.ErrSubscriberRequired
	ErrConfigRequired      = errspkg.ErrConfigRequired
	ErrLoggerRequired      = errspkg.ErrLoggerRequired
	ErrSchemaRequired      = errspkg.ErrSchemaRequired
	ErrServiceNameRequired = errspkg.ErrServiceNameRequired
	ErrServiceClosed       = errspkg.ErrServiceClosed
)

const (
	ProtocolHTTP = schemapkg.ProtocolHTTP
	ProtocolAMQP = schemapkg.ProtocolAMQP

	DirectionRead  = schemapkg.DirectionRead
	DirectionWrite = schemapkg.DirectionWrite

	TypeStr    = schemapkg.TypeStr
	TypeInt    = schemapkg.TypeInt
	TypeFloat  = schemapkg.TypeFloat
	TypeGUID   = schemapkg.TypeGUID
	TypeMD5    = schemapkg.TypeMD5
	TypeJSON   = schemapkg.TypeJSON
	TypeBin    = schemapkg.TypeBin
	TypeDate   = schemapkg.TypeDate
	TypeBool   = schemapkg.TypeBool
	TypeBase64 = schemapkg.TypeBase64
)

const (
	KindUnknown         = errspkg.KindUnknown
	KindNotFound        = errspkg.KindNotFound
	KindValidation      = errspkg.KindValidation
	KindWrongType       = errspkg.KindWrongType
	KindWrongSize       = errspkg.KindWrongSize
	KindRequiredMissing = errspkg.KindRequiredMissing
	KindUnauthorized    = errspkg.KindUnauthorized
	KindTimeout         = errspkg.KindTimeout
	KindTransport       = errspkg.KindTransport
	KindHandler         = errspkg.KindHandler
)

const (
	HandlerKindMethod   = runtimepkg.HandlerKindMethod
	HandlerKindCallback = runtimepkg.HandlerKindCallback
)

const (
	MetadataKeyCorrelationID = metadatapkg.KeyCorrelationID
	MetadataKeyResponseID    = metadatapkg.KeyResponseID
	MetadataKeyFromService   = metadatapkg.KeyFromService
	MetadataKeyToService     = metadatapkg.KeyToService
	MetadataKeyMethod        = metadatapkg.KeyMethod
)

const (
	ErrorCategoryNone         = runtimepkg.ErrorCategoryNone
	ErrorCategoryValidation   = runtimepkg.ErrorCategoryValidation
	ErrorCategoryUnauthorized = runtimepkg.ErrorCategoryUnauthorized
	ErrorCategoryTransport    = runtimepkg.ErrorCategoryTransport
	ErrorCategoryTimeout      = runtimepkg.ErrorCategoryTimeout
	ErrorCategoryHandler      = runtimepkg.ErrorCategoryHandler
	ErrorCategoryOther        = runtimepkg.ErrorCategoryOther
)

func RegisterJSONMethod[T any, O any](svc *Service, name string, fn JSONMethodHandler[T, O]) error {
	return runtimepkg.RegisterJSONMethod(svc, name, fn)
}

func RegisterJSONCallback[T any](svc *Service, name string, fn JSONCallbackHandler[T]) error {
	return runtimepkg.RegisterJSONCallback(svc, name, fn)
}

func RegisterProtoMethod[T proto.Message, O proto.Message](svc *Service, name string, fn ProtoMethodHandler[T, O]) error {
	return runtimepkg.RegisterProtoMethod(svc, name, fn)
}

// NewStaticSchemaProvider wraps a schema built with NewSchemaBuilder or
// ParseSchema.
func NewStaticSchemaProvider(s *Schema) StaticSchemaProvider {
	return StaticSchemaProvider{Schema: s}
}

// NewCachingSchemaProvider fetches the schema once from source.
func NewCachingSchemaProvider(source SchemaProvider) *CachingSchemaProvider {
	return &CachingSchemaProvider{Source: source}
}
