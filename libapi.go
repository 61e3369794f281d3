package commentflow

import (
	"github.com/drblury/commentflow/internal/comments"
	"github.com/drblury/commentflow/internal/consumer"
	runtimepkg "github.com/drblury/commentflow/internal/runtime"
	configpkg "github.com/drblury/commentflow/internal/runtime/config"
	errspkg "github.com/drblury/commentflow/internal/runtime/errors"
	idspkg "github.com/drblury/commentflow/internal/runtime/ids"
	"github.com/drblury/commentflow/internal/runtime/jsoncodec"
	loggingpkg "github.com/drblury/commentflow/internal/runtime/logging"
	metadatapkg "github.com/drblury/commentflow/internal/runtime/metadata"
	"github.com/drblury/commentflow/transport"
)

type (
	Config              = configpkg.Config
	Role                = configpkg.Role
	Service             = runtimepkg.Service
	ServiceDependencies = runtimepkg.ServiceDependencies

	Envelope       = comments.Envelope
	Submission     = comments.Submission
	CommentRecord  = comments.CommentRecord
	User           = comments.User
	FileAttachment = comments.FileAttachment
	FileType       = comments.FileType

	Broadcaster     = comments.Broadcaster
	BroadcasterFunc = comments.BroadcasterFunc

	Metadata = metadatapkg.Metadata

	LogFields                 = loggingpkg.LogFields
	ServiceLogger             = loggingpkg.ServiceLogger
	EntryLoggerAdapter[T any] = loggingpkg.EntryLoggerAdapter[T]

	// Consumer lifecycle hooks
	JobContext = consumer.JobContext
	JobHooks   = consumer.JobHooks

	FieldError            = errspkg.FieldError
	ValidationError       = errspkg.ValidationError
	CaptchaError          = errspkg.CaptchaError
	DeserializationError  = errspkg.DeserializationError
	PersistenceError      = errspkg.PersistenceError
	BroadcastError        = errspkg.BroadcastError
	ConfigValidationError = errspkg.ConfigValidationError
	TransportCapabilities = transport.Capabilities
	TransportBuilder      = transport.Builder
	TransportConfig       = transport.Config
	TransportRegistry     = transport.Registry
	BroadcastTransport    = transport.Transport
)

const (
	RoleAPI      = configpkg.RoleAPI
	RoleConsumer = configpkg.RoleConsumer
	RoleAll      = configpkg.RoleAll
)

var (
	LoadConfig    = configpkg.Load
	DefaultConfig = configpkg.Default
	NewService    = runtimepkg.NewService
	NewLogger     = loggingpkg.New

	NewSlogServiceLogger = loggingpkg.NewSlogServiceLogger
	NewZapServiceLogger  = loggingpkg.NewZapServiceLogger

	LoggingHooks  = consumer.LoggingHooks
	AlertingHooks = consumer.AlertingHooks

	// Broadcast transports. Import the backends through
	// _ "github.com/drblury/commentflow/transport/transports".
	DefaultTransportRegistry = transport.DefaultRegistry
	RegisterTransport        = transport.Register
	BuildTransport           = transport.Build

	Marshal   = jsoncodec.Marshal
	Unmarshal = jsoncodec.Unmarshal

	NewMetadata  = metadatapkg.New
	CreateULID   = idspkg.CreateULID
	NewCommentID = idspkg.NewCommentID

	IsDeadLettered = consumer.IsDeadLettered

	ErrConfigRequired    = errspkg.ErrConfigRequired
	ErrLoggerRequired    = errspkg.ErrLoggerRequired
	ErrValidation        = errspkg.ErrValidation
	ErrCaptcha           = errspkg.ErrCaptcha
	ErrDeserialization   = errspkg.ErrDeserialization
	ErrPersistence       = errspkg.ErrPersistence
	ErrBroadcast         = errspkg.ErrBroadcast
	ErrPublishCancelled  = errspkg.ErrPublishCancelled
	ErrProducerClosed    = errspkg.ErrProducerClosed
	ErrCommentNotFound   = errspkg.ErrCommentNotFound
	ErrParentNotFound    = errspkg.ErrParentNotFound
	ErrUnknownTransport  = errspkg.ErrUnknownTransport
	ErrTransportDisabled = errspkg.ErrTransportDisabled
)

func NewEntryServiceLogger[T EntryLoggerAdapter[T]](entry T) ServiceLogger {
	return loggingpkg.NewEntryServiceLogger(entry)
}
