package apperrors

// Kind classifies an error for HTTP mapping.
type Kind string

const (
	KindNotFound        Kind = "NOT_FOUND"
	KindInvalidArgument Kind = "INVALID_ARGUMENT"
	KindUnavailable     Kind = "UNAVAILABLE"
	KindProtocolFault   Kind = "PROTOCOL_FAULT"
	KindTransport       Kind = "TRANSPORT_ERROR"
	KindUnauthorized    Kind = "UNAUTHORIZED"
	KindInternal        Kind = "INTERNAL_ERROR"
)

// ErrorBody is the serialized error payload.
type ErrorBody struct {
	Kind    Kind           `json:"kind"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// AppError carries a classification, an HTTP status, and optional detail
// fields for the response body.
type AppError struct {
	Kind       Kind
	Message    string
	StatusCode int
	Details    map[string]any
	cause      error
}

func (e *AppError) Error() string {
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.cause
}

func (e *AppError) Body() ErrorBody {
	return ErrorBody{Kind: e.Kind, Message: e.Message, Details: e.Details}
}

func NewNotFound(resource, id string) *AppError {
	message := resource + " not found"
	details := map[string]any{"resource": resource}
	if id != "" {
		message += ": " + id
		details["id"] = id
	}
	return &AppError{Kind: KindNotFound, Message: message, StatusCode: 404, Details: details}
}

func NewInvalidArgument(message string) *AppError {
	return &AppError{Kind: KindInvalidArgument, Message: message, StatusCode: 400}
}

func NewUnavailable(message string) *AppError {
	return &AppError{Kind: KindUnavailable, Message: message, StatusCode: 503}
}

// NewProtocolFault wraps a rejected UPnP action, keeping the numeric code
// in the details.
func NewProtocolFault(message string, code int, cause error) *AppError {
	return &AppError{
		Kind:       KindProtocolFault,
		Message:    message,
		StatusCode: 502,
		Details:    map[string]any{"upnpErrorCode": code},
		cause:      cause,
	}
}

func NewTransport(message string, cause error) *AppError {
	return &AppError{Kind: KindTransport, Message: message, StatusCode: 504, cause: cause}
}

func NewUnauthorized(message string) *AppError {
	return &AppError{Kind: KindUnauthorized, Message: message, StatusCode: 401}
}

func NewInternal(message string) *AppError {
	return &AppError{Kind: KindInternal, Message: message, StatusCode: 500}
}

// Ensure converts an arbitrary error into an AppError without losing an
// existing classification.
func Ensure(err error) *AppError {
	if err == nil {
		return NewInternal("unknown error")
	}
	if appErr, ok := err.(*AppError); ok {
		return appErr
	}
	return &AppError{Kind: KindInternal, Message: err.Error(), StatusCode: 500, cause: err}
}
