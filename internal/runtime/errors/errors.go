package errors

import (
	sterrors "errors"
	"fmt"

	pkgerrors "github.com/pkg/errors"
)

var (
	ErrDriverRequired     = sterrors.New("asyncflow: queue driver is required")
	ErrHandlerRequired    = sterrors.New("asyncflow: handler is required")
	ErrSerializerRequired = sterrors.New("asyncflow: serializer is required")
	ErrQueueRequired      = sterrors.New("asyncflow: queue name is required")
	ErrConfigRequired     = sterrors.New("asyncflow: config is required")
	ErrLoggerRequired     = sterrors.New("asyncflow: logger is required")
	ErrServiceRequired    = sterrors.New("asyncflow: service is required")
	ErrNilMessage         = sterrors.New("asyncflow: message is nil")
	ErrDecode             = sterrors.New("asyncflow: could not decode message")
	ErrUnknownMessageType = sterrors.New("asyncflow: unknown message type")
	ErrNoHandler          = sterrors.New("asyncflow: no handler registered for message")
	ErrAlreadyRegistered  = sterrors.New("asyncflow: message type already registered")
	ErrDriverClosed       = sterrors.New("asyncflow: queue driver is closed")
	ErrUnknownTransport   = sterrors.New("asyncflow: unknown transport")

	// ErrPermanent marks failures that must not be retried.
	ErrPermanent = sterrors.New("asyncflow: permanent failure")

	// ErrSevere marks failures that leave the process in a state where further
	// message processing is unsafe. Runners stop consuming when they see one.
	ErrSevere = sterrors.New("asyncflow: severe failure")
)

// PermanentError wraps a handler failure that should not be retried.
type PermanentError struct {
	Cause error
}

// Permanent marks err as non-retryable. A nil err stays nil.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Cause: err}
}

func (e *PermanentError) Error() string {
	return fmt.Sprintf("asyncflow: permanent failure: %v", e.Cause)
}

func (e *PermanentError) Unwrap() error { return e.Cause }

func (e *PermanentError) Is(target error) bool { return target == ErrPermanent }

// SevereError wraps a failure of the process itself, such as a recovered
// panic. Origin is the file:line the failure was raised at, when known.
type SevereError struct {
	Cause  error
	Origin string
}

// Severe marks err as severe. A nil err stays nil.
func Severe(err error) error {
	if err == nil {
		return nil
	}
	return &SevereError{Cause: err}
}

func (e *SevereError) Error() string {
	return fmt.Sprintf("asyncflow: severe failure: %v", e.Cause)
}

func (e *SevereError) Unwrap() error { return e.Cause }

func (e *SevereError) Is(target error) bool { return target == ErrSevere }

// DecodeError reports a payload the serializer could not turn into a message.
type DecodeError struct {
	Queue string
	Cause error
}

func (e *DecodeError) Error() string {
	if e.Queue == "" {
		return fmt.Sprintf("asyncflow: could not decode message: %v", e.Cause)
	}
	return fmt.Sprintf("asyncflow: could not decode message from %q: %v", e.Queue, e.Cause)
}

func (e *DecodeError) Unwrap() error { return e.Cause }

func (e *DecodeError) Is(target error) bool { return target == ErrDecode }

// Classification is the outcome of inspecting a handler failure.
type Classification struct {
	// Retryable is false when the message should skip remaining retries.
	Retryable bool
	// Severe is true when consumption must stop.
	Severe bool
}

// Classifier maps an error onto a Classification.
type Classifier func(error) Classification

// Classify is the default Classifier. Severe failures stay retryable so the
// message is not lost when the runner stops; permanent failures and messages
// nobody can handle are not retried.
func Classify(err error) Classification {
	switch {
	case err == nil:
		return Classification{}
	case sterrors.Is(err, ErrSevere):
		return Classification{Retryable: true, Severe: true}
	case sterrors.Is(err, ErrPermanent), sterrors.Is(err, ErrNoHandler):
		return Classification{}
	default:
		return Classification{Retryable: true}
	}
}

// IsSevere reports whether err is classified as severe by Classify.
func IsSevere(err error) bool {
	return Classify(err).Severe
}

// IsRetryable reports whether err is classified as retryable by Classify.
func IsRetryable(err error) bool {
	return Classify(err).Retryable
}

type stackTracer interface {
	StackTrace() pkgerrors.StackTrace
}

// Origin returns the file:line err was raised at. Severe errors report the
// origin they were created with; errors built with github.com/pkg/errors
// report the top frame of their stack. Anything else is "unknown".
func Origin(err error) string {
	var severe *SevereError
	if sterrors.As(err, &severe) && severe.Origin != "" {
		return severe.Origin
	}
	var traced stackTracer
	if sterrors.As(err, &traced) {
		if trace := traced.StackTrace(); len(trace) > 0 {
			return fmt.Sprintf("%s:%d", trace[0], trace[0])
		}
	}
	return "unknown"
}
