package protocol

import "errors"

var (
	ErrOrderingNotSupported   = errors.New("protocol: only unordered channels are supported")
	ErrVersionMismatch        = errors.New("protocol: counterparty version mismatch")
	ErrDuplicateChannel       = errors.New("protocol: channel already registered")
	ErrProtocolViolation      = errors.New("protocol: malformed packet payload")
	ErrUnsupportedMessageType = errors.New("protocol: unsupported message type")
	ErrNoChannel              = errors.New("protocol: no channel to hub")
)

// ErrorClass groups errors for logs, metrics and acknowledgements.
type ErrorClass string

const (
	ClassNone        ErrorClass = ""
	ClassHandshake   ErrorClass = "handshake"
	ClassRegistry    ErrorClass = "registry"
	ClassViolation   ErrorClass = "protocol_violation"
	ClassUnsupported ErrorClass = "unsupported_message_type"
	ClassNoChannel   ErrorClass = "no_channel"
	ClassInternal    ErrorClass = "internal"
)

// Classify maps err onto its taxonomy class. Unknown errors are internal.
func Classify(err error) ErrorClass {
	switch {
	case err == nil:
		return ClassNone
	case errors.Is(err, ErrOrderingNotSupported), errors.Is(err, ErrVersionMismatch):
		return ClassHandshake
	case errors.Is(err, ErrDuplicateChannel):
		return ClassRegistry
	case errors.Is(err, ErrProtocolViolation):
		return ClassViolation
	case errors.Is(err, ErrUnsupportedMessageType):
		return ClassUnsupported
	case errors.Is(err, ErrNoChannel):
		return ClassNoChannel
	default:
		return ClassInternal
	}
}
