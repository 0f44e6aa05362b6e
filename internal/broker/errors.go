package broker

import "errors"

// ErrorCode is the stable numeric vocabulary surfaced to clients so their UI
// can render a specific message for each condition.
type ErrorCode int

const (
	CodeUnknown ErrorCode = iota
	CodeAccessDenied
	CodeServicePreparing
	CodeTransportNotReady
	CodeNotFound
	CodeUnsupportedOS
	CodeBadCredential
	CodeInvalidRequest
	CodeMaxServicesReached
	CodeNotImplemented
)

var errorStrings = map[ErrorCode]string{
	CodeUnknown:            "unknown error",
	CodeAccessDenied:       "access denied",
	CodeServicePreparing:   "service is being prepared",
	CodeTransportNotReady:  "service is not accessible yet",
	CodeNotFound:           "service not found",
	CodeUnsupportedOS:      "unsupported client os",
	CodeBadCredential:      "invalid credential payload",
	CodeInvalidRequest:     "invalid request",
	CodeMaxServicesReached: "maximum services limit reached",
	CodeNotImplemented:     "not implemented",
}

func (c ErrorCode) Message() string {
	if msg, ok := errorStrings[c]; ok {
		return msg
	}
	return errorStrings[CodeUnknown]
}

// Terminal (non-retryable) broker errors.
var (
	ErrAccessDenied = errors.New("access denied")
	ErrNotFound     = errors.New("not found")
	ErrMaxServices  = errors.New("maximum services limit reached")
	ErrInstanceDown = errors.New("instance in error state")
)
