package tonconnect

import (
	"errors"
	"fmt"
)

// ErrorCode is the numeric code of a connect_error event or an RPC error reply.
type ErrorCode int

const (
	CodeUnknown              ErrorCode = 0
	CodeBadRequest           ErrorCode = 1
	CodeManifestNotFound     ErrorCode = 2
	CodeManifestContentError ErrorCode = 3
	CodeUnknownApp           ErrorCode = 100
	CodeUserRejected         ErrorCode = 300
	CodeMethodNotSupported   ErrorCode = 400
)

func (c ErrorCode) String() string {
	switch c {
	case CodeUnknown:
		return "UNKNOWN_ERROR"
	case CodeBadRequest:
		return "BAD_REQUEST_ERROR"
	case CodeManifestNotFound:
		return "MANIFEST_NOT_FOUND_ERROR"
	case CodeManifestContentError:
		return "MANIFEST_CONTENT_ERROR"
	case CodeUnknownApp:
		return "UNKNOWN_APP_ERROR"
	case CodeUserRejected:
		return "USER_REJECTS_ERROR"
	case CodeMethodNotSupported:
		return "METHOD_NOT_SUPPORTED"
	}
	return fmt.Sprintf("ERROR_%d", int(c))
}

var (
	ErrUnsupportedVersion = errors.New("unsupported protocol version")
	ErrConnectionNotFound = errors.New("connection not found")
)

// ConnectError is a protocol error that is sent back to the dApp.
type ConnectError struct {
	Code    ErrorCode
	Message string
	Err     error
}

func NewConnectError(code ErrorCode, msg string) *ConnectError {
	return &ConnectError{Code: code, Message: msg}
}

func (e *ConnectError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %s", e.Code, e.Message, e.Err.Error())
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *ConnectError) Unwrap() error {
	return e.Err
}

// Reply is the error object of a reply.
func (e *ConnectError) Reply() *ErrorReply {
	return &ErrorReply{Code: e.Code, Message: e.Message}
}

// asConnectError maps any error to a reply, unknown errors get code 0.
func asConnectError(err error) *ConnectError {
	var ce *ConnectError
	if errors.As(err, &ce) {
		return ce
	}
	return &ConnectError{Code: CodeUnknown, Message: err.Error(), Err: err}
}
