// Package result provides Result: a tagged value that is either success
// or a formatted error message, cheap to copy and safe to return by value.
// The other LightIPC packages do not use it; their fallible operations
// return plain Go error values.
package result

import (
	"fmt"

	"google.golang.org/grpc/codes"
)

// textMaxLen mirrors the original C++ implementation's fixed scratch buffer:
// CreateError truncates silently past this many bytes rather than growing.
const textMaxLen = 1024

// Result is either success or a formatted error.
//
// Success must be built with Success(): the zero Result reports
// IsError() == true with an empty message.
type Result struct {
	ok      bool
	message string
	code    codes.Code
}

// Success returns the success Result.
func Success() Result {
	return Result{ok: true}
}

// Errorf builds an error Result from a printf-style format, truncated
// silently at textMaxLen bytes as the original does with vsnprintf.
func Errorf(format string, args ...any) Result {
	return ErrorfCode(codes.Unknown, format, args...)
}

// ErrorfCode is Errorf with an explicit gRPC status code classification,
// so callers bridging into a gRPC-based service elsewhere can translate a
// Result into a status.Status without LightIPC importing any gRPC
// transport machinery.
func ErrorfCode(code codes.Code, format string, args ...any) Result {
	msg := fmt.Sprintf(format, args...)
	if len(msg) > textMaxLen {
		msg = msg[:textMaxLen]
	}
	return Result{ok: false, message: msg, code: code}
}

// FromError wraps a Go error as an error Result, or Success() if err is nil.
func FromError(err error) Result {
	if err == nil {
		return Success()
	}
	return Errorf("%s", err.Error())
}

// IsSuccess reports whether the Result is success.
func (r Result) IsSuccess() bool {
	return r.ok
}

// IsError reports whether the Result is an error.
func (r Result) IsError() bool {
	return !r.ok
}

// Message returns the error message, or "" on success.
func (r Result) Message() string {
	return r.message
}

// Code returns the gRPC status-code classification of the error, or
// codes.OK on success.
func (r Result) Code() codes.Code {
	if r.ok {
		return codes.OK
	}
	return r.code
}

// Error implements the error interface so a Result can be returned
// wherever an error is expected (e.g. wrapped with fmt.Errorf's %w).
func (r Result) Error() string {
	return r.message
}

// String implements fmt.Stringer.
func (r Result) String() string {
	if r.ok {
		return "OK"
	}
	return "error: " + r.message
}
