package protocol

// Error-code registry, fixed per spec: never invent a new code outside
// this set, and never let an inner layer's code get overwritten by a
// generic one as it propagates outward.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
	CodeNotInitialized = -32002

	// CodeInsufficientPrivilege covers disallowed/unsafe commands
	// raised by the Command Executor.
	CodeInsufficientPrivilege = -31001

	// CodeResourceLocked is returned when the admission semaphore is
	// fully occupied; clients are expected to retry with backoff.
	CodeResourceLocked = -30001
)

// CodedError is an error that already carries the JSON-RPC code it
// should surface as, so the protocol layer never has to guess by
// string-matching. Components that need a specific code (the kernel,
// the executor, the validator) return one of these instead of a bare
// error.
type CodedError struct {
	Code    int
	Message string
	Data    interface{}
}

func (e *CodedError) Error() string { return e.Message }

// NewCodedError builds a CodedError with optional data.
func NewCodedError(code int, message string, data interface{}) *CodedError {
	return &CodedError{Code: code, Message: message, Data: data}
}

// CodeOf extracts the JSON-RPC code carried by err, defaulting to
// CodeInternalError for anything that isn't a *CodedError. This is the
// single point where an "unrecognized" error is downgraded — every
// other layer must preserve a *CodedError unchanged as it propagates.
func CodeOf(err error) (code int, message string, data interface{}) {
	if ce, ok := err.(*CodedError); ok {
		return ce.Code, ce.Message, ce.Data
	}
	return CodeInternalError, err.Error(), nil
}
