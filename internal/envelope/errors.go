package envelope

// ValidationCode distinguishes the shape violations detected before any I/O.
type ValidationCode int

const (
	CodeNoFunction ValidationCode = iota + 1
	CodeInvalidFunction
	CodeNoOrganization
	CodeInvalidOrganization
	CodeNoPayload
	CodeNoService
	CodeNoFunctionName
	CodeInvalidFunctionName
	CodeInvalidSession
	CodeNoUser
	CodeInvalidUser
	CodeInvalidTaskToken
	CodeInvalidState
	CodeInvalidEvent
	CodeInvalidBody
)

// ValidationError reports a malformed function name, session, body, task
// token or workflow context. It is always raised before any network call.
type ValidationError struct {
	Code    ValidationCode
	Message string
}

func (e *ValidationError) Error() string { return e.Message }
