package exitcode

// Exit codes for grok-mind commands
const (
	Success   = 0
	Error     = 1
	Usage     = 2 // rejected input
	Upstream  = 3 // the completion endpoint failed
	Cancelled = 130
)

// ExitError is an error that carries a specific exit code
type ExitError struct {
	Code    int
	Message string
}

func (e ExitError) Error() string {
	return e.Message
}

func Invalid(msg string) ExitError        { return ExitError{Code: Usage, Message: msg} }
func UpstreamFailed(msg string) ExitError { return ExitError{Code: Upstream, Message: msg} }
func Cancel() ExitError                   { return ExitError{Code: Cancelled, Message: "cancelled"} }
