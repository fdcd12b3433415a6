package cdata

import (
	"fmt"
	"strings"
)

// ErrorCode is a normalized code for C-Data CLI failures.
type ErrorCode string

const (
	ErrONUNotFound    ErrorCode = "ONU_NOT_FOUND"
	ErrPortNotFound   ErrorCode = "PORT_NOT_FOUND"
	ErrUnknownCommand ErrorCode = "UNKNOWN_CMD"

	ErrTimeout    ErrorCode = "TIMEOUT"
	ErrConnReset  ErrorCode = "CONN_RESET"
	ErrConnRefuse ErrorCode = "CONN_REFUSED"
	ErrAuthFailed ErrorCode = "AUTH_FAILED"

	ErrHardwareFault ErrorCode = "HARDWARE_FAULT"
	ErrUnknown       ErrorCode = "UNKNOWN"
)

type errorMapping struct {
	Code        ErrorCode
	Human       string
	Recoverable bool
}

// cliErrorPatterns maps substrings of C-Data CLI replies and transport
// errors to structured codes. Recoverable means the next poll cycle may
// succeed without operator action.
var cliErrorPatterns = map[string]errorMapping{
	"onu not found": {ErrONUNotFound, "ONU is not registered", false},
	"no onu":        {ErrONUNotFound, "ONU does not exist at this location", false},

	"port not exist":      {ErrPortNotFound, "PON port does not exist", false},
	"invalid port":        {ErrPortNotFound, "invalid PON port specified", false},
	"interface not found": {ErrPortNotFound, "interface does not exist", false},

	"% unknown command": {ErrUnknownCommand, "command not supported by this firmware", false},
	"invalid input":     {ErrUnknownCommand, "invalid command syntax", false},

	"timeout":            {ErrTimeout, "command timed out", true},
	"connection reset":   {ErrConnReset, "lost connection to OLT", true},
	"connection refused": {ErrConnRefuse, "connection to OLT refused", true},

	"authentication failed": {ErrAuthFailed, "authentication failed", false},
	"access denied":         {ErrAuthFailed, "access denied", false},

	"hardware fault": {ErrHardwareFault, "OLT hardware fault detected", false},
}

// CLIError is a classified C-Data failure.
type CLIError struct {
	Original    error
	Code        ErrorCode
	Human       string
	Recoverable bool
}

func (e *CLIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Human)
}

func (e *CLIError) Unwrap() error { return e.Original }

// classifyError matches a raw CLI or transport error against the known
// C-Data patterns.
func classifyError(err error) error {
	if err == nil {
		return nil
	}
	errStr := strings.ToLower(err.Error())
	for pattern, m := range cliErrorPatterns {
		if strings.Contains(errStr, pattern) {
			return &CLIError{Original: err, Code: m.Code, Human: m.Human, Recoverable: m.Recoverable}
		}
	}
	return &CLIError{Original: err, Code: ErrUnknown, Human: err.Error(), Recoverable: false}
}

// IsRecoverable reports whether a failed operation can simply be retried
// on the next cycle.
func IsRecoverable(err error) bool {
	if ce, ok := err.(*CLIError); ok {
		return ce.Recoverable
	}
	return false
}
