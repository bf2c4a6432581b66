package sd

import (
	"errors"
	"fmt"
)

var (
	// ErrCSDStructure indicates an unknown CSD structure version.
	ErrCSDStructure = errors.New("unknown CSD structure")
	// ErrBlockLen indicates a block length the driver cannot use.
	ErrBlockLen = errors.New("unsupported block length")
)

// ResponseError records an unexpected response to a command.
type ResponseError struct {
	Cmd      byte
	Response byte
}

// Error implements error.
func (e *ResponseError) Error() string {
	return fmt.Sprintf("CMD%d: unexpected response 0x%02x", e.Cmd, e.Response)
}

// TokenError records a missing or bad data token.
type TokenError struct {
	Op    string
	Token byte
}

// Error implements error.
func (e *TokenError) Error() string {
	return fmt.Sprintf("%s: bad token 0x%02x", e.Op, e.Token)
}
