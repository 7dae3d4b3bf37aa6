package framing

import "errors"

// ErrFraming is matched by every error that leaves the stream unusable.
// errors.Is(err, ErrFraming) holds for all the sentinels below.
var ErrFraming = errors.New("framing error")

var (
	ErrTruncatedPrefix  = &framingError{msg: "truncated length prefix"}
	ErrTruncatedPayload = &framingError{msg: "truncated payload"}
	ErrInvalidPayload   = &framingError{msg: "payload is not valid JSON"}
	ErrFrameTooLarge    = &framingError{msg: "frame exceeds size limit"}
)

type framingError struct {
	msg string
}

func (e *framingError) Error() string { return "framing: " + e.msg }

func (e *framingError) Is(target error) bool { return target == ErrFraming }
