package compressor

import (
	"errors"
)

// ErrorKind names the failure class of a file operation.
type ErrorKind string

const (
	ErrorKindNone       ErrorKind = ""
	ErrorKindDecode     ErrorKind = "decode-error"
	ErrorKindEncode     ErrorKind = "encode-error"
	ErrorKindSubprocess ErrorKind = "subprocess-error"
	ErrorKindProbe      ErrorKind = "probe-error"
	ErrorKindIO         ErrorKind = "io-error"
)

var (
	// ErrDecode marks corrupt or unsupported images.
	ErrDecode = errors.New("decode error")
	// ErrEncode marks encode or write failures.
	ErrEncode = errors.New("encode error")
	// ErrSubprocess marks a missing external encoder or a non-zero exit.
	ErrSubprocess = errors.New("subprocess error")
	// ErrProbe marks an unavailable media duration. It is recovered by
	// substituting the default duration.
	ErrProbe = errors.New("probe error")

	// errNotSmaller aborts a replace whose output grew to the original size.
	errNotSmaller = errors.New("output not smaller than original")
)

// Classify maps err to its ErrorKind.
func Classify(err error) ErrorKind {
	switch {
	case err == nil:
		return ErrorKindNone
	case errors.Is(err, ErrDecode):
		return ErrorKindDecode
	case errors.Is(err, ErrEncode):
		return ErrorKindEncode
	case errors.Is(err, ErrSubprocess):
		return ErrorKindSubprocess
	case errors.Is(err, ErrProbe):
		return ErrorKindProbe
	default:
		return ErrorKindIO
	}
}
