package realtime

import (
	"fmt"
	"net/url"

	"github.com/pkg/errors"
)

var (
	ErrConnectionClosed = errors.New("connection has been closed")
	ErrCannotConnect    = errors.New("connection cannot be established")
	ErrTerminated       = errors.New("connection closed by this side")
	ErrNotConnected     = errors.New("client is not connected")
	ErrMalformedFrame   = errors.New("frame is not a valid message")
	ErrRateLimit        = errors.New("rate limit exceeded")
)

type ErrDial struct {
	err error
	url url.URL
}

func (e ErrDial) Error() string {
	return fmt.Sprintf("cannot dial %s: %s", e.url.String(), e.err)
}

func (e ErrDial) Unwrap() error { return e.err }

func WrapErrDial(err error, url url.URL) *ErrDial {
	if err == nil {
		return nil
	}
	return &ErrDial{
		err: err,
		url: url,
	}
}
