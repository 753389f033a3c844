package async

import "errors"

var ErrAbandoned = errors.New("async: stopped waiting before the call returned")
