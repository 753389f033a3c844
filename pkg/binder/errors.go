package binder

import "errors"

var (
	ErrNotApplicable        = errors.New("binder not applicable to this request")
	ErrUnsupportedMediaType = errors.New("unsupported media type")
	ErrFailedToParseJSON    = errors.New("failed to parse JSON request body")
	ErrFailedToParseQuery   = errors.New("failed to parse query parameters")
)
