package handler

import "net/http"

type errorResponse struct {
	err error
}

func (e errorResponse) Render(http.ResponseWriter, *http.Request) error {
	return e.err
}

// Fail hands err to the ErrorHandler configured on Wrap, so domain errors are
// classified and logged in one place.
func Fail(err error) Response {
	return errorResponse{err: err}
}
