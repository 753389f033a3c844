package binder

import "net/http"

// Query binds URL query parameters into struct fields tagged `query:"name"`.
// Untagged fields use their lower-cased name; `query:"-"` skips a field.
// Strings, integers, floats, bools, pointers and slices are supported.
//
//	type successRequest struct {
//		SessionID string `query:"session_id"`
//		Plan      string `query:"plan"`
//	}
func Query() func(r *http.Request, v any) error {
	return func(r *http.Request, v any) error {
		return bindToStruct(v, "query", r.URL.Query(), ErrFailedToParseQuery)
	}
}
