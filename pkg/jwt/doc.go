// Package jwt verifies the HS256 session tokens that identify the caller of
// the billing API and exposes the result as an identity.Descriptor.
//
// Tokens are signed and parsed with github.com/golang-jwt/jwt/v5. The session
// subsystem that issues them is outside this module; Service.Generate exists
// for tests and local tooling.
//
// # Usage
//
//	svc, err := jwt.New(cfg)
//	if err != nil {
//		// handle error
//	}
//
//	r.Use(jwt.Middleware(svc))
//
//	func handler(w http.ResponseWriter, r *http.Request) {
//		d := jwt.Descriptor(r.Context()) // empty when no token was sent
//	}
//
// The middleware is lenient about missing tokens: the request continues with
// an empty descriptor and identity resolution fails downstream. A token that
// is present but invalid is rejected with 401.
//
// # Errors
//
// ErrInvalidToken and ErrExpiredToken are sentinel values; compare with
// errors.Is.
package jwt
