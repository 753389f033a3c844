package identity

import "errors"

var ErrIdentityUnresolved = errors.New("identity.errors.unresolved")
