// Package identity turns a possibly incomplete caller descriptor into the single
// canonical key that addresses a subscription record.
//
// Resolution order, first match wins:
//
//  1. Session ID, used verbatim.
//  2. Email, mapped to a name-based UUID (SHA-1, DNS namespace) of the
//     trimmed, lower-cased address. The same email always yields the same key.
//  3. Provider customer ID, as a last resort.
//
// When nothing is available Resolve returns ErrIdentityUnresolved and the caller
// must not write to the store.
//
// Alternate returns the single fallback key used when the store rejects the
// primary key format:
//
//	key, err := identity.Resolve(identity.Descriptor{Email: "a@x.com"})
//	if err != nil {
//		return err
//	}
//	alt, ok := identity.Alternate(desc, key)
package identity
