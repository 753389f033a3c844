package identity

import (
	"strings"

	"github.com/google/uuid"
)

// Source tells which part of the descriptor produced a key.
type Source string

const (
	SourceSession  Source = "session"
	SourceEmail    Source = "email"
	SourceCustomer Source = "customer"

	// SourceStored marks a key read back from an existing record.
	SourceStored Source = "stored"
)

// Descriptor is the partial caller identity available to a request handler.
// Any field may be empty.
type Descriptor struct {
	SessionID  string `json:"session_id,omitempty"`
	Email      string `json:"email,omitempty"`
	Name       string `json:"name,omitempty"`
	CustomerID string `json:"customer_id,omitempty"`
}

// Key is a resolved user key tagged with where it came from.
type Key struct {
	Value  string `json:"value"`
	Source Source `json:"source"`
}

func (k Key) String() string { return k.Value }

// IsZero reports whether the key is empty.
func (k Key) IsZero() bool { return k.Value == "" }

// Resolve picks the canonical key for d.
func Resolve(d Descriptor) (Key, error) {
	if id := strings.TrimSpace(d.SessionID); id != "" {
		return Key{Value: id, Source: SourceSession}, nil
	}
	if email := NormalizeEmail(d.Email); email != "" {
		return Key{Value: FromEmail(email), Source: SourceEmail}, nil
	}
	if cid := strings.TrimSpace(d.CustomerID); cid != "" {
		return Key{Value: cid, Source: SourceCustomer}, nil
	}
	return Key{}, ErrIdentityUnresolved
}

// Alternate returns the fallback key for d when primary was rejected by the
// store. The email-derived key is preferred; the provider customer ID is used
// only when no email is known. The result never equals primary.
func Alternate(d Descriptor, primary Key) (Key, bool) {
	candidates := make([]Key, 0, 2)
	if email := NormalizeEmail(d.Email); email != "" {
		candidates = append(candidates, Key{Value: FromEmail(email), Source: SourceEmail})
	}
	if cid := strings.TrimSpace(d.CustomerID); cid != "" {
		candidates = append(candidates, Key{Value: cid, Source: SourceCustomer})
	}
	for _, c := range candidates {
		if c.Value != primary.Value {
			return c, true
		}
	}
	return Key{}, false
}

// FromEmail derives a UUID-shaped key from an email address.
// The address is normalized first, so case and surrounding spaces do not matter.
func FromEmail(email string) string {
	return uuid.NewSHA1(uuid.NameSpaceDNS, []byte(NormalizeEmail(email))).String()
}

// NormalizeEmail trims and lower-cases an address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// IsUUID reports whether s is a canonical UUID string.
func IsUUID(s string) bool {
	if len(s) != 36 {
		return false
	}
	_, err := uuid.Parse(s)
	return err == nil
}
