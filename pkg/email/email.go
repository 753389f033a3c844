package email

import (
	"context"
	"fmt"
	"net/mail"
	"strings"
)

// Sender delivers a rendered message.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// Message is a single transactional email.
type Message struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	HTML    string `json:"-"`
	Tag     string `json:"tag,omitempty"` // groups messages in provider analytics
}

// Validate rejects messages no provider would accept.
func (m Message) Validate() error {
	if err := validAddress(m.To); err != nil {
		return fmt.Errorf("%w: recipient: %v", ErrInvalidMessage, err)
	}
	if strings.TrimSpace(m.Subject) == "" {
		return fmt.Errorf("%w: subject is empty", ErrInvalidMessage)
	}
	if strings.TrimSpace(m.HTML) == "" {
		return fmt.Errorf("%w: body is empty", ErrInvalidMessage)
	}
	return nil
}

// validAddress accepts a bare address only; display names are not allowed.
func validAddress(s string) error {
	s = strings.TrimSpace(s)
	if s == "" {
		return fmt.Errorf("address is empty")
	}
	addr, err := mail.ParseAddress(s)
	if err != nil {
		return err
	}
	if addr.Name != "" || addr.Address != s {
		return fmt.Errorf("%q is not a bare address", s)
	}
	return nil
}
