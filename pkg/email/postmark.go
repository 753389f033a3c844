package email

import (
	"context"
	"errors"
	"fmt"

	"github.com/mrz1836/postmark"
)

// PostmarkSender delivers through the Postmark transactional API.
type PostmarkSender struct {
	client *postmark.Client
	cfg    Config
}

func NewPostmarkSender(cfg Config) (*PostmarkSender, error) {
	if cfg.PostmarkServerToken == "" {
		return nil, fmt.Errorf("%w: postmark server token is required", ErrInvalidConfig)
	}
	if err := validAddress(cfg.From); err != nil {
		return nil, fmt.Errorf("%w: sender: %v", ErrInvalidConfig, err)
	}
	if cfg.ReplyTo != "" {
		if err := validAddress(cfg.ReplyTo); err != nil {
			return nil, fmt.Errorf("%w: reply-to: %v", ErrInvalidConfig, err)
		}
	}

	// Sending only needs the server token; the account token is for
	// account-level management APIs.
	return &PostmarkSender{
		client: postmark.NewClient(cfg.PostmarkServerToken, ""),
		cfg:    cfg,
	}, nil
}

func (s *PostmarkSender) Send(ctx context.Context, msg Message) error {
	if err := msg.Validate(); err != nil {
		return err
	}

	resp, err := s.client.SendEmail(ctx, postmark.Email{
		From:       s.cfg.From,
		ReplyTo:    s.cfg.ReplyTo,
		To:         msg.To,
		Subject:    msg.Subject,
		Tag:        msg.Tag,
		HTMLBody:   msg.HTML,
		TrackOpens: s.cfg.TrackOpens,
	})
	if err != nil {
		return errors.Join(ErrSendFailed, err)
	}
	if resp.ErrorCode != 0 {
		return fmt.Errorf("%w: postmark %d: %s", ErrSendFailed, resp.ErrorCode, resp.Message)
	}
	return nil
}
