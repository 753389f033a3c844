package email

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"sync/atomic"
	"time"
)

// DevSender writes every message to dir as <stamp>_<tag>.html plus a
// matching .json envelope. It never talks to the network.
type DevSender struct {
	dir string
	now func() time.Time
	seq atomic.Uint64
}

// DevSenderOption configures a DevSender.
type DevSenderOption func(*DevSender)

// WithDevSenderNow overrides the clock used for file names.
func WithDevSenderNow(now func() time.Time) DevSenderOption {
	return func(d *DevSender) {
		if now != nil {
			d.now = now
		}
	}
}

func NewDevSender(dir string, opts ...DevSenderOption) *DevSender {
	d := &DevSender{dir: dir, now: time.Now}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

type devEnvelope struct {
	SentAt  time.Time `json:"sent_at"`
	To      string    `json:"to"`
	Subject string    `json:"subject"`
	Tag     string    `json:"tag,omitempty"`
}

func (d *DevSender) Send(ctx context.Context, msg Message) error {
	if err := msg.Validate(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return errors.Join(ErrSendFailed, err)
	}
	if err := os.MkdirAll(d.dir, 0o755); err != nil {
		return errors.Join(ErrSendFailed, err)
	}

	now := d.now().UTC()
	label := msg.Tag
	if label == "" {
		label = msg.Subject
	}
	// seq keeps names unique when two messages land in the same second.
	base := filepath.Join(d.dir, now.Format("20060102T150405")+"_"+
		strconv.FormatUint(d.seq.Add(1), 10)+"_"+fileLabel(label))

	envelope, err := json.MarshalIndent(devEnvelope{
		SentAt:  now,
		To:      msg.To,
		Subject: msg.Subject,
		Tag:     msg.Tag,
	}, "", "  ")
	if err != nil {
		return errors.Join(ErrSendFailed, err)
	}
	if err := os.WriteFile(base+".html", []byte(msg.HTML), 0o644); err != nil {
		return errors.Join(ErrSendFailed, err)
	}
	if err := os.WriteFile(base+".json", envelope, 0o644); err != nil {
		return errors.Join(ErrSendFailed, err)
	}
	return nil
}

var unsafeFileChars = regexp.MustCompile(`[^a-z0-9_.-]+`)

func fileLabel(s string) string {
	s = unsafeFileChars.ReplaceAllString(strings.ToLower(strings.TrimSpace(s)), "_")
	s = strings.Trim(s, "_.")
	if len(s) > 64 {
		s = s[:64]
	}
	if s == "" {
		return "message"
	}
	return s
}
