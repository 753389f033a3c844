package subscription

import (
	"context"
	"log/slog"
	"time"

	"github.com/dmitrymomot/subsync/pkg/async"
	"github.com/dmitrymomot/subsync/pkg/email"
	"github.com/dmitrymomot/subsync/pkg/email/templates"
	"github.com/dmitrymomot/subsync/pkg/logger"
)

// NotificationKind selects the message sent after a plan change.
type NotificationKind string

const (
	NotifyReceipt      NotificationKind = "receipt"
	NotifyCancellation NotificationKind = "cancellation"
)

// Notification is the payload handed to the email collaborator.
type Notification struct {
	Kind      NotificationKind
	To        string
	UserName  string
	PlanName  string
	Amount    string    // receipt only
	InvoiceID string    // receipt only
	Date      time.Time // next billing date for receipts, access end for cancellations

	// ResolveTo looks the recipient up when To is empty. It runs in the
	// background with the rest of the delivery.
	ResolveTo func(ctx context.Context) (string, error)
}

const DefaultNotifyTimeout = 10 * time.Second

// Notifier dispatches billing emails without blocking the caller. Delivery
// failures are logged and never returned.
type Notifier struct {
	sender  email.Sender
	timeout time.Duration
	logger  *slog.Logger
	metrics *Metrics
}

// NotifierOption configures a Notifier.
type NotifierOption func(*Notifier)

// WithNotifyTimeout bounds each send.
func WithNotifyTimeout(d time.Duration) NotifierOption {
	return func(n *Notifier) {
		if d > 0 {
			n.timeout = d
		}
	}
}

// WithNotifierLogger sets the logger; nil keeps the discard logger.
func WithNotifierLogger(l *slog.Logger) NotifierOption {
	return func(n *Notifier) {
		if l != nil {
			n.logger = l
		}
	}
}

// WithNotifierMetrics counts sent and failed emails on m.
func WithNotifierMetrics(m *Metrics) NotifierOption {
	return func(n *Notifier) { n.metrics = m }
}

// NewNotifier returns a Notifier. A nil sender disables delivery.
func NewNotifier(sender email.Sender, opts ...NotifierOption) *Notifier {
	n := &Notifier{
		sender:  sender,
		timeout: DefaultNotifyTimeout,
		logger:  logger.Discard(),
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Notify starts delivery in the background and returns immediately.
// The returned future is for tests and graceful shutdown; callers on the
// request path ignore it. It resolves to the delivery error, already logged.
func (n *Notifier) Notify(ctx context.Context, msg Notification) *async.Future[struct{}] {
	// Detached from the request so the response does not cancel delivery.
	bg, cancel := context.WithTimeout(context.WithoutCancel(ctx), n.timeout)

	return async.Async(bg, msg, func(ctx context.Context, msg Notification) (struct{}, error) {
		defer cancel()

		sent, err := n.send(ctx, msg)
		if err != nil {
			n.metrics.notified(msg.Kind, err)
			n.logger.ErrorContext(ctx, "notification delivery failed",
				logger.Component("notifier"),
				logger.Event(string(msg.Kind)),
				logger.Error(err),
			)
			return struct{}{}, err
		}
		if !sent {
			return struct{}{}, nil
		}

		n.metrics.notified(msg.Kind, nil)
		n.logger.InfoContext(ctx, "notification sent",
			logger.Component("notifier"),
			logger.Event(string(msg.Kind)),
		)
		return struct{}{}, nil
	})
}

// send reports false when there is nobody to send to.
func (n *Notifier) send(ctx context.Context, msg Notification) (bool, error) {
	if n.sender == nil {
		return false, nil
	}
	if msg.To == "" && msg.ResolveTo != nil {
		to, err := msg.ResolveTo(ctx)
		if err != nil {
			return false, err
		}
		msg.To = to
	}
	if msg.To == "" {
		return false, nil
	}

	var out email.Message
	switch msg.Kind {
	case NotifyReceipt:
		data := templates.ReceiptData{
			To:              msg.To,
			UserName:        msg.UserName,
			PlanName:        msg.PlanName,
			Amount:          msg.Amount,
			InvoiceID:       msg.InvoiceID,
			NextBillingDate: msg.Date,
		}
		html, err := templates.Render(ctx, templates.Receipt(data))
		if err != nil {
			return false, err
		}
		out = email.Message{
			To:      msg.To,
			Subject: templates.ReceiptSubject(data),
			HTML:    html,
			Tag:     string(NotifyReceipt),
		}
	case NotifyCancellation:
		data := templates.CancellationData{
			To:       msg.To,
			UserName: msg.UserName,
			PlanName: msg.PlanName,
			EndDate:  msg.Date,
		}
		html, err := templates.Render(ctx, templates.Cancellation(data))
		if err != nil {
			return false, err
		}
		out = email.Message{
			To:      msg.To,
			Subject: templates.CancellationSubject(data),
			HTML:    html,
			Tag:     string(NotifyCancellation),
		}
	default:
		return false, nil
	}

	if err := n.sender.Send(ctx, out); err != nil {
		return false, err
	}
	return true, nil
}
