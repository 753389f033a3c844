// Package email delivers the billing notifications.
//
// A Sender takes a fully rendered Message. PostmarkSender delivers it through
// Postmark; DevSender writes it to a directory so local runs can inspect what
// would have gone out. Failures match ErrInvalidMessage, ErrInvalidConfig or
// ErrSendFailed with errors.Is.
//
// Message bodies come from the templates subpackage:
//
//	html, err := templates.Render(ctx, templates.Receipt(data))
//	if err != nil {
//	    return err
//	}
//	err = sender.Send(ctx, email.Message{
//	    To:      data.To,
//	    Subject: templates.ReceiptSubject(data),
//	    HTML:    html,
//	    Tag:     "receipt",
//	})
package email
