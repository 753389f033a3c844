package templates

import (
	"context"
	"io"
	"time"

	"github.com/a-h/templ"
)

// ReceiptData fills the upgrade receipt.
type ReceiptData struct {
	To              string
	UserName        string
	PlanName        string
	Amount          string // formatted, e.g. "$9.99"
	InvoiceID       string
	NextBillingDate time.Time
}

// CancellationData fills the cancellation notice.
type CancellationData struct {
	To       string
	UserName string
	PlanName string
	EndDate  time.Time
}

const dateLayout = "January 2, 2006"

func ReceiptSubject(d ReceiptData) string {
	return "Your " + d.PlanName + " subscription is active"
}

func CancellationSubject(d CancellationData) string {
	return "Your " + d.PlanName + " subscription has been canceled"
}

// Receipt confirms a successful upgrade.
func Receipt(d ReceiptData) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		return layout(w, ReceiptSubject(d), func(w io.Writer) error {
			return writeAll(w,
				paragraph("Hi "+greetingName(d.UserName)+","),
				paragraph("Thanks for upgrading. Your payment was received and your "+d.PlanName+" is now active."),
				`<table role="presentation" style="width:100%;border-collapse:collapse;margin:16px 0">`,
				row("Plan", d.PlanName),
				row("Amount", d.Amount),
				row("Invoice", d.InvoiceID),
				row("Next billing date", d.NextBillingDate.UTC().Format(dateLayout)),
				`</table>`,
			)
		})
	})
}

// Cancellation tells the user when their paid access ends.
func Cancellation(d CancellationData) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		return layout(w, CancellationSubject(d), func(w io.Writer) error {
			return writeAll(w,
				paragraph("Hi "+greetingName(d.UserName)+","),
				paragraph("Your "+d.PlanName+" subscription has been canceled."),
				paragraph("You keep access to paid features until "+d.EndDate.UTC().Format(dateLayout)+". After that your account moves to the Free Plan."),
				paragraph("Changed your mind? You can upgrade again at any time from your dashboard."),
			)
		})
	})
}

func layout(w io.Writer, title string, body func(io.Writer) error) error {
	if err := writeAll(w,
		`<!DOCTYPE html><html><head><meta charset="utf-8"><title>`,
		templ.EscapeString(title),
		`</title></head><body style="font-family:Arial,sans-serif;color:#1f2937;max-width:600px;margin:0 auto;padding:24px">`,
		`<h1 style="font-size:20px">`, templ.EscapeString(title), `</h1>`,
	); err != nil {
		return err
	}
	if err := body(w); err != nil {
		return err
	}
	return writeAll(w, `</body></html>`)
}

func paragraph(text string) string {
	return `<p style="font-size:14px;line-height:20px">` + templ.EscapeString(text) + `</p>`
}

func row(label, value string) string {
	if value == "" {
		return ""
	}
	return `<tr><td style="padding:4px 0;color:#6b7280">` + templ.EscapeString(label) +
		`</td><td style="padding:4px 0;text-align:right">` + templ.EscapeString(value) + `</td></tr>`
}

func greetingName(name string) string {
	if name == "" {
		return "there"
	}
	return name
}

func writeAll(w io.Writer, parts ...string) error {
	for _, p := range parts {
		if p == "" {
			continue
		}
		if _, err := io.WriteString(w, p); err != nil {
			return err
		}
	}
	return nil
}
