package templates

import (
	"bytes"
	"context"

	"github.com/a-h/templ"
)

// Render writes c into a string.
func Render(ctx context.Context, c templ.Component) (string, error) {
	var buf bytes.Buffer
	if err := c.Render(ctx, &buf); err != nil {
		return "", err
	}
	return buf.String(), nil
}
