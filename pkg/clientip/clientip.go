package clientip

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"net/netip"
	"strings"
)

// forwardedHeaders are consulted in order when proxy headers are trusted.
var forwardedHeaders = []string{"CF-Connecting-IP", "X-Forwarded-For", "X-Real-IP"}

type contextKey struct{}

// WithContext stores the client address in ctx.
func WithContext(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, contextKey{}, ip)
}

// FromContext returns "" when no address is set.
func FromContext(ctx context.Context) string {
	ip, _ := ctx.Value(contextKey{}).(string)
	return ip
}

// FromRequest resolves the client address. Forwarding headers are only
// honoured when trustProxy is set; the first valid entry wins. The result
// is "" when nothing parses.
func FromRequest(r *http.Request, trustProxy bool) string {
	if trustProxy {
		for _, h := range forwardedHeaders {
			for candidate := range strings.SplitSeq(r.Header.Get(h), ",") {
				if ip := normalize(candidate); ip != "" {
					return ip
				}
			}
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return normalize(host)
}

// Middleware stores the resolved client address in the request context.
func Middleware(trustProxy bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if ip := FromRequest(r, trustProxy); ip != "" {
				r = r.WithContext(WithContext(r.Context(), ip))
			}
			next.ServeHTTP(w, r)
		})
	}
}

// LoggerExtractor adds a "client_ip" attribute to log records.
func LoggerExtractor() func(ctx context.Context) (slog.Attr, bool) {
	return func(ctx context.Context) (slog.Attr, bool) {
		if ip := FromContext(ctx); ip != "" {
			return slog.String("client_ip", ip), true
		}
		return slog.Attr{}, false
	}
}

func normalize(s string) string {
	addr, err := netip.ParseAddr(strings.TrimSpace(s))
	if err != nil {
		return ""
	}
	return addr.Unmap().WithZone("").String()
}
