package httpserver_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/subsync/pkg/httpserver"
)

func listen(t *testing.T) net.Listener {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	return ln
}

func TestServer_ServeAndShutdown(t *testing.T) {
	t.Parallel()

	ln := listen(t)
	srv := httpserver.New(httpserver.Config{ShutdownTimeout: time.Second}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- srv.Serve(ctx, ln, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte("pong"))
		}))
	}()

	url := "http://" + ln.Addr().String()
	require.Eventually(t, func() bool {
		resp, err := http.Get(url)
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		body, _ := io.ReadAll(resp.Body)
		return string(body) == "pong"
	}, time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("server did not stop")
	}
}

func TestServer_AlreadyRunning(t *testing.T) {
	t.Parallel()

	srv := httpserver.New(httpserver.Config{}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	first := listen(t)
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, first, nil) }()

	require.Eventually(t, func() bool {
		_, err := http.Get("http://" + first.Addr().String())
		return err == nil
	}, time.Second, 10*time.Millisecond)

	err := srv.Serve(ctx, listen(t), nil)
	assert.ErrorIs(t, err, httpserver.ErrAlreadyRunning)

	cancel()
	assert.NoError(t, <-done)
}

func TestServer_RunBadAddr(t *testing.T) {
	t.Parallel()

	srv := httpserver.New(httpserver.Config{Addr: "256.0.0.1:bad"}, nil)
	err := srv.Run(context.Background(), nil)
	assert.ErrorIs(t, err, httpserver.ErrStart)
}

func TestLivenessHandler(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	httpserver.LivenessHandler()(rec, httptest.NewRequest(http.MethodGet, "/health/live", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ALIVE", rec.Body.String())
}

func TestReadinessHandler(t *testing.T) {
	t.Parallel()

	ok := httpserver.Probe{Name: "postgres", Check: func(context.Context) error { return nil }}
	down := httpserver.Probe{Name: "redis", Check: func(context.Context) error { return errors.New("connection refused") }}
	slow := httpserver.Probe{Name: "slow", Check: func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}}

	tests := []struct {
		name       string
		probes     []httpserver.Probe
		wantStatus int
		want       map[string]string
	}{
		{
			name:       "no probes",
			wantStatus: http.StatusOK,
			want:       map[string]string{},
		},
		{
			name:       "all pass",
			probes:     []httpserver.Probe{ok},
			wantStatus: http.StatusOK,
			want:       map[string]string{"postgres": "ok"},
		},
		{
			name:       "one fails",
			probes:     []httpserver.Probe{ok, down},
			wantStatus: http.StatusServiceUnavailable,
			want:       map[string]string{"postgres": "ok", "redis": "connection refused"},
		},
		{
			name:       "probe times out",
			probes:     []httpserver.Probe{slow},
			wantStatus: http.StatusServiceUnavailable,
			want:       map[string]string{"slow": context.DeadlineExceeded.Error()},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			h := httpserver.ReadinessHandler(nil, 20*time.Millisecond, tt.probes...)
			rec := httptest.NewRecorder()
			h(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))

			assert.Equal(t, tt.wantStatus, rec.Code)
			var got map[string]string
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
			assert.Equal(t, tt.want, got)
		})
	}
}
