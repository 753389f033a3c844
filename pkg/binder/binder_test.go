package binder_test

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/subsync/pkg/binder"
)

type checkoutRequest struct {
	Plan  string `json:"plan"`
	Email string `json:"email"`
}

func jsonRequest(body string, contentType string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	return req
}

func TestJSON(t *testing.T) {
	t.Parallel()

	bind := binder.JSON()

	t.Run("decodes body", func(t *testing.T) {
		t.Parallel()

		var req checkoutRequest
		err := bind(jsonRequest(`{"plan":"pro","email":"a@x.com"}`, "application/json; charset=utf-8"), &req)
		require.NoError(t, err)
		assert.Equal(t, checkoutRequest{Plan: "pro", Email: "a@x.com"}, req)
	})

	tests := []struct {
		name        string
		body        string
		contentType string
		wantErr     error
	}{
		{name: "empty body", body: "", contentType: "application/json", wantErr: binder.ErrNotApplicable},
		{name: "wrong media type", body: `plan=pro`, contentType: "application/x-www-form-urlencoded", wantErr: binder.ErrUnsupportedMediaType},
		{name: "missing content type", body: `{"plan":"pro"}`, wantErr: binder.ErrUnsupportedMediaType},
		{name: "unknown field", body: `{"plan":"pro","admin":true}`, contentType: "application/json", wantErr: binder.ErrFailedToParseJSON},
		{name: "malformed", body: `{"plan":`, contentType: "application/json", wantErr: binder.ErrFailedToParseJSON},
		{name: "trailing data", body: `{"plan":"pro"}{"plan":"enterprise"}`, contentType: "application/json", wantErr: binder.ErrFailedToParseJSON},
		{name: "too large", body: `{"plan":"` + strings.Repeat("a", binder.DefaultMaxJSONSize) + `"}`, contentType: "application/json", wantErr: binder.ErrFailedToParseJSON},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var req checkoutRequest
			err := bind(jsonRequest(tt.body, tt.contentType), &req)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestQuery(t *testing.T) {
	t.Parallel()

	type successRequest struct {
		SessionID string   `query:"session_id"`
		Plan      string   `query:"plan,omitempty"`
		Attempts  int      `query:"attempts"`
		Verbose   *bool    `query:"verbose"`
		Tags      []string `query:"tags"`
		Ignored   string   `query:"-"`
		Fallback  string
	}

	bind := binder.Query()

	t.Run("binds fields", func(t *testing.T) {
		t.Parallel()

		req := httptest.NewRequest(http.MethodGet,
			"/?session_id=cs_1&plan=pro&attempts=3&verbose=yes&tags=a,b&tags=c&Ignored=x&fallback=y", nil)

		var got successRequest
		require.NoError(t, bind(req, &got))
		assert.Equal(t, "cs_1", got.SessionID)
		assert.Equal(t, "pro", got.Plan)
		assert.Equal(t, 3, got.Attempts)
		require.NotNil(t, got.Verbose)
		assert.True(t, *got.Verbose)
		assert.Equal(t, []string{"a", "b", "c"}, got.Tags)
		assert.Empty(t, got.Ignored)
		assert.Equal(t, "y", got.Fallback)
	})

	t.Run("invalid number", func(t *testing.T) {
		t.Parallel()

		var got successRequest
		err := bind(httptest.NewRequest(http.MethodGet, "/?attempts=many", nil), &got)
		assert.ErrorIs(t, err, binder.ErrFailedToParseQuery)
	})

	t.Run("non-struct target", func(t *testing.T) {
		t.Parallel()

		var s string
		err := bind(httptest.NewRequest(http.MethodGet, "/", nil), &s)
		assert.ErrorIs(t, err, binder.ErrFailedToParseQuery)
	})
}
