package api

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/basecamp/daemon-console/internal/version"
)

const usersBody = `{
  "@odata.context": "https://graph.microsoft.com/v1.0/$metadata#users",
  "value": [{"displayName": "Adele Vance", "id": "87d349ed"}],
  "@odata.nextLink": "https://graph.microsoft.com/v1.0/users?$skiptoken=X",
  "count": 1
}`

func TestCallAPI(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/v1.0/users", r.URL.Path)
		assert.Equal(t, "Bearer tok-1", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Accept"))
		assert.Equal(t, version.UserAgent(), r.Header.Get("User-Agent"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(usersBody))
	}))
	defer srv.Close()

	var calls int
	var got *Result
	err := NewCaller(srv.Client(), nil).CallAPI(context.Background(), UsersURL(srv.URL+"/"), "tok-1", func(r *Result) error {
		calls++
		got = r
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)

	names := make([]string, 0, len(got.Fields))
	for _, f := range got.Fields {
		names = append(names, f.Name)
	}
	assert.Equal(t, []string{"@odata.context", "value", "@odata.nextLink", "count"}, names, "document order is kept")
}

func TestCallAPIDisplayHidesMetadata(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(usersBody))
	}))
	defer srv.Close()

	var buf bytes.Buffer
	err := NewCaller(srv.Client(), nil).CallAPI(context.Background(), srv.URL+"/v1.0/users", "t", Display(&buf))
	require.NoError(t, err)

	out := buf.String()
	assert.NotContains(t, out, "@odata")
	assert.True(t, strings.HasPrefix(out, "value = [\n  {\n"), out)
	assert.Contains(t, out, `"displayName": "Adele Vance"`)
	assert.True(t, strings.HasSuffix(out, "count = 1\n"), out)
}

func TestCallAPIErrors(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		body       string
		wantStatus int
		wantCode   string
	}{
		{"unauthorized", http.StatusUnauthorized, `{"error":{"code":"InvalidAuthenticationToken"}}`, 401, "api_call"},
		{"forbidden", http.StatusForbidden, `{"error":{"code":"Authorization_RequestDenied"}}`, 403, "api_call"},
		{"server error", http.StatusInternalServerError, ``, 500, "api_call"},
		{"malformed body", http.StatusOK, `{"value": [`, 200, "api_call"},
		{"array body", http.StatusOK, `[1, 2]`, 200, "api_call"},
		{"trailing data", http.StatusOK, `{"a": 1} {"b": 2}`, 200, "api_call"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			called := false
			err := NewCaller(srv.Client(), nil).CallAPI(context.Background(), srv.URL, "t", func(*Result) error {
				called = true
				return nil
			})
			require.Error(t, err)
			assert.False(t, called, "callback must not run on failure")
			assert.ErrorIs(t, err, ErrAPICall)

			var callErr *CallError
			require.True(t, errors.As(err, &callErr))
			assert.Equal(t, tt.wantStatus, callErr.HTTPStatusCode())
			assert.Equal(t, tt.wantCode, callErr.ErrorCode())
		})
	}
}

func TestCallAPIUnauthorizedHint(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	err := NewCaller(srv.Client(), nil).CallAPI(context.Background(), srv.URL, "t", nil)
	var callErr *CallError
	require.True(t, errors.As(err, &callErr))
	assert.NotEmpty(t, callErr.ErrorHint())
	assert.Contains(t, callErr.Error(), "401")
}

func TestCallAPIErrorBodyIsTruncated(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "7")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(strings.Repeat("x", 10000)))
	}))
	defer srv.Close()

	err := NewCaller(srv.Client(), nil).CallAPI(context.Background(), srv.URL, "t", nil)
	var callErr *CallError
	require.True(t, errors.As(err, &callErr))
	assert.Len(t, callErr.Body, maxErrorBody)
	assert.Equal(t, 7, callErr.RetryAfter)
	assert.Contains(t, callErr.ErrorHint(), "7s")
}

func TestCallAPINetworkError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	err := NewCaller(nil, nil).CallAPI(context.Background(), url, "t", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAPICall)

	var callErr *CallError
	require.True(t, errors.As(err, &callErr))
	assert.Equal(t, "network", callErr.ErrorCode())
}

func TestCallAPICallbackError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	boom := errors.New("boom")
	err := NewCaller(srv.Client(), nil).CallAPI(context.Background(), srv.URL, "t", func(*Result) error { return boom })
	assert.ErrorIs(t, err, boom)
}

func TestCallAPICancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := NewCaller(srv.Client(), nil).CallAPI(ctx, srv.URL, "t", nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestURLs(t *testing.T) {
	assert.Equal(t, "https://graph.microsoft.com/v1.0/users", UsersURL("https://graph.microsoft.com/"))
	assert.Equal(t, "https://graph.microsoft.com/v1.0/groups", EndpointURL("https://graph.microsoft.com/", "/v1.0/groups"))
}

type recordingHooks struct {
	started []RequestInfo
	ended   []RequestResult
}

func (h *recordingHooks) OnRequestStart(ctx context.Context, info RequestInfo) context.Context {
	h.started = append(h.started, info)
	return ctx
}

func (h *recordingHooks) OnRequestEnd(_ context.Context, _ RequestInfo, result RequestResult) {
	h.ended = append(h.ended, result)
}

func TestCallAPIHooks(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	hooks := &recordingHooks{}
	caller := NewCaller(srv.Client(), nil).WithHooks(hooks)
	err := caller.CallAPI(context.Background(), UsersURL(srv.URL+"/"), "tok", nil)
	require.Error(t, err)

	require.Len(t, hooks.started, 1)
	assert.Equal(t, http.MethodGet, hooks.started[0].Method)
	assert.Equal(t, srv.URL+"/v1.0/users", hooks.started[0].URL)
	require.Len(t, hooks.ended, 1)
	assert.Equal(t, http.StatusServiceUnavailable, hooks.ended[0].StatusCode)
	assert.NoError(t, hooks.ended[0].Error)
}
