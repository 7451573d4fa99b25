package httptransport

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"example.com/plannersync/internal/transport"
)

func TestFetchJSONSendsConditionalHeaders(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		require.Equal(t, "2025-03-01", r.URL.Query().Get("start_date"))
		if r.Header.Get("If-None-Match") == `"v1"` {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("ETag", `"v2"`)
		_, _ = w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	client := NewClient(srv.URL+"/", "tok", time.Second)
	query := url.Values{"start_date": {"2025-03-01"}}

	resp, err := client.FetchJSON(context.Background(), transport.FetchRequest{Path: "/v1/users/u1/planner", Query: query})
	require.NoError(t, err)
	require.False(t, resp.NotModified)
	require.Equal(t, `"v2"`, resp.ETag)
	require.Equal(t, "[]", string(resp.Body))

	resp, err = client.FetchJSON(context.Background(), transport.FetchRequest{Path: "/v1/users/u1/planner", Query: query, IfNoneMatch: `"v1"`})
	require.NoError(t, err)
	require.True(t, resp.NotModified)
	require.Equal(t, `"v1"`, resp.ETag)
	require.Empty(t, resp.Body)
}

func TestFetchJSONReturnsStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, "", time.Second).FetchJSON(context.Background(), transport.FetchRequest{Path: "/x"})
	var statusErr *StatusError
	require.True(t, errors.As(err, &statusErr))
	require.Equal(t, http.StatusBadGateway, statusErr.Status)
}

func TestPostJSON(t *testing.T) {
	var got string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.Empty(t, r.Header.Get("Authorization"))
		body, _ := io.ReadAll(r.Body)
		got = string(body)
		if r.URL.Path == "/reject" {
			w.WriteHeader(http.StatusUnprocessableEntity)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "", time.Second)
	status, err := client.PostJSON(context.Background(), "/accept", []map[string]string{{"base_id": "a"}})
	require.NoError(t, err)
	require.Equal(t, http.StatusNoContent, status)
	require.JSONEq(t, `[{"base_id":"a"}]`, got)

	status, err = client.PostJSON(context.Background(), "/reject", []string{})
	require.Error(t, err)
	require.Equal(t, http.StatusUnprocessableEntity, status)
}

func TestDefaultServerConfig(t *testing.T) {
	srv := NewServer(DefaultServerConfig(":0"), http.NotFoundHandler())
	require.Equal(t, ":0", srv.Addr)
	require.Equal(t, 5*time.Second, srv.ReadHeaderTimeout)
}
