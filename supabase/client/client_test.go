package client

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/onlab/orderdesk/internal/logging"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	c, err := New(Config{URL: server.URL + "/", APIKey: "service-key"})
	require.NoError(t, err)
	return c
}

func TestNew_RequiresURLAndKey(t *testing.T) {
	_, err := New(Config{APIKey: "k"})
	assert.Error(t, err)

	_, err = New(Config{URL: "http://localhost"})
	assert.Error(t, err)
}

func TestBucket_Upload(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/storage/v1/object/Plagdocs/acct-1/abc-essay%20v2.docx", r.URL.EscapedPath())
		assert.Equal(t, "service-key", r.Header.Get("apikey"))
		assert.Equal(t, "Bearer service-key", r.Header.Get("Authorization"))
		assert.Equal(t, "application/pdf", r.Header.Get("Content-Type"))
		assert.Equal(t, "trace-1", r.Header.Get("X-Trace-ID"))
		assert.Empty(t, r.Header.Get("x-upsert"))

		body, _ := io.ReadAll(r.Body)
		assert.Equal(t, "hello", string(body))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"Key":"Plagdocs/acct-1/abc-essay v2.docx"}`))
	})

	ctx := logging.WithTraceID(context.Background(), "trace-1")
	err := c.Storage().From("Plagdocs").Upload(ctx, "acct-1/abc-essay v2.docx", strings.NewReader("hello"), UploadOptions{
		ContentType: "application/pdf",
		Size:        5,
	})
	require.NoError(t, err)
}

func TestBucket_UploadConflict(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"statusCode":"409","error":"Duplicate","message":"The resource already exists"}`))
	})

	err := c.Storage().From("b").Upload(context.Background(), "p", strings.NewReader("x"), UploadOptions{})
	require.Error(t, err)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusConflict, apiErr.StatusCode)
	assert.Equal(t, "The resource already exists", apiErr.Message)
	assert.False(t, apiErr.Temporary())
	assert.False(t, IsNotFound(err))
}

func TestBucket_Download(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/storage/v1/object/authenticated/Plagreports/o-1/report.pdf", r.URL.Path)
		_, _ = w.Write([]byte("%PDF"))
	})

	data, err := c.Storage().From("Plagreports").Download(context.Background(), "o-1/report.pdf")
	require.NoError(t, err)
	assert.Equal(t, "%PDF", string(data))
}

func TestBucket_DownloadMissing(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{name: "404", status: http.StatusNotFound, body: `{"message":"missing"}`},
		{name: "400 wrapped", status: http.StatusBadRequest, body: `{"statusCode":"404","error":"not_found","message":"Object not found"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			})

			_, err := c.Storage().From("b").Download(context.Background(), "nope")
			require.Error(t, err)
			assert.True(t, IsNotFound(err))
		})
	}
}

func TestBucket_Remove(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		assert.Equal(t, "/storage/v1/object/b", r.URL.Path)

		var body map[string][]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, []string{"a/1", "a/2"}, body["prefixes"])
		_, _ = w.Write([]byte(`[]`))
	})

	require.NoError(t, c.Storage().From("b").Remove(context.Background(), []string{"a/1", "a/2"}))
}

func TestBucket_CreateSignedURL(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/storage/v1/object/sign/Plagreports/o-1/r.pdf", r.URL.Path)

		var body map[string]int
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, 900, body["expiresIn"])

		_, _ = w.Write([]byte(`{"signedURL":"/object/sign/Plagreports/o-1/r.pdf?token=abc"}`))
	})

	signed, err := c.Storage().From("Plagreports").CreateSignedURL(context.Background(), "o-1/r.pdf", 15*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, c.BaseURL()+"/storage/v1/object/sign/Plagreports/o-1/r.pdf?token=abc", signed)
}

func TestBucket_CreateSignedURLMissing(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"statusCode":"404","error":"not_found","message":"Object not found"}`))
	})

	_, err := c.Storage().From("b").CreateSignedURL(context.Background(), "x", time.Minute)
	assert.True(t, IsNotFound(err))
}

func TestBucket_GetPublicURL(t *testing.T) {
	c, err := New(Config{URL: "https://proj.supabase.co", APIKey: "k"})
	require.NoError(t, err)

	assert.Equal(t, "https://proj.supabase.co/storage/v1/object/public/b/x/y.pdf", c.Storage().From("b").GetPublicURL("x/y.pdf"))
}

func TestAPIError_Temporary(t *testing.T) {
	assert.True(t, (&APIError{StatusCode: http.StatusServiceUnavailable}).Temporary())
	assert.True(t, (&APIError{StatusCode: http.StatusTooManyRequests}).Temporary())
	assert.False(t, (&APIError{StatusCode: http.StatusForbidden}).Temporary())
}

func TestNew_ResilientRetriesStorageCalls(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte("ok"))
	}))
	defer server.Close()

	c, err := New(Config{
		URL:       server.URL,
		APIKey:    "k",
		Resilient: true,
		Retry:     RetryConfig{MaxRetries: 2, InitialBackoff: time.Millisecond},
	})
	require.NoError(t, err)

	data, err := c.Storage().From("b").Download(context.Background(), "p")
	require.NoError(t, err)
	assert.Equal(t, "ok", string(data))
	assert.Equal(t, 2, calls)
}
