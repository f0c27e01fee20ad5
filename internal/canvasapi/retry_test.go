package canvasapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRetryPolicy_ShouldRetry429Only(t *testing.T) {
	p := DefaultRetryPolicy(nil)

	assert.True(t, p.ShouldRetry(&http.Response{StatusCode: http.StatusTooManyRequests}))
	assert.False(t, p.ShouldRetry(&http.Response{StatusCode: http.StatusInternalServerError}))
	assert.False(t, p.ShouldRetry(&http.Response{StatusCode: http.StatusNotFound}))
}

func TestRetryPolicy_BackoffHonorsRetryAfter(t *testing.T) {
	p := DefaultRetryPolicy(nil)
	resp := &http.Response{Header: http.Header{"Retry-After": []string{"5"}}}
	assert.Equal(t, 5*time.Second, p.Backoff(resp, 0))
}

func TestRetryPolicy_BackoffExponentialWithoutRetryAfter(t *testing.T) {
	p := DefaultRetryPolicy(nil)
	resp := &http.Response{Header: http.Header{}}
	assert.Equal(t, 2*time.Second, p.Backoff(resp, 0))
	assert.Equal(t, 4*time.Second, p.Backoff(resp, 1))
	assert.Equal(t, 8*time.Second, p.Backoff(resp, 2))
}

func TestRetryPolicy_ExecuteWithRetry_RetriesOn429ThenSucceeds(t *testing.T) {
	var calls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	p := DefaultRetryPolicy(nil)
	resp, err := p.ExecuteWithRetry(context.Background(), func() (*http.Response, error) {
		return http.Get(server.URL)
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 2, calls)
}
