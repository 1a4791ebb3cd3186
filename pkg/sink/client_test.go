package sink

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/study-analytics-api/pkg/middleware/requestid"
)

type observerStub struct {
	mu       sync.Mutex
	statuses []int
	hosts    []string
}

func (o *observerStub) ObserveSinkRequest(method, host string, status int, duration time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.statuses = append(o.statuses, status)
	o.hosts = append(o.hosts, host)
}

func TestClientPostForwardsHeadersAndBody(t *testing.T) {
	var gotBody, gotType, gotOpaque string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		payload, _ := io.ReadAll(r.Body)
		gotBody = string(payload)
		gotType = r.Header.Get("Content-Type")
		gotOpaque = r.Header.Get("X-Opaque-Id")
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	obs := &observerStub{}
	client := NewClient(srv.Client(), obs, nil, Config{})
	ctx := requestid.WithContext(context.Background(), "req-42")

	res, err := client.Post(ctx, srv.URL, []byte(`[{"a":1}]`), map[string]string{"Content-Type": "application/json"})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, http.StatusOK, res.Status)
	assert.Equal(t, "ok", res.Body)
	assert.Equal(t, `[{"a":1}]`, gotBody)
	assert.Equal(t, "application/json", gotType)
	assert.Equal(t, "req-42", gotOpaque)
	assert.Equal(t, []int{http.StatusOK}, obs.statuses)
	assert.NotEmpty(t, obs.hosts[0])
}

func TestClientReturnsStatusErrorWithResult(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"error":"exists"}`))
	}))
	defer srv.Close()

	client := NewClient(srv.Client(), nil, nil, Config{})
	res, err := client.Put(context.Background(), srv.URL, []byte(`{}`), nil)
	require.Error(t, err)

	var statusErr *StatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, http.StatusConflict, statusErr.Status)
	assert.False(t, res.Success)
	assert.Equal(t, http.StatusConflict, res.Status)
	assert.Contains(t, res.Body, "exists")
}

func TestClientTransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	target := srv.URL
	srv.Close()

	obs := &observerStub{}
	client := NewClient(nil, obs, nil, Config{Timeout: time.Second})
	res, err := client.Delete(context.Background(), target, nil)
	require.Error(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, 0, res.Status)
	assert.Equal(t, []int{0}, obs.statuses)
}

func TestClientGetWithoutRequestID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get("X-Opaque-Id"))
		assert.Equal(t, http.MethodGet, r.Method)
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	client := NewClient(srv.Client(), nil, nil, Config{})
	res, err := client.Get(context.Background(), srv.URL, nil)
	require.NoError(t, err)
	assert.True(t, res.Success)
}
