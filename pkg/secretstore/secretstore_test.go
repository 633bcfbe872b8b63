package secretstore

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFetchSecret(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.Path, "/v1/secret/")
		_, _ = w.Write([]byte("s3cr3t"))
	}))
	defer srv.Close()

	c := New(srv.URL, time.Second)
	secret, err := c.FetchSecret(context.Background(), "bmc/compute-1")
	require.NoError(t, err)
	assert.Equal(t, "s3cr3t", secret)
}

func TestFetchSecretEmptyRef(t *testing.T) {
	c := New("http://example.invalid", time.Second)
	_, err := c.FetchSecret(context.Background(), "")
	assert.Error(t, err)
}

func TestFetchSecretNonOKStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := New(srv.URL, time.Second)
	_, err := c.FetchSecret(context.Background(), "missing")
	assert.Error(t, err)
}
