package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEndpoint(t *testing.T) {
	assert.Equal(t, "http://localhost:8080/healthz", endpoint("", false))
	assert.Equal(t, "http://localhost:8080/readyz", endpoint("", true))
	assert.Equal(t, "http://bot:9000/readyz", endpoint("http://bot:9000/", true))
}

func TestCheck(t *testing.T) {
	var dbDown atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/healthz":
			w.WriteHeader(http.StatusOK)
		case "/readyz":
			if !dbDown.Load() {
				w.WriteHeader(http.StatusOK)
				return
			}
			w.WriteHeader(http.StatusServiceUnavailable)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()
	ctx := context.Background()

	require.NoError(t, check(ctx, srv.Client(), endpoint(srv.URL, false)))
	require.NoError(t, check(ctx, srv.Client(), endpoint(srv.URL, true)))

	dbDown.Store(true)
	assert.NoError(t, check(ctx, srv.Client(), endpoint(srv.URL, false)))
	err := check(ctx, srv.Client(), endpoint(srv.URL, true))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
}

func TestCheckUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := endpoint(srv.URL, false)
	srv.Close()
	assert.Error(t, check(context.Background(), http.DefaultClient, url))
}
