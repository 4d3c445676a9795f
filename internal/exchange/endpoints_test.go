package exchange

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-resty/resty/v2"
)

func pingServer() *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/v3/ping" {
			w.Write([]byte(`{}`))
			return
		}
		http.NotFound(w, r)
	}))
}

func TestProbeDropsUnreachableHosts(t *testing.T) {
	t.Parallel()

	alive := pingServer()
	defer alive.Close()

	dead := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	dead.Close() // connection refused from here on

	pool := NewEndpointPool([]string{dead.URL, alive.URL}, testLogger())
	if err := pool.Probe(context.Background(), resty.New()); err != nil {
		t.Fatalf("Probe: %v", err)
	}

	if got := pool.Len(); got != 1 {
		t.Fatalf("Len() = %d, want 1", got)
	}
	if pool.Current() != alive.URL {
		t.Errorf("Current() = %s, want the live host", pool.Current())
	}
}

func TestProbeFatalWhenNothingReachable(t *testing.T) {
	t.Parallel()

	dead := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	dead.Close()

	pool := NewEndpointPool([]string{dead.URL}, testLogger())
	err := pool.Probe(context.Background(), resty.New())
	if !errors.Is(err, ErrNoEndpoints) {
		t.Errorf("Probe error = %v, want ErrNoEndpoints", err)
	}
}

func TestAdvanceCyclesThroughHosts(t *testing.T) {
	t.Parallel()

	pool := NewEndpointPool([]string{"https://a", "https://b", "https://c"}, testLogger())

	if pool.Current() != "https://a" {
		t.Fatalf("Current() = %s, want https://a", pool.Current())
	}
	if got := pool.Advance(); got != "https://b" {
		t.Errorf("Advance() = %s, want https://b", got)
	}
	pool.Advance()
	if got := pool.Advance(); got != "https://a" {
		t.Errorf("Advance() wrap = %s, want https://a", got)
	}
}
