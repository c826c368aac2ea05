package pool

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/forgemind/agentforge/core"
)

func TestNewRequiresBaseURL(t *testing.T) {
	_, err := New(Config{})
	if err == nil {
		t.Fatal("expected error for missing base URL")
	}
}

func TestRequestReturnsBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	p, err := New(DefaultConfig(srv.URL))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer p.Close()

	data, err := p.Request(context.Background(), http.MethodGet, "/generate", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(data) != "ok" {
		t.Fatalf("expected 'ok', got %q", data)
	}
}

func TestRequestSurfacesServerErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("boom"))
	}))
	defer srv.Close()

	p, err := New(DefaultConfig(srv.URL))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer p.Close()

	_, err = p.Request(context.Background(), http.MethodGet, "/generate", nil)
	if err == nil {
		t.Fatal("expected an error for a 500 response")
	}
}

func TestClosedPoolRejectsRequests(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	p, err := New(DefaultConfig(srv.URL))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("unexpected error closing pool: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("second close must be a no-op, got: %v", err)
	}

	_, err = p.Request(context.Background(), http.MethodGet, "/generate", nil)
	if err != core.ErrPoolNotInitialized {
		t.Fatalf("expected ErrPoolNotInitialized, got %v", err)
	}
}

func TestConcurrencyCapIsEnforced(t *testing.T) {
	var inFlight int32
	var maxObserved int32
	release := make(chan struct{})

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&inFlight, 1)
		for {
			old := atomic.LoadInt32(&maxObserved)
			if n <= old || atomic.CompareAndSwapInt32(&maxObserved, old, n) {
				break
			}
		}
		<-release
		atomic.AddInt32(&inFlight, -1)
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	cfg := DefaultConfig(srv.URL)
	cfg.MaxConcurrency = 2
	p, err := New(cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer p.Close()

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = p.Request(context.Background(), http.MethodGet, "/generate", nil)
		}()
	}

	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	if atomic.LoadInt32(&maxObserved) > 2 {
		t.Fatalf("expected at most 2 concurrent requests, observed %d", maxObserved)
	}
}

func TestStreamReleasesSlotOnClose(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher := w.(http.Flusher)
		w.Write([]byte("chunk-1"))
		flusher.Flush()
	}))
	defer srv.Close()

	cfg := DefaultConfig(srv.URL)
	cfg.MaxConcurrency = 1
	p, err := New(cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer p.Close()

	body, err := p.Stream(context.Background(), http.MethodGet, "/generate", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	io.ReadAll(body)

	done := make(chan error, 1)
	go func() {
		_, err := p.Request(context.Background(), http.MethodGet, "/generate", nil)
		done <- err
	}()

	select {
	case <-done:
		t.Fatal("second request should block until the stream body is closed")
	case <-time.After(50 * time.Millisecond):
	}

	body.Close()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("request did not unblock after stream body closed")
	}
}
