// Package pool provides a concurrency-capped HTTP client pointed at the
// local model server, the only outbound network dependency in the
// system. Every call into the LLM client funnels through here so the
// in-flight request count never exceeds the configured cap regardless
// of how many callers are asking for generations concurrently.
package pool

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/forgemind/agentforge/core"
	"github.com/forgemind/agentforge/telemetry"
)

// Config configures a Pool.
type Config struct {
	BaseURL            string
	MaxConcurrency     int
	MaxIdleConnections int // defaults to MaxConcurrency/2
	RequestTimeout     time.Duration
	EnableHTTP2        bool
	Logger             core.Logger
}

// DefaultConfig mirrors the defaults a local model server deployment
// expects: ten concurrent calls, half that many idle keep-alives, a
// five-minute ceiling per request (generation can be slow on CPU).
func DefaultConfig(baseURL string) Config {
	return Config{
		BaseURL:        baseURL,
		MaxConcurrency: 10,
		RequestTimeout: 300 * time.Second,
	}
}

// Pool is a semaphore-guarded HTTP client. Close is idempotent and
// safe to call from a shutdown sequence racing in-flight requests.
type Pool struct {
	baseURL string
	client  *http.Client
	sem     chan struct{}
	logger  core.Logger

	mu     sync.Mutex
	closed bool
}

// New builds a Pool from cfg, applying DefaultConfig's values for any
// zero-valued field. Returns an error if BaseURL is empty.
func New(cfg Config) (*Pool, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("%w: pool requires a base URL", core.ErrMissingConfiguration)
	}
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = 10
	}
	if cfg.MaxIdleConnections <= 0 {
		cfg.MaxIdleConnections = cfg.MaxConcurrency / 2
		if cfg.MaxIdleConnections < 1 {
			cfg.MaxIdleConnections = 1
		}
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 300 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = &core.NoOpLogger{}
	}

	transport := &http.Transport{
		MaxIdleConns:        cfg.MaxIdleConnections,
		MaxIdleConnsPerHost: cfg.MaxIdleConnections,
		MaxConnsPerHost:     cfg.MaxConcurrency,
		ForceAttemptHTTP2:   cfg.EnableHTTP2,
		IdleConnTimeout:     90 * time.Second,
	}

	return &Pool{
		baseURL: cfg.BaseURL,
		client: &http.Client{
			Timeout:   cfg.RequestTimeout,
			Transport: transport,
		},
		sem:    make(chan struct{}, cfg.MaxConcurrency),
		logger: cfg.Logger,
	}, nil
}

func (p *Pool) acquire(ctx context.Context) error {
	start := time.Now()
	select {
	case p.sem <- struct{}{}:
		telemetry.Histogram(telemetry.MetricPoolAcquireWaitMS, float64(time.Since(start).Milliseconds()))
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Pool) release() { <-p.sem }

// dispatch acquires a semaphore slot and sends req. The slot is NOT
// released on return — the caller owns releasing it via the returned
// func once it is done with the response body, so a streaming read
// counts against the concurrency cap for its full lifetime rather
// than just the time it took to receive headers.
func (p *Pool) dispatch(ctx context.Context, req *http.Request) (*http.Response, func(), error) {
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return nil, nil, core.ErrPoolNotInitialized
	}

	if err := p.acquire(ctx); err != nil {
		return nil, nil, err
	}
	telemetry.UpDown(telemetry.MetricPoolInFlight, 1)
	release := func() {
		telemetry.UpDown(telemetry.MetricPoolInFlight, -1)
		p.release()
	}

	resp, err := p.client.Do(req.WithContext(ctx))
	if err != nil {
		telemetry.Counter(telemetry.MetricPoolRequestErrors)
		release()
		return nil, nil, fmt.Errorf("pool: %w", err)
	}
	return resp, release, nil
}

// Do sends req and returns the raw response; the caller must close
// the body, which also releases this request's concurrency slot.
func (p *Pool) Do(ctx context.Context, req *http.Request) (*http.Response, error) {
	resp, release, err := p.dispatch(ctx, req)
	if err != nil {
		return nil, err
	}
	resp.Body = &releasingBody{ReadCloser: resp.Body, release: release}
	return resp, nil
}

// Request builds and sends a request against baseURL+endpoint, returning
// the response body fully read and closed. Use Stream for chunked
// reads of a streaming response.
func (p *Pool) Request(ctx context.Context, method, endpoint string, body io.Reader) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, p.baseURL+endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("pool: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.Do(ctx, req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("pool: read response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("pool: model server returned %d: %s", resp.StatusCode, string(data))
	}
	return data, nil
}

// Stream sends a request and returns the live response body for the
// caller to read chunk-by-chunk. The caller must Close it; doing so
// releases this request's concurrency slot.
func (p *Pool) Stream(ctx context.Context, method, endpoint string, body io.Reader) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, method, p.baseURL+endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("pool: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, release, err := p.dispatch(ctx, req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		data, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		release()
		return nil, fmt.Errorf("pool: model server returned %d: %s", resp.StatusCode, string(data))
	}
	return &releasingBody{ReadCloser: resp.Body, release: release}, nil
}

// releasingBody ensures a dispatch's concurrency slot is released
// exactly once, on Close, regardless of how the caller reads the body.
type releasingBody struct {
	io.ReadCloser
	release func()
	once    sync.Once
}

func (b *releasingBody) Close() error {
	err := b.ReadCloser.Close()
	b.once.Do(b.release)
	return err
}

// Healthy reports whether the pool can still accept new requests.
func (p *Pool) Healthy() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return !p.closed
}

// Close idempotently stops accepting new requests and releases idle
// connections. In-flight requests already holding a semaphore slot
// are allowed to finish; Close does not cancel them.
func (p *Pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	p.client.CloseIdleConnections()
	return nil
}
