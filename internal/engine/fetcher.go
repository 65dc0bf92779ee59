package engine

import (
	"context"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// RetryPolicy configures segment retries.
type RetryPolicy struct {
	MaxRetries  int
	BackoffBase time.Duration
	JitterMax   time.Duration
}

// DefaultRetryPolicy returns 3 retries with a 500ms base and up to 500ms jitter.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:  3,
		BackoffBase: 500 * time.Millisecond,
		JitterMax:   500 * time.Millisecond,
	}
}

// JitterSource returns a uniformly distributed value in [0, n).
type JitterSource func(n int64) int64

// BackoffDelay returns base*2^attempt plus a jitter drawn from [0, jitterMax).
// attempt is the zero-based index of the attempt that just failed.
func BackoffDelay(attempt int, p RetryPolicy, jitter JitterSource) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	if attempt > 30 {
		attempt = 30
	}
	delay := p.BackoffBase * time.Duration(1<<uint(attempt))
	if p.JitterMax > 0 && jitter != nil {
		delay += time.Duration(jitter(int64(p.JitterMax)))
	}
	return delay
}

// Fetcher downloads single segments with bounded retries.
type Fetcher struct {
	client  *http.Client
	headers map[string]string
	policy  RetryPolicy
	jitter  JitterSource
	log     zerolog.Logger
}

// FetcherOption configures a Fetcher.
type FetcherOption func(*Fetcher)

// WithJitterSource replaces the random source used for backoff jitter.
func WithJitterSource(j JitterSource) FetcherOption {
	return func(f *Fetcher) {
		f.jitter = j
	}
}

// WithFetchHeaders sets headers sent with every segment request.
func WithFetchHeaders(h map[string]string) FetcherOption {
	return func(f *Fetcher) {
		f.headers = h
	}
}

// WithFetchLogger sets the fetcher's logger.
func WithFetchLogger(l zerolog.Logger) FetcherOption {
	return func(f *Fetcher) {
		f.log = l.With().Str("component", "fetcher").Logger()
	}
}

// NewFetcher creates a Fetcher.
func NewFetcher(client *http.Client, policy RetryPolicy, opts ...FetcherOption) *Fetcher {
	if client == nil {
		client = http.DefaultClient
	}
	if policy.MaxRetries < 0 {
		policy.MaxRetries = 0
	}
	f := &Fetcher{
		client: client,
		policy: policy,
		jitter: rand.Int64N,
		log:    zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Fetch downloads url, retrying failures up to the policy's MaxRetries.
// Cancellation of ctx stops immediately with ErrCancelled.
func (f *Fetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	var lastErr error
	attempts := f.policy.MaxRetries + 1

	for attempt := 0; attempt < attempts; attempt++ {
		if ctx.Err() != nil {
			return nil, ErrCancelled
		}

		data, err := f.doRequest(ctx, url)
		if err == nil {
			return data, nil
		}
		if ctx.Err() != nil {
			return nil, ErrCancelled
		}
		lastErr = err

		if attempt == attempts-1 {
			break
		}

		delay := BackoffDelay(attempt, f.policy, f.jitter)
		f.log.Debug().
			Str("url", url).
			Int("attempt", attempt+1).
			Dur("delay", delay).
			Err(err).
			Msg("segment fetch failed, retrying")

		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return nil, ErrCancelled
		}
	}

	f.log.Warn().Str("url", url).Int("attempts", attempts).Err(lastErr).Msg("segment retries exhausted")
	return nil, &RetriesExhaustedError{URL: url, Attempts: attempts, Last: lastErr}
}

// doRequest performs a single HTTP request.
func (f *Fetcher) doRequest(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	for k, v := range f.headers {
		req.Header.Set(k, v)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, &TransientFetchError{URL: url, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, resp.Body)
		return nil, &TransientFetchError{URL: url, StatusCode: resp.StatusCode}
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransientFetchError{URL: url, Err: err}
	}
	return data, nil
}
