package fetcher

import (
	"context"
	"crypto/tls"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/mops-cli/internal/resilience"
)

// DefaultUserAgent mimics a desktop browser; the portal rejects bare clients.
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0 Safari/537.36"

// HTTPOptions configures the session client.
type HTTPOptions struct {
	UserAgent string
	Timeout   time.Duration
	// RateDelay is the minimum pause between the end of one exchange (its
	// body closed) and the start of the next. Zero disables the limiter.
	RateDelay time.Duration
	// VerifyTLS enables certificate verification. The portal's chain is
	// frequently incomplete, so it is off by default.
	VerifyTLS bool
	// Transport overrides the default transport (tests).
	Transport http.RoundTripper
}

// HTTPFetcher implements Fetcher with one pooled client per session and a
// single shared limiter, so all requests of a session are serialized in time.
type HTTPFetcher struct {
	client  *http.Client
	opts    HTTPOptions
	mu      sync.Mutex
	limiter *rate.Limiter
}

// NewHTTPFetcher creates the client for one session.
func NewHTTPFetcher(opts HTTPOptions) *HTTPFetcher {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.UserAgent == "" {
		opts.UserAgent = DefaultUserAgent
	}

	transport := opts.Transport
	if transport == nil {
		transport = &http.Transport{
			Proxy:               http.ProxyFromEnvironment,
			MaxIdleConnsPerHost: 2,
			MaxConnsPerHost:     1,
			IdleConnTimeout:     90 * time.Second,
			TLSClientConfig:     &tls.Config{InsecureSkipVerify: !opts.VerifyTLS}, //nolint:gosec
		}
	}

	return &HTTPFetcher{
		client:  &http.Client{Timeout: opts.Timeout, Transport: transport},
		opts:    opts,
		limiter: NewLimiter(opts.RateDelay),
	}
}

// NewLimiter returns a limiter allowing one request per delay.
func NewLimiter(delay time.Duration) *rate.Limiter {
	if delay <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Every(delay), 1)
}

func (f *HTTPFetcher) current() *rate.Limiter {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.limiter
}

// cooldown restarts the spacing window at the moment an exchange ends.
func (f *HTTPFetcher) cooldown() {
	if f.opts.RateDelay <= 0 {
		return
	}
	lim := NewLimiter(f.opts.RateDelay)
	lim.Allow()
	f.mu.Lock()
	f.limiter = lim
	f.mu.Unlock()
}

// pacedBody starts the cooldown once the caller closes the body.
type pacedBody struct {
	io.ReadCloser
	once sync.Once
	done func()
}

func (b *pacedBody) Close() error {
	err := b.ReadCloser.Close()
	b.once.Do(b.done)
	return err
}

// Fetch returns the full response body.
func (f *HTTPFetcher) Fetch(ctx context.Context, rawURL, referer string) ([]byte, error) {
	body, _, err := f.Open(ctx, rawURL, referer)
	if err != nil {
		return nil, err
	}
	defer body.Close() //nolint:errcheck

	data, err := io.ReadAll(body)
	if err != nil {
		return nil, resilience.NewTransientError(eris.Wrapf(err, "fetch: read body %s", rawURL), 0)
	}
	return data, nil
}

// Open performs a GET and returns the body for streaming. Network faults and
// 408/429/5xx come back as *resilience.TransientError; other non-2xx
// statuses as *resilience.StatusError.
func (f *HTTPFetcher) Open(ctx context.Context, rawURL, referer string) (io.ReadCloser, int64, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}
	if err := f.current().Wait(ctx); err != nil {
		return nil, 0, eris.Wrap(err, "fetch: rate limiter wait")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, 0, eris.Wrap(err, "fetch: create request")
	}
	req.Header.Set("User-Agent", f.opts.UserAgent)
	req.Header.Set("Accept-Language", "zh-TW,zh;q=0.9,en;q=0.8")
	if referer != "" {
		req.Header.Set("Referer", referer)
	}

	start := time.Now()
	resp, err := f.client.Do(req)
	if err != nil {
		f.cooldown()
		if ctx.Err() != nil {
			return nil, 0, ctx.Err()
		}
		return nil, 0, resilience.NewTransientError(eris.Wrapf(err, "fetch: GET %s", rawURL), 0)
	}

	zap.L().Debug("portal response",
		zap.String("url", rawURL),
		zap.Int("status", resp.StatusCode),
		zap.Duration("elapsed", time.Since(start)),
	)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_ = resp.Body.Close()
		f.cooldown()
		serr := &resilience.StatusError{StatusCode: resp.StatusCode, URL: rawURL}
		if resilience.IsTransientHTTPStatus(resp.StatusCode) {
			return nil, 0, resilience.NewTransientError(serr, resp.StatusCode)
		}
		return nil, 0, serr
	}

	return &pacedBody{ReadCloser: resp.Body, done: f.cooldown}, resp.ContentLength, nil
}
