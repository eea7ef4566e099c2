package supabase

import (
	"context"
	"errors"
	"io"
	"math/rand"
	"net"
	"net/http"
	"sync"
	"time"
)

// Retry controls how transient Storage failures are retried.
type Retry struct {
	// Attempts counts every try, the first included.
	Attempts int
	Base     time.Duration
	Max      time.Duration
}

// DefaultRetry is used when Config.Retry is zero.
func DefaultRetry() Retry {
	return Retry{Attempts: 4, Base: 100 * time.Millisecond, Max: 5 * time.Second}
}

// delay is an exponential backoff with half jitter.
func (r Retry) delay(attempt int) time.Duration {
	d := r.Base << (attempt - 1)
	if d <= 0 || (r.Max > 0 && d > r.Max) {
		d = r.Max
	}
	if d <= 0 {
		return 0
	}
	half := d / 2
	return half + time.Duration(rand.Int63n(int64(half)+1))
}

// Breaker stops calling Supabase for Cooldown after Failures consecutive
// failed calls.
type Breaker struct {
	Failures int
	Cooldown time.Duration
}

// DefaultBreaker is used when Config.Breaker is zero.
func DefaultBreaker() Breaker {
	return Breaker{Failures: 5, Cooldown: 30 * time.Second}
}

// ErrUnavailable is returned while the breaker is open.
var ErrUnavailable = errors.New("supabase: storage temporarily unavailable")

type breaker struct {
	mu        sync.Mutex
	cfg       Breaker
	failures  int
	openUntil time.Time
	now       func() time.Time
}

func newBreaker(cfg Breaker) *breaker {
	return &breaker{cfg: cfg, now: time.Now}
}

// allow lets a call through unless the breaker is cooling down. After the
// cooldown one failure is enough to open it again.
func (b *breaker) allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.now().Before(b.openUntil) {
		return ErrUnavailable
	}
	return nil
}

func (b *breaker) record(ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if ok {
		b.failures = 0
		b.openUntil = time.Time{}
		return
	}
	b.failures++
	if b.failures >= b.cfg.Failures {
		b.openUntil = b.now().Add(b.cfg.Cooldown)
	}
}

func (b *breaker) open() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.now().Before(b.openUntil)
}

// transport retries idempotent-safe failures: timeouts, 429 and gateway
// errors. Bodies are replayed through GetBody.
type transport struct {
	next    http.RoundTripper
	retry   Retry
	breaker *breaker
}

func (t *transport) RoundTrip(req *http.Request) (*http.Response, error) {
	if err := t.breaker.allow(); err != nil {
		return nil, err
	}
	for attempt := 1; ; attempt++ {
		try := req
		if attempt > 1 {
			try = req.Clone(req.Context())
			if req.GetBody != nil {
				body, err := req.GetBody()
				if err != nil {
					return nil, err
				}
				try.Body = body
			}
		}

		resp, err := t.next.RoundTrip(try)
		if !transient(resp, err) || attempt >= t.retry.Attempts {
			t.breaker.record(err == nil && resp.StatusCode < http.StatusInternalServerError)
			return resp, err
		}
		if resp != nil {
			_, _ = io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
		}
		if err := sleep(req.Context(), t.retry.delay(attempt)); err != nil {
			return nil, err
		}
	}
}

func transient(resp *http.Response, err error) bool {
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return false
		}
		var netErr net.Error
		return errors.As(err, &netErr) && netErr.Timeout()
	}
	switch resp.StatusCode {
	case http.StatusTooManyRequests, http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	return false
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
