package main

import (
	"bufio"
	"context"
	"net"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"storegate/internal/observability"
)

type rateLimiter interface {
	Wait(ctx context.Context) error
}

// httpRateLimiter is a simple token bucket limiter.
type httpRateLimiter struct {
	mu     sync.Mutex
	rate   time.Duration
	burst  int
	now    func() time.Time
	sleep  func(context.Context, time.Duration) error
	onWait func(time.Duration)

	tokens int
	last   time.Time
}

func newHTTPRateLimiter(rate time.Duration, burst int, onWait func(time.Duration)) *httpRateLimiter {
	now := time.Now
	limiter := &httpRateLimiter{
		rate:   rate,
		burst:  burst,
		now:    now,
		sleep:  sleepWithContext,
		onWait: onWait,
	}
	limiter.tokens = burst
	limiter.last = now()
	return limiter
}

func (r *httpRateLimiter) Wait(ctx context.Context) error {
	if r == nil || r.rate <= 0 || r.burst <= 0 {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		r.mu.Lock()
		now := r.now()
		r.refill(now)
		if r.tokens > 0 {
			r.tokens--
			r.mu.Unlock()
			return nil
		}
		wait := r.rate - now.Sub(r.last)
		r.mu.Unlock()
		if wait <= 0 {
			continue
		}
		if r.onWait != nil {
			r.onWait(wait)
		}
		if err := r.sleep(ctx, wait); err != nil {
			return err
		}
	}
}

func (r *httpRateLimiter) refill(now time.Time) {
	if r.rate <= 0 {
		r.tokens = r.burst
		r.last = now
		return
	}
	elapsed := now.Sub(r.last)
	if elapsed < r.rate {
		return
	}
	add := int(elapsed / r.rate)
	if add <= 0 {
		return
	}
	r.tokens += add
	if r.tokens > r.burst {
		r.tokens = r.burst
	}
	r.last = r.last.Add(time.Duration(add) * r.rate)
}

// statusRecorder captures the response status for error accounting.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// Hijack lets WebSocket upgrades pass through the recorder.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if hijacker, ok := r.ResponseWriter.(http.Hijacker); ok {
		return hijacker.Hijack()
	}
	return nil, nil, http.ErrNotSupported
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

type statusError struct {
	status int
}

func (e *statusError) Error() string {
	return http.StatusText(e.status)
}

// withIngressMiddleware rate limits every request and records a metrics span
// keyed by method and path. Server errors count as span failures.
func withIngressMiddleware(next http.Handler, limiter rateLimiter, metrics *observability.Metrics, logger *zap.Logger) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		span := metrics.Start(r.Method + " " + r.URL.Path)
		if limiter != nil {
			if err := limiter.Wait(r.Context()); err != nil {
				span.End(err)
				http.Error(w, "rate limit wait aborted", http.StatusServiceUnavailable)
				return
			}
		}

		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(recorder, r)

		var err error
		if recorder.status >= http.StatusInternalServerError {
			err = &statusError{status: recorder.status}
			logger.Warn("request failed",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", recorder.status),
				zap.Duration("elapsed", time.Since(start)))
		}
		span.End(err)
	})
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
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
