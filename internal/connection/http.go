package connection

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	mathrand "math/rand"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/net/http2"
)

// RetryPolicy controls HTTP retry behavior for transient failures.
// MaxRetries is the number of retries after the initial attempt. BaseDelay
// seeds the first wait and MaxDelay caps every wait; zero values take the
// package defaults. When Rand is non-nil it supplies the jitter sample for
// deterministic tests.
type RetryPolicy struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	Rand       *mathrand.Rand
}

// Interactive CLI defaults: waits start small so a blip resolves within a
// keystroke's patience, and never exceed a few seconds because the user is
// watching the terminal, not a queue.
const (
	defaultRetryBaseDelay = 250 * time.Millisecond
	defaultRetryMaxDelay  = 4 * time.Second
)

// retryDelay returns the wait before retrying after attempt (0-based)
// failures, using capped exponential growth with full jitter: the wait is
// sampled uniformly from [base/2, min(base<<attempt, max)]. Sampling the
// whole range (rather than nudging a fixed delay by a fraction) spreads
// concurrent retriers apart without a tunable jitter knob.
func (p RetryPolicy) retryDelay(attempt int) time.Duration {
	base := p.BaseDelay
	if base <= 0 {
		base = defaultRetryBaseDelay
	}
	ceiling := p.MaxDelay
	if ceiling <= 0 {
		ceiling = defaultRetryMaxDelay
	}

	if attempt < 63 {
		if grown := base << attempt; grown > 0 && grown < ceiling {
			ceiling = grown
		}
	}
	floor := base / 2
	if floor >= ceiling {
		return ceiling
	}

	r := p.Rand
	if r == nil {
		r = mathrand.New(mathrand.NewSource(time.Now().UnixNano()))
	}
	return floor + time.Duration(r.Int63n(int64(ceiling-floor)+1))
}

// newHTTPClient builds the shared transport used by every provider client.
// HTTP/2 is negotiated where the server offers it; keep-alives are tuned for
// a single interactive user, not a server fleet.
func newHTTPClient(timeout time.Duration) *http.Client {
	transport := &http.Transport{
		MaxIdleConnsPerHost: 4,
		IdleConnTimeout:     90 * time.Second,
	}
	if err := http2.ConfigureTransport(transport); err != nil {
		// HTTP/1.1 still works; the provider APIs do not require h2.
		_ = err
	}
	return &http.Client{Timeout: timeout, Transport: transport}
}

// newIdempotencyKey returns a key reused across retry attempts of one
// logical request, so a provider that honors Idempotency-Key will not
// double-bill a retried call.
func newIdempotencyKey() string {
	return "order-" + uuid.New().String()
}

// isRetryableError reports whether a transport-level failure is worth a
// blind retry (timeouts and cancellation by client-side deadline).
func isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "timeout")
}

// retryAfterDuration parses a Retry-After header, which RFC 9110 allows as
// either delta-seconds or an HTTP-date. Returns (duration, true) only for a
// positive wait; the server's word is taken as-is since a rate limiter
// knows its own window better than any local backoff curve.
func retryAfterDuration(header string, now time.Time) (time.Duration, bool) {
	header = strings.TrimSpace(header)
	if header == "" {
		return 0, false
	}
	if secs, err := strconv.Atoi(header); err == nil {
		if secs <= 0 {
			return 0, false
		}
		return time.Duration(secs) * time.Second, true
	}
	t, err := http.ParseTime(header)
	if err != nil || !t.After(now) {
		return 0, false
	}
	return t.Sub(now), true
}

// sleepFunc allows tests to intercept sleeps deterministically.
var sleepFunc = func(d time.Duration) {
	if d > 0 {
		time.Sleep(d)
	}
}

func truncateBody(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// newLineReader returns a closure that reads one line (terminated by \n)
// from r each call.
func newLineReader(r io.Reader) func() (string, error) {
	br := bufio.NewReader(r)
	return func() (string, error) {
		b, err := br.ReadBytes('\n')
		if err != nil {
			return "", err
		}
		return string(b), nil
	}
}

// readSSE consumes a text/event-stream body, invoking onData for each
// non-[DONE] data payload. It returns nil on EOF or [DONE].
func readSSE(body io.Reader, onData func(payload string) error) error {
	next := newLineReader(body)
	for {
		line, err := next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("stream read: %w", err)
		}
		s := strings.TrimSpace(line)
		if s == "" || strings.HasPrefix(s, ":") || strings.HasPrefix(s, "event:") {
			continue
		}
		if strings.HasPrefix(s, "data:") {
			payload := strings.TrimSpace(strings.TrimPrefix(s, "data:"))
			if payload == "[DONE]" {
				return nil
			}
			if err := onData(payload); err != nil {
				return err
			}
		}
	}
}

// requireSSE verifies the response advertises an event stream; a JSON body
// here means the server ignored stream=true and the caller should fall back.
func requireSSE(resp *http.Response) error {
	ct := strings.ToLower(strings.TrimSpace(resp.Header.Get("Content-Type")))
	if !strings.Contains(ct, "text/event-stream") {
		_, _ = io.ReadAll(resp.Body)
		return fmt.Errorf("server does not support streaming (content-type=%q)", ct)
	}
	return nil
}
