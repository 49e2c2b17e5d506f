package observability

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

type traceIDKey struct{}

var traceCounter uint64

var fallbackSlot struct {
	mu    sync.RWMutex
	value string
	set   bool
}

// NewTraceID generates a process-unique id from the current time plus a
// monotonic counter, rendered as hex for easy copy/search in logs.
func NewTraceID() string {
	now := time.Now()
	counter := atomic.AddUint64(&traceCounter, 1)
	return fmt.Sprintf("%x%x%x", now.Unix(), now.Nanosecond(), counter)
}

// WithTraceID runs work with traceID bound for the duration of the call. The
// binding is carried both via the context passed to work (goroutine-local) and a
// process-wide fallback slot, because provider SDKs and the streaming poll
// loop may run work on goroutines that never receive this context. The
// fallback slot is restored LIFO on exit.
func WithTraceID(ctx context.Context, traceID string, work func(ctx context.Context)) {
	fallbackSlot.mu.Lock()
	previousValue, previousSet := fallbackSlot.value, fallbackSlot.set
	fallbackSlot.value, fallbackSlot.set = traceID, true
	fallbackSlot.mu.Unlock()

	defer func() {
		fallbackSlot.mu.Lock()
		fallbackSlot.value, fallbackSlot.set = previousValue, previousSet
		fallbackSlot.mu.Unlock()
	}()

	work(context.WithValue(ctx, traceIDKey{}, traceID))
}

// CurrentTraceID returns the trace id bound to ctx, falling back to the
// process-wide slot when ctx carries none.
func CurrentTraceID(ctx context.Context) (string, bool) {
	if ctx != nil {
		if v, ok := ctx.Value(traceIDKey{}).(string); ok {
			return v, true
		}
	}
	fallbackSlot.mu.RLock()
	defer fallbackSlot.mu.RUnlock()
	return fallbackSlot.value, fallbackSlot.set
}
