package engine

import (
	"context"
	"strings"
	"sync/atomic"
	"time"

	"github.com/ShirasawaTopaz/order/internal/agenterr"
	"github.com/ShirasawaTopaz/order/internal/capability"
	"github.com/ShirasawaTopaz/order/internal/classify"
	"github.com/ShirasawaTopaz/order/internal/connection"
	"github.com/ShirasawaTopaz/order/internal/fallback"
	"github.com/ShirasawaTopaz/order/internal/observability"
)

// pollInterval is the cadence at which the streaming loop checks the cancel
// flag between provider items.
const pollInterval = 120 * time.Millisecond

// StreamChat executes a streaming request, delivering Delta, ToolProgress,
// Done, and Error events to onEvent and returning the aggregated text. The
// cancel flag is observed between stream items on a short poll cadence; a
// nil cancel disables flag-based cancellation (ctx still applies).
//
// When the negotiation disables streaming — or the provider turns out not to
// support it mid-call — the reply is served by the non-streaming path and
// replayed as a single Delta followed by Done.
func (e *Engine) StreamChat(ctx context.Context, text string, history []connection.Message, cancel *atomic.Bool, onEvent func(connection.StreamEvent)) (string, error) {
	traceID := observability.NewTraceID()

	var content string
	var runErr error
	observability.WithTraceID(ctx, traceID, func(ctx context.Context) {
		content, runErr = e.streamTraced(ctx, traceID, text, history, cancel, onEvent)
	})
	return content, runErr
}

func (e *Engine) streamTraced(ctx context.Context, traceID, text string, history []connection.Message, cancel *atomic.Bool, onEvent func(connection.StreamEvent)) (string, error) {
	if e.mem != nil {
		history = append(e.mem.History(), history...)
	}

	negotiated, err := e.resolve()
	if err != nil {
		return "", agenterr.Traced(traceID, err)
	}

	start := e.now()
	e.emitRequestStart(traceID, negotiated)

	// Tool-using requests and stream-disabled negotiations both go through
	// the non-streaming path; tool progress is coalesced into ToolProgress
	// events either way.
	if !negotiated.StreamEnabled || (negotiated.ToolsEnabled && e.tools != nil) {
		content, err := e.replayNonStreaming(ctx, traceID, negotiated, text, history, onEvent)
		e.finishStream(traceID, negotiated, start, 1, text, content, err, onEvent)
		return content, err
	}

	content, streamErr := e.streamOnce(ctx, traceID, negotiated, text, history, cancel, onEvent)
	if streamErr == nil {
		e.finishStream(traceID, negotiated, start, 1, text, content, nil, onEvent)
		return content, nil
	}
	if _, isCancelled := streamErr.(*agenterr.Cancelled); isCancelled {
		e.emitRequestEnd(traceID, negotiated, false, start, 1, streamErr)
		return "", agenterr.Traced(traceID, streamErr)
	}

	classified := classify.Classifier{}.Classify(streamErr, negotiated.Endpoint, classify.FromNegotiated(negotiated))
	e.emitErrorClassified(traceID, classified)

	if classified.Category != classify.CategoryStreamUnsupported {
		e.emitRequestEnd(traceID, negotiated, false, start, 1, streamErr)
		onEvent(connection.StreamEvent{Kind: connection.StreamError, Message: classified.Summary})
		return "", agenterr.Traced(traceID, &agenterr.ProviderFailure{
			TraceID:  traceID,
			Category: string(classified.Category),
			Summary:  classified.Summary,
		})
	}

	plan := fallback.DefaultPlan()
	step, ok := plan.NextStep(negotiated, classified)
	if !ok {
		e.emitRequestEnd(traceID, negotiated, false, start, 1, streamErr)
		onEvent(connection.StreamEvent{Kind: connection.StreamError, Message: classified.Summary})
		return "", agenterr.Traced(traceID, &agenterr.CapabilityExhausted{
			TraceID:      traceID,
			LastCategory: string(classified.Category),
		})
	}

	downgraded := step.ApplyTo(negotiated)
	e.writebackDowngrade(downgraded, step)
	e.emit(observability.RetryScheduled{TS: observability.Now(), TraceID: traceID, Attempt: 2, Reason: step.Reason})
	e.emitFallbackApplied(traceID, step.Reason, negotiated, downgraded)

	content, retryErr := e.replayNonStreaming(ctx, traceID, downgraded, text, history, onEvent)
	if retryErr != nil {
		e.emitRequestEnd(traceID, downgraded, false, start, 2, retryErr)
		e.emit(observability.RetryExhausted{TS: observability.Now(), TraceID: traceID, Attempts: 2, LastError: retryErr.Error()})
		onEvent(connection.StreamEvent{Kind: connection.StreamError, Message: retryErr.Error()})
		return "", agenterr.Traced(traceID, &agenterr.CapabilityExhausted{
			TraceID:      traceID,
			LastCategory: string(classified.Category),
		})
	}
	e.finishStream(traceID, downgraded, start, 2, text, content, nil, onEvent)
	return content, nil
}

// finishStream emits the terminal stream event, the request_end record, and
// the memory append for a finished streaming call.
func (e *Engine) finishStream(traceID string, negotiated capability.NegotiatedCapabilities, start time.Time, attempts uint32, userText, content string, err error, onEvent func(connection.StreamEvent)) {
	if err != nil {
		e.emitRequestEnd(traceID, negotiated, false, start, attempts, err)
		onEvent(connection.StreamEvent{Kind: connection.StreamError, Message: err.Error()})
		return
	}
	e.emitRequestEnd(traceID, negotiated, true, start, attempts, nil)
	onEvent(connection.StreamEvent{Kind: connection.StreamDone})
	e.rememberTurn(userText, content)
}

// replayNonStreaming serves a streaming caller through the non-streaming
// path: the tool loop runs with progress events, then the full reply is
// emitted as one Delta (when non-empty).
func (e *Engine) replayNonStreaming(ctx context.Context, traceID string, negotiated capability.NegotiatedCapabilities, text string, history []connection.Message, onEvent func(connection.StreamEvent)) (string, error) {
	client, err := e.buildClient(e.builderFor(negotiated))
	if err != nil {
		return "", err
	}

	messages := append(append([]connection.Message{}, history...), connection.Message{Role: connection.RoleUser, Content: text})
	content, err := e.toolLoop(ctx, traceID, client, messages, e.toolDefinitions(negotiated), func(summary string) {
		onEvent(connection.StreamEvent{Kind: connection.StreamToolProgress, Message: summary})
	})
	if err != nil {
		return "", err
	}
	if content != "" {
		onEvent(connection.StreamEvent{Kind: connection.StreamDelta, Content: content})
	}
	return content, nil
}

// streamOnce drives one true streaming attempt, pumping provider events
// through a channel so the cancel flag is observed on the poll cadence even
// while the provider is silent.
func (e *Engine) streamOnce(ctx context.Context, traceID string, negotiated capability.NegotiatedCapabilities, text string, history []connection.Message, cancel *atomic.Bool, onEvent func(connection.StreamEvent)) (string, error) {
	client, err := e.buildClient(e.builderFor(negotiated))
	if err != nil {
		return "", err
	}

	streamCtx, stop := context.WithCancel(ctx)
	defer stop()

	events := make(chan connection.StreamEvent, 64)
	errCh := make(chan error, 1)
	go func() {
		errCh <- client.StreamChat(streamCtx, connection.ChatRequest{
			Messages: append(append([]connection.Message{}, history...), connection.Message{Role: connection.RoleUser, Content: text}),
		}, func(event connection.StreamEvent) {
			select {
			case events <- event:
			case <-streamCtx.Done():
			}
		})
	}()

	var aggregated strings.Builder
	forward := func(event connection.StreamEvent) {
		if event.Kind == connection.StreamDelta {
			aggregated.WriteString(event.Content)
		}
		onEvent(event)
	}

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case event := <-events:
			forward(event)
		case streamErr := <-errCh:
			// Drain whatever the provider emitted before finishing.
			for {
				select {
				case event := <-events:
					forward(event)
				default:
					if streamErr != nil {
						return "", streamErr
					}
					return aggregated.String(), nil
				}
			}
		case <-ticker.C:
			if ctx.Err() != nil || (cancel != nil && cancel.Load()) {
				stop()
				return "", &agenterr.Cancelled{TraceID: traceID}
			}
		}
	}
}
