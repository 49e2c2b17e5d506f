package engine

import (
	"context"
	"time"

	"github.com/ShirasawaTopaz/order/internal/agenterr"
	"github.com/ShirasawaTopaz/order/internal/capability"
	"github.com/ShirasawaTopaz/order/internal/classify"
	"github.com/ShirasawaTopaz/order/internal/connection"
	"github.com/ShirasawaTopaz/order/internal/fallback"
	"github.com/ShirasawaTopaz/order/internal/observability"
)

// Prompt executes a single-turn request with no prior history.
func (e *Engine) Prompt(ctx context.Context, text string) (TracedResponse, error) {
	return e.run(ctx, text, nil)
}

// Chat executes a request against prior history. When long-term memory is
// wired, remembered turns precede the caller-supplied history.
func (e *Engine) Chat(ctx context.Context, text string, history []connection.Message) (TracedResponse, error) {
	if e.mem != nil {
		history = append(e.mem.History(), history...)
	}
	return e.run(ctx, text, history)
}

// run is the shared pipeline: resolve, invoke, classify on failure, apply at
// most one capability fallback, retry once, and leave a complete event trail
// either way.
func (e *Engine) run(ctx context.Context, text string, history []connection.Message) (TracedResponse, error) {
	traceID := observability.NewTraceID()

	var response TracedResponse
	var runErr error
	observability.WithTraceID(ctx, traceID, func(ctx context.Context) {
		response, runErr = e.runTraced(ctx, traceID, text, history)
	})
	return response, runErr
}

func (e *Engine) runTraced(ctx context.Context, traceID, text string, history []connection.Message) (TracedResponse, error) {
	negotiated, err := e.resolve()
	if err != nil {
		return TracedResponse{}, agenterr.Traced(traceID, err)
	}

	start := e.now()
	e.emitRequestStart(traceID, negotiated)

	content, err := e.invoke(ctx, traceID, negotiated, text, history)
	if err == nil {
		e.emitRequestEnd(traceID, negotiated, true, start, 1, nil)
		e.rememberTurn(text, content)
		return TracedResponse{TraceID: traceID, Content: content, Attempts: 1, Endpoint: negotiated.Endpoint}, nil
	}

	classified := classify.Classifier{}.Classify(err, negotiated.Endpoint, classify.FromNegotiated(negotiated))
	e.emitErrorClassified(traceID, classified)

	plan := fallback.DefaultPlan()
	step, ok := plan.NextStep(negotiated, classified)
	if !classified.IsDegradable() || !ok {
		e.emitRequestEnd(traceID, negotiated, false, start, 1, err)
		return TracedResponse{}, agenterr.Traced(traceID, &agenterr.ProviderFailure{
			TraceID:  traceID,
			Category: string(classified.Category),
			Summary:  classified.Summary,
		})
	}

	downgraded := step.ApplyTo(negotiated)
	e.writebackDowngrade(downgraded, step)
	e.emit(observability.RetryScheduled{TS: observability.Now(), TraceID: traceID, Attempt: 2, Reason: step.Reason})
	e.emitFallbackApplied(traceID, step.Reason, negotiated, downgraded)

	content, retryErr := e.invoke(ctx, traceID, downgraded, text, history)
	if retryErr != nil {
		e.emitRequestEnd(traceID, downgraded, false, start, 2, retryErr)
		e.emit(observability.RetryExhausted{
			TS:        observability.Now(),
			TraceID:   traceID,
			Attempts:  2,
			LastError: retryErr.Error(),
		})
		return TracedResponse{}, agenterr.Traced(traceID, &agenterr.CapabilityExhausted{
			TraceID:      traceID,
			LastCategory: string(classified.Category),
		})
	}

	e.emitRequestEnd(traceID, downgraded, true, start, 2, nil)
	e.rememberTurn(text, content)
	return TracedResponse{TraceID: traceID, Content: content, Attempts: 2, Endpoint: downgraded.Endpoint}, nil
}

// invoke builds a client bound to the negotiated capabilities and drives the
// tool-dispatch loop until the model returns plain content.
func (e *Engine) invoke(ctx context.Context, traceID string, negotiated capability.NegotiatedCapabilities, text string, history []connection.Message) (string, error) {
	client, err := e.buildClient(e.builderFor(negotiated))
	if err != nil {
		return "", err
	}

	messages := append(append([]connection.Message{}, history...), connection.Message{Role: connection.RoleUser, Content: text})
	tools := e.toolDefinitions(negotiated)

	return e.toolLoop(ctx, traceID, client, messages, tools, nil)
}

// toolLoop asks the model, dispatches any tool calls it makes, and repeats
// until the model answers with content or the hop bound is reached.
// onProgress, when set, receives a short summary per dispatched tool.
func (e *Engine) toolLoop(ctx context.Context, traceID string, client connection.Client, messages []connection.Message, tools []connection.Tool, onProgress func(summary string)) (string, error) {
	for hop := 0; hop < maxToolHops; hop++ {
		result, err := client.Chat(ctx, connection.ChatRequest{Messages: messages, Tools: tools})
		if err != nil {
			return "", err
		}
		if len(result.ToolCalls) == 0 || e.tools == nil {
			return result.Content, nil
		}

		messages = append(messages, connection.Message{
			Role:      connection.RoleAssistant,
			Content:   result.Content,
			ToolCalls: result.ToolCalls,
		})
		for _, call := range result.ToolCalls {
			output, dispatchErr := e.tools.Dispatch(ctx, traceID, call.Function.Name, call.Function.Arguments)
			if dispatchErr != nil {
				output = "tool error: " + dispatchErr.Error()
			}
			if onProgress != nil {
				onProgress(toolProgressSummary(call.Function.Name, output))
			}
			messages = append(messages, connection.Message{
				Role:       connection.RoleTool,
				Name:       call.Function.Name,
				ToolCallID: call.ID,
				Content:    output,
			})
		}
	}

	// Hop bound reached: ask once more without tools for a final answer.
	result, err := client.Chat(ctx, connection.ChatRequest{Messages: messages})
	if err != nil {
		return "", err
	}
	return result.Content, nil
}

// toolProgressSummary renders one dispatched tool as a short progress line,
// truncated so a streaming UI can show it inline.
func toolProgressSummary(tool, output string) string {
	const maxChars = 120
	summary := tool + ": " + output
	runes := []rune(summary)
	if len(runes) <= maxChars {
		return summary
	}
	return string(runes[:maxChars-2]) + ".."
}

func (e *Engine) writebackDowngrade(downgraded capability.NegotiatedCapabilities, step fallback.Step) {
	err := e.resolver.WritebackCacheWithContext(
		e.opts.WorkspaceRoot,
		e.opts.Provider,
		e.opts.BaseURL,
		e.opts.Model,
		downgraded.ProviderCapabilities,
		capability.RuntimeWriteback(step.Reason),
	)
	if err != nil && e.logger != nil {
		e.logger.Warn("capability writeback: %v", err)
	}
}

func (e *Engine) emitRequestStart(traceID string, negotiated capability.NegotiatedCapabilities) {
	e.emit(observability.RequestStart{
		TS:                observability.Now(),
		TraceID:           traceID,
		Provider:          string(e.opts.Provider),
		Model:             e.opts.Model,
		Endpoint:          string(negotiated.Endpoint),
		Tools:             negotiated.ToolsEnabled,
		SystemPreamble:    negotiated.SystemPreambleEnabled,
		CapabilitySources: negotiated.Sources,
	})
}

func (e *Engine) emitRequestEnd(traceID string, negotiated capability.NegotiatedCapabilities, ok bool, start time.Time, attempts uint32, cause error) {
	event := observability.RequestEnd{
		TS:             observability.Now(),
		TraceID:        traceID,
		OK:             ok,
		DurationMs:     e.now().Sub(start).Milliseconds(),
		Attempts:       attempts,
		Endpoint:       string(negotiated.Endpoint),
		Tools:          negotiated.ToolsEnabled,
		SystemPreamble: negotiated.SystemPreambleEnabled,
	}
	if cause != nil {
		msg := cause.Error()
		event.Error = &msg
	}
	e.emit(event)
}

func (e *Engine) emitErrorClassified(traceID string, classified classify.ClassifiedError) {
	e.emit(observability.ErrorClassified{
		TS:                observability.Now(),
		TraceID:           traceID,
		Category:          string(classified.Category),
		StatusCode:        classified.StatusCode,
		ProviderErrorCode: classified.ProviderErrorCode,
		Endpoint:          string(classified.Endpoint),
		Tools:             classified.RequestFlags.ToolsEnabled,
		Stream:            classified.RequestFlags.StreamEnabled,
		Responses:         classified.RequestFlags.ResponsesEnabled,
		Degradable:        classified.IsDegradable(),
		Summary:           classified.Summary,
	})
}

func (e *Engine) emitFallbackApplied(traceID, reason string, from, to capability.NegotiatedCapabilities) {
	e.emit(observability.FallbackApplied{
		TS:           observability.Now(),
		TraceID:      traceID,
		Reason:       reason,
		FromEndpoint: string(from.Endpoint),
		ToEndpoint:   string(to.Endpoint),
		ToolsFrom:    from.ToolsEnabled,
		ToolsTo:      to.ToolsEnabled,
		SystemFrom:   from.SystemPreambleEnabled,
		SystemTo:     to.SystemPreambleEnabled,
	})
}
