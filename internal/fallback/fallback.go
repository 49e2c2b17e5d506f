// Package fallback implements the capability fallback planner (C6): a
// bounded, idempotent state machine that turns a classified error into at
// most one capability-downgrade step per call.
package fallback

import (
	"fmt"

	"github.com/ShirasawaTopaz/order/internal/capability"
	"github.com/ShirasawaTopaz/order/internal/classify"
)

const (
	reasonToolsUnsupported     = "tools_not_supported"
	reasonResponsesUnsupported = "responses_api_not_supported"
	reasonStreamUnsupported    = "stream_not_supported"
)

// Action identifies which single capability a fallback step disables.
type Action string

const (
	ActionDisableTools        Action = "disable_tools"
	ActionDisableResponsesAPI Action = "disable_responses_api"
	ActionDisableStream       Action = "disable_stream"
)

// Step is a single-capability downgrade decision.
type Step struct {
	Action       Action
	Reason       string
	FromCategory classify.Category
	OverrideCaps capability.Overlay
}

// ApplyTo produces the NegotiatedCapabilities that result from applying this
// step to from: the endpoint collapses to chat_completions if responses are
// disabled, and sources gain a runtime:<reason> tag.
func (s Step) ApplyTo(from capability.NegotiatedCapabilities) capability.NegotiatedCapabilities {
	providerCapabilities := from.ProviderCapabilities.Downgrade(s.OverrideCaps)

	sources := append(append([]string{}, from.Sources...), fmt.Sprintf("runtime:%s", s.Reason))

	toolsEnabled := from.ToolsEnabled && !(s.OverrideCaps.Tools != nil && !*s.OverrideCaps.Tools)
	systemPreambleEnabled := from.SystemPreambleEnabled && !(s.OverrideCaps.SystemPreamble != nil && !*s.OverrideCaps.SystemPreamble)
	streamEnabled := from.StreamEnabled && !(s.OverrideCaps.Stream != nil && !*s.OverrideCaps.Stream)

	endpoint := from.Endpoint
	if s.OverrideCaps.ResponsesAPI != nil && !*s.OverrideCaps.ResponsesAPI {
		endpoint = capability.EndpointChatCompletions
	}

	return capability.NegotiatedCapabilities{
		ProviderCapabilities:  providerCapabilities,
		ToolsEnabled:          toolsEnabled,
		SystemPreambleEnabled: systemPreambleEnabled,
		Endpoint:              endpoint,
		StreamEnabled:         streamEnabled,
		Sources:               sources,
	}
}

// Plan bounds the total number of downgrade steps and refuses to re-apply
// an action already in its log.
type Plan struct {
	maxSteps       int
	maxAttempts    uint32
	appliedActions []Action
}

// NewPlan constructs a Plan; maxSteps and maxAttempts are floored at 1.
func NewPlan(maxSteps int, maxAttempts uint32) *Plan {
	if maxSteps < 1 {
		maxSteps = 1
	}
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &Plan{maxSteps: maxSteps, maxAttempts: maxAttempts}
}

// DefaultPlan builds the default-bounded plan: max_steps=3,
// max_attempts=max_steps+1.
func DefaultPlan() *Plan {
	return NewPlan(3, 4)
}

func (p *Plan) MaxAttempts() uint32 { return p.maxAttempts }
func (p *Plan) StepsTaken() int     { return len(p.appliedActions) }

// NextStep returns the next downgrade step for classified given the current
// capabilities, or (Step{}, false) if the planner has no further step to
// offer (bound reached, category not degradable, or the only matching action
// was already applied).
func (p *Plan) NextStep(current capability.NegotiatedCapabilities, classified classify.ClassifiedError) (Step, bool) {
	if p.StepsTaken() >= p.maxSteps {
		return Step{}, false
	}

	var step Step
	switch {
	case classified.Category == classify.CategoryToolsUnsupported && current.ToolsEnabled:
		step = Step{
			Action:       ActionDisableTools,
			Reason:       reasonToolsUnsupported,
			FromCategory: classified.Category,
			OverrideCaps: capability.Overlay{Tools: falsePtr()},
		}
	case classified.Category == classify.CategoryResponsesUnsupported && current.Endpoint == capability.EndpointResponsesAPI:
		step = Step{
			Action:       ActionDisableResponsesAPI,
			Reason:       reasonResponsesUnsupported,
			FromCategory: classified.Category,
			OverrideCaps: capability.Overlay{ResponsesAPI: falsePtr()},
		}
	case classified.Category == classify.CategoryStreamUnsupported && current.StreamEnabled:
		step = Step{
			Action:       ActionDisableStream,
			Reason:       reasonStreamUnsupported,
			FromCategory: classified.Category,
			OverrideCaps: capability.Overlay{Stream: falsePtr()},
		}
	default:
		return Step{}, false
	}

	for _, applied := range p.appliedActions {
		if applied == step.Action {
			return Step{}, false
		}
	}

	p.appliedActions = append(p.appliedActions, step.Action)
	return step, true
}

func falsePtr() *bool {
	v := false
	return &v
}
