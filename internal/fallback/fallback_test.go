package fallback

import (
	"testing"

	"github.com/ShirasawaTopaz/order/internal/capability"
	"github.com/ShirasawaTopaz/order/internal/classify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func negotiated(tools, responses, stream bool) capability.NegotiatedCapabilities {
	endpoint := capability.EndpointChatCompletions
	if responses {
		endpoint = capability.EndpointResponsesAPI
	}
	return capability.NegotiatedCapabilities{
		ProviderCapabilities: capability.Caps{
			Tools: tools, SystemPreamble: true, ResponsesAPI: responses, Stream: stream,
		},
		ToolsEnabled:          tools,
		SystemPreambleEnabled: true,
		Endpoint:              endpoint,
		StreamEnabled:         stream,
		Sources:               []string{"test"},
	}
}

func classified(category classify.Category) classify.ClassifiedError {
	return classify.ClassifiedError{Category: category}
}

func TestNextStepDisablesToolsOnToolsUnsupported(t *testing.T) {
	plan := DefaultPlan()
	step, ok := plan.NextStep(negotiated(true, false, true), classified(classify.CategoryToolsUnsupported))
	require.True(t, ok)
	assert.Equal(t, ActionDisableTools, step.Action)

	next := step.ApplyTo(negotiated(true, false, true))
	assert.False(t, next.ToolsEnabled)
	assert.Contains(t, next.Sources, "runtime:tools_not_supported")
}

func TestNextStepIsIdempotentPerAction(t *testing.T) {
	plan := DefaultPlan()
	_, ok := plan.NextStep(negotiated(true, false, true), classified(classify.CategoryToolsUnsupported))
	require.True(t, ok)

	_, ok = plan.NextStep(negotiated(true, false, true), classified(classify.CategoryToolsUnsupported))
	assert.False(t, ok, "the same action must never be emitted twice")
}

func TestNextStepReturnsNoneForNonDegradableCategory(t *testing.T) {
	plan := DefaultPlan()
	_, ok := plan.NextStep(negotiated(true, true, true), classified(classify.CategoryAuthError))
	assert.False(t, ok)
}

func TestNextStepRespectsMaxSteps(t *testing.T) {
	plan := NewPlan(1, 2)
	_, ok := plan.NextStep(negotiated(true, true, true), classified(classify.CategoryToolsUnsupported))
	require.True(t, ok)

	_, ok = plan.NextStep(negotiated(false, true, true), classified(classify.CategoryStreamUnsupported))
	assert.False(t, ok, "plan bounded to a single step must refuse a second distinct action too")
}

func TestApplyToCollapsesEndpointWhenResponsesDisabled(t *testing.T) {
	plan := DefaultPlan()
	step, ok := plan.NextStep(negotiated(true, true, true), classified(classify.CategoryResponsesUnsupported))
	require.True(t, ok)

	next := step.ApplyTo(negotiated(true, true, true))
	assert.Equal(t, capability.EndpointChatCompletions, next.Endpoint)
}
