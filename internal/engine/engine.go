// Package engine orchestrates one user request end to end: capability
// resolution, provider invocation, failure classification, a single
// capability-fallback retry, and the observability trail that ties the
// artifacts of a trace together.
package engine

import (
	"time"

	"github.com/ShirasawaTopaz/order/internal/capability"
	"github.com/ShirasawaTopaz/order/internal/connection"
	"github.com/ShirasawaTopaz/order/internal/memory"
	"github.com/ShirasawaTopaz/order/internal/observability"
	"github.com/ShirasawaTopaz/order/internal/toolsurface"
)

// maxToolHops bounds the dispatch loop for one request; once it is reached the
// model is asked one last time without tools and that answer is returned.
const maxToolHops = 8

// Options configures an Engine for one connection.
type Options struct {
	WorkspaceRoot  string
	Provider       capability.Provider
	Model          string
	APIKey         string
	BaseURL        string
	SupportTools   bool
	SystemPreamble string
	ConfigOverride *capability.Overlay
	HTTPTimeout    time.Duration
	Retry          connection.RetryPolicy
}

// Engine is the request pipeline. One Engine serves one connection; it is
// safe for concurrent use because all per-request state lives on the stack.
type Engine struct {
	opts     Options
	logger   *observability.Logger
	resolver capability.Resolver
	registry *connection.Registry
	tools    *toolsurface.Dispatcher
	mem      *memory.Memory

	// buildClient is a test seam; the default resolves through the registry.
	buildClient func(connection.Builder) (connection.Client, error)
	now         func() time.Time
}

// New constructs an Engine. logger may be nil to disable event emission;
// tools may be nil to run without a tool surface; mem may be nil to run
// without long-term memory.
func New(opts Options, logger *observability.Logger, tools *toolsurface.Dispatcher, mem *memory.Memory) *Engine {
	e := &Engine{
		opts:     opts,
		logger:   logger,
		registry: connection.NewRegistry(),
		tools:    tools,
		mem:      mem,
		now:      time.Now,
	}
	e.buildClient = func(b connection.Builder) (connection.Client, error) {
		client, _, err := e.registry.Get(b)
		return client, err
	}
	return e
}

// TracedResponse is a successful request outcome tagged with its trace id.
type TracedResponse struct {
	TraceID  string
	Content  string
	Attempts uint32
	Endpoint capability.Endpoint
}

func (e *Engine) emit(event observability.AgentEvent) {
	if e.logger != nil {
		e.logger.Emit(event)
	}
}

// builderFor binds a connection builder to the negotiated capabilities. The
// builder is rebuilt per request by design: the negotiated endpoint and
// preamble policy can change between attempts of the same call.
func (e *Engine) builderFor(negotiated capability.NegotiatedCapabilities) connection.Builder {
	preamble := ""
	if negotiated.SystemPreambleEnabled {
		preamble = e.opts.SystemPreamble
	}
	return connection.Builder{
		Provider: e.opts.Provider,
		APIKey:   e.opts.APIKey,
		BaseURL:  e.opts.BaseURL,
		Model:    e.opts.Model,
		Preamble: preamble,
		Endpoint: negotiated.Endpoint,
		Timeout:  e.opts.HTTPTimeout,
		Retry:    e.opts.Retry,
	}
}

func (e *Engine) resolve() (capability.NegotiatedCapabilities, error) {
	return e.resolver.Resolve(
		e.opts.WorkspaceRoot,
		e.opts.Provider,
		e.opts.BaseURL,
		e.opts.Model,
		e.opts.SupportTools,
		e.opts.ConfigOverride,
	)
}

// toolDefinitions returns the advertised tools when the negotiation allows
// them and a dispatcher is wired.
func (e *Engine) toolDefinitions(negotiated capability.NegotiatedCapabilities) []connection.Tool {
	if e.tools == nil || !negotiated.ToolsEnabled {
		return nil
	}
	return e.tools.Definitions()
}

// rememberTurn appends a user/assistant exchange to long-term memory,
// best-effort: a memory failure never fails the request.
func (e *Engine) rememberTurn(userText, assistantText string) {
	if e.mem == nil {
		return
	}
	now := e.now()
	e.mem.AppendTurn(connection.RoleUser, userText, now)
	e.mem.AppendTurn(connection.RoleAssistant, assistantText, now)
	if err := e.mem.Save(); err != nil && e.logger != nil {
		e.logger.Warn("save memory: %v", err)
	}
}
