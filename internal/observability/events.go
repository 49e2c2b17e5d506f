// Package observability implements the newline-delimited JSON event log and
// the trace-id propagation machinery shared across the agent core.
package observability

// AgentEvent is the closed tagged union of events written to the daily
// agent log. Each concrete type below sets its own "event" discriminator via
// its Kind method; marshalTagged (logger.go) serializes the discriminator
// alongside the struct's own fields.
type AgentEvent interface {
	Kind() string
}

type TuiInput struct {
	TS       string `json:"ts"`
	TraceID  string `json:"trace_id"`
	InputLen int    `json:"input_len"`
}

func (TuiInput) Kind() string { return "tui_input" }

type TuiOutput struct {
	TS        string  `json:"ts"`
	TraceID   string  `json:"trace_id"`
	OK        bool    `json:"ok"`
	OutputLen *int    `json:"output_len,omitempty"`
	Error     *string `json:"error,omitempty"`
}

func (TuiOutput) Kind() string { return "tui_output" }

type RequestStart struct {
	TS                string   `json:"ts"`
	TraceID           string   `json:"trace_id"`
	Provider          string   `json:"provider"`
	Model             string   `json:"model"`
	Endpoint          string   `json:"endpoint"`
	Tools             bool     `json:"tools"`
	SystemPreamble    bool     `json:"system_preamble"`
	CapabilitySources []string `json:"capability_sources"`
}

func (RequestStart) Kind() string { return "request_start" }

type RequestEnd struct {
	TS             string  `json:"ts"`
	TraceID        string  `json:"trace_id"`
	OK             bool    `json:"ok"`
	DurationMs     int64   `json:"duration_ms"`
	Attempts       uint32  `json:"attempts"`
	Endpoint       string  `json:"endpoint"`
	Tools          bool    `json:"tools"`
	SystemPreamble bool    `json:"system_preamble"`
	Error          *string `json:"error,omitempty"`
}

func (RequestEnd) Kind() string { return "request_end" }

type RetryScheduled struct {
	TS      string `json:"ts"`
	TraceID string `json:"trace_id"`
	Attempt uint32 `json:"attempt"`
	Reason  string `json:"reason"`
}

func (RetryScheduled) Kind() string { return "retry_scheduled" }

type ErrorClassified struct {
	TS                string  `json:"ts"`
	TraceID           string  `json:"trace_id"`
	Category          string  `json:"category"`
	StatusCode        *int    `json:"status_code,omitempty"`
	ProviderErrorCode *string `json:"provider_error_code,omitempty"`
	Endpoint          string  `json:"endpoint"`
	Tools             bool    `json:"tools"`
	Stream            bool    `json:"stream"`
	Responses         bool    `json:"responses"`
	Degradable        bool    `json:"degradable"`
	Summary           string  `json:"summary"`
}

func (ErrorClassified) Kind() string { return "error_classified" }

type RetryExhausted struct {
	TS        string `json:"ts"`
	TraceID   string `json:"trace_id"`
	Attempts  uint32 `json:"attempts"`
	LastError string `json:"last_error"`
}

func (RetryExhausted) Kind() string { return "retry_exhausted" }

type FallbackApplied struct {
	TS           string `json:"ts"`
	TraceID      string `json:"trace_id"`
	Reason       string `json:"reason"`
	FromEndpoint string `json:"from_endpoint"`
	ToEndpoint   string `json:"to_endpoint"`
	ToolsFrom    bool   `json:"tools_from"`
	ToolsTo      bool   `json:"tools_to"`
	SystemFrom   bool   `json:"system_from"`
	SystemTo     bool   `json:"system_to"`
}

func (FallbackApplied) Kind() string { return "fallback_applied" }

type ToolCallStart struct {
	TS      string `json:"ts"`
	TraceID string `json:"trace_id"`
	Tool    string `json:"tool"`
}

func (ToolCallStart) Kind() string { return "tool_call_start" }

type ToolCallEnd struct {
	TS         string  `json:"ts"`
	TraceID    string  `json:"trace_id"`
	Tool       string  `json:"tool"`
	OK         bool    `json:"ok"`
	DurationMs int64   `json:"duration_ms"`
	Error      *string `json:"error,omitempty"`
}

func (ToolCallEnd) Kind() string { return "tool_call_end" }

type CapabilityCacheReset struct {
	TS       string  `json:"ts"`
	Provider *string `json:"provider,omitempty"`
	Model    *string `json:"model,omitempty"`
	Removed  int     `json:"removed"`
}

func (CapabilityCacheReset) Kind() string { return "capability_cache_reset" }

type ValidationStart struct {
	TS       string   `json:"ts"`
	TraceID  string   `json:"trace_id"`
	Commands []string `json:"commands"`
}

func (ValidationStart) Kind() string { return "validation_start" }

type ValidationEnd struct {
	TS            string  `json:"ts"`
	TraceID       string  `json:"trace_id"`
	OK            bool    `json:"ok"`
	DurationMs    int64   `json:"duration_ms"`
	FailedCommand *string `json:"failed_command,omitempty"`
}

func (ValidationEnd) Kind() string { return "validation_end" }
