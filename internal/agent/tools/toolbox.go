// Package tools connects the agent to Model Context Protocol servers.
//
// A [Toolbox] holds one client session per configured MCP server plus any
// in-process builtin tools, and presents them to the LLM as a flat list of
// [llm.ToolDefinition] values. Tool names must be unique across servers; a
// later registration replaces an earlier one of the same name.
//
// Typical usage:
//
//	tb := tools.New()
//	err := tb.Connect(ctx, tools.ServerConfig{
//	    Name:      "search",
//	    Transport: tools.TransportStreamableHTTP,
//	    URL:       "http://localhost:8931/mcp",
//	})
//	defs := tb.Definitions()
//	res, err := tb.Execute(ctx, "web_search", `{"q":"weather"}`)
//	tb.Close()
package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"slices"
	"strings"
	"sync"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"go.opentelemetry.io/otel/metric"

	"github.com/MrWong99/voiceloop/internal/observe"
	"github.com/MrWong99/voiceloop/pkg/provider/llm"
)

// Transport selects the connection mechanism for an MCP server.
type Transport string

const (
	// TransportStdio spawns a subprocess and talks over stdin/stdout.
	TransportStdio Transport = "stdio"

	// TransportStreamableHTTP uses the MCP Streamable HTTP protocol.
	TransportStreamableHTTP Transport = "streamable-http"
)

// IsValid reports whether t is a recognised transport.
func (t Transport) IsValid() bool {
	return t == TransportStdio || t == TransportStreamableHTTP
}

// ErrToolNotFound is returned by Execute for an unknown tool name.
var ErrToolNotFound = errors.New("tools: tool not found")

// ServerConfig describes one MCP server.
type ServerConfig struct {
	Name      string
	Transport Transport
	// Command is the executable plus arguments for stdio servers, split on
	// whitespace.
	Command string
	// URL is the endpoint of a streamable-http server.
	URL string
	// Env holds extra environment variables for stdio servers.
	Env map[string]string
}

// Result is the outcome of one tool call. IsError marks an application-level
// failure that should be shown to the model rather than aborting the turn.
type Result struct {
	Content  string
	IsError  bool
	Duration time.Duration
}

type entry struct {
	def     llm.ToolDefinition
	server  string
	builtin func(ctx context.Context, args string) (string, error)
}

// Toolbox is safe for concurrent use. Create instances with [New].
type Toolbox struct {
	mu       sync.RWMutex
	tools    map[string]entry
	sessions map[string]*mcpsdk.ClientSession

	client  *mcpsdk.Client
	metrics *observe.Metrics
}

// Option configures a Toolbox.
type Option func(*Toolbox)

// WithMetrics overrides the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(tb *Toolbox) { tb.metrics = m }
}

// New returns an empty Toolbox.
func New(opts ...Option) *Toolbox {
	tb := &Toolbox{
		tools:    make(map[string]entry),
		sessions: make(map[string]*mcpsdk.ClientSession),
		client: mcpsdk.NewClient(
			&mcpsdk.Implementation{Name: "voiceloop", Version: "1.0.0"},
			nil,
		),
	}
	for _, o := range opts {
		o(tb)
	}
	if tb.metrics == nil {
		tb.metrics = observe.DefaultMetrics()
	}
	return tb
}

// Connect dials the server described by cfg and imports its tool list.
// Reconnecting a server with the same name closes the old session first.
func (tb *Toolbox) Connect(ctx context.Context, cfg ServerConfig) error {
	if cfg.Name == "" {
		return errors.New("tools: server config must have a non-empty name")
	}

	var transport mcpsdk.Transport
	switch cfg.Transport {
	case TransportStdio:
		fields := strings.Fields(cfg.Command)
		if len(fields) == 0 {
			return fmt.Errorf("tools: stdio server %q requires a command", cfg.Name)
		}
		// The subprocess outlives ctx, which only bounds the handshake.
		cmd := exec.Command(fields[0], fields[1:]...)
		if len(cfg.Env) > 0 {
			cmd.Env = os.Environ()
			for k, v := range cfg.Env {
				cmd.Env = append(cmd.Env, k+"="+v)
			}
		}
		transport = &mcpsdk.CommandTransport{Command: cmd}
	case TransportStreamableHTTP:
		if cfg.URL == "" {
			return fmt.Errorf("tools: streamable-http server %q requires a url", cfg.Name)
		}
		transport = &mcpsdk.StreamableClientTransport{Endpoint: cfg.URL}
	default:
		return fmt.Errorf("tools: unknown transport %q for server %q", cfg.Transport, cfg.Name)
	}
	return tb.ConnectTransport(ctx, cfg.Name, transport)
}

// ConnectTransport attaches a server over an already constructed transport.
// Connect uses it; tests pass in-memory transports directly.
func (tb *Toolbox) ConnectTransport(ctx context.Context, name string, transport mcpsdk.Transport) error {
	session, err := tb.client.Connect(ctx, transport, nil)
	if err != nil {
		return fmt.Errorf("tools: connect %q: %w", name, err)
	}

	var discovered []llm.ToolDefinition
	for tool, err := range session.Tools(ctx, nil) {
		if err != nil {
			_ = session.Close()
			return fmt.Errorf("tools: list tools of %q: %w", name, err)
		}
		discovered = append(discovered, llm.ToolDefinition{
			Name:        tool.Name,
			Description: tool.Description,
			Parameters:  schemaToMap(tool.InputSchema),
		})
	}

	tb.mu.Lock()
	defer tb.mu.Unlock()
	if old, ok := tb.sessions[name]; ok {
		_ = old.Close()
		tb.dropServerLocked(name)
	}
	tb.sessions[name] = session
	for _, def := range discovered {
		tb.tools[def.Name] = entry{def: def, server: name}
	}
	return nil
}

func (tb *Toolbox) dropServerLocked(name string) {
	for tool, e := range tb.tools {
		if e.server == name {
			delete(tb.tools, tool)
		}
	}
}

// schemaToMap converts an SDK input schema into a plain JSON object.
func schemaToMap(schema any) map[string]any {
	fallback := map[string]any{"type": "object"}
	if schema == nil {
		return fallback
	}
	if m, ok := schema.(map[string]any); ok {
		return m
	}
	data, err := json.Marshal(schema)
	if err != nil {
		return fallback
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil || m == nil {
		return fallback
	}
	return m
}

// Definitions returns every registered tool sorted by name.
func (tb *Toolbox) Definitions() []llm.ToolDefinition {
	tb.mu.RLock()
	defs := make([]llm.ToolDefinition, 0, len(tb.tools))
	for _, e := range tb.tools {
		defs = append(defs, e.def)
	}
	tb.mu.RUnlock()

	slices.SortFunc(defs, func(a, b llm.ToolDefinition) int { return strings.Compare(a.Name, b.Name) })
	return defs
}

// Execute calls the named tool with JSON-encoded args. A Go error is returned
// only for unknown tools and transport or protocol failures; a failing
// builtin handler or an MCP error result comes back as Result.IsError.
func (tb *Toolbox) Execute(ctx context.Context, name, args string) (*Result, error) {
	tb.mu.RLock()
	e, ok := tb.tools[name]
	var session *mcpsdk.ClientSession
	if ok && e.builtin == nil {
		session = tb.sessions[e.server]
	}
	tb.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrToolNotFound, name)
	}

	ctx, span := observe.StartSpan(ctx, "tools.execute")
	defer span.End()

	start := time.Now()
	var (
		res *Result
		err error
	)
	if e.builtin != nil {
		res = runBuiltin(ctx, e.builtin, args)
	} else {
		res, err = callRemote(ctx, session, name, args)
	}
	elapsed := time.Since(start)

	status := "ok"
	switch {
	case err != nil:
		status = "error"
	case res.IsError:
		status = "tool_error"
	}
	tb.metrics.ToolExecutionDuration.Record(ctx, elapsed.Seconds(), metric.WithAttributes(observe.Attr("tool", name)))
	tb.metrics.RecordToolCall(ctx, name, status)
	observe.Logger(ctx).Debug("tool executed", "tool", name, "status", status, "duration_ms", elapsed.Milliseconds())

	if err != nil {
		return nil, err
	}
	res.Duration = elapsed
	return res, nil
}

func runBuiltin(ctx context.Context, fn func(context.Context, string) (string, error), args string) *Result {
	out, err := fn(ctx, args)
	if err != nil {
		return &Result{Content: err.Error(), IsError: true}
	}
	return &Result{Content: out}
}

func callRemote(ctx context.Context, session *mcpsdk.ClientSession, name, args string) (*Result, error) {
	if session == nil {
		return nil, fmt.Errorf("tools: no session for tool %q", name)
	}
	var argMap map[string]any
	if args != "" && args != "{}" {
		if err := json.Unmarshal([]byte(args), &argMap); err != nil {
			// Malformed model output is reported back to the model.
			return &Result{Content: fmt.Sprintf("invalid arguments: %v", err), IsError: true}, nil
		}
	}
	out, err := session.CallTool(ctx, &mcpsdk.CallToolParams{Name: name, Arguments: argMap})
	if err != nil {
		return nil, fmt.Errorf("tools: call %q: %w", name, err)
	}
	var sb strings.Builder
	for _, c := range out.Content {
		if tc, ok := c.(*mcpsdk.TextContent); ok {
			sb.WriteString(tc.Text)
		}
	}
	return &Result{Content: sb.String(), IsError: out.IsError}, nil
}

// Servers returns the names of connected MCP servers, sorted.
func (tb *Toolbox) Servers() []string {
	tb.mu.RLock()
	defer tb.mu.RUnlock()
	names := make([]string, 0, len(tb.sessions))
	for n := range tb.sessions {
		names = append(names, n)
	}
	slices.Sort(names)
	return names
}

// Close ends every server session and clears the registry.
func (tb *Toolbox) Close() error {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	var errs []error
	for name, s := range tb.sessions {
		if err := s.Close(); err != nil {
			errs = append(errs, fmt.Errorf("tools: close %q: %w", name, err))
		}
	}
	clear(tb.sessions)
	clear(tb.tools)
	return errors.Join(errs...)
}
