// Package mcp implements a Model Context Protocol server exposing change
// detection and package listing as MCP tools over stdio transport.
package mcp

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/goplus/detect-changes/pkg/gitlib"
	"github.com/goplus/detect-changes/pkg/manifest"
	"github.com/goplus/detect-changes/pkg/observability"
	"github.com/goplus/detect-changes/pkg/version"
)

const (
	// serverName is the MCP server implementation name.
	serverName = "detect-changes"

	// toolCount is the expected number of registered tools.
	toolCount = 2
)

// OpenFunc opens the VCS backend for a repository directory.
type OpenFunc func(backend, dir string) (gitlib.VCS, func(), error)

// Settings are the detection settings applied to every tool call.
type Settings struct {
	ManifestName string
	Excluded     []string
	Backend      string
	GitBinary    string
}

// ServerDeps holds injectable dependencies for the MCP server.
// Zero-value fields use production defaults.
type ServerDeps struct {
	// Settings configures detection. Zero values select the defaults.
	Settings Settings

	// Open opens a VCS backend. Nil uses gitlib.Open with Settings.GitBinary.
	Open OpenFunc

	// Logger is an optional structured logger. Nil uses slog default.
	Logger *slog.Logger

	// Metrics is an optional RED metrics recorder. Nil disables per-tool metrics.
	Metrics *observability.REDMetrics

	// DetectMetrics is passed to every detection run. Nil disables them.
	DetectMetrics *observability.DetectMetrics

	// Tracer is an optional OTel tracer for per-tool-call spans. Nil disables tracing.
	Tracer trace.Tracer
}

// Server wraps the MCP SDK server with detect-changes tool registrations.
type Server struct {
	inner         *mcpsdk.Server
	mu            sync.RWMutex
	tools         []string
	settings      Settings
	open          OpenFunc
	logger        *slog.Logger
	metrics       *observability.REDMetrics
	detectMetrics *observability.DetectMetrics
	tracer        trace.Tracer
}

// NewServer creates a new MCP server with all tools registered.
func NewServer(deps ServerDeps) *Server {
	opts := &mcpsdk.ServerOptions{}
	if deps.Logger != nil {
		opts.Logger = deps.Logger
	}

	inner := mcpsdk.NewServer(
		&mcpsdk.Implementation{
			Name:    serverName,
			Version: version.Version,
		},
		opts,
	)

	settings := deps.Settings
	if settings.ManifestName == "" {
		settings.ManifestName = manifest.FileName
	}

	if settings.Backend == "" {
		settings.Backend = gitlib.BackendGit
	}

	open := deps.Open
	if open == nil {
		binary := settings.GitBinary
		open = func(backend, dir string) (gitlib.VCS, func(), error) {
			return gitlib.Open(backend, dir, binary)
		}
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	srv := &Server{
		inner:         inner,
		tools:         make([]string, 0, toolCount),
		settings:      settings,
		open:          open,
		logger:        logger,
		metrics:       deps.Metrics,
		detectMetrics: deps.DetectMetrics,
		tracer:        deps.Tracer,
	}

	srv.registerTools()

	return srv
}

// ListToolNames returns the sorted names of all registered tools.
func (s *Server) ListToolNames() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, len(s.tools))
	copy(names, s.tools)
	sort.Strings(names)

	return names
}

// Run starts the MCP server on stdio transport. It blocks until the context
// is canceled or the connection closes.
func (s *Server) Run(ctx context.Context) error {
	return s.RunWithTransport(ctx, &mcpsdk.StdioTransport{})
}

// RunWithTransport starts the MCP server on the given transport. It blocks
// until the context is canceled or the connection closes.
func (s *Server) RunWithTransport(ctx context.Context, transport mcpsdk.Transport) error {
	err := s.inner.Run(ctx, transport)
	if err != nil {
		return fmt.Errorf("mcp server: %w", err)
	}

	return nil
}

// registerTools adds all MCP tools to the server.
func (s *Server) registerTools() {
	mcpsdk.AddTool(s.inner, &mcpsdk.Tool{
		Name:        ToolNameDetect,
		Description: detectToolDescription,
	}, withMetrics(s.metrics, ToolNameDetect, withTracing(s.tracer, ToolNameDetect, s.handleDetect)))

	s.trackTool(ToolNameDetect)

	mcpsdk.AddTool(s.inner, &mcpsdk.Tool{
		Name:        ToolNameList,
		Description: listToolDescription,
	}, withMetrics(s.metrics, ToolNameList, withTracing(s.tracer, ToolNameList, s.handleList)))

	s.trackTool(ToolNameList)
}

// mcpSpanPrefix is the prefix for MCP tool span names.
const mcpSpanPrefix = "mcp."

// traceIDMetaKey is the metadata key for trace_id in MCP tool responses.
const traceIDMetaKey = "trace_id"

// withTracing wraps an MCP tool handler to create an OTel span per invocation
// and include trace_id in the response content when sampled.
func withTracing[Input any](
	tracer trace.Tracer,
	toolName string,
	handler func(context.Context, *mcpsdk.CallToolRequest, Input) (*mcpsdk.CallToolResult, ToolOutput, error),
) func(context.Context, *mcpsdk.CallToolRequest, Input) (*mcpsdk.CallToolResult, ToolOutput, error) {
	if tracer == nil {
		return handler
	}

	return func(ctx context.Context, req *mcpsdk.CallToolRequest, input Input) (*mcpsdk.CallToolResult, ToolOutput, error) {
		ctx, span := tracer.Start(ctx, mcpSpanPrefix+toolName,
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(attribute.String("mcp.tool", toolName)),
		)
		defer span.End()

		result, output, err := handler(ctx, req, input)

		sc := span.SpanContext()
		if sc.IsSampled() && result != nil {
			traceContent := &mcpsdk.TextContent{Text: fmt.Sprintf("%s=%s", traceIDMetaKey, sc.TraceID().String())}
			result.Content = append(result.Content, traceContent)
		}

		return result, output, err
	}
}

// withMetrics wraps an MCP tool handler to record RED metrics per invocation.
func withMetrics[Input any](
	metrics *observability.REDMetrics,
	toolName string,
	handler func(context.Context, *mcpsdk.CallToolRequest, Input) (*mcpsdk.CallToolResult, ToolOutput, error),
) func(context.Context, *mcpsdk.CallToolRequest, Input) (*mcpsdk.CallToolResult, ToolOutput, error) {
	if metrics == nil {
		return handler
	}

	return func(ctx context.Context, req *mcpsdk.CallToolRequest, input Input) (*mcpsdk.CallToolResult, ToolOutput, error) {
		start := time.Now()

		decInflight := metrics.TrackInflight(ctx, mcpSpanPrefix+toolName)
		defer decInflight()

		result, output, err := handler(ctx, req, input)

		status := observability.StatusOK
		if err != nil || (result != nil && result.IsError) {
			status = observability.StatusError
		}

		metrics.RecordRequest(ctx, mcpSpanPrefix+toolName, status, time.Since(start))

		return result, output, err
	}
}

func (s *Server) trackTool(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.tools = append(s.tools, name)
}

// Tool description constants.
const (
	detectToolDescription = "Detect which top-level package directories (those holding a lib.yaml manifest) " +
		"changed between two git revisions, after checking every manifest name against its directory. " +
		"Accepts a repository path and two refs."

	listToolDescription = "List every package directory of a repository with its manifest name, version, " +
		"source and validation status. Optionally checks each manifest against the JSON schema."
)
