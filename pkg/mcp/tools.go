package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/goplus/detect-changes/pkg/detect"
	"github.com/goplus/detect-changes/pkg/gitlib"
	"github.com/goplus/detect-changes/pkg/manifest"
)

// Tool name constants.
const (
	ToolNameDetect = "detect_changes"
	ToolNameList   = "list_packages"
)

// Sentinel errors for tool input validation.
var (
	// ErrEmptyRepoPath indicates the repo_path parameter is empty.
	ErrEmptyRepoPath = errors.New("repo_path parameter is required and must not be empty")
	// ErrRepoPathNotAbsolute indicates the repo_path is not an absolute path.
	ErrRepoPathNotAbsolute = errors.New("repo_path must be an absolute path")
	// ErrRepoNotFound indicates the repository path does not exist.
	ErrRepoNotFound = errors.New("repository path does not exist")
	// ErrEmptyRef indicates a from_ref or to_ref parameter is empty.
	ErrEmptyRef = errors.New("from_ref and to_ref are required and must not be empty")
)

// Input types (auto-generate JSON schemas via struct tags).

// DetectInput is the input schema for the detect_changes tool.
type DetectInput struct {
	Backend  string `json:"backend,omitempty" jsonschema:"optional version control backend: git or libgit2"`
	FromRef  string `json:"from_ref"          jsonschema:"base revision, e.g. main or a commit hash"`
	RepoPath string `json:"repo_path"         jsonschema:"absolute path to the top level of a Git working tree"`
	ToRef    string `json:"to_ref"            jsonschema:"target revision, e.g. HEAD"`
}

// ListInput is the input schema for the list_packages tool.
type ListInput struct {
	RepoPath string `json:"repo_path"        jsonschema:"absolute path to the top level of a Git working tree"`
	Schema   bool   `json:"schema,omitempty" jsonschema:"also check each manifest against the lib.yaml JSON schema"`
}

// Output type (used as structured output for generic AddTool).

// ToolOutput is a generic wrapper for tool results.
type ToolOutput struct {
	Data any `json:"data"`
}

// DetectOutput is the detect_changes payload.
type DetectOutput struct {
	*detect.Report

	HasChanges bool   `json:"has_changes"`
	Console    string `json:"console"`
}

// Result helpers.

// errorResult builds a CallToolResult with isError set.
func errorResult(err error) (*mcpsdk.CallToolResult, ToolOutput, error) {
	return &mcpsdk.CallToolResult{
		Content: []mcpsdk.Content{
			&mcpsdk.TextContent{Text: err.Error()},
		},
		IsError: true,
	}, ToolOutput{}, nil
}

// jsonResult builds a CallToolResult with JSON-encoded content.
func jsonResult(value any) (*mcpsdk.CallToolResult, ToolOutput, error) {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return errorResult(fmt.Errorf("encode result: %w", err))
	}

	return &mcpsdk.CallToolResult{
		Content: []mcpsdk.Content{
			&mcpsdk.TextContent{Text: string(data)},
		},
	}, ToolOutput{Data: value}, nil
}

// handleDetect processes detect_changes tool calls.
func (s *Server) handleDetect(
	ctx context.Context,
	_ *mcpsdk.CallToolRequest,
	input DetectInput,
) (*mcpsdk.CallToolResult, ToolOutput, error) {
	err := validateRepoPath(input.RepoPath)
	if err != nil {
		return errorResult(err)
	}

	if input.FromRef == "" || input.ToRef == "" {
		return errorResult(ErrEmptyRef)
	}

	backend := input.Backend
	if backend == "" {
		backend = s.settings.Backend
	}

	vcs, closeVCS, err := s.open(backend, input.RepoPath)
	if err != nil {
		return errorResult(fmt.Errorf("open repository: %w", err))
	}
	defer closeVCS()

	var console bytes.Buffer

	detector := s.detector(input.RepoPath, vcs, &console)

	report, err := detector.Run(ctx, input.FromRef, input.ToRef)
	if err != nil {
		return errorResult(fmt.Errorf("%w\n%s", err, console.String()))
	}

	return jsonResult(DetectOutput{
		Report:     report,
		HasChanges: len(report.Dirs) > 0,
		Console:    console.String(),
	})
}

// handleList processes list_packages tool calls.
func (s *Server) handleList(
	ctx context.Context,
	_ *mcpsdk.CallToolRequest,
	input ListInput,
) (*mcpsdk.CallToolResult, ToolOutput, error) {
	err := validateRepoPath(input.RepoPath)
	if err != nil {
		return errorResult(err)
	}

	detector := s.detector(input.RepoPath, nil, nil)

	var packages []detect.Package

	if input.Schema {
		schema, schemaErr := manifest.DefaultSchema()
		if schemaErr != nil {
			return errorResult(schemaErr)
		}

		packages, err = detector.Audit(ctx, schema)
	} else {
		packages, err = detector.Packages(ctx)
	}

	if err != nil {
		return errorResult(err)
	}

	return jsonResult(packages)
}

func (s *Server) detector(root string, vcs gitlib.VCS, console io.Writer) *detect.Detector {
	return detect.New(detect.Deps{
		VCS:       vcs,
		Manifests: manifest.NewLoader(root, s.settings.ManifestName),
		Console:   console,
		Logger:    s.logger,
		Tracer:    s.tracer,
		Metrics:   s.detectMetrics,
		Excluded:  s.settings.Excluded,
	})
}

// validateRepoPath checks that path is an absolute, existing directory.
func validateRepoPath(path string) error {
	if path == "" {
		return ErrEmptyRepoPath
	}

	if !filepath.IsAbs(path) {
		return ErrRepoPathNotAbsolute
	}

	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrRepoNotFound, path)
	}

	if !info.IsDir() {
		return fmt.Errorf("%w: %s is not a directory", ErrRepoNotFound, path)
	}

	return nil
}
