// Package detect finds the top-level package directories affected by a range
// of revisions and checks that every manifest's name matches its directory.
package detect

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	nooptrace "go.opentelemetry.io/otel/trace/noop"

	"github.com/goplus/detect-changes/pkg/gitlib"
	"github.com/goplus/detect-changes/pkg/manifest"
	"github.com/goplus/detect-changes/pkg/observability"
	"github.com/goplus/detect-changes/pkg/output"
)

// BuiltinExcluded lists directory names that never count as packages,
// whatever Deps.Excluded holds. Names starting with "." are always excluded
// as well.
var BuiltinExcluded = []string{"build"}

// ErrValidation is wrapped by every manifest validation failure. The failure
// has already been reported on the console when it is returned.
var ErrValidation = errors.New("manifest validation failed")

// ValidationError reports the directory whose manifest failed the name check.
type ValidationError struct {
	Dir string
	Err error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %v", e.Dir, e.Err)
}

func (e *ValidationError) Unwrap() []error {
	return []error{ErrValidation, e.Err}
}

// Deps holds the collaborators of a Detector.
// Zero-value fields use defaults: no console output, a discarding logger,
// a no-op tracer and no metrics.
type Deps struct {
	VCS       gitlib.VCS
	Manifests *manifest.Loader
	Console   io.Writer
	Logger    *slog.Logger
	Tracer    trace.Tracer
	Metrics   *observability.DetectMetrics

	// Excluded names directories skipped in addition to BuiltinExcluded.
	Excluded []string
}

// Report is the outcome of a successful run.
type Report struct {
	From     string   `json:"from"`
	To       string   `json:"to"`
	Fallback bool     `json:"fallback"`
	Files    []string `json:"files"`
	Dirs     []string `json:"changed_dirs"`
}

// Result returns the emitted form of the report.
func (r *Report) Result() output.Result {
	return output.NewResult(r.Dirs)
}

// Detector runs change detection against one working tree.
type Detector struct {
	vcs       gitlib.VCS
	manifests *manifest.Loader
	console   io.Writer
	logger    *slog.Logger
	tracer    trace.Tracer
	metrics   *observability.DetectMetrics
	excluded  []string
}

// New creates a Detector. deps.VCS and deps.Manifests are required.
func New(deps Deps) *Detector {
	d := &Detector{
		vcs:       deps.VCS,
		manifests: deps.Manifests,
		console:   deps.Console,
		logger:    deps.Logger,
		tracer:    deps.Tracer,
		metrics:   deps.Metrics,
		excluded:  slices.Concat(BuiltinExcluded, deps.Excluded),
	}

	if d.console == nil {
		d.console = io.Discard
	}

	if d.logger == nil {
		d.logger = observability.Discard()
	}

	if d.tracer == nil {
		d.tracer = nooptrace.NewTracerProvider().Tracer("detect")
	}

	return d
}

// Run computes the changed package directories between from and to, then
// validates every manifest in the working tree. It stops at the first
// validation failure and returns an error wrapping ErrValidation.
func (d *Detector) Run(ctx context.Context, from, to string) (*Report, error) {
	start := time.Now()

	ctx, span := d.tracer.Start(ctx, "detect.run", trace.WithAttributes(
		attribute.String("detect.from", from),
		attribute.String("detect.to", to),
	))
	defer span.End()

	d.printf("Detecting changes between %s and %s\n", from, to)

	files, fallback := d.collect(ctx, from, to)

	d.printf("Changed files:\n%s\n", strings.Join(files, "\n"))

	dirs, err := d.group(ctx, files)
	if err == nil {
		err = d.ValidateAll(ctx)
	}

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "validation failed")
		d.recordRun(ctx, observability.StatusError, 0, start)

		return nil, err
	}

	span.SetAttributes(attribute.Int("detect.changed_dirs", len(dirs)))
	d.recordRun(ctx, observability.StatusOK, len(dirs), start)

	d.logger.DebugContext(ctx, "detection finished",
		"files", len(files), "changed_dirs", len(dirs), "fallback", fallback,
		"duration", time.Since(start))

	return &Report{From: from, To: to, Fallback: fallback, Files: files, Dirs: dirs}, nil
}

// collect returns the changed paths between the two refs, or every tracked
// path when either ref does not resolve. Failed queries yield no paths.
func (d *Detector) collect(ctx context.Context, from, to string) ([]string, bool) {
	ctx, span := d.tracer.Start(ctx, "detect.collect")
	defer span.End()

	if d.vcs.ResolveRef(ctx, from) && d.vcs.ResolveRef(ctx, to) {
		files, err := d.vcs.DiffNames(ctx, from, to)
		if err != nil {
			d.queryFailed(ctx, span, "diff", err)

			return nil, false
		}

		span.SetAttributes(attribute.Int("detect.files", len(files)))

		return files, false
	}

	d.printf("Warning: One or both refs not found. Checking all tracked files.\n")
	d.logger.WarnContext(ctx, "refs not resolved, using all tracked files", "from", from, "to", to)
	span.SetAttributes(attribute.Bool("detect.fallback", true))

	if d.metrics != nil {
		d.metrics.RecordFallback(ctx)
	}

	files, err := d.vcs.TrackedFiles(ctx)
	if err != nil {
		d.queryFailed(ctx, span, "ls-files", err)

		return nil, true
	}

	span.SetAttributes(attribute.Int("detect.files", len(files)))

	return files, true
}

func (d *Detector) queryFailed(ctx context.Context, span trace.Span, op string, err error) {
	command, stderr := op, err.Error()

	var qe *gitlib.QueryError
	if errors.As(err, &qe) {
		command, stderr = qe.Command, qe.Stderr
	}

	d.printf("Error running command: %s\n", command)
	d.printf("Error: %s\n", strings.TrimRight(stderr, "\n"))

	// Surfaced separately from an empty diff so a broken repository is visible.
	d.logger.WarnContext(ctx, "vcs query failed", "op", op, "error", err)
	span.RecordError(err)

	if d.metrics != nil {
		d.metrics.RecordQueryFailure(ctx, op)
	}
}

// group maps changed paths to package directories in first-seen order,
// validating each candidate directory once.
func (d *Detector) group(ctx context.Context, files []string) ([]string, error) {
	ctx, span := d.tracer.Start(ctx, "detect.validate", trace.WithAttributes(
		attribute.String("detect.pass", "changed"),
	))
	defer span.End()

	var dirs []string

	found := make(map[string]struct{})
	checked := make(map[string]struct{})

	for _, file := range files {
		if file == "" {
			continue
		}

		dir, _, _ := strings.Cut(file, "/")
		if d.IsExcluded(dir) || !d.manifests.Exists(dir) {
			continue
		}

		if _, ok := checked[dir]; !ok {
			checked[dir] = struct{}{}

			err := d.check(ctx, dir)
			if err != nil {
				span.SetStatus(codes.Error, "validation failed")

				return nil, err
			}
		}

		if file != d.manifests.Path(dir) && !strings.HasPrefix(file, dir+"/") {
			continue
		}

		if _, ok := found[dir]; ok {
			continue
		}

		found[dir] = struct{}{}
		dirs = append(dirs, dir)

		d.printf("Found changed directory with %s: %s\n", d.manifests.FileName(), dir)
	}

	return dirs, nil
}

// ValidateAll checks the manifest of every package directory in the working
// tree, changed or not.
func (d *Detector) ValidateAll(ctx context.Context) error {
	ctx, span := d.tracer.Start(ctx, "detect.validate", trace.WithAttributes(
		attribute.String("detect.pass", "all"),
	))
	defer span.End()

	dirs, err := d.PackageDirs()
	if err != nil {
		span.RecordError(err)

		return err
	}

	for _, dir := range dirs {
		err = d.check(ctx, dir)
		if err != nil {
			span.SetStatus(codes.Error, "validation failed")

			return err
		}
	}

	span.SetAttributes(attribute.Int("detect.packages", len(dirs)))

	return nil
}

// check runs the name check for dir and reports a failure on the console.
func (d *Detector) check(ctx context.Context, dir string) error {
	err := d.manifests.CheckName(dir)
	if err == nil {
		return nil
	}

	kind := "read"

	var mismatch *manifest.MismatchError
	if errors.As(err, &mismatch) {
		kind = "mismatch"

		d.printf("Error: %s\n", mismatch)
	} else {
		d.printf("Error %s\n", err)
	}

	d.logger.ErrorContext(ctx, "manifest validation failed", "dir", dir, "kind", kind, "error", err)

	if d.metrics != nil {
		d.metrics.RecordValidationFailure(ctx, kind)
	}

	return &ValidationError{Dir: dir, Err: err}
}

// PackageDirs lists the top-level directories holding a manifest, sorted by
// name. Symlinked directories count.
func (d *Detector) PackageDirs() ([]string, error) {
	root := d.manifests.Root()

	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", root, err)
	}

	var dirs []string

	for _, entry := range entries {
		name := entry.Name()
		if d.IsExcluded(name) || !isDir(root, entry) || !d.manifests.Exists(name) {
			continue
		}

		dirs = append(dirs, name)
	}

	sort.Strings(dirs)

	return dirs, nil
}

// IsExcluded reports whether a top-level directory name is never a package:
// empty, dot-prefixed, built in or configured.
func (d *Detector) IsExcluded(name string) bool {
	return name == "" || strings.HasPrefix(name, ".") || slices.Contains(d.excluded, name)
}

func isDir(root string, entry os.DirEntry) bool {
	if entry.IsDir() {
		return true
	}

	if entry.Type()&os.ModeSymlink == 0 {
		return false
	}

	info, err := os.Stat(filepath.Join(root, entry.Name()))

	return err == nil && info.IsDir()
}

func (d *Detector) recordRun(ctx context.Context, status string, dirs int, start time.Time) {
	if d.metrics != nil {
		d.metrics.RecordRun(ctx, status, dirs, time.Since(start))
	}
}

func (d *Detector) printf(format string, args ...any) {
	fmt.Fprintf(d.console, format, args...)
}
