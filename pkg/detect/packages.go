package detect

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/goplus/detect-changes/pkg/manifest"
)

// Status is the validation state of a package directory.
type Status string

// Package statuses.
const (
	StatusOK       Status = "ok"
	StatusMismatch Status = "mismatch"
	StatusError    Status = "error"
)

// Package describes one package directory of the working tree.
type Package struct {
	Dir      string   `json:"dir"`
	Manifest string   `json:"manifest"`
	Name     string   `json:"name"`
	Version  string   `json:"version,omitempty"`
	Source   string   `json:"source,omitempty"`
	Size     int64    `json:"size"`
	Status   Status   `json:"status"`
	Problems []string `json:"problems,omitempty"`
}

// Packages describes every package directory in the working tree. Manifest
// problems are recorded on the package instead of failing the call.
func (d *Detector) Packages(ctx context.Context) ([]Package, error) {
	return d.inspect(ctx, nil)
}

// Audit is Packages with each manifest also checked against schema.
// Schema violations mark the package as StatusError.
func (d *Detector) Audit(ctx context.Context, schema *manifest.Schema) ([]Package, error) {
	return d.inspect(ctx, schema)
}

func (d *Detector) inspect(ctx context.Context, schema *manifest.Schema) ([]Package, error) {
	_, span := d.tracer.Start(ctx, "detect.packages", trace.WithAttributes(
		attribute.Bool("detect.schema", schema != nil),
	))
	defer span.End()

	dirs, err := d.PackageDirs()
	if err != nil {
		span.RecordError(err)

		return nil, err
	}

	packages := make([]Package, 0, len(dirs))

	for _, dir := range dirs {
		pkg, describeErr := d.describe(dir, schema)
		if describeErr != nil {
			span.RecordError(describeErr)

			return nil, describeErr
		}

		packages = append(packages, pkg)
	}

	span.SetAttributes(attribute.Int("detect.packages", len(packages)))

	return packages, nil
}

func (d *Detector) describe(dir string, schema *manifest.Schema) (Package, error) {
	pkg := Package{Dir: dir, Manifest: d.manifests.Path(dir), Status: StatusOK}

	info, err := d.manifests.Stat(dir)
	if err == nil {
		pkg.Size = info.Size()
	}

	doc, err := d.manifests.Load(dir)
	if err != nil {
		pkg.Status = StatusError
		pkg.Problems = append(pkg.Problems, err.Error())

		return pkg, nil
	}

	pkg.Name = doc.Name

	if !doc.Matches(dir) {
		pkg.Status = StatusMismatch
		pkg.Problems = append(pkg.Problems,
			(&manifest.MismatchError{Path: pkg.Manifest, Declared: doc.Name, Directory: dir}).Error())
	}

	m, err := doc.Manifest()
	if err == nil {
		pkg.Version = m.Version
		pkg.Source = source(m)
	} else if schema == nil {
		pkg.Problems = append(pkg.Problems, err.Error())
	}

	if schema == nil {
		return pkg, nil
	}

	violations, err := schema.Validate(doc)
	if err != nil {
		return Package{}, fmt.Errorf("validate %s: %w", pkg.Manifest, err)
	}

	for _, v := range violations {
		pkg.Problems = append(pkg.Problems, v.String())
	}

	if len(violations) > 0 && pkg.Status == StatusOK {
		pkg.Status = StatusError
	}

	return pkg, nil
}

func source(m *manifest.Manifest) string {
	switch {
	case m.Git != nil && m.Git.Repo != "":
		if m.Git.Ref != "" {
			return m.Git.Repo + "@" + m.Git.Ref
		}

		return m.Git.Repo
	case len(m.Files) == 1:
		return "1 file"
	case len(m.Files) > 1:
		return fmt.Sprintf("%d files", len(m.Files))
	default:
		return ""
	}
}

// Failed reports whether any package is not StatusOK.
func Failed(packages []Package) bool {
	for _, pkg := range packages {
		if pkg.Status != StatusOK {
			return true
		}
	}

	return false
}

// IsValidation reports whether err is a manifest validation failure that was
// already printed to the console.
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation)
}
