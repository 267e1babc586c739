// Package manifest reads the lib.yaml package manifests that mark package
// directories and checks that each declared name matches its directory.
package manifest

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// FileName is the default manifest file name.
const FileName = "lib.yaml"

// nameKey is the manifest key that must equal the directory name.
const nameKey = "name"

// Sentinel errors.
var (
	// ErrNameMismatch is wrapped by every *MismatchError.
	ErrNameMismatch = errors.New("package name does not match directory name")
	// ErrManifestRead is wrapped by every *ReadError.
	ErrManifestRead = errors.New("cannot read manifest")
	// ErrNotMapping is returned when the manifest document is not a YAML mapping.
	ErrNotMapping = errors.New("manifest is not a YAML mapping")
	// ErrMultipleDocuments is returned when the manifest holds more than one YAML document.
	ErrMultipleDocuments = errors.New("manifest holds more than one YAML document")
)

// GitSpec points at the upstream source repository of a package.
type GitSpec struct {
	Repo string `json:"repo,omitempty" yaml:"repo,omitempty"`
	Ref  string `json:"ref,omitempty"  yaml:"ref,omitempty"`
}

// FileSpec is a downloadable source archive or file.
type FileSpec struct {
	URL        string `json:"url,omitempty"         yaml:"url,omitempty"`
	NoExtract  bool   `json:"no-extract,omitempty"  yaml:"no-extract,omitempty"`
	ExtractDir string `json:"extract-dir,omitempty" yaml:"extract-dir,omitempty"`
}

// BuildSpec holds the package build command.
type BuildSpec struct {
	Command string `json:"command,omitempty" yaml:"command,omitempty"`
}

// Manifest is the full lib.yaml document.
type Manifest struct {
	Name    string     `json:"name,omitempty"    yaml:"name,omitempty"`
	Version string     `json:"version,omitempty" yaml:"version,omitempty"`
	Git     *GitSpec   `json:"git,omitempty"     yaml:"git,omitempty"`
	Files   []FileSpec `json:"files,omitempty"   yaml:"files,omitempty"`
	Build   *BuildSpec `json:"build,omitempty"   yaml:"build,omitempty"`
	Export  string     `json:"export,omitempty"  yaml:"export,omitempty"`
}

// Document is a parsed manifest. Only the name is required to parse;
// the typed Manifest is decoded on demand.
type Document struct {
	// Name is the declared package name, empty when the key is absent.
	Name string
	// NameIsString is false when the name value is not a YAML string.
	NameIsString bool

	body *yaml.Node
}

// Parse parses manifest bytes. The file must hold a single YAML document
// whose top level is a mapping. Aliases and merge keys are resolved.
func Parse(data []byte) (*Document, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))

	var root yaml.Node

	err := dec.Decode(&root)
	if errors.Is(err, io.EOF) {
		return nil, ErrNotMapping
	}

	if err != nil {
		return nil, fmt.Errorf("parse yaml: %w", err)
	}

	var extra yaml.Node

	err = dec.Decode(&extra)
	if err == nil {
		return nil, ErrMultipleDocuments
	}

	if !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse yaml: %w", err)
	}

	if root.Kind != yaml.DocumentNode || len(root.Content) == 0 {
		return nil, ErrNotMapping
	}

	body := resolve(root.Content[0])
	if body.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("%w: got %s", ErrNotMapping, body.ShortTag())
	}

	doc := &Document{NameIsString: true, body: body}

	value := lookup(body, nameKey, 0)
	if value != nil {
		doc.NameIsString = value.Kind == yaml.ScalarNode && value.ShortTag() == "!!str"
		if value.Kind == yaml.ScalarNode {
			doc.Name = value.Value
		}
	}

	return doc, nil
}

// maxMergeDepth bounds nested merge keys.
const maxMergeDepth = 32

func resolve(node *yaml.Node) *yaml.Node {
	for node.Kind == yaml.AliasNode && node.Alias != nil {
		node = node.Alias
	}

	return node
}

// lookup returns the value of key in mapping. Keys written in the mapping
// win over merged ones; among explicit keys the last one wins, and among
// merged mappings the first one listed wins.
func lookup(mapping *yaml.Node, key string, depth int) *yaml.Node {
	if depth > maxMergeDepth {
		return nil
	}

	var explicit, merged *yaml.Node

	for i := 0; i+1 < len(mapping.Content); i += 2 {
		k, v := resolve(mapping.Content[i]), resolve(mapping.Content[i+1])

		if k.Kind == yaml.ScalarNode && k.ShortTag() == "!!merge" {
			if merged == nil {
				merged = lookupMerged(v, key, depth+1)
			}

			continue
		}

		if k.Kind == yaml.ScalarNode && k.Value == key {
			explicit = v
		}
	}

	if explicit != nil {
		return explicit
	}

	return merged
}

func lookupMerged(source *yaml.Node, key string, depth int) *yaml.Node {
	switch source.Kind {
	case yaml.MappingNode:
		return lookup(source, key, depth)
	case yaml.SequenceNode:
		for _, item := range source.Content {
			item = resolve(item)
			if item.Kind != yaml.MappingNode {
				continue
			}

			value := lookup(item, key, depth)
			if value != nil {
				return value
			}
		}
	}

	return nil
}

// Manifest decodes the full typed manifest.
func (d *Document) Manifest() (*Manifest, error) {
	var m Manifest

	err := d.body.Decode(&m)
	if err != nil {
		return nil, fmt.Errorf("decode manifest: %w", err)
	}

	return &m, nil
}

// Value decodes the document into plain maps and slices.
func (d *Document) Value() (any, error) {
	var v any

	err := d.body.Decode(&v)
	if err != nil {
		return nil, fmt.Errorf("decode manifest: %w", err)
	}

	return v, nil
}

// Matches reports whether the declared name equals dir.
func (d *Document) Matches(dir string) bool {
	return d.NameIsString && d.Name == dir
}

// MismatchError reports a manifest whose name differs from its directory.
type MismatchError struct {
	Path      string
	Declared  string
	Directory string
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("Package name '%s' in %s does not match directory name '%s'", e.Declared, e.Path, e.Directory)
}

func (e *MismatchError) Unwrap() error {
	return ErrNameMismatch
}

// ReadError reports a manifest that could not be read or parsed.
type ReadError struct {
	Path string
	Err  error
}

func (e *ReadError) Error() string {
	return fmt.Sprintf("reading %s: %v", e.Path, e.Err)
}

func (e *ReadError) Unwrap() []error {
	return []error{ErrManifestRead, e.Err}
}

// Loader locates and reads manifests below a working tree root.
type Loader struct {
	root     string
	fileName string
}

// NewLoader creates a Loader for root. An empty fileName selects FileName.
func NewLoader(root, fileName string) *Loader {
	if fileName == "" {
		fileName = FileName
	}

	return &Loader{root: root, fileName: fileName}
}

// Root returns the working tree root.
func (l *Loader) Root() string {
	return l.root
}

// FileName returns the manifest file name.
func (l *Loader) FileName() string {
	return l.fileName
}

// Path returns the slash-delimited manifest path of dir relative to the root.
func (l *Loader) Path(dir string) string {
	return path.Join(dir, l.fileName)
}

func (l *Loader) osPath(dir string) string {
	return filepath.Join(l.root, filepath.FromSlash(dir), l.fileName)
}

// Exists reports whether dir holds a manifest regular file.
func (l *Loader) Exists(dir string) bool {
	info, err := os.Stat(l.osPath(dir))

	return err == nil && info.Mode().IsRegular()
}

// Stat returns the file info of the manifest in dir.
func (l *Loader) Stat(dir string) (fs.FileInfo, error) {
	info, err := os.Stat(l.osPath(dir))
	if err != nil {
		return nil, fmt.Errorf("stat manifest: %w", err)
	}

	return info, nil
}

// Load reads and parses the manifest in dir.
func (l *Loader) Load(dir string) (*Document, error) {
	data, err := os.ReadFile(l.osPath(dir))
	if err != nil {
		return nil, &ReadError{Path: l.Path(dir), Err: err}
	}

	doc, err := Parse(data)
	if err != nil {
		return nil, &ReadError{Path: l.Path(dir), Err: err}
	}

	return doc, nil
}

// CheckName loads the manifest in dir and verifies that its name equals dir.
// It returns a *ReadError or a *MismatchError on failure.
func (l *Loader) CheckName(dir string) error {
	doc, err := l.Load(dir)
	if err != nil {
		return err
	}

	if !doc.Matches(dir) {
		return &MismatchError{Path: l.Path(dir), Declared: doc.Name, Directory: dir}
	}

	return nil
}
