// Package output emits the changed-directory result as KEY=VALUE lines on
// stdout and, for CI runners, appended to an output file.
package output

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

// Output keys.
const (
	KeyChangedDirs = "CHANGED_DIRS"
	KeyHasChanges  = "has_changes"
)

// EnvOutputFile is the environment variable GitHub Actions uses for step outputs.
const EnvOutputFile = "GITHUB_OUTPUT"

const outputFileMode = 0o644

// ErrOutputFile is wrapped by failures to append to the output file.
var ErrOutputFile = errors.New("write output file")

// Result is the emitted pair of values.
type Result struct {
	Dirs       []string
	HasChanges bool
}

// NewResult builds a Result from the changed directory names.
func NewResult(dirs []string) Result {
	return Result{Dirs: dirs, HasChanges: len(dirs) > 0}
}

// Lines renders the two KEY=VALUE lines, each newline-terminated.
func (r Result) Lines() string {
	return fmt.Sprintf("%s=%s\n%s=%t\n", KeyChangedDirs, strings.Join(r.Dirs, " "), KeyHasChanges, r.HasChanges)
}

// Emitter writes results to stdout and optionally to an output file.
type Emitter struct {
	stdout     io.Writer
	outputFile string
}

// NewEmitter creates an Emitter. An empty outputFile disables file output.
func NewEmitter(stdout io.Writer, outputFile string) *Emitter {
	return &Emitter{stdout: stdout, outputFile: outputFile}
}

// Emit writes the result lines to stdout, then appends them to the output file.
func (e *Emitter) Emit(result Result) error {
	lines := result.Lines()

	_, err := io.WriteString(e.stdout, lines)
	if err != nil {
		return fmt.Errorf("write stdout: %w", err)
	}

	if e.outputFile == "" {
		return nil
	}

	return appendFile(e.outputFile, lines)
}

func appendFile(path, content string) error {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, outputFileMode)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrOutputFile, err)
	}

	_, writeErr := io.WriteString(f, content)
	closeErr := f.Close()

	err = errors.Join(writeErr, closeErr)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrOutputFile, err)
	}

	return nil
}

// Parse reads KEY=VALUE lines, such as a detection run's stdout, and returns
// the last result found. Unrelated lines are ignored.
func Parse(r io.Reader) (Result, error) {
	var result Result

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		key, value, ok := strings.Cut(scanner.Text(), "=")
		if !ok {
			continue
		}

		switch key {
		case KeyChangedDirs:
			result.Dirs = strings.Fields(value)
		case KeyHasChanges:
			result.HasChanges = value == "true"
		}
	}

	err := scanner.Err()
	if err != nil {
		return Result{}, fmt.Errorf("read output: %w", err)
	}

	return result, nil
}
