package gitlib

import (
	"bytes"
	"context"
	"os/exec"
	"strings"
)

// CLI runs queries through the git executable.
type CLI struct {
	dir    string
	binary string
}

// NewCLI creates a CLI backend that runs binary inside dir.
// An empty binary selects DefaultBinary.
func NewCLI(dir, binary string) *CLI {
	if binary == "" {
		binary = DefaultBinary
	}

	return &CLI{dir: dir, binary: binary}
}

// Dir returns the directory git runs in.
func (c *CLI) Dir() string {
	return c.dir
}

// ResolveRef reports whether git can resolve ref to an object.
func (c *CLI) ResolveRef(ctx context.Context, ref string) bool {
	// A leading dash would be parsed as an option.
	if ref == "" || strings.HasPrefix(ref, "-") {
		return false
	}

	_, err := c.run(ctx, "rev-parse", "--verify", "--quiet", ref)

	return err == nil
}

// DiffNames runs git diff --name-only between from and to. Renames are
// reported as a deletion plus an addition so both sides are listed.
func (c *CLI) DiffNames(ctx context.Context, from, to string) ([]string, error) {
	out, err := c.run(ctx, "diff", "--name-only", "--no-renames", "-z", from, to, "--")
	if err != nil {
		return nil, err
	}

	return dedupe(splitNUL(out)), nil
}

// TrackedFiles runs git ls-files.
func (c *CLI) TrackedFiles(ctx context.Context) ([]string, error) {
	out, err := c.run(ctx, "ls-files", "-z")
	if err != nil {
		return nil, err
	}

	return dedupe(splitNUL(out)), nil
}

func (c *CLI) run(ctx context.Context, args ...string) (string, error) {
	var stdout, stderr bytes.Buffer

	cmd := exec.CommandContext(ctx, c.binary, args...)
	cmd.Dir = c.dir
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err != nil {
		return "", &QueryError{
			Command: c.binary + " " + strings.Join(args, " "),
			Stderr:  strings.TrimSpace(stderr.String()),
			Err:     err,
		}
	}

	return stdout.String(), nil
}

func dedupe(paths []string) []string {
	if len(paths) == 0 {
		return nil
	}

	seen := make(map[string]struct{}, len(paths))
	out := make([]string, 0, len(paths))

	for _, p := range paths {
		out = appendUnique(out, seen, p)
	}

	return out
}
