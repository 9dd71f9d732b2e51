package executor

import (
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Workspace is the ephemeral, request-scoped directory holding materialized
// input files and produced outputs. It is created fresh per request and torn
// down unconditionally before the pipeline returns.
type Workspace struct {
	root string
}

func NewWorkspace(parent string) (*Workspace, error) {
	if parent != "" {
		if err := os.MkdirAll(parent, 0o755); err != nil {
			return nil, fmt.Errorf("creating workspace root: %w", err)
		}
	}
	root, err := os.MkdirTemp(parent, "sandbox-*")
	if err != nil {
		return nil, fmt.Errorf("creating workspace: %w", err)
	}
	return &Workspace{root: root}, nil
}

// Root returns the workspace directory path.
func (w *Workspace) Root() string { return w.root }

func (w *Workspace) Remove() {
	os.RemoveAll(w.root)
}

// resolve joins rel onto the workspace root and validates the result stays
// inside it.
func (w *Workspace) resolve(rel string) (string, error) {
	path := filepath.Clean(filepath.Join(w.root, rel))
	relToRoot, err := filepath.Rel(w.root, path)
	if err != nil {
		return "", fmt.Errorf("resolving %q: %w", rel, err)
	}
	if relToRoot == ".." || strings.HasPrefix(relToRoot, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path %q escapes the workspace", rel)
	}
	return path, nil
}

// Materialize decodes every input file into the workspace. A nil payload
// creates an empty placeholder file.
func (w *Workspace) Materialize(files map[string]*string) error {
	for rel, payload := range files {
		path, err := w.resolve(rel)
		if err != nil {
			return err
		}
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return fmt.Errorf("creating parent for %q: %w", rel, err)
		}
		var content []byte
		if payload != nil {
			content, err = base64.StdEncoding.DecodeString(*payload)
			if err != nil {
				return fmt.Errorf("decoding file %q: %w", rel, err)
			}
		}
		if err := os.WriteFile(path, content, 0o644); err != nil {
			return fmt.Errorf("writing file %q: %w", rel, err)
		}
	}
	return nil
}

// WriteSource writes the submitted code to the language's canonical source
// filename.
func (w *Workspace) WriteSource(name, code string) error {
	path, err := w.resolve(name)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, []byte(code), 0o644); err != nil {
		return fmt.Errorf("writing source %q: %w", name, err)
	}
	return nil
}

// Collect reads the requested paths back and base64-encodes them. A missing
// or escaping path is silently omitted, not an error.
func (w *Workspace) Collect(paths []string) map[string]string {
	files := make(map[string]string)
	for _, rel := range paths {
		path, err := w.resolve(rel)
		if err != nil {
			continue
		}
		content, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		files[rel] = base64.StdEncoding.EncodeToString(content)
	}
	return files
}
