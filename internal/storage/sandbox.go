// Package storage provides sandboxed file operations for hlsforge.
// Every stream owns one working directory directly under the sandbox base,
// named by the stream id. All paths are resolved inside the base directory
// to prevent path traversal through request parameters.
package storage

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// ErrWorkDirExists is returned when a working directory is already present.
var ErrWorkDirExists = errors.New("working directory already exists")

// Sandbox provides sandboxed file operations within a base directory.
type Sandbox struct {
	baseDir string
}

// NewSandbox creates a new Sandbox rooted at the given base directory.
// The base directory is created if it doesn't exist.
func NewSandbox(baseDir string) (*Sandbox, error) {
	absPath, err := filepath.Abs(baseDir)
	if err != nil {
		return nil, fmt.Errorf("getting absolute path: %w", err)
	}

	if err := os.MkdirAll(absPath, 0o750); err != nil {
		return nil, fmt.Errorf("creating base directory: %w", err)
	}

	return &Sandbox{baseDir: absPath}, nil
}

// BaseDir returns the absolute path to the sandbox base directory.
func (s *Sandbox) BaseDir() string {
	return s.baseDir
}

// ResolvePath resolves a relative path within the sandbox.
// Returns an error if the path would escape the sandbox or is an absolute path.
func (s *Sandbox) ResolvePath(relativePath string) (string, error) {
	if filepath.IsAbs(relativePath) {
		return "", fmt.Errorf("path escapes sandbox: %s (absolute paths not allowed)", relativePath)
	}

	absPath, err := filepath.Abs(filepath.Join(s.baseDir, filepath.Clean(relativePath)))
	if err != nil {
		return "", fmt.Errorf("getting absolute path: %w", err)
	}

	if !strings.HasPrefix(absPath, s.baseDir+string(filepath.Separator)) && absPath != s.baseDir {
		return "", fmt.Errorf("path escapes sandbox: %s", relativePath)
	}

	return absPath, nil
}

// WorkDir returns the absolute working directory path for a stream id.
// The id must be a single path element.
func (s *Sandbox) WorkDir(id string) (string, error) {
	if id == "" || id == "." || id == ".." || strings.ContainsAny(id, `/\`) {
		return "", fmt.Errorf("invalid working directory name %q", id)
	}
	return s.ResolvePath(id)
}

// CreateWorkDir creates a new, empty working directory for a stream id.
// It fails with ErrWorkDirExists rather than reuse an existing directory.
func (s *Sandbox) CreateWorkDir(id string) (string, error) {
	dir, err := s.WorkDir(id)
	if err != nil {
		return "", err
	}
	if err := os.Mkdir(dir, 0o750); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return "", fmt.Errorf("creating %s: %w", dir, ErrWorkDirExists)
		}
		return "", fmt.Errorf("creating working directory: %w", err)
	}
	return dir, nil
}

// RemoveWorkDir removes a working directory and everything in it.
// Removing a directory that does not exist is not an error.
func (s *Sandbox) RemoveWorkDir(id string) error {
	dir, err := s.WorkDir(id)
	if err != nil {
		return err
	}
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("removing working directory: %w", err)
	}
	return nil
}

// WorkDirExists reports whether the working directory for id exists.
func (s *Sandbox) WorkDirExists(id string) (bool, error) {
	dir, err := s.WorkDir(id)
	if err != nil {
		return false, err
	}
	info, err := os.Stat(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("checking working directory: %w", err)
	}
	return info.IsDir(), nil
}

// ResolveFile resolves a file name inside a stream's working directory.
// Both the id and the name must be single path elements.
func (s *Sandbox) ResolveFile(id, name string) (string, error) {
	dir, err := s.WorkDir(id)
	if err != nil {
		return "", err
	}
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return "", fmt.Errorf("invalid file name %q", name)
	}
	return filepath.Join(dir, name), nil
}

// WorkDirs lists the working directories under the base directory.
func (s *Sandbox) WorkDirs() ([]fs.DirEntry, error) {
	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		return nil, fmt.Errorf("reading directory: %w", err)
	}
	dirs := entries[:0]
	for _, e := range entries {
		if e.IsDir() {
			dirs = append(dirs, e)
		}
	}
	return dirs, nil
}
