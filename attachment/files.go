// Package attachment manages offloaded binary payloads: extracting them
// from incoming documents into the served files directory, and cleaning up
// backing files and objects after a record is deleted.
package attachment

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// URIPrefix is the public path under which the files directory is served.
const URIPrefix = "/files/"

// Storage marker values recorded in a document's _file_storage field.
const (
	StorageLocal = "local"
	StorageS3    = "s3"
)

// FilesDir is the flat local directory offloaded files are written to and
// served from. Writes are atomic using a temp file and rename pattern.
type FilesDir struct {
	root string
}

// NewFilesDir creates the files directory if it does not exist.
func NewFilesDir(root string) (*FilesDir, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolving files directory: %w", err)
	}
	if err := os.MkdirAll(absRoot, 0o755); err != nil {
		return nil, fmt.Errorf("creating files directory: %w", err)
	}
	return &FilesDir{root: absRoot}, nil
}

// Root returns the directory's absolute path.
func (d *FilesDir) Root() string {
	return d.root
}

// Write stores data under name using an atomic write.
func (d *FilesDir) Write(name string, data []byte) error {
	if !validName(name) {
		return fmt.Errorf("invalid filename %q", name)
	}

	tmp, err := os.CreateTemp(d.root, ".tmp-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmp.Name()

	success := false
	defer func() {
		if !success {
			_ = tmp.Close()
			_ = os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		return fmt.Errorf("writing data: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("syncing file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Rename(tmpPath, filepath.Join(d.root, name)); err != nil {
		return fmt.Errorf("renaming temp file: %w", err)
	}

	success = true
	return nil
}

// Remove deletes the named file. Removing a missing file is not an error.
func (d *FilesDir) Remove(name string) error {
	if !validName(name) {
		return fmt.Errorf("invalid filename %q", name)
	}
	err := os.Remove(filepath.Join(d.root, name))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing file: %w", err)
	}
	return nil
}

// validName rejects names that would escape the flat files directory.
func validName(name string) bool {
	return name != "" &&
		!strings.Contains(name, "..") &&
		!strings.ContainsAny(name, `/\`)
}
