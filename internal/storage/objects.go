// Package storage stores uploaded media blobs and hands back stable URLs.
package storage

import (
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// ObjectStore saves an opaque blob and returns the URL it will be served
// from.
type ObjectStore interface {
	Save(name string, r io.Reader) (string, error)
}

// DiskStore is an ObjectStore writing to a local directory, served back
// under a base URL path.
type DiskStore struct {
	dir     string
	baseURL string
}

func NewDiskStore(dir, baseURL string) (*DiskStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}
	return &DiskStore{dir: dir, baseURL: strings.TrimRight(baseURL, "/")}, nil
}

// Dir returns the directory served under the base URL.
func (s *DiskStore) Dir() string { return s.dir }

// Save writes the blob under a random name, keeping only the original
// extension so the name cannot traverse out of the directory.
func (s *DiskStore) Save(name string, r io.Reader) (string, error) {
	ext := filepath.Ext(filepath.Base(name))
	filename := uuid.New().String() + ext

	f, err := os.Create(filepath.Join(s.dir, filename))
	if err != nil {
		return "", fmt.Errorf("create object file: %w", err)
	}
	defer f.Close()

	if _, err := io.Copy(f, r); err != nil {
		os.Remove(f.Name())
		return "", fmt.Errorf("write object: %w", err)
	}
	return path.Join(s.baseURL, filename), nil
}
