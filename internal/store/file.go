package store

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/nidhogg/flowerbed/internal/flower"
	"go.uber.org/zap"
)

// FileExt is the extension of flower documents on disk.
const FileExt = ".flwr"

// File stores one JSON document per flower under a directory.
type File struct {
	dir    string
	logger *zap.Logger
}

// NewFile creates the directory if needed and returns a file backend.
func NewFile(dir string, logger *zap.Logger) (*File, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create flowerbed dir %s: %w", dir, err)
	}
	logger.Info("file store ready", zap.String("dir", dir))
	return &File{dir: dir, logger: logger}, nil
}

func (s *File) path(id string) (string, error) {
	if id == "" || strings.ContainsAny(id, `/\`) || id == "." || id == ".." {
		return "", fmt.Errorf("invalid flower id %q", id)
	}
	return filepath.Join(s.dir, id+FileExt), nil
}

// Save writes the document to a temp file and renames it into place.
func (s *File) Save(_ context.Context, f *flower.Flower) error {
	p, err := s.path(f.ID)
	if err != nil {
		return err
	}
	data, err := encode(f)
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(s.dir, f.ID+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp for %s: %w", f.ID, err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write %s: %w", f.ID, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("close %s: %w", f.ID, err)
	}
	if err := os.Rename(tmp.Name(), p); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("rename %s: %w", f.ID, err)
	}
	return nil
}

func (s *File) Load(_ context.Context, id string) (*flower.Flower, error) {
	p, err := s.path(id)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", id, flower.ErrFlowerNotFound)
	}
	data, err := os.ReadFile(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load %s: %w", id, flower.ErrFlowerNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", id, err)
	}
	return decode(id, data)
}

func (s *File) Delete(_ context.Context, id string) error {
	p, err := s.path(id)
	if err != nil {
		return fmt.Errorf("delete %s: %w", id, flower.ErrFlowerNotFound)
	}
	err = os.Remove(p)
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("delete %s: %w", id, flower.ErrFlowerNotFound)
	}
	if err != nil {
		return fmt.Errorf("remove %s: %w", id, err)
	}
	return nil
}
