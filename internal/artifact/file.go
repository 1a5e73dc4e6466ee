// Package artifact stores raw provider documents keyed by scheduled date.
package artifact

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/i474232898/weather-etl/internal/weather"
)

// FileStore keeps one <ds>.json file per date under a directory.
type FileStore struct {
	dir string
}

// NewFileStore creates dir if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if dir == "" {
		return nil, errors.New("artifact directory is empty")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create artifact directory: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

// Path returns the file backing ds.
func (s *FileStore) Path(ds weather.Date) string {
	return filepath.Join(s.dir, ds.ArtifactName())
}

// Put replaces the artifact for ds atomically: readers see either the old
// document or the new one, never a partial write.
func (s *FileStore) Put(ctx context.Context, ds weather.Date, raw []byte) error {
	if err := ds.Validate(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(s.dir, "."+ds.String()+".*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op after a successful rename

	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, s.Path(ds))
}

// Get reads the artifact for ds.
func (s *FileStore) Get(ctx context.Context, ds weather.Date) ([]byte, error) {
	if err := ds.Validate(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p := s.Path(ds)
	raw, err := os.ReadFile(p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", weather.ErrNotFound, p)
		}
		return nil, err
	}
	return raw, nil
}
