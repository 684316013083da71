package data

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// ImageStore writes first-detection crops to disk. The database keeps only the
// path; files are named img_{object_id}_{timestamp}.jpg.
type ImageStore struct {
	Dir string
}

func NewImageStore(dir string) (*ImageStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create image dir: %w", err)
	}
	return &ImageStore{Dir: dir}, nil
}

// Save writes one crop and returns its path.
func (s *ImageStore) Save(objectID int64, ts time.Time, jpeg []byte) (string, error) {
	name := fmt.Sprintf("img_%d_%s.jpg", objectID, ts.UTC().Format("20060102150405"))
	path := filepath.Join(s.Dir, name)
	if err := os.WriteFile(path, jpeg, 0o644); err != nil {
		return "", fmt.Errorf("write image: %w", err)
	}
	return path, nil
}

// Read loads a stored crop.
func (s *ImageStore) Read(path string) ([]byte, error) {
	return os.ReadFile(path)
}
