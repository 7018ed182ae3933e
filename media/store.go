package media

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// BlobInfo describes one stored object.
type BlobInfo struct {
	Name    string
	URL     string
	ModTime time.Time
}

// BlobStore is the storage backend for uploaded images. The disk store is
// the only implementation today; the interface is what the sweeper and the
// handlers program against.
type BlobStore interface {
	Save(name string, src io.Reader) (url string, err error)
	Remove(name string) error
	List() ([]BlobInfo, error)
}

// DiskStore keeps blobs as flat files under a single directory and serves
// them under urlPrefix.
type DiskStore struct {
	dir       string
	urlPrefix string
}

func NewDiskStore(dir, urlPrefix string) (*DiskStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating upload dir: %w", err)
	}
	return &DiskStore{dir: dir, urlPrefix: strings.TrimSuffix(urlPrefix, "/")}, nil
}

// Dir returns the backing directory, for static file serving.
func (s *DiskStore) Dir() string {
	return s.dir
}

func (s *DiskStore) urlFor(name string) string {
	return s.urlPrefix + "/" + name
}

func (s *DiskStore) Save(name string, src io.Reader) (string, error) {
	// Names are generated server side, but never trust a path separator.
	name = filepath.Base(name)

	dst, err := os.Create(filepath.Join(s.dir, name))
	if err != nil {
		return "", err
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		os.Remove(dst.Name())
		return "", err
	}
	return s.urlFor(name), nil
}

func (s *DiskStore) Remove(name string) error {
	err := os.Remove(filepath.Join(s.dir, filepath.Base(name)))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func (s *DiskStore) List() ([]BlobInfo, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, err
	}

	var blobs []BlobInfo
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		blobs = append(blobs, BlobInfo{
			Name:    entry.Name(),
			URL:     s.urlFor(entry.Name()),
			ModTime: info.ModTime(),
		})
	}
	return blobs, nil
}
