package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/reelsmith/reelsmith/internal/util"
)

// LocalStorage keeps objects as files under a root directory.
type LocalStorage struct {
	root      string
	publicURL string
}

// NewLocalStorage creates root if needed. publicURL may be empty, in which
// case URLs are file:// paths.
func NewLocalStorage(root, publicURL string) (*LocalStorage, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(abs, 0755); err != nil {
		return nil, fmt.Errorf("create storage root: %w", err)
	}
	return &LocalStorage{root: abs, publicURL: strings.TrimSuffix(publicURL, "/")}, nil
}

func (l *LocalStorage) path(key string) (string, error) {
	clean := filepath.Clean("/" + key)
	if clean == "/" {
		return "", fmt.Errorf("empty storage key")
	}
	return filepath.Join(l.root, clean), nil
}

func (l *LocalStorage) Upload(ctx context.Context, key string, body io.Reader, contentType string) (string, error) {
	p, err := l.path(key)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
		return "", err
	}
	tmp := p + ".part"
	f, err := os.Create(tmp)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(f, body); err != nil {
		f.Close()
		os.Remove(tmp)
		return "", fmt.Errorf("write %s: %w", key, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return "", err
	}
	if err := os.Rename(tmp, p); err != nil {
		return "", err
	}
	return l.PublicURL(key), nil
}

func (l *LocalStorage) Download(ctx context.Context, key, dstPath string) error {
	p, err := l.path(key)
	if err != nil {
		return err
	}
	if _, err := os.Stat(p); os.IsNotExist(err) {
		return fmt.Errorf("%s: %w", key, ErrNotFound)
	}
	return util.CopyFile(p, dstPath)
}

func (l *LocalStorage) Exists(ctx context.Context, key string) (bool, error) {
	p, err := l.path(key)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(p)
	if os.IsNotExist(err) {
		return false, nil
	}
	return err == nil, err
}

func (l *LocalStorage) PublicURL(key string) string {
	if l.publicURL != "" {
		return l.publicURL + "/" + strings.TrimPrefix(key, "/")
	}
	return "file://" + filepath.Join(l.root, filepath.Clean("/"+key))
}

// Root is the directory objects live under.
func (l *LocalStorage) Root() string {
	return l.root
}
