// Package storage stores generated media and renders in an object store or
// on local disk.
package storage

import (
	"context"
	"errors"
	"io"
	"strings"
)

// ErrNotFound is returned when a key does not exist.
var ErrNotFound = errors.New("object not found")

// Scheme prefixes references that resolve through the configured backend
// rather than over HTTP, e.g. "storage://audio/ch1_scene2.mp3".
const Scheme = "storage://"

// Storage is an object store keyed by slash-separated paths.
type Storage interface {
	// Upload writes body under key and returns its public URL.
	Upload(ctx context.Context, key string, body io.Reader, contentType string) (string, error)

	// Download copies the object at key to dstPath.
	Download(ctx context.Context, key, dstPath string) error

	// Exists reports whether key is present.
	Exists(ctx context.Context, key string) (bool, error)

	// PublicURL is the URL clients use to fetch key.
	PublicURL(key string) string
}

// Reference returns the storage:// form of key.
func Reference(key string) string {
	return Scheme + strings.TrimPrefix(key, "/")
}

// KeyFor resolves src to a key in s: either a storage:// reference or a URL
// under the backend's public prefix.
func KeyFor(s Storage, src string) (string, bool) {
	if key, ok := strings.CutPrefix(src, Scheme); ok {
		return key, key != ""
	}
	if s == nil {
		return "", false
	}
	prefix := strings.TrimSuffix(s.PublicURL(""), "/") + "/"
	if prefix != "/" && strings.HasPrefix(src, prefix) {
		return strings.TrimPrefix(src, prefix), true
	}
	return "", false
}
