package ffmpeg

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"

	"github.com/reelsmith/reelsmith/internal/storage"
)

// Fetcher materializes clip sources into a scratch directory. Sources may be
// http(s) URLs, storage references, file:// URLs or plain local paths.
type Fetcher struct {
	client  *http.Client
	storage storage.Storage
}

func NewFetcher(client *http.Client, store storage.Storage) *Fetcher {
	if client == nil {
		client = http.DefaultClient
	}
	return &Fetcher{client: client, storage: store}
}

// Fetch copies src to dst (extension appended from the source) and returns
// the local path.
func (f *Fetcher) Fetch(ctx context.Context, src, dst string) (string, error) {
	dst += extensionOf(src)

	if key, ok := storage.KeyFor(f.storage, src); ok && f.storage != nil {
		if err := f.storage.Download(ctx, key, dst); err != nil {
			return "", err
		}
		return dst, nil
	}

	switch {
	case strings.HasPrefix(src, "http://"), strings.HasPrefix(src, "https://"):
		if err := f.download(ctx, src, dst); err != nil {
			return "", err
		}
		return dst, nil
	case strings.HasPrefix(src, "file://"):
		src = strings.TrimPrefix(src, "file://")
	}

	if _, err := os.Stat(src); err != nil {
		return "", fmt.Errorf("source %s: %w", src, err)
	}
	return src, nil
}

func (f *Fetcher) download(ctx context.Context, url, dst string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return fmt.Errorf("fetch %s: %w", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("fetch %s: status %d", url, resp.StatusCode)
	}

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, resp.Body); err != nil {
		out.Close()
		return fmt.Errorf("fetch %s: %w", url, err)
	}
	return out.Close()
}

// NormalizeImage decodes a still and re-encodes it as a JPEG no larger than
// twice the canvas, so the encoder never sees odd formats or huge frames.
// Undecodable images return an error and the clip is dropped.
func NormalizeImage(srcPath, dstPath string, width, height int) error {
	img, err := imaging.Open(srcPath, imaging.AutoOrientation(true))
	if err != nil {
		return fmt.Errorf("decode %s: %w", filepath.Base(srcPath), err)
	}
	b := img.Bounds()
	if b.Dx() > width*2 || b.Dy() > height*2 {
		img = imaging.Fit(img, width*2, height*2, imaging.Lanczos)
	}
	if err := imaging.Save(img, dstPath, imaging.JPEGQuality(90)); err != nil {
		return fmt.Errorf("encode %s: %w", filepath.Base(dstPath), err)
	}
	return nil
}

func extensionOf(src string) string {
	if i := strings.IndexAny(src, "?#"); i >= 0 {
		src = src[:i]
	}
	ext := strings.ToLower(path.Ext(src))
	if len(ext) > 6 || strings.ContainsAny(ext, "/\\:") {
		return ""
	}
	return ext
}
