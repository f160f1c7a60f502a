package generate

import (
	"bytes"
	"context"
	"fmt"
	"hash/fnv"
	"io"
	"net/http"

	"github.com/reelsmith/reelsmith/internal/storage"
)

// maxMediaBytes bounds a single downloaded asset.
const maxMediaBytes = 64 << 20

// minImageBytes rejects error pages served with a 200 status.
const minImageBytes = 100

func fetchBytes(ctx context.Context, client *http.Client, url string, header http.Header) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", err
	}
	for k, v := range header {
		req.Header[k] = v
	}
	req.Header.Set("User-Agent", "reelsmith/1.0")

	resp, err := client.Do(req)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("HTTP %d from %s", resp.StatusCode, req.URL.Host)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxMediaBytes+1))
	if err != nil {
		return nil, "", err
	}
	if len(data) > maxMediaBytes {
		return nil, "", fmt.Errorf("response larger than %d bytes", maxMediaBytes)
	}
	return data, resp.Header.Get("Content-Type"), nil
}

// storeMedia uploads data under key and returns its public URL. The
// renderer maps that URL back to the key through storage.KeyFor.
func storeMedia(ctx context.Context, store storage.Storage, key string, data []byte, contentType string) (string, error) {
	url, err := store.Upload(ctx, key, bytes.NewReader(data), contentType)
	if err != nil {
		return "", fmt.Errorf("store %s: %w", key, err)
	}
	if url == "" {
		url = storage.Reference(key)
	}
	return url, nil
}

// seedFor derives a stable generator seed from a scene key so reruns
// produce the same image.
func seedFor(key string) uint32 {
	h := fnv.New32a()
	h.Write([]byte(key))
	return h.Sum32() % 1_000_000
}
