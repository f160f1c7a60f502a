package generate

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/reelsmith/reelsmith/internal/jobs"
	"github.com/reelsmith/reelsmith/internal/storage"
)

// ImageGenerator renders prompts through a Pollinations-style endpoint:
// GET {base}/prompt/{prompt}?width=..&height=..&model=..&seed=..
type ImageGenerator struct {
	httpClient *http.Client
	baseURL    string
	store      storage.Storage
	Width      int
	Height     int
	// Style is appended to every prompt.
	Style string
}

var _ jobs.ImageGenerator = (*ImageGenerator)(nil)

func NewImageGenerator(baseURL string, store storage.Storage, httpClient *http.Client) *ImageGenerator {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 90 * time.Second}
	}
	return &ImageGenerator{
		httpClient: httpClient,
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		store:      store,
		Width:      1920,
		Height:     1080,
		Style:      "cinematic documentary photograph, natural light, no text, no watermark",
	}
}

// URL builds the generation URL for a prompt.
func (g *ImageGenerator) URL(key, prompt, model string) string {
	if g.Style != "" {
		prompt = prompt + ", " + g.Style
	}
	q := url.Values{}
	q.Set("width", fmt.Sprint(g.Width))
	q.Set("height", fmt.Sprint(g.Height))
	q.Set("nologo", "true")
	q.Set("seed", fmt.Sprint(seedFor(key)))
	if model != "" {
		q.Set("model", model)
	}
	return g.baseURL + "/prompt/" + url.PathEscape(prompt) + "?" + q.Encode()
}

func (g *ImageGenerator) GenerateImage(ctx context.Context, key, prompt, model string) (string, error) {
	if strings.TrimSpace(prompt) == "" {
		return "", fmt.Errorf("scene %s has no image prompt", key)
	}

	data, contentType, err := fetchBytes(ctx, g.httpClient, g.URL(key, prompt, model), nil)
	if err != nil {
		return "", fmt.Errorf("generate image: %w", err)
	}
	if len(data) < minImageBytes {
		return "", fmt.Errorf("generate image: response too small (%d bytes)", len(data))
	}
	if contentType == "" || !strings.HasPrefix(contentType, "image/") {
		contentType = "image/jpeg"
	}
	return storeMedia(ctx, g.store, "images/"+key+".jpg", data, contentType)
}
