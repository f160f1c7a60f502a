package generate

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/reelsmith/reelsmith/internal/jobs"
	"github.com/reelsmith/reelsmith/internal/logger"
	"github.com/reelsmith/reelsmith/internal/storage"
)

// StockFinder searches a Pexels-compatible photo API and stores the best
// ranked result.
type StockFinder struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	store      storage.Storage
	// MinWidth is the width below which photos are penalised.
	MinWidth int
}

var _ jobs.StockImageFinder = (*StockFinder)(nil)

func NewStockFinder(baseURL, apiKey string, store storage.Storage, httpClient *http.Client) *StockFinder {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}
	return &StockFinder{
		httpClient: httpClient,
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		apiKey:     apiKey,
		store:      store,
		MinWidth:   1920,
	}
}

// Photo is one search result.
type Photo struct {
	ID     int64  `json:"id"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
	Alt    string `json:"alt"`
	Src    struct {
		Original  string `json:"original"`
		Large2x   string `json:"large2x"`
		Landscape string `json:"landscape"`
	} `json:"src"`
}

type searchResponse struct {
	Photos []Photo `json:"photos"`
}

func (f *StockFinder) FindImage(ctx context.Context, key, query string) (string, error) {
	if f.apiKey == "" {
		return "", fmt.Errorf("stock search: %w", ErrNotConfigured)
	}
	photos, err := f.search(ctx, query)
	if err != nil {
		return "", err
	}
	ranked := RankPhotos(photos, query, f.MinWidth)
	if len(ranked) == 0 {
		return "", fmt.Errorf("no stock photos for %q", query)
	}

	best := ranked[0]
	src := firstNonEmpty(best.Src.Large2x, best.Src.Original, best.Src.Landscape)
	logger.Debug("Picked stock photo", "scene", key, "photo_id", best.ID, "candidates", len(photos))

	data, contentType, err := fetchBytes(ctx, f.httpClient, src, nil)
	if err != nil {
		return "", fmt.Errorf("download stock photo %d: %w", best.ID, err)
	}
	if contentType == "" || !strings.HasPrefix(contentType, "image/") {
		contentType = "image/jpeg"
	}
	return storeMedia(ctx, f.store, "images/"+key+".jpg", data, contentType)
}

func (f *StockFinder) search(ctx context.Context, query string) ([]Photo, error) {
	q := url.Values{}
	q.Set("query", query)
	q.Set("orientation", "landscape")
	q.Set("per_page", "15")

	header := http.Header{}
	header.Set("Authorization", f.apiKey)
	data, _, err := fetchBytes(ctx, f.httpClient, f.baseURL+"/search?"+q.Encode(), header)
	if err != nil {
		return nil, fmt.Errorf("stock search: %w", err)
	}

	var resp searchResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("decode stock search: %w", err)
	}
	return resp.Photos, nil
}

// RankPhotos orders photos best first: landscape frames near 16:9, large
// enough for the canvas, whose description shares words with the query.
func RankPhotos(photos []Photo, query string, minWidth int) []Photo {
	type scored struct {
		photo Photo
		score float64
	}

	terms := strings.Fields(strings.ToLower(query))
	var candidates []scored
	for _, p := range photos {
		if p.Width <= 0 || p.Height <= 0 || (p.Src.Large2x == "" && p.Src.Original == "" && p.Src.Landscape == "") {
			continue
		}
		aspect := float64(p.Width) / float64(p.Height)
		if aspect < 1 {
			continue
		}

		score := 10 - 10*math.Min(math.Abs(aspect-16.0/9.0), 1)
		if p.Width >= minWidth {
			score += 5
		}
		alt := strings.ToLower(p.Alt)
		for _, t := range terms {
			if len(t) > 2 && strings.Contains(alt, t) {
				score += 3
			}
		}
		candidates = append(candidates, scored{p, score})
	}

	sort.SliceStable(candidates, func(i, j int) bool { return candidates[i].score > candidates[j].score })
	out := make([]Photo, len(candidates))
	for i, c := range candidates {
		out[i] = c.photo
	}
	return out
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
