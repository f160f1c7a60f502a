package ffmpeg

import (
	"bufio"
	"context"
	"fmt"
	"os/exec"
	"sort"
	"strings"
	"sync"
	"time"
)

// Component is one ffmpeg encoder or filter the renderer relies on.
type Component struct {
	Kind        string `json:"kind"` // "encoder" or "filter"
	Name        string `json:"name"`
	Description string `json:"description"`
	Available   bool   `json:"available"`
}

// requiredComponents lists everything the compiled graph can reference.
var requiredComponents = []Component{
	{Kind: "encoder", Name: "libx264", Description: "H.264 video"},
	{Kind: "encoder", Name: "aac", Description: "AAC audio"},
	{Kind: "filter", Name: "zoompan", Description: "motion effects"},
	{Kind: "filter", Name: "drawtext", Description: "text overlays"},
	{Kind: "filter", Name: "colorchannelmixer", Description: "color grades"},
	{Kind: "filter", Name: "curves", Description: "color grades"},
	{Kind: "filter", Name: "colorbalance", Description: "color grades"},
	{Kind: "filter", Name: "overlay", Description: "clip compositing"},
	{Kind: "filter", Name: "amix", Description: "audio mixing"},
	{Kind: "filter", Name: "adelay", Description: "audio placement"},
	{Kind: "filter", Name: "afade", Description: "audio fades"},
}

// Capabilities is the result of probing an ffmpeg binary.
type Capabilities struct {
	Version    string      `json:"version"`
	Components []Component `json:"components"`
}

// Missing returns the names of unavailable components.
func (c Capabilities) Missing() []string {
	var out []string
	for _, comp := range c.Components {
		if !comp.Available {
			out = append(out, comp.Name)
		}
	}
	return out
}

var detected struct {
	mu   sync.Mutex
	done bool
	caps Capabilities
	err  error
	path string
}

// DetectCapabilities probes ffmpegPath once and caches the result.
func DetectCapabilities(ffmpegPath string) (Capabilities, error) {
	detected.mu.Lock()
	defer detected.mu.Unlock()

	if detected.done && detected.path == ffmpegPath {
		return detected.caps, detected.err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	caps, err := probeCapabilities(ctx, ffmpegPath)
	detected.done, detected.path, detected.caps, detected.err = true, ffmpegPath, caps, err
	return caps, err
}

func probeCapabilities(ctx context.Context, ffmpegPath string) (Capabilities, error) {
	version, err := exec.CommandContext(ctx, ffmpegPath, "-hide_banner", "-version").Output()
	if err != nil {
		return Capabilities{}, fmt.Errorf("run %s: %w", ffmpegPath, err)
	}
	encoders, err := exec.CommandContext(ctx, ffmpegPath, "-hide_banner", "-encoders").Output()
	if err != nil {
		return Capabilities{}, fmt.Errorf("list encoders: %w", err)
	}
	filters, err := exec.CommandContext(ctx, ffmpegPath, "-hide_banner", "-filters").Output()
	if err != nil {
		return Capabilities{}, fmt.Errorf("list filters: %w", err)
	}
	return parseCapabilities(string(version), string(encoders), string(filters)), nil
}

func parseCapabilities(version, encoders, filters string) Capabilities {
	have := map[string]map[string]bool{
		"encoder": listedNames(encoders),
		"filter":  listedNames(filters),
	}
	caps := Capabilities{Version: parseVersion(version)}
	for _, comp := range requiredComponents {
		comp.Available = have[comp.Kind][comp.Name]
		caps.Components = append(caps.Components, comp)
	}
	sort.SliceStable(caps.Components, func(i, j int) bool {
		return caps.Components[i].Kind < caps.Components[j].Kind
	})
	return caps
}

// listedNames reads the name column of "ffmpeg -encoders" or "-filters"
// output. Both print a flags column followed by the name.
func listedNames(out string) map[string]bool {
	names := make(map[string]bool)
	sc := bufio.NewScanner(strings.NewReader(out))
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) < 2 || fields[1] == "=" || strings.HasSuffix(fields[0], ":") {
			continue
		}
		names[fields[1]] = true
	}
	return names
}

func parseVersion(out string) string {
	line, _, _ := strings.Cut(out, "\n")
	fields := strings.Fields(line)
	if len(fields) >= 3 && fields[0] == "ffmpeg" && fields[1] == "version" {
		return fields[2]
	}
	return ""
}
