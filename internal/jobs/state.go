package jobs

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/reelsmith/reelsmith/internal/timeline"
)

// StateVersion is the current GenerationState layout.
const StateVersion = 1

// Research is the output of the research step.
type Research struct {
	Queries  []string  `json:"queries"`
	Findings []Finding `json:"findings,omitempty"`
	Summary  string    `json:"summary"`
}

// Finding is one answered research query.
type Finding struct {
	Query   string   `json:"query"`
	Answer  string   `json:"answer"`
	Sources []string `json:"sources,omitempty"`
}

// Framework is the output of the framework step.
type Framework struct {
	Title       string `json:"title"`
	Premise     string `json:"premise"`
	OpeningHook string `json:"openingHook"`
	Genre       string `json:"genre"`
}

// Scene is one narrated still within a chapter.
type Scene struct {
	Number      int    `json:"number"`
	Narration   string `json:"narration"`
	ImagePrompt string `json:"imagePrompt"`
	SearchQuery string `json:"searchQuery,omitempty"`
}

// ChapterScript is the output of the chapters step for one outline entry.
type ChapterScript struct {
	Number int     `json:"number"`
	Title  string  `json:"title"`
	Scenes []Scene `json:"scenes"`
}

// GenerationState accumulates step outputs. It is the checkpoint payload
// stored in Job.StateData.
type GenerationState struct {
	Version   int                  `json:"version"`
	Research  *Research            `json:"research,omitempty"`
	Framework *Framework           `json:"framework,omitempty"`
	Outline   []string             `json:"outline"`
	Chapters  []ChapterScript      `json:"chapters"`
	Images    map[string]string    `json:"images"`
	Audio     map[string]string    `json:"audio"`
	Reports   map[Step]*StepReport `json:"reports,omitempty"`
}

// NewState returns an empty state with initialised collections.
func NewState() *GenerationState {
	return &GenerationState{
		Version:  StateVersion,
		Outline:  []string{},
		Chapters: []ChapterScript{},
		Images:   make(map[string]string),
		Audio:    make(map[string]string),
		Reports:  make(map[Step]*StepReport),
	}
}

// DecodeState re-hydrates a checkpoint. Empty or unreadable data yields an
// empty state; the error is returned for logging only.
func DecodeState(data []byte) (*GenerationState, error) {
	if len(data) == 0 {
		return NewState(), nil
	}
	var s GenerationState
	if err := json.Unmarshal(data, &s); err != nil {
		return NewState(), fmt.Errorf("decode generation state: %w", err)
	}
	if s.Version > StateVersion {
		return NewState(), fmt.Errorf("generation state version %d is newer than %d", s.Version, StateVersion)
	}
	s.Version = StateVersion
	if s.Outline == nil {
		s.Outline = []string{}
	}
	if s.Chapters == nil {
		s.Chapters = []ChapterScript{}
	}
	s.Images = normalizeKeys(s.Images)
	s.Audio = normalizeKeys(s.Audio)
	if s.Reports == nil {
		s.Reports = make(map[Step]*StepReport)
	}
	return &s, nil
}

// Encode serialises the state for a checkpoint.
func (s *GenerationState) Encode() ([]byte, error) {
	return json.Marshal(s)
}

// Chapter returns the script for chapter number n.
func (s *GenerationState) Chapter(n int) (ChapterScript, bool) {
	for _, ch := range s.Chapters {
		if ch.Number == n {
			return ch, true
		}
	}
	return ChapterScript{}, false
}

// putChapter stores ch, replacing any earlier script with the same number.
func (s *GenerationState) putChapter(ch ChapterScript) {
	for i := range s.Chapters {
		if s.Chapters[i].Number == ch.Number {
			s.Chapters[i] = ch
			return
		}
	}
	s.Chapters = append(s.Chapters, ch)
	sort.Slice(s.Chapters, func(i, j int) bool { return s.Chapters[i].Number < s.Chapters[j].Number })
}

// SceneAssets flattens the chapters into builder input. Duration is left
// zero for the caller to measure.
func (s *GenerationState) SceneAssets() []timeline.SceneAsset {
	var out []timeline.SceneAsset
	for _, ch := range s.Chapters {
		for _, sc := range ch.Scenes {
			key := SceneKey(ch.Number, sc.Number)
			out = append(out, timeline.SceneAsset{
				Chapter:   ch.Number,
				Scene:     sc.Number,
				ImageURL:  s.Images[key],
				AudioURL:  s.Audio[key],
				Narration: sc.Narration,
			})
		}
	}
	return out
}

// SceneKey is the canonical asset key for a scene.
func SceneKey(chapter, scene int) string {
	return fmt.Sprintf("ch%d_scene%d", chapter, scene)
}

// ParseSceneKey reads a canonical key or the older ch{n}_sc{m} form.
func ParseSceneKey(key string) (chapter, scene int, err error) {
	rest, ok := strings.CutPrefix(key, "ch")
	if !ok {
		return 0, 0, fmt.Errorf("invalid scene key %q", key)
	}
	chPart, scPart, ok := strings.Cut(rest, "_")
	if !ok {
		return 0, 0, fmt.Errorf("invalid scene key %q", key)
	}
	if s, ok := strings.CutPrefix(scPart, "scene"); ok {
		scPart = s
	} else if s, ok := strings.CutPrefix(scPart, "sc"); ok {
		scPart = s
	} else {
		return 0, 0, fmt.Errorf("invalid scene key %q", key)
	}
	chapter, err = strconv.Atoi(chPart)
	if err != nil || chapter < 1 {
		return 0, 0, fmt.Errorf("invalid chapter in scene key %q", key)
	}
	scene, err = strconv.Atoi(scPart)
	if err != nil || scene < 1 {
		return 0, 0, fmt.Errorf("invalid scene in scene key %q", key)
	}
	return chapter, scene, nil
}

// normalizeKeys rewrites legacy keys to the canonical form and drops keys
// that cannot be parsed.
func normalizeKeys(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		ch, sc, err := ParseSceneKey(k)
		if err != nil {
			continue
		}
		canonical := SceneKey(ch, sc)
		if _, exists := out[canonical]; exists && canonical != k {
			continue
		}
		out[canonical] = v
	}
	return out
}
