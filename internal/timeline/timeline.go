// Package timeline defines the editing intermediate representation shared by
// the builder and the renderer, and derives timelines from generated scenes.
package timeline

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"github.com/go-playground/validator/v10"
)

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("invalid timeline")

const (
	DefaultWidth  = 1920
	DefaultHeight = 1080
	DefaultFPS    = 30
)

type Effect string

const (
	EffectNone     Effect = "none"
	EffectKenBurns Effect = "kenburns"
	EffectZoomIn   Effect = "zoom_in"
	EffectZoomOut  Effect = "zoom_out"
	EffectPanLeft  Effect = "pan_left"
	EffectPanRight Effect = "pan_right"
)

type ColorGrade string

const (
	GradeNone      ColorGrade = "none"
	GradeGrayscale ColorGrade = "grayscale"
	GradeSepia     ColorGrade = "sepia"
	GradeVintage   ColorGrade = "vintage"
	GradeWarm      ColorGrade = "warm"
	GradeCool      ColorGrade = "cool"
)

type AudioType string

const (
	AudioNarration AudioType = "narration"
	AudioMusic     AudioType = "music"
	AudioSFX       AudioType = "sfx"
)

// TextType selects the overlay typeface: titles and dates use the serif face.
type TextType string

const (
	TextTitle   TextType = "title"
	TextDate    TextType = "date"
	TextCaption TextType = "caption"
)

type Resolution struct {
	Width  int `json:"width" validate:"min=16,max=7680"`
	Height int `json:"height" validate:"min=16,max=4320"`
}

type VideoClip struct {
	ID         string     `json:"id" validate:"required"`
	Src        string     `json:"src" validate:"required"`
	Start      float64    `json:"start" validate:"gte=0"`
	Duration   float64    `json:"duration" validate:"gt=0"`
	Effect     Effect     `json:"effect,omitempty" validate:"omitempty,oneof=none kenburns zoom_in zoom_out pan_left pan_right"`
	FadeIn     float64    `json:"fade_in" validate:"gte=0"`
	FadeOut    float64    `json:"fade_out" validate:"gte=0"`
	ColorGrade ColorGrade `json:"colorGrade,omitempty" validate:"omitempty,oneof=none grayscale sepia vintage warm cool"`
}

// End is the timeline position where the clip stops.
func (c VideoClip) End() float64 { return c.Start + c.Duration }

type AudioClip struct {
	ID       string  `json:"id" validate:"required"`
	Src      string  `json:"src" validate:"required"`
	Start    float64 `json:"start" validate:"gte=0"`
	Duration float64 `json:"duration" validate:"gt=0"`
	// Volume is a linear gain; 0 mutes, 1 is unity.
	Volume    float64   `json:"volume" validate:"gte=0,lte=2"`
	FadeIn    float64   `json:"fade_in" validate:"gte=0"`
	FadeOut   float64   `json:"fade_out" validate:"gte=0"`
	Ducking   bool      `json:"ducking,omitempty"`
	AudioType AudioType `json:"audioType" validate:"oneof=narration music sfx"`
}

func (c AudioClip) End() float64 { return c.Start + c.Duration }

// TextClip is a drawn caption. X and Y are ffmpeg position expressions
// such as "(w-text_w)/2".
type TextClip struct {
	ID          string   `json:"id" validate:"required"`
	Text        string   `json:"text" validate:"required"`
	Start       float64  `json:"start" validate:"gte=0"`
	End         float64  `json:"end" validate:"gtfield=Start"`
	Type        TextType `json:"type,omitempty" validate:"omitempty,oneof=title date caption"`
	X           string   `json:"x,omitempty"`
	Y           string   `json:"y,omitempty"`
	FontSize    int      `json:"fontSize,omitempty" validate:"gte=0,lte=1000"`
	FontColor   string   `json:"fontColor,omitempty"`
	Box         bool     `json:"box,omitempty"`
	BoxColor    string   `json:"boxColor,omitempty"`
	BoxBorder   int      `json:"boxBorder,omitempty" validate:"gte=0"`
	Shadow      bool     `json:"shadow,omitempty"`
	ShadowColor string   `json:"shadowColor,omitempty"`
	ShadowX     int      `json:"shadowX,omitempty"`
	ShadowY     int      `json:"shadowY,omitempty"`
	BorderWidth int      `json:"borderWidth,omitempty" validate:"gte=0"`
	BorderColor string   `json:"borderColor,omitempty"`
}

type Tracks struct {
	Video []VideoClip `json:"video" validate:"dive"`
	Audio []AudioClip `json:"audio" validate:"dive"`
	Text  []TextClip  `json:"text" validate:"dive"`
}

type Timeline struct {
	Resolution Resolution `json:"resolution"`
	FPS        int        `json:"fps" validate:"min=1,max=120"`
	Duration   float64    `json:"duration" validate:"gte=0"`
	Tracks     Tracks     `json:"tracks"`
}

// New returns an empty 1920x1080 timeline at 30 fps.
func New() *Timeline {
	return &Timeline{
		Resolution: Resolution{Width: DefaultWidth, Height: DefaultHeight},
		FPS:        DefaultFPS,
		Tracks:     Tracks{Video: []VideoClip{}, Audio: []AudioClip{}, Text: []TextClip{}},
	}
}

// ApplyDefaults fills unset resolution, fps, effect and grade fields.
func (t *Timeline) ApplyDefaults() {
	if t.Resolution.Width == 0 || t.Resolution.Height == 0 {
		t.Resolution = Resolution{Width: DefaultWidth, Height: DefaultHeight}
	}
	if t.FPS == 0 {
		t.FPS = DefaultFPS
	}
	for i := range t.Tracks.Video {
		if t.Tracks.Video[i].Effect == "" {
			t.Tracks.Video[i].Effect = EffectNone
		}
		if t.Tracks.Video[i].ColorGrade == "" {
			t.Tracks.Video[i].ColorGrade = GradeNone
		}
	}
	for i := range t.Tracks.Audio {
		if t.Tracks.Audio[i].AudioType == "" {
			t.Tracks.Audio[i].AudioType = AudioNarration
		}
	}
}

// ComputeDuration is the furthest end point across all video clips.
func (t *Timeline) ComputeDuration() float64 {
	var d float64
	for _, c := range t.Tracks.Video {
		d = math.Max(d, c.End())
	}
	return d
}

// Normalize applies defaults and recomputes Duration.
func (t *Timeline) Normalize() {
	t.ApplyDefaults()
	t.Duration = t.ComputeDuration()
}

var validate = validator.New()

// Validate checks field ranges plus the cross-clip rules the struct tags
// cannot express.
func (t *Timeline) Validate() error {
	if err := validate.Struct(t); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if len(t.Tracks.Video) == 0 {
		return fmt.Errorf("%w: no video clips", ErrInvalid)
	}
	for _, c := range t.Tracks.Video {
		if c.FadeIn+c.FadeOut > c.Duration+1e-9 {
			return fmt.Errorf("%w: clip %s fades exceed its duration", ErrInvalid, c.ID)
		}
	}
	for _, c := range t.Tracks.Audio {
		if c.FadeIn+c.FadeOut > c.Duration+1e-9 {
			return fmt.Errorf("%w: audio %s fades exceed its duration", ErrInvalid, c.ID)
		}
	}
	if want := t.ComputeDuration(); math.Abs(t.Duration-want) > 1e-6 {
		return fmt.Errorf("%w: duration %.3f does not match clips (%.3f)", ErrInvalid, t.Duration, want)
	}
	return nil
}

// Parse decodes, normalizes and validates a timeline document. A missing
// duration is derived from the clips.
func Parse(data []byte) (*Timeline, error) {
	t := New()
	if err := json.Unmarshal(data, t); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	t.ApplyDefaults()
	if t.Duration == 0 {
		t.Duration = t.ComputeDuration()
	}
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return t, nil
}
