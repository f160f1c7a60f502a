package ffmpeg

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/reelsmith/reelsmith/internal/logger"
	"github.com/reelsmith/reelsmith/internal/storage"
	"github.com/reelsmith/reelsmith/internal/timeline"
	"github.com/reelsmith/reelsmith/internal/util"
)

// Render stages reported through RenderProgress.
const (
	StageDownload = "download"
	StageEncode   = "encode"
	StageUpload   = "upload"
	StageComplete = "complete"
)

// RenderProgress is a coarse status update for observers.
type RenderProgress struct {
	Stage   string  `json:"stage"`
	Percent float64 `json:"percent"`
	Message string  `json:"message,omitempty"`
}

// RenderResult describes a finished render.
type RenderResult struct {
	Success      bool          `json:"success"`
	Name         string        `json:"name"`
	OutputPath   string        `json:"output_path,omitempty"`
	URL          string        `json:"url,omitempty"`
	Duration     float64       `json:"duration"`
	Size         int64         `json:"size"`
	Elapsed      time.Duration `json:"elapsed"`
	DroppedClips []string      `json:"dropped_clips,omitempty"`
	UploadError  string        `json:"upload_error,omitempty"`
	Error        string        `json:"error,omitempty"`
	StderrTail   string        `json:"stderr_tail,omitempty"`
}

// RendererOptions configures a Renderer.
type RendererOptions struct {
	FFmpegPath string
	// TempDir is the parent of per-render scratch directories.
	TempDir string
	// OutputDir keeps finished files.
	OutputDir string
	Storage   storage.Storage
	Prober    *Prober
	Fonts     Fonts
	Encoding  Encoding
	// MaxConcurrent bounds simultaneous encoder processes.
	MaxConcurrent int
	HTTPClient    *http.Client
}

// Renderer compiles timelines into a single encoder invocation.
type Renderer struct {
	ffmpegPath string
	tempDir    string
	outputDir  string
	storage    storage.Storage
	prober     *Prober
	fetcher    *Fetcher
	fonts      Fonts
	encoding   Encoding
	sem        *semaphore.Weighted
}

func NewRenderer(opts RendererOptions) *Renderer {
	if opts.FFmpegPath == "" {
		opts.FFmpegPath = "ffmpeg"
	}
	if opts.MaxConcurrent < 1 {
		opts.MaxConcurrent = 1
	}
	if opts.Encoding.Preset == "" {
		opts.Encoding = DefaultEncoding()
	}
	if opts.OutputDir == "" {
		opts.OutputDir = os.TempDir()
	}
	return &Renderer{
		ffmpegPath: opts.FFmpegPath,
		tempDir:    opts.TempDir,
		outputDir:  opts.OutputDir,
		storage:    opts.Storage,
		prober:     opts.Prober,
		fetcher:    NewFetcher(opts.HTTPClient, opts.Storage),
		fonts:      opts.Fonts,
		encoding:   opts.Encoding,
		sem:        semaphore.NewWeighted(int64(opts.MaxConcurrent)),
	}
}

// Render materializes assets, runs the encoder once and uploads the result.
// The scratch directory is removed on every path. An upload failure is
// reported in the result but does not fail the render.
func (r *Renderer) Render(ctx context.Context, tl *timeline.Timeline, name string, onProgress func(RenderProgress)) (*RenderResult, error) {
	start := time.Now()
	name = util.SafeName(name)
	result := &RenderResult{Name: name}
	report := func(p RenderProgress) {
		if onProgress != nil {
			onProgress(p)
		}
	}
	fail := func(err error) (*RenderResult, error) {
		result.Error = err.Error()
		var re *RenderError
		if errors.As(err, &re) {
			result.StderrTail = re.Tail()
		}
		result.Elapsed = time.Since(start)
		return result, err
	}

	tl.ApplyDefaults()
	if tl.Duration <= 0 {
		tl.Duration = tl.ComputeDuration()
	}

	workspace, err := os.MkdirTemp(r.tempDir, "render-"+name+"-")
	if err != nil {
		return fail(fmt.Errorf("create workspace: %w", err))
	}
	defer func() {
		if err := os.RemoveAll(workspace); err != nil {
			logger.Warn("Failed to remove render workspace", "path", workspace, "error", err)
		}
	}()

	video, audio, dropped := r.materialize(ctx, tl, workspace, report)
	result.DroppedClips = dropped
	if len(video) == 0 {
		return fail(ErrNoVideoClips)
	}

	text, err := writeTextFiles(tl.Tracks.Text, workspace)
	if err != nil {
		return fail(err)
	}

	plan, err := Compile(tl, video, audio, text, r.fonts)
	if err != nil {
		return fail(err)
	}

	outPath := filepath.Join(workspace, name+".mp4")
	args := plan.Args(outPath, r.encoding)

	if err := r.sem.Acquire(ctx, 1); err != nil {
		return fail(err)
	}
	err = r.encode(ctx, args, plan.Duration, func(p Progress) {
		report(RenderProgress{Stage: StageEncode, Percent: p.Percent})
	})
	r.sem.Release(1)
	if err != nil {
		return fail(err)
	}

	finalPath := filepath.Join(r.outputDir, name+".mp4")
	if err := util.MoveFile(outPath, finalPath); err != nil {
		return fail(fmt.Errorf("keep output: %w", err))
	}
	result.OutputPath = finalPath
	if info, err := os.Stat(finalPath); err == nil {
		result.Size = info.Size()
	}
	result.Duration = plan.Duration
	if r.prober != nil {
		if d, err := r.prober.Duration(ctx, finalPath); err == nil {
			result.Duration = d.Seconds()
		}
	}

	if r.storage != nil {
		report(RenderProgress{Stage: StageUpload, Percent: progressPlateau})
		url, err := r.upload(ctx, name, finalPath)
		if err != nil {
			logger.Warn("Render upload failed", "name", name, "error", err)
			result.UploadError = err.Error()
		}
		result.URL = url
	}

	result.Success = true
	result.Elapsed = time.Since(start)
	report(RenderProgress{Stage: StageComplete, Percent: 100})
	logger.Info("Render complete",
		"name", name,
		"duration", util.FormatSeconds(result.Duration),
		"size", util.FormatBytes(result.Size),
		"elapsed", util.FormatDuration(result.Elapsed),
		"dropped", len(dropped))
	return result, nil
}

// materialize fetches every clip source in order. Failed assets drop their
// clip.
func (r *Renderer) materialize(ctx context.Context, tl *timeline.Timeline, workspace string, report func(RenderProgress)) ([]VideoSource, []AudioSource, []string) {
	total := len(tl.Tracks.Video) + len(tl.Tracks.Audio)
	done := 0
	step := func(msg string) {
		done++
		report(RenderProgress{Stage: StageDownload, Percent: float64(done) / float64(total) * 100, Message: msg})
	}

	var video []VideoSource
	var audio []AudioSource
	var dropped []string

	for i, c := range tl.Tracks.Video {
		raw, err := r.fetcher.Fetch(ctx, c.Src, filepath.Join(workspace, fmt.Sprintf("src_v%03d", i)))
		if err == nil {
			norm := filepath.Join(workspace, fmt.Sprintf("v%03d.jpg", i))
			if err = NormalizeImage(raw, norm, tl.Resolution.Width, tl.Resolution.Height); err == nil {
				video = append(video, VideoSource{Clip: c, Path: norm, Index: i})
			}
		}
		if err != nil {
			logger.Warn("Dropping video clip", "clip", c.ID, "src", c.Src, "error", err)
			dropped = append(dropped, c.ID)
		}
		step(c.ID)
	}

	for i, c := range tl.Tracks.Audio {
		p, err := r.fetcher.Fetch(ctx, c.Src, filepath.Join(workspace, fmt.Sprintf("a%03d", i)))
		if err != nil {
			logger.Warn("Dropping audio clip", "clip", c.ID, "src", c.Src, "error", err)
			dropped = append(dropped, c.ID)
		} else {
			audio = append(audio, AudioSource{Clip: c, Path: p})
		}
		step(c.ID)
	}
	return video, audio, dropped
}

func writeTextFiles(clips []timeline.TextClip, workspace string) ([]TextSource, error) {
	out := make([]TextSource, 0, len(clips))
	for i, c := range clips {
		p := filepath.Join(workspace, fmt.Sprintf("text_%03d.txt", i))
		if err := os.WriteFile(p, []byte(c.Text), 0644); err != nil {
			return nil, fmt.Errorf("write overlay text: %w", err)
		}
		out = append(out, TextSource{Clip: c, TextFile: p})
	}
	return out, nil
}

// encode runs the encoder, streaming -progress output to onProgress.
func (r *Renderer) encode(ctx context.Context, args []string, total float64, onProgress func(Progress)) error {
	cmd := exec.CommandContext(ctx, r.ffmpegPath, args...)
	logger.Debug("FFmpeg command", "args", strings.Join(args, " "))

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start ffmpeg: %w", err)
	}

	// Reads until ffmpeg closes stdout, which happens at exit.
	parseProgress(stdout, time.Duration(total*float64(time.Second)), onProgress)

	if err := cmd.Wait(); err != nil {
		rerr := &RenderError{Err: fmt.Errorf("ffmpeg failed: %w", err), Stderr: stderr.String()}
		logger.Error("FFmpeg failed", "error", err, "stderr", strings.ReplaceAll(rerr.Tail(), "\n", " | "))
		return rerr
	}
	return nil
}

func (r *Renderer) upload(ctx context.Context, name, path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	return r.storage.Upload(ctx, "renders/"+name+".mp4", f, "video/mp4")
}

// MeasureDuration resolves src like a clip source and returns how long it
// plays, in seconds.
func (r *Renderer) MeasureDuration(ctx context.Context, src string) (float64, error) {
	if r.prober == nil {
		return 0, fmt.Errorf("no prober configured")
	}
	dir, err := os.MkdirTemp(r.tempDir, "probe-")
	if err != nil {
		return 0, err
	}
	defer os.RemoveAll(dir)

	local, err := r.fetcher.Fetch(ctx, src, filepath.Join(dir, "media"))
	if err != nil {
		return 0, err
	}
	d, err := r.prober.Duration(ctx, local)
	if err != nil {
		return 0, err
	}
	return d.Seconds(), nil
}
