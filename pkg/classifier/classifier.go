// Package classifier detects whether a video is animation, live_action, or
// mixed content, and derives the encoder quality/preset for it (spec.md
// §4.7). Ground: content_analyzer.py:ContentAnalyzer.
package classifier

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/Antheor0/managed-media-compressor/internal/config"
	"github.com/Antheor0/managed-media-compressor/internal/logging"
	"github.com/Antheor0/managed-media-compressor/pkg/probe"
	"github.com/Antheor0/managed-media-compressor/pkg/transcoder"
)

// ContentType is the classification outcome.
type ContentType string

const (
	Animation  ContentType = "animation"
	LiveAction ContentType = "live_action"
	Mixed      ContentType = "mixed"
)

var animationFilenameKeywords = []string{"animation", "animated", "anime", "cartoon", "pixar", "disney"}

var (
	animeWordPattern    = regexp.MustCompile(`(?i)(anime|cartoon|animation)`)
	releasePattern      = regexp.MustCompile(`(?i)\[\s*\d{3,4}p\s*\].*\[(BD|BluRay|Web-DL)`)
	edgeHistogramPattern = regexp.MustCompile(`lavfi\.histogram\.0\.level=(\d+\.\d+)`)
)

// Classifier derives content type and compression settings for a file.
type Classifier struct {
	cfg   *config.Config
	log   *logging.Logger
	probe *probe.Adapter
}

// New constructs a Classifier.
func New(cfg *config.Config, log *logging.Logger, p *probe.Adapter) *Classifier {
	return &Classifier{cfg: cfg, log: log.With("classifier"), probe: p}
}

// DetectContentType classifies filePath, falling back to LiveAction on any
// failure. Ground: content_analyzer.py:detect_content_type.
func (c *Classifier) DetectContentType(ctx context.Context, filePath string) ContentType {
	framesDir := filepath.Join(c.cfg.TempDir, fmt.Sprintf("frames_%d", time.Now().UnixNano()))
	var frames []string
	defer c.cleanupFrames(frames, framesDir)

	if err := os.MkdirAll(framesDir, 0o755); err != nil {
		c.log.Warnf("creating frames dir for %s: %v", filePath, err)
		return LiveAction
	}

	info, err := c.probe.Probe(ctx, filePath)
	if err != nil || info.DurationSeconds <= 0 {
		c.log.Warnf("could not determine duration for %s, assuming live action", filePath)
		return LiveAction
	}

	filename := strings.ToLower(filepath.Base(filePath))
	for _, kw := range animationFilenameKeywords {
		if strings.Contains(filename, kw) {
			c.log.Infof("detected likely animation based on filename: %s", filename)
			return Animation
		}
	}

	frames = c.extractFrames(ctx, filePath, framesDir, info.DurationSeconds)
	if len(frames) < 3 {
		c.log.Warnf("could not extract enough frames for %s, assuming live action", filePath)
		return LiveAction
	}

	contentType := c.analyzeFrames(ctx, frames)

	if contentType == LiveAction {
		if animeWordPattern.MatchString(filename) {
			contentType = Animation
		} else if releasePattern.MatchString(filename) &&
			(strings.Contains(filename, "flac") || strings.Contains(filename, "vorbis")) {
			contentType = Animation
		}
	}

	c.log.Infof("detected content type for %s: %s", filepath.Base(filePath), contentType)
	return contentType
}

func (c *Classifier) extractFrames(ctx context.Context, filePath, framesDir string, duration float64) []string {
	if frames := c.extractSceneFrames(ctx, filePath, framesDir); len(frames) >= 3 {
		if len(frames) > 5 {
			frames = frames[:5]
		}
		c.log.Debugf("extracted %d scene frames", len(frames))
		return frames
	}

	var frames []string
	interval := duration / 6
	for i := 1; i <= 5; i++ {
		timePos := interval * float64(i)
		framePath := filepath.Join(framesDir, fmt.Sprintf("frame_%d.jpg", i))
		runCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		err := exec.CommandContext(runCtx, "ffmpeg", "-ss", fmt.Sprintf("%v", timePos), "-i", filePath,
			"-vframes", "1", "-q:v", "2", framePath, "-y").Run()
		cancel()
		if err != nil {
			c.log.Debugf("error extracting frame at %.2fs: %v", timePos, err)
			continue
		}
		if st, statErr := os.Stat(framePath); statErr == nil && st.Size() > 0 {
			frames = append(frames, framePath)
		}
	}
	return frames
}

func (c *Classifier) extractSceneFrames(ctx context.Context, filePath, framesDir string) []string {
	runCtx, cancel := context.WithTimeout(ctx, 60*time.Second)
	defer cancel()
	pattern := filepath.Join(framesDir, "scene_%03d.jpg")
	_ = exec.CommandContext(runCtx, "ffmpeg", "-i", filePath,
		"-vf", "select='gt(scene,0.3)',showinfo",
		"-vsync", "vfr", "-frame_pts", "1", "-frames:v", "10", "-y", pattern).Run()

	matches, err := filepath.Glob(filepath.Join(framesDir, "scene_*.jpg"))
	if err != nil {
		return nil
	}
	return matches
}

func (c *Classifier) analyzeFrames(ctx context.Context, frames []string) ContentType {
	score := 0
	success := false

	if c.imageMagickAvailable(ctx) {
		s, ok := c.analyzeWithImageMagick(ctx, frames)
		score += s
		success = ok
	}
	if !success {
		s, ok := c.analyzeWithFFmpegEdges(ctx, frames)
		score += s
		success = ok
	}
	if !success {
		s, ok := c.analyzeWithFFmpegColor(ctx, frames)
		score += s
		success = ok
	}

	if success {
		if score >= 2 {
			return Animation
		}
		if score >= 1 {
			return Mixed
		}
	}
	return LiveAction
}

func (c *Classifier) imageMagickAvailable(ctx context.Context) bool {
	runCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	out, err := exec.CommandContext(runCtx, "identify", "--version").CombinedOutput()
	if err != nil {
		return false
	}
	return strings.Contains(string(out), "ImageMagick")
}

func firstN(frames []string, n int) []string {
	if len(frames) > n {
		return frames[:n]
	}
	return frames
}

func (c *Classifier) analyzeWithImageMagick(ctx context.Context, frames []string) (int, bool) {
	score := 0
	success := false
	for _, frame := range firstN(frames, 3) {
		colorCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		colorOut, err := exec.CommandContext(colorCtx, "identify", "-format", "%k", frame).Output()
		cancel()
		if err != nil || strings.TrimSpace(string(colorOut)) == "" {
			continue
		}
		uniqueColors, err := strconv.Atoi(strings.TrimSpace(string(colorOut)))
		if err != nil {
			continue
		}

		edgeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		edgeOut, err := exec.CommandContext(edgeCtx, "convert", frame, "-edge", "1", "-format", "%[mean]", "info:").Output()
		cancel()
		if err != nil || strings.TrimSpace(string(edgeOut)) == "" {
			continue
		}
		edgeValue, err := strconv.ParseFloat(strings.TrimSpace(string(edgeOut)), 64)
		if err != nil {
			continue
		}

		if uniqueColors < 10000 && edgeValue > 0.05 {
			score++
		}
		success = true
	}
	return score, success
}

func (c *Classifier) analyzeWithFFmpegEdges(ctx context.Context, frames []string) (int, bool) {
	score := 0
	success := false
	for _, frame := range firstN(frames, 3) {
		edgeFrame := filepath.Join(filepath.Dir(frame), "edge_"+filepath.Base(frame))
		runCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		_ = exec.CommandContext(runCtx, "ffmpeg", "-i", frame,
			"-filter_complex", "edgedetect=low=0.1:high=0.4", "-y", edgeFrame).Run()
		cancel()

		if _, err := os.Stat(edgeFrame); err != nil {
			continue
		}
		histCtx, cancel2 := context.WithTimeout(ctx, 10*time.Second)
		histOut, _ := exec.CommandContext(histCtx, "ffmpeg", "-i", edgeFrame,
			"-filter_complex", "histogram,metadata=print:file=-", "-f", "null", "-").CombinedOutput()
		cancel2()

		if match := edgeHistogramPattern.FindStringSubmatch(string(histOut)); match != nil {
			if edgePercentage, err := strconv.ParseFloat(match[1], 64); err == nil && edgePercentage > 0.15 {
				score++
			}
		}
		success = true
		os.Remove(edgeFrame)
	}
	return score, success
}

func (c *Classifier) analyzeWithFFmpegColor(ctx context.Context, frames []string) (int, bool) {
	score := 0
	success := false
	for _, frame := range firstN(frames, 3) {
		dimCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		dimOut, err := exec.CommandContext(dimCtx, "ffprobe", "-v", "error",
			"-select_streams", "v:0", "-show_entries", "stream=width,height",
			"-of", "csv=p=0", frame).Output()
		cancel()
		if err != nil || strings.TrimSpace(string(dimOut)) == "" {
			continue
		}
		dims := strings.Split(strings.TrimSpace(string(dimOut)), ",")
		if len(dims) != 2 {
			continue
		}

		statsCtx, cancel2 := context.WithTimeout(ctx, 10*time.Second)
		statsOut, _ := exec.CommandContext(statsCtx, "ffmpeg", "-i", frame,
			"-filter_complex", "signalstats=stat=tout:c=r+g+b", "-f", "null", "-").CombinedOutput()
		cancel2()

		statsText := string(statsOut)
		if strings.Contains(statsText, "Parsed_signalstats") {
			if strings.Contains(statsText, "excessive max values") || strings.Contains(statsText, "low PSNR values") {
				score++
			}
		}
		success = true
	}
	return score, success
}

func (c *Classifier) cleanupFrames(frames []string, framesDir string) {
	for _, f := range frames {
		os.Remove(f)
	}
	os.RemoveAll(framesDir)
}

// Settings bundles the encoder options derived from content classification.
type Settings struct {
	Quality     int
	Preset      string
	ContentType ContentType
}

// CompressionSettings returns the quality/preset pair for filePath,
// skipping classification entirely when content_aware is off. Ground:
// content_analyzer.py:get_compression_settings.
func (c *Classifier) CompressionSettings(ctx context.Context, filePath string) Settings {
	if !c.cfg.Compression.ContentAware {
		return Settings{Quality: 22, Preset: "slow", ContentType: LiveAction}
	}

	contentType := c.DetectContentType(ctx, filePath)
	c.log.Infof("using settings for content type: %s", contentType)

	switch contentType {
	case Animation:
		return Settings{Quality: c.cfg.Compression.AnimationQuality, Preset: "slower", ContentType: contentType}
	case Mixed:
		mixed := (c.cfg.Compression.AnimationQuality + c.cfg.Compression.LiveActionQuality) / 2
		return Settings{Quality: mixed, Preset: "slow", ContentType: contentType}
	default:
		return Settings{Quality: c.cfg.Compression.LiveActionQuality, Preset: "slow", ContentType: LiveAction}
	}
}

// ToTranscoderSettings adapts classifier settings into the transcoder
// package's Settings type.
func (s Settings) ToTranscoderSettings() transcoder.Settings {
	return transcoder.Settings{Quality: s.Quality, Preset: s.Preset, ContentType: string(s.ContentType)}
}
