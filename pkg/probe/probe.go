// Package probe wraps ffprobe to read container/stream metadata, with the
// fallback duration queries spec.md §4.4 describes (ground:
// quality_validator.py's _get_video_info/_try_alternate_duration_methods).
package probe

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/Antheor0/managed-media-compressor/internal/logging"
)

// DefaultPath is the probe binary name, ground: constants.py's DEFAULT_CONFIG
// (ffprobe alongside HandBrakeCLI and ffmpeg).
const DefaultPath = "ffprobe"

// VideoStream describes one decoded video stream.
type VideoStream struct {
	Width   int
	Height  int
	Codec   string
	BitRate int64
	FPS     float64
}

// AudioStream describes one decoded audio stream.
type AudioStream struct {
	Codec    string
	Channels int
	Language string
}

// SubtitleStream describes one decoded subtitle stream.
type SubtitleStream struct {
	Codec    string
	Language string
}

// MediaInfo is the structured probe result (spec.md §4.4). Fields default
// to zero when missing; only an unreachable probe binary produces ErrProbeUnavailable.
type MediaInfo struct {
	FormatName      string
	HasVideo        bool
	HasAudio        bool
	DurationSeconds float64
	BitRate         int64
	VideoStreams    []VideoStream
	AudioStreams    []AudioStream
	SubtitleStreams []SubtitleStream
}

// ErrProbeUnavailable is returned only when the probe binary itself cannot
// be invoked (not found, not executable); all other failures return a
// best-effort partial MediaInfo instead (spec.md §4.4).
type ErrProbeUnavailable struct{ Err error }

func (e *ErrProbeUnavailable) Error() string { return fmt.Sprintf("probe binary unavailable: %v", e.Err) }
func (e *ErrProbeUnavailable) Unwrap() error  { return e.Err }

// Adapter wraps the external probe tool.
type Adapter struct {
	Path string
	log  *logging.Logger
}

// New constructs an Adapter. An empty path defaults to DefaultPath.
func New(path string, log *logging.Logger) *Adapter {
	if path == "" {
		path = DefaultPath
	}
	return &Adapter{Path: path, log: log.With("probe")}
}

type ffprobeFormat struct {
	FormatName string `json:"format_name"`
	Duration   string `json:"duration"`
	BitRate    string `json:"bit_rate"`
}

type ffprobeStream struct {
	CodecType    string            `json:"codec_type"`
	CodecName    string            `json:"codec_name"`
	Width        int               `json:"width"`
	Height       int               `json:"height"`
	BitRate      string            `json:"bit_rate"`
	AvgFrameRate string            `json:"avg_frame_rate"`
	Channels     int               `json:"channels"`
	Tags         map[string]string `json:"tags"`
}

type ffprobeOutput struct {
	Format  ffprobeFormat   `json:"format"`
	Streams []ffprobeStream `json:"streams"`
}

// Probe runs ffprobe against path and returns the decoded MediaInfo. Ground:
// quality_validator.py:_get_video_info.
func (a *Adapter) Probe(ctx context.Context, path string) (*MediaInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, 60*time.Second)
	defer cancel()

	cmd := exec.CommandContext(ctx, a.Path, "-v", "quiet", "-print_format", "json",
		"-show_format", "-show_streams", path)
	var out bytes.Buffer
	cmd.Stdout = &out
	err := cmd.Run()

	info := &MediaInfo{}
	if err != nil {
		if _, ok := err.(*exec.Error); ok {
			return info, &ErrProbeUnavailable{Err: err}
		}
		a.log.Warnf("ffprobe failed for %s: %v", path, err)
		return info, nil
	}
	if out.Len() == 0 {
		a.log.Warnf("ffprobe produced no output for %s", path)
		return info, nil
	}

	var decoded ffprobeOutput
	if err := json.Unmarshal(out.Bytes(), &decoded); err != nil {
		a.log.Warnf("could not parse ffprobe JSON output for %s: %v", path, err)
		return info, nil
	}

	info.FormatName = decoded.Format.FormatName
	if decoded.Format.Duration != "" {
		if d, err := strconv.ParseFloat(decoded.Format.Duration, 64); err == nil {
			info.DurationSeconds = d
		}
	}
	if decoded.Format.BitRate != "" {
		if b, err := strconv.ParseInt(decoded.Format.BitRate, 10, 64); err == nil {
			info.BitRate = b
		}
	}

	for _, s := range decoded.Streams {
		switch s.CodecType {
		case "video":
			info.HasVideo = true
			info.VideoStreams = append(info.VideoStreams, VideoStream{
				Width:   s.Width,
				Height:  s.Height,
				Codec:   s.CodecName,
				BitRate: parseInt64(s.BitRate),
				FPS:     parseFrameRate(s.AvgFrameRate),
			})
		case "audio":
			info.HasAudio = true
			info.AudioStreams = append(info.AudioStreams, AudioStream{
				Codec:    s.CodecName,
				Channels: s.Channels,
				Language: s.Tags["language"],
			})
		case "subtitle":
			info.SubtitleStreams = append(info.SubtitleStreams, SubtitleStream{
				Codec:    s.CodecName,
				Language: s.Tags["language"],
			})
		}
	}

	// Container duration is missing but a video stream is present: retry
	// with a video-stream-only duration query, then a container-only query.
	// Ground: quality_validator.py:_try_alternate_duration_methods.
	if info.DurationSeconds == 0 && info.HasVideo {
		a.recoverDuration(ctx, path, info)
	}

	return info, nil
}

func (a *Adapter) recoverDuration(ctx context.Context, path string, info *MediaInfo) {
	if d, ok := a.queryDuration(ctx, 10*time.Second,
		"-select_streams", "v:0", "-show_entries", "stream=duration",
		"-of", "default=noprint_wrappers=1:nokey=1", path); ok {
		info.DurationSeconds = d
		return
	}
	if d, ok := a.queryDuration(ctx, 10*time.Second,
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1", path); ok {
		info.DurationSeconds = d
	}
}

func (a *Adapter) queryDuration(ctx context.Context, timeout time.Duration, args ...string) (float64, bool) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	fullArgs := append([]string{"-v", "error"}, args...)
	cmd := exec.CommandContext(ctx, a.Path, fullArgs...)
	var out bytes.Buffer
	cmd.Stdout = &out
	if err := cmd.Run(); err != nil {
		a.log.Debugf("alternate duration query failed: %v", err)
		return 0, false
	}
	text := strings.TrimSpace(out.String())
	if text == "" {
		return 0, false
	}
	d, err := strconv.ParseFloat(text, 64)
	if err != nil {
		return 0, false
	}
	return d, true
}

func parseInt64(s string) int64 {
	v, _ := strconv.ParseInt(s, 10, 64)
	return v
}

func parseFrameRate(rate string) float64 {
	if rate == "" {
		return 0
	}
	parts := strings.SplitN(rate, "/", 2)
	if len(parts) != 2 {
		v, _ := strconv.ParseFloat(rate, 64)
		return v
	}
	num, err1 := strconv.ParseFloat(parts[0], 64)
	denom, err2 := strconv.ParseFloat(parts[1], 64)
	if err1 != nil || err2 != nil || denom == 0 {
		return 0
	}
	return num / denom
}

// VerifyIntegrity runs a best-effort integrity check: format readable and at
// least one video stream detected. When strict is true, an inconclusive
// probe (unavailable binary, empty format name) fails the check instead of
// passing — resolves spec.md §9's strict_validation Open Question.
func (a *Adapter) VerifyIntegrity(ctx context.Context, path string, strict bool) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, 60*time.Second)
	defer cancel()
	info, err := a.Probe(ctx, path)
	if err != nil {
		if strict {
			return false, err
		}
		return true, nil
	}
	if info.FormatName == "" {
		return !strict, nil
	}
	return info.HasVideo, nil
}

// CheckDependencies runs `ffprobe -version` and reports whether it is
// invocable (spec.md §4.10's --check-deps dependency matrix).
func (a *Adapter) CheckDependencies(ctx context.Context) []string {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := exec.CommandContext(ctx, a.Path, "-version").Run(); err != nil {
		return []string{a.Path}
	}
	return nil
}
