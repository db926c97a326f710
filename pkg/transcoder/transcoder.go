// Package transcoder wraps the external encoder (HandBrakeCLI by default)
// as a child process, parsing its progress output as it runs (spec.md
// §4.5). Ground: compression_engine.py's CompressionEngine.
package transcoder

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/Antheor0/managed-media-compressor/internal/config"
	"github.com/Antheor0/managed-media-compressor/internal/logging"
)

// largeFileThreshold is the size above which HandBrakeCLI gets the
// Blu-ray-oriented flags, ground: compression_engine.py:run_handbrake
// (`os.path.getsize(file_path) > 10 * 1024 * 1024 * 1024`).
const largeFileThreshold = 10 * 1024 * 1024 * 1024

var (
	progressPattern = regexp.MustCompile(`(\d+\.\d+) %`)
	etaPattern      = regexp.MustCompile(`ETA\s+(\d+)h(\d+)m(\d+)s`)
)

// Settings is the per-job encode configuration resolved from a file's
// content classification (spec.md §4.5).
type Settings struct {
	Quality     int
	Preset      string
	ContentType string
}

// Progress is delivered to a StatusSink as encoding advances.
type Progress struct {
	Percent    float64
	ETASeconds int
}

// StatusSink receives progress callbacks during an encode. Replaces the
// Python original's paused_check/running_check/status_callback trio with a
// single capability object plus ctx cancellation, per spec.md's REDESIGN
// FLAG against closures-as-control-flow.
type StatusSink interface {
	OnProgress(Progress)
}

// Adapter wraps the external encoder binary.
type Adapter struct {
	cfg *config.Config
	log *logging.Logger
}

// New constructs an Adapter from cfg.
func New(cfg *config.Config, log *logging.Logger) *Adapter {
	return &Adapter{cfg: cfg, log: log.With("transcoder")}
}

// PrepareOutput computes the temp output path and the NVENC option string
// with quality/preset substituted in, ground:
// compression_engine.py:prepare_compression.
func (a *Adapter) PrepareOutput(filePath string, settings Settings) (string, string) {
	base := filepath.Base(filePath)
	ext := filepath.Ext(base)
	stem := strings.TrimSuffix(base, ext)
	tempOutput := filepath.Join(a.cfg.TempDir, fmt.Sprintf("%s_compressed%s", stem, ext))

	qualityRe := regexp.MustCompile(`--quality\s+\d+`)
	presetRe := regexp.MustCompile(`--encoder-preset\s+\w+`)

	opts := a.cfg.Compression.EncoderOptions
	opts = qualityRe.ReplaceAllString(opts, fmt.Sprintf("--quality %d", settings.Quality))
	opts = presetRe.ReplaceAllString(opts, fmt.Sprintf("--encoder-preset %s", settings.Preset))

	return tempOutput, opts
}

// Encode runs HandBrakeCLI against filePath, writing to tempOutput, and
// streams progress to sink (which may be nil). Cancelling ctx terminates
// the child process and returns ctx.Err(). Ground:
// compression_engine.py:run_handbrake.
func (a *Adapter) Encode(ctx context.Context, filePath, tempOutput, nvencOptions string, settings Settings, sink StatusSink) error {
	args := []string{"-i", filePath, "-o", tempOutput}
	args = append(args, strings.Fields(nvencOptions)...)
	args = append(args, strings.Fields(a.cfg.Compression.AudioOptions)...)
	args = append(args, strings.Fields(a.cfg.Compression.SubtitleOptions)...)

	if info, err := os.Stat(filePath); err == nil && info.Size() > largeFileThreshold {
		a.log.Infof("large file detected: %s, adding optimized processing options", filePath)
		args = append(args, "--no-two-pass", "--no-fast-decode")
	}

	handbrakePath := a.cfg.Compression.EncoderPath
	if handbrakePath == "" {
		handbrakePath = config.DefaultConfig().Compression.EncoderPath
	}

	a.log.Infof("starting compression of %s (content type: %s)", filePath, settings.ContentType)
	a.log.Debugf("handbrake command: %s %s", handbrakePath, strings.Join(args, " "))

	cmd := exec.CommandContext(ctx, handbrakePath, args...)
	if err := a.runAndScan(cmd, sink); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return err
	}
	return nil
}

// runAndScan starts cmd with merged stdout/stderr piped through a line
// scanner so progress is observed as it's produced, then waits for
// completion. Ground: compression_engine.py:run_handbrake's
// `iter(process.stdout.readline, '')` loop over a STDOUT-merged pipe.
func (a *Adapter) runAndScan(cmd *exec.Cmd, sink StatusSink) error {
	pr, pw := io.Pipe()
	cmd.Stdout = pw
	cmd.Stderr = pw

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start encoder: %w", err)
	}

	scanDone := make(chan struct{})
	go func() {
		defer close(scanDone)
		scanner := bufio.NewScanner(pr)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			a.handleLine(scanner.Text(), sink)
		}
	}()

	waitErr := cmd.Wait()
	pw.Close()
	<-scanDone

	if waitErr != nil {
		if cmd.ProcessState != nil && !cmd.ProcessState.Success() {
			return fmt.Errorf("encoder exited with error: %w", waitErr)
		}
		return fmt.Errorf("encoder error: %w", waitErr)
	}
	return nil
}

func (a *Adapter) handleLine(line string, sink StatusSink) {
	if sink == nil {
		return
	}
	if !strings.Contains(line, "Encoding") || !strings.Contains(line, "%") {
		return
	}
	match := progressPattern.FindStringSubmatch(line)
	if match == nil {
		return
	}
	progress, err := strconv.ParseFloat(match[1], 64)
	if err != nil {
		a.log.Debugf("parsing handbrake progress: %v", err)
		return
	}

	p := Progress{Percent: progress}
	if eta := etaPattern.FindStringSubmatch(line); eta != nil {
		h, _ := strconv.Atoi(eta[1])
		m, _ := strconv.Atoi(eta[2])
		s, _ := strconv.Atoi(eta[3])
		p.ETASeconds = h*3600 + m*60 + s
	}
	sink.OnProgress(p)
}

// CheckDependencies verifies HandBrakeCLI, ffmpeg, and ffprobe are all
// invocable, ground: compression_engine.py:check_dependencies.
func (a *Adapter) CheckDependencies(ctx context.Context) []string {
	handbrakePath := a.cfg.Compression.EncoderPath
	if handbrakePath == "" {
		handbrakePath = config.DefaultConfig().Compression.EncoderPath
	}
	deps := []struct {
		name string
		cmd  string
		args []string
	}{
		{"HandBrakeCLI", handbrakePath, []string{"--version"}},
		{"ffmpeg", "ffmpeg", []string{"-version"}},
		{"ffprobe", "ffprobe", []string{"-version"}},
	}

	var missing []string
	for _, d := range deps {
		if err := exec.CommandContext(ctx, d.cmd, d.args...).Run(); err != nil {
			missing = append(missing, d.name)
			a.log.Errorf("dependency %s not available: %v", d.name, err)
		} else {
			a.log.Infof("dependency %s is available", d.name)
		}
	}
	return missing
}
