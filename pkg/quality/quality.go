// Package quality validates a compressed file against its original using
// VMAF, SSIM, or PSNR as computed by ffmpeg, with a fixed method fallback
// order (spec.md §4.6). Ground: quality_validator.py:QualityValidator.
package quality

import (
	"context"
	"encoding/json"
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
)

// Result is the outcome of a single quality validation pass.
type Result struct {
	Score      float64
	Acceptable bool
	Method     string
	Note       string
}

// disabledResult mirrors quality_validator.py's early return when quality
// validation is turned off in configuration.
var disabledResult = Result{Score: 100, Acceptable: true, Method: "none"}

// fallbackResult is returned when every method in the fallback chain fails
// to produce a parseable score, ground: validate_compression's final
// `return {"score": 85, ...}`.
var fallbackResult = Result{Score: 85, Acceptable: true, Method: "fallback", Note: "all validation methods failed, using fallback value"}

var (
	ssimPattern = regexp.MustCompile(`All:([\d.]+)`)
	psnrPattern = regexp.MustCompile(`average:([\d.]+)`)
)

// Validator runs ffmpeg-based quality comparisons between an original and a
// compressed file.
type Validator struct {
	cfg   *config.Config
	log   *logging.Logger
	probe *probe.Adapter
}

// New constructs a Validator.
func New(cfg *config.Config, log *logging.Logger, p *probe.Adapter) *Validator {
	return &Validator{cfg: cfg, log: log.With("quality"), probe: p}
}

// Validate compares originalPath against compressedPath using the
// configured method, falling back through the remaining two methods (and
// finally a fixed score) if each attempt fails to produce a usable result.
// Ground: quality_validator.py:validate_compression.
func (v *Validator) Validate(ctx context.Context, originalPath, compressedPath string) Result {
	if !v.cfg.QualityValidation.Enabled {
		return disabledResult
	}

	threshold := v.cfg.QualityValidation.Threshold
	sampleDuration := float64(v.cfg.QualityValidation.SampleDuration)

	originalInfo, err := v.probe.Probe(ctx, originalPath)
	if err != nil {
		v.log.Warnf("could not get video info for comparison, assuming acceptable quality: %v", err)
		return Result{Score: 100, Acceptable: true, Method: "none", Note: "video info error"}
	}
	compressedInfo, err := v.probe.Probe(ctx, compressedPath)
	if err != nil {
		v.log.Warnf("could not get video info for comparison, assuming acceptable quality: %v", err)
		return Result{Score: 100, Acceptable: true, Method: "none", Note: "video info error"}
	}

	if originalInfo.DurationSeconds <= 0 || compressedInfo.DurationSeconds <= 0 {
		v.log.Warnf("could not determine duration for comparison, assuming acceptable quality")
		return Result{Score: 100, Acceptable: true, Method: "none", Note: "duration error"}
	}

	safeDuration := originalInfo.DurationSeconds
	if compressedInfo.DurationSeconds < safeDuration {
		safeDuration = compressedInfo.DurationSeconds
	}
	safeStart := 30.0
	if tenPercent := safeDuration * 0.1; tenPercent < safeStart {
		safeStart = tenPercent
	}

	if safeStart+sampleDuration > safeDuration {
		adjusted := safeDuration - safeStart
		if adjusted < 10 {
			adjusted = 10
		}
		v.log.Warnf("video too short for full sample, reducing sample duration to %.0fs", adjusted)
		sampleDuration = adjusted
	}

	primary := strings.ToLower(v.cfg.QualityValidation.Method)
	methods := []string{primary}
	for _, m := range []string{"vmaf", "ssim", "psnr"} {
		if m != primary {
			methods = append(methods, m)
		}
	}

	for _, method := range methods {
		if result, ok := v.tryMethod(ctx, method, originalPath, compressedPath, safeStart, sampleDuration, threshold); ok {
			return result
		}
		v.log.Warnf("quality validation with %s failed, trying next method", method)
	}

	v.log.Errorf("all quality validation methods failed for %s", originalPath)
	return fallbackResult
}

func (v *Validator) tryMethod(ctx context.Context, method, originalPath, compressedPath string, safeStart, sampleDuration, threshold float64) (Result, bool) {
	if err := os.MkdirAll(v.cfg.TempDir, 0o755); err != nil {
		v.log.Warnf("creating temp dir for quality validation: %v", err)
		return Result{}, false
	}
	resultJSON := filepath.Join(v.cfg.TempDir, fmt.Sprintf("quality_%s_%d.json", method, time.Now().UnixNano()))
	defer os.Remove(resultJSON)

	filter := buildFilter(method, resultJSON)
	args := []string{
		"-y", "-v", "error",
		"-ss", fmt.Sprintf("%v", safeStart), "-t", fmt.Sprintf("%v", sampleDuration),
		"-i", originalPath,
		"-ss", fmt.Sprintf("%v", safeStart), "-t", fmt.Sprintf("%v", sampleDuration),
		"-i", compressedPath,
		"-filter_complex", filter,
		"-f", "null", "-",
	}

	v.log.Infof("running quality validation using %s", method)
	runCtx, cancel := context.WithTimeout(ctx, 300*time.Second)
	defer cancel()
	if err := exec.CommandContext(runCtx, "ffmpeg", args...).Run(); err != nil {
		v.log.Debugf("ffmpeg %s validation exited with error: %v", method, err)
	}

	info, err := os.Stat(resultJSON)
	if err != nil || info.Size() == 0 {
		return Result{}, false
	}
	content, err := os.ReadFile(resultJSON)
	if err != nil {
		return Result{}, false
	}

	switch method {
	case "vmaf":
		return parseVMAF(content, threshold)
	case "ssim":
		return parseSSIM(string(content), threshold)
	default:
		return parsePSNR(string(content))
	}
}

func buildFilter(method, resultJSON string) string {
	switch method {
	case "vmaf":
		return fmt.Sprintf("libvmaf=log_fmt=json:log_path=%s:model=version=vmaf_v0.6.1:n_threads=4", resultJSON)
	case "ssim":
		return "ssim=stats_file=" + resultJSON
	default:
		return "psnr=stats_file=" + resultJSON
	}
}

type vmafDoc struct {
	PooledMetrics struct {
		VMAF struct {
			Mean float64 `json:"mean"`
		} `json:"vmaf"`
	} `json:"pooled_metrics"`
}

func parseVMAF(content []byte, threshold float64) (Result, bool) {
	if !strings.Contains(string(content), "pooled_metrics") {
		return Result{}, false
	}
	var doc vmafDoc
	if err := json.Unmarshal(content, &doc); err != nil {
		return Result{}, false
	}
	score := doc.PooledMetrics.VMAF.Mean
	return Result{Score: score, Acceptable: score >= threshold, Method: "vmaf"}, true
}

func parseSSIM(content string, threshold float64) (Result, bool) {
	match := ssimPattern.FindStringSubmatch(content)
	if match == nil {
		return Result{}, false
	}
	raw, err := strconv.ParseFloat(match[1], 64)
	if err != nil {
		return Result{}, false
	}
	score := raw * 100
	acceptableThreshold := threshold * 0.8
	if acceptableThreshold < 80 {
		acceptableThreshold = 80
	}
	return Result{Score: score, Acceptable: score >= acceptableThreshold, Method: "ssim"}, true
}

func parsePSNR(content string) (Result, bool) {
	match := psnrPattern.FindStringSubmatch(content)
	if match == nil {
		return Result{}, false
	}
	psnrValue, err := strconv.ParseFloat(match[1], 64)
	if err != nil {
		return Result{}, false
	}
	score := 100.0
	if psnrValue < 50 {
		score = psnrValue * 2
		if score > 100 {
			score = 100
		}
	}
	return Result{Score: score, Acceptable: psnrValue >= 30, Method: "psnr"}, true
}
