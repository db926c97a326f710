package transcoder

import (
	"strings"
	"testing"

	"github.com/Antheor0/managed-media-compressor/internal/config"
	"github.com/Antheor0/managed-media-compressor/internal/logging"
)

func newTestAdapter(t *testing.T) *Adapter {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.TempDir = t.TempDir()
	cfg.Compression.EncoderOptions = "--encoder nvenc_h265 --encoder-preset slow --quality 22"
	return New(cfg, logging.New(logging.DefaultConfig()))
}

func TestPrepareOutputSubstitutesQualityAndPreset(t *testing.T) {
	a := newTestAdapter(t)

	tempOutput, opts := a.PrepareOutput("/media/series/show.s01e01.mkv", Settings{Quality: 26, Preset: "medium"})

	if !strings.HasSuffix(tempOutput, "show.s01e01_compressed.mkv") {
		t.Fatalf("unexpected temp output path: %s", tempOutput)
	}
	if !strings.Contains(opts, "--quality 26") {
		t.Fatalf("expected quality substitution in %q", opts)
	}
	if !strings.Contains(opts, "--encoder-preset medium") {
		t.Fatalf("expected preset substitution in %q", opts)
	}
	if !strings.Contains(opts, "--encoder nvenc_h265") {
		t.Fatalf("expected unrelated options preserved in %q", opts)
	}
}

func TestPrepareOutputPreservesExtension(t *testing.T) {
	a := newTestAdapter(t)
	tempOutput, _ := a.PrepareOutput("/media/movies/film.mp4", Settings{Quality: 21, Preset: "slow"})
	if !strings.HasSuffix(tempOutput, ".mp4") {
		t.Fatalf("expected .mp4 extension preserved, got %s", tempOutput)
	}
}

func TestHandleLineParsesProgressAndETA(t *testing.T) {
	a := newTestAdapter(t)
	var got Progress
	sink := progressCaptureSink{onProgress: func(p Progress) { got = p }}

	a.handleLine("Encoding: task 1 of 1, 42.50 %, ETA 01h02m03s", sink)

	if got.Percent != 42.50 {
		t.Fatalf("expected percent 42.50, got %v", got.Percent)
	}
	wantETA := 1*3600 + 2*60 + 3
	if got.ETASeconds != wantETA {
		t.Fatalf("expected ETA %d seconds, got %d", wantETA, got.ETASeconds)
	}
}

func TestHandleLineIgnoresNonEncodingLines(t *testing.T) {
	a := newTestAdapter(t)
	called := false
	sink := progressCaptureSink{onProgress: func(Progress) { called = true }}

	a.handleLine("libhb: scan thread found 1 valid title", sink)

	if called {
		t.Fatalf("expected no progress callback for a non-encoding line")
	}
}

type progressCaptureSink struct {
	onProgress func(Progress)
}

func (s progressCaptureSink) OnProgress(p Progress) { s.onProgress(p) }
