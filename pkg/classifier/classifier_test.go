package classifier

import (
	"context"
	"testing"

	"github.com/Antheor0/managed-media-compressor/internal/config"
	"github.com/Antheor0/managed-media-compressor/internal/logging"
)

func newTestClassifier(t *testing.T) *Classifier {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.TempDir = t.TempDir()
	return New(cfg, logging.New(logging.DefaultConfig()), nil)
}

func TestCompressionSettingsContentAwareDisabled(t *testing.T) {
	c := newTestClassifier(t)
	c.cfg.Compression.ContentAware = false

	settings := c.CompressionSettings(context.Background(), "/media/movies/anything.mkv")

	if settings.Quality != 22 || settings.Preset != "slow" || settings.ContentType != LiveAction {
		t.Fatalf("expected fixed default settings, got %+v", settings)
	}
}

func TestToTranscoderSettingsCarriesFields(t *testing.T) {
	s := Settings{Quality: 26, Preset: "slower", ContentType: Animation}
	ts := s.ToTranscoderSettings()

	if ts.Quality != 26 || ts.Preset != "slower" || ts.ContentType != string(Animation) {
		t.Fatalf("expected fields carried verbatim, got %+v", ts)
	}
}

func TestAnimeWordPatternMatchesFilenameHints(t *testing.T) {
	cases := map[string]bool{
		"my.anime.show.s01e01.mkv":    true,
		"classic.cartoon.1999.mkv":    true,
		"live.action.drama.s02e03.mkv": false,
	}
	for name, want := range cases {
		got := animeWordPattern.MatchString(name)
		if got != want {
			t.Errorf("animeWordPattern.MatchString(%q) = %v, want %v", name, got, want)
		}
	}
}

func TestReleasePatternMatchesBluRayWebDLTags(t *testing.T) {
	if !releasePattern.MatchString("Show.S01E01.[1080p].[BluRay]") {
		t.Fatalf("expected release pattern to match a bracketed resolution + BluRay tag")
	}
	if releasePattern.MatchString("Show.S01E01.1080p.BluRay") {
		t.Fatalf("expected release pattern to require bracketed tags")
	}
}

func TestAnimationFilenameKeywordsCoverSpecList(t *testing.T) {
	want := []string{"animation", "animated", "anime", "cartoon", "pixar", "disney"}
	if len(animationFilenameKeywords) != len(want) {
		t.Fatalf("expected %d filename keywords, got %d", len(want), len(animationFilenameKeywords))
	}
	for _, kw := range want {
		found := false
		for _, have := range animationFilenameKeywords {
			if have == kw {
				found = true
				break
			}
		}
		if !found {
			t.Errorf("expected keyword %q in animationFilenameKeywords", kw)
		}
	}
}
