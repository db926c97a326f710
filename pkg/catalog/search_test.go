package catalog

import "testing"

func TestSearchEventsFindsLoggedEvent(t *testing.T) {
	cat := openTestCatalog(t)

	if err := cat.LogEvent("scan_complete", "found 42 new files under /media/movies", "info"); err != nil {
		t.Fatalf("LogEvent: %v", err)
	}

	results, err := cat.SearchEvents("movies", 10)
	if err != nil {
		t.Fatalf("SearchEvents: %v", err)
	}
	if len(results) == 0 {
		t.Fatalf("expected at least one hit for a term present in the logged event")
	}
	found := false
	for _, r := range results {
		if r.Kind == "event" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected a result tagged kind=event, got %+v", results)
	}
}

func TestSearchEventsFindsFileErrorMessage(t *testing.T) {
	cat := openTestCatalog(t)

	if err := cat.AddNewFile(NewFileInfo{FilePath: "/media/tv/episode.mkv", Size: 500}); err != nil {
		t.Fatalf("AddNewFile: %v", err)
	}
	errMsg := "ffmpeg exited with a nonzero status while transcoding"
	if err := cat.UpdateFileStatus("/media/tv/episode.mkv", StatusError, FileRecordUpdate{
		Status:       statusPtr(StatusError),
		ErrorMessage: &errMsg,
	}); err != nil {
		t.Fatalf("UpdateFileStatus: %v", err)
	}

	results, err := cat.SearchEvents("ffmpeg", 10)
	if err != nil {
		t.Fatalf("SearchEvents: %v", err)
	}
	if len(results) == 0 {
		t.Fatalf("expected a hit on the indexed error message")
	}
	if results[0].FilePath != "/media/tv/episode.mkv" {
		t.Errorf("expected hit file_path to be the errored file, got %q", results[0].FilePath)
	}
}

func TestSearchEventsNoMatchesReturnsEmptyNotError(t *testing.T) {
	cat := openTestCatalog(t)
	if err := cat.LogEvent("scan_complete", "nothing interesting happened", "info"); err != nil {
		t.Fatalf("LogEvent: %v", err)
	}

	results, err := cat.SearchEvents("zzz_no_such_term_zzz", 10)
	if err != nil {
		t.Fatalf("SearchEvents: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("expected no hits for an absent term, got %d", len(results))
	}
}

func statusPtr(s Status) *Status { return &s }
