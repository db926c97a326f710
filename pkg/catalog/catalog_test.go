package catalog

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Antheor0/managed-media-compressor/internal/logging"
)

func openTestCatalog(t *testing.T) *Catalog {
	t.Helper()
	dir := t.TempDir()
	cat, err := Open(Options{
		Path:       filepath.Join(dir, "catalog.db"),
		BackupPath: filepath.Join(dir, "catalog.db.backup"),
		AutoRepair: true,
		Logger:     logging.New(&logging.Config{Level: logging.ErrorLevel, Output: discardWriter{}}),
	})
	if err != nil {
		t.Fatalf("opening test catalog: %v", err)
	}
	t.Cleanup(func() { cat.Close() })
	return cat
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }

func int64Ptr(v int64) *int64 { return &v }

func TestAddNewFileThenGetFileStatus(t *testing.T) {
	cat := openTestCatalog(t)

	if err := cat.AddNewFile(NewFileInfo{
		FilePath: "/media/movies/a.mkv",
		Size:     1000,
		Checksum: "abc123",
		Status:   StatusNew,
	}); err != nil {
		t.Fatalf("AddNewFile: %v", err)
	}

	rec, err := cat.GetFileStatus("/media/movies/a.mkv")
	if err != nil {
		t.Fatalf("GetFileStatus: %v", err)
	}
	if rec.Status != StatusNew {
		t.Fatalf("expected status new, got %s", rec.Status)
	}
	if rec.OriginalSize != 1000 {
		t.Fatalf("expected size 1000, got %d", rec.OriginalSize)
	}
	if rec.Checksum != "abc123" {
		t.Fatalf("expected checksum abc123, got %s", rec.Checksum)
	}
	if rec.FileName != "a.mkv" {
		t.Fatalf("expected file_name a.mkv, got %s", rec.FileName)
	}
}

func TestGetFileStatusNotFound(t *testing.T) {
	cat := openTestCatalog(t)
	if _, err := cat.GetFileStatus("/does/not/exist.mkv"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestAddNewFileIsIdempotent(t *testing.T) {
	cat := openTestCatalog(t)
	path := "/media/movies/b.mkv"

	if err := cat.AddNewFile(NewFileInfo{FilePath: path, Size: 500, Checksum: "v1", Status: StatusNew}); err != nil {
		t.Fatalf("first AddNewFile: %v", err)
	}
	if err := cat.AddNewFile(NewFileInfo{FilePath: path, Size: 500, Checksum: "v2", Status: StatusNew}); err != nil {
		t.Fatalf("second AddNewFile: %v", err)
	}

	rec, err := cat.GetFileStatus(path)
	if err != nil {
		t.Fatalf("GetFileStatus: %v", err)
	}
	if rec.Checksum != "v2" {
		t.Fatalf("expected duplicate insert to fall through to update, checksum=%s", rec.Checksum)
	}
}

func TestUpdateFileStatusPartialUpdate(t *testing.T) {
	cat := openTestCatalog(t)
	path := "/media/movies/c.mkv"
	if err := cat.AddNewFile(NewFileInfo{FilePath: path, Size: 2000, Checksum: "x", Status: StatusPending}); err != nil {
		t.Fatalf("AddNewFile: %v", err)
	}

	priority := 5
	if err := cat.UpdateFileStatus(path, StatusPending, FileRecordUpdate{Priority: &priority}); err != nil {
		t.Fatalf("UpdateFileStatus: %v", err)
	}

	rec, err := cat.GetFileStatus(path)
	if err != nil {
		t.Fatalf("GetFileStatus: %v", err)
	}
	if rec.Priority != 5 {
		t.Fatalf("expected priority 5, got %d", rec.Priority)
	}
	if rec.Status != StatusPending {
		t.Fatalf("expected status unchanged pending, got %s", rec.Status)
	}
}

func TestUpdateFileStatusIsIdempotentWhenRepeated(t *testing.T) {
	cat := openTestCatalog(t)
	path := "/media/movies/d.mkv"
	if err := cat.AddNewFile(NewFileInfo{FilePath: path, Size: 2000, Checksum: "x", Status: StatusPending}); err != nil {
		t.Fatalf("AddNewFile: %v", err)
	}

	size := int64(900)
	update := FileRecordUpdate{CompressedSize: &size}
	if err := cat.UpdateFileStatus(path, StatusCompleted, update); err != nil {
		t.Fatalf("first UpdateFileStatus: %v", err)
	}
	first, err := cat.GetFileStatus(path)
	if err != nil {
		t.Fatalf("GetFileStatus: %v", err)
	}

	if err := cat.UpdateFileStatus(path, StatusCompleted, update); err != nil {
		t.Fatalf("second UpdateFileStatus: %v", err)
	}
	second, err := cat.GetFileStatus(path)
	if err != nil {
		t.Fatalf("GetFileStatus: %v", err)
	}

	if first.CompressedSize != second.CompressedSize || first.Status != second.Status {
		t.Fatalf("repeated identical update changed the record: %+v vs %+v", first, second)
	}
}

func TestCompressionCountIncrementsRatherThanOverwrites(t *testing.T) {
	cat := openTestCatalog(t)
	path := "/media/movies/e.mkv"
	if err := cat.AddNewFile(NewFileInfo{FilePath: path, Size: 2000, Checksum: "x", Status: StatusPending}); err != nil {
		t.Fatalf("AddNewFile: %v", err)
	}

	if err := cat.UpdateFileStatus(path, StatusCompleted, FileRecordUpdate{IncrementCompressionCount: true}); err != nil {
		t.Fatalf("first increment: %v", err)
	}
	if err := cat.UpdateFileStatus(path, StatusCompleted, FileRecordUpdate{IncrementCompressionCount: true}); err != nil {
		t.Fatalf("second increment: %v", err)
	}

	rec, err := cat.GetFileStatus(path)
	if err != nil {
		t.Fatalf("GetFileStatus: %v", err)
	}
	if rec.CompressionCount != 2 {
		t.Fatalf("expected compression_count 2 (monotonic increment), got %d", rec.CompressionCount)
	}
}

func TestGetFilesForCompressionOrdering(t *testing.T) {
	cat := openTestCatalog(t)

	if err := cat.AddNewFile(NewFileInfo{FilePath: "/a", Size: 100, Status: StatusPending}); err != nil {
		t.Fatalf("AddNewFile /a: %v", err)
	}
	if err := cat.AddNewFile(NewFileInfo{FilePath: "/b", Size: 300, Status: StatusPending}); err != nil {
		t.Fatalf("AddNewFile /b: %v", err)
	}
	if err := cat.AddNewFile(NewFileInfo{FilePath: "/c", Size: 200, Status: StatusPending}); err != nil {
		t.Fatalf("AddNewFile /c: %v", err)
	}

	highPriority := 10
	if err := cat.UpdateFileStatus("/a", StatusPending, FileRecordUpdate{Priority: &highPriority}); err != nil {
		t.Fatalf("UpdateFileStatus: %v", err)
	}

	files, err := cat.GetFilesForCompression(10)
	if err != nil {
		t.Fatalf("GetFilesForCompression: %v", err)
	}
	if len(files) != 3 {
		t.Fatalf("expected 3 pending files, got %d", len(files))
	}

	// Higher priority sorts first regardless of size.
	if files[0].FilePath != "/a" {
		t.Fatalf("expected /a (priority 10) first, got %s", files[0].FilePath)
	}
	// Among equal priority (0), larger original_size sorts first.
	if files[1].FilePath != "/b" || files[2].FilePath != "/c" {
		t.Fatalf("expected /b then /c by descending size, got %s then %s", files[1].FilePath, files[2].FilePath)
	}
}

func TestGetFilesForCompressionOnlyReturnsPending(t *testing.T) {
	cat := openTestCatalog(t)
	if err := cat.AddNewFile(NewFileInfo{FilePath: "/done", Size: 100, Status: StatusCompleted}); err != nil {
		t.Fatalf("AddNewFile: %v", err)
	}
	if err := cat.AddNewFile(NewFileInfo{FilePath: "/pending", Size: 100, Status: StatusPending}); err != nil {
		t.Fatalf("AddNewFile: %v", err)
	}

	files, err := cat.GetFilesForCompression(10)
	if err != nil {
		t.Fatalf("GetFilesForCompression: %v", err)
	}
	if len(files) != 1 || files[0].FilePath != "/pending" {
		t.Fatalf("expected only /pending, got %+v", files)
	}
}

func TestBulkUpdateSingleTransaction(t *testing.T) {
	cat := openTestCatalog(t)
	if err := cat.AddNewFile(NewFileInfo{FilePath: "/a", Size: 100, Status: StatusNew}); err != nil {
		t.Fatalf("AddNewFile /a: %v", err)
	}
	if err := cat.AddNewFile(NewFileInfo{FilePath: "/b", Size: 100, Status: StatusNew}); err != nil {
		t.Fatalf("AddNewFile /b: %v", err)
	}

	now := time.Now()
	err := cat.BulkUpdate([]BulkFileUpdate{
		{FilePath: "/a", Status: StatusNeedsReprocessing, Update: FileRecordUpdate{LastChecked: &now}},
		{FilePath: "/b", Status: StatusNeedsReprocessing, Update: FileRecordUpdate{LastChecked: &now}},
	})
	if err != nil {
		t.Fatalf("BulkUpdate: %v", err)
	}

	a, err := cat.GetFileStatus("/a")
	if err != nil || a.Status != StatusNeedsReprocessing {
		t.Fatalf("expected /a needs_reprocessing, got %+v err=%v", a, err)
	}
	b, err := cat.GetFileStatus("/b")
	if err != nil || b.Status != StatusNeedsReprocessing {
		t.Fatalf("expected /b needs_reprocessing, got %+v err=%v", b, err)
	}
}

func TestPromoteNewAndReprocessing(t *testing.T) {
	cat := openTestCatalog(t)
	if err := cat.AddNewFile(NewFileInfo{FilePath: "/a", Size: 100, Status: StatusNew}); err != nil {
		t.Fatalf("AddNewFile /a: %v", err)
	}
	if err := cat.AddNewFile(NewFileInfo{FilePath: "/b", Size: 100, Status: StatusNeedsReprocessing}); err != nil {
		t.Fatalf("AddNewFile /b: %v", err)
	}
	if err := cat.AddNewFile(NewFileInfo{FilePath: "/c", Size: 100, Status: StatusCompleted}); err != nil {
		t.Fatalf("AddNewFile /c: %v", err)
	}

	affected, err := cat.PromoteNewAndReprocessing()
	if err != nil {
		t.Fatalf("PromoteNewAndReprocessing: %v", err)
	}
	if affected != 2 {
		t.Fatalf("expected 2 rows promoted, got %d", affected)
	}

	a, _ := cat.GetFileStatus("/a")
	b, _ := cat.GetFileStatus("/b")
	c, _ := cat.GetFileStatus("/c")
	if a.Status != StatusPending || b.Status != StatusPending {
		t.Fatalf("expected /a and /b promoted to pending, got %s / %s", a.Status, b.Status)
	}
	if c.Status != StatusCompleted {
		t.Fatalf("terminal status must be untouched by promotion, got %s", c.Status)
	}
}

func TestResumePausedAtStartup(t *testing.T) {
	cat := openTestCatalog(t)
	if err := cat.AddNewFile(NewFileInfo{FilePath: "/a", Size: 100, Status: StatusPaused}); err != nil {
		t.Fatalf("AddNewFile: %v", err)
	}
	if err := cat.AddNewFile(NewFileInfo{FilePath: "/b", Size: 100, Status: StatusCompleted}); err != nil {
		t.Fatalf("AddNewFile: %v", err)
	}

	affected, err := cat.ResumePausedAtStartup()
	if err != nil {
		t.Fatalf("ResumePausedAtStartup: %v", err)
	}
	if affected != 1 {
		t.Fatalf("expected 1 row resumed, got %d", affected)
	}

	a, _ := cat.GetFileStatus("/a")
	if a.Status != StatusPending {
		t.Fatalf("expected /a reset to pending, got %s", a.Status)
	}

	stats, err := cat.GetStatistics()
	if err != nil {
		t.Fatalf("GetStatistics: %v", err)
	}
	if stats.StatusCounts[StatusPaused] != 0 {
		t.Fatalf("no record should remain paused once the resume commits, got %d", stats.StatusCounts[StatusPaused])
	}
}

func TestUpdateCompressionTimeSeedsEstimates(t *testing.T) {
	cat := openTestCatalog(t)
	if err := cat.AddNewFile(NewFileInfo{FilePath: "/done", Size: 100 * 1024 * 1024, Status: StatusPending}); err != nil {
		t.Fatalf("AddNewFile /done: %v", err)
	}
	if err := cat.AddNewFile(NewFileInfo{FilePath: "/pending", Size: 200 * 1024 * 1024, Status: StatusPending}); err != nil {
		t.Fatalf("AddNewFile /pending: %v", err)
	}

	if err := cat.UpdateCompressionTime("/done", 100); err != nil {
		t.Fatalf("UpdateCompressionTime: %v", err)
	}

	rec, err := cat.GetFileStatus("/pending")
	if err != nil {
		t.Fatalf("GetFileStatus: %v", err)
	}
	if rec.EstimatedTime <= 0 {
		t.Fatalf("expected a seeded estimated_time, got %d", rec.EstimatedTime)
	}
}

func TestGetStatisticsAggregates(t *testing.T) {
	cat := openTestCatalog(t)
	if err := cat.AddNewFile(NewFileInfo{FilePath: "/a", Size: 1000, Status: StatusCompleted}); err != nil {
		t.Fatalf("AddNewFile: %v", err)
	}
	compressedSize := int64(400)
	if err := cat.UpdateFileStatus("/a", StatusCompleted, FileRecordUpdate{CompressedSize: &compressedSize, OriginalSize: int64Ptr(1000)}); err != nil {
		t.Fatalf("UpdateFileStatus: %v", err)
	}

	stats, err := cat.GetStatistics()
	if err != nil {
		t.Fatalf("GetStatistics: %v", err)
	}
	if stats.TotalFiles != 1 {
		t.Fatalf("expected 1 total file, got %d", stats.TotalFiles)
	}
	if stats.TotalOriginalSize != 1000 || stats.TotalCompressedSize != 400 {
		t.Fatalf("unexpected sizes: original=%d compressed=%d", stats.TotalOriginalSize, stats.TotalCompressedSize)
	}
	if stats.SpaceSaved != 600 {
		t.Fatalf("expected space saved 600, got %d", stats.SpaceSaved)
	}
}

func TestLogEventAndRecentEvents(t *testing.T) {
	cat := openTestCatalog(t)
	if err := cat.LogEvent("scan_completed", "first", SeverityInfo); err != nil {
		t.Fatalf("LogEvent: %v", err)
	}
	if err := cat.LogEvent("scan_completed", "second", SeverityInfo); err != nil {
		t.Fatalf("LogEvent: %v", err)
	}

	events, err := cat.RecentEvents(10)
	if err != nil {
		t.Fatalf("RecentEvents: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if events[0].Details != "second" {
		t.Fatalf("expected newest event first, got %s", events[0].Details)
	}
}

func TestBackupAndRepairFromBackup(t *testing.T) {
	cat := openTestCatalog(t)
	if err := cat.AddNewFile(NewFileInfo{FilePath: "/a", Size: 100, Status: StatusNew}); err != nil {
		t.Fatalf("AddNewFile: %v", err)
	}
	if err := cat.Backup(); err != nil {
		t.Fatalf("Backup: %v", err)
	}

	// Corrupt the live file, then repair.
	if err := cat.db.Close(); err != nil {
		t.Fatalf("closing live db: %v", err)
	}
	if err := os.WriteFile(cat.path, []byte("not a sqlite file"), 0o644); err != nil {
		t.Fatalf("corrupting live db: %v", err)
	}

	if err := cat.Repair(); err != nil {
		t.Fatalf("Repair: %v", err)
	}

	rec, err := cat.GetFileStatus("/a")
	if err != nil {
		t.Fatalf("GetFileStatus after repair: %v", err)
	}
	if rec.Status != StatusNew {
		t.Fatalf("expected record restored from backup, got status %s", rec.Status)
	}
}
