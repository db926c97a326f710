package catalog

import (
	"fmt"
	"strconv"
	"time"

	"github.com/blevesearch/bleve/v2"
)

// indexedEvent is the document shape stored in the bleve index: event log
// entries and file error/skip messages share one searchable surface so the
// monitor's log search box can find either (spec.md §4.10).
type indexedEvent struct {
	Kind      string    `json:"kind"`
	Timestamp time.Time `json:"timestamp"`
	EventType string    `json:"event_type"`
	Details   string    `json:"details"`
	Severity  string    `json:"severity"`
	FilePath  string    `json:"file_path"`
}

type eventIndex struct {
	idx bleve.Index
}

func newEventIndex() (*eventIndex, error) {
	mapping := bleve.NewIndexMapping()
	idx, err := bleve.NewMemOnly(mapping)
	if err != nil {
		return nil, fmt.Errorf("create in-memory search index: %w", err)
	}
	return &eventIndex{idx: idx}, nil
}

func (e *eventIndex) Close() error {
	return e.idx.Close()
}

func (e *eventIndex) indexEvent(ev Event) {
	doc := indexedEvent{
		Kind:      "event",
		Timestamp: ev.Timestamp,
		EventType: ev.EventType,
		Details:   ev.Details,
		Severity:  ev.Severity,
	}
	_ = e.idx.Index("event-"+strconv.FormatInt(ev.ID, 10)+"-"+strconv.FormatInt(ev.Timestamp.UnixNano(), 10), doc)
}

func (e *eventIndex) indexFileMessage(filePath, field, message string) {
	doc := indexedEvent{
		Kind:      field,
		Timestamp: time.Now(),
		Details:   message,
		FilePath:  filePath,
	}
	_ = e.idx.Index(field+"-"+filePath, doc)
}

// rebuildIndex reloads every event and every error/skip message currently
// in the store into the in-memory search index. Called once at Open, since
// a bleve mem-only index does not survive a process restart.
func (c *Catalog) rebuildIndex() {
	rows, err := c.db.Query(`SELECT id, timestamp, event_type, details, severity FROM system_events`)
	if err != nil {
		c.log.Warnf("rebuild search index: query events: %v", err)
		return
	}
	for rows.Next() {
		var ev Event
		if err := rows.Scan(&ev.ID, &ev.Timestamp, &ev.EventType, &ev.Details, &ev.Severity); err != nil {
			continue
		}
		c.index.indexEvent(ev)
	}
	rows.Close()

	rows, err = c.db.Query(`SELECT file_path, error_message, skip_reason FROM processed_files
		WHERE error_message IS NOT NULL OR skip_reason IS NOT NULL`)
	if err != nil {
		c.log.Warnf("rebuild search index: query file messages: %v", err)
		return
	}
	defer rows.Close()
	for rows.Next() {
		var path string
		var errMsg, skipReason *string
		if err := rows.Scan(&path, &errMsg, &skipReason); err != nil {
			continue
		}
		if errMsg != nil && *errMsg != "" {
			c.index.indexFileMessage(path, "error_message", *errMsg)
		}
		if skipReason != nil && *skipReason != "" {
			c.index.indexFileMessage(path, "skip_reason", *skipReason)
		}
	}
}

// indexFileRecord re-indexes a single file's error/skip message after an
// UpdateFileStatus call touches either field.
func (c *Catalog) indexFileRecord(path string, u FileRecordUpdate) {
	if u.ErrorMessage != nil && *u.ErrorMessage != "" {
		c.index.indexFileMessage(path, "error_message", *u.ErrorMessage)
	}
	if u.SkipReason != nil && *u.SkipReason != "" {
		c.index.indexFileMessage(path, "skip_reason", *u.SkipReason)
	}
}

// SearchResult is one hit returned by SearchEvents.
type SearchResult struct {
	Kind      string
	Timestamp time.Time
	FilePath  string
	Details   string
	Score     float64
}

// SearchEvents runs a free-text query over the event log and file
// error/skip messages (spec.md §4.10's log search endpoint).
func (c *Catalog) SearchEvents(query string, limit int) ([]SearchResult, error) {
	if c.index == nil {
		return nil, fmt.Errorf("search index unavailable")
	}
	q := bleve.NewQueryStringQuery(query)
	req := bleve.NewSearchRequestOptions(q, limit, 0, false)
	req.Fields = []string{"kind", "timestamp", "details", "file_path"}
	res, err := c.index.idx.Search(req)
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}
	out := make([]SearchResult, 0, len(res.Hits))
	for _, hit := range res.Hits {
		r := SearchResult{Score: hit.Score}
		if kind, ok := hit.Fields["kind"].(string); ok {
			r.Kind = kind
		}
		if details, ok := hit.Fields["details"].(string); ok {
			r.Details = details
		}
		if fp, ok := hit.Fields["file_path"].(string); ok {
			r.FilePath = fp
		}
		if ts, ok := hit.Fields["timestamp"].(string); ok {
			if parsed, err := time.Parse(time.RFC3339, ts); err == nil {
				r.Timestamp = parsed
			}
		}
		out = append(out, r)
	}
	return out, nil
}
