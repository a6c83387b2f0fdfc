package pipeline

import (
	"bufio"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/aluiziolira/go-scrape-shirts/models"
)

var csvHeader = []string{"Title", "Price", "ImageURL", "URL", "Time"}

// ArtifactName returns the dated file name for t. offset is added to the
// day-of-month as a plain number, so Oct 31 with offset 1 yields "-32".
func ArtifactName(t time.Time, offset int, ext string) string {
	return fmt.Sprintf("%04d-%02d-%02d%s", t.Year(), int(t.Month()), t.Day()+offset, ext)
}

// CSVWriter appends records to one CSV artifact per calendar day. The header
// is written only when the day's file is new or empty.
type CSVWriter struct {
	dir       string
	dayOffset int
	now       func() time.Time
	mu        sync.Mutex
}

// NewCSVWriter writes artifacts under dir.
func NewCSVWriter(dir string, dayOffset int) *CSVWriter {
	return &CSVWriter{
		dir:       dir,
		dayOffset: dayOffset,
		now:       time.Now,
	}
}

// Path returns the artifact path for t.
func (cw *CSVWriter) Path(t time.Time) string {
	return filepath.Join(cw.dir, ArtifactName(t, cw.dayOffset, ".csv"))
}

// Write appends items to today's artifact.
func (cw *CSVWriter) Write(_ context.Context, items []*models.Item) error {
	if len(items) == 0 {
		return nil
	}

	cw.mu.Lock()
	defer cw.mu.Unlock()

	if err := ensureDir(cw.dir); err != nil {
		return err
	}
	path := cw.Path(cw.now())

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return &PersistenceError{Op: "open csv", Path: path, Err: err}
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return &PersistenceError{Op: "stat csv", Path: path, Err: err}
	}

	bufw := bufio.NewWriter(f)
	writer := csv.NewWriter(bufw)
	if info.Size() == 0 {
		if err := writer.Write(csvHeader); err != nil {
			return &PersistenceError{Op: "write csv header", Path: path, Err: err}
		}
	}
	for _, item := range items {
		record := []string{
			item.Title,
			item.Price,
			item.ImageURL,
			item.URL,
			item.Time,
		}
		if err := writer.Write(record); err != nil {
			return &PersistenceError{Op: "write csv record", Path: path, Err: err}
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return &PersistenceError{Op: "flush csv records", Path: path, Err: err}
	}
	if err := bufw.Flush(); err != nil {
		return &PersistenceError{Op: "flush csv buffer", Path: path, Err: err}
	}
	if err := f.Sync(); err != nil {
		return &PersistenceError{Op: "sync csv", Path: path, Err: err}
	}
	return nil
}

// Close is a no-op; files are opened per write.
func (cw *CSVWriter) Close() error {
	return nil
}

// JSONWriter appends newline-delimited JSON records to one artifact per
// calendar day.
type JSONWriter struct {
	dir       string
	dayOffset int
	now       func() time.Time
	mu        sync.Mutex
}

// NewJSONWriter writes artifacts under dir.
func NewJSONWriter(dir string, dayOffset int) *JSONWriter {
	return &JSONWriter{
		dir:       dir,
		dayOffset: dayOffset,
		now:       time.Now,
	}
}

// Path returns the artifact path for t.
func (jw *JSONWriter) Path(t time.Time) string {
	return filepath.Join(jw.dir, ArtifactName(t, jw.dayOffset, ".jsonl"))
}

// Write appends items in JSONL format.
func (jw *JSONWriter) Write(_ context.Context, items []*models.Item) error {
	if len(items) == 0 {
		return nil
	}

	jw.mu.Lock()
	defer jw.mu.Unlock()

	if err := ensureDir(jw.dir); err != nil {
		return err
	}
	path := jw.Path(jw.now())

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return &PersistenceError{Op: "open json", Path: path, Err: err}
	}
	defer f.Close()

	buffer := bufio.NewWriter(f)
	encoder := json.NewEncoder(buffer)
	for _, item := range items {
		if err := encoder.Encode(item); err != nil {
			return &PersistenceError{Op: "encode json record", Path: path, Err: err}
		}
	}
	if err := buffer.Flush(); err != nil {
		return &PersistenceError{Op: "flush json writer", Path: path, Err: err}
	}
	if err := f.Sync(); err != nil {
		return &PersistenceError{Op: "sync json", Path: path, Err: err}
	}
	return nil
}

// Close is a no-op; files are opened per write.
func (jw *JSONWriter) Close() error {
	return nil
}

func ensureDir(dir string) error {
	if dir == "" || dir == "." {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return &PersistenceError{Op: "create directory", Path: dir, Err: err}
	}
	return nil
}
