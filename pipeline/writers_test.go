package pipeline

import (
	"bufio"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/aluiziolira/go-scrape-shirts/models"
)

var fixedNow = time.Date(2026, 10, 17, 9, 30, 0, 0, time.UTC)

func sampleItems(n int) []*models.Item {
	items := make([]*models.Item, n)
	for i := range items {
		items[i] = &models.Item{
			Title:     fmt.Sprintf("Logo Shirt, Color %d", i),
			Price:     "$18",
			ImageURL:  fmt.Sprintf("img/shirts/shirt-%d.jpg", 101+i),
			URL:       fmt.Sprintf("http://shirts4mike.com/shirt.php?id=%d", 101+i),
			Time:      "Sat Oct 17 2026 09:30:00 GMT+0000 (UTC)",
			ScrapedAt: fixedNow,
		}
	}
	return items
}

func readLines(t *testing.T, path string) []string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	return strings.Split(strings.TrimSuffix(string(data), "\n"), "\n")
}

func TestArtifactName(t *testing.T) {
	tests := []struct {
		name     string
		at       time.Time
		offset   int
		expected string
	}{
		{name: "offset reproduced", at: time.Date(2026, 10, 17, 0, 0, 0, 0, time.UTC), offset: 1, expected: "2026-10-18.csv"},
		{name: "no calendar rollover", at: time.Date(2026, 10, 31, 0, 0, 0, 0, time.UTC), offset: 1, expected: "2026-10-32.csv"},
		{name: "offset disabled", at: time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC), offset: 0, expected: "2026-01-05.csv"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ArtifactName(tt.at, tt.offset, ".csv"); got != tt.expected {
				t.Errorf("ArtifactName() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestCSVWriterAppendsWithoutRepeatingHeader(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "data")
	writer := NewCSVWriter(dir, 1)
	writer.now = func() time.Time { return fixedNow }

	if err := writer.Write(context.Background(), sampleItems(2)); err != nil {
		t.Fatalf("first write: %v", err)
	}
	path := filepath.Join(dir, "2026-10-18.csv")
	if lines := readLines(t, path); len(lines) != 3 {
		t.Fatalf("lines after first write=%d, want 3", len(lines))
	}

	if err := writer.Write(context.Background(), sampleItems(2)); err != nil {
		t.Fatalf("second write: %v", err)
	}
	lines := readLines(t, path)
	if len(lines) != 5 {
		t.Fatalf("lines after second write=%d, want 5", len(lines))
	}
	if lines[0] != "Title,Price,ImageURL,URL,Time" {
		t.Fatalf("unexpected header: %q", lines[0])
	}
	for _, line := range lines[1:] {
		if strings.HasPrefix(line, "Title,") {
			t.Fatalf("header repeated: %v", lines)
		}
	}
}

func TestCSVWriterQuotesDelimiters(t *testing.T) {
	dir := t.TempDir()
	writer := NewCSVWriter(dir, 0)
	writer.now = func() time.Time { return fixedNow }

	if err := writer.Write(context.Background(), sampleItems(1)); err != nil {
		t.Fatalf("write: %v", err)
	}

	f, err := os.Open(writer.Path(fixedNow))
	if err != nil {
		t.Fatalf("open csv: %v", err)
	}
	defer f.Close()

	records, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatalf("read csv: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("records=%d, want 2", len(records))
	}
	if records[1][0] != "Logo Shirt, Color 0" {
		t.Fatalf("title=%q", records[1][0])
	}
	if len(records[1]) != 5 {
		t.Fatalf("columns=%d, want 5", len(records[1]))
	}
}

func TestCSVWriterEmptyBatchCreatesNothing(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "data")
	writer := NewCSVWriter(dir, 1)

	if err := writer.Write(context.Background(), nil); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := os.Stat(dir); !os.IsNotExist(err) {
		t.Fatalf("expected no output dir, stat err=%v", err)
	}
}

func TestCSVWriterUnwritableDir(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "data")
	if err := os.WriteFile(blocker, []byte("not a directory"), 0o644); err != nil {
		t.Fatalf("write blocker: %v", err)
	}

	writer := NewCSVWriter(blocker, 1)
	err := writer.Write(context.Background(), sampleItems(1))
	var persistence *PersistenceError
	if !errors.As(err, &persistence) {
		t.Fatalf("expected PersistenceError, got %v", err)
	}
}

func TestJSONWriterWrite(t *testing.T) {
	dir := t.TempDir()
	writer := NewJSONWriter(dir, 1)
	writer.now = func() time.Time { return fixedNow }

	for i := 0; i < 2; i++ {
		if err := writer.Write(context.Background(), sampleItems(2)); err != nil {
			t.Fatalf("write json: %v", err)
		}
	}

	f, err := os.Open(filepath.Join(dir, "2026-10-18.jsonl"))
	if err != nil {
		t.Fatalf("open json: %v", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	count := 0
	for scanner.Scan() {
		var decoded models.Item
		if err := json.Unmarshal(scanner.Bytes(), &decoded); err != nil {
			t.Fatalf("invalid json line: %v", err)
		}
		if decoded.Price != "$18" {
			t.Fatalf("price=%q", decoded.Price)
		}
		count++
	}
	if err := scanner.Err(); err != nil {
		t.Fatalf("scan json: %v", err)
	}
	if count != 4 {
		t.Fatalf("json lines=%d, want 4", count)
	}
}

func TestMultiWriterWrite(t *testing.T) {
	dir := t.TempDir()
	csvWriter := NewCSVWriter(dir, 1)
	csvWriter.now = func() time.Time { return fixedNow }
	jsonWriter := NewJSONWriter(dir, 1)
	jsonWriter.now = func() time.Time { return fixedNow }

	writer := NewMultiWriter(csvWriter, nil, jsonWriter)
	if err := writer.Write(context.Background(), sampleItems(1)); err != nil {
		t.Fatalf("write multi: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close multi: %v", err)
	}

	for _, name := range []string{"2026-10-18.csv", "2026-10-18.jsonl"} {
		if info, err := os.Stat(filepath.Join(dir, name)); err != nil || info.Size() == 0 {
			t.Fatalf("%s missing or empty", name)
		}
	}
}

func TestMultiWriterStopsAtFirstFailure(t *testing.T) {
	failing := &mockWriter{err: errors.New("disk full")}
	after := &mockWriter{}
	writer := NewMultiWriter(failing, after)

	if err := writer.Write(context.Background(), sampleItems(1)); err == nil {
		t.Fatalf("expected error")
	}
	if after.totalWritten() != 0 {
		t.Fatalf("later writers should not run after a failure")
	}
}

func TestFileErrorLoggerAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scraper-error.log")
	logger := NewFileErrorLogger(path, slog.New(slog.NewTextHandler(io.Discard, nil)))
	logger.now = func() time.Time { return fixedNow }

	for _, msg := range []string{"first failure", "second failure"} {
		if err := logger.LogError(errors.New(msg)); err != nil {
			t.Fatalf("log error: %v", err)
		}
	}
	if err := logger.LogError(nil); err != nil {
		t.Fatalf("nil error should be ignored: %v", err)
	}

	lines := readLines(t, path)
	want := []string{
		"[2026-10-17T09:30:00Z] first failure",
		"[2026-10-17T09:30:00Z] second failure",
	}
	if len(lines) != len(want) {
		t.Fatalf("lines=%v, want %v", lines, want)
	}
	for i := range want {
		if lines[i] != want[i] {
			t.Fatalf("line %d=%q, want %q", i, lines[i], want[i])
		}
	}
}

func TestFileErrorLoggerUnwritablePath(t *testing.T) {
	dir := t.TempDir()
	logger := NewFileErrorLogger(dir, slog.New(slog.NewTextHandler(io.Discard, nil)))

	err := logger.LogError(errors.New("boom"))
	var persistence *PersistenceError
	if !errors.As(err, &persistence) {
		t.Fatalf("expected PersistenceError when the log path is a directory, got %v", err)
	}
}
