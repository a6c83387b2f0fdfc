package pipeline

import (
	"context"
	"encoding/csv"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/aluiziolira/go-scrape-shirts/config"
	"github.com/aluiziolira/go-scrape-shirts/scraper"
	"github.com/jarcoal/httpmock"
)

const listingPage = `<html><body><ul class="products">
<li><a href="shirt.php?id=101"><img src="img/shirts/shirt-101.jpg"><p>View Details</p></a></li>
<li><a href="shirt.php?id=102"><img src="img/shirts/shirt-102.jpg"><p>View Details</p></a></li>
<li><a href="contact.php">Contact</a></li>
</ul></body></html>`

func detailPage(title, price, image string) string {
	return `<html><body><div class="shirt-picture"><span><img src="` + image + `"></span></div>` +
		`<div class="shirt-details"><h1><span class="price">` + price + `</span> ` + title + `</h1></div></body></html>`
}

func htmlOK(body string) httpmock.Responder {
	resp := httpmock.NewStringResponse(http.StatusOK, body)
	resp.Header.Set("Content-Type", "text/html; charset=utf-8")
	return httpmock.ResponderFromResponse(resp)
}

func newTestScraper(t *testing.T, cfg *config.Config) (*scraper.Scraper, *httpmock.MockTransport) {
	t.Helper()
	metrics := scraper.NewMetrics()
	mock := httpmock.NewMockTransport()
	transport := scraper.NewCollyTransport(cfg, metrics)
	transport.WithTransport(mock)

	s, err := scraper.NewScraperWithTransport(cfg, transport, metrics)
	if err != nil {
		t.Fatalf("new scraper: %v", err)
	}
	return s, mock
}

func e2eConfig(dir string) *config.Config {
	cfg := config.DefaultConfig()
	cfg.ListingURL = "http://example.test/shirts.php"
	cfg.BaseURL = "http://example.test/"
	cfg.OutputDir = filepath.Join(dir, "data")
	cfg.ErrorLogFile = filepath.Join(dir, "scraper-error.log")
	cfg.Workers = 2
	return cfg
}

func TestPipelineEndToEnd(t *testing.T) {
	dir := t.TempDir()
	cfg := e2eConfig(dir)
	s, mock := newTestScraper(t, cfg)
	mock.RegisterResponder("GET", cfg.ListingURL, htmlOK(listingPage))
	mock.RegisterResponder("GET", "http://example.test/shirt.php?id=101",
		htmlOK(detailPage("Logo Shirt, Red", "$18", "img/shirts/shirt-101.jpg")))
	mock.RegisterResponder("GET", "http://example.test/shirt.php?id=102",
		htmlOK(detailPage("Mike the Frog Shirt, Black", "$20", "img/shirts/shirt-102.jpg")))

	now := time.Date(2026, 10, 17, 12, 0, 0, 0, time.UTC)
	writer := NewCSVWriter(cfg.OutputDir, cfg.DayOffset)
	writer.now = func() time.Time { return now }
	errLog := NewFileErrorLogger(cfg.ErrorLogFile, slog.New(slog.NewTextHandler(io.Discard, nil)))

	result, err := NewPipeline(s, writer, errLog, cfg, s.Metrics).Run(context.Background(), "e2e")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result.Discovered != 2 || result.Written != 2 || result.HasFailures() {
		t.Fatalf("unexpected result: %+v", result)
	}

	entries, err := os.ReadDir(cfg.OutputDir)
	if err != nil {
		t.Fatalf("read output dir: %v", err)
	}
	if len(entries) != 1 || entries[0].Name() != "2026-10-18.csv" {
		t.Fatalf("unexpected artifacts: %v", entries)
	}

	f, err := os.Open(filepath.Join(cfg.OutputDir, entries[0].Name()))
	if err != nil {
		t.Fatalf("open artifact: %v", err)
	}
	defer f.Close()
	records, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatalf("read artifact: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("records=%d, want header plus 2 rows", len(records))
	}
	if records[1][0] != "Logo Shirt, Red" || records[1][1] != "$18" || records[1][3] != "http://example.test/shirt.php?id=101" {
		t.Fatalf("unexpected first row: %v", records[1])
	}
	if records[2][0] != "Mike the Frog Shirt, Black" || records[2][2] != "img/shirts/shirt-102.jpg" {
		t.Fatalf("unexpected second row: %v", records[2])
	}

	if _, err := os.Stat(cfg.ErrorLogFile); !os.IsNotExist(err) {
		t.Fatalf("error log should not exist after a clean run, stat err=%v", err)
	}
}

func TestPipelineEndToEndListingUnreachable(t *testing.T) {
	dir := t.TempDir()
	cfg := e2eConfig(dir)
	s, mock := newTestScraper(t, cfg)
	mock.RegisterResponder("GET", cfg.ListingURL, httpmock.NewStringResponder(http.StatusServiceUnavailable, "down"))

	errLog := NewFileErrorLogger(cfg.ErrorLogFile, slog.New(slog.NewTextHandler(io.Discard, nil)))
	result, err := NewPipeline(s, NewCSVWriter(cfg.OutputDir, cfg.DayOffset), errLog, cfg, s.Metrics).Run(context.Background(), "e2e-down")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result.ListingErr == nil || result.Written != 0 {
		t.Fatalf("unexpected result: %+v", result)
	}
	if _, err := os.Stat(cfg.OutputDir); !os.IsNotExist(err) {
		t.Fatalf("no artifact directory expected, stat err=%v", err)
	}
	lines := readLines(t, cfg.ErrorLogFile)
	if len(lines) != 1 {
		t.Fatalf("error log lines=%d, want 1", len(lines))
	}
}
