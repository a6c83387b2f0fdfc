// Package models defines data structures for the scraper.
package models

import "time"

// Item is one catalog entry extracted from a detail page.
type Item struct {
	Title     string    `csv:"Title" json:"title"`
	Price     string    `csv:"Price" json:"price"`
	ImageURL  string    `csv:"ImageURL" json:"image_url"`
	URL       string    `csv:"URL" json:"url"`
	Time      string    `csv:"Time" json:"time"`
	ScrapedAt time.Time `csv:"-" json:"scraped_at"`
}

// FetchResult is the outcome of fetching one item reference. Exactly one of
// Item and Err is set.
type FetchResult struct {
	Ref  string
	Item *Item
	Err  error
}

// OK reports whether the fetch produced a record.
func (r FetchResult) OK() bool {
	return r.Err == nil && r.Item != nil
}

// RunResult summarises one pipeline run.
type RunResult struct {
	RunID        string
	StartTime    time.Time
	EndTime      time.Time
	Policy       string
	Discovered   int
	Fetched      int
	Failed       int
	Written      int
	Aborted      bool
	ListingErr   error
	FailedURLs   []string
	ErrorsByType map[string]int
}

// Duration returns the wall-clock time the run took.
func (r *RunResult) Duration() time.Duration {
	return r.EndTime.Sub(r.StartTime)
}

// HasFailures reports whether the listing or any item failed.
func (r *RunResult) HasFailures() bool {
	return r.ListingErr != nil || r.Failed > 0
}
