// Package parser extracts item references and item fields from catalog markup.
package parser

import (
	"bytes"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/aluiziolira/go-scrape-shirts/models"
)

// TimeLayout renders extraction timestamps, e.g.
// "Sat Oct 17 2026 09:30:00 GMT+0000 (UTC)".
const TimeLayout = "Mon Jan 02 2006 15:04:05 GMT-0700 (MST)"

// Selectors locates the detail-page fields.
type Selectors struct {
	Title string
	Price string
	Image string
}

// Parse builds a navigable document from a response body.
func Parse(body []byte) (*goquery.Document, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	return doc, nil
}

// ItemURLs returns the absolute URL of every anchor whose href starts with
// prefix, in document order. Duplicates are kept.
func ItemURLs(doc *goquery.Document, base *url.URL, prefix string) ([]string, error) {
	selector := fmt.Sprintf("a[href^=%q]", prefix)

	var (
		urls []string
		err  error
	)
	doc.Find(selector).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		href, _ := s.Attr("href")
		ref, parseErr := url.Parse(strings.TrimSpace(href))
		if parseErr != nil {
			err = fmt.Errorf("resolve %q: %w", href, parseErr)
			return false
		}
		urls = append(urls, base.ResolveReference(ref).String())
		return true
	})
	if err != nil {
		return nil, err
	}
	return urls, nil
}

// ExtractItem reads the detail fields from doc. Missing nodes yield empty
// strings.
func ExtractItem(doc *goquery.Document, ref string, sel Selectors, titlePrefixLen int, now time.Time) *models.Item {
	title := doc.Find(sel.Title).First().Text()
	price := doc.Find(sel.Price).First().Text()
	image, _ := doc.Find(sel.Image).First().Attr("src")

	return &models.Item{
		Title:     StripPrefix(title, titlePrefixLen),
		Price:     price,
		ImageURL:  image,
		URL:       ref,
		Time:      FormatTime(now),
		ScrapedAt: now,
	}
}

// StripPrefix drops the first n characters of s.
func StripPrefix(s string, n int) string {
	if n <= 0 {
		return s
	}
	runes := []rune(s)
	if n >= len(runes) {
		return ""
	}
	return string(runes[n:])
}

// FormatTime renders t with TimeLayout.
func FormatTime(t time.Time) string {
	return t.Format(TimeLayout)
}

// ParseTime is the inverse of FormatTime.
func ParseTime(s string) (time.Time, error) {
	return time.Parse(TimeLayout, s)
}
