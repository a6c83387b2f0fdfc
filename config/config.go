package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// Failure policies for the detail fan-out.
const (
	PolicyPartial      = "partial"
	PolicyAllOrNothing = "all-or-nothing"
)

// Config holds scraper configuration.
type Config struct {
	ListingURL     string
	BaseURL        string
	ItemLinkPrefix string

	TitleSelector string
	PriceSelector string
	ImageSelector string

	// TitlePrefixLen is the number of leading characters dropped from the
	// detail heading. The target renders the price ("$18 ") in front of the
	// shirt name inside the same h1.
	TitlePrefixLen int
	// DayOffset is added to the day-of-month of the artifact filename
	// without calendar normalisation.
	DayOffset int

	Workers          int
	FailurePolicy    string
	Timeout          time.Duration
	UserAgent        string
	RespectRobotsTxt bool
	CacheSize        int

	OutputDir    string
	OutputFormat string // csv, json, or dual
	ErrorLogFile string

	PostgresDSN   string
	PostgresTable string

	MetricsAddr string
	Verbose     bool
	StrictExit  bool
}

// DefaultConfig returns defaults for the shirts4mike catalog.
func DefaultConfig() *Config {
	return &Config{
		ListingURL:       "http://shirts4mike.com/shirts.php",
		BaseURL:          "http://shirts4mike.com/",
		ItemLinkPrefix:   "shirt.php?id=",
		TitleSelector:    "div.shirt-details h1",
		PriceSelector:    "span.price",
		ImageSelector:    ".shirt-picture img",
		TitlePrefixLen:   4,
		DayOffset:        1,
		Workers:          8,
		FailurePolicy:    PolicyPartial,
		Timeout:          10 * time.Second,
		UserAgent:        "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/117.0.0.0 Safari/537.36",
		RespectRobotsTxt: false,
		CacheSize:        256,
		OutputDir:        "data",
		OutputFormat:     "csv",
		ErrorLogFile:     "scraper-error.log",
		PostgresTable:    "scraped_items",
	}
}

// Validate ensures all configuration values are coherent.
func (c *Config) Validate() error {
	if err := validateURL("listing URL", c.ListingURL); err != nil {
		return err
	}
	if err := validateURL("base URL", c.BaseURL); err != nil {
		return err
	}
	if strings.TrimSpace(c.ItemLinkPrefix) == "" {
		return fmt.Errorf("item link prefix cannot be empty")
	}
	if c.TitleSelector == "" || c.PriceSelector == "" || c.ImageSelector == "" {
		return fmt.Errorf("title, price and image selectors are required")
	}
	if c.TitlePrefixLen < 0 {
		return fmt.Errorf("title prefix length cannot be negative")
	}
	if c.DayOffset < 0 {
		return fmt.Errorf("day offset cannot be negative")
	}
	if c.Workers <= 0 {
		return fmt.Errorf("workers must be positive")
	}
	if c.FailurePolicy != PolicyPartial && c.FailurePolicy != PolicyAllOrNothing {
		return fmt.Errorf("failure policy must be %s or %s", PolicyPartial, PolicyAllOrNothing)
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	if c.UserAgent == "" {
		return fmt.Errorf("user agent cannot be empty")
	}
	if c.CacheSize < 0 {
		return fmt.Errorf("cache size cannot be negative")
	}
	if c.OutputDir == "" {
		return fmt.Errorf("output dir cannot be empty")
	}
	if c.OutputFormat != "csv" && c.OutputFormat != "json" && c.OutputFormat != "dual" {
		return fmt.Errorf("output format must be csv, json, or dual")
	}
	if c.ErrorLogFile == "" {
		return fmt.Errorf("error log file cannot be empty")
	}
	if c.PostgresDSN != "" && c.PostgresTable == "" {
		return fmt.Errorf("postgres table cannot be empty when a DSN is set")
	}
	return nil
}

func validateURL(name, raw string) error {
	if raw == "" {
		return fmt.Errorf("%s cannot be empty", name)
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", name, err)
	}
	if parsed.Host == "" {
		return fmt.Errorf("%s must include a host", name)
	}
	return nil
}

// EnvString returns the trimmed value of key and whether it was set.
func EnvString(key string) (string, bool) {
	value, ok := os.LookupEnv(key)
	if !ok {
		return "", false
	}
	value = strings.TrimSpace(value)
	if value == "" {
		return "", false
	}
	return value, true
}

// EnvInt parses key as an integer. ok is false when the variable is unset.
func EnvInt(key string) (int, bool, error) {
	raw, ok := EnvString(key)
	if !ok {
		return 0, false, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false, fmt.Errorf("%s: %w", key, err)
	}
	return value, true, nil
}

// EnvBool parses key as a boolean. ok is false when the variable is unset.
func EnvBool(key string) (bool, bool, error) {
	raw, ok := EnvString(key)
	if !ok {
		return false, false, nil
	}
	value, err := strconv.ParseBool(raw)
	if err != nil {
		return false, false, fmt.Errorf("%s: %w", key, err)
	}
	return value, true, nil
}
