package scraper

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/aluiziolira/go-scrape-shirts/config"
	"github.com/gocolly/colly/v2"
	lru "github.com/hashicorp/golang-lru/v2"
)

const (
	ctxStart  = "start"
	ctxBody   = "body"
	ctxStatus = "status"
)

var errEmptyResponse = errors.New("response carried no body")

// Transport performs a GET and returns the response body.
type Transport interface {
	Get(ctx context.Context, rawURL string) ([]byte, error)
}

// CollyTransport issues synchronous GETs through a colly collector.
type CollyTransport struct {
	collector *colly.Collector
	metrics   *Metrics
}

// NewCollyTransport builds a collector configured from cfg. Revisits are
// allowed because duplicate references must each produce a record.
func NewCollyTransport(cfg *config.Config, metrics *Metrics) *CollyTransport {
	collector := colly.NewCollector(
		colly.UserAgent(cfg.UserAgent),
		colly.AllowURLRevisit(),
	)

	collector.SetRequestTimeout(cfg.Timeout)
	collector.IgnoreRobotsTxt = !cfg.RespectRobotsTxt
	collector.WithTransport(&http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   cfg.Timeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: cfg.Workers,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	})

	t := &CollyTransport{
		collector: collector,
		metrics:   metrics,
	}

	collector.OnRequest(func(r *colly.Request) {
		r.Ctx.Put(ctxStart, time.Now())
	})
	collector.OnResponse(func(r *colly.Response) {
		t.observe(r.Request.Ctx)
		r.Request.Ctx.Put(ctxBody, r.Body)
	})
	collector.OnError(func(r *colly.Response, err error) {
		if r == nil || r.Request == nil {
			return
		}
		t.observe(r.Request.Ctx)
		r.Request.Ctx.Put(ctxStatus, r.StatusCode)
	})

	return t
}

// Get fetches rawURL. Network failures and non-success statuses come back as
// *TransportError.
func (t *CollyTransport) Get(ctx context.Context, rawURL string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, &TransportError{URL: rawURL, Err: err}
	}

	reqCtx := colly.NewContext()
	if err := t.collector.Request(http.MethodGet, rawURL, nil, reqCtx, nil); err != nil {
		status, _ := reqCtx.GetAny(ctxStatus).(int)
		return nil, &TransportError{URL: rawURL, Err: classifyError(err, status)}
	}

	body, ok := reqCtx.GetAny(ctxBody).([]byte)
	if !ok {
		return nil, &TransportError{URL: rawURL, Err: errEmptyResponse}
	}
	return body, nil
}

// WithTransport replaces the round tripper used by the collector.
func (t *CollyTransport) WithTransport(rt http.RoundTripper) {
	t.collector.WithTransport(rt)
}

func (t *CollyTransport) observe(ctx *colly.Context) {
	if ctx == nil {
		return
	}
	if start, ok := ctx.GetAny(ctxStart).(time.Time); ok {
		t.metrics.ObserveDuration(time.Since(start))
	}
}

// CachedTransport memoises successful bodies by URL.
type CachedTransport struct {
	next    Transport
	cache   *lru.Cache[string, []byte]
	metrics *Metrics
}

// NewCachedTransport wraps next with an LRU of size entries.
func NewCachedTransport(next Transport, size int, metrics *Metrics) (*CachedTransport, error) {
	cache, err := lru.New[string, []byte](size)
	if err != nil {
		return nil, fmt.Errorf("create response cache: %w", err)
	}
	return &CachedTransport{
		next:    next,
		cache:   cache,
		metrics: metrics,
	}, nil
}

// Get serves rawURL from the cache or the wrapped transport. Failures are not
// cached.
func (t *CachedTransport) Get(ctx context.Context, rawURL string) ([]byte, error) {
	if body, ok := t.cache.Get(rawURL); ok {
		t.metrics.IncCacheHit()
		return body, nil
	}
	body, err := t.next.Get(ctx, rawURL)
	if err != nil {
		return nil, err
	}
	t.cache.Add(rawURL, body)
	return body, nil
}
