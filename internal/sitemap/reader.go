// Package sitemap discovers page URLs from a sitemaps.org XML document.
package sitemap

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"mime"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/antchfx/xmlquery"
	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"
)

// locExpr matches url/loc by local name so namespaced, prefixed and bare tags all match.
const locExpr = `//*[local-name()='url']/*[local-name()='loc']`

const (
	defaultTimeout     = 10 * time.Second
	defaultMaxBodySize = 50 << 20
)

// ErrEmptyBody is returned when the sitemap response has no content.
var ErrEmptyBody = errors.New("sitemap body is empty")

// Config controls how the sitemap is fetched.
type Config struct {
	UserAgent   string
	Timeout     time.Duration
	MaxBodySize int
}

// Reader fetches a sitemap and extracts its page URLs.
type Reader struct {
	cfg       Config
	transport http.RoundTripper
	logger    *zap.Logger
}

// New builds a Reader.
func New(cfg Config, logger *zap.Logger) *Reader {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.MaxBodySize <= 0 {
		cfg.MaxBodySize = defaultMaxBodySize
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reader{
		cfg:       cfg,
		transport: newHTTPTransport(),
		logger:    logger,
	}
}

// URLs returns the page URLs listed in the sitemap in document order.
// Any failure yields an empty list together with the reason.
func (r *Reader) URLs(ctx context.Context, sitemapURL string) ([]string, error) {
	body, err := r.fetch(ctx, sitemapURL)
	if err != nil {
		r.logger.Warn("sitemap fetch failed", zap.String("url", sitemapURL), zap.Error(err))
		return []string{}, err
	}
	urls, err := Parse(body)
	if err != nil {
		r.logger.Warn("sitemap parse failed", zap.String("url", sitemapURL), zap.Error(err))
		return []string{}, err
	}
	r.logger.Debug("sitemap parsed", zap.String("url", sitemapURL), zap.Int("urls", len(urls)))
	return urls, nil
}

func (r *Reader) fetch(ctx context.Context, sitemapURL string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("sitemap fetch canceled: %w", err)
	}
	var (
		body     []byte
		fetchErr error
	)
	collector := r.buildCollector(&body, &fetchErr)

	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(sitemapURL)
	}()

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("sitemap fetch canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return nil, fmt.Errorf("sitemap visit failed: %w", err)
		}
		if fetchErr != nil {
			return nil, fmt.Errorf("sitemap response failed: %w", fetchErr)
		}
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, ErrEmptyBody
	}
	return body, nil
}

func (r *Reader) buildCollector(body *[]byte, fetchErr *error) *colly.Collector {
	collector := colly.NewCollector(colly.Async(false))
	if r.cfg.UserAgent != "" {
		collector.UserAgent = r.cfg.UserAgent
	}
	collector.IgnoreRobotsTxt = true
	collector.MaxBodySize = r.cfg.MaxBodySize
	collector.SetRequestTimeout(r.cfg.Timeout)
	collector.WithTransport(r.transport)

	collector.OnResponseHeaders(func(resp *colly.Response) {
		dropCharset(resp.Headers)
	})
	collector.OnResponse(func(resp *colly.Response) {
		*body = append([]byte(nil), resp.Body...)
	})
	collector.OnError(func(resp *colly.Response, err error) {
		if resp != nil && resp.StatusCode != 0 {
			*fetchErr = fmt.Errorf("status %d: %w", resp.StatusCode, err)
			return
		}
		*fetchErr = err
	})
	return collector
}

// dropCharset removes the charset parameter so colly hands over the raw
// bytes and only the XML declaration decides the document encoding.
func dropCharset(h *http.Header) {
	if h == nil {
		return
	}
	contentType := h.Get("Content-Type")
	if contentType == "" {
		return
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		h.Del("Content-Type")
		return
	}
	h.Set("Content-Type", mediaType)
}

// Parse extracts every non-blank url/loc value from a sitemap document.
func Parse(body []byte) ([]string, error) {
	doc, err := xmlquery.Parse(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse sitemap xml: %w", err)
	}
	nodes, err := xmlquery.QueryAll(doc, locExpr)
	if err != nil {
		return nil, fmt.Errorf("query sitemap locations: %w", err)
	}
	urls := make([]string, 0, len(nodes))
	for _, node := range nodes {
		loc := strings.TrimSpace(node.InnerText())
		if loc == "" {
			continue
		}
		urls = append(urls, loc)
	}
	return urls, nil
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          10,
		IdleConnTimeout:       90 * time.Second,
	}
}
