package executor

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/PuerkitoBio/goquery"

	"github.com/aatumaykin/komorebi/internal/logger"
)

const (
	DefaultBrowserTimeout   = 30 * time.Second
	DefaultMaxResponseSize  = int64(5 << 20)
	DefaultBrowserUserAgent = "Komorebi/1.0 (+https://github.com/aatumaykin/komorebi)"
)

// BrowserConfig limits page fetching.
type BrowserConfig struct {
	Timeout         time.Duration
	MaxResponseSize int64
	UserAgent       string
}

// Page is a fetched web page reduced to text.
type Page struct {
	URL         string
	StatusCode  int
	Title       string
	Description string
	Markdown    string
}

// Fetcher downloads pages and converts HTML to markdown.
type Fetcher struct {
	cfg       BrowserConfig
	client    *http.Client
	converter *md.Converter
	logger    *logger.Logger
}

var (
	reSpaces   = regexp.MustCompile(`[ \t]+`)
	reNewlines = regexp.MustCompile(`\n{3,}`)
)

// NewFetcher creates a fetcher. Zero config values take defaults.
func NewFetcher(cfg BrowserConfig, log *logger.Logger) *Fetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultBrowserTimeout
	}
	if cfg.MaxResponseSize <= 0 {
		cfg.MaxResponseSize = DefaultMaxResponseSize
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultBrowserUserAgent
	}
	if log == nil {
		log = logger.Discard()
	}

	converter := md.NewConverter("", true, &md.Options{
		HeadingStyle:    "atx",
		CodeBlockStyle:  "fenced",
		EmDelimiter:     "*",
		StrongDelimiter: "**",
	})
	converter.AddRules(md.Rule{
		Filter: []string{"nav", "footer", "aside", "script", "style", "noscript", "form"},
		Replacement: func(string, *goquery.Selection, *md.Options) *string {
			return new("")
		},
	})

	return &Fetcher{
		cfg:       cfg,
		client:    &http.Client{Timeout: cfg.Timeout},
		converter: converter,
		logger:    log,
	}
}

// Fetch downloads rawURL. Responses with status >= 400, bodies larger than
// MaxResponseSize and non-http(s) URLs are errors.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (*Page, error) {
	if !strings.HasPrefix(rawURL, "http://") && !strings.HasPrefix(rawURL, "https://") {
		return nil, fmt.Errorf("url must start with http:// or https://")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", f.cfg.UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,text/plain;q=0.9,*/*;q=0.5")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return nil, fmt.Errorf("fetch %s: %s", rawURL, resp.Status)
	}
	if resp.ContentLength > f.cfg.MaxResponseSize {
		return nil, fmt.Errorf("response too large: %d bytes exceeds %d bytes limit", resp.ContentLength, f.cfg.MaxResponseSize)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.cfg.MaxResponseSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if int64(len(body)) > f.cfg.MaxResponseSize {
		return nil, fmt.Errorf("response truncated: exceeds %d bytes limit", f.cfg.MaxResponseSize)
	}

	page := &Page{URL: rawURL, StatusCode: resp.StatusCode}

	if !strings.Contains(resp.Header.Get("Content-Type"), "html") {
		page.Markdown = strings.TrimSpace(string(body))
		return page, nil
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to parse html: %w", err)
	}
	page.Title = strings.TrimSpace(doc.Find("title").First().Text())
	page.Description = strings.TrimSpace(doc.Find(`meta[name="description"]`).AttrOr("content", ""))
	if page.Description == "" {
		page.Description = strings.TrimSpace(doc.Find(`meta[property="og:description"]`).AttrOr("content", ""))
	}

	markdown, err := f.converter.ConvertString(string(body))
	if err != nil {
		return nil, fmt.Errorf("failed to convert html: %w", err)
	}
	markdown = reSpaces.ReplaceAllString(markdown, " ")
	page.Markdown = strings.TrimSpace(reNewlines.ReplaceAllString(markdown, "\n\n"))

	f.logger.Debug("page fetched",
		logger.Field{Key: "url", Value: rawURL},
		logger.Field{Key: "status", Value: resp.StatusCode},
		logger.Field{Key: "bytes", Value: len(body)})

	return page, nil
}
