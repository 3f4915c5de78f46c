package webfetch

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"net/url"
	"strings"
	"time"

	"github.com/chromedp/chromedp"
	readability "github.com/go-shiori/go-readability"

	"localmind/config"
)

// Page is one fetched and cleaned web page.
type Page struct {
	URL      string `json:"url"`
	Title    string `json:"title"`
	Byline   string `json:"byline"`
	Text     string `json:"text"`
	HTMLHash string `json:"html_hash"`
	Status   int    `json:"status"`
	RenderMS int    `json:"render_ms"`
}

// Fetcher renders pages in headless Chrome and extracts readable text.
type Fetcher struct {
	headless  bool
	userAgent string
	timeout   time.Duration
	maxChars  int
}

// NewFetcher builds a fetcher from browser config.
func NewFetcher(cfg config.BrowserConfig) *Fetcher {
	cfg = cfg.Normalize()
	return &Fetcher{
		headless:  cfg.Headless,
		userAgent: cfg.UserAgent,
		timeout:   cfg.PageTimeout,
		maxChars:  cfg.MaxChars,
	}
}

// Fetch renders rawURL and returns the readable article text. Render
// failures report status 599 with an empty body rather than an error so
// callers can keep going with the remaining pages.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (Page, error) {
	if strings.TrimSpace(rawURL) == "" {
		return Page{}, errors.New("invalid url")
	}

	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()
	t0 := time.Now()

	html, err := f.fetchHTML(ctx, rawURL)
	if err != nil {
		return Page{URL: rawURL, Status: 599, RenderMS: int(time.Since(t0) / time.Millisecond)}, nil
	}

	article, err := readability.FromReader(strings.NewReader(html), mustParseURL(rawURL))
	if err != nil {
		return Page{URL: rawURL, Status: 200, RenderMS: int(time.Since(t0) / time.Millisecond)}, nil
	}
	text := article.TextContent
	if len(text) > f.maxChars {
		text = text[:f.maxChars]
	}

	sum := sha1.Sum([]byte(html))

	return Page{
		URL:      rawURL,
		Title:    strings.TrimSpace(article.Title),
		Byline:   strings.TrimSpace(article.Byline),
		Text:     strings.TrimSpace(text),
		HTMLHash: hex.EncodeToString(sum[:]),
		Status:   200,
		RenderMS: int(time.Since(t0) / time.Millisecond),
	}, nil
}

func (f *Fetcher) fetchHTML(ctx context.Context, rawURL string) (string, error) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", f.headless),
		chromedp.UserAgent(f.userAgent),
	)
	actx, cancelAlloc := chromedp.NewExecAllocator(ctx, opts...)
	defer cancelAlloc()
	bctx, cancelBrowser := chromedp.NewContext(actx)
	defer cancelBrowser()

	var html string
	err := chromedp.Run(bctx,
		chromedp.Navigate(rawURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	return html, err
}

func mustParseURL(raw string) *url.URL {
	u, err := url.Parse(raw)
	if err != nil {
		return &url.URL{}
	}
	return u
}
