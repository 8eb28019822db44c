package search

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
)

const (
	defaultFrontendURL       = "https://html.duckduckgo.com/html/"
	defaultNavigationTimeout = 30 * time.Second
	defaultPoliteDelay       = 2 * time.Second

	// resultSelector matches the organic result anchors on the HTML
	// frontend; sponsored links use a different class.
	resultSelector = "a.result__a"
)

// DuckDuckGo searches via the JavaScript-free frontend at
// html.duckduckgo.com. One headless browser serves all queries of a
// Results call; consecutive queries are spaced by a polite delay. A
// query whose navigation exceeds the timeout yields an empty list.
type DuckDuckGo struct {
	frontend string
	timeout  time.Duration
	delay    time.Duration
	logger   *slog.Logger
}

type DuckDuckGoOption func(*DuckDuckGo)

// WithFrontendURL points the engine at a different HTML frontend, such
// as a regional mirror or a local fixture under test.
func WithFrontendURL(u string) DuckDuckGoOption {
	return func(e *DuckDuckGo) {
		if u != "" {
			e.frontend = u
		}
	}
}

// WithNavigationTimeout bounds one query's page load and scrape.
func WithNavigationTimeout(d time.Duration) DuckDuckGoOption {
	return func(e *DuckDuckGo) {
		if d > 0 {
			e.timeout = d
		}
	}
}

// WithPoliteDelay sets the pause between consecutive queries.
func WithPoliteDelay(d time.Duration) DuckDuckGoOption {
	return func(e *DuckDuckGo) {
		if d >= 0 {
			e.delay = d
		}
	}
}

func WithSearchLogger(logger *slog.Logger) DuckDuckGoOption {
	return func(e *DuckDuckGo) {
		e.logger = logger
	}
}

func NewDuckDuckGo(opts ...DuckDuckGoOption) *DuckDuckGo {
	e := &DuckDuckGo{
		frontend: defaultFrontendURL,
		timeout:  defaultNavigationTimeout,
		delay:    defaultPoliteDelay,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Results runs each query in order and returns the per-query URL lists.
// Launch or connect failure means no browser at all and is returned as
// an error; per-query failures are logged and yield empty lists.
func (e *DuckDuckGo) Results(ctx context.Context, queries []string, n int) ([][]string, error) {
	results := make([][]string, len(queries))
	if len(queries) == 0 || n <= 0 {
		return results, nil
	}

	controlURL, err := launcher.New().Headless(true).Launch()
	if err != nil {
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}

	browser := rod.New().ControlURL(controlURL).Context(ctx)
	if err := browser.Connect(); err != nil {
		return nil, fmt.Errorf("failed to connect to browser: %w", err)
	}
	defer func() { _ = browser.Close() }()

	for i, query := range queries {
		if i > 0 {
			if err := sleepContext(ctx, e.delay); err != nil {
				return results, err
			}
		}
		results[i] = e.search(ctx, browser, query, n)
	}
	return results, nil
}

// search scrapes one query's result page. Every failure path returns an
// empty list; the timeout covers navigation, load, and scraping.
func (e *DuckDuckGo) search(ctx context.Context, browser *rod.Browser, query string, n int) []string {
	page, err := browser.Page(proto.TargetCreateTarget{})
	if err != nil {
		e.logger.WarnContext(ctx, "Failed to open search page", "query", query, "error", err)
		return nil
	}
	defer func() { _ = page.Close() }()

	page = page.Timeout(e.timeout)
	if err := page.Navigate(searchURL(e.frontend, query)); err != nil {
		e.logger.WarnContext(ctx, "Search navigation failed", "query", query, "error", err)
		return nil
	}
	if err := page.WaitLoad(); err != nil {
		e.logger.WarnContext(ctx, "Search page did not finish loading", "query", query, "error", err)
		return nil
	}

	elements, err := page.Elements(resultSelector)
	if err != nil {
		e.logger.WarnContext(ctx, "Failed to collect search results", "query", query, "error", err)
		return nil
	}

	urls := make([]string, 0, n)
	for _, el := range elements {
		href, err := el.Attribute("href")
		if err != nil || href == nil {
			continue
		}
		u, ok := DecodeResultURL(*href)
		if !ok {
			continue
		}
		urls = append(urls, u)
		if len(urls) == n {
			break
		}
	}
	return urls
}

func searchURL(frontend, query string) string {
	sep := "?"
	if strings.Contains(frontend, "?") {
		sep = "&"
	}
	return frontend + sep + "q=" + url.QueryEscape(query)
}

// DecodeResultURL resolves one result anchor to its destination. The
// HTML frontend wraps destinations in a /l/ redirect whose uddg
// parameter carries the encoded target; direct external links pass
// through unchanged. Anything else (frontend chrome, javascript
// handlers, relative paths) is dropped.
func DecodeResultURL(href string) (string, bool) {
	href = strings.TrimSpace(href)
	if href == "" {
		return "", false
	}
	if strings.HasPrefix(href, "//") {
		href = "https:" + href
	}

	u, err := url.Parse(href)
	if err != nil {
		return "", false
	}

	if target := u.Query().Get("uddg"); target != "" {
		if isHTTPURL(target) {
			return target, true
		}
		return "", false
	}

	if u.Scheme != "http" && u.Scheme != "https" {
		return "", false
	}
	if u.Host == "" || strings.HasSuffix(u.Hostname(), "duckduckgo.com") {
		return "", false
	}
	return href, true
}

func isHTTPURL(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
