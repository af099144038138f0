package ingest

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	// Outbound fetch rate, kept polite toward the seed hosts.
	defaultScrapeRate  = 2
	defaultScrapeBurst = 4
)

var (
	// ErrScrapeFailed indicates the page could not be fetched or
	// yielded no usable text.
	ErrScrapeFailed = errors.New("web scrape failed")

	// ErrUnknownSeedSource indicates a seed name missing from the
	// registry.
	ErrUnknownSeedSource = errors.New("unknown seed source")
)

var whitespaceRE = regexp.MustCompile(`\s+`)

// seedSources maps well-known seed names to public pages used for
// demo and smoke-test ingestion.
var seedSources = map[string]string{
	"dummy_university": "https://en.wikipedia.org/wiki/University",
	"dummy_hospital":   "https://en.wikipedia.org/wiki/Hospital",
	"dummy_finance":    "https://en.wikipedia.org/wiki/Finance",
}

// Page is the extracted content of one scraped URL.
type Page struct {
	Title   string
	Content string
	URL     string
}

// Scraper fetches web pages and extracts their visible text. Fetches
// are rate limited so a batch of web jobs cannot hammer one host.
type Scraper struct {
	client  *http.Client
	limiter *rate.Limiter
	logger  *zap.Logger
}

// NewScraper creates a scraper.
func NewScraper(logger *zap.Logger) *Scraper {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scraper{
		client:  &http.Client{Timeout: 10 * time.Second},
		limiter: rate.NewLimiter(rate.Limit(defaultScrapeRate), defaultScrapeBurst),
		logger:  logger,
	}
}

// ResolveSeed returns the registered URL for a seed name. URLs pass
// through unchanged so seed jobs can also carry explicit addresses.
func ResolveSeed(name string) (string, error) {
	if strings.Contains(name, "://") {
		return name, nil
	}
	url, ok := seedSources[name]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownSeedSource, name)
	}
	return url, nil
}

// SeedNames returns the registered seed source names.
func SeedNames() []string {
	names := make([]string, 0, len(seedSources))
	for name := range seedSources {
		names = append(names, name)
	}
	return names
}

// Scrape fetches a URL and returns its title and visible text with
// scripts, styles, and chrome elements removed and whitespace
// collapsed.
func (s *Scraper) Scrape(ctx context.Context, url string) (*Page, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrScrapeFailed, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrScrapeFailed, err)
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (compatible; ragd/1.0)")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: fetching %s: %v", ErrScrapeFailed, url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: %s returned status %d", ErrScrapeFailed, url, resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: parsing %s: %v", ErrScrapeFailed, url, err)
	}

	page := extractPage(doc, url)
	if page.Content == "" {
		return nil, fmt.Errorf("%w: %s yielded no text", ErrScrapeFailed, url)
	}

	s.logger.Debug("page scraped",
		zap.String("url", url),
		zap.Int("content_bytes", len(page.Content)),
	)
	return page, nil
}

func extractPage(doc *goquery.Document, url string) *Page {
	doc.Find("script, style, nav, header, footer, noscript").Remove()

	title := strings.TrimSpace(doc.Find("title").First().Text())
	if title == "" {
		title = url
	}

	text := doc.Find("body").Text()
	if strings.TrimSpace(text) == "" {
		text = doc.Text()
	}

	return &Page{
		Title:   title,
		Content: strings.TrimSpace(whitespaceRE.ReplaceAllString(text, " ")),
		URL:     url,
	}
}
