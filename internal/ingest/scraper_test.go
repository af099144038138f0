package ingest

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const testPage = `<!DOCTYPE html>
<html>
<head><title>Benefits Overview</title><style>body { color: red; }</style></head>
<body>
<nav>Home | About</nav>
<header>Site Header</header>
<script>console.log("tracking");</script>
<main>
  <h1>Employee   Benefits</h1>
  <p>All    employees receive health
  coverage.</p>
</main>
<footer>Copyright 2024</footer>
</body>
</html>`

func TestScrape(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(testPage))
	}))
	defer srv.Close()

	scraper := NewScraper(zap.NewNop())
	page, err := scraper.Scrape(context.Background(), srv.URL)
	require.NoError(t, err)

	assert.Equal(t, "Benefits Overview", page.Title)
	assert.Contains(t, page.Content, "Employee Benefits")
	assert.Contains(t, page.Content, "All employees receive health coverage.")

	// Chrome and non-content markup is stripped.
	assert.NotContains(t, page.Content, "tracking")
	assert.NotContains(t, page.Content, "color: red")
	assert.NotContains(t, page.Content, "Site Header")
	assert.NotContains(t, page.Content, "Copyright 2024")
	assert.NotContains(t, page.Content, "Home | About")

	// Whitespace is collapsed to single spaces.
	assert.NotContains(t, page.Content, "  ")
}

func TestScrapeTitleFallsBackToURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html><body><p>no title here</p></body></html>"))
	}))
	defer srv.Close()

	scraper := NewScraper(zap.NewNop())
	page, err := scraper.Scrape(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, srv.URL, page.Title)
}

func TestScrapeErrors(t *testing.T) {
	scraper := NewScraper(zap.NewNop())
	ctx := context.Background()

	t.Run("non-200 status", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.NotFound(w, r)
		}))
		defer srv.Close()

		_, err := scraper.Scrape(ctx, srv.URL)
		assert.ErrorIs(t, err, ErrScrapeFailed)
	})

	t.Run("empty page", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte("<html><body><script>only();</script></body></html>"))
		}))
		defer srv.Close()

		_, err := scraper.Scrape(ctx, srv.URL)
		assert.ErrorIs(t, err, ErrScrapeFailed)
	})

	t.Run("unreachable host", func(t *testing.T) {
		_, err := scraper.Scrape(ctx, "http://127.0.0.1:1")
		assert.ErrorIs(t, err, ErrScrapeFailed)
	})
}

func TestScrapeWaitsOnRateLimiter(t *testing.T) {
	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.Write([]byte(testPage))
	}))
	defer srv.Close()

	scraper := NewScraper(zap.NewNop())
	require.NotNil(t, scraper.limiter)

	// A cancelled context fails at the limiter, before any fetch.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := scraper.Scrape(ctx, srv.URL)
	assert.ErrorIs(t, err, ErrScrapeFailed)
	assert.Zero(t, hits)
}

func TestResolveSeed(t *testing.T) {
	url, err := ResolveSeed("dummy_university")
	require.NoError(t, err)
	assert.Contains(t, url, "wikipedia.org")

	// Explicit URLs pass through.
	url, err = ResolveSeed("https://example.com/page")
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/page", url)

	_, err = ResolveSeed("dummy_bakery")
	assert.ErrorIs(t, err, ErrUnknownSeedSource)
}

func TestSeedNames(t *testing.T) {
	names := SeedNames()
	assert.Contains(t, names, "dummy_university")
	assert.Contains(t, names, "dummy_hospital")
	assert.Contains(t, names, "dummy_finance")
}
