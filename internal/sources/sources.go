// Package sources implements the image search providers the crawler walks.
// Each source fetches one results page for its configured query and extracts
// candidate image URLs from the static HTML.
package sources

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/tanmay3107/reverse-image-search/internal/crawler"
)

// Options configures one provider source.
type Options struct {
	Query     string
	Limit     int
	UserAgent string
	Timeout   time.Duration
	// SearchURL overrides the provider's results-page URL template. It must
	// contain one %s verb for the escaped query. Used by tests.
	SearchURL string
	Detector  *CaptchaDetector
	Logger    *zap.Logger
}

// serpSource scrapes a single search results page with Colly.
type serpSource struct {
	name      string
	searchURL string
	accept    func(imageURL string) bool
	// followLinks also harvests anchor hrefs. Only safe when accept pins a
	// media host, otherwise page chrome links leak in.
	followLinks bool
	opts        Options
}

func newSERPSource(name, defaultURL string, accept func(string) bool, opts Options) *serpSource {
	if opts.SearchURL == "" {
		opts.SearchURL = defaultURL
	}
	if opts.Detector == nil {
		opts.Detector = NewCaptchaDetector(nil)
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &serpSource{
		name:      name,
		searchURL: opts.SearchURL,
		accept:    accept,
		opts:      opts,
	}
}

// NewYahoo returns the Yahoo Images source.
func NewYahoo(opts Options) crawler.Source {
	return newSERPSource(
		"yahoo",
		"https://images.search.yahoo.com/search/images?p=%s",
		func(imageURL string) bool {
			return strings.HasPrefix(imageURL, "http")
		},
		opts,
	)
}

// NewFlickr returns the Flickr search source. Only direct photo CDN links
// are kept; everything else on the page is chrome.
func NewFlickr(opts Options) crawler.Source {
	return newSERPSource(
		"flickr",
		"https://www.flickr.com/search/?text=%s",
		func(imageURL string) bool {
			return strings.Contains(imageURL, "staticflickr")
		},
		opts,
	)
}

// NewWikimedia returns the Wikimedia Commons media search source. Commons
// links thumbnails to the original file, so anchors are harvested too.
func NewWikimedia(opts Options) crawler.Source {
	s := newSERPSource(
		"wikimedia",
		"https://commons.wikimedia.org/w/index.php?search=%s&title=Special:MediaSearch&type=image",
		func(imageURL string) bool {
			return strings.Contains(imageURL, "upload.wikimedia.org")
		},
		opts,
	)
	s.followLinks = true
	return s
}

// Name implements crawler.Source.
func (s *serpSource) Name() string { return s.name }

// Crawl fetches the results page and extracts up to Limit accepted image
// URLs. A challenge page sets the Captcha flag instead.
func (s *serpSource) Crawl(ctx context.Context) (crawler.SourceResult, error) {
	if err := ctx.Err(); err != nil {
		return crawler.SourceResult{}, err
	}

	var result crawler.SourceResult
	seen := make(map[string]struct{})

	collector := colly.NewCollector(colly.UserAgent(s.opts.UserAgent))
	if s.opts.Timeout > 0 {
		collector.SetRequestTimeout(s.opts.Timeout)
	}

	collector.OnResponse(func(r *colly.Response) {
		if s.opts.Detector.Detect(r.Body) {
			s.opts.Logger.Warn("challenge page served",
				zap.String("source", s.name),
				zap.String("url", r.Request.URL.String()),
			)
			result.Captcha = true
		}
	})

	collect := func(raw string) {
		if result.Captcha {
			return
		}
		imageURL := normalizeImageURL(raw)
		if imageURL == "" || !s.accept(imageURL) {
			return
		}
		if _, ok := seen[imageURL]; ok {
			return
		}
		if s.opts.Limit > 0 && len(result.URLs) >= s.opts.Limit {
			return
		}
		seen[imageURL] = struct{}{}
		result.URLs = append(result.URLs, imageURL)
	}

	collector.OnHTML("img", func(e *colly.HTMLElement) {
		if src := e.Attr("data-src"); src != "" {
			collect(src)
			return
		}
		collect(e.Attr("src"))
	})
	if s.followLinks {
		collector.OnHTML("a[href]", func(e *colly.HTMLElement) {
			collect(e.Attr("href"))
		})
	}
	collector.OnError(func(r *colly.Response, err error) {
		s.opts.Logger.Warn("results page fetch failed",
			zap.String("source", s.name),
			zap.Int("status_code", r.StatusCode),
			zap.Error(err),
		)
	})

	target := fmt.Sprintf(s.searchURL, url.QueryEscape(s.opts.Query))
	if err := collector.Visit(target); err != nil {
		return crawler.SourceResult{}, fmt.Errorf("visit %s results: %w", s.name, err)
	}
	collector.Wait()

	if result.Captcha {
		return crawler.SourceResult{Captcha: true}, nil
	}
	return result, nil
}

// normalizeImageURL upgrades scheme-relative references and drops anything
// that is not an absolute http(s) URL.
func normalizeImageURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	if strings.HasPrefix(raw, "//") {
		raw = "https:" + raw
	}
	if !strings.HasPrefix(raw, "http://") && !strings.HasPrefix(raw, "https://") {
		return ""
	}
	return raw
}
