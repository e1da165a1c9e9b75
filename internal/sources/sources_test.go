package sources

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func servePage(t *testing.T, html string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, html)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestYahooCollectsImageSources(t *testing.T) {
	t.Parallel()

	srv := servePage(t, `<html><body>
		<img src="https://img.example.com/a.jpg">
		<img src="//img.example.com/b.jpg">
		<img src="/relative/chrome.png">
		<img src="https://img.example.com/a.jpg">
		<a href="https://www.yahoo.com/privacy">Privacy</a>
	</body></html>`)

	src := NewYahoo(Options{Query: "jane doe", SearchURL: srv.URL + "/search?p=%s"})
	result, err := src.Crawl(context.Background())
	require.NoError(t, err)
	require.False(t, result.Captcha)
	require.Equal(t, []string{
		"https://img.example.com/a.jpg",
		"https://img.example.com/b.jpg",
	}, result.URLs)
}

func TestFlickrKeepsOnlyPhotoCDNLinks(t *testing.T) {
	t.Parallel()

	srv := servePage(t, `<html><body>
		<img src="https://live.staticflickr.com/123/456_abc_b.jpg">
		<img src="https://www.flickr.com/images/logo.png">
		<img data-src="https://live.staticflickr.com/789/012_def_b.jpg" src="https://www.flickr.com/spinner.gif">
	</body></html>`)

	src := NewFlickr(Options{Query: "portrait", SearchURL: srv.URL + "/search?text=%s"})
	result, err := src.Crawl(context.Background())
	require.NoError(t, err)
	require.Equal(t, []string{
		"https://live.staticflickr.com/123/456_abc_b.jpg",
		"https://live.staticflickr.com/789/012_def_b.jpg",
	}, result.URLs)
}

func TestWikimediaHarvestsAnchors(t *testing.T) {
	t.Parallel()

	srv := servePage(t, `<html><body>
		<a href="https://upload.wikimedia.org/wikipedia/commons/1/1a/Portrait.jpg">
			<img src="https://upload.wikimedia.org/wikipedia/commons/thumb/1/1a/Portrait.jpg/200px-Portrait.jpg">
		</a>
		<a href="/wiki/Special:MediaSearch">next page</a>
	</body></html>`)

	src := NewWikimedia(Options{Query: "portrait", SearchURL: srv.URL + "/w/index.php?search=%s"})
	result, err := src.Crawl(context.Background())
	require.NoError(t, err)
	require.Equal(t, []string{
		"https://upload.wikimedia.org/wikipedia/commons/thumb/1/1a/Portrait.jpg/200px-Portrait.jpg",
		"https://upload.wikimedia.org/wikipedia/commons/1/1a/Portrait.jpg",
	}, result.URLs)
}

func TestCrawlHonorsLimit(t *testing.T) {
	t.Parallel()

	html := "<html><body>"
	for i := 0; i < 10; i++ {
		html += fmt.Sprintf(`<img src="https://img.example.com/%d.jpg">`, i)
	}
	html += "</body></html>"
	srv := servePage(t, html)

	src := NewYahoo(Options{Query: "q", Limit: 3, SearchURL: srv.URL + "/search?p=%s"})
	result, err := src.Crawl(context.Background())
	require.NoError(t, err)
	require.Len(t, result.URLs, 3)
}

func TestCrawlDetectsChallengePage(t *testing.T) {
	t.Parallel()

	srv := servePage(t, `<html><body>
		<h1>Verify you are human</h1>
		<img src="https://img.example.com/should-not-appear.jpg">
	</body></html>`)

	src := NewYahoo(Options{Query: "q", SearchURL: srv.URL + "/search?p=%s"})
	result, err := src.Crawl(context.Background())
	require.NoError(t, err)
	require.True(t, result.Captcha)
	require.Empty(t, result.URLs)
}

func TestCrawlCanceledContext(t *testing.T) {
	t.Parallel()

	srv := servePage(t, `<html></html>`)
	src := NewYahoo(Options{Query: "q", SearchURL: srv.URL + "/search?p=%s"})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := src.Crawl(ctx)
	require.ErrorIs(t, err, context.Canceled)
}

func TestCaptchaDetector(t *testing.T) {
	t.Parallel()

	d := NewCaptchaDetector(nil)
	testCases := []struct {
		name string
		body string
		want bool
	}{
		{"plain results", `<html><body><img src="x.jpg"></body></html>`, false},
		{"captcha text", `<html><body>Please solve this CAPTCHA to continue</body></html>`, true},
		{"unusual traffic", `<html><body>We detected unusual traffic from your network</body></html>`, true},
		{"keyword in script only", `<html><body><script>var captcha = false;</script>results</body></html>`, false},
		{"keyword in image url only", `<html><body><img src="https://cdn.example.com/captcha-solver-ad.jpg"></body></html>`, false},
		{"empty body", ``, false},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, d.Detect([]byte(tc.body)))
		})
	}
}
