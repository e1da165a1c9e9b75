package sources

import (
	"bytes"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// defaultCaptchaKeywords are the phrases search providers put on their
// interstitial challenge pages.
var defaultCaptchaKeywords = []string{
	"captcha",
	"verify you are human",
	"robot check",
	"unusual traffic",
	"please confirm you are not a robot",
}

// CaptchaDetector flags challenge pages using simple HTML signals.
type CaptchaDetector struct {
	keywords [][]byte
}

// NewCaptchaDetector constructs a detector for the given phrases. With no
// phrases the default set is used.
func NewCaptchaDetector(keywords []string) *CaptchaDetector {
	if len(keywords) == 0 {
		keywords = defaultCaptchaKeywords
	}
	lowerKeywords := make([][]byte, 0, len(keywords))
	for _, kw := range keywords {
		kw = strings.TrimSpace(kw)
		if kw == "" {
			continue
		}
		lowerKeywords = append(lowerKeywords, bytes.ToLower([]byte(kw)))
	}
	return &CaptchaDetector{keywords: lowerKeywords}
}

// Detect reports whether body looks like a challenge page. It matches on the
// page's visible text so a keyword inside a script or URL does not trip it.
func (d *CaptchaDetector) Detect(body []byte) bool {
	if d == nil || len(body) == 0 || len(d.keywords) == 0 {
		return false
	}

	text := body
	if doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body)); err == nil {
		doc.Find("script, style").Remove()
		text = []byte(doc.Text())
	}

	lowerText := bytes.ToLower(text)
	for _, kw := range d.keywords {
		if bytes.Contains(lowerText, kw) {
			return true
		}
	}
	return false
}
