package acquire

import (
	"bytes"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// DefaultSignInMarkers are matched case-insensitively against visible text.
var DefaultSignInMarkers = []string{
	"Sign In",
	"Login",
	"Log In",
	"Password",
	"Session Expired",
}

// Detector recognizes pages that ask for credentials instead of showing results.
type Detector struct {
	markers []string
}

// NewDetector creates a detector. Nil markers take the defaults; an empty
// non-nil slice disables text matching and keeps only the password check.
func NewDetector(markers []string) *Detector {
	if markers == nil {
		markers = DefaultSignInMarkers
	}
	lowered := make([]string, 0, len(markers))
	for _, m := range markers {
		if m = strings.ToLower(strings.TrimSpace(m)); m != "" {
			lowered = append(lowered, m)
		}
	}
	return &Detector{markers: lowered}
}

// IsSignIn reports whether the page carries a sign-in signature.
func (d *Detector) IsSignIn(html []byte) bool {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(html))
	if err != nil {
		return false
	}
	password := doc.Find("input[type]").FilterFunction(func(_ int, in *goquery.Selection) bool {
		return strings.EqualFold(strings.TrimSpace(in.AttrOr("type", "")), "password")
	})
	if password.Length() > 0 {
		return true
	}
	doc.Find("script, style, noscript, template").Remove()
	text := strings.ToLower(strings.Join(strings.Fields(doc.Text()), " "))
	for _, marker := range d.markers {
		if strings.Contains(text, marker) {
			return true
		}
	}
	return false
}
