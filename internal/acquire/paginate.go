package acquire

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/permitwatch/internal/permit"
)

// DefaultMaxPages caps how many result pages one acquisition follows.
const DefaultMaxPages = 25

var (
	pageNumberText = regexp.MustCompile(`^\d{1,3}$`)
	pageMarkerText = regexp.MustCompile(`(?i)^(?:[<>«»‹›]+\s*)?(?:next|prev|previous|first|last)?(?:\s*[<>«»‹›]+)?$`)
	pageParamHref  = regexp.MustCompile(`(?i)[?&](?:page|pageno|pagenumber|pager\.offset|offset|start)=\d+`)
)

// PaginationLinks returns the distinct absolute targets of the pagination
// anchors on a page, in document order. Anchors count when their text is a
// small page number or a next/previous marker, or their href carries a page
// parameter. Links to other hosts and script links are ignored.
func PaginationLinks(pageURL string, html []byte) []string {
	base, err := url.Parse(pageURL)
	if err != nil {
		return nil
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(html))
	if err != nil {
		return nil
	}

	seen := map[string]bool{normalizeTarget(base): true}
	var links []string
	doc.Find("a[href]").Each(func(_ int, a *goquery.Selection) {
		href := strings.TrimSpace(a.AttrOr("href", ""))
		if href == "" || strings.HasPrefix(href, "#") || strings.HasPrefix(strings.ToLower(href), "javascript:") {
			return
		}
		text := strings.Join(strings.Fields(a.Text()), " ")
		if !isPaginationAnchor(text, href) {
			return
		}
		ref, err := url.Parse(href)
		if err != nil {
			return
		}
		target := base.ResolveReference(ref)
		if !strings.EqualFold(target.Host, base.Host) {
			return
		}
		key := normalizeTarget(target)
		if seen[key] {
			return
		}
		seen[key] = true
		links = append(links, key)
	})
	return links
}

func isPaginationAnchor(text, href string) bool {
	if pageParamHref.MatchString(href) {
		return true
	}
	if text == "" {
		return false
	}
	return pageNumberText.MatchString(text) || pageMarkerText.MatchString(text)
}

func normalizeTarget(u *url.URL) string {
	clone := *u
	clone.Fragment = ""
	return clone.String()
}

// PageFetcher loads one follow-up page within a strategy's session.
type PageFetcher func(ctx context.Context, target string) (permit.RawPage, error)

// FollowPages fetches every pagination target reachable from first, once each,
// in arrival order, until maxPages pages are held. Any sign-in page fails the
// whole set. HasNext is set on every page that has a successor, including the
// last page when targets remained beyond the cap.
func FollowPages(
	ctx context.Context,
	first permit.RawPage,
	maxPages int,
	detector *Detector,
	fetch PageFetcher,
) ([]permit.RawPage, error) {
	if maxPages <= 0 {
		maxPages = DefaultMaxPages
	}
	visited := map[string]bool{first.URL: true}
	if u, err := url.Parse(first.URL); err == nil {
		visited[normalizeTarget(u)] = true
	}
	pages := []permit.RawPage{first}
	queue := PaginationLinks(first.URL, first.HTML)

	for len(queue) > 0 && len(pages) < maxPages {
		target := queue[0]
		queue = queue[1:]
		if visited[target] {
			continue
		}
		visited[target] = true

		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("follow pages: %w", err)
		}
		page, err := fetch(ctx, target)
		if err != nil {
			return nil, fmt.Errorf("fetch page %d: %w", len(pages)+1, err)
		}
		if detector != nil && detector.IsSignIn(page.HTML) {
			return nil, fmt.Errorf("page %d: %w", len(pages)+1, ErrSignIn)
		}
		if page.URL != "" {
			visited[page.URL] = true
		}
		pages = append(pages, page)
		queue = append(queue, PaginationLinks(page.URL, page.HTML)...)
	}

	for i := 0; i < len(pages)-1; i++ {
		pages[i].HasNext = true
	}
	for _, target := range queue {
		if !visited[target] {
			pages[len(pages)-1].HasNext = true
			break
		}
	}
	return pages, nil
}
