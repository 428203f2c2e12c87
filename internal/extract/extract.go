// Package extract turns a raw W-1 query result page into permit records.
//
// Extraction is pure: it never touches the network or a store, so every rule
// here is exercised against captured HTML under testdata/.
package extract

import (
	"bytes"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/permitwatch/internal/permit"
)

const (
	// DateLayout is the ISO layout DateIssued is stored in.
	DateLayout = "2006-01-02"
	// SourceDateLayout is how the query site prints dates.
	SourceDateLayout = "01/02/2006"
)

var (
	hasDigit = regexp.MustCompile(`[0-9]`)
	// columnLabel matches cell text that names a results column.
	columnLabel = regexp.MustCompile(`(?i)^(api|operator|lease|well|county)\b`)
)

// Config controls link synthesis.
type Config struct {
	// LeaseSearchURL is a URL prefix; the escaped lease name is appended to it
	// for rows that carry no anchor of their own.
	LeaseSearchURL string
}

// Stats summarizes one page's extraction.
type Stats struct {
	Tables   int
	Rows     int
	Records  int
	Skipped  int
	Tier     Tier
	ParseErr error
}

// Extractor converts result pages to records.
type Extractor struct {
	leaseSearchURL string
}

// New builds an Extractor.
func New(cfg Config) *Extractor {
	return &Extractor{leaseSearchURL: strings.TrimSpace(cfg.LeaseSearchURL)}
}

// Extract returns the records found in the page's results table. Records come
// back in row order with DiscoveredAt left zero for the caller to stamp.
// Malformed rows are skipped and counted in Stats rather than reported as
// errors.
func (e *Extractor) Extract(page permit.RawPage, targetDate time.Time) ([]permit.Record, Stats) {
	var stats Stats
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page.HTML))
	if err != nil {
		stats.ParseErr = err
		return nil, stats
	}

	table, rows := resultsTable(doc)
	stats.Tables = doc.Find("table").Length()
	if table == nil || len(rows) <= 1 {
		return nil, stats
	}

	header := cellTexts(rows[0])
	cols := ResolveColumns(header)
	stats.Tier = cols.Tier

	body := rows[1:]
	// Without recognizable headers the first row may already be data.
	if cols.Tier == TierPositional && !looksLikeHeader(rows[0], cols) {
		body = rows
		header = nil
	}

	base, _ := url.Parse(page.URL)
	fallbackDate := targetDate.Format(DateLayout)

	records := make([]permit.Record, 0, len(body))
	for _, row := range body {
		stats.Rows++
		cells := cellTexts(row)
		rec, ok := e.recordFromRow(row, cells, header, cols, base, fallbackDate)
		if !ok {
			stats.Skipped++
			continue
		}
		records = append(records, rec)
	}
	stats.Records = len(records)
	return records, stats
}

func (e *Extractor) recordFromRow(
	row *goquery.Selection,
	cells []string,
	header []string,
	cols Columns,
	base *url.URL,
	fallbackDate string,
) (permit.Record, bool) {
	operator := cellAt(cells, cols.Operator)
	if operator == "" || isLabelRow(cells, header, cols) {
		return permit.Record{}, false
	}
	api := cellAt(cells, cols.API)
	lease := cellAt(cells, cols.Lease)
	well := cellAt(cells, cols.Well)

	return permit.Record{
		IdentityKey: permit.IdentityKey(api, lease, well),
		County:      permit.NormalizeCounty(cellAt(cells, cols.County)),
		Operator:    operator,
		LeaseName:   lease,
		WellNumber:  well,
		APINumber:   api,
		DateIssued:  issuedDate(cellAt(cells, cols.Date), fallbackDate),
		SourceLink:  e.sourceLink(row, base, lease),
	}, true
}

func (e *Extractor) sourceLink(row *goquery.Selection, base *url.URL, lease string) string {
	if href, ok := row.Find("a[href]").First().Attr("href"); ok {
		href = strings.TrimSpace(href)
		if href != "" && !strings.HasPrefix(strings.ToLower(href), "javascript:") {
			return resolve(base, href)
		}
	}
	if e.leaseSearchURL == "" || lease == "" {
		return ""
	}
	return e.leaseSearchURL + url.QueryEscape(lease)
}

func resolve(base *url.URL, href string) string {
	ref, err := url.Parse(href)
	if err != nil || base == nil {
		return href
	}
	return base.ResolveReference(ref).String()
}

func issuedDate(raw, fallback string) string {
	if raw == "" {
		return fallback
	}
	if t, err := time.Parse(SourceDateLayout, raw); err == nil {
		return t.Format(DateLayout)
	}
	if t, err := time.Parse(DateLayout, raw); err == nil {
		return t.Format(DateLayout)
	}
	return raw
}

// resultsTable picks the table owning the most rows. Rows of nested tables
// count toward the nested table only; ties keep the first table.
func resultsTable(doc *goquery.Document) (*goquery.Selection, []*goquery.Selection) {
	var (
		best     *goquery.Selection
		bestRows []*goquery.Selection
	)
	doc.Find("table").Each(func(_ int, table *goquery.Selection) {
		rows := ownRows(table)
		if best == nil || len(rows) > len(bestRows) {
			best = table
			bestRows = rows
		}
	})
	return best, bestRows
}

func ownRows(table *goquery.Selection) []*goquery.Selection {
	var rows []*goquery.Selection
	table.Find("tr").Each(func(_ int, tr *goquery.Selection) {
		if tr.Closest("table").IsSelection(table) {
			rows = append(rows, tr)
		}
	})
	return rows
}

func cellTexts(row *goquery.Selection) []string {
	cells := row.ChildrenFiltered("th, td")
	out := make([]string, 0, cells.Length())
	cells.Each(func(_ int, cell *goquery.Selection) {
		out = append(out, strings.Join(strings.Fields(cell.Text()), " "))
	})
	return out
}

func cellAt(cells []string, idx int) string {
	if idx < 0 || idx >= len(cells) {
		return ""
	}
	return cells[idx]
}

// looksLikeHeader reports whether a first row the keyword pass could not map
// is still a label row. Every data row carries a date or a permit number, so a
// row without a single digit is taken as labels.
func looksLikeHeader(row *goquery.Selection, cols Columns) bool {
	if row.ChildrenFiltered("th").Length() > 0 {
		return true
	}
	cells := cellTexts(row)
	if isLabelRow(cells, nil, cols) {
		return true
	}
	for _, c := range cells {
		if hasDigit.MatchString(c) {
			return false
		}
	}
	return len(cells) > 0
}

// isLabelRow reports whether the row repeats column labels instead of data:
// its API cell names a column, or its API or operator cell repeats the header
// text above it. API cells such as PENDING or N/A are data.
func isLabelRow(cells, header []string, cols Columns) bool {
	if columnLabel.MatchString(cellAt(cells, cols.API)) {
		return true
	}
	return repeatsHeader(cells, header, cols.API) || repeatsHeader(cells, header, cols.Operator)
}

func repeatsHeader(cells, header []string, idx int) bool {
	v := cellAt(cells, idx)
	return v != "" && strings.EqualFold(v, cellAt(header, idx))
}
