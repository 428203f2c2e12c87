package extract

import (
	"strings"
)

// Tier names the column-resolution strategy that produced a mapping.
type Tier string

// Resolution tiers.
const (
	TierNone       Tier = ""
	TierKeyword    Tier = "keyword"
	TierPositional Tier = "positional"
)

// Positional offsets of the W-1 query results table.
const (
	PositionalAPI      = 2
	PositionalOperator = 3
	PositionalLease    = 4
	PositionalWell     = 5
	PositionalCounty   = 7
)

// Columns maps record fields to cell indices. A negative index means the field
// is not present on the page.
type Columns struct {
	API      int
	Operator int
	Lease    int
	Well     int
	County   int
	Date     int
	Tier     Tier
}

// positional is the fixed layout used when headers are absent or unrecognized.
func positional() Columns {
	return Columns{
		API:      PositionalAPI,
		Operator: PositionalOperator,
		Lease:    PositionalLease,
		Well:     PositionalWell,
		County:   PositionalCounty,
		Date:     -1,
		Tier:     TierPositional,
	}
}

type keywordField struct {
	keyword string
	target  func(*Columns) *int
}

// Checked in order per header cell; the first keyword found claims the cell.
var keywordFields = []keywordField{
	{"API", func(c *Columns) *int { return &c.API }},
	{"COUNTY", func(c *Columns) *int { return &c.County }},
	{"OPERATOR", func(c *Columns) *int { return &c.Operator }},
	{"LEASE", func(c *Columns) *int { return &c.Lease }},
	{"WELL", func(c *Columns) *int { return &c.Well }},
	{"DATE", func(c *Columns) *int { return &c.Date }},
}

// ResolveColumns runs the keyword pass over the header cells and falls back to
// positional offsets when it does not find a usable mapping. A keyword mapping
// is usable when it locates the operator column and at least one of the API or
// lease columns. Fields it misses are taken from the positional layout if that
// cell was not claimed by another keyword.
func ResolveColumns(header []string) Columns {
	cols := Columns{API: -1, Operator: -1, Lease: -1, Well: -1, County: -1, Date: -1}
	claimed := make(map[int]bool, len(header))

	for i, text := range header {
		upper := strings.ToUpper(text)
		for _, f := range keywordFields {
			if !strings.Contains(upper, f.keyword) {
				continue
			}
			idx := f.target(&cols)
			if *idx < 0 {
				*idx = i
				claimed[i] = true
			}
			break
		}
	}

	if cols.Operator < 0 || (cols.API < 0 && cols.Lease < 0) {
		return positional()
	}

	fallback := positional()
	fill := func(idx *int, def int) {
		if *idx < 0 && def < len(header) && !claimed[def] {
			*idx = def
			claimed[def] = true
		}
	}
	fill(&cols.API, fallback.API)
	fill(&cols.Lease, fallback.Lease)
	fill(&cols.Well, fallback.Well)
	fill(&cols.County, fallback.County)
	cols.Tier = TierKeyword
	return cols
}
