// Package normalize converts raw statement payloads into cache line items.
//
// For each statement only the most recent reported period is kept, so a
// concept appears at most once per filing and statement. Values that are
// blank or not finite numbers are dropped and counted, never stored as zero.
package normalize

import (
	"math"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"fincache/pkg/core/edgar"
	"fincache/pkg/models"
)

// Result is the normalized output of one statement.
type Result struct {
	Kind    models.StatementKind
	Period  string // descriptor of the retained period
	Prior   string // descriptor of the next older period, if any
	Items   []models.LineItem
	Dropped int // values present for the retained period that did not parse

	// PriorValues holds the Prior-period value of each retained concept.
	// It is not cached; the completeness check uses it.
	PriorValues map[string]float64
}

// Statement normalizes raw for filing. Abstract/header rows are skipped.
// A nil raw statement yields an empty result.
func Statement(filing models.Filing, raw *edgar.RawStatement) Result {
	if raw == nil {
		return Result{}
	}
	res := Result{Kind: raw.Kind, PriorValues: make(map[string]float64)}

	periods := Periods(raw)
	if len(periods) == 0 {
		return res
	}
	res.Period = periods[0]
	if len(periods) > 1 {
		res.Prior = periods[1]
	}

	seen := make(map[string]bool)
	for _, it := range raw.Items {
		if it.Abstract || it.Concept == "" {
			continue
		}
		if seen[it.Concept] {
			continue
		}
		rawVal, ok := it.Values[res.Period]
		if !ok {
			continue
		}
		val, ok := ParseValue(rawVal)
		if !ok {
			if strings.TrimSpace(rawVal) != "" {
				res.Dropped++
			}
			continue
		}
		seen[it.Concept] = true
		if res.Prior != "" {
			if pv, ok := ParseValue(it.Values[res.Prior]); ok {
				res.PriorValues[it.Concept] = pv
			}
		}

		unit := it.Units[res.Period]
		res.Items = append(res.Items, models.LineItem{
			Entity:     filing.Entity,
			FilingDate: filing.FilingDate,
			Concept:    it.Concept,
			Label:      strings.TrimSpace(it.Label),
			Value:      val,
			Currency:   Currency(unit),
			Unit:       unit,
			Level:      it.Level,
		})
	}
	return res
}

// Periods returns the distinct period descriptors of a statement, most
// recent first. Durations sort by end date; on equal end dates the longer
// duration (earlier start) wins, so a fiscal year beats its last quarter.
func Periods(raw *edgar.RawStatement) []string {
	set := make(map[string]bool)
	for _, it := range raw.Items {
		if it.Abstract {
			continue
		}
		for p := range it.Values {
			if p != "" {
				set[p] = true
			}
		}
	}
	out := make([]string, 0, len(set))
	for p := range set {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		si, ei := split(out[i])
		sj, ej := split(out[j])
		if ei != ej {
			return ei > ej
		}
		if si != sj {
			return si < sj
		}
		return out[i] < out[j]
	})
	return out
}

// split returns (start, end) of a period descriptor; instants have no start.
func split(period string) (string, string) {
	if i := strings.Index(period, "_"); i >= 0 {
		return period[:i], period[i+1:]
	}
	return "", period
}

// ParseValue converts a source string to a finite number. Thousands
// separators, currency symbols and accounting parentheses are accepted:
// "(1,234)" is -1234. Blank and non-numeric input report false.
func ParseValue(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if s == "" || s == "-" || s == "—" {
		return 0, false
	}
	negative := false
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		negative = true
		s = strings.TrimSpace(s[1 : len(s)-1])
	}
	s = strings.NewReplacer(",", "", "$", "", "€", "", "£", "", " ", "").Replace(s)
	if s == "" {
		return 0, false
	}

	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, false
	}
	if negative {
		d = d.Neg()
	}
	f, _ := d.Float64()
	if math.IsInf(f, 0) || math.IsNaN(f) {
		return 0, false
	}
	return f, true
}

// Currency extracts the ISO currency from a unit: "USD" and "USD/shares"
// both give "USD"; "shares" and "pure" give "".
func Currency(unit string) string {
	head := unit
	if i := strings.Index(unit, "/"); i >= 0 {
		head = unit[:i]
	}
	head = strings.TrimPrefix(strings.ToUpper(strings.TrimSpace(head)), "ISO4217:")
	if len(head) != 3 {
		return ""
	}
	for _, r := range head {
		if r < 'A' || r > 'Z' {
			return ""
		}
	}
	return head
}
