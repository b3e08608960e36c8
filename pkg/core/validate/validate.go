// Package validate decides whether a freshly normalized statement set can be
// trusted: all statements present, current-period values detected, the
// balance-sheet equation holding, enough line items, and the critical
// concepts reported.
//
// Data-quality problems are report data. Check never returns an error.
package validate

import (
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"fincache/pkg/core/concept"
	"fincache/pkg/models"
)

// DefaultTolerance is the relative tolerance of the balance-sheet equation,
// measured against total assets.
const DefaultTolerance = 0.001

// DefaultMinCounts are the per-statement line-item counts below which a
// warning is raised.
var DefaultMinCounts = map[models.StatementKind]int{
	models.BalanceSheet:    15,
	models.IncomeStatement: 10,
	models.CashFlow:        15,
}

// criticalMetrics must be present in each statement.
var criticalMetrics = map[models.StatementKind][]string{
	models.BalanceSheet:    {"total_assets"},
	models.IncomeStatement: {"revenue", "net_income"},
	models.CashFlow:        {"operating_cash_flow"},
}

// =============================================================================
// INPUT
// =============================================================================

// Item is one line item with its current and prior period values. A nil
// value means the period was not reported for the item.
type Item struct {
	Concept string
	Label   string
	Current *float64
	Prior   *float64
}

// Statement is the items of one statement kind.
type Statement struct {
	Kind  models.StatementKind
	Items []Item
}

// StatementSet is the input of Check.
type StatementSet []Statement

// Get returns the first non-empty statement of kind.
func (s StatementSet) Get(kind models.StatementKind) (Statement, bool) {
	for _, st := range s {
		if st.Kind == kind && len(st.Items) > 0 {
			return st, true
		}
	}
	return Statement{}, false
}

// FromLineItems builds a Statement from cached line items. prior holds the
// prior-period value per concept and may be nil.
func FromLineItems(kind models.StatementKind, items []models.LineItem, prior map[string]float64) Statement {
	st := Statement{Kind: kind, Items: make([]Item, 0, len(items))}
	for _, li := range items {
		cur := li.Value
		it := Item{Concept: li.Concept, Label: li.Label, Current: &cur}
		if p, ok := prior[li.Concept]; ok {
			it.Prior = &p
		}
		st.Items = append(st.Items, it)
	}
	return st
}

// =============================================================================
// OUTPUT
// =============================================================================

// Stats are the measurements taken while checking.
type Stats struct {
	LineItems                map[models.StatementKind]int `json:"line_items"`
	BalanceSheetVerified     bool                         `json:"balance_sheet_verified"`
	LiabilitiesReconstructed bool                         `json:"liabilities_reconstructed"`
}

// Equation is the balance-sheet identity as evaluated.
type Equation struct {
	Assets      float64 `json:"assets"`
	Liabilities float64 `json:"liabilities"`
	Equity      float64 `json:"equity"`
	Minority    float64 `json:"minority"`   // noncontrolling interest added to the right side
	Redeemable  float64 `json:"redeemable"` // redeemable noncontrolling interest
	Difference  float64 `json:"difference"` // Assets - (Liabilities + Equity + Minority + Redeemable)
	Holds       bool    `json:"holds"`
}

// Report is the outcome of Check. Valid is true iff Errors is empty.
type Report struct {
	Valid    bool      `json:"valid"`
	Errors   []string  `json:"errors"`
	Warnings []string  `json:"warnings"`
	Stats    Stats     `json:"stats"`
	Equation *Equation `json:"equation,omitempty"` // nil when the equation could not be attempted
}

func (r *Report) errorf(format string, args ...any) {
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
}

func (r *Report) warnf(format string, args ...any) {
	r.Warnings = append(r.Warnings, fmt.Sprintf(format, args...))
}

// =============================================================================
// VALIDATOR
// =============================================================================

// Validator runs the completeness checks.
type Validator struct {
	concepts  *concept.Map
	Tolerance float64
	MinCounts map[models.StatementKind]int
	logger    *zap.Logger
}

// New creates a Validator. A nil map uses concept.Default().
func New(m *concept.Map, logger *zap.Logger) *Validator {
	if m == nil {
		m = concept.Default()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	counts := make(map[models.StatementKind]int, len(DefaultMinCounts))
	for k, v := range DefaultMinCounts {
		counts[k] = v
	}
	return &Validator{concepts: m, Tolerance: DefaultTolerance, MinCounts: counts, logger: logger}
}

// Check runs, in order: statement presence (fatal, stops the check),
// current/prior period detection, the balance-sheet equation, minimum
// line-item counts and critical concepts.
func (v *Validator) Check(set StatementSet) Report {
	rep := Report{Stats: Stats{LineItems: make(map[models.StatementKind]int, 3)}}
	for _, kind := range models.StatementKinds {
		if st, ok := set.Get(kind); ok {
			rep.Stats.LineItems[kind] = len(st.Items)
		} else {
			rep.Stats.LineItems[kind] = 0
		}
	}

	missing := false
	for _, kind := range models.StatementKinds {
		if _, ok := set.Get(kind); !ok {
			rep.errorf("missing statement: %s", kind.Title())
			missing = true
		}
	}
	if missing {
		return v.finish(rep)
	}

	v.checkPeriods(set, &rep)
	v.checkEquation(set, &rep)
	v.checkCounts(set, &rep)
	v.checkCritical(set, &rep)
	return v.finish(rep)
}

func (v *Validator) finish(rep Report) Report {
	rep.Valid = len(rep.Errors) == 0
	v.logger.Debug("completeness checked",
		zap.Bool("valid", rep.Valid),
		zap.Int("errors", len(rep.Errors)),
		zap.Int("warnings", len(rep.Warnings)),
		zap.Bool("balance_sheet_verified", rep.Stats.BalanceSheetVerified))
	return rep
}

func (v *Validator) checkPeriods(set StatementSet, rep *Report) {
	for _, kind := range models.StatementKinds {
		st, _ := set.Get(kind)
		var current, prior bool
		for _, it := range st.Items {
			current = current || it.Current != nil
			prior = prior || it.Prior != nil
		}
		if !current {
			rep.errorf("%s: no current-period values", kind.Title())
		}
		if !prior {
			rep.warnf("%s: no prior-period values", kind.Title())
		}
	}
}

func (v *Validator) checkEquation(set StatementSet, rep *Report) {
	bs, _ := set.Get(models.BalanceSheet)
	keys := discover(bs.Items)

	if keys.assets == nil {
		rep.warnf("balance sheet equation not checked: no total assets item found")
		return
	}
	if keys.equity == nil {
		rep.warnf("balance sheet equation not checked: no total equity item found")
		return
	}

	liabilities := keys.liabilities
	if liabilities == nil {
		total, ok := reconstructLiabilities(bs.Items)
		if !ok {
			rep.warnf("balance sheet equation not checked: no total liabilities item found")
			return
		}
		liabilities = &total
		rep.Stats.LiabilitiesReconstructed = true
		rep.warnf("total liabilities reconstructed from components: %s", format(total))
	}

	eq := Equation{
		Assets:      *keys.assets,
		Liabilities: *liabilities,
		Equity:      *keys.equity,
	}
	if keys.minority != nil && !keys.equityIncludesMinority {
		eq.Minority = *keys.minority
	}
	if keys.redeemable != nil {
		eq.Redeemable = *keys.redeemable
	}

	assets := decimal.NewFromFloat(eq.Assets)
	rhs := decimal.NewFromFloat(eq.Liabilities).
		Add(decimal.NewFromFloat(eq.Equity)).
		Add(decimal.NewFromFloat(eq.Minority)).
		Add(decimal.NewFromFloat(eq.Redeemable))
	diff := assets.Sub(rhs)
	allowed := assets.Abs().Mul(decimal.NewFromFloat(v.Tolerance))

	eq.Difference, _ = diff.Float64()
	eq.Holds = diff.Abs().LessThanOrEqual(allowed)
	rep.Equation = &eq

	if !eq.Holds {
		rep.errorf("balance sheet equation mismatch: assets %s != liabilities %s + equity %s%s (difference %s)",
			format(eq.Assets), format(eq.Liabilities), format(eq.Equity), extras(eq), diff.String())
		return
	}
	rep.Stats.BalanceSheetVerified = true
}

func extras(eq Equation) string {
	var s string
	if eq.Minority != 0 {
		s += " + noncontrolling interest " + format(eq.Minority)
	}
	if eq.Redeemable != 0 {
		s += " + redeemable noncontrolling interest " + format(eq.Redeemable)
	}
	return s
}

func (v *Validator) checkCounts(set StatementSet, rep *Report) {
	for _, kind := range models.StatementKinds {
		n := rep.Stats.LineItems[kind]
		if want := v.MinCounts[kind]; n < want {
			rep.warnf("%s has %d line items, expected at least %d", kind.Title(), n, want)
		}
	}
}

func (v *Validator) checkCritical(set StatementSet, rep *Report) {
	for _, kind := range models.StatementKinds {
		st, _ := set.Get(kind)
		for _, metric := range criticalMetrics[kind] {
			if !v.hasMetric(st.Items, metric) {
				rep.errorf("%s: missing critical item %s", kind.Title(), metric)
			}
		}
	}
}

func (v *Validator) hasMetric(items []Item, metric string) bool {
	for _, it := range items {
		if it.Concept != "" && v.concepts.Matches(metric, it.Concept) {
			return true
		}
	}
	rules := criticalLabelRules[metric]
	for _, it := range items {
		for _, r := range rules {
			if r.Match(it) {
				return true
			}
		}
	}
	return false
}

func format(f float64) string {
	return decimal.NewFromFloat(f).String()
}
