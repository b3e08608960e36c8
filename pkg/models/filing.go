package models

import (
	"strings"
	"time"
)

// DateLayout is the layout used for filing dates everywhere in the cache.
const DateLayout = "2006-01-02"

// FormKind is the taxonomy form of a filing ("10-K", "20-F", "10-Q", "6-K").
type FormKind string

const (
	Form10K FormKind = "10-K" // domestic annual
	Form20F FormKind = "20-F" // foreign annual
	Form10Q FormKind = "10-Q" // domestic interim
	Form6K  FormKind = "6-K"  // foreign interim
)

// IsAnnual reports whether the form is one of the accepted annual forms.
func (f FormKind) IsAnnual() bool {
	return f == Form10K || f == Form20F
}

// IsForeign reports whether the form belongs to the foreign-filer cadence.
func (f FormKind) IsForeign() bool {
	return f == Form20F || f == Form6K
}

// Interim returns the interim form matching an annual form.
func (f FormKind) Interim() FormKind {
	if f == Form20F {
		return Form6K
	}
	return Form10Q
}

// Standard is the accounting taxonomy a filer reports under.
type Standard string

const (
	StandardUSGAAP Standard = "us-gaap"
	StandardIFRS   Standard = "ifrs-full"
)

// StandardFor returns the accounting standard implied by the foreign flag.
func StandardFor(foreign bool) Standard {
	if foreign {
		return StandardIFRS
	}
	return StandardUSGAAP
}

// StatementKind identifies one of the three primary financial statements.
type StatementKind string

const (
	BalanceSheet    StatementKind = "balance_sheet"
	IncomeStatement StatementKind = "income_statement"
	CashFlow        StatementKind = "cash_flow"
)

// StatementKinds lists the statements in canonical order.
var StatementKinds = []StatementKind{BalanceSheet, IncomeStatement, CashFlow}

// Valid reports whether k is one of the three known statements.
func (k StatementKind) Valid() bool {
	switch k {
	case BalanceSheet, IncomeStatement, CashFlow:
		return true
	}
	return false
}

// Title is the human-readable statement name.
func (k StatementKind) Title() string {
	switch k {
	case BalanceSheet:
		return "Balance Sheet"
	case IncomeStatement:
		return "Income Statement"
	case CashFlow:
		return "Cash Flow Statement"
	}
	return string(k)
}

// Filing is the cached metadata of one regulatory filing.
// Identity key is (Entity, Form, FilingDate).
type Filing struct {
	ID           int64     `json:"id,omitempty"`
	Entity       string    `json:"entity"`
	Form         FormKind  `json:"form"`
	FilingDate   string    `json:"filing_date"` // YYYY-MM-DD
	FiscalYear   int       `json:"fiscal_year"`
	FiscalPeriod string    `json:"fiscal_period"` // "FY", "Q1".."Q3"
	Accession    string    `json:"accession"`
	SourceURL    string    `json:"source_url"`
	Foreign      bool      `json:"foreign"`
	Standard     Standard  `json:"standard"`
	CachedAt     time.Time `json:"cached_at,omitempty"`
	LastAccessed time.Time `json:"last_accessed,omitempty"`
}

// LineItem is one normalized statement row. Value is always a finite number;
// rows whose source value did not parse are never created.
type LineItem struct {
	FilingID   int64   `json:"filing_id,omitempty"`
	Entity     string  `json:"entity"`
	FilingDate string  `json:"filing_date"`
	Concept    string  `json:"concept"`
	Label      string  `json:"label"`
	Value      float64 `json:"value"`
	Currency   string  `json:"currency,omitempty"`
	Unit       string  `json:"unit,omitempty"`
	Level      int     `json:"level"`
}

// NormalizeEntity upper-cases and trims an entity identifier.
func NormalizeEntity(entity string) string {
	return strings.ToUpper(strings.TrimSpace(entity))
}
