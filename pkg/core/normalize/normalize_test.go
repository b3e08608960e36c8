package normalize

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fincache/pkg/core/edgar"
	"fincache/pkg/models"
)

var acmeFiling = models.Filing{Entity: "ACME", Form: models.Form10K, FilingDate: "2024-01-01"}

func TestParseValue(t *testing.T) {
	tests := []struct {
		in   string
		want float64
		ok   bool
	}{
		{"1234", 1234, true},
		{"1,234.5", 1234.5, true},
		{"(1,234)", -1234, true},
		{"-42", -42, true},
		{"$ 10", 10, true},
		{"1e3", 1000, true},
		{"", 0, false},
		{"   ", 0, false},
		{"-", 0, false},
		{"—", 0, false},
		{"n/a", 0, false},
		{"NaN", 0, false},
		{"Inf", 0, false},
		{"1e400", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := ParseValue(tt.in)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.InDelta(t, tt.want, got, 1e-9)
			}
		})
	}
}

func TestCurrency(t *testing.T) {
	assert.Equal(t, "USD", Currency("USD"))
	assert.Equal(t, "USD", Currency("USD/shares"))
	assert.Equal(t, "EUR", Currency("iso4217:EUR"))
	assert.Equal(t, "", Currency("shares"))
	assert.Equal(t, "", Currency("pure"))
	assert.Equal(t, "", Currency(""))
}

func TestPeriods_MostRecentFirst(t *testing.T) {
	raw := &edgar.RawStatement{Items: []edgar.RawItem{
		{Concept: "a", Values: map[string]string{
			"2022-10-01_2023-09-30": "1",
			"2023-10-01_2024-09-28": "2",
			"2024-06-30_2024-09-28": "3",
		}},
	}}
	assert.Equal(t, []string{
		"2023-10-01_2024-09-28",
		"2024-06-30_2024-09-28",
		"2022-10-01_2023-09-30",
	}, Periods(raw))
}

func TestStatement_KeepsMostRecentPeriodAndDropsBadValues(t *testing.T) {
	raw := &edgar.RawStatement{
		Kind: models.BalanceSheet,
		Items: []edgar.RawItem{
			{Concept: "us-gaap:AssetsAbstract", Label: "Assets", Abstract: true,
				Values: map[string]string{"2099-01-01": "1"}},
			{Concept: "us-gaap:Assets", Label: " Total assets ", Level: 1,
				Values: map[string]string{"2023-12-31": "500", "2022-12-31": "450"},
				Units:  map[string]string{"2023-12-31": "USD", "2022-12-31": "USD"}},
			{Concept: "us-gaap:Liabilities", Label: "Total liabilities",
				Values: map[string]string{"2023-12-31": "not a number", "2022-12-31": "250"}},
			{Concept: "us-gaap:StockholdersEquity", Label: "Total equity",
				Values: map[string]string{"2023-12-31": "", "2022-12-31": "200"}},
			{Concept: "us-gaap:Goodwill", Label: "Goodwill",
				Values: map[string]string{"2022-12-31": "10"}},
			{Concept: "us-gaap:Assets", Label: "Duplicate",
				Values: map[string]string{"2023-12-31": "999"}},
		},
	}

	res := Statement(acmeFiling, raw)

	assert.Equal(t, models.BalanceSheet, res.Kind)
	assert.Equal(t, "2023-12-31", res.Period)
	assert.Equal(t, "2022-12-31", res.Prior)
	assert.Equal(t, 1, res.Dropped, "only the non-numeric value counts; blanks are not failures")

	require.Len(t, res.Items, 1)
	item := res.Items[0]
	assert.Equal(t, "us-gaap:Assets", item.Concept)
	assert.Equal(t, "Total assets", item.Label)
	assert.Equal(t, 500.0, item.Value)
	assert.Equal(t, "USD", item.Currency)
	assert.Equal(t, "ACME", item.Entity)
	assert.Equal(t, "2024-01-01", item.FilingDate)
	assert.Equal(t, 1, item.Level)

	assert.Equal(t, map[string]float64{"us-gaap:Assets": 450}, res.PriorValues)
}

func TestStatement_Nil(t *testing.T) {
	res := Statement(acmeFiling, nil)
	assert.Empty(t, res.Items)
	assert.Zero(t, res.Dropped)
}
