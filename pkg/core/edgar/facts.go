package edgar

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"fincache/pkg/models"
)

// companyFacts is the companyfacts API payload:
// facts[namespace][concept] = {label, units[unit] = [fact...]}.
type companyFacts struct {
	CIK        json.Number                        `json:"cik"`
	EntityName string                             `json:"entityName"`
	Facts      map[string]map[string]conceptFacts `json:"facts"`
}

type conceptFacts struct {
	Label string                 `json:"label"`
	Units map[string][]factEntry `json:"units"`
}

type factEntry struct {
	Start string      `json:"start"`
	End   string      `json:"end"`
	Val   json.Number `json:"val"`
	Accn  string      `json:"accn"`
	Form  string      `json:"form"`
	Filed string      `json:"filed"`
}

// statementNamespaces are the taxonomies whose facts make up statements.
var statementNamespaces = []string{"us-gaap", "ifrs-full"}

// cashFlowMarkers identify duration concepts that belong to the cash flow
// statement rather than the income statement.
var cashFlowMarkers = []string{
	"CashProvidedBy",
	"CashFlowsFrom",
	"PeriodIncreaseDecrease",
	"IncreaseDecreaseIn",
	"PaymentsTo",
	"PaymentsFor",
	"PaymentsOf",
	"ProceedsFrom",
	"RepaymentsOf",
	"PurchaseOf",
	"ShareBasedCompensation",
	"DepreciationDepletionAndAmortization",
	"DividendsPaid",
}

// GetStatement implements Repository. It builds the statement from the
// entity's companyfacts, keeping only facts reported in the filing's
// accession. Instants form the balance sheet; durations are split between
// income and cash flow by concept name.
func (c *Client) GetStatement(ctx context.Context, filing models.Filing, kind models.StatementKind) (*RawStatement, error) {
	if !kind.Valid() {
		return nil, eris.Errorf("unknown statement kind %q", kind)
	}
	facts, err := c.companyFacts(ctx, filing.Entity)
	if err != nil {
		return nil, err
	}

	stmt := &RawStatement{Kind: kind}
	for _, ns := range statementNamespaces {
		concepts := facts.Facts[ns]
		names := make([]string, 0, len(concepts))
		for name := range concepts {
			names = append(names, name)
		}
		sort.Strings(names)

		for _, name := range names {
			cf := concepts[name]
			item := RawItem{
				Concept: ns + ":" + name,
				Label:   cf.Label,
				Values:  make(map[string]string),
				Units:   make(map[string]string),
			}
			for _, unit := range unitOrder(cf.Units) {
				for _, e := range cf.Units[unit] {
					if e.Accn != filing.Accession {
						continue
					}
					if classify(name, e.Start != "") != kind {
						continue
					}
					period := e.End
					if e.Start != "" {
						period = e.Start + "_" + e.End
					}
					if u, ok := item.Units[period]; ok && u != unit {
						continue
					}
					item.Values[period] = e.Val.String()
					item.Units[period] = unit
				}
			}
			if len(item.Values) > 0 {
				stmt.Items = append(stmt.Items, item)
			}
		}
	}

	c.logger.Debug("built statement from company facts",
		zap.String("entity", filing.Entity),
		zap.String("accession", filing.Accession),
		zap.String("statement", string(kind)),
		zap.Int("items", len(stmt.Items)))
	return stmt, nil
}

// unitOrder lists units USD first, then alphabetically. A period reported in
// several units keeps the value of the first.
func unitOrder(units map[string][]factEntry) []string {
	out := make([]string, 0, len(units))
	for u := range units {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool {
		if (out[i] == "USD") != (out[j] == "USD") {
			return out[i] == "USD"
		}
		return out[i] < out[j]
	})
	return out
}

func (c *Client) companyFacts(ctx context.Context, entity string) (*companyFacts, error) {
	cik, err := c.LookupCIK(ctx, entity)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	cached, ok := c.facts[cik]
	c.mu.Unlock()
	if ok {
		return cached, nil
	}

	body, err := c.get(ctx, c.dataURL+fmt.Sprintf(companyFactsPath, cik))
	if err != nil {
		return nil, eris.Wrapf(err, "fetch company facts for %s", entity)
	}
	var facts companyFacts
	if err := json.Unmarshal(body, &facts); err != nil {
		return nil, eris.Wrapf(err, "parse company facts for %s", entity)
	}

	c.mu.Lock()
	c.facts[cik] = &facts
	c.mu.Unlock()
	return &facts, nil
}

func classify(concept string, duration bool) models.StatementKind {
	if !duration {
		return models.BalanceSheet
	}
	for _, m := range cashFlowMarkers {
		if strings.Contains(concept, m) {
			return models.CashFlow
		}
	}
	return models.IncomeStatement
}
