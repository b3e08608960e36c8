package validate

import (
	"strings"

	"fincache/pkg/core/concept"
)

// Rule recognizes one kind of key line item. Rules are tried in list order
// and the first rule with a matching item wins, so a list reads from the
// most specific layout to the most generic one. A filer layout that no rule
// recognizes produces a warning; the fix is another rule.
type Rule struct {
	Name  string
	Match func(Item) bool
	// IncludesMinority marks equity rules whose item already contains
	// noncontrolling interest.
	IncludesMinority bool
}

// AssetRules find total assets.
var AssetRules = []Rule{
	{Name: "assets concept", Match: conceptIs("us-gaap:Assets", "ifrs-full:Assets")},
	{Name: "total assets label", Match: labelAll([]string{"total", "asset"}, "liabilit", "current")},
}

// LiabilityRules find total liabilities.
var LiabilityRules = []Rule{
	{Name: "liabilities concept", Match: conceptIs("us-gaap:Liabilities", "ifrs-full:Liabilities")},
	{Name: "total liabilities label", Match: labelAll([]string{"total", "liabilit"}, "equity", "deficit", "current")},
}

// EquityRules find total equity.
var EquityRules = []Rule{
	{
		Name:             "equity including noncontrolling concept",
		Match:            conceptIs("us-gaap:StockholdersEquityIncludingPortionAttributableToNoncontrollingInterest", "ifrs-full:Equity"),
		IncludesMinority: true,
	},
	{
		Name:  "parent equity concept",
		Match: conceptIs("us-gaap:StockholdersEquity", "ifrs-full:EquityAttributableToOwnersOfParent"),
	},
	{
		Name: "total stockholders equity label",
		Match: func(it Item) bool {
			l := label(it)
			return contains(l, "equity") &&
				(contains(l, "total") || contains(l, "attributable")) &&
				containsAny(l, "stockholder", "shareholder", "owners of the parent", "attributable to owners", "attributable to parent") &&
				!containsAny(l, "liabilit", "noncontrolling", "non-controlling", "minority")
		},
	},
	{
		Name: "total stockholders deficit label",
		Match: func(it Item) bool {
			l := label(it)
			return contains(l, "total") && containsAny(l, "stockholders' deficit", "shareholders' deficit", "stockholders deficit", "shareholders deficit") &&
				!contains(l, "liabilit")
		},
	},
	{
		Name:             "total equity label",
		Match:            labelAll([]string{"total", "equity"}, "liabilit"),
		IncludesMinority: true,
	},
	{
		Name:  "equity label",
		Match: labelAll([]string{"equity"}, "liabilit", "noncontrolling", "non-controlling", "minority", "method", "investment", "securities"),
	},
}

// MinorityRules find noncontrolling interest presented in equity.
var MinorityRules = []Rule{
	{Name: "noncontrolling concept", Match: conceptIs("us-gaap:MinorityInterest", "ifrs-full:NoncontrollingInterests")},
	{
		Name: "noncontrolling label",
		Match: func(it Item) bool {
			l := label(it)
			return containsAny(l, "noncontrolling interest", "non-controlling interest", "minority interest") &&
				!containsAny(l, "redeemable", "liabilit", "stockholder", "shareholder", "total equity")
		},
	},
}

// RedeemableRules find redeemable noncontrolling interest, which is
// presented between liabilities and equity.
var RedeemableRules = []Rule{
	{
		Name: "redeemable noncontrolling concept",
		Match: conceptIs("us-gaap:RedeemableNoncontrollingInterestEquityCarryingAmount",
			"us-gaap:RedeemableNoncontrollingInterestEquityFairValue"),
	},
	{
		Name: "redeemable noncontrolling label",
		Match: func(it Item) bool {
			l := label(it)
			return contains(l, "redeemable") && containsAny(l, "noncontrolling", "non-controlling", "minority")
		},
	},
}

// CurrentLiabilityRules find total current liabilities for reconstruction.
var CurrentLiabilityRules = []Rule{
	{Name: "current liabilities concept", Match: conceptIs("us-gaap:LiabilitiesCurrent", "ifrs-full:CurrentLiabilities")},
	{Name: "total current liabilities label", Match: func(it Item) bool {
		l := label(it)
		return contains(l, "total") && contains(l, "current") && contains(l, "liabilit") &&
			!noncurrent(l) && !containsAny(l, "equity", "asset")
	}},
}

// NoncurrentLiabilityRules find total non-current liabilities.
var NoncurrentLiabilityRules = []Rule{
	{Name: "noncurrent liabilities concept", Match: conceptIs("us-gaap:LiabilitiesNoncurrent", "ifrs-full:NoncurrentLiabilities")},
	{
		Name: "total non-current liabilities label",
		Match: func(it Item) bool {
			l := label(it)
			return contains(l, "total") && contains(l, "liabilit") && noncurrent(l) && !contains(l, "equity")
		},
	},
}

// ComponentRules find non-current liability components when neither a total
// liabilities nor a total non-current liabilities item exists. Each list
// contributes at most one item.
var ComponentRules = [][]Rule{
	{
		{Name: "noncurrent lease concept", Match: conceptIs("us-gaap:OperatingLeaseLiabilityNoncurrent", "ifrs-full:NoncurrentLeaseLiabilities")},
		{Name: "noncurrent lease label", Match: func(it Item) bool {
			l := label(it)
			return contains(l, "lease") && contains(l, "liabilit") && noncurrent(l)
		}},
	},
	{
		{Name: "long-term debt concept", Match: conceptIs("us-gaap:LongTermDebtNoncurrent", "ifrs-full:NoncurrentPortionOfNoncurrentBorrowings")},
		{Name: "long-term debt label", Match: func(it Item) bool {
			l := label(it)
			return containsAny(l, "long-term debt", "long term debt", "non-current borrowings", "noncurrent borrowings") &&
				(netOfCurrent(l) || !containsAny(l, "current portion", "current maturities", "due within"))
		}},
	},
	{
		{Name: "other noncurrent liabilities concept", Match: conceptIs("us-gaap:OtherLiabilitiesNoncurrent", "ifrs-full:OtherNoncurrentLiabilities")},
		{Name: "other noncurrent liabilities label", Match: func(it Item) bool {
			l := label(it)
			return contains(l, "other") && contains(l, "liabilit") && noncurrent(l) && !contains(l, "total")
		}},
	},
}

// criticalLabelRules back up the concept map when a critical item is only
// recognizable by label.
var criticalLabelRules = map[string][]Rule{
	"total_assets": AssetRules[1:],
	"revenue": {{Name: "revenue label", Match: func(it Item) bool {
		l := label(it)
		return containsAny(l, "revenue", "net sales", "total sales") && !containsAny(l, "cost of", "deferred", "unearned")
	}}},
	"net_income": {{Name: "net income label", Match: func(it Item) bool {
		l := label(it)
		return containsAny(l, "net income", "net earnings", "net loss", "net profit", "profit for the year", "profit for the period") &&
			!containsAny(l, "per share", "comprehensive", "noncontrolling", "non-controlling")
	}}},
	"operating_cash_flow": {{Name: "operating activities label", Match: func(it Item) bool {
		l := label(it)
		return contains(l, "operating activities") && contains(l, "cash") && !containsAny(l, "discontinued", "adjustments")
	}}},
}

// =============================================================================
// DISCOVERY
// =============================================================================

type keyItems struct {
	assets, liabilities, equity *float64
	minority, redeemable        *float64
	equityIncludesMinority      bool
}

func discover(items []Item) keyItems {
	var k keyItems
	k.assets, _ = find(items, AssetRules, nil)
	k.liabilities, _ = find(items, LiabilityRules, nil)
	var rule *Rule
	k.equity, rule = find(items, EquityRules, nil)
	if rule != nil {
		k.equityIncludesMinority = rule.IncludesMinority
	}
	k.minority, _ = find(items, MinorityRules, nil)
	k.redeemable, _ = find(items, RedeemableRules, nil)
	return k
}

// find returns the current value of the first item matched by the first
// matching rule. Items at indexes in used are skipped and the match is
// recorded there.
func find(items []Item, rules []Rule, used map[int]bool) (*float64, *Rule) {
	for ri := range rules {
		for i, it := range items {
			if it.Current == nil || used[i] {
				continue
			}
			if rules[ri].Match(it) {
				if used != nil {
					used[i] = true
				}
				v := *it.Current
				return &v, &rules[ri]
			}
		}
	}
	return nil, nil
}

// reconstructLiabilities sums total current liabilities with either total
// non-current liabilities or the identified non-current components. It
// fails only when there is no total current liabilities item.
func reconstructLiabilities(items []Item) (float64, bool) {
	used := make(map[int]bool)
	current, _ := find(items, CurrentLiabilityRules, used)
	if current == nil {
		return 0, false
	}
	total := *current
	if nc, _ := find(items, NoncurrentLiabilityRules, used); nc != nil {
		return total + *nc, true
	}
	for _, rules := range ComponentRules {
		if v, _ := find(items, rules, used); v != nil {
			total += *v
		}
	}
	return total, true
}

// =============================================================================
// MATCHING HELPERS
// =============================================================================

func conceptIs(ids ...string) func(Item) bool {
	want := make(map[string]bool, len(ids))
	for _, id := range ids {
		want[concept.Canonical(id)] = true
	}
	return func(it Item) bool {
		return it.Concept != "" && want[concept.Canonical(it.Concept)]
	}
}

// labelAll matches labels containing every word of all and none of exclude.
func labelAll(all []string, exclude ...string) func(Item) bool {
	return func(it Item) bool {
		l := label(it)
		for _, w := range all {
			if !contains(l, w) {
				return false
			}
		}
		return !containsAny(l, exclude...)
	}
}

func label(it Item) string {
	// Curly apostrophes and doubled spaces show up in filer labels.
	l := strings.ToLower(it.Label)
	l = strings.ReplaceAll(l, "’", "'")
	return strings.Join(strings.Fields(l), " ")
}

func noncurrent(l string) bool {
	return containsAny(l, "non-current", "noncurrent", "long-term", "long term") || netOfCurrent(l)
}

// netOfCurrent reports labels such as "net of current portion" that name the
// non-current remainder of a split item.
func netOfCurrent(l string) bool {
	for _, lead := range []string{"net of ", "less ", "excluding ", "excl. ", "exclusive of "} {
		if containsAny(l, lead+"current portion", lead+"current maturities", lead+"the current portion", lead+"current installments") {
			return true
		}
	}
	return false
}

func contains(s, sub string) bool { return strings.Contains(s, sub) }

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
