package concept

import "fincache/pkg/models"

// defaultMappings is the built-in table. Domestic concepts are listed before
// their international equivalents; Concepts() reorders per filer standard.
var defaultMappings = []Mapping{
	// Balance sheet
	{Metric: "total_assets", Statement: models.BalanceSheet, Concepts: []string{
		"us-gaap:Assets",
		"ifrs-full:Assets",
	}},
	{Metric: "current_assets", Statement: models.BalanceSheet, Concepts: []string{
		"us-gaap:AssetsCurrent",
		"ifrs-full:CurrentAssets",
	}},
	{Metric: "cash", Statement: models.BalanceSheet, Concepts: []string{
		"us-gaap:CashAndCashEquivalentsAtCarryingValue",
		"us-gaap:CashCashEquivalentsRestrictedCashAndRestrictedCashEquivalents",
		"us-gaap:Cash",
		"ifrs-full:CashAndCashEquivalents",
	}},
	{Metric: "total_liabilities", Statement: models.BalanceSheet, Concepts: []string{
		"us-gaap:Liabilities",
		"ifrs-full:Liabilities",
	}},
	{Metric: "current_liabilities", Statement: models.BalanceSheet, Concepts: []string{
		"us-gaap:LiabilitiesCurrent",
		"ifrs-full:CurrentLiabilities",
	}},
	{Metric: "long_term_debt", Statement: models.BalanceSheet, Concepts: []string{
		"us-gaap:LongTermDebtNoncurrent",
		"us-gaap:LongTermDebt",
		"ifrs-full:NoncurrentPortionOfNoncurrentBorrowings",
		"ifrs-full:NoncurrentBorrowings",
	}},
	{Metric: "equity", Statement: models.BalanceSheet, Concepts: []string{
		"us-gaap:StockholdersEquity",
		"us-gaap:StockholdersEquityIncludingPortionAttributableToNoncontrollingInterest",
		"ifrs-full:EquityAttributableToOwnersOfParent",
		"ifrs-full:Equity",
	}},
	{Metric: "minority_interest", Statement: models.BalanceSheet, Concepts: []string{
		"us-gaap:MinorityInterest",
		"ifrs-full:NoncontrollingInterests",
	}},
	{Metric: "liabilities_and_equity", Statement: models.BalanceSheet, Concepts: []string{
		"us-gaap:LiabilitiesAndStockholdersEquity",
		"ifrs-full:EquityAndLiabilities",
	}},

	// Income statement
	{Metric: "revenue", Statement: models.IncomeStatement, Concepts: []string{
		"us-gaap:Revenues",
		"us-gaap:RevenueFromContractWithCustomerExcludingAssessedTax",
		"us-gaap:SalesRevenueNet",
		"ifrs-full:Revenue",
		"ifrs-full:RevenueFromContractsWithCustomers",
	}},
	{Metric: "cost_of_revenue", Statement: models.IncomeStatement, Concepts: []string{
		"us-gaap:CostOfRevenue",
		"us-gaap:CostOfGoodsAndServicesSold",
		"ifrs-full:CostOfSales",
	}},
	{Metric: "gross_profit", Statement: models.IncomeStatement, Concepts: []string{
		"us-gaap:GrossProfit",
		"ifrs-full:GrossProfit",
	}},
	{Metric: "operating_income", Statement: models.IncomeStatement, Concepts: []string{
		"us-gaap:OperatingIncomeLoss",
		"ifrs-full:ProfitLossFromOperatingActivities",
	}},
	{Metric: "net_income", Statement: models.IncomeStatement, Concepts: []string{
		"us-gaap:NetIncomeLoss",
		"us-gaap:ProfitLoss",
		"us-gaap:NetIncomeLossAvailableToCommonStockholdersBasic",
		"ifrs-full:ProfitLossAttributableToOwnersOfParent",
		"ifrs-full:ProfitLoss",
	}},
	{Metric: "eps_diluted", Statement: models.IncomeStatement, Concepts: []string{
		"us-gaap:EarningsPerShareDiluted",
		"ifrs-full:DilutedEarningsLossPerShare",
	}},

	// Cash flow
	{Metric: "operating_cash_flow", Statement: models.CashFlow, Concepts: []string{
		"us-gaap:NetCashProvidedByUsedInOperatingActivities",
		"us-gaap:NetCashProvidedByUsedInOperatingActivitiesContinuingOperations",
		"ifrs-full:CashFlowsFromUsedInOperatingActivities",
	}},
	{Metric: "investing_cash_flow", Statement: models.CashFlow, Concepts: []string{
		"us-gaap:NetCashProvidedByUsedInInvestingActivities",
		"ifrs-full:CashFlowsFromUsedInInvestingActivities",
	}},
	{Metric: "financing_cash_flow", Statement: models.CashFlow, Concepts: []string{
		"us-gaap:NetCashProvidedByUsedInFinancingActivities",
		"ifrs-full:CashFlowsFromUsedInFinancingActivities",
	}},
	{Metric: "capex", Statement: models.CashFlow, Concepts: []string{
		"us-gaap:PaymentsToAcquirePropertyPlantAndEquipment",
		"ifrs-full:PurchaseOfPropertyPlantAndEquipmentClassifiedAsInvestingActivities",
	}},
}

// Default returns the built-in concept map.
func Default() *Map {
	return New(defaultMappings...)
}
