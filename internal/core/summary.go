package core

import "github.com/shopspring/decimal"

type (
	// MonthCell pairs the budgeted figure of one month with the actual
	// derived from transactions.
	MonthCell struct {
		Budget decimal.Decimal
		Actual decimal.Decimal
	}

	ItemData struct {
		Item   BudgetItem
		Months [12]MonthCell // index 0 = January
	}

	GroupData struct {
		Group BudgetGroup
		Items []ItemData
	}

	// BudgetData is the read model of one fiscal year: every group with its
	// items and their 12 monthly cells.
	BudgetData struct {
		YearID         int64
		Year           int
		InitialBalance decimal.Decimal
		Groups         []GroupData
	}

	// SectionTotal sums one section. Budget includes the standalone yearly
	// budgets of the section's items on top of the 12 monthly figures.
	SectionTotal struct {
		Budget decimal.Decimal
		Actual decimal.Decimal
	}

	Totals struct {
		Income  SectionTotal
		Expense SectionTotal
		Savings SectionTotal
	}

	// Expected holds the blended run-rate totals: realized actuals through
	// the current month, budgeted figures for the months after it.
	Expected struct {
		Income  decimal.Decimal
		Expense decimal.Decimal
		Savings decimal.Decimal
	}

	Summary struct {
		YearID           int64
		Year             int
		InitialBalance   decimal.Decimal
		Totals           Totals
		Expected         Expected
		RemainingBalance decimal.Decimal // projected end-of-year balance
	}
)

func (t *Totals) section(gt GroupType) *SectionTotal {
	switch gt {
	case GroupIncome:
		return &t.Income
	case GroupSavings:
		return &t.Savings
	default:
		return &t.Expense
	}
}

func (e *Expected) section(gt GroupType) *decimal.Decimal {
	switch gt {
	case GroupIncome:
		return &e.Income
	case GroupSavings:
		return &e.Savings
	default:
		return &e.Expense
	}
}

// CalculateTotals sums budget and actual figures per section across all
// groups, monthly cells and standalone yearly budgets.
func CalculateTotals(data BudgetData) Totals {
	var totals Totals
	for _, g := range data.Groups {
		sec := totals.section(g.Group.Type)
		for _, it := range g.Items {
			sec.Budget = sec.Budget.Add(it.Item.YearlyBudget)
			for m := 0; m < 12; m++ {
				sec.Budget = sec.Budget.Add(it.Months[m].Budget)
				sec.Actual = sec.Actual.Add(it.Months[m].Actual)
			}
		}
	}
	return totals
}

// ExpectedTotals blends actuals with budgets: months up to and including
// currentMonth contribute their actual, later months their budget. The
// unspent part of each item's yearly budget is added to the forward-looking
// portion so already-spent yearly allowances are not counted twice.
func ExpectedTotals(data BudgetData, currentMonth int) Expected {
	var exp Expected
	for _, g := range data.Groups {
		sec := exp.section(g.Group.Type)
		for _, it := range g.Items {
			*sec = sec.Add(expectedItem(it, currentMonth))
		}
	}
	return exp
}

func expectedItem(it ItemData, currentMonth int) decimal.Decimal {
	total := decimal.Zero
	for m := 0; m < 12; m++ {
		if m < currentMonth {
			total = total.Add(it.Months[m].Actual)
		} else {
			total = total.Add(it.Months[m].Budget)
		}
	}
	return total.Add(yearlyRemaining(it, currentMonth))
}

// yearlyRemaining is the unspent part of an item's yearly budget given the
// actuals recorded through currentMonth, floored at zero once overspent.
func yearlyRemaining(it ItemData, currentMonth int) decimal.Decimal {
	if it.Item.YearlyBudget.Sign() <= 0 {
		return decimal.Zero
	}
	spent := decimal.Zero
	for m := 0; m < currentMonth && m < 12; m++ {
		spent = spent.Add(it.Months[m].Actual)
	}
	rem := it.Item.YearlyBudget.Sub(spent)
	if rem.Sign() < 0 {
		return decimal.Zero
	}
	return rem
}

// ProjectEndOfYear estimates the balance at December 31st: the realized
// balance through the last settled month, plus budgeted cash flow for the
// months after it, plus the remaining yearly-budget remainders. Income adds,
// expense and savings subtract.
//
// The realized part prefers the account-derived balances when the report has
// any real account; otherwise it falls back to the initial balance plus the
// items' net actuals.
func ProjectEndOfYear(data BudgetData, report AccountsReport, currentMonth int) decimal.Decimal {
	through := report.LastActiveMonth
	if through == 0 {
		through = currentMonth
	}
	if through > 12 {
		through = 12
	}

	realized, fromAccounts := accountBalanceAt(report, through)
	if !fromAccounts {
		realized = data.InitialBalance
		for _, g := range data.Groups {
			for _, it := range g.Items {
				for m := 0; m < through; m++ {
					realized = realized.Add(flowSign(g.Group.Type, it.Months[m].Actual))
				}
			}
		}
	}

	projected := realized
	for _, g := range data.Groups {
		for _, it := range g.Items {
			for m := through; m < 12; m++ {
				projected = projected.Add(flowSign(g.Group.Type, it.Months[m].Budget))
			}
			projected = projected.Add(flowSign(g.Group.Type, yearlyRemaining(it, through)))
		}
	}
	return projected
}

func flowSign(gt GroupType, v decimal.Decimal) decimal.Decimal {
	if gt == GroupIncome {
		return v
	}
	return v.Neg()
}

// accountBalanceAt sums the cumulative balances of the real accounts in the
// report at the end of the given month. month 0 sums initial balances.
func accountBalanceAt(report AccountsReport, month int) (decimal.Decimal, bool) {
	total := decimal.Zero
	found := false
	for _, a := range report.Accounts {
		if !a.Account.IsAccount {
			continue
		}
		found = true
		if month <= 0 {
			total = total.Add(a.InitialBalance)
		} else {
			total = total.Add(a.MonthlyBalances[month-1])
		}
	}
	return total, found
}

// ComputeSummary assembles the per-section totals, the blended expectation
// and the year-end projection into one read model.
func ComputeSummary(data BudgetData, report AccountsReport, currentMonth int) Summary {
	return Summary{
		YearID:           data.YearID,
		Year:             data.Year,
		InitialBalance:   data.InitialBalance,
		Totals:           CalculateTotals(data),
		Expected:         ExpectedTotals(data, currentMonth),
		RemainingBalance: ProjectEndOfYear(data, report, currentMonth),
	}
}
