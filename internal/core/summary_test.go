package core

import (
	"testing"
)

// budgetDataFixture: one income item (1000/month budget, 1100 actual for the
// first three months), one expense item (400/month budget, 350 actual), one
// expense item with a 600 yearly budget and no monthly figures.
func budgetDataFixture() BudgetData {
	income := ItemData{Item: BudgetItem{ID: 1, YearID: 1, GroupID: 1, Name: "Salary", Slug: "salary"}}
	living := ItemData{Item: BudgetItem{ID: 2, YearID: 1, GroupID: 2, Name: "Living", Slug: "living"}}
	repairs := ItemData{Item: BudgetItem{ID: 3, YearID: 1, GroupID: 2, Name: "Repairs", Slug: "repairs", YearlyBudget: dec("600")}}
	for m := 0; m < 12; m++ {
		income.Months[m].Budget = dec("1000")
		living.Months[m].Budget = dec("400")
		if m < 3 {
			income.Months[m].Actual = dec("1100")
			living.Months[m].Actual = dec("350")
		}
	}
	repairs.Months[1].Actual = dec("150")
	return BudgetData{
		YearID:         1,
		Year:           2024,
		InitialBalance: dec("500"),
		Groups: []GroupData{
			{Group: BudgetGroup{ID: 1, Type: GroupIncome, Name: "Income", Slug: "income"}, Items: []ItemData{income}},
			{Group: BudgetGroup{ID: 2, Type: GroupExpense, Name: "Expenses", Slug: "expenses"}, Items: []ItemData{living, repairs}},
		},
	}
}

func TestCalculateTotals(t *testing.T) {
	totals := CalculateTotals(budgetDataFixture())
	if !totals.Income.Budget.Equal(dec("12000")) {
		t.Fatalf("income budget: got %s", totals.Income.Budget)
	}
	if !totals.Income.Actual.Equal(dec("3300")) {
		t.Fatalf("income actual: got %s", totals.Income.Actual)
	}
	// 12*400 monthly + 600 yearly
	if !totals.Expense.Budget.Equal(dec("5400")) {
		t.Fatalf("expense budget: got %s", totals.Expense.Budget)
	}
	// 3*350 + 150
	if !totals.Expense.Actual.Equal(dec("1200")) {
		t.Fatalf("expense actual: got %s", totals.Expense.Actual)
	}
	if !totals.Savings.Budget.IsZero() || !totals.Savings.Actual.IsZero() {
		t.Fatalf("savings should be zero, got %+v", totals.Savings)
	}
}

func TestExpectedTotalsBlending(t *testing.T) {
	exp := ExpectedTotals(budgetDataFixture(), 3)
	// 3 months actual + 9 months budget
	if !exp.Income.Equal(dec("3300").Add(dec("9000"))) {
		t.Fatalf("income expected: got %s", exp.Income)
	}
	// living: 3*350 + 9*400; repairs: 150 actual + (600-150) remaining
	want := dec("1050").Add(dec("3600")).Add(dec("150")).Add(dec("450"))
	if !exp.Expense.Equal(want) {
		t.Fatalf("expense expected: got %s, want %s", exp.Expense, want)
	}
}

// After December with all actuals in, blending has nothing left to blend: the
// expectation equals the plain totals for items without yearly budgets.
func TestExpectedEqualsTotalsAtYearEnd(t *testing.T) {
	data := budgetDataFixture()
	// drop the yearly-budget item, fill every month with actuals
	data.Groups[1].Items = data.Groups[1].Items[:1]
	for gi := range data.Groups {
		for ii := range data.Groups[gi].Items {
			for m := 0; m < 12; m++ {
				data.Groups[gi].Items[ii].Months[m].Actual = dec("123.45")
			}
		}
	}
	totals := CalculateTotals(data)
	exp := ExpectedTotals(data, 12)
	if !exp.Income.Equal(totals.Income.Actual) {
		t.Fatalf("income: expected %s, totals %s", exp.Income, totals.Income.Actual)
	}
	if !exp.Expense.Equal(totals.Expense.Actual) {
		t.Fatalf("expense: expected %s, totals %s", exp.Expense, totals.Expense.Actual)
	}
}

func TestYearlyRemainingFloor(t *testing.T) {
	it := ItemData{Item: BudgetItem{YearlyBudget: dec("100")}}
	it.Months[0].Actual = dec("160")
	if got := yearlyRemaining(it, 3); !got.IsZero() {
		t.Fatalf("overspent remainder should floor at zero, got %s", got)
	}
	it.Months[0].Actual = dec("40")
	if got := yearlyRemaining(it, 3); !got.Equal(dec("60")) {
		t.Fatalf("got %s, want 60", got)
	}
	// actuals after the current month do not count yet
	it.Months[6].Actual = dec("1000")
	if got := yearlyRemaining(it, 3); !got.Equal(dec("60")) {
		t.Fatalf("got %s, want 60", got)
	}
}

func TestProjectEndOfYearFromItems(t *testing.T) {
	data := budgetDataFixture()
	// no accounts: fall back to initial balance + item actuals
	got := ProjectEndOfYear(data, AccountsReport{}, 3)
	// realized: 500 + 3*(1100-350) - 150
	realized := dec("500").Add(dec("2250")).Sub(dec("150"))
	// forward: 9*(1000-400), minus remaining yearly 450
	want := realized.Add(dec("5400")).Sub(dec("450"))
	if !got.Equal(want) {
		t.Fatalf("got %s, want %s", got, want)
	}
}

func TestProjectEndOfYearPrefersAccounts(t *testing.T) {
	data := budgetDataFixture()
	report := AccountsReport{LastActiveMonth: 3}
	acc := AccountReport{Account: PaymentMethod{ID: 1, Name: "Checking", IsAccount: true}, InitialBalance: dec("500")}
	for m := 0; m < 12; m++ {
		acc.MonthlyBalances[m] = dec("2600") // realized balance after March
	}
	report.Accounts = []AccountReport{acc}

	got := ProjectEndOfYear(data, report, 3)
	want := dec("2600").Add(dec("5400")).Sub(dec("450"))
	if !got.Equal(want) {
		t.Fatalf("got %s, want %s", got, want)
	}
}

func TestComputeSummary(t *testing.T) {
	data := budgetDataFixture()
	s := ComputeSummary(data, AccountsReport{}, 3)
	if s.YearID != 1 || s.Year != 2024 {
		t.Fatalf("identity: %+v", s)
	}
	if !s.InitialBalance.Equal(dec("500")) {
		t.Fatalf("initial balance: got %s", s.InitialBalance)
	}
	if !s.Totals.Income.Budget.Equal(dec("12000")) {
		t.Fatalf("totals not populated: %+v", s.Totals)
	}
	if s.RemainingBalance.IsZero() {
		t.Fatalf("projection missing")
	}
}
