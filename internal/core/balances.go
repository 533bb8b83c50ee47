package core

import "github.com/shopspring/decimal"

// YearSnapshot is an immutable view of everything one fiscal year needs for
// aggregation. The service layer assembles it from the store; the aggregation
// itself never touches I/O, which keeps it unit-testable against literals.
type YearSnapshot struct {
	Year         BudgetYear
	Groups       []BudgetGroup
	Items        []BudgetItem
	Transactions []Transaction
	Transfers    []Transfer
	Accounts     []PaymentMethod
	Balances     []AccountBalance
}

// AccountReport is the month-by-month running balance of one display account,
// including the movements of every payment method linked to it.
type AccountReport struct {
	Account         PaymentMethod
	InitialBalance  decimal.Decimal
	MonthlyBalances [12]decimal.Decimal // cumulative, index 0 = January
}

// AccountsReport is the result of ComputeAccountBalances. LastActiveMonth is
// the highest accounting month any movement touched, telling callers how far
// actuals extend into the year.
type AccountsReport struct {
	Accounts        []AccountReport
	LastActiveMonth int
}

// ComputeAccountBalances aggregates transactions and transfers into 12
// cumulative balances per display account.
//
// Payment methods with LinkedTo set roll up into their parent and are not
// reported standalone. Movements referencing an unknown account or item are
// skipped, never fatal. Savings transactions whose item mirrors a different
// account are treated as an implicit same-month transfer into that account.
// All arithmetic is exact decimal.
func ComputeAccountBalances(snap *YearSnapshot) AccountsReport {
	if snap == nil || snap.Year.ID == 0 {
		return AccountsReport{Accounts: []AccountReport{}}
	}

	accounts := make(map[int64]PaymentMethod, len(snap.Accounts))
	for _, a := range snap.Accounts {
		accounts[a.ID] = a
	}
	items := make(map[int64]BudgetItem, len(snap.Items))
	for _, it := range snap.Items {
		items[it.ID] = it
	}
	groups := make(map[int64]BudgetGroup, len(snap.Groups))
	for _, g := range snap.Groups {
		groups[g.ID] = g
	}

	// displayOf resolves a payment method to the account it is reported
	// under: itself, or its roll-up parent. One level deep; links to unknown
	// parents drop the movement.
	displayOf := func(accountID int64) (int64, bool) {
		a, ok := accounts[accountID]
		if !ok {
			return 0, false
		}
		if a.LinkedTo == 0 {
			return a.ID, true
		}
		if _, ok := accounts[a.LinkedTo]; !ok {
			return 0, false
		}
		return a.LinkedTo, true
	}

	// resolveRef maps a transfer endpoint to a display account. Savings-item
	// endpoints land on the account the item mirrors.
	resolveRef := func(ref AccountRef) (int64, bool) {
		switch ref.Type {
		case AccountPayment:
			return displayOf(ref.ID)
		case AccountSavingsItem:
			it, ok := items[ref.ID]
			if !ok || it.LinkedAccountID == 0 {
				return 0, false
			}
			return displayOf(it.LinkedAccountID)
		}
		return 0, false
	}

	deltas := make(map[int64]*[12]decimal.Decimal)
	deltaAt := func(accountID int64) *[12]decimal.Decimal {
		d, ok := deltas[accountID]
		if !ok {
			d = &[12]decimal.Decimal{}
			deltas[accountID] = d
		}
		return d
	}

	lastActive := 0
	touch := func(month int) {
		if month > lastActive {
			lastActive = month
		}
	}

	for _, t := range snap.Transactions {
		if t.Period.Month < 1 || t.Period.Month > 12 {
			continue
		}
		touch(t.Period.Month)
		id, ok := displayOf(t.AccountID)
		if !ok {
			continue
		}
		m := t.Period.Month - 1
		d := deltaAt(id)
		d[m] = d[m].Add(t.Amount.Signed())

		// Savings-category transactions mirroring another account count as
		// an implicit transfer into that account in the same month.
		it, ok := items[t.ItemID]
		if !ok || it.LinkedAccountID == 0 || it.LinkedAccountID == t.AccountID {
			continue
		}
		if g, ok := groups[it.GroupID]; !ok || g.Type != GroupSavings {
			continue
		}
		if target, ok := displayOf(it.LinkedAccountID); ok {
			td := deltaAt(target)
			td[m] = td[m].Add(t.Amount.Magnitude)
		}
	}

	for _, tr := range snap.Transfers {
		if tr.Period.Month < 1 || tr.Period.Month > 12 {
			continue
		}
		touch(tr.Period.Month)
		m := tr.Period.Month - 1
		if src, ok := resolveRef(tr.Source); ok {
			d := deltaAt(src)
			d[m] = d[m].Sub(tr.Amount)
		}
		if dst, ok := resolveRef(tr.Destination); ok {
			d := deltaAt(dst)
			d[m] = d[m].Add(tr.Amount)
		}
	}

	initial := make(map[int64]decimal.Decimal, len(snap.Balances))
	for _, b := range snap.Balances {
		if b.Account.Type == AccountPayment {
			initial[b.Account.ID] = b.InitialBalance
		}
	}

	report := AccountsReport{LastActiveMonth: lastActive}
	for _, a := range snap.Accounts {
		if a.LinkedTo != 0 {
			continue
		}
		ar := AccountReport{Account: a, InitialBalance: initial[a.ID]}
		running := ar.InitialBalance
		d := deltas[a.ID]
		for m := 0; m < 12; m++ {
			if d != nil {
				running = running.Add(d[m])
			}
			ar.MonthlyBalances[m] = running
		}
		report.Accounts = append(report.Accounts, ar)
	}
	if report.Accounts == nil {
		report.Accounts = []AccountReport{}
	}
	return report
}
