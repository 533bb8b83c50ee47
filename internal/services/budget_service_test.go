package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"bilancio/internal/core"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// fakeStore is an in-memory Store for exercising the service without SQLite.
type fakeStore struct {
	nextID   int64
	years    map[int]core.BudgetYear
	groups   []core.BudgetGroup
	items    map[int64]core.BudgetItem
	monthly  map[int64]map[int]core.MonthlyValue
	txs      []core.Transaction
	trs      []core.Transfer
	accounts map[int64]core.PaymentMethod
	balances map[core.AccountRef]core.AccountBalance
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		years:    map[int]core.BudgetYear{},
		items:    map[int64]core.BudgetItem{},
		monthly:  map[int64]map[int]core.MonthlyValue{},
		accounts: map[int64]core.PaymentMethod{},
		balances: map[core.AccountRef]core.AccountBalance{},
	}
}

func (f *fakeStore) id() int64 { f.nextID++; return f.nextID }

func (f *fakeStore) YearByNumber(_ context.Context, year int) (core.BudgetYear, error) {
	y, ok := f.years[year]
	if !ok {
		return core.BudgetYear{}, core.ErrNotFound
	}
	return y, nil
}

func (f *fakeStore) GetOrCreateYear(ctx context.Context, year int) (core.BudgetYear, error) {
	if y, ok := f.years[year]; ok {
		return y, nil
	}
	return f.CreateYear(ctx, year, decimal.Zero)
}

func (f *fakeStore) CreateYear(_ context.Context, year int, initial decimal.Decimal) (core.BudgetYear, error) {
	if _, ok := f.years[year]; ok {
		return core.BudgetYear{}, core.ErrAlreadyExists
	}
	y := core.BudgetYear{ID: f.id(), BudgetID: 1, Year: year, InitialBalance: initial}
	f.years[year] = y
	return y, nil
}

func (f *fakeStore) SetInitialBalance(_ context.Context, yearID int64, balance decimal.Decimal) error {
	for n, y := range f.years {
		if y.ID == yearID {
			y.InitialBalance = balance
			f.years[n] = y
			return nil
		}
	}
	return core.ErrNotFound
}

func (f *fakeStore) Groups(context.Context) ([]core.BudgetGroup, error) { return f.groups, nil }

func (f *fakeStore) CreateGroup(_ context.Context, g core.BudgetGroup) (core.BudgetGroup, error) {
	g.ID = f.id()
	f.groups = append(f.groups, g)
	return g, nil
}

func (f *fakeStore) CreateItem(_ context.Context, it core.BudgetItem) (core.BudgetItem, error) {
	it.ID = f.id()
	f.items[it.ID] = it
	f.monthly[it.ID] = map[int]core.MonthlyValue{}
	for m := 1; m <= 12; m++ {
		f.monthly[it.ID][m] = core.MonthlyValue{ItemID: it.ID, Month: m}
	}
	return it, nil
}

func (f *fakeStore) ItemsByYear(_ context.Context, yearID int64) ([]core.BudgetItem, error) {
	var items []core.BudgetItem
	for _, it := range f.items {
		if it.YearID == yearID {
			items = append(items, it)
		}
	}
	return items, nil
}

func (f *fakeStore) ItemByID(_ context.Context, id int64) (core.BudgetItem, error) {
	it, ok := f.items[id]
	if !ok {
		return core.BudgetItem{}, core.ErrNotFound
	}
	return it, nil
}

func (f *fakeStore) MonthlyValuesByYear(_ context.Context, yearID int64) ([]core.MonthlyValue, error) {
	var values []core.MonthlyValue
	for itemID, it := range f.items {
		if it.YearID != yearID {
			continue
		}
		for m := 1; m <= 12; m++ {
			values = append(values, f.monthly[itemID][m])
		}
	}
	return values, nil
}

func (f *fakeStore) UpsertMonthlyBudget(_ context.Context, itemID int64, month int, budget decimal.Decimal) error {
	if _, ok := f.items[itemID]; !ok {
		return core.ErrNotFound
	}
	mv := f.monthly[itemID][month]
	mv.ItemID, mv.Month, mv.Budget = itemID, month, budget
	f.monthly[itemID][month] = mv
	return nil
}

func (f *fakeStore) UpsertMonthlyActual(_ context.Context, itemID int64, month int, actual decimal.Decimal) error {
	if _, ok := f.items[itemID]; !ok {
		return core.ErrNotFound
	}
	mv := f.monthly[itemID][month]
	mv.ItemID, mv.Month, mv.Actual = itemID, month, actual
	f.monthly[itemID][month] = mv
	return nil
}

func (f *fakeStore) ReorderItems(_ context.Context, yearID int64, orderedIDs []int64) error {
	for pos, id := range orderedIDs {
		if it, ok := f.items[id]; ok && it.YearID == yearID {
			it.SortOrder = pos
			f.items[id] = it
		}
	}
	return nil
}

func (f *fakeStore) InsertTransaction(_ context.Context, t core.Transaction) (core.Transaction, error) {
	t.ID = f.id()
	f.txs = append(f.txs, t)
	return t, nil
}

func (f *fakeStore) TransactionByID(_ context.Context, id int64) (core.Transaction, error) {
	for _, t := range f.txs {
		if t.ID == id {
			return t, nil
		}
	}
	return core.Transaction{}, core.ErrNotFound
}

func (f *fakeStore) UpdateTransaction(_ context.Context, t core.Transaction) error {
	for i := range f.txs {
		if f.txs[i].ID == t.ID {
			f.txs[i] = t
			return nil
		}
	}
	return core.ErrNotFound
}

func (f *fakeStore) TransactionsByAccountingYear(_ context.Context, fiscalYear int) ([]core.Transaction, error) {
	var out []core.Transaction
	for _, t := range f.txs {
		if t.Period.Year == fiscalYear {
			out = append(out, t)
		}
	}
	return out, nil
}

func (f *fakeStore) TransactionsByItemPeriod(_ context.Context, itemID int64, p core.Period) ([]core.Transaction, error) {
	var out []core.Transaction
	for _, t := range f.txs {
		if t.ItemID == itemID && t.Period == p {
			out = append(out, t)
		}
	}
	return out, nil
}

func (f *fakeStore) InsertTransfer(_ context.Context, tr core.Transfer) (core.Transfer, error) {
	tr.ID = f.id()
	f.trs = append(f.trs, tr)
	return tr, nil
}

func (f *fakeStore) TransfersByAccountingYear(_ context.Context, fiscalYear int) ([]core.Transfer, error) {
	var out []core.Transfer
	for _, tr := range f.trs {
		if tr.Period.Year == fiscalYear {
			out = append(out, tr)
		}
	}
	return out, nil
}

func (f *fakeStore) Accounts(context.Context) ([]core.PaymentMethod, error) {
	var out []core.PaymentMethod
	for _, a := range f.accounts {
		out = append(out, a)
	}
	return out, nil
}

func (f *fakeStore) AccountByID(_ context.Context, id int64) (core.PaymentMethod, error) {
	a, ok := f.accounts[id]
	if !ok {
		return core.PaymentMethod{}, core.ErrNotFound
	}
	return a, nil
}

func (f *fakeStore) CreateAccount(_ context.Context, pm core.PaymentMethod) (core.PaymentMethod, error) {
	pm.ID = f.id()
	f.accounts[pm.ID] = pm
	return pm, nil
}

func (f *fakeStore) UpsertAccountBalance(_ context.Context, b core.AccountBalance) error {
	f.balances[b.Account] = b
	return nil
}

func (f *fakeStore) AccountBalancesByYear(_ context.Context, yearID int64) ([]core.AccountBalance, error) {
	var out []core.AccountBalance
	for _, b := range f.balances {
		if b.YearID == yearID {
			out = append(out, b)
		}
	}
	return out, nil
}

type capturedEvent struct {
	itemID int64
	period core.Period
}

type fakePublisher struct {
	events []capturedEvent
	fail   bool
}

func (p *fakePublisher) PublishMovement(_ context.Context, itemID int64, period core.Period) error {
	if p.fail {
		return errors.New("broker down")
	}
	p.events = append(p.events, capturedEvent{itemID, period})
	return nil
}

func fixedService(store Store, events Publisher) *Service {
	s := New(store, events)
	s.now = func() time.Time { return time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC) }
	return s
}

func seedYear(t *testing.T, store *fakeStore) (core.BudgetYear, core.BudgetGroup, core.BudgetItem, core.PaymentMethod) {
	t.Helper()
	ctx := context.Background()
	y, err := store.CreateYear(ctx, 2024, dec("1000"))
	if err != nil {
		t.Fatalf("seed year: %v", err)
	}
	g, _ := store.CreateGroup(ctx, core.BudgetGroup{BudgetID: 1, Name: "Living", Slug: "living", Type: core.GroupExpense})
	it, _ := store.CreateItem(ctx, core.BudgetItem{YearID: y.ID, GroupID: g.ID, Name: "Groceries", Slug: "groceries"})
	acc, _ := store.CreateAccount(ctx, core.PaymentMethod{BudgetID: 1, Name: "Card", IsAccount: true, SettlementDay: 18})
	return y, g, it, acc
}

func TestRecordTransactionStampsPeriod(t *testing.T) {
	store := newFakeStore()
	y, _, it, acc := seedYear(t, store)
	events := &fakePublisher{}
	svc := fixedService(store, events)

	saved, err := svc.RecordTransaction(context.Background(), TransactionInput{
		Year:      2024,
		ItemID:    it.ID,
		AccountID: acc.ID,
		Date:      core.NewDate(2024, 12, 20),
		Amount:    dec("42"),
	})
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	// day 20 >= settlement day 18: rolls into January 2025
	if saved.Period != (core.Period{Month: 1, Year: 2025}) {
		t.Fatalf("period: %+v", saved.Period)
	}
	if saved.YearID != y.ID {
		t.Fatalf("year id: %d", saved.YearID)
	}
	// direction derived from the expense group
	if saved.Amount.Direction != core.Expense {
		t.Fatalf("direction: %s", saved.Amount.Direction)
	}
	if len(events.events) != 1 || events.events[0].itemID != it.ID {
		t.Fatalf("events: %+v", events.events)
	}
}

func TestRecordTransactionHonorsOverride(t *testing.T) {
	store := newFakeStore()
	_, _, it, acc := seedYear(t, store)
	svc := fixedService(store, nil)

	override := core.Period{Month: 7, Year: 2024}
	saved, err := svc.RecordTransaction(context.Background(), TransactionInput{
		Year:           2024,
		ItemID:         it.ID,
		AccountID:      acc.ID,
		Date:           core.NewDate(2024, 12, 20),
		Amount:         dec("10"),
		PeriodOverride: &override,
	})
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if saved.Period != override {
		t.Fatalf("override not honored: %+v", saved.Period)
	}
}

func TestRecordTransactionUnknownYear(t *testing.T) {
	store := newFakeStore()
	svc := fixedService(store, nil)

	_, err := svc.RecordTransaction(context.Background(), TransactionInput{
		Year: 2031, Date: core.NewDate(2031, 1, 5), Amount: dec("1"), Direction: core.Expense,
	})
	if !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRecordTransactionBrokerOutageIsNotFatal(t *testing.T) {
	store := newFakeStore()
	_, _, it, acc := seedYear(t, store)
	svc := fixedService(store, &fakePublisher{fail: true})

	_, err := svc.RecordTransaction(context.Background(), TransactionInput{
		Year: 2024, ItemID: it.ID, AccountID: acc.ID,
		Date: core.NewDate(2024, 3, 2), Amount: dec("5"),
	})
	if err != nil {
		t.Fatalf("publish failure must not fail the write: %v", err)
	}
}

func TestAmendTransactionKeepsPeriodUnlessAsked(t *testing.T) {
	store := newFakeStore()
	_, _, it, acc := seedYear(t, store)
	svc := fixedService(store, nil)
	ctx := context.Background()

	override := core.Period{Month: 9, Year: 2024}
	saved, err := svc.RecordTransaction(ctx, TransactionInput{
		Year: 2024, ItemID: it.ID, AccountID: acc.ID,
		Date: core.NewDate(2024, 12, 20), Amount: dec("10"), PeriodOverride: &override,
	})
	if err != nil {
		t.Fatalf("record: %v", err)
	}

	// edit the amount without asking for recalculation: override survives
	amended, err := svc.AmendTransaction(ctx, saved.ID, TransactionInput{
		Year: 2024, ItemID: it.ID, AccountID: acc.ID,
		Date: core.NewDate(2024, 12, 20), Amount: dec("99"),
	}, false)
	if err != nil {
		t.Fatalf("amend: %v", err)
	}
	if amended.Period != override {
		t.Fatalf("override was recomputed: %+v", amended.Period)
	}

	// explicit recalculation resolves from date and settlement day again
	amended, err = svc.AmendTransaction(ctx, saved.ID, TransactionInput{
		Year: 2024, ItemID: it.ID, AccountID: acc.ID,
		Date: core.NewDate(2024, 12, 20), Amount: dec("99"),
	}, true)
	if err != nil {
		t.Fatalf("amend recalc: %v", err)
	}
	if amended.Period != (core.Period{Month: 1, Year: 2025}) {
		t.Fatalf("recalculated period: %+v", amended.Period)
	}
}

func TestAccountBalancesUnknownYearIsEmpty(t *testing.T) {
	svc := fixedService(newFakeStore(), nil)
	report, err := svc.AccountBalances(context.Background(), 2019)
	if err != nil {
		t.Fatalf("expected degrade, got %v", err)
	}
	if len(report.Accounts) != 0 {
		t.Fatalf("expected empty report, got %+v", report)
	}
}

func TestAccountBalancesEndToEnd(t *testing.T) {
	store := newFakeStore()
	y, _, it, acc := seedYear(t, store)
	svc := fixedService(store, nil)
	ctx := context.Background()

	if err := svc.SetAccountBalance(ctx, 2024, core.AccountRef{Type: core.AccountPayment, ID: acc.ID}, dec("1000")); err != nil {
		t.Fatalf("set balance: %v", err)
	}
	if _, err := svc.RecordTransaction(ctx, TransactionInput{
		Year: 2024, ItemID: it.ID, AccountID: acc.ID,
		Date: core.NewDate(2024, 3, 5), Amount: dec("200"),
	}); err != nil {
		t.Fatalf("record: %v", err)
	}

	report, err := svc.AccountBalances(ctx, 2024)
	if err != nil {
		t.Fatalf("balances: %v", err)
	}
	if len(report.Accounts) != 1 {
		t.Fatalf("accounts: %+v", report.Accounts)
	}
	if !report.Accounts[0].MonthlyBalances[2].Equal(dec("800")) {
		t.Fatalf("month 3: got %s, want 800", report.Accounts[0].MonthlyBalances[2])
	}
	_ = y
}

func TestSummaryBlendsAtWallClock(t *testing.T) {
	store := newFakeStore()
	_, _, it, _ := seedYear(t, store)
	svc := fixedService(store, nil) // clock fixed to June 2024
	ctx := context.Background()

	for m := 1; m <= 12; m++ {
		if err := svc.SetMonthlyBudget(ctx, it.ID, m, dec("100")); err != nil {
			t.Fatalf("budget month %d: %v", m, err)
		}
	}
	for m := 1; m <= 6; m++ {
		if err := store.UpsertMonthlyActual(ctx, it.ID, m, dec("80")); err != nil {
			t.Fatalf("actual month %d: %v", m, err)
		}
	}

	summary, err := svc.Summary(ctx, 2024)
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	// six months of 80 actual, six months of 100 budget
	if !summary.Expected.Expense.Equal(dec("1080")) {
		t.Fatalf("expected expense: got %s, want 1080", summary.Expected.Expense)
	}
	if !summary.Totals.Expense.Budget.Equal(dec("1200")) {
		t.Fatalf("budget total: got %s", summary.Totals.Expense.Budget)
	}
}

func TestRecordTransferStampsAndPublishes(t *testing.T) {
	store := newFakeStore()
	_, _, _, acc := seedYear(t, store)
	savings, _ := store.CreateAccount(context.Background(), core.PaymentMethod{BudgetID: 1, Name: "Vault", IsAccount: true, IsSavings: true})
	item, _ := store.CreateItem(context.Background(), core.BudgetItem{YearID: store.years[2024].ID, Name: "Nest Egg", Slug: "nest-egg", LinkedAccountID: savings.ID})
	events := &fakePublisher{}
	svc := fixedService(store, events)

	saved, err := svc.RecordTransfer(context.Background(), TransferInput{
		Year:          2024,
		Date:          core.NewDate(2024, 12, 19),
		Amount:        dec("150"),
		Source:        core.AccountRef{Type: core.AccountPayment, ID: acc.ID},
		Destination:   core.AccountRef{Type: core.AccountPayment, ID: savings.ID},
		SavingsItemID: item.ID,
	})
	if err != nil {
		t.Fatalf("transfer: %v", err)
	}
	// source account settles on day 18: December 19th lands in January 2025
	if saved.Period != (core.Period{Month: 1, Year: 2025}) {
		t.Fatalf("period: %+v", saved.Period)
	}
	if len(events.events) != 1 || events.events[0].itemID != item.ID {
		t.Fatalf("events: %+v", events.events)
	}
}
