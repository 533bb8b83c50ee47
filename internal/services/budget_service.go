// Package services orchestrates the budgeting engine: it assembles per-year
// snapshots from the store, runs the pure aggregation and projection code on
// them, and stamps accounting periods onto incoming movements.
package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"bilancio/internal/core"
)

// Store is the repository surface the service needs. Implemented by
// *storage.Repository; tests inject a fake.
type Store interface {
	YearByNumber(ctx context.Context, year int) (core.BudgetYear, error)
	GetOrCreateYear(ctx context.Context, year int) (core.BudgetYear, error)
	CreateYear(ctx context.Context, year int, initial decimal.Decimal) (core.BudgetYear, error)
	SetInitialBalance(ctx context.Context, yearID int64, balance decimal.Decimal) error

	Groups(ctx context.Context) ([]core.BudgetGroup, error)
	CreateGroup(ctx context.Context, g core.BudgetGroup) (core.BudgetGroup, error)
	CreateItem(ctx context.Context, it core.BudgetItem) (core.BudgetItem, error)
	ItemsByYear(ctx context.Context, yearID int64) ([]core.BudgetItem, error)
	ItemByID(ctx context.Context, id int64) (core.BudgetItem, error)
	MonthlyValuesByYear(ctx context.Context, yearID int64) ([]core.MonthlyValue, error)
	UpsertMonthlyBudget(ctx context.Context, itemID int64, month int, budget decimal.Decimal) error
	UpsertMonthlyActual(ctx context.Context, itemID int64, month int, actual decimal.Decimal) error
	ReorderItems(ctx context.Context, yearID int64, orderedIDs []int64) error

	InsertTransaction(ctx context.Context, t core.Transaction) (core.Transaction, error)
	TransactionByID(ctx context.Context, id int64) (core.Transaction, error)
	UpdateTransaction(ctx context.Context, t core.Transaction) error
	TransactionsByAccountingYear(ctx context.Context, fiscalYear int) ([]core.Transaction, error)
	TransactionsByItemPeriod(ctx context.Context, itemID int64, p core.Period) ([]core.Transaction, error)
	InsertTransfer(ctx context.Context, tr core.Transfer) (core.Transfer, error)
	TransfersByAccountingYear(ctx context.Context, fiscalYear int) ([]core.Transfer, error)

	Accounts(ctx context.Context) ([]core.PaymentMethod, error)
	AccountByID(ctx context.Context, id int64) (core.PaymentMethod, error)
	CreateAccount(ctx context.Context, pm core.PaymentMethod) (core.PaymentMethod, error)
	UpsertAccountBalance(ctx context.Context, b core.AccountBalance) error
	AccountBalancesByYear(ctx context.Context, yearID int64) ([]core.AccountBalance, error)
}

// Publisher emits movement events for the out-of-band actuals refresher.
type Publisher interface {
	PublishMovement(ctx context.Context, itemID int64, p core.Period) error
}

type Service struct {
	store  Store
	events Publisher // nil = events disabled
	now    func() time.Time
}

func New(store Store, events Publisher) *Service {
	return &Service{store: store, events: events, now: time.Now}
}

// ----- read models -----

// loadSnapshot issues the per-year reads concurrently. The reads are not one
// database snapshot; minor skew between them is tolerated by design.
func (s *Service) loadSnapshot(ctx context.Context, year core.BudgetYear) (*core.YearSnapshot, error) {
	snap := &core.YearSnapshot{Year: year}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		snap.Groups, err = s.store.Groups(ctx)
		return err
	})
	g.Go(func() error {
		var err error
		snap.Items, err = s.store.ItemsByYear(ctx, year.ID)
		return err
	})
	g.Go(func() error {
		var err error
		snap.Transactions, err = s.store.TransactionsByAccountingYear(ctx, year.Year)
		return err
	})
	g.Go(func() error {
		var err error
		snap.Transfers, err = s.store.TransfersByAccountingYear(ctx, year.Year)
		return err
	})
	g.Go(func() error {
		var err error
		snap.Accounts, err = s.store.Accounts(ctx)
		return err
	})
	g.Go(func() error {
		var err error
		snap.Balances, err = s.store.AccountBalancesByYear(ctx, year.ID)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("load year snapshot: %w", err)
	}
	return snap, nil
}

// AccountBalances computes the month-by-month running balances for every
// display account of the fiscal year. An unknown year is an empty report,
// not an error.
func (s *Service) AccountBalances(ctx context.Context, year int) (core.AccountsReport, error) {
	y, err := s.store.YearByNumber(ctx, year)
	if errors.Is(err, core.ErrNotFound) {
		return core.AccountsReport{Accounts: []core.AccountReport{}}, nil
	}
	if err != nil {
		return core.AccountsReport{}, err
	}
	snap, err := s.loadSnapshot(ctx, y)
	if err != nil {
		return core.AccountsReport{}, err
	}
	return core.ComputeAccountBalances(snap), nil
}

// BudgetData assembles the year's groups, items and monthly cells. Items
// without a group are reported under a synthetic unclassified expense group.
func (s *Service) BudgetData(ctx context.Context, year int) (core.BudgetData, error) {
	y, err := s.store.YearByNumber(ctx, year)
	if errors.Is(err, core.ErrNotFound) {
		return core.BudgetData{Year: year, Groups: []core.GroupData{}}, nil
	}
	if err != nil {
		return core.BudgetData{}, err
	}

	var groups []core.BudgetGroup
	var items []core.BudgetItem
	var monthly []core.MonthlyValue

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		groups, err = s.store.Groups(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		items, err = s.store.ItemsByYear(gctx, y.ID)
		return err
	})
	g.Go(func() error {
		var err error
		monthly, err = s.store.MonthlyValuesByYear(gctx, y.ID)
		return err
	})
	if err := g.Wait(); err != nil {
		return core.BudgetData{}, fmt.Errorf("load budget data: %w", err)
	}

	return assembleBudgetData(y, groups, items, monthly), nil
}

func assembleBudgetData(y core.BudgetYear, groups []core.BudgetGroup, items []core.BudgetItem, monthly []core.MonthlyValue) core.BudgetData {
	cells := make(map[int64]*[12]core.MonthCell)
	for _, mv := range monthly {
		if mv.Month < 1 || mv.Month > 12 {
			continue
		}
		c, ok := cells[mv.ItemID]
		if !ok {
			c = &[12]core.MonthCell{}
			cells[mv.ItemID] = c
		}
		c[mv.Month-1] = core.MonthCell{Budget: mv.Budget, Actual: mv.Actual}
	}

	itemData := func(it core.BudgetItem) core.ItemData {
		d := core.ItemData{Item: it}
		if c, ok := cells[it.ID]; ok {
			d.Months = *c
		}
		return d
	}

	data := core.BudgetData{YearID: y.ID, Year: y.Year, InitialBalance: y.InitialBalance, Groups: []core.GroupData{}}
	for _, grp := range groups {
		gd := core.GroupData{Group: grp}
		for _, it := range items {
			if it.GroupID == grp.ID {
				gd.Items = append(gd.Items, itemData(it))
			}
		}
		data.Groups = append(data.Groups, gd)
	}

	var orphans []core.ItemData
	for _, it := range items {
		if it.GroupID == 0 {
			orphans = append(orphans, itemData(it))
		}
	}
	if len(orphans) > 0 {
		data.Groups = append(data.Groups, core.GroupData{
			Group: core.BudgetGroup{Name: "Unclassified", Slug: "unclassified", Type: core.GroupExpense},
			Items: orphans,
		})
	}
	return data
}

// Summary builds the per-section totals, the blended expectation and the
// year-end projection for one fiscal year.
func (s *Service) Summary(ctx context.Context, year int) (core.Summary, error) {
	data, err := s.BudgetData(ctx, year)
	if err != nil {
		return core.Summary{}, err
	}
	report, err := s.AccountBalances(ctx, year)
	if err != nil {
		return core.Summary{}, err
	}
	return core.ComputeSummary(data, report, s.currentMonth(year)), nil
}

// currentMonth is how far "the present" reaches into the fiscal year: the
// wall-clock month inside it, 12 for past years, 0 for future ones.
func (s *Service) currentMonth(fiscalYear int) int {
	now := s.now()
	switch {
	case now.Year() > fiscalYear:
		return 12
	case now.Year() < fiscalYear:
		return 0
	default:
		return int(now.Month())
	}
}

// ----- mutations -----

// TransactionInput is a movement as the routing layer hands it over.
// Direction is optional: when empty it is derived from the item's group.
// PeriodOverride pins the accounting period explicitly; it is stored as-is
// and never recomputed behind the user's back.
type TransactionInput struct {
	Year           int
	ItemID         int64
	AccountID      int64
	Date           core.Date
	Amount         decimal.Decimal
	Direction      core.Direction
	PeriodOverride *core.Period
}

func (s *Service) RecordTransaction(ctx context.Context, in TransactionInput) (core.Transaction, error) {
	y, err := s.store.YearByNumber(ctx, in.Year)
	if err != nil {
		return core.Transaction{}, err
	}

	direction := in.Direction
	if direction == "" {
		direction, err = s.deriveDirection(ctx, in.ItemID)
		if err != nil {
			return core.Transaction{}, err
		}
	}

	period, err := s.resolveInputPeriod(ctx, in)
	if err != nil {
		return core.Transaction{}, err
	}

	t := core.Transaction{
		YearID:    y.ID,
		ItemID:    in.ItemID,
		AccountID: in.AccountID,
		Date:      in.Date,
		Amount:    core.Amount{Magnitude: in.Amount, Direction: direction},
		Period:    period,
	}
	saved, err := s.store.InsertTransaction(ctx, t)
	if err != nil {
		return core.Transaction{}, err
	}
	s.publishMovement(ctx, saved.ItemID, saved.Period)
	return saved, nil
}

// AmendTransaction edits a movement. The stored period is kept unless the
// caller asks for recalculation or pins an override: an explicit user
// override must never be silently recomputed.
func (s *Service) AmendTransaction(ctx context.Context, id int64, in TransactionInput, recalculate bool) (core.Transaction, error) {
	existing, err := s.store.TransactionByID(ctx, id)
	if err != nil {
		return core.Transaction{}, err
	}

	direction := in.Direction
	if direction == "" {
		direction, err = s.deriveDirection(ctx, in.ItemID)
		if err != nil {
			return core.Transaction{}, err
		}
	}

	period := existing.Period
	switch {
	case in.PeriodOverride != nil:
		if err := in.PeriodOverride.Validate(); err != nil {
			return core.Transaction{}, err
		}
		period = *in.PeriodOverride
	case recalculate:
		period, err = s.resolveInputPeriod(ctx, in)
		if err != nil {
			return core.Transaction{}, err
		}
	}

	updated := core.Transaction{
		ID:        id,
		YearID:    existing.YearID,
		ItemID:    in.ItemID,
		AccountID: in.AccountID,
		Date:      in.Date,
		Amount:    core.Amount{Magnitude: in.Amount, Direction: direction},
		Period:    period,
	}
	if err := s.store.UpdateTransaction(ctx, updated); err != nil {
		return core.Transaction{}, err
	}
	// both the old and the new bucket need a refresh
	s.publishMovement(ctx, existing.ItemID, existing.Period)
	s.publishMovement(ctx, updated.ItemID, updated.Period)
	return updated, nil
}

func (s *Service) resolveInputPeriod(ctx context.Context, in TransactionInput) (core.Period, error) {
	if in.PeriodOverride != nil {
		if err := in.PeriodOverride.Validate(); err != nil {
			return core.Period{}, err
		}
		return *in.PeriodOverride, nil
	}
	settlementDay := 0
	if in.AccountID != 0 {
		account, err := s.store.AccountByID(ctx, in.AccountID)
		if err != nil {
			return core.Period{}, err
		}
		settlementDay = account.SettlementDay
	}
	return core.ResolvePeriod(in.Date, settlementDay), nil
}

func (s *Service) deriveDirection(ctx context.Context, itemID int64) (core.Direction, error) {
	if itemID == 0 {
		return core.Expense, nil
	}
	item, err := s.store.ItemByID(ctx, itemID)
	if err != nil {
		return "", err
	}
	if item.GroupID == 0 {
		return core.Expense, nil
	}
	groups, err := s.store.Groups(ctx)
	if err != nil {
		return "", err
	}
	for _, g := range groups {
		if g.ID == item.GroupID && g.Type == core.GroupIncome {
			return core.Income, nil
		}
	}
	return core.Expense, nil
}

// TransferInput mirrors TransactionInput for zero-sum movements.
type TransferInput struct {
	Year           int
	Date           core.Date
	Amount         decimal.Decimal
	Source         core.AccountRef
	Destination    core.AccountRef
	PeriodOverride *core.Period
	SavingsItemID  int64
}

func (s *Service) RecordTransfer(ctx context.Context, in TransferInput) (core.Transfer, error) {
	y, err := s.store.YearByNumber(ctx, in.Year)
	if err != nil {
		return core.Transfer{}, err
	}

	var period core.Period
	if in.PeriodOverride != nil {
		if err := in.PeriodOverride.Validate(); err != nil {
			return core.Transfer{}, err
		}
		period = *in.PeriodOverride
	} else {
		// transfers settle by the source account's cutoff
		settlementDay := 0
		if in.Source.Type == core.AccountPayment {
			account, err := s.store.AccountByID(ctx, in.Source.ID)
			if err != nil {
				return core.Transfer{}, err
			}
			settlementDay = account.SettlementDay
		}
		period = core.ResolvePeriod(in.Date, settlementDay)
	}

	tr := core.Transfer{
		YearID:        y.ID,
		Date:          in.Date,
		Amount:        in.Amount,
		Source:        in.Source,
		Destination:   in.Destination,
		Period:        period,
		SavingsItemID: in.SavingsItemID,
	}
	saved, err := s.store.InsertTransfer(ctx, tr)
	if err != nil {
		return core.Transfer{}, err
	}
	if saved.SavingsItemID != 0 {
		s.publishMovement(ctx, saved.SavingsItemID, saved.Period)
	}
	return saved, nil
}

// OpenYear returns the budget year, creating it on first access.
func (s *Service) OpenYear(ctx context.Context, year int) (core.BudgetYear, error) {
	return s.store.GetOrCreateYear(ctx, year)
}

// CreateYear opens a year that must not exist yet.
func (s *Service) CreateYear(ctx context.Context, year int, initial decimal.Decimal) (core.BudgetYear, error) {
	return s.store.CreateYear(ctx, year, initial)
}

func (s *Service) SetInitialBalance(ctx context.Context, yearID int64, balance decimal.Decimal) error {
	return s.store.SetInitialBalance(ctx, yearID, balance)
}

// SetAccountBalance upserts the per-year anchor balance of one account,
// creating the year on demand.
func (s *Service) SetAccountBalance(ctx context.Context, year int, account core.AccountRef, balance decimal.Decimal) error {
	y, err := s.store.GetOrCreateYear(ctx, year)
	if err != nil {
		return err
	}
	return s.store.UpsertAccountBalance(ctx, core.AccountBalance{
		YearID:         y.ID,
		Account:        account,
		InitialBalance: balance,
	})
}

func (s *Service) SetMonthlyBudget(ctx context.Context, itemID int64, month int, budget decimal.Decimal) error {
	return s.store.UpsertMonthlyBudget(ctx, itemID, month, budget)
}

func (s *Service) ReorderItems(ctx context.Context, yearID int64, orderedIDs []int64) error {
	return s.store.ReorderItems(ctx, yearID, orderedIDs)
}

func (s *Service) CreateGroup(ctx context.Context, g core.BudgetGroup) (core.BudgetGroup, error) {
	return s.store.CreateGroup(ctx, g)
}

func (s *Service) CreateItem(ctx context.Context, it core.BudgetItem) (core.BudgetItem, error) {
	return s.store.CreateItem(ctx, it)
}

func (s *Service) CreateAccount(ctx context.Context, pm core.PaymentMethod) (core.PaymentMethod, error) {
	return s.store.CreateAccount(ctx, pm)
}

func (s *Service) Accounts(ctx context.Context) ([]core.PaymentMethod, error) {
	return s.store.Accounts(ctx)
}

// publishMovement is best-effort: a broker outage never fails the write.
func (s *Service) publishMovement(ctx context.Context, itemID int64, p core.Period) {
	if s.events == nil || itemID == 0 {
		return
	}
	if err := s.events.PublishMovement(ctx, itemID, p); err != nil {
		slog.WarnContext(ctx, "Failed to publish movement event",
			"error", err, "item_id", itemID, "month", p.Month, "year", p.Year)
	}
}
