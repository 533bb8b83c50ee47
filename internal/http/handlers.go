package http

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"bilancio/internal/core"
	"bilancio/internal/services"
)

// ----- response DTOs -----
// Decimals become plain numbers here and only here.

type monthCellDTO struct {
	Budget float64 `json:"budget"`
	Actual float64 `json:"actual"`
}

type itemDTO struct {
	ID           int64            `json:"id"`
	Name         string           `json:"name"`
	Slug         string           `json:"slug"`
	YearlyBudget float64          `json:"yearlyBudget"`
	Months       [12]monthCellDTO `json:"months"`
}

type groupDTO struct {
	ID    int64     `json:"id"`
	Name  string    `json:"name"`
	Slug  string    `json:"slug"`
	Type  string    `json:"type"`
	Items []itemDTO `json:"items"`
}

type budgetDataDTO struct {
	YearID         int64      `json:"yearId"`
	Year           int        `json:"year"`
	InitialBalance float64    `json:"initialBalance"`
	Groups         []groupDTO `json:"groups"`
}

type accountReportDTO struct {
	ID              int64       `json:"id"`
	Name            string      `json:"name"`
	Institution     string      `json:"institution,omitempty"`
	IsSavings       bool        `json:"isSavings"`
	InitialBalance  float64     `json:"initialBalance"`
	MonthlyBalances [12]float64 `json:"monthlyBalances"`
}

type accountsReportDTO struct {
	Accounts        []accountReportDTO `json:"accounts"`
	LastActiveMonth int                `json:"lastActiveMonth"`
}

type sectionTotalDTO struct {
	Budget float64 `json:"budget"`
	Actual float64 `json:"actual"`
}

type summaryDTO struct {
	YearID         int64   `json:"yearId"`
	Year           int     `json:"year"`
	InitialBalance float64 `json:"initialBalance"`
	Totals         struct {
		Income  sectionTotalDTO `json:"income"`
		Expense sectionTotalDTO `json:"expense"`
		Savings sectionTotalDTO `json:"savings"`
	} `json:"totals"`
	Expected struct {
		Income  float64 `json:"income"`
		Expense float64 `json:"expense"`
		Savings float64 `json:"savings"`
	} `json:"expected"`
	RemainingBalance float64 `json:"remainingBalance"`
}

func toBudgetDataDTO(data core.BudgetData) budgetDataDTO {
	dto := budgetDataDTO{
		YearID:         data.YearID,
		Year:           data.Year,
		InitialBalance: core.ToNumber(data.InitialBalance),
		Groups:         []groupDTO{},
	}
	for _, g := range data.Groups {
		gd := groupDTO{
			ID:    g.Group.ID,
			Name:  g.Group.Name,
			Slug:  g.Group.Slug,
			Type:  string(g.Group.Type),
			Items: []itemDTO{},
		}
		for _, it := range g.Items {
			id := itemDTO{
				ID:           it.Item.ID,
				Name:         it.Item.Name,
				Slug:         it.Item.Slug,
				YearlyBudget: core.ToNumber(it.Item.YearlyBudget),
			}
			for m := 0; m < 12; m++ {
				id.Months[m] = monthCellDTO{
					Budget: core.ToNumber(it.Months[m].Budget),
					Actual: core.ToNumber(it.Months[m].Actual),
				}
			}
			gd.Items = append(gd.Items, id)
		}
		dto.Groups = append(dto.Groups, gd)
	}
	return dto
}

func toAccountsReportDTO(report core.AccountsReport) accountsReportDTO {
	dto := accountsReportDTO{
		Accounts:        []accountReportDTO{},
		LastActiveMonth: report.LastActiveMonth,
	}
	for _, a := range report.Accounts {
		ad := accountReportDTO{
			ID:             a.Account.ID,
			Name:           a.Account.Name,
			Institution:    a.Account.Institution,
			IsSavings:      a.Account.IsSavings,
			InitialBalance: core.ToNumber(a.InitialBalance),
		}
		for m := 0; m < 12; m++ {
			ad.MonthlyBalances[m] = core.ToNumber(a.MonthlyBalances[m])
		}
		dto.Accounts = append(dto.Accounts, ad)
	}
	return dto
}

func toSummaryDTO(s core.Summary) summaryDTO {
	var dto summaryDTO
	dto.YearID = s.YearID
	dto.Year = s.Year
	dto.InitialBalance = core.ToNumber(s.InitialBalance)
	dto.Totals.Income = sectionTotalDTO{Budget: core.ToNumber(s.Totals.Income.Budget), Actual: core.ToNumber(s.Totals.Income.Actual)}
	dto.Totals.Expense = sectionTotalDTO{Budget: core.ToNumber(s.Totals.Expense.Budget), Actual: core.ToNumber(s.Totals.Expense.Actual)}
	dto.Totals.Savings = sectionTotalDTO{Budget: core.ToNumber(s.Totals.Savings.Budget), Actual: core.ToNumber(s.Totals.Savings.Actual)}
	dto.Expected.Income = core.ToNumber(s.Expected.Income)
	dto.Expected.Expense = core.ToNumber(s.Expected.Expense)
	dto.Expected.Savings = core.ToNumber(s.Expected.Savings)
	dto.RemainingBalance = core.ToNumber(s.RemainingBalance)
	return dto
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

func parseDate(s string) (core.Date, error) {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return core.Date{}, fmt.Errorf("invalid date %q, want YYYY-MM-DD", s)
	}
	return core.Date{Time: t}, nil
}

// ----- read handlers -----

func (s *Server) handleBudgetData(w http.ResponseWriter, r *http.Request) {
	year, err := yearFromPath(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if key, ok := s.cacheKey(r, year); ok {
		if body, hit := s.dataCache.Get(key); hit {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write(body)
			return
		}
	}
	data, err := s.svc.BudgetData(r.Context(), year)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	body, err := json.Marshal(toBudgetDataDTO(data))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if key, ok := s.cacheKey(r, year); ok {
		s.dataCache.Set(key, body)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	year, err := yearFromPath(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if key, ok := s.cacheKey(r, year); ok {
		if body, hit := s.summaryCache.Get(key); hit {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write(body)
			return
		}
	}
	summary, err := s.svc.Summary(r.Context(), year)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	body, err := json.Marshal(toSummaryDTO(summary))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if key, ok := s.cacheKey(r, year); ok {
		s.summaryCache.Set(key, body)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

func (s *Server) handleAccountBalances(w http.ResponseWriter, r *http.Request) {
	year, err := yearFromPath(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	report, err := s.svc.AccountBalances(r.Context(), year)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toAccountsReportDTO(report))
}

// ----- write handlers -----

type createYearRequest struct {
	Year           int    `json:"year"`
	InitialBalance string `json:"initialBalance,omitempty"`
	Open           bool   `json:"open,omitempty"` // get-or-create instead of strict create
}

func (s *Server) handleCreateYear(w http.ResponseWriter, r *http.Request) {
	var req createYearRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	var y core.BudgetYear
	var err error
	if req.Open {
		y, err = s.svc.OpenYear(r.Context(), req.Year)
	} else {
		initial, perr := core.ParseBalance(req.InitialBalance)
		if perr != nil {
			s.writeError(w, r, perr)
			return
		}
		y, err = s.svc.CreateYear(r.Context(), req.Year, initial)
	}
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.invalidateYear(r, req.Year)
	writeJSON(w, http.StatusCreated, map[string]any{
		"id":             y.ID,
		"year":           y.Year,
		"initialBalance": core.ToNumber(y.InitialBalance),
	})
}

type transactionRequest struct {
	Year      int    `json:"year"`
	ItemID    int64  `json:"itemId,omitempty"`
	AccountID int64  `json:"accountId,omitempty"`
	Date      string `json:"date"`
	Amount    string `json:"amount"`
	Direction string `json:"direction,omitempty"`
	// Month and PeriodYear pin the accounting period when PinPeriod is set.
	// PeriodYear may differ from Year: a late-December movement can settle in
	// January of the following year. Zero defaults to Year.
	Month      int  `json:"month,omitempty"`
	PeriodYear int  `json:"periodYear,omitempty"`
	PinPeriod  bool `json:"pinPeriod,omitempty"`
}

func (req transactionRequest) pinnedPeriod() *core.Period {
	if !req.PinPeriod {
		return nil
	}
	year := req.PeriodYear
	if year == 0 {
		year = req.Year
	}
	return &core.Period{Month: req.Month, Year: year}
}

func (s *Server) handleRecordTransaction(w http.ResponseWriter, r *http.Request) {
	var req transactionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	date, err := parseDate(req.Date)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	amount, err := core.ParseAmount(req.Amount)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	in := services.TransactionInput{
		Year:      req.Year,
		ItemID:    req.ItemID,
		AccountID: req.AccountID,
		Date:      date,
		Amount:    amount,
		Direction: core.Direction(req.Direction),
	}
	in.PeriodOverride = req.pinnedPeriod()

	saved, err := s.svc.RecordTransaction(r.Context(), in)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.invalidateYear(r, req.Year)
	writeJSON(w, http.StatusCreated, map[string]any{
		"id":        saved.ID,
		"amount":    core.ToNumber(saved.Amount.Magnitude),
		"direction": string(saved.Amount.Direction),
		"month":     saved.Period.Month,
		"year":      saved.Period.Year,
	})
}

type amendTransactionRequest struct {
	transactionRequest
	Recalculate bool `json:"recalculate,omitempty"` // re-resolve the period from date and account
}

func (s *Server) handleAmendTransaction(w http.ResponseWriter, r *http.Request) {
	id, err := idFromPath(r, "id")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	var req amendTransactionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	date, err := parseDate(req.Date)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	amount, err := core.ParseAmount(req.Amount)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	in := services.TransactionInput{
		Year:      req.Year,
		ItemID:    req.ItemID,
		AccountID: req.AccountID,
		Date:      date,
		Amount:    amount,
		Direction: core.Direction(req.Direction),
	}
	in.PeriodOverride = req.pinnedPeriod()

	updated, err := s.svc.AmendTransaction(r.Context(), id, in, req.Recalculate)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.invalidateYear(r, req.Year)
	writeJSON(w, http.StatusOK, map[string]any{
		"id":        updated.ID,
		"amount":    core.ToNumber(updated.Amount.Magnitude),
		"direction": string(updated.Amount.Direction),
		"month":     updated.Period.Month,
		"year":      updated.Period.Year,
	})
}

type transferRequest struct {
	Year            int    `json:"year"`
	Date            string `json:"date"`
	Amount          string `json:"amount"`
	SourceType      string `json:"sourceType"`
	SourceID        int64  `json:"sourceId"`
	DestinationType string `json:"destinationType"`
	DestinationID   int64  `json:"destinationId"`
	Month           int    `json:"month,omitempty"`
	PeriodYear      int    `json:"periodYear,omitempty"` // zero defaults to Year
	PinPeriod       bool   `json:"pinPeriod,omitempty"`
}

func (s *Server) handleRecordTransfer(w http.ResponseWriter, r *http.Request) {
	var req transferRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	date, err := parseDate(req.Date)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	amount, err := core.ParseAmount(req.Amount)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	in := services.TransferInput{
		Year:        req.Year,
		Date:        date,
		Amount:      amount,
		Source:      core.AccountRef{Type: core.AccountType(req.SourceType), ID: req.SourceID},
		Destination: core.AccountRef{Type: core.AccountType(req.DestinationType), ID: req.DestinationID},
	}
	if req.PinPeriod {
		year := req.PeriodYear
		if year == 0 {
			year = req.Year
		}
		in.PeriodOverride = &core.Period{Month: req.Month, Year: year}
	}

	saved, err := s.svc.RecordTransfer(r.Context(), in)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.invalidateYear(r, req.Year)
	writeJSON(w, http.StatusCreated, map[string]any{
		"id":    saved.ID,
		"month": saved.Period.Month,
		"year":  saved.Period.Year,
	})
}

type setBalanceRequest struct {
	AccountType string `json:"accountType"`
	AccountID   int64  `json:"accountId"`
	Balance     string `json:"balance"`
}

func (s *Server) handleSetAccountBalance(w http.ResponseWriter, r *http.Request) {
	year, err := yearFromPath(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	var req setBalanceRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	balance, err := core.ParseBalance(req.Balance)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	ref := core.AccountRef{Type: core.AccountType(req.AccountType), ID: req.AccountID}
	if err := ref.Validate(); err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": err.Error()})
		return
	}
	if err := s.svc.SetAccountBalance(r.Context(), year, ref, balance); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.invalidateYear(r, year)
	w.WriteHeader(http.StatusNoContent)
}

type setMonthlyRequest struct {
	Year   int    `json:"year"`
	Month  int    `json:"month"`
	Budget string `json:"budget"`
}

func (s *Server) handleSetMonthlyBudget(w http.ResponseWriter, r *http.Request) {
	itemID, err := idFromPath(r, "id")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	var req setMonthlyRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	// zero clears the month's budget, so the signed parser plus a floor check
	budget, err := core.ParseBalance(req.Budget)
	if err != nil || budget.Sign() < 0 {
		s.writeError(w, r, core.ErrInvalidAmount)
		return
	}
	if err := s.svc.SetMonthlyBudget(r.Context(), itemID, req.Month, budget); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.invalidateYear(r, req.Year)
	w.WriteHeader(http.StatusNoContent)
}

type reorderRequest struct {
	OrderedIDs []int64 `json:"orderedIds"`
}

func (s *Server) handleReorderItems(w http.ResponseWriter, r *http.Request) {
	yearID, err := idFromPath(r, "yearID")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	var req reorderRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if err := s.svc.ReorderItems(r.Context(), yearID, req.OrderedIDs); err != nil {
		s.writeError(w, r, err)
		return
	}
	// reorder changes the display order of every read model of the budget
	s.summaryCache.Clear()
	s.dataCache.Clear()
	w.WriteHeader(http.StatusNoContent)
}
