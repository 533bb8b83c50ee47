package core

// Period is the settlement-based accounting bucket a money movement belongs
// to. The year may differ from the movement's calendar year when a December
// movement settles in January.
type Period struct {
	Month int
	Year  int
}

func (p Period) Validate() error {
	if p.Month < 1 || p.Month > 12 {
		return ErrInvalidMonth
	}
	return nil
}

// ResolvePeriod computes the accounting period of a movement from its
// calendar date and the account's settlement day.
//
// With no settlement day (0), or a date before the settlement day, the
// movement settles in its own calendar month. From the settlement day on it
// rolls forward one month, December wrapping into January of the next year.
//
// Settlement days 29-31 are compared against the raw day of month and are
// never adjusted for short months: a day-31 cutoff simply never triggers in
// a 30-day month. Documented policy, not a bug.
//
// Pure function. Callers stamp the result onto the movement at creation and
// must only re-resolve when the date or account changed and the user did not
// override the period explicitly.
func ResolvePeriod(date Date, settlementDay int) Period {
	month, year := date.Month(), date.Year()
	if settlementDay <= 0 || date.Day() < settlementDay {
		return Period{Month: month, Year: year}
	}
	month++
	if month > 12 {
		month = 1
		year++
	}
	return Period{Month: month, Year: year}
}
