package scheduler

import (
	"fmt"
	"time"
)

// Session answers whether the venue is open at a wall-clock instant. Weekends
// are closed; listed-holiday awareness is the broker's job (orders placed on
// a holiday are rejected upstream).
type Session struct {
	loc        *time.Location
	openHour   int
	openMin    int
	closeHour  int
	closeMin   int
}

func NewSession(timezone, open, close string) (*Session, error) {
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return nil, fmt.Errorf("loading venue timezone failed: %w", err)
	}
	openT, err := time.Parse("15:04", open)
	if err != nil {
		return nil, fmt.Errorf("parsing session open failed: %w", err)
	}
	closeT, err := time.Parse("15:04", close)
	if err != nil {
		return nil, fmt.Errorf("parsing session close failed: %w", err)
	}
	return &Session{
		loc:       loc,
		openHour:  openT.Hour(),
		openMin:   openT.Minute(),
		closeHour: closeT.Hour(),
		closeMin:  closeT.Minute(),
	}, nil
}

// InSession reports whether t falls inside venue trading hours.
func (s *Session) InSession(t time.Time) bool {
	local := t.In(s.loc)
	switch local.Weekday() {
	case time.Saturday, time.Sunday:
		return false
	}
	minutes := local.Hour()*60 + local.Minute()
	return minutes >= s.openHour*60+s.openMin && minutes < s.closeHour*60+s.closeMin
}

// TradingDate is the venue-local calendar date for t, the key the daily
// reset compares against.
func (s *Session) TradingDate(t time.Time) string {
	return t.In(s.loc).Format("2006-01-02")
}
