package simulator

import (
	"fmt"
	"time"

	"github.com/eddiefleurent/scranton_backtester/internal/calendar"
	"github.com/eddiefleurent/scranton_backtester/internal/chain"
	"github.com/eddiefleurent/scranton_backtester/internal/models"
)

// State is the single position slot of one underlying. Position is meaningful
// only while Phase is open or stopped.
type State struct {
	Phase    models.Phase    `json:"phase"`
	Position models.Position `json:"position"`
	// ExpiryLatched is set once the cycle has reached its effective expiry.
	ExpiryLatched bool `json:"expiry_latched"`
}

// Flat is the empty slot.
func Flat() State {
	return State{Phase: models.PhaseFlat}
}

// Market is everything known about one trading date.
type Market struct {
	Date time.Time
	Spot float64
	Vol  float64
	// TTM is the time to maturity in years; DTE the integer days to expiry.
	TTM float64
	DTE int
	Day *chain.Day
	// NextDayQuoted reports whether the options table has rows for Date+1.
	NextDayQuoted bool
}

// Outcome is the result of stepping one date.
type Outcome struct {
	Next    State
	Records []models.TradeRecord
}

func advance(st State, to models.Phase, cond string) (State, error) {
	if err := models.ValidateTransition(st.Phase, to, cond); err != nil {
		return st, err
	}
	st.Phase = to
	return st, nil
}

// Step applies one date's transitions to st. On error Outcome.Next is st
// unchanged, so a failed date leaves no trace in the lifecycle.
func (s *Simulator) Step(st State, m Market) (Outcome, error) {
	if st.Phase == models.PhaseFlat {
		if m.DTE > s.cfg.DTE {
			return Outcome{Next: st}, nil
		}
		next, err := s.enter(st, m)
		if err != nil {
			return Outcome{Next: st}, err
		}
		return Outcome{Next: next}, nil
	}

	next := st
	var records []models.TradeRecord
	var err error

	// a stopped slot holds no contract, so its old strike is never looked up
	if next.Phase == models.PhaseOpen {
		var rec *models.TradeRecord
		next, rec, err = s.checkStop(next, m)
		if err != nil {
			return Outcome{Next: st}, err
		}
		if rec != nil {
			records = append(records, *rec)
		}
	}

	if next.Phase == models.PhaseStopped && next.Position.ReentryCount < s.cfg.MaxReentries {
		next, err = s.reenter(next, m)
		if err != nil {
			return Outcome{Next: st}, err
		}
	}

	next = latch(next, m)
	if !next.ExpiryLatched {
		return Outcome{Next: next, Records: records}, nil
	}

	cleared, rec, err := s.expire(next, m)
	if err != nil {
		return Outcome{Next: st}, err
	}
	if rec != nil {
		records = append(records, *rec)
	}
	return Outcome{Next: cleared, Records: records}, nil
}

// enter opens a new cycle at the contract closest to the target delta.
func (s *Simulator) enter(st State, m Market) (State, error) {
	sel, err := m.Day.SelectByDelta(m.Spot, m.TTM, m.Vol, s.cfg.RiskFreeRate, s.cfg.signedTarget(), s.cfg.Right)
	if err != nil {
		return st, err
	}
	next, err := advance(st, models.PhaseOpen, models.CondInitialEntry)
	if err != nil {
		return st, err
	}
	next.Position = models.NewPosition(s.cfg.Ticker, s.cfg.Right, m.Date, m.Spot, sel.Strike, sel.Close, s.cfg.TotalExposure)
	next.ExpiryLatched = false
	return next, nil
}

// checkStop fires the overnight stop when the open gaps through the stop level,
// filling at the open, and otherwise the intraday stop when the high touches it,
// filling at the level itself.
func (s *Simulator) checkStop(st State, m Market) (State, *models.TradeRecord, error) {
	strike, right := st.Position.Strike, st.Position.Right
	openPx, err := m.Day.Price(strike, right, chain.FieldOpen)
	if err != nil {
		return st, nil, err
	}
	highPx, err := m.Day.Price(strike, right, chain.FieldHigh)
	if err != nil {
		return st, nil, err
	}
	level := st.Position.StopLevel(s.cfg.StopLoss)

	var (
		cond   string
		exit   float64
		reason models.StopReason
	)
	switch {
	case openPx >= level:
		cond, exit, reason = models.CondOvernightSL, openPx, models.ReasonOvernightSL
	case highPx >= level:
		cond, exit, reason = models.CondIntradaySL, level, models.ReasonIntradaySL
	default:
		return st, nil, nil
	}

	next, err := advance(st, models.PhaseStopped, cond)
	if err != nil {
		return st, nil, err
	}
	rec := st.Position.Close(m.Date, exit, reason)
	return next, &rec, nil
}

// reenter reopens a stopped position under the configured policy. A cost
// re-entry whose price has not come back leaves the slot stopped.
func (s *Simulator) reenter(st State, m Market) (State, error) {
	var strike, premium float64

	switch s.cfg.ReentryType {
	case ReentryCost:
		closePx, err := m.Day.Price(st.Position.Strike, st.Position.Right, chain.FieldClose)
		if err != nil {
			return st, err
		}
		if closePx > st.Position.EntryPremium {
			return st, nil
		}
		strike, premium = st.Position.Strike, closePx
	case ReentryASAP:
		sel, err := m.Day.SelectByDelta(m.Spot, m.TTM, m.Vol, s.cfg.RiskFreeRate, s.cfg.signedTarget(), s.cfg.Right)
		if err != nil {
			return st, err
		}
		strike, premium = sel.Strike, sel.Close
	default:
		return st, fmt.Errorf("unknown re-entry type %q", s.cfg.ReentryType)
	}

	next, err := advance(st, models.PhaseOpen, models.CondReentry)
	if err != nil {
		return st, err
	}
	next.Position = st.Position.Reenter(m.Date, strike, premium)
	if s.cfg.ReentryType == ReentryASAP {
		next.Position.EntryPremium = premium
	}
	return next, nil
}

// latch marks the cycle as expiring on expiry day, or the day before when the
// next calendar day has no quotes.
func latch(st State, m Market) State {
	if st.ExpiryLatched {
		return st
	}
	if m.DTE == 0 || (m.DTE == 1 && !m.NextDayQuoted) {
		st.ExpiryLatched = true
	}
	return st
}

// expire closes an open position at the close and clears the slot.
func (s *Simulator) expire(st State, m Market) (State, *models.TradeRecord, error) {
	switch st.Phase {
	case models.PhaseOpen:
		closePx, err := m.Day.Price(st.Position.Strike, st.Position.Right, chain.FieldClose)
		if err != nil {
			return st, nil, err
		}
		if _, err := advance(st, models.PhaseFlat, models.CondExpiryClose); err != nil {
			return st, nil, err
		}
		rec := st.Position.Close(m.Date, closePx, models.ReasonNoSL)
		return Flat(), &rec, nil
	case models.PhaseStopped:
		if _, err := advance(st, models.PhaseFlat, models.CondExpiryClear); err != nil {
			return st, nil, err
		}
		return Flat(), nil, nil
	default:
		return st, nil, fmt.Errorf("cannot expire slot in phase %s on %s", st.Phase, m.Date.Format(calendar.DateLayout))
	}
}
