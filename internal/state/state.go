package state

import (
	"time"

	"flowgate/internal/pkg/circuit"
)

// CycleState is the durable working state of the trading loop. The scheduler
// owns the single instance; it is read wholesale at startup and written back
// wholesale at the end of every cycle.
type CycleState struct {
	SessionID       string           `json:"session_id"`
	TradingDate     string           `json:"trading_date"` // venue-local YYYY-MM-DD
	ExecutionsToday int              `json:"executions_today"`
	LastWatermark   time.Time        `json:"last_watermark"`
	Seen            *SeenSet         `json:"seen"`
	Breaker         circuit.Snapshot `json:"breaker"`
	UpdatedAt       time.Time        `json:"updated_at"`
}

func NewCycleState(sessionID string, seenCapacity int) *CycleState {
	return &CycleState{
		SessionID: sessionID,
		Seen:      NewSeenSet(seenCapacity),
	}
}

// ResetDaily clears the per-day counters when the venue-local date advances.
// The watermark survives; already-processed alerts must not replay.
func (c *CycleState) ResetDaily(tradingDate string) {
	c.TradingDate = tradingDate
	c.ExecutionsToday = 0
	c.Seen.Clear()
}

// AdvanceWatermark moves the fetch watermark forward only. Provider clock
// skew must never rewind it.
func (c *CycleState) AdvanceWatermark(t time.Time) {
	if t.After(c.LastWatermark) {
		c.LastWatermark = t
	}
}

// SeenSet is a bounded insertion-ordered set of processed signal IDs. When
// full, the oldest entry is evicted so the newest always fits.
type SeenSet struct {
	capacity int
	order    []string
	members  map[string]struct{}
}

func NewSeenSet(capacity int) *SeenSet {
	if capacity < 1 {
		capacity = 1
	}
	return &SeenSet{
		capacity: capacity,
		members:  make(map[string]struct{}, capacity),
	}
}

func (s *SeenSet) Contains(id string) bool {
	_, ok := s.members[id]
	return ok
}

// Add inserts id, evicting the oldest member if the set is full. Returns
// false if id was already present.
func (s *SeenSet) Add(id string) bool {
	if s.Contains(id) {
		return false
	}
	if len(s.order) >= s.capacity {
		oldest := s.order[0]
		s.order = s.order[1:]
		delete(s.members, oldest)
	}
	s.order = append(s.order, id)
	s.members[id] = struct{}{}
	return true
}

func (s *SeenSet) Len() int { return len(s.order) }

func (s *SeenSet) Clear() {
	s.order = s.order[:0]
	s.members = make(map[string]struct{}, s.capacity)
}

// IDs returns members oldest first, for persistence.
func (s *SeenSet) IDs() []string {
	out := make([]string, len(s.order))
	copy(out, s.order)
	return out
}

// Restore replays persisted IDs oldest first, respecting the bound.
func (s *SeenSet) Restore(ids []string) {
	s.Clear()
	for _, id := range ids {
		s.Add(id)
	}
}
