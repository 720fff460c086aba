package scheduler

import "time"

// Message is one scheduled work item. All messages of a run share StartTime;
// the intended dispatch time is StartTime + OffsetMs.
type Message[P any] struct {
	StartTime time.Time
	OffsetMs  uint64
	Payload   P
}

// Deadline returns the intended dispatch time.
func (m Message[P]) Deadline() time.Time {
	return m.StartTime.Add(time.Duration(m.OffsetMs) * time.Millisecond)
}

// ComputeOffsetMs returns the signed distance between now and the message
// deadline. Positive means early (wait that long), zero or negative means on
// time or late.
func ComputeOffsetMs[P any](m Message[P], now time.Time) int64 {
	target := m.Deadline()
	if now.Before(target) {
		return target.Sub(now).Round(time.Millisecond).Milliseconds()
	}
	return -now.Sub(target).Round(time.Millisecond).Milliseconds()
}
