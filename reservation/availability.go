package reservation

import (
	"errors"
	"time"
)

var ErrInvalidInterval = errors.New("invalid interval: end must be after start")

// Interval is a half-open time range [Start, End).
type Interval struct {
	Start time.Time
	End   time.Time
}

func (i Interval) Validate() error {
	if !i.End.After(i.Start) {
		return ErrInvalidInterval
	}
	return nil
}

// Overlaps reports whether two half-open intervals intersect. Back-to-back
// intervals (one ends exactly when the other starts) do not overlap.
func (i Interval) Overlaps(o Interval) bool {
	return o.Start.Before(i.End) && i.Start.Before(o.End)
}

// Available reports whether want is free of every open slot in existing.
func Available(existing []TimeSlot, want Interval) (bool, error) {
	if err := want.Validate(); err != nil {
		return false, err
	}
	for _, s := range existing {
		if !s.Status.Open() {
			continue
		}
		if want.Overlaps(Interval{Start: s.StartTime, End: s.EndTime}) {
			return false, nil
		}
	}
	return true, nil
}
