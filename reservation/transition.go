package reservation

import (
	"errors"
	"fmt"
)

var (
	ErrIllegalTransition = errors.New("illegal reservation transition")
	ErrAlreadyCancelled  = fmt.Errorf("%w: reservation already cancelled", ErrIllegalTransition)
	ErrAlreadyActive     = fmt.Errorf("%w: reservation already active", ErrIllegalTransition)
)

// CheckTransition returns nil when from -> to is a legal move:
//
//	upcoming -> active -> completed
//	upcoming | active -> cancelled
func CheckTransition(from, to Status) error {
	switch {
	case from == StatusUpcoming && to == StatusActive,
		from == StatusActive && to == StatusCompleted,
		from.Open() && to == StatusCancelled:
		return nil
	case from == StatusCancelled:
		return ErrAlreadyCancelled
	case from == StatusActive && to == StatusActive:
		return ErrAlreadyActive
	}
	return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, from, to)
}
