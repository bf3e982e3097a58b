package rotation

import (
	"fmt"

	"github.com/ryandielhenn/zephyrrotor/pkg/ring"
)

// CheckAdvance accepts re-applying the current offset or advancing it by exactly one.
func CheckAdvance(from, to uint64) error {
	switch {
	case to < from:
		return fmt.Errorf("%w: %d -> %d", ErrOffsetRegression, from, to)
	case to > from+1:
		return fmt.Errorf("%w: %d -> %d", ErrMultiStepRotation, from, to)
	}
	return nil
}

// Transition describes what an offset change does to the live set.
type Transition struct {
	From       uint64      `json:"from"`
	To         uint64      `json:"to"`
	Retired    []ring.Slot `json:"retired"`
	Introduced []ring.Slot `json:"introduced"`
	// Stable lists partitions whose member, and therefore endpoint, is untouched.
	Stable []int `json:"stable"`
}

// Diff compares the live sets of two offsets partition by partition. It does not
// enforce CheckAdvance, so it can also be used to describe a rejected jump.
func Diff(from, to uint64, size int) (Transition, error) {
	before, err := ring.Allocate(from, size)
	if err != nil {
		return Transition{}, fmt.Errorf("%w: %d", ErrInvalidSize, size)
	}
	after, _ := ring.Allocate(to, size)

	t := Transition{From: from, To: to}
	for p := range before {
		if before[p].ID == after[p].ID {
			t.Stable = append(t.Stable, p)
			continue
		}
		t.Retired = append(t.Retired, before[p])
		t.Introduced = append(t.Introduced, after[p])
	}
	return t, nil
}

// SingleStep reports whether at most one member is in flight during the transition.
func (t Transition) SingleStep() bool { return len(t.Retired) <= 1 }
