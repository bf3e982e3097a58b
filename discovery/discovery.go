// Package discovery resolves member endpoints and stores the generation offset.
//
// Resolvers are the provisioning side of the system: they report where each
// allocated member is reachable. A resolver returns only the members it knows;
// the planner reports anything missing as a configuration defect.
package discovery

import (
	"context"
	"errors"

	"github.com/ryandielhenn/zephyrrotor/pkg/ring"
	"github.com/ryandielhenn/zephyrrotor/pkg/rotation"
)

// ErrOffsetConflict means the stored offset is not the one the caller advanced from,
// usually because another operator advanced it first.
var ErrOffsetConflict = errors.New("discovery: offset changed concurrently")

// Resolver maps allocated slots to endpoint addresses.
type Resolver interface {
	Resolve(ctx context.Context, slots []ring.Slot) (map[ring.MemberID]string, error)
}

// OffsetStore holds the operator-controlled generation offset.
type OffsetStore interface {
	Offset(ctx context.Context) (uint64, error)
	// Advance moves the offset from -> to. It fails with rotation.ErrMultiStepRotation
	// or rotation.ErrOffsetRegression for unsupported transitions and with
	// ErrOffsetConflict when the stored value is not from.
	Advance(ctx context.Context, from, to uint64) error
}

// Bind adapts a Resolver to the planner's resolve hook.
func Bind(ctx context.Context, r Resolver) rotation.ResolveFunc {
	return func(slots []ring.Slot) (map[ring.MemberID]string, error) {
		return r.Resolve(ctx, slots)
	}
}

// Static resolves by partition from a fixed table, for clusters whose partitions
// keep their address across replacements.
type Static map[int]string

func (s Static) Resolve(_ context.Context, slots []ring.Slot) (map[ring.MemberID]string, error) {
	out := make(map[ring.MemberID]string, len(slots))
	for _, slot := range slots {
		if addr, ok := s[slot.Partition]; ok {
			out[slot.ID] = addr
		}
	}
	return out, nil
}
