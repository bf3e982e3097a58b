// Package rotation computes the boot-time view of every live member of a rotating
// Raft cluster: who it joins and which member it retires once it has joined.
//
// A plan is a pure function of the live member set. Nothing here blocks or keeps
// state between passes; every pass recomputes the plan from current membership.
package rotation

import (
	"fmt"
	"net"
	"slices"
	"strings"

	"github.com/ryandielhenn/zephyrrotor/pkg/ring"
)

// Member is a live logical member with its resolved endpoint.
type Member struct {
	ID        ring.MemberID `json:"id"`
	Partition int           `json:"partition"`
	Addr      string        `json:"addr"`
}

// Entry is the boot-time configuration of one member. Join info and the deprovision
// target travel together so the executor can sequence join-then-retire without
// further lookups.
type Entry struct {
	ID        ring.MemberID `json:"id"`
	Partition int           `json:"partition"`
	Addr      string        `json:"addr"`
	// Peers are the addresses of every other live member, in partition order.
	Peers           []string      `json:"peers"`
	DeprovisionID   ring.MemberID `json:"deprovision_id"`
	DeprovisionAddr string        `json:"deprovision_addr"`
}

// SelfTarget reports the degenerate single-member case where a member is its own
// deprovision target. Executors treat it as a no-op.
func (e Entry) SelfTarget() bool { return e.DeprovisionID == e.ID }

// Plan maps each live member id to its entry.
type Plan map[ring.MemberID]Entry

// Ordered returns the entries in partition order.
func (p Plan) Ordered() []Entry {
	out := make([]Entry, 0, len(p))
	for _, e := range p {
		out = append(out, e)
	}
	slices.SortFunc(out, func(a, b Entry) int { return a.Partition - b.Partition })
	return out
}

func (p Plan) Size() int { return len(p) }

// Offset is the generation offset the plan was built for: the smallest live id minus one.
func (p Plan) Offset() uint64 {
	var lo ring.MemberID
	first := true
	for id := range p {
		if first || id < lo {
			lo, first = id, false
		}
	}
	if first {
		return 0
	}
	return uint64(lo) - 1
}

// Build plans a cluster of the given size. members must be exactly the live set of
// some generation offset; order does not matter, the planner works in partition order.
func Build(size int, members []Member) (Plan, error) {
	ordered, err := validate(size, members)
	if err != nil {
		return nil, err
	}

	plan := make(Plan, size)
	for k, m := range ordered {
		peers := make([]string, 0, size-1)
		for j, other := range ordered {
			if j != k {
				peers = append(peers, other.Addr)
			}
		}
		next := ordered[(k+1)%size]
		plan[m.ID] = Entry{
			ID:              m.ID,
			Partition:       m.Partition,
			Addr:            m.Addr,
			Peers:           peers,
			DeprovisionID:   next.ID,
			DeprovisionAddr: next.Addr,
		}
	}
	return plan, nil
}

// Members pairs allocated slots with their resolved endpoints, keeping slot order.
func Members(slots []ring.Slot, addrs map[ring.MemberID]string) ([]Member, error) {
	out := make([]Member, 0, len(slots))
	for _, s := range slots {
		addr, ok := addrs[s.ID]
		if !ok || addr == "" {
			return nil, fmt.Errorf("%w: id %d (partition %d) unresolved", ErrMissingAddress, s.ID, s.Partition)
		}
		out = append(out, Member{ID: s.ID, Partition: s.Partition, Addr: addr})
	}
	return out, nil
}

// ResolveFunc resolves endpoint addresses for allocated slots.
type ResolveFunc func(slots []ring.Slot) (map[ring.MemberID]string, error)

// Compute runs the whole pipeline: allocate, resolve, plan.
func Compute(offset uint64, size int, resolve ResolveFunc) (Plan, error) {
	slots, err := ring.Allocate(offset, size)
	if err != nil {
		return nil, fmt.Errorf("%w: %d", ErrInvalidSize, size)
	}
	addrs, err := resolve(slots)
	if err != nil {
		return nil, fmt.Errorf("resolve endpoints: %w", err)
	}
	members, err := Members(slots, addrs)
	if err != nil {
		return nil, err
	}
	return Build(size, members)
}

// CheckAddress accepts a bare host: an IPv4 or IPv6 literal or a hostname. Ports
// and schemes are rejected since ports come from the cluster configuration.
func CheckAddress(addr string) error {
	if addr == "" {
		return ErrMissingAddress
	}
	if strings.ContainsAny(addr, "/ ") {
		return fmt.Errorf("%w: %q", ErrInvalidAddress, addr)
	}
	if _, _, err := net.SplitHostPort(addr); err == nil {
		return fmt.Errorf("%w: %q carries a port", ErrInvalidAddress, addr)
	}
	return nil
}

func validate(size int, members []Member) ([]Member, error) {
	if size < 1 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidSize, size)
	}
	if len(members) != size {
		return nil, fmt.Errorf("%w: got %d members, size %d", ErrSizeMismatch, len(members), size)
	}

	ids := make(map[ring.MemberID]struct{}, size)
	addrs := make(map[string]ring.MemberID, size)
	ordered := make([]Member, size)
	filled := make([]bool, size)
	lo, hi := members[0].ID, members[0].ID

	for _, m := range members {
		if _, dup := ids[m.ID]; dup {
			return nil, fmt.Errorf("%w: %d", ErrDuplicateID, m.ID)
		}
		ids[m.ID] = struct{}{}

		if m.Partition < 0 || m.Partition >= size || m.Partition != ring.PartitionOf(m.ID, size) {
			return nil, fmt.Errorf("%w: id %d on partition %d, size %d", ErrPartitionMismatch, m.ID, m.Partition, size)
		}
		if filled[m.Partition] {
			return nil, fmt.Errorf("%w: %d", ErrDuplicatePartition, m.Partition)
		}
		filled[m.Partition] = true
		ordered[m.Partition] = m

		if err := CheckAddress(m.Addr); err != nil {
			return nil, fmt.Errorf("%w (id %d)", err, m.ID)
		}
		if other, dup := addrs[m.Addr]; dup {
			return nil, fmt.Errorf("%w: %s used by %d and %d", ErrDuplicateAddress, m.Addr, other, m.ID)
		}
		addrs[m.Addr] = m.ID

		lo, hi = min(lo, m.ID), max(hi, m.ID)
	}

	// Live ids are [O+1, O+1+N) with O >= 0.
	if lo < 1 || uint64(hi-lo) != uint64(size-1) {
		return nil, fmt.Errorf("%w: ids span [%d, %d] for size %d", ErrNotLive, lo, hi, size)
	}
	return ordered, nil
}
