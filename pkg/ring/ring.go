package ring

import (
	"errors"
	"fmt"
	"strconv"
)

// ErrInvalidSize is returned when a ring is asked to hold fewer than one partition.
var ErrInvalidSize = errors.New("ring: size must be >= 1")

// MemberID is the logical id of a cluster member. Retired ids are never reassigned.
type MemberID uint64

func (id MemberID) String() string { return strconv.FormatUint(uint64(id), 10) }

// Slot binds a logical member to the physical partition that hosts it.
type Slot struct {
	ID        MemberID
	Partition int
	Zone      string // empty when the ring is unnamed
}

// ResourceName is the provisioning resource name for the slot's instance.
func (s Slot) ResourceName(prefix string) string {
	return fmt.Sprintf("%s-instance-%d", prefix, s.ID)
}

// Label is the human readable instance tag, e.g. "main us-west-2b [4]".
func (s Slot) Label(prefix string) string {
	zone := s.Zone
	if zone == "" {
		zone = strconv.Itoa(s.Partition)
	}
	return fmt.Sprintf("%s %s [%d]", prefix, zone, s.ID)
}

// PartitionOf returns the partition that id always lands on in a ring of size n.
// It depends only on the id, never on the generation offset.
func PartitionOf(id MemberID, size int) int {
	return int(uint64(id) % uint64(size))
}

// LiveIDs returns the live id window [offset+1, offset+1+size) in id order.
func LiveIDs(offset uint64, size int) []MemberID {
	if size < 1 {
		return nil
	}
	ids := make([]MemberID, size)
	for i := range size {
		ids[i] = MemberID(offset + 1 + uint64(i))
	}
	return ids
}

// Allocate maps the live ids for (offset, size) onto partitions 0..size-1.
// The result is indexed by partition: out[p].Partition == p.
func Allocate(offset uint64, size int) ([]Slot, error) {
	if size < 1 {
		return nil, ErrInvalidSize
	}
	// size consecutive ids cover every residue mod size exactly once.
	out := make([]Slot, size)
	for _, id := range LiveIDs(offset, size) {
		p := PartitionOf(id, size)
		out[p] = Slot{ID: id, Partition: p}
	}
	return out, nil
}

// Ring is a fixed set of partitions, optionally named after the zone backing each one.
type Ring struct {
	zones []string
}

// New builds a ring with one partition per zone name, in the given order.
func New(zones ...string) *Ring {
	return &Ring{zones: append([]string(nil), zones...)}
}

// Sized builds an unnamed ring of n partitions.
func Sized(n int) *Ring {
	if n < 0 {
		n = 0
	}
	return &Ring{zones: make([]string, n)}
}

func (r *Ring) Size() int { return len(r.zones) }

// Zone returns the zone name of partition p, or "" if unnamed or out of range.
func (r *Ring) Zone(p int) string {
	if p < 0 || p >= len(r.zones) {
		return ""
	}
	return r.zones[p]
}

// Allocate is the package level Allocate with zone names attached.
func (r *Ring) Allocate(offset uint64) ([]Slot, error) {
	slots, err := Allocate(offset, r.Size())
	if err != nil {
		return nil, err
	}
	for i := range slots {
		slots[i].Zone = r.zones[slots[i].Partition]
	}
	return slots, nil
}
