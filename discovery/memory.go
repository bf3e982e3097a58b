package discovery

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ryandielhenn/zephyrrotor/pkg/ring"
	"github.com/ryandielhenn/zephyrrotor/pkg/rotation"
)

type registration struct {
	addr     string
	expireAt time.Time
}

// Memory is an in-process registry: members register with an optional TTL, the
// way etcd leases behave, and the offset lives in the same struct.
type Memory struct {
	mu      sync.RWMutex
	members map[ring.MemberID]registration
	offset  uint64
	now     func() time.Time
}

func NewMemory(offset uint64) *Memory {
	return &Memory{
		members: make(map[ring.MemberID]registration),
		offset:  offset,
		now:     time.Now,
	}
}

// Register records addr for id. ttl <= 0 never expires. Re-registering refreshes.
func (m *Memory) Register(id ring.MemberID, addr string, ttl time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var exp time.Time
	if ttl > 0 {
		exp = m.now().Add(ttl)
	}
	m.members[id] = registration{addr: addr, expireAt: exp}
}

func (m *Memory) Deregister(id ring.MemberID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.members[id]
	delete(m.members, id)
	return ok
}

// Members returns every unexpired registration.
func (m *Memory) Members() map[ring.MemberID]string {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.expireLocked()
	out := make(map[ring.MemberID]string, len(m.members))
	for id, r := range m.members {
		out[id] = r.addr
	}
	return out
}

func (m *Memory) Len() int {
	return len(m.Members())
}

func (m *Memory) Resolve(_ context.Context, slots []ring.Slot) (map[ring.MemberID]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.expireLocked()
	out := make(map[ring.MemberID]string, len(slots))
	for _, s := range slots {
		if r, ok := m.members[s.ID]; ok {
			out[s.ID] = r.addr
		}
	}
	return out, nil
}

func (m *Memory) Offset(context.Context) (uint64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.offset, nil
}

func (m *Memory) Advance(_ context.Context, from, to uint64) error {
	if err := rotation.CheckAdvance(from, to); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.offset != from {
		return fmt.Errorf("%w: stored %d, advancing from %d", ErrOffsetConflict, m.offset, from)
	}
	m.offset = to
	return nil
}

func (m *Memory) expireLocked() {
	now := m.now()
	for id, r := range m.members {
		if !r.expireAt.IsZero() && now.After(r.expireAt) {
			delete(m.members, id)
		}
	}
}
