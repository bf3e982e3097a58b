package node

import (
	"context"
	"fmt"
	"time"

	"github.com/ryandielhenn/zephyrrotor/discovery"
	"github.com/ryandielhenn/zephyrrotor/internal/config"
	"github.com/ryandielhenn/zephyrrotor/internal/logger"
	"github.com/ryandielhenn/zephyrrotor/internal/telemetry"
	"github.com/ryandielhenn/zephyrrotor/pkg/ring"
	"github.com/ryandielhenn/zephyrrotor/pkg/rotation"
)

// Registry is the resolver and offset store selected by registry.kind.
type Registry struct {
	Kind     string
	Resolver discovery.Resolver
	Offsets  discovery.OffsetStore
	// Memory is set for the memory kind; members register through the HTTP API.
	Memory *discovery.Memory
	// Etcd is set for the etcd kind.
	Etcd *discovery.Etcd
	// DurableOffset is false when the offset store lives only as long as this
	// process, so an advance made here would be lost on exit.
	DurableOffset bool

	close func() error
}

// OpenRegistry builds the registry the config names. Registries that do not store
// an offset (static, ec2) keep one in memory, seeded from cluster.offset.
func OpenRegistry(ctx context.Context, cfg *config.Config) (*Registry, error) {
	reg := &Registry{Kind: cfg.Registry.Kind, close: func() error { return nil }}

	switch cfg.Registry.Kind {
	case config.RegistryStatic:
		reg.Resolver = discovery.Static(cfg.Registry.Static)
		reg.Offsets = discovery.NewMemory(cfg.Cluster.Offset)

	case config.RegistryMemory:
		m := discovery.NewMemory(cfg.Cluster.Offset)
		if err := seedMemory(m, cfg); err != nil {
			return nil, err
		}
		reg.Resolver, reg.Offsets, reg.Memory = m, m, m

	case config.RegistryEtcd:
		cli, err := discovery.NewClient(cfg.Registry.Etcd.Endpoints, cfg.Registry.Etcd.DialTimeout)
		if err != nil {
			return nil, fmt.Errorf("etcd client: %w", err)
		}
		e := discovery.NewEtcd(cli, cfg.Registry.Etcd.Prefix)
		reg.Resolver, reg.Offsets, reg.Etcd = e, e, e
		reg.DurableOffset = true
		reg.close = cli.Close

	case config.RegistryEC2:
		e, err := discovery.NewEC2(ctx, cfg.Registry.EC2.Region, cfg.Registry.EC2.ClusterTag)
		if err != nil {
			return nil, err
		}
		reg.Resolver = e
		reg.Offsets = discovery.NewMemory(cfg.Cluster.Offset)

	default:
		return nil, fmt.Errorf("unknown registry kind %q", cfg.Registry.Kind)
	}
	return reg, nil
}

// seedMemory registers the configured static table as the live members of
// cluster.offset, so a memory registry can plan before anyone registers.
func seedMemory(m *discovery.Memory, cfg *config.Config) error {
	if len(cfg.Registry.Static) == 0 {
		return nil
	}
	slots, err := ring.Allocate(cfg.Cluster.Offset, cfg.Cluster.Size)
	if err != nil {
		return err
	}
	for _, s := range slots {
		if addr, ok := cfg.Registry.Static[s.Partition]; ok {
			m.Register(s.ID, addr, 0)
		}
	}
	return nil
}

// Watch keeps the registered_members gauge current for registries that can be
// watched. It returns immediately for the others.
func (r *Registry) Watch(ctx context.Context) error {
	if r.Etcd == nil {
		return nil
	}
	log := logger.Named("registry")
	return r.Etcd.WatchMembers(ctx, func(members map[ring.MemberID]string) {
		telemetry.RegisteredMembers.Set(float64(len(members)))
		log.Debug("membership changed", logger.Size(len(members)))
	})
}

// Register publishes a member in registries that accept registrations. The etcd
// registration lives until the returned cancel func is called.
func (r *Registry) Register(ctx context.Context, id ring.MemberID, addr string, ttl time.Duration) (context.CancelFunc, error) {
	if err := rotation.CheckAddress(addr); err != nil {
		return nil, err
	}
	switch {
	case r.Memory != nil:
		r.Memory.Register(id, addr, ttl)
		return func() {}, nil
	case r.Etcd != nil:
		secs := int64(ttl / time.Second)
		if secs < 1 {
			secs = 1
		}
		_, cancel, err := r.Etcd.RegisterMember(ctx, id, addr, secs)
		return cancel, err
	default:
		return nil, fmt.Errorf("%w: %s", ErrReadOnlyRegistry, r.Kind)
	}
}

func (r *Registry) Close() error { return r.close() }
