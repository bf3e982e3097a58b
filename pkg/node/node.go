package node

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/ryandielhenn/zephyrrotor/discovery"
	"github.com/ryandielhenn/zephyrrotor/internal/config"
	"github.com/ryandielhenn/zephyrrotor/internal/logger"
	"github.com/ryandielhenn/zephyrrotor/internal/telemetry"
	"github.com/ryandielhenn/zephyrrotor/pkg/bootstrap"
	"github.com/ryandielhenn/zephyrrotor/pkg/remote"
	"github.com/ryandielhenn/zephyrrotor/pkg/ring"
	"github.com/ryandielhenn/zephyrrotor/pkg/rotation"
)

var (
	// ErrResolve wraps failures of the endpoint resolver itself, as opposed to
	// resolved data that fails validation.
	ErrResolve = errors.New("endpoint resolution failed")

	ErrReadOnlyRegistry = errors.New("registry does not accept registrations")

	// ErrVolatileOffset means the registry keeps the offset in process memory only.
	ErrVolatileOffset = errors.New("registry does not persist the offset")
)

// Node is the control plane: it plans the current generation from the registry
// and guards offset advances.
type Node struct {
	cfg  *config.Config
	ring *ring.Ring
	reg  *Registry
	log  *zap.Logger

	// sf coalesces concurrent plans of the same offset into one resolver call.
	sf singleflight.Group
}

func NewNode(cfg *config.Config, reg *Registry) *Node {
	r := ring.Sized(cfg.Cluster.Size)
	if len(cfg.Cluster.Zones) > 0 {
		r = ring.New(cfg.Cluster.Zones...)
	}
	return &Node{cfg: cfg, ring: r, reg: reg, log: logger.Named("node")}
}

func (n *Node) Config() *config.Config { return n.cfg }

func (n *Node) Registry() *Registry { return n.reg }

func (n *Node) Ring() *ring.Ring { return n.ring }

// Offset reads the current generation offset from the registry.
func (n *Node) Offset(ctx context.Context) (uint64, error) {
	return n.reg.Offsets.Offset(ctx)
}

// PlanTimeout bounds a shared plan call once no single caller owns it.
const PlanTimeout = 30 * time.Second

// Plan computes the plan of generation offset. Each call resolves endpoints afresh,
// except that callers arriving while a plan of the same offset is in flight share it.
// The shared call outlives any one caller's cancellation; each caller still returns
// as soon as its own ctx is done.
func (n *Node) Plan(ctx context.Context, offset uint64) (rotation.Plan, error) {
	ch := n.sf.DoChan(strconv.FormatUint(offset, 10), func() (any, error) {
		shared, cancel := context.WithTimeout(context.WithoutCancel(ctx), PlanTimeout)
		defer cancel()
		return n.observedPlan(shared, offset)
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(rotation.Plan), nil
	}
}

func (n *Node) observedPlan(ctx context.Context, offset uint64) (rotation.Plan, error) {
	start := time.Now()
	plan, result, err := n.plan(ctx, offset)
	telemetry.ObservePlan(result, time.Since(start), plan.Size(), offset)

	log := n.log.With(logger.Offset(offset), logger.Size(n.ring.Size()))
	if err != nil {
		log.Warn("plan failed", zap.String("result", result), logger.Err(err))
		return nil, err
	}
	log.Debug("plan built", zap.Duration("elapsed", time.Since(start)))
	return plan, nil
}

func (n *Node) plan(ctx context.Context, offset uint64) (rotation.Plan, string, error) {
	slots, err := n.ring.Allocate(offset)
	if err != nil {
		return nil, "config_error", fmt.Errorf("%w: %d", rotation.ErrInvalidSize, n.ring.Size())
	}
	addrs, err := n.reg.Resolver.Resolve(ctx, slots)
	if err != nil {
		return nil, "resolve_error", fmt.Errorf("%w: %w", ErrResolve, err)
	}
	members, err := rotation.Members(slots, addrs)
	if err != nil {
		return nil, "config_error", err
	}
	plan, err := rotation.Build(n.ring.Size(), members)
	if err != nil {
		return nil, "config_error", err
	}
	return plan, "ok", nil
}

// CurrentPlan plans the offset the registry holds now.
func (n *Node) CurrentPlan(ctx context.Context) (rotation.Plan, uint64, error) {
	off, err := n.Offset(ctx)
	if err != nil {
		return nil, 0, err
	}
	plan, err := n.Plan(ctx, off)
	return plan, off, err
}

// Advance moves the stored offset one generation forward. The new generation must
// plan cleanly before the offset moves.
func (n *Node) Advance(ctx context.Context, from, to uint64) error {
	if err := rotation.CheckAdvance(from, to); err != nil {
		telemetry.AdvancesTotal.WithLabelValues("rejected").Inc()
		return err
	}
	if _, err := n.Plan(ctx, to); err != nil {
		telemetry.AdvancesTotal.WithLabelValues("rejected").Inc()
		return fmt.Errorf("generation %d is not ready: %w", to, err)
	}
	if err := n.reg.Offsets.Advance(ctx, from, to); err != nil {
		result := "error"
		switch {
		case errors.Is(err, discovery.ErrOffsetConflict):
			result = "conflict"
		case errors.Is(err, rotation.ErrMultiStepRotation), errors.Is(err, rotation.ErrOffsetRegression):
			result = "rejected"
		}
		telemetry.AdvancesTotal.WithLabelValues(result).Inc()
		return err
	}
	telemetry.AdvancesTotal.WithLabelValues("ok").Inc()
	n.log.Info("offset advanced", zap.Uint64("from", from), zap.Uint64("to", to))
	return nil
}

func (n *Node) BootstrapOptions() bootstrap.Options {
	return bootstrap.Options{Scheme: n.cfg.Cluster.Scheme, ClusterPort: n.cfg.Cluster.HTTPPort}
}

func (n *Node) JobOptions() remote.Options {
	b := n.cfg.Bootstrap
	return remote.Options{
		Prefix:       n.cfg.Cluster.Name,
		Bastion:      b.Bastion,
		PrivateKey:   b.PrivateKey,
		Script:       b.Script,
		SharedScript: b.SharedScript,
		Bootstrap:    n.BootstrapOptions(),
	}
}
