// Package remote hands bootstrap jobs to the executor that runs the setup script
// on each member, typically over SSH through a bastion.
package remote

import (
	"context"
	"fmt"

	"github.com/ryandielhenn/zephyrrotor/pkg/bootstrap"
	"github.com/ryandielhenn/zephyrrotor/pkg/ring"
	"github.com/ryandielhenn/zephyrrotor/pkg/rotation"
)

// Job is one member's bootstrap: where to run, what to run, and the file
// substitutions the script reads. Join info and the deprovision target are carried
// together so the executor sequences join-then-retire from a single record.
type Job struct {
	Name         string        `json:"name"`
	MemberID     ring.MemberID `json:"member_id"`
	Host         string        `json:"host"`
	Bastion      string        `json:"bastion,omitempty"`
	PrivateKey   string        `json:"private_key,omitempty"`
	Script       string        `json:"script"`
	SharedScript string        `json:"shared_script,omitempty"`
	// Files maps file name -> substitution key -> value.
	Files   map[string]map[string]string `json:"files"`
	Payload bootstrap.Payload            `json:"payload"`
	// Retire is false when the member is its own deprovision target.
	Retire bool `json:"retire"`
}

type Options struct {
	// Prefix is the cluster name jobs are named after.
	Prefix       string
	Bastion      string
	PrivateKey   string
	Script       string
	SharedScript string
	Bootstrap    bootstrap.Options
}

// Runner executes one job. Implementations own retries and transport errors.
type Runner interface {
	Run(ctx context.Context, job Job) error
}

// RunnerFunc adapts a function to Runner.
type RunnerFunc func(ctx context.Context, job Job) error

func (f RunnerFunc) Run(ctx context.Context, job Job) error { return f(ctx, job) }

// JobName is <prefix>-remote-execution-<id>.
func JobName(prefix string, id ring.MemberID) string {
	return fmt.Sprintf("%s-remote-execution-%d", prefix, id)
}

// Jobs builds one job per plan entry, in partition order.
func Jobs(plan rotation.Plan, opts Options) []Job {
	out := make([]Job, 0, plan.Size())
	for _, e := range plan.Ordered() {
		p := bootstrap.Assemble(e, opts.Bootstrap)
		out = append(out, Job{
			Name:         JobName(opts.Prefix, e.ID),
			MemberID:     e.ID,
			Host:         e.Addr,
			Bastion:      opts.Bastion,
			PrivateKey:   opts.PrivateKey,
			Script:       opts.Script,
			SharedScript: opts.SharedScript,
			Files:        p.Files(),
			Payload:      p,
			Retire:       !e.SelfTarget(),
		})
	}
	return out
}
