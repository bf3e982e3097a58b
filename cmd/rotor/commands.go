package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/ryandielhenn/zephyrrotor/pkg/bootstrap"
	"github.com/ryandielhenn/zephyrrotor/pkg/node"
	"github.com/ryandielhenn/zephyrrotor/pkg/remote"
	"github.com/ryandielhenn/zephyrrotor/pkg/ring"
	"github.com/ryandielhenn/zephyrrotor/pkg/rotation"
)

func newPlanCmd(a *app) *cobra.Command {
	var (
		offset uint64
		format string
	)
	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Show every live member's join set and deprovision target",
		RunE: func(cmd *cobra.Command, _ []string) error {
			off, err := a.offsetFor(cmd, offset)
			if err != nil {
				return err
			}
			plan, err := a.node.Plan(cmd.Context(), off)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			switch format {
			case "json":
				return printJSON(out, a.node.View(plan, off))
			case "raft":
				return printJSON(out, a.node.RaftView(plan))
			case "text":
				return printPlan(out, a.node.View(plan, off))
			default:
				return fmt.Errorf("unknown format %q (text|json|raft)", format)
			}
		},
	}
	cmd.Flags().Uint64Var(&offset, "offset", 0, "generation offset (default: the registry's)")
	cmd.Flags().StringVarP(&format, "format", "o", "text", "output format: text|json|raft")
	return cmd
}

func newRenderCmd(a *app) *cobra.Command {
	var (
		offset uint64
		out    string
	)
	cmd := &cobra.Command{
		Use:   "render",
		Short: "Write each live member's config.sh under --out/<resource name>/",
		RunE: func(cmd *cobra.Command, _ []string) error {
			off, err := a.offsetFor(cmd, offset)
			if err != nil {
				return err
			}
			plan, err := a.node.Plan(cmd.Context(), off)
			if err != nil {
				return err
			}
			if out == "" {
				out = a.cfg.Bootstrap.OutDir
			}
			for _, e := range plan.Ordered() {
				slot := ring.Slot{ID: e.ID, Partition: e.Partition}
				dir := filepath.Join(out, slot.ResourceName(a.cfg.Cluster.Name))
				if err := os.MkdirAll(dir, 0o755); err != nil {
					return err
				}
				path := filepath.Join(dir, bootstrap.ConfigFile)
				if err := os.WriteFile(path, bootstrap.Render(bootstrap.Assemble(e, a.node.BootstrapOptions())), 0o600); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), path)
			}
			return nil
		},
	}
	cmd.Flags().Uint64Var(&offset, "offset", 0, "generation offset (default: the registry's)")
	cmd.Flags().StringVar(&out, "out", "", "output directory (default bootstrap.out_dir)")
	return cmd
}

func newApplyCmd(a *app) *cobra.Command {
	var (
		offset      uint64
		parallelism int
	)
	cmd := &cobra.Command{
		Use:   "apply",
		Short: "Dispatch one bootstrap job per live member",
		Long: "Dispatch one bootstrap job per live member. The bundled executor is a dry run\n" +
			"that writes each job under bootstrap.out_dir instead of connecting to hosts.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			off, err := a.offsetFor(cmd, offset)
			if err != nil {
				return err
			}
			plan, err := a.node.Plan(cmd.Context(), off)
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("parallelism") {
				parallelism = a.cfg.Bootstrap.Parallelism
			}
			jobs := remote.Jobs(plan, a.node.JobOptions())
			runner := remote.DirRunner{Root: a.cfg.Bootstrap.OutDir}
			if err := remote.Dispatch(cmd.Context(), runner, jobs, parallelism); err != nil {
				return err
			}
			for _, j := range jobs {
				fmt.Fprintln(cmd.OutOrStdout(), j.Name)
			}
			return nil
		},
	}
	cmd.Flags().Uint64Var(&offset, "offset", 0, "generation offset (default: the registry's)")
	cmd.Flags().IntVar(&parallelism, "parallelism", 0, "max concurrent jobs, 0 for all (default bootstrap.parallelism)")
	return cmd
}

func newDiffCmd(a *app) *cobra.Command {
	var from, to uint64
	cmd := &cobra.Command{
		Use:   "diff",
		Short: "Show which members an offset change retires and introduces",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !cmd.Flags().Changed("from") {
				cur, err := a.node.Offset(cmd.Context())
				if err != nil {
					return err
				}
				from = cur
			}
			if !cmd.Flags().Changed("to") {
				to = from + 1
			}
			t, err := rotation.Diff(from, to, a.node.Ring().Size())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "offset %d -> %d\n", t.From, t.To)
			for i := range t.Retired {
				r, n := t.Retired[i], t.Introduced[i]
				fmt.Fprintf(out, "  partition %d: retire %d, introduce %d\n", r.Partition, r.ID, n.ID)
			}
			fmt.Fprintf(out, "  stable partitions: %v\n", t.Stable)
			if err := rotation.CheckAdvance(from, to); err != nil {
				fmt.Fprintf(out, "  not a supported advance: %v\n", err)
			}
			return nil
		},
	}
	cmd.Flags().Uint64Var(&from, "from", 0, "current offset (default: the registry's)")
	cmd.Flags().Uint64Var(&to, "to", 0, "target offset (default: from+1)")
	return cmd
}

func newAdvanceCmd(a *app) *cobra.Command {
	var to uint64
	cmd := &cobra.Command{
		Use:   "advance",
		Short: "Advance the stored offset by one generation (etcd registry only)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			from, err := a.node.Offset(cmd.Context())
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("to") {
				to = from + 1
			}
			if err := rotation.CheckAdvance(from, to); err != nil {
				return err
			}
			if !a.reg.DurableOffset {
				return fmt.Errorf("%w: the %s registry; set cluster.offset or ROTOR_OFFSET to %d instead",
					node.ErrVolatileOffset, a.reg.Kind, to)
			}
			if err := a.node.Advance(cmd.Context(), from, to); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "offset %d -> %d\n", from, to)
			return nil
		},
	}
	cmd.Flags().Uint64Var(&to, "to", 0, "target offset (default: current+1)")
	return cmd
}

func newEnvCmd(a *app) *cobra.Command {
	var offset uint64
	cmd := &cobra.Command{
		Use:   "env",
		Short: "Print the export line application tiers source",
		RunE: func(cmd *cobra.Command, _ []string) error {
			off, err := a.offsetFor(cmd, offset)
			if err != nil {
				return err
			}
			plan, err := a.node.Plan(cmd.Context(), off)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), bootstrap.ClientEnv(plan))
			return nil
		},
	}
	cmd.Flags().Uint64Var(&offset, "offset", 0, "generation offset (default: the registry's)")
	return cmd
}

func newRegisterCmd(a *app) *cobra.Command {
	var (
		id   uint64
		addr string
		ttl  time.Duration
	)
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Register a member endpoint and hold the registration until interrupted",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if id == 0 || addr == "" {
				return fmt.Errorf("--id and --addr are required")
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			cancel, err := a.reg.Register(ctx, ring.MemberID(id), addr, ttl)
			if err != nil {
				return err
			}
			defer cancel()
			fmt.Fprintf(cmd.OutOrStdout(), "registered %d at %s\n", id, addr)
			<-ctx.Done()
			return nil
		},
	}
	cmd.Flags().Uint64Var(&id, "id", 0, "member id")
	cmd.Flags().StringVar(&addr, "addr", "", "member address")
	cmd.Flags().DurationVar(&ttl, "ttl", 10*time.Second, "registration ttl")
	return cmd
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printPlan(w io.Writer, v node.PlanView) error {
	fmt.Fprintf(w, "cluster %s  offset %d  size %d\n", v.Cluster, v.Offset, v.Size)
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "PARTITION\tID\tADDR\tJOINS\tDEPROVISIONS")
	for _, m := range v.Members {
		target := fmt.Sprintf("%d (%s)", m.DeprovisionID, m.DeprovisionAddr)
		if m.SelfTarget() {
			target = "-"
		}
		fmt.Fprintf(tw, "%d\t%d\t%s\t%s\t%s\n", m.Partition, m.ID, m.Addr, strings.Join(m.Peers, ","), target)
	}
	return tw.Flush()
}
