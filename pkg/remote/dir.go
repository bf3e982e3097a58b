package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ryandielhenn/zephyrrotor/pkg/bootstrap"
)

// DirRunner is a dry-run executor. It writes each job's rendered config and a
// job.json manifest to <Root>/<job name>/ instead of touching any host.
type DirRunner struct {
	Root string
}

func (d DirRunner) Run(ctx context.Context, job Job) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	dir := filepath.Join(d.Root, job.Name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(dir, bootstrap.ConfigFile), bootstrap.Render(job.Payload), 0o600); err != nil {
		return fmt.Errorf("write %s: %w", bootstrap.ConfigFile, err)
	}
	manifest, err := json.MarshalIndent(job, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, "job.json"), manifest, 0o600)
}
