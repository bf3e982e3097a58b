package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ryandielhenn/zephyrrotor/pkg/node"
	"github.com/ryandielhenn/zephyrrotor/pkg/rotation"
)

const staticConfig = `
cluster:
  name: db
  offset: 0
registry:
  kind: static
  static:
    0: 10.0.0.3
    1: 10.0.1.1
    2: 10.0.2.2
`

func run(t *testing.T, cfgBody string, args ...string) (string, error) {
	t.Helper()
	dir := t.TempDir()
	p := filepath.Join(dir, "rotor.yaml")
	require.NoError(t, os.WriteFile(p, []byte(cfgBody), 0o600))

	var out bytes.Buffer
	root := newRootCmd(&app{})
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(append([]string{"--config", p}, args...))
	err := root.Execute()
	return out.String(), err
}

func TestPlanText(t *testing.T) {
	out, err := run(t, staticConfig, "plan")
	require.NoError(t, err)
	require.Contains(t, out, "cluster db  offset 0  size 3")
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 5)
	require.Contains(t, lines[2], "10.0.1.1,10.0.2.2")
	require.Contains(t, lines[2], "1 (10.0.1.1)")
}

func TestPlanRaftFormat(t *testing.T) {
	out, err := run(t, staticConfig, "plan", "--format", "raft")
	require.NoError(t, err)
	require.Contains(t, out, `"address": "10.0.0.3:4002"`)
}

func TestPlanUnknownFormat(t *testing.T) {
	_, err := run(t, staticConfig, "plan", "-o", "yaml")
	require.Error(t, err)
}

func TestRenderWritesConfigPerMember(t *testing.T) {
	outDir := t.TempDir()
	out, err := run(t, staticConfig, "render", "--out", outDir)
	require.NoError(t, err)
	require.Len(t, strings.Fields(out), 3)

	b, err := os.ReadFile(filepath.Join(outDir, "db-instance-3", "config.sh"))
	require.NoError(t, err)
	require.Equal(t, "NODE_ID=\"3\"\nMY_IP=\"10.0.0.3\"\nJOIN_ADDRESS=\"http://10.0.1.1:4001,http://10.0.2.2:4001\"\nDEPROVISION_IP=\"10.0.1.1\"\n", string(b))
}

func TestApplyDryRun(t *testing.T) {
	outDir := t.TempDir()
	cfg := staticConfig + "bootstrap:\n  out_dir: " + outDir + "\n  parallelism: 2\n"
	out, err := run(t, cfg, "apply")
	require.NoError(t, err)
	require.Contains(t, out, "db-remote-execution-2")
	require.FileExists(t, filepath.Join(outDir, "db-remote-execution-2", "job.json"))
}

func TestDiffDefaultsToNextOffset(t *testing.T) {
	out, err := run(t, staticConfig, "diff")
	require.NoError(t, err)
	require.Contains(t, out, "offset 0 -> 1")
	require.Contains(t, out, "partition 1: retire 1, introduce 4")
	require.Contains(t, out, "stable partitions: [0 2]")
	require.NotContains(t, out, "not a supported advance")

	out, err = run(t, staticConfig, "diff", "--to", "3")
	require.NoError(t, err)
	require.Contains(t, out, "not a supported advance")
}

func TestAdvanceRejectsJump(t *testing.T) {
	_, err := run(t, staticConfig, "advance", "--to", "2")
	require.ErrorIs(t, err, rotation.ErrMultiStepRotation)
	require.Equal(t, 1, exitCode(err))
}

func TestAdvanceRefusesVolatileOffset(t *testing.T) {
	for range 2 {
		out, err := run(t, staticConfig, "advance")
		require.ErrorIs(t, err, node.ErrVolatileOffset)
		require.Equal(t, 2, exitCode(err))
		require.NotContains(t, out, "offset 0 -> 1")
	}

	// The supported path without etcd is bumping the configured offset.
	out, err := run(t, strings.Replace(staticConfig, "offset: 0", "offset: 1", 1), "plan", "-o", "json")
	require.NoError(t, err)
	require.Contains(t, out, `"offset": 1`)
}

func TestEnv(t *testing.T) {
	out, err := run(t, staticConfig, "env")
	require.NoError(t, err)
	require.Equal(t, "export RQLITE_IPS=\"10.0.0.3,10.0.1.1,10.0.2.2\"\n", out)
}

func TestMissingAddressIsConfigurationDefect(t *testing.T) {
	cfg := "registry:\n  kind: memory\n"
	_, err := run(t, cfg, "plan")
	require.ErrorIs(t, err, rotation.ErrMissingAddress)
	require.Equal(t, 1, exitCode(err))
}
