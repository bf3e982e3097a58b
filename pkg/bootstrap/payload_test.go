package bootstrap

import (
	"strings"
	"testing"

	"github.com/hashicorp/raft"
	"github.com/stretchr/testify/require"

	"github.com/ryandielhenn/zephyrrotor/pkg/ring"
	"github.com/ryandielhenn/zephyrrotor/pkg/rotation"
)

func scenarioPlan(t *testing.T) rotation.Plan {
	t.Helper()
	plan, err := rotation.Build(3, []rotation.Member{
		{ID: 3, Partition: 0, Addr: "10.0.0.30"},
		{ID: 1, Partition: 1, Addr: "10.0.1.10"},
		{ID: 2, Partition: 2, Addr: "10.0.2.20"},
	})
	require.NoError(t, err)
	return plan
}

func TestSubstitutionsContract(t *testing.T) {
	p := Assemble(scenarioPlan(t)[1], Options{})
	subs := p.Substitutions()

	require.Len(t, subs, 4)
	require.Equal(t, "1", subs["NODE_ID"])
	require.Equal(t, "10.0.1.10", subs["MY_IP"])
	require.Equal(t, "http://10.0.0.30:4001,http://10.0.2.20:4001", subs["JOIN_ADDRESS"])
	require.Equal(t, "10.0.2.20", subs["DEPROVISION_IP"])

	files := p.Files()
	require.Equal(t, subs, files["config.sh"])
}

func TestAssembleCustomSchemeAndPort(t *testing.T) {
	p := Assemble(scenarioPlan(t)[3], Options{Scheme: "https", ClusterPort: 5001})
	require.Equal(t, []string{"https://10.0.1.10:5001", "https://10.0.2.20:5001"}, p.JoinAddresses)
	require.Equal(t, "10.0.1.10", p.DeprovisionIP)
}

func TestAssembleSingleMember(t *testing.T) {
	plan, err := rotation.Build(1, []rotation.Member{{ID: 1, Partition: 0, Addr: "10.0.0.1"}})
	require.NoError(t, err)
	p := Assemble(plan[1], Options{})
	require.Equal(t, "", p.Substitutions()[KeyJoinAddress])
	require.Equal(t, "10.0.0.1", p.DeprovisionIP)
}

func TestAssembleUsesClusterPortNotPeerPort(t *testing.T) {
	// Entries built outside the planner may still carry service ports.
	e := rotation.Entry{
		ID:              1,
		Partition:       1,
		Addr:            "10.0.0.1:8080",
		Peers:           []string{"10.0.0.2:8080", "http://10.0.0.3:9000/", "fe80::4"},
		DeprovisionID:   2,
		DeprovisionAddr: "10.0.0.2:8080",
	}
	p := Assemble(e, Options{})
	require.Equal(t, []string{"http://10.0.0.2:4001", "http://10.0.0.3:4001", "http://[fe80::4]:4001"}, p.JoinAddresses)
	require.Equal(t, "10.0.0.1", p.MyIP)
	require.Equal(t, "10.0.0.2", p.DeprovisionIP)
}

func TestBuildRejectsAddressWithPort(t *testing.T) {
	_, err := rotation.Build(2, []rotation.Member{
		{ID: 2, Partition: 0, Addr: "10.0.0.2:8080"},
		{ID: 1, Partition: 1, Addr: "10.0.0.1"},
	})
	require.ErrorIs(t, err, rotation.ErrInvalidAddress)
	require.ErrorIs(t, err, rotation.ErrConfiguration)
}

func TestAssembleAllPartitionOrder(t *testing.T) {
	all := AssembleAll(scenarioPlan(t), Options{})
	require.Len(t, all, 3)
	require.Equal(t, []string{"3", "1", "2"}, []string{all[0].NodeID, all[1].NodeID, all[2].NodeID})
}

func TestRender(t *testing.T) {
	got := string(Render(Assemble(scenarioPlan(t)[2], Options{})))
	want := strings.Join([]string{
		`NODE_ID="2"`,
		`MY_IP="10.0.2.20"`,
		`JOIN_ADDRESS="http://10.0.0.30:4001,http://10.0.1.10:4001"`,
		`DEPROVISION_IP="10.0.0.30"`,
	}, "\n") + "\n"
	require.Equal(t, want, got)
}

func TestNormalizeHostPort(t *testing.T) {
	cases := map[string]string{
		"10.0.0.1":             "10.0.0.1:4001",
		"10.0.0.1:9000":        "10.0.0.1:9000",
		"http://10.0.0.1":      "10.0.0.1:4001",
		"https://db.internal/": "db.internal:4001",
		"::1":                  "[::1]:4001",
		"[fe80::1]":            "[fe80::1]:4001",
	}
	for in, want := range cases {
		if got := NormalizeHostPort(in, "4001"); got != want {
			t.Fatalf("NormalizeHostPort(%q) = %q, want %q", in, got, want)
		}
	}
	if got := HostOnly("http://10.0.0.1:4001"); got != "10.0.0.1" {
		t.Fatalf("HostOnly = %q", got)
	}
}

func TestRaftConfiguration(t *testing.T) {
	conf := RaftConfiguration(scenarioPlan(t), 0)
	require.Equal(t, []raft.Server{
		{Suffrage: raft.Voter, ID: "3", Address: "10.0.0.30:4002"},
		{Suffrage: raft.Voter, ID: "1", Address: "10.0.1.10:4002"},
		{Suffrage: raft.Voter, ID: "2", Address: "10.0.2.20:4002"},
	}, conf.Servers)
}

func TestClientEnv(t *testing.T) {
	require.Equal(t, `export RQLITE_IPS="10.0.0.30,10.0.1.10,10.0.2.20"`, ClientEnv(scenarioPlan(t)))
}

func TestPayloadsFollowAllocation(t *testing.T) {
	slots, err := ring.Allocate(0, 3)
	require.NoError(t, err)
	all := AssembleAll(scenarioPlan(t), Options{})
	for i, s := range slots {
		require.Equal(t, s.ID.String(), all[i].NodeID)
	}
}
