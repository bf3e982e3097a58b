package bootstrap

import (
	"strconv"
	"strings"

	"github.com/hashicorp/raft"

	"github.com/ryandielhenn/zephyrrotor/pkg/rotation"
)

// ClientAddrsVar is the environment variable application tiers read the store's
// addresses from.
const ClientAddrsVar = "RQLITE_IPS"

// RaftConfiguration is the static voter set a freshly booted cluster would start
// from: every live member as a voter, id = decimal member id, address host:raftPort.
func RaftConfiguration(p rotation.Plan, raftPort int) raft.Configuration {
	if raftPort <= 0 {
		raftPort = DefaultRaftPort
	}
	port := strconv.Itoa(raftPort)
	servers := make([]raft.Server, 0, p.Size())
	for _, e := range p.Ordered() {
		servers = append(servers, raft.Server{
			Suffrage: raft.Voter,
			ID:       raft.ServerID(e.ID.String()),
			Address:  raft.ServerAddress(NormalizeHostPort(HostOnly(e.Addr), port)),
		})
	}
	return raft.Configuration{Servers: servers}
}

// ClientEnv renders the export line handed to application tiers, e.g.
// export RQLITE_IPS="10.0.0.3,10.0.1.1,10.0.2.2".
func ClientEnv(p rotation.Plan) string {
	addrs := make([]string, 0, p.Size())
	for _, e := range p.Ordered() {
		addrs = append(addrs, e.Addr)
	}
	return "export " + ClientAddrsVar + "=\"" + strings.Join(addrs, ",") + "\""
}
