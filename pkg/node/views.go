package node

import (
	"github.com/ryandielhenn/zephyrrotor/pkg/bootstrap"
	"github.com/ryandielhenn/zephyrrotor/pkg/ring"
	"github.com/ryandielhenn/zephyrrotor/pkg/rotation"
)

// PlanView is the wire form of a plan, members in partition order.
type PlanView struct {
	Cluster string       `json:"cluster"`
	Offset  uint64       `json:"offset"`
	Size    int          `json:"size"`
	Members []MemberView `json:"members"`
}

type MemberView struct {
	rotation.Entry
	Zone     string `json:"zone,omitempty"`
	Resource string `json:"resource"`
	Label    string `json:"label"`
}

func (n *Node) View(p rotation.Plan, offset uint64) PlanView {
	v := PlanView{Cluster: n.cfg.Cluster.Name, Offset: offset, Size: p.Size()}
	for _, e := range p.Ordered() {
		slot := ring.Slot{ID: e.ID, Partition: e.Partition, Zone: n.ring.Zone(e.Partition)}
		v.Members = append(v.Members, MemberView{
			Entry:    e,
			Zone:     slot.Zone,
			Resource: slot.ResourceName(n.cfg.Cluster.Name),
			Label:    slot.Label(n.cfg.Cluster.Name),
		})
	}
	return v
}

// RaftServer is a JSON friendly raft.Server.
type RaftServer struct {
	ID       string `json:"id"`
	Address  string `json:"address"`
	Suffrage string `json:"suffrage"`
}

func (n *Node) RaftView(p rotation.Plan) []RaftServer {
	conf := bootstrap.RaftConfiguration(p, n.cfg.Cluster.RaftPort)
	out := make([]RaftServer, 0, len(conf.Servers))
	for _, s := range conf.Servers {
		out = append(out, RaftServer{ID: string(s.ID), Address: string(s.Address), Suffrage: s.Suffrage.String()})
	}
	return out
}

// SubstitutionsView is what one member's setup script receives.
type SubstitutionsView struct {
	MemberID      ring.MemberID     `json:"member_id"`
	File          string            `json:"file"`
	Substitutions map[string]string `json:"substitutions"`
}
