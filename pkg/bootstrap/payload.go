// Package bootstrap turns rotation plan entries into the file substitutions the
// remote setup script consumes.
//
// The substitution keys and their formats are a fixed contract with the setup
// script:
//
//	NODE_ID         decimal member id
//	MY_IP           the member's own address
//	JOIN_ADDRESS    comma separated <scheme>://<peer>:<cluster port>, one per other live member
//	DEPROVISION_IP  address of the member to retire after a successful join
package bootstrap

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"

	"github.com/ryandielhenn/zephyrrotor/pkg/rotation"
)

const (
	KeyNodeID        = "NODE_ID"
	KeyMyIP          = "MY_IP"
	KeyJoinAddress   = "JOIN_ADDRESS"
	KeyDeprovisionIP = "DEPROVISION_IP"

	// ConfigFile is the script file the substitutions are applied to.
	ConfigFile = "config.sh"

	DefaultScheme      = "http"
	DefaultClusterPort = 4001
	DefaultRaftPort    = 4002
)

// Keys lists the substitution keys in render order.
var Keys = []string{KeyNodeID, KeyMyIP, KeyJoinAddress, KeyDeprovisionIP}

// Options controls how peer join addresses are formatted.
type Options struct {
	Scheme      string
	ClusterPort int
}

func (o Options) withDefaults() Options {
	if o.Scheme == "" {
		o.Scheme = DefaultScheme
	}
	if o.ClusterPort <= 0 {
		o.ClusterPort = DefaultClusterPort
	}
	return o
}

// Payload is everything one member needs at boot.
type Payload struct {
	NodeID        string   `json:"node_id"`
	MyIP          string   `json:"my_ip"`
	JoinAddresses []string `json:"join_addresses"`
	DeprovisionIP string   `json:"deprovision_ip"`
}

// Assemble formats a plan entry. It does no computation beyond formatting. Any
// scheme or port on an address is dropped: ports come from opts.
func Assemble(e rotation.Entry, opts Options) Payload {
	opts = opts.withDefaults()
	join := make([]string, 0, len(e.Peers))
	for _, peer := range e.Peers {
		join = append(join, JoinURL(opts.Scheme, peer, opts.ClusterPort))
	}
	return Payload{
		NodeID:        e.ID.String(),
		MyIP:          HostOnly(e.Addr),
		JoinAddresses: join,
		DeprovisionIP: HostOnly(e.DeprovisionAddr),
	}
}

// AssembleAll assembles every entry of a plan, in partition order.
func AssembleAll(p rotation.Plan, opts Options) []Payload {
	out := make([]Payload, 0, p.Size())
	for _, e := range p.Ordered() {
		out = append(out, Assemble(e, opts))
	}
	return out
}

// JoinURL formats a peer's cluster endpoint, e.g. http://10.0.1.7:4001. The port is
// always port, even when addr carries one.
func JoinURL(scheme, addr string, port int) string {
	return scheme + "://" + NormalizeHostPort(HostOnly(addr), strconv.Itoa(port))
}

// Substitutions returns the key/value set for ConfigFile.
func (p Payload) Substitutions() map[string]string {
	return map[string]string{
		KeyNodeID:        p.NodeID,
		KeyMyIP:          p.MyIP,
		KeyJoinAddress:   strings.Join(p.JoinAddresses, ","),
		KeyDeprovisionIP: p.DeprovisionIP,
	}
}

// Files returns the substitutions keyed by the file they apply to.
func (p Payload) Files() map[string]map[string]string {
	return map[string]map[string]string{ConfigFile: p.Substitutions()}
}

// Render writes the substitutions as shell assignments in Keys order.
func Render(p Payload) []byte {
	subs := p.Substitutions()
	var buf bytes.Buffer
	for _, k := range Keys {
		fmt.Fprintf(&buf, "%s=%s\n", k, strconv.Quote(subs[k]))
	}
	return buf.Bytes()
}
