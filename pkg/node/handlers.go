package node

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/ryandielhenn/zephyrrotor/internal/telemetry"
	"github.com/ryandielhenn/zephyrrotor/pkg/bootstrap"
	"github.com/ryandielhenn/zephyrrotor/pkg/ring"
	"github.com/ryandielhenn/zephyrrotor/pkg/rotation"
)

// Routes wires every endpoint, instrumented per operation.
func (n *Node) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", n.Healthz)
	mux.HandleFunc("GET /info", n.Info)
	mux.Handle("GET /metrics", telemetry.MetricsHandler())

	handle := func(pattern, op string, h http.HandlerFunc) {
		mux.Handle(pattern, telemetry.Instrument(op, h))
	}
	handle("GET /v1/plan", "plan", n.GetPlan)
	handle("GET /v1/plan/raft", "plan_raft", n.GetRaft)
	handle("GET /v1/members/{id}/substitutions", "substitutions", n.GetSubstitutions)
	handle("PUT /v1/members/{id}", "register", n.PutMember)
	handle("DELETE /v1/members/{id}", "deregister", n.DeleteMember)
	handle("GET /v1/offset", "offset_get", n.GetOffset)
	handle("POST /v1/offset", "offset_advance", n.PostOffset)
	handle("GET /v1/env", "env", n.GetEnv)
	return mux
}

// healthz returns 200 OK to indicate the Node is alive.
func (n *Node) Healthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

// info writes the process ID, current time and the cluster shape.
func (n *Node) Info(w http.ResponseWriter, req *http.Request) {
	type resp struct {
		PID      int       `json:"pid"`
		Now      time.Time `json:"now"`
		Cluster  string    `json:"cluster"`
		Size     int       `json:"size"`
		Registry string    `json:"registry"`
		Offset   *uint64   `json:"offset,omitempty"`
	}
	out := resp{PID: os.Getpid(), Now: time.Now(), Cluster: n.cfg.Cluster.Name, Size: n.ring.Size(), Registry: n.reg.Kind}
	if off, err := n.Offset(req.Context()); err == nil {
		out.Offset = &off
	}
	writeJSON(w, http.StatusOK, out)
}

// GetPlan serves the plan of ?offset=, or of the stored offset when absent.
func (n *Node) GetPlan(w http.ResponseWriter, req *http.Request) {
	off, ok := n.offsetParam(w, req)
	if !ok {
		return
	}
	plan, err := n.Plan(req.Context(), off)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, n.View(plan, off))
}

func (n *Node) GetRaft(w http.ResponseWriter, req *http.Request) {
	off, ok := n.offsetParam(w, req)
	if !ok {
		return
	}
	plan, err := n.Plan(req.Context(), off)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, n.RaftView(plan))
}

// GetSubstitutions serves one member's config.sh values. ?format=sh returns the
// rendered file instead of JSON.
func (n *Node) GetSubstitutions(w http.ResponseWriter, req *http.Request) {
	id, ok := memberIDParam(w, req)
	if !ok {
		return
	}
	plan, _, err := n.CurrentPlan(req.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	e, live := plan[id]
	if !live {
		writeError(w, fmt.Errorf("%w: %d", ErrUnknownMember, id))
		return
	}
	p := bootstrap.Assemble(e, n.BootstrapOptions())
	if req.URL.Query().Get("format") == "sh" {
		w.Header().Set("Content-Type", "text/x-shellscript")
		w.Write(bootstrap.Render(p))
		return
	}
	writeJSON(w, http.StatusOK, SubstitutionsView{MemberID: id, File: bootstrap.ConfigFile, Substitutions: p.Substitutions()})
}

// PutMember registers a member endpoint: {"addr": "10.0.1.7", "ttl_seconds": 30}.
func (n *Node) PutMember(w http.ResponseWriter, req *http.Request) {
	id, ok := memberIDParam(w, req)
	if !ok {
		return
	}
	var body struct {
		Addr       string `json:"addr"`
		TTLSeconds int    `json:"ttl_seconds"`
	}
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil || body.Addr == "" {
		writeError(w, fmt.Errorf(`%w: body must be {"addr": ..., "ttl_seconds": ...}`, ErrBadRequest))
		return
	}
	if err := rotation.CheckAddress(body.Addr); err != nil {
		writeError(w, fmt.Errorf("%w: %w", ErrBadRequest, err))
		return
	}
	if n.reg.Memory == nil {
		writeError(w, ErrReadOnlyRegistry)
		return
	}
	n.reg.Memory.Register(id, body.Addr, time.Duration(body.TTLSeconds)*time.Second)
	telemetry.RegisteredMembers.Set(float64(n.reg.Memory.Len()))
	w.WriteHeader(http.StatusNoContent)
}

func (n *Node) DeleteMember(w http.ResponseWriter, req *http.Request) {
	id, ok := memberIDParam(w, req)
	if !ok {
		return
	}
	if n.reg.Memory == nil {
		writeError(w, ErrReadOnlyRegistry)
		return
	}
	if !n.reg.Memory.Deregister(id) {
		writeError(w, fmt.Errorf("%w: %d", ErrUnknownMember, id))
		return
	}
	telemetry.RegisteredMembers.Set(float64(n.reg.Memory.Len()))
	w.WriteHeader(http.StatusNoContent)
}

func (n *Node) GetOffset(w http.ResponseWriter, req *http.Request) {
	off, err := n.Offset(req.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]uint64{"offset": off})
}

// PostOffset advances the offset: {"from": 4, "to": 5}.
func (n *Node) PostOffset(w http.ResponseWriter, req *http.Request) {
	var body struct {
		From *uint64 `json:"from"`
		To   *uint64 `json:"to"`
	}
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil || body.From == nil || body.To == nil {
		writeError(w, fmt.Errorf(`%w: body must be {"from": N, "to": N+1}`, ErrBadRequest))
		return
	}
	if err := n.Advance(req.Context(), *body.From, *body.To); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]uint64{"offset": *body.To})
}

// GetEnv serves the export line application tiers source.
func (n *Node) GetEnv(w http.ResponseWriter, req *http.Request) {
	plan, _, err := n.CurrentPlan(req.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Write([]byte(bootstrap.ClientEnv(plan) + "\n"))
}

func (n *Node) offsetParam(w http.ResponseWriter, req *http.Request) (uint64, bool) {
	s := req.URL.Query().Get("offset")
	if s == "" {
		off, err := n.Offset(req.Context())
		if err != nil {
			writeError(w, err)
			return 0, false
		}
		return off, true
	}
	off, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		writeError(w, fmt.Errorf("%w: invalid offset %q", ErrBadRequest, s))
		return 0, false
	}
	return off, true
}

func memberIDParam(w http.ResponseWriter, req *http.Request) (ring.MemberID, bool) {
	v, err := strconv.ParseUint(req.PathValue("id"), 10, 64)
	if err != nil || v == 0 {
		writeError(w, fmt.Errorf("%w: invalid member id %q", ErrBadRequest, req.PathValue("id")))
		return 0, false
	}
	return ring.MemberID(v), true
}
