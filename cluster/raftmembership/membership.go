// Package raftmembership derives cluster membership from a raft group:
// the raft leader is the master and the configured servers are the
// participants.
package raftmembership

import (
	"context"
	"fmt"

	dapi "github.com/goliatone/go-dapi"
	"github.com/hashicorp/raft"
)

// Raft is the subset of *raft.Raft used here.
type Raft interface {
	State() raft.RaftState
	LeaderWithID() (raft.ServerAddress, raft.ServerID)
	GetConfiguration() raft.ConfigurationFuture
}

// Membership adapts a raft node. Raft addresses are replication
// endpoints, so dispatch addresses are resolved from a peer table keyed
// by server id.
type Membership struct {
	raft   Raft
	local  dapi.Node
	peers  map[string]dapi.Node
	voters bool
}

type Option func(*Membership)

// WithPeers maps raft server ids to dispatch nodes.
func WithPeers(peers ...dapi.Node) Option {
	return func(m *Membership) {
		for _, p := range peers {
			m.peers[p.ID] = p
		}
	}
}

// WithVotersOnly excludes non-voting servers from fan-outs.
func WithVotersOnly() Option {
	return func(m *Membership) {
		m.voters = true
	}
}

// New wraps r. local.ID must be the raft server id of this process.
func New(r Raft, local dapi.Node, opts ...Option) *Membership {
	m := &Membership{
		raft:  r,
		local: local,
		peers: map[string]dapi.Node{local.ID: local},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	return m
}

func (m *Membership) LocalNode() dapi.Node {
	n := m.local
	n.Type = dapi.NodeTypeWorker
	if m.raft.State() == raft.Leader {
		n.Type = dapi.NodeTypeMaster
	}
	return n
}

func (m *Membership) CurrentNodeIsMaster(context.Context) (bool, error) {
	return m.raft.State() == raft.Leader, nil
}

func (m *Membership) Master(context.Context) (dapi.Node, error) {
	addr, id := m.raft.LeaderWithID()
	if id == "" {
		return dapi.Node{}, dapi.NewError(dapi.ErrNoMaster, "raft group has no leader", nil, nil)
	}
	node := m.resolve(raft.Server{ID: id, Address: addr})
	node.Type = dapi.NodeTypeMaster
	return node, nil
}

func (m *Membership) ListParticipants(ctx context.Context) ([]dapi.Node, error) {
	future := m.raft.GetConfiguration()
	if err := future.Error(); err != nil {
		return nil, dapi.NewError(dapi.ErrMembership, "could not read raft configuration", err, nil)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	_, leader := m.raft.LeaderWithID()
	servers := future.Configuration().Servers
	nodes := make([]dapi.Node, 0, len(servers))
	for _, srv := range servers {
		if m.voters && srv.Suffrage != raft.Voter {
			continue
		}
		node := m.resolve(srv)
		node.Type = dapi.NodeTypeWorker
		if srv.ID == leader {
			node.Type = dapi.NodeTypeMaster
		}
		nodes = append(nodes, node)
	}
	return dapi.SortNodes(nodes), nil
}

func (m *Membership) resolve(srv raft.Server) dapi.Node {
	if node, ok := m.peers[string(srv.ID)]; ok {
		return node
	}
	return dapi.Node{
		ID:      string(srv.ID),
		Name:    fmt.Sprintf("raft-%s", srv.ID),
		Address: string(srv.Address),
	}
}
