package cluster

import (
	"context"
	"fmt"
	"sync"

	dapi "github.com/goliatone/go-dapi"
)

// Membership answers the cluster questions the dispatcher needs. Every
// call reflects the state at the time it is made.
type Membership interface {
	// LocalNode is the node this process runs as.
	LocalNode() dapi.Node
	// CurrentNodeIsMaster reports whether LocalNode is the master now.
	CurrentNodeIsMaster(ctx context.Context) (bool, error)
	// Master returns the current master, or a NO_MASTER error.
	Master(ctx context.Context) (dapi.Node, error)
	// ListParticipants returns the connected nodes, master included,
	// ordered by node id.
	ListParticipants(ctx context.Context) ([]dapi.Node, error)
}

// Beater is implemented by memberships that must periodically announce
// the local node.
type Beater interface {
	Beat(ctx context.Context) error
}

// StaticMembership is an in-memory membership. The node set and master
// are changed explicitly, which makes it the provider for single-node
// deployments, fixed peer lists and tests.
type StaticMembership struct {
	mu           sync.RWMutex
	local        dapi.Node
	nodes        map[string]dapi.Node
	disconnected map[string]bool
	masterID     string
}

// NewStaticMembership registers local and peers as connected. The first
// node typed as master becomes the master.
func NewStaticMembership(local dapi.Node, peers ...dapi.Node) *StaticMembership {
	m := &StaticMembership{
		local:        local,
		nodes:        make(map[string]dapi.Node),
		disconnected: make(map[string]bool),
	}
	m.add(local)
	for _, p := range peers {
		m.add(p)
	}
	return m
}

func (m *StaticMembership) add(n dapi.Node) {
	m.nodes[n.ID] = n
	if m.masterID == "" && n.Type == dapi.NodeTypeMaster {
		m.masterID = n.ID
	}
}

// Add registers or replaces a node and marks it connected.
func (m *StaticMembership) Add(n dapi.Node) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.add(n)
	delete(m.disconnected, n.ID)
}

// Remove drops a node from the cluster.
func (m *StaticMembership) Remove(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.nodes, id)
	delete(m.disconnected, id)
	if m.masterID == id {
		m.masterID = ""
	}
}

// SetConnected toggles whether a known node takes part in fan-outs.
func (m *StaticMembership) SetConnected(id string, connected bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if connected {
		delete(m.disconnected, id)
		return
	}
	m.disconnected[id] = true
}

// SetMaster designates id as the master. An empty id clears it.
func (m *StaticMembership) SetMaster(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if id == "" {
		m.masterID = ""
		return nil
	}
	if _, ok := m.nodes[id]; !ok {
		return dapi.NewError(dapi.ErrConfiguration,
			fmt.Sprintf("unknown node %q cannot become master", id), nil,
			map[string]any{"node": id})
	}
	m.masterID = id
	return nil
}

func (m *StaticMembership) LocalNode() dapi.Node {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.withRole(m.local)
}

func (m *StaticMembership) CurrentNodeIsMaster(context.Context) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.masterID != "" && m.masterID == m.local.ID, nil
}

func (m *StaticMembership) Master(context.Context) (dapi.Node, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	node, ok := m.nodes[m.masterID]
	if m.masterID == "" || !ok || m.disconnected[m.masterID] {
		return dapi.Node{}, dapi.NewError(dapi.ErrNoMaster, "no connected master node", nil, nil)
	}
	return m.withRole(node), nil
}

func (m *StaticMembership) ListParticipants(context.Context) ([]dapi.Node, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]dapi.Node, 0, len(m.nodes))
	for id, n := range m.nodes {
		if m.disconnected[id] {
			continue
		}
		out = append(out, m.withRole(n))
	}
	return dapi.SortNodes(out), nil
}

func (m *StaticMembership) withRole(n dapi.Node) dapi.Node {
	if n.ID == m.masterID {
		n.Type = dapi.NodeTypeMaster
	} else {
		n.Type = dapi.NodeTypeWorker
	}
	return n
}
