package raftmembership

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	dapi "github.com/goliatone/go-dapi"
	"github.com/hashicorp/raft"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type configFuture struct {
	conf raft.Configuration
	err  error
}

func (f configFuture) Error() error                      { return f.err }
func (f configFuture) Index() uint64                     { return 1 }
func (f configFuture) Configuration() raft.Configuration { return f.conf }

type fakeRaft struct {
	state    raft.RaftState
	leaderID raft.ServerID
	servers  []raft.Server
	err      error
}

func (f *fakeRaft) State() raft.RaftState { return f.state }

func (f *fakeRaft) LeaderWithID() (raft.ServerAddress, raft.ServerID) {
	for _, s := range f.servers {
		if s.ID == f.leaderID {
			return s.Address, s.ID
		}
	}
	return "", ""
}

func (f *fakeRaft) GetConfiguration() raft.ConfigurationFuture {
	return configFuture{conf: raft.Configuration{Servers: f.servers}, err: f.err}
}

func threeServers() []raft.Server {
	return []raft.Server{
		{ID: "node-c", Address: "10.0.0.3:7000", Suffrage: raft.Nonvoter},
		{ID: "node-a", Address: "10.0.0.1:7000", Suffrage: raft.Voter},
		{ID: "node-b", Address: "10.0.0.2:7000", Suffrage: raft.Voter},
	}
}

func TestMembership_LeaderIsMaster(t *testing.T) {
	ctx := context.Background()
	r := &fakeRaft{state: raft.Follower, leaderID: "node-a", servers: threeServers()}
	m := New(r, dapi.Node{ID: "node-b", Address: "http://b:8080"},
		WithPeers(dapi.Node{ID: "node-a", Address: "http://a:8080"}))

	isMaster, err := m.CurrentNodeIsMaster(ctx)
	require.NoError(t, err)
	assert.False(t, isMaster)
	assert.Equal(t, dapi.NodeTypeWorker, m.LocalNode().Type)

	master, err := m.Master(ctx)
	require.NoError(t, err)
	assert.Equal(t, "node-a", master.ID)
	assert.Equal(t, "http://a:8080", master.Address)
	assert.Equal(t, dapi.NodeTypeMaster, master.Type)

	r.state = raft.Leader
	isMaster, _ = m.CurrentNodeIsMaster(ctx)
	assert.True(t, isMaster)
}

func TestMembership_ParticipantsFromConfiguration(t *testing.T) {
	r := &fakeRaft{state: raft.Leader, leaderID: "node-a", servers: threeServers()}
	m := New(r, dapi.Node{ID: "node-a", Address: "http://a:8080"})

	nodes, err := m.ListParticipants(context.Background())
	require.NoError(t, err)
	require.Len(t, nodes, 3)
	assert.Equal(t, "node-a", nodes[0].ID)
	assert.Equal(t, "http://a:8080", nodes[0].Address)
	assert.Equal(t, dapi.NodeTypeMaster, nodes[0].Type)
	assert.Equal(t, "10.0.0.3:7000", nodes[2].Address)

	voters, err := New(r, dapi.Node{ID: "node-a"}, WithVotersOnly()).ListParticipants(context.Background())
	require.NoError(t, err)
	assert.Len(t, voters, 2)
}

func TestMembership_NoLeader(t *testing.T) {
	m := New(&fakeRaft{state: raft.Candidate, servers: threeServers()}, dapi.Node{ID: "node-a"})
	_, err := m.Master(context.Background())
	assert.True(t, dapi.HasCode(err, dapi.ErrCodeNoMaster))
}

func TestMembership_ConfigurationError(t *testing.T) {
	m := New(&fakeRaft{err: raft.ErrRaftShutdown}, dapi.Node{ID: "node-a"})
	_, err := m.ListParticipants(context.Background())
	require.Error(t, err)
	assert.True(t, dapi.HasCode(err, dapi.ErrCodeMembership))
	assert.True(t, errors.Is(err, raft.ErrRaftShutdown))
}

type nopFSM struct{}

func (nopFSM) Apply(*raft.Log) any                 { return nil }
func (nopFSM) Snapshot() (raft.FSMSnapshot, error) { return nopSnapshot{}, nil }
func (nopFSM) Restore(rc io.ReadCloser) error      { return rc.Close() }

type nopSnapshot struct{}

func (nopSnapshot) Persist(sink raft.SnapshotSink) error { return sink.Close() }
func (nopSnapshot) Release()                             {}

func TestMembership_SingleNodeRaft(t *testing.T) {
	conf := raft.DefaultConfig()
	conf.LocalID = "node-a"
	conf.HeartbeatTimeout = 100 * time.Millisecond
	conf.ElectionTimeout = 100 * time.Millisecond
	conf.LeaderLeaseTimeout = 100 * time.Millisecond
	conf.CommitTimeout = 5 * time.Millisecond
	conf.LogOutput = io.Discard

	store := raft.NewInmemStore()
	addr, trans := raft.NewInmemTransport("")
	r, err := raft.NewRaft(conf, nopFSM{}, store, store, raft.NewInmemSnapshotStore(), trans)
	require.NoError(t, err)
	defer r.Shutdown()

	require.NoError(t, r.BootstrapCluster(raft.Configuration{
		Servers: []raft.Server{{ID: conf.LocalID, Address: addr}},
	}).Error())

	m := New(r, dapi.Node{ID: "node-a", Address: "http://a:8080"})
	assert.Eventually(t, func() bool {
		ok, _ := m.CurrentNodeIsMaster(context.Background())
		return ok
	}, 5*time.Second, 20*time.Millisecond)

	nodes, err := m.ListParticipants(context.Background())
	require.NoError(t, err)
	require.Len(t, nodes, 1)
	assert.Equal(t, dapi.NodeTypeMaster, nodes[0].Type)
	assert.Equal(t, "http://a:8080", nodes[0].Address)
}
