package dispatcher

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	dapi "github.com/goliatone/go-dapi"
	"github.com/goliatone/go-dapi/cluster"
	"github.com/goliatone/go-dapi/registry"
	"github.com/goliatone/go-dapi/transport"
	"github.com/stretchr/testify/require"
)

// testCluster runs one dispatcher per node in process, wired through a
// loopback transport. The first node is the master.
type testCluster struct {
	loopback    *transport.Loopback
	dispatchers map[string]*Dispatcher
	memberships map[string]*cluster.StaticMembership
	observer    *recordingObserver
	failing     sync.Map
	hanging     sync.Map
}

func newTestCluster(t *testing.T, ids []string, opts ...Option) *testCluster {
	t.Helper()

	tc := &testCluster{
		loopback:    transport.NewLoopback(),
		dispatchers: make(map[string]*Dispatcher),
		memberships: make(map[string]*cluster.StaticMembership),
		observer:    &recordingObserver{},
	}

	for i, id := range ids {
		var peers []dapi.Node
		for j, other := range ids {
			if other == id {
				continue
			}
			peer := dapi.Node{ID: other}
			if j == 0 {
				peer.Type = dapi.NodeTypeMaster
			}
			peers = append(peers, peer)
		}
		local := dapi.Node{ID: id}
		if i == 0 {
			local.Type = dapi.NodeTypeMaster
		}

		membership := cluster.NewStaticMembership(local, peers...)
		reg, err := registry.New(tc.operations(id)...)
		require.NoError(t, err)

		d := New(reg, membership, tc.loopback, append([]Option{WithObserver(tc.observer)}, opts...)...)
		tc.loopback.Attach(id, d)
		tc.dispatchers[id] = d
		tc.memberships[id] = membership
	}
	return tc
}

func (tc *testCluster) failOn(nodeID string) {
	tc.failing.Store(nodeID, true)
}

// hangOn makes list_nodes on nodeID stall for d before answering.
func (tc *testCluster) hangOn(nodeID string, d time.Duration) {
	tc.hanging.Store(nodeID, d)
}

func (tc *testCluster) operations(nodeID string) []dapi.Operation {
	return []dapi.Operation{
		dapi.Define(dapi.OperationSpec{Name: "whoami", Mode: dapi.ModeLocalAny},
			func(context.Context, dapi.Args) (any, error) {
				return nodeID, nil
			}),
		dapi.Define(dapi.OperationSpec{Name: "echo", Mode: dapi.ModeLocalAny, AllowUnknownArgs: true},
			func(_ context.Context, args dapi.Args) (any, error) {
				return map[string]any(args), nil
			}),
		dapi.Define(dapi.OperationSpec{Name: "master_whoami", Mode: dapi.ModeLocalMaster},
			func(context.Context, dapi.Args) (any, error) {
				return nodeID, nil
			}),
		dapi.Define(dapi.OperationSpec{Name: "list_nodes", Mode: dapi.ModeDistributedMaster},
			func(context.Context, dapi.Args) (any, error) {
				if d, hanging := tc.hanging.Load(nodeID); hanging {
					time.Sleep(d.(time.Duration))
				}
				if _, failing := tc.failing.Load(nodeID); failing {
					return nil, errors.New("agent database locked")
				}
				return []string{nodeID}, nil
			}),
		dapi.Define(dapi.OperationSpec{
			Name: "count_nodes",
			Mode: dapi.ModeDistributedMaster,
			Merge: func(results []dapi.NodeResult) (any, error) {
				return len(results), nil
			},
		}, func(context.Context, dapi.Args) (any, error) {
			return 1, nil
		}),
		dapi.Define(dapi.OperationSpec{
			Name: "get_agent",
			Mode: dapi.ModeLocalMaster,
			Args: []dapi.ArgSpec{{Name: "agent_id", Required: true}, {Name: "select"}},
		}, func(_ context.Context, args dapi.Args) (any, error) {
			id, _ := args.String("agent_id")
			return map[string]any{"id": id}, nil
		}),
		dapi.Define(dapi.OperationSpec{Name: "slow", Mode: dapi.ModeLocalAny, Args: []dapi.ArgSpec{{Name: "delay_ms"}}},
			func(_ context.Context, args dapi.Args) (any, error) {
				ms, _ := args.Int("delay_ms")
				time.Sleep(time.Duration(ms) * time.Millisecond)
				return "done", nil
			}),
		dapi.Define(dapi.OperationSpec{Name: "broken", Mode: dapi.ModeLocalAny},
			func(context.Context, dapi.Args) (any, error) {
				return nil, errors.New("disk full")
			}),
		dapi.Define(dapi.OperationSpec{Name: "explode", Mode: dapi.ModeLocalAny},
			func(context.Context, dapi.Args) (any, error) {
				panic("nil agent registry")
			}),
		dapi.DefineAsync(dapi.OperationSpec{Name: "async_status", Mode: dapi.ModeLocalAny},
			func(context.Context, dapi.Args) *dapi.Future {
				return dapi.Go(func() (any, error) {
					time.Sleep(10 * time.Millisecond)
					return "ready", nil
				})
			}),
	}
}

type recordingObserver struct {
	mu         sync.Mutex
	dispatched []dapi.Envelope
	fanOuts    int
	late       atomic.Int32
}

func (o *recordingObserver) ObserveDispatch(_ dapi.Request, env dapi.Envelope, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.dispatched = append(o.dispatched, env)
}

func (o *recordingObserver) ObserveFanOut(dapi.Request, []dapi.NodeResult) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.fanOuts++
}

func (o *recordingObserver) ObserveLateResult(dapi.Request) {
	o.late.Add(1)
}

// spyMembership fails the test if the cluster is consulted.
type spyMembership struct {
	cluster.Membership
	calls atomic.Int32
}

func (s *spyMembership) CurrentNodeIsMaster(ctx context.Context) (bool, error) {
	s.calls.Add(1)
	return s.Membership.CurrentNodeIsMaster(ctx)
}

func (s *spyMembership) Master(ctx context.Context) (dapi.Node, error) {
	s.calls.Add(1)
	return s.Membership.Master(ctx)
}

func (s *spyMembership) ListParticipants(ctx context.Context) ([]dapi.Node, error) {
	s.calls.Add(1)
	return s.Membership.ListParticipants(ctx)
}
