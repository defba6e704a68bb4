package dispatcher

import (
	"context"
	"testing"
	"time"

	dapi "github.com/goliatone/go-dapi"
	"github.com/goliatone/go-dapi/cluster"
	"github.com/goliatone/go-dapi/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var nodeIDs = []string{"master", "worker-1", "worker-2"}

func TestDispatch_LocalAnyRunsOnReceivingNode(t *testing.T) {
	tc := newTestCluster(t, nodeIDs)

	env := tc.dispatchers["worker-2"].Dispatch(context.Background(),
		dapi.NewRequest("whoami", nil, dapi.ModeLocalAny))

	require.Equal(t, dapi.StatusOK, env.Status)
	assert.Equal(t, "worker-2", env.Data)
	assert.Equal(t, "whoami", env.Operation)
	assert.NotEmpty(t, env.RequestID)
}

func TestDispatch_LocalAnyNeverContactsCluster(t *testing.T) {
	spy := &spyMembership{Membership: cluster.NewStaticMembership(dapi.Node{ID: "solo"})}
	reg := registry.MustNew(dapi.Define(dapi.OperationSpec{Name: "ping"},
		func(context.Context, dapi.Args) (any, error) { return "pong", nil }))

	env := New(reg, spy, nil).Dispatch(context.Background(), dapi.NewRequest("ping", nil, dapi.ModeLocalAny))

	require.Equal(t, dapi.StatusOK, env.Status)
	assert.Equal(t, "pong", env.Data)
	assert.Equal(t, int32(0), spy.calls.Load())
}

func TestDispatch_NilArgumentsAreEquivalentToAbsent(t *testing.T) {
	tc := newTestCluster(t, nodeIDs)
	d := tc.dispatchers["master"]

	withNil := d.Dispatch(context.Background(), dapi.Request{
		ID: "r1", Operation: "echo", Mode: dapi.ModeLocalAny,
		Args: dapi.Args{"a": nil, "b": 5, "filters": map[string]any{"status": nil, "os": "linux"}},
	})
	without := d.Dispatch(context.Background(), dapi.Request{
		ID: "r1", Operation: "echo", Mode: dapi.ModeLocalAny,
		Args: dapi.Args{"b": 5, "filters": map[string]any{"os": "linux"}},
	})

	require.Equal(t, dapi.StatusOK, withNil.Status)
	assert.Equal(t, without, withNil)
	assert.Equal(t, map[string]any{"b": 5, "filters": map[string]any{"os": "linux"}}, withNil.Data)
}

func TestDispatch_NilRequiredArgumentIsMissing(t *testing.T) {
	tc := newTestCluster(t, nodeIDs)

	env := tc.dispatchers["master"].Dispatch(context.Background(),
		dapi.NewRequest("get_agent", map[string]any{"agent_id": nil}, dapi.ModeLocalMaster))

	require.Equal(t, dapi.StatusError, env.Status)
	assert.Equal(t, dapi.ErrCodeInvalidArguments, env.Error.Code)
	assert.Contains(t, env.Error.Message, "agent_id")
}

func TestDispatch_LocalMasterOnMasterRunsLocally(t *testing.T) {
	tc := newTestCluster(t, nodeIDs)

	env := tc.dispatchers["master"].Dispatch(context.Background(),
		dapi.NewRequest("master_whoami", nil, dapi.ModeLocalMaster))

	require.Equal(t, dapi.StatusOK, env.Status)
	assert.Equal(t, "master", env.Data)
}

func TestDispatch_LocalMasterOnWorkerForwardsToMaster(t *testing.T) {
	tc := newTestCluster(t, nodeIDs)

	req := dapi.NewRequest("master_whoami", nil, dapi.ModeLocalMaster, dapi.WithPretty(true))
	env := tc.dispatchers["worker-1"].Dispatch(context.Background(), req)

	require.Equal(t, dapi.StatusOK, env.Status)
	assert.Equal(t, "master", env.Data)
	assert.Equal(t, req.ID, env.RequestID)
	assert.True(t, env.Pretty)
}

func TestDispatch_ForwardedRequestOnNonMasterFails(t *testing.T) {
	tc := newTestCluster(t, nodeIDs)

	req := dapi.NewRequest("master_whoami", nil, dapi.ModeLocalMaster).Forward()
	env := tc.dispatchers["worker-1"].Dispatch(context.Background(), req)

	require.Equal(t, dapi.StatusError, env.Status)
	assert.Equal(t, dapi.ErrCodeNoMaster, env.Error.Code)
}

func TestDispatch_NoMasterAvailable(t *testing.T) {
	tc := newTestCluster(t, nodeIDs)
	require.NoError(t, tc.memberships["worker-1"].SetMaster(""))

	env := tc.dispatchers["worker-1"].Dispatch(context.Background(),
		dapi.NewRequest("master_whoami", nil, dapi.ModeLocalMaster))

	require.Equal(t, dapi.StatusError, env.Status)
	assert.Equal(t, dapi.ErrCodeNoMaster, env.Error.Code)
}

func TestDispatch_DistributedMergesEveryNode(t *testing.T) {
	tc := newTestCluster(t, nodeIDs)

	env := tc.dispatchers["master"].Dispatch(context.Background(),
		dapi.NewRequest("list_nodes", nil, dapi.ModeDistributedMaster))

	require.Equal(t, dapi.StatusOK, env.Status)
	assert.Equal(t, []any{"master", "worker-1", "worker-2"}, env.Data)
	assert.Empty(t, env.Failures)
	assert.False(t, env.Partial())
}

func TestDispatch_DistributedFromWorkerIsForwarded(t *testing.T) {
	tc := newTestCluster(t, nodeIDs)

	env := tc.dispatchers["worker-2"].Dispatch(context.Background(),
		dapi.NewRequest("list_nodes", nil, dapi.ModeDistributedMaster))

	require.Equal(t, dapi.StatusOK, env.Status)
	assert.Equal(t, []any{"master", "worker-1", "worker-2"}, env.Data)
}

func TestDispatch_DistributedPartialFailure(t *testing.T) {
	tc := newTestCluster(t, nodeIDs)
	tc.failOn("worker-1")

	env := tc.dispatchers["master"].Dispatch(context.Background(),
		dapi.NewRequest("list_nodes", nil, dapi.ModeDistributedMaster))

	require.Equal(t, dapi.StatusOK, env.Status)
	assert.True(t, env.Partial())
	assert.Equal(t, []any{"master", "worker-2"}, env.Data)
	require.Len(t, env.Failures, 1)
	assert.Equal(t, "worker-1", env.Failures[0].Node)
	assert.Equal(t, dapi.ErrCodeLocalExecution, env.Failures[0].Code)
	assert.Contains(t, env.Failures[0].Message, "agent database locked")
}

func TestDispatch_DistributedTotalFailure(t *testing.T) {
	tc := newTestCluster(t, nodeIDs)
	for _, id := range nodeIDs {
		tc.failOn(id)
	}

	env := tc.dispatchers["master"].Dispatch(context.Background(),
		dapi.NewRequest("list_nodes", nil, dapi.ModeDistributedMaster))

	require.Equal(t, dapi.StatusError, env.Status)
	assert.Equal(t, dapi.ErrCodeNodeExecution, env.Error.Code)
	assert.Equal(t, []string{"master", "worker-1", "worker-2"}, env.FailedNodes())
}

func TestDispatch_DistributedUnreachableNode(t *testing.T) {
	tc := newTestCluster(t, nodeIDs)
	tc.loopback.Detach("worker-2")

	env := tc.dispatchers["master"].Dispatch(context.Background(),
		dapi.NewRequest("list_nodes", nil, dapi.ModeDistributedMaster))

	require.Equal(t, dapi.StatusOK, env.Status)
	require.Len(t, env.Failures, 1)
	assert.Equal(t, dapi.ErrCodeNodeUnreachable, env.Failures[0].Code)
	assert.Equal(t, "worker-2", env.Failures[0].Node)
}

func TestDispatch_DistributedHungNodeIsPartialFailure(t *testing.T) {
	tc := newTestCluster(t, []string{"a", "b", "c"}, WithTimeout(200*time.Millisecond))
	tc.hangOn("c", 2*time.Second)

	env := tc.dispatchers["a"].Dispatch(context.Background(),
		dapi.NewRequest("list_nodes", nil, dapi.ModeDistributedMaster))

	require.Equal(t, dapi.StatusOK, env.Status)
	assert.Equal(t, []any{"a", "b"}, env.Data)
	require.Len(t, env.Failures, 1)
	assert.Equal(t, "c", env.Failures[0].Node)
	assert.Equal(t, dapi.ErrCodeNodeUnreachable, env.Failures[0].Code)
	assert.Zero(t, tc.observer.late.Load())
}

func TestDispatch_NodeTimeoutNotShorterThanGateIsDerived(t *testing.T) {
	d := New(nil, nil, nil, WithTimeout(time.Second), WithNodeTimeout(5*time.Second))
	assert.Equal(t, 800*time.Millisecond, d.nodeTimeout)

	d = New(nil, nil, nil, WithTimeout(time.Second), WithNodeTimeout(300*time.Millisecond))
	assert.Equal(t, 300*time.Millisecond, d.nodeTimeout)
}

func TestDispatch_DistributedSkipsDisconnectedNodes(t *testing.T) {
	tc := newTestCluster(t, nodeIDs)
	tc.memberships["master"].SetConnected("worker-1", false)

	env := tc.dispatchers["master"].Dispatch(context.Background(),
		dapi.NewRequest("list_nodes", nil, dapi.ModeDistributedMaster))

	require.Equal(t, dapi.StatusOK, env.Status)
	assert.Equal(t, []any{"master", "worker-2"}, env.Data)
	assert.Empty(t, env.Failures)
}

func TestDispatch_DistributedNarrowedToNodes(t *testing.T) {
	tc := newTestCluster(t, nodeIDs)

	env := tc.dispatchers["master"].Dispatch(context.Background(),
		dapi.NewRequest("list_nodes", nil, dapi.ModeDistributedMaster, dapi.WithNodes("worker-2")))

	require.Equal(t, dapi.StatusOK, env.Status)
	assert.Equal(t, []string{"worker-2"}, env.Data)
}

func TestDispatch_DistributedUsesOperationMerge(t *testing.T) {
	tc := newTestCluster(t, nodeIDs)

	env := tc.dispatchers["master"].Dispatch(context.Background(),
		dapi.NewRequest("count_nodes", nil, dapi.ModeDistributedMaster))

	require.Equal(t, dapi.StatusOK, env.Status)
	assert.Equal(t, 3, env.Data)
	assert.Equal(t, 1, tc.observer.fanOuts)
}

func TestDispatch_TimeoutDiscardsLateResult(t *testing.T) {
	tc := newTestCluster(t, nodeIDs, WithTimeout(30*time.Millisecond))

	env := tc.dispatchers["master"].Dispatch(context.Background(),
		dapi.NewRequest("slow", map[string]any{"delay_ms": 150}, dapi.ModeLocalAny))

	require.Equal(t, dapi.StatusTimeout, env.Status)
	assert.Equal(t, dapi.ErrCodeTimeout, env.Error.Code)
	assert.Nil(t, env.Data)

	assert.Eventually(t, func() bool {
		return tc.observer.late.Load() == 1
	}, time.Second, 10*time.Millisecond)
}

func TestDispatch_WaitForCompleteIgnoresTimeout(t *testing.T) {
	tc := newTestCluster(t, nodeIDs, WithTimeout(30*time.Millisecond))

	env := tc.dispatchers["master"].Dispatch(context.Background(),
		dapi.NewRequest("slow", map[string]any{"delay_ms": 100}, dapi.ModeLocalAny, dapi.WithWaitForComplete(true)))

	require.Equal(t, dapi.StatusOK, env.Status)
	assert.Equal(t, "done", env.Data)
}

func TestDispatch_CallerDeadline(t *testing.T) {
	tc := newTestCluster(t, nodeIDs)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	env := tc.dispatchers["master"].Dispatch(ctx,
		dapi.NewRequest("slow", map[string]any{"delay_ms": 200}, dapi.ModeLocalAny, dapi.WithWaitForComplete(true)))

	require.Equal(t, dapi.StatusTimeout, env.Status)
	assert.Equal(t, dapi.ErrCodeTimeout, env.Error.Code)
}

func TestDispatch_Errors(t *testing.T) {
	tc := newTestCluster(t, nodeIDs)
	d := tc.dispatchers["master"]

	cases := map[string]struct {
		req  dapi.Request
		code string
	}{
		"unknown operation": {dapi.NewRequest("nope", nil, dapi.ModeLocalAny), dapi.ErrCodeUnknownOperation},
		"unknown mode":      {dapi.NewRequest("whoami", nil, dapi.ExecutionMode("everywhere")), dapi.ErrCodeConfiguration},
		"undeclared arg":    {dapi.NewRequest("get_agent", map[string]any{"agent_id": "001", "limit": 5}, dapi.ModeLocalMaster), dapi.ErrCodeInvalidArguments},
		"operation error":   {dapi.NewRequest("broken", nil, dapi.ModeLocalAny), dapi.ErrCodeLocalExecution},
		"operation panic":   {dapi.NewRequest("explode", nil, dapi.ModeLocalAny), dapi.ErrCodeLocalExecution},
	}
	for name, c := range cases {
		t.Run(name, func(t *testing.T) {
			env := d.Dispatch(context.Background(), c.req)
			require.Equal(t, dapi.StatusError, env.Status)
			require.NotNil(t, env.Error)
			assert.Equal(t, c.code, env.Error.Code)
			assert.Nil(t, env.Data)
		})
	}
}

func TestDispatch_ModeDefaultsToOperationMode(t *testing.T) {
	tc := newTestCluster(t, nodeIDs)

	env := tc.dispatchers["worker-1"].Dispatch(context.Background(), dapi.Request{ID: "r", Operation: "master_whoami"})

	require.Equal(t, dapi.StatusOK, env.Status)
	assert.Equal(t, "master", env.Data)
}

func TestDispatch_AsyncOperationIsAwaited(t *testing.T) {
	tc := newTestCluster(t, nodeIDs)

	env := tc.dispatchers["worker-1"].Dispatch(context.Background(),
		dapi.NewRequest("async_status", nil, dapi.ModeLocalAny))

	require.Equal(t, dapi.StatusOK, env.Status)
	assert.Equal(t, "ready", env.Data)
}

func TestDispatch_MiddlewareWrapsInOrder(t *testing.T) {
	var order []string
	tag := func(name string) Middleware {
		return func(next InvokeHandler) InvokeHandler {
			return func(ctx context.Context, req dapi.Request) dapi.Envelope {
				order = append(order, name+":before")
				env := next(ctx, req)
				order = append(order, name+":after")
				return env
			}
		}
	}

	tc := newTestCluster(t, []string{"solo"}, WithMiddleware(tag("outer"), nil, tag("inner")))
	env := tc.dispatchers["solo"].Dispatch(context.Background(), dapi.NewRequest("whoami", nil, dapi.ModeLocalAny))

	require.Equal(t, dapi.StatusOK, env.Status)
	assert.Equal(t, []string{"outer:before", "inner:before", "inner:after", "outer:after"}, order)
}

func TestDispatch_MiddlewarePanicIsContained(t *testing.T) {
	boom := func(InvokeHandler) InvokeHandler {
		return func(context.Context, dapi.Request) dapi.Envelope {
			panic("middleware bug")
		}
	}
	tc := newTestCluster(t, []string{"solo"}, WithMiddleware(boom))

	env := tc.dispatchers["solo"].Dispatch(context.Background(), dapi.NewRequest("whoami", nil, dapi.ModeLocalAny))

	require.Equal(t, dapi.StatusError, env.Status)
	assert.Equal(t, dapi.ErrCodeDispatchPanic, env.Error.Code)
}

func TestDispatch_SingleNodeWithoutTransport(t *testing.T) {
	local := dapi.Node{ID: "solo", Type: dapi.NodeTypeMaster}
	reg := registry.MustNew(dapi.Define(dapi.OperationSpec{Name: "stats", Mode: dapi.ModeDistributedMaster},
		func(context.Context, dapi.Args) (any, error) { return map[string]any{"agents": 4}, nil }))

	d := New(reg, cluster.NewStaticMembership(local), nil)
	env := d.Dispatch(context.Background(), dapi.NewRequest("stats", nil, dapi.ModeDistributedMaster))

	require.Equal(t, dapi.StatusOK, env.Status)
	assert.Equal(t, map[string]any{"agents": 4}, env.Data)
}

func TestExecuteLocal(t *testing.T) {
	tc := newTestCluster(t, nodeIDs)
	d := tc.dispatchers["worker-1"]

	result := d.ExecuteLocal(context.Background(), dapi.NewRequest("list_nodes", nil, dapi.ModeDistributedMaster))
	require.True(t, result.OK)
	assert.Equal(t, "worker-1", result.Node.ID)
	assert.Equal(t, []string{"worker-1"}, result.Payload)

	result = d.ExecuteLocal(context.Background(), dapi.NewRequest("nope", nil, dapi.ModeDistributedMaster))
	require.False(t, result.OK)
	assert.Equal(t, dapi.ErrCodeUnknownOperation, result.Error.Code)
	assert.Equal(t, "worker-1", result.Error.Node)
}

func TestDispatch_ObserverSeesEveryEnvelope(t *testing.T) {
	tc := newTestCluster(t, []string{"solo"})
	d := tc.dispatchers["solo"]

	d.Dispatch(context.Background(), dapi.NewRequest("whoami", nil, dapi.ModeLocalAny))
	d.Dispatch(context.Background(), dapi.NewRequest("nope", nil, dapi.ModeLocalAny))

	tc.observer.mu.Lock()
	defer tc.observer.mu.Unlock()
	require.Len(t, tc.observer.dispatched, 2)
	assert.Equal(t, dapi.StatusOK, tc.observer.dispatched[0].Status)
	assert.Equal(t, dapi.StatusError, tc.observer.dispatched[1].Status)
}
