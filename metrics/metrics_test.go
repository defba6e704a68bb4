package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	dapi "github.com/goliatone/go-dapi"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserver_CountsDispatches(t *testing.T) {
	o := NewObserver()
	req := dapi.NewRequest("get_agent", nil, dapi.ModeLocalMaster)

	o.ObserveDispatch(req, dapi.Envelope{Status: dapi.StatusOK}, 5*time.Millisecond)
	o.ObserveDispatch(req, dapi.Envelope{Status: dapi.StatusOK}, 5*time.Millisecond)
	o.ObserveDispatch(req, dapi.Envelope{Status: dapi.StatusTimeout}, time.Second)

	assert.Equal(t, 2.0, testutil.ToFloat64(o.dispatchTotal.WithLabelValues("get_agent", "local_master", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(o.dispatchTotal.WithLabelValues("get_agent", "local_master", "timeout")))
	assert.Equal(t, 1, testutil.CollectAndCount(o.dispatchDuration))
}

func TestObserver_CountsNodeFailures(t *testing.T) {
	o := NewObserver()
	req := dapi.NewRequest("restart_agents", nil, dapi.ModeDistributedMaster)

	o.ObserveFanOut(req, []dapi.NodeResult{
		dapi.NodeSuccess(dapi.Node{ID: "master"}, nil),
		{Node: dapi.Node{ID: "worker-1"}, Error: &dapi.ErrorDetail{Code: dapi.ErrCodeNodeUnreachable}},
		{Node: dapi.Node{ID: "worker-2"}},
	})
	o.ObserveLateResult(req)

	assert.Equal(t, 1.0, testutil.ToFloat64(o.nodeFailures.WithLabelValues("worker-1", dapi.ErrCodeNodeUnreachable)))
	assert.Equal(t, 1.0, testutil.ToFloat64(o.nodeFailures.WithLabelValues("worker-2", dapi.ErrCodeNodeExecution)))
	assert.Equal(t, 1.0, testutil.ToFloat64(o.lateResults.WithLabelValues("restart_agents")))
}

func TestObserver_Handler(t *testing.T) {
	o := NewObserver()
	o.ObserveDispatch(dapi.NewRequest("get_config", nil, dapi.ModeDistributedMaster),
		dapi.Envelope{Status: dapi.StatusError}, time.Millisecond)

	rec := httptest.NewRecorder()
	o.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.Contains(body,
		`dapi_dispatch_total{mode="distributed_master",operation="get_config",status="error"} 1`), body)
}
