package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	dapi "github.com/goliatone/go-dapi"
	"github.com/goliatone/go-dapi/runner"
	"github.com/google/uuid"
)

const maxResponseBytes = 16 << 20

// HTTPTransport calls node servers over HTTP. Only failures to reach a
// node are retried; any response the node sends back is final.
type HTTPTransport struct {
	client     *http.Client
	retry      runner.RetryStrategy
	maxRetries int
	logger     dapi.Logger
}

type HTTPOption func(*HTTPTransport)

// WithHTTPClient replaces the underlying client.
func WithHTTPClient(client *http.Client) HTTPOption {
	return func(t *HTTPTransport) {
		if client != nil {
			t.client = client
		}
	}
}

// WithRequestTimeout bounds every node call.
func WithRequestTimeout(timeout time.Duration) HTTPOption {
	return func(t *HTTPTransport) {
		if timeout > 0 {
			t.client.Timeout = timeout
		}
	}
}

// WithRetry retries unreachable nodes up to maxRetries times.
func WithRetry(strategy runner.RetryStrategy, maxRetries int) HTTPOption {
	return func(t *HTTPTransport) {
		t.retry = strategy
		if maxRetries >= 0 {
			t.maxRetries = maxRetries
		}
	}
}

// WithHTTPLogger sets the transport logger.
func WithHTTPLogger(logger dapi.Logger) HTTPOption {
	return func(t *HTTPTransport) {
		if logger != nil {
			t.logger = logger
		}
	}
}

func NewHTTPTransport(opts ...HTTPOption) *HTTPTransport {
	t := &HTTPTransport{
		client: &http.Client{Timeout: 30 * time.Second},
		retry:  runner.NoDelayStrategy{},
		logger: dapi.NopLogger{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(t)
		}
	}
	return t
}

func (t *HTTPTransport) Send(ctx context.Context, node dapi.Node, req dapi.Request) dapi.NodeResult {
	status, body, err := t.post(ctx, node, ExecutePath, req)
	if err != nil {
		return dapi.NodeFailure(node, err)
	}

	var result dapi.NodeResult
	if err := json.Unmarshal(body, &result); err != nil {
		return dapi.NodeFailure(node, dapi.NewError(dapi.ErrNodeExecution,
			fmt.Sprintf("node %s answered with an unreadable result (HTTP %d)", node.ID, status), err,
			map[string]any{"node": node.ID, "status": status}))
	}
	if !result.OK && result.Error == nil {
		return dapi.NodeFailure(node, dapi.NewError(dapi.ErrNodeExecution,
			fmt.Sprintf("node %s failed without error details (HTTP %d)", node.ID, status), nil,
			map[string]any{"node": node.ID, "status": status}))
	}

	result.Node = node
	if result.Error != nil && result.Error.Node == "" {
		result.Error.Node = node.ID
	}
	return result
}

func (t *HTTPTransport) Forward(ctx context.Context, master dapi.Node, req dapi.Request) (dapi.Envelope, error) {
	status, body, err := t.post(ctx, master, DispatchPath, req)
	if err != nil {
		return dapi.Envelope{}, err
	}

	var env dapi.Envelope
	if err := json.Unmarshal(body, &env); err != nil || env.Status == "" {
		return dapi.Envelope{}, dapi.NewError(dapi.ErrNodeExecution,
			fmt.Sprintf("master %s answered with an unreadable envelope (HTTP %d)", master.ID, status), err,
			map[string]any{"node": master.ID, "status": status})
	}
	env.Pretty = req.Pretty
	return env, nil
}

// Operations fetches the operation catalog served by node.
func (t *HTTPTransport) Operations(ctx context.Context, node dapi.Node) ([]dapi.OperationSpec, error) {
	status, body, err := t.roundTrip(ctx, node, http.MethodGet, OperationsPath, nil, uuid.NewString())
	if err != nil {
		return nil, err
	}
	var specs []dapi.OperationSpec
	if err := json.Unmarshal(body, &specs); err != nil || status != http.StatusOK {
		return nil, dapi.NewError(dapi.ErrNodeExecution,
			fmt.Sprintf("node %s answered with an unreadable catalog (HTTP %d)", node.ID, status), err,
			map[string]any{"node": node.ID, "status": status})
	}
	return specs, nil
}

func (t *HTTPTransport) post(ctx context.Context, node dapi.Node, path string, req dapi.Request) (int, []byte, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return 0, nil, dapi.NewError(dapi.ErrInvalidArguments,
			"request arguments are not serializable", err,
			map[string]any{"operation": req.Operation})
	}

	requestID := req.ID
	if requestID == "" {
		requestID = uuid.NewString()
	}
	return t.roundTrip(ctx, node, http.MethodPost, path, payload, requestID)
}

func (t *HTTPTransport) roundTrip(ctx context.Context, node dapi.Node, method, path string, payload []byte, requestID string) (int, []byte, error) {
	endpoint := nodeURL(node.Address, path)

	var (
		status  int
		body    []byte
		readErr error
	)
	err := runner.Retry(ctx, t.retry, t.maxRetries, func(ctx context.Context) error {
		var reader io.Reader
		if payload != nil {
			reader = bytes.NewReader(payload)
		}
		httpReq, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
		if err != nil {
			return err
		}
		if payload != nil {
			httpReq.Header.Set("Content-Type", "application/json")
		}
		httpReq.Header.Set(RequestIDHeader, requestID)

		resp, err := t.client.Do(httpReq)
		if err != nil {
			t.logger.Debug("node %s not reachable at %s: %v", node.ID, endpoint, err)
			return err
		}
		defer resp.Body.Close()

		// The node has answered, so a broken body ends the loop.
		status = resp.StatusCode
		body, readErr = io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
		return nil
	})
	if readErr != nil {
		return 0, nil, dapi.NewError(dapi.ErrNodeExecution,
			fmt.Sprintf("node %s answered but its response could not be read (HTTP %d)", node.ID, status), readErr,
			map[string]any{"node": node.ID, "address": node.Address, "status": status})
	}
	if err != nil {
		return 0, nil, dapi.NewError(dapi.ErrNodeUnreachable,
			fmt.Sprintf("node %s is not reachable", node.ID), err,
			map[string]any{"node": node.ID, "address": node.Address})
	}
	return status, body, nil
}

func nodeURL(address, path string) string {
	address = strings.TrimRight(address, "/")
	if !strings.Contains(address, "://") {
		address = "http://" + address
	}
	return address + path
}
