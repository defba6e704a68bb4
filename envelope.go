package dapi

import (
	"encoding/json"
)

// Status is the overall outcome of a dispatch.
type Status string

const (
	StatusOK      Status = "ok"
	StatusError   Status = "error"
	StatusTimeout Status = "timeout"
)

// Envelope is the uniform response returned for every request.
type Envelope struct {
	Status    Status       `json:"status"`
	Operation string       `json:"operation,omitempty"`
	RequestID string       `json:"request_id,omitempty"`
	Data      any          `json:"data,omitempty"`
	Error     *ErrorDetail `json:"error,omitempty"`
	// Failures lists the nodes that did not comply with a distributed
	// request. It is attached whatever the overall status.
	Failures []ErrorDetail `json:"failures,omitempty"`
	Pretty   bool          `json:"-"`
}

// Partial reports whether the request succeeded on some but not all nodes.
func (e Envelope) Partial() bool {
	return e.Status == StatusOK && len(e.Failures) > 0
}

// FailedNodes returns the IDs of the nodes listed in Failures.
func (e Envelope) FailedNodes() []string {
	ids := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		ids = append(ids, f.Node)
	}
	return ids
}

// Render serializes the envelope, indented when Pretty is set.
func (e Envelope) Render() ([]byte, error) {
	if e.Pretty {
		return json.MarshalIndent(e, "", "    ")
	}
	return json.Marshal(e)
}

func newEnvelope(req Request, status Status) Envelope {
	return Envelope{
		Status:    status,
		Operation: req.Operation,
		RequestID: req.ID,
		Pretty:    req.Pretty,
	}
}

// NormalizeOutcome builds the envelope for a single local or forwarded
// outcome.
func NormalizeOutcome(req Request, outcome Outcome) Envelope {
	if outcome.Err != nil {
		env := newEnvelope(req, StatusError)
		detail := *outcome.Err
		env.Error = &detail
		return env
	}
	env := newEnvelope(req, StatusOK)
	env.Data = outcome.Value
	return env
}

// NormalizeError builds an error envelope for failures raised before or
// instead of execution. Timeout errors produce a timeout envelope.
func NormalizeError(req Request, err error) Envelope {
	if HasCode(err, ErrCodeTimeout) {
		return NormalizeTimeout(req, err)
	}
	env := newEnvelope(req, StatusError)
	env.Error = DetailFromError(err, ErrCodeLocalExecution)
	return env
}

// NormalizeTimeout builds the envelope for an expired completion gate.
func NormalizeTimeout(req Request, err error) Envelope {
	env := newEnvelope(req, StatusTimeout)
	if err == nil {
		err = ErrTimeout
	}
	env.Error = DetailFromError(err, ErrCodeTimeout)
	return env
}

// NormalizeNodeResults builds the envelope for a fan-out. The status is ok
// when at least one node succeeded; every failure is attached. results
// must already be ordered. merge combines the successful payloads.
func NormalizeNodeResults(req Request, results []NodeResult, merge MergeFunc) Envelope {
	var (
		successes []NodeResult
		failures  []ErrorDetail
	)
	for _, r := range results {
		if r.OK {
			successes = append(successes, r)
			continue
		}
		detail := ErrorDetail{Code: ErrCodeNodeExecution, Message: "node failed", Node: r.Node.ID}
		if r.Error != nil {
			detail = *r.Error
			if detail.Node == "" {
				detail.Node = r.Node.ID
			}
		}
		failures = append(failures, detail)
	}

	if len(successes) == 0 {
		env := newEnvelope(req, StatusError)
		env.Failures = failures
		if len(results) == 0 {
			env.Error = &ErrorDetail{Code: ErrCodeNodeUnreachable, Message: "no cluster participants available"}
		} else {
			env.Error = &ErrorDetail{Code: ErrCodeNodeExecution, Message: "operation failed on every node"}
		}
		return env
	}

	var (
		data any
		err  error
	)
	if merge != nil {
		data, err = merge(successes)
	} else {
		data = successes[0].Payload
	}
	if err != nil {
		env := newEnvelope(req, StatusError)
		env.Error = DetailFromError(err, ErrCodeMerge)
		env.Failures = failures
		return env
	}

	env := newEnvelope(req, StatusOK)
	env.Data = data
	env.Failures = failures
	return env
}
