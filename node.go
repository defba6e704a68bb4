package dapi

import (
	"sort"
)

// NodeType distinguishes the cluster master from worker nodes.
type NodeType string

const (
	NodeTypeMaster NodeType = "master"
	NodeTypeWorker NodeType = "worker"
)

// Node identifies a cluster participant.
type Node struct {
	ID      string   `json:"id" yaml:"id"`
	Name    string   `json:"name,omitempty" yaml:"name"`
	Address string   `json:"address,omitempty" yaml:"address"`
	Type    NodeType `json:"type,omitempty" yaml:"type"`
}

// DisplayName returns Name, falling back to ID.
func (n Node) DisplayName() string {
	if n.Name != "" {
		return n.Name
	}
	return n.ID
}

// SortNodes orders nodes by ID in place and returns them.
func SortNodes(nodes []Node) []Node {
	sort.SliceStable(nodes, func(i, j int) bool {
		return nodes[i].ID < nodes[j].ID
	})
	return nodes
}

// NodeResult is the outcome of running one request on one participant.
type NodeResult struct {
	Node    Node         `json:"node"`
	OK      bool         `json:"ok"`
	Payload any          `json:"data,omitempty"`
	Error   *ErrorDetail `json:"error,omitempty"`
}

// NodeSuccess builds a successful node result.
func NodeSuccess(node Node, payload any) NodeResult {
	return NodeResult{Node: node, OK: true, Payload: payload}
}

// NodeFailure builds a failed node result. Errors without a text code are
// reported as NODE_EXECUTION_ERROR.
func NodeFailure(node Node, err error) NodeResult {
	detail := DetailFromError(err, ErrCodeNodeExecution)
	if detail == nil {
		detail = &ErrorDetail{Code: ErrCodeNodeExecution, Message: "node returned no result"}
	}
	detail.Node = node.ID
	return NodeResult{Node: node, OK: false, Error: detail}
}

// SortNodeResults orders results by node ID in place and returns them.
func SortNodeResults(results []NodeResult) []NodeResult {
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Node.ID < results[j].Node.ID
	})
	return results
}
