// Package redismembership keeps cluster membership in a shared redis.
//
// Every node announces itself with a heartbeat that refreshes a key with
// a TTL; nodes whose key expired are no longer participants. The master is
// the holder of a lease key, acquired with SETNX and renewed by the
// holder on each beat.
package redismembership

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	dapi "github.com/goliatone/go-dapi"
	"github.com/goliatone/go-errors"
	"github.com/redis/go-redis/v9"
)

const (
	DefaultPrefix = "dapi:cluster"
	DefaultTTL    = 15 * time.Second
)

type Membership struct {
	client    redis.Cmdable
	local     dapi.Node
	prefix    string
	ttl       time.Duration
	candidate bool
}

type Option func(*Membership)

// WithPrefix namespaces every key.
func WithPrefix(prefix string) Option {
	return func(m *Membership) {
		if prefix != "" {
			m.prefix = prefix
		}
	}
}

// WithTTL sets how long a node stays a participant without beating.
func WithTTL(ttl time.Duration) Option {
	return func(m *Membership) {
		if ttl > 0 {
			m.ttl = ttl
		}
	}
}

// WithCandidate controls whether the local node may take the master
// lease. Nodes are candidates by default.
func WithCandidate(candidate bool) Option {
	return func(m *Membership) {
		m.candidate = candidate
	}
}

func New(client redis.Cmdable, local dapi.Node, opts ...Option) *Membership {
	m := &Membership{
		client:    client,
		local:     local,
		prefix:    DefaultPrefix,
		ttl:       DefaultTTL,
		candidate: true,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	return m
}

func (m *Membership) nodesKey() string          { return m.prefix + ":nodes" }
func (m *Membership) masterKey() string         { return m.prefix + ":master" }
func (m *Membership) aliveKey(id string) string { return m.prefix + ":alive:" + id }

// Beat announces the local node and acquires or renews the master lease.
func (m *Membership) Beat(ctx context.Context) error {
	raw, err := json.Marshal(m.local)
	if err != nil {
		return dapi.NewError(dapi.ErrConfiguration, "local node is not serializable", err, nil)
	}

	_, err = m.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, m.nodesKey(), m.local.ID, raw)
		pipe.Set(ctx, m.aliveKey(m.local.ID), time.Now().UTC().Format(time.RFC3339), m.ttl)
		return nil
	})
	if err != nil {
		return storeError("announce local node", err)
	}

	if !m.candidate {
		return nil
	}

	acquired, err := m.client.SetNX(ctx, m.masterKey(), m.local.ID, m.ttl).Result()
	if err != nil {
		return storeError("acquire master lease", err)
	}
	if acquired {
		return nil
	}

	holder, err := m.masterID(ctx)
	if err != nil {
		return err
	}
	if holder == m.local.ID {
		if err := m.client.Expire(ctx, m.masterKey(), m.ttl).Err(); err != nil {
			return storeError("renew master lease", err)
		}
	}
	return nil
}

// Leave removes the local node and releases the lease when held.
func (m *Membership) Leave(ctx context.Context) error {
	holder, err := m.masterID(ctx)
	if err != nil {
		return err
	}

	keys := []string{m.aliveKey(m.local.ID)}
	if holder == m.local.ID {
		keys = append(keys, m.masterKey())
	}

	_, err = m.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, keys...)
		pipe.HDel(ctx, m.nodesKey(), m.local.ID)
		return nil
	})
	if err != nil {
		return storeError("leave cluster", err)
	}
	return nil
}

func (m *Membership) LocalNode() dapi.Node {
	n := m.local
	n.Type = dapi.NodeTypeWorker
	if holder, err := m.masterID(context.Background()); err == nil && holder == n.ID {
		n.Type = dapi.NodeTypeMaster
	}
	return n
}

func (m *Membership) CurrentNodeIsMaster(ctx context.Context) (bool, error) {
	holder, err := m.masterID(ctx)
	if err != nil {
		return false, err
	}
	return holder == m.local.ID, nil
}

func (m *Membership) Master(ctx context.Context) (dapi.Node, error) {
	holder, err := m.masterID(ctx)
	if err != nil {
		return dapi.Node{}, err
	}
	if holder == "" {
		return dapi.Node{}, dapi.NewError(dapi.ErrNoMaster, "no node holds the master lease", nil, nil)
	}

	raw, err := m.client.HGet(ctx, m.nodesKey(), holder).Result()
	if errors.Is(err, redis.Nil) {
		return dapi.Node{}, dapi.NewError(dapi.ErrNoMaster,
			fmt.Sprintf("master %s is not registered", holder), nil,
			map[string]any{"node": holder})
	}
	if err != nil {
		return dapi.Node{}, storeError("read master node", err)
	}

	node, err := decodeNode(holder, raw)
	if err != nil {
		return dapi.Node{}, err
	}
	node.Type = dapi.NodeTypeMaster
	return node, nil
}

func (m *Membership) ListParticipants(ctx context.Context) ([]dapi.Node, error) {
	entries, err := m.client.HGetAll(ctx, m.nodesKey()).Result()
	if err != nil {
		return nil, storeError("list nodes", err)
	}
	if len(entries) == 0 {
		return nil, nil
	}

	holder, err := m.masterID(ctx)
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(entries))
	alive := make(map[string]*redis.IntCmd, len(entries))
	_, err = m.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for id := range entries {
			ids = append(ids, id)
			alive[id] = pipe.Exists(ctx, m.aliveKey(id))
		}
		return nil
	})
	if err != nil {
		return nil, storeError("check node liveness", err)
	}

	nodes := make([]dapi.Node, 0, len(ids))
	for _, id := range ids {
		if alive[id].Val() == 0 {
			continue
		}
		node, err := decodeNode(id, entries[id])
		if err != nil {
			return nil, err
		}
		node.Type = dapi.NodeTypeWorker
		if id == holder {
			node.Type = dapi.NodeTypeMaster
		}
		nodes = append(nodes, node)
	}
	return dapi.SortNodes(nodes), nil
}

func (m *Membership) masterID(ctx context.Context) (string, error) {
	holder, err := m.client.Get(ctx, m.masterKey()).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", storeError("read master lease", err)
	}
	return holder, nil
}

func decodeNode(id, raw string) (dapi.Node, error) {
	var node dapi.Node
	if err := json.Unmarshal([]byte(raw), &node); err != nil {
		return dapi.Node{}, dapi.NewError(dapi.ErrMembership,
			fmt.Sprintf("corrupt registration for node %s", id), err,
			map[string]any{"node": id})
	}
	if node.ID == "" {
		node.ID = id
	}
	return node, nil
}

func storeError(action string, err error) error {
	return dapi.NewError(dapi.ErrMembership, "could not "+action, err, nil)
}
