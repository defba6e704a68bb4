package api

import (
	"context"
	"strings"

	dapi "github.com/goliatone/go-dapi"
	"github.com/goliatone/go-dapi/agents"
)

// Dispatcher is the part of the dispatcher the controller needs.
type Dispatcher interface {
	Dispatch(ctx context.Context, req dapi.Request) dapi.Envelope
}

// Common carries the flags every endpoint accepts.
type Common struct {
	Pretty          bool
	WaitForComplete bool
}

func (c Common) options() []dapi.RequestOption {
	return []dapi.RequestOption{
		dapi.WithPretty(c.Pretty),
		dapi.WithWaitForComplete(c.WaitForComplete),
	}
}

type DeleteAgentsParams struct {
	Common
	ListAgents []string
	Purge      *bool
	Status     []string
	OlderThan  *string
}

type ListParams struct {
	Common
	Offset int
	Limit  *int
	Sort   *string
	Search *string
}

type GetAllAgentsParams struct {
	ListParams
	Select     []string
	Q          string
	Status     []string
	OlderThan  *string
	OSPlatform *string
	OSVersion  *string
	OSName     *string
	Manager    *string
	Version    *string
	Group      *string
	NodeName   *string
	Name       *string
	IP         *string
}

type GetAgentsInGroupParams struct {
	ListParams
	GroupID string
	Select  []string
	Status  []string
	Q       string
}

type GetAllGroupsParams struct {
	ListParams
	Hash string
}

type AddAgentParams struct {
	Common
	Name string
	IP   *string
}

// AgentsController turns typed endpoint parameters into dispatch
// requests. Each endpoint keeps the execution mode its operation requires.
type AgentsController struct {
	dispatcher Dispatcher
}

func NewAgentsController(d Dispatcher) *AgentsController {
	return &AgentsController{dispatcher: d}
}

func (c *AgentsController) call(ctx context.Context, op string, mode dapi.ExecutionMode, args map[string]any, common Common) dapi.Envelope {
	return c.dispatcher.Dispatch(ctx, dapi.NewRequest(op, args, mode, common.options()...))
}

func (c *AgentsController) DeleteAgents(ctx context.Context, p DeleteAgentsParams) dapi.Envelope {
	return c.call(ctx, agents.OpRemoveAgents, dapi.ModeLocalMaster, map[string]any{
		"list_agent_ids": p.ListAgents,
		"purge":          deref(p.Purge),
		"status":         joined(p.Status),
		"older_than":     deref(p.OlderThan),
	}, p.Common)
}

func (c *AgentsController) GetAllAgents(ctx context.Context, p GetAllAgentsParams) dapi.Envelope {
	args := p.ListParams.args()
	args["select"] = p.Select
	args["q"] = p.Q
	args["filters"] = map[string]any{
		"status":      joined(p.Status),
		"older_than":  deref(p.OlderThan),
		"os.platform": deref(p.OSPlatform),
		"os.version":  deref(p.OSVersion),
		"os.name":     deref(p.OSName),
		"manager":     deref(p.Manager),
		"version":     deref(p.Version),
		"group":       deref(p.Group),
		"node_name":   deref(p.NodeName),
		"name":        deref(p.Name),
		"ip":          deref(p.IP),
	}
	return c.call(ctx, agents.OpGetAgentsOverview, dapi.ModeLocalMaster, args, p.Common)
}

func (c *AgentsController) RestartAllAgents(ctx context.Context, common Common) dapi.Envelope {
	return c.call(ctx, agents.OpRestartAgents, dapi.ModeDistributedMaster,
		map[string]any{"restart_all": true}, common)
}

func (c *AgentsController) RestartAgent(ctx context.Context, agentID string, common Common) dapi.Envelope {
	return c.call(ctx, agents.OpRestartAgents, dapi.ModeDistributedMaster,
		map[string]any{"agent_list": []string{agentID}}, common)
}

func (c *AgentsController) AddAgent(ctx context.Context, p AddAgentParams) dapi.Envelope {
	return c.call(ctx, agents.OpAddAgent, dapi.ModeLocalMaster, map[string]any{
		"name": p.Name,
		"ip":   deref(p.IP),
	}, p.Common)
}

func (c *AgentsController) DeleteAgent(ctx context.Context, agentID string, purge bool, common Common) dapi.Envelope {
	return c.call(ctx, agents.OpRemoveAgents, dapi.ModeLocalMaster, map[string]any{
		"list_agent_ids": []string{agentID},
		"purge":          purge,
	}, common)
}

func (c *AgentsController) GetAgent(ctx context.Context, agentID string, selectFields []string, common Common) dapi.Envelope {
	return c.call(ctx, agents.OpGetAgent, dapi.ModeLocalMaster, map[string]any{
		"agent_id": agentID,
		"select":   selectFields,
	}, common)
}

func (c *AgentsController) GetAgentConfig(ctx context.Context, agentID, component, configuration string, common Common) dapi.Envelope {
	return c.call(ctx, agents.OpGetConfig, dapi.ModeDistributedMaster, map[string]any{
		"agent_id":      agentID,
		"component":     component,
		"configuration": configuration,
	}, common)
}

// DeleteAgentGroup removes the agent from groupID, or from every group
// when groupID is empty.
func (c *AgentsController) DeleteAgentGroup(ctx context.Context, agentID, groupID string, common Common) dapi.Envelope {
	args := map[string]any{"agent_id": agentID}
	if groupID != "" {
		args["group_id"] = groupID
	}
	return c.call(ctx, agents.OpUnsetGroup, dapi.ModeLocalMaster, args, common)
}

func (c *AgentsController) PutAgentGroup(ctx context.Context, agentID, groupID string, forceSingleGroup bool, common Common) dapi.Envelope {
	return c.call(ctx, agents.OpSetGroup, dapi.ModeLocalMaster, map[string]any{
		"agent_id": agentID,
		"group_id": groupID,
		"replace":  forceSingleGroup,
	}, common)
}

func (c *AgentsController) GetAllGroups(ctx context.Context, p GetAllGroupsParams) dapi.Envelope {
	args := p.ListParams.args()
	if p.Hash != "" {
		args["hash_algorithm"] = p.Hash
	}
	return c.call(ctx, agents.OpGetAllGroups, dapi.ModeLocalMaster, args, p.Common)
}

func (c *AgentsController) GetAgentsInGroup(ctx context.Context, p GetAgentsInGroupParams) dapi.Envelope {
	args := p.ListParams.args()
	args["group_id"] = p.GroupID
	args["select"] = p.Select
	args["q"] = p.Q
	args["filters"] = map[string]any{"status": joined(p.Status)}
	return c.call(ctx, agents.OpGetAgentGroup, dapi.ModeLocalMaster, args, p.Common)
}

func (c *AgentsController) PutGroup(ctx context.Context, groupID string, common Common) dapi.Envelope {
	return c.call(ctx, agents.OpCreateGroup, dapi.ModeLocalMaster,
		map[string]any{"group_id": groupID}, common)
}

func (c *AgentsController) DeleteGroups(ctx context.Context, groups []string, common Common) dapi.Envelope {
	return c.call(ctx, agents.OpRemoveGroup, dapi.ModeLocalMaster,
		map[string]any{"group_list": groups}, common)
}

func (p ListParams) args() map[string]any {
	return map[string]any{
		"offset": p.Offset,
		"limit":  deref(p.Limit),
		"sort":   deref(p.Sort),
		"search": deref(p.Search),
	}
}

// deref returns *p, or nil so the argument is pruned.
func deref[T any](p *T) any {
	if p == nil {
		return nil
	}
	return *p
}

func joined(values []string) any {
	if len(values) == 0 {
		return nil
	}
	return strings.Join(values, ",")
}
