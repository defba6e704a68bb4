package agents

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	dapi "github.com/goliatone/go-dapi"
	"github.com/goliatone/go-dapi/cluster"
)

const (
	OpGetAgentsOverview = "get_agents_overview"
	OpGetAgent          = "get_agent"
	OpAddAgent          = "add_agent"
	OpRemoveAgents      = "remove_agents"
	OpRestartAgents     = "restart_agents"
	OpGetConfig         = "get_config"
	OpSetGroup          = "set_group"
	OpUnsetGroup        = "unset_group"
	OpGetAllGroups      = "get_all_groups"
	OpGetAgentGroup     = "get_agent_group"
	OpCreateGroup       = "create_group"
	OpRemoveGroup       = "remove_group"
)

func arg(name string) dapi.ArgSpec      { return dapi.ArgSpec{Name: name} }
func required(name string) dapi.ArgSpec { return dapi.ArgSpec{Name: name, Required: true} }

// Operations returns the agent management operations bound to store.
// Master-only operations act on the master's registry; distributed ones
// run against the store of every node.
func Operations(store *Store) []dapi.Operation {
	return []dapi.Operation{
		dapi.Define(dapi.OperationSpec{
			Name:    OpGetAgentsOverview,
			Mode:    dapi.ModeLocalMaster,
			Summary: "List agents",
			Args: []dapi.ArgSpec{
				arg("offset"), arg("limit"), arg("sort"), arg("search"),
				arg("select"), arg("filters"), arg("q"),
			},
		}, func(_ context.Context, args dapi.Args) (any, error) {
			page := store.List(queryFrom(args))
			return selectFields(page.Items, args, page.TotalItems)
		}),

		dapi.Define(dapi.OperationSpec{
			Name:    OpGetAgent,
			Mode:    dapi.ModeLocalMaster,
			Summary: "Get one agent",
			Args:    []dapi.ArgSpec{required("agent_id"), arg("select")},
		}, func(_ context.Context, args dapi.Args) (any, error) {
			id, _ := args.String("agent_id")
			agent, err := store.Get(id)
			if err != nil {
				return nil, err
			}
			out, err := selectFields([]Agent{agent}, args, 1)
			if err != nil {
				return nil, err
			}
			return out.Items[0], nil
		}),

		dapi.Define(dapi.OperationSpec{
			Name:    OpAddAgent,
			Mode:    dapi.ModeLocalMaster,
			Summary: "Register an agent",
			Args:    []dapi.ArgSpec{required("name"), arg("ip")},
		}, func(_ context.Context, args dapi.Args) (any, error) {
			name, _ := args.String("name")
			ip, _ := args.String("ip")
			agent, err := store.Add(name, ip)
			if err != nil {
				return nil, err
			}
			return map[string]any{"id": agent.ID, "name": agent.Name}, nil
		}),

		dapi.Define(dapi.OperationSpec{
			Name:    OpRemoveAgents,
			Mode:    dapi.ModeLocalMaster,
			Summary: "Remove agents by id or status",
			Args:    []dapi.ArgSpec{arg("list_agent_ids"), arg("purge"), arg("status"), arg("older_than")},
		}, func(_ context.Context, args dapi.Args) (any, error) {
			ids, _ := args.Strings("list_agent_ids")
			status, _ := args.String("status")
			if len(ids) == 0 && status == "" {
				return nil, dapi.NewError(dapi.ErrInvalidArguments,
					"list_agent_ids or status is required", nil, map[string]any{"operation": OpRemoveAgents})
			}
			return store.Remove(ids, status), nil
		}),

		dapi.Define(dapi.OperationSpec{
			Name:    OpRestartAgents,
			Mode:    dapi.ModeDistributedMaster,
			Summary: "Restart agents on every node",
			Args:    []dapi.ArgSpec{arg("agent_list"), arg("restart_all")},
			Merge:   MergeRestarts,
		}, func(_ context.Context, args dapi.Args) (any, error) {
			all, _ := args.Bool("restart_all")
			ids, _ := args.Strings("agent_list")
			if all {
				ids = nil
			} else if len(ids) == 0 {
				return nil, dapi.NewError(dapi.ErrInvalidArguments,
					"agent_list or restart_all is required", nil, map[string]any{"operation": OpRestartAgents})
			}
			return store.Restart(ids), nil
		}),

		dapi.Define(dapi.OperationSpec{
			Name:    OpGetConfig,
			Mode:    dapi.ModeDistributedMaster,
			Summary: "Read the active configuration of an agent",
			Args:    []dapi.ArgSpec{required("agent_id"), required("component"), required("configuration")},
			Merge:   MergeFirstFound,
		}, func(_ context.Context, args dapi.Args) (any, error) {
			id, _ := args.String("agent_id")
			component, _ := args.String("component")
			section, _ := args.String("configuration")
			cfg, err := store.Config(id, component, section)
			if dapi.HasCode(err, ErrCodeAgentNotFound) {
				// not connected to this node
				return nil, nil
			}
			return cfg, err
		}),

		dapi.Define(dapi.OperationSpec{
			Name:    OpSetGroup,
			Mode:    dapi.ModeLocalMaster,
			Summary: "Assign an agent to a group",
			Args:    []dapi.ArgSpec{required("agent_id"), required("group_id"), arg("replace")},
		}, func(_ context.Context, args dapi.Args) (any, error) {
			id, _ := args.String("agent_id")
			group, _ := args.String("group_id")
			replace, _ := args.Bool("replace")
			if err := store.SetGroup(id, group, replace); err != nil {
				return nil, err
			}
			return fmt.Sprintf("agent %s assigned to group %s", id, group), nil
		}),

		dapi.Define(dapi.OperationSpec{
			Name:    OpUnsetGroup,
			Mode:    dapi.ModeLocalMaster,
			Summary: "Remove an agent from one or every group",
			Args:    []dapi.ArgSpec{required("agent_id"), arg("group_id")},
		}, func(_ context.Context, args dapi.Args) (any, error) {
			id, _ := args.String("agent_id")
			group, _ := args.String("group_id")
			if err := store.UnsetGroup(id, group); err != nil {
				return nil, err
			}
			if group == "" {
				return fmt.Sprintf("agent %s removed from every group", id), nil
			}
			return fmt.Sprintf("agent %s removed from group %s", id, group), nil
		}),

		dapi.Define(dapi.OperationSpec{
			Name:    OpGetAllGroups,
			Mode:    dapi.ModeLocalMaster,
			Summary: "List groups",
			Args:    []dapi.ArgSpec{arg("offset"), arg("limit"), arg("sort"), arg("search"), arg("hash_algorithm")},
		}, func(_ context.Context, args dapi.Args) (any, error) {
			return store.Groups(queryFrom(args)), nil
		}),

		dapi.Define(dapi.OperationSpec{
			Name:    OpGetAgentGroup,
			Mode:    dapi.ModeLocalMaster,
			Summary: "List the agents of a group",
			Args: []dapi.ArgSpec{
				required("group_id"), arg("offset"), arg("limit"), arg("sort"),
				arg("search"), arg("select"), arg("filters"), arg("q"),
			},
		}, func(_ context.Context, args dapi.Args) (any, error) {
			group, _ := args.String("group_id")
			if !store.HasGroup(group) {
				return nil, groupNotFound(group)
			}
			q := queryFrom(args)
			q.Filters["group"] = group
			page := store.List(q)
			return selectFields(page.Items, args, page.TotalItems)
		}),

		dapi.Define(dapi.OperationSpec{
			Name:    OpCreateGroup,
			Mode:    dapi.ModeLocalMaster,
			Summary: "Create a group",
			Args:    []dapi.ArgSpec{required("group_id")},
		}, func(_ context.Context, args dapi.Args) (any, error) {
			group, _ := args.String("group_id")
			if err := store.CreateGroup(group); err != nil {
				return nil, err
			}
			return fmt.Sprintf("group %s created", group), nil
		}),

		dapi.Define(dapi.OperationSpec{
			Name:    OpRemoveGroup,
			Mode:    dapi.ModeLocalMaster,
			Summary: "Remove groups",
			Args:    []dapi.ArgSpec{required("group_list")},
		}, func(_ context.Context, args dapi.Args) (any, error) {
			groups, _ := args.Strings("group_list")
			return store.RemoveGroups(groups), nil
		}),
	}
}

// MergeRestarts merges per-node restart results. Each node only knows the
// agents connected to it, so an id reported missing by one node is dropped
// when another node restarted it, and ids missing everywhere are reported
// once.
func MergeRestarts(results []dapi.NodeResult) (any, error) {
	merged, err := cluster.MergeAffectedItems(results)
	if err != nil {
		return nil, err
	}
	items := merged.(*dapi.AffectedItems)

	restarted := make(map[string]struct{}, len(items.AffectedItems))
	for _, v := range items.AffectedItems {
		restarted[fmt.Sprint(v)] = struct{}{}
	}

	failed := make([]dapi.FailedItem, 0, len(items.FailedItems))
	total := 0
	for _, f := range items.FailedItems {
		ids := dedup(f.IDs)
		if f.Error.Code == ErrCodeAgentNotFound {
			kept := ids[:0]
			for _, id := range ids {
				if _, ok := restarted[id]; !ok {
					kept = append(kept, id)
				}
			}
			ids = kept
		}
		if len(ids) == 0 {
			continue
		}
		failed = append(failed, dapi.FailedItem{Error: f.Error, IDs: ids})
		total += len(ids)
	}
	items.FailedItems = failed
	items.TotalFailedItems = total
	items.Message = summary(items, "restarted")
	return items, nil
}

// MergeFirstFound returns the first non-empty payload in node order. It
// fails with AGENT_NOT_FOUND when no node produced one.
func MergeFirstFound(results []dapi.NodeResult) (any, error) {
	for _, r := range results {
		if r.OK && r.Payload != nil {
			return r.Payload, nil
		}
	}
	return nil, dapi.NewError(ErrAgentNotFound, "agent is not connected to any node", nil, nil)
}

func dedup(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func queryFrom(args dapi.Args) Query {
	q := Query{Filters: map[string]string{}}
	q.Offset, _ = args.Int("offset")
	q.Limit, _ = args.Int("limit")
	q.Sort, _ = args.String("sort")
	q.Search, _ = args.String("search")
	if filters, ok := args.Map("filters"); ok {
		for _, k := range filters.Keys() {
			if values, ok := filters.Strings(k); ok {
				q.Filters[k] = strings.Join(values, ",")
				continue
			}
			if v, ok := filters.String(k); ok {
				q.Filters[k] = v
			}
		}
	}
	return q
}

// selectFields projects agents onto the requested fields. The id is
// always kept.
func selectFields(agents []Agent, args dapi.Args, total int) (Page[map[string]any], error) {
	fields, _ := args.Strings("select")
	items := make([]map[string]any, 0, len(agents))
	for _, a := range agents {
		raw, err := json.Marshal(a)
		if err != nil {
			return Page[map[string]any]{}, err
		}
		var full map[string]any
		if err := json.Unmarshal(raw, &full); err != nil {
			return Page[map[string]any]{}, err
		}
		if len(fields) == 0 {
			items = append(items, full)
			continue
		}
		projected := map[string]any{"id": a.ID}
		for _, f := range fields {
			if v, ok := full[f]; ok {
				projected[f] = v
			}
		}
		items = append(items, projected)
	}
	return Page[map[string]any]{Items: items, TotalItems: total}, nil
}
