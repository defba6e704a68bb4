package agents

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/goliatone/go-errors"

	dapi "github.com/goliatone/go-dapi"
)

const (
	ErrCodeAgentNotFound = "AGENT_NOT_FOUND"
	ErrCodeAgentExists   = "AGENT_ALREADY_EXISTS"
	ErrCodeGroupNotFound = "GROUP_NOT_FOUND"
	ErrCodeGroupExists   = "GROUP_ALREADY_EXISTS"
	ErrCodeProtected     = "PROTECTED_RESOURCE"
	ErrCodeInvalidName   = "INVALID_NAME"
)

var (
	ErrAgentNotFound = errors.New("agent does not exist", errors.CategoryNotFound).
				WithTextCode(ErrCodeAgentNotFound)
	ErrAgentExists = errors.New("agent already exists", errors.CategoryConflict).
			WithTextCode(ErrCodeAgentExists)
	ErrGroupNotFound = errors.New("group does not exist", errors.CategoryNotFound).
				WithTextCode(ErrCodeGroupNotFound)
	ErrGroupExists = errors.New("group already exists", errors.CategoryConflict).
			WithTextCode(ErrCodeGroupExists)
	ErrProtected = errors.New("resource cannot be modified", errors.CategoryBadInput).
			WithTextCode(ErrCodeProtected)
	ErrInvalidName = errors.New("invalid name", errors.CategoryValidation).
			WithTextCode(ErrCodeInvalidName)
)

const (
	// ManagerID is the agent representing the manager itself.
	ManagerID    = "000"
	DefaultGroup = "default"
)

type Status string

const (
	StatusActive         Status = "active"
	StatusDisconnected   Status = "disconnected"
	StatusNeverConnected Status = "never_connected"
	StatusPending        Status = "pending"
)

// Agent is a monitored endpoint registered in the store.
type Agent struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	IP           string    `json:"ip,omitempty"`
	Status       Status    `json:"status"`
	Version      string    `json:"version,omitempty"`
	OSPlatform   string    `json:"os_platform,omitempty"`
	NodeName     string    `json:"node_name,omitempty"`
	Groups       []string  `json:"group,omitempty"`
	RegisteredAt time.Time `json:"date_add"`
	LastSeen     time.Time `json:"last_keep_alive,omitempty"`
	Restarts     int       `json:"restarts"`
	// Config maps a component to its active configuration sections.
	Config map[string]map[string]any `json:"-"`
}

func (a Agent) clone() Agent {
	cp := a
	cp.Groups = append([]string(nil), a.Groups...)
	return cp
}

// Group is a named set of agents.
type Group struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

// Query narrows and pages listings.
type Query struct {
	Offset int
	Limit  int
	Sort   string
	Search string
	// Filters are matched by equality against agent fields: status,
	// name, ip, version, os.platform, node_name and group.
	Filters map[string]string
}

// Page is one window of a listing.
type Page[T any] struct {
	Items      []T `json:"items"`
	TotalItems int `json:"totalItems"`
}

// Store is an in-memory agent registry safe for concurrent use.
type Store struct {
	mu     sync.RWMutex
	node   string
	seq    int
	now    func() time.Time
	agents map[string]Agent
	groups map[string]struct{}
}

// NewStore returns a store holding the manager agent for node and the
// default group.
func NewStore(node string) *Store {
	s := &Store{
		node:   node,
		now:    time.Now,
		agents: make(map[string]Agent),
		groups: map[string]struct{}{DefaultGroup: {}},
	}
	s.agents[ManagerID] = Agent{
		ID:           ManagerID,
		Name:         node,
		IP:           "127.0.0.1",
		Status:       StatusActive,
		NodeName:     node,
		RegisteredAt: s.now().UTC(),
	}
	return s
}

// Node returns the cluster node the store belongs to.
func (s *Store) Node() string { return s.node }

// Add registers a new agent and places it in the default group.
func (s *Store) Add(name, ip string) (Agent, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Agent{}, dapi.NewError(ErrInvalidName, "agent name is required", nil, nil)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, a := range s.agents {
		if a.Name == name {
			return Agent{}, dapi.NewError(ErrAgentExists,
				fmt.Sprintf("agent %s already exists", name), nil, map[string]any{"name": name, "id": a.ID})
		}
	}

	s.seq++
	agent := Agent{
		ID:           s.nextID(),
		Name:         name,
		IP:           ip,
		Status:       StatusNeverConnected,
		NodeName:     s.node,
		Groups:       []string{DefaultGroup},
		RegisteredAt: s.now().UTC(),
	}
	s.agents[agent.ID] = agent
	return agent.clone(), nil
}

// Put inserts or replaces agent as is.
func (s *Store) Put(agent Agent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.agents[agent.ID] = agent.clone()
	for _, g := range agent.Groups {
		s.groups[g] = struct{}{}
	}
}

func (s *Store) nextID() string {
	for {
		id := fmt.Sprintf("%03d", s.seq)
		if _, taken := s.agents[id]; !taken {
			return id
		}
		s.seq++
	}
}

// HasGroup reports whether group exists.
func (s *Store) HasGroup(name string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.groups[name]
	return ok
}

// Get returns the agent with id.
func (s *Store) Get(id string) (Agent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.agents[id]
	if !ok {
		return Agent{}, agentNotFound(id)
	}
	return a.clone(), nil
}

// List returns the agents matching q.
func (s *Store) List(q Query) Page[Agent] {
	s.mu.RLock()
	matched := make([]Agent, 0, len(s.agents))
	for _, a := range s.agents {
		if matches(a, q) {
			matched = append(matched, a.clone())
		}
	}
	s.mu.RUnlock()

	sortAgents(matched, q.Sort)
	return paginate(matched, q.Offset, q.Limit)
}

// Remove deletes the given agents. Agents matching status are removed
// when ids is empty. The manager cannot be removed.
func (s *Store) Remove(ids []string, status string) *dapi.AffectedItems {
	s.mu.Lock()
	defer s.mu.Unlock()

	result := dapi.NewAffectedItems("")
	for _, id := range s.selectLocked(ids, status) {
		if id == ManagerID {
			result.AddFailed(id, dapi.NewError(ErrProtected, "the manager agent cannot be removed", nil, nil))
			continue
		}
		if _, ok := s.agents[id]; !ok {
			result.AddFailed(id, ErrAgentNotFound)
			continue
		}
		delete(s.agents, id)
		result.AddAffected(id)
	}
	result.Message = summary(result, "removed")
	return result
}

// Restart marks the given agents as restarted. Every active agent but the
// manager is restarted when ids is empty.
func (s *Store) Restart(ids []string) *dapi.AffectedItems {
	s.mu.Lock()
	defer s.mu.Unlock()

	result := dapi.NewAffectedItems("")
	targets := ids
	if len(targets) == 0 {
		for _, id := range s.selectLocked(nil, string(StatusActive)) {
			if id != ManagerID {
				targets = append(targets, id)
			}
		}
	}
	for _, id := range targets {
		a, ok := s.agents[id]
		switch {
		case !ok:
			result.AddFailed(id, ErrAgentNotFound)
		case id == ManagerID:
			result.AddFailed(id, dapi.NewError(ErrProtected, "the manager agent cannot be restarted", nil, nil))
		case a.Status != StatusActive:
			result.AddFailed(id, dapi.NewError(ErrProtected,
				fmt.Sprintf("agent is not active (%s)", a.Status), nil, nil))
		default:
			a.Restarts++
			a.LastSeen = s.now().UTC()
			s.agents[id] = a
			result.AddAffected(id)
		}
	}
	result.Message = summary(result, "restarted")
	return result
}

func (s *Store) selectLocked(ids []string, status string) []string {
	if len(ids) > 0 {
		out := append([]string(nil), ids...)
		sort.Strings(out)
		return out
	}
	var out []string
	for id, a := range s.agents {
		if status == "" || string(a.Status) == status {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

// Config returns the active configuration of one component section.
func (s *Store) Config(id, component, section string) (map[string]any, error) {
	a, err := s.Get(id)
	if err != nil {
		return nil, err
	}
	sections, ok := a.Config[component]
	if !ok {
		return nil, dapi.NewError(dapi.ErrInvalidArguments,
			fmt.Sprintf("agent %s has no component %s", id, component), nil,
			map[string]any{"agent_id": id, "component": component})
	}
	value, ok := sections[section]
	if !ok {
		return nil, dapi.NewError(dapi.ErrInvalidArguments,
			fmt.Sprintf("component %s has no configuration %s", component, section), nil,
			map[string]any{"agent_id": id, "component": component, "configuration": section})
	}
	return map[string]any{section: value}, nil
}

// SetGroup adds agent id to group. With replace the agent leaves every
// other group.
func (s *Store) SetGroup(id, group string, replace bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.agents[id]
	if !ok {
		return agentNotFound(id)
	}
	if id == ManagerID {
		return dapi.NewError(ErrProtected, "the manager agent cannot belong to groups", nil, nil)
	}
	if _, ok := s.groups[group]; !ok {
		return groupNotFound(group)
	}
	if replace {
		a.Groups = []string{group}
	} else if !contains(a.Groups, group) {
		a.Groups = append(append([]string(nil), a.Groups...), group)
	}
	s.agents[id] = a
	return nil
}

// UnsetGroup removes agent id from group, or from every group when group
// is empty. An agent left without groups returns to the default group.
func (s *Store) UnsetGroup(id, group string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.agents[id]
	if !ok {
		return agentNotFound(id)
	}
	if group != "" {
		if _, ok := s.groups[group]; !ok {
			return groupNotFound(group)
		}
		if !contains(a.Groups, group) {
			return dapi.NewError(dapi.ErrInvalidArguments,
				fmt.Sprintf("agent %s does not belong to group %s", id, group), nil,
				map[string]any{"agent_id": id, "group_id": group})
		}
	}

	kept := make([]string, 0, len(a.Groups))
	for _, g := range a.Groups {
		if group != "" && g != group {
			kept = append(kept, g)
		}
	}
	if len(kept) == 0 && id != ManagerID {
		kept = []string{DefaultGroup}
	}
	a.Groups = kept
	s.agents[id] = a
	return nil
}

// CreateGroup adds an empty group.
func (s *Store) CreateGroup(name string) error {
	name = strings.TrimSpace(name)
	if name == "" || strings.ContainsAny(name, "/\\ ,") {
		return dapi.NewError(ErrInvalidName, fmt.Sprintf("invalid group name %q", name), nil, nil)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.groups[name]; ok {
		return dapi.NewError(ErrGroupExists, fmt.Sprintf("group %s already exists", name), nil,
			map[string]any{"group_id": name})
	}
	s.groups[name] = struct{}{}
	return nil
}

// RemoveGroups deletes groups. Their agents fall back to the default
// group, which itself cannot be removed.
func (s *Store) RemoveGroups(names []string) *dapi.AffectedItems {
	s.mu.Lock()
	defer s.mu.Unlock()

	result := dapi.NewAffectedItems("")
	sorted := append([]string(nil), names...)
	sort.Strings(sorted)
	for _, name := range sorted {
		if name == DefaultGroup {
			result.AddFailed(name, dapi.NewError(ErrProtected, "the default group cannot be removed", nil, nil))
			continue
		}
		if _, ok := s.groups[name]; !ok {
			result.AddFailed(name, ErrGroupNotFound)
			continue
		}
		delete(s.groups, name)
		for id, a := range s.agents {
			if !contains(a.Groups, name) {
				continue
			}
			kept := make([]string, 0, len(a.Groups))
			for _, g := range a.Groups {
				if g != name {
					kept = append(kept, g)
				}
			}
			if len(kept) == 0 {
				kept = []string{DefaultGroup}
			}
			a.Groups = kept
			s.agents[id] = a
		}
		result.AddAffected(name)
	}
	result.Message = summary(result, "removed")
	return result
}

// Groups lists groups with their agent counts.
func (s *Store) Groups(q Query) Page[Group] {
	s.mu.RLock()
	counts := make(map[string]int, len(s.groups))
	for name := range s.groups {
		counts[name] = 0
	}
	for _, a := range s.agents {
		for _, g := range a.Groups {
			counts[g]++
		}
	}
	s.mu.RUnlock()

	groups := make([]Group, 0, len(counts))
	for name, n := range counts {
		if q.Search != "" && !strings.Contains(name, q.Search) {
			continue
		}
		groups = append(groups, Group{Name: name, Count: n})
	}
	desc := strings.HasPrefix(q.Sort, "-")
	sort.Slice(groups, func(i, j int) bool {
		if desc {
			return groups[i].Name > groups[j].Name
		}
		return groups[i].Name < groups[j].Name
	})
	return paginate(groups, q.Offset, q.Limit)
}

func matches(a Agent, q Query) bool {
	if q.Search != "" {
		needle := strings.ToLower(q.Search)
		if !strings.Contains(strings.ToLower(a.Name), needle) &&
			!strings.Contains(a.ID, needle) &&
			!strings.Contains(a.IP, needle) {
			return false
		}
	}
	for key, want := range q.Filters {
		if want == "" {
			continue
		}
		var got []string
		switch key {
		case "status":
			got = []string{string(a.Status)}
		case "name":
			got = []string{a.Name}
		case "ip":
			got = []string{a.IP}
		case "version":
			got = []string{a.Version}
		case "os.platform":
			got = []string{a.OSPlatform}
		case "node_name":
			got = []string{a.NodeName}
		case "group":
			got = a.Groups
		default:
			continue
		}
		if !anyOf(got, strings.Split(want, ",")) {
			return false
		}
	}
	return true
}

func anyOf(values, wanted []string) bool {
	for _, w := range wanted {
		if contains(values, strings.TrimSpace(w)) {
			return true
		}
	}
	return false
}

func sortAgents(agents []Agent, field string) {
	desc := strings.HasPrefix(field, "-")
	field = strings.TrimLeft(field, "+-")
	key := func(a Agent) string {
		switch field {
		case "name":
			return a.Name
		case "status":
			return string(a.Status)
		case "ip":
			return a.IP
		default:
			return a.ID
		}
	}
	sort.SliceStable(agents, func(i, j int) bool {
		ki, kj := key(agents[i]), key(agents[j])
		if ki == kj {
			return agents[i].ID < agents[j].ID
		}
		if desc {
			return ki > kj
		}
		return ki < kj
	})
}

func paginate[T any](items []T, offset, limit int) Page[T] {
	total := len(items)
	if offset < 0 {
		offset = 0
	}
	if offset > total {
		offset = total
	}
	end := total
	if limit > 0 && offset+limit < total {
		end = offset + limit
	}
	return Page[T]{Items: items[offset:end], TotalItems: total}
}

func summary(r *dapi.AffectedItems, verb string) string {
	switch {
	case r.TotalFailedItems == 0:
		return fmt.Sprintf("all selected items were %s", verb)
	case r.TotalAffectedItems == 0:
		return fmt.Sprintf("no item was %s", verb)
	default:
		return fmt.Sprintf("some items were not %s", verb)
	}
}

func contains(values []string, v string) bool {
	for _, item := range values {
		if item == v {
			return true
		}
	}
	return false
}

func agentNotFound(id string) error {
	return dapi.NewError(ErrAgentNotFound, fmt.Sprintf("agent %s does not exist", id), nil,
		map[string]any{"agent_id": id})
}

func groupNotFound(name string) error {
	return dapi.NewError(ErrGroupNotFound, fmt.Sprintf("group %s does not exist", name), nil,
		map[string]any{"group_id": name})
}
