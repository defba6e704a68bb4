package api

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	dapi "github.com/goliatone/go-dapi"
	"github.com/goliatone/go-dapi/agents"
	"github.com/goliatone/go-dapi/transport"
)

// BasePath prefixes the REST routes.
const BasePath = "/agents"

// Routes mounts the REST facade. Mount it on a node server with
// transport.WithRoutes(controller.Routes).
func (c *AgentsController) Routes(r chi.Router) {
	r.Route(BasePath, func(r chi.Router) {
		r.Get("/", c.handleGetAllAgents)
		r.Post("/", c.handleAddAgent)
		r.Delete("/", c.handleDeleteAgents)
		r.Put("/restart", c.handleRestartAll)

		r.Get("/groups", c.handleGetAllGroups)
		r.Delete("/groups", c.handleDeleteGroups)
		r.Get("/groups/{group_id}", c.handleGetAgentsInGroup)
		r.Put("/groups/{group_id}", c.handlePutGroup)
		r.Delete("/groups/{group_id}", c.handleDeleteGroup)

		r.Get("/{agent_id}", c.handleGetAgent)
		r.Delete("/{agent_id}", c.handleDeleteAgent)
		r.Put("/{agent_id}/restart", c.handleRestartAgent)
		r.Get("/{agent_id}/config/{component}/{configuration}", c.handleGetAgentConfig)
		r.Delete("/{agent_id}/group", c.handleDeleteAgentGroup)
		r.Delete("/{agent_id}/group/{group_id}", c.handleDeleteAgentGroup)
		r.Put("/{agent_id}/group/{group_id}", c.handlePutAgentGroup)
	})
}

func (c *AgentsController) handleGetAllAgents(w http.ResponseWriter, r *http.Request) {
	q := query{r: r}
	p := GetAllAgentsParams{
		ListParams: q.list(),
		Select:     q.values("select"),
		Q:          q.str("q"),
		Status:     q.values("status"),
		OlderThan:  q.opt("older_than"),
		OSPlatform: q.opt("os.platform"),
		OSVersion:  q.opt("os.version"),
		OSName:     q.opt("os.name"),
		Manager:    q.opt("manager"),
		Version:    q.opt("version"),
		Group:      q.opt("group"),
		NodeName:   q.opt("node_name"),
		Name:       q.opt("name"),
		IP:         q.opt("ip"),
	}
	if q.failed(w) {
		return
	}
	write(w, c.GetAllAgents(r.Context(), p))
}

func (c *AgentsController) handleAddAgent(w http.ResponseWriter, r *http.Request) {
	q := query{r: r}
	var body struct {
		Name string  `json:"name"`
		IP   *string `json:"ip"`
	}
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&body); err != nil {
		badRequest(w, agents.OpAddAgent, dapi.NewError(dapi.ErrInvalidArguments, "request body is not valid JSON", err, nil))
		return
	}
	p := AddAgentParams{Common: q.common(), Name: body.Name, IP: body.IP}
	if q.failed(w) {
		return
	}
	write(w, c.AddAgent(r.Context(), p))
}

func (c *AgentsController) handleDeleteAgents(w http.ResponseWriter, r *http.Request) {
	q := query{r: r}
	p := DeleteAgentsParams{
		Common:     q.common(),
		ListAgents: q.values("list_agents"),
		Purge:      q.optBool("purge"),
		Status:     q.values("status"),
		OlderThan:  q.opt("older_than"),
	}
	if q.failed(w) {
		return
	}
	write(w, c.DeleteAgents(r.Context(), p))
}

func (c *AgentsController) handleRestartAll(w http.ResponseWriter, r *http.Request) {
	q := query{r: r}
	common := q.common()
	if q.failed(w) {
		return
	}
	write(w, c.RestartAllAgents(r.Context(), common))
}

func (c *AgentsController) handleGetAgent(w http.ResponseWriter, r *http.Request) {
	q := query{r: r}
	common := q.common()
	fields := q.values("select")
	if q.failed(w) {
		return
	}
	write(w, c.GetAgent(r.Context(), chi.URLParam(r, "agent_id"), fields, common))
}

func (c *AgentsController) handleDeleteAgent(w http.ResponseWriter, r *http.Request) {
	q := query{r: r}
	common := q.common()
	purge := q.boolean("purge")
	if q.failed(w) {
		return
	}
	write(w, c.DeleteAgent(r.Context(), chi.URLParam(r, "agent_id"), purge, common))
}

func (c *AgentsController) handleRestartAgent(w http.ResponseWriter, r *http.Request) {
	q := query{r: r}
	common := q.common()
	if q.failed(w) {
		return
	}
	write(w, c.RestartAgent(r.Context(), chi.URLParam(r, "agent_id"), common))
}

func (c *AgentsController) handleGetAgentConfig(w http.ResponseWriter, r *http.Request) {
	q := query{r: r}
	common := q.common()
	if q.failed(w) {
		return
	}
	write(w, c.GetAgentConfig(r.Context(),
		chi.URLParam(r, "agent_id"),
		chi.URLParam(r, "component"),
		chi.URLParam(r, "configuration"),
		common))
}

func (c *AgentsController) handleDeleteAgentGroup(w http.ResponseWriter, r *http.Request) {
	q := query{r: r}
	common := q.common()
	if q.failed(w) {
		return
	}
	write(w, c.DeleteAgentGroup(r.Context(), chi.URLParam(r, "agent_id"), chi.URLParam(r, "group_id"), common))
}

func (c *AgentsController) handlePutAgentGroup(w http.ResponseWriter, r *http.Request) {
	q := query{r: r}
	common := q.common()
	force := q.boolean("force_single_group")
	if q.failed(w) {
		return
	}
	write(w, c.PutAgentGroup(r.Context(), chi.URLParam(r, "agent_id"), chi.URLParam(r, "group_id"), force, common))
}

func (c *AgentsController) handleGetAllGroups(w http.ResponseWriter, r *http.Request) {
	q := query{r: r}
	p := GetAllGroupsParams{ListParams: q.list(), Hash: q.str("hash")}
	if q.failed(w) {
		return
	}
	write(w, c.GetAllGroups(r.Context(), p))
}

func (c *AgentsController) handleDeleteGroups(w http.ResponseWriter, r *http.Request) {
	q := query{r: r}
	common := q.common()
	groups := q.values("list_groups")
	if q.failed(w) {
		return
	}
	write(w, c.DeleteGroups(r.Context(), groups, common))
}

func (c *AgentsController) handleGetAgentsInGroup(w http.ResponseWriter, r *http.Request) {
	q := query{r: r}
	p := GetAgentsInGroupParams{
		ListParams: q.list(),
		GroupID:    chi.URLParam(r, "group_id"),
		Select:     q.values("select"),
		Status:     q.values("status"),
		Q:          q.str("q"),
	}
	if q.failed(w) {
		return
	}
	write(w, c.GetAgentsInGroup(r.Context(), p))
}

func (c *AgentsController) handlePutGroup(w http.ResponseWriter, r *http.Request) {
	q := query{r: r}
	common := q.common()
	if q.failed(w) {
		return
	}
	write(w, c.PutGroup(r.Context(), chi.URLParam(r, "group_id"), common))
}

func (c *AgentsController) handleDeleteGroup(w http.ResponseWriter, r *http.Request) {
	q := query{r: r}
	common := q.common()
	if q.failed(w) {
		return
	}
	write(w, c.DeleteGroups(r.Context(), []string{chi.URLParam(r, "group_id")}, common))
}

// StatusForEnvelope extends transport.StatusForEnvelope with the agent
// error codes.
func StatusForEnvelope(env dapi.Envelope) int {
	if env.Status == dapi.StatusError && env.Error != nil {
		switch env.Error.Code {
		case agents.ErrCodeAgentNotFound, agents.ErrCodeGroupNotFound:
			return http.StatusNotFound
		case agents.ErrCodeAgentExists, agents.ErrCodeGroupExists:
			return http.StatusConflict
		case agents.ErrCodeProtected, agents.ErrCodeInvalidName:
			return http.StatusBadRequest
		}
	}
	return transport.StatusForEnvelope(env)
}

func write(w http.ResponseWriter, env dapi.Envelope) {
	transport.WriteEnvelope(w, env, StatusForEnvelope(env))
}

func badRequest(w http.ResponseWriter, op string, err error) {
	env := dapi.NormalizeError(dapi.Request{Operation: op}, err)
	transport.WriteEnvelope(w, env, http.StatusBadRequest)
}

// query reads typed query parameters, keeping the first parse error.
type query struct {
	r   *http.Request
	err error
}

func (q *query) raw(key string) (string, bool) {
	values, ok := q.r.URL.Query()[key]
	if !ok || len(values) == 0 {
		return "", false
	}
	return values[0], true
}

func (q *query) str(key string) string {
	v, _ := q.raw(key)
	return v
}

func (q *query) opt(key string) *string {
	v, ok := q.raw(key)
	if !ok {
		return nil
	}
	return &v
}

// values returns a comma separated or repeated list parameter.
func (q *query) values(key string) []string {
	values := q.r.URL.Query()[key]
	var out []string
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

func (q *query) boolean(key string) bool {
	b := q.optBool(key)
	return b != nil && *b
}

func (q *query) optBool(key string) *bool {
	v, ok := q.raw(key)
	if !ok {
		return nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		q.fail(key, v, err)
		return nil
	}
	return &b
}

func (q *query) optInt(key string) *int {
	v, ok := q.raw(key)
	if !ok {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		q.fail(key, v, err)
		return nil
	}
	return &n
}

func (q *query) common() Common {
	return Common{
		Pretty:          q.boolean("pretty"),
		WaitForComplete: q.boolean("wait_for_complete"),
	}
}

func (q *query) list() ListParams {
	p := ListParams{
		Common: q.common(),
		Limit:  q.optInt("limit"),
		Sort:   q.opt("sort"),
		Search: q.opt("search"),
	}
	if offset := q.optInt("offset"); offset != nil {
		p.Offset = *offset
	}
	return p
}

func (q *query) fail(key, value string, err error) {
	if q.err != nil {
		return
	}
	q.err = dapi.NewError(dapi.ErrInvalidArguments, "invalid query parameter "+key, err,
		map[string]any{"parameter": key, "value": value})
}

func (q *query) failed(w http.ResponseWriter) bool {
	if q.err == nil {
		return false
	}
	badRequest(w, "", q.err)
	return true
}
