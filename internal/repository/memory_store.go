package repository

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bbenst/langchain4j-aideepin-sub001/internal/workflow"
	"github.com/bbenst/langchain4j-aideepin-sub001/pkg/models"
)

// InMemoryStore is a Repository kept in process memory. It backs the
// "memory" database driver and the engine tests. Values are copied on the
// way in and out so callers never share state with the store.
type InMemoryStore struct {
	mu       sync.Mutex
	seq      int64
	users    map[string]*models.User // by email
	flows    map[string]*models.Workflow
	nodes    map[string][]*models.Node // by workflow uuid
	edges    map[string][]*models.Edge
	runtimes map[string]*models.RuntimeInstance
	rtNodes  map[string][]*models.RuntimeNode // by runtime uuid
	now      func() time.Time
}

// NewInMemoryStore creates an empty InMemoryStore.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		users:    map[string]*models.User{},
		flows:    map[string]*models.Workflow{},
		nodes:    map[string][]*models.Node{},
		edges:    map[string][]*models.Edge{},
		runtimes: map[string]*models.RuntimeInstance{},
		rtNodes:  map[string][]*models.RuntimeNode{},
		now:      time.Now,
	}
}

var _ Repository = (*InMemoryStore)(nil)

func (s *InMemoryStore) nextID() int64 {
	s.seq++
	return s.seq
}

// Ping always succeeds.
func (s *InMemoryStore) Ping(context.Context) error { return nil }

func (s *InMemoryStore) GetUserByEmail(_ context.Context, email string) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[email]
	if !ok {
		return nil, workflow.Errorf(workflow.KindNotFound, "user %s", email)
	}
	c := *u
	return &c, nil
}

func (s *InMemoryStore) CreateUser(_ context.Context, user *models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[user.Email]; ok {
		return workflow.Errorf(workflow.KindConflict, "user %s already exists", user.Email)
	}
	if user.UUID == "" {
		user.UUID = uuid.NewString()
	}
	user.ID = s.nextID()
	user.CreatedAt = s.now()
	user.UpdatedAt = user.CreatedAt
	c := *user
	s.users[user.Email] = &c
	return nil
}

func (s *InMemoryStore) CreateWorkflow(_ context.Context, wf *models.Workflow, graph *models.Graph) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if wf.UUID == "" {
		wf.UUID = uuid.NewString()
	}
	if _, ok := s.flows[wf.UUID]; ok {
		return workflow.Errorf(workflow.KindConflict, "workflow %s already exists", wf.UUID)
	}
	wf.ID = s.nextID()
	wf.Version = 1
	wf.CreatedAt = s.now()
	wf.UpdatedAt = wf.CreatedAt
	c := *wf
	s.flows[wf.UUID] = &c

	s.nodes[wf.UUID] = nil
	s.edges[wf.UUID] = nil
	if graph != nil {
		for _, n := range graph.Nodes {
			s.upsertNode(wf, n)
		}
		for _, e := range graph.Edges {
			s.upsertEdge(wf, e)
		}
	}
	return nil
}

func (s *InMemoryStore) liveWorkflow(id string) (*models.Workflow, error) {
	wf, ok := s.flows[id]
	if !ok || wf.IsDeleted {
		return nil, workflow.Errorf(workflow.KindNotFound, "workflow %s", id)
	}
	return wf, nil
}

func (s *InMemoryStore) GetWorkflow(_ context.Context, id string) (*models.Workflow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	wf, err := s.liveWorkflow(id)
	if err != nil {
		return nil, err
	}
	c := *wf
	return &c, nil
}

func (s *InMemoryStore) mutateWorkflow(id string, fn func(*models.Workflow)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	wf, err := s.liveWorkflow(id)
	if err != nil {
		return err
	}
	fn(wf)
	wf.UpdatedAt = s.now()
	return nil
}

func (s *InMemoryStore) SetWorkflowEnabled(_ context.Context, id string, enabled bool) error {
	return s.mutateWorkflow(id, func(wf *models.Workflow) { wf.IsEnable = enabled })
}

func (s *InMemoryStore) SetWorkflowPublic(_ context.Context, id string, public bool) error {
	return s.mutateWorkflow(id, func(wf *models.Workflow) { wf.IsPublic = public })
}

func (s *InMemoryStore) SoftDeleteWorkflow(_ context.Context, id string) error {
	return s.mutateWorkflow(id, func(wf *models.Workflow) { wf.IsDeleted = true })
}

func (s *InMemoryStore) SearchWorkflows(_ context.Context, search models.WorkflowSearch) (*models.Page[models.Workflow], error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	keyword := strings.ToLower(search.Keyword)
	var matched []*models.Workflow
	for _, wf := range s.flows {
		if wf.IsDeleted {
			continue
		}
		if keyword != "" && !strings.Contains(strings.ToLower(wf.Title), keyword) {
			continue
		}
		switch {
		case search.IsPublic != nil && *search.IsPublic:
			if !wf.IsPublic {
				continue
			}
		case search.IsPublic != nil:
			if wf.IsPublic || wf.UserID != search.UserID {
				continue
			}
		default:
			if wf.UserID != search.UserID {
				continue
			}
		}
		c := *wf
		matched = append(matched, &c)
	}
	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].UpdatedAt.Equal(matched[j].UpdatedAt) {
			return matched[i].UpdatedAt.After(matched[j].UpdatedAt)
		}
		return matched[i].ID > matched[j].ID
	})
	page := search.PageRequest.Normalize()
	return models.NewPage(slice(matched, page), len(matched), page), nil
}

func (s *InMemoryStore) LoadGraph(_ context.Context, workflowUUID string) (*models.Graph, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.liveWorkflow(workflowUUID); err != nil {
		return nil, err
	}
	return copyGraph(&models.Graph{Nodes: s.nodes[workflowUUID], Edges: s.edges[workflowUUID]}), nil
}

func (s *InMemoryStore) ReplaceGraph(_ context.Context, workflowUUID string, expectedVersion int, update *models.GraphUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	wf, err := s.liveWorkflow(workflowUUID)
	if err != nil {
		return err
	}
	if wf.Version != expectedVersion {
		return workflow.Errorf(workflow.KindConflict, "workflow %s is at version %d, not %d", workflowUUID, wf.Version, expectedVersion)
	}

	current := copyGraph(&models.Graph{Nodes: s.nodes[workflowUUID], Edges: s.edges[workflowUUID]})
	next := workflow.ApplyUpdate(current, update)
	s.nodes[workflowUUID] = nil
	s.edges[workflowUUID] = nil
	for _, n := range next.Nodes {
		if prev := current.Node(n.UUID); prev != nil && n.ID == 0 {
			n.ID, n.CreatedAt = prev.ID, prev.CreatedAt
		}
		s.upsertNode(wf, n)
	}
	for _, e := range next.Edges {
		s.upsertEdge(wf, e)
	}
	if update.Info != nil {
		wf.Title = update.Info.Title
		wf.Remark = update.Info.Remark
	}
	wf.Version++
	wf.UpdatedAt = s.now()
	return nil
}

func (s *InMemoryStore) upsertNode(wf *models.Workflow, n *models.Node) {
	n.WorkflowID = wf.ID
	if n.ID == 0 {
		n.ID = s.nextID()
		n.CreatedAt = s.now()
	}
	n.UpdatedAt = s.now()
	s.nodes[wf.UUID] = append(s.nodes[wf.UUID], copyNode(n))
}

func (s *InMemoryStore) upsertEdge(wf *models.Workflow, e *models.Edge) {
	e.WorkflowID = wf.ID
	if e.ID == 0 {
		e.ID = s.nextID()
		e.CreatedAt = s.now()
	}
	e.UpdatedAt = s.now()
	c := *e
	s.edges[wf.UUID] = append(s.edges[wf.UUID], &c)
}

func (s *InMemoryStore) CreateRuntimeInstance(_ context.Context, ri *models.RuntimeInstance) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ri.UUID == "" {
		ri.UUID = uuid.NewString()
	}
	if ri.Input == nil {
		ri.Input = map[string]any{}
	}
	ri.ID = s.nextID()
	ri.CreatedAt = s.now()
	ri.UpdatedAt = ri.CreatedAt
	s.runtimes[ri.UUID] = copyRuntime(ri, true)
	s.rtNodes[ri.UUID] = nil
	return nil
}

func (s *InMemoryStore) liveRuntime(id string) (*models.RuntimeInstance, error) {
	ri, ok := s.runtimes[id]
	if !ok || ri.IsDeleted {
		return nil, workflow.Errorf(workflow.KindNotFound, "runtime %s", id)
	}
	return ri, nil
}

func (s *InMemoryStore) GetRuntimeInstance(_ context.Context, id string) (*models.RuntimeInstance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ri, err := s.liveRuntime(id)
	if err != nil {
		return nil, err
	}
	return copyRuntime(ri, true), nil
}

func (s *InMemoryStore) TransitionRuntimeInstance(_ context.Context, id string, from models.RuntimeStatus, t models.RuntimeTransition) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ri, err := s.liveRuntime(id)
	if err != nil {
		return err
	}
	if ri.Status != from {
		return workflow.Errorf(workflow.KindConflict, "runtime %s is not %s", id, from)
	}
	ri.Status = t.To
	ri.StatusRemark = t.StatusRemark
	ri.ErrorKind = t.ErrorKind
	ri.Output = copyMap(t.Output)
	ri.WaitingNodeUUID = t.WaitingNodeUUID
	ri.UpdatedAt = s.now()
	return nil
}

func (s *InMemoryStore) ListRuntimeInstances(_ context.Context, workflowUUID string, userID int64, page models.PageRequest) (*models.Page[models.RuntimeInstance], error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var matched []*models.RuntimeInstance
	for _, ri := range s.runtimes {
		if ri.IsDeleted || ri.WorkflowUUID != workflowUUID || ri.UserID != userID {
			continue
		}
		matched = append(matched, copyRuntime(ri, false))
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].ID > matched[j].ID })
	page = page.Normalize()
	return models.NewPage(slice(matched, page), len(matched), page), nil
}

func (s *InMemoryStore) SoftDeleteRuntimeInstance(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ri, err := s.liveRuntime(id)
	if err != nil {
		return err
	}
	ri.IsDeleted = true
	ri.UpdatedAt = s.now()
	return nil
}

func (s *InMemoryStore) ClearRuntimeInstances(_ context.Context, workflowUUID string, userID int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, ri := range s.runtimes {
		if ri.IsDeleted || ri.WorkflowUUID != workflowUUID || ri.UserID != userID {
			continue
		}
		ri.IsDeleted = true
		ri.UpdatedAt = s.now()
		n++
	}
	return n, nil
}

func (s *InMemoryStore) SaveRuntimeNode(_ context.Context, runtimeUUID string, rn *models.RuntimeNode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ri, ok := s.runtimes[runtimeUUID]
	if !ok {
		return workflow.Errorf(workflow.KindNotFound, "runtime %s", runtimeUUID)
	}
	for _, existing := range s.rtNodes[runtimeUUID] {
		if existing.NodeUUID == rn.NodeUUID {
			return workflow.Errorf(workflow.KindConflict, "node %s already recorded for runtime %s", rn.NodeUUID, runtimeUUID)
		}
	}
	if rn.UUID == "" {
		rn.UUID = uuid.NewString()
	}
	rn.ID = s.nextID()
	rn.RuntimeInstanceID = ri.ID
	rn.CreatedAt = s.now()
	c := *rn
	c.Input = copyMap(rn.Input)
	c.Output = copyMap(rn.Output)
	s.rtNodes[runtimeUUID] = append(s.rtNodes[runtimeUUID], &c)
	return nil
}

func (s *InMemoryStore) ListRuntimeNodes(_ context.Context, runtimeUUID string) ([]*models.RuntimeNode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*models.RuntimeNode, 0, len(s.rtNodes[runtimeUUID]))
	for _, rn := range s.rtNodes[runtimeUUID] {
		c := *rn
		c.Input = copyMap(rn.Input)
		c.Output = copyMap(rn.Output)
		out = append(out, &c)
	}
	return out, nil
}

func slice[T any](records []*T, page models.PageRequest) []*T {
	start := page.Offset()
	if start >= len(records) {
		return nil
	}
	end := start + page.PageSize
	if end > len(records) {
		end = len(records)
	}
	return records[start:end]
}

func copyNode(n *models.Node) *models.Node {
	c := *n
	c.NodeConfig = append(json.RawMessage(nil), n.NodeConfig...)
	c.InputConfig.Slots = append([]models.InputSlot(nil), n.InputConfig.Slots...)
	return &c
}

func copyGraph(g *models.Graph) *models.Graph {
	out := &models.Graph{
		Nodes: make([]*models.Node, 0, len(g.Nodes)),
		Edges: make([]*models.Edge, 0, len(g.Edges)),
	}
	for _, n := range g.Nodes {
		out.Nodes = append(out.Nodes, copyNode(n))
	}
	for _, e := range g.Edges {
		c := *e
		out.Edges = append(out.Edges, &c)
	}
	return out
}

func copyRuntime(ri *models.RuntimeInstance, withSnapshot bool) *models.RuntimeInstance {
	c := *ri
	c.Input = copyMap(ri.Input)
	c.Output = copyMap(ri.Output)
	c.GraphSnapshot = nil
	if withSnapshot && ri.GraphSnapshot != nil {
		c.GraphSnapshot = copyGraph(ri.GraphSnapshot)
	}
	return &c
}

// copyMap copies the top level of m; nested values are shared.
func copyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	c := make(map[string]any, len(m))
	for k, v := range m {
		c[k] = v
	}
	return c
}
