package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bbenst/langchain4j-aideepin-sub001/internal/workflow"
	"github.com/bbenst/langchain4j-aideepin-sub001/pkg/models"
)

// PostgresStore is a PostgreSQL implementation of the Repository interface.
type PostgresStore struct {
	db *pgxpool.Pool
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

var _ Repository = (*PostgresStore)(nil)

// Ping checks database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

const workflowColumns = "id, uuid, user_id, version, title, remark, is_public, is_enable, created_at, updated_at"

const nodeColumns = "id, uuid, workflow_id, kind, title, remark, input_config, node_config, position_x, position_y, created_at, updated_at"

const edgeColumns = "id, uuid, workflow_id, source_node_uuid, source_handle, target_node_uuid, created_at, updated_at"

const runtimeColumns = "id, uuid, user_id, workflow_uuid, input, output, status, status_remark, error_kind, waiting_node_uuid, created_at, updated_at"

// GetUserByEmail retrieves a user by email.
func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	var user models.User
	err := s.db.QueryRow(ctx, "SELECT id, uuid, email, name, created_at, updated_at FROM users WHERE email = $1", email).
		Scan(&user.ID, &user.UUID, &user.Email, &user.Name, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		return nil, notFound(err, "user %s", email)
	}
	return &user, nil
}

// CreateUser inserts a user.
func (s *PostgresStore) CreateUser(ctx context.Context, user *models.User) error {
	if user.UUID == "" {
		user.UUID = uuid.NewString()
	}
	return s.db.QueryRow(ctx,
		"INSERT INTO users (uuid, email, name) VALUES ($1, $2, $3) RETURNING id, created_at, updated_at",
		user.UUID, user.Email, user.Name,
	).Scan(&user.ID, &user.CreatedAt, &user.UpdatedAt)
}

// CreateWorkflow inserts a workflow and its initial graph in one transaction.
func (s *PostgresStore) CreateWorkflow(ctx context.Context, wf *models.Workflow, graph *models.Graph) error {
	if wf.UUID == "" {
		wf.UUID = uuid.NewString()
	}
	wf.Version = 1
	return pgx.BeginFunc(ctx, s.db, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx,
			`INSERT INTO workflows (uuid, user_id, version, title, remark, is_public, is_enable)
			 VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING id, created_at, updated_at`,
			wf.UUID, wf.UserID, wf.Version, wf.Title, wf.Remark, wf.IsPublic, wf.IsEnable,
		).Scan(&wf.ID, &wf.CreatedAt, &wf.UpdatedAt)
		if err != nil {
			return err
		}
		if graph == nil {
			return nil
		}
		for _, n := range graph.Nodes {
			if err := upsertNode(ctx, tx, wf.ID, n); err != nil {
				return err
			}
		}
		for _, e := range graph.Edges {
			if err := upsertEdge(ctx, tx, wf.ID, e); err != nil {
				return err
			}
		}
		return nil
	})
}

// GetWorkflow retrieves a non-deleted workflow by UUID.
func (s *PostgresStore) GetWorkflow(ctx context.Context, id string) (*models.Workflow, error) {
	row := s.db.QueryRow(ctx, "SELECT "+workflowColumns+" FROM workflows WHERE uuid = $1 AND NOT is_deleted", id)
	wf, err := scanWorkflow(row)
	if err != nil {
		return nil, notFound(err, "workflow %s", id)
	}
	return wf, nil
}

// SetWorkflowEnabled toggles the enabled flag.
func (s *PostgresStore) SetWorkflowEnabled(ctx context.Context, id string, enabled bool) error {
	return s.updateWorkflow(ctx, id, "is_enable = $2", enabled)
}

// SetWorkflowPublic toggles the public flag.
func (s *PostgresStore) SetWorkflowPublic(ctx context.Context, id string, public bool) error {
	return s.updateWorkflow(ctx, id, "is_public = $2", public)
}

// SoftDeleteWorkflow marks a workflow deleted.
func (s *PostgresStore) SoftDeleteWorkflow(ctx context.Context, id string) error {
	return s.updateWorkflow(ctx, id, "is_deleted = true")
}

func (s *PostgresStore) updateWorkflow(ctx context.Context, id, set string, args ...any) error {
	tag, err := s.db.Exec(ctx,
		"UPDATE workflows SET "+set+", updated_at = now() WHERE uuid = $1 AND NOT is_deleted",
		append([]any{id}, args...)...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return workflow.Errorf(workflow.KindNotFound, "workflow %s", id)
	}
	return nil
}

// SearchWorkflows pages through non-deleted workflows matching the search.
func (s *PostgresStore) SearchWorkflows(ctx context.Context, search models.WorkflowSearch) (*models.Page[models.Workflow], error) {
	where := []string{"NOT is_deleted"}
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if search.Keyword != "" {
		where = append(where, "title ILIKE "+arg("%"+search.Keyword+"%"))
	}
	switch {
	case search.IsPublic != nil && *search.IsPublic:
		where = append(where, "is_public")
	case search.IsPublic != nil:
		where = append(where, "NOT is_public", "user_id = "+arg(search.UserID))
	default:
		where = append(where, "user_id = "+arg(search.UserID))
	}
	cond := strings.Join(where, " AND ")

	var total int
	if err := s.db.QueryRow(ctx, "SELECT count(*) FROM workflows WHERE "+cond, args...).Scan(&total); err != nil {
		return nil, err
	}

	page := search.PageRequest.Normalize()
	query := fmt.Sprintf("SELECT %s FROM workflows WHERE %s ORDER BY updated_at DESC, id DESC LIMIT %s OFFSET %s",
		workflowColumns, cond, arg(page.PageSize), arg(page.Offset()))
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []*models.Workflow
	for rows.Next() {
		wf, err := scanWorkflow(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, wf)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return models.NewPage(records, total, page), nil
}

// LoadGraph returns the nodes and edges of a workflow in insertion order.
func (s *PostgresStore) LoadGraph(ctx context.Context, workflowUUID string) (*models.Graph, error) {
	var workflowID int64
	err := s.db.QueryRow(ctx, "SELECT id FROM workflows WHERE uuid = $1 AND NOT is_deleted", workflowUUID).Scan(&workflowID)
	if err != nil {
		return nil, notFound(err, "workflow %s", workflowUUID)
	}
	return loadGraph(ctx, s.db, workflowID)
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func loadGraph(ctx context.Context, q querier, workflowID int64) (*models.Graph, error) {
	graph := &models.Graph{Nodes: []*models.Node{}, Edges: []*models.Edge{}}

	rows, err := q.Query(ctx, "SELECT "+nodeColumns+" FROM workflow_nodes WHERE workflow_id = $1 ORDER BY id", workflowID)
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		var n models.Node
		var cfg []byte
		err := rows.Scan(&n.ID, &n.UUID, &n.WorkflowID, &n.Kind, &n.Title, &n.Remark,
			&n.InputConfig, &cfg, &n.PositionX, &n.PositionY, &n.CreatedAt, &n.UpdatedAt)
		if err != nil {
			rows.Close()
			return nil, err
		}
		n.NodeConfig = json.RawMessage(cfg)
		graph.Nodes = append(graph.Nodes, &n)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rows, err = q.Query(ctx, "SELECT "+edgeColumns+" FROM workflow_edges WHERE workflow_id = $1 ORDER BY id", workflowID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var e models.Edge
		err := rows.Scan(&e.ID, &e.UUID, &e.WorkflowID, &e.SourceNodeUUID, &e.SourceHandle, &e.TargetNodeUUID, &e.CreatedAt, &e.UpdatedAt)
		if err != nil {
			return nil, err
		}
		graph.Edges = append(graph.Edges, &e)
	}
	return graph, rows.Err()
}

// ReplaceGraph applies update to the workflow graph in one transaction. The
// workflow row is locked and its version compared to expectedVersion; on
// success the version is bumped.
func (s *PostgresStore) ReplaceGraph(ctx context.Context, workflowUUID string, expectedVersion int, update *models.GraphUpdate) error {
	return pgx.BeginFunc(ctx, s.db, func(tx pgx.Tx) error {
		var workflowID int64
		var version int
		err := tx.QueryRow(ctx, "SELECT id, version FROM workflows WHERE uuid = $1 AND NOT is_deleted FOR UPDATE", workflowUUID).
			Scan(&workflowID, &version)
		if err != nil {
			return notFound(err, "workflow %s", workflowUUID)
		}
		if version != expectedVersion {
			return workflow.Errorf(workflow.KindConflict, "workflow %s is at version %d, not %d", workflowUUID, version, expectedVersion)
		}

		if len(update.DeletedEdgeUUIDs) > 0 {
			if _, err := tx.Exec(ctx, "DELETE FROM workflow_edges WHERE workflow_id = $1 AND uuid = ANY($2)", workflowID, update.DeletedEdgeUUIDs); err != nil {
				return err
			}
		}
		if len(update.DeletedNodeUUIDs) > 0 {
			if _, err := tx.Exec(ctx,
				"DELETE FROM workflow_edges WHERE workflow_id = $1 AND (source_node_uuid = ANY($2) OR target_node_uuid = ANY($2))",
				workflowID, update.DeletedNodeUUIDs); err != nil {
				return err
			}
			if _, err := tx.Exec(ctx, "DELETE FROM workflow_nodes WHERE workflow_id = $1 AND uuid = ANY($2)", workflowID, update.DeletedNodeUUIDs); err != nil {
				return err
			}
		}
		for _, n := range update.Nodes {
			if err := upsertNode(ctx, tx, workflowID, n); err != nil {
				return err
			}
		}
		for _, e := range update.Edges {
			if err := upsertEdge(ctx, tx, workflowID, e); err != nil {
				return err
			}
		}

		if update.Info != nil {
			_, err = tx.Exec(ctx,
				"UPDATE workflows SET version = version + 1, title = $2, remark = $3, updated_at = now() WHERE id = $1",
				workflowID, update.Info.Title, update.Info.Remark)
			return err
		}
		_, err = tx.Exec(ctx, "UPDATE workflows SET version = version + 1, updated_at = now() WHERE id = $1", workflowID)
		return err
	})
}

func upsertNode(ctx context.Context, tx pgx.Tx, workflowID int64, n *models.Node) error {
	cfg := n.NodeConfig
	if len(cfg) == 0 {
		cfg = json.RawMessage("{}")
	}
	if n.InputConfig.Slots == nil {
		n.InputConfig.Slots = []models.InputSlot{}
	}
	n.WorkflowID = workflowID
	return tx.QueryRow(ctx,
		`INSERT INTO workflow_nodes (uuid, workflow_id, kind, title, remark, input_config, node_config, position_x, position_y)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 ON CONFLICT (workflow_id, uuid) DO UPDATE SET
		   kind = EXCLUDED.kind, title = EXCLUDED.title, remark = EXCLUDED.remark,
		   input_config = EXCLUDED.input_config, node_config = EXCLUDED.node_config,
		   position_x = EXCLUDED.position_x, position_y = EXCLUDED.position_y, updated_at = now()
		 RETURNING id, created_at, updated_at`,
		n.UUID, workflowID, n.Kind, n.Title, n.Remark, n.InputConfig, string(cfg), n.PositionX, n.PositionY,
	).Scan(&n.ID, &n.CreatedAt, &n.UpdatedAt)
}

func upsertEdge(ctx context.Context, tx pgx.Tx, workflowID int64, e *models.Edge) error {
	e.WorkflowID = workflowID
	return tx.QueryRow(ctx,
		`INSERT INTO workflow_edges (uuid, workflow_id, source_node_uuid, source_handle, target_node_uuid)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (workflow_id, uuid) DO UPDATE SET
		   source_node_uuid = EXCLUDED.source_node_uuid, source_handle = EXCLUDED.source_handle,
		   target_node_uuid = EXCLUDED.target_node_uuid, updated_at = now()
		 RETURNING id, created_at, updated_at`,
		e.UUID, workflowID, e.SourceNodeUUID, e.SourceHandle, e.TargetNodeUUID,
	).Scan(&e.ID, &e.CreatedAt, &e.UpdatedAt)
}

// CreateRuntimeInstance inserts a new runtime instance with its graph snapshot.
func (s *PostgresStore) CreateRuntimeInstance(ctx context.Context, ri *models.RuntimeInstance) error {
	if ri.UUID == "" {
		ri.UUID = uuid.NewString()
	}
	if ri.Input == nil {
		ri.Input = map[string]any{}
	}
	snapshot, err := json.Marshal(ri.GraphSnapshot)
	if err != nil {
		return err
	}
	return s.db.QueryRow(ctx,
		`INSERT INTO workflow_runtimes (uuid, user_id, workflow_uuid, input, status, status_remark, graph_snapshot)
		 VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING id, created_at, updated_at`,
		ri.UUID, ri.UserID, ri.WorkflowUUID, ri.Input, string(ri.Status), ri.StatusRemark, string(snapshot),
	).Scan(&ri.ID, &ri.CreatedAt, &ri.UpdatedAt)
}

// GetRuntimeInstance retrieves a non-deleted runtime instance, snapshot included.
func (s *PostgresStore) GetRuntimeInstance(ctx context.Context, id string) (*models.RuntimeInstance, error) {
	var snapshot []byte
	row := s.db.QueryRow(ctx, "SELECT "+runtimeColumns+", graph_snapshot FROM workflow_runtimes WHERE uuid = $1 AND NOT is_deleted", id)
	ri, err := scanRuntime(row, &snapshot)
	if err != nil {
		return nil, notFound(err, "runtime %s", id)
	}
	if len(snapshot) > 0 {
		ri.GraphSnapshot = &models.Graph{}
		if err := json.Unmarshal(snapshot, ri.GraphSnapshot); err != nil {
			return nil, fmt.Errorf("decode graph snapshot of %s: %w", id, err)
		}
	}
	return ri, nil
}

// TransitionRuntimeInstance conditionally moves an instance out of status from.
func (s *PostgresStore) TransitionRuntimeInstance(ctx context.Context, id string, from models.RuntimeStatus, t models.RuntimeTransition) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE workflow_runtimes
		 SET status = $3, status_remark = $4, error_kind = $5, output = $6, waiting_node_uuid = $7, updated_at = now()
		 WHERE uuid = $1 AND status = $2 AND NOT is_deleted`,
		id, string(from), string(t.To), t.StatusRemark, t.ErrorKind, t.Output, t.WaitingNodeUUID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	if _, err := s.GetRuntimeInstance(ctx, id); err != nil {
		return err
	}
	return workflow.Errorf(workflow.KindConflict, "runtime %s is not %s", id, from)
}

// ListRuntimeInstances pages through a user's runs of a workflow, newest first.
// The graph snapshot is not loaded.
func (s *PostgresStore) ListRuntimeInstances(ctx context.Context, workflowUUID string, userID int64, page models.PageRequest) (*models.Page[models.RuntimeInstance], error) {
	page = page.Normalize()

	var total int
	err := s.db.QueryRow(ctx,
		"SELECT count(*) FROM workflow_runtimes WHERE workflow_uuid = $1 AND user_id = $2 AND NOT is_deleted",
		workflowUUID, userID).Scan(&total)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.Query(ctx,
		"SELECT "+runtimeColumns+" FROM workflow_runtimes WHERE workflow_uuid = $1 AND user_id = $2 AND NOT is_deleted ORDER BY id DESC LIMIT $3 OFFSET $4",
		workflowUUID, userID, page.PageSize, page.Offset())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []*models.RuntimeInstance
	for rows.Next() {
		ri, err := scanRuntime(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, ri)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return models.NewPage(records, total, page), nil
}

// SoftDeleteRuntimeInstance marks one runtime instance deleted.
func (s *PostgresStore) SoftDeleteRuntimeInstance(ctx context.Context, id string) error {
	tag, err := s.db.Exec(ctx, "UPDATE workflow_runtimes SET is_deleted = true, updated_at = now() WHERE uuid = $1 AND NOT is_deleted", id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return workflow.Errorf(workflow.KindNotFound, "runtime %s", id)
	}
	return nil
}

// ClearRuntimeInstances marks every run of a workflow by a user deleted.
func (s *PostgresStore) ClearRuntimeInstances(ctx context.Context, workflowUUID string, userID int64) (int64, error) {
	tag, err := s.db.Exec(ctx,
		"UPDATE workflow_runtimes SET is_deleted = true, updated_at = now() WHERE workflow_uuid = $1 AND user_id = $2 AND NOT is_deleted",
		workflowUUID, userID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// SaveRuntimeNode inserts a terminal node record for a runtime instance.
func (s *PostgresStore) SaveRuntimeNode(ctx context.Context, runtimeUUID string, rn *models.RuntimeNode) error {
	if rn.UUID == "" {
		rn.UUID = uuid.NewString()
	}
	if rn.Input == nil {
		rn.Input = map[string]any{}
	}
	err := s.db.QueryRow(ctx,
		`INSERT INTO workflow_runtime_nodes
		   (uuid, runtime_id, node_uuid, node_title, kind, input, output, selected_handle, status, status_remark, error_kind)
		 SELECT $2, r.id, $3, $4, $5, $6, $7, $8, $9, $10, $11 FROM workflow_runtimes r WHERE r.uuid = $1
		 RETURNING id, runtime_id, created_at`,
		runtimeUUID, rn.UUID, rn.NodeUUID, rn.NodeTitle, rn.Kind, rn.Input, rn.Output,
		rn.SelectedHandle, string(rn.Status), rn.StatusRemark, rn.ErrorKind,
	).Scan(&rn.ID, &rn.RuntimeInstanceID, &rn.CreatedAt)
	if err != nil {
		return notFound(err, "runtime %s", runtimeUUID)
	}
	return nil
}

// ListRuntimeNodes returns the node records of a runtime instance in write order.
func (s *PostgresStore) ListRuntimeNodes(ctx context.Context, runtimeUUID string) ([]*models.RuntimeNode, error) {
	rows, err := s.db.Query(ctx,
		`SELECT n.id, n.uuid, n.runtime_id, n.node_uuid, n.node_title, n.kind, n.input, n.output,
		        n.selected_handle, n.status, n.status_remark, n.error_kind, n.created_at
		 FROM workflow_runtime_nodes n JOIN workflow_runtimes r ON r.id = n.runtime_id
		 WHERE r.uuid = $1 ORDER BY n.id`, runtimeUUID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	nodes := []*models.RuntimeNode{}
	for rows.Next() {
		var rn models.RuntimeNode
		var status string
		err := rows.Scan(&rn.ID, &rn.UUID, &rn.RuntimeInstanceID, &rn.NodeUUID, &rn.NodeTitle, &rn.Kind,
			&rn.Input, &rn.Output, &rn.SelectedHandle, &status, &rn.StatusRemark, &rn.ErrorKind, &rn.CreatedAt)
		if err != nil {
			return nil, err
		}
		rn.Status = models.NodeStatus(status)
		nodes = append(nodes, &rn)
	}
	return nodes, rows.Err()
}

func scanWorkflow(row pgx.Row) (*models.Workflow, error) {
	var wf models.Workflow
	err := row.Scan(&wf.ID, &wf.UUID, &wf.UserID, &wf.Version, &wf.Title, &wf.Remark,
		&wf.IsPublic, &wf.IsEnable, &wf.CreatedAt, &wf.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &wf, nil
}

func scanRuntime(row pgx.Row, extra ...any) (*models.RuntimeInstance, error) {
	var ri models.RuntimeInstance
	var status string
	dest := append([]any{&ri.ID, &ri.UUID, &ri.UserID, &ri.WorkflowUUID, &ri.Input, &ri.Output,
		&status, &ri.StatusRemark, &ri.ErrorKind, &ri.WaitingNodeUUID, &ri.CreatedAt, &ri.UpdatedAt}, extra...)
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}
	ri.Status = models.RuntimeStatus(status)
	return &ri, nil
}

// notFound maps pgx.ErrNoRows to a classified not-found error.
func notFound(err error, format string, args ...any) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return workflow.Errorf(workflow.KindNotFound, format, args...)
	}
	return err
}
