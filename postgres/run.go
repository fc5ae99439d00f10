package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/meikuraledutech/workflow"
)

const (
	runColumns = `id, org_id, workflow_id, workflow_version_id, status, input, output, error,
		idempotency_key, created_at, started_at, finished_at`
	nodeColumns = `id, run_id, node_key, type, status, attempts, input, output, error, started_at, finished_at`
)

const upsertRunSQL = `
	INSERT INTO runs (` + runColumns + `)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	ON CONFLICT (id) DO UPDATE SET
		status = EXCLUDED.status,
		output = EXCLUDED.output,
		error = EXCLUDED.error,
		started_at = EXCLUDED.started_at,
		finished_at = EXCLUDED.finished_at`

// seq keeps run_nodes in creation order; updates never change it.
const upsertNodeSQL = `
	INSERT INTO run_nodes (id, run_id, seq, node_key, type, status, attempts, input, output, error, started_at, finished_at)
	VALUES ($1, $2::text, (SELECT COALESCE(MAX(seq), -1) + 1 FROM run_nodes WHERE run_id = $2::text),
		$3, $4, $5, $6, $7, $8, $9, $10, $11)
	ON CONFLICT (id) DO UPDATE SET
		status = EXCLUDED.status,
		attempts = EXCLUDED.attempts,
		input = EXCLUDED.input,
		output = EXCLUDED.output,
		error = EXCLUDED.error,
		started_at = EXCLUDED.started_at,
		finished_at = EXCLUDED.finished_at`

// CreateRun saves a run and all of its nodes in one transaction.
func (s *PGStore) CreateRun(ctx context.Context, run *workflow.Run, nodes []*workflow.RunNode) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("workflow: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	args, err := runArgs(run)
	if err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, upsertRunSQL, args...); err != nil {
		return fmt.Errorf("workflow: insert run: %w", err)
	}

	for _, n := range nodes {
		args, err := nodeArgs(n)
		if err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, upsertNodeSQL, args...); err != nil {
			return fmt.Errorf("workflow: insert run node %s: %w", n.NodeKey, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("workflow: commit: %w", err)
	}
	return nil
}

// GetRun fetches a run by id.
func (s *PGStore) GetRun(ctx context.Context, id string) (*workflow.Run, error) {
	row := s.db.QueryRow(ctx, `SELECT `+runColumns+` FROM runs WHERE id = $1`, id)
	r, err := scanRun(row)
	if err != nil {
		if isNoRows(err) {
			return nil, workflow.ErrRunNotFound
		}
		return nil, fmt.Errorf("workflow: get run: %w", err)
	}
	return r, nil
}

// ListRunNodes returns the nodes of runID in creation order.
func (s *PGStore) ListRunNodes(ctx context.Context, runID string) ([]*workflow.RunNode, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+nodeColumns+` FROM run_nodes WHERE run_id = $1 ORDER BY seq`, runID)
	if err != nil {
		return nil, fmt.Errorf("workflow: list run nodes: %w", err)
	}
	defer rows.Close()

	nodes := []*workflow.RunNode{}
	for rows.Next() {
		n, err := scanNode(rows)
		if err != nil {
			return nil, fmt.Errorf("workflow: scan run node: %w", err)
		}
		nodes = append(nodes, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("workflow: rows run nodes: %w", err)
	}
	if len(nodes) == 0 {
		if _, err := s.GetRun(ctx, runID); err != nil {
			return nil, err
		}
	}
	return nodes, nil
}

// ListActiveRuns returns the ids of QUEUED and RUNNING runs, oldest first.
func (s *PGStore) ListActiveRuns(ctx context.Context) ([]string, error) {
	rows, err := s.db.Query(ctx,
		`SELECT id FROM runs WHERE status IN ($1, $2) ORDER BY created_at`,
		string(workflow.RunQueued), string(workflow.RunRunning))
	if err != nil {
		return nil, fmt.Errorf("workflow: list active runs: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("workflow: rows active runs: %w", err)
	}
	return ids, nil
}

// SaveRun upserts a run snapshot.
func (s *PGStore) SaveRun(ctx context.Context, run *workflow.Run) error {
	args, err := runArgs(run)
	if err != nil {
		return err
	}
	if _, err := s.db.Exec(ctx, upsertRunSQL, args...); err != nil {
		return fmt.Errorf("workflow: save run: %w", err)
	}
	return nil
}

// SaveRunNode upserts a node snapshot.
func (s *PGStore) SaveRunNode(ctx context.Context, node *workflow.RunNode) error {
	args, err := nodeArgs(node)
	if err != nil {
		return err
	}
	if _, err := s.db.Exec(ctx, upsertNodeSQL, args...); err != nil {
		return fmt.Errorf("workflow: save run node: %w", err)
	}
	return nil
}

func runArgs(r *workflow.Run) ([]any, error) {
	input, err := jsonArg(r.Input)
	if err != nil {
		return nil, fmt.Errorf("workflow: encode run input: %w", err)
	}
	output, err := jsonArg(r.Output)
	if err != nil {
		return nil, fmt.Errorf("workflow: encode run output: %w", err)
	}
	rerr, err := jsonArg(r.Error)
	if err != nil {
		return nil, fmt.Errorf("workflow: encode run error: %w", err)
	}
	return []any{
		r.ID, r.OrgID, r.WorkflowID, r.WorkflowVersionID, string(r.Status),
		input, output, rerr, r.IdempotencyKey, r.CreatedAt, r.StartedAt, r.FinishedAt,
	}, nil
}

func nodeArgs(n *workflow.RunNode) ([]any, error) {
	input, err := jsonArg(n.Input)
	if err != nil {
		return nil, fmt.Errorf("workflow: encode node input: %w", err)
	}
	output, err := jsonArg(n.Output)
	if err != nil {
		return nil, fmt.Errorf("workflow: encode node output: %w", err)
	}
	nerr, err := jsonArg(n.Error)
	if err != nil {
		return nil, fmt.Errorf("workflow: encode node error: %w", err)
	}
	return []any{
		n.ID, n.RunID, n.NodeKey, string(n.Type), string(n.Status), n.Attempts,
		input, output, nerr, n.StartedAt, n.FinishedAt,
	}, nil
}

func scanRun(row pgx.Row) (*workflow.Run, error) {
	var (
		r                    workflow.Run
		status               string
		input, output, rawEr []byte
	)
	if err := row.Scan(&r.ID, &r.OrgID, &r.WorkflowID, &r.WorkflowVersionID, &status,
		&input, &output, &rawEr, &r.IdempotencyKey, &r.CreatedAt, &r.StartedAt, &r.FinishedAt); err != nil {
		return nil, err
	}
	r.Status = workflow.RunStatus(status)
	var err error
	if r.Input, err = decodeMap(input); err != nil {
		return nil, err
	}
	if r.Output, err = decodeMap(output); err != nil {
		return nil, err
	}
	if r.Error, err = decodeError(rawEr); err != nil {
		return nil, err
	}
	return &r, nil
}

func scanNode(row pgx.Row) (*workflow.RunNode, error) {
	var (
		n                    workflow.RunNode
		nodeType, status     string
		input, output, rawEr []byte
	)
	if err := row.Scan(&n.ID, &n.RunID, &n.NodeKey, &nodeType, &status, &n.Attempts,
		&input, &output, &rawEr, &n.StartedAt, &n.FinishedAt); err != nil {
		return nil, err
	}
	n.Type = workflow.NodeType(nodeType)
	n.Status = workflow.NodeStatus(status)
	var err error
	if n.Input, err = decodeMap(input); err != nil {
		return nil, err
	}
	if n.Output, err = decodeMap(output); err != nil {
		return nil, err
	}
	if n.Error, err = decodeError(rawEr); err != nil {
		return nil, err
	}
	return &n, nil
}
