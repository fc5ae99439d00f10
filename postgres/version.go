package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/meikuraledutech/workflow"
)

const versionColumns = `id, workflow_id, version, status, dag, created_at`

// CreateVersion inserts v numbered one above the workflow's highest version.
// Two concurrent drafts can race for the same number; the loser retries.
func (s *PGStore) CreateVersion(ctx context.Context, v *workflow.WorkflowVersion) error {
	dag, err := jsonArg(v.Dag)
	if err != nil {
		return fmt.Errorf("workflow: encode dag: %w", err)
	}
	for attempt := 0; ; attempt++ {
		err = s.db.QueryRow(ctx, `
			INSERT INTO workflow_versions (id, workflow_id, version, status, dag, created_at)
			SELECT $1::text, $2::text, COALESCE(MAX(version), 0) + 1, $3::text, $4::jsonb, $5::timestamptz
			FROM workflow_versions WHERE workflow_id = $2::text
			RETURNING version`,
			v.ID, v.WorkflowID, string(v.Status), dag, v.CreatedAt,
		).Scan(&v.Version)
		if err == nil {
			return nil
		}
		if !isUniqueViolation(err) || attempt >= 2 {
			return fmt.Errorf("workflow: insert version: %w", err)
		}
	}
}

// GetVersion fetches a version by id.
func (s *PGStore) GetVersion(ctx context.Context, id string) (*workflow.WorkflowVersion, error) {
	row := s.db.QueryRow(ctx, `SELECT `+versionColumns+` FROM workflow_versions WHERE id = $1`, id)
	v, err := scanVersion(row)
	if err != nil {
		if isNoRows(err) {
			return nil, workflow.ErrVersionNotFound
		}
		return nil, fmt.Errorf("workflow: get version: %w", err)
	}
	return v, nil
}

// UpdateVersion writes the status and dag of an existing version.
func (s *PGStore) UpdateVersion(ctx context.Context, v *workflow.WorkflowVersion) error {
	dag, err := jsonArg(v.Dag)
	if err != nil {
		return fmt.Errorf("workflow: encode dag: %w", err)
	}
	ct, err := s.db.Exec(ctx,
		`UPDATE workflow_versions SET status = $1, dag = $2 WHERE id = $3`,
		string(v.Status), dag, v.ID,
	)
	if err != nil {
		return fmt.Errorf("workflow: update version: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return workflow.ErrVersionNotFound
	}
	return nil
}

// LatestPublished returns the highest PUBLISHED version of workflowID.
func (s *PGStore) LatestPublished(ctx context.Context, workflowID string) (*workflow.WorkflowVersion, error) {
	row := s.db.QueryRow(ctx, `
		SELECT `+versionColumns+` FROM workflow_versions
		WHERE workflow_id = $1 AND status = $2
		ORDER BY version DESC LIMIT 1`,
		workflowID, string(workflow.VersionPublished),
	)
	v, err := scanVersion(row)
	if err != nil {
		if isNoRows(err) {
			return nil, workflow.ErrWorkflowVersionNotFound
		}
		return nil, fmt.Errorf("workflow: latest published: %w", err)
	}
	return v, nil
}

// ListVersions returns all versions of workflowID ordered by version.
// Returns an empty slice (not nil) if none found.
func (s *PGStore) ListVersions(ctx context.Context, workflowID string) ([]workflow.WorkflowVersion, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+versionColumns+` FROM workflow_versions WHERE workflow_id = $1 ORDER BY version`, workflowID)
	if err != nil {
		return nil, fmt.Errorf("workflow: list versions: %w", err)
	}
	defer rows.Close()

	versions := []workflow.WorkflowVersion{}
	for rows.Next() {
		v, err := scanVersion(rows)
		if err != nil {
			return nil, fmt.Errorf("workflow: scan version: %w", err)
		}
		versions = append(versions, *v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("workflow: rows versions: %w", err)
	}
	return versions, nil
}

func scanVersion(row pgx.Row) (*workflow.WorkflowVersion, error) {
	var (
		v      workflow.WorkflowVersion
		status string
		raw    []byte
	)
	if err := row.Scan(&v.ID, &v.WorkflowID, &v.Version, &status, &raw, &v.CreatedAt); err != nil {
		return nil, err
	}
	v.Status = workflow.VersionStatus(status)
	if raw != nil {
		v.Dag = &workflow.Dag{}
		if err := json.Unmarshal(raw, v.Dag); err != nil {
			return nil, err
		}
	}
	return &v, nil
}
