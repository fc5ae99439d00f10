package postgres

import "context"

const schemaSQL = `
CREATE TABLE IF NOT EXISTS workflow_versions (
    id          TEXT PRIMARY KEY,
    workflow_id TEXT NOT NULL,
    version     INT  NOT NULL,
    status      TEXT NOT NULL,
    dag         JSONB,
    created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    UNIQUE (workflow_id, version)
);

CREATE TABLE IF NOT EXISTS runs (
    id                  TEXT PRIMARY KEY,
    org_id              TEXT NOT NULL,
    workflow_id         TEXT NOT NULL,
    workflow_version_id TEXT NOT NULL REFERENCES workflow_versions(id),
    status              TEXT NOT NULL,
    input               JSONB,
    output              JSONB,
    error               JSONB,
    idempotency_key     TEXT NOT NULL DEFAULT '',
    created_at          TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    started_at          TIMESTAMPTZ,
    finished_at         TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS run_nodes (
    id          TEXT PRIMARY KEY,
    run_id      TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
    seq         INT  NOT NULL,
    node_key    TEXT NOT NULL,
    type        TEXT NOT NULL,
    status      TEXT NOT NULL,
    attempts    INT  NOT NULL DEFAULT 0,
    input       JSONB,
    output      JSONB,
    error       JSONB,
    started_at  TIMESTAMPTZ,
    finished_at TIMESTAMPTZ,
    UNIQUE (run_id, node_key)
);

CREATE TABLE IF NOT EXISTS run_idempotency (
    org_id     TEXT NOT NULL,
    idem_key   TEXT NOT NULL,
    run_id     TEXT NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    PRIMARY KEY (org_id, idem_key)
);

CREATE INDEX IF NOT EXISTS idx_workflow_versions_workflow ON workflow_versions(workflow_id, status);
CREATE INDEX IF NOT EXISTS idx_runs_active ON runs(created_at) WHERE status IN ('QUEUED', 'RUNNING');
CREATE INDEX IF NOT EXISTS idx_run_nodes_run ON run_nodes(run_id, seq);
`

// CreateSchema creates the workflow tables if they don't exist.
func (s *PGStore) CreateSchema(ctx context.Context) error {
	_, err := s.db.Exec(ctx, schemaSQL)
	return err
}

// DropSchema drops every workflow table.
func (s *PGStore) DropSchema(ctx context.Context) error {
	_, err := s.db.Exec(ctx, `DROP TABLE IF EXISTS run_idempotency, run_nodes, runs, workflow_versions CASCADE;`)
	return err
}
