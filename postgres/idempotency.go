package postgres

import (
	"context"
	"fmt"
)

// Lookup returns the run recorded for (orgID, key).
func (s *PGStore) Lookup(ctx context.Context, orgID, key string) (string, bool, error) {
	var runID string
	err := s.db.QueryRow(ctx,
		`SELECT run_id FROM run_idempotency WHERE org_id = $1 AND idem_key = $2`, orgID, key,
	).Scan(&runID)
	if err != nil {
		if isNoRows(err) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("workflow: idempotency lookup: %w", err)
	}
	return runID, true, nil
}

// Claim inserts (orgID, key) -> runID unless the key is already held, in which
// case the holder's run id is returned. The primary key makes the insert the
// single point of arbitration between concurrent starts.
func (s *PGStore) Claim(ctx context.Context, orgID, key, runID string) (string, bool, error) {
	ct, err := s.db.Exec(ctx, `
		INSERT INTO run_idempotency (org_id, idem_key, run_id) VALUES ($1, $2, $3)
		ON CONFLICT (org_id, idem_key) DO NOTHING`,
		orgID, key, runID,
	)
	if err != nil {
		return "", false, fmt.Errorf("workflow: idempotency claim: %w", err)
	}
	if ct.RowsAffected() == 1 {
		return runID, true, nil
	}
	winner, found, err := s.Lookup(ctx, orgID, key)
	if err != nil {
		return "", false, err
	}
	if !found {
		return "", false, fmt.Errorf("workflow: idempotency key %q vanished after conflict", key)
	}
	return winner, false, nil
}

// Release deletes the claim on (orgID, key) if runID still holds it.
func (s *PGStore) Release(ctx context.Context, orgID, key, runID string) error {
	_, err := s.db.Exec(ctx,
		`DELETE FROM run_idempotency WHERE org_id = $1 AND idem_key = $2 AND run_id = $3`,
		orgID, key, runID,
	)
	if err != nil {
		return fmt.Errorf("workflow: idempotency release: %w", err)
	}
	return nil
}
