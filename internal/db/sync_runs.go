package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/vdavid/mailsync/internal/models"
)

// StartSyncRun records the start of a sync pass.
func StartSyncRun(ctx context.Context, q DBTX, connectionID string, kind models.SyncKind) (*models.SyncRun, error) {
	run := &models.SyncRun{
		ConnectionID: connectionID,
		Kind:         kind,
		Status:       models.SyncStatusRunning,
	}

	err := q.QueryRow(ctx, `
		INSERT INTO sync_runs (connection_id, kind, status)
		VALUES ($1, $2, $3)
		RETURNING id, started_at
	`, connectionID, string(kind), string(run.Status)).Scan(&run.ID, &run.StartedAt)

	if err != nil {
		return nil, fmt.Errorf("failed to start sync run: %w", err)
	}

	return run, nil
}

// FinishSyncRun stores the outcome of a sync pass and sets run.FinishedAt.
func FinishSyncRun(ctx context.Context, q DBTX, run *models.SyncRun) error {
	err := q.QueryRow(ctx, `
		UPDATE sync_runs
		SET status = $2,
			records_fetched = $3,
			records_failed = $4,
			error = $5,
			finished_at = now()
		WHERE id = $1
		RETURNING finished_at
	`, run.ID, string(run.Status), run.RecordsFetched, run.RecordsFailed, run.Error).Scan(&run.FinishedAt)

	if err != nil {
		return fmt.Errorf("failed to finish sync run: %w", err)
	}

	return nil
}

// ListSyncRuns returns the most recent sync runs of a connection, newest first.
func ListSyncRuns(ctx context.Context, q DBTX, connectionID string, limit int) ([]models.SyncRun, error) {
	rows, err := q.Query(ctx, `
		SELECT id, connection_id, kind, status, started_at, finished_at, records_fetched, records_failed, error
		FROM sync_runs
		WHERE connection_id = $1
		ORDER BY started_at DESC
		LIMIT $2
	`, connectionID, limit)

	if err != nil {
		return nil, fmt.Errorf("failed to list sync runs: %w", err)
	}

	runs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.SyncRun, error) {
		var run models.SyncRun
		var kind, status string
		err := row.Scan(
			&run.ID,
			&run.ConnectionID,
			&kind,
			&status,
			&run.StartedAt,
			&run.FinishedAt,
			&run.RecordsFetched,
			&run.RecordsFailed,
			&run.Error,
		)
		run.Kind = models.SyncKind(kind)
		run.Status = models.SyncStatus(status)
		return run, err
	})
	if err != nil {
		return nil, fmt.Errorf("error iterating sync runs: %w", err)
	}

	return runs, nil
}
