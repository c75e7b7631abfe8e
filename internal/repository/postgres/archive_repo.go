package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/softmech/journeyprobe/internal/domain/probe"
)

var _ probe.ArchiveRepo = (*ArchiveRepoImpl)(nil)

// ArchiveRepoImpl persists terminal runs and their latency records. A run
// and its records land in one transaction.
type ArchiveRepoImpl struct {
	db *DB
	tx Transactor
}

func NewArchiveRepo(db *DB, tx Transactor) *ArchiveRepoImpl {
	return &ArchiveRepoImpl{db: db, tx: tx}
}

const (
	qInsertRun = `
INSERT INTO probe_runs (id, scenario_id, recipient, status, step_index, fail_step, fail_reason, started_at, finished_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9);
`

	qInsertLatency = `
INSERT INTO latency_records (run_id, step_id, dispatched_at, received_at, duration_ms)
VALUES ($1, $2, $3, $4, $5);
`

	qListRuns = `
SELECT id, scenario_id, recipient, status, step_index, fail_step, fail_reason, started_at, finished_at
FROM probe_runs
WHERE scenario_id = $1
ORDER BY started_at DESC
LIMIT $2;
`
)

func (r *ArchiveRepoImpl) ArchiveRun(ctx context.Context, run *probe.Run, recs []probe.LatencyRecord) error {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	return r.tx.WithTx(ctx, func(txCtx context.Context) error {
		eq := r.db.execQueryer(txCtx)
		_, err := eq.Exec(txCtx, qInsertRun,
			run.ID.String(),
			run.ScenarioID,
			run.Recipient,
			string(run.Status),
			run.StepIndex,
			run.FailStep,
			run.FailReason,
			run.StartedAt.UTC(),
			run.FinishedAt.UTC(),
		)
		if err != nil {
			return fmt.Errorf("insert run: %w", err)
		}
		for _, rec := range recs {
			if _, err := eq.Exec(txCtx, qInsertLatency,
				rec.RunID.String(),
				rec.StepID,
				rec.DispatchedAt.UTC(),
				rec.ReceivedAt.UTC(),
				rec.Duration.Milliseconds(),
			); err != nil {
				return fmt.Errorf("insert latency record: %w", err)
			}
		}
		return nil
	})
}

func (r *ArchiveRepoImpl) ListRuns(ctx context.Context, scenarioID string, limit int) ([]*probe.Run, error) {
	if limit <= 0 {
		limit = 50
	}
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	rows, err := r.db.Pool.Query(ctx, qListRuns, scenarioID, limit)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var out []*probe.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	return out, nil
}

func scanRun(row pgx.Row) (*probe.Run, error) {
	var (
		run    probe.Run
		id     string
		status string
	)
	if err := row.Scan(
		&id,
		&run.ScenarioID,
		&run.Recipient,
		&status,
		&run.StepIndex,
		&run.FailStep,
		&run.FailReason,
		&run.StartedAt,
		&run.FinishedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan run: %w", err)
	}
	parsed, err := uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("parse run id: %w", err)
	}
	run.ID = parsed
	run.Status = probe.RunStatus(status)
	return &run, nil
}

// PruneBefore removes archived runs older than cutoff, cascading to their
// latency records.
func (r *ArchiveRepoImpl) PruneBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	cmd, err := r.db.Pool.Exec(ctx, `DELETE FROM probe_runs WHERE finished_at < $1`, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("prune runs: %w", err)
	}
	return cmd.RowsAffected(), nil
}
