package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// DispatchRepository archives dispatch events.
type DispatchRepository struct {
	db *sql.DB
}

// NewDispatchRepository creates a new dispatch repository
func NewDispatchRepository(db *sql.DB) *DispatchRepository {
	return &DispatchRepository{db: db}
}

// Create inserts one dispatch record. Replayed events are ignored via the
// primary key so the archiver can reprocess a Kafka partition safely.
func (r *DispatchRepository) Create(ctx context.Context, row *DispatchRow) error {
	query := `
		INSERT INTO dispatch_records (id, work_id, miner_id, dispatch_count, fee, dispatched_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO NOTHING`

	_, err := r.db.ExecContext(ctx, query,
		row.ID, row.WorkID, row.MinerID, row.DispatchCount,
		row.Fee, row.DispatchedAt, row.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("failed to archive dispatch: %w", err)
	}
	return nil
}

// ByWork retrieves the dispatch history of one work item, oldest first.
func (r *DispatchRepository) ByWork(ctx context.Context, workID string) ([]*DispatchRow, error) {
	query := `
		SELECT id, work_id, miner_id, dispatch_count, fee, dispatched_at, expires_at
		FROM dispatch_records
		WHERE work_id = $1
		ORDER BY dispatched_at ASC`

	rows, err := r.db.QueryContext(ctx, query, workID)
	if err != nil {
		return nil, fmt.Errorf("failed to query dispatches: %w", err)
	}
	defer rows.Close()

	var result []*DispatchRow
	for rows.Next() {
		row := &DispatchRow{}
		if err := rows.Scan(
			&row.ID, &row.WorkID, &row.MinerID, &row.DispatchCount,
			&row.Fee, &row.DispatchedAt, &row.ExpiresAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan dispatch: %w", err)
		}
		result = append(result, row)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating dispatches: %w", err)
	}
	return result, nil
}

// SolutionRepository archives submission outcomes.
type SolutionRepository struct {
	db *sql.DB
}

// NewSolutionRepository creates a new solution repository
func NewSolutionRepository(db *sql.DB) *SolutionRepository {
	return &SolutionRepository{db: db}
}

// Create inserts one solution record.
func (r *SolutionRepository) Create(ctx context.Context, row *SolutionRow) error {
	query := `
		INSERT INTO solutions (work_id, miner_id, outcome, reason, fee, nonce, submitted_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id`

	err := r.db.QueryRowContext(ctx, query,
		row.WorkID, row.MinerID, row.Outcome, row.Reason,
		row.Fee, row.Nonce, row.SubmittedAt,
	).Scan(&row.ID)
	if err != nil {
		return fmt.Errorf("failed to archive solution: %w", err)
	}
	return nil
}

// AcceptedSince sums accepted fees per miner since the cutoff. Payout
// reconciliation reads this view; accepted outcomes are the payout signal.
func (r *SolutionRepository) AcceptedSince(ctx context.Context, since time.Time) (map[string]float64, error) {
	query := `
		SELECT miner_id, COALESCE(SUM(fee), 0)
		FROM solutions
		WHERE outcome = 'accepted' AND submitted_at >= $1
		GROUP BY miner_id`

	rows, err := r.db.QueryContext(ctx, query, since)
	if err != nil {
		return nil, fmt.Errorf("failed to query accepted solutions: %w", err)
	}
	defer rows.Close()

	totals := make(map[string]float64)
	for rows.Next() {
		var minerID string
		var total float64
		if err := rows.Scan(&minerID, &total); err != nil {
			return nil, fmt.Errorf("failed to scan accepted total: %w", err)
		}
		totals[minerID] = total
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating accepted totals: %w", err)
	}
	return totals, nil
}

// WorkItemRepository mirrors work item state into the archive.
type WorkItemRepository struct {
	db *sql.DB
}

// NewWorkItemRepository creates a new work item repository
func NewWorkItemRepository(db *sql.DB) *WorkItemRepository {
	return &WorkItemRepository{db: db}
}

// Upsert records the latest observed state of a work item.
func (r *WorkItemRepository) Upsert(ctx context.Context, row *WorkItemRow) error {
	query := `
		INSERT INTO work_items (id, block_num, header, fee, state, dispatch_count, created_at, expires_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			state = EXCLUDED.state,
			dispatch_count = EXCLUDED.dispatch_count,
			expires_at = EXCLUDED.expires_at,
			updated_at = EXCLUDED.updated_at`

	_, err := r.db.ExecContext(ctx, query,
		row.ID, row.BlockNum, row.Header, row.Fee, row.State,
		row.DispatchCount, row.CreatedAt, row.ExpiresAt, time.Now(),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert work item: %w", err)
	}
	return nil
}

// Get retrieves one archived work item.
func (r *WorkItemRepository) Get(ctx context.Context, id string) (*WorkItemRow, error) {
	query := `
		SELECT id, block_num, header, fee, state, dispatch_count, created_at, expires_at, updated_at
		FROM work_items WHERE id = $1`

	row := &WorkItemRow{}
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&row.ID, &row.BlockNum, &row.Header, &row.Fee, &row.State,
		&row.DispatchCount, &row.CreatedAt, &row.ExpiresAt, &row.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("work item not found")
		}
		return nil, fmt.Errorf("failed to get work item: %w", err)
	}
	return row, nil
}
