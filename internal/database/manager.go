// Package database coordinates the archive sinks fed by the archiver
// service: PostgreSQL for the durable record and InfluxDB for time series.
// The live work store (redis) is deliberately not managed here; it belongs
// to the dispatch path.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/mineproxy/gmp/internal/database/influx"
	"github.com/mineproxy/gmp/internal/database/postgres"
	"github.com/mineproxy/gmp/internal/messaging"
	"github.com/mineproxy/gmp/internal/work"
	"github.com/mineproxy/gmp/pkg/circuit"
	"github.com/mineproxy/gmp/pkg/errors"
	"github.com/mineproxy/gmp/pkg/log"
	"github.com/mineproxy/gmp/pkg/retry"
)

// Manager owns the archive connections and repositories.
type Manager struct {
	Postgres *postgres.Client
	Influx   *influx.Client

	Dispatches *postgres.DispatchRepository
	Solutions  *postgres.SolutionRepository
	WorkItems  *postgres.WorkItemRepository

	logger         *log.Logger
	circuitBreaker *circuit.Breaker
	retryConfig    *retry.Config
}

// NewManager connects to PostgreSQL and, when influxCfg is non-nil, InfluxDB,
// and ensures the archive schema exists.
func NewManager(postgresURL string, influxCfg *influx.Config, logger *log.Logger) (*Manager, error) {
	pgClient, err := postgres.NewClient(postgresURL)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeStore, "postgres_connection",
			"failed to connect to PostgreSQL archive")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := pgClient.EnsureSchema(ctx); err != nil {
		if closeErr := pgClient.Close(); closeErr != nil {
			logger.WithError(closeErr).Warn("failed to close postgres during cleanup")
		}
		return nil, errors.Wrap(err, errors.ErrorTypeStore, "postgres_schema",
			"failed to ensure archive schema")
	}

	var influxClient *influx.Client
	if influxCfg != nil {
		influxClient, err = influx.NewClient(influxCfg)
		if err != nil {
			if closeErr := pgClient.Close(); closeErr != nil {
				logger.WithError(closeErr).Warn("failed to close postgres during cleanup")
			}
			return nil, errors.Wrap(err, errors.ErrorTypeStore, "influx_connection",
				"failed to connect to InfluxDB")
		}
	}

	cbConfig := &circuit.Config{
		MaxFailures:     3,
		SuccessRequired: 2,
		Timeout:         30 * time.Second,
		ResetTimeout:    60 * time.Second,
	}

	db := pgClient.DB()
	return &Manager{
		Postgres:       pgClient,
		Influx:         influxClient,
		Dispatches:     postgres.NewDispatchRepository(db),
		Solutions:      postgres.NewSolutionRepository(db),
		WorkItems:      postgres.NewWorkItemRepository(db),
		logger:         logger.WithComponent("archive"),
		circuitBreaker: circuit.New(cbConfig),
		retryConfig:    retry.DefaultConfig(),
	}, nil
}

// Close closes all archive connections.
func (m *Manager) Close() error {
	var errs []error

	if err := m.Postgres.Close(); err != nil {
		errs = append(errs, fmt.Errorf("postgres close error: %w", err))
	}
	if m.Influx != nil {
		m.Influx.Close()
	}

	if len(errs) > 0 {
		return fmt.Errorf("archive close errors: %v", errs)
	}
	return nil
}

// Health checks all archive connections.
func (m *Manager) Health(ctx context.Context) error {
	if err := m.Postgres.Health(ctx); err != nil {
		return fmt.Errorf("postgres health check failed: %w", err)
	}
	if m.Influx != nil {
		if err := m.Influx.Health(ctx); err != nil {
			return fmt.Errorf("influx health check failed: %w", err)
		}
	}
	return nil
}

// ArchiveDispatch persists one dispatch event. The postgres insert is the
// critical write; the influx point is best effort.
func (m *Manager) ArchiveDispatch(ctx context.Context, ev *messaging.DispatchEvent) error {
	return m.circuitBreaker.Execute(ctx, func() error {
		return retry.Do(ctx, m.retryConfig, func() error {
			row := &postgres.DispatchRow{
				ID:            ev.DispatchID,
				WorkID:        ev.WorkID,
				MinerID:       ev.MinerID,
				DispatchCount: ev.DispatchCount,
				Fee:           ev.Fee,
				DispatchedAt:  ev.DispatchedAt,
				ExpiresAt:     ev.ExpiresAt,
			}
			if err := m.Dispatches.Create(ctx, row); err != nil {
				return errors.Wrap(err, errors.ErrorTypeStore, "archive_dispatch",
					"failed to archive dispatch").
					WithContext("work_id", ev.WorkID).
					WithContext("miner_id", ev.MinerID)
			}

			if err := m.mirrorDispatch(ctx, ev); err != nil {
				m.logger.WithError(err).Warn("failed to mirror work item state", "work_id", ev.WorkID)
			}

			if m.Influx != nil {
				m.Influx.RecordDispatch("dispatched", ev.Fee, 0)
			}
			return nil
		})
	})
}

// mirrorDispatch folds a dispatch event into the work_items mirror. The
// mirror is best effort; dispatch_records remains the durable record.
func (m *Manager) mirrorDispatch(ctx context.Context, ev *messaging.DispatchEvent) error {
	row := &postgres.WorkItemRow{
		ID:            ev.WorkID,
		Fee:           ev.Fee,
		State:         string(work.StateDispatched),
		DispatchCount: ev.DispatchCount,
		CreatedAt:     ev.DispatchedAt,
		ExpiresAt:     ev.ExpiresAt,
	}
	existing, err := m.WorkItems.Get(ctx, ev.WorkID)
	if err != nil {
		existing = nil
	}
	return m.WorkItems.Upsert(ctx, mergeDispatchRow(existing, row))
}

// mergeDispatchRow reconciles an incoming dispatch mirror with what the
// archive already holds. Kafka gives no ordering across topics, so a
// terminal state is never downgraded and the dispatch count never decreases.
func mergeDispatchRow(existing, incoming *postgres.WorkItemRow) *postgres.WorkItemRow {
	if existing == nil {
		return incoming
	}

	incoming.BlockNum = existing.BlockNum
	incoming.Header = existing.Header
	incoming.CreatedAt = existing.CreatedAt

	if work.State(existing.State).Terminal() {
		incoming.State = existing.State
	}
	if existing.DispatchCount > incoming.DispatchCount {
		incoming.DispatchCount = existing.DispatchCount
	}
	return incoming
}

// ArchiveSolution persists one solution event.
func (m *Manager) ArchiveSolution(ctx context.Context, ev *messaging.SolutionEvent) error {
	return m.circuitBreaker.Execute(ctx, func() error {
		return retry.Do(ctx, m.retryConfig, func() error {
			row := &postgres.SolutionRow{
				WorkID:      ev.WorkID,
				MinerID:     ev.MinerID,
				Outcome:     ev.Outcome,
				Reason:      nullable(ev.Reason),
				Fee:         ev.Fee,
				Nonce:       nullable(ev.Nonce),
				SubmittedAt: ev.SubmittedAt,
			}
			if err := m.Solutions.Create(ctx, row); err != nil {
				return errors.Wrap(err, errors.ErrorTypeStore, "archive_solution",
					"failed to archive solution").
					WithContext("work_id", ev.WorkID).
					WithContext("outcome", ev.Outcome)
			}

			if err := m.mirrorSolution(ctx, ev); err != nil {
				m.logger.WithError(err).Warn("failed to mirror work item state", "work_id", ev.WorkID)
			}
			m.auditSolution(ctx, ev)

			if m.Influx != nil {
				m.Influx.RecordSubmission(ev.Outcome, ev.Reason, ev.Fee)
			}
			return nil
		})
	})
}

// mirrorSolution settles the work_items mirror with the terminal outcome.
func (m *Manager) mirrorSolution(ctx context.Context, ev *messaging.SolutionEvent) error {
	row := &postgres.WorkItemRow{
		ID:        ev.WorkID,
		Fee:       ev.Fee,
		State:     ev.Outcome,
		CreatedAt: ev.SubmittedAt,
		ExpiresAt: ev.SubmittedAt,
	}
	existing, err := m.WorkItems.Get(ctx, ev.WorkID)
	if err != nil {
		existing = nil
	}
	return m.WorkItems.Upsert(ctx, mergeSolutionRow(existing, row))
}

// mergeSolutionRow carries the dispatch-side columns forward; the outcome
// only settles the state.
func mergeSolutionRow(existing, incoming *postgres.WorkItemRow) *postgres.WorkItemRow {
	if existing == nil {
		return incoming
	}

	incoming.BlockNum = existing.BlockNum
	incoming.Header = existing.Header
	incoming.CreatedAt = existing.CreatedAt
	incoming.ExpiresAt = existing.ExpiresAt
	incoming.DispatchCount = existing.DispatchCount
	return incoming
}

// auditSolution flags accepted solutions that have no archived dispatch.
// Those indicate event loss upstream of payout reconciliation.
func (m *Manager) auditSolution(ctx context.Context, ev *messaging.SolutionEvent) {
	if ev.Outcome != string(work.OutcomeAccepted) {
		return
	}

	dispatches, err := m.Dispatches.ByWork(ctx, ev.WorkID)
	if err != nil {
		m.logger.WithError(err).Warn("failed to load dispatch history", "work_id", ev.WorkID)
		return
	}
	if len(dispatches) == 0 {
		m.logger.Warn("accepted solution has no archived dispatch",
			"work_id", ev.WorkID, "miner_id", ev.MinerID)
	}
}

// reconcileInterval is the payout reconciliation window.
const reconcileInterval = 5 * time.Minute

// StartPeriodicTasks flushes buffered influx points and logs a payout
// reconciliation summary in the background.
func (m *Manager) StartPeriodicTasks(ctx context.Context) {
	go func() {
		flush := time.NewTicker(10 * time.Second)
		defer flush.Stop()
		reconcile := time.NewTicker(reconcileInterval)
		defer reconcile.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-flush.C:
				if m.Influx != nil {
					m.Influx.Flush()
				}
			case <-reconcile.C:
				m.logReconciliation(ctx)
			}
		}
	}()
}

// logReconciliation summarizes the accepted fees owed per miner over the
// last window. Accepted solutions are the payout signal; this summary is
// what operators cross-check payouts against.
func (m *Manager) logReconciliation(ctx context.Context) {
	totals, err := m.Solutions.AcceptedSince(ctx, time.Now().Add(-reconcileInterval))
	if err != nil {
		m.logger.WithError(err).Warn("payout reconciliation query failed")
		return
	}

	var fees float64
	for _, total := range totals {
		fees += total
	}
	fields := []any{"miners", len(totals), "accepted_fees", fees}

	if m.Influx != nil {
		rate, err := m.Influx.AcceptanceRate(ctx, reconcileInterval)
		if err != nil {
			m.logger.WithError(err).Warn("acceptance rate query failed")
		} else {
			fields = append(fields, "acceptance_rate", rate)
		}
	}

	m.logger.Info("payout reconciliation window", fields...)
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
