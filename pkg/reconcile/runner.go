package reconcile

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/ekaya-inc/crm-reconciler/pkg/apperrors"
	"github.com/ekaya-inc/crm-reconciler/pkg/config"
	"github.com/ekaya-inc/crm-reconciler/pkg/database"
	"github.com/ekaya-inc/crm-reconciler/pkg/metrics"
	"github.com/ekaya-inc/crm-reconciler/pkg/schema"
)

// TxBeginner is satisfied by *pgxpool.Pool and *database.DB.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error)
}

// Runner reconciles stores in order, one transaction per store.
// At most one run is expected in flight; no lock across runs is taken.
type Runner struct {
	db       TxBeginner
	stores   []*Store
	notifier *Notifier
	logger   *zap.Logger
}

// NewRunner creates a runner for stores, reconciled in the given order.
func NewRunner(db TxBeginner, stores []*Store, notifier *Notifier, logger *zap.Logger) *Runner {
	return &Runner{
		db:       db,
		stores:   stores,
		notifier: notifier,
		logger:   logger,
	}
}

// Stores returns the role store followed by the lead store.
func Stores(cfg *config.Config) []*Store {
	return []*Store{
		RoleStore(cfg.Identity, cfg.Roles.AdminEmails),
		LeadStore(cfg.Identity),
	}
}

// Run reconciles every store. The first failure rolls back that store's
// transaction and stops the run; stores already committed stay committed.
func (r *Runner) Run(ctx context.Context) error {
	start := time.Now()
	defer func() {
		metrics.ReconcileDuration.Observe(time.Since(start).Seconds())
	}()

	for _, store := range r.stores {
		err := pgx.BeginFunc(ctx, r.db, func(tx pgx.Tx) error {
			return r.reconcileStore(ctx, tx, store)
		})
		if err != nil {
			metrics.ReconcileRuns.WithLabelValues(metrics.ResultFailure).Inc()
			r.logger.Error("Reconciliation failed",
				zap.String("store", store.Name),
				zap.Error(err))
			return fmt.Errorf("failed to reconcile %s store: %w", store.Name, err)
		}
	}

	metrics.ReconcileRuns.WithLabelValues(metrics.ResultSuccess).Inc()
	r.logger.Info("Reconciled all stores", zap.Duration("duration", time.Since(start)))
	r.notifier.Complete()
	return nil
}

// Plan inspects every store inside a read-only transaction that is rolled back,
// and returns the plans a run would apply.
func (r *Runner) Plan(ctx context.Context) ([]*schema.Plan, error) {
	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{AccessMode: pgx.ReadOnly})
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var plans []*schema.Plan
	for _, store := range r.stores {
		for _, t := range store.Tables {
			plan, err := planTable(ctx, tx, store, t)
			if err != nil {
				return nil, err
			}
			plans = append(plans, plan)
		}
	}
	return plans, nil
}

func (r *Runner) reconcileStore(ctx context.Context, tx pgx.Tx, store *Store) error {
	r.notifier.Noticef("Reconciling %s store", store.Name)

	for _, t := range store.Tables {
		if err := schema.Lock(ctx, tx, t); err != nil {
			return err
		}

		plan, err := planTable(ctx, tx, store, t)
		if err != nil {
			return err
		}

		for _, v := range plan.Violations {
			r.notifier.Noticef("%s: %d rows with %s null or outside its domain", v.Table, v.Count, v.Column)
		}

		if err := Apply(ctx, tx, plan, r.notifier); err != nil {
			return err
		}
	}
	return nil
}

// planTable observes t, diffs it and merges the store's data sync steps.
func planTable(ctx context.Context, q database.Querier, store *Store, t *schema.Table) (*schema.Plan, error) {
	observed, err := schema.Inspect(ctx, q, t)
	if err != nil {
		return nil, err
	}

	plan := schema.Diff(t, observed)
	if sync := store.Sync[t.Name]; sync != nil {
		steps, err := sync(ctx, q, t, observed)
		if err != nil {
			return nil, err
		}
		plan.Add(steps...)
		plan.Sort()
	}
	return plan, nil
}

// Apply executes plan steps in order and stops at the first failure.
// Callers run it inside a transaction so a failure leaves nothing half-applied.
func Apply(ctx context.Context, q database.Querier, plan *schema.Plan, notifier *Notifier) error {
	for _, step := range plan.Steps {
		tag, err := q.Exec(ctx, step.SQL, step.Args...)
		if err != nil {
			return classifyStepError(step, err)
		}

		if step.Column != "" {
			repaired := tag.RowsAffected()
			metrics.RowsRepaired.WithLabelValues(plan.Table, step.Column).Add(float64(repaired))
			notifier.Noticef("%s: rewrote %d rows of %s to their default", plan.Table, repaired, step.Column)
			continue
		}
		notifier.Noticef("%s: %s", plan.Table, step.Description)
	}
	return nil
}

// classifyStepError maps engine failures onto the error taxonomy.
// The engine's own message is kept in the chain.
func classifyStepError(step schema.Step, err error) error {
	switch {
	case step.Phase == schema.PhaseConstrain && (database.IsCheckViolation(err) || database.IsNotNullViolation(err)):
		return fmt.Errorf("%s: %w: %w", step.Description, apperrors.ErrConstraintInstall, err)
	case database.IsInsufficientPrivilege(err):
		return fmt.Errorf("%s: %w: %w", step.Description, apperrors.ErrInsufficientPrivilege, err)
	default:
		return fmt.Errorf("%s: %w", step.Description, err)
	}
}
