/*
scheduler.go - Automated cancellation sweep

PURPOSE:
  Periodically evaluates every active policy and cancels the ones whose
  overdue invoices are still unpaid past their cancel date.

DESIGN:
  - Runs on a cron spec (robfig/cron), default @daily
  - Each run evaluates as of "today" per the Accounting clock
  - One failing policy is logged and counted, the run continues
  - Runs never overlap: a run started while another is in progress waits

USAGE:
  sweep := NewCancellationSweep(acct, metrics, "@daily")
  if err := sweep.Start(); err != nil { ... }
  // ... later
  sweep.Stop()

  // One-off run, e.g. from POST /api/admin/sweep
  result, err := sweep.RunOnce(ctx, billing.Date{})

SEE ALSO:
  - handlers.go: TriggerSweep endpoint (manual run)
  - billing/cancellation.go: The should-cancel rule
*/
package api

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/robfig/cron/v3"
	"github.com/warp/policy-billing/billing"
)

// CancelReasonNonPayment is recorded as status_info on swept policies.
const CancelReasonNonPayment = "canceled for non-payment"

// SweepResult summarizes one run.
type SweepResult struct {
	AsOf      billing.Date
	Evaluated int
	Canceled  []billing.PolicyID
	Failed    int
}

// CancellationSweep cancels delinquent policies on a schedule.
type CancellationSweep struct {
	Accounting *billing.Accounting
	Metrics    *Metrics
	Logger     *slog.Logger
	Schedule   string

	cron  *cron.Cron
	runMu sync.Mutex
	mu    sync.Mutex
}

// NewCancellationSweep creates a sweep. It does nothing until Start.
func NewCancellationSweep(acct *billing.Accounting, metrics *Metrics, schedule string) *CancellationSweep {
	return &CancellationSweep{
		Accounting: acct,
		Metrics:    metrics,
		Logger:     slog.Default(),
		Schedule:   schedule,
	}
}

// Start schedules the sweep.
func (cs *CancellationSweep) Start() error {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	if cs.cron != nil {
		return fmt.Errorf("cancellation sweep already started")
	}

	c := cron.New()
	_, err := c.AddFunc(cs.Schedule, func() {
		if _, err := cs.RunOnce(context.Background(), billing.Date{}); err != nil {
			cs.Logger.Error("cancellation sweep failed", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("failed to schedule cancellation sweep: %w", err)
	}

	c.Start()
	cs.cron = c
	cs.Logger.Info("cancellation sweep started", "schedule", cs.Schedule)
	return nil
}

// Stop stops the scheduler and waits for a running sweep to finish.
func (cs *CancellationSweep) Stop() {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	if cs.cron == nil {
		return
	}
	<-cs.cron.Stop().Done()
	cs.cron = nil
	cs.Logger.Info("cancellation sweep stopped")
}

// RunOnce evaluates every active policy as of asOf (zero means today) and
// cancels those that should cancel.
func (cs *CancellationSweep) RunOnce(ctx context.Context, asOf billing.Date) (SweepResult, error) {
	cs.runMu.Lock()
	defer cs.runMu.Unlock()

	if asOf.IsZero() {
		asOf = cs.Accounting.Today()
	}
	result := SweepResult{AsOf: asOf}

	policies, err := cs.Accounting.ListPolicies(ctx)
	if err != nil {
		cs.Metrics.SweepRunsTotal.WithLabelValues("error").Inc()
		return result, fmt.Errorf("list policies: %w", err)
	}

	for _, p := range policies {
		if p.Status != billing.StatusActive {
			continue
		}
		if err := ctx.Err(); err != nil {
			cs.Metrics.SweepRunsTotal.WithLabelValues("canceled").Inc()
			return result, err
		}
		result.Evaluated++

		decision, err := cs.Accounting.EvaluateCancellation(ctx, p.ID, asOf)
		if err != nil {
			result.Failed++
			cs.Logger.Warn("sweep: evaluation failed", "policy_id", p.ID, "error", err)
			continue
		}
		if !decision.ShouldCancel {
			continue
		}

		if _, err := cs.Accounting.CancelPolicy(ctx, p.ID, asOf, CancelReasonNonPayment); err != nil {
			result.Failed++
			cs.Logger.Warn("sweep: cancel failed", "policy_id", p.ID, "error", err)
			continue
		}
		result.Canceled = append(result.Canceled, p.ID)
	}

	cs.Metrics.SweepEvaluated.Set(float64(result.Evaluated))
	cs.Metrics.SweepRunsTotal.WithLabelValues("ok").Inc()
	cs.Logger.Info("cancellation sweep finished",
		"as_of", asOf.String(),
		"evaluated", result.Evaluated,
		"canceled", len(result.Canceled),
		"failed", result.Failed,
	)
	return result, nil
}
