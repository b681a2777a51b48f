package api

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/policy-billing/billing"
)

func TestCancellationSweep_RunOnce(t *testing.T) {
	ts := newTestServer(t, "2015-03-01")
	ctx := context.Background()
	_, err := ts.handler.Seed(ctx)
	require.NoError(t, err)
	sweep := ts.handler.Sweep

	// WHEN: Sweeping as of today. Policies One and Three left their first
	// installment unpaid past 2015-02-15; Policy Two is paid up.
	result, err := sweep.RunOnce(ctx, billing.Date{})
	require.NoError(t, err)

	// THEN
	assert.Equal(t, "2015-03-01", result.AsOf.String())
	assert.Equal(t, 3, result.Evaluated)
	assert.Len(t, result.Canceled, 2)
	assert.Zero(t, result.Failed)

	two, err := ts.handler.Accounting.GetPolicyByNumber(ctx, "Policy Two")
	require.NoError(t, err)
	assert.Equal(t, billing.StatusActive, two.Status)

	assert.Equal(t, 3.0, testutil.ToFloat64(ts.metrics.SweepEvaluated))
	assert.Equal(t, 2.0, testutil.ToFloat64(ts.metrics.PoliciesCanceledTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(ts.metrics.SweepRunsTotal.WithLabelValues("ok")))

	// AND: A second run skips the canceled policies
	result, err = sweep.RunOnce(ctx, billing.Date{})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Evaluated)
	assert.Empty(t, result.Canceled)
}

func TestCancellationSweep_StopsOnCanceledContext(t *testing.T) {
	ts := newTestServer(t, "2015-03-01")
	_, err := ts.handler.Seed(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = ts.handler.Sweep.RunOnce(ctx, billing.Date{})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1.0, testutil.ToFloat64(ts.metrics.SweepRunsTotal.WithLabelValues("canceled")))
}

func TestCancellationSweep_StartStop(t *testing.T) {
	ts := newTestServer(t, "2015-03-01")
	sweep := ts.handler.Sweep
	sweep.Schedule = "@every 1h"

	require.NoError(t, sweep.Start())
	assert.Error(t, sweep.Start(), "starting twice must fail")
	sweep.Stop()
	sweep.Stop()

	sweep.Schedule = "not a cron spec"
	assert.Error(t, sweep.Start())
}
