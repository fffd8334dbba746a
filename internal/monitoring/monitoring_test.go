package monitoring_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/datapult/datapult/internal/database/testutil"
	"github.com/datapult/datapult/internal/monitoring"
	"github.com/datapult/datapult/internal/monitoring/checks"
)

func TestHealthManagerEvaluate(t *testing.T) {
	manager := monitoring.NewHealthManager()
	manager.RegisterReadiness(monitoring.NewCheck("database", func(ctx context.Context) monitoring.ProbeResult {
		return monitoring.ProbeResult{Status: monitoring.StatusUp}
	}))
	manager.RegisterReadiness(monitoring.NewCheck("cache", func(ctx context.Context) monitoring.ProbeResult {
		return monitoring.ProbeResult{Status: monitoring.StatusDown, Details: "connection refused"}
	}))

	report := manager.EvaluateReadiness(context.Background())
	require.False(t, report.Success)
	require.Equal(t, monitoring.StatusDown, report.Status)
	require.Len(t, report.Checks, 2)
	require.Equal(t, "database", report.Checks[0].Component)
}

func TestHealthManagerDegradedDoesNotMaskDown(t *testing.T) {
	manager := monitoring.NewHealthManager()
	manager.RegisterReadiness(monitoring.NewCheck("a", func(ctx context.Context) monitoring.ProbeResult {
		return monitoring.ProbeResult{Status: monitoring.StatusDown}
	}))
	manager.RegisterReadiness(monitoring.NewCheck("b", func(ctx context.Context) monitoring.ProbeResult {
		return monitoring.ProbeResult{Status: monitoring.StatusDegraded}
	}))

	report := manager.EvaluateReadiness(context.Background())
	require.Equal(t, monitoring.StatusDown, report.Status)
}

func TestHealthManagerEmptyChecksReportUp(t *testing.T) {
	manager := monitoring.NewHealthManager()
	report := manager.EvaluateLiveness(context.Background())
	require.True(t, report.Success)
	require.Equal(t, monitoring.StatusUp, report.Status)
	require.Empty(t, report.Checks)
}

func TestHealthManagerRecoversPanickingProbe(t *testing.T) {
	manager := monitoring.NewHealthManager()
	manager.RegisterReadiness(monitoring.NewCheck("flaky", func(ctx context.Context) monitoring.ProbeResult {
		panic("probe exploded")
	}))

	report := manager.EvaluateReadiness(context.Background())
	require.False(t, report.Success)
	require.Len(t, report.Checks, 1)
	require.Equal(t, "flaky", report.Checks[0].Component)
	require.Equal(t, monitoring.StatusDown, report.Checks[0].Status)
	require.Equal(t, "probe exploded", report.Checks[0].Details)
}

func TestResultFromErrorClassifiesTimeouts(t *testing.T) {
	up := monitoring.ResultFromError("database", nil, time.Millisecond)
	require.Equal(t, monitoring.StatusUp, up.Status)

	degraded := monitoring.ResultFromError("database", context.DeadlineExceeded, time.Millisecond)
	require.Equal(t, monitoring.StatusDegraded, degraded.Status)

	down := monitoring.ResultFromError("database", errors.New("connection refused"), time.Millisecond)
	require.Equal(t, monitoring.StatusDown, down.Status)
}

func TestDatabaseCheck(t *testing.T) {
	db := testutil.MustOpenTestDB(t)

	result := checks.Database(db, 0).Run(context.Background())
	require.Equal(t, monitoring.StatusUp, result.Status)

	missing := checks.Database(nil, 0).Run(context.Background())
	require.Equal(t, monitoring.StatusDown, missing.Status)
}

func TestMaintenanceCheck(t *testing.T) {
	monitoring.ResetMaintenanceState()
	t.Cleanup(monitoring.ResetMaintenanceState)

	monitoring.RecordMaintenanceRun("audit_cleanup", time.Second, nil)
	monitoring.RecordMaintenanceRun("invite_cleanup", time.Second, errors.New("timeout"))

	result := checks.Maintenance(0).Run(context.Background())
	require.Equal(t, monitoring.StatusDown, result.Status)
	require.Contains(t, result.Details, "invite_cleanup")

	snapshot := monitoring.MaintenanceSnapshot()
	require.Len(t, snapshot, 2)
	require.Equal(t, "audit_cleanup", snapshot[0].Job)
	require.Equal(t, "success", snapshot[0].LastStatus)
	require.EqualValues(t, 1, snapshot[1].ConsecutiveFailures)
}

func TestMaintenanceRecoveryResetsFailureStreak(t *testing.T) {
	monitoring.ResetMaintenanceState()
	t.Cleanup(monitoring.ResetMaintenanceState)

	monitoring.RecordMaintenanceRun("audit_cleanup", time.Second, errors.New("boom"))
	monitoring.RecordMaintenanceRun("audit_cleanup", time.Second, nil)

	snapshot := monitoring.MaintenanceSnapshot()
	require.Len(t, snapshot, 1)
	require.Equal(t, "success", snapshot[0].LastStatus)
	require.Zero(t, snapshot[0].ConsecutiveFailures)
	require.EqualValues(t, 2, snapshot[0].TotalRuns)
}
