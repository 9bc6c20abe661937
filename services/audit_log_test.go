package services

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"esports-platform/models"
	"esports-platform/store"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testEpoch = time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type auditFixture struct {
	mem     *store.Memory
	clock   *clockwork.FakeClock
	metrics *Metrics
	log     *ComplianceAuditLog
}

func newAuditFixture(t *testing.T) *auditFixture {
	t.Helper()
	mem := store.NewMemory()
	clock := clockwork.NewFakeClockAt(testEpoch)
	metrics := NewMetrics(prometheus.NewRegistry())
	return &auditFixture{
		mem:     mem,
		clock:   clock,
		metrics: metrics,
		log:     NewComplianceAuditLog(mem, mem, mem, clock, discardLogger(), metrics),
	}
}

func violating(types ...models.ViolationType) ComplianceResult {
	vs := make([]models.Violation, 0, len(types))
	for _, typ := range types {
		vs = append(vs, models.Violation{Type: typ, Severity: models.SeverityHigh})
	}
	return newComplianceResult(vs)
}

func TestAuditLogRecord(t *testing.T) {
	f := newAuditFixture(t)
	ctx := context.Background()

	audit, err := f.log.Record(ctx, AuditEntry{
		SubjectID:   "t1",
		SubjectType: models.SubjectTournament,
		CheckType:   models.CheckCreation,
		Result:      violating(models.ViolationExcessiveEntryFee),
	})
	require.NoError(t, err)

	assert.Equal(t, models.AuditedBySystem, audit.AuditedBy)
	assert.False(t, audit.Compliant)
	assert.Equal(t, models.LevelPartial, audit.ComplianceLevel)
	assert.Equal(t, testEpoch, audit.CreatedAt)
	assert.Nil(t, audit.ResolvedAt)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.AuditWrites.WithLabelValues("ok")))

	stored, err := f.mem.GetAudit(ctx, audit.ID)
	require.NoError(t, err)
	assert.Equal(t, audit.Violations, stored.Violations)
}

type failingAuditStore struct {
	*store.Memory
}

func (failingAuditStore) CreateAudit(context.Context, *models.ComplianceAudit) error {
	return errors.New("disk full")
}

func TestAuditLogRecordFailureIsReported(t *testing.T) {
	mem := store.NewMemory()
	metrics := NewMetrics(prometheus.NewRegistry())
	log := NewComplianceAuditLog(failingAuditStore{mem}, mem, mem, clockwork.NewFakeClockAt(testEpoch), discardLogger(), metrics)

	_, err := log.Record(context.Background(), AuditEntry{SubjectID: "t1", Result: newComplianceResult(nil)})

	require.Error(t, err)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.AuditWrites.WithLabelValues("failed")))
}

func TestAuditLogAggregate(t *testing.T) {
	f := newAuditFixture(t)
	ctx := context.Background()

	record := func(result ComplianceResult) {
		_, err := f.log.Record(ctx, AuditEntry{SubjectID: "t", SubjectType: models.SubjectTournament, CheckType: models.CheckScheduled, Result: result})
		require.NoError(t, err)
	}

	// Outside the window.
	record(violating(models.ViolationInvalidFormat))
	f.clock.Advance(8 * 24 * time.Hour)

	record(newComplianceResult(nil))
	record(violating(models.ViolationExcessiveEntryFee))
	record(violating(models.ViolationExcessiveEntryFee, models.ViolationInvalidPrizePool))
	record(newComplianceResult(nil))

	summary, err := f.log.Aggregate(ctx, 7*24*time.Hour)
	require.NoError(t, err)

	assert.Equal(t, 4, summary.TotalChecked)
	assert.Equal(t, 2, summary.Violating)
	assert.Equal(t, 50.0, summary.ComplianceRate)
	assert.Equal(t, 3, summary.BySeverity[models.SeverityHigh])
	assert.Equal(t, []ViolationCount{
		{Type: models.ViolationExcessiveEntryFee, Count: 2},
		{Type: models.ViolationInvalidPrizePool, Count: 1},
	}, summary.TopViolations)
}

func TestAuditLogAggregateEmptyWindow(t *testing.T) {
	f := newAuditFixture(t)

	summary, err := f.log.Aggregate(context.Background(), time.Hour)
	require.NoError(t, err)

	assert.Zero(t, summary.TotalChecked)
	assert.Equal(t, 100.0, summary.ComplianceRate)
	assert.Empty(t, summary.TopViolations)
}

func TestAuditLogResolve(t *testing.T) {
	f := newAuditFixture(t)
	ctx := context.Background()

	require.NoError(t, f.mem.CreateTournament(ctx, &models.Tournament{ID: "t1", Slug: "t1"}))
	require.NoError(t, f.mem.SetTournamentCompliance(ctx, "t1", false))

	audit, err := f.log.Record(ctx, AuditEntry{
		SubjectID:   "t1",
		SubjectType: models.SubjectTournament,
		CheckType:   models.CheckScheduled,
		Result:      violating(models.ViolationExcessiveEntryFee),
	})
	require.NoError(t, err)

	f.clock.Advance(time.Hour)
	res, err := f.log.Resolve(ctx, audit.ID, "entry fee lowered", "admin-1", true)
	require.NoError(t, err)
	require.True(t, res.OK())
	assert.Equal(t, "admin-1", res.Success.ResolvedBy)
	assert.Equal(t, testEpoch.Add(time.Hour), *res.Success.ResolvedAt)
	assert.False(t, res.Success.Compliant, "original outcome is immutable")

	tournament, err := f.mem.GetTournament(ctx, "t1")
	require.NoError(t, err)
	assert.True(t, tournament.RiotAPICompliant)
	assert.True(t, tournament.ComplianceChecked)

	again, err := f.log.Resolve(ctx, audit.ID, "second attempt", "admin-2", false)
	require.NoError(t, err)
	require.NotNil(t, again.Failure)
	assert.Equal(t, FailureAlreadyResolved, again.Failure.Code)

	missing, err := f.log.Resolve(ctx, "nope", "x", "admin-1", true)
	require.NoError(t, err)
	assert.Equal(t, FailureNotFound, missing.Failure.Code)
}

func TestAuditLogResolveUserRestoresStanding(t *testing.T) {
	f := newAuditFixture(t)
	ctx := context.Background()
	f.mem.PutUser(models.User{ID: "u1", Username: "u1", ComplianceStatus: models.UserStatusWarning})

	audit, err := f.log.Record(ctx, AuditEntry{
		SubjectID:   "u1",
		SubjectType: models.SubjectUser,
		CheckType:   models.CheckScheduled,
		Result:      violating(models.ViolationExcessiveCoinPurchase),
	})
	require.NoError(t, err)

	res, err := f.log.Resolve(ctx, audit.ID, "refund issued", "admin-1", true)
	require.NoError(t, err)
	require.True(t, res.OK())

	u, err := f.mem.GetUser(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, models.UserStatusCompliant, u.ComplianceStatus)
}
