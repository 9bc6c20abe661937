package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"

	"esports-platform/models"
	"esports-platform/store"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
)

// AuditEntry is the input for one audit record.
type AuditEntry struct {
	SubjectID   string
	SubjectType models.SubjectType
	CheckType   models.CheckType
	Result      ComplianceResult
	AuditedBy   models.AuditedBy
	AuditorID   string
}

// ViolationCount is one row of a violation-type ranking.
type ViolationCount struct {
	Type  models.ViolationType `json:"type"`
	Count int                  `json:"count"`
}

// AuditSummary aggregates audits over a trailing window.
type AuditSummary struct {
	Since          time.Time                    `json:"since"`
	Until          time.Time                    `json:"until"`
	TotalChecked   int                          `json:"total_checked"`
	Violating      int                          `json:"violating"`
	ComplianceRate float64                      `json:"compliance_rate"`
	BySeverity     map[models.Severity]int      `json:"by_severity"`
	ByType         map[models.ViolationType]int `json:"by_type"`
	TopViolations  []ViolationCount             `json:"top_violations"`
}

// ComplianceAuditLog is the append-only record of compliance checks.
type ComplianceAuditLog struct {
	audits      AuditStore
	tournaments TournamentStore
	users       UserStore
	clock       clockwork.Clock
	logger      *slog.Logger
	metrics     *Metrics
}

func NewComplianceAuditLog(audits AuditStore, tournaments TournamentStore, users UserStore, clock clockwork.Clock, logger *slog.Logger, metrics *Metrics) *ComplianceAuditLog {
	return &ComplianceAuditLog{
		audits:      audits,
		tournaments: tournaments,
		users:       users,
		clock:       clock,
		logger:      logger,
		metrics:     metrics,
	}
}

// Record appends an audit. A write failure is returned to the caller but
// must not change the compliance decision already made.
func (l *ComplianceAuditLog) Record(ctx context.Context, e AuditEntry) (*models.ComplianceAudit, error) {
	audit := &models.ComplianceAudit{
		ID:              uuid.NewString(),
		SubjectID:       e.SubjectID,
		SubjectType:     e.SubjectType,
		CheckType:       e.CheckType,
		Compliant:       e.Result.Compliant,
		ComplianceLevel: e.Result.Level,
		Violations:      e.Result.Violations,
		Recommendations: e.Result.Recommendations,
		AuditedBy:       e.AuditedBy,
		AuditorID:       e.AuditorID,
		CreatedAt:       l.clock.Now(),
	}
	if audit.AuditedBy == "" {
		audit.AuditedBy = models.AuditedBySystem
	}
	if err := l.audits.CreateAudit(ctx, audit); err != nil {
		l.metrics.auditWrite("failed")
		l.logger.Error("failed to record compliance audit",
			"subject_id", e.SubjectID,
			"check_type", e.CheckType,
			"error", err,
		)
		return nil, fmt.Errorf("record audit: %w", err)
	}
	l.metrics.auditWrite("ok")
	return audit, nil
}

// recordQuietly writes an audit and only logs on failure.
func (l *ComplianceAuditLog) recordQuietly(ctx context.Context, e AuditEntry) {
	_, _ = l.Record(ctx, e)
}

// Get returns a single audit.
func (l *ComplianceAuditLog) Get(ctx context.Context, id string) (OperationResult[models.ComplianceAudit], error) {
	audit, err := l.audits.GetAudit(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return fail[models.ComplianceAudit](FailureNotFound, "audit %s not found", id), nil
	}
	if err != nil {
		return OperationResult[models.ComplianceAudit]{}, fmt.Errorf("get audit: %w", err)
	}
	return succeed(*audit), nil
}

// List returns a page of audits, newest first.
func (l *ComplianceAuditLog) List(ctx context.Context, f store.AuditFilter) ([]models.ComplianceAudit, int64, error) {
	audits, total, err := l.audits.ListAudits(ctx, f)
	if err != nil {
		return nil, 0, fmt.Errorf("list audits: %w", err)
	}
	return audits, total, nil
}

// Aggregate summarises audits created in the trailing window.
func (l *ComplianceAuditLog) Aggregate(ctx context.Context, window time.Duration) (AuditSummary, error) {
	now := l.clock.Now()
	since := now.Add(-window)
	audits, _, err := l.audits.ListAudits(ctx, store.AuditFilter{Since: since, Until: now.Add(time.Nanosecond)})
	if err != nil {
		return AuditSummary{}, fmt.Errorf("aggregate audits: %w", err)
	}
	return summarize(audits, since, now), nil
}

func summarize(audits []models.ComplianceAudit, since, until time.Time) AuditSummary {
	s := AuditSummary{
		Since:        since,
		Until:        until,
		TotalChecked: len(audits),
		BySeverity:   make(map[models.Severity]int),
		ByType:       make(map[models.ViolationType]int),
	}
	for _, a := range audits {
		if !a.Compliant {
			s.Violating++
		}
		for _, v := range a.Violations {
			s.BySeverity[v.Severity]++
			s.ByType[v.Type]++
		}
	}
	s.ComplianceRate = 100
	if s.TotalChecked > 0 {
		s.ComplianceRate = math.Round(float64(s.TotalChecked-s.Violating) / float64(s.TotalChecked) * 100)
	}
	s.TopViolations = topViolations(s.ByType, 5)
	return s
}

func topViolations(byType map[models.ViolationType]int, n int) []ViolationCount {
	out := make([]ViolationCount, 0, len(byType))
	for t, c := range byType {
		out = append(out, ViolationCount{Type: t, Count: c})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Type < out[j].Type
	})
	if len(out) > n {
		out = out[:n]
	}
	return out
}

// Resolve sets the resolution of an audit. It succeeds only once per audit.
// A resolved tournament audit restores the tournament's compliance flag; a
// resolved user audit restores the user's standing.
func (l *ComplianceAuditLog) Resolve(ctx context.Context, auditID, resolution, resolvedBy string, resolved bool) (OperationResult[models.ComplianceAudit], error) {
	if resolution == "" {
		return fail[models.ComplianceAudit](FailureValidation, "resolution is required"), nil
	}
	audit, err := l.audits.ResolveAudit(ctx, auditID, resolved, resolution, resolvedBy, l.clock.Now())
	switch {
	case errors.Is(err, store.ErrNotFound):
		return fail[models.ComplianceAudit](FailureNotFound, "audit %s not found", auditID), nil
	case errors.Is(err, store.ErrAlreadyResolved):
		return fail[models.ComplianceAudit](FailureAlreadyResolved, "audit %s is already resolved", auditID), nil
	case err != nil:
		return OperationResult[models.ComplianceAudit]{}, fmt.Errorf("resolve audit: %w", err)
	}

	if resolved {
		var flagErr error
		switch audit.SubjectType {
		case models.SubjectTournament:
			flagErr = l.tournaments.SetTournamentCompliance(ctx, audit.SubjectID, true)
		case models.SubjectUser:
			flagErr = l.users.SetUserComplianceStatus(ctx, audit.SubjectID, models.UserStatusCompliant, l.clock.Now())
		}
		if flagErr != nil {
			l.logger.Warn("audit resolved but subject flag not restored",
				"audit_id", auditID,
				"subject_id", audit.SubjectID,
				"error", flagErr,
			)
		}
	}

	l.logger.Info("compliance audit resolved",
		"audit_id", auditID,
		"resolved", resolved,
		"resolved_by", resolvedBy,
	)
	return succeed(*audit), nil
}
