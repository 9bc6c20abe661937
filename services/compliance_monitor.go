package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"esports-platform/models"
	"esports-platform/store"

	"github.com/go-co-op/gocron/v2"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
)

type SweepKind string

const (
	SweepHourly SweepKind = "hourly"
	SweepDaily  SweepKind = "daily"
	SweepWeekly SweepKind = "weekly"
)

// Valid reports whether k names a known sweep.
func (k SweepKind) Valid() bool {
	return k == SweepHourly || k == SweepDaily || k == SweepWeekly
}

var sweepSchedules = map[SweepKind]string{
	SweepHourly: "0 * * * *",
	SweepDaily:  "0 2 * * *",
	SweepWeekly: "0 3 * * 0",
}

// MonitorConfig tunes the sweeps.
type MonitorConfig struct {
	HourlyBatchSize      int
	DailyCoinPurchaseCap int64
	VerifyTimeout        time.Duration
	ReportWindow         time.Duration
	ViolationLookback    time.Duration
	WarningThreshold     int
}

func DefaultMonitorConfig() MonitorConfig {
	return MonitorConfig{
		HourlyBatchSize:      10,
		DailyCoinPurchaseCap: 10000,
		VerifyTimeout:        5 * time.Second,
		ReportWindow:         7 * 24 * time.Hour,
		ViolationLookback:    30 * 24 * time.Hour,
		WarningThreshold:     3,
	}
}

// SweepResult summarises one sweep run.
type SweepResult struct {
	Kind               SweepKind     `json:"kind"`
	Skipped            bool          `json:"skipped"`
	StartedAt          time.Time     `json:"started_at"`
	TournamentsChecked int           `json:"tournaments_checked"`
	TournamentsFlagged int           `json:"tournaments_flagged"`
	UsersChecked       int           `json:"users_checked"`
	UsersFlagged       int           `json:"users_flagged"`
	StatusesRecomputed int           `json:"statuses_recomputed"`
	Errors             int           `json:"errors"`
	Report             *WeeklyReport `json:"report,omitempty"`
}

// WeeklyReport is the output of the weekly sweep.
type WeeklyReport struct {
	GeneratedAt     time.Time      `json:"generated_at"`
	Summary         AuditSummary   `json:"summary"`
	ViolationsByDay map[string]int `json:"violations_by_day"`
	ArchiveKey      string         `json:"archive_key,omitempty"`
}

// ComplianceMonitor runs the periodic compliance sweeps. Each sweep kind is
// guarded by its own run-lock; an overlapping run is skipped.
type ComplianceMonitor struct {
	tournaments TournamentStore
	users       UserStore
	txs         TransactionStore
	rules       *ComplianceRuleSet
	audits      *ComplianceAuditLog
	verifier    AccountVerifier
	archive     ReportArchive
	cfg         MonitorConfig
	clock       clockwork.Clock
	logger      *slog.Logger
	metrics     *Metrics

	locks     map[SweepKind]*sync.Mutex
	scheduler gocron.Scheduler
	runCtx    context.Context
	cancel    context.CancelFunc
}

// NewComplianceMonitor wires a monitor. verifier and archive may be nil.
func NewComplianceMonitor(
	tournaments TournamentStore,
	users UserStore,
	txs TransactionStore,
	rules *ComplianceRuleSet,
	audits *ComplianceAuditLog,
	verifier AccountVerifier,
	archive ReportArchive,
	cfg MonitorConfig,
	clock clockwork.Clock,
	logger *slog.Logger,
	metrics *Metrics,
) *ComplianceMonitor {
	return &ComplianceMonitor{
		tournaments: tournaments,
		users:       users,
		txs:         txs,
		rules:       rules,
		audits:      audits,
		verifier:    verifier,
		archive:     archive,
		cfg:         cfg,
		clock:       clock,
		logger:      logger,
		metrics:     metrics,
		locks: map[SweepKind]*sync.Mutex{
			SweepHourly: {},
			SweepDaily:  {},
			SweepWeekly: {},
		},
	}
}

// Start registers the cron jobs and starts the scheduler.
func (m *ComplianceMonitor) Start(ctx context.Context) error {
	sched, err := gocron.NewScheduler(gocron.WithClock(m.clock), gocron.WithLocation(time.UTC))
	if err != nil {
		return fmt.Errorf("create scheduler: %w", err)
	}
	m.runCtx, m.cancel = context.WithCancel(ctx)

	for _, kind := range []SweepKind{SweepHourly, SweepDaily, SweepWeekly} {
		_, err := sched.NewJob(
			gocron.CronJob(sweepSchedules[kind], false),
			gocron.NewTask(func() {
				if _, err := m.RunSweep(m.runCtx, kind); err != nil {
					m.logger.Error("compliance sweep failed", "kind", kind, "error", err)
				}
			}),
			gocron.WithName("compliance-"+string(kind)),
			gocron.WithSingletonMode(gocron.LimitModeReschedule),
		)
		if err != nil {
			m.cancel()
			return fmt.Errorf("schedule %s sweep: %w", kind, err)
		}
	}

	m.scheduler = sched
	sched.Start()
	m.logger.Info("compliance monitor started",
		"hourly", sweepSchedules[SweepHourly],
		"daily", sweepSchedules[SweepDaily],
		"weekly", sweepSchedules[SweepWeekly],
	)
	return nil
}

// Stop shuts the scheduler down and cancels running sweeps.
func (m *ComplianceMonitor) Stop() error {
	if m.scheduler == nil {
		return nil
	}
	m.cancel()
	if err := m.scheduler.Shutdown(); err != nil {
		return fmt.Errorf("shutdown scheduler: %w", err)
	}
	m.logger.Info("compliance monitor stopped")
	return nil
}

// RunSweep runs one sweep now. If the same kind is already running the call
// returns immediately with Skipped set.
func (m *ComplianceMonitor) RunSweep(ctx context.Context, kind SweepKind) (SweepResult, error) {
	lock, ok := m.locks[kind]
	if !ok {
		return SweepResult{}, fmt.Errorf("unknown sweep kind %q", kind)
	}
	result := SweepResult{Kind: kind, StartedAt: m.clock.Now()}
	if !lock.TryLock() {
		m.sweepOutcome(kind, "skipped")
		m.logger.Warn("compliance sweep already running, skipping", "kind", kind)
		result.Skipped = true
		return result, nil
	}
	defer lock.Unlock()

	var err error
	switch kind {
	case SweepHourly:
		err = m.hourly(ctx, &result)
	case SweepDaily:
		err = m.daily(ctx, &result)
	case SweepWeekly:
		err = m.weekly(ctx, &result)
	}
	if err != nil {
		m.sweepOutcome(kind, "failed")
		return result, err
	}

	if m.metrics != nil {
		m.metrics.SweepDuration.WithLabelValues(string(kind)).Observe(m.clock.Since(result.StartedAt).Seconds())
	}
	m.sweepOutcome(kind, "completed")
	m.logger.Info("compliance sweep completed",
		"kind", kind,
		"tournaments_checked", result.TournamentsChecked,
		"tournaments_flagged", result.TournamentsFlagged,
		"users_checked", result.UsersChecked,
		"users_flagged", result.UsersFlagged,
		"errors", result.Errors,
	)
	return result, nil
}

func (m *ComplianceMonitor) sweepOutcome(kind SweepKind, outcome string) {
	if m.metrics != nil {
		m.metrics.SweepRuns.WithLabelValues(string(kind), outcome).Inc()
	}
}

// hourly samples ongoing compliant tournaments and records findings without
// escalating.
func (m *ComplianceMonitor) hourly(ctx context.Context, r *SweepResult) error {
	tournaments, err := m.tournaments.ListTournaments(ctx, store.TournamentFilter{
		Statuses:      []models.TournamentStatus{models.StatusOngoing},
		CompliantOnly: true,
		Limit:         m.cfg.HourlyBatchSize,
	})
	if err != nil {
		return fmt.Errorf("list ongoing tournaments: %w", err)
	}
	for i := range tournaments {
		t := &tournaments[i]
		r.TournamentsChecked++
		result, err := m.checkTournament(ctx, t)
		if err != nil {
			r.Errors++
			m.logger.Error("hourly tournament check failed", "tournament_id", t.ID, "error", err)
			continue
		}
		if !result.Compliant {
			r.TournamentsFlagged++
			m.audits.recordQuietly(ctx, AuditEntry{
				SubjectID:   t.ID,
				SubjectType: models.SubjectTournament,
				CheckType:   models.CheckScheduled,
				Result:      result,
				AuditedBy:   models.AuditedBySystem,
			})
		}
	}
	return nil
}

// daily checks every tournament in registration or play and every user with
// a linked account, escalating findings onto the entities.
func (m *ComplianceMonitor) daily(ctx context.Context, r *SweepResult) error {
	tournaments, err := m.tournaments.ListTournaments(ctx, store.TournamentFilter{
		Statuses: []models.TournamentStatus{models.StatusRegistration, models.StatusOngoing},
	})
	if err != nil {
		return fmt.Errorf("list active tournaments: %w", err)
	}
	for i := range tournaments {
		t := &tournaments[i]
		r.TournamentsChecked++
		if err := m.escalateTournament(ctx, t, r); err != nil {
			r.Errors++
			m.logger.Error("daily tournament check failed", "tournament_id", t.ID, "error", err)
		}
	}

	users, err := m.users.ListLinkedUsers(ctx)
	if err != nil {
		return fmt.Errorf("list linked users: %w", err)
	}
	for i := range users {
		u := &users[i]
		r.UsersChecked++
		if err := m.checkUser(ctx, u, r); err != nil {
			r.Errors++
			m.logger.Error("daily user check failed", "user_id", u.ID, "error", err)
		}
	}
	return nil
}

func (m *ComplianceMonitor) checkTournament(ctx context.Context, t *models.Tournament) (ComplianceResult, error) {
	var creatorStatus models.ComplianceStatus
	creator, err := m.users.GetUser(ctx, t.CreatorID)
	switch {
	case err == nil:
		creatorStatus = creator.ComplianceStatus
	case !errors.Is(err, store.ErrNotFound):
		return ComplianceResult{}, fmt.Errorf("get creator: %w", err)
	}
	result := m.rules.ValidateTournament(t, creatorStatus)
	m.metrics.observeViolations(result)
	return result, nil
}

func (m *ComplianceMonitor) escalateTournament(ctx context.Context, t *models.Tournament, r *SweepResult) error {
	result, err := m.checkTournament(ctx, t)
	if err != nil {
		return err
	}
	if result.Compliant {
		return nil
	}
	r.TournamentsFlagged++

	now := m.clock.Now()
	rows := make([]models.TournamentViolation, 0, len(result.Violations))
	for _, v := range result.Violations {
		rows = append(rows, models.TournamentViolation{
			ID:           uuid.NewString(),
			TournamentID: t.ID,
			Type:         v.Type,
			Description:  v.Description,
			Severity:     v.Severity,
			RecordedAt:   now,
		})
	}
	if err := m.tournaments.AppendTournamentViolations(ctx, t.ID, rows); err != nil {
		return fmt.Errorf("append violations: %w", err)
	}
	if err := m.tournaments.SetTournamentCompliance(ctx, t.ID, false); err != nil {
		return fmt.Errorf("flag tournament: %w", err)
	}
	m.audits.recordQuietly(ctx, AuditEntry{
		SubjectID:   t.ID,
		SubjectType: models.SubjectTournament,
		CheckType:   models.CheckScheduled,
		Result:      result,
		AuditedBy:   models.AuditedBySystem,
	})
	return nil
}

func (m *ComplianceMonitor) checkUser(ctx context.Context, u *models.User, r *SweepResult) error {
	var vs []models.Violation

	if m.verifier != nil {
		vctx, cancel := context.WithTimeout(ctx, m.cfg.VerifyTimeout)
		_, err := m.verifier.VerifyAccount(vctx, u.LinkedAccount.AccountID)
		cancel()
		switch {
		case err == nil:
		case errors.Is(err, ErrAccountNotFound):
			vs = append(vs, models.Violation{
				Type:        models.ViolationUnverifiedLinkedAccount,
				Description: fmt.Sprintf("Linked account %s could not be found", u.LinkedAccount.AccountID),
				Severity:    models.SeverityMedium,
			})
		default:
			m.logger.Warn("linked account verification skipped", "user_id", u.ID, "error", err)
		}
	}

	since := m.clock.Now().Add(-24 * time.Hour)
	txs, _, err := m.txs.ListTransactions(ctx, store.TransactionFilter{UserID: u.ID, Since: since, Types: []models.TransactionType{models.TxPurchase}})
	if err != nil {
		return fmt.Errorf("list purchases: %w", err)
	}
	var purchased int64
	for _, tx := range txs {
		if tx.Status == models.TxCompleted {
			purchased += tx.Amount
		}
	}
	if purchased > m.cfg.DailyCoinPurchaseCap {
		vs = append(vs, models.Violation{
			Type:        models.ViolationExcessiveCoinPurchase,
			Description: fmt.Sprintf("Daily coin purchases (%d) exceed limit of %d", purchased, m.cfg.DailyCoinPurchaseCap),
			Severity:    models.SeverityMedium,
		})
	}

	prohibited, err := m.prohibitedUsage(ctx, u)
	if err != nil {
		return err
	}
	if len(prohibited) > 0 {
		vs = append(vs, models.Violation{
			Type:        models.ViolationProhibitedCoinUsage,
			Description: "Coins used for prohibited purposes: " + strings.Join(prohibited, ", "),
			Severity:    models.SeverityHigh,
		})
	}

	if len(vs) == 0 {
		return nil
	}
	r.UsersFlagged++
	result := newComplianceResult(vs)
	m.metrics.observeViolations(result)

	now := m.clock.Now()
	rows := make([]models.UserViolation, 0, len(vs))
	for _, v := range vs {
		rows = append(rows, models.UserViolation{
			ID:          uuid.NewString(),
			UserID:      u.ID,
			Type:        v.Type,
			Description: v.Description,
			Severity:    v.Severity,
			RecordedAt:  now,
		})
	}
	if err := m.users.AppendUserViolations(ctx, u.ID, rows); err != nil {
		return fmt.Errorf("append violations: %w", err)
	}
	status := models.UserStatusWarning
	if models.MaxSeverity(vs) == models.SeverityCritical {
		status = models.UserStatusViolation
	}
	if err := m.users.SetUserComplianceStatus(ctx, u.ID, status, now); err != nil {
		return fmt.Errorf("update status: %w", err)
	}
	m.audits.recordQuietly(ctx, AuditEntry{
		SubjectID:   u.ID,
		SubjectType: models.SubjectUser,
		CheckType:   models.CheckScheduled,
		Result:      result,
		AuditedBy:   models.AuditedBySystem,
	})
	return nil
}

// prohibitedUsage returns the sorted usage types outside the allow-list on
// any of the user's transactions since their last compliance check, or ever
// if they have not been checked.
func (m *ComplianceMonitor) prohibitedUsage(ctx context.Context, u *models.User) ([]string, error) {
	var since time.Time
	if u.LastComplianceCheck != nil {
		since = *u.LastComplianceCheck
	}
	txs, _, err := m.txs.ListTransactions(ctx, store.TransactionFilter{UserID: u.ID, Since: since})
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	seen := make(map[string]bool)
	var out []string
	for _, tx := range txs {
		if tx.UsageType == "" || IsAllowedCoinUsage(tx.UsageType) || seen[tx.UsageType] {
			continue
		}
		seen[tx.UsageType] = true
		out = append(out, tx.UsageType)
	}
	sort.Strings(out)
	return out, nil
}

// weekly builds the compliance report and recomputes user standings from
// their trailing violations.
func (m *ComplianceMonitor) weekly(ctx context.Context, r *SweepResult) error {
	report, err := m.buildReport(ctx)
	if err != nil {
		return err
	}
	r.Report = report

	if m.archive != nil {
		key := fmt.Sprintf("compliance-reports/%s.json", report.GeneratedAt.Format("2006-01-02"))
		body, err := json.MarshalIndent(report, "", "  ")
		if err != nil {
			return fmt.Errorf("encode report: %w", err)
		}
		if err := m.archive.PutReport(ctx, key, body); err != nil {
			r.Errors++
			m.logger.Error("failed to archive compliance report", "key", key, "error", err)
		} else {
			report.ArchiveKey = key
		}
	}

	m.logger.Info("weekly compliance report",
		"total_audits", report.Summary.TotalChecked,
		"violations", report.Summary.Violating,
		"compliance_rate", report.Summary.ComplianceRate,
	)

	since := m.clock.Now().Add(-m.cfg.ViolationLookback)
	users, err := m.users.ListUsersForComplianceReview(ctx, since)
	if err != nil {
		return fmt.Errorf("list users for review: %w", err)
	}
	for i := range users {
		u := &users[i]
		r.UsersChecked++
		if err := m.recomputeStatus(ctx, u, since); err != nil {
			r.Errors++
			m.logger.Error("status recompute failed", "user_id", u.ID, "error", err)
			continue
		}
		r.StatusesRecomputed++
	}
	return nil
}

func (m *ComplianceMonitor) buildReport(ctx context.Context) (*WeeklyReport, error) {
	now := m.clock.Now()
	summary, err := m.audits.Aggregate(ctx, m.cfg.ReportWindow)
	if err != nil {
		return nil, err
	}

	violating := false
	histogramAudits, _, err := m.audits.List(ctx, store.AuditFilter{
		Compliant: &violating,
		Since:     now.Add(-m.cfg.ViolationLookback),
	})
	if err != nil {
		return nil, err
	}
	byDay := make(map[string]int, 7)
	for d := time.Sunday; d <= time.Saturday; d++ {
		byDay[d.String()] = 0
	}
	for _, a := range histogramAudits {
		byDay[a.CreatedAt.Weekday().String()]++
	}

	return &WeeklyReport{
		GeneratedAt:     now,
		Summary:         summary,
		ViolationsByDay: byDay,
	}, nil
}

// StandingFor derives a user's status from their trailing violations.
func StandingFor(vs []models.UserViolation, warningThreshold int) models.ComplianceStatus {
	high := false
	for _, v := range vs {
		switch v.Severity {
		case models.SeverityCritical:
			return models.UserStatusViolation
		case models.SeverityHigh:
			high = true
		}
	}
	if high || len(vs) > warningThreshold {
		return models.UserStatusWarning
	}
	return models.UserStatusCompliant
}

func (m *ComplianceMonitor) recomputeStatus(ctx context.Context, u *models.User, since time.Time) error {
	vs, err := m.users.ListUserViolationsSince(ctx, u.ID, since)
	if err != nil {
		return fmt.Errorf("list violations: %w", err)
	}
	status := StandingFor(vs, m.cfg.WarningThreshold)
	return m.users.SetUserComplianceStatus(ctx, u.ID, status, m.clock.Now())
}

// Check validates a tournament on demand and records a manual audit.
func (m *ComplianceMonitor) Check(ctx context.Context, tournamentID, auditorID string) (OperationResult[ComplianceResult], error) {
	t, err := m.tournaments.GetTournament(ctx, tournamentID)
	if errors.Is(err, store.ErrNotFound) {
		return fail[ComplianceResult](FailureNotFound, "tournament %s not found", tournamentID), nil
	}
	if err != nil {
		return OperationResult[ComplianceResult]{}, fmt.Errorf("get tournament: %w", err)
	}
	result, err := m.checkTournament(ctx, t)
	if err != nil {
		return OperationResult[ComplianceResult]{}, err
	}
	m.audits.recordQuietly(ctx, AuditEntry{
		SubjectID:   t.ID,
		SubjectType: models.SubjectTournament,
		CheckType:   models.CheckManual,
		Result:      result,
		AuditedBy:   models.AuditedByAdmin,
		AuditorID:   auditorID,
	})
	return succeed(result), nil
}
