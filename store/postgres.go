package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"esports-platform/models"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// Postgres is the gorm-backed store.
type Postgres struct {
	DB *gorm.DB
}

// OpenPostgres connects and migrates the schema.
func OpenPostgres(dsn string) (*Postgres, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Warn),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := db.AutoMigrate(
		&models.User{},
		&models.UserViolation{},
		&models.CreatorProfile{},
		&models.Tournament{},
		&models.Participant{},
		&models.TournamentViolation{},
		&models.CoinTransaction{},
		&models.ComplianceAudit{},
	); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return &Postgres{DB: db}, nil
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}

func duplicate(err error) error {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return ErrDuplicate
	}
	return err
}

// Tournaments

func (s *Postgres) CreateTournament(ctx context.Context, t *models.Tournament) error {
	return duplicate(s.DB.WithContext(ctx).Omit(clause.Associations).Create(t).Error)
}

func (s *Postgres) GetTournament(ctx context.Context, id string) (*models.Tournament, error) {
	var t models.Tournament
	err := s.DB.WithContext(ctx).
		Preload("Participants", func(db *gorm.DB) *gorm.DB { return db.Order("registered_at ASC") }).
		Preload("ComplianceViolations").
		First(&t, "id = ?", id).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &t, nil
}

// SaveTournament writes t under a row lock if its version is still current,
// and bumps t.Version.
func (s *Postgres) SaveTournament(ctx context.Context, t *models.Tournament) error {
	loaded := t.Version
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var current models.Tournament
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Select("id", "version").First(&current, "id = ?", t.ID).Error; err != nil {
			return notFound(err)
		}
		if current.Version != loaded {
			return ErrStaleWrite
		}
		t.Version = loaded + 1
		return tx.Model(&models.Tournament{ID: t.ID}).
			Select("*").
			Omit("id", "created_at", "Participants", "ComplianceViolations").
			Updates(t).Error
	})
	if err != nil {
		t.Version = loaded
	}
	return err
}

func (s *Postgres) ListTournaments(ctx context.Context, f TournamentFilter) ([]models.Tournament, error) {
	q := s.DB.WithContext(ctx).Model(&models.Tournament{})
	if len(f.Statuses) > 0 {
		q = q.Where("status IN ?", f.Statuses)
	}
	if f.CreatorID != "" {
		q = q.Where("creator_id = ?", f.CreatorID)
	}
	if f.Game != "" {
		q = q.Where("game = ?", f.Game)
	}
	if f.CompliantOnly {
		q = q.Where("riot_api_compliant = ?", true)
	}
	if f.Offset > 0 {
		q = q.Offset(f.Offset)
	}
	if f.Limit > 0 {
		q = q.Limit(f.Limit)
	}
	var out []models.Tournament
	if err := q.Order("created_at ASC, id ASC").Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// AddParticipant locks the tournament row so concurrent registrations
// cannot exceed capacity or land after registration closes.
func (s *Postgres) AddParticipant(ctx context.Context, p *models.Participant, capacity int) error {
	return s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var t models.Tournament
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Select("id", "status").First(&t, "id = ?", p.TournamentID).Error; err != nil {
			return notFound(err)
		}
		if t.Status != models.StatusRegistration {
			return ErrRegistrationClosed
		}
		var count int64
		if err := tx.Model(&models.Participant{}).Where("tournament_id = ?", p.TournamentID).Count(&count).Error; err != nil {
			return err
		}
		if count >= int64(capacity) {
			return ErrTournamentFull
		}
		if err := tx.Create(p).Error; err != nil {
			return duplicate(err)
		}
		return bumpVersion(tx, p.TournamentID)
	})
}

func bumpVersion(tx *gorm.DB, tournamentID string) error {
	return tx.Model(&models.Tournament{}).Where("id = ?", tournamentID).
		UpdateColumn("version", gorm.Expr("version + 1")).Error
}

func (s *Postgres) UpdateParticipantStatus(ctx context.Context, tournamentID, entrantID string, status models.ParticipantStatus) error {
	res := s.DB.WithContext(ctx).Model(&models.Participant{}).
		Where("tournament_id = ? AND entrant_id = ?", tournamentID, entrantID).
		Update("status", status)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Postgres) AppendTournamentViolations(ctx context.Context, tournamentID string, vs []models.TournamentViolation) error {
	if len(vs) == 0 {
		return nil
	}
	for i := range vs {
		vs[i].TournamentID = tournamentID
	}
	return s.DB.WithContext(ctx).Create(&vs).Error
}

func (s *Postgres) SetTournamentCompliance(ctx context.Context, id string, compliant bool) error {
	res := s.DB.WithContext(ctx).Model(&models.Tournament{}).Where("id = ?", id).
		Updates(map[string]interface{}{
			"riot_api_compliant": compliant,
			"compliance_checked": true,
			"version":            gorm.Expr("version + 1"),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// Users

func (s *Postgres) GetUser(ctx context.Context, id string) (*models.User, error) {
	var u models.User
	if err := s.DB.WithContext(ctx).First(&u, "id = ?", id).Error; err != nil {
		return nil, notFound(err)
	}
	return &u, nil
}

// UpsertUser inserts a synced user or refreshes its profile fields. Balance
// and compliance columns are left alone on conflict.
func (s *Postgres) UpsertUser(ctx context.Context, u *models.User) error {
	return s.DB.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "id"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"username":            u.Username,
			"email":               u.Email,
			"account_type":        u.AccountType,
			"linked_verified_at":  gorm.Expr("CASE WHEN users.linked_account_id = ? THEN users.linked_verified_at ELSE NULL END", u.LinkedAccount.AccountID),
			"linked_account_id":   u.LinkedAccount.AccountID,
			"linked_display_name": u.LinkedAccount.DisplayName,
			"updated_at":          u.UpdatedAt,
		}),
	}).Create(u).Error
}

func (s *Postgres) UpsertCreatorProfile(ctx context.Context, p *models.CreatorProfile) error {
	return s.DB.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"application_status"}),
	}).Create(p).Error
}

func (s *Postgres) ListLinkedUsers(ctx context.Context) ([]models.User, error) {
	var out []models.User
	err := s.DB.WithContext(ctx).
		Where("linked_account_id <> '' AND compliance_status <> ?", models.UserStatusSuspended).
		Order("id").
		Find(&out).Error
	return out, err
}

func (s *Postgres) ListUsersForComplianceReview(ctx context.Context, since time.Time) ([]models.User, error) {
	var out []models.User
	recent := s.DB.Model(&models.UserViolation{}).Select("user_id").Where("recorded_at >= ?", since)
	err := s.DB.WithContext(ctx).
		Where("compliance_status <> ?", models.UserStatusSuspended).
		Where(s.DB.Where("compliance_status <> ?", models.UserStatusCompliant).Or("id IN (?)", recent)).
		Order("id").
		Find(&out).Error
	return out, err
}

func (s *Postgres) ListUserViolationsSince(ctx context.Context, userID string, since time.Time) ([]models.UserViolation, error) {
	var out []models.UserViolation
	err := s.DB.WithContext(ctx).
		Where("user_id = ? AND recorded_at >= ?", userID, since).
		Order("recorded_at").
		Find(&out).Error
	return out, err
}

func (s *Postgres) AppendUserViolations(ctx context.Context, userID string, vs []models.UserViolation) error {
	if len(vs) == 0 {
		return nil
	}
	for i := range vs {
		vs[i].UserID = userID
	}
	return s.DB.WithContext(ctx).Create(&vs).Error
}

func (s *Postgres) SetUserComplianceStatus(ctx context.Context, userID string, status models.ComplianceStatus, checkedAt time.Time) error {
	res := s.DB.WithContext(ctx).Model(&models.User{}).Where("id = ?", userID).
		Updates(map[string]interface{}{
			"compliance_status":     status,
			"last_compliance_check": checkedAt,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// AdjustCoinBalance applies delta in one conditional UPDATE so concurrent
// debits can never drive the balance negative.
func (s *Postgres) AdjustCoinBalance(ctx context.Context, userID string, delta int64) error {
	return adjustBalance(s.DB.WithContext(ctx), userID, delta)
}

func adjustBalance(db *gorm.DB, userID string, delta int64) error {
	q := db.Model(&models.User{}).Where("id = ?", userID)
	if delta < 0 {
		q = q.Where("coin_balance >= ?", -delta)
	}
	res := q.Update("coin_balance", gorm.Expr("coin_balance + ?", delta))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 1 {
		return nil
	}
	var count int64
	if err := db.Model(&models.User{}).Where("id = ?", userID).Count(&count).Error; err != nil {
		return err
	}
	if count == 0 {
		return ErrNotFound
	}
	return ErrInsufficientBalance
}

// TransferCoins moves amount between two balances in one database
// transaction, locking both rows in id order.
func (s *Postgres) TransferCoins(ctx context.Context, fromID, toID string, amount int64) error {
	return s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var locked []models.User
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id IN ?", []string{fromID, toID}).
			Order("id").
			Find(&locked).Error; err != nil {
			return err
		}
		if len(locked) != 2 {
			return ErrNotFound
		}
		if err := adjustBalance(tx, fromID, -amount); err != nil {
			return err
		}
		return adjustBalance(tx, toID, amount)
	})
}

func (s *Postgres) GetCreatorProfile(ctx context.Context, userID string) (*models.CreatorProfile, error) {
	var p models.CreatorProfile
	if err := s.DB.WithContext(ctx).First(&p, "user_id = ?", userID).Error; err != nil {
		return nil, notFound(err)
	}
	return &p, nil
}

func (s *Postgres) AddCreatorEarnings(ctx context.Context, userID string, amount float64, at time.Time) error {
	res := s.DB.WithContext(ctx).Model(&models.CreatorProfile{}).Where("user_id = ?", userID).
		Updates(map[string]interface{}{
			"total_earnings": gorm.Expr("total_earnings + ?", amount),
			"last_payout_at": at,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// Coin transactions

func (s *Postgres) RecordTransaction(ctx context.Context, tx *models.CoinTransaction) error {
	return duplicate(s.DB.WithContext(ctx).Create(tx).Error)
}

func (s *Postgres) GetTransactionByPaymentID(ctx context.Context, paymentID string) (*models.CoinTransaction, error) {
	var tx models.CoinTransaction
	if err := s.DB.WithContext(ctx).First(&tx, "payment_id = ?", paymentID).Error; err != nil {
		return nil, notFound(err)
	}
	return &tx, nil
}

// CompletePurchase flips a pending purchase to completed and credits the
// balance atomically. It reports false when the purchase was already settled.
func (s *Postgres) CompletePurchase(ctx context.Context, paymentID string) (bool, error) {
	credited := false
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row models.CoinTransaction
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&row, "payment_id = ?", paymentID).Error; err != nil {
			return notFound(err)
		}
		if row.Status != models.TxPending {
			return nil
		}
		if err := tx.Model(&row).Update("status", models.TxCompleted).Error; err != nil {
			return err
		}
		if err := adjustBalance(tx, row.UserID, row.Amount); err != nil {
			return err
		}
		credited = true
		return nil
	})
	return credited, err
}

func (s *Postgres) ListTransactions(ctx context.Context, f TransactionFilter) ([]models.CoinTransaction, int64, error) {
	q := s.DB.WithContext(ctx).Model(&models.CoinTransaction{})
	if f.UserID != "" {
		q = q.Where("user_id = ?", f.UserID)
	}
	if len(f.Types) > 0 {
		q = q.Where("type IN ?", f.Types)
	}
	if !f.Since.IsZero() {
		q = q.Where("created_at >= ?", f.Since)
	}
	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	if f.Offset > 0 {
		q = q.Offset(f.Offset)
	}
	if f.Limit > 0 {
		q = q.Limit(f.Limit)
	}
	var out []models.CoinTransaction
	if err := q.Order("created_at DESC").Find(&out).Error; err != nil {
		return nil, 0, err
	}
	return out, total, nil
}

// Audits

func (s *Postgres) CreateAudit(ctx context.Context, a *models.ComplianceAudit) error {
	return s.DB.WithContext(ctx).Create(a).Error
}

func (s *Postgres) GetAudit(ctx context.Context, id string) (*models.ComplianceAudit, error) {
	var a models.ComplianceAudit
	if err := s.DB.WithContext(ctx).First(&a, "id = ?", id).Error; err != nil {
		return nil, notFound(err)
	}
	return &a, nil
}

// ResolveAudit sets the resolution fields once. The WHERE clause on
// resolved_at makes the first writer win.
func (s *Postgres) ResolveAudit(ctx context.Context, id string, resolved bool, resolution, resolvedBy string, at time.Time) (*models.ComplianceAudit, error) {
	res := s.DB.WithContext(ctx).Model(&models.ComplianceAudit{}).
		Where("id = ? AND resolved_at IS NULL", id).
		Updates(map[string]interface{}{
			"resolved":    resolved,
			"resolution":  resolution,
			"resolved_by": resolvedBy,
			"resolved_at": at,
		})
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		if _, err := s.GetAudit(ctx, id); err != nil {
			return nil, err
		}
		return nil, ErrAlreadyResolved
	}
	return s.GetAudit(ctx, id)
}

func (s *Postgres) ListAudits(ctx context.Context, f AuditFilter) ([]models.ComplianceAudit, int64, error) {
	q := s.DB.WithContext(ctx).Model(&models.ComplianceAudit{})
	if f.SubjectID != "" {
		q = q.Where("subject_id = ?", f.SubjectID)
	}
	if f.SubjectType != "" {
		q = q.Where("subject_type = ?", f.SubjectType)
	}
	if f.CheckType != "" {
		q = q.Where("check_type = ?", f.CheckType)
	}
	if f.Compliant != nil {
		q = q.Where("compliant = ?", *f.Compliant)
	}
	if !f.Since.IsZero() {
		q = q.Where("created_at >= ?", f.Since)
	}
	if !f.Until.IsZero() {
		q = q.Where("created_at < ?", f.Until)
	}
	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	if f.Offset > 0 {
		q = q.Offset(f.Offset)
	}
	if f.Limit > 0 {
		q = q.Limit(f.Limit)
	}
	var out []models.ComplianceAudit
	if err := q.Order("created_at DESC").Find(&out).Error; err != nil {
		return nil, 0, err
	}
	return out, total, nil
}
