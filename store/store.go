// Package store persists tournaments, users, coin transactions and compliance
// audits. Postgres (gorm) backs production; Memory backs tests and local runs.
package store

import (
	"errors"
	"time"

	"esports-platform/models"
)

var (
	ErrNotFound            = errors.New("record not found")
	ErrDuplicate           = errors.New("record already exists")
	ErrInsufficientBalance = errors.New("insufficient coin balance")
	ErrAlreadyResolved     = errors.New("audit already resolved")
	ErrTournamentFull      = errors.New("tournament is full")
	ErrRegistrationClosed  = errors.New("tournament is not open for registration")
	// ErrStaleWrite means the tournament changed since it was loaded.
	ErrStaleWrite = errors.New("tournament was modified concurrently")
)

// TournamentFilter narrows ListTournaments. Zero values mean "any".
type TournamentFilter struct {
	Statuses      []models.TournamentStatus
	CreatorID     string
	Game          string
	CompliantOnly bool
	Limit         int
	Offset        int
}

// AuditFilter narrows ListAudits. Zero values mean "any".
type AuditFilter struct {
	SubjectID   string
	SubjectType models.SubjectType
	CheckType   models.CheckType
	Compliant   *bool
	Since       time.Time
	Until       time.Time
	Limit       int
	Offset      int
}

// TransactionFilter narrows ListTransactions. Zero values mean "any".
type TransactionFilter struct {
	UserID string
	Types  []models.TransactionType
	Since  time.Time
	Limit  int
	Offset int
}

func (f TournamentFilter) matches(t *models.Tournament) bool {
	if len(f.Statuses) > 0 && !containsStatus(f.Statuses, t.Status) {
		return false
	}
	if f.CreatorID != "" && t.CreatorID != f.CreatorID {
		return false
	}
	if f.Game != "" && t.Game != f.Game {
		return false
	}
	if f.CompliantOnly && !t.RiotAPICompliant {
		return false
	}
	return true
}

func (f AuditFilter) matches(a *models.ComplianceAudit) bool {
	if f.SubjectID != "" && a.SubjectID != f.SubjectID {
		return false
	}
	if f.SubjectType != "" && a.SubjectType != f.SubjectType {
		return false
	}
	if f.CheckType != "" && a.CheckType != f.CheckType {
		return false
	}
	if f.Compliant != nil && a.Compliant != *f.Compliant {
		return false
	}
	if !f.Since.IsZero() && a.CreatedAt.Before(f.Since) {
		return false
	}
	if !f.Until.IsZero() && !a.CreatedAt.Before(f.Until) {
		return false
	}
	return true
}

func (f TransactionFilter) matches(tx *models.CoinTransaction) bool {
	if f.UserID != "" && tx.UserID != f.UserID {
		return false
	}
	if len(f.Types) > 0 {
		found := false
		for _, t := range f.Types {
			if tx.Type == t {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if !f.Since.IsZero() && tx.CreatedAt.Before(f.Since) {
		return false
	}
	return true
}

func containsStatus(list []models.TournamentStatus, s models.TournamentStatus) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// page applies offset/limit to n items and returns the slice bounds.
func page(n, offset, limit int) (int, int) {
	if offset > n {
		offset = n
	}
	end := n
	if limit > 0 && offset+limit < n {
		end = offset + limit
	}
	return offset, end
}
