package models

import (
	"time"
)

type AccountType string

const (
	AccountUser    AccountType = "user"
	AccountCreator AccountType = "creator"
	AccountAdmin   AccountType = "admin"
)

type ComplianceStatus string

const (
	UserStatusCompliant ComplianceStatus = "compliant"
	UserStatusWarning   ComplianceStatus = "warning"
	UserStatusViolation ComplianceStatus = "violation"
	UserStatusSuspended ComplianceStatus = "suspended"
)

// User is the platform account as seen by the tournament and coin services.
type User struct {
	ID          string      `gorm:"primaryKey" json:"id"`
	Username    string      `gorm:"uniqueIndex;not null" json:"username"`
	Email       string      `json:"email,omitempty"`
	AccountType AccountType `gorm:"default:'user'" json:"account_type"`

	// CoinBalance never goes below zero; the column carries a check constraint.
	CoinBalance int64 `gorm:"not null;default:0;check:coin_balance >= 0" json:"coin_balance"`

	LinkedAccount LinkedAccount `gorm:"embedded;embeddedPrefix:linked_" json:"linked_account"`

	ComplianceStatus    ComplianceStatus `gorm:"default:'compliant';index" json:"compliance_status"`
	LastComplianceCheck *time.Time       `json:"last_compliance_check,omitempty"`

	Violations []UserViolation `gorm:"foreignKey:UserID" json:"violations,omitempty"`

	Timestamps
}

// LinkedAccount is the user's third-party game account.
type LinkedAccount struct {
	AccountID   string     `json:"account_id,omitempty"`
	DisplayName string     `json:"display_name,omitempty"`
	VerifiedAt  *time.Time `json:"verified_at,omitempty"`
}

// HasLinkedAccount reports whether a third-party account is attached.
func (u *User) HasLinkedAccount() bool {
	return u.LinkedAccount.AccountID != ""
}

// UserViolation is an appended compliance finding on a user.
type UserViolation struct {
	ID          string        `gorm:"primaryKey" json:"id"`
	UserID      string        `gorm:"not null;index" json:"user_id"`
	Type        ViolationType `gorm:"not null" json:"type"`
	Description string        `json:"description"`
	Severity    Severity      `gorm:"not null" json:"severity"`
	RecordedAt  time.Time     `gorm:"index" json:"recorded_at"`
}

type CreatorApplicationStatus string

const (
	CreatorPending  CreatorApplicationStatus = "pending"
	CreatorApproved CreatorApplicationStatus = "approved"
	CreatorRejected CreatorApplicationStatus = "rejected"
)

// CreatorProfile tracks a creator's approval state and payout history.
type CreatorProfile struct {
	ID                string                   `gorm:"primaryKey" json:"id"`
	UserID            string                   `gorm:"uniqueIndex;not null" json:"user_id"`
	ApplicationStatus CreatorApplicationStatus `gorm:"default:'pending'" json:"application_status"`
	TotalEarnings     float64                  `gorm:"default:0" json:"total_earnings"`
	LastPayoutAt      *time.Time               `json:"last_payout_at,omitempty"`

	Timestamps
}

// Timestamps adds GORM auto-times
type Timestamps struct {
	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}
