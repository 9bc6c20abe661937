package models

import (
	"time"
)

type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

type ViolationType string

const (
	ViolationMinimumParticipants       ViolationType = "minimum_participants"
	ViolationExcessiveEntryFee         ViolationType = "excessive_entry_fee"
	ViolationInvalidFormat             ViolationType = "invalid_format"
	ViolationInvalidPrizePool          ViolationType = "invalid_prize_pool"
	ViolationPrizeDistributionMismatch ViolationType = "prize_distribution_mismatch"
	ViolationGamblingFeatures          ViolationType = "gambling_features"
	ViolationCreatorNonCompliant       ViolationType = "creator_non_compliant"
	ViolationProhibitedCoinUsage       ViolationType = "prohibited_coin_usage"
	ViolationExcessiveCoinEntryFee     ViolationType = "excessive_coin_entry_fee"
	ViolationExcessiveCoinPurchase     ViolationType = "excessive_coin_purchase"
	ViolationUnverifiedLinkedAccount   ViolationType = "unverified_linked_account"
)

// Violation is a single finding produced by a compliance check.
type Violation struct {
	Type        ViolationType `json:"type"`
	Description string        `json:"description"`
	Severity    Severity      `json:"severity"`
}

type ComplianceLevel string

const (
	LevelFull       ComplianceLevel = "full"
	LevelPartial    ComplianceLevel = "partial"
	LevelViolations ComplianceLevel = "violations"
)

type CheckType string

const (
	CheckCreation     CheckType = "creation"
	CheckModification CheckType = "modification"
	CheckCompletion   CheckType = "completion"
	CheckScheduled    CheckType = "scheduled"
	CheckManual       CheckType = "manual"
)

type AuditedBy string

const (
	AuditedBySystem         AuditedBy = "system"
	AuditedByAdmin          AuditedBy = "admin"
	AuditedByRiotCompliance AuditedBy = "riot_compliance"
)

type SubjectType string

const (
	SubjectTournament SubjectType = "tournament"
	SubjectUser       SubjectType = "user"
)

// ComplianceAudit is an append-only record of one compliance check. Only the
// resolution fields change after insert, and only once.
type ComplianceAudit struct {
	ID              string          `json:"id" gorm:"primaryKey"`
	SubjectID       string          `json:"subject_id" gorm:"not null;index"`
	SubjectType     SubjectType     `json:"subject_type" gorm:"not null"`
	CheckType       CheckType       `json:"check_type" gorm:"not null"`
	Compliant       bool            `json:"compliant" gorm:"index"`
	ComplianceLevel ComplianceLevel `json:"compliance_level"`
	Violations      []Violation     `json:"violations" gorm:"serializer:json;type:jsonb"`
	Recommendations []string        `json:"recommendations" gorm:"serializer:json;type:jsonb"`
	AuditedBy       AuditedBy       `json:"audited_by" gorm:"not null"`
	AuditorID       string          `json:"auditor_id,omitempty"`
	CreatedAt       time.Time       `json:"created_at" gorm:"index"`

	Resolved   bool       `json:"resolved"`
	Resolution string     `json:"resolution,omitempty" gorm:"type:text"`
	ResolvedBy string     `json:"resolved_by,omitempty"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
}

// MaxSeverity returns the highest severity among vs, or "" for none.
func MaxSeverity(vs []Violation) Severity {
	var best Severity
	for _, v := range vs {
		if severityRank[v.Severity] > severityRank[best] {
			best = v.Severity
		}
	}
	return best
}

// SeverityRank orders severities from low (1) to critical (4).
func SeverityRank(s Severity) int {
	return severityRank[s]
}

var severityRank = map[Severity]int{
	SeverityLow:      1,
	SeverityMedium:   2,
	SeverityHigh:     3,
	SeverityCritical: 4,
}
