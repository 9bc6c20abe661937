package models

import (
	"time"
)

type TournamentFormat string

const (
	FormatSingleElimination TournamentFormat = "single-elimination"
	FormatDoubleElimination TournamentFormat = "double-elimination"
	FormatRoundRobin        TournamentFormat = "round-robin"
	FormatSwiss             TournamentFormat = "swiss"
)

// Valid reports whether f is one of the supported bracket formats.
func (f TournamentFormat) Valid() bool {
	switch f {
	case FormatSingleElimination, FormatDoubleElimination, FormatRoundRobin, FormatSwiss:
		return true
	}
	return false
}

type TournamentStatus string

const (
	StatusDraft        TournamentStatus = "draft"
	StatusRegistration TournamentStatus = "registration"
	StatusOngoing      TournamentStatus = "ongoing"
	StatusCompleted    TournamentStatus = "completed"
	StatusCancelled    TournamentStatus = "cancelled"
)

// Tournament is a competitive event owned by a creator.
type Tournament struct {
	ID              string           `json:"id" gorm:"primaryKey"`
	Slug            string           `json:"slug" gorm:"uniqueIndex;not null"`
	Name            string           `json:"name" gorm:"not null"`
	Description     string           `json:"description" gorm:"type:text"`
	Rules           string           `json:"rules" gorm:"type:text"`
	Game            string           `json:"game" gorm:"not null"`
	GameMode        string           `json:"game_mode"`
	CreatorID       string           `json:"creator_id" gorm:"not null;index"`
	Format          TournamentFormat `json:"format" gorm:"not null"`
	TeamSize        int              `json:"team_size" gorm:"default:1"`
	MaxParticipants int              `json:"max_participants" gorm:"not null"`
	EntryFee        float64          `json:"entry_fee" gorm:"default:0"`
	PrizePool       PrizePool        `json:"prize_pool" gorm:"serializer:json;type:jsonb"`
	Status          TournamentStatus `json:"status" gorm:"index;default:'draft'"`

	RegistrationStart time.Time  `json:"registration_start"`
	RegistrationEnd   time.Time  `json:"registration_end"`
	TournamentStart   time.Time  `json:"tournament_start"`
	TournamentEnd     *time.Time `json:"tournament_end,omitempty"`

	Bracket *Bracket `json:"bracket,omitempty" gorm:"serializer:json;type:jsonb"`

	// Compliance flags. RiotAPICompliant is flipped to false by the daily
	// sweep and back to true when an audit is resolved.
	RiotAPICompliant  bool `json:"riot_api_compliant"`
	ComplianceChecked bool `json:"compliance_checked"`

	Participants         []Participant         `json:"participants,omitempty" gorm:"foreignKey:TournamentID"`
	ComplianceViolations []TournamentViolation `json:"compliance_violations,omitempty" gorm:"foreignKey:TournamentID"`

	// Version increases on every write to the row or its participant list.
	// Saves from a stale copy are rejected.
	Version int64 `json:"version" gorm:"not null;default:0"`

	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}

// PrizePool is stored as JSON on the tournament row.
type PrizePool struct {
	Total        float64      `json:"total"`
	Currency     string       `json:"currency,omitempty"`
	Distribution []PrizeShare `json:"distribution,omitempty"`
}

type PrizeShare struct {
	Position   int     `json:"position"`
	Amount     float64 `json:"amount"`
	Percentage float64 `json:"percentage,omitempty"`
}

type EntrantType string

const (
	EntrantUser EntrantType = "user"
	EntrantTeam EntrantType = "team"
)

type ParticipantStatus string

const (
	ParticipantRegistered ParticipantStatus = "registered"
	ParticipantCheckedIn  ParticipantStatus = "checked-in"
	ParticipantEliminated ParticipantStatus = "eliminated"
	ParticipantWinner     ParticipantStatus = "winner"
)

// Participant is a registered user or team. EntrantID is the stable handle
// brackets refer to.
type Participant struct {
	ID            string            `json:"id" gorm:"primaryKey"`
	TournamentID  string            `json:"tournament_id" gorm:"not null;uniqueIndex:idx_participant_entrant"`
	EntrantID     string            `json:"entrant_id" gorm:"not null;uniqueIndex:idx_participant_entrant"`
	EntrantType   EntrantType       `json:"entrant_type" gorm:"not null"`
	Status        ParticipantStatus `json:"status" gorm:"default:'registered'"`
	PaidBy        string            `json:"paid_by"`
	EntryFeeCoins int64             `json:"entry_fee_coins" gorm:"default:0"`
	RegisteredAt  time.Time         `json:"registered_at"`
}

// TournamentViolation is an appended compliance finding on a tournament.
type TournamentViolation struct {
	ID           string        `json:"id" gorm:"primaryKey"`
	TournamentID string        `json:"tournament_id" gorm:"not null;index"`
	Type         ViolationType `json:"type" gorm:"not null"`
	Description  string        `json:"description"`
	Severity     Severity      `json:"severity" gorm:"not null"`
	RecordedAt   time.Time     `json:"recorded_at"`
}
