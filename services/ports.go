package services

import (
	"context"
	"time"

	"esports-platform/models"
	"esports-platform/store"
)

// TournamentStore persists tournaments and their participants.
type TournamentStore interface {
	CreateTournament(ctx context.Context, t *models.Tournament) error
	GetTournament(ctx context.Context, id string) (*models.Tournament, error)
	SaveTournament(ctx context.Context, t *models.Tournament) error
	ListTournaments(ctx context.Context, f store.TournamentFilter) ([]models.Tournament, error)
	AddParticipant(ctx context.Context, p *models.Participant, capacity int) error
	UpdateParticipantStatus(ctx context.Context, tournamentID, entrantID string, status models.ParticipantStatus) error
	AppendTournamentViolations(ctx context.Context, tournamentID string, vs []models.TournamentViolation) error
	SetTournamentCompliance(ctx context.Context, id string, compliant bool) error
}

// UserStore persists users, their violations, coin balances and creator
// profiles.
type UserStore interface {
	GetUser(ctx context.Context, id string) (*models.User, error)
	ListLinkedUsers(ctx context.Context) ([]models.User, error)
	ListUsersForComplianceReview(ctx context.Context, since time.Time) ([]models.User, error)
	ListUserViolationsSince(ctx context.Context, userID string, since time.Time) ([]models.UserViolation, error)
	AppendUserViolations(ctx context.Context, userID string, vs []models.UserViolation) error
	SetUserComplianceStatus(ctx context.Context, userID string, status models.ComplianceStatus, checkedAt time.Time) error
	AdjustCoinBalance(ctx context.Context, userID string, delta int64) error
	GetCreatorProfile(ctx context.Context, userID string) (*models.CreatorProfile, error)
	AddCreatorEarnings(ctx context.Context, userID string, amount float64, at time.Time) error
}

// CoinTransferer is implemented by stores that can move coins between two
// balances atomically.
type CoinTransferer interface {
	TransferCoins(ctx context.Context, fromID, toID string, amount int64) error
}

// TransactionStore persists the coin transaction history.
type TransactionStore interface {
	RecordTransaction(ctx context.Context, tx *models.CoinTransaction) error
	GetTransactionByPaymentID(ctx context.Context, paymentID string) (*models.CoinTransaction, error)
	CompletePurchase(ctx context.Context, paymentID string) (bool, error)
	ListTransactions(ctx context.Context, f store.TransactionFilter) ([]models.CoinTransaction, int64, error)
}

// AuditStore persists compliance audits.
type AuditStore interface {
	CreateAudit(ctx context.Context, a *models.ComplianceAudit) error
	GetAudit(ctx context.Context, id string) (*models.ComplianceAudit, error)
	ResolveAudit(ctx context.Context, id string, resolved bool, resolution, resolvedBy string, at time.Time) (*models.ComplianceAudit, error)
	ListAudits(ctx context.Context, f store.AuditFilter) ([]models.ComplianceAudit, int64, error)
}

// AccountVerifier checks a third-party game account.
type AccountVerifier interface {
	VerifyAccount(ctx context.Context, accountID string) (*LinkedAccountInfo, error)
}

// PaymentGateway creates payment intents with the payment provider.
type PaymentGateway interface {
	CreatePaymentIntent(ctx context.Context, req PaymentIntentRequest) (*PaymentIntent, error)
}

// ReportArchive stores rendered compliance reports.
type ReportArchive interface {
	PutReport(ctx context.Context, key string, body []byte) error
}

// Broadcaster pushes tournament events to connected clients.
type Broadcaster interface {
	Broadcast(ctx context.Context, tournamentID, event string, payload any)
}
