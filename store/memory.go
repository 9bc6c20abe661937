package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"esports-platform/models"
)

// Memory is a mutex-guarded in-memory store. Values are copied in and out so
// callers never share state with the store.
type Memory struct {
	mu           sync.Mutex
	tournaments  map[string]*models.Tournament
	participants map[string][]models.Participant
	tViolations  map[string][]models.TournamentViolation
	users        map[string]*models.User
	uViolations  map[string][]models.UserViolation
	creators     map[string]*models.CreatorProfile
	transactions []models.CoinTransaction
	audits       []models.ComplianceAudit
}

func NewMemory() *Memory {
	return &Memory{
		tournaments:  make(map[string]*models.Tournament),
		participants: make(map[string][]models.Participant),
		tViolations:  make(map[string][]models.TournamentViolation),
		users:        make(map[string]*models.User),
		uViolations:  make(map[string][]models.UserViolation),
		creators:     make(map[string]*models.CreatorProfile),
	}
}

// PutUser inserts or replaces a user.
func (m *Memory) PutUser(u models.User) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u.Violations = nil
	m.users[u.ID] = &u
}

// PutCreatorProfile inserts or replaces a creator profile.
func (m *Memory) PutCreatorProfile(p models.CreatorProfile) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.creators[p.UserID] = &p
}

// Tournaments

func (m *Memory) CreateTournament(_ context.Context, t *models.Tournament) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tournaments[t.ID]; ok {
		return ErrDuplicate
	}
	for _, existing := range m.tournaments {
		if existing.Slug == t.Slug {
			return ErrDuplicate
		}
	}
	m.tournaments[t.ID] = cloneTournament(t)
	return nil
}

func (m *Memory) GetTournament(_ context.Context, id string) (*models.Tournament, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tournaments[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := cloneTournament(t)
	out.Participants = append([]models.Participant(nil), m.participants[id]...)
	out.ComplianceViolations = append([]models.TournamentViolation(nil), m.tViolations[id]...)
	return out, nil
}

// SaveTournament writes t if nothing else wrote the tournament since t was
// loaded, and bumps t.Version.
func (m *Memory) SaveTournament(_ context.Context, t *models.Tournament) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	current, ok := m.tournaments[t.ID]
	if !ok {
		return ErrNotFound
	}
	if current.Version != t.Version {
		return ErrStaleWrite
	}
	t.Version++
	m.tournaments[t.ID] = cloneTournament(t)
	return nil
}

func (m *Memory) ListTournaments(_ context.Context, f TournamentFilter) ([]models.Tournament, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Tournament
	for _, t := range m.tournaments {
		if f.matches(t) {
			out = append(out, *cloneTournament(t))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	lo, hi := page(len(out), f.Offset, f.Limit)
	return out[lo:hi], nil
}

// AddParticipant registers p while the tournament is open and below
// capacity.
func (m *Memory) AddParticipant(_ context.Context, p *models.Participant, capacity int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tournaments[p.TournamentID]
	if !ok {
		return ErrNotFound
	}
	if t.Status != models.StatusRegistration {
		return ErrRegistrationClosed
	}
	for _, existing := range m.participants[p.TournamentID] {
		if existing.EntrantID == p.EntrantID {
			return ErrDuplicate
		}
	}
	if len(m.participants[p.TournamentID]) >= capacity {
		return ErrTournamentFull
	}
	m.participants[p.TournamentID] = append(m.participants[p.TournamentID], *p)
	t.Version++
	return nil
}

func (m *Memory) UpdateParticipantStatus(_ context.Context, tournamentID, entrantID string, status models.ParticipantStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ps := m.participants[tournamentID]
	for i := range ps {
		if ps[i].EntrantID == entrantID {
			ps[i].Status = status
			return nil
		}
	}
	return ErrNotFound
}

func (m *Memory) AppendTournamentViolations(_ context.Context, tournamentID string, vs []models.TournamentViolation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tournaments[tournamentID]; !ok {
		return ErrNotFound
	}
	m.tViolations[tournamentID] = append(m.tViolations[tournamentID], vs...)
	return nil
}

func (m *Memory) SetTournamentCompliance(_ context.Context, id string, compliant bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tournaments[id]
	if !ok {
		return ErrNotFound
	}
	t.RiotAPICompliant = compliant
	t.ComplianceChecked = true
	t.Version++
	return nil
}

// Users

func (m *Memory) GetUser(_ context.Context, id string) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := *u
	return &out, nil
}

// UpsertUser inserts a synced user or refreshes its profile fields. Balance
// and compliance state are owned locally and never overwritten.
func (m *Memory) UpsertUser(_ context.Context, u *models.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.users[u.ID]
	if !ok {
		fresh := *u
		fresh.Violations = nil
		if fresh.ComplianceStatus == "" {
			fresh.ComplianceStatus = models.UserStatusCompliant
		}
		m.users[u.ID] = &fresh
		return nil
	}
	existing.Username = u.Username
	existing.Email = u.Email
	existing.AccountType = u.AccountType
	if existing.LinkedAccount.AccountID != u.LinkedAccount.AccountID {
		existing.LinkedAccount.VerifiedAt = nil
	}
	existing.LinkedAccount.AccountID = u.LinkedAccount.AccountID
	existing.LinkedAccount.DisplayName = u.LinkedAccount.DisplayName
	existing.UpdatedAt = u.UpdatedAt
	return nil
}

// UpsertCreatorProfile creates a creator profile or updates its application
// status.
func (m *Memory) UpsertCreatorProfile(_ context.Context, p *models.CreatorProfile) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.creators[p.UserID]; ok {
		existing.ApplicationStatus = p.ApplicationStatus
		return nil
	}
	fresh := *p
	m.creators[p.UserID] = &fresh
	return nil
}

func (m *Memory) ListLinkedUsers(_ context.Context) ([]models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.User
	for _, u := range m.users {
		if u.HasLinkedAccount() && u.ComplianceStatus != models.UserStatusSuspended {
			out = append(out, *u)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) ListUsersForComplianceReview(_ context.Context, since time.Time) ([]models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.User
	for id, u := range m.users {
		if u.ComplianceStatus == models.UserStatusSuspended {
			continue
		}
		include := u.ComplianceStatus != models.UserStatusCompliant && u.ComplianceStatus != ""
		for _, v := range m.uViolations[id] {
			if !v.RecordedAt.Before(since) {
				include = true
				break
			}
		}
		if include {
			out = append(out, *u)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) ListUserViolationsSince(_ context.Context, userID string, since time.Time) ([]models.UserViolation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.UserViolation
	for _, v := range m.uViolations[userID] {
		if !v.RecordedAt.Before(since) {
			out = append(out, v)
		}
	}
	return out, nil
}

func (m *Memory) AppendUserViolations(_ context.Context, userID string, vs []models.UserViolation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[userID]; !ok {
		return ErrNotFound
	}
	m.uViolations[userID] = append(m.uViolations[userID], vs...)
	return nil
}

func (m *Memory) SetUserComplianceStatus(_ context.Context, userID string, status models.ComplianceStatus, checkedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return ErrNotFound
	}
	u.ComplianceStatus = status
	u.LastComplianceCheck = &checkedAt
	return nil
}

func (m *Memory) AdjustCoinBalance(_ context.Context, userID string, delta int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.adjustLocked(userID, delta)
}

func (m *Memory) adjustLocked(userID string, delta int64) error {
	u, ok := m.users[userID]
	if !ok {
		return ErrNotFound
	}
	if u.CoinBalance+delta < 0 {
		return ErrInsufficientBalance
	}
	u.CoinBalance += delta
	return nil
}

func (m *Memory) GetCreatorProfile(_ context.Context, userID string) (*models.CreatorProfile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.creators[userID]
	if !ok {
		return nil, ErrNotFound
	}
	out := *p
	return &out, nil
}

func (m *Memory) AddCreatorEarnings(_ context.Context, userID string, amount float64, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.creators[userID]
	if !ok {
		return ErrNotFound
	}
	p.TotalEarnings += amount
	p.LastPayoutAt = &at
	return nil
}

// Coin transactions

func (m *Memory) RecordTransaction(_ context.Context, tx *models.CoinTransaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if tx.PaymentID != nil {
		for _, existing := range m.transactions {
			if existing.PaymentID != nil && *existing.PaymentID == *tx.PaymentID {
				return ErrDuplicate
			}
		}
	}
	m.transactions = append(m.transactions, *tx)
	return nil
}

func (m *Memory) GetTransactionByPaymentID(_ context.Context, paymentID string) (*models.CoinTransaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, tx := range m.transactions {
		if tx.PaymentID != nil && *tx.PaymentID == paymentID {
			out := tx
			return &out, nil
		}
	}
	return nil, ErrNotFound
}

func (m *Memory) CompletePurchase(_ context.Context, paymentID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.transactions {
		tx := &m.transactions[i]
		if tx.PaymentID == nil || *tx.PaymentID != paymentID {
			continue
		}
		if tx.Status != models.TxPending {
			return false, nil
		}
		if err := m.adjustLocked(tx.UserID, tx.Amount); err != nil {
			return false, err
		}
		tx.Status = models.TxCompleted
		return true, nil
	}
	return false, ErrNotFound
}

func (m *Memory) ListTransactions(_ context.Context, f TransactionFilter) ([]models.CoinTransaction, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.CoinTransaction
	for i := range m.transactions {
		if f.matches(&m.transactions[i]) {
			out = append(out, m.transactions[i])
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	total := int64(len(out))
	lo, hi := page(len(out), f.Offset, f.Limit)
	return out[lo:hi], total, nil
}

// Audits

func (m *Memory) CreateAudit(_ context.Context, a *models.ComplianceAudit) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.audits = append(m.audits, cloneAudit(a))
	return nil
}

func (m *Memory) GetAudit(_ context.Context, id string) (*models.ComplianceAudit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.audits {
		if a.ID == id {
			out := cloneAudit(&a)
			return &out, nil
		}
	}
	return nil, ErrNotFound
}

func (m *Memory) ResolveAudit(_ context.Context, id string, resolved bool, resolution, resolvedBy string, at time.Time) (*models.ComplianceAudit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.audits {
		a := &m.audits[i]
		if a.ID != id {
			continue
		}
		if a.ResolvedAt != nil {
			return nil, ErrAlreadyResolved
		}
		a.Resolved = resolved
		a.Resolution = resolution
		a.ResolvedBy = resolvedBy
		a.ResolvedAt = &at
		out := cloneAudit(a)
		return &out, nil
	}
	return nil, ErrNotFound
}

func (m *Memory) ListAudits(_ context.Context, f AuditFilter) ([]models.ComplianceAudit, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.ComplianceAudit
	for i := range m.audits {
		if f.matches(&m.audits[i]) {
			out = append(out, cloneAudit(&m.audits[i]))
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	total := int64(len(out))
	lo, hi := page(len(out), f.Offset, f.Limit)
	return out[lo:hi], total, nil
}

func cloneTournament(t *models.Tournament) *models.Tournament {
	out := *t
	out.Participants = nil
	out.ComplianceViolations = nil
	out.PrizePool.Distribution = append([]models.PrizeShare(nil), t.PrizePool.Distribution...)
	out.Bracket = CloneBracket(t.Bracket)
	return &out
}

func cloneAudit(a *models.ComplianceAudit) models.ComplianceAudit {
	out := *a
	out.Violations = append([]models.Violation(nil), a.Violations...)
	out.Recommendations = append([]string(nil), a.Recommendations...)
	return out
}

// CloneBracket deep-copies a bracket.
func CloneBracket(b *models.Bracket) *models.Bracket {
	if b == nil {
		return nil
	}
	out := *b
	out.Rounds = make([]models.BracketRound, len(b.Rounds))
	for i, r := range b.Rounds {
		out.Rounds[i] = r
		out.Rounds[i].Matches = make([]models.BracketMatch, len(r.Matches))
		for j, m := range r.Matches {
			cp := m
			if m.Participant2 != nil {
				p2 := *m.Participant2
				cp.Participant2 = &p2
			}
			if m.Winner != nil {
				w := *m.Winner
				cp.Winner = &w
			}
			out.Rounds[i].Matches[j] = cp
		}
	}
	return &out
}
