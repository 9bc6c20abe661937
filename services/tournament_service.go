package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"esports-platform/models"
	"esports-platform/store"

	"github.com/google/uuid"
	"github.com/gosimple/slug"
	"github.com/jonboulle/clockwork"
)

// SupportedGames lists the titles tournaments can be created for.
var SupportedGames = []string{
	"League of Legends",
	"Valorant",
	"CS2",
	"Fortnite",
	"Overwatch 2",
	"Dota 2",
	"TFT",
}

const (
	MaxTournamentNameLength = 100
	MaxParticipantsCeiling  = 256
	MaxTeamSize             = 10
	defaultGameMode         = "Standard"
)

// Default prize split when the creator supplies none.
var defaultPrizeSplit = []models.PrizeShare{
	{Position: 1, Percentage: 50},
	{Position: 2, Percentage: 30},
	{Position: 3, Percentage: 20},
}

// Tournament events pushed through the Broadcaster.
const (
	EventParticipantJoined   = "participant_joined"
	EventTournamentStarted   = "tournament_started"
	EventMatchCompleted      = "match_completed"
	EventTournamentCompleted = "tournament_completed"
	EventTournamentCancelled = "tournament_cancelled"
)

type CreateTournamentRequest struct {
	Name              string                  `json:"name"`
	Description       string                  `json:"description"`
	Rules             string                  `json:"rules"`
	Game              string                  `json:"game"`
	GameMode          string                  `json:"game_mode"`
	Format            models.TournamentFormat `json:"format"`
	TeamSize          int                     `json:"team_size"`
	MaxParticipants   int                     `json:"max_participants"`
	EntryFee          float64                 `json:"entry_fee"`
	Prizes            []models.PrizeShare     `json:"prizes"`
	RegistrationStart time.Time               `json:"registration_start"`
	RegistrationEnd   time.Time               `json:"registration_end"`
	TournamentStart   time.Time               `json:"tournament_start"`
}

// UpdateTournamentRequest patches a tournament. Nil fields are left alone.
type UpdateTournamentRequest struct {
	Name              *string             `json:"name"`
	Description       *string             `json:"description"`
	Rules             *string             `json:"rules"`
	GameMode          *string             `json:"game_mode"`
	MaxParticipants   *int                `json:"max_participants"`
	EntryFee          *float64            `json:"entry_fee"`
	Prizes            []models.PrizeShare `json:"prizes"`
	RegistrationStart *time.Time          `json:"registration_start"`
	RegistrationEnd   *time.Time          `json:"registration_end"`
	TournamentStart   *time.Time          `json:"tournament_start"`
}

type RegisterRequest struct {
	TournamentID string `json:"-"`
	UserID       string `json:"-"`
	TeamID       string `json:"team_id"`
}

type Registration struct {
	Participant         models.Participant `json:"participant"`
	EntryFeeCoins       int64              `json:"entry_fee_coins"`
	RemainingCoins      int64              `json:"remaining_coins"`
	CurrentParticipants int                `json:"current_participants"`
}

type MatchResultRequest struct {
	TournamentID string `json:"-"`
	ActorID      string `json:"-"`
	MatchID      string `json:"match_id"`
	WinnerID     string `json:"winner_id"`
}

type MatchResult struct {
	Tournament *models.Tournament `json:"tournament"`
	Completed  bool               `json:"completed"`
	ChampionID string             `json:"champion_id,omitempty"`
}

type CancelResult struct {
	Tournament *models.Tournament `json:"tournament"`
	Refunded   int                `json:"refunded"`
	Failed     int                `json:"failed"`
}

// TournamentService owns the tournament lifecycle: creation under the
// compliance rules, registration against the coin ledger, bracket play and
// completion.
type TournamentService struct {
	tournaments TournamentStore
	users       UserStore
	rules       *ComplianceRuleSet
	audits      *ComplianceAuditLog
	ledger      *CoinLedger
	brackets    *BracketGenerator
	broadcaster Broadcaster
	clock       clockwork.Clock
	logger      *slog.Logger
}

func NewTournamentService(
	tournaments TournamentStore,
	users UserStore,
	rules *ComplianceRuleSet,
	audits *ComplianceAuditLog,
	ledger *CoinLedger,
	brackets *BracketGenerator,
	broadcaster Broadcaster,
	clock clockwork.Clock,
	logger *slog.Logger,
) *TournamentService {
	return &TournamentService{
		tournaments: tournaments,
		users:       users,
		rules:       rules,
		audits:      audits,
		ledger:      ledger,
		brackets:    brackets,
		broadcaster: broadcaster,
		clock:       clock,
		logger:      logger,
	}
}

func isSupportedGame(game string) bool {
	for _, g := range SupportedGames {
		if g == game {
			return true
		}
	}
	return false
}

// validateInput rejects malformed tournaments before the compliance rules run.
// Participant floors and fee caps are policy, not input, and are left to the
// rule set.
func validateInput(t *models.Tournament, now time.Time, requireFutureStart bool) string {
	switch {
	case strings.TrimSpace(t.Name) == "":
		return "tournament name is required"
	case len(t.Name) > MaxTournamentNameLength:
		return fmt.Sprintf("tournament name cannot exceed %d characters", MaxTournamentNameLength)
	case !isSupportedGame(t.Game):
		return fmt.Sprintf("unsupported game %q", t.Game)
	case t.TeamSize < 1 || t.TeamSize > MaxTeamSize:
		return fmt.Sprintf("team size must be between 1 and %d", MaxTeamSize)
	case t.MaxParticipants <= 0 || t.MaxParticipants > MaxParticipantsCeiling:
		return fmt.Sprintf("max participants must be between 1 and %d", MaxParticipantsCeiling)
	case t.EntryFee < 0 || math.IsNaN(t.EntryFee) || math.IsInf(t.EntryFee, 0):
		return "entry fee must be a non-negative amount"
	case t.RegistrationStart.IsZero() || t.RegistrationEnd.IsZero() || t.TournamentStart.IsZero():
		return "registration start, registration end and tournament start are required"
	case requireFutureStart && t.RegistrationStart.Before(now):
		return "registration start cannot be in the past"
	case !t.RegistrationEnd.After(t.RegistrationStart):
		return "registration end must be after registration start"
	case !t.TournamentStart.After(t.RegistrationEnd):
		return "tournament start must be after registration ends"
	}
	for _, p := range t.PrizePool.Distribution {
		if p.Position < 1 || p.Percentage < 0 || p.Amount < 0 {
			return "prize shares need a positive position and non-negative amounts"
		}
	}
	return ""
}

// buildPrizePool derives the pool from the entry fee, filling share amounts
// from percentages.
func buildPrizePool(entryFee float64, maxParticipants int, shares []models.PrizeShare) models.PrizePool {
	total := roundCents(entryFee * float64(maxParticipants))
	if len(shares) == 0 {
		shares = defaultPrizeSplit
	}
	dist := make([]models.PrizeShare, 0, len(shares))
	var percent, assigned float64
	last := -1
	for _, s := range shares {
		if s.Amount == 0 && s.Percentage > 0 {
			s.Amount = roundCents(total * s.Percentage / 100)
			percent += s.Percentage
			last = len(dist)
		}
		assigned += s.Amount
		dist = append(dist, s)
	}
	// A full split absorbs rounding in its last computed share.
	if last >= 0 && math.Abs(percent-100) < 1e-9 {
		dist[last].Amount = roundCents(dist[last].Amount + total - assigned)
	}
	return models.PrizePool{Total: total, Currency: "USD", Distribution: dist}
}

// Create validates and persists a new draft tournament for a creator with an
// approved profile. Every compliance evaluation is audited, pass or fail.
func (s *TournamentService) Create(ctx context.Context, creatorID string, req CreateTournamentRequest) (OperationResult[models.Tournament], error) {
	creator, err := s.users.GetUser(ctx, creatorID)
	if errors.Is(err, store.ErrNotFound) {
		return fail[models.Tournament](FailureNotFound, "user %s not found", creatorID), nil
	}
	if err != nil {
		return OperationResult[models.Tournament]{}, fmt.Errorf("get creator: %w", err)
	}
	if creator.AccountType != models.AccountCreator {
		return fail[models.Tournament](FailureNotCreator, "only creator accounts can create tournaments"), nil
	}
	profile, err := s.users.GetCreatorProfile(ctx, creatorID)
	if errors.Is(err, store.ErrNotFound) || (err == nil && profile.ApplicationStatus != models.CreatorApproved) {
		return fail[models.Tournament](FailureNotCreator, "creator profile is not approved"), nil
	}
	if err != nil {
		return OperationResult[models.Tournament]{}, fmt.Errorf("get creator profile: %w", err)
	}

	now := s.clock.Now()
	t := newDraft(creatorID, req, now)
	if msg := validateInput(t, now, true); msg != "" {
		return fail[models.Tournament](FailureValidation, "%s", msg), nil
	}

	result := s.rules.ValidateTournament(t, creator.ComplianceStatus)
	s.audits.recordQuietly(ctx, AuditEntry{
		SubjectID:   t.ID,
		SubjectType: models.SubjectTournament,
		CheckType:   models.CheckCreation,
		Result:      result,
		AuditedBy:   models.AuditedBySystem,
	})
	if !result.Compliant {
		s.logger.Info("tournament rejected by compliance rules",
			"creator_id", creatorID, "violations", len(result.Violations))
		return rejectPolicy[models.Tournament]("tournament does not meet compliance requirements", result.Violations), nil
	}

	t.RiotAPICompliant = true
	t.ComplianceChecked = true
	if err := s.tournaments.CreateTournament(ctx, t); err != nil {
		return OperationResult[models.Tournament]{}, fmt.Errorf("create tournament: %w", err)
	}
	s.logger.Info("tournament created", "tournament_id", t.ID, "creator_id", creatorID, "game", t.Game)
	return succeed(*t), nil
}

// newDraft builds an unsaved draft tournament from a request, applying
// defaults.
func newDraft(creatorID string, req CreateTournamentRequest, now time.Time) *models.Tournament {
	if req.Format == "" {
		req.Format = models.FormatSingleElimination
	}
	if req.GameMode == "" {
		req.GameMode = defaultGameMode
	}
	if req.TeamSize == 0 {
		req.TeamSize = 1
	}
	id := uuid.NewString()
	return &models.Tournament{
		ID:                id,
		Slug:              fmt.Sprintf("%s-%s", slug.Make(req.Name), id[:8]),
		Name:              strings.TrimSpace(req.Name),
		Description:       req.Description,
		Rules:             req.Rules,
		Game:              req.Game,
		GameMode:          req.GameMode,
		CreatorID:         creatorID,
		Format:            req.Format,
		TeamSize:          req.TeamSize,
		MaxParticipants:   req.MaxParticipants,
		EntryFee:          req.EntryFee,
		PrizePool:         buildPrizePool(req.EntryFee, req.MaxParticipants, req.Prizes),
		Status:            models.StatusDraft,
		RegistrationStart: req.RegistrationStart,
		RegistrationEnd:   req.RegistrationEnd,
		TournamentStart:   req.TournamentStart,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
}

// Preview evaluates a creation request against the compliance rules without
// persisting or auditing it.
func (s *TournamentService) Preview(ctx context.Context, creatorID string, req CreateTournamentRequest) (OperationResult[ComplianceResult], error) {
	now := s.clock.Now()
	t := newDraft(creatorID, req, now)
	if msg := validateInput(t, now, false); msg != "" {
		return fail[ComplianceResult](FailureValidation, "%s", msg), nil
	}
	creatorStatus, err := s.creatorStatus(ctx, creatorID)
	if err != nil {
		return OperationResult[ComplianceResult]{}, err
	}
	return succeed(s.rules.ValidateTournament(t, creatorStatus)), nil
}

// Update patches a draft or open tournament. The patched tournament must
// still pass the compliance rules.
func (s *TournamentService) Update(ctx context.Context, actorID, id string, req UpdateTournamentRequest) (OperationResult[models.Tournament], error) {
	var result *ComplianceResult
	t, res, err := s.modify(ctx, actorID, id, func(t *models.Tournament) (*Failure, error) {
		result = nil
		if res := applyUpdate(t, req, s.clock.Now()); res != nil {
			return res, nil
		}
		creatorStatus, err := s.creatorStatus(ctx, t.CreatorID)
		if err != nil {
			return nil, err
		}
		r := s.rules.ValidateTournament(t, creatorStatus)
		result = &r
		if !r.Compliant {
			return &Failure{
				Code:       FailurePolicyViolation,
				Message:    "tournament changes do not meet compliance requirements",
				Violations: r.Violations,
			}, nil
		}
		t.RiotAPICompliant = true
		t.ComplianceChecked = true
		t.UpdatedAt = s.clock.Now()
		return nil, nil
	})
	if result != nil {
		s.audits.recordQuietly(ctx, AuditEntry{
			SubjectID:   id,
			SubjectType: models.SubjectTournament,
			CheckType:   models.CheckModification,
			Result:      *result,
			AuditedBy:   models.AuditedBySystem,
			AuditorID:   actorID,
		})
	}
	if res != nil || err != nil {
		return relay[models.Tournament](res), err
	}
	return succeed(*t), nil
}

// applyUpdate patches t in place and checks the input bounds.
func applyUpdate(t *models.Tournament, req UpdateTournamentRequest, now time.Time) *Failure {
	if t.Status != models.StatusDraft && t.Status != models.StatusRegistration {
		return &Failure{Code: FailureInvalidState, Message: fmt.Sprintf("tournament cannot be modified while %s", t.Status)}
	}
	if req.Name != nil {
		t.Name = strings.TrimSpace(*req.Name)
	}
	if req.Description != nil {
		t.Description = *req.Description
	}
	if req.Rules != nil {
		t.Rules = *req.Rules
	}
	if req.GameMode != nil {
		t.GameMode = *req.GameMode
	}
	if req.MaxParticipants != nil {
		if *req.MaxParticipants < len(t.Participants) {
			return &Failure{Code: FailureValidation, Message: fmt.Sprintf("max participants cannot drop below the %d already registered", len(t.Participants))}
		}
		t.MaxParticipants = *req.MaxParticipants
	}
	if req.EntryFee != nil {
		if len(t.Participants) > 0 && *req.EntryFee != t.EntryFee {
			return &Failure{Code: FailureInvalidState, Message: "entry fee cannot change after participants registered"}
		}
		t.EntryFee = *req.EntryFee
	}
	if req.RegistrationStart != nil {
		t.RegistrationStart = *req.RegistrationStart
	}
	if req.RegistrationEnd != nil {
		t.RegistrationEnd = *req.RegistrationEnd
	}
	if req.TournamentStart != nil {
		t.TournamentStart = *req.TournamentStart
	}
	if req.EntryFee != nil || req.MaxParticipants != nil || req.Prizes != nil {
		shares := req.Prizes
		if shares == nil {
			shares = percentagesOnly(t.PrizePool.Distribution)
		}
		t.PrizePool = buildPrizePool(t.EntryFee, t.MaxParticipants, shares)
	}
	if msg := validateInput(t, now, req.RegistrationStart != nil); msg != "" {
		return &Failure{Code: FailureValidation, Message: msg}
	}
	return nil
}

// percentagesOnly drops computed amounts so they are rederived from a new
// total.
func percentagesOnly(shares []models.PrizeShare) []models.PrizeShare {
	out := make([]models.PrizeShare, 0, len(shares))
	for _, s := range shares {
		if s.Percentage > 0 {
			s.Amount = 0
		}
		out = append(out, s)
	}
	return out
}

func (s *TournamentService) Get(ctx context.Context, id string) (OperationResult[models.Tournament], error) {
	t, err := s.tournaments.GetTournament(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return fail[models.Tournament](FailureNotFound, "tournament %s not found", id), nil
	}
	if err != nil {
		return OperationResult[models.Tournament]{}, fmt.Errorf("get tournament: %w", err)
	}
	return succeed(*t), nil
}

func (s *TournamentService) List(ctx context.Context, f store.TournamentFilter) ([]models.Tournament, error) {
	ts, err := s.tournaments.ListTournaments(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("list tournaments: %w", err)
	}
	return ts, nil
}

// transitions is the lifecycle graph. Completion only happens through the
// final match result.
var transitions = map[models.TournamentStatus][]models.TournamentStatus{
	models.StatusDraft:        {models.StatusRegistration, models.StatusCancelled},
	models.StatusRegistration: {models.StatusOngoing, models.StatusCancelled},
	models.StatusOngoing:      {models.StatusCompleted, models.StatusCancelled},
}

// CanTransition reports whether from may move to to.
func CanTransition(from, to models.TournamentStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Transition moves a tournament along its lifecycle on behalf of actorID.
func (s *TournamentService) Transition(ctx context.Context, actorID, id string, to models.TournamentStatus) (OperationResult[models.Tournament], error) {
	switch to {
	case models.StatusOngoing:
		return s.Start(ctx, actorID, id)
	case models.StatusCancelled:
		res, err := s.Cancel(ctx, actorID, id)
		if err != nil || res.Failure != nil {
			return relay[models.Tournament](res.Failure), err
		}
		return succeed(*res.Success.Tournament), nil
	case models.StatusCompleted:
		return fail[models.Tournament](FailureInvalidState, "tournaments complete when the final match is reported"), nil
	}

	t, res, err := s.modify(ctx, actorID, id, func(t *models.Tournament) (*Failure, error) {
		if !CanTransition(t.Status, to) {
			return &Failure{Code: FailureInvalidState, Message: fmt.Sprintf("cannot move tournament from %s to %s", t.Status, to)}, nil
		}
		if to == models.StatusRegistration && !t.RiotAPICompliant {
			return &Failure{Code: FailureInvalidState, Message: "tournament has unresolved compliance violations"}, nil
		}
		t.Status = to
		t.UpdatedAt = s.clock.Now()
		return nil, nil
	})
	if res != nil || err != nil {
		return relay[models.Tournament](res), err
	}
	s.logger.Info("tournament status changed", "tournament_id", t.ID, "status", to)
	return succeed(*t), nil
}

// Register enters a user, or a team for team tournaments, and charges the
// entry fee in coins through the ledger.
func (s *TournamentService) Register(ctx context.Context, req RegisterRequest) (OperationResult[Registration], error) {
	t, err := s.tournaments.GetTournament(ctx, req.TournamentID)
	if errors.Is(err, store.ErrNotFound) {
		return fail[Registration](FailureNotFound, "tournament %s not found", req.TournamentID), nil
	}
	if err != nil {
		return OperationResult[Registration]{}, fmt.Errorf("get tournament: %w", err)
	}
	now := s.clock.Now()
	if t.Status != models.StatusRegistration || now.After(t.RegistrationEnd) {
		return fail[Registration](FailureInvalidState, "tournament registration is closed"), nil
	}

	if _, err := s.users.GetUser(ctx, req.UserID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fail[Registration](FailureNotFound, "user %s not found", req.UserID), nil
		}
		return OperationResult[Registration]{}, fmt.Errorf("get user: %w", err)
	}

	entrantID, entrantType := req.UserID, models.EntrantUser
	if t.TeamSize > 1 {
		if req.TeamID == "" {
			return fail[Registration](FailureValidation, "team id is required for team tournaments"), nil
		}
		entrantID, entrantType = req.TeamID, models.EntrantTeam
	}
	for _, p := range t.Participants {
		if p.EntrantID == entrantID {
			return fail[Registration](FailureAlreadyRegistered, "already registered for this tournament"), nil
		}
	}
	if len(t.Participants) >= t.MaxParticipants {
		return fail[Registration](FailureTournamentFull, "tournament is full"), nil
	}

	fee := s.ledger.CoinsForUSD(t.EntryFee)
	if fee > 0 {
		spend, err := s.ledger.Spend(ctx, SpendRequest{
			UserID:    req.UserID,
			Amount:    fee,
			UsageType: UsageTournamentEntryFee,
			Purpose:   "Entry fee for " + t.Name,
		})
		if err != nil {
			return OperationResult[Registration]{}, err
		}
		if spend.Failure != nil {
			return relay[Registration](spend.Failure), nil
		}
	}

	p := &models.Participant{
		ID:            uuid.NewString(),
		TournamentID:  t.ID,
		EntrantID:     entrantID,
		EntrantType:   entrantType,
		Status:        models.ParticipantRegistered,
		PaidBy:        req.UserID,
		EntryFeeCoins: fee,
		RegisteredAt:  now,
	}
	if err := s.tournaments.AddParticipant(ctx, p, t.MaxParticipants); err != nil {
		s.refundQuietly(ctx, req.UserID, fee, "Entry fee refund for "+t.Name)
		switch {
		case errors.Is(err, store.ErrDuplicate):
			return fail[Registration](FailureAlreadyRegistered, "already registered for this tournament"), nil
		case errors.Is(err, store.ErrTournamentFull):
			return fail[Registration](FailureTournamentFull, "tournament is full"), nil
		case errors.Is(err, store.ErrRegistrationClosed):
			return fail[Registration](FailureInvalidState, "tournament registration is closed"), nil
		}
		return OperationResult[Registration]{}, fmt.Errorf("add participant: %w", err)
	}

	count := len(t.Participants) + 1
	s.broadcast(ctx, t.ID, EventParticipantJoined, map[string]any{
		"tournament_id":        t.ID,
		"participant":          p,
		"current_participants": count,
	})
	s.logger.Info("participant registered", "tournament_id", t.ID, "entrant_id", entrantID, "fee_coins", fee)
	return succeed(Registration{
		Participant:         *p,
		EntryFeeCoins:       fee,
		RemainingCoins:      s.ledger.currentBalance(ctx, req.UserID, 0),
		CurrentParticipants: count,
	}), nil
}

// Start closes registration, builds the bracket and opens play.
func (s *TournamentService) Start(ctx context.Context, actorID, id string) (OperationResult[models.Tournament], error) {
	t, res, err := s.modify(ctx, actorID, id, func(t *models.Tournament) (*Failure, error) {
		if t.Status != models.StatusRegistration {
			return &Failure{Code: FailureInvalidState, Message: fmt.Sprintf("tournament cannot be started while %s", t.Status)}, nil
		}
		if len(t.Participants) < 2 {
			return &Failure{Code: FailureInvalidState, Message: "tournament needs at least 2 participants to start"}, nil
		}
		ids := make([]string, 0, len(t.Participants))
		for _, p := range t.Participants {
			ids = append(ids, p.EntrantID)
		}
		bracket, err := s.brackets.Generate(t.Format, ids)
		if err != nil {
			return &Failure{Code: FailureValidation, Message: err.Error()}, nil
		}
		t.Bracket = bracket
		t.Status = models.StatusOngoing
		t.UpdatedAt = s.clock.Now()
		return nil, nil
	})
	if res != nil || err != nil {
		return relay[models.Tournament](res), err
	}
	s.broadcast(ctx, t.ID, EventTournamentStarted, map[string]any{
		"tournament_id": t.ID,
		"bracket":       t.Bracket,
	})
	s.logger.Info("tournament started", "tournament_id", t.ID, "participants", len(t.Participants), "matches", t.Bracket.MatchCount())
	return succeed(*t), nil
}

// ReportMatchResult records a winner and advances the bracket. The final
// result completes the tournament and writes a completion audit.
func (s *TournamentService) ReportMatchResult(ctx context.Context, req MatchResultRequest) (OperationResult[MatchResult], error) {
	var (
		loserID string
		out     MatchResult
	)
	t, res, err := s.modify(ctx, req.ActorID, req.TournamentID, func(t *models.Tournament) (*Failure, error) {
		loserID, out = "", MatchResult{}
		if t.Status != models.StatusOngoing || t.Bracket == nil {
			return &Failure{Code: FailureInvalidState, Message: "tournament is not in play"}, nil
		}
		match, ok := t.Bracket.Match(req.MatchID)
		if !ok {
			return &Failure{Code: FailureNotFound, Message: fmt.Sprintf("match %s not found", req.MatchID)}, nil
		}
		if match.Participant2 != nil {
			loserID = match.Participant1.ParticipantID
			if loserID == req.WinnerID {
				loserID = match.Participant2.ParticipantID
			}
		}
		if err := RecordResult(t.Bracket, req.MatchID, req.WinnerID); err != nil {
			switch {
			case errors.Is(err, ErrMatchCompleted), errors.Is(err, ErrMatchNotReady):
				return &Failure{Code: FailureInvalidState, Message: err.Error()}, nil
			case errors.Is(err, ErrInvalidWinner):
				return &Failure{Code: FailureValidation, Message: err.Error()}, nil
			}
			return nil, err
		}
		if t.Format == models.FormatSwiss && !Finished(t.Bracket) && roundsComplete(t.Bracket) {
			if err := PairNextSwissRound(t.Bracket); err != nil {
				return nil, fmt.Errorf("pair next swiss round: %w", err)
			}
		}
		now := s.clock.Now()
		if champion, done := Champion(t.Bracket); done {
			t.Status = models.StatusCompleted
			t.TournamentEnd = &now
			out.Completed = true
			out.ChampionID = champion
		}
		t.UpdatedAt = now
		return nil, nil
	})
	if res != nil || err != nil {
		return relay[MatchResult](res), err
	}
	out.Tournament = t

	if t.Format == models.FormatSingleElimination && loserID != "" {
		s.setParticipantStatus(ctx, t.ID, loserID, models.ParticipantEliminated)
	}
	s.broadcast(ctx, t.ID, EventMatchCompleted, map[string]any{
		"tournament_id": t.ID,
		"match_id":      req.MatchID,
		"winner_id":     req.WinnerID,
	})
	if out.Completed {
		s.setParticipantStatus(ctx, t.ID, out.ChampionID, models.ParticipantWinner)
		s.auditCompletion(ctx, t)
		s.broadcast(ctx, t.ID, EventTournamentCompleted, map[string]any{
			"tournament_id": t.ID,
			"champion_id":   out.ChampionID,
		})
		s.logger.Info("tournament completed", "tournament_id", t.ID, "champion_id", out.ChampionID)
	}
	return succeed(out), nil
}

func (s *TournamentService) auditCompletion(ctx context.Context, t *models.Tournament) {
	creatorStatus, err := s.creatorStatus(ctx, t.CreatorID)
	if err != nil {
		s.logger.Warn("completion audit skipped", "tournament_id", t.ID, "error", err)
		return
	}
	s.audits.recordQuietly(ctx, AuditEntry{
		SubjectID:   t.ID,
		SubjectType: models.SubjectTournament,
		CheckType:   models.CheckCompletion,
		Result:      s.rules.ValidateTournament(t, creatorStatus),
		AuditedBy:   models.AuditedBySystem,
	})
}

// Cancel stops a tournament and refunds every entry fee. Only the request
// whose status change lands refunds; the participant list it refunds is the
// one the change was saved against. A failed refund is logged and counted;
// the rest still go through.
func (s *TournamentService) Cancel(ctx context.Context, actorID, id string) (OperationResult[CancelResult], error) {
	t, res, err := s.modify(ctx, actorID, id, func(t *models.Tournament) (*Failure, error) {
		if !CanTransition(t.Status, models.StatusCancelled) {
			return &Failure{Code: FailureInvalidState, Message: fmt.Sprintf("tournament cannot be cancelled while %s", t.Status)}, nil
		}
		t.Status = models.StatusCancelled
		t.UpdatedAt = s.clock.Now()
		return nil, nil
	})
	if res != nil || err != nil {
		return relay[CancelResult](res), err
	}

	out := CancelResult{Tournament: t}
	for _, p := range t.Participants {
		if p.EntryFeeCoins <= 0 {
			continue
		}
		if err := s.ledger.Refund(ctx, p.PaidBy, p.EntryFeeCoins, "Refund for cancelled "+t.Name); err != nil {
			out.Failed++
			s.logger.Error("entry fee refund failed",
				"tournament_id", t.ID, "user_id", p.PaidBy, "coins", p.EntryFeeCoins, "error", err)
			continue
		}
		out.Refunded++
	}
	s.broadcast(ctx, t.ID, EventTournamentCancelled, map[string]any{"tournament_id": t.ID})
	s.logger.Info("tournament cancelled", "tournament_id", t.ID, "refunded", out.Refunded, "failed", out.Failed)
	return succeed(out), nil
}

// maxSaveAttempts bounds how often a tournament is reloaded after losing a
// write race.
const maxSaveAttempts = 5

// modify loads a tournament actorID may manage, applies change and saves it.
// When another writer saved first the tournament is reloaded and change runs
// again on the fresh copy, so change must only touch t.
func (s *TournamentService) modify(ctx context.Context, actorID, id string, change func(t *models.Tournament) (*Failure, error)) (*models.Tournament, *Failure, error) {
	for attempt := 1; ; attempt++ {
		t, res, err := s.loadForActor(ctx, actorID, id)
		if res != nil || err != nil {
			return nil, res, err
		}
		if res, err := change(t); res != nil || err != nil {
			return nil, res, err
		}
		err = s.tournaments.SaveTournament(ctx, t)
		if err == nil {
			return t, nil, nil
		}
		if !errors.Is(err, store.ErrStaleWrite) {
			return nil, nil, fmt.Errorf("save tournament: %w", err)
		}
		if attempt == maxSaveAttempts {
			return nil, &Failure{Code: FailureInvalidState, Message: "tournament is being changed by another request, try again"}, nil
		}
		s.logger.Debug("tournament changed concurrently, reloading", "tournament_id", id, "attempt", attempt)
	}
}

// loadForActor fetches a tournament that actorID may manage: its creator or
// an admin.
func (s *TournamentService) loadForActor(ctx context.Context, actorID, id string) (*models.Tournament, *Failure, error) {
	t, err := s.tournaments.GetTournament(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, &Failure{Code: FailureNotFound, Message: fmt.Sprintf("tournament %s not found", id)}, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("get tournament: %w", err)
	}
	if t.CreatorID == actorID {
		return t, nil, nil
	}
	actor, err := s.users.GetUser(ctx, actorID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, nil, fmt.Errorf("get actor: %w", err)
	}
	if actor == nil || actor.AccountType != models.AccountAdmin {
		return nil, &Failure{Code: FailureForbidden, Message: "only the tournament creator can manage this tournament"}, nil
	}
	return t, nil, nil
}

func relay[S any](f *Failure) OperationResult[S] {
	return OperationResult[S]{Failure: f}
}

func (s *TournamentService) creatorStatus(ctx context.Context, creatorID string) (models.ComplianceStatus, error) {
	u, err := s.users.GetUser(ctx, creatorID)
	if errors.Is(err, store.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get creator: %w", err)
	}
	return u.ComplianceStatus, nil
}

func (s *TournamentService) setParticipantStatus(ctx context.Context, tournamentID, entrantID string, status models.ParticipantStatus) {
	if err := s.tournaments.UpdateParticipantStatus(ctx, tournamentID, entrantID, status); err != nil {
		s.logger.Warn("failed to update participant status",
			"tournament_id", tournamentID, "entrant_id", entrantID, "status", status, "error", err)
	}
}

func (s *TournamentService) refundQuietly(ctx context.Context, userID string, coins int64, purpose string) {
	if err := s.ledger.Refund(ctx, userID, coins, purpose); err != nil {
		s.logger.Error("entry fee refund failed", "user_id", userID, "coins", coins, "error", err)
	}
}

func (s *TournamentService) broadcast(ctx context.Context, tournamentID, event string, payload any) {
	if s.broadcaster != nil {
		s.broadcaster.Broadcast(ctx, tournamentID, event, payload)
	}
}
