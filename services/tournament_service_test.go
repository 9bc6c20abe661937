package services

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"esports-platform/models"
	"esports-platform/store"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingBroadcaster struct {
	mu     sync.Mutex
	events []string
}

func (b *recordingBroadcaster) Broadcast(_ context.Context, tournamentID, event string, _ any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, event)
}

func (b *recordingBroadcaster) has(event string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, e := range b.events {
		if e == event {
			return true
		}
	}
	return false
}

type tournamentFixture struct {
	mem         *store.Memory
	broadcaster *recordingBroadcaster
	svc         *TournamentService
}

func newTournamentFixture(t *testing.T) *tournamentFixture {
	t.Helper()
	mem := store.NewMemory()
	clock := clockwork.NewFakeClockAt(testEpoch)
	metrics := NewMetrics(prometheus.NewRegistry())
	rules := NewComplianceRuleSet(0.01)
	audits := NewComplianceAuditLog(mem, mem, mem, clock, discardLogger(), metrics)
	ledger := NewCoinLedger(mem, mem, &fakePaymentGateway{}, rules, DefaultLedgerConfig(), clock, discardLogger(), metrics)
	broadcaster := &recordingBroadcaster{}

	seedCreator(mem, "creator", 0, models.CreatorApproved)
	mem.PutUser(models.User{ID: "admin", Username: "admin", AccountType: models.AccountAdmin})

	return &tournamentFixture{
		mem:         mem,
		broadcaster: broadcaster,
		svc: NewTournamentService(mem, mem, rules, audits, ledger, NewSeededBracketGenerator(7),
			broadcaster, clock, discardLogger()),
	}
}

func createRequest() CreateTournamentRequest {
	return CreateTournamentRequest{
		Name:              "Spring Split Open",
		Description:       "Community bracket",
		Game:              "Valorant",
		Format:            models.FormatSingleElimination,
		MaxParticipants:   32,
		EntryFee:          5,
		RegistrationStart: testEpoch.Add(24 * time.Hour),
		RegistrationEnd:   testEpoch.Add(72 * time.Hour),
		TournamentStart:   testEpoch.Add(96 * time.Hour),
	}
}

// openTournament creates a tournament and opens registration.
func (f *tournamentFixture) openTournament(t *testing.T, req CreateTournamentRequest) string {
	t.Helper()
	ctx := context.Background()
	created, err := f.svc.Create(ctx, "creator", req)
	require.NoError(t, err)
	require.True(t, created.OK(), "create failed: %+v", created.Failure)

	opened, err := f.svc.Transition(ctx, "creator", created.Success.ID, models.StatusRegistration)
	require.NoError(t, err)
	require.True(t, opened.OK(), "open failed: %+v", opened.Failure)
	return created.Success.ID
}

func (f *tournamentFixture) registerPlayers(t *testing.T, tournamentID string, n int, balance int64) []string {
	t.Helper()
	ids := make([]string, 0, n)
	for i := 1; i <= n; i++ {
		id := fmt.Sprintf("player-%02d", i)
		f.mem.PutUser(models.User{ID: id, Username: id, CoinBalance: balance})
		res, err := f.svc.Register(context.Background(), RegisterRequest{TournamentID: tournamentID, UserID: id})
		require.NoError(t, err)
		require.True(t, res.OK(), "register %s: %+v", id, res.Failure)
		ids = append(ids, id)
	}
	return ids
}

func TestCreateTournament(t *testing.T) {
	f := newTournamentFixture(t)
	ctx := context.Background()

	res, err := f.svc.Create(ctx, "creator", createRequest())
	require.NoError(t, err)
	require.True(t, res.OK())

	got := res.Success
	assert.Equal(t, models.StatusDraft, got.Status)
	assert.True(t, got.RiotAPICompliant)
	assert.True(t, got.ComplianceChecked)
	assert.True(t, strings.HasPrefix(got.Slug, "spring-split-open-"), got.Slug)
	assert.Equal(t, "Standard", got.GameMode)
	assert.Equal(t, 1, got.TeamSize)
	assert.Equal(t, 160.0, got.PrizePool.Total)
	require.Len(t, got.PrizePool.Distribution, 3)
	assert.Equal(t, 80.0, got.PrizePool.Distribution[0].Amount)
	assert.Equal(t, 48.0, got.PrizePool.Distribution[1].Amount)
	assert.Equal(t, 32.0, got.PrizePool.Distribution[2].Amount)

	audits, _, err := f.mem.ListAudits(ctx, store.AuditFilter{SubjectID: got.ID})
	require.NoError(t, err)
	require.Len(t, audits, 1)
	assert.Equal(t, models.CheckCreation, audits[0].CheckType)
	assert.True(t, audits[0].Compliant)
}

func TestCreateTournamentRejectedByPolicy(t *testing.T) {
	f := newTournamentFixture(t)
	ctx := context.Background()

	req := createRequest()
	req.MaxParticipants = 10
	req.Description = "Place your bets"

	res, err := f.svc.Create(ctx, "creator", req)
	require.NoError(t, err)
	require.NotNil(t, res.Failure)
	assert.Equal(t, FailurePolicyViolation, res.Failure.Code)
	assert.Equal(t, []models.ViolationType{models.ViolationMinimumParticipants, models.ViolationGamblingFeatures},
		violationTypes(res.Failure.Violations))

	stored, err := f.mem.ListTournaments(ctx, store.TournamentFilter{})
	require.NoError(t, err)
	assert.Empty(t, stored)

	audits, _, err := f.mem.ListAudits(ctx, store.AuditFilter{CheckType: models.CheckCreation})
	require.NoError(t, err)
	require.Len(t, audits, 1)
	assert.False(t, audits[0].Compliant)
}

func TestCreateTournamentValidation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*CreateTournamentRequest)
	}{
		{"empty name", func(r *CreateTournamentRequest) { r.Name = "  " }},
		{"long name", func(r *CreateTournamentRequest) { r.Name = strings.Repeat("x", 101) }},
		{"unknown game", func(r *CreateTournamentRequest) { r.Game = "Chess" }},
		{"team too large", func(r *CreateTournamentRequest) { r.TeamSize = 11 }},
		{"too many participants", func(r *CreateTournamentRequest) { r.MaxParticipants = 257 }},
		{"no participants", func(r *CreateTournamentRequest) { r.MaxParticipants = 0 }},
		{"negative fee", func(r *CreateTournamentRequest) { r.EntryFee = -1 }},
		{"registration in the past", func(r *CreateTournamentRequest) { r.RegistrationStart = testEpoch.Add(-time.Hour) }},
		{"registration ends first", func(r *CreateTournamentRequest) { r.RegistrationEnd = r.RegistrationStart }},
		{"start before registration closes", func(r *CreateTournamentRequest) { r.TournamentStart = r.RegistrationEnd }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newTournamentFixture(t)
			req := createRequest()
			tt.mutate(&req)

			res, err := f.svc.Create(context.Background(), "creator", req)
			require.NoError(t, err)
			require.NotNil(t, res.Failure)
			assert.Equal(t, FailureValidation, res.Failure.Code)
		})
	}
}

func TestCreateTournamentRequiresApprovedCreator(t *testing.T) {
	f := newTournamentFixture(t)
	f.mem.PutUser(models.User{ID: "player", Username: "player"})
	seedCreator(f.mem, "pending", 0, models.CreatorPending)

	for _, id := range []string{"player", "pending"} {
		res, err := f.svc.Create(context.Background(), id, createRequest())
		require.NoError(t, err)
		require.NotNil(t, res.Failure, id)
		assert.Equal(t, FailureNotCreator, res.Failure.Code, id)
	}

	res, err := f.svc.Create(context.Background(), "ghost", createRequest())
	require.NoError(t, err)
	assert.Equal(t, FailureNotFound, res.Failure.Code)
}

func TestBuildPrizePoolAbsorbsRounding(t *testing.T) {
	pool := buildPrizePool(0.01, 7, nil)
	var sum float64
	for _, s := range pool.Distribution {
		sum += s.Amount
	}
	assert.InDelta(t, pool.Total, sum, 1e-9)
}

func TestRegister(t *testing.T) {
	f := newTournamentFixture(t)
	ctx := context.Background()
	id := f.openTournament(t, createRequest())

	f.mem.PutUser(models.User{ID: "alice", Username: "alice", CoinBalance: 1200})
	res, err := f.svc.Register(ctx, RegisterRequest{TournamentID: id, UserID: "alice"})
	require.NoError(t, err)
	require.True(t, res.OK())
	assert.Equal(t, int64(500), res.Success.EntryFeeCoins)
	assert.Equal(t, int64(700), res.Success.RemainingCoins)
	assert.Equal(t, 1, res.Success.CurrentParticipants)
	assert.True(t, f.broadcaster.has(EventParticipantJoined))

	again, err := f.svc.Register(ctx, RegisterRequest{TournamentID: id, UserID: "alice"})
	require.NoError(t, err)
	assert.Equal(t, FailureAlreadyRegistered, again.Failure.Code)
	assert.Equal(t, int64(700), balanceOf(t, f.mem, "alice"))

	f.mem.PutUser(models.User{ID: "bob", Username: "bob", CoinBalance: 100})
	poor, err := f.svc.Register(ctx, RegisterRequest{TournamentID: id, UserID: "bob"})
	require.NoError(t, err)
	assert.Equal(t, FailureInsufficientFunds, poor.Failure.Code)

	txs, _, err := f.mem.ListTransactions(ctx, store.TransactionFilter{UserID: "alice"})
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.Equal(t, models.TxSpend, txs[0].Type)
	assert.Equal(t, UsageTournamentEntryFee, txs[0].UsageType)
}

func TestRegisterRequiresOpenRegistration(t *testing.T) {
	f := newTournamentFixture(t)
	ctx := context.Background()
	created, err := f.svc.Create(ctx, "creator", createRequest())
	require.NoError(t, err)
	f.mem.PutUser(models.User{ID: "alice", Username: "alice", CoinBalance: 1000})

	res, err := f.svc.Register(ctx, RegisterRequest{TournamentID: created.Success.ID, UserID: "alice"})
	require.NoError(t, err)
	assert.Equal(t, FailureInvalidState, res.Failure.Code)
	assert.Equal(t, int64(1000), balanceOf(t, f.mem, "alice"))
}

func TestRegisterTeamTournament(t *testing.T) {
	f := newTournamentFixture(t)
	ctx := context.Background()
	req := createRequest()
	req.TeamSize = 5
	id := f.openTournament(t, req)
	f.mem.PutUser(models.User{ID: "captain", Username: "captain", CoinBalance: 1000})

	missing, err := f.svc.Register(ctx, RegisterRequest{TournamentID: id, UserID: "captain"})
	require.NoError(t, err)
	assert.Equal(t, FailureValidation, missing.Failure.Code)

	res, err := f.svc.Register(ctx, RegisterRequest{TournamentID: id, UserID: "captain", TeamID: "team-1"})
	require.NoError(t, err)
	require.True(t, res.OK())
	assert.Equal(t, "team-1", res.Success.Participant.EntrantID)
	assert.Equal(t, models.EntrantTeam, res.Success.Participant.EntrantType)
	assert.Equal(t, "captain", res.Success.Participant.PaidBy)
}

func TestRegisterTournamentFull(t *testing.T) {
	f := newTournamentFixture(t)
	req := createRequest()
	req.MaxParticipants = 20
	req.EntryFee = 0
	id := f.openTournament(t, req)
	f.registerPlayers(t, id, 20, 0)

	f.mem.PutUser(models.User{ID: "late", Username: "late"})
	res, err := f.svc.Register(context.Background(), RegisterRequest{TournamentID: id, UserID: "late"})
	require.NoError(t, err)
	assert.Equal(t, FailureTournamentFull, res.Failure.Code)
}

func TestStartTournament(t *testing.T) {
	f := newTournamentFixture(t)
	ctx := context.Background()
	req := createRequest()
	req.EntryFee = 0
	id := f.openTournament(t, req)
	f.mem.PutUser(models.User{ID: "solo", Username: "solo"})
	solo, err := f.svc.Register(ctx, RegisterRequest{TournamentID: id, UserID: "solo"})
	require.NoError(t, err)
	require.True(t, solo.OK())

	lonely, err := f.svc.Start(ctx, "creator", id)
	require.NoError(t, err)
	assert.Equal(t, FailureInvalidState, lonely.Failure.Code)

	f.registerPlayers(t, id, 5, 0)
	f.mem.PutUser(models.User{ID: "stranger", Username: "stranger"})
	forbidden, err := f.svc.Start(ctx, "stranger", id)
	require.NoError(t, err)
	assert.Equal(t, FailureForbidden, forbidden.Failure.Code)

	res, err := f.svc.Start(ctx, "creator", id)
	require.NoError(t, err)
	require.True(t, res.OK())
	assert.Equal(t, models.StatusOngoing, res.Success.Status)
	require.NotNil(t, res.Success.Bracket)
	assert.Len(t, res.Success.Bracket.Rounds, 3)
	assert.True(t, f.broadcaster.has(EventTournamentStarted))
}

// playOut reports the first ready match until the tournament completes.
func (f *tournamentFixture) playOut(t *testing.T, id, actor string) MatchResult {
	t.Helper()
	ctx := context.Background()
	for i := 0; i < 200; i++ {
		got, err := f.svc.Get(ctx, id)
		require.NoError(t, err)
		require.NotNil(t, got.Success.Bracket)

		var next *models.BracketMatch
	search:
		for _, r := range got.Success.Bracket.Rounds {
			for _, m := range r.Matches {
				if m.Status == models.MatchPending && m.Participant2 != nil &&
					m.Participant1.Resolved() && m.Participant2.Resolved() {
					m := m
					next = &m
					break search
				}
			}
		}
		require.NotNil(t, next, "no playable match in an unfinished bracket")

		res, err := f.svc.ReportMatchResult(ctx, MatchResultRequest{
			TournamentID: id,
			ActorID:      actor,
			MatchID:      next.ID,
			WinnerID:     next.Participant1.ParticipantID,
		})
		require.NoError(t, err)
		require.True(t, res.OK(), "report %s: %+v", next.ID, res.Failure)
		if res.Success.Completed {
			return *res.Success
		}
	}
	t.Fatal("tournament never completed")
	return MatchResult{}
}

func TestPlayTournamentToCompletion(t *testing.T) {
	tests := []struct {
		format  models.TournamentFormat
		players int
	}{
		{models.FormatSingleElimination, 5},
		{models.FormatDoubleElimination, 4},
		{models.FormatRoundRobin, 5},
		{models.FormatSwiss, 6},
	}
	for _, tt := range tests {
		t.Run(string(tt.format), func(t *testing.T) {
			f := newTournamentFixture(t)
			ctx := context.Background()
			req := createRequest()
			req.EntryFee = 0
			req.Format = tt.format
			id := f.openTournament(t, req)
			players := f.registerPlayers(t, id, tt.players, 0)

			started, err := f.svc.Start(ctx, "creator", id)
			require.NoError(t, err)
			require.True(t, started.OK())

			result := f.playOut(t, id, "admin")
			assert.Contains(t, players, result.ChampionID)

			got, err := f.svc.Get(ctx, id)
			require.NoError(t, err)
			assert.Equal(t, models.StatusCompleted, got.Success.Status)
			require.NotNil(t, got.Success.TournamentEnd)
			for _, p := range got.Success.Participants {
				if p.EntrantID == result.ChampionID {
					assert.Equal(t, models.ParticipantWinner, p.Status)
				}
			}

			audits, _, err := f.mem.ListAudits(ctx, store.AuditFilter{SubjectID: id, CheckType: models.CheckCompletion})
			require.NoError(t, err)
			assert.Len(t, audits, 1)
			assert.True(t, f.broadcaster.has(EventTournamentCompleted))
		})
	}
}

func TestReportMatchResultErrors(t *testing.T) {
	f := newTournamentFixture(t)
	ctx := context.Background()
	req := createRequest()
	req.EntryFee = 0
	id := f.openTournament(t, req)
	f.registerPlayers(t, id, 4, 0)
	started, err := f.svc.Start(ctx, "creator", id)
	require.NoError(t, err)
	first := started.Success.Bracket.Rounds[0].Matches[0]

	missing, err := f.svc.ReportMatchResult(ctx, MatchResultRequest{TournamentID: id, ActorID: "creator", MatchID: "R9M9", WinnerID: "x"})
	require.NoError(t, err)
	assert.Equal(t, FailureNotFound, missing.Failure.Code)

	outsider, err := f.svc.ReportMatchResult(ctx, MatchResultRequest{TournamentID: id, ActorID: "creator", MatchID: first.ID, WinnerID: "nobody"})
	require.NoError(t, err)
	assert.Equal(t, FailureValidation, outsider.Failure.Code)

	notReady, err := f.svc.ReportMatchResult(ctx, MatchResultRequest{TournamentID: id, ActorID: "creator", MatchID: "R2M1", WinnerID: "x"})
	require.NoError(t, err)
	assert.Equal(t, FailureInvalidState, notReady.Failure.Code)

	ok, err := f.svc.ReportMatchResult(ctx, MatchResultRequest{TournamentID: id, ActorID: "creator", MatchID: first.ID, WinnerID: first.Participant2.ParticipantID})
	require.NoError(t, err)
	require.True(t, ok.OK())

	got, err := f.svc.Get(ctx, id)
	require.NoError(t, err)
	for _, p := range got.Success.Participants {
		if p.EntrantID == first.Participant1.ParticipantID {
			assert.Equal(t, models.ParticipantEliminated, p.Status)
		}
	}

	twice, err := f.svc.ReportMatchResult(ctx, MatchResultRequest{TournamentID: id, ActorID: "creator", MatchID: first.ID, WinnerID: first.Participant2.ParticipantID})
	require.NoError(t, err)
	assert.Equal(t, FailureInvalidState, twice.Failure.Code)
}

func TestCancelRefundsEntryFees(t *testing.T) {
	f := newTournamentFixture(t)
	ctx := context.Background()
	id := f.openTournament(t, createRequest())
	players := f.registerPlayers(t, id, 3, 800)
	for _, p := range players {
		require.Equal(t, int64(300), balanceOf(t, f.mem, p))
	}

	res, err := f.svc.Cancel(ctx, "creator", id)
	require.NoError(t, err)
	require.True(t, res.OK())
	assert.Equal(t, 3, res.Success.Refunded)
	assert.Zero(t, res.Success.Failed)
	assert.Equal(t, models.StatusCancelled, res.Success.Tournament.Status)
	for _, p := range players {
		assert.Equal(t, int64(800), balanceOf(t, f.mem, p))
	}

	again, err := f.svc.Cancel(ctx, "creator", id)
	require.NoError(t, err)
	assert.Equal(t, FailureInvalidState, again.Failure.Code)
}

func TestUpdateTournament(t *testing.T) {
	f := newTournamentFixture(t)
	ctx := context.Background()
	created, err := f.svc.Create(ctx, "creator", createRequest())
	require.NoError(t, err)
	id := created.Success.ID

	name := "Summer Split Open"
	renamed, err := f.svc.Update(ctx, "creator", id, UpdateTournamentRequest{Name: &name})
	require.NoError(t, err)
	require.True(t, renamed.OK())
	assert.Equal(t, name, renamed.Success.Name)
	assert.Equal(t, created.Success.Slug, renamed.Success.Slug)

	fee := 60.0
	expensive, err := f.svc.Update(ctx, "creator", id, UpdateTournamentRequest{EntryFee: &fee})
	require.NoError(t, err)
	require.NotNil(t, expensive.Failure)
	assert.Equal(t, FailurePolicyViolation, expensive.Failure.Code)
	assert.Equal(t, []models.ViolationType{models.ViolationExcessiveEntryFee}, violationTypes(expensive.Failure.Violations))

	got, err := f.svc.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 5.0, got.Success.EntryFee)

	audits, _, err := f.mem.ListAudits(ctx, store.AuditFilter{SubjectID: id, CheckType: models.CheckModification})
	require.NoError(t, err)
	assert.Len(t, audits, 2)

	f.mem.PutUser(models.User{ID: "stranger", Username: "stranger"})
	forbidden, err := f.svc.Update(ctx, "stranger", id, UpdateTournamentRequest{Name: &name})
	require.NoError(t, err)
	assert.Equal(t, FailureForbidden, forbidden.Failure.Code)
}

func TestTransitions(t *testing.T) {
	assert.True(t, CanTransition(models.StatusDraft, models.StatusRegistration))
	assert.True(t, CanTransition(models.StatusOngoing, models.StatusCompleted))
	assert.False(t, CanTransition(models.StatusDraft, models.StatusOngoing))
	assert.False(t, CanTransition(models.StatusCompleted, models.StatusCancelled))
	assert.False(t, CanTransition(models.StatusCancelled, models.StatusRegistration))

	f := newTournamentFixture(t)
	ctx := context.Background()
	created, err := f.svc.Create(ctx, "creator", createRequest())
	require.NoError(t, err)
	id := created.Success.ID

	done, err := f.svc.Transition(ctx, "creator", id, models.StatusCompleted)
	require.NoError(t, err)
	assert.Equal(t, FailureInvalidState, done.Failure.Code)

	require.NoError(t, f.mem.SetTournamentCompliance(ctx, id, false))
	flagged, err := f.svc.Transition(ctx, "creator", id, models.StatusRegistration)
	require.NoError(t, err)
	assert.Equal(t, FailureInvalidState, flagged.Failure.Code)

	cancelled, err := f.svc.Transition(ctx, "admin", id, models.StatusCancelled)
	require.NoError(t, err)
	require.True(t, cancelled.OK())
	assert.Equal(t, models.StatusCancelled, cancelled.Success.Status)
}

func TestPreviewDoesNotPersist(t *testing.T) {
	f := newTournamentFixture(t)
	ctx := context.Background()
	req := createRequest()
	req.EntryFee = 75

	res, err := f.svc.Preview(ctx, "creator", req)
	require.NoError(t, err)
	require.True(t, res.OK())
	assert.False(t, res.Success.Compliant)
	assert.Equal(t, []models.ViolationType{models.ViolationExcessiveEntryFee}, violationTypes(res.Success.Violations))

	stored, err := f.mem.ListTournaments(ctx, store.TournamentFilter{})
	require.NoError(t, err)
	assert.Empty(t, stored)
	_, total, err := f.mem.ListAudits(ctx, store.AuditFilter{})
	require.NoError(t, err)
	assert.Zero(t, total)
}

// lockstepLoads holds the first parties tournament loads until all of them
// have read, so every caller starts from the same version.
type lockstepLoads struct {
	*store.Memory
	parties int
	mu      sync.Mutex
	loaded  int
	release chan struct{}
}

func newLockstepLoads(mem *store.Memory, parties int) *lockstepLoads {
	return &lockstepLoads{Memory: mem, parties: parties, release: make(chan struct{})}
}

func (l *lockstepLoads) GetTournament(ctx context.Context, id string) (*models.Tournament, error) {
	t, err := l.Memory.GetTournament(ctx, id)
	l.mu.Lock()
	l.loaded++
	if l.loaded == l.parties {
		close(l.release)
	}
	l.mu.Unlock()
	<-l.release
	return t, err
}

// over returns a copy of the fixture's service reading tournaments through ts.
func (f *tournamentFixture) over(ts TournamentStore) *TournamentService {
	svc := *f.svc
	svc.tournaments = ts
	return &svc
}

func TestConcurrentCancelRefundsOnce(t *testing.T) {
	f := newTournamentFixture(t)
	ctx := context.Background()
	id := f.openTournament(t, createRequest())
	players := f.registerPlayers(t, id, 2, 1000)

	svc := f.over(newLockstepLoads(f.mem, 2))
	results := make([]OperationResult[CancelResult], 2)
	var wg sync.WaitGroup
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := svc.Cancel(ctx, "creator", id)
			assert.NoError(t, err)
			results[i] = res
		}(i)
	}
	wg.Wait()

	var ok int
	for _, res := range results {
		if res.OK() {
			ok++
			continue
		}
		assert.Equal(t, FailureInvalidState, res.Failure.Code)
	}
	assert.Equal(t, 1, ok)
	for _, p := range players {
		assert.Equal(t, int64(1000), balanceOf(t, f.mem, p))
	}
}

func TestRegisterRacingCancelIsRefunded(t *testing.T) {
	f := newTournamentFixture(t)
	ctx := context.Background()
	id := f.openTournament(t, createRequest())
	f.registerPlayers(t, id, 1, 1000)
	f.mem.PutUser(models.User{ID: "late", Username: "late", CoinBalance: 1000})

	svc := f.over(newLockstepLoads(f.mem, 2))
	var (
		wg         sync.WaitGroup
		registered OperationResult[Registration]
		cancelled  OperationResult[CancelResult]
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		res, err := svc.Register(ctx, RegisterRequest{TournamentID: id, UserID: "late"})
		assert.NoError(t, err)
		registered = res
	}()
	go func() {
		defer wg.Done()
		res, err := svc.Cancel(ctx, "creator", id)
		assert.NoError(t, err)
		cancelled = res
	}()
	wg.Wait()

	require.True(t, cancelled.OK(), "cancel: %+v", cancelled.Failure)
	if !registered.OK() {
		assert.Equal(t, FailureInvalidState, registered.Failure.Code)
	}
	assert.Equal(t, int64(1000), balanceOf(t, f.mem, "late"))
	assert.Equal(t, int64(1000), balanceOf(t, f.mem, "player-01"))
}

func TestConcurrentMatchReportsAreAllKept(t *testing.T) {
	f := newTournamentFixture(t)
	ctx := context.Background()
	req := createRequest()
	req.EntryFee = 0
	id := f.openTournament(t, req)
	f.registerPlayers(t, id, 4, 0)
	started, err := f.svc.Start(ctx, "creator", id)
	require.NoError(t, err)
	require.True(t, started.OK())
	first := started.Success.Bracket.Rounds[0].Matches

	svc := f.over(newLockstepLoads(f.mem, len(first)))
	var wg sync.WaitGroup
	for _, m := range first {
		wg.Add(1)
		go func(m models.BracketMatch) {
			defer wg.Done()
			res, err := svc.ReportMatchResult(ctx, MatchResultRequest{
				TournamentID: id,
				ActorID:      "creator",
				MatchID:      m.ID,
				WinnerID:     m.Participant1.ParticipantID,
			})
			assert.NoError(t, err)
			assert.True(t, res.OK(), "report %s: %+v", m.ID, res.Failure)
		}(m)
	}
	wg.Wait()

	got, err := f.svc.Get(ctx, id)
	require.NoError(t, err)
	for _, m := range got.Success.Bracket.Rounds[0].Matches {
		assert.Equal(t, models.MatchCompleted, m.Status, m.ID)
	}
	final, ok := got.Success.Bracket.Match("R2M1")
	require.True(t, ok)
	assert.True(t, final.Participant1.Resolved())
	require.NotNil(t, final.Participant2)
	assert.True(t, final.Participant2.Resolved())
}
