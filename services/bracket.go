package services

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"sort"

	"esports-platform/models"
)

var (
	ErrUnsupportedFormat = errors.New("unsupported bracket format")
	ErrMatchNotFound     = errors.New("match not found in bracket")
	ErrMatchCompleted    = errors.New("match already completed")
	ErrMatchNotReady     = errors.New("match participants not decided yet")
	ErrInvalidWinner     = errors.New("winner is not a participant of the match")
	ErrRoundIncomplete   = errors.New("current round has unfinished matches")
	ErrNoRoundsRemaining = errors.New("all planned rounds have been paired")
)

// BracketGenerator builds match structures from a participant list.
type BracketGenerator struct {
	shuffle func(n int, swap func(i, j int))
}

// NewBracketGenerator returns a generator that shuffles with a freshly
// seeded source on every call.
func NewBracketGenerator() *BracketGenerator {
	return &BracketGenerator{shuffle: rand.Shuffle}
}

// NewSeededBracketGenerator returns a generator with a reproducible order.
func NewSeededBracketGenerator(seed uint64) *BracketGenerator {
	r := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	return &BracketGenerator{shuffle: r.Shuffle}
}

// Generate builds a bracket for participantIDs. Fewer than two participants
// yields an empty bracket.
func (g *BracketGenerator) Generate(format models.TournamentFormat, participantIDs []string) (*models.Bracket, error) {
	if !format.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
	b := &models.Bracket{Format: format, Rounds: []models.BracketRound{}}
	if len(participantIDs) < 2 {
		return b, nil
	}

	ids := append([]string(nil), participantIDs...)
	g.shuffle(len(ids), func(i, j int) { ids[i], ids[j] = ids[j], ids[i] })

	switch format {
	case models.FormatSingleElimination:
		b.Rounds, _, _ = eliminationRounds(entrantSlots(ids), "R", models.SectionWinners)
	case models.FormatDoubleElimination:
		b.Rounds = doubleEliminationRounds(entrantSlots(ids))
	case models.FormatRoundRobin:
		b.Rounds = roundRobinRounds(ids)
	case models.FormatSwiss:
		b.Rounds = []models.BracketRound{swissFirstRound(ids)}
		b.PlannedRounds = int(math.Ceil(math.Log2(float64(len(ids)))))
	}
	if b.PlannedRounds == 0 {
		b.PlannedRounds = len(b.Rounds)
	}
	return b, nil
}

func entrantSlots(ids []string) []models.Slot {
	slots := make([]models.Slot, len(ids))
	for i, id := range ids {
		slots[i] = models.Entrant(id)
	}
	return slots
}

// playRound pairs consecutive entrants. An odd entrant out gets a completed
// bye. The next round's field is the bye winners followed by one placeholder
// per pending match.
func playRound(entrants []models.Slot, prefix string, number int, section models.BracketSection) (round models.BracketRound, next, losers []models.Slot) {
	round = models.BracketRound{Number: number, Section: section}
	var byes, pending []models.Slot
	for i := 0; i < len(entrants); i += 2 {
		id := fmt.Sprintf("%s%dM%d", prefix, number, len(round.Matches)+1)
		if i+1 < len(entrants) {
			p2 := entrants[i+1]
			round.Matches = append(round.Matches, models.BracketMatch{
				ID:           id,
				Participant1: entrants[i],
				Participant2: &p2,
				Status:       models.MatchPending,
			})
			pending = append(pending, models.WinnerOf(id))
			losers = append(losers, models.LoserOf(id))
			continue
		}
		winner := entrants[i]
		round.Matches = append(round.Matches, models.BracketMatch{
			ID:           id,
			Participant1: entrants[i],
			Winner:       &winner,
			Status:       models.MatchCompleted,
		})
		byes = append(byes, entrants[i])
	}
	next = append(byes, pending...)
	return round, next, losers
}

// eliminationRounds plays rounds until one entrant remains. It returns the
// rounds, the champion slot and the losers produced by each round.
func eliminationRounds(entrants []models.Slot, prefix string, section models.BracketSection) ([]models.BracketRound, models.Slot, [][]models.Slot) {
	var rounds []models.BracketRound
	var losers [][]models.Slot
	for number := 1; len(entrants) > 1; number++ {
		round, next, lost := playRound(entrants, prefix, number, section)
		rounds = append(rounds, round)
		losers = append(losers, lost)
		entrants = next
	}
	var champion models.Slot
	if len(entrants) == 1 {
		champion = entrants[0]
	}
	return rounds, champion, losers
}

// doubleEliminationRounds builds the winners bracket, a losers bracket fed by
// each winners round, and a grand final between the two champions.
func doubleEliminationRounds(entrants []models.Slot) []models.BracketRound {
	rounds, champion, dropped := eliminationRounds(entrants, "R", models.SectionWinners)

	pool := append([]models.Slot(nil), dropped[0]...)
	number := 1
	for r := 1; r < len(dropped); r++ {
		if len(pool) > 1 {
			round, next, _ := playRound(pool, "L", number, models.SectionLosers)
			rounds = append(rounds, round)
			pool = next
			number++
		}
		pool = append(pool, dropped[r]...)
	}
	for len(pool) > 1 {
		round, next, _ := playRound(pool, "L", number, models.SectionLosers)
		rounds = append(rounds, round)
		pool = next
		number++
	}

	if len(pool) == 1 {
		challenger := pool[0]
		rounds = append(rounds, models.BracketRound{
			Number:  1,
			Section: models.SectionGrandFinal,
			Matches: []models.BracketMatch{{
				ID:           "GF1",
				Participant1: champion,
				Participant2: &challenger,
				Status:       models.MatchPending,
			}},
		})
	}
	return rounds
}

// roundRobinRounds schedules every pair exactly once using the circle
// method. With an odd field one entrant sits out each round.
func roundRobinRounds(ids []string) []models.BracketRound {
	circle := append([]string(nil), ids...)
	if len(circle)%2 == 1 {
		circle = append(circle, "")
	}
	n := len(circle)
	rounds := make([]models.BracketRound, 0, n-1)
	for r := 0; r < n-1; r++ {
		round := models.BracketRound{Number: r + 1}
		for i := 0; i < n/2; i++ {
			a, b := circle[i], circle[n-1-i]
			if a == "" || b == "" {
				continue
			}
			p2 := models.Entrant(b)
			round.Matches = append(round.Matches, models.BracketMatch{
				ID:           fmt.Sprintf("R%dM%d", r+1, len(round.Matches)+1),
				Participant1: models.Entrant(a),
				Participant2: &p2,
				Status:       models.MatchPending,
			})
		}
		rounds = append(rounds, round)
		// Keep the first entrant fixed and rotate the rest clockwise.
		last := circle[n-1]
		copy(circle[2:], circle[1:n-1])
		circle[1] = last
	}
	return rounds
}

// swissFirstRound pairs the top half of the field against the bottom half.
func swissFirstRound(ids []string) models.BracketRound {
	round := models.BracketRound{Number: 1}
	half := len(ids) / 2
	for i := 0; i < half; i++ {
		p2 := models.Entrant(ids[half+i])
		round.Matches = append(round.Matches, models.BracketMatch{
			ID:           fmt.Sprintf("R1M%d", i+1),
			Participant1: models.Entrant(ids[i]),
			Participant2: &p2,
			Status:       models.MatchPending,
		})
	}
	if len(ids)%2 == 1 {
		round.Matches = append(round.Matches, byeMatch(fmt.Sprintf("R1M%d", half+1), ids[len(ids)-1]))
	}
	return round
}

func byeMatch(id, participantID string) models.BracketMatch {
	winner := models.Entrant(participantID)
	return models.BracketMatch{
		ID:           id,
		Participant1: models.Entrant(participantID),
		Winner:       &winner,
		Status:       models.MatchCompleted,
	}
}

// Standing is one participant's record across completed matches.
type Standing struct {
	ParticipantID string `json:"participant_id"`
	Wins          int    `json:"wins"`
	Losses        int    `json:"losses"`
	Byes          int    `json:"byes"`
}

// Standings ranks participants by wins, then fewer losses, then id.
func Standings(b *models.Bracket) []Standing {
	table := make(map[string]*Standing)
	get := func(id string) *Standing {
		s, ok := table[id]
		if !ok {
			s = &Standing{ParticipantID: id}
			table[id] = s
		}
		return s
	}
	for _, r := range b.Rounds {
		for _, m := range r.Matches {
			if m.Participant1.Resolved() {
				get(m.Participant1.ParticipantID)
			}
			if m.Participant2 != nil && m.Participant2.Resolved() {
				get(m.Participant2.ParticipantID)
			}
			if m.Status != models.MatchCompleted || m.Winner == nil || !m.Winner.Resolved() {
				continue
			}
			if m.Participant2 == nil {
				s := get(m.Winner.ParticipantID)
				s.Wins++
				s.Byes++
				continue
			}
			get(m.Winner.ParticipantID).Wins++
			if loser, ok := loserOf(m); ok {
				get(loser).Losses++
			}
		}
	}
	out := make([]Standing, 0, len(table))
	for _, s := range table {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Wins != out[j].Wins {
			return out[i].Wins > out[j].Wins
		}
		if out[i].Losses != out[j].Losses {
			return out[i].Losses < out[j].Losses
		}
		return out[i].ParticipantID < out[j].ParticipantID
	})
	return out
}

func loserOf(m models.BracketMatch) (string, bool) {
	if m.Winner == nil || m.Participant2 == nil {
		return "", false
	}
	if m.Winner.ParticipantID == m.Participant1.ParticipantID {
		return m.Participant2.ParticipantID, true
	}
	return m.Participant1.ParticipantID, true
}

// PairNextSwissRound appends the next swiss round, pairing entrants with
// equal scores and avoiding rematches where possible.
func PairNextSwissRound(b *models.Bracket) error {
	if b.Format != models.FormatSwiss {
		return fmt.Errorf("%w: %q is not swiss", ErrUnsupportedFormat, b.Format)
	}
	if len(b.Rounds) >= b.PlannedRounds {
		return ErrNoRoundsRemaining
	}
	if !roundsComplete(b) {
		return ErrRoundIncomplete
	}

	met := make(map[[2]string]bool)
	hadBye := make(map[string]bool)
	for _, r := range b.Rounds {
		for _, m := range r.Matches {
			if m.Participant2 == nil {
				hadBye[m.Participant1.ParticipantID] = true
				continue
			}
			met[pairKey(m.Participant1.ParticipantID, m.Participant2.ParticipantID)] = true
		}
	}

	standings := Standings(b)
	queue := make([]string, 0, len(standings))
	for _, s := range standings {
		queue = append(queue, s.ParticipantID)
	}

	number := len(b.Rounds) + 1
	round := models.BracketRound{Number: number}
	var bye string
	if len(queue)%2 == 1 {
		// Lowest-ranked entrant without a previous bye sits out.
		idx := len(queue) - 1
		for i := len(queue) - 1; i >= 0; i-- {
			if !hadBye[queue[i]] {
				idx = i
				break
			}
		}
		bye = queue[idx]
		queue = append(queue[:idx], queue[idx+1:]...)
	}

	for len(queue) > 0 {
		a := queue[0]
		partner := 1
		for j := 1; j < len(queue); j++ {
			if !met[pairKey(a, queue[j])] {
				partner = j
				break
			}
		}
		p2 := models.Entrant(queue[partner])
		round.Matches = append(round.Matches, models.BracketMatch{
			ID:           fmt.Sprintf("R%dM%d", number, len(round.Matches)+1),
			Participant1: models.Entrant(a),
			Participant2: &p2,
			Status:       models.MatchPending,
		})
		queue = append(queue[1:partner], queue[partner+1:]...)
	}
	if bye != "" {
		round.Matches = append(round.Matches, byeMatch(fmt.Sprintf("R%dM%d", number, len(round.Matches)+1), bye))
	}
	b.Rounds = append(b.Rounds, round)
	return nil
}

func pairKey(a, b string) [2]string {
	if a > b {
		a, b = b, a
	}
	return [2]string{a, b}
}

func roundsComplete(b *models.Bracket) bool {
	for _, r := range b.Rounds {
		for _, m := range r.Matches {
			if m.Status != models.MatchCompleted {
				return false
			}
		}
	}
	return true
}

// RecordResult completes a pending match and resolves every slot that was
// waiting on its winner or loser.
func RecordResult(b *models.Bracket, matchID, winnerID string) error {
	m, ok := b.Match(matchID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrMatchNotFound, matchID)
	}
	if m.Status == models.MatchCompleted {
		return fmt.Errorf("%w: %s", ErrMatchCompleted, matchID)
	}
	if m.Participant2 == nil || !m.Participant1.Resolved() || !m.Participant2.Resolved() {
		return fmt.Errorf("%w: %s", ErrMatchNotReady, matchID)
	}

	var loserID string
	switch winnerID {
	case m.Participant1.ParticipantID:
		loserID = m.Participant2.ParticipantID
	case m.Participant2.ParticipantID:
		loserID = m.Participant1.ParticipantID
	default:
		return fmt.Errorf("%w: %s", ErrInvalidWinner, winnerID)
	}

	winner := models.Entrant(winnerID)
	m.Winner = &winner
	m.Status = models.MatchCompleted

	resolve := func(s *models.Slot) {
		if s == nil || s.FromMatch != matchID {
			return
		}
		if s.Outcome == models.OutcomeLoser {
			*s = models.Entrant(loserID)
		} else {
			*s = models.Entrant(winnerID)
		}
	}
	for r := range b.Rounds {
		for i := range b.Rounds[r].Matches {
			dm := &b.Rounds[r].Matches[i]
			resolve(&dm.Participant1)
			resolve(dm.Participant2)
			resolve(dm.Winner)
		}
	}
	return nil
}

// Finished reports whether every match is complete and no further rounds
// are planned.
func Finished(b *models.Bracket) bool {
	if b == nil || len(b.Rounds) == 0 {
		return false
	}
	if b.Format == models.FormatSwiss && len(b.Rounds) < b.PlannedRounds {
		return false
	}
	return roundsComplete(b)
}

// Champion returns the winner of a finished bracket.
func Champion(b *models.Bracket) (string, bool) {
	if !Finished(b) {
		return "", false
	}
	switch b.Format {
	case models.FormatSingleElimination, models.FormatDoubleElimination:
		final := b.Rounds[len(b.Rounds)-1]
		m := final.Matches[len(final.Matches)-1]
		if m.Winner == nil || !m.Winner.Resolved() {
			return "", false
		}
		return m.Winner.ParticipantID, true
	default:
		standings := Standings(b)
		if len(standings) == 0 {
			return "", false
		}
		return standings[0].ParticipantID, true
	}
}
