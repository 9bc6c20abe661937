package models

type MatchStatus string

const (
	MatchPending   MatchStatus = "pending"
	MatchCompleted MatchStatus = "completed"
)

type BracketSection string

const (
	SectionWinners    BracketSection = "winners"
	SectionLosers     BracketSection = "losers"
	SectionGrandFinal BracketSection = "grand_final"
)

type SlotOutcome string

const (
	OutcomeWinner SlotOutcome = "winner"
	OutcomeLoser  SlotOutcome = "loser"
)

// Bracket is the generated match structure of a tournament.
type Bracket struct {
	Format        TournamentFormat `json:"format"`
	PlannedRounds int              `json:"planned_rounds"`
	Rounds        []BracketRound   `json:"rounds"`
}

type BracketRound struct {
	Number  int            `json:"number"`
	Section BracketSection `json:"section,omitempty"`
	Matches []BracketMatch `json:"matches"`
}

// BracketMatch pairs two slots. Participant2 is nil for a bye.
type BracketMatch struct {
	ID           string      `json:"id"`
	Participant1 Slot        `json:"participant1"`
	Participant2 *Slot       `json:"participant2"`
	Winner       *Slot       `json:"winner"`
	Status       MatchStatus `json:"status"`
}

// Slot is either a resolved participant or a reference to the winner or
// loser of a feeder match that has not been played yet.
type Slot struct {
	ParticipantID string      `json:"participant_id,omitempty"`
	FromMatch     string      `json:"from_match,omitempty"`
	Outcome       SlotOutcome `json:"outcome,omitempty"`
}

// Resolved reports whether the slot names a concrete participant.
func (s Slot) Resolved() bool {
	return s.ParticipantID != ""
}

// Entrant returns a resolved slot for participantID.
func Entrant(participantID string) Slot {
	return Slot{ParticipantID: participantID}
}

// WinnerOf returns a placeholder for the winner of matchID.
func WinnerOf(matchID string) Slot {
	return Slot{FromMatch: matchID, Outcome: OutcomeWinner}
}

// LoserOf returns a placeholder for the loser of matchID.
func LoserOf(matchID string) Slot {
	return Slot{FromMatch: matchID, Outcome: OutcomeLoser}
}

// Match finds a match by id.
func (b *Bracket) Match(id string) (*BracketMatch, bool) {
	for r := range b.Rounds {
		for m := range b.Rounds[r].Matches {
			if b.Rounds[r].Matches[m].ID == id {
				return &b.Rounds[r].Matches[m], true
			}
		}
	}
	return nil, false
}

// MatchCount is the number of matches across all rounds.
func (b *Bracket) MatchCount() int {
	n := 0
	for _, r := range b.Rounds {
		n += len(r.Matches)
	}
	return n
}
