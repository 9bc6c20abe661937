package services

import (
	"fmt"
	"testing"

	"esports-platform/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func participantIDs(n int) []string {
	ids := make([]string, n)
	for i := range ids {
		ids[i] = fmt.Sprintf("p%02d", i+1)
	}
	return ids
}

func matchIDs(b *models.Bracket) []string {
	var ids []string
	for _, r := range b.Rounds {
		for _, m := range r.Matches {
			ids = append(ids, m.ID)
		}
	}
	return ids
}

func TestSingleEliminationFiveParticipants(t *testing.T) {
	g := NewSeededBracketGenerator(7)

	b, err := g.Generate(models.FormatSingleElimination, participantIDs(5))
	require.NoError(t, err)

	require.Len(t, b.Rounds, 3)
	assert.Len(t, b.Rounds[0].Matches, 3)
	assert.Len(t, b.Rounds[1].Matches, 2)
	assert.Len(t, b.Rounds[2].Matches, 1)

	ids := matchIDs(b)
	assert.Len(t, ids, 6)
	seen := make(map[string]bool)
	for _, id := range ids {
		assert.False(t, seen[id], "duplicate match id %s", id)
		seen[id] = true
	}
	assert.Equal(t, "R1M1", b.Rounds[0].Matches[0].ID)
	assert.Equal(t, "R3M1", b.Rounds[2].Matches[0].ID)

	bye := b.Rounds[0].Matches[2]
	assert.Nil(t, bye.Participant2)
	require.NotNil(t, bye.Winner)
	assert.Equal(t, bye.Participant1, *bye.Winner)
	assert.Equal(t, models.MatchCompleted, bye.Status)

	// Bye winners are carried into the next round as resolved entrants.
	assert.Equal(t, bye.Participant1, b.Rounds[1].Matches[0].Participant1)
}

func TestSingleEliminationEveryParticipantPlacedOnce(t *testing.T) {
	for _, n := range []int{2, 3, 4, 7, 8, 13, 16} {
		t.Run(fmt.Sprintf("%d participants", n), func(t *testing.T) {
			b, err := NewBracketGenerator().Generate(models.FormatSingleElimination, participantIDs(n))
			require.NoError(t, err)

			placed := make(map[string]int)
			for _, m := range b.Rounds[0].Matches {
				placed[m.Participant1.ParticipantID]++
				if m.Participant2 != nil {
					placed[m.Participant2.ParticipantID]++
				}
			}
			assert.Len(t, placed, n)
			for id, count := range placed {
				assert.Equal(t, 1, count, id)
			}
			assert.Len(t, b.Rounds[len(b.Rounds)-1].Matches, 1)
		})
	}
}

func TestGenerateTooFewParticipants(t *testing.T) {
	for _, n := range []int{0, 1} {
		b, err := NewBracketGenerator().Generate(models.FormatSingleElimination, participantIDs(n))
		require.NoError(t, err)
		assert.Empty(t, b.Rounds)
	}
}

func TestGenerateUnsupportedFormat(t *testing.T) {
	_, err := NewBracketGenerator().Generate("ladder", participantIDs(4))
	require.ErrorIs(t, err, ErrUnsupportedFormat)
}

func TestRecordResultPropagatesWinner(t *testing.T) {
	b, err := NewSeededBracketGenerator(1).Generate(models.FormatSingleElimination, participantIDs(4))
	require.NoError(t, err)

	// Play every round in order, always picking participant1.
	for r := range b.Rounds {
		for _, m := range b.Rounds[r].Matches {
			require.NoError(t, RecordResult(b, m.ID, m.Participant1.ParticipantID))
		}
	}

	champion, ok := Champion(b)
	require.True(t, ok)
	final := b.Rounds[len(b.Rounds)-1].Matches[0]
	assert.Equal(t, final.Participant1.ParticipantID, champion)
	assert.True(t, Finished(b))
}

func TestRecordResultErrors(t *testing.T) {
	b, err := NewSeededBracketGenerator(3).Generate(models.FormatSingleElimination, participantIDs(4))
	require.NoError(t, err)
	first := b.Rounds[0].Matches[0]

	assert.ErrorIs(t, RecordResult(b, "R9M9", "p01"), ErrMatchNotFound)
	assert.ErrorIs(t, RecordResult(b, "R2M1", first.Participant1.ParticipantID), ErrMatchNotReady)
	assert.ErrorIs(t, RecordResult(b, first.ID, "nobody"), ErrInvalidWinner)

	require.NoError(t, RecordResult(b, first.ID, first.Participant2.ParticipantID))
	assert.ErrorIs(t, RecordResult(b, first.ID, first.Participant2.ParticipantID), ErrMatchCompleted)

	final := b.Rounds[1].Matches[0]
	assert.Equal(t, first.Participant2.ParticipantID, final.Participant1.ParticipantID)
}

func TestDoubleElimination(t *testing.T) {
	b, err := NewSeededBracketGenerator(11).Generate(models.FormatDoubleElimination, participantIDs(4))
	require.NoError(t, err)

	var winners, losers, finals int
	for _, r := range b.Rounds {
		switch r.Section {
		case models.SectionWinners:
			winners += len(r.Matches)
		case models.SectionLosers:
			losers += len(r.Matches)
		case models.SectionGrandFinal:
			finals += len(r.Matches)
		}
	}
	assert.Equal(t, 3, winners)
	assert.Equal(t, 2, losers)
	assert.Equal(t, 1, finals)

	// Play it out; a participant only leaves after two losses.
	for r := range b.Rounds {
		for _, m := range b.Rounds[r].Matches {
			if m.Status == models.MatchCompleted {
				continue
			}
			current, _ := b.Match(m.ID)
			require.NoError(t, RecordResult(b, m.ID, current.Participant1.ParticipantID))
		}
	}
	champion, ok := Champion(b)
	require.True(t, ok)
	assert.NotEmpty(t, champion)
	for _, s := range Standings(b) {
		if s.ParticipantID != champion {
			assert.LessOrEqual(t, s.Losses, 2)
		}
	}
}

func TestDoubleEliminationTwoParticipants(t *testing.T) {
	b, err := NewSeededBracketGenerator(5).Generate(models.FormatDoubleElimination, participantIDs(2))
	require.NoError(t, err)

	require.Len(t, b.Rounds, 2)
	gf := b.Rounds[1].Matches[0]
	assert.Equal(t, "GF1", gf.ID)
	assert.Equal(t, models.WinnerOf("R1M1"), gf.Participant1)
	assert.Equal(t, models.LoserOf("R1M1"), *gf.Participant2)
}

func TestRoundRobinEveryPairMeetsOnce(t *testing.T) {
	for _, n := range []int{4, 5} {
		t.Run(fmt.Sprintf("%d participants", n), func(t *testing.T) {
			b, err := NewBracketGenerator().Generate(models.FormatRoundRobin, participantIDs(n))
			require.NoError(t, err)

			pairs := make(map[[2]string]int)
			for _, r := range b.Rounds {
				playing := make(map[string]bool)
				for _, m := range r.Matches {
					a, c := m.Participant1.ParticipantID, m.Participant2.ParticipantID
					assert.False(t, playing[a] || playing[c], "entrant plays twice in round %d", r.Number)
					playing[a], playing[c] = true, true
					pairs[pairKey(a, c)]++
				}
			}
			assert.Len(t, pairs, n*(n-1)/2)
			for k, v := range pairs {
				assert.Equal(t, 1, v, k)
			}
		})
	}
}

func TestSwissRounds(t *testing.T) {
	b, err := NewSeededBracketGenerator(2).Generate(models.FormatSwiss, participantIDs(5))
	require.NoError(t, err)

	assert.Equal(t, 3, b.PlannedRounds)
	require.Len(t, b.Rounds, 1)
	assert.Len(t, b.Rounds[0].Matches, 3)
	assert.ErrorIs(t, PairNextSwissRound(b), ErrRoundIncomplete)

	for round := 1; round <= b.PlannedRounds; round++ {
		for _, m := range b.Rounds[round-1].Matches {
			if m.Status == models.MatchPending {
				require.NoError(t, RecordResult(b, m.ID, m.Participant1.ParticipantID))
			}
		}
		if round < b.PlannedRounds {
			require.NoError(t, PairNextSwissRound(b))
		}
	}

	assert.ErrorIs(t, PairNextSwissRound(b), ErrNoRoundsRemaining)
	assert.True(t, Finished(b))
	_, ok := Champion(b)
	assert.True(t, ok)

	byes := make(map[string]int)
	for _, r := range b.Rounds {
		for _, m := range r.Matches {
			if m.Participant2 == nil {
				byes[m.Participant1.ParticipantID]++
			}
		}
	}
	for id, n := range byes {
		assert.Equal(t, 1, n, "%s received more than one bye", id)
	}
}
