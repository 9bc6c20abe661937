package services

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// TournamentEvent is one message fanned out to stream subscribers.
type TournamentEvent struct {
	TournamentID string          `json:"tournament_id"`
	Event        string          `json:"event"`
	Data         json.RawMessage `json:"data"`
	SentAt       time.Time       `json:"sent_at"`
}

// EventHub fans tournament events out to in-process subscribers, typically
// SSE connections. Slow subscribers drop events rather than block senders.
type EventHub struct {
	mu     sync.RWMutex
	subs   map[string]map[chan TournamentEvent]struct{}
	buffer int
	clock  clockwork.Clock
	logger *slog.Logger
}

func NewEventHub(buffer int, clock clockwork.Clock, logger *slog.Logger) *EventHub {
	if buffer <= 0 {
		buffer = 16
	}
	return &EventHub{
		subs:   make(map[string]map[chan TournamentEvent]struct{}),
		buffer: buffer,
		clock:  clock,
		logger: logger,
	}
}

// Subscribe registers a listener for one tournament. The returned cancel
// func must be called to release it; it closes the channel.
func (h *EventHub) Subscribe(tournamentID string) (<-chan TournamentEvent, func()) {
	ch := make(chan TournamentEvent, h.buffer)
	h.mu.Lock()
	if h.subs[tournamentID] == nil {
		h.subs[tournamentID] = make(map[chan TournamentEvent]struct{})
	}
	h.subs[tournamentID][ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs[tournamentID], ch)
			if len(h.subs[tournamentID]) == 0 {
				delete(h.subs, tournamentID)
			}
			h.mu.Unlock()
			close(ch)
		})
	}
}

// Subscribers returns the number of listeners on a tournament.
func (h *EventHub) Subscribers(tournamentID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[tournamentID])
}

// Broadcast implements Broadcaster.
func (h *EventHub) Broadcast(_ context.Context, tournamentID, event string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		h.logger.Error("failed to encode tournament event", "tournament_id", tournamentID, "event", event, "error", err)
		return
	}
	msg := TournamentEvent{TournamentID: tournamentID, Event: event, Data: data, SentAt: h.clock.Now().UTC()}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for ch := range h.subs[tournamentID] {
		select {
		case ch <- msg:
		default:
			h.logger.Warn("dropping tournament event for slow subscriber", "tournament_id", tournamentID, "event", event)
		}
	}
}
