package workers

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"esports-platform/models"
	"esports-platform/services"
	"esports-platform/store"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)

type fakeFeed struct {
	payments []services.PaymentConfirmation
	err      error
	calls    chan time.Time
}

func (f *fakeFeed) ConfirmedPaymentsSince(_ context.Context, since time.Time) ([]services.PaymentConfirmation, error) {
	if f.calls != nil {
		f.calls <- since
	}
	return f.payments, f.err
}

type brokenLedger struct{}

func (brokenLedger) ConfirmPayment(context.Context, services.PaymentConfirmation) (services.OperationResult[services.PaymentReceipt], error) {
	return services.OperationResult[services.PaymentReceipt]{}, errors.New("connection reset")
}

func newLedger(mem *store.Memory, clock clockwork.Clock) *services.CoinLedger {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return services.NewCoinLedger(mem, mem, nil, services.NewComplianceRuleSet(0.01), services.DefaultLedgerConfig(),
		clock, logger, services.NewMetrics(prometheus.NewRegistry()))
}

func TestSyncOnceAppliesPaymentsIdempotently(t *testing.T) {
	mem := store.NewMemory()
	mem.PutUser(models.User{ID: "u1", Username: "u1"})
	mem.PutUser(models.User{ID: "u2", Username: "u2", CoinBalance: 50})
	clock := clockwork.NewFakeClockAt(epoch)
	feed := &fakeFeed{payments: []services.PaymentConfirmation{
		{PaymentID: "pay-1", UserID: "u1", Coins: 1000},
		{PaymentID: "pay-2", UserID: "u2", Coins: 500},
		{PaymentID: "pay-3"},
	}}
	w := NewPaymentSyncWorker(feed, newLedger(mem, clock), time.Minute, clock, slog.New(slog.NewTextHandler(io.Discard, nil)))

	applied, ok := w.SyncOnce(context.Background())
	assert.True(t, ok)
	assert.Equal(t, 2, applied)
	assert.Equal(t, epoch, w.LastSync())

	u1, err := mem.GetUser(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(1000), u1.CoinBalance)
	u2, err := mem.GetUser(context.Background(), "u2")
	require.NoError(t, err)
	assert.Equal(t, int64(550), u2.CoinBalance)

	clock.Advance(time.Minute)
	applied, ok = w.SyncOnce(context.Background())
	assert.True(t, ok)
	assert.Zero(t, applied)
	u1, err = mem.GetUser(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(1000), u1.CoinBalance)
}

func TestSyncOnceKeepsCursorOnFailure(t *testing.T) {
	clock := clockwork.NewFakeClockAt(epoch)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	t.Run("feed error", func(t *testing.T) {
		w := NewPaymentSyncWorker(&fakeFeed{err: errors.New("503")}, brokenLedger{}, time.Minute, clock, logger)
		before := w.LastSync()
		_, ok := w.SyncOnce(context.Background())
		assert.False(t, ok)
		assert.Equal(t, before, w.LastSync())
	})

	t.Run("ledger error", func(t *testing.T) {
		feed := &fakeFeed{payments: []services.PaymentConfirmation{{PaymentID: "p", UserID: "u", Coins: 1}}}
		w := NewPaymentSyncWorker(feed, brokenLedger{}, time.Minute, clock, logger)
		before := w.LastSync()
		_, ok := w.SyncOnce(context.Background())
		assert.False(t, ok)
		assert.Equal(t, before, w.LastSync())
	})
}

func TestRunPollsOnEveryTick(t *testing.T) {
	clock := clockwork.NewFakeClockAt(epoch)
	feed := &fakeFeed{calls: make(chan time.Time, 1)}
	w := NewPaymentSyncWorker(feed, brokenLedger{}, time.Minute, clock, slog.New(slog.NewTextHandler(io.Discard, nil)))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	require.NoError(t, clock.BlockUntilContext(ctx, 1))
	clock.Advance(time.Minute)
	select {
	case since := <-feed.calls:
		assert.Equal(t, epoch.Add(-24*time.Hour), since)
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not poll")
	}

	cancel()
	<-done
}
