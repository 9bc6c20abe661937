package workers

import (
	"context"
	"log/slog"
	"time"

	"esports-platform/services"

	"github.com/jonboulle/clockwork"
)

// PaymentFeed lists payments the provider has settled since a point in time.
type PaymentFeed interface {
	ConfirmedPaymentsSince(ctx context.Context, since time.Time) ([]services.PaymentConfirmation, error)
}

// PaymentConfirmer applies one settled payment to the coin ledger.
type PaymentConfirmer interface {
	ConfirmPayment(ctx context.Context, c services.PaymentConfirmation) (services.OperationResult[services.PaymentReceipt], error)
}

// PaymentSyncWorker backfills purchases whose webhook never arrived by polling
// the payment service. Confirmation is idempotent, so overlap with the
// webhook is harmless.
type PaymentSyncWorker struct {
	feed     PaymentFeed
	ledger   PaymentConfirmer
	interval time.Duration
	clock    clockwork.Clock
	logger   *slog.Logger
	lastSync time.Time
}

func NewPaymentSyncWorker(feed PaymentFeed, ledger PaymentConfirmer, interval time.Duration, clock clockwork.Clock, logger *slog.Logger) *PaymentSyncWorker {
	return &PaymentSyncWorker{
		feed:     feed,
		ledger:   ledger,
		interval: interval,
		clock:    clock,
		logger:   logger,
		lastSync: clock.Now().UTC().Add(-24 * time.Hour),
	}
}

// Run polls until ctx is cancelled.
func (w *PaymentSyncWorker) Run(ctx context.Context) {
	w.logger.Info("starting payment sync polling", "interval", w.interval)
	ticker := w.clock.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("payment sync polling stopped")
			return
		case <-ticker.Chan():
			w.SyncOnce(ctx)
		}
	}
}

// SyncOnce processes one window. The cursor only advances when every
// payment in the window was applied or permanently rejected, so a storage
// failure retries the same window next tick.
func (w *PaymentSyncWorker) SyncOnce(ctx context.Context) (applied int, ok bool) {
	tickTime := w.clock.Now().UTC()
	payments, err := w.feed.ConfirmedPaymentsSince(ctx, w.lastSync)
	if err != nil {
		w.logger.Error("failed to poll confirmed payments", "since", w.lastSync, "error", err)
		return 0, false
	}
	if len(payments) == 0 {
		w.lastSync = tickTime
		return 0, true
	}

	ok = true
	for _, p := range payments {
		res, err := w.ledger.ConfirmPayment(ctx, p)
		if err != nil {
			ok = false
			w.logger.Error("failed to apply confirmed payment", "payment_id", p.PaymentID, "error", err)
			continue
		}
		if res.Failure != nil {
			w.logger.Warn("confirmed payment rejected", "payment_id", p.PaymentID, "code", res.Failure.Code, "message", res.Failure.Message)
			continue
		}
		if !res.Success.AlreadyApplied {
			applied++
		}
	}
	if ok {
		w.lastSync = tickTime
	}
	w.logger.Info("payment sync window processed", "received", len(payments), "applied", applied, "advanced", ok)
	return applied, ok
}

// LastSync returns the current cursor.
func (w *PaymentSyncWorker) LastSync() time.Time {
	return w.lastSync
}
