package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strconv"

	"esports-platform/models"
	"esports-platform/store"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
)

// Payout methods accepted for creator redemptions.
const (
	PayoutPayPal       = "paypal"
	PayoutBankTransfer = "bank_transfer"
	PayoutStripe       = "stripe"
)

var payoutMethods = map[string]bool{PayoutPayPal: true, PayoutBankTransfer: true, PayoutStripe: true}

// CoinPackages is the fixed purchase catalogue.
var CoinPackages = []models.CoinPackage{
	{Coins: 100, Price: 0.99, Bonus: 0},
	{Coins: 500, Price: 4.99, Bonus: 50},
	{Coins: 1000, Price: 9.99, Bonus: 150},
	{Coins: 2500, Price: 24.99, Bonus: 500},
	{Coins: 5000, Price: 49.99, Bonus: 1250},
	{Coins: 10000, Price: 99.99, Bonus: 3000},
}

// LedgerConfig holds the exchange and payout parameters.
type LedgerConfig struct {
	CoinToUSDRate         float64
	PlatformFeePercentage float64
	MinimumPayoutUSD      float64
	MinimumRedeemCoins    int64
}

func DefaultLedgerConfig() LedgerConfig {
	return LedgerConfig{
		CoinToUSDRate:         0.01,
		PlatformFeePercentage: 30,
		MinimumPayoutUSD:      10,
		MinimumRedeemCoins:    100,
	}
}

type ExchangeRate struct {
	CoinToUSD             float64 `json:"coin_to_usd"`
	PlatformFeePercentage float64 `json:"platform_fee_percentage"`
	MinimumPayoutUSD      float64 `json:"minimum_payout_usd"`
}

type BalanceView struct {
	UserID   string  `json:"user_id"`
	Coins    int64   `json:"coins"`
	USDValue float64 `json:"usd_value"`
}

type PurchaseIntent struct {
	PaymentID    string             `json:"payment_id"`
	ClientSecret string             `json:"client_secret"`
	Package      models.CoinPackage `json:"package"`
	Coins        int64              `json:"coins"`
}

type PaymentReceipt struct {
	PaymentID      string `json:"payment_id"`
	UserID         string `json:"user_id"`
	Coins          int64  `json:"coins"`
	AlreadyApplied bool   `json:"already_applied"`
}

type TransferRequest struct {
	FromUserID string `json:"-"`
	ToUserID   string `json:"recipient_id"`
	Amount     int64  `json:"amount"`
	Message    string `json:"message"`
}

type TransferReceipt struct {
	FromUserID    string `json:"from_user_id"`
	ToUserID      string `json:"to_user_id"`
	Amount        int64  `json:"amount"`
	SenderBalance int64  `json:"sender_balance"`
}

type RedeemRequest struct {
	UserID       string `json:"-"`
	Amount       int64  `json:"amount"`
	PayoutMethod string `json:"payout_method"`
}

type RedemptionReceipt struct {
	TransactionID string  `json:"transaction_id"`
	Coins         int64   `json:"coins"`
	GrossUSD      float64 `json:"gross_usd"`
	FeeUSD        float64 `json:"fee_usd"`
	NetUSD        float64 `json:"net_usd"`
	PayoutMethod  string  `json:"payout_method"`
}

type SpendRequest struct {
	UserID    string `json:"-"`
	Amount    int64  `json:"amount"`
	UsageType string `json:"usage_type"`
	Purpose   string `json:"purpose"`
}

type SpendReceipt struct {
	TransactionID string `json:"transaction_id"`
	Amount        int64  `json:"amount"`
	Balance       int64  `json:"balance"`
}

// CoinLedger moves coins between users, the payment provider and creators.
// Balances are only changed through atomic store operations.
type CoinLedger struct {
	users    UserStore
	txs      TransactionStore
	payments PaymentGateway
	rules    *ComplianceRuleSet
	cfg      LedgerConfig
	clock    clockwork.Clock
	logger   *slog.Logger
	metrics  *Metrics
}

func NewCoinLedger(users UserStore, txs TransactionStore, payments PaymentGateway, rules *ComplianceRuleSet, cfg LedgerConfig, clock clockwork.Clock, logger *slog.Logger, metrics *Metrics) *CoinLedger {
	return &CoinLedger{
		users:    users,
		txs:      txs,
		payments: payments,
		rules:    rules,
		cfg:      cfg,
		clock:    clock,
		logger:   logger,
		metrics:  metrics,
	}
}

func (l *CoinLedger) Packages() []models.CoinPackage {
	return append([]models.CoinPackage(nil), CoinPackages...)
}

func (l *CoinLedger) ExchangeRate() ExchangeRate {
	return ExchangeRate{
		CoinToUSD:             l.cfg.CoinToUSDRate,
		PlatformFeePercentage: l.cfg.PlatformFeePercentage,
		MinimumPayoutUSD:      l.cfg.MinimumPayoutUSD,
	}
}

// CoinsForUSD converts a dollar amount to whole coins.
func (l *CoinLedger) CoinsForUSD(usd float64) int64 {
	return int64(math.Round(usd / l.cfg.CoinToUSDRate))
}

func (l *CoinLedger) Balance(ctx context.Context, userID string) (OperationResult[BalanceView], error) {
	u, err := l.users.GetUser(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return fail[BalanceView](FailureNotFound, "user %s not found", userID), nil
	}
	if err != nil {
		return OperationResult[BalanceView]{}, fmt.Errorf("get user: %w", err)
	}
	return succeed(BalanceView{
		UserID:   u.ID,
		Coins:    u.CoinBalance,
		USDValue: roundCents(float64(u.CoinBalance) * l.cfg.CoinToUSDRate),
	}), nil
}

// Purchase opens a payment intent for a package. No coins move until the
// payment is confirmed.
func (l *CoinLedger) Purchase(ctx context.Context, userID string, packageIndex int) (OperationResult[PurchaseIntent], error) {
	if packageIndex < 0 || packageIndex >= len(CoinPackages) {
		return fail[PurchaseIntent](FailureValidation, "package index must be between 0 and %d", len(CoinPackages)-1), nil
	}
	pkg := CoinPackages[packageIndex]

	if _, err := l.users.GetUser(ctx, userID); errors.Is(err, store.ErrNotFound) {
		return fail[PurchaseIntent](FailureNotFound, "user %s not found", userID), nil
	} else if err != nil {
		return OperationResult[PurchaseIntent]{}, fmt.Errorf("get user: %w", err)
	}

	intent, err := l.payments.CreatePaymentIntent(ctx, PaymentIntentRequest{
		UserID:      userID,
		AmountCents: int64(math.Round(pkg.Price * 100)),
		Currency:    "usd",
		Metadata: map[string]string{
			"user_id":       userID,
			"coins":         strconv.FormatInt(pkg.Total(), 10),
			"package_index": strconv.Itoa(packageIndex),
		},
	})
	if err != nil {
		l.metrics.ledger("purchase", "error")
		return OperationResult[PurchaseIntent]{}, fmt.Errorf("create payment intent: %w", err)
	}

	paymentID := intent.PaymentID
	if err := l.txs.RecordTransaction(ctx, &models.CoinTransaction{
		ID:        uuid.NewString(),
		UserID:    userID,
		Type:      models.TxPurchase,
		Amount:    pkg.Total(),
		Status:    models.TxPending,
		PaymentID: &paymentID,
		USDAmount: pkg.Price,
		Purpose:   fmt.Sprintf("%d coin package", pkg.Coins),
		CreatedAt: l.clock.Now(),
	}); err != nil {
		return OperationResult[PurchaseIntent]{}, fmt.Errorf("record pending purchase: %w", err)
	}

	l.metrics.ledger("purchase", "pending")
	return succeed(PurchaseIntent{
		PaymentID:    intent.PaymentID,
		ClientSecret: intent.ClientSecret,
		Package:      pkg,
		Coins:        pkg.Total(),
	}), nil
}

// ConfirmPayment credits a settled purchase exactly once.
func (l *CoinLedger) ConfirmPayment(ctx context.Context, c PaymentConfirmation) (OperationResult[PaymentReceipt], error) {
	if c.PaymentID == "" {
		return fail[PaymentReceipt](FailureValidation, "payment_id is required"), nil
	}

	tx, err := l.txs.GetTransactionByPaymentID(ctx, c.PaymentID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		if c.UserID == "" || c.Coins <= 0 {
			return fail[PaymentReceipt](FailureValidation, "unknown payment %s needs user_id and coins", c.PaymentID), nil
		}
		paymentID := c.PaymentID
		tx = &models.CoinTransaction{
			ID:        uuid.NewString(),
			UserID:    c.UserID,
			Type:      models.TxPurchase,
			Amount:    c.Coins,
			Status:    models.TxPending,
			PaymentID: &paymentID,
			CreatedAt: l.clock.Now(),
		}
		if err := l.txs.RecordTransaction(ctx, tx); err != nil && !errors.Is(err, store.ErrDuplicate) {
			return OperationResult[PaymentReceipt]{}, fmt.Errorf("record purchase: %w", err)
		}
	case err != nil:
		return OperationResult[PaymentReceipt]{}, fmt.Errorf("get purchase: %w", err)
	}

	credited, err := l.txs.CompletePurchase(ctx, c.PaymentID)
	if errors.Is(err, store.ErrNotFound) {
		return fail[PaymentReceipt](FailureNotFound, "user %s not found", tx.UserID), nil
	}
	if err != nil {
		l.metrics.ledger("confirm_payment", "error")
		return OperationResult[PaymentReceipt]{}, fmt.Errorf("complete purchase: %w", err)
	}

	if credited {
		l.metrics.ledger("confirm_payment", "credited")
		l.logger.Info("coin purchase credited",
			"payment_id", c.PaymentID,
			"user_id", tx.UserID,
			"coins", tx.Amount,
		)
	} else {
		l.metrics.ledger("confirm_payment", "duplicate")
	}
	return succeed(PaymentReceipt{
		PaymentID:      c.PaymentID,
		UserID:         tx.UserID,
		Coins:          tx.Amount,
		AlreadyApplied: !credited,
	}), nil
}

// Transfer moves coins between two users. Either both balances change or
// neither does.
func (l *CoinLedger) Transfer(ctx context.Context, req TransferRequest) (OperationResult[TransferReceipt], error) {
	if req.Amount <= 0 {
		return fail[TransferReceipt](FailureValidation, "amount must be a positive integer"), nil
	}
	if req.FromUserID == req.ToUserID {
		l.metrics.ledger("transfer", "rejected")
		return fail[TransferReceipt](FailureSelfTransfer, "cannot transfer coins to yourself"), nil
	}

	sender, err := l.users.GetUser(ctx, req.FromUserID)
	if errors.Is(err, store.ErrNotFound) {
		return fail[TransferReceipt](FailureNotFound, "user %s not found", req.FromUserID), nil
	}
	if err != nil {
		return OperationResult[TransferReceipt]{}, fmt.Errorf("get sender: %w", err)
	}
	if _, err := l.users.GetUser(ctx, req.ToUserID); errors.Is(err, store.ErrNotFound) {
		return fail[TransferReceipt](FailureNotFound, "recipient %s not found", req.ToUserID), nil
	} else if err != nil {
		return OperationResult[TransferReceipt]{}, fmt.Errorf("get recipient: %w", err)
	}
	if sender.CoinBalance < req.Amount {
		l.metrics.ledger("transfer", "rejected")
		return fail[TransferReceipt](FailureInsufficientFunds, "balance %d is less than %d", sender.CoinBalance, req.Amount), nil
	}

	if err := l.moveCoins(ctx, req.FromUserID, req.ToUserID, req.Amount); err != nil {
		if errors.Is(err, store.ErrInsufficientBalance) {
			l.metrics.ledger("transfer", "rejected")
			return fail[TransferReceipt](FailureInsufficientFunds, "insufficient balance for transfer of %d", req.Amount), nil
		}
		l.metrics.ledger("transfer", "error")
		return OperationResult[TransferReceipt]{}, err
	}

	now := l.clock.Now()
	l.recordHistory(ctx,
		&models.CoinTransaction{ID: uuid.NewString(), UserID: req.FromUserID, Type: models.TxTransferOut, Amount: -req.Amount, Status: models.TxCompleted, CounterpartyID: req.ToUserID, Message: req.Message, CreatedAt: now},
		&models.CoinTransaction{ID: uuid.NewString(), UserID: req.ToUserID, Type: models.TxTransferIn, Amount: req.Amount, Status: models.TxCompleted, CounterpartyID: req.FromUserID, Message: req.Message, CreatedAt: now},
	)

	l.metrics.ledger("transfer", "ok")
	l.logger.Info("coins transferred",
		"from_user_id", req.FromUserID,
		"to_user_id", req.ToUserID,
		"amount", req.Amount,
	)
	return succeed(TransferReceipt{
		FromUserID:    req.FromUserID,
		ToUserID:      req.ToUserID,
		Amount:        req.Amount,
		SenderBalance: l.currentBalance(ctx, req.FromUserID, sender.CoinBalance-req.Amount),
	}), nil
}

// moveCoins uses the store's atomic transfer when available and otherwise
// debits then credits, reversing the debit if the credit fails.
func (l *CoinLedger) moveCoins(ctx context.Context, fromID, toID string, amount int64) error {
	if t, ok := l.users.(CoinTransferer); ok {
		return t.TransferCoins(ctx, fromID, toID, amount)
	}

	if err := l.users.AdjustCoinBalance(ctx, fromID, -amount); err != nil {
		return err
	}
	if err := l.users.AdjustCoinBalance(ctx, toID, amount); err != nil {
		if rbErr := l.users.AdjustCoinBalance(ctx, fromID, amount); rbErr != nil {
			l.logger.Error("transfer rollback failed, manual reconciliation required",
				"from_user_id", fromID,
				"to_user_id", toID,
				"amount", amount,
				"error", rbErr,
			)
			return fmt.Errorf("credit recipient: %w (rollback failed: %v)", err, rbErr)
		}
		l.logger.Warn("transfer credit failed, sender debit reversed",
			"from_user_id", fromID,
			"to_user_id", toID,
			"amount", amount,
			"error", err,
		)
		return fmt.Errorf("credit recipient: %w", err)
	}
	return nil
}

// Redeem converts a creator's coins into a payout, minus the platform fee.
func (l *CoinLedger) Redeem(ctx context.Context, req RedeemRequest) (OperationResult[RedemptionReceipt], error) {
	if !payoutMethods[req.PayoutMethod] {
		return fail[RedemptionReceipt](FailureValidation, "payout method must be paypal, bank_transfer or stripe"), nil
	}
	if req.Amount < l.cfg.MinimumRedeemCoins {
		return fail[RedemptionReceipt](FailureValidation, "minimum redemption is %d coins", l.cfg.MinimumRedeemCoins), nil
	}

	u, err := l.users.GetUser(ctx, req.UserID)
	if errors.Is(err, store.ErrNotFound) {
		return fail[RedemptionReceipt](FailureNotFound, "user %s not found", req.UserID), nil
	}
	if err != nil {
		return OperationResult[RedemptionReceipt]{}, fmt.Errorf("get user: %w", err)
	}
	if u.AccountType != models.AccountCreator {
		return fail[RedemptionReceipt](FailureNotCreator, "only creators can redeem coins"), nil
	}
	profile, err := l.users.GetCreatorProfile(ctx, req.UserID)
	if errors.Is(err, store.ErrNotFound) {
		return fail[RedemptionReceipt](FailureNotCreator, "creator profile not found"), nil
	}
	if err != nil {
		return OperationResult[RedemptionReceipt]{}, fmt.Errorf("get creator profile: %w", err)
	}
	if profile.ApplicationStatus != models.CreatorApproved {
		return fail[RedemptionReceipt](FailureNotCreator, "creator application is %s", profile.ApplicationStatus), nil
	}
	if u.CoinBalance < req.Amount {
		l.metrics.ledger("redeem", "rejected")
		return fail[RedemptionReceipt](FailureInsufficientFunds, "balance %d is less than %d", u.CoinBalance, req.Amount), nil
	}

	gross := roundCents(float64(req.Amount) * l.cfg.CoinToUSDRate)
	fee := roundCents(gross * l.cfg.PlatformFeePercentage / 100)
	net := roundCents(gross - fee)
	if net < l.cfg.MinimumPayoutUSD {
		l.metrics.ledger("redeem", "rejected")
		return fail[RedemptionReceipt](FailureBelowMinimumPayout, "net payout $%.2f is below the $%.2f minimum", net, l.cfg.MinimumPayoutUSD), nil
	}

	if err := l.users.AdjustCoinBalance(ctx, req.UserID, -req.Amount); err != nil {
		if errors.Is(err, store.ErrInsufficientBalance) {
			l.metrics.ledger("redeem", "rejected")
			return fail[RedemptionReceipt](FailureInsufficientFunds, "insufficient balance for redemption of %d", req.Amount), nil
		}
		return OperationResult[RedemptionReceipt]{}, fmt.Errorf("debit coins: %w", err)
	}
	now := l.clock.Now()
	if err := l.users.AddCreatorEarnings(ctx, req.UserID, net, now); err != nil {
		if rbErr := l.users.AdjustCoinBalance(ctx, req.UserID, req.Amount); rbErr != nil {
			l.logger.Error("redemption rollback failed, manual reconciliation required",
				"user_id", req.UserID,
				"amount", req.Amount,
				"error", rbErr,
			)
		}
		l.metrics.ledger("redeem", "error")
		return OperationResult[RedemptionReceipt]{}, fmt.Errorf("credit creator earnings: %w", err)
	}

	tx := &models.CoinTransaction{
		ID:           uuid.NewString(),
		UserID:       req.UserID,
		Type:         models.TxRedemption,
		Amount:       -req.Amount,
		Status:       models.TxCompleted,
		USDAmount:    net,
		PayoutMethod: req.PayoutMethod,
		CreatedAt:    now,
	}
	l.recordHistory(ctx, tx)

	l.metrics.ledger("redeem", "ok")
	l.logger.Info("coins redeemed",
		"user_id", req.UserID,
		"coins", req.Amount,
		"net_usd", net,
		"payout_method", req.PayoutMethod,
	)
	return succeed(RedemptionReceipt{
		TransactionID: tx.ID,
		Coins:         req.Amount,
		GrossUSD:      gross,
		FeeUSD:        fee,
		NetUSD:        net,
		PayoutMethod:  req.PayoutMethod,
	}), nil
}

// Spend debits coins for an allowed purpose after a policy check.
func (l *CoinLedger) Spend(ctx context.Context, req SpendRequest) (OperationResult[SpendReceipt], error) {
	if req.Amount <= 0 {
		return fail[SpendReceipt](FailureValidation, "amount must be a positive integer"), nil
	}
	check := l.rules.ValidateCoinUsage(CoinUsage{Amount: req.Amount, UsageType: req.UsageType, Purpose: req.Purpose})
	if !check.Compliant {
		l.metrics.observeViolations(check)
		l.metrics.ledger("spend", "rejected")
		return rejectPolicy[SpendReceipt]("coin usage violates platform policy", check.Violations), nil
	}

	if err := l.users.AdjustCoinBalance(ctx, req.UserID, -req.Amount); err != nil {
		switch {
		case errors.Is(err, store.ErrInsufficientBalance):
			l.metrics.ledger("spend", "rejected")
			return fail[SpendReceipt](FailureInsufficientFunds, "insufficient balance for %d coins", req.Amount), nil
		case errors.Is(err, store.ErrNotFound):
			return fail[SpendReceipt](FailureNotFound, "user %s not found", req.UserID), nil
		}
		return OperationResult[SpendReceipt]{}, fmt.Errorf("debit coins: %w", err)
	}

	tx := &models.CoinTransaction{
		ID:        uuid.NewString(),
		UserID:    req.UserID,
		Type:      models.TxSpend,
		Amount:    -req.Amount,
		Status:    models.TxCompleted,
		UsageType: req.UsageType,
		Purpose:   req.Purpose,
		CreatedAt: l.clock.Now(),
	}
	l.recordHistory(ctx, tx)
	l.metrics.ledger("spend", "ok")
	return succeed(SpendReceipt{
		TransactionID: tx.ID,
		Amount:        req.Amount,
		Balance:       l.currentBalance(ctx, req.UserID, 0),
	}), nil
}

// Refund credits coins back, for example when a tournament is cancelled.
func (l *CoinLedger) Refund(ctx context.Context, userID string, amount int64, purpose string) error {
	if amount <= 0 {
		return nil
	}
	if err := l.users.AdjustCoinBalance(ctx, userID, amount); err != nil {
		l.metrics.ledger("refund", "error")
		return fmt.Errorf("refund coins: %w", err)
	}
	l.recordHistory(ctx, &models.CoinTransaction{
		ID:        uuid.NewString(),
		UserID:    userID,
		Type:      models.TxRefund,
		Amount:    amount,
		Status:    models.TxCompleted,
		Purpose:   purpose,
		CreatedAt: l.clock.Now(),
	})
	l.metrics.ledger("refund", "ok")
	return nil
}

// History returns a page of a user's transactions, newest first.
func (l *CoinLedger) History(ctx context.Context, f store.TransactionFilter) ([]models.CoinTransaction, int64, error) {
	txs, total, err := l.txs.ListTransactions(ctx, f)
	if err != nil {
		return nil, 0, fmt.Errorf("list transactions: %w", err)
	}
	return txs, total, nil
}

// recordHistory appends transaction rows. Balances have already moved, so a
// failure here is logged rather than undone.
func (l *CoinLedger) recordHistory(ctx context.Context, txs ...*models.CoinTransaction) {
	for _, tx := range txs {
		if err := l.txs.RecordTransaction(ctx, tx); err != nil {
			l.logger.Error("failed to record coin transaction",
				"user_id", tx.UserID,
				"type", tx.Type,
				"amount", tx.Amount,
				"error", err,
			)
		}
	}
}

func (l *CoinLedger) currentBalance(ctx context.Context, userID string, fallback int64) int64 {
	u, err := l.users.GetUser(ctx, userID)
	if err != nil {
		return fallback
	}
	return u.CoinBalance
}

func roundCents(v float64) float64 {
	return math.Round(v*100) / 100
}
